// Package parallel executes many HTTP requests concurrently and dispatches
// per-request callbacks.
//
// Requests are registered with AddRequest and run by Execute over one shared,
// HTTP/2-capable connection pool. Every registered request receives exactly
// one callback: its success callback with the parsed response (any status
// code), or its error callback with a *transport.TransportError when no
// response could be obtained. Callbacks run one at a time on the goroutine
// that called Execute, in completion order.
//
// # Basic Usage
//
//	exec, err := parallel.New(parallel.DefaultConfig())
//	if err != nil {
//		return err
//	}
//
//	for _, u := range urls {
//		req, _ := http.NewRequest(http.MethodGet, u, nil)
//		exec.AddRequest(req, func(resp *http.Response, seq int) error {
//			fmt.Println(seq, resp.StatusCode)
//			return nil
//		}, nil)
//	}
//
//	if err := exec.Execute(); err != nil {
//		var agg *parallel.AggregateError
//		if errors.As(err, &agg) {
//			// one or more callbacks failed; all others still ran
//		}
//	}
//
// # Errors
//
// Execute returns:
//
//   - a *transport.RequestError when a request cannot be turned into a
//     transfer (for example a GET with a body); nothing is sent
//   - a *transport.DriverError when the multiplex driver fails; the batch is
//     aborted
//   - an *AggregateError when callbacks returned errors or panicked
//   - ErrExecuteInProgress when another Execute call on the same executor,
//     or a callback of it, is still running
//
// Sequence ids start at 0 and grow by one per AddRequest call for the
// lifetime of the Executor.
package parallel
