package parallel

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Sternrassler/go-multihttp/pkg/response"
	"github.com/Sternrassler/go-multihttp/pkg/transport"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// execution is the state of one Execute call.
type execution struct {
	id           string
	records      []*pendingRequest
	byHandle     map[*transport.Handle]*pendingRequest
	factory      *transport.Factory
	multiConfig  transport.MultiConfig
	pollInterval time.Duration
	logger       zerolog.Logger

	multi *transport.Multi
	errs  []error

	succeeded int
	failed    int
}

func newExecution(e *Executor, batch []*pendingRequest) *execution {
	id := ulid.Make().String()
	return &execution{
		id:           id,
		records:      batch,
		byHandle:     make(map[*transport.Handle]*pendingRequest, len(batch)),
		factory:      e.factory,
		multiConfig:  e.config.Multi,
		pollInterval: e.config.PollInterval,
		logger:       e.logger.With().Str("batch", id).Logger(),
	}
}

// run drives the batch to completion. The driver is always closed.
func (x *execution) run() (err error) {
	start := time.Now()
	batchesTotal.Inc()
	batchSize.Observe(float64(len(x.records)))

	x.logger.Info().Int("requests", len(x.records)).Msg("Starting parallel batch")

	x.multi, err = transport.NewMulti(x.multiConfig)
	if err != nil {
		return fmt.Errorf("create multiplex driver: %w", err)
	}
	defer func() {
		if cerr := x.multi.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close multiplex driver: %w", cerr)
		}
		batchDuration.Observe(time.Since(start).Seconds())
	}()

	if err := x.createHandles(); err != nil {
		x.logger.Error().Err(err).Msg("Request validation failed - batch aborted")
		return err
	}

	if err := x.register(); err != nil {
		return x.fatal(err)
	}

	if err := x.drive(); err != nil {
		return x.fatal(err)
	}

	x.sweep()

	x.logger.Info().
		Int("succeeded", x.succeeded).
		Int("failed", x.failed).
		Int("errors", len(x.errs)).
		Dur("duration", time.Since(start)).
		Msg("Parallel batch complete")

	return x.result()
}

// result is the error Execute reports once every record was dispatched.
func (x *execution) result() error {
	if len(x.errs) > 0 {
		return &AggregateError{Errors: x.errs}
	}
	return nil
}

// createHandles builds every handle before any of them reaches the driver.
func (x *execution) createHandles() error {
	for _, rec := range x.records {
		h, err := x.factory.CreateHandle(rec.req)
		if err != nil {
			return fmt.Errorf("request %d: %w", rec.seq, err)
		}
		rec.handle = h
		x.byHandle[h] = rec
	}
	return nil
}

func (x *execution) register() error {
	for _, rec := range x.records {
		if err := x.multi.Add(rec.handle); err != nil {
			return err
		}
		x.logger.Trace().
			Int("seq", rec.seq).
			Str("method", rec.handle.Method()).
			Str("url", rec.handle.URL()).
			Msg("Handle added")
	}
	return nil
}

// drive polls the driver until it reports no outstanding transfers.
func (x *execution) drive() error {
	for {
		outstanding, err := x.multi.Perform()
		if err != nil {
			return err
		}

		progressed := x.drain()
		if outstanding == 0 {
			return nil
		}
		if !progressed {
			x.multi.Wait(x.pollInterval)
		}
	}
}

// drain collects every completed handle first, then processes them, so the
// driver queue is never mutated while being read.
func (x *execution) drain() bool {
	var completed []*transport.Handle
	for {
		h, ok := x.multi.InfoRead()
		if !ok {
			break
		}
		completed = append(completed, h)
	}

	for _, h := range completed {
		x.complete(h)
	}
	return len(completed) > 0
}

// sweep processes records whose handles never produced a completion event.
func (x *execution) sweep() {
	if len(x.byHandle) == 0 {
		return
	}

	left := make([]*pendingRequest, 0, len(x.byHandle))
	for _, rec := range x.byHandle {
		left = append(left, rec)
	}
	sort.Slice(left, func(i, j int) bool { return left[i].seq < left[j].seq })

	x.logger.Warn().Int("handles", len(left)).Msg("Final sweep found unreported transfers")
	sweptTotal.Add(float64(len(left)))

	for _, rec := range left {
		x.complete(rec.handle)
	}
}

// complete dispatches the callback owning h and releases h.
func (x *execution) complete(h *transport.Handle) {
	rec, ok := x.byHandle[h]
	if !ok {
		err := &transport.DriverError{
			Code: transport.CodeInternalError,
			Op:   "info_read",
			Err:  errors.New("completed handle has no owning request"),
		}
		x.logger.Error().Err(err).Str("url", h.URL()).Msg("Unknown handle reported by driver")
		x.errs = append(x.errs, err)
		return
	}

	x.dispatch(rec)

	delete(x.byHandle, h)
	if err := x.multi.Remove(h); err != nil {
		x.logger.Warn().Err(err).Int("seq", rec.seq).Msg("Failed to remove handle")
	}
}

// dispatch invokes exactly one callback for rec.
func (x *execution) dispatch(rec *pendingRequest) {
	h := rec.handle

	if !h.Done() || h.Err() != nil {
		terr := transport.IncompleteError(h)
		x.failed++
		requestsTotal.WithLabelValues("error", string(terr.Class)).Inc()
		x.logger.Debug().
			Int("seq", rec.seq).
			Str("url", terr.URL).
			Str("error_class", string(terr.Class)).
			Err(terr.Err).
			Msg("Transfer failed")
		x.invoke(rec, ErrorCallback, func() error { return rec.onError(terr, rec.seq) })
		return
	}

	resp, err := response.Parse(h.Raw(), h)
	if err != nil {
		terr := &transport.TransportError{
			Class:  transport.ClassProtocol,
			Method: h.Method(),
			URL:    h.URL(),
			Err:    err,
		}
		x.failed++
		requestsTotal.WithLabelValues("error", string(terr.Class)).Inc()
		x.invoke(rec, ErrorCallback, func() error { return rec.onError(terr, rec.seq) })
		return
	}

	resp.Request = rec.req

	x.succeeded++
	requestsTotal.WithLabelValues("success", "").Inc()
	x.logger.Debug().
		Int("seq", rec.seq).
		Str("url", h.EffectiveURL()).
		Int("status", resp.StatusCode).
		Dur("duration", h.Duration()).
		Msg("Transfer complete")
	x.invoke(rec, SuccessCallback, func() error { return rec.onSuccess(resp, rec.seq) })
}

// invoke runs a callback and records its failure without stopping the batch.
func (x *execution) invoke(rec *pendingRequest, kind string, fn func() error) {
	err := safeCall(fn)
	if err == nil {
		return
	}

	callbackErrorsTotal.WithLabelValues(kind).Inc()
	cerr := &CallbackError{Seq: rec.seq, Callback: kind, Err: err}
	x.logger.Warn().Err(err).Int("seq", rec.seq).Str("callback", kind).Msg("Callback failed")
	x.errs = append(x.errs, cerr)
}

// fatal records a driver failure that aborts the batch.
func (x *execution) fatal(err error) error {
	code := string(transport.CodeInternalError)
	var derr *transport.DriverError
	if errors.As(err, &derr) {
		code = string(derr.Code)
	}
	driverErrorsTotal.WithLabelValues(code).Inc()
	x.logger.Error().Err(err).Str("code", code).Msg("Multiplex driver failed - batch aborted")
	return err
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrCallbackPanic, r)
		}
	}()
	return fn()
}
