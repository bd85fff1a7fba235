package parallel

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Sternrassler/go-multihttp/pkg/logging"
	"github.com/Sternrassler/go-multihttp/pkg/transport"
	"github.com/rs/zerolog"
)

// SuccessFunc receives the parsed response of a completed transfer.
// A returned error is collected and reported by Execute.
type SuccessFunc func(resp *http.Response, seq int) error

// ErrorFunc receives the transport error of a failed transfer.
// A returned error is collected and reported by Execute.
type ErrorFunc func(err error, seq int) error

// Config holds the executor configuration.
type Config struct {
	// Transfer options applied to every handle.
	Options transport.Options

	// Multi configures the driver created for each Execute call.
	Multi transport.MultiConfig

	// OnSuccess is used for requests registered without a success callback.
	OnSuccess SuccessFunc

	// OnError is used for requests registered without an error callback.
	OnError ErrorFunc

	// PollInterval bounds how long the poll loop waits for a completion
	// before polling the driver again.
	PollInterval time.Duration

	// Logger overrides the component logger.
	Logger *zerolog.Logger
}

// DefaultConfig returns a default executor configuration with no-op callbacks.
func DefaultConfig() Config {
	return Config{
		Options:      transport.DefaultOptions(),
		Multi:        transport.DefaultMultiConfig(),
		PollInterval: 10 * time.Millisecond,
	}
}

// pendingRequest binds a registered request to its callbacks and, during
// Execute, to its transfer handle.
type pendingRequest struct {
	seq       int
	req       *http.Request
	onSuccess SuccessFunc
	onError   ErrorFunc
	handle    *transport.Handle
}

// Executor runs registered requests concurrently.
// AddRequest is safe for concurrent use. Only one Execute call runs at a time;
// overlapping calls fail with ErrExecuteInProgress.
type Executor struct {
	factory *transport.Factory
	config  Config
	logger  zerolog.Logger

	mu      sync.Mutex
	pending []*pendingRequest
	nextSeq int

	execMu sync.Mutex
}

// New creates a new executor.
func New(cfg Config) (*Executor, error) {
	if cfg.Options.Timeout < 0 {
		return nil, fmt.Errorf("timeout must be >= 0 (got %s)", cfg.Options.Timeout)
	}
	if cfg.Options.MaxRedirects < 0 {
		return nil, fmt.Errorf("max_redirects must be >= 0 (got %d)", cfg.Options.MaxRedirects)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	if cfg.OnSuccess == nil {
		cfg.OnSuccess = func(*http.Response, int) error { return nil }
	}
	if cfg.OnError == nil {
		cfg.OnError = func(error, int) error { return nil }
	}

	logger := logging.NewLogger("parallel")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Executor{
		factory: transport.NewFactory(cfg.Options),
		config:  cfg,
		logger:  logger,
	}, nil
}

// AddRequest registers req for the next Execute call and returns the executor
// for chaining. Nil callbacks fall back to the configured defaults. The
// request gets the next sequence id, starting at 0.
func (e *Executor) AddRequest(req *http.Request, onSuccess SuccessFunc, onError ErrorFunc) *Executor {
	if onSuccess == nil {
		onSuccess = e.config.OnSuccess
	}
	if onError == nil {
		onError = e.config.OnError
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = append(e.pending, &pendingRequest{
		seq:       e.nextSeq,
		req:       req,
		onSuccess: onSuccess,
		onError:   onError,
	})
	e.nextSeq++
	return e
}

// Len returns the number of requests registered for the next Execute call.
func (e *Executor) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Execute runs every registered request and invokes exactly one callback per
// request. Requests registered while Execute runs belong to the next call.
//
// Callbacks run on the calling goroutine, so a callback that calls Execute
// gets ErrExecuteInProgress instead of blocking; the requests it registered
// stay pending.
func (e *Executor) Execute() error {
	if !e.execMu.TryLock() {
		return ErrExecuteInProgress
	}
	defer e.execMu.Unlock()

	e.mu.Lock()
	batch := e.pending
	e.pending = nil
	e.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	return newExecution(e, batch).run()
}
