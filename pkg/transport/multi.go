package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// MultiConfig holds the multiplex driver configuration.
type MultiConfig struct {
	// Client performs the transfers. When nil, the driver builds a dedicated
	// HTTP/2-capable client from Pool and closes its idle connections on Close.
	Client *http.Client

	// Pool configures the dedicated client.
	Pool PoolConfig
}

// DefaultMultiConfig returns the default driver configuration.
func DefaultMultiConfig() MultiConfig {
	return MultiConfig{Pool: DefaultPoolConfig()}
}

// Multi drives many handles concurrently over one shared connection pool.
//
// The caller adds handles, then repeatedly calls Perform (non-blocking) and
// drains finished handles with InfoRead until Perform reports zero outstanding
// transfers. Transfers run on driver-owned goroutines; all other methods are
// safe to call from the polling goroutine while transfers are in flight.
type Multi struct {
	client    *http.Client
	ownClient bool
	ctx       context.Context
	cancel    context.CancelFunc
	notify    chan struct{}
	wg        sync.WaitGroup

	mu      sync.Mutex
	handles map[*Handle]struct{}
	queued  []*Handle
	done    []*Handle
	running int
	fault   error
	closed  bool
}

// NewMulti creates a multiplex driver.
func NewMulti(cfg MultiConfig) (*Multi, error) {
	client := cfg.Client
	ownClient := false
	if client == nil {
		var err error
		client, err = NewHTTPClient(cfg.Pool)
		if err != nil {
			return nil, fmt.Errorf("create driver client: %w", err)
		}
		ownClient = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Multi{
		client:    client,
		ownClient: ownClient,
		ctx:       ctx,
		cancel:    cancel,
		notify:    make(chan struct{}, 1),
		handles:   make(map[*Handle]struct{}),
	}, nil
}

// Add registers h with the driver. The transfer starts on the next Perform.
func (m *Multi) Add(h *Handle) error {
	if h == nil {
		return &DriverError{Code: CodeBadEasyHandle, Op: "add", Err: errors.New("nil handle")}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return &DriverError{Code: CodeBadHandle, Op: "add", Err: ErrDriverClosed}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.owner == m {
		return &DriverError{Code: CodeAddedAlready, Op: "add"}
	}
	if h.state != stateCreated || h.owner != nil {
		return &DriverError{Code: CodeBadEasyHandle, Op: "add", Err: ErrHandleInUse}
	}

	h.state = stateAdded
	h.owner = m
	m.handles[h] = struct{}{}
	m.queued = append(m.queued, h)
	return nil
}

// Remove detaches h from the driver. A running transfer keeps going but is
// no longer reported by InfoRead.
func (m *Multi) Remove(h *Handle) error {
	if h == nil {
		return &DriverError{Code: CodeBadEasyHandle, Op: "remove", Err: errors.New("nil handle")}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return &DriverError{Code: CodeBadHandle, Op: "remove", Err: ErrDriverClosed}
	}
	if _, ok := m.handles[h]; !ok {
		return &DriverError{Code: CodeBadEasyHandle, Op: "remove", Err: errors.New("handle not owned by driver")}
	}

	delete(m.handles, h)
	m.queued = without(m.queued, h)
	m.done = without(m.done, h)

	h.mu.Lock()
	if h.state != stateRunning {
		h.state = stateRemoved
	}
	h.mu.Unlock()
	return nil
}

// Perform starts every queued transfer and returns the number of outstanding
// transfers: running ones plus finished ones not yet read. It never blocks.
// A fault inside a transfer goroutine is reported here as a fatal DriverError.
func (m *Multi) Perform() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, &DriverError{Code: CodeBadHandle, Op: "perform", Err: ErrDriverClosed}
	}
	if m.fault != nil {
		return m.running, m.fault
	}

	for _, h := range m.queued {
		h.mu.Lock()
		h.state = stateRunning
		h.mu.Unlock()

		m.running++
		m.wg.Add(1)
		go m.run(h)
	}
	m.queued = nil

	return m.running + len(m.done), nil
}

// InfoRead returns the next finished handle, if any.
func (m *Multi) InfoRead() (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.done) == 0 {
		return nil, false
	}
	h := m.done[0]
	m.done[0] = nil
	m.done = m.done[1:]
	return h, true
}

// Wait blocks until a transfer finishes or timeout elapses.
// It reports whether a completion was signalled.
func (m *Multi) Wait(timeout time.Duration) bool {
	m.mu.Lock()
	ready := len(m.done) > 0 || m.fault != nil
	m.mu.Unlock()
	if ready {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-m.notify:
		return true
	case <-timer.C:
		return false
	}
}

// Running returns the number of transfers in flight.
func (m *Multi) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Close cancels in-flight transfers, waits for them and releases the pool.
// Calling Close more than once is a no-op.
func (m *Multi) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	for h := range m.handles {
		h.mu.Lock()
		h.owner = nil
		h.state = stateRemoved
		h.mu.Unlock()
	}
	m.handles = nil
	m.queued = nil
	m.done = nil
	m.mu.Unlock()

	if m.ownClient {
		m.client.CloseIdleConnections()
	}
	return nil
}

// run performs one transfer on a driver goroutine.
func (m *Multi) run(h *Handle) {
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("transfer panic: %v", r)
			h.fail(fmt.Errorf("%w: %v", ErrTransferIncomplete, err), time.Now())

			m.mu.Lock()
			if m.fault == nil {
				m.fault = &DriverError{Code: CodeInternalError, Op: "perform", Err: err}
			}
			m.mu.Unlock()
		}
		m.complete(h)
	}()

	h.transfer(m.ctx, m.client)
}

// complete queues h for InfoRead before dropping the running count, so a
// zero count always implies every finished handle is visible.
func (m *Multi) complete(h *Handle) {
	m.mu.Lock()
	if _, ok := m.handles[h]; ok {
		m.done = append(m.done, h)
	}
	m.running--
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func without(list []*Handle, h *Handle) []*Handle {
	for i, v := range list {
		if v == h {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
