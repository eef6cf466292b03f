// Package shutdown coordinates signal-driven teardown. Stage code sees
// only the context; cleanup hooks are for terminal-state concerns the
// context cannot unwind, like ending a progress line.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Handler cancels its context on SIGINT/SIGTERM and then runs any
// registered cleanup functions. Cleanups run only on the signal path;
// normal exits rely on defers.
type Handler struct {
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	cleanupFns []func()
	mu         sync.Mutex
}

// New creates a new shutdown handler
func New() *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		ctx:    ctx,
		cancel: cancel,
	}
}

// Context returns the context cancelled on shutdown.
func (h *Handler) Context() context.Context {
	return h.ctx
}

// AddCleanup registers a cleanup function. Functions run in
// registration order and must tolerate concurrent pipeline unwinding.
func (h *Handler) AddCleanup(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleanupFns = append(h.cleanupFns, fn)
}

// Listen starts listening for shutdown signals
func (h *Handler) Listen() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		h.Shutdown()
	}()
}

// Shutdown cancels the context and runs cleanup functions.
func (h *Handler) Shutdown() {
	h.cancel()

	h.mu.Lock()
	fns := h.cleanupFns
	h.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Wait blocks until tracked work has finished.
func (h *Handler) Wait() {
	h.wg.Wait()
}

// Add increments the work counter
func (h *Handler) Add(delta int) {
	h.wg.Add(delta)
}

// Done decrements the work counter
func (h *Handler) Done() {
	h.wg.Done()
}
