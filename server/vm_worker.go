package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrWorkerStopped is returned for work submitted after Stop.
var ErrWorkerStopped = errors.New("vm worker stopped")

// vmRequest represents a unit of work to be executed on the VM goroutine.
type vmRequest struct {
	fn   func() (any, error)
	done chan vmResult
}

// vmResult holds the return value from a VM operation.
type vmResult struct {
	value any
	err   error
}

// VMWorker serializes all VM access through a single goroutine.
// Reference counts are not atomic, so every session, value and
// continuation the server holds is touched only from inside Do.
type VMWorker struct {
	requests chan vmRequest
	quit     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewVMWorker creates a VMWorker and starts the processing goroutine.
func NewVMWorker() *VMWorker {
	w := &VMWorker{
		requests: make(chan vmRequest, 64),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes VM requests sequentially on a dedicated goroutine.
func (w *VMWorker) loop() {
	defer close(w.stopped)
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs a function on the VM, recovering from panics.
func (w *VMWorker) execute(fn func() (any, error)) (result vmResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("vm worker recovered: %v", r)
			result.err = fmt.Errorf("vm worker: %v", r)
		}
	}()
	result.value, result.err = fn()
	return result
}

// Do submits a function for execution on the VM goroutine and blocks
// until it completes. A cancelled ctx abandons waiting for a slot but
// never interrupts a function that has started.
func (w *VMWorker) Do(ctx context.Context, fn func() (any, error)) (any, error) {
	req := vmRequest{
		fn:   fn,
		done: make(chan vmResult, 1),
	}
	select {
	case w.requests <- req:
	case <-w.stopped:
		return nil, ErrWorkerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case result := <-req.done:
		return result.value, result.err
	case <-w.stopped:
		return nil, ErrWorkerStopped
	}
}

// Stop shuts down the worker goroutine. Stop is idempotent.
func (w *VMWorker) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
	<-w.stopped
}
