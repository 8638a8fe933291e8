package server

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestWorkerDo(t *testing.T) {
	w := NewVMWorker()
	defer w.Stop()

	v, err := w.Do(bg(), func() (any, error) { return 42, nil })
	if err != nil || v != 42 {
		t.Errorf("Do = %v, %v, want 42, nil", v, err)
	}

	want := errors.New("boom")
	if _, err := w.Do(bg(), func() (any, error) { return nil, want }); !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
}

func TestWorkerRecoversPanics(t *testing.T) {
	w := NewVMWorker()
	defer w.Stop()

	_, err := w.Do(bg(), func() (any, error) { panic("bad state") })
	if err == nil {
		t.Fatal("panic was not reported")
	}
	// The worker keeps running.
	if v, err := w.Do(bg(), func() (any, error) { return "ok", nil }); err != nil || v != "ok" {
		t.Errorf("Do after panic = %v, %v", v, err)
	}
}

func TestWorkerSerializes(t *testing.T) {
	w := NewVMWorker()
	defer w.Stop()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Do(bg(), func() (any, error) {
				counter++
				return nil, nil
			})
		}()
	}
	wg.Wait()

	v, _ := w.Do(bg(), func() (any, error) { return counter, nil })
	if v != 50 {
		t.Errorf("counter = %v, want 50", v)
	}
}

func TestWorkerStop(t *testing.T) {
	w := NewVMWorker()
	w.Stop()
	w.Stop()

	if _, err := w.Do(bg(), func() (any, error) { return nil, nil }); !errors.Is(err, ErrWorkerStopped) {
		t.Errorf("err = %v, want ErrWorkerStopped", err)
	}
}

func TestWorkerCancelledContext(t *testing.T) {
	w := NewVMWorker()
	defer w.Stop()

	// Hold the worker so the next request has to wait for a slot.
	release := make(chan struct{})
	started := make(chan struct{})
	go w.Do(bg(), func() (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	<-started
	defer close(release)

	// Fill the queue so the send blocks.
	for i := 0; i < cap(w.requests); i++ {
		w.requests <- vmRequest{fn: func() (any, error) { return nil, nil }, done: make(chan vmResult, 1)}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := w.Do(ctx, func() (any, error) { return nil, nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
