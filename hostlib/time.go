package hostlib

import (
	"context"
	"time"

	"github.com/chazu/rill/vm"
)

// Promise is the awaitable hostlib natives suspend on. Drive runs it
// and resumes the continuation with its result.
type Promise struct {
	desc string
	fn   func(ctx context.Context) (vm.Value, error)
}

// NewPromise returns a promise that computes its result with fn. The
// value fn returns is owned by whoever resumes with it.
func NewPromise(desc string, fn func(ctx context.Context) (vm.Value, error)) *Promise {
	return &Promise{desc: desc, fn: fn}
}

func (p *Promise) String() string { return p.desc }

// Await runs the promise.
func (p *Promise) Await(ctx context.Context) (vm.Value, error) {
	return p.fn(ctx)
}

func registerTime(g *registrar) {
	// time::sleep(ms) - suspend the script for ms milliseconds
	g.fn("time::sleep", 1, func(args []vm.Value) vm.NativeOutcome {
		ms, ok, out := intArg("time::sleep", args, 0)
		if !ok {
			return out
		}
		if ms < 0 {
			ms = 0
		}
		d := time.Duration(ms) * time.Millisecond
		return vm.Pending(NewPromise("sleep "+d.String(), func(ctx context.Context) (vm.Value, error) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
				return vm.UnitValue, nil
			case <-ctx.Done():
				return vm.UnitValue, ctx.Err()
			}
		}))
	})

	// time::now() - milliseconds since the Unix epoch
	g.fn("time::now", 0, func(args []vm.Value) vm.NativeOutcome {
		return vm.Return(vm.Int(time.Now().UnixMilli()))
	})
}
