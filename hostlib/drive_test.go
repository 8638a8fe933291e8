package hostlib

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chazu/rill/vm"
)

func TestDriveSleep(t *testing.T) {
	s, m, _ := load(t, `fn main() { let a = time::now(); time::sleep(5); time::sleep(5); time::now() - a }`)

	out, err := Run(context.Background(), s, m, "main")
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != vm.Completed {
		t.Fatalf("status = %s %v, want Completed", out.Status, out.Err)
	}
	if elapsed := out.Value.AsInt(); elapsed < 10 {
		t.Errorf("elapsed = %dms, want at least 10ms", elapsed)
	}
}

func TestDriveSuspendsOnSleep(t *testing.T) {
	s, m, _ := load(t, `fn main() { time::sleep(0); 1 }`)
	out := s.Call(m, "main")
	if out.Status != vm.Suspended {
		t.Fatalf("status = %s, want Suspended", out.Status)
	}
	p, ok := out.Awaitable.(*Promise)
	if !ok {
		t.Fatalf("awaitable = %T, want *Promise", out.Awaitable)
	}
	if p.String() != "sleep 0s" {
		t.Errorf("promise = %q, want %q", p, "sleep 0s")
	}

	out, err := Drive(context.Background(), s, out)
	if err != nil || describe(out) != "1" {
		t.Errorf("got %s %v, want 1", describe(out), err)
	}
}

func TestDriveCancelled(t *testing.T) {
	s, m, _ := load(t, `fn main() { time::sleep(60000); 1 }`)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	out, err := Run(ctx, s, m, "main")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if out.Status != vm.Suspended {
		t.Fatalf("status = %s, want Suspended", out.Status)
	}

	// The continuation was dropped; resuming it is an error.
	again := s.Resume(out.Continuation, vm.UnitValue, nil)
	if again.Status != vm.Faulted || !errors.Is(again.Err, vm.ErrContinuationConsumed) {
		t.Errorf("resume after cancel = %s %v, want ErrContinuationConsumed", again.Status, again.Err)
	}
}

func TestDriveUnknownAwaitable(t *testing.T) {
	s, m, _ := loadWith(t, `fn main() { host::wait() }`, func(r *vm.Registry) {
		r.Register("host::wait", 0, func(args []vm.Value) vm.NativeOutcome {
			return vm.Pending("not a promise")
		})
	})

	out, err := Run(context.Background(), s, m, "main")
	if !errors.Is(err, ErrUnknownAwaitable) {
		t.Fatalf("err = %v, want ErrUnknownAwaitable", err)
	}
	if out.Continuation.Depth() != 0 {
		t.Errorf("depth after drop = %d, want 0", out.Continuation.Depth())
	}
}

func TestDrivePromiseError(t *testing.T) {
	ioErr := errors.New("connection reset")
	tests := []struct {
		name string
		err  error
		kind vm.ErrorKind
	}{
		{"plain error", ioErr, vm.KindNativeError},
		{"vm error", &vm.VmError{Kind: vm.KindIndexOutOfBounds, Message: "no such row"}, vm.KindIndexOutOfBounds},
	}
	for _, tc := range tests {
		s, m, _ := loadWith(t, `fn main() { host::fetch() + 1 }`, func(r *vm.Registry) {
			r.Register("host::fetch", 0, func(args []vm.Value) vm.NativeOutcome {
				return vm.Pending(NewPromise("fetch", func(context.Context) (vm.Value, error) {
					return vm.UnitValue, tc.err
				}))
			})
		})

		out, err := Run(context.Background(), s, m, "main")
		if err != nil {
			t.Errorf("%s: %v", tc.name, err)
			continue
		}
		if out.Status != vm.Faulted || out.Err.Kind != tc.kind {
			t.Errorf("%s: got %s %v, want %s", tc.name, out.Status, out.Err, tc.kind)
		}
	}
}

func TestDriveValuesFromPromises(t *testing.T) {
	s, m, _ := loadWith(t, `fn main() { let a = host::fetch(1); let b = host::fetch(2); [a, b] }`, func(r *vm.Registry) {
		r.Register("host::fetch", 1, func(args []vm.Value) vm.NativeOutcome {
			n := args[0].AsInt()
			return vm.Pending(NewPromise("fetch", func(context.Context) (vm.Value, error) {
				return vm.NewString(string(rune('a' + n - 1))), nil
			}))
		})
	})

	out, err := Run(context.Background(), s, m, "main")
	if err != nil {
		t.Fatal(err)
	}
	if got := describe(out); got != `["a", "b"]` {
		t.Errorf("got %s, want [\"a\", \"b\"]", got)
	}
}
