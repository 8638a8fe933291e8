package hostlib

import (
	"context"
	"errors"
	"fmt"

	"github.com/chazu/rill/vm"
)

// ErrUnknownAwaitable is returned by Drive for a suspension it cannot
// resolve.
var ErrUnknownAwaitable = errors.New("unknown awaitable")

// Drive resolves suspensions until the execution completes or faults.
// Each *Promise is awaited and its result resumes the continuation.
// When ctx is cancelled, or an awaitable is not a *Promise, the pending
// continuation is dropped and an error returned.
func Drive(ctx context.Context, s *vm.Session, out vm.Outcome) (vm.Outcome, error) {
	for out.Status == vm.Suspended {
		c := out.Continuation
		p, ok := out.Awaitable.(*Promise)
		if !ok {
			c.Drop()
			return out, fmt.Errorf("%w: %T", ErrUnknownAwaitable, out.Awaitable)
		}
		if err := ctx.Err(); err != nil {
			c.Drop()
			return out, err
		}

		log.Debugf("awaiting %s for continuation %s", p, c.ID())
		v, err := p.Await(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			v.Release()
			c.Drop()
			return out, ctxErr
		}
		out = s.Resume(c, v, err)
	}
	return out, nil
}

// Run calls a function and drives it to completion.
func Run(ctx context.Context, s *vm.Session, m *vm.Module, name string, args ...vm.Value) (vm.Outcome, error) {
	return Drive(ctx, s, s.Call(m, name, args...))
}
