package vm

import (
	"errors"
	"slices"
	"sync/atomic"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Execution: one operand stack and frame stack per host invocation
// ---------------------------------------------------------------------------

// frame is an activation record. Locals occupy stack[bp : bp+NumLocals];
// when callee is set the called value sits at stack[bp-1].
type frame struct {
	mod      *Module
	fn       *Function
	ip       int
	at       int // offset of the instruction being executed
	bp       int
	upvalues []Value
	callee   bool
}

type execution struct {
	session   *Session
	stack     []Value
	frames    []frame
	awaitable Awaitable
}

func (s *Session) newExecution() *execution {
	return &execution{
		session: s,
		stack:   make([]Value, 0, 64),
		frames:  make([]frame, 0, 8),
	}
}

func (e *execution) push(v Value) {
	e.stack = append(e.stack, v)
}

func (e *execution) pop() Value {
	n := len(e.stack) - 1
	v := e.stack[n]
	e.stack[n] = UnitValue
	e.stack = e.stack[:n]
	return v
}

func (e *execution) peek() Value {
	return e.stack[len(e.stack)-1]
}

// take removes the top n values, transferring their ownership.
func (e *execution) take(n int) []Value {
	start := len(e.stack) - n
	vs := slices.Clone(e.stack[start:])
	clear(e.stack[start:])
	e.stack = e.stack[:start]
	return vs
}

// truncate releases everything above depth.
func (e *execution) truncate(depth int) {
	releaseAll(e.stack[depth:])
	clear(e.stack[depth:])
	e.stack = e.stack[:depth]
}

func (e *execution) top() *frame {
	return &e.frames[len(e.frames)-1]
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// enterFunction pushes a frame for a function whose argc arguments are on
// top of the stack.
func (e *execution) enterFunction(m *Module, idx, argc int, callee bool, upvalues []Value) *VmError {
	fn := m.unit.Functions[idx]
	if argc != fn.Arity {
		return newError(KindArityMismatch, "%s expects %d arguments, got %d", fn.Name, fn.Arity, argc)
	}
	if len(e.frames) >= e.session.maxFrames {
		return newError(KindStackOverflow, "call depth exceeds %d frames", e.session.maxFrames)
	}
	bp := len(e.stack) - argc
	for i := argc; i < fn.NumLocals; i++ {
		e.push(UnitValue)
	}
	e.frames = append(e.frames, frame{
		mod:      m,
		fn:       fn,
		bp:       bp,
		upvalues: upvalues,
		callee:   callee,
	})
	return nil
}

// makeFuture replaces the arguments (and callee) with a future.
func (e *execution) makeFuture(m *Module, idx, argc int, callee bool) *VmError {
	fn := m.unit.Functions[idx]
	if argc != fn.Arity {
		return newError(KindArityMismatch, "%s expects %d arguments, got %d", fn.Name, fn.Arity, argc)
	}
	args := e.take(argc)
	if callee {
		e.pop().Release()
	}
	e.push(FromObject(&Future{refHeader: refHeader{1}, Module: m, Index: idx, Args: args}))
	return nil
}

// callValue calls the value sitting below argc arguments.
func (e *execution) callValue(argc int) (bool, *VmError) {
	callee := e.stack[len(e.stack)-argc-1]
	switch c := callee.obj.(type) {
	case *FunctionRef:
		if c.Function().IsAsync() {
			return false, e.makeFuture(c.Module, c.Index, argc, true)
		}
		return false, e.enterFunction(c.Module, c.Index, argc, true, nil)
	case *Closure:
		return false, e.enterFunction(c.Module, c.Index, argc, true, c.Upvalues)
	case *NativeRef:
		if err := checkNativeArity(c.Native, argc); err != nil {
			return false, err
		}
		return e.invokeNative(c.Native, argc, true)
	}
	return false, newError(KindNotCallable, "%s is not callable", callee.TypeName())
}

func checkNativeArity(n *Native, argc int) *VmError {
	if n.Arity >= 0 && argc != n.Arity {
		return newError(KindArityMismatch, "%s expects %d arguments, got %d", n.Name, n.Arity, argc)
	}
	return nil
}

// invokeNative calls a host function with the top argc values. It
// reports whether the native suspended the execution.
func (e *execution) invokeNative(n *Native, argc int, callee bool) (bool, *VmError) {
	args := e.take(argc)
	out := n.Fn(args)
	releaseAll(args)
	if callee {
		e.pop().Release()
	}
	switch out.status {
	case nativeError:
		return false, nativeFailure(out.err)
	case nativePending:
		e.awaitable = out.awaitable
		return true, nil
	}
	e.push(out.value)
	return false, nil
}

func nativeFailure(err error) *VmError {
	var vmErr *VmError
	if errors.As(err, &vmErr) {
		return &VmError{Kind: vmErr.Kind, Message: vmErr.Message, Cause: vmErr.Cause}
	}
	return &VmError{Kind: KindNativeError, Message: err.Error(), Cause: err}
}

// doReturn pops the top frame and hands result to the caller. It reports
// whether the entry frame returned.
func (e *execution) doReturn(result Value) bool {
	f := e.top()
	depth := f.bp
	if f.callee {
		depth--
	}
	e.truncate(depth)
	e.frames = e.frames[:len(e.frames)-1]
	e.push(result)
	return len(e.frames) == 0
}

// ---------------------------------------------------------------------------
// Faults and suspension
// ---------------------------------------------------------------------------

// fault locates err at the current instruction, records the frame chain
// and discards the execution.
func (e *execution) fault(err *VmError) Outcome {
	for i := len(e.frames) - 1; i >= 0; i-- {
		f := &e.frames[i]
		tf := TraceFrame{Module: f.mod.Name(), Function: f.fn.Name, Offset: f.at, Span: f.fn.SpanAt(f.at)}
		if i == len(e.frames)-1 {
			err.Module, err.Function, err.Offset, err.Span = tf.Module, tf.Function, tf.Offset, tf.Span
		}
		err.Trace = append(err.Trace, tf)
	}
	log.Debugf("fault: %v", err)
	e.unwind()
	return faulted(err)
}

// unwind releases everything the execution owns.
func (e *execution) unwind() {
	e.truncate(0)
	e.frames = e.frames[:0]
}

// Continuation is a suspended execution. It can be resumed exactly once;
// dropping it instead cancels the execution and releases its values.
type Continuation struct {
	id        string
	session   *Session
	exec      *execution
	awaitable Awaitable
	used      atomic.Bool
}

// ID returns a unique identifier for the continuation.
func (c *Continuation) ID() string { return c.id }

// Awaitable returns the handle the suspending native produced.
func (c *Continuation) Awaitable() Awaitable { return c.awaitable }

// Depth returns the number of frames captured, for diagnostics.
func (c *Continuation) Depth() int {
	if c.exec == nil {
		return 0
	}
	return len(c.exec.frames)
}

// Drop cancels the continuation. It is a no-op after Resume or a
// previous Drop.
func (c *Continuation) Drop() {
	if !c.used.CompareAndSwap(false, true) {
		return
	}
	log.Debugf("dropping continuation %s", c.id)
	c.exec.unwind()
	c.exec = nil
}

func (e *execution) suspend() Outcome {
	c := &Continuation{
		id:        uuid.NewString(),
		session:   e.session,
		exec:      e,
		awaitable: e.awaitable,
	}
	e.awaitable = nil
	log.Debugf("suspended continuation %s at depth %d", c.id, len(e.frames))
	return Outcome{Status: Suspended, Continuation: c, Awaitable: c.awaitable}
}
