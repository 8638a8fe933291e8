package server

import (
	"testing"
	"time"

	"github.com/chazu/rill/compiler"
	"github.com/chazu/rill/vm"
)

// suspended returns n continuations parked in client::ask, created on
// the worker like the service would.
func suspended(t *testing.T, worker *VMWorker, session *Session, n int) []*vm.Continuation {
	t.Helper()
	unit, diags := compiler.Compile(`fn main() { let v = [1, 2]; client::ask(v) }`, "m",
		compiler.WithEnvironment(Environment()))
	if diags.HasErrors() {
		t.Fatalf("compile: %v", diags)
	}
	res, err := worker.Do(bg(), func() (any, error) {
		if _, ok := session.VM.Module("m"); !ok {
			if _, err := session.VM.Load(unit, nil); err != nil {
				return nil, err
			}
		}
		m, _ := session.VM.Module("m")
		var conts []*vm.Continuation
		for i := 0; i < n; i++ {
			out := session.VM.Call(m, "main")
			if out.Status != vm.Suspended {
				t.Errorf("status = %v, want suspended", out.Status)
				continue
			}
			conts = append(conts, out.Continuation)
		}
		return conts, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return res.([]*vm.Continuation)
}

func newStores(t *testing.T) (*VMWorker, *ContinuationStore, *SessionStore) {
	t.Helper()
	worker := NewVMWorker()
	t.Cleanup(worker.Stop)
	continuations := NewContinuationStore(worker)
	return worker, continuations, NewSessionStore(continuations, 0)
}

func TestParkAndTake(t *testing.T) {
	worker, continuations, sessions := newStores(t)
	session, err := sessions.Create("s")
	if err != nil {
		t.Fatal(err)
	}
	c := suspended(t, worker, session, 1)[0]

	id := continuations.Park(session.ID, c)
	if id != c.ID() {
		t.Errorf("id = %q, want the continuation's id %q", id, c.ID())
	}
	if !continuations.Touch(id) {
		t.Error("Touch of a parked continuation failed")
	}

	got, owner, ok := continuations.Take(id)
	if !ok || got != c || owner != session.ID {
		t.Errorf("Take = %v, %q, %v", got, owner, ok)
	}
	if _, _, ok := continuations.Take(id); ok {
		t.Error("second Take succeeded")
	}
	if continuations.Touch(id) {
		t.Error("Touch of a taken continuation succeeded")
	}
	continuations.drop([]*vm.Continuation{c})
}

func TestDropUnwindsContinuation(t *testing.T) {
	worker, continuations, sessions := newStores(t)
	session, _ := sessions.Create("s")
	c := suspended(t, worker, session, 1)[0]
	id := continuations.Park(session.ID, c)

	if !continuations.Drop(id) {
		t.Fatal("Drop of a parked continuation failed")
	}
	if continuations.Drop(id) {
		t.Error("second Drop succeeded")
	}
	depth, _ := worker.Do(bg(), func() (any, error) { return c.Depth(), nil })
	if depth != 0 {
		t.Errorf("depth after drop = %v, want 0", depth)
	}
}

func TestReleaseSession(t *testing.T) {
	worker, continuations, sessions := newStores(t)
	a, _ := sessions.Create("a")
	b, _ := sessions.Create("b")
	for _, c := range suspended(t, worker, a, 3) {
		continuations.Park(a.ID, c)
	}
	for _, c := range suspended(t, worker, b, 2) {
		continuations.Park(b.ID, c)
	}

	if n := continuations.ReleaseSession(a.ID); n != 3 {
		t.Errorf("released %d, want 3", n)
	}
	if continuations.Len() != 2 {
		t.Errorf("parked = %d, want 2", continuations.Len())
	}
	if !sessions.Destroy(b.ID) {
		t.Error("Destroy of a live session failed")
	}
	if continuations.Len() != 0 {
		t.Errorf("parked = %d after destroying b, want 0", continuations.Len())
	}
}

func TestSweep(t *testing.T) {
	worker, continuations, sessions := newStores(t)
	session, _ := sessions.Create("s")
	conts := suspended(t, worker, session, 2)
	old := continuations.Park(session.ID, conts[0])
	continuations.Park(session.ID, conts[1])

	continuations.mu.Lock()
	continuations.parked[old].lastUsed = time.Now().Add(-time.Hour)
	continuations.mu.Unlock()

	if n := continuations.Sweep(time.Minute); n != 1 {
		t.Errorf("swept %d, want 1", n)
	}
	if _, _, ok := continuations.Take(old); ok {
		t.Error("the idle continuation survived the sweep")
	}
	if continuations.Len() != 1 {
		t.Errorf("parked = %d, want 1", continuations.Len())
	}
}

func TestSweeper(t *testing.T) {
	worker, continuations, sessions := newStores(t)
	session, _ := sessions.Create("s")
	continuations.Park(session.ID, suspended(t, worker, session, 1)[0])

	stop := continuations.StartSweeper(time.Millisecond, time.Millisecond)
	defer stop()

	deadline := time.Now().Add(2 * time.Second)
	for continuations.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweeper never dropped the idle continuation")
		}
		time.Sleep(time.Millisecond)
	}
	stop()
}
