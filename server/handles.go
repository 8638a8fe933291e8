package server

import (
	"context"
	"sync"
	"time"

	"github.com/chazu/rill/vm"
)

// parked is a suspended execution waiting for its client.
type parked struct {
	cont      *vm.Continuation
	sessionID string
	created   time.Time
	lastUsed  time.Time
}

// ContinuationStore holds continuations between a suspended Call and the
// client's Resume or Drop. Ids are the continuations' own ids. Dropping
// unwinds values, so it always happens on the worker goroutine.
type ContinuationStore struct {
	mu     sync.Mutex
	parked map[string]*parked
	worker *VMWorker
}

// NewContinuationStore creates an empty store.
func NewContinuationStore(worker *VMWorker) *ContinuationStore {
	return &ContinuationStore{
		parked: make(map[string]*parked),
		worker: worker,
	}
}

// Park stores a continuation for sessionID and returns its id.
func (s *ContinuationStore) Park(sessionID string, c *vm.Continuation) string {
	now := time.Now()
	s.mu.Lock()
	s.parked[c.ID()] = &parked{
		cont:      c,
		sessionID: sessionID,
		created:   now,
		lastUsed:  now,
	}
	s.mu.Unlock()
	return c.ID()
}

// Take removes and returns a continuation. Resume consumes a
// continuation, so a second Take of the same id fails.
func (s *ContinuationStore) Take(id string) (*vm.Continuation, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.parked[id]
	if !ok {
		return nil, "", false
	}
	delete(s.parked, id)
	return p.cont, p.sessionID, true
}

// Touch marks a continuation as used, postponing its expiry.
func (s *ContinuationStore) Touch(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.parked[id]
	if ok {
		p.lastUsed = time.Now()
	}
	return ok
}

// Len returns the number of parked continuations.
func (s *ContinuationStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.parked)
}

// Drop removes a continuation and cancels its execution.
func (s *ContinuationStore) Drop(id string) bool {
	c, _, ok := s.Take(id)
	if ok {
		s.drop([]*vm.Continuation{c})
	}
	return ok
}

// ReleaseSession drops all continuations owned by a session.
func (s *ContinuationStore) ReleaseSession(sessionID string) int {
	return s.remove(func(p *parked) bool { return p.sessionID == sessionID })
}

// Sweep drops continuations that haven't been used within the TTL.
func (s *ContinuationStore) Sweep(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	n := s.remove(func(p *parked) bool { return p.lastUsed.Before(cutoff) })
	if n > 0 {
		log.Infof("swept %d idle continuations", n)
	}
	return n
}

func (s *ContinuationStore) remove(match func(*parked) bool) int {
	var conts []*vm.Continuation
	s.mu.Lock()
	for id, p := range s.parked {
		if match(p) {
			conts = append(conts, p.cont)
			delete(s.parked, id)
		}
	}
	s.mu.Unlock()

	s.drop(conts)
	return len(conts)
}

func (s *ContinuationStore) drop(conts []*vm.Continuation) {
	if len(conts) == 0 {
		return
	}
	_, err := s.worker.Do(context.Background(), func() (any, error) {
		for _, c := range conts {
			c.Drop()
		}
		return nil, nil
	})
	if err != nil {
		log.Warningf("dropping %d continuations: %s", len(conts), err)
	}
}

// StartSweeper runs periodic TTL sweeps in the background.
// Returns a stop function.
func (s *ContinuationStore) StartSweeper(interval, ttl time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				s.Sweep(ttl)
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
