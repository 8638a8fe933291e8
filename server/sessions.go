package server

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chazu/rill/compiler"
	"github.com/chazu/rill/hostlib"
	"github.com/chazu/rill/vm"
)

// clientFunctions are the natives that suspend until the remote client
// resumes the continuation.
var clientFunctions = []string{"client::ask"}

// ClientRequest is the awaitable of client::ask. The value travels to
// the client with the suspended outcome.
type ClientRequest struct {
	Payload any
}

// Session is a remote workspace: a VM session with the host prelude
// and the client natives installed.
type Session struct {
	ID      string
	Name    string
	VM      *vm.Session
	Created time.Time
}

// Environment returns the names scripts compiled for a session may call
// unqualified.
func Environment() *compiler.Names {
	env := hostlib.Environment()
	env.Merge(compiler.NewNames(clientFunctions...))
	return env
}

// SessionStore manages workspace sessions.
type SessionStore struct {
	mu            sync.RWMutex
	sessions      map[string]*Session
	continuations *ContinuationStore
	maxFrames     int
}

// NewSessionStore creates a new session store. Destroying a session drops
// its parked continuations.
func NewSessionStore(continuations *ContinuationStore, maxFrames int) *SessionStore {
	return &SessionStore{
		sessions:      make(map[string]*Session),
		continuations: continuations,
		maxFrames:     maxFrames,
	}
}

// Create creates a new session with an optional name.
func (s *SessionStore) Create(name string) (*Session, error) {
	v, err := hostlib.NewSession(vm.WithMaxFrames(s.maxFrames))
	if err != nil {
		return nil, err
	}
	// client::ask(payload) - suspend until the client answers
	err = v.Natives().Register("client::ask", 1, func(args []vm.Value) vm.NativeOutcome {
		return vm.Pending(&ClientRequest{Payload: vm.ToGo(args[0])})
	})
	if err != nil {
		return nil, err
	}

	session := &Session{
		ID:      uuid.NewString(),
		Name:    name,
		VM:      v,
		Created: time.Now(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	log.Infof("created session %s %q", session.ID, name)
	return session, nil
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	return session, ok
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Destroy removes a session and drops its continuations. It reports
// whether the session existed.
func (s *SessionStore) Destroy(id string) bool {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		s.continuations.ReleaseSession(id)
		log.Infof("destroyed session %s", id)
	}
	return ok
}
