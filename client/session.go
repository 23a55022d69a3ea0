package client

import (
	"context"
	"sync"

	"branch-orders-api/models"

	"github.com/sirupsen/logrus"
)

// AuthState is what the session store exposes to the rest of the app.
// Loading stays true until the branch has been resolved (or failed to).
type AuthState struct {
	Session *Session
	User    *models.User
	Branch  *models.Branch
	Loading bool
	Err     error
}

// SignedIn reports whether a session is present.
func (s AuthState) SignedIn() bool {
	return s.Session != nil
}

// SessionStore tracks the session and the branch it acts for.
type SessionStore struct {
	api *APIClient
	log logrus.FieldLogger

	mu        sync.Mutex
	state     AuthState
	seq       uint64
	listeners map[int]func(AuthState)
	nextID    int
	unsub     func()
}

func NewSessionStore(api *APIClient) *SessionStore {
	return &SessionStore{
		api:       api,
		log:       api.log.WithField("component", "session"),
		state:     AuthState{Loading: true},
		listeners: make(map[int]func(AuthState)),
	}
}

// Start subscribes to auth events and resolves the existing session.
func (s *SessionStore) Start(ctx context.Context) {
	s.mu.Lock()
	if s.unsub == nil {
		s.unsub = s.api.OnAuthStateChange(s.handle)
	}
	s.mu.Unlock()

	session, err := s.api.GetSession(ctx)
	if err != nil {
		s.log.WithError(err).Warn("failed to restore session")
		s.set(func(st *AuthState) {
			st.Loading = false
			st.Err = err
		})
		return
	}
	s.handle(ctx, EventInitialSession, session)
}

// Stop ends the auth event subscription.
func (s *SessionStore) Stop() {
	s.mu.Lock()
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (s *SessionStore) handle(ctx context.Context, event AuthEvent, session *Session) {
	if event == EventSignedOut || session == nil {
		s.mu.Lock()
		s.seq++
		s.mu.Unlock()
		s.set(func(st *AuthState) {
			*st = AuthState{}
		})
		return
	}

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	s.set(func(st *AuthState) {
		st.Session = session
		st.User = session.User
		st.Loading = true
		st.Err = nil
		if event != EventTokenRefreshed {
			st.Branch = nil
		}
	})

	branch, err := s.api.ResolveBranch(ctx)

	s.mu.Lock()
	stale := seq != s.seq
	s.mu.Unlock()
	if stale {
		return
	}
	if err != nil {
		s.log.WithError(err).WithField("event", event).Error("branch lookup failed")
	}
	s.set(func(st *AuthState) {
		st.Loading = false
		st.Branch = branch
		st.Err = err
	})
}

func (s *SessionStore) set(mutate func(*AuthState)) {
	s.mu.Lock()
	mutate(&s.state)
	state := s.state
	listeners := make([]func(AuthState), 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(state)
	}
}

// State returns a copy of the current state.
func (s *SessionStore) State() AuthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Branch returns the resolved branch, or nil.
func (s *SessionStore) Branch() *models.Branch {
	return s.State().Branch
}

// Subscribe calls fn on every state change until the returned func is called.
func (s *SessionStore) Subscribe(fn func(AuthState)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// SignIn signs in as a branch. The resulting state arrives through the
// SIGNED_IN event before SignIn returns.
func (s *SessionStore) SignIn(ctx context.Context, email, password string) error {
	_, _, err := s.api.SignInWithBranch(ctx, email, password)
	return err
}

func (s *SessionStore) SignOut(ctx context.Context) error {
	return s.api.SignOut(ctx)
}

func (s *SessionStore) Refresh(ctx context.Context) error {
	_, err := s.api.RefreshSession(ctx)
	return err
}
