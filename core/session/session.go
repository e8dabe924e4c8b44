// Package session holds the authenticated identity of the portal process.
//
// A Store is the single authority on who is logged in and as what role.
// Only Login, Refresh and Logout mutate it, and only the token and the role are persisted.
package session

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo/portal/core"
	"github.com/trezcool/masomo/portal/core/user"
)

// Durable storage keys
const (
	KeyToken = "token"
	KeyRole  = "role"
)

var (
	// errors
	ErrEmptyToken  = errors.New("session: token is required")
	ErrInvalidRole = errors.New("session: invalid role")
	ErrStaleToken  = errors.New("session: token no longer current")
	ErrNoStore     = errors.New("session: no store in context; the store must be initialized and attached before use")
)

type (
	// Storage is durable key/value storage surviving process restarts.
	// Get reports ok=false for missing keys. Delete of missing keys is not an error.
	Storage interface {
		Get(ctx context.Context, key string) (value string, ok bool, err error)
		Set(ctx context.Context, key, value string) error
		Delete(ctx context.Context, keys ...string) error
	}

	// Session is a snapshot of the client's identity.
	// Role is kept verbatim from storage and may not be a valid user.Role.
	Session struct {
		Token string
		Role  user.Role
		User  *user.User
	}

	Subscriber func(Session)

	Store struct {
		storage Storage
		logger  core.Logger

		emitMu sync.Mutex // serializes mutation + notification
		mu     sync.RWMutex
		sess   Session
		subs   map[int]Subscriber
		nextID int
	}
)

// IsAuthenticated is true when a token is present. The role alone never authenticates.
func (s Session) IsAuthenticated() bool {
	return s.Token != ""
}

func NewStore(storage Storage, logger core.Logger) *Store {
	if logger == nil {
		logger = core.NopLogger{}
	}
	return &Store{
		storage: storage,
		logger:  logger,
		subs:    make(map[int]Subscriber),
	}
}

// Initialize restores the session from storage. A stored token authenticates immediately,
// without a round-trip to the API; the user summary stays nil until a profile fetch.
// Storage read failures leave the session logged out.
func (s *Store) Initialize(ctx context.Context) {
	token, _, err := s.storage.Get(ctx, KeyToken)
	if err != nil {
		s.logger.Error("session: reading token", errors.Wrap(err, "initialize"))
		token = ""
	}
	var role string
	if token != "" {
		if role, _, err = s.storage.Get(ctx, KeyRole); err != nil {
			s.logger.Error("session: reading role", errors.Wrap(err, "initialize"))
		}
	}
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.replace(Session{Token: token, Role: user.Role(role)})
}

// Login persists the token and role and replaces the whole session at once.
// Storage write failures are logged, not returned: the in-memory session is updated regardless.
// Persisting does not stop when ctx is canceled, so a session is never stored half written.
func (s *Store) Login(ctx context.Context, token string, role user.Role, usr *user.User) error {
	if err := checkCredentials(token, role); err != nil {
		return err
	}
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.persist(context.WithoutCancel(ctx), token, role, "login")
	s.replace(Session{Token: token, Role: role, User: copyUser(usr)})
	return nil
}

// Refresh updates the role and user of the session holding token. It returns ErrStaleToken,
// and changes nothing, if the session was logged out or replaced in the meantime.
func (s *Store) Refresh(ctx context.Context, token string, role user.Role, usr *user.User) error {
	if err := checkCredentials(token, role); err != nil {
		return err
	}
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	if s.Session().Token != token {
		return ErrStaleToken
	}
	s.persist(context.WithoutCancel(ctx), token, role, "refresh")
	s.replace(Session{Token: token, Role: role, User: copyUser(usr)})
	return nil
}

// Logout clears the session from memory and storage. Calling it while logged out is a no-op
// with the same end state.
func (s *Store) Logout(ctx context.Context) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	if err := s.storage.Delete(context.WithoutCancel(ctx), KeyToken, KeyRole); err != nil {
		s.logger.Error("session: clearing storage", errors.Wrap(err, "logout"))
	}
	s.replace(Session{})
}

func checkCredentials(token string, role user.Role) error {
	if token == "" {
		return ErrEmptyToken
	}
	if !role.Valid() {
		return errors.Wrapf(ErrInvalidRole, "%q", role)
	}
	return nil
}

// persist must be called with s.emitMu held.
func (s *Store) persist(ctx context.Context, token string, role user.Role, op string) {
	if err := s.storage.Set(ctx, KeyToken, token); err != nil {
		s.logger.Error("session: persisting token", errors.Wrap(err, op))
	}
	if err := s.storage.Set(ctx, KeyRole, role.String()); err != nil {
		s.logger.Error("session: persisting role", errors.Wrap(err, op))
	}
}

func copyUser(usr *user.User) *user.User {
	if usr == nil {
		return nil
	}
	cp := *usr
	return &cp
}

// Session returns the current state. It never touches storage.
func (s *Store) Session() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sess.clone()
}

// Subscribe registers fn to be called after every mutation, in the order mutations are applied.
// Subscribers must not mutate the store.
func (s *Store) Subscribe(fn Subscriber) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// replace swaps the session and notifies subscribers. It must be called with s.emitMu held.
func (s *Store) replace(sess Session) {
	s.mu.Lock()
	s.sess = sess
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	subs := make([]Subscriber, 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		subs = append(subs, s.subs[id])
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(sess.clone())
	}
}

func (s Session) clone() Session {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}

type ctxKey struct{}

// NewContext returns a copy of ctx carrying the store.
func NewContext(ctx context.Context, s *Store) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the store attached to ctx, or ErrNoStore.
func FromContext(ctx context.Context) (*Store, error) {
	if s, ok := ctx.Value(ctxKey{}).(*Store); ok && s != nil {
		return s, nil
	}
	return nil, ErrNoStore
}
