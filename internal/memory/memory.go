// Package memory provides an in-process backend implementation. It is the
// default backend and the test double for the state managers: failures and
// completion order can be injected through the exported hook fields.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"finanzas/internal/backend"
	"finanzas/internal/core"
)

type account struct {
	id       string
	email    string
	password string
	name     string
	avatar   string
}

// Store implements backend.Backend entirely in memory.
type Store struct {
	mu       sync.Mutex
	accounts map[string]*account // keyed by email
	current  *core.User
	profiles map[string]core.Profile
	txs      []core.Transaction
	emitter  *backend.Emitter

	// Failure injection for tests. A non-nil error makes the corresponding
	// operation fail without touching state.
	AuthErr    error
	ProfileErr error
	TxErr      error

	// QueryHook, when set, runs inside Query after the snapshot is taken and
	// before the result is returned. Tests use it to control completion order.
	QueryHook func()

	// SessionHook runs inside CurrentSession between the state snapshot and
	// the return, letting tests race the initial query against auth events.
	SessionHook func()

	// UpdateHook runs at the top of profile Update, before any state change.
	UpdateHook func()

	// InsertHook runs at the top of transaction Insert, before any state
	// change. Tests use it to stall an insert across other operations.
	InsertHook func()
}

func New() *Store {
	return &Store{
		accounts: make(map[string]*account),
		profiles: make(map[string]core.Profile),
		emitter:  backend.NewEmitter(),
	}
}

func (s *Store) Auth() backend.Auth                     { return (*auth)(s) }
func (s *Store) Profiles() backend.ProfileStore         { return (*profileStore)(s) }
func (s *Store) Transactions() backend.TransactionStore { return (*txStore)(s) }

// FireAuthEvent synthesizes an auth-state change, as if it originated from
// another tab or a token refresh.
func (s *Store) FireAuthEvent(ev backend.AuthEvent) {
	s.mu.Lock()
	if ev.Type == backend.EventSignedIn && ev.User != nil {
		u := *ev.User
		s.current = &u
	} else {
		s.current = nil
	}
	s.mu.Unlock()
	s.emitter.Emit(ev)
}

// Seed registers an account without going through SignUp. Used by tests and
// the dev backend seeding path.
func (s *Store) Seed(email, password, name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.accounts[strings.ToLower(email)] = &account{id: id, email: email, password: password, name: name}
	return id
}

type auth Store

func (a *auth) CurrentSession(ctx context.Context) (*core.User, error) {
	s := (*Store)(a)
	s.mu.Lock()
	if s.AuthErr != nil {
		err := s.AuthErr
		s.mu.Unlock()
		return nil, err
	}
	var snapshot *core.User
	if s.current != nil {
		u := *s.current
		snapshot = &u
	}
	hook := s.SessionHook
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	if snapshot == nil {
		return nil, backend.ErrNoSession
	}
	return snapshot, nil
}

func (a *auth) SignIn(ctx context.Context, email, password string) (*core.User, error) {
	s := (*Store)(a)
	s.mu.Lock()
	if s.AuthErr != nil {
		err := s.AuthErr
		s.mu.Unlock()
		return nil, err
	}
	acc, ok := s.accounts[strings.ToLower(email)]
	if !ok || acc.password != password {
		s.mu.Unlock()
		return nil, backend.ErrInvalidCredentials
	}
	u := core.User{ID: acc.id, Name: acc.name, Email: acc.email, AvatarURL: acc.avatar}
	s.current = &u
	s.mu.Unlock()

	s.emitter.Emit(backend.AuthEvent{Type: backend.EventSignedIn, User: &u})
	cp := u
	return &cp, nil
}

func (a *auth) SignUp(ctx context.Context, email, password string) (*core.User, error) {
	s := (*Store)(a)
	s.mu.Lock()
	if s.AuthErr != nil {
		err := s.AuthErr
		s.mu.Unlock()
		return nil, err
	}
	key := strings.ToLower(email)
	if _, exists := s.accounts[key]; exists {
		s.mu.Unlock()
		return nil, backend.ErrEmailTaken
	}
	acc := &account{
		id:       uuid.NewString(),
		email:    email,
		password: password,
		name:     core.DefaultName(email),
	}
	s.accounts[key] = acc
	u := core.User{ID: acc.id, Name: acc.name, Email: acc.email}
	s.current = &u
	s.mu.Unlock()

	s.emitter.Emit(backend.AuthEvent{Type: backend.EventSignedIn, User: &u})
	cp := u
	return &cp, nil
}

func (a *auth) SignOut(ctx context.Context) error {
	s := (*Store)(a)
	s.mu.Lock()
	if s.AuthErr != nil {
		err := s.AuthErr
		s.mu.Unlock()
		return err
	}
	s.current = nil
	s.mu.Unlock()

	s.emitter.Emit(backend.AuthEvent{Type: backend.EventSignedOut})
	return nil
}

func (a *auth) UpdateMetadata(ctx context.Context, userID string, upd core.ProfileUpdate) error {
	s := (*Store)(a)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AuthErr != nil {
		return s.AuthErr
	}
	for _, acc := range s.accounts {
		if acc.id == userID {
			if upd.Name != nil {
				acc.name = *upd.Name
			}
			if upd.AvatarURL != nil {
				acc.avatar = *upd.AvatarURL
			}
			if s.current != nil && s.current.ID == userID {
				s.current.Name = acc.name
				s.current.AvatarURL = acc.avatar
			}
			return nil
		}
	}
	return backend.ErrNotFound
}

func (a *auth) Subscribe(l backend.AuthListener) backend.Unsubscribe {
	return (*Store)(a).emitter.Subscribe(l)
}

type profileStore Store

func (p *profileStore) Get(ctx context.Context, userID string) (core.Profile, error) {
	s := (*Store)(p)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ProfileErr != nil {
		return core.Profile{}, s.ProfileErr
	}
	prof, ok := s.profiles[userID]
	if !ok {
		return core.Profile{}, backend.ErrProfileNotFound
	}
	return prof, nil
}

func (p *profileStore) Insert(ctx context.Context, prof core.Profile) error {
	s := (*Store)(p)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ProfileErr != nil {
		return s.ProfileErr
	}
	if _, exists := s.profiles[prof.ID]; exists {
		// Idempotent: a racing initializer may have created it already.
		return nil
	}
	now := time.Now().UTC()
	if prof.CreatedAt.IsZero() {
		prof.CreatedAt = now
	}
	prof.UpdatedAt = now
	s.profiles[prof.ID] = prof
	return nil
}

func (p *profileStore) Update(ctx context.Context, userID string, upd core.ProfileUpdate) error {
	s := (*Store)(p)
	s.mu.Lock()
	hook := s.UpdateHook
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ProfileErr != nil {
		return s.ProfileErr
	}
	prof, ok := s.profiles[userID]
	if !ok {
		return backend.ErrProfileNotFound
	}
	if upd.Name != nil {
		prof.Name = *upd.Name
	}
	if upd.Currency != nil {
		prof.Currency = *upd.Currency
	}
	if upd.Theme != nil {
		prof.Theme = *upd.Theme
	}
	if upd.NotificationsEnabled != nil {
		prof.NotificationsEnabled = *upd.NotificationsEnabled
	}
	prof.UpdatedAt = time.Now().UTC()
	s.profiles[userID] = prof
	return nil
}

type txStore Store

func (t *txStore) Query(ctx context.Context, userID string, f backend.TransactionFilter) ([]core.Transaction, error) {
	s := (*Store)(t)
	s.mu.Lock()
	if s.TxErr != nil {
		err := s.TxErr
		s.mu.Unlock()
		return nil, err
	}
	var out []core.Transaction
	for _, tx := range s.txs {
		if tx.UserID != userID {
			continue
		}
		if f.Kind != "" && tx.Kind != f.Kind {
			continue
		}
		if !f.From.IsZero() && tx.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && tx.CreatedAt.After(f.To) {
			continue
		}
		out = append(out, tx)
	}
	hook := s.QueryHook
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	if hook != nil {
		hook()
	}
	return out, nil
}

func (t *txStore) Insert(ctx context.Context, tx core.Transaction) (string, error) {
	s := (*Store)(t)
	s.mu.Lock()
	hook := s.InsertHook
	s.mu.Unlock()
	if hook != nil {
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.TxErr != nil {
		return "", s.TxErr
	}
	tx.ID = uuid.NewString()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	tx.CreatedAt = tx.CreatedAt.UTC()
	s.txs = append(s.txs, tx)
	return tx.ID, nil
}

func (t *txStore) Get(ctx context.Context, id string) (core.Transaction, error) {
	s := (*Store)(t)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.TxErr != nil {
		return core.Transaction{}, s.TxErr
	}
	for _, tx := range s.txs {
		if tx.ID == id {
			return tx, nil
		}
	}
	return core.Transaction{}, backend.ErrNotFound
}
