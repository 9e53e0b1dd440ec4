package backend

import (
	"context"
	"errors"
	"time"

	"finanzas/internal/core"
)

// Typed failures surfaced at the backend boundary. The HTTP layer maps all
// auth failures to one generic user-facing message; the distinction exists
// for logs and tests only.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrNoSession          = errors.New("no active session")
	ErrProfileNotFound    = errors.New("profile not found")
	ErrNotFound           = errors.New("not found")
)

// AuthEventType distinguishes login from logout notifications.
type AuthEventType string

const (
	EventSignedIn  AuthEventType = "signed_in"
	EventSignedOut AuthEventType = "signed_out"
)

// AuthEvent is delivered to subscribed listeners whenever the backend's
// authentication state changes. User is nil for sign-out events.
type AuthEvent struct {
	Type AuthEventType
	User *core.User
}

// AuthListener receives auth-state change notifications.
type AuthListener func(AuthEvent)

// Unsubscribe releases a listener registration. Safe to call more than once.
type Unsubscribe func()

// Auth is the authentication subsystem of the external backend.
type Auth interface {
	// CurrentSession returns the signed-in user, or ErrNoSession.
	CurrentSession(ctx context.Context) (*core.User, error)
	SignIn(ctx context.Context, email, password string) (*core.User, error)
	SignUp(ctx context.Context, email, password string) (*core.User, error)
	SignOut(ctx context.Context) error
	// UpdateMetadata updates identity metadata for the signed-in user.
	UpdateMetadata(ctx context.Context, userID string, upd core.ProfileUpdate) error
	// Subscribe registers a persistent auth-state listener.
	Subscribe(l AuthListener) Unsubscribe
}

// ProfileStore persists user profile records.
type ProfileStore interface {
	Get(ctx context.Context, userID string) (core.Profile, error)
	Insert(ctx context.Context, p core.Profile) error
	Update(ctx context.Context, userID string, upd core.ProfileUpdate) error
}

// TransactionFilter narrows a transaction query. Zero values mean "no filter".
type TransactionFilter struct {
	Kind  core.TransactionKind
	From  time.Time
	To    time.Time
	Limit int
}

// TransactionStore persists transactions. Query returns most-recent-first.
type TransactionStore interface {
	Query(ctx context.Context, userID string, f TransactionFilter) ([]core.Transaction, error)
	// Insert stores the transaction and returns the assigned identifier.
	Insert(ctx context.Context, tx core.Transaction) (string, error)
	Get(ctx context.Context, id string) (core.Transaction, error)
}

// Backend bundles the three subsystems the managers consume.
type Backend interface {
	Auth() Auth
	Profiles() ProfileStore
	Transactions() TransactionStore
}

// CleanupFunc releases backend resources.
type CleanupFunc func() error

// Result contains a backend instance and its optional cleanup function.
type Result struct {
	Backend Backend
	Cleanup CleanupFunc
}
