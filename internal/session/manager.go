// Package session owns the authenticated-identity state for the process and
// is the only component that talks to the backend's auth subsystem.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"finanzas/internal/backend"
	"finanzas/internal/core"
	"finanzas/internal/notify"
)

// Profile auto-creation is a background repair step; it is never retried
// forever within one process.
const maxProfileCreateAttempts = 3

// Listener receives the session user after every accepted change. The user
// is nil after sign-out.
type Listener func(*core.User)

// Manager is the single source of truth for "who is signed in".
//
// Readers never observe a half-populated session: the user is withheld until
// the initial backend auth-state resolution completes, and every accepted
// write replaces the whole user value.
type Manager struct {
	auth     backend.Auth
	profiles backend.ProfileStore
	notifier notify.Notifier

	mu              sync.Mutex
	user            *core.User
	ready           bool
	loading         bool
	closed          bool
	gen             uint64 // bumped on every accepted session write
	profileAttempts int
	unsubscribe     backend.Unsubscribe
	subscribers     map[int]Listener
	nextSub         int
}

func NewManager(auth backend.Auth, profiles backend.ProfileStore, notifier notify.Notifier) *Manager {
	return &Manager{
		auth:        auth,
		profiles:    profiles,
		notifier:    notifier,
		loading:     true,
		subscribers: make(map[int]Listener),
	}
}

// Start registers the persistent auth-state listener and resolves the
// initial session. Ready is true in all terminal cases, present or absent.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.unsubscribe = m.auth.Subscribe(m.onAuthEvent)
	startGen := m.gen
	m.mu.Unlock()

	u, err := m.auth.CurrentSession(ctx)
	switch {
	case errors.Is(err, backend.ErrNoSession):
		// No stored session; the empty shape is final.
	case err != nil:
		slog.ErrorContext(ctx, "Initial session query failed", "error", err)
	default:
		m.ensureProfile(ctx, u)
		m.applyIfCurrent(startGen, u)
	}

	m.mu.Lock()
	m.loading = false
	m.ready = true
	m.mu.Unlock()
}

// Close releases the auth-state subscription and rejects late writes from
// in-flight backend calls.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	unsub := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (m *Manager) onAuthEvent(ev backend.AuthEvent) {
	if ev.Type == backend.EventSignedIn && ev.User != nil {
		m.apply(ev.User)
		return
	}
	m.apply(nil)
}

// SignIn authenticates with the backend. Failures come back as typed errors;
// nothing escapes this boundary as a panic and local state is untouched on
// failure.
func (m *Manager) SignIn(ctx context.Context, email, password string) (*core.User, error) {
	u, err := m.auth.SignIn(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	m.apply(u)
	cp := *u
	return &cp, nil
}

// SignUp creates the account and its profile record as a unit. A profile
// insert failure propagates; the missing profile is repaired on a later
// Start if the account outlived the failure.
func (m *Manager) SignUp(ctx context.Context, email, password string) (*core.User, error) {
	u, err := m.auth.SignUp(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("sign up: %w", err)
	}

	prof := core.Profile{
		ID:       u.ID,
		Name:     core.DefaultName(email),
		Email:    email,
		Currency: core.DefaultCurrency,
	}
	if err := m.profiles.Insert(ctx, prof); err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}

	m.apply(u)
	cp := *u
	return &cp, nil
}

// SignOut clears the session unconditionally, even when the backend call
// fails. Dependent caches clear through their subscriptions.
func (m *Manager) SignOut(ctx context.Context) {
	if err := m.auth.SignOut(ctx); err != nil {
		slog.ErrorContext(ctx, "Backend sign-out failed", "error", err)
	}
	m.apply(nil)
}

// UpdateUser merges the accepted fields into the live session. It is a no-op
// without a session, and re-validates against the backend so stale local
// state cannot authorize a write.
func (m *Manager) UpdateUser(ctx context.Context, upd core.ProfileUpdate) error {
	m.mu.Lock()
	if m.user == nil {
		m.mu.Unlock()
		return nil
	}
	userID := m.user.ID
	m.mu.Unlock()

	if _, err := m.auth.CurrentSession(ctx); err != nil {
		m.notifier.Notify(ctx, notify.LevelError, "Profile", "Could not update profile")
		return fmt.Errorf("verify session: %w", err)
	}

	if err := m.auth.UpdateMetadata(ctx, userID, upd); err != nil {
		m.notifier.Notify(ctx, notify.LevelError, "Profile", "Could not update profile")
		return fmt.Errorf("update identity metadata: %w", err)
	}
	if err := m.profiles.Update(ctx, userID, upd); err != nil {
		m.notifier.Notify(ctx, notify.LevelError, "Profile", "Could not update profile")
		return fmt.Errorf("update profile: %w", err)
	}

	m.mu.Lock()
	if m.user != nil && m.user.ID == userID {
		if upd.Name != nil {
			m.user.Name = *upd.Name
		}
		if upd.AvatarURL != nil {
			m.user.AvatarURL = *upd.AvatarURL
		}
	}
	m.mu.Unlock()

	m.notifier.Notify(ctx, notify.LevelInfo, "Profile", "Profile updated")
	return nil
}

// User returns the signed-in user, or nil. Until Ready it always returns
// nil, so readers cannot act on a not-yet-resolved session.
func (m *Manager) User() *core.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ready || m.user == nil {
		return nil
	}
	cp := *m.user
	return &cp
}

// Ready reports whether the initial auth-state resolution completed.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// Loading reports whether the initial resolution is still pending.
func (m *Manager) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading
}

// Subscribe registers a session-change listener and returns its unsubscribe
// handle. Dependent managers use this instead of polling.
func (m *Manager) Subscribe(l Listener) backend.Unsubscribe {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subscribers[id] = l
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
}

// apply is the single session writer. It bumps the generation counter so a
// slower concurrent resolver cannot overwrite a newer state. A write that
// matches the current state is absorbed without re-notifying subscribers:
// backends emit an auth event for our own SignIn/SignOut calls, and each
// change must reach subscribers exactly once.
func (m *Manager) apply(u *core.User) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.gen++
	if sameUser(m.user, u) {
		m.mu.Unlock()
		return
	}
	if u != nil {
		cp := *u
		m.user = &cp
	} else {
		m.user = nil
	}
	subs := m.snapshotSubscribersLocked()
	m.mu.Unlock()

	m.emit(subs, u)
}

// applyIfCurrent applies the initial query result only when no auth event
// won the race while the query was in flight.
func (m *Manager) applyIfCurrent(startGen uint64, u *core.User) {
	m.mu.Lock()
	if m.closed || m.gen != startGen {
		m.mu.Unlock()
		return
	}
	m.gen++
	cp := *u
	m.user = &cp
	subs := m.snapshotSubscribersLocked()
	m.mu.Unlock()

	m.emit(subs, u)
}

func sameUser(a, b *core.User) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (m *Manager) snapshotSubscribersLocked() []Listener {
	subs := make([]Listener, 0, len(m.subscribers))
	for _, l := range m.subscribers {
		subs = append(subs, l)
	}
	return subs
}

func (m *Manager) emit(subs []Listener, u *core.User) {
	for _, l := range subs {
		if u != nil {
			cp := *u
			l(&cp)
		} else {
			l(nil)
		}
	}
}

// ensureProfile creates the profile record when the account exists without
// one (interrupted sign-up, racing initializer). Errors are logged, never
// surfaced, and never block session establishment.
func (m *Manager) ensureProfile(ctx context.Context, u *core.User) {
	m.mu.Lock()
	if m.profileAttempts >= maxProfileCreateAttempts {
		m.mu.Unlock()
		return
	}
	m.profileAttempts++
	m.mu.Unlock()

	_, err := m.profiles.Get(ctx, u.ID)
	if err == nil {
		return
	}
	if !errors.Is(err, backend.ErrProfileNotFound) {
		slog.ErrorContext(ctx, "Profile lookup failed", "user_id", u.ID, "error", err)
		return
	}

	name := u.Name
	if name == "" {
		name = core.DefaultName(u.Email)
	}
	prof := core.Profile{
		ID:       u.ID,
		Name:     name,
		Email:    u.Email,
		Currency: core.DefaultCurrency,
	}
	if err := m.profiles.Insert(ctx, prof); err != nil {
		slog.ErrorContext(ctx, "Profile auto-create failed", "user_id", u.ID, "error", err)
		return
	}
	slog.InfoContext(ctx, "Profile auto-created", "user_id", u.ID)
}
