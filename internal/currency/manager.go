// Package currency resolves and persists the display-currency selection,
// reconciling the fast local cache with the slower profile-stored value.
package currency

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"finanzas/internal/backend"
	"finanzas/internal/core"
	"finanzas/internal/localstore"
	"finanzas/internal/notify"
	"finanzas/internal/session"
)

// Manager owns the selected display currency. The stored amounts are never
// scaled by it; it is a formatting label only.
type Manager struct {
	store    *localstore.Store
	profiles backend.ProfileStore
	sessions *session.Manager
	notifier notify.Notifier

	mu          sync.Mutex
	currency    string
	loading     bool
	unsubscribe backend.Unsubscribe

	// persistWG tracks in-flight fire-and-forget backend writes.
	persistWG sync.WaitGroup
}

// NewManager reads the local cache synchronously, so the last-known currency
// is available before any network call completes.
func NewManager(store *localstore.Store, profiles backend.ProfileStore, sessions *session.Manager, notifier notify.Notifier) *Manager {
	cur := core.DefaultCurrency
	if v, ok := store.Get(localstore.CurrencyKey); ok && core.ValidCurrency(v) {
		cur = v
	}
	return &Manager{
		store:    store,
		profiles: profiles,
		sessions: sessions,
		notifier: notifier,
		currency: cur,
		loading:  true,
	}
}

// Start reconciles with the profile-stored value for the current session and
// re-runs the reconciliation on every later login. Without a session the
// local cache value stands.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.unsubscribe = m.sessions.Subscribe(func(u *core.User) {
		if u != nil {
			m.reconcile(ctx, u.ID)
		}
	})
	m.mu.Unlock()

	if u := m.sessions.User(); u != nil {
		m.reconcile(ctx, u.ID)
	}

	m.mu.Lock()
	m.loading = false
	m.mu.Unlock()
}

// Close releases the session subscription and waits for in-flight persists.
func (m *Manager) Close() {
	m.mu.Lock()
	unsub := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	m.persistWG.Wait()
}

// Currency returns the current display currency code.
func (m *Manager) Currency() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currency
}

// Loading reports whether the initial reconciliation is still pending.
func (m *Manager) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading
}

// SetCurrency applies the new code to memory and the local cache
// synchronously; persistence to the profile is fire-and-forget and a failure
// never rolls the local value back.
func (m *Manager) SetCurrency(ctx context.Context, code string) error {
	if !core.ValidCurrency(code) {
		return fmt.Errorf("set currency %q: %w", code, core.ErrInvalidCurrency)
	}

	m.mu.Lock()
	m.currency = code
	m.mu.Unlock()

	if err := m.store.Set(localstore.CurrencyKey, code); err != nil {
		slog.ErrorContext(ctx, "Local currency cache write failed", "error", err)
	}

	u := m.sessions.User()
	if u == nil {
		m.notifier.Notify(ctx, notify.LevelInfo, "Currency", "Currency changed to "+code)
		return nil
	}

	// The persist must outlive the caller's context; a request context is
	// cancelled as soon as its handler returns.
	pctx := context.WithoutCancel(ctx)
	m.persistWG.Add(1)
	go func() {
		defer m.persistWG.Done()
		upd := core.ProfileUpdate{Currency: &code}
		if err := m.profiles.Update(pctx, u.ID, upd); err != nil {
			slog.ErrorContext(pctx, "Currency persistence failed", "user_id", u.ID, "error", err)
			m.notifier.Notify(pctx, notify.LevelError, "Currency", "Could not save currency preference")
			return
		}
		m.notifier.Notify(pctx, notify.LevelInfo, "Currency", "Currency changed to "+code)
	}()
	return nil
}

// reconcile overwrites the tentative local value with the profile-stored one.
// The backend wins whenever a session is present and the stored value is
// usable; errors leave the local value standing.
func (m *Manager) reconcile(ctx context.Context, userID string) {
	prof, err := m.profiles.Get(ctx, userID)
	if err != nil {
		slog.ErrorContext(ctx, "Currency reconciliation failed", "user_id", userID, "error", err)
		return
	}
	if prof.Currency == "" || !core.ValidCurrency(prof.Currency) {
		return
	}

	m.mu.Lock()
	m.currency = prof.Currency
	m.mu.Unlock()

	if err := m.store.Set(localstore.CurrencyKey, prof.Currency); err != nil {
		slog.ErrorContext(ctx, "Local currency cache write failed", "error", err)
	}
}
