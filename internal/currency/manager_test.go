package currency

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"finanzas/internal/core"
	"finanzas/internal/localstore"
	"finanzas/internal/memory"
	"finanzas/internal/notify"
	"finanzas/internal/session"
)

type fixture struct {
	store    *memory.Store
	local    *localstore.Store
	sessions *session.Manager
	rec      *notify.Recorder
	mgr      *Manager
}

func newFixture(t *testing.T, path string) *fixture {
	t.Helper()
	store := memory.New()
	local, err := localstore.Open(path)
	if err != nil {
		t.Fatalf("open local store: %v", err)
	}
	rec := &notify.Recorder{}
	sessions := session.NewManager(store.Auth(), store.Profiles(), rec)
	t.Cleanup(sessions.Close)
	mgr := NewManager(local, store.Profiles(), sessions, rec)
	t.Cleanup(mgr.Close)
	return &fixture{store: store, local: local, sessions: sessions, rec: rec, mgr: mgr}
}

func TestDefaultWithoutCacheOrSession(t *testing.T) {
	f := newFixture(t, filepath.Join(t.TempDir(), "local.env"))
	f.sessions.Start(context.Background())
	f.mgr.Start(context.Background())

	if got := f.mgr.Currency(); got != core.DefaultCurrency {
		t.Fatalf("currency = %q, want default %q", got, core.DefaultCurrency)
	}
	if f.mgr.Loading() {
		t.Fatal("loading must end even without a session")
	}
}

func TestLocalCacheReadAtConstruction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.env")
	seed, err := localstore.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := seed.Set(localstore.CurrencyKey, "MXN"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	f := newFixture(t, path)
	// Observable before Start: the cache read is synchronous.
	if got := f.mgr.Currency(); got != "MXN" {
		t.Fatalf("currency = %q, want cached MXN", got)
	}
}

func TestBackendValueWinsOnLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.env")
	seed, _ := localstore.Open(path)
	_ = seed.Set(localstore.CurrencyKey, "MXN")

	f := newFixture(t, path)
	f.sessions.Start(context.Background())
	u, err := f.sessions.SignUp(context.Background(), "ana@example.com", "secret")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	eur := "EUR"
	if err := f.store.Profiles().Update(context.Background(), u.ID, core.ProfileUpdate{Currency: &eur}); err != nil {
		t.Fatalf("update profile: %v", err)
	}

	f.mgr.Start(context.Background())

	if got := f.mgr.Currency(); got != "EUR" {
		t.Fatalf("currency = %q, want backend EUR", got)
	}
	if v, _ := f.local.Get(localstore.CurrencyKey); v != "EUR" {
		t.Fatalf("local cache = %q, want EUR after reconciliation", v)
	}
}

func TestReconcileRunsOnLogin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.env")
	f := newFixture(t, path)
	f.sessions.Start(context.Background())
	f.mgr.Start(context.Background())

	u, err := f.sessions.SignUp(context.Background(), "ana@example.com", "secret")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	cop := "COP"
	if err := f.store.Profiles().Update(context.Background(), u.ID, core.ProfileUpdate{Currency: &cop}); err != nil {
		t.Fatalf("update profile: %v", err)
	}
	f.sessions.SignOut(context.Background())

	// Login fires the subscription, which re-reads the stored preference.
	if _, err := f.sessions.SignIn(context.Background(), "ana@example.com", "secret"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if got := f.mgr.Currency(); got != "COP" {
		t.Fatalf("currency = %q, want COP after login reconciliation", got)
	}
}

func TestSetCurrencyRejectsUnknownCode(t *testing.T) {
	f := newFixture(t, filepath.Join(t.TempDir(), "local.env"))
	f.sessions.Start(context.Background())
	f.mgr.Start(context.Background())

	if err := f.mgr.SetCurrency(context.Background(), "GBP"); !errors.Is(err, core.ErrInvalidCurrency) {
		t.Fatalf("expected ErrInvalidCurrency, got %v", err)
	}
	if got := f.mgr.Currency(); got != core.DefaultCurrency {
		t.Fatalf("rejected code must not change state, got %q", got)
	}
}

func TestSetCurrencyIsSynchronous(t *testing.T) {
	f := newFixture(t, filepath.Join(t.TempDir(), "local.env"))
	f.sessions.Start(context.Background())
	if _, err := f.sessions.SignUp(context.Background(), "ana@example.com", "secret"); err != nil {
		t.Fatalf("sign up: %v", err)
	}
	f.mgr.Start(context.Background())

	// Hold the backend write open; the local value must not wait for it.
	gate := make(chan struct{})
	f.store.UpdateHook = func() { <-gate }

	if err := f.mgr.SetCurrency(context.Background(), "PEN"); err != nil {
		t.Fatalf("set currency: %v", err)
	}
	if got := f.mgr.Currency(); got != "PEN" {
		t.Fatalf("currency = %q, want PEN before backend resolves", got)
	}
	if v, _ := f.local.Get(localstore.CurrencyKey); v != "PEN" {
		t.Fatalf("local cache = %q, want PEN before backend resolves", v)
	}

	close(gate)
	f.mgr.persistWG.Wait()
}

func TestPersistOutlivesCallerContext(t *testing.T) {
	f := newFixture(t, filepath.Join(t.TempDir(), "local.env"))
	f.sessions.Start(context.Background())
	u, err := f.sessions.SignUp(context.Background(), "ana@example.com", "secret")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	f.mgr.Start(context.Background())

	// The caller's context dies while the backend write is in flight, as a
	// request context does the moment its handler returns.
	ctx, cancel := context.WithCancel(context.Background())
	f.store.UpdateHook = func() { cancel() }

	if err := f.mgr.SetCurrency(ctx, "EUR"); err != nil {
		t.Fatalf("set currency: %v", err)
	}
	f.mgr.persistWG.Wait()

	prof, err := f.store.Profiles().Get(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if prof.Currency != "EUR" {
		t.Fatalf("profile currency = %q, want EUR despite the dead caller context", prof.Currency)
	}
}

func TestSetCurrencyKeepsLocalValueOnPersistFailure(t *testing.T) {
	f := newFixture(t, filepath.Join(t.TempDir(), "local.env"))
	f.sessions.Start(context.Background())
	if _, err := f.sessions.SignUp(context.Background(), "ana@example.com", "secret"); err != nil {
		t.Fatalf("sign up: %v", err)
	}
	f.mgr.Start(context.Background())

	f.store.ProfileErr = errors.New("backend down")
	if err := f.mgr.SetCurrency(context.Background(), "CLP"); err != nil {
		t.Fatalf("set currency: %v", err)
	}
	f.mgr.persistWG.Wait()

	if got := f.mgr.Currency(); got != "CLP" {
		t.Fatalf("no rollback on persist failure, got %q", got)
	}
	entries := f.rec.Entries()
	if len(entries) == 0 || entries[len(entries)-1].Level != notify.LevelError {
		t.Fatal("persist failure must surface a non-fatal notification")
	}
}

func TestCurrencySurvivesRestartWithoutSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.env")
	f := newFixture(t, path)
	f.sessions.Start(context.Background())
	f.mgr.Start(context.Background())
	if err := f.mgr.SetCurrency(context.Background(), "ARS"); err != nil {
		t.Fatalf("set currency: %v", err)
	}

	// Simulated restart: fresh managers over the same state file, no session.
	g := newFixture(t, path)
	g.sessions.Start(context.Background())
	g.mgr.Start(context.Background())
	if got := g.mgr.Currency(); got != "ARS" {
		t.Fatalf("currency = %q after restart, want ARS", got)
	}
}
