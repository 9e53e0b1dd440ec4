package txcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"finanzas/internal/core"
	"finanzas/internal/memory"
	"finanzas/internal/notify"
	"finanzas/internal/session"
)

type fakePublisher struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (p *fakePublisher) PublishTransaction(_ context.Context, id, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.ids = append(p.ids, id)
	return nil
}

func (p *fakePublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.ids))
	copy(out, p.ids)
	return out
}

type fixture struct {
	store    *memory.Store
	sessions *session.Manager
	rec      *notify.Recorder
	pub      *fakePublisher
	cache    *Cache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	rec := &notify.Recorder{}
	sessions := session.NewManager(store.Auth(), store.Profiles(), rec)
	t.Cleanup(sessions.Close)
	sessions.Start(context.Background())
	pub := &fakePublisher{}
	cache := New(store.Transactions(), sessions, rec, pub)
	t.Cleanup(cache.Close)
	return &fixture{store: store, sessions: sessions, rec: rec, pub: pub, cache: cache}
}

func (f *fixture) signUp(t *testing.T, email string) *core.User {
	t.Helper()
	u, err := f.sessions.SignUp(context.Background(), email, "secret")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	return u
}

func expenseInput(desc string, cents int64) core.TransactionInput {
	return core.TransactionInput{
		Kind:        core.Expense,
		Amount:      core.Money{Cents: cents},
		Description: desc,
		Category:    "home",
	}
}

func TestRecordPrependsBackendShapedTransaction(t *testing.T) {
	f := newFixture(t)
	f.signUp(t, "ana@example.com")
	f.cache.Start(context.Background())

	first, err := f.cache.Record(context.Background(), expenseInput("groceries", 4000))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if first.ID == "" {
		t.Fatal("recorded transaction must carry the backend-assigned id")
	}
	second, err := f.cache.Record(context.Background(), expenseInput("bus fare", 250))
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	txs := f.cache.Transactions()
	if len(txs) != 2 {
		t.Fatalf("cached %d transactions, want 2", len(txs))
	}
	if txs[0].ID != second.ID || txs[1].ID != first.ID {
		t.Fatalf("newest must sit at the front: got %s, %s", txs[0].ID, txs[1].ID)
	}
	if got := f.pub.published(); len(got) != 2 || got[1] != second.ID {
		t.Fatalf("each record must publish one export message, got %v", got)
	}
}

func TestRecordRejectsInvalidInputBeforeBackend(t *testing.T) {
	f := newFixture(t)
	f.signUp(t, "ana@example.com")
	f.cache.Start(context.Background())

	// A backend failure is armed: if validation leaks through, the error
	// would be this one instead of the validation error.
	f.store.TxErr = errors.New("backend must not be reached")

	in := expenseInput("groceries", 0)
	if _, err := f.cache.Record(context.Background(), in); !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if n := len(f.cache.Transactions()); n != 0 {
		t.Fatalf("cache must be untouched, has %d items", n)
	}
}

func TestRecordFailsFastWithoutUser(t *testing.T) {
	f := newFixture(t)
	f.cache.Start(context.Background())

	if _, err := f.cache.Record(context.Background(), expenseInput("groceries", 4000)); !errors.Is(err, ErrNoUser) {
		t.Fatalf("expected ErrNoUser, got %v", err)
	}
}

func TestRecordInsertFailureLeavesCacheUntouched(t *testing.T) {
	f := newFixture(t)
	f.signUp(t, "ana@example.com")
	f.cache.Start(context.Background())
	if _, err := f.cache.Record(context.Background(), expenseInput("groceries", 4000)); err != nil {
		t.Fatalf("record: %v", err)
	}

	f.store.TxErr = errors.New("backend down")
	if _, err := f.cache.Record(context.Background(), expenseInput("rent", 90000)); err == nil {
		t.Fatal("insert failure must propagate")
	}
	if n := len(f.cache.Transactions()); n != 1 {
		t.Fatalf("failed insert must not change the cache, has %d items", n)
	}
	entries := f.rec.Entries()
	if len(entries) == 0 || entries[len(entries)-1].Level != notify.LevelError {
		t.Fatal("insert failure must surface a non-fatal notification")
	}
}

func TestRecordSurvivesPublishFailure(t *testing.T) {
	f := newFixture(t)
	f.signUp(t, "ana@example.com")
	f.cache.Start(context.Background())

	f.pub.err = errors.New("broker unreachable")
	if _, err := f.cache.Record(context.Background(), expenseInput("groceries", 4000)); err != nil {
		t.Fatalf("export publish failure must not fail Record: %v", err)
	}
	if n := len(f.cache.Transactions()); n != 1 {
		t.Fatalf("cache must hold the recorded transaction, has %d items", n)
	}
}

func TestLoadKeepsNewestPage(t *testing.T) {
	f := newFixture(t)
	u := f.signUp(t, "ana@example.com")

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < PageSize+2; i++ {
		tx := core.Transaction{
			UserID:      u.ID,
			Kind:        core.Expense,
			Amount:      core.Money{Cents: 100},
			Description: fmt.Sprintf("item %d", i),
			Category:    "other",
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if _, err := f.store.Transactions().Insert(context.Background(), tx); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	got := f.cache.Load(context.Background())
	if len(got) != PageSize {
		t.Fatalf("load returned %d transactions, want %d", len(got), PageSize)
	}
	if got[0].Description != fmt.Sprintf("item %d", PageSize+1) {
		t.Fatalf("newest first: got %q at the front", got[0].Description)
	}
}

func TestLoadFailureLeavesCacheUntouched(t *testing.T) {
	f := newFixture(t)
	f.signUp(t, "ana@example.com")
	f.cache.Start(context.Background())
	if _, err := f.cache.Record(context.Background(), expenseInput("groceries", 4000)); err != nil {
		t.Fatalf("record: %v", err)
	}

	f.store.TxErr = errors.New("backend down")
	if got := f.cache.Load(context.Background()); got != nil {
		t.Fatalf("failed load must return nil, got %d items", len(got))
	}
	if n := len(f.cache.Transactions()); n != 1 {
		t.Fatalf("failed load must not clear the cache, has %d items", n)
	}
}

func TestLaterIssuedLoadWins(t *testing.T) {
	f := newFixture(t)
	u := f.signUp(t, "ana@example.com")
	if _, err := f.store.Transactions().Insert(context.Background(), core.Transaction{
		UserID: u.ID, Kind: core.Expense, Amount: core.Money{Cents: 100},
		Description: "old", Category: "other",
		CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// The first load stalls after taking its snapshot; the second runs to
	// completion before the first resumes.
	entered := make(chan struct{})
	gate := make(chan struct{})
	var calls int32
	f.store.QueryHook = func() {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(entered)
			<-gate
		}
	}

	firstDone := make(chan []core.Transaction, 1)
	go func() {
		firstDone <- f.cache.Load(context.Background())
	}()
	<-entered

	if _, err := f.store.Transactions().Insert(context.Background(), core.Transaction{
		UserID: u.ID, Kind: core.Income, Amount: core.Money{Cents: 500},
		Description: "new", Category: "salary",
		CreatedAt: time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	second := f.cache.Load(context.Background())
	if len(second) != 2 {
		t.Fatalf("second load returned %d items, want 2", len(second))
	}

	close(gate)
	if got := <-firstDone; got != nil {
		t.Fatalf("stale load must be discarded and return nil, got %d items", len(got))
	}

	txs := f.cache.Transactions()
	if len(txs) != 2 || txs[0].Description != "new" {
		t.Fatalf("cache must reflect the later-issued load, got %+v", txs)
	}
}

func TestSignOutClearsCacheAndInvalidatesInflightLoad(t *testing.T) {
	f := newFixture(t)
	f.signUp(t, "ana@example.com")
	f.cache.Start(context.Background())
	if _, err := f.cache.Record(context.Background(), expenseInput("groceries", 4000)); err != nil {
		t.Fatalf("record: %v", err)
	}

	entered := make(chan struct{})
	gate := make(chan struct{})
	var calls int32
	f.store.QueryHook = func() {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(entered)
			<-gate
		}
	}

	done := make(chan []core.Transaction, 1)
	go func() {
		done <- f.cache.Load(context.Background())
	}()
	<-entered

	f.sessions.SignOut(context.Background())
	close(gate)

	if got := <-done; got != nil {
		t.Fatalf("load racing a sign-out must be discarded, got %d items", len(got))
	}
	if n := len(f.cache.Transactions()); n != 0 {
		t.Fatalf("cache must be empty after sign-out, has %d items", n)
	}
}

func TestSignOutDuringRecordLeavesCacheEmpty(t *testing.T) {
	f := newFixture(t)
	f.signUp(t, "ana@example.com")
	f.cache.Start(context.Background())

	// The insert stalls while the user signs out; its completion must not
	// repopulate the cleared cache.
	entered := make(chan struct{})
	gate := make(chan struct{})
	var calls int32
	f.store.InsertHook = func() {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(entered)
			<-gate
		}
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.cache.Record(context.Background(), expenseInput("groceries", 4000))
		done <- err
	}()
	<-entered

	f.sessions.SignOut(context.Background())
	close(gate)

	if err := <-done; err != nil {
		t.Fatalf("the insert itself succeeded, Record must not fail: %v", err)
	}
	if n := len(f.cache.Transactions()); n != 0 {
		t.Fatalf("cache holds %d transaction(s) after sign-out, want 0", n)
	}
	if got := f.pub.published(); len(got) != 1 {
		t.Fatalf("the stored transaction must still be published for export, got %v", got)
	}
}

func TestLoginLoadsHistory(t *testing.T) {
	f := newFixture(t)
	u := f.signUp(t, "ana@example.com")
	if _, err := f.store.Transactions().Insert(context.Background(), core.Transaction{
		UserID: u.ID, Kind: core.Expense, Amount: core.Money{Cents: 100},
		Description: "earlier", Category: "other",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	f.sessions.SignOut(context.Background())

	f.cache.Start(context.Background())
	if n := len(f.cache.Transactions()); n != 0 {
		t.Fatalf("no session yet, cache should be empty, has %d items", n)
	}

	if _, err := f.sessions.SignIn(context.Background(), "ana@example.com", "secret"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	txs := f.cache.Transactions()
	if len(txs) != 1 || txs[0].Description != "earlier" {
		t.Fatalf("login must load the stored history, got %+v", txs)
	}
}

func TestSummaryDerivedFromCache(t *testing.T) {
	f := newFixture(t)
	f.signUp(t, "ana@example.com")
	f.cache.Start(context.Background())

	if _, err := f.cache.Record(context.Background(), core.TransactionInput{
		Kind: core.Income, Amount: core.Money{Cents: 10000},
		Description: "salary", Category: "salary",
	}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := f.cache.Record(context.Background(), expenseInput("groceries", 4000)); err != nil {
		t.Fatalf("record: %v", err)
	}

	sum := f.cache.Summary()
	if sum.TotalIncome.Cents != 10000 || sum.TotalExpense.Cents != 4000 || sum.Balance.Cents != 6000 {
		t.Fatalf("summary = %+v, want 10000/4000/6000", sum)
	}
}
