// Package txcache maintains a bounded, most-recent-first view of the active
// user's transactions, kept consistent with explicit local mutations.
package txcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"finanzas/internal/backend"
	"finanzas/internal/core"
	"finanzas/internal/notify"
	"finanzas/internal/session"
)

// PageSize bounds the cached window of remote history.
const PageSize = 10

// ErrNoUser is returned when a mutation is attempted without a session.
var ErrNoUser = errors.New("no signed-in user")

// Publisher queues a recorded transaction for asynchronous export. A nil
// Publisher disables export without affecting Record.
type Publisher interface {
	PublishTransaction(ctx context.Context, id, userID string) error
}

// Cache owns the in-memory transaction window. All aggregation over it is
// derived on read, never stored.
type Cache struct {
	store     backend.TransactionStore
	sessions  *session.Manager
	notifier  notify.Notifier
	publisher Publisher

	mu          sync.Mutex
	items       []core.Transaction
	issued      uint64 // last load token handed out
	applied     uint64 // token of the load whose result is cached
	clears      uint64 // bumped on every Clear
	unsubscribe backend.Unsubscribe
}

func New(store backend.TransactionStore, sessions *session.Manager, notifier notify.Notifier, publisher Publisher) *Cache {
	return &Cache{
		store:     store,
		sessions:  sessions,
		notifier:  notifier,
		publisher: publisher,
	}
}

// Start wires the cache to the session lifecycle: load on login, discard on
// sign-out.
func (c *Cache) Start(ctx context.Context) {
	c.mu.Lock()
	c.unsubscribe = c.sessions.Subscribe(func(u *core.User) {
		if u == nil {
			c.Clear()
			return
		}
		c.Load(ctx)
	})
	c.mu.Unlock()

	if c.sessions.User() != nil {
		c.Load(ctx)
	}
}

// Close releases the session subscription.
func (c *Cache) Close() {
	c.mu.Lock()
	unsub := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Load replaces the cache with the newest PageSize transactions. It returns
// nil on failure; callers must treat nil as "unchanged, try again later",
// not as an empty history. Out-of-order completions are discarded by load
// token, so the later-issued call always wins.
func (c *Cache) Load(ctx context.Context) []core.Transaction {
	u := c.sessions.User()
	if u == nil {
		slog.WarnContext(ctx, "Transaction load skipped: no signed-in user")
		return nil
	}

	c.mu.Lock()
	c.issued++
	token := c.issued
	c.mu.Unlock()

	txs, err := c.store.Query(ctx, u.ID, backend.TransactionFilter{Limit: PageSize})
	if err != nil {
		slog.ErrorContext(ctx, "Transaction load failed", "user_id", u.ID, "error", err)
		return nil
	}
	for i := range txs {
		txs[i].CreatedAt = txs[i].CreatedAt.UTC()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if token <= c.applied {
		// A later-issued load (or a sign-out) already settled the cache.
		slog.DebugContext(ctx, "Stale transaction load discarded", "token", token, "applied", c.applied)
		return nil
	}
	c.applied = token
	c.items = txs
	out := make([]core.Transaction, len(txs))
	copy(out, txs)
	return out
}

// Record validates the submission, inserts it remotely and prepends the
// backend-shaped transaction to the cache. The cache is untouched on any
// failure, and validation failures never reach the backend. An insert still
// in flight when the cache is cleared succeeds without repopulating it.
func (c *Cache) Record(ctx context.Context, in core.TransactionInput) (core.Transaction, error) {
	if err := in.Validate(); err != nil {
		return core.Transaction{}, err
	}
	u := c.sessions.User()
	if u == nil {
		return core.Transaction{}, fmt.Errorf("record transaction: %w", ErrNoUser)
	}

	c.mu.Lock()
	clears := c.clears
	c.mu.Unlock()

	tx := core.Transaction{
		UserID:      u.ID,
		Kind:        in.Kind,
		Amount:      in.Amount,
		Description: in.Description,
		Category:    in.Category,
		CreatedAt:   time.Now().UTC(),
	}
	id, err := c.store.Insert(ctx, tx)
	if err != nil {
		slog.ErrorContext(ctx, "Transaction insert failed", "user_id", u.ID, "error", err)
		c.notifier.Notify(ctx, notify.LevelError, "Transaction", "Could not save transaction")
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	tx.ID = id

	c.mu.Lock()
	if c.clears == clears {
		c.items = append([]core.Transaction{tx}, c.items...)
	}
	c.mu.Unlock()

	c.publishExport(ctx, tx)
	return tx, nil
}

// Clear discards the cache unconditionally and invalidates in-flight loads.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.issued++
	c.applied = c.issued
	c.clears++
	c.items = nil
}

// Transactions returns a copy of the cached window, most recent first.
func (c *Cache) Transactions() []core.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Transaction, len(c.items))
	copy(out, c.items)
	return out
}

// Summary recomputes the derived totals over the cached window.
func (c *Cache) Summary() core.Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return core.Summarize(c.items)
}

// publishExport queues the transaction for the export worker. Export is
// best-effort; a queue failure never affects the recorded transaction.
func (c *Cache) publishExport(ctx context.Context, tx core.Transaction) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.PublishTransaction(ctx, tx.ID, tx.UserID); err != nil {
		slog.ErrorContext(ctx, "Failed to publish export message", "id", tx.ID, "error", err)
	}
}
