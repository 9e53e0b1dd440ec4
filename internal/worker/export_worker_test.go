package worker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"finanzas/internal/amqp"
	"finanzas/internal/core"
	exportmem "finanzas/internal/export/memory"
	"finanzas/internal/storage"
)

func newTestWorker(t *testing.T) (*ExportWorker, *storage.SQLiteRepository, *exportmem.Store) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	dest := exportmem.New()
	w := NewExportWorker(repo, dest, nil, 10, time.Minute)
	return w, repo, dest
}

func insertTx(t *testing.T, repo *storage.SQLiteRepository, userID, desc string) string {
	t.Helper()
	id, err := repo.Transactions().Insert(context.Background(), core.Transaction{
		UserID:      userID,
		Kind:        core.Expense,
		Amount:      core.Money{Cents: 1500},
		Description: desc,
		Category:    "home",
	})
	if err != nil {
		t.Fatalf("insert transaction: %v", err)
	}
	return id
}

func TestHandleExportMessage(t *testing.T) {
	w, repo, dest := newTestWorker(t)
	ctx := context.Background()

	u, err := repo.Auth().SignUp(ctx, "ana@example.com", "secret")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	id := insertTx(t, repo, u.ID, "groceries")

	if err := w.HandleExportMessage(ctx, amqp.NewExportMessage(id, u.ID)); err != nil {
		t.Fatalf("handle message: %v", err)
	}

	items := dest.Items()
	if len(items) != 1 || items[0].ID != id {
		t.Fatalf("expected one exported transaction, got %+v", items)
	}

	// Exported transactions must not be swept again.
	pending, err := repo.GetPendingExports(ctx, 10)
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending exports, got %d", len(pending))
	}
}

func TestHandleExportMessageDropsUnknownTransaction(t *testing.T) {
	w, _, dest := newTestWorker(t)

	if err := w.HandleExportMessage(context.Background(), amqp.NewExportMessage("missing", "u1")); err != nil {
		t.Fatalf("unknown transaction must be dropped without error, got %v", err)
	}
	if len(dest.Items()) != 0 {
		t.Fatal("nothing should have been exported")
	}
}

func TestProcessPendingSweepsUnexported(t *testing.T) {
	w, repo, dest := newTestWorker(t)
	ctx := context.Background()

	u, err := repo.Auth().SignUp(ctx, "ana@example.com", "secret")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	insertTx(t, repo, u.ID, "groceries")
	insertTx(t, repo, u.ID, "rent")

	if err := w.ProcessPending(ctx); err != nil {
		t.Fatalf("process pending: %v", err)
	}
	if got := len(dest.Items()); got != 2 {
		t.Fatalf("sweep exported %d transactions, want 2", got)
	}

	// A second sweep finds nothing new.
	if err := w.ProcessPending(ctx); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if got := len(dest.Items()); got != 2 {
		t.Fatalf("second sweep must be a no-op, destination has %d rows", got)
	}
}
