// Package worker moves recorded transactions from the backend store to the
// export destination.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"finanzas/internal/amqp"
	"finanzas/internal/backend"
	"finanzas/internal/export"
	"finanzas/internal/storage"
)

// Repository is the slice of the storage layer the worker needs.
type Repository interface {
	Transactions() backend.TransactionStore
	GetPendingExports(ctx context.Context, limit int) ([]storage.PendingExport, error)
	MarkExported(ctx context.Context, id string) error
	MarkExportError(ctx context.Context, id string) error
}

// ExportWorker consumes export messages and appends transactions to the
// export destination. A periodic sweep re-processes transactions whose queue
// message was lost.
type ExportWorker struct {
	repo      Repository
	appender  export.Appender
	queue     *amqp.Client
	batchSize int
	interval  time.Duration
}

func NewExportWorker(repo Repository, appender export.Appender, queue *amqp.Client, batchSize int, interval time.Duration) *ExportWorker {
	return &ExportWorker{
		repo:      repo,
		appender:  appender,
		queue:     queue,
		batchSize: batchSize,
		interval:  interval,
	}
}

// Run blocks until ctx is cancelled, consuming queue messages and sweeping
// for pending exports in parallel.
func (w *ExportWorker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if w.queue != nil {
		g.Go(func() error {
			err := w.queue.ConsumeExports(ctx, func(msg *amqp.ExportMessage) error {
				return w.HandleExportMessage(ctx, msg)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	} else {
		slog.InfoContext(ctx, "No AMQP client configured, relying on periodic sweep only")
	}

	g.Go(func() error {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := w.ProcessPending(ctx); err != nil {
					slog.ErrorContext(ctx, "Periodic export sweep failed", "error", err)
				}
			}
		}
	})

	return g.Wait()
}

// HandleExportMessage processes one queued export. Messages for transactions
// that no longer exist are dropped, not requeued.
func (w *ExportWorker) HandleExportMessage(ctx context.Context, msg *amqp.ExportMessage) error {
	slog.InfoContext(ctx, "Processing export message", "id", msg.ID, "user_id", msg.UserID)

	tx, err := w.repo.Transactions().Get(ctx, msg.ID)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			slog.WarnContext(ctx, "Transaction gone, dropping export message", "id", msg.ID)
			return nil
		}
		return fmt.Errorf("get transaction from storage: %w", err)
	}
	if tx.UserID != msg.UserID {
		slog.WarnContext(ctx, "Export message user mismatch, dropping",
			"id", msg.ID, "message_user", msg.UserID, "stored_user", tx.UserID)
		return nil
	}

	return w.exportOne(ctx, tx.ID)
}

// ProcessPending exports transactions whose queue message was never
// delivered. Backup mechanism in case AMQP messages are lost.
func (w *ExportWorker) ProcessPending(ctx context.Context) error {
	pending, err := w.repo.GetPendingExports(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("get pending exports: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending exports", "count", len(pending))
	for _, p := range pending {
		if err := w.exportOne(ctx, p.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to export pending transaction", "id", p.ID, "error", err)
		}
	}
	return nil
}

// StartupCheck sweeps a larger batch once, recovering from worker downtime.
func (w *ExportWorker) StartupCheck(ctx context.Context) error {
	pending, err := w.repo.GetPendingExports(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("get pending exports for startup check: %w", err)
	}
	if len(pending) == 0 {
		slog.InfoContext(ctx, "No pending exports found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found pending exports on startup", "count", len(pending))
	exported := 0
	failed := 0
	for _, p := range pending {
		if err := w.exportOne(ctx, p.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to export during startup", "id", p.ID, "error", err)
			failed++
			continue
		}
		exported++
	}

	slog.InfoContext(ctx, "Startup export check completed",
		"total", len(pending),
		"exported", exported,
		"errors", failed)
	return nil
}

func (w *ExportWorker) exportOne(ctx context.Context, id string) error {
	tx, err := w.repo.Transactions().Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get transaction: %w", err)
	}

	ref, err := w.appender.Append(ctx, tx)
	if err != nil {
		if markErr := w.repo.MarkExportError(ctx, id); markErr != nil {
			slog.ErrorContext(ctx, "Failed to mark export error", "id", id, "error", markErr)
		}
		return fmt.Errorf("append to export destination: %w", err)
	}

	if err := w.repo.MarkExported(ctx, id); err != nil {
		// The export itself succeeded, keep going.
		slog.ErrorContext(ctx, "Failed to mark as exported", "id", id, "error", err)
	}

	slog.InfoContext(ctx, "Transaction exported",
		"id", id,
		"export_ref", ref,
		"amount_cents", tx.Amount.Cents)
	return nil
}
