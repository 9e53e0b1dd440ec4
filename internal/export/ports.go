// Package export defines the outbound ports for the transaction export
// pipeline.
package export

import (
	"context"

	"finanzas/internal/core"
)

// Appender writes one transaction to the export destination and returns a
// destination-specific row reference.
type Appender interface {
	Append(ctx context.Context, tx core.Transaction) (rowRef string, err error)
}
