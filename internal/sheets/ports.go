package sheets

import (
	"context"

	"dompet/internal/core"
)

// Ports for outbound adapters.
type (
	// TransactionMirror keeps one spreadsheet row per transaction id.
	//
	//go:generate mockgen -destination=mocks/mock_mirror.go -package=mock_sheets -source=ports.go TransactionMirror
	TransactionMirror interface {
		// Upsert writes tx to its existing row or appends a new one.
		Upsert(ctx context.Context, tx core.Transaction) (rowRef string, err error)
		// Remove clears the row of id. Removing an unknown id is not an error.
		Remove(ctx context.Context, id string) error
	}
)
