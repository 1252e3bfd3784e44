package storage

import (
	"context"

	"dompet/internal/core"
)

// Ports implemented by the SQLite repository and the in-memory store.
type (
	WalletStore interface {
		GetWallet(ctx context.Context, id string) (core.Wallet, error)
		ListWallets(ctx context.Context, ownerID string) ([]core.Wallet, error)
		CreateWallet(ctx context.Context, w core.Wallet) (core.Wallet, error)
		// UpdateWalletProfile changes name and image only; balances are untouched.
		UpdateWalletProfile(ctx context.Context, w core.Wallet) (core.Wallet, error)
		// DeleteWallet removes the wallet and every transaction referencing it.
		DeleteWallet(ctx context.Context, id string) error
		// CommitDelta writes balance and totals of w if the stored version still
		// equals w.Version, and marks the given ledger entries applied in the
		// same atomic write. It returns the wallet with its new version, or
		// core.ErrConflict when the version moved.
		CommitDelta(ctx context.Context, w core.Wallet, entryIDs ...string) (core.Wallet, error)
	}

	TransactionStore interface {
		GetTransaction(ctx context.Context, id string) (core.Transaction, error)
		// SaveTransaction inserts or replaces the record, marking the given
		// ledger entries applied in the same atomic write.
		SaveTransaction(ctx context.Context, t core.Transaction, entryIDs ...string) error
		// DeleteTransaction removes the record, marking the given ledger entries
		// applied in the same atomic write. Deleting a missing record is not an error.
		DeleteTransaction(ctx context.Context, id string, entryIDs ...string) error
		QueryTransactions(ctx context.Context, q core.TransactionQuery) ([]core.Transaction, error)
		// EarliestTransaction returns the date of the owner's oldest transaction
		// and false when the owner has none.
		EarliestTransaction(ctx context.Context, ownerID string) (earliest core.Transaction, ok bool, err error)
	}

	Ledger interface {
		// AppendEntries records a reconciliation plan as pending entries.
		AppendEntries(ctx context.Context, entries []core.LedgerEntry) error
		// AbandonGroup marks every pending entry of the group abandoned.
		AbandonGroup(ctx context.Context, groupID string) error
		// PendingEntries returns pending entries of groups with at least one
		// applied entry, ordered by group then sequence. limit <= 0 means no limit.
		PendingEntries(ctx context.Context, limit int) ([]core.LedgerEntry, error)
		// PendingForTransaction is PendingEntries narrowed to one transaction.
		PendingForTransaction(ctx context.Context, transactionID string) ([]core.LedgerEntry, error)
		// GroupEntries returns all entries of a group in sequence order.
		GroupEntries(ctx context.Context, groupID string) ([]core.LedgerEntry, error)
	}

	// Store bundles every port a backend provides.
	Store interface {
		WalletStore
		TransactionStore
		Ledger
		Ping(ctx context.Context) error
		Close() error
	}
)
