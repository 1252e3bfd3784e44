package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrNotFound              = errors.New("not found")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrConflict              = errors.New("concurrent modification")
	ErrStorage               = errors.New("storage failure")
	ErrPartialReconciliation = errors.New("partial reconciliation")
)

var (
	ErrInvalidAmount   = fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	ErrMissingCategory = fmt.Errorf("%w: expense requires a category", ErrInvalidInput)
	ErrUnknownCategory = fmt.Errorf("%w: unknown expense category", ErrInvalidInput)
	ErrMissingWallet   = fmt.Errorf("%w: wallet reference is required", ErrInvalidInput)
	ErrMissingOwner    = fmt.Errorf("%w: owner is required", ErrInvalidInput)
	ErrMissingDate     = fmt.Errorf("%w: date is required", ErrInvalidInput)
	ErrInvalidKind     = fmt.Errorf("%w: type must be income or expense", ErrInvalidInput)
	ErrEmptyWalletName = fmt.Errorf("%w: wallet name is required", ErrInvalidInput)

	ErrWalletNotFound      = fmt.Errorf("wallet %w", ErrNotFound)
	ErrTransactionNotFound = fmt.Errorf("transaction %w", ErrNotFound)
)

// InsufficientBalanceError names the wallet that cannot cover an expense.
type InsufficientBalanceError struct {
	WalletID  string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("wallet %s has insufficient balance: available %s, requested %s",
		e.WalletID, e.Available.String(), e.Requested.String())
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// PartialReconciliationError reports that at least one leg of a reconciliation
// is durable while a later one is not. The pending legs stay in the ledger
// under GroupID and can be replayed.
type PartialReconciliationError struct {
	GroupID           string
	TransactionID     string
	CommittedWalletID string
	PendingWalletID   string
	Err               error
}

func (e *PartialReconciliationError) Error() string {
	msg := fmt.Sprintf("partial reconciliation of transaction %s (group %s): wallet %s committed",
		e.TransactionID, e.GroupID, e.CommittedWalletID)
	if e.PendingWalletID != "" {
		msg += fmt.Sprintf(", wallet %s pending", e.PendingWalletID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PartialReconciliationError) Unwrap() []error {
	return []error{ErrPartialReconciliation, e.Err}
}

// StorageError wraps a failed read or write of the underlying store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

// StorageFailure wraps err as a StorageError unless it already carries a
// domain classification.
func StorageFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrStorage) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &StorageError{Op: op, Err: err}
}

// IsRetryable reports whether the caller may retry the same request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrStorage) ||
		errors.Is(err, ErrPartialReconciliation)
}
