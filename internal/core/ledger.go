package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Step is one kind of leg in a reconciliation group.
type Step string

const (
	StepRevert Step = "revert" // undo a transaction's effect on a wallet
	StepApply  Step = "apply"  // add a transaction's effect to a wallet
	StepSave   Step = "save"   // persist the transaction record
	StepRemove Step = "remove" // delete the transaction record
)

// EntryStatus tracks a ledger entry through its lifecycle.
type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"
	EntryApplied   EntryStatus = "applied"
	EntryAbandoned EntryStatus = "abandoned"
)

// LedgerEntry records one intended leg of a reconciliation. Entries of the
// same GroupID are executed in Seq order; a pending entry whose group has an
// applied sibling marks a partially reconciled operation.
type LedgerEntry struct {
	ID            string
	GroupID       string
	Seq           int
	Step          Step
	WalletID      string
	TransactionID string
	Kind          Kind
	Amount        decimal.Decimal
	Status        EntryStatus
	Payload       []byte // JSON transaction snapshot for StepSave
	CreatedAt     time.Time
	AppliedAt     time.Time
}

// Touches reports whether the entry changes a wallet.
func (e LedgerEntry) Touches() bool {
	return e.Step == StepRevert || e.Step == StepApply
}

// ApplyTo returns w with the entry's wallet effect applied.
func (e LedgerEntry) ApplyTo(w Wallet) (Wallet, error) {
	switch e.Step {
	case StepApply:
		return w.Applied(e.Kind, e.Amount), nil
	case StepRevert:
		return w.Reverted(e.Kind, e.Amount), nil
	default:
		return w, fmt.Errorf("ledger entry %s: step %q does not touch a wallet", e.ID, e.Step)
	}
}
