package reconcile

import (
	"encoding/json"
	"fmt"
	"time"

	"dompet/internal/core"

	"github.com/shopspring/decimal"
)

// State is a stage of one reconciliation run. Validated is the last stage
// from which a failure leaves every wallet untouched.
type State int

const (
	StateComputing State = iota
	StateValidated
	StateCommittingOld
	StateCommittingNew
	StateRecording
	StateDone
)

func (s State) String() string {
	switch s {
	case StateComputing:
		return "computing"
	case StateValidated:
		return "validated"
	case StateCommittingOld:
		return "committing_old"
	case StateCommittingNew:
		return "committing_new"
	case StateRecording:
		return "recording"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// unit is one atomic store write. Wallet units may carry several entries for
// the same wallet; record units carry exactly one.
type unit struct {
	state    State
	walletID string
	entries  []core.LedgerEntry

	// snapshot is the wallet read while computing; only the first unit commits
	// against it, later ones re-read the latest state.
	snapshot    core.Wallet
	hasSnapshot bool
}

func (u unit) touchesWallet() bool {
	return len(u.entries) > 0 && u.entries[0].Touches()
}

func (u unit) entryIDs() []string {
	ids := make([]string, len(u.entries))
	for i, e := range u.entries {
		ids[i] = e.ID
	}
	return ids
}

type plan struct {
	op            string
	groupID       string
	transactionID string
	units         []unit
	record        core.Transaction
}

func (p *plan) entries() []core.LedgerEntry {
	var out []core.LedgerEntry
	for _, u := range p.units {
		out = append(out, u.entries...)
	}
	return out
}

// builder numbers entries within a group.
type builder struct {
	p   *plan
	seq int
	now time.Time
}

func newBuilder(op, groupID, transactionID string, now time.Time) *builder {
	return &builder{
		p:   &plan{op: op, groupID: groupID, transactionID: transactionID},
		now: now,
	}
}

func (b *builder) entry(step core.Step, walletID string, kind core.Kind, amount decimal.Decimal) core.LedgerEntry {
	e := core.LedgerEntry{
		ID:            fmt.Sprintf("%s-%d", b.p.groupID, b.seq),
		GroupID:       b.p.groupID,
		Seq:           b.seq,
		Step:          step,
		WalletID:      walletID,
		TransactionID: b.p.transactionID,
		Kind:          kind,
		Amount:        amount,
		Status:        core.EntryPending,
		CreatedAt:     b.now,
	}
	b.seq++
	return e
}

// wallet adds a wallet unit applying the given legs in order.
func (b *builder) wallet(state State, snapshot *core.Wallet, walletID string, legs ...leg) {
	u := unit{state: state, walletID: walletID}
	if snapshot != nil {
		u.snapshot = *snapshot
		u.hasSnapshot = true
	}
	for _, l := range legs {
		u.entries = append(u.entries, b.entry(l.step, walletID, l.kind, l.amount))
	}
	b.p.units = append(b.p.units, u)
}

func (b *builder) save(tx core.Transaction) error {
	payload, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("encode transaction %s: %w", tx.ID, err)
	}
	e := b.entry(core.StepSave, tx.WalletID, 0, decimal.Zero)
	e.Payload = payload
	b.p.units = append(b.p.units, unit{state: StateRecording, walletID: tx.WalletID, entries: []core.LedgerEntry{e}})
	b.p.record = tx
	return nil
}

func (b *builder) remove(tx core.Transaction) {
	e := b.entry(core.StepRemove, tx.WalletID, 0, decimal.Zero)
	b.p.units = append(b.p.units, unit{state: StateRecording, walletID: tx.WalletID, entries: []core.LedgerEntry{e}})
}

type leg struct {
	step   core.Step
	kind   core.Kind
	amount decimal.Decimal
}

func apply(kind core.Kind, amount decimal.Decimal) leg {
	return leg{step: core.StepApply, kind: kind, amount: amount}
}

func revert(kind core.Kind, amount decimal.Decimal) leg {
	return leg{step: core.StepRevert, kind: kind, amount: amount}
}

// groupUnits rebuilds commit units from pending ledger entries ordered by
// sequence. Consecutive wallet legs on the same wallet form one unit.
func groupUnits(entries []core.LedgerEntry) []unit {
	var units []unit
	for _, e := range entries {
		if n := len(units); n > 0 && e.Touches() && units[n-1].touchesWallet() && units[n-1].walletID == e.WalletID {
			units[n-1].entries = append(units[n-1].entries, e)
			continue
		}
		state := StateRecording
		if e.Touches() {
			state = StateCommittingNew
		}
		units = append(units, unit{state: state, walletID: e.WalletID, entries: []core.LedgerEntry{e}})
	}
	return units
}
