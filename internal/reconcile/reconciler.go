// Package reconcile keeps wallet balances consistent with the transaction log.
//
// Every operation runs as a plan: the wallet deltas and record writes are
// computed and validated in memory, appended to the ledger as pending
// entries, then committed one atomic store write at a time. A failure before
// the first write leaves nothing applied. A failure after it is reported as a
// core.PartialReconciliationError and the pending entries can be replayed
// with Resume.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"dompet/internal/core"
	"dompet/internal/log"
	"dompet/internal/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	opApply  = "apply"
	opCreate = "create"
	opRevise = "revise"
	opEdit   = "edit"
	opDelete = "delete"
)

type Reconciler struct {
	wallets    storage.WalletStore
	records    storage.TransactionStore
	ledger     storage.Ledger
	logger     *log.Logger
	structured *log.StructuredLogger
	now        func() time.Time
	newID      func() string
}

type Option func(*Reconciler)

// WithClock overrides the time source used for ledger and record timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithIDGenerator overrides uuid generation for transactions and ledger groups.
func WithIDGenerator(newID func() string) Option {
	return func(r *Reconciler) { r.newID = newID }
}

func WithLogger(l *log.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

func New(wallets storage.WalletStore, records storage.TransactionStore, ledger storage.Ledger, opts ...Option) *Reconciler {
	r := &Reconciler{
		wallets: wallets,
		records: records,
		ledger:  ledger,
		logger:  log.Default(log.ComponentReconcile),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.structured = log.NewStructuredLogger(r.logger)
	return r
}

// NewFromStore wires a reconciler over a single backend.
func NewFromStore(s storage.Store, opts ...Option) *Reconciler {
	return New(s, s, s, opts...)
}

// Result describes a completed reconciliation.
type Result struct {
	GroupID     string
	Transaction core.Transaction
	// Wallets holds the committed state of every wallet touched, in commit order.
	Wallets []core.Wallet
	// Skipped is true when no wallet needed to change.
	Skipped bool
}

// Wallet returns the committed state of id, if the run touched it.
func (r Result) Wallet(id string) (core.Wallet, bool) {
	for i := len(r.Wallets) - 1; i >= 0; i-- {
		if r.Wallets[i].ID == id {
			return r.Wallets[i], true
		}
	}
	return core.Wallet{}, false
}

// ApplyNewTransaction adds amount of kind to the wallet. Expenses that would
// leave a negative balance fail with an InsufficientBalanceError and change nothing.
func (r *Reconciler) ApplyNewTransaction(ctx context.Context, walletID string, amount decimal.Decimal, kind core.Kind) (core.Wallet, error) {
	if err := validateEffect(walletID, amount, kind); err != nil {
		return core.Wallet{}, err
	}

	w, err := r.wallets.GetWallet(ctx, walletID)
	if err != nil {
		return core.Wallet{}, core.StorageFailure("get wallet", err)
	}
	if err := checkSpend(w, kind, amount); err != nil {
		return core.Wallet{}, err
	}

	b := newBuilder(opApply, r.newID(), "", r.now())
	b.wallet(StateCommittingNew, &w, w.ID, apply(kind, amount))

	res, err := r.execute(ctx, b.p)
	if err != nil {
		return core.Wallet{}, err
	}
	committed, _ := res.Wallet(walletID)
	return committed, nil
}

// ReviseTransaction moves the wallet effect of old to (newAmount, newKind,
// newWalletID). The sufficiency check runs against the reverted balance when
// the wallet is unchanged, or against the destination's current balance
// otherwise, before anything is written. The transaction record itself is
// not touched; see Write for the full edit.
func (r *Reconciler) ReviseTransaction(ctx context.Context, old core.Transaction, newAmount decimal.Decimal, newKind core.Kind, newWalletID string) (Result, error) {
	if err := validateEffect(old.WalletID, old.Amount, old.Kind); err != nil {
		return Result{}, fmt.Errorf("stored transaction %s: %w", old.ID, err)
	}
	if err := validateEffect(newWalletID, newAmount, newKind); err != nil {
		return Result{}, err
	}
	next := old
	next.Amount, next.Kind, next.WalletID = newAmount, newKind, newWalletID
	if err := r.settleSnapshot(ctx, old.ID); err != nil {
		return Result{}, err
	}
	if old.SameEffect(next) {
		return Result{Transaction: old, Skipped: true}, nil
	}

	b := newBuilder(opRevise, r.newID(), old.ID, r.now())
	if err := r.planRevise(ctx, b, old, next); err != nil {
		return Result{}, err
	}
	res, err := r.execute(ctx, b.p)
	res.Transaction = old
	return res, err
}

// RevertOnDelete undoes the wallet effect of tx and removes its record.
// No sufficiency check applies: deleting an income may leave a negative balance.
func (r *Reconciler) RevertOnDelete(ctx context.Context, tx core.Transaction) (Result, error) {
	if err := r.settleSnapshot(ctx, tx.ID); err != nil {
		return Result{}, err
	}
	return r.revertOnDelete(ctx, tx)
}

func (r *Reconciler) revertOnDelete(ctx context.Context, tx core.Transaction) (Result, error) {
	if err := validateEffect(tx.WalletID, tx.Amount, tx.Kind); err != nil {
		return Result{}, fmt.Errorf("stored transaction %s: %w", tx.ID, err)
	}

	w, err := r.wallets.GetWallet(ctx, tx.WalletID)
	if err != nil {
		return Result{}, core.StorageFailure("get wallet", err)
	}

	b := newBuilder(opDelete, r.newID(), tx.ID, r.now())
	b.wallet(StateCommittingOld, &w, w.ID, revert(tx.Kind, tx.Amount))
	b.remove(tx)

	res, err := r.execute(ctx, b.p)
	res.Transaction = tx
	return res, err
}

// Write creates tx when its ID is empty and otherwise edits the stored
// record with that ID, reconciling wallets first.
func (r *Reconciler) Write(ctx context.Context, tx core.Transaction) (Result, error) {
	if err := tx.Validate(); err != nil {
		return Result{}, err
	}
	if tx.ID == "" {
		return r.create(ctx, tx)
	}
	return r.edit(ctx, tx)
}

func (r *Reconciler) create(ctx context.Context, tx core.Transaction) (Result, error) {
	tx.ID = r.newID()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = r.now()
	}

	w, err := r.wallets.GetWallet(ctx, tx.WalletID)
	if err != nil {
		return Result{}, core.StorageFailure("get wallet", err)
	}
	if err := checkSpend(w, tx.Kind, tx.Amount); err != nil {
		return Result{}, err
	}

	b := newBuilder(opCreate, r.newID(), tx.ID, r.now())
	b.wallet(StateCommittingNew, &w, w.ID, apply(tx.Kind, tx.Amount))
	if err := b.save(tx); err != nil {
		return Result{}, err
	}

	res, err := r.execute(ctx, b.p)
	res.Transaction = tx
	return res, err
}

func (r *Reconciler) edit(ctx context.Context, tx core.Transaction) (Result, error) {
	if _, err := r.settle(ctx, tx.ID); err != nil {
		return Result{}, err
	}
	old, err := r.records.GetTransaction(ctx, tx.ID)
	if err != nil {
		return Result{}, core.StorageFailure("get transaction", err)
	}
	tx.CreatedAt = old.CreatedAt

	b := newBuilder(opEdit, r.newID(), tx.ID, r.now())
	skipped := old.SameEffect(tx)
	if !skipped {
		if err := validateEffect(old.WalletID, old.Amount, old.Kind); err != nil {
			return Result{}, fmt.Errorf("stored transaction %s: %w", old.ID, err)
		}
		if err := r.planRevise(ctx, b, old, tx); err != nil {
			return Result{}, err
		}
	}
	if err := b.save(tx); err != nil {
		return Result{}, err
	}

	res, err := r.execute(ctx, b.p)
	res.Transaction = tx
	res.Skipped = skipped
	return res, err
}

// Delete loads the stored transaction and runs RevertOnDelete.
// Unfinished groups of the transaction are replayed first, so the record
// read afterwards reflects every committed wallet leg.
func (r *Reconciler) Delete(ctx context.Context, id string) (Result, error) {
	replayed, err := r.settle(ctx, id)
	if err != nil {
		return Result{}, err
	}
	tx, err := r.records.GetTransaction(ctx, id)
	if replayed && errors.Is(err, core.ErrTransactionNotFound) {
		// The replayed group was an earlier delete of this transaction.
		return Result{Transaction: core.Transaction{ID: id}, Skipped: true}, nil
	}
	if err != nil {
		return Result{}, core.StorageFailure("get transaction", err)
	}
	return r.revertOnDelete(ctx, tx)
}

// Settle finishes the unfinished reconciliations of transactionID, if any.
// Callers that read a record before changing it settle first.
func (r *Reconciler) Settle(ctx context.Context, transactionID string) error {
	_, err := r.settle(ctx, transactionID)
	return err
}

// settle replays the partially applied groups of transactionID so a new plan
// never starts from a record that a committed leg has already moved away
// from. A group that cannot be finished blocks the transaction with a
// retryable conflict naming it. settle reports whether anything was replayed.
func (r *Reconciler) settle(ctx context.Context, transactionID string) (bool, error) {
	if transactionID == "" {
		return false, nil
	}
	pending, err := r.ledger.PendingForTransaction(ctx, transactionID)
	if err != nil {
		return false, fmt.Errorf("check unfinished reconciliations: %w", err)
	}

	replayed := false
	seen := map[string]bool{}
	for _, e := range pending {
		if seen[e.GroupID] {
			continue
		}
		seen[e.GroupID] = true

		n, err := r.Resume(ctx, e.GroupID)
		if err != nil {
			r.logger.WarnContext(ctx, "Unfinished reconciliation blocks transaction",
				log.FieldGroupID, e.GroupID,
				log.FieldTransactionID, transactionID,
				log.FieldError, err)
			return replayed, fmt.Errorf("%w: transaction %s waits on unfinished group %s: %v",
				core.ErrConflict, transactionID, e.GroupID, err)
		}
		replayed = replayed || n > 0
	}
	return replayed, nil
}

// settleSnapshot is settle for callers holding their own copy of the record:
// once a replay moved the record, that copy is stale and must be reloaded.
func (r *Reconciler) settleSnapshot(ctx context.Context, transactionID string) error {
	replayed, err := r.settle(ctx, transactionID)
	if err != nil {
		return err
	}
	if replayed {
		return fmt.Errorf("%w: transaction %s changed by a replayed reconciliation, reload it",
			core.ErrConflict, transactionID)
	}
	return nil
}

// planRevise computes and validates the revert of old and the application of
// next. Nothing is written.
func (r *Reconciler) planRevise(ctx context.Context, b *builder, old, next core.Transaction) error {
	oldW, err := r.wallets.GetWallet(ctx, old.WalletID)
	if err != nil {
		return core.StorageFailure("get wallet", err)
	}
	reverted := oldW.Reverted(old.Kind, old.Amount)

	if old.WalletID == next.WalletID {
		if err := checkSpend(reverted, next.Kind, next.Amount); err != nil {
			return err
		}
		b.wallet(StateCommittingOld, &oldW, oldW.ID,
			revert(old.Kind, old.Amount),
			apply(next.Kind, next.Amount))
		return nil
	}

	newW, err := r.wallets.GetWallet(ctx, next.WalletID)
	if err != nil {
		return core.StorageFailure("get wallet", err)
	}
	if err := checkSpend(newW, next.Kind, next.Amount); err != nil {
		return err
	}
	b.wallet(StateCommittingOld, &oldW, oldW.ID, revert(old.Kind, old.Amount))
	b.wallet(StateCommittingNew, nil, newW.ID, apply(next.Kind, next.Amount))
	return nil
}

// execute records the plan in the ledger and commits its units in order.
func (r *Reconciler) execute(ctx context.Context, p *plan) (Result, error) {
	res := Result{GroupID: p.groupID}
	logger := r.logger.With(log.FieldGroupID, p.groupID, log.FieldOperation, p.op)
	logger.DebugContext(ctx, "Reconciliation validated", "state", StateValidated.String(), "units", len(p.units))

	if err := r.ledger.AppendEntries(ctx, p.entries()); err != nil {
		return Result{}, fmt.Errorf("record reconciliation plan: %w", err)
	}

	for i, u := range p.units {
		committed, err := r.commit(ctx, u)
		if err != nil {
			if i == 0 {
				r.abandon(context.WithoutCancel(ctx), p.groupID)
				return Result{}, err
			}
			perr := &core.PartialReconciliationError{
				GroupID:           p.groupID,
				TransactionID:     p.transactionID,
				CommittedWalletID: p.units[0].walletID,
				Err:               err,
			}
			if u.touchesWallet() {
				perr.PendingWalletID = u.walletID
			}
			r.structured.LogError(ctx, "Partial reconciliation", err, log.ComponentReconcile, p.op, log.LogFields{
				log.FieldGroupID:       p.groupID,
				log.FieldTransactionID: p.transactionID,
				log.FieldWalletID:      u.walletID,
				"state":                u.state.String(),
			}.WithErrorType(ErrorType(err)))
			return res, perr
		}
		if u.touchesWallet() {
			res.Wallets = append(res.Wallets, committed)
		}
		logger.DebugContext(ctx, "Reconciliation unit committed", "state", u.state.String(), log.FieldWalletID, u.walletID)

		// The first durable write must not be stranded by the caller going away.
		if i == 0 {
			ctx = context.WithoutCancel(ctx)
		}
	}

	logger.DebugContext(ctx, "Reconciliation finished", "state", StateDone.String())
	return res, nil
}

func (r *Reconciler) abandon(ctx context.Context, groupID string) {
	if err := r.ledger.AbandonGroup(ctx, groupID); err != nil {
		r.logger.WarnContext(ctx, "Failed to abandon ledger group", log.FieldGroupID, groupID, log.FieldError, err)
	}
}

// commit performs one atomic write and marks its entries applied.
func (r *Reconciler) commit(ctx context.Context, u unit) (core.Wallet, error) {
	if err := ctx.Err(); err != nil {
		return core.Wallet{}, err
	}
	if !u.touchesWallet() {
		return core.Wallet{}, r.commitRecord(ctx, u.entries[0])
	}

	w := u.snapshot
	if !u.hasSnapshot {
		var err error
		if w, err = r.wallets.GetWallet(ctx, u.walletID); err != nil {
			return core.Wallet{}, core.StorageFailure("get wallet", err)
		}
	}

	next := w
	for _, e := range u.entries {
		if e.Step == core.StepApply {
			if err := checkSpend(next, e.Kind, e.Amount); err != nil {
				return core.Wallet{}, err
			}
		}
		var err error
		if next, err = e.ApplyTo(next); err != nil {
			return core.Wallet{}, err
		}
	}

	committed, err := r.wallets.CommitDelta(ctx, next, u.entryIDs()...)
	if err != nil {
		return core.Wallet{}, core.StorageFailure("commit wallet "+u.walletID, err)
	}
	return committed, nil
}

func (r *Reconciler) commitRecord(ctx context.Context, e core.LedgerEntry) error {
	switch e.Step {
	case core.StepSave:
		var tx core.Transaction
		if err := json.Unmarshal(e.Payload, &tx); err != nil {
			return fmt.Errorf("decode ledger entry %s: %w", e.ID, err)
		}
		return core.StorageFailure("save transaction", r.records.SaveTransaction(ctx, tx, e.ID))
	case core.StepRemove:
		return core.StorageFailure("delete transaction", r.records.DeleteTransaction(ctx, e.TransactionID, e.ID))
	default:
		return fmt.Errorf("ledger entry %s: unexpected step %q", e.ID, e.Step)
	}
}

// ResumeReport summarizes a ResumePending sweep.
type ResumeReport struct {
	Groups  int // groups fully replayed by this sweep
	Entries int // entries applied
	// Transactions lists the records whose groups were replayed, once each.
	Transactions []string
	Failed       []string
}

// Resume replays the pending entries of a group that already has an applied
// entry. Groups with nothing applied are left alone and report zero.
func (r *Reconciler) Resume(ctx context.Context, groupID string) (int, error) {
	entries, err := r.ledger.GroupEntries(ctx, groupID)
	if err != nil {
		return 0, err
	}

	var (
		pending []core.LedgerEntry
		started bool
	)
	for _, e := range entries {
		switch e.Status {
		case core.EntryPending:
			pending = append(pending, e)
		case core.EntryApplied:
			started = true
		}
	}
	if !started || len(pending) == 0 {
		return 0, nil
	}

	applied := 0
	for _, u := range groupUnits(pending) {
		if _, err := r.commit(ctx, u); err != nil {
			return applied, fmt.Errorf("resume group %s: %w", groupID, err)
		}
		applied += len(u.entries)
	}

	r.logger.InfoContext(ctx, "Reconciliation resumed",
		log.FieldGroupID, groupID,
		log.FieldTransactionID, pending[0].TransactionID,
		"entries", applied)
	return applied, nil
}

// ResumePending sweeps partially applied groups older than grace, oldest
// first. limit bounds the number of pending entries inspected.
func (r *Reconciler) ResumePending(ctx context.Context, grace time.Duration, limit int) (ResumeReport, error) {
	entries, err := r.ledger.PendingEntries(ctx, limit)
	if err != nil {
		return ResumeReport{}, err
	}

	cutoff := r.now().Add(-grace)
	var (
		report ResumeReport
		errs   []error
		seen   = map[string]bool{}
		txSeen = map[string]bool{}
	)
	for _, e := range entries {
		if seen[e.GroupID] || e.CreatedAt.After(cutoff) {
			continue
		}
		seen[e.GroupID] = true

		n, err := r.Resume(ctx, e.GroupID)
		report.Entries += n
		if err != nil {
			report.Failed = append(report.Failed, e.GroupID)
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		// Zero means another replayer finished the group first.
		if n > 0 {
			report.Groups++
			if e.TransactionID != "" && !txSeen[e.TransactionID] {
				txSeen[e.TransactionID] = true
				report.Transactions = append(report.Transactions, e.TransactionID)
			}
		}
	}
	return report, errors.Join(errs...)
}

// ErrorType buckets err into one of the log error types.
func ErrorType(err error) string {
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		return log.ErrorTypeValidation
	case errors.Is(err, core.ErrNotFound):
		return log.ErrorTypeNotFound
	case errors.Is(err, core.ErrConflict), errors.Is(err, core.ErrInsufficientBalance):
		return log.ErrorTypeConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return log.ErrorTypeTimeout
	case errors.Is(err, core.ErrStorage):
		return log.ErrorTypeDatabase
	default:
		return log.ErrorTypeInternal
	}
}

func validateEffect(walletID string, amount decimal.Decimal, kind core.Kind) error {
	if strings.TrimSpace(walletID) == "" {
		return core.ErrMissingWallet
	}
	if !kind.Valid() {
		return core.ErrInvalidKind
	}
	return core.ValidateAmount(amount)
}

func checkSpend(w core.Wallet, kind core.Kind, amount decimal.Decimal) error {
	if kind == core.Expense && !w.CanSpend(amount) {
		return &core.InsufficientBalanceError{WalletID: w.ID, Available: w.Balance, Requested: amount}
	}
	return nil
}
