package reconcile

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"dompet/internal/core"
	"dompet/internal/log"
	"dompet/internal/storage"
	"dompet/internal/storage/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// faultyStore injects failures and hooks around wallet and record writes.
type faultyStore struct {
	storage.Store
	failCommit   map[string]error
	failSave     error
	failDelete   error
	beforeCommit func(w core.Wallet)
	afterCommit  func(w core.Wallet)
	afterPending func()
}

func (f *faultyStore) CommitDelta(ctx context.Context, w core.Wallet, ids ...string) (core.Wallet, error) {
	if f.beforeCommit != nil {
		f.beforeCommit(w)
	}
	if err := f.failCommit[w.ID]; err != nil {
		return core.Wallet{}, err
	}
	c, err := f.Store.CommitDelta(ctx, w, ids...)
	if err == nil && f.afterCommit != nil {
		f.afterCommit(c)
	}
	return c, err
}

func (f *faultyStore) SaveTransaction(ctx context.Context, t core.Transaction, ids ...string) error {
	if f.failSave != nil {
		return f.failSave
	}
	return f.Store.SaveTransaction(ctx, t, ids...)
}

func (f *faultyStore) DeleteTransaction(ctx context.Context, id string, ids ...string) error {
	if f.failDelete != nil {
		return f.failDelete
	}
	return f.Store.DeleteTransaction(ctx, id, ids...)
}

func (f *faultyStore) PendingEntries(ctx context.Context, limit int) ([]core.LedgerEntry, error) {
	entries, err := f.Store.PendingEntries(ctx, limit)
	if err == nil && f.afterPending != nil {
		f.afterPending()
	}
	return entries, err
}

type fixture struct {
	store *faultyStore
	rec   *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := &faultyStore{Store: memory.New(), failCommit: map[string]error{}}
	return &fixture{
		store: fs,
		rec: NewFromStore(fs,
			WithClock(func() time.Time { return fixedNow }),
			WithLogger(log.Discard(log.ComponentReconcile))),
	}
}

// wallet seeds a wallet whose opening balance is not backed by transactions.
func (f *fixture) wallet(t *testing.T, id, opening string) {
	t.Helper()
	w := core.NewWallet(id, "alice", "Wallet "+id, "", fixedNow)
	w.Balance = amt(opening)
	_, err := f.store.CreateWallet(context.Background(), w)
	require.NoError(t, err)
}

func (f *fixture) get(t *testing.T, id string) core.Wallet {
	t.Helper()
	w, err := f.store.GetWallet(context.Background(), id)
	require.NoError(t, err)
	return w
}

func (f *fixture) write(t *testing.T, tx core.Transaction) core.Transaction {
	t.Helper()
	res, err := f.rec.Write(context.Background(), tx)
	require.NoError(t, err)
	return res.Transaction
}

func newTx(walletID string, kind core.Kind, amount string) core.Transaction {
	tx := core.Transaction{
		OwnerID:  "alice",
		WalletID: walletID,
		Kind:     kind,
		Amount:   amt(amount),
		Date:     fixedNow.Add(-time.Hour),
	}
	if kind == core.Expense {
		tx.Category = "groceries"
	}
	return tx
}

func assertWallet(t *testing.T, w core.Wallet, balance, income, expenses string) {
	t.Helper()
	assert.True(t, w.Balance.Equal(amt(balance)), "balance: want %s got %s", balance, w.Balance)
	assert.True(t, w.TotalIncome.Equal(amt(income)), "income: want %s got %s", income, w.TotalIncome)
	assert.True(t, w.TotalExpenses.Equal(amt(expenses)), "expenses: want %s got %s", expenses, w.TotalExpenses)
}

func TestApplyNewTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("income and exact-balance expense", func(t *testing.T) {
		f := newFixture(t)
		f.wallet(t, "w1", "0")

		w, err := f.rec.ApplyNewTransaction(ctx, "w1", amt("100"), core.Income)
		require.NoError(t, err)
		assertWallet(t, w, "100", "100", "0")

		w, err = f.rec.ApplyNewTransaction(ctx, "w1", amt("100"), core.Expense)
		require.NoError(t, err)
		assertWallet(t, w, "0", "100", "100")
		assert.Equal(t, int64(2), w.Version)
	})

	t.Run("overspend leaves wallet untouched", func(t *testing.T) {
		f := newFixture(t)
		f.wallet(t, "w1", "50")

		_, err := f.rec.ApplyNewTransaction(ctx, "w1", amt("50.01"), core.Expense)
		var ib *core.InsufficientBalanceError
		require.ErrorAs(t, err, &ib)
		assert.Equal(t, "w1", ib.WalletID)
		assert.Contains(t, err.Error(), "w1")

		w := f.get(t, "w1")
		assertWallet(t, w, "50", "0", "0")
		assert.Equal(t, int64(0), w.Version)
	})

	t.Run("input errors before store access", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.rec.ApplyNewTransaction(ctx, "w1", decimal.Zero, core.Income)
		assert.ErrorIs(t, err, core.ErrInvalidAmount)
		_, err = f.rec.ApplyNewTransaction(ctx, "", amt("1"), core.Income)
		assert.ErrorIs(t, err, core.ErrMissingWallet)
		_, err = f.rec.ApplyNewTransaction(ctx, "w1", amt("1"), core.Kind(0))
		assert.ErrorIs(t, err, core.ErrInvalidKind)
		_, err = f.rec.ApplyNewTransaction(ctx, "nope", amt("1"), core.Income)
		assert.ErrorIs(t, err, core.ErrWalletNotFound)
	})
}

func TestReviseBoundaryScenario(t *testing.T) {
	cases := []struct {
		amount  string
		wantErr bool
		want    [3]string
	}{
		{"1199", false, [3]string{"1", "200", "1199"}},
		{"1200", false, [3]string{"0", "200", "1200"}},
		{"1201", true, [3]string{"900", "200", "300"}},
	}
	for _, tc := range cases {
		t.Run(tc.amount, func(t *testing.T) {
			f := newFixture(t)
			f.wallet(t, "w", "1000")

			expense := f.write(t, newTx("w", core.Expense, "300"))
			assertWallet(t, f.get(t, "w"), "700", "0", "300")
			f.write(t, newTx("w", core.Income, "200"))
			assertWallet(t, f.get(t, "w"), "900", "200", "300")

			edited := expense
			edited.Amount = amt(tc.amount)
			_, err := f.rec.Write(context.Background(), edited)

			w := f.get(t, "w")
			assertWallet(t, w, tc.want[0], tc.want[1], tc.want[2])
			stored, gerr := f.store.GetTransaction(context.Background(), expense.ID)
			require.NoError(t, gerr)
			if tc.wantErr {
				assert.ErrorIs(t, err, core.ErrInsufficientBalance)
				assert.False(t, core.IsRetryable(err))
				assert.True(t, stored.Amount.Equal(amt("300")), "record must not change")
				assert.Equal(t, int64(2), w.Version, "no wallet write on rejection")
				return
			}
			require.NoError(t, err)
			assert.True(t, stored.Amount.Equal(amt(tc.amount)))
		})
	}
}

func TestBalanceMatchesHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	wallets := []string{"a", "b"}
	for _, id := range wallets {
		f.wallet(t, id, "0")
	}

	rng := rand.New(rand.NewPCG(7, 42))
	var ids []string
	kinds := []core.Kind{core.Income, core.Expense}
	randAmount := func() decimal.Decimal { return decimal.New(int64(rng.IntN(50000)+1), -2) }

	for step := 0; step < 300; step++ {
		switch op := rng.IntN(3); {
		case op == 0 || len(ids) == 0:
			tx := newTx(wallets[rng.IntN(2)], kinds[rng.IntN(2)], "1")
			tx.Amount = randAmount()
			res, err := f.rec.Write(ctx, tx)
			if err == nil {
				ids = append(ids, res.Transaction.ID)
			} else {
				require.ErrorIs(t, err, core.ErrInsufficientBalance)
			}
		case op == 1:
			tx, err := f.store.GetTransaction(ctx, ids[rng.IntN(len(ids))])
			require.NoError(t, err)
			tx.Amount = randAmount()
			tx.Kind = kinds[rng.IntN(2)]
			tx.WalletID = wallets[rng.IntN(2)]
			tx.Category = "rent"
			if _, err := f.rec.Write(ctx, tx); err != nil {
				require.ErrorIs(t, err, core.ErrInsufficientBalance)
			}
		default:
			i := rng.IntN(len(ids))
			_, err := f.rec.Delete(ctx, ids[i])
			require.NoError(t, err)
			ids = append(ids[:i], ids[i+1:]...)
		}

		for _, id := range wallets {
			txs, err := f.store.QueryTransactions(ctx, core.TransactionQuery{OwnerID: "alice", WalletID: id})
			require.NoError(t, err)
			income, expenses := decimal.Zero, decimal.Zero
			for _, tx := range txs {
				if tx.Kind == core.Income {
					income = income.Add(tx.Amount)
				} else {
					expenses = expenses.Add(tx.Amount)
				}
			}
			w := f.get(t, id)
			require.True(t, w.TotalIncome.Equal(income), "step %d wallet %s income %s != %s", step, id, w.TotalIncome, income)
			require.True(t, w.TotalExpenses.Equal(expenses), "step %d wallet %s expenses", step, id)
			require.True(t, w.Balance.Equal(income.Sub(expenses)), "step %d wallet %s balance", step, id)
			require.False(t, w.TotalIncome.IsNegative())
			require.False(t, w.TotalExpenses.IsNegative())
		}
	}

	pending, err := f.store.PendingEntries(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDescriptiveEditLeavesWallet(t *testing.T) {
	f := newFixture(t)
	f.wallet(t, "w", "0")
	tx := f.write(t, newTx("w", core.Income, "250"))
	before := f.get(t, "w")

	tx.Description = "salary"
	tx.Date = tx.Date.AddDate(0, 0, -3)
	tx.Image = "gs://bucket/receipt.png"
	res, err := f.rec.Write(context.Background(), tx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, res.Wallets)

	after := f.get(t, "w")
	assert.Equal(t, before.Version, after.Version)
	assertWallet(t, after, "250", "250", "0")

	stored, err := f.store.GetTransaction(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "salary", stored.Description)
	assert.Equal(t, "gs://bucket/receipt.png", stored.Image)

	r2, err := f.rec.ReviseTransaction(context.Background(), stored, stored.Amount, stored.Kind, stored.WalletID)
	require.NoError(t, err)
	assert.True(t, r2.Skipped)
	assert.Equal(t, before.Version, f.get(t, "w").Version)
}

func TestRevertThenReapplyIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.wallet(t, "w", "40")
	f.write(t, newTx("w", core.Income, "100"))
	tx := f.write(t, newTx("w", core.Expense, "30"))
	before := f.get(t, "w")

	_, err := f.rec.Delete(context.Background(), tx.ID)
	require.NoError(t, err)
	tx.ID = ""
	f.write(t, tx)

	after := f.get(t, "w")
	assert.True(t, before.Balance.Equal(after.Balance))
	assert.True(t, before.TotalIncome.Equal(after.TotalIncome))
	assert.True(t, before.TotalExpenses.Equal(after.TotalExpenses))
}

func TestMoveBetweenWallets(t *testing.T) {
	f := newFixture(t)
	f.wallet(t, "a", "0")
	f.wallet(t, "b", "0")
	f.write(t, newTx("a", core.Income, "500"))
	f.write(t, newTx("b", core.Income, "200"))
	tx := f.write(t, newTx("a", core.Expense, "100"))

	tx.WalletID = "b"
	res, err := f.rec.Write(context.Background(), tx)
	require.NoError(t, err)
	require.Len(t, res.Wallets, 2)

	assertWallet(t, f.get(t, "a"), "500", "500", "0")
	assertWallet(t, f.get(t, "b"), "100", "200", "100")

	// Kind flip while moving back.
	tx.WalletID = "a"
	tx.Kind = core.Income
	tx.Category = ""
	_, err = f.rec.Write(context.Background(), tx)
	require.NoError(t, err)
	assertWallet(t, f.get(t, "a"), "600", "600", "0")
	assertWallet(t, f.get(t, "b"), "200", "200", "0")
}

func TestMoveToPoorWalletWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.wallet(t, "a", "1000")
	f.wallet(t, "b", "50")
	tx := f.write(t, newTx("a", core.Expense, "100"))
	va, vb := f.get(t, "a").Version, f.get(t, "b").Version

	tx.WalletID = "b"
	_, err := f.rec.Write(context.Background(), tx)
	var ib *core.InsufficientBalanceError
	require.ErrorAs(t, err, &ib)
	assert.Equal(t, "b", ib.WalletID)
	assert.True(t, ib.Available.Equal(amt("50")))

	assert.Equal(t, va, f.get(t, "a").Version)
	assert.Equal(t, vb, f.get(t, "b").Version)
	assertWallet(t, f.get(t, "a"), "900", "0", "100")
}

func TestDeleteInvertsEffect(t *testing.T) {
	f := newFixture(t)
	f.wallet(t, "w", "0")
	income := f.write(t, newTx("w", core.Income, "80"))
	expense := f.write(t, newTx("w", core.Expense, "50"))

	res, err := f.rec.Delete(context.Background(), expense.ID)
	require.NoError(t, err)
	w, ok := res.Wallet("w")
	require.True(t, ok)
	assertWallet(t, w, "80", "80", "0")

	f.write(t, newTx("w", core.Expense, "60"))
	// Deleting the income drives the balance negative; accepted.
	_, err = f.rec.Delete(context.Background(), income.ID)
	require.NoError(t, err)
	assertWallet(t, f.get(t, "w"), "-60", "0", "60")

	_, err = f.store.GetTransaction(context.Background(), income.ID)
	assert.ErrorIs(t, err, core.ErrTransactionNotFound)
	_, err = f.rec.Delete(context.Background(), income.ID)
	assert.ErrorIs(t, err, core.ErrTransactionNotFound)
}

func TestPartialReconciliationAndResume(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.wallet(t, "a", "0")
	f.wallet(t, "b", "0")
	f.write(t, newTx("a", core.Income, "300"))
	tx := f.write(t, newTx("a", core.Income, "100"))

	f.store.failCommit["b"] = errors.New("disk full")
	moved := tx
	moved.WalletID = "b"
	_, err := f.rec.Write(ctx, moved)

	var perr *core.PartialReconciliationError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, core.ErrPartialReconciliation)
	assert.True(t, core.IsRetryable(err))
	assert.Equal(t, "a", perr.CommittedWalletID)
	assert.Equal(t, "b", perr.PendingWalletID)
	assert.Equal(t, tx.ID, perr.TransactionID)

	// Source reverted, destination and record unchanged.
	assertWallet(t, f.get(t, "a"), "300", "300", "0")
	assertWallet(t, f.get(t, "b"), "0", "0", "0")
	stored, err := f.store.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", stored.WalletID)

	pending, err := f.store.PendingEntries(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	// Still failing: the sweep reports it and keeps the entries.
	report, err := f.rec.ResumePending(ctx, 0, 0)
	require.Error(t, err)
	assert.Equal(t, []string{perr.GroupID}, report.Failed)

	delete(f.store.failCommit, "b")
	report, err = f.rec.ResumePending(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Groups)
	assert.Equal(t, 2, report.Entries)
	assert.Equal(t, []string{tx.ID}, report.Transactions)

	assertWallet(t, f.get(t, "a"), "300", "300", "0")
	assertWallet(t, f.get(t, "b"), "100", "100", "0")
	stored, err = f.store.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "b", stored.WalletID)

	n, err := f.rec.Resume(ctx, perr.GroupID)
	require.NoError(t, err)
	assert.Zero(t, n, "a finished group has nothing left to replay")
}

// partialMove leaves an expense of 100 on a moved to b as income with only
// the revert on a committed.
func partialMove(t *testing.T, f *fixture) (core.Transaction, *core.PartialReconciliationError) {
	t.Helper()
	f.wallet(t, "a", "1000")
	f.wallet(t, "b", "0")
	tx := f.write(t, newTx("a", core.Expense, "100"))
	assertWallet(t, f.get(t, "a"), "900", "0", "100")

	f.store.failCommit["b"] = errors.New("disk full")
	moved := tx
	moved.WalletID = "b"
	moved.Kind = core.Income
	moved.Category = ""
	_, err := f.rec.Write(context.Background(), moved)

	var perr *core.PartialReconciliationError
	require.ErrorAs(t, err, &perr)
	assertWallet(t, f.get(t, "a"), "1000", "0", "0")
	assertWallet(t, f.get(t, "b"), "0", "0", "0")
	return moved, perr
}

func TestRetryAfterPartialMove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	moved, perr := partialMove(t, f)

	// The unfinished group still fails: the retry is turned away untouched.
	_, err := f.rec.Write(ctx, moved)
	require.ErrorIs(t, err, core.ErrConflict)
	assert.True(t, core.IsRetryable(err))
	assert.Contains(t, err.Error(), perr.GroupID)
	assertWallet(t, f.get(t, "a"), "1000", "0", "0")
	assertWallet(t, f.get(t, "b"), "0", "0", "0")

	delete(f.store.failCommit, "b")
	_, err = f.rec.Write(ctx, moved)
	require.NoError(t, err)

	// The source is reverted once and the destination applied once.
	assertWallet(t, f.get(t, "a"), "1000", "0", "0")
	assertWallet(t, f.get(t, "b"), "100", "100", "0")
	stored, err := f.store.GetTransaction(ctx, moved.ID)
	require.NoError(t, err)
	assert.Equal(t, "b", stored.WalletID)
	assert.Equal(t, core.Income, stored.Kind)

	report, err := f.rec.ResumePending(ctx, 0, 0)
	require.NoError(t, err)
	assert.Zero(t, report.Groups)
	assert.Zero(t, report.Entries)
}

func TestDeleteAfterPartialMove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	moved, _ := partialMove(t, f)
	delete(f.store.failCommit, "b")

	res, err := f.rec.Delete(ctx, moved.ID)
	require.NoError(t, err)
	assert.Equal(t, "b", res.Transaction.WalletID)

	assertWallet(t, f.get(t, "a"), "1000", "0", "0")
	assertWallet(t, f.get(t, "b"), "0", "0", "0")
	_, err = f.store.GetTransaction(ctx, moved.ID)
	assert.ErrorIs(t, err, core.ErrTransactionNotFound)

	// A replay of the finished move must not bring the record back.
	report, err := f.rec.ResumePending(ctx, 0, 0)
	require.NoError(t, err)
	assert.Zero(t, report.Groups)
	_, err = f.store.GetTransaction(ctx, moved.ID)
	assert.ErrorIs(t, err, core.ErrTransactionNotFound)
}

func TestRetriedDeleteFinishesRemoval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.wallet(t, "w", "0")
	tx := f.write(t, newTx("w", core.Income, "80"))

	f.store.failDelete = errors.New("disk full")
	_, err := f.rec.Delete(ctx, tx.ID)
	require.ErrorIs(t, err, core.ErrPartialReconciliation)
	assertWallet(t, f.get(t, "w"), "0", "0", "0")

	f.store.failDelete = nil
	res, err := f.rec.Delete(ctx, tx.ID)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assertWallet(t, f.get(t, "w"), "0", "0", "0")

	_, err = f.store.GetTransaction(ctx, tx.ID)
	assert.ErrorIs(t, err, core.ErrTransactionNotFound)
	_, err = f.rec.Delete(ctx, tx.ID)
	assert.ErrorIs(t, err, core.ErrTransactionNotFound)
}

func TestSnapshotBeforePartialMoveConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	moved, _ := partialMove(t, f)
	delete(f.store.failCommit, "b")

	stale := moved
	stale.WalletID = "a"
	stale.Kind = core.Expense
	stale.Category = "groceries"

	_, err := f.rec.RevertOnDelete(ctx, stale)
	require.ErrorIs(t, err, core.ErrConflict)
	assert.True(t, core.IsRetryable(err))
	// The replay finished the move and nothing else was written.
	assertWallet(t, f.get(t, "a"), "1000", "0", "0")
	assertWallet(t, f.get(t, "b"), "100", "100", "0")

	fresh, err := f.store.GetTransaction(ctx, moved.ID)
	require.NoError(t, err)
	_, err = f.rec.RevertOnDelete(ctx, fresh)
	require.NoError(t, err)
	assertWallet(t, f.get(t, "a"), "1000", "0", "0")
	assertWallet(t, f.get(t, "b"), "0", "0", "0")
}

func TestResumePendingCountsOnlyReplayedGroups(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, perr := partialMove(t, f)
	delete(f.store.failCommit, "b")

	// Another replayer finishes the group between listing and resuming.
	other := NewFromStore(f.store.Store, WithLogger(log.Discard(log.ComponentReconcile)))
	f.store.afterPending = func() {
		n, err := other.Resume(ctx, perr.GroupID)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	}

	report, err := f.rec.ResumePending(ctx, 0, 0)
	require.NoError(t, err)
	assert.Zero(t, report.Groups)
	assert.Zero(t, report.Entries)
	assert.Empty(t, report.Transactions)
	assertWallet(t, f.get(t, "b"), "100", "100", "0")
}

func TestResumeRespectsGrace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.wallet(t, "w", "0")
	f.store.failSave = errors.New("locked")

	_, err := f.rec.Write(ctx, newTx("w", core.Income, "10"))
	require.ErrorIs(t, err, core.ErrPartialReconciliation)
	f.store.failSave = nil

	report, err := f.rec.ResumePending(ctx, time.Minute, 10)
	require.NoError(t, err)
	assert.Zero(t, report.Groups, "fresh groups may still be in flight")

	report, err = f.rec.ResumePending(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Groups)

	txs, err := f.store.QueryTransactions(ctx, core.TransactionQuery{OwnerID: "alice"})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Amount.Equal(amt("10")))
}

func TestFirstWriteFailureIsFullFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.wallet(t, "w", "0")
	f.store.failCommit["w"] = errors.New("io timeout")

	_, err := f.rec.Write(ctx, newTx("w", core.Income, "10"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, core.ErrPartialReconciliation)
	assert.ErrorIs(t, err, core.ErrStorage)

	pending, err := f.store.PendingEntries(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
	txs, err := f.store.QueryTransactions(ctx, core.TransactionQuery{OwnerID: "alice"})
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestStaleSnapshotConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.wallet(t, "w", "100")

	other := NewFromStore(f.store.Store, WithLogger(log.Discard(log.ComponentReconcile)))
	raced := false
	f.store.beforeCommit = func(core.Wallet) {
		if raced {
			return
		}
		raced = true
		_, err := other.ApplyNewTransaction(ctx, "w", amt("100"), core.Expense)
		require.NoError(t, err)
	}

	_, err := f.rec.Write(ctx, newTx("w", core.Expense, "100"))
	require.ErrorIs(t, err, core.ErrConflict)
	assert.True(t, core.IsRetryable(err))
	assertWallet(t, f.get(t, "w"), "0", "0", "100")

	// A retry sees the new balance and is rejected.
	_, err = f.rec.Write(ctx, newTx("w", core.Expense, "100"))
	assert.ErrorIs(t, err, core.ErrInsufficientBalance)
}

func TestCancellationAfterFirstWrite(t *testing.T) {
	f := newFixture(t)
	f.wallet(t, "w", "0")

	ctx, cancel := context.WithCancel(context.Background())
	f.store.afterCommit = func(core.Wallet) { cancel() }

	res, err := f.rec.Write(ctx, newTx("w", core.Income, "25"))
	require.NoError(t, err)
	_, err = f.store.GetTransaction(context.Background(), res.Transaction.ID)
	assert.NoError(t, err, "record must be written once the wallet is committed")
}

func TestCancellationBeforeFirstWrite(t *testing.T) {
	f := newFixture(t)
	f.wallet(t, "w", "0")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.rec.Write(ctx, newTx("w", core.Income, "25"))
	require.ErrorIs(t, err, context.Canceled)
	assertWallet(t, f.get(t, "w"), "0", "0", "0")
}

func TestGroupUnits(t *testing.T) {
	entries := []core.LedgerEntry{
		{ID: "0", Step: core.StepRevert, WalletID: "a"},
		{ID: "1", Step: core.StepApply, WalletID: "a"},
		{ID: "2", Step: core.StepApply, WalletID: "b"},
		{ID: "3", Step: core.StepSave, WalletID: "b"},
	}
	units := groupUnits(entries)
	require.Len(t, units, 3)
	assert.Equal(t, []string{"0", "1"}, units[0].entryIDs())
	assert.Equal(t, []string{"2"}, units[1].entryIDs())
	assert.False(t, units[2].touchesWallet())
	assert.Equal(t, StateRecording, units[2].state)
}

func TestErrorType(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{core.ErrMissingWallet, log.ErrorTypeValidation},
		{core.ErrWalletNotFound, log.ErrorTypeNotFound},
		{core.ErrConflict, log.ErrorTypeConflict},
		{&core.InsufficientBalanceError{WalletID: "w"}, log.ErrorTypeConflict},
		{context.DeadlineExceeded, log.ErrorTypeTimeout},
		{core.StorageFailure("commit", errors.New("disk full")), log.ErrorTypeDatabase},
		{errors.New("boom"), log.ErrorTypeInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorType(tt.err), "%v", tt.err)
	}
}
