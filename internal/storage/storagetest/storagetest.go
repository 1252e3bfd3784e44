// Package storagetest holds behaviour checks shared by every storage.Store.
package storagetest

import (
	"context"
	"testing"
	"time"

	"dompet/internal/core"
	"dompet/internal/storage"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises newStore against the storage contract.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("WalletLifecycle", func(t *testing.T) { testWalletLifecycle(t, newStore(t)) })
	t.Run("CommitDeltaVersioning", func(t *testing.T) { testCommitDelta(t, newStore(t)) })
	t.Run("TransactionQueries", func(t *testing.T) { testTransactionQueries(t, newStore(t)) })
	t.Run("CascadeDelete", func(t *testing.T) { testCascadeDelete(t, newStore(t)) })
	t.Run("LedgerPending", func(t *testing.T) { testLedgerPending(t, newStore(t)) })
}

var base = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func mustWallet(t *testing.T, s storage.Store, id, owner string) core.Wallet {
	t.Helper()
	w, err := s.CreateWallet(context.Background(), core.NewWallet(id, owner, "Wallet "+id, "", base))
	require.NoError(t, err)
	return w
}

func testWalletLifecycle(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustWallet(t, s, "w1", "alice")
	mustWallet(t, s, "w2", "alice")
	mustWallet(t, s, "w3", "bob")

	ws, err := s.ListWallets(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, ws, 2)

	got, err := s.GetWallet(ctx, "w1")
	require.NoError(t, err)
	assert.True(t, got.Balance.IsZero())
	assert.Equal(t, int64(0), got.Version)

	got.Name = "Savings"
	got.Image = "gs://bucket/w1.png"
	got.Balance = amt("999") // ignored by profile updates
	upd, err := s.UpdateWalletProfile(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, "Savings", upd.Name)
	assert.True(t, upd.Balance.IsZero())

	_, err = s.GetWallet(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrWalletNotFound)
	_, err = s.UpdateWalletProfile(ctx, core.Wallet{ID: "missing", Name: "x"})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testCommitDelta(t *testing.T, s storage.Store) {
	ctx := context.Background()
	w := mustWallet(t, s, "w1", "alice")

	next := w.Applied(core.Income, amt("1000"))
	committed, err := s.CommitDelta(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, int64(1), committed.Version)

	// A writer holding the old snapshot loses.
	_, err = s.CommitDelta(ctx, w.Applied(core.Expense, amt("10")))
	assert.ErrorIs(t, err, core.ErrConflict)

	stored, err := s.GetWallet(ctx, "w1")
	require.NoError(t, err)
	assert.True(t, stored.Balance.Equal(amt("1000")), "balance %s", stored.Balance)
	assert.True(t, stored.TotalIncome.Equal(amt("1000")))
	assert.Equal(t, int64(1), stored.Version)

	_, err = s.CommitDelta(ctx, core.Wallet{ID: "missing"})
	assert.ErrorIs(t, err, core.ErrWalletNotFound)
}

func testTransactionQueries(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustWallet(t, s, "w1", "alice")
	mustWallet(t, s, "w2", "bob")

	for i, day := range []int{1, 5, 3} {
		require.NoError(t, s.SaveTransaction(ctx, core.Transaction{
			ID:        string(rune('a' + i)),
			OwnerID:   "alice",
			WalletID:  "w1",
			Kind:      core.Expense,
			Amount:    amt("10.50"),
			Category:  "dining",
			Date:      time.Date(2024, 3, day, 9, 0, 0, 0, time.UTC),
			CreatedAt: base,
		}))
	}
	require.NoError(t, s.SaveTransaction(ctx, core.Transaction{
		ID: "z", OwnerID: "bob", WalletID: "w2", Kind: core.Income, Amount: amt("1"), Date: base, CreatedAt: base,
	}))

	all, err := s.QueryTransactions(ctx, core.TransactionQuery{OwnerID: "alice"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"b", "c", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})
	assert.True(t, all[0].Amount.Equal(amt("10.5")))
	assert.Equal(t, core.Expense, all[0].Kind)

	ranged, err := s.QueryTransactions(ctx, core.TransactionQuery{
		OwnerID: "alice",
		From:    time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC),
		To:      time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, "c", ranged[0].ID)

	limited, err := s.QueryTransactions(ctx, core.TransactionQuery{OwnerID: "alice", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	earliest, ok, err := s.EarliestTransaction(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", earliest.ID)

	_, ok, err = s.EarliestTransaction(ctx, "carol")
	require.NoError(t, err)
	assert.False(t, ok)

	// Upsert replaces descriptive fields.
	tx, err := s.GetTransaction(ctx, "a")
	require.NoError(t, err)
	tx.Description = "lunch"
	require.NoError(t, s.SaveTransaction(ctx, tx))
	tx, err = s.GetTransaction(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "lunch", tx.Description)

	require.NoError(t, s.DeleteTransaction(ctx, "a"))
	_, err = s.GetTransaction(ctx, "a")
	assert.ErrorIs(t, err, core.ErrTransactionNotFound)
	assert.NoError(t, s.DeleteTransaction(ctx, "a"), "deleting twice is not an error")
}

func testCascadeDelete(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustWallet(t, s, "w1", "alice")
	require.NoError(t, s.SaveTransaction(ctx, core.Transaction{
		ID: "t1", OwnerID: "alice", WalletID: "w1", Kind: core.Income, Amount: amt("5"), Date: base, CreatedAt: base,
	}))

	require.NoError(t, s.DeleteWallet(ctx, "w1"))
	_, err := s.GetTransaction(ctx, "t1")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, s.DeleteWallet(ctx, "w1"), core.ErrWalletNotFound)
}

func testLedgerPending(t *testing.T, s storage.Store) {
	ctx := context.Background()
	w := mustWallet(t, s, "w1", "alice")
	mustWallet(t, s, "w2", "alice")

	entries := []core.LedgerEntry{
		{ID: "g1-0", GroupID: "g1", Seq: 0, Step: core.StepRevert, WalletID: "w1", TransactionID: "t1", Kind: core.Expense, Amount: amt("10"), CreatedAt: base},
		{ID: "g1-1", GroupID: "g1", Seq: 1, Step: core.StepApply, WalletID: "w2", TransactionID: "t1", Kind: core.Expense, Amount: amt("10"), CreatedAt: base},
		{ID: "g1-2", GroupID: "g1", Seq: 2, Step: core.StepSave, TransactionID: "t1", Payload: []byte(`{"id":"t1"}`), CreatedAt: base},
		{ID: "g2-0", GroupID: "g2", Seq: 0, Step: core.StepApply, WalletID: "w1", TransactionID: "t2", Kind: core.Income, Amount: amt("1"), CreatedAt: base},
	}
	require.NoError(t, s.AppendEntries(ctx, entries))

	// Nothing applied yet: no group is partial.
	pending, err := s.PendingEntries(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = s.CommitDelta(ctx, w.Reverted(core.Expense, amt("10")), "g1-0")
	require.NoError(t, err)

	pending, err = s.PendingEntries(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "g1-1", pending[0].ID)
	assert.Equal(t, core.StepApply, pending[0].Step)
	assert.True(t, pending[0].Amount.Equal(amt("10")))
	assert.Equal(t, "g1-2", pending[1].ID)
	assert.JSONEq(t, `{"id":"t1"}`, string(pending[1].Payload))

	forTx, err := s.PendingForTransaction(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, forTx, 2)
	assert.Equal(t, "g1", forTx[0].GroupID)
	forTx, err = s.PendingForTransaction(ctx, "t2")
	require.NoError(t, err)
	assert.Empty(t, forTx, "a group with nothing applied is not partial")

	// Applying the same entry twice is rejected together with its wallet write.
	w, err = s.GetWallet(ctx, "w1")
	require.NoError(t, err)
	_, err = s.CommitDelta(ctx, w.Reverted(core.Expense, amt("10")), "g1-0")
	assert.ErrorIs(t, err, core.ErrConflict)
	again, err := s.GetWallet(ctx, "w1")
	require.NoError(t, err)
	assert.True(t, again.Balance.Equal(w.Balance))

	require.NoError(t, s.AbandonGroup(ctx, "g2"))
	group, err := s.GroupEntries(ctx, "g2")
	require.NoError(t, err)
	require.Len(t, group, 1)
	assert.Equal(t, core.EntryAbandoned, group[0].Status)

	group, err = s.GroupEntries(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, group, 3)
	assert.Equal(t, core.EntryApplied, group[0].Status)
	assert.False(t, group[0].AppliedAt.IsZero())
}
