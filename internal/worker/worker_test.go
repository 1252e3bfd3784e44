package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dompet/internal/amqp"
	"dompet/internal/core"
	"dompet/internal/log"
	"dompet/internal/reconcile"
	mock_sheets "dompet/internal/sheets/mocks"
	"dompet/internal/storage"
	"dompet/internal/storage/memory"

	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokenWallet fails commits to one wallet while broken is set.
type brokenWallet struct {
	storage.Store
	mu     sync.Mutex
	id     string
	broken bool
}

func (b *brokenWallet) CommitDelta(ctx context.Context, w core.Wallet, ids ...string) (core.Wallet, error) {
	b.mu.Lock()
	broken := b.broken && w.ID == b.id
	b.mu.Unlock()
	if broken {
		return core.Wallet{}, core.StorageFailure("commit", errors.New("disk full"))
	}
	return b.Store.CommitDelta(ctx, w, ids...)
}

func (b *brokenWallet) fix() {
	b.mu.Lock()
	b.broken = false
	b.mu.Unlock()
}

// partialFixture leaves a move of 40 from w1 to w2 half applied.
func partialFixture(t *testing.T) (*brokenWallet, *reconcile.Reconciler, *core.PartialReconciliationError) {
	t.Helper()
	ctx := context.Background()
	store := &brokenWallet{Store: memory.New(), id: "w2"}
	for _, id := range []string{"w1", "w2"} {
		_, err := store.CreateWallet(ctx, core.NewWallet(id, "alice", id, "", time.Now()))
		require.NoError(t, err)
	}
	rec := reconcile.NewFromStore(store, reconcile.WithLogger(log.Discard(log.ComponentReconcile)))

	res, err := rec.Write(ctx, core.Transaction{
		OwnerID: "alice", WalletID: "w1", Kind: core.Income,
		Amount: decimal.NewFromInt(40), Date: time.Now(),
	})
	require.NoError(t, err)

	store.broken = true
	moved := res.Transaction
	moved.WalletID = "w2"
	_, err = rec.Write(ctx, moved)
	var perr *core.PartialReconciliationError
	require.ErrorAs(t, err, &perr)
	return store, rec, perr
}

func balance(t *testing.T, s storage.Store, id string) string {
	t.Helper()
	w, err := s.GetWallet(context.Background(), id)
	require.NoError(t, err)
	return w.Balance.String()
}

func TestRecovery_SweepRepairsPartial(t *testing.T) {
	store, rec, _ := partialFixture(t)
	assert.Equal(t, "0", balance(t, store, "w1"))
	assert.Equal(t, "0", balance(t, store, "w2"))

	r := NewRecovery(rec, nil, RecoveryConfig{Interval: time.Hour, BatchSize: 10})

	report := r.Sweep(context.Background())
	assert.Len(t, report.Failed, 1, "wallet still broken")

	store.fix()
	report = r.Sweep(context.Background())
	assert.Empty(t, report.Failed)
	assert.Equal(t, 1, report.Groups)
	assert.Len(t, report.Transactions, 1)
	assert.Equal(t, "40", balance(t, store, "w2"))

	report = r.Sweep(context.Background())
	assert.Zero(t, report.Entries, "nothing left to replay")
}

func TestRecovery_StartStop(t *testing.T) {
	_, rec, _ := partialFixture(t)
	r := NewRecovery(rec, nil, RecoveryConfig{Interval: 10 * time.Millisecond, BatchSize: 10})

	assert.False(t, r.IsRunning())
	require.NoError(t, r.Start(context.Background()))
	assert.True(t, r.IsRunning())
	assert.Error(t, r.Start(context.Background()), "second start must fail")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Stop(ctx))
	assert.False(t, r.IsRunning())
	require.NoError(t, r.Stop(ctx), "stopping twice is a no-op")
}

func TestDefaultRecoveryConfig(t *testing.T) {
	cfg := DefaultRecoveryConfig()
	assert.Equal(t, time.Minute, cfg.Interval)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Grace)
}

func TestMirror_TransactionEvents(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	sheet := mock_sheets.NewMockTransactionMirror(ctrl)
	m := NewMirror(sheet, nil, nil)

	tx := core.Transaction{ID: "tx-1", OwnerID: "alice", WalletID: "w1", Kind: core.Income, Amount: decimal.NewFromInt(5), Date: time.Now()}

	sheet.EXPECT().Upsert(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, got core.Transaction) (string, error) {
			assert.Equal(t, tx.ID, got.ID)
			return "Transactions!A2:I2", nil
		}).Times(2)
	require.NoError(t, m.Handle(ctx, amqp.NewTransactionMessage(amqp.EventTransactionCreated, tx)))
	require.NoError(t, m.Handle(ctx, amqp.NewTransactionMessage(amqp.EventTransactionUpdated, tx)))

	sheet.EXPECT().Remove(gomock.Any(), "tx-1").Return(nil)
	require.NoError(t, m.Handle(ctx, amqp.NewTransactionMessage(amqp.EventTransactionDeleted, tx)))

	sheet.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return("", errors.New("quota exceeded"))
	assert.Error(t, m.Handle(ctx, amqp.NewTransactionMessage(amqp.EventTransactionCreated, tx)), "failures requeue")
}

func TestMirror_DisabledSheets(t *testing.T) {
	m := NewMirror(nil, nil, nil)
	tx := core.Transaction{ID: "tx-1"}
	assert.NoError(t, m.Handle(context.Background(), amqp.NewTransactionMessage(amqp.EventTransactionCreated, tx)))
	assert.NoError(t, m.Handle(context.Background(), amqp.NewTransactionMessage(amqp.EventTransactionDeleted, tx)))
}

func TestMirror_PartialAlertReplays(t *testing.T) {
	store, rec, perr := partialFixture(t)
	m := NewMirror(nil, store, rec)

	// still broken: the alert is acknowledged and left to the sweep
	require.NoError(t, m.Handle(context.Background(), amqp.NewPartialMessage(perr)))
	assert.Equal(t, "0", balance(t, store, "w2"))

	store.fix()
	require.NoError(t, m.Handle(context.Background(), amqp.NewPartialMessage(perr)))
	assert.Equal(t, "40", balance(t, store, "w2"))
}

func TestRecovery_SweepRefreshesReplayedRows(t *testing.T) {
	ctx := context.Background()
	store, rec, perr := partialFixture(t)
	ctrl := gomock.NewController(t)
	sheet := mock_sheets.NewMockTransactionMirror(ctrl)
	r := NewRecovery(rec, NewMirror(sheet, store, nil), RecoveryConfig{Interval: time.Hour, BatchSize: 10})

	// Nothing replayed, nothing refreshed.
	r.Sweep(ctx)

	store.fix()
	sheet.EXPECT().Upsert(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, got core.Transaction) (string, error) {
			assert.Equal(t, perr.TransactionID, got.ID)
			assert.Equal(t, "w2", got.WalletID)
			return "Transactions!A2:I2", nil
		})
	report := r.Sweep(ctx)
	assert.Equal(t, []string{perr.TransactionID}, report.Transactions)

	report = r.Sweep(ctx)
	assert.Empty(t, report.Transactions)
}

func TestMirror_PartialAlertRefreshesRow(t *testing.T) {
	ctx := context.Background()
	store, rec, perr := partialFixture(t)
	ctrl := gomock.NewController(t)
	sheet := mock_sheets.NewMockTransactionMirror(ctrl)
	m := NewMirror(sheet, store, rec)

	require.NoError(t, m.Handle(ctx, amqp.NewPartialMessage(perr)))

	store.fix()
	sheet.EXPECT().Upsert(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, got core.Transaction) (string, error) {
			assert.Equal(t, "w2", got.WalletID)
			return "", errors.New("quota exceeded")
		})
	assert.Error(t, m.Handle(ctx, amqp.NewPartialMessage(perr)), "refresh failures requeue")

	// The redelivered alert finds the group finished and retries the row.
	sheet.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return("Transactions!A2:I2", nil)
	require.NoError(t, m.Handle(ctx, amqp.NewPartialMessage(perr)))
	assert.Equal(t, "40", balance(t, store, "w2"))
}

func TestMirror_RefreshRemovesDeletedRow(t *testing.T) {
	ctrl := gomock.NewController(t)
	sheet := mock_sheets.NewMockTransactionMirror(ctrl)
	m := NewMirror(sheet, memory.New(), nil)

	sheet.EXPECT().Remove(gomock.Any(), "gone").Return(nil)
	require.NoError(t, m.Refresh(context.Background(), "gone"))
	require.NoError(t, NewMirror(nil, memory.New(), nil).Refresh(context.Background(), "gone"))
}
