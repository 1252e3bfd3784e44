package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dompet/internal/amqp"
	"dompet/internal/attachment"
	mock_attachment "dompet/internal/attachment/mocks"
	"dompet/internal/core"
	"dompet/internal/log"
	"dompet/internal/reconcile"
	mock_services "dompet/internal/services/mocks"
	"dompet/internal/stats"
	"dompet/internal/storage"
	"dompet/internal/storage/memory"

	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// flakyStore fails wallet commits for selected wallets.
type flakyStore struct {
	storage.Store
	failCommit map[string]error
}

func (f *flakyStore) CommitDelta(ctx context.Context, w core.Wallet, ids ...string) (core.Wallet, error) {
	if err := f.failCommit[w.ID]; err != nil {
		return core.Wallet{}, err
	}
	return f.Store.CommitDelta(ctx, w, ids...)
}

type env struct {
	store     *flakyStore
	publisher *mock_services.MockPublisher
	uploader  *mock_attachment.MockUploader
	stats     *StatsService
	txs       *TransactionService
	wallets   *WalletService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctrl := gomock.NewController(t)
	store := &flakyStore{Store: memory.New(), failCommit: map[string]error{}}
	e := &env{
		store:     store,
		publisher: mock_services.NewMockPublisher(ctrl),
		uploader:  mock_attachment.NewMockUploader(ctrl),
	}
	rec := reconcile.NewFromStore(store,
		reconcile.WithClock(func() time.Time { return fixedNow }),
		reconcile.WithLogger(log.Discard(log.ComponentReconcile)))
	agg := stats.NewAggregator(store, stats.WithClock(func() time.Time { return fixedNow }))
	e.stats = NewStatsService(agg, time.Hour)
	e.txs = NewTransactionService(store, store, rec, e.uploader, e.publisher, e.stats)
	e.wallets = NewWalletService(store, store, e.uploader, e.publisher, e.stats)
	return e
}

func (e *env) seedWallet(t *testing.T, id, owner, opening string) {
	t.Helper()
	w := core.NewWallet(id, owner, "Wallet "+id, "", fixedNow)
	w.Balance = amt(opening)
	_, err := e.store.CreateWallet(context.Background(), w)
	require.NoError(t, err)
}

func (e *env) balance(t *testing.T, id string) string {
	t.Helper()
	w, err := e.store.GetWallet(context.Background(), id)
	require.NoError(t, err)
	return w.Balance.StringFixed(2)
}

func expense(walletID, amount string) TransactionInput {
	return TransactionInput{
		WalletID: walletID,
		Kind:     core.Expense,
		Amount:   amt(amount),
		Category: "Groceries",
		Date:     fixedNow.Add(-time.Hour),
	}
}

func TestTransactionService_Create(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedWallet(t, "w1", "alice", "100")

	e.publisher.EXPECT().
		PublishTransaction(gomock.Any(), amqp.EventTransactionCreated, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ amqp.EventType, tx core.Transaction) error {
			assert.Equal(t, "groceries", tx.Category)
			return nil
		})

	res, err := e.txs.Save(ctx, "alice", expense("w1", "40"))
	require.NoError(t, err)
	assert.NotEmpty(t, res.Transaction.ID)
	assert.Equal(t, "60.00", e.balance(t, "w1"))

	stored, err := e.txs.Get(ctx, "alice", res.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, "groceries", stored.Category)
}

func TestTransactionService_Validation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedWallet(t, "w1", "alice", "100")
	e.seedWallet(t, "w2", "bob", "100")

	cases := []struct {
		name  string
		owner string
		in    TransactionInput
		want  error
	}{
		{"missing owner", "", expense("w1", "1"), core.ErrMissingOwner},
		{"unknown category", "alice", func() TransactionInput { in := expense("w1", "1"); in.Category = "yachts"; return in }(), core.ErrUnknownCategory},
		{"missing category", "alice", func() TransactionInput { in := expense("w1", "1"); in.Category = ""; return in }(), core.ErrMissingCategory},
		{"zero amount", "alice", expense("w1", "0"), core.ErrInvalidAmount},
		{"foreign wallet", "alice", expense("w2", "1"), core.ErrWalletNotFound},
		{"unknown wallet", "alice", expense("nope", "1"), core.ErrNotFound},
		{"insufficient", "alice", expense("w1", "100.01"), core.ErrInsufficientBalance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.txs.Save(ctx, tc.owner, tc.in)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Equal(t, "100.00", e.balance(t, "w1"))
	assert.Equal(t, "100.00", e.balance(t, "w2"))
}

func TestTransactionService_IncomeDropsCategory(t *testing.T) {
	e := newEnv(t)
	e.seedWallet(t, "w1", "alice", "0")
	e.publisher.EXPECT().PublishTransaction(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)

	res, err := e.txs.Save(context.Background(), "alice", TransactionInput{
		WalletID: "w1", Kind: core.Income, Amount: amt("10"), Category: "whatever", Date: fixedNow,
	})
	require.NoError(t, err)
	assert.Empty(t, res.Transaction.Category)
}

func TestTransactionService_UploadBeforeReconcile(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedWallet(t, "w1", "alice", "100")

	in := expense("w1", "10")
	in.ImagePath = "/tmp/receipt.png"

	t.Run("failed upload writes nothing", func(t *testing.T) {
		e.uploader.EXPECT().Upload(gomock.Any(), in.ImagePath, attachment.FolderTransactions).Return("", errors.New("bucket gone"))

		_, err := e.txs.Save(ctx, "alice", in)
		assert.Error(t, err)
		assert.Equal(t, "100.00", e.balance(t, "w1"))
	})

	t.Run("reference stored", func(t *testing.T) {
		e.uploader.EXPECT().Upload(gomock.Any(), in.ImagePath, attachment.FolderTransactions).Return("gs://b/transactions/x.png", nil)
		e.publisher.EXPECT().PublishTransaction(gomock.Any(), amqp.EventTransactionCreated, gomock.Any()).Return(nil)

		res, err := e.txs.Save(ctx, "alice", in)
		require.NoError(t, err)
		assert.Equal(t, "gs://b/transactions/x.png", res.Transaction.Image)

		// a description edit keeps the image unless cleared
		e.publisher.EXPECT().PublishTransaction(gomock.Any(), amqp.EventTransactionUpdated, gomock.Any()).Return(nil).Times(2)
		edit := expense("w1", "10")
		edit.ID = res.Transaction.ID
		edit.Description = "milk"
		res, err = e.txs.Save(ctx, "alice", edit)
		require.NoError(t, err)
		assert.Equal(t, "gs://b/transactions/x.png", res.Transaction.Image)
		assert.True(t, res.Skipped)

		edit.ClearImage = true
		res, err = e.txs.Save(ctx, "alice", edit)
		require.NoError(t, err)
		assert.Empty(t, res.Transaction.Image)
		assert.Equal(t, "90.00", e.balance(t, "w1"))
	})
}

func TestTransactionService_EditAndDelete(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedWallet(t, "w1", "alice", "1000")
	e.seedWallet(t, "w2", "alice", "0")

	gomock.InOrder(
		e.publisher.EXPECT().PublishTransaction(gomock.Any(), amqp.EventTransactionCreated, gomock.Any()).Return(nil),
		e.publisher.EXPECT().PublishTransaction(gomock.Any(), amqp.EventTransactionUpdated, gomock.Any()).Return(nil),
		e.publisher.EXPECT().PublishTransaction(gomock.Any(), amqp.EventTransactionDeleted, gomock.Any()).Return(nil),
	)

	created, err := e.txs.Save(ctx, "alice", TransactionInput{
		WalletID: "w1", Kind: core.Income, Amount: amt("300"), Date: fixedNow,
	})
	require.NoError(t, err)
	assert.Equal(t, "1300.00", e.balance(t, "w1"))

	moved := TransactionInput{ID: created.Transaction.ID, WalletID: "w2", Kind: core.Income, Amount: amt("250"), Date: fixedNow}
	_, err = e.txs.Save(ctx, "alice", moved)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", e.balance(t, "w1"))
	assert.Equal(t, "250.00", e.balance(t, "w2"))

	_, err = e.txs.Delete(ctx, "bob", created.Transaction.ID)
	assert.ErrorIs(t, err, core.ErrTransactionNotFound)

	_, err = e.txs.Delete(ctx, "alice", created.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, "0.00", e.balance(t, "w2"))

	_, err = e.txs.Get(ctx, "alice", created.Transaction.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestTransactionService_PartialPublishesAlert(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedWallet(t, "w1", "alice", "0")
	e.seedWallet(t, "w2", "alice", "0")

	e.publisher.EXPECT().PublishTransaction(gomock.Any(), amqp.EventTransactionCreated, gomock.Any()).Return(nil)
	created, err := e.txs.Save(ctx, "alice", TransactionInput{WalletID: "w1", Kind: core.Income, Amount: amt("50"), Date: fixedNow})
	require.NoError(t, err)

	e.store.failCommit["w2"] = core.StorageFailure("commit", errors.New("disk full"))
	e.publisher.EXPECT().
		PublishPartial(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, perr *core.PartialReconciliationError) error {
			assert.Equal(t, "w1", perr.CommittedWalletID)
			assert.Equal(t, "w2", perr.PendingWalletID)
			return nil
		})

	_, err = e.txs.Save(ctx, "alice", TransactionInput{ID: created.Transaction.ID, WalletID: "w2", Kind: core.Income, Amount: amt("50"), Date: fixedNow})
	require.ErrorIs(t, err, core.ErrPartialReconciliation)
	assert.True(t, core.IsRetryable(err))
	assert.Equal(t, "0.00", e.balance(t, "w1"))
	assert.Equal(t, "0.00", e.balance(t, "w2"))
}

func TestTransactionService_RetryAfterPartial(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedWallet(t, "w1", "alice", "1000")
	e.seedWallet(t, "w2", "alice", "0")

	e.publisher.EXPECT().PublishTransaction(gomock.Any(), amqp.EventTransactionCreated, gomock.Any()).Return(nil)
	created, err := e.txs.Save(ctx, "alice", expense("w1", "100"))
	require.NoError(t, err)
	assert.Equal(t, "900.00", e.balance(t, "w1"))

	e.store.failCommit["w2"] = core.StorageFailure("commit", errors.New("disk full"))
	e.publisher.EXPECT().PublishPartial(gomock.Any(), gomock.Any()).Return(nil)
	moved := TransactionInput{ID: created.Transaction.ID, WalletID: "w2", Kind: core.Income, Amount: amt("100"), Date: fixedNow}
	_, err = e.txs.Save(ctx, "alice", moved)
	require.ErrorIs(t, err, core.ErrPartialReconciliation)

	// Still failing: rejected without touching the source again.
	_, err = e.txs.Save(ctx, "alice", moved)
	require.ErrorIs(t, err, core.ErrConflict)
	assert.Equal(t, "1000.00", e.balance(t, "w1"))
	assert.Equal(t, "0.00", e.balance(t, "w2"))

	delete(e.store.failCommit, "w2")
	got, err := e.txs.Get(ctx, "alice", created.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, "w2", got.WalletID)

	e.publisher.EXPECT().PublishTransaction(gomock.Any(), amqp.EventTransactionUpdated, gomock.Any()).Return(nil)
	_, err = e.txs.Save(ctx, "alice", moved)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", e.balance(t, "w1"))
	assert.Equal(t, "100.00", e.balance(t, "w2"))

	e.publisher.EXPECT().PublishTransaction(gomock.Any(), amqp.EventTransactionDeleted, gomock.Any()).Return(nil)
	_, err = e.txs.Delete(ctx, "alice", created.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", e.balance(t, "w1"))
	assert.Equal(t, "0.00", e.balance(t, "w2"))
}

func TestTransactionService_PublishFailureIsNotFatal(t *testing.T) {
	e := newEnv(t)
	e.seedWallet(t, "w1", "alice", "10")
	e.publisher.EXPECT().PublishTransaction(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("circuit breaker is open"))

	_, err := e.txs.Save(context.Background(), "alice", expense("w1", "10"))
	require.NoError(t, err)
	assert.Equal(t, "0.00", e.balance(t, "w1"))
}

func TestTransactionService_NilCollaborators(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	w := core.NewWallet("w1", "alice", "Cash", "", fixedNow)
	w.Balance = amt("5")
	_, err := store.CreateWallet(ctx, w)
	require.NoError(t, err)

	svc := NewTransactionService(store, store, reconcile.NewFromStore(store), nil, nil, nil)

	_, err = svc.Save(ctx, "alice", expense("w1", "5"))
	require.NoError(t, err)

	in := expense("w1", "1")
	in.ImagePath = "/tmp/x.png"
	_, err = svc.Save(ctx, "alice", in)
	assert.ErrorIs(t, err, ErrUploadsDisabled)
}

func TestTransactionService_Recent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedWallet(t, "w1", "alice", "0")
	e.publisher.EXPECT().PublishTransaction(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	for i := range 5 {
		_, err := e.txs.Save(ctx, "alice", TransactionInput{
			WalletID: "w1", Kind: core.Income, Amount: amt("1"), Date: fixedNow.AddDate(0, 0, -i),
		})
		require.NoError(t, err)
	}

	txs, err := e.txs.Recent(ctx, "alice", "", 3)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.True(t, txs[0].Date.After(txs[1].Date))

	txs, err = e.txs.Recent(ctx, "alice", "", 0)
	require.NoError(t, err)
	assert.Len(t, txs, 5)

	txs, err = e.txs.Recent(ctx, "bob", "", 0)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestStatsService_InvalidatedByWrites(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.seedWallet(t, "w1", "alice", "0")
	e.publisher.EXPECT().PublishTransaction(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	before, err := e.stats.Report(ctx, "alice", stats.Weekly)
	require.NoError(t, err)
	in, _ := before.Totals()
	assert.True(t, in.IsZero())

	_, err = e.txs.Save(ctx, "alice", TransactionInput{WalletID: "w1", Kind: core.Income, Amount: amt("42"), Date: fixedNow})
	require.NoError(t, err)

	after, err := e.stats.Report(ctx, "alice", stats.Weekly)
	require.NoError(t, err)
	in, _ = after.Totals()
	assert.Equal(t, "42", in.String())
	assert.Len(t, after.Transactions, 1)
}

// slowReads holds the first transaction query after it has read the store.
type slowReads struct {
	storage.Store
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (s *slowReads) QueryTransactions(ctx context.Context, q core.TransactionQuery) ([]core.Transaction, error) {
	txs, err := s.Store.QueryTransactions(ctx, q)
	s.once.Do(func() {
		close(s.started)
		<-s.release
	})
	return txs, err
}

func TestStatsService_InvalidateDuringBuild(t *testing.T) {
	ctx := context.Background()
	store := &slowReads{Store: memory.New(), started: make(chan struct{}), release: make(chan struct{})}
	svc := NewStatsService(stats.NewAggregator(store, stats.WithClock(func() time.Time { return fixedNow })), time.Hour)

	staleCh := make(chan stats.Report, 1)
	go func() {
		r, err := svc.Report(ctx, "alice", stats.Weekly)
		assert.NoError(t, err)
		staleCh <- r
	}()
	<-store.started

	// A write lands while the first build holds its snapshot.
	_, err := store.CreateWallet(ctx, core.NewWallet("w1", "alice", "Wallet", "", fixedNow))
	require.NoError(t, err)
	require.NoError(t, store.SaveTransaction(ctx, core.Transaction{
		ID: "t1", OwnerID: "alice", WalletID: "w1", Kind: core.Income, Amount: amt("42"), Date: fixedNow,
	}))
	svc.Invalidate("alice")

	// Requests after the invalidation do not join the running build.
	fresh, err := svc.Report(ctx, "alice", stats.Weekly)
	require.NoError(t, err)
	in, _ := fresh.Totals()
	assert.Equal(t, "42", in.String())

	close(store.release)
	stale := <-staleCh
	in, _ = stale.Totals()
	assert.True(t, in.IsZero())

	// The older build did not overwrite the cache.
	cached, err := svc.Report(ctx, "alice", stats.Weekly)
	require.NoError(t, err)
	in, _ = cached.Totals()
	assert.Equal(t, "42", in.String())
}

func TestStatsService_MissingOwner(t *testing.T) {
	e := newEnv(t)
	_, err := e.stats.Report(context.Background(), "", stats.Monthly)
	assert.ErrorIs(t, err, core.ErrMissingOwner)
}
