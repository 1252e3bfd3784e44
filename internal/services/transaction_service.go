package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dompet/internal/amqp"
	"dompet/internal/attachment"
	"dompet/internal/core"
	"dompet/internal/log"
	"dompet/internal/reconcile"
	"dompet/internal/storage"

	"github.com/shopspring/decimal"
)

const (
	DefaultRecentLimit = 30
	MaxRecentLimit     = 500
)

var ErrUploadsDisabled = fmt.Errorf("%w: image uploads are not configured", core.ErrInvalidInput)

// TransactionInput is a create (empty ID) or edit request.
type TransactionInput struct {
	ID          string
	WalletID    string
	Kind        core.Kind
	Amount      decimal.Decimal
	Category    string
	Date        time.Time
	Description string
	// ImagePath is a locally staged file uploaded before reconciliation.
	ImagePath string
	// ClearImage drops the stored image reference on edit.
	ClearImage bool
}

// TransactionService validates, uploads, reconciles and publishes
// transaction writes for one owner at a time.
type TransactionService struct {
	wallets    storage.WalletStore
	records    storage.TransactionStore
	reconciler *reconcile.Reconciler
	uploader   attachment.Uploader
	publisher  Publisher
	stats      *StatsService
	logger     *log.Logger
	structured *log.StructuredLogger
}

// NewTransactionService wires the service. uploader, publisher and stats may be nil.
func NewTransactionService(
	wallets storage.WalletStore,
	records storage.TransactionStore,
	reconciler *reconcile.Reconciler,
	uploader attachment.Uploader,
	publisher Publisher,
	stats *StatsService,
) *TransactionService {
	logger := log.Default(log.ComponentTransaction)
	return &TransactionService{
		wallets:    wallets,
		records:    records,
		reconciler: reconciler,
		uploader:   uploader,
		publisher:  publisher,
		stats:      stats,
		logger:     logger,
		structured: log.NewStructuredLogger(logger),
	}
}

// Save creates or edits a transaction and reconciles the affected wallets.
// On a partial reconciliation the returned result holds the wallets already
// committed and the error is a *core.PartialReconciliationError.
func (s *TransactionService) Save(ctx context.Context, ownerID string, in TransactionInput) (reconcile.Result, error) {
	tx := core.Transaction{
		ID:          strings.TrimSpace(in.ID),
		OwnerID:     ownerID,
		WalletID:    strings.TrimSpace(in.WalletID),
		Kind:        in.Kind,
		Amount:      in.Amount,
		Date:        in.Date,
		Description: strings.TrimSpace(in.Description),
	}
	if tx.Kind == core.Expense {
		category, err := core.NormalizeCategory(in.Category)
		if err != nil {
			return reconcile.Result{}, err
		}
		tx.Category = category
	}
	if err := tx.Validate(); err != nil {
		return reconcile.Result{}, err
	}

	event := amqp.EventTransactionCreated
	if tx.ID != "" {
		event = amqp.EventTransactionUpdated
		existing, err := s.settledTransaction(ctx, ownerID, tx.ID)
		if err != nil {
			return reconcile.Result{}, err
		}
		if !in.ClearImage {
			tx.Image = existing.Image
		}
	}
	if _, err := s.ownedWallet(ctx, ownerID, tx.WalletID); err != nil {
		return reconcile.Result{}, err
	}

	if in.ImagePath != "" {
		ref, err := s.upload(ctx, in.ImagePath)
		if err != nil {
			return reconcile.Result{}, err
		}
		tx.Image = ref
	}

	res, err := s.reconciler.Write(ctx, tx)
	if err != nil {
		s.afterFailure(ctx, ownerID, err)
		return res, err
	}

	s.structured.LogTransactionRecorded(ctx, string(event), res.Transaction.ID, res.Transaction.WalletID,
		res.Transaction.Kind.String(), res.Transaction.Amount.StringFixed(core.MoneyScale), res.Transaction.Category)
	s.afterSuccess(ctx, ownerID, event, res.Transaction)
	return res, nil
}

// Delete removes the owner's transaction and reverts its wallet effect.
func (s *TransactionService) Delete(ctx context.Context, ownerID, id string) (reconcile.Result, error) {
	tx, err := s.settledTransaction(ctx, ownerID, id)
	if err != nil {
		return reconcile.Result{}, err
	}

	res, err := s.reconciler.RevertOnDelete(ctx, tx)
	if err != nil {
		s.afterFailure(ctx, ownerID, err)
		return res, err
	}

	s.logger.InfoContext(ctx, "Transaction deleted",
		log.FieldTransactionID, tx.ID,
		log.FieldWalletID, tx.WalletID)
	s.afterSuccess(ctx, ownerID, amqp.EventTransactionDeleted, tx)
	return res, nil
}

// Get returns one of the owner's transactions. Unfinished reconciliations of
// it are finished first when possible, so the record shows where its money is.
func (s *TransactionService) Get(ctx context.Context, ownerID, id string) (core.Transaction, error) {
	if ownerID == "" {
		return core.Transaction{}, core.ErrMissingOwner
	}
	if err := s.reconciler.Settle(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "Reading transaction with unfinished reconciliation",
			log.FieldTransactionID, id,
			log.FieldError, err)
	}
	return s.ownedTransaction(ctx, ownerID, id)
}

// Recent lists the owner's newest transactions, optionally for one wallet.
func (s *TransactionService) Recent(ctx context.Context, ownerID, walletID string, limit int) ([]core.Transaction, error) {
	if ownerID == "" {
		return nil, core.ErrMissingOwner
	}
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	limit = min(limit, MaxRecentLimit)

	txs, err := s.records.QueryTransactions(ctx, core.TransactionQuery{
		OwnerID:  ownerID,
		WalletID: walletID,
		Limit:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

func (s *TransactionService) upload(ctx context.Context, localPath string) (string, error) {
	if s.uploader == nil {
		return "", ErrUploadsDisabled
	}
	ref, err := s.uploader.Upload(ctx, localPath, attachment.FolderTransactions)
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	return ref, nil
}

// settledTransaction is ownedTransaction after finishing unfinished
// reconciliations. Writes must not plan from a record a committed leg moved.
func (s *TransactionService) settledTransaction(ctx context.Context, ownerID, id string) (core.Transaction, error) {
	if ownerID == "" {
		return core.Transaction{}, core.ErrMissingOwner
	}
	if err := s.reconciler.Settle(ctx, id); err != nil {
		return core.Transaction{}, err
	}
	return s.ownedTransaction(ctx, ownerID, id)
}

func (s *TransactionService) ownedTransaction(ctx context.Context, ownerID, id string) (core.Transaction, error) {
	if ownerID == "" {
		return core.Transaction{}, core.ErrMissingOwner
	}
	tx, err := s.records.GetTransaction(ctx, id)
	if err != nil {
		return core.Transaction{}, core.StorageFailure("get transaction", err)
	}
	if tx.OwnerID != ownerID {
		return core.Transaction{}, core.ErrTransactionNotFound
	}
	return tx, nil
}

func (s *TransactionService) ownedWallet(ctx context.Context, ownerID, id string) (core.Wallet, error) {
	w, err := s.wallets.GetWallet(ctx, id)
	if err != nil {
		return core.Wallet{}, core.StorageFailure("get wallet", err)
	}
	if w.OwnerID != ownerID {
		return core.Wallet{}, core.ErrWalletNotFound
	}
	return w, nil
}

func (s *TransactionService) afterSuccess(ctx context.Context, ownerID string, event amqp.EventType, tx core.Transaction) {
	s.stats.Invalidate(ownerID)
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishTransaction(ctx, event, tx); err != nil {
		// The write is durable; the event is best effort.
		s.logger.WarnContext(ctx, "Failed to publish transaction event",
			"event", event,
			log.FieldTransactionID, tx.ID,
			log.FieldError, err)
	}
}

func (s *TransactionService) afterFailure(ctx context.Context, ownerID string, err error) {
	var perr *core.PartialReconciliationError
	if !errors.As(err, &perr) {
		return
	}
	s.stats.Invalidate(ownerID)
	if s.publisher == nil {
		return
	}
	if pubErr := s.publisher.PublishPartial(context.WithoutCancel(ctx), perr); pubErr != nil {
		s.logger.ErrorContext(ctx, "Failed to publish partial reconciliation alert",
			log.FieldGroupID, perr.GroupID,
			log.FieldError, pubErr)
	}
}
