package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dompet/internal/amqp"
	"dompet/internal/attachment"
	"dompet/internal/core"
	"dompet/internal/log"
	"dompet/internal/storage"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// WalletProfile carries the client-editable wallet fields.
type WalletProfile struct {
	// Name is left unchanged on update when nil.
	Name       *string
	ImagePath  string
	ClearImage bool
}

// Home is the owner's overview: totals across wallets plus recent activity.
type Home struct {
	Summary core.Summary
	Wallets []core.Wallet
	Recent  []core.Transaction
}

// WalletService manages the wallet lifecycle. Balances are never set here;
// they only move through reconciliation.
type WalletService struct {
	wallets   storage.WalletStore
	records   storage.TransactionStore
	uploader  attachment.Uploader
	publisher Publisher
	stats     *StatsService
	logger    *log.Logger
	now       func() time.Time
}

// NewWalletService wires the service. uploader, publisher and stats may be nil.
func NewWalletService(
	wallets storage.WalletStore,
	records storage.TransactionStore,
	uploader attachment.Uploader,
	publisher Publisher,
	stats *StatsService,
) *WalletService {
	return &WalletService{
		wallets:   wallets,
		records:   records,
		uploader:  uploader,
		publisher: publisher,
		stats:     stats,
		logger:    log.Default(log.ComponentWallet),
		now:       time.Now,
	}
}

// Create adds a wallet with zero balance and totals.
func (s *WalletService) Create(ctx context.Context, ownerID, name, imagePath string) (core.Wallet, error) {
	w := core.NewWallet(uuid.NewString(), ownerID, name, "", s.now().UTC())
	if err := w.Validate(); err != nil {
		return core.Wallet{}, err
	}
	if imagePath != "" {
		ref, err := s.upload(ctx, imagePath)
		if err != nil {
			return core.Wallet{}, err
		}
		w.Image = ref
	}

	created, err := s.wallets.CreateWallet(ctx, w)
	if err != nil {
		return core.Wallet{}, fmt.Errorf("create wallet: %w", err)
	}
	s.logger.InfoContext(ctx, "Wallet created", log.FieldWalletID, created.ID, log.FieldOwnerID, ownerID)
	return created, nil
}

// UpdateProfile renames the wallet or changes its image.
func (s *WalletService) UpdateProfile(ctx context.Context, ownerID, id string, p WalletProfile) (core.Wallet, error) {
	w, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return core.Wallet{}, err
	}
	if p.Name != nil {
		w.Name = strings.TrimSpace(*p.Name)
	}
	if p.ClearImage {
		w.Image = ""
	}
	if err := w.Validate(); err != nil {
		return core.Wallet{}, err
	}
	if p.ImagePath != "" {
		ref, err := s.upload(ctx, p.ImagePath)
		if err != nil {
			return core.Wallet{}, err
		}
		w.Image = ref
	}

	updated, err := s.wallets.UpdateWalletProfile(ctx, w)
	if err != nil {
		return core.Wallet{}, core.StorageFailure("update wallet", err)
	}
	return updated, nil
}

// Delete removes the wallet together with its transactions. A deleted event
// is published for each removed transaction.
func (s *WalletService) Delete(ctx context.Context, ownerID, id string) error {
	w, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}

	var removed []core.Transaction
	if s.publisher != nil {
		removed, err = s.records.QueryTransactions(ctx, core.TransactionQuery{OwnerID: ownerID, WalletID: w.ID})
		if err != nil {
			return fmt.Errorf("list wallet transactions: %w", err)
		}
	}

	if err := s.wallets.DeleteWallet(ctx, w.ID); err != nil {
		return core.StorageFailure("delete wallet", err)
	}
	s.stats.Invalidate(ownerID)
	s.logger.InfoContext(ctx, "Wallet deleted", log.FieldWalletID, w.ID, "transactions", len(removed))

	for _, tx := range removed {
		if err := s.publisher.PublishTransaction(ctx, amqp.EventTransactionDeleted, tx); err != nil {
			s.logger.WarnContext(ctx, "Failed to publish transaction event",
				log.FieldTransactionID, tx.ID,
				log.FieldError, err)
			break
		}
	}
	return nil
}

// Get returns one of the owner's wallets.
func (s *WalletService) Get(ctx context.Context, ownerID, id string) (core.Wallet, error) {
	if ownerID == "" {
		return core.Wallet{}, core.ErrMissingOwner
	}
	w, err := s.wallets.GetWallet(ctx, id)
	if err != nil {
		return core.Wallet{}, core.StorageFailure("get wallet", err)
	}
	if w.OwnerID != ownerID {
		return core.Wallet{}, core.ErrWalletNotFound
	}
	return w, nil
}

func (s *WalletService) List(ctx context.Context, ownerID string) ([]core.Wallet, error) {
	if ownerID == "" {
		return nil, core.ErrMissingOwner
	}
	ws, err := s.wallets.ListWallets(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	return ws, nil
}

// Home loads wallets and recent transactions concurrently and totals the wallets.
func (s *WalletService) Home(ctx context.Context, ownerID string, recent int) (Home, error) {
	if ownerID == "" {
		return Home{}, core.ErrMissingOwner
	}
	if recent <= 0 {
		recent = DefaultRecentLimit
	}

	var home Home
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ws, err := s.wallets.ListWallets(gctx, ownerID)
		if err != nil {
			return fmt.Errorf("list wallets: %w", err)
		}
		home.Wallets = ws
		return nil
	})
	g.Go(func() error {
		txs, err := s.records.QueryTransactions(gctx, core.TransactionQuery{OwnerID: ownerID, Limit: recent})
		if err != nil {
			return fmt.Errorf("list transactions: %w", err)
		}
		home.Recent = txs
		return nil
	})
	if err := g.Wait(); err != nil {
		return Home{}, err
	}

	for _, w := range home.Wallets {
		home.Summary = home.Summary.Add(w)
	}
	return home, nil
}

func (s *WalletService) upload(ctx context.Context, localPath string) (string, error) {
	if s.uploader == nil {
		return "", ErrUploadsDisabled
	}
	ref, err := s.uploader.Upload(ctx, localPath, attachment.FolderWallets)
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	return ref, nil
}
