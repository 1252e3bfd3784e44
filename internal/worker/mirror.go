package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"dompet/internal/amqp"
	"dompet/internal/core"
	"dompet/internal/log"
	"dompet/internal/sheets"
)

// TransactionReader loads the current record of a transaction.
type TransactionReader interface {
	GetTransaction(ctx context.Context, id string) (core.Transaction, error)
}

// Mirror consumes transaction events. It keeps the spreadsheet copy of the
// transaction log in step and replays groups named by partial alerts.
type Mirror struct {
	sheets  sheets.TransactionMirror
	records TransactionReader
	resumer Resumer
}

// NewMirror wires the handler. sheets may be nil when mirroring is disabled.
func NewMirror(mirror sheets.TransactionMirror, records TransactionReader, resumer Resumer) *Mirror {
	return &Mirror{sheets: mirror, records: records, resumer: resumer}
}

// Handle processes one message. A returned error requeues it.
func (m *Mirror) Handle(ctx context.Context, msg *amqp.Message) error {
	switch msg.Type {
	case amqp.EventTransactionCreated, amqp.EventTransactionUpdated:
		if m.sheets == nil {
			return nil
		}
		return m.upsert(ctx, msg.Transaction.ToTransaction())

	case amqp.EventTransactionDeleted:
		if m.sheets == nil {
			return nil
		}
		return m.remove(ctx, msg.Transaction.ID)

	case amqp.EventReconciliationPartial:
		return m.handlePartial(ctx, msg.Partial)

	default:
		slog.WarnContext(ctx, "Ignoring unknown message type", "type", msg.Type)
		return nil
	}
}

// Refresh rewrites the row of transactionID from the stored record, or
// clears it when the record is gone. A replayed group changes the record
// without a transaction event, so the sheet is brought in step here.
func (m *Mirror) Refresh(ctx context.Context, transactionID string) error {
	if m.sheets == nil || m.records == nil || transactionID == "" {
		return nil
	}
	tx, err := m.records.GetTransaction(ctx, transactionID)
	if errors.Is(err, core.ErrTransactionNotFound) {
		return m.remove(ctx, transactionID)
	}
	if err != nil {
		return fmt.Errorf("load transaction %s: %w", transactionID, err)
	}
	return m.upsert(ctx, tx)
}

func (m *Mirror) upsert(ctx context.Context, tx core.Transaction) error {
	ref, err := m.sheets.Upsert(ctx, tx)
	if err != nil {
		return fmt.Errorf("mirror transaction %s: %w", tx.ID, err)
	}
	slog.InfoContext(ctx, "Mirrored transaction",
		log.FieldTransactionID, tx.ID,
		log.FieldSheetsRef, ref)
	return nil
}

func (m *Mirror) remove(ctx context.Context, id string) error {
	if err := m.sheets.Remove(ctx, id); err != nil {
		return fmt.Errorf("remove mirrored transaction %s: %w", id, err)
	}
	slog.InfoContext(ctx, "Removed mirrored transaction", log.FieldTransactionID, id)
	return nil
}

// handlePartial tries an immediate replay. Failures are left to the
// periodic recovery sweep instead of requeueing the alert.
func (m *Mirror) handlePartial(ctx context.Context, p *amqp.PartialPayload) error {
	slog.ErrorContext(ctx, "Partial reconciliation reported",
		log.FieldGroupID, p.GroupID,
		log.FieldTransactionID, p.TransactionID,
		"committed_wallet_id", p.CommittedWalletID,
		"pending_wallet_id", p.PendingWalletID,
		"reason", p.Reason)

	if m.resumer == nil {
		return nil
	}
	n, err := m.resumer.Resume(ctx, p.GroupID)
	if err != nil {
		slog.WarnContext(ctx, "Immediate replay failed, leaving group to recovery",
			log.FieldGroupID, p.GroupID,
			log.FieldError, err)
		return nil
	}
	slog.InfoContext(ctx, "Replayed partial reconciliation", log.FieldGroupID, p.GroupID, "entries", n)
	// Also refreshed when another replayer finished the group first. A failed
	// refresh requeues the alert.
	return m.Refresh(ctx, p.TransactionID)
}
