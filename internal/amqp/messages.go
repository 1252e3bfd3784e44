package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"dompet/internal/core"

	"github.com/shopspring/decimal"
)

// EventType identifies the payload carried by a Message.
type EventType string

const (
	EventTransactionCreated    EventType = "transaction.created"
	EventTransactionUpdated    EventType = "transaction.updated"
	EventTransactionDeleted    EventType = "transaction.deleted"
	EventReconciliationPartial EventType = "reconciliation.partial"
)

// TransactionPayload is the wire snapshot of a transaction. Deleted events
// carry the last stored state.
type TransactionPayload struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	WalletID    string          `json:"wallet_id"`
	Kind        core.Kind       `json:"kind"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category,omitempty"`
	Date        time.Time       `json:"date"`
	Description string          `json:"description,omitempty"`
	Image       string          `json:"image,omitempty"`
}

// PartialPayload describes a reconciliation left half applied.
type PartialPayload struct {
	GroupID           string `json:"group_id"`
	TransactionID     string `json:"transaction_id"`
	CommittedWalletID string `json:"committed_wallet_id"`
	PendingWalletID   string `json:"pending_wallet_id"`
	Reason            string `json:"reason"`
}

// Message is the envelope published on the exchange.
type Message struct {
	Type        EventType           `json:"type"`
	Transaction *TransactionPayload `json:"transaction,omitempty"`
	Partial     *PartialPayload     `json:"partial,omitempty"`
	Timestamp   time.Time           `json:"timestamp"`
}

// NewTransactionMessage wraps a transaction snapshot.
func NewTransactionMessage(t EventType, tx core.Transaction) *Message {
	return &Message{
		Type: t,
		Transaction: &TransactionPayload{
			ID:          tx.ID,
			OwnerID:     tx.OwnerID,
			WalletID:    tx.WalletID,
			Kind:        tx.Kind,
			Amount:      tx.Amount,
			Category:    tx.Category,
			Date:        tx.Date,
			Description: tx.Description,
			Image:       tx.Image,
		},
		Timestamp: time.Now(),
	}
}

// NewPartialMessage builds an alert from a partial reconciliation error.
func NewPartialMessage(e *core.PartialReconciliationError) *Message {
	reason := ""
	if e.Err != nil {
		reason = e.Err.Error()
	}
	return &Message{
		Type: EventReconciliationPartial,
		Partial: &PartialPayload{
			GroupID:           e.GroupID,
			TransactionID:     e.TransactionID,
			CommittedWalletID: e.CommittedWalletID,
			PendingWalletID:   e.PendingWalletID,
			Reason:            reason,
		},
		Timestamp: time.Now(),
	}
}

// ToTransaction converts the payload back to the domain type.
func (p *TransactionPayload) ToTransaction() core.Transaction {
	return core.Transaction{
		ID:          p.ID,
		OwnerID:     p.OwnerID,
		WalletID:    p.WalletID,
		Kind:        p.Kind,
		Amount:      p.Amount,
		Category:    p.Category,
		Date:        p.Date,
		Description: p.Description,
		Image:       p.Image,
	}
}

// ToJSON converts the message to JSON bytes
func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// MessageFromJSON decodes and checks an envelope.
func MessageFromJSON(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Type {
	case EventTransactionCreated, EventTransactionUpdated, EventTransactionDeleted:
		if msg.Transaction == nil || msg.Transaction.ID == "" {
			return nil, fmt.Errorf("%s message without transaction", msg.Type)
		}
	case EventReconciliationPartial:
		if msg.Partial == nil || msg.Partial.GroupID == "" {
			return nil, fmt.Errorf("%s message without group", msg.Type)
		}
	default:
		return nil, fmt.Errorf("unknown message type %q", msg.Type)
	}
	return &msg, nil
}
