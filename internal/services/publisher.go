package services

import (
	"context"

	"dompet/internal/amqp"
	"dompet/internal/core"
)

// Publisher emits transaction events and partial reconciliation alerts.
// *amqp.Client implements it; a nil Publisher disables events.
//
//go:generate mockgen -destination=mocks/mock_publisher.go -package=mock_services -source=publisher.go Publisher
type Publisher interface {
	PublishTransaction(ctx context.Context, t amqp.EventType, tx core.Transaction) error
	PublishPartial(ctx context.Context, e *core.PartialReconciliationError) error
}
