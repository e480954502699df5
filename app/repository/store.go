package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/MealPay/app/models"
)

// Store is the record store used by the webhook pipeline. All reads and writes
// go through a unit of work; fn's writes commit together or not at all.
type Store interface {
	Transaction(ctx context.Context, fn func(tx Tx) error) error
}

// Tx exposes the record operations available inside one unit of work.
// Finders return gorm.ErrRecordNotFound when nothing matches.
type Tx interface {
	WebhookEventRepository
	PaymentRepository
	BillingRepository
	RefundRepository
	AuditRepository
}

// WebhookEventRepository defines the claim record operations of the replay guard.
type WebhookEventRepository interface {
	// CreateWebhookEventIfNotExists inserts the event unless (provider, event_id)
	// is taken. It reports whether the insert happened and returns the stored row.
	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	GetWebhookEvent(provider, eventID string) (*models.WebhookEvent, error)
	// ReclaimWebhookEvent moves an event back to processing when it is still in
	// outcome `from` with the given attempt count. It reports whether this caller won.
	ReclaimWebhookEvent(id string, from models.WebhookOutcome, attempts int, now time.Time) (bool, error)
	FinishWebhookEvent(id string, outcome models.WebhookOutcome, processingError string, now time.Time) error
	ListWebhookEvents(outcome models.WebhookOutcome, limit int) ([]models.WebhookEvent, error)
}

// PaymentRepository covers payment transactions, payment orders and meal orders.
type PaymentRepository interface {
	FindPaymentTransactions(providerPaymentID string) ([]models.PaymentTransaction, error)
	SavePaymentTransaction(t *models.PaymentTransaction) error
	GetPaymentOrderByProviderOrderID(providerOrderID string) (*models.PaymentOrder, error)
	SavePaymentOrder(po *models.PaymentOrder) error
	GetOrder(id string) (*models.Order, error)
	SaveOrder(o *models.Order) error
}

// BillingRepository covers subscriptions and their billing cycles.
type BillingRepository interface {
	// SubscriptionForUpdate loads the subscription and locks the row for the
	// rest of the unit of work where the database supports it.
	SubscriptionForUpdate(id string) (*models.Subscription, error)
	SaveSubscription(s *models.Subscription) error
	GetProcessingBillingCycle(subscriptionID string) (*models.BillingCycle, error)
	GetBillingCycleByPaymentID(subscriptionID, paymentID string) (*models.BillingCycle, error)
	// SettleBillingCycle moves a processing cycle to a terminal status. It
	// reports false when the cycle was no longer processing.
	SettleBillingCycle(cycle *models.BillingCycle, to models.BillingCycleStatus, paymentID *string, reason string, now time.Time) (bool, error)
}

// RefundRepository covers payment refunds.
type RefundRepository interface {
	GetPaymentRefundByProviderRefundID(providerRefundID string) (*models.PaymentRefund, error)
	// CreatePaymentRefundIfNotExists inserts the refund unless its provider
	// refund id is already recorded.
	CreatePaymentRefundIfNotExists(r *models.PaymentRefund) (bool, error)
	SumRefunds(paymentTransactionID string) (int64, error)
}

// AuditRepository appends audit entries. There is no update or delete.
type AuditRepository interface {
	CreateAuditLog(entry *models.AuditLog) error
	ListAuditLogs(entityType, entityID string) ([]models.AuditLog, error)
	ListAuditLogsByEvent(eventID string) ([]models.AuditLog, error)
}

var (
	_ Store = (*GormStore)(nil)
	_ Store = (*MemoryStore)(nil)
	_ Tx    = (*gormTx)(nil)
	_ Tx    = (*memoryTx)(nil)
)
