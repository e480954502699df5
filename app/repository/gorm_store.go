package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/MealPay/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Models lists every table owned or touched by the webhook pipeline.
func Models() []interface{} {
	return []interface{}{
		&models.WebhookEvent{},
		&models.PaymentOrder{},
		&models.PaymentTransaction{},
		&models.Order{},
		&models.Subscription{},
		&models.BillingCycle{},
		&models.PaymentRefund{},
		&models.AuditLog{},
	}
}

// GormStore is the Store backed by a SQL database through GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a store using the given connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB returns the underlying connection.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&gormTx{db: db})
	})
}

type gormTx struct {
	db *gorm.DB
}

// locking returns a row lock clause. sqlite serializes writers and has no
// SELECT ... FOR UPDATE.
func (r *gormTx) locking() *gorm.DB {
	if r.db.Dialector.Name() == "sqlite" {
		return r.db
	}
	return r.db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (r *gormTx) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	stored, err := r.GetWebhookEvent(event.Provider, event.EventID)
	if err != nil {
		return false, nil, err
	}
	return created, stored, nil
}

func (r *gormTx) GetWebhookEvent(provider, eventID string) (*models.WebhookEvent, error) {
	var stored models.WebhookEvent
	if err := r.db.Where("provider = ? AND event_id = ?", provider, eventID).First(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *gormTx) ReclaimWebhookEvent(id string, from models.WebhookOutcome, attempts int, now time.Time) (bool, error) {
	res := r.db.Model(&models.WebhookEvent{}).
		Where("id = ? AND outcome = ? AND attempts = ?", id, from, attempts).
		Updates(map[string]interface{}{
			"outcome":          models.WebhookOutcomeProcessing,
			"attempts":         attempts + 1,
			"claimed_at":       now,
			"processing_error": "",
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *gormTx) FinishWebhookEvent(id string, outcome models.WebhookOutcome, processingError string, now time.Time) error {
	updates := map[string]interface{}{
		"outcome":          outcome,
		"processing_error": processingError,
	}
	if outcome == models.WebhookOutcomeProcessed {
		updates["processed_at"] = &now
	}
	// A processed event is never touched again.
	res := r.db.Model(&models.WebhookEvent{}).
		Where("id = ? AND outcome <> ?", id, models.WebhookOutcomeProcessed).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *gormTx) ListWebhookEvents(outcome models.WebhookOutcome, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	q := r.db.Where("outcome = ?", outcome).Order("received_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&events).Error
	return events, err
}

func (r *gormTx) FindPaymentTransactions(providerPaymentID string) ([]models.PaymentTransaction, error) {
	var txs []models.PaymentTransaction
	err := r.locking().Where("provider_payment_id = ?", providerPaymentID).Order("created_at ASC").Find(&txs).Error
	return txs, err
}

func (r *gormTx) SavePaymentTransaction(t *models.PaymentTransaction) error {
	return r.db.Save(t).Error
}

func (r *gormTx) GetPaymentOrderByProviderOrderID(providerOrderID string) (*models.PaymentOrder, error) {
	var po models.PaymentOrder
	if err := r.locking().Where("provider_order_id = ?", providerOrderID).First(&po).Error; err != nil {
		return nil, err
	}
	return &po, nil
}

func (r *gormTx) SavePaymentOrder(po *models.PaymentOrder) error {
	return r.db.Save(po).Error
}

func (r *gormTx) GetOrder(id string) (*models.Order, error) {
	var o models.Order
	if err := r.locking().Where("id = ?", id).First(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *gormTx) SaveOrder(o *models.Order) error {
	return r.db.Model(o).Select("status", "payment_status", "updated_at").Updates(o).Error
}

func (r *gormTx) SubscriptionForUpdate(id string) (*models.Subscription, error) {
	var s models.Subscription
	if err := r.locking().Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *gormTx) SaveSubscription(s *models.Subscription) error {
	return r.db.Model(s).Select("status", "dunning_attempts", "suspended_at", "updated_at").Updates(s).Error
}

func (r *gormTx) GetProcessingBillingCycle(subscriptionID string) (*models.BillingCycle, error) {
	var c models.BillingCycle
	err := r.locking().
		Where("subscription_id = ? AND status = ?", subscriptionID, models.BillingCycleProcessing).
		Order("created_at DESC").
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *gormTx) GetBillingCycleByPaymentID(subscriptionID, paymentID string) (*models.BillingCycle, error) {
	var c models.BillingCycle
	if err := r.db.Where("subscription_id = ? AND payment_id = ?", subscriptionID, paymentID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *gormTx) SettleBillingCycle(cycle *models.BillingCycle, to models.BillingCycleStatus, paymentID *string, reason string, now time.Time) (bool, error) {
	if err := cycle.CanSettle(to); err != nil {
		return false, err
	}
	updates := map[string]interface{}{
		"status":         to,
		"payment_id":     paymentID,
		"failure_reason": reason,
		"settled_at":     now,
	}
	res := r.db.Model(&models.BillingCycle{}).
		Where("id = ? AND status = ?", cycle.ID, models.BillingCycleProcessing).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	cycle.Status = to
	cycle.PaymentID = paymentID
	cycle.FailureReason = reason
	cycle.SettledAt = &now
	return true, nil
}

func (r *gormTx) GetPaymentRefundByProviderRefundID(providerRefundID string) (*models.PaymentRefund, error) {
	var ref models.PaymentRefund
	if err := r.db.Where("provider_refund_id = ?", providerRefundID).First(&ref).Error; err != nil {
		return nil, err
	}
	return &ref, nil
}

func (r *gormTx) CreatePaymentRefundIfNotExists(ref *models.PaymentRefund) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_refund_id"}},
		DoNothing: true,
	}).Create(ref)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormTx) SumRefunds(paymentTransactionID string) (int64, error) {
	var total int64
	err := r.db.Model(&models.PaymentRefund{}).
		Where("payment_transaction_id = ? AND status <> ?", paymentTransactionID, models.RefundStatusFailed).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

func (r *gormTx) CreateAuditLog(entry *models.AuditLog) error {
	return r.db.Create(entry).Error
}

func (r *gormTx) ListAuditLogs(entityType, entityID string) ([]models.AuditLog, error) {
	var entries []models.AuditLog
	err := r.db.Where("entity_type = ? AND entity_id = ?", entityType, entityID).Order("created_at ASC").Find(&entries).Error
	return entries, err
}

func (r *gormTx) ListAuditLogsByEvent(eventID string) ([]models.AuditLog, error) {
	var entries []models.AuditLog
	err := r.db.Where("event_id = ?", eventID).Order("created_at ASC").Find(&entries).Error
	return entries, err
}

// IsNotFound reports whether err means no record matched.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
