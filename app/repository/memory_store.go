package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ManuelReschke/MealPay/app/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MemoryStore is an in-process Store. Units of work are serialized and run on
// a copy of the data that replaces the committed state only when fn succeeds.
// It backs DB_DRIVER=memory and the package tests of the pipeline.
type MemoryStore struct {
	mu        sync.Mutex
	data      *memoryData
	commitErr error
}

type memoryData struct {
	webhookEvents map[string]models.WebhookEvent
	paymentOrders map[string]models.PaymentOrder
	transactions  map[string]models.PaymentTransaction
	orders        map[string]models.Order
	subscriptions map[string]models.Subscription
	billingCycles map[string]models.BillingCycle
	refunds       map[string]models.PaymentRefund
	auditLogs     []models.AuditLog
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemoryData()}
}

func newMemoryData() *memoryData {
	return &memoryData{
		webhookEvents: map[string]models.WebhookEvent{},
		paymentOrders: map[string]models.PaymentOrder{},
		transactions:  map[string]models.PaymentTransaction{},
		orders:        map[string]models.Order{},
		subscriptions: map[string]models.Subscription{},
		billingCycles: map[string]models.BillingCycle{},
		refunds:       map[string]models.PaymentRefund{},
	}
}

func cloneMap[V any](src map[string]V) map[string]V {
	dst := make(map[string]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func (d *memoryData) clone() *memoryData {
	return &memoryData{
		webhookEvents: cloneMap(d.webhookEvents),
		paymentOrders: cloneMap(d.paymentOrders),
		transactions:  cloneMap(d.transactions),
		orders:        cloneMap(d.orders),
		subscriptions: cloneMap(d.subscriptions),
		billingCycles: cloneMap(d.billingCycles),
		refunds:       cloneMap(d.refunds),
		auditLogs:     append([]models.AuditLog(nil), d.auditLogs...),
	}
}

// SetCommitError makes every following unit of work fail with err. Pass nil
// to restore normal behaviour.
func (s *MemoryStore) SetCommitError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitErr = err
}

func (s *MemoryStore) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return s.commitErr
	}

	work := s.data.clone()
	if err := fn(&memoryTx{data: work}); err != nil {
		return err
	}
	s.data = work
	return nil
}

// Seed inserts or replaces records directly, bypassing units of work.
func (s *MemoryStore) Seed(records ...interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		if hook, ok := rec.(interface{ BeforeCreate(*gorm.DB) error }); ok {
			if err := hook.BeforeCreate(nil); err != nil {
				return err
			}
		}
		switch v := rec.(type) {
		case *models.PaymentOrder:
			s.data.paymentOrders[v.ID] = *v
		case *models.PaymentTransaction:
			s.data.transactions[v.ID] = *v
		case *models.Order:
			s.data.orders[v.ID] = *v
		case *models.Subscription:
			s.data.subscriptions[v.ID] = *v
		case *models.BillingCycle:
			s.data.billingCycles[v.ID] = *v
		case *models.PaymentRefund:
			s.data.refunds[v.ID] = *v
		case *models.WebhookEvent:
			s.data.webhookEvents[v.ID] = *v
		default:
			return fmt.Errorf("memory store: cannot seed %T", rec)
		}
	}
	return nil
}

type memoryTx struct {
	data *memoryData
}

func (m *memoryTx) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	if stored, err := m.GetWebhookEvent(event.Provider, event.EventID); err == nil {
		return false, stored, nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	now := time.Now()
	event.CreatedAt, event.UpdatedAt = now, now
	m.data.webhookEvents[event.ID] = *event
	stored := *event
	return true, &stored, nil
}

func (m *memoryTx) GetWebhookEvent(provider, eventID string) (*models.WebhookEvent, error) {
	for _, e := range m.data.webhookEvents {
		if e.Provider == provider && e.EventID == eventID {
			return &e, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memoryTx) ReclaimWebhookEvent(id string, from models.WebhookOutcome, attempts int, now time.Time) (bool, error) {
	e, ok := m.data.webhookEvents[id]
	if !ok || e.Outcome != from || e.Attempts != attempts {
		return false, nil
	}
	e.Outcome = models.WebhookOutcomeProcessing
	e.Attempts = attempts + 1
	e.ClaimedAt = now
	e.ProcessingError = ""
	e.UpdatedAt = now
	m.data.webhookEvents[id] = e
	return true, nil
}

func (m *memoryTx) FinishWebhookEvent(id string, outcome models.WebhookOutcome, processingError string, now time.Time) error {
	e, ok := m.data.webhookEvents[id]
	if !ok || e.Outcome == models.WebhookOutcomeProcessed {
		return gorm.ErrRecordNotFound
	}
	e.Outcome = outcome
	e.ProcessingError = processingError
	if outcome == models.WebhookOutcomeProcessed {
		e.ProcessedAt = &now
	}
	e.UpdatedAt = now
	m.data.webhookEvents[id] = e
	return nil
}

func (m *memoryTx) ListWebhookEvents(outcome models.WebhookOutcome, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	for _, e := range m.data.webhookEvents {
		if e.Outcome == outcome {
			events = append(events, e)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].ReceivedAt.Before(events[j].ReceivedAt)
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (m *memoryTx) FindPaymentTransactions(providerPaymentID string) ([]models.PaymentTransaction, error) {
	var txs []models.PaymentTransaction
	for _, t := range m.data.transactions {
		if t.ProviderPaymentID == providerPaymentID {
			txs = append(txs, t)
		}
	}
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].ID < txs[j].ID
		}
		return txs[i].CreatedAt.Before(txs[j].CreatedAt)
	})
	return txs, nil
}

func (m *memoryTx) SavePaymentTransaction(t *models.PaymentTransaction) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.UpdatedAt = time.Now()
	m.data.transactions[t.ID] = *t
	return nil
}

func (m *memoryTx) GetPaymentOrderByProviderOrderID(providerOrderID string) (*models.PaymentOrder, error) {
	for _, po := range m.data.paymentOrders {
		if po.ProviderOrderID == providerOrderID {
			return &po, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memoryTx) SavePaymentOrder(po *models.PaymentOrder) error {
	if _, err := po.Purpose(); err != nil {
		return err
	}
	po.UpdatedAt = time.Now()
	m.data.paymentOrders[po.ID] = *po
	return nil
}

func (m *memoryTx) GetOrder(id string) (*models.Order, error) {
	o, ok := m.data.orders[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &o, nil
}

func (m *memoryTx) SaveOrder(o *models.Order) error {
	if _, ok := m.data.orders[o.ID]; !ok {
		return nil
	}
	o.UpdatedAt = time.Now()
	m.data.orders[o.ID] = *o
	return nil
}

func (m *memoryTx) SubscriptionForUpdate(id string) (*models.Subscription, error) {
	s, ok := m.data.subscriptions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &s, nil
}

func (m *memoryTx) SaveSubscription(s *models.Subscription) error {
	if _, ok := m.data.subscriptions[s.ID]; !ok {
		return nil
	}
	s.UpdatedAt = time.Now()
	m.data.subscriptions[s.ID] = *s
	return nil
}

func (m *memoryTx) GetProcessingBillingCycle(subscriptionID string) (*models.BillingCycle, error) {
	var found *models.BillingCycle
	for _, c := range m.data.billingCycles {
		if c.SubscriptionID != subscriptionID || c.Status != models.BillingCycleProcessing {
			continue
		}
		if found == nil || c.CreatedAt.After(found.CreatedAt) {
			cycle := c
			found = &cycle
		}
	}
	if found == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return found, nil
}

func (m *memoryTx) GetBillingCycleByPaymentID(subscriptionID, paymentID string) (*models.BillingCycle, error) {
	for _, c := range m.data.billingCycles {
		if c.SubscriptionID == subscriptionID && c.PaymentID != nil && *c.PaymentID == paymentID {
			return &c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memoryTx) SettleBillingCycle(cycle *models.BillingCycle, to models.BillingCycleStatus, paymentID *string, reason string, now time.Time) (bool, error) {
	if err := cycle.CanSettle(to); err != nil {
		return false, err
	}
	stored, ok := m.data.billingCycles[cycle.ID]
	if !ok || stored.Status != models.BillingCycleProcessing {
		return false, nil
	}
	stored.Status = to
	stored.PaymentID = paymentID
	stored.FailureReason = reason
	stored.SettledAt = &now
	stored.UpdatedAt = now
	m.data.billingCycles[cycle.ID] = stored
	*cycle = stored
	return true, nil
}

func (m *memoryTx) GetPaymentRefundByProviderRefundID(providerRefundID string) (*models.PaymentRefund, error) {
	for _, r := range m.data.refunds {
		if r.ProviderRefundID == providerRefundID {
			return &r, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memoryTx) CreatePaymentRefundIfNotExists(r *models.PaymentRefund) (bool, error) {
	if _, err := m.GetPaymentRefundByProviderRefundID(r.ProviderRefundID); err == nil {
		return false, nil
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.CreatedAt = time.Now()
	m.data.refunds[r.ID] = *r
	return true, nil
}

func (m *memoryTx) SumRefunds(paymentTransactionID string) (int64, error) {
	var total int64
	for _, r := range m.data.refunds {
		if r.PaymentTransactionID == paymentTransactionID && r.Status != models.RefundStatusFailed {
			total += r.Amount
		}
	}
	return total, nil
}

func (m *memoryTx) CreateAuditLog(entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	m.data.auditLogs = append(m.data.auditLogs, *entry)
	return nil
}

func (m *memoryTx) ListAuditLogs(entityType, entityID string) ([]models.AuditLog, error) {
	var entries []models.AuditLog
	for _, e := range m.data.auditLogs {
		if e.EntityType == entityType && e.EntityID == entityID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (m *memoryTx) ListAuditLogsByEvent(eventID string) ([]models.AuditLog, error) {
	var entries []models.AuditLog
	for _, e := range m.data.auditLogs {
		if e.EventID == eventID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}
