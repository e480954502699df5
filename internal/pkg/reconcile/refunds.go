package reconcile

import (
	"fmt"
	"time"

	"github.com/ManuelReschke/MealPay/app/models"
	"github.com/ManuelReschke/MealPay/app/repository"
	"github.com/ManuelReschke/MealPay/internal/pkg/audit"
	"github.com/ManuelReschke/MealPay/internal/pkg/billing"
	"github.com/gofiber/fiber/v2/log"
)

// RefundOutcome describes the effect of a refund event.
type RefundOutcome struct {
	RefundID      string
	TransactionID string
	Duplicate     bool
	FullyRefunded bool
}

// RefundRecorder stores refunds once per provider refund id.
type RefundRecorder struct {
	audit *audit.Logger
	now   func() time.Time
}

// NewRefundRecorder creates a recorder.
func NewRefundRecorder(auditLog *audit.Logger, now func() time.Time) *RefundRecorder {
	if now == nil {
		now = time.Now
	}
	return &RefundRecorder{audit: auditLog, now: now}
}

// Record creates the refund and stamps the transaction. A refund id that is
// already known is skipped without error. The transaction moves to refunded
// when its non-failed refunds cover the full amount.
func (r *RefundRecorder) Record(tx repository.Tx, eventID string, ev billing.RefundCreated) (*RefundOutcome, error) {
	if existing, err := tx.GetPaymentRefundByProviderRefundID(ev.ProviderRefundID); err == nil {
		log.Infof("[Refund] Refund %s already recorded, skipping", ev.ProviderRefundID)
		return &RefundOutcome{RefundID: existing.ID, TransactionID: existing.PaymentTransactionID, Duplicate: true}, nil
	} else if !repository.IsNotFound(err) {
		return nil, fmt.Errorf("load refund %s: %w", ev.ProviderRefundID, err)
	}

	txs, err := tx.FindPaymentTransactions(ev.ProviderPaymentID)
	if err != nil {
		return nil, fmt.Errorf("load transactions for %s: %w", ev.ProviderPaymentID, err)
	}
	if len(txs) == 0 {
		return nil, fmt.Errorf("%w: provider payment %s", ErrTransactionNotFound, ev.ProviderPaymentID)
	}
	t := pickRefundable(txs)

	refund := &models.PaymentRefund{
		ProviderRefundID:     ev.ProviderRefundID,
		PaymentTransactionID: t.ID,
		Amount:               ev.Amount,
		Currency:             ev.Currency,
		Status:               ev.Status,
		Notes:                ev.Notes,
	}
	if refund.Currency == "" {
		refund.Currency = t.Currency
	}
	created, err := tx.CreatePaymentRefundIfNotExists(refund)
	if err != nil {
		return nil, fmt.Errorf("create refund %s: %w", ev.ProviderRefundID, err)
	}
	if !created {
		return &RefundOutcome{TransactionID: t.ID, Duplicate: true}, nil
	}

	now := r.now()
	out := &RefundOutcome{RefundID: refund.ID, TransactionID: t.ID}
	entry := audit.Entry{
		EntityType: audit.EntityPaymentTransaction,
		EntityID:   t.ID,
		Action:     string(billing.KindRefundCreated),
		EventID:    eventID,
	}
	entry.With("provider_refund_id", ev.ProviderRefundID)
	entry.With("refund_id", refund.ID)
	entry.With("amount", ev.Amount)
	entry.With("currency", refund.Currency)
	entry.With("refund_status", string(ev.Status))

	fromStatus := t.Status
	t.RefundedAt = &now
	if ev.Status != models.RefundStatusFailed && t.Status == models.PaymentStatusCaptured {
		total, err := tx.SumRefunds(t.ID)
		if err != nil {
			return nil, fmt.Errorf("sum refunds for %s: %w", t.ID, err)
		}
		if t.Amount > 0 && total >= t.Amount {
			if _, err := t.MarkRefunded(now); err != nil {
				return nil, err
			}
			out.FullyRefunded = true
		}
	}
	if err := tx.SavePaymentTransaction(t); err != nil {
		return nil, fmt.Errorf("save transaction %s: %w", t.ID, err)
	}
	entry.Set("status", fromStatus, t.Status)

	if err := r.audit.Record(tx, entry); err != nil {
		return nil, err
	}
	log.Infof("[Refund] Recorded refund %s (%d %s) for transaction %s", ev.ProviderRefundID, ev.Amount, refund.Currency, t.ID)
	return out, nil
}

// pickRefundable prefers a captured or refunded transaction over others.
func pickRefundable(txs []models.PaymentTransaction) *models.PaymentTransaction {
	for i := range txs {
		if txs[i].Status == models.PaymentStatusCaptured || txs[i].Status == models.PaymentStatusRefunded {
			return &txs[i]
		}
	}
	return &txs[0]
}
