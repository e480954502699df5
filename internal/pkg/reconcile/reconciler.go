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

// Result summarizes what a handler changed.
type Result struct {
	PaymentOrderID string
	Purpose        models.PaymentPurpose
	Changed        bool
	// Stale is set when the event lost against a newer state, e.g. a failure
	// arriving after the payment order was already captured.
	Stale   bool
	Dunning *DunningOutcome
	Refund  *RefundOutcome
	Notes   []string
}

func (r *Result) note(format string, args ...interface{}) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, args...))
}

// Reconciler applies payment events to payment orders, transactions, meal
// orders and subscriptions. Every method runs inside the caller's unit of work.
type Reconciler struct {
	dunning *DunningEngine
	audit   *audit.Logger
	now     func() time.Time
}

// NewReconciler creates a reconciler. Subscription failures are delegated to dunning.
func NewReconciler(dunning *DunningEngine, auditLog *audit.Logger, now func() time.Time) *Reconciler {
	if now == nil {
		now = time.Now
	}
	return &Reconciler{dunning: dunning, audit: auditLog, now: now}
}

func (r *Reconciler) loadPaymentOrder(tx repository.Tx, providerOrderID string) (*models.PaymentOrder, models.PaymentPurpose, error) {
	po, err := tx.GetPaymentOrderByProviderOrderID(providerOrderID)
	if err != nil {
		return nil, nil, notFound(err, ErrPaymentOrderNotFound, "payment order", providerOrderID)
	}
	purpose, err := po.Purpose()
	if err != nil {
		return nil, nil, fmt.Errorf("payment order %s: %w", po.ID, err)
	}
	return po, purpose, nil
}

// HandleCaptured settles a successful payment. Re-running it for an already
// captured payment changes nothing and writes no audit entry.
func (r *Reconciler) HandleCaptured(tx repository.Tx, eventID string, ev billing.PaymentCaptured) (*Result, error) {
	now := r.now()
	po, purpose, err := r.loadPaymentOrder(tx, ev.ProviderOrderID)
	if err != nil {
		return nil, err
	}
	res := &Result{PaymentOrderID: po.ID, Purpose: purpose}
	entry := audit.Entry{
		EntityType: audit.EntityPaymentOrder,
		EntityID:   po.ID,
		Action:     string(billing.KindPaymentCaptured),
		EventID:    eventID,
	}
	entry.With("provider_order_id", ev.ProviderOrderID)
	entry.With("provider_payment_id", ev.ProviderPaymentID)
	entry.With("amount", ev.Amount)
	entry.With("currency", ev.Currency)

	txs, err := tx.FindPaymentTransactions(ev.ProviderPaymentID)
	if err != nil {
		return nil, fmt.Errorf("load transactions for %s: %w", ev.ProviderPaymentID, err)
	}
	if len(txs) == 0 {
		res.note("no transaction for payment %s", ev.ProviderPaymentID)
		log.Warnf("[Reconcile] No payment transaction for %s (order %s)", ev.ProviderPaymentID, ev.ProviderOrderID)
	}
	for i := range txs {
		t := &txs[i]
		from := t.Status
		changed, err := t.MarkCaptured(now)
		if err != nil {
			return nil, err
		}
		if !changed {
			continue
		}
		if err := tx.SavePaymentTransaction(t); err != nil {
			return nil, fmt.Errorf("save transaction %s: %w", t.ID, err)
		}
		entry.Set("transaction."+t.ID+".status", from, t.Status)
		res.Changed = true
	}

	from := po.Status
	changed, err := po.TransitionTo(models.PaymentStatusCaptured, now)
	if err != nil {
		return nil, err
	}
	if changed {
		if err := tx.SavePaymentOrder(po); err != nil {
			return nil, fmt.Errorf("save payment order %s: %w", po.ID, err)
		}
		entry.Set("status", from, po.Status)
		res.Changed = true
	}

	switch p := purpose.(type) {
	case models.OrderPayment:
		changed, err := r.applyOrderPayment(tx, &entry, p.OrderID, models.OrderPaymentPaid, models.OrderStatusConfirmed)
		if err != nil {
			return nil, err
		}
		res.Changed = res.Changed || changed
	case models.SubscriptionPayment:
		changed, err := r.settleSubscription(tx, &entry, po, p.SubscriptionID, now)
		if err != nil {
			return nil, err
		}
		res.Changed = res.Changed || changed
	}

	if !res.Changed {
		return res, nil
	}
	if err := r.audit.Record(tx, entry); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Reconciler) applyOrderPayment(tx repository.Tx, entry *audit.Entry, orderID string, payment models.OrderPaymentStatus, status models.OrderStatus) (bool, error) {
	order, err := tx.GetOrder(orderID)
	if err != nil {
		return false, notFound(err, ErrOrderNotFound, "order", orderID)
	}
	fromPayment, fromStatus := order.PaymentStatus, order.Status
	changed, err := order.ApplyPayment(payment, status)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}
	if err := tx.SaveOrder(order); err != nil {
		return false, fmt.Errorf("save order %s: %w", order.ID, err)
	}
	entry.Set("order.payment_status", fromPayment, order.PaymentStatus)
	entry.Set("order.status", fromStatus, order.Status)
	entry.With("order_id", order.ID)
	return true, nil
}

func (r *Reconciler) settleSubscription(tx repository.Tx, entry *audit.Entry, po *models.PaymentOrder, subscriptionID string, now time.Time) (bool, error) {
	sub, err := tx.SubscriptionForUpdate(subscriptionID)
	if err != nil {
		return false, notFound(err, ErrSubscriptionNotFound, "subscription", subscriptionID)
	}
	entry.With("subscription_id", sub.ID)

	changed := false
	cycle, err := tx.GetProcessingBillingCycle(sub.ID)
	switch {
	case err == nil:
		paymentID := po.ID
		won, err := tx.SettleBillingCycle(cycle, models.BillingCyclePaid, &paymentID, "", now)
		if err != nil {
			return false, err
		}
		if !won {
			return false, fmt.Errorf("billing cycle %s: %w", cycle.ID, models.ErrInvalidTransition)
		}
		entry.Set("billing_cycle."+cycle.ID+".status", models.BillingCycleProcessing, cycle.Status)
		changed = true
	case repository.IsNotFound(err):
		// Already paid by this payment order on an earlier delivery.
		if _, err := tx.GetBillingCycleByPaymentID(sub.ID, po.ID); err != nil {
			return false, notFound(err, ErrBillingCycleNotFound, "billing cycle for subscription", sub.ID)
		}
	default:
		return false, fmt.Errorf("load billing cycle for %s: %w", sub.ID, err)
	}

	fromStatus, fromAttempts := sub.Status, sub.DunningAttempts
	reactivated, err := sub.Reactivate()
	if err != nil {
		return false, err
	}
	if reactivated {
		if err := tx.SaveSubscription(sub); err != nil {
			return false, fmt.Errorf("save subscription %s: %w", sub.ID, err)
		}
		entry.Set("subscription.status", fromStatus, sub.Status)
		entry.Set("subscription.dunning_attempts", fromAttempts, sub.DunningAttempts)
		if fromStatus == models.SubscriptionStatusSuspended {
			log.Infof("[Reconcile] Subscription %s reactivated by payment order %s", sub.ID, po.ID)
		}
		changed = true
	}
	return changed, nil
}

// HandleFailed records a failed payment. A meal order is cancelled; a
// subscription goes through dunning and is never cancelled here.
func (r *Reconciler) HandleFailed(tx repository.Tx, eventID string, ev billing.PaymentFailed) (*Result, error) {
	now := r.now()
	po, purpose, err := r.loadPaymentOrder(tx, ev.ProviderOrderID)
	if err != nil {
		return nil, err
	}
	res := &Result{PaymentOrderID: po.ID, Purpose: purpose}
	entry := audit.Entry{
		EntityType: audit.EntityPaymentOrder,
		EntityID:   po.ID,
		Action:     string(billing.KindPaymentFailed),
		EventID:    eventID,
	}
	entry.With("provider_order_id", ev.ProviderOrderID)
	entry.With("provider_payment_id", ev.ProviderPaymentID)
	entry.With("error_code", ev.ErrorCode)
	entry.With("error_description", ev.ErrorDescription)

	txs, err := tx.FindPaymentTransactions(ev.ProviderPaymentID)
	if err != nil {
		return nil, fmt.Errorf("load transactions for %s: %w", ev.ProviderPaymentID, err)
	}
	// repeated is set when this exact payment was already recorded as failed.
	repeated := len(txs) > 0
	for i := range txs {
		t := &txs[i]
		if t.Status != models.PaymentStatusFailed {
			repeated = false
		}
		if !t.Status.CanTransitionTo(models.PaymentStatusFailed) {
			res.note("transaction %s is %s, failure ignored", t.ID, t.Status)
			continue
		}
		from := t.Status
		changed, err := t.MarkFailed(ev.ErrorCode, ev.ErrorDescription, now)
		if err != nil {
			return nil, err
		}
		if !changed {
			continue
		}
		if err := tx.SavePaymentTransaction(t); err != nil {
			return nil, fmt.Errorf("save transaction %s: %w", t.ID, err)
		}
		entry.Set("transaction."+t.ID+".status", from, t.Status)
		res.Changed = true
	}

	// A retry on the same payment order may already have succeeded.
	if po.Status == models.PaymentStatusCaptured || po.Status == models.PaymentStatusRefunded {
		res.Stale = true
		res.note("payment order %s already %s", po.ID, po.Status)
		log.Infof("[Reconcile] Ignoring stale failure of %s: payment order %s is %s", ev.ProviderPaymentID, po.ID, po.Status)
		if res.Changed {
			if err := r.audit.Record(tx, entry); err != nil {
				return nil, err
			}
		}
		return res, nil
	}

	if po.Status == models.PaymentStatusFailed && repeated {
		// Same failure seen again under a different event id.
		return res, nil
	}

	from := po.Status
	changed, err := po.TransitionTo(models.PaymentStatusFailed, now)
	if err != nil {
		return nil, err
	}
	if changed {
		if err := tx.SavePaymentOrder(po); err != nil {
			return nil, fmt.Errorf("save payment order %s: %w", po.ID, err)
		}
		entry.Set("status", from, po.Status)
		res.Changed = true
	}

	switch p := purpose.(type) {
	case models.OrderPayment:
		changed, err := r.applyOrderPayment(tx, &entry, p.OrderID, models.OrderPaymentFailed, models.OrderStatusCancelled)
		if err != nil {
			return nil, err
		}
		res.Changed = res.Changed || changed
	case models.SubscriptionPayment:
		reason := ev.ErrorCode
		if ev.ErrorDescription != "" {
			reason = fmt.Sprintf("%s: %s", ev.ErrorCode, ev.ErrorDescription)
		}
		outcome, err := r.dunning.RecordFailure(tx, eventID, p.SubscriptionID, reason)
		if err != nil {
			return nil, err
		}
		res.Dunning = outcome
		entry.With("subscription_id", p.SubscriptionID)
		entry.With("dunning_attempts", outcome.Attempts)
		res.Changed = true
	}

	if !res.Changed {
		return res, nil
	}
	if err := r.audit.Record(tx, entry); err != nil {
		return nil, err
	}
	return res, nil
}
