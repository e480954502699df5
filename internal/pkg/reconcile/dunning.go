package reconcile

import (
	"fmt"
	"time"

	"github.com/ManuelReschke/MealPay/app/models"
	"github.com/ManuelReschke/MealPay/app/repository"
	"github.com/ManuelReschke/MealPay/internal/pkg/audit"
	"github.com/gofiber/fiber/v2/log"
)

// DefaultMaxDunningAttempts applies to subscriptions without their own limit.
const DefaultMaxDunningAttempts = 3

// DunningOutcome describes the effect of one billing failure.
type DunningOutcome struct {
	SubscriptionID string
	BillingCycleID string
	Attempts       int
	MaxAttempts    int
	Suspended      bool
	// NewlySuspended is set only on the failure that crossed the limit.
	NewlySuspended bool
}

// DunningEngine counts consecutive billing failures per subscription and
// suspends it when the limit is reached. Reactivation is not its concern.
type DunningEngine struct {
	defaultMax int
	audit      *audit.Logger
	now        func() time.Time
}

// NewDunningEngine creates an engine. A non-positive defaultMax falls back to
// DefaultMaxDunningAttempts.
func NewDunningEngine(defaultMax int, auditLog *audit.Logger, now func() time.Time) *DunningEngine {
	if defaultMax <= 0 {
		defaultMax = DefaultMaxDunningAttempts
	}
	if now == nil {
		now = time.Now
	}
	return &DunningEngine{defaultMax: defaultMax, audit: auditLog, now: now}
}

// RecordFailure fails the subscription's processing billing cycle, if any, and
// advances the dunning counter: active(n) -> active(n+1) while n+1 < max, and
// -> suspended once n+1 >= max. Retried charges of a cycle that already
// failed still count; the terminal cycle itself is left untouched.
func (d *DunningEngine) RecordFailure(tx repository.Tx, eventID, subscriptionID, reason string) (*DunningOutcome, error) {
	now := d.now()
	sub, err := tx.SubscriptionForUpdate(subscriptionID)
	if err != nil {
		return nil, notFound(err, ErrSubscriptionNotFound, "subscription", subscriptionID)
	}

	limit := sub.DunningLimit(d.defaultMax)
	out := &DunningOutcome{SubscriptionID: sub.ID, MaxAttempts: limit}
	entry := audit.Entry{
		EntityType: audit.EntitySubscription,
		EntityID:   sub.ID,
		Action:     "dunning.failure",
		EventID:    eventID,
	}
	entry.With("reason", reason)

	cycle, err := tx.GetProcessingBillingCycle(sub.ID)
	switch {
	case err == nil:
		won, err := tx.SettleBillingCycle(cycle, models.BillingCycleFailed, nil, reason, now)
		if err != nil {
			return nil, err
		}
		if !won {
			return nil, fmt.Errorf("billing cycle %s: %w", cycle.ID, models.ErrInvalidTransition)
		}
		out.BillingCycleID = cycle.ID
		entry.With("billing_cycle_id", cycle.ID)
		entry.Set("billing_cycle.status", models.BillingCycleProcessing, cycle.Status)
	case repository.IsNotFound(err):
		log.Infof("[Dunning] No processing billing cycle for subscription %s, counting retried charge", sub.ID)
	default:
		return nil, fmt.Errorf("load billing cycle for %s: %w", sub.ID, err)
	}

	fromStatus, fromAttempts := sub.Status, sub.DunningAttempts
	if sub.DunningAttempts < limit {
		sub.DunningAttempts++
	}
	if sub.DunningAttempts >= limit && sub.Status == models.SubscriptionStatusActive {
		if !sub.Status.CanTransitionTo(models.SubscriptionStatusSuspended) {
			return nil, fmt.Errorf("subscription %s: %w", sub.ID, models.ErrInvalidTransition)
		}
		sub.Status = models.SubscriptionStatusSuspended
		sub.SuspendedAt = &now
		out.NewlySuspended = true
		entry.Action = "dunning.suspended"
	}
	out.Attempts = sub.DunningAttempts
	out.Suspended = sub.Status == models.SubscriptionStatusSuspended

	if sub.Status != fromStatus || sub.DunningAttempts != fromAttempts {
		if err := tx.SaveSubscription(sub); err != nil {
			return nil, fmt.Errorf("save subscription %s: %w", sub.ID, err)
		}
	}
	entry.Set("dunning_attempts", fromAttempts, sub.DunningAttempts)
	entry.Set("status", fromStatus, sub.Status)
	entry.With("max_dunning_attempts", limit)

	if err := d.audit.Record(tx, entry); err != nil {
		return nil, err
	}

	if out.NewlySuspended {
		log.Warnf("[Dunning] Subscription %s suspended after %d failed attempts", sub.ID, sub.DunningAttempts)
	} else {
		log.Infof("[Dunning] Subscription %s failed attempt %d/%d", sub.ID, sub.DunningAttempts, limit)
	}
	return out, nil
}
