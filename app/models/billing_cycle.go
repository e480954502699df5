package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BillingCycle is one billing period of a subscription. It settles exactly once.
type BillingCycle struct {
	ID             string             `gorm:"type:varchar(64);primaryKey" json:"id"`
	SubscriptionID string             `gorm:"type:varchar(64);not null;index:idx_billing_cycles_subscription_status,priority:1" json:"subscription_id"`
	Status         BillingCycleStatus `gorm:"type:varchar(20);not null;default:'processing';index:idx_billing_cycles_subscription_status,priority:2" json:"status"`
	PaymentID      *string            `gorm:"type:varchar(64);index" json:"payment_id,omitempty"`
	FailureReason  string             `gorm:"type:text" json:"failure_reason"`
	PeriodStart    *time.Time         `gorm:"default:null" json:"period_start,omitempty"`
	PeriodEnd      *time.Time         `gorm:"default:null" json:"period_end,omitempty"`
	SettledAt      *time.Time         `gorm:"default:null" json:"settled_at,omitempty"`
	CreatedAt      time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c *BillingCycle) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// CanSettle reports whether the cycle may move from processing to the given
// terminal status.
func (c *BillingCycle) CanSettle(to BillingCycleStatus) error {
	if c.Status != BillingCycleProcessing || !to.Terminal() || !c.Status.CanTransitionTo(to) {
		return transitionError("billing_cycle", c.ID, c.Status, to)
	}
	return nil
}
