package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PaymentOrder correlates to one provider order (the payment intent). It funds
// either a meal order or a subscription billing cycle, never both; the columns
// are nullable and guarded by a CHECK constraint, callers use Purpose().
type PaymentOrder struct {
	ID              string        `gorm:"type:varchar(64);primaryKey" json:"id"`
	ProviderOrderID string        `gorm:"type:varchar(191);not null;uniqueIndex:ux_payment_orders_provider_order" json:"provider_order_id"`
	Amount          int64         `gorm:"not null;default:0" json:"amount"`
	Currency        string        `gorm:"type:varchar(3);not null;default:''" json:"currency"`
	Status          PaymentStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	OrderID         *string       `gorm:"type:varchar(64);index" json:"order_id,omitempty"`
	SubscriptionID  *string       `gorm:"type:varchar(64);index" json:"subscription_id,omitempty"`
	CapturedAt      *time.Time    `gorm:"default:null" json:"captured_at,omitempty"`
	CreatedAt       time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *PaymentOrder) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, err := p.Purpose(); err != nil {
		return err
	}
	return nil
}

// Purpose returns the tagged purpose of the payment order.
func (p *PaymentOrder) Purpose() (PaymentPurpose, error) {
	orderID := derefTrim(p.OrderID)
	subID := derefTrim(p.SubscriptionID)
	switch {
	case orderID != "" && subID == "":
		return OrderPayment{OrderID: orderID}, nil
	case subID != "" && orderID == "":
		return SubscriptionPayment{SubscriptionID: subID}, nil
	default:
		return nil, ErrInvalidPurpose
	}
}

// SetPurpose writes the purpose back onto the nullable columns.
func (p *PaymentOrder) SetPurpose(purpose PaymentPurpose) {
	p.OrderID, p.SubscriptionID = nil, nil
	switch v := purpose.(type) {
	case OrderPayment:
		id := v.OrderID
		p.OrderID = &id
	case SubscriptionPayment:
		id := v.SubscriptionID
		p.SubscriptionID = &id
	}
}

// TransitionTo moves the payment order to a new status. It reports whether the
// status actually changed.
func (p *PaymentOrder) TransitionTo(to PaymentStatus, now time.Time) (bool, error) {
	if p.Status == to {
		return false, nil
	}
	if !allowed(paymentOrderTransitions, p.Status, to) || !to.Valid() {
		return false, transitionError("payment_order", p.ID, p.Status, to)
	}
	p.Status = to
	if to == PaymentStatusCaptured {
		p.CapturedAt = &now
	}
	return true, nil
}

func derefTrim(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
