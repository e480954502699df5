package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PaymentTransaction is a single provider payment attempt.
type PaymentTransaction struct {
	ID                string        `gorm:"type:varchar(64);primaryKey" json:"id"`
	PaymentOrderID    string        `gorm:"type:varchar(64);index" json:"payment_order_id"`
	ProviderPaymentID string        `gorm:"type:varchar(191);not null;index" json:"provider_payment_id"`
	Amount            int64         `gorm:"not null;default:0" json:"amount"`
	Currency          string        `gorm:"type:varchar(3);not null;default:''" json:"currency"`
	Status            PaymentStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	ErrorCode         string        `gorm:"type:varchar(100);not null;default:''" json:"error_code"`
	ErrorDescription  string        `gorm:"type:text" json:"error_description"`
	CapturedAt        *time.Time    `gorm:"default:null" json:"captured_at,omitempty"`
	FailedAt          *time.Time    `gorm:"default:null" json:"failed_at,omitempty"`
	RefundedAt        *time.Time    `gorm:"default:null" json:"refunded_at,omitempty"`
	CreatedAt         time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

func (t *PaymentTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// MarkCaptured moves the transaction to captured. Re-capturing is a no-op.
func (t *PaymentTransaction) MarkCaptured(now time.Time) (bool, error) {
	if !t.Status.CanTransitionTo(PaymentStatusCaptured) {
		return false, transitionError("payment_transaction", t.ID, t.Status, PaymentStatusCaptured)
	}
	if t.Status == PaymentStatusCaptured {
		return false, nil
	}
	t.Status = PaymentStatusCaptured
	t.CapturedAt = &now
	return true, nil
}

// MarkFailed moves a pending transaction to failed and records the provider error.
func (t *PaymentTransaction) MarkFailed(code, description string, now time.Time) (bool, error) {
	if !t.Status.CanTransitionTo(PaymentStatusFailed) {
		return false, transitionError("payment_transaction", t.ID, t.Status, PaymentStatusFailed)
	}
	if t.Status == PaymentStatusFailed {
		return false, nil
	}
	t.Status = PaymentStatusFailed
	t.ErrorCode = code
	t.ErrorDescription = description
	t.FailedAt = &now
	return true, nil
}

// MarkRefunded moves a captured transaction to refunded.
func (t *PaymentTransaction) MarkRefunded(now time.Time) (bool, error) {
	if !t.Status.CanTransitionTo(PaymentStatusRefunded) {
		return false, transitionError("payment_transaction", t.ID, t.Status, PaymentStatusRefunded)
	}
	if t.Status == PaymentStatusRefunded {
		return false, nil
	}
	t.Status = PaymentStatusRefunded
	t.RefundedAt = &now
	return true, nil
}
