package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PaymentRefund is a refund issued against a captured transaction. The provider
// refund id is unique.
type PaymentRefund struct {
	ID                   string       `gorm:"type:varchar(64);primaryKey" json:"id"`
	ProviderRefundID     string       `gorm:"type:varchar(191);not null;uniqueIndex:ux_payment_refunds_provider_refund" json:"provider_refund_id"`
	PaymentTransactionID string       `gorm:"type:varchar(64);not null;index" json:"payment_transaction_id"`
	Amount               int64        `gorm:"not null;default:0" json:"amount"`
	Currency             string       `gorm:"type:varchar(3);not null;default:''" json:"currency"`
	Status               RefundStatus `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	Notes                string       `gorm:"type:text" json:"notes"`
	CreatedAt            time.Time    `gorm:"autoCreateTime" json:"created_at"`
}

func (r *PaymentRefund) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
