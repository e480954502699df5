package models

import "time"

// Order is the meal order owned by the order management service. Only the
// payment related columns are mapped here.
type Order struct {
	ID            string             `gorm:"type:varchar(64);primaryKey" json:"id"`
	Status        OrderStatus        `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	PaymentStatus OrderPaymentStatus `gorm:"type:varchar(20);not null;default:'pending'" json:"payment_status"`
	UpdatedAt     time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// ApplyPayment moves both the order status and its payment status. The pair is
// validated together so an order is never left half-updated.
func (o *Order) ApplyPayment(payment OrderPaymentStatus, status OrderStatus) (bool, error) {
	if !o.PaymentStatus.CanTransitionTo(payment) {
		return false, transitionError("order", o.ID, o.PaymentStatus, payment)
	}
	if !o.Status.CanTransitionTo(status) {
		return false, transitionError("order", o.ID, o.Status, status)
	}
	changed := o.PaymentStatus != payment || o.Status != status
	o.PaymentStatus = payment
	o.Status = status
	return changed, nil
}
