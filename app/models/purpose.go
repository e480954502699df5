package models

import "errors"

// ErrInvalidPurpose is returned when a payment order funds neither or both of
// a meal order and a subscription.
var ErrInvalidPurpose = errors.New("payment order must fund exactly one of order or subscription")

// PaymentPurpose describes what a PaymentOrder pays for. The only
// implementations are OrderPayment and SubscriptionPayment.
type PaymentPurpose interface {
	isPaymentPurpose()
}

// OrderPayment funds a one-off meal order.
type OrderPayment struct {
	OrderID string
}

// SubscriptionPayment funds one billing cycle of a subscription.
type SubscriptionPayment struct {
	SubscriptionID string
}

func (OrderPayment) isPaymentPurpose()        {}
func (SubscriptionPayment) isPaymentPurpose() {}
