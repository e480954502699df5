package models

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a status change is not allowed by the
// transition table of the entity.
var ErrInvalidTransition = errors.New("invalid status transition")

// PaymentStatus is shared by PaymentTransaction and PaymentOrder.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusCaptured PaymentStatus = "captured"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// OrderStatus is the lifecycle status of a meal order as far as payments are concerned.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderPaymentStatus is the payment state mirrored onto a meal order.
type OrderPaymentStatus string

const (
	OrderPaymentPending OrderPaymentStatus = "pending"
	OrderPaymentPaid    OrderPaymentStatus = "paid"
	OrderPaymentFailed  OrderPaymentStatus = "failed"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusSuspended SubscriptionStatus = "suspended"
)

type BillingCycleStatus string

const (
	BillingCycleProcessing BillingCycleStatus = "processing"
	BillingCyclePaid       BillingCycleStatus = "paid"
	BillingCycleFailed     BillingCycleStatus = "failed"
)

// RefundStatus mirrors the provider refund status.
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusProcessed RefundStatus = "processed"
	RefundStatusFailed    RefundStatus = "failed"
)

// WebhookOutcome is the processing outcome of a webhook delivery.
type WebhookOutcome string

const (
	WebhookOutcomeProcessing WebhookOutcome = "processing"
	WebhookOutcomeProcessed  WebhookOutcome = "processed"
	WebhookOutcomeFailed     WebhookOutcome = "failed"
)

// Transition tables. A missing key means the state is terminal. Re-asserting
// the current state is always allowed and treated as a no-op.
var (
	paymentTransitions = map[PaymentStatus][]PaymentStatus{
		PaymentStatusPending:  {PaymentStatusCaptured, PaymentStatusFailed},
		PaymentStatusCaptured: {PaymentStatusRefunded},
	}

	// A payment order may be retried by the customer after a failed attempt.
	paymentOrderTransitions = map[PaymentStatus][]PaymentStatus{
		PaymentStatusPending:  {PaymentStatusCaptured, PaymentStatusFailed},
		PaymentStatusFailed:   {PaymentStatusCaptured},
		PaymentStatusCaptured: {PaymentStatusRefunded},
	}

	// A cancelled order is confirmed again when a retried payment is captured.
	orderTransitions = map[OrderStatus][]OrderStatus{
		OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
		OrderStatusCancelled: {OrderStatusConfirmed},
	}

	orderPaymentTransitions = map[OrderPaymentStatus][]OrderPaymentStatus{
		OrderPaymentPending: {OrderPaymentPaid, OrderPaymentFailed},
		OrderPaymentFailed:  {OrderPaymentPaid},
	}

	subscriptionTransitions = map[SubscriptionStatus][]SubscriptionStatus{
		SubscriptionStatusActive:    {SubscriptionStatusSuspended},
		SubscriptionStatusSuspended: {SubscriptionStatusActive},
	}

	billingCycleTransitions = map[BillingCycleStatus][]BillingCycleStatus{
		BillingCycleProcessing: {BillingCyclePaid, BillingCycleFailed},
	}

	webhookTransitions = map[WebhookOutcome][]WebhookOutcome{
		WebhookOutcomeProcessing: {WebhookOutcomeProcessed, WebhookOutcomeFailed},
		WebhookOutcomeFailed:     {WebhookOutcomeProcessing},
	}
)

func allowed[S comparable](table map[S][]S, from, to S) bool {
	if from == to {
		return true
	}
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusCaptured, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

func (s PaymentStatus) CanTransitionTo(to PaymentStatus) bool {
	return to.Valid() && allowed(paymentTransitions, s, to)
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusCancelled:
		return true
	}
	return false
}

func (s OrderStatus) CanTransitionTo(to OrderStatus) bool {
	return to.Valid() && allowed(orderTransitions, s, to)
}

func (s OrderPaymentStatus) Valid() bool {
	switch s {
	case OrderPaymentPending, OrderPaymentPaid, OrderPaymentFailed:
		return true
	}
	return false
}

func (s OrderPaymentStatus) CanTransitionTo(to OrderPaymentStatus) bool {
	return to.Valid() && allowed(orderPaymentTransitions, s, to)
}

func (s SubscriptionStatus) Valid() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusSuspended
}

func (s SubscriptionStatus) CanTransitionTo(to SubscriptionStatus) bool {
	return to.Valid() && allowed(subscriptionTransitions, s, to)
}

func (s BillingCycleStatus) Valid() bool {
	switch s {
	case BillingCycleProcessing, BillingCyclePaid, BillingCycleFailed:
		return true
	}
	return false
}

// Terminal reports whether the billing cycle can no longer change.
func (s BillingCycleStatus) Terminal() bool {
	return s == BillingCyclePaid || s == BillingCycleFailed
}

func (s BillingCycleStatus) CanTransitionTo(to BillingCycleStatus) bool {
	return to.Valid() && allowed(billingCycleTransitions, s, to)
}

func (s RefundStatus) Valid() bool {
	switch s {
	case RefundStatusPending, RefundStatusProcessed, RefundStatusFailed:
		return true
	}
	return false
}

// ParseRefundStatus maps a provider refund status onto the closed enum. Unknown
// values are treated as pending.
func ParseRefundStatus(raw string) RefundStatus {
	s := RefundStatus(raw)
	if s.Valid() {
		return s
	}
	return RefundStatusPending
}

func (o WebhookOutcome) Valid() bool {
	switch o {
	case WebhookOutcomeProcessing, WebhookOutcomeProcessed, WebhookOutcomeFailed:
		return true
	}
	return false
}

func (o WebhookOutcome) CanTransitionTo(to WebhookOutcome) bool {
	return to.Valid() && allowed(webhookTransitions, o, to)
}

func transitionError(entity, id string, from, to any) error {
	return fmt.Errorf("%w: %s %s from %v to %v", ErrInvalidTransition, entity, id, from, to)
}
