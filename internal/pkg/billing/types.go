package billing

import (
	"time"

	"github.com/ManuelReschke/MealPay/app/models"
)

// EventKind is the provider's event name, e.g. "payment.captured".
type EventKind string

const (
	KindPaymentCaptured EventKind = "payment.captured"
	KindPaymentFailed   EventKind = "payment.failed"
	KindRefundCreated   EventKind = "refund.created"
)

// Event is a classified webhook event. The variants are PaymentCaptured,
// PaymentFailed, RefundCreated and NoOp.
type Event interface {
	Kind() EventKind
	isEvent()
}

// PaymentCaptured carries the fields needed to settle a successful payment.
type PaymentCaptured struct {
	ProviderPaymentID string
	ProviderOrderID   string
	Amount            int64
	Currency          string
}

// PaymentFailed carries the fields needed to record a failed payment attempt.
type PaymentFailed struct {
	ProviderPaymentID string
	ProviderOrderID   string
	Amount            int64
	Currency          string
	ErrorCode         string
	ErrorDescription  string
}

// RefundCreated carries a refund issued against a captured payment.
type RefundCreated struct {
	ProviderRefundID  string
	ProviderPaymentID string
	Amount            int64
	Currency          string
	Status            models.RefundStatus
	Notes             string
}

// NoOp is an event that is acknowledged without side effects: an unknown
// kind, or a known kind whose entity is unusable.
type NoOp struct {
	RawKind string
	Reason  string
}

func (PaymentCaptured) Kind() EventKind { return KindPaymentCaptured }
func (PaymentFailed) Kind() EventKind   { return KindPaymentFailed }
func (RefundCreated) Kind() EventKind   { return KindRefundCreated }
func (e NoOp) Kind() EventKind          { return EventKind(e.RawKind) }

func (PaymentCaptured) isEvent() {}
func (PaymentFailed) isEvent()   {}
func (RefundCreated) isEvent()   {}
func (NoOp) isEvent()            {}

// Envelope is the parsed outer webhook document.
type Envelope struct {
	ID        string
	Kind      string
	AccountID string
	CreatedAt int64
	Event     Event
}

// WebhookEventInput is the normalized input of a replay guard claim.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	ReceivedAt      time.Time
}
