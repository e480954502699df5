package billing

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ManuelReschke/MealPay/app/models"
	"github.com/go-playground/validator/v10"
)

// ParseError is returned when the body is not a JSON webhook document at all.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid webhook payload: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var validate = validator.New()

type wireEnvelope struct {
	ID        string                    `json:"id"`
	Entity    string                    `json:"entity"`
	AccountID string                    `json:"account_id"`
	Event     string                    `json:"event"`
	Contains  []string                  `json:"contains"`
	Payload   map[string]wireEntityWrap `json:"payload"`
	CreatedAt int64                     `json:"created_at"`
}

type wireEntityWrap struct {
	Entity json.RawMessage `json:"entity"`
}

type wirePayment struct {
	ID               string `json:"id" validate:"required"`
	OrderID          string `json:"order_id" validate:"required"`
	Amount           int64  `json:"amount" validate:"gte=0"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
}

type wireRefund struct {
	ID        string          `json:"id" validate:"required"`
	PaymentID string          `json:"payment_id" validate:"required"`
	Amount    int64           `json:"amount" validate:"gt=0"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
	Notes     json.RawMessage `json:"notes"`
}

// ClassifyEvent parses a raw webhook body into an envelope with a typed event.
// Only bodies that are not JSON objects fail; unknown kinds and unusable
// entities classify as NoOp so they can be acknowledged.
func ClassifyEvent(raw []byte) (*Envelope, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &ParseError{Err: fmt.Errorf("empty body")}
	}
	var w wireEnvelope
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, &ParseError{Err: err}
	}

	env := &Envelope{
		ID:        strings.TrimSpace(w.ID),
		Kind:      strings.TrimSpace(w.Event),
		AccountID: w.AccountID,
		CreatedAt: w.CreatedAt,
	}

	switch EventKind(env.Kind) {
	case KindPaymentCaptured, KindPaymentFailed:
		var p wirePayment
		if reason := decodeEntity(w.Payload, "payment", &p); reason != "" {
			env.Event = NoOp{RawKind: env.Kind, Reason: reason}
			return env, nil
		}
		if EventKind(env.Kind) == KindPaymentCaptured {
			env.Event = PaymentCaptured{
				ProviderPaymentID: p.ID,
				ProviderOrderID:   p.OrderID,
				Amount:            p.Amount,
				Currency:          strings.ToUpper(p.Currency),
			}
		} else {
			env.Event = PaymentFailed{
				ProviderPaymentID: p.ID,
				ProviderOrderID:   p.OrderID,
				Amount:            p.Amount,
				Currency:          strings.ToUpper(p.Currency),
				ErrorCode:         p.ErrorCode,
				ErrorDescription:  p.ErrorDescription,
			}
		}
	case KindRefundCreated:
		var r wireRefund
		if reason := decodeEntity(w.Payload, "refund", &r); reason != "" {
			env.Event = NoOp{RawKind: env.Kind, Reason: reason}
			return env, nil
		}
		env.Event = RefundCreated{
			ProviderRefundID:  r.ID,
			ProviderPaymentID: r.PaymentID,
			Amount:            r.Amount,
			Currency:          strings.ToUpper(r.Currency),
			Status:            models.ParseRefundStatus(strings.ToLower(r.Status)),
			Notes:             compactNotes(r.Notes),
		}
	case "":
		env.Event = NoOp{Reason: "missing event kind"}
	default:
		env.Event = NoOp{RawKind: env.Kind, Reason: "unhandled event kind"}
	}
	return env, nil
}

func decodeEntity(payload map[string]wireEntityWrap, name string, dst interface{}) string {
	wrap, ok := payload[name]
	if !ok || len(wrap.Entity) == 0 || string(wrap.Entity) == "null" {
		return fmt.Sprintf("missing %s entity", name)
	}
	if err := json.Unmarshal(wrap.Entity, dst); err != nil {
		return fmt.Sprintf("malformed %s entity: %v", name, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Sprintf("invalid %s entity: %v", name, err)
	}
	return ""
}

// compactNotes keeps provider notes as compact JSON. Empty objects and arrays
// are dropped.
func compactNotes(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return ""
	}
	switch s := buf.String(); s {
	case "null", "{}", "[]", `""`:
		return ""
	default:
		return s
	}
}

// PayloadHashID derives a stable event id from the payload for providers that
// do not send one.
func PayloadHashID(payload []byte) string {
	sum := sha256.Sum256(payload)
	return "hash:" + hex.EncodeToString(sum[:])
}

// ResolveEventID picks the event id from the delivery header, then the
// envelope, then a payload hash.
func ResolveEventID(headerID string, env *Envelope, payload []byte) string {
	if id := strings.TrimSpace(headerID); id != "" {
		return id
	}
	if env != nil && env.ID != "" {
		return env.ID
	}
	return PayloadHashID(payload)
}
