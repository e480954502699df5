package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ManuelReschke/MealPay/app/models"
	"github.com/ManuelReschke/MealPay/app/repository"
)

// Entity types used in audit entries.
const (
	EntityPaymentOrder       = "payment_order"
	EntityPaymentTransaction = "payment_transaction"
	EntitySubscription       = "subscription"
)

// Change is a single field diff.
type Change struct {
	From interface{} `json:"from"`
	To   interface{} `json:"to"`
}

// Entry describes one applied state change.
type Entry struct {
	EntityType string
	EntityID   string
	Action     string
	EventID    string
	Changes    map[string]Change
	Context    map[string]interface{}
}

// Set records a field diff unless the value did not change.
func (e *Entry) Set(field string, from, to interface{}) {
	if fmt.Sprint(from) == fmt.Sprint(to) {
		return
	}
	if e.Changes == nil {
		e.Changes = map[string]Change{}
	}
	e.Changes[field] = Change{From: from, To: to}
}

// With adds a context value.
func (e *Entry) With(key string, value interface{}) {
	if e.Context == nil {
		e.Context = map[string]interface{}{}
	}
	e.Context[key] = value
}

// Logger appends audit entries inside the caller's unit of work, so an entry
// exists exactly when its state change committed.
type Logger struct {
	now func() time.Time
}

// NewLogger creates a logger using now as its clock.
func NewLogger(now func() time.Time) *Logger {
	if now == nil {
		now = time.Now
	}
	return &Logger{now: now}
}

type document struct {
	EventID string                 `json:"event_id,omitempty"`
	Changes map[string]Change      `json:"changes,omitempty"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Record appends the entry.
func (l *Logger) Record(tx repository.Tx, e Entry) error {
	body, err := json.Marshal(document{EventID: e.EventID, Changes: e.Changes, Context: e.Context})
	if err != nil {
		return fmt.Errorf("encode audit context: %w", err)
	}
	entry := &models.AuditLog{
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Action:     e.Action,
		EventID:    e.EventID,
		Context:    string(body),
		CreatedAt:  l.now(),
	}
	if err := tx.CreateAuditLog(entry); err != nil {
		return fmt.Errorf("write audit log for %s %s: %w", e.EntityType, e.EntityID, err)
	}
	return nil
}
