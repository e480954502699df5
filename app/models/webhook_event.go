package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WebhookEvent stores provider webhook payloads with deduplication metadata.
// It is the claim record of the replay guard, not a business record.
type WebhookEvent struct {
	ID              string         `gorm:"type:varchar(64);primaryKey" json:"id"`
	Provider        string         `gorm:"type:varchar(20);not null;index:ux_webhook_events_provider_event,unique,priority:1" json:"provider"`
	EventID         string         `gorm:"type:varchar(191);not null;index:ux_webhook_events_provider_event,unique,priority:2" json:"event_id"`
	EventType       string         `gorm:"type:varchar(100);not null;default:'';index" json:"event_type"`
	PayloadJSON     string         `gorm:"type:text" json:"payload_json"`
	Outcome         WebhookOutcome `gorm:"type:varchar(20);not null;default:'processing';index" json:"outcome"`
	Attempts        int            `gorm:"not null;default:1" json:"attempts"`
	ClaimedAt       time.Time      `gorm:"not null" json:"claimed_at"`
	ProcessedAt     *time.Time     `gorm:"default:null" json:"processed_at,omitempty"`
	ProcessingError string         `gorm:"type:text" json:"processing_error"`
	ReceivedAt      time.Time      `gorm:"not null;index" json:"received_at"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (e *WebhookEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// IsStale reports whether a processing claim was taken longer than ttl ago.
// A zero ttl disables stale recovery.
func (e *WebhookEvent) IsStale(now time.Time, ttl time.Duration) bool {
	return ttl > 0 && e.Outcome == WebhookOutcomeProcessing && now.Sub(e.ClaimedAt) > ttl
}
