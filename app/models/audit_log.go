package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditLog is an append-only record of a state change applied by the webhook
// pipeline. Context holds the serialized diff and event reference.
type AuditLog struct {
	ID         string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	EntityType string    `gorm:"type:varchar(50);not null;index:idx_audit_logs_entity,priority:1" json:"entity_type"`
	EntityID   string    `gorm:"type:varchar(64);not null;index:idx_audit_logs_entity,priority:2" json:"entity_id"`
	Action     string    `gorm:"type:varchar(100);not null" json:"action"`
	EventID    string    `gorm:"type:varchar(191);not null;default:'';index" json:"event_id"`
	Context    string    `gorm:"type:text" json:"context"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
