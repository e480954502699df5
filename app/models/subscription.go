package models

import "time"

// Subscription is a recurring meal plan. DunningAttempts counts consecutive
// failed billing attempts and is only reset by a successful capture.
type Subscription struct {
	ID                 string             `gorm:"type:varchar(64);primaryKey" json:"id"`
	Status             SubscriptionStatus `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	DunningAttempts    int                `gorm:"not null;default:0" json:"dunning_attempts"`
	MaxDunningAttempts int                `gorm:"not null;default:0" json:"max_dunning_attempts"`
	SuspendedAt        *time.Time         `gorm:"default:null" json:"suspended_at,omitempty"`
	UpdatedAt          time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

// DunningLimit returns the subscription's own limit, or def when unset.
func (s *Subscription) DunningLimit(def int) int {
	if s.MaxDunningAttempts > 0 {
		return s.MaxDunningAttempts
	}
	return def
}

// Reactivate records a successful payment: the subscription is active again and
// the dunning counter starts over.
func (s *Subscription) Reactivate() (bool, error) {
	if !s.Status.CanTransitionTo(SubscriptionStatusActive) {
		return false, transitionError("subscription", s.ID, s.Status, SubscriptionStatusActive)
	}
	changed := s.Status != SubscriptionStatusActive || s.DunningAttempts != 0 || s.SuspendedAt != nil
	s.Status = SubscriptionStatusActive
	s.DunningAttempts = 0
	s.SuspendedAt = nil
	return changed, nil
}
