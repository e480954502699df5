package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/MealPay/app/models"
	"github.com/ManuelReschke/MealPay/app/repository"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// ClaimOutcome is the result of claiming an event id.
type ClaimOutcome int

const (
	ClaimFresh ClaimOutcome = iota
	ClaimAlreadyProcessed
	ClaimAlreadyFailed
)

func (o ClaimOutcome) String() string {
	switch o {
	case ClaimFresh:
		return "fresh"
	case ClaimAlreadyProcessed:
		return "already_processed"
	case ClaimAlreadyFailed:
		return "already_failed"
	default:
		return "unknown"
	}
}

// ClaimResult is returned by Claim. Event is the stored claim record.
type ClaimResult struct {
	Outcome   ClaimOutcome
	Event     *models.WebhookEvent
	Reclaimed bool
	FromCache bool
}

// ErrNotReprocessable is returned when an event is not in the failed state.
var ErrNotReprocessable = errors.New("webhook event is not in failed state")

// ReplayGuardOptions configures a ReplayGuard. Seen is optional.
type ReplayGuardOptions struct {
	Seen     fiber.Storage
	SeenTTL  time.Duration
	ClaimTTL time.Duration
	Now      func() time.Time
}

// ReplayGuard claims webhook event ids so their side effects run once. The
// claim is an insert-if-absent on the (provider, event_id) unique index; the
// seen cache only short-circuits replays of already processed events.
type ReplayGuard struct {
	store    repository.Store
	seen     fiber.Storage
	seenTTL  time.Duration
	claimTTL time.Duration
	now      func() time.Time
}

// NewReplayGuard creates a guard on top of the record store.
func NewReplayGuard(store repository.Store, opts ReplayGuardOptions) *ReplayGuard {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &ReplayGuard{
		store:    store,
		seen:     opts.Seen,
		seenTTL:  opts.SeenTTL,
		claimTTL: opts.ClaimTTL,
		now:      now,
	}
}

func seenKey(provider, eventID string) string {
	return "webhook:seen:" + provider + ":" + eventID
}

// Claim records the first sighting of an event and reports Fresh, or reports
// how an earlier sighting ended. A processing claim older than the claim TTL
// is taken over; otherwise it counts as processed elsewhere.
func (g *ReplayGuard) Claim(ctx context.Context, in WebhookEventInput) (ClaimResult, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	eventID := strings.TrimSpace(in.ProviderEventID)
	if provider == "" || eventID == "" {
		return ClaimResult{}, errors.New("provider and event id are required")
	}

	if g.seen != nil {
		hit, err := g.seen.Get(seenKey(provider, eventID))
		if err != nil {
			log.Warnf("[ReplayGuard] Seen cache lookup failed for %s: %v", eventID, err)
		} else if len(hit) > 0 {
			return ClaimResult{Outcome: ClaimAlreadyProcessed, FromCache: true}, nil
		}
	}

	now := g.now()
	receivedAt := in.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = now
	}

	var result ClaimResult
	err := g.store.Transaction(ctx, func(tx repository.Tx) error {
		created, stored, err := tx.CreateWebhookEventIfNotExists(&models.WebhookEvent{
			Provider:    provider,
			EventID:     eventID,
			EventType:   strings.TrimSpace(in.EventType),
			PayloadJSON: in.PayloadJSON,
			Outcome:     models.WebhookOutcomeProcessing,
			Attempts:    1,
			ClaimedAt:   now,
			ReceivedAt:  receivedAt,
		})
		if err != nil {
			return err
		}
		result.Event = stored
		if created {
			result.Outcome = ClaimFresh
			return nil
		}

		switch stored.Outcome {
		case models.WebhookOutcomeProcessed:
			result.Outcome = ClaimAlreadyProcessed
		case models.WebhookOutcomeFailed:
			result.Outcome = ClaimAlreadyFailed
		default:
			result.Outcome = ClaimAlreadyProcessed
			if !stored.IsStale(now, g.claimTTL) {
				return nil
			}
			won, err := tx.ReclaimWebhookEvent(stored.ID, models.WebhookOutcomeProcessing, stored.Attempts, now)
			if err != nil {
				return err
			}
			if won {
				log.Warnf("[ReplayGuard] Took over stale claim for %s (claimed at %s)", eventID, stored.ClaimedAt.Format(time.RFC3339))
				stored.Outcome = models.WebhookOutcomeProcessing
				stored.Attempts++
				stored.ClaimedAt = now
				result.Outcome = ClaimFresh
				result.Reclaimed = true
			}
		}
		return nil
	})
	if err != nil {
		return ClaimResult{}, fmt.Errorf("claim webhook event %s: %w", eventID, err)
	}
	return result, nil
}

// ClaimForReprocess moves a failed event back to processing. Only one caller
// wins when several retry the same event.
func (g *ReplayGuard) ClaimForReprocess(ctx context.Context, provider, eventID string) (*models.WebhookEvent, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	now := g.now()
	var claimed *models.WebhookEvent
	err := g.store.Transaction(ctx, func(tx repository.Tx) error {
		stored, err := tx.GetWebhookEvent(provider, eventID)
		if err != nil {
			return err
		}
		if stored.Outcome != models.WebhookOutcomeFailed {
			return ErrNotReprocessable
		}
		won, err := tx.ReclaimWebhookEvent(stored.ID, models.WebhookOutcomeFailed, stored.Attempts, now)
		if err != nil {
			return err
		}
		if !won {
			return ErrNotReprocessable
		}
		stored.Outcome = models.WebhookOutcomeProcessing
		stored.Attempts++
		stored.ClaimedAt = now
		stored.ProcessingError = ""
		claimed = stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkProcessed finishes the claim inside the caller's unit of work, so the
// outcome commits together with the side effects. note is kept for no-ops.
func (g *ReplayGuard) MarkProcessed(tx repository.Tx, event *models.WebhookEvent, note string) error {
	if err := tx.FinishWebhookEvent(event.ID, models.WebhookOutcomeProcessed, note, g.now()); err != nil {
		return fmt.Errorf("mark webhook event %s processed: %w", event.EventID, err)
	}
	event.Outcome = models.WebhookOutcomeProcessed
	return nil
}

// Remember caches a processed event id. Call it after the unit of work commits.
func (g *ReplayGuard) Remember(event *models.WebhookEvent) {
	if g.seen == nil || event == nil {
		return
	}
	if err := g.seen.Set(seenKey(event.Provider, event.EventID), []byte("1"), g.seenTTL); err != nil {
		log.Warnf("[ReplayGuard] Failed to cache processed event %s: %v", event.EventID, err)
	}
}

// MarkFailed records a failed-but-acknowledged outcome in its own unit of work.
func (g *ReplayGuard) MarkFailed(ctx context.Context, event *models.WebhookEvent, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	err := g.store.Transaction(ctx, func(tx repository.Tx) error {
		return tx.FinishWebhookEvent(event.ID, models.WebhookOutcomeFailed, msg, g.now())
	})
	if err != nil {
		return fmt.Errorf("mark webhook event %s failed: %w", event.EventID, err)
	}
	event.Outcome = models.WebhookOutcomeFailed
	event.ProcessingError = msg
	return nil
}
