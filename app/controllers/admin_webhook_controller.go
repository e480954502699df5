package controllers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/MealPay/app/models"
	"github.com/ManuelReschke/MealPay/app/repository"
	"github.com/ManuelReschke/MealPay/internal/pkg/billing"
	"github.com/ManuelReschke/MealPay/internal/pkg/orchestrator"
)

// EventReprocessor gives operators access to failed-but-acknowledged events.
type EventReprocessor interface {
	FailedEvents(ctx context.Context, limit int) ([]models.WebhookEvent, error)
	Reprocess(ctx context.Context, eventID string) (orchestrator.Response, error)
}

type AdminWebhookController struct {
	events EventReprocessor
}

func NewAdminWebhookController(events EventReprocessor) *AdminWebhookController {
	return &AdminWebhookController{events: events}
}

type failedEventView struct {
	EventID         string `json:"event_id"`
	EventType       string `json:"event_type"`
	Attempts        int    `json:"attempts"`
	ProcessingError string `json:"processing_error"`
	ReceivedAt      string `json:"received_at"`
}

// HandleListFailed lists failed events, oldest first.
func (ac *AdminWebhookController) HandleListFailed(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	events, err := ac.events.FailedEvents(c.UserContext(), limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "list_failed"})
	}
	views := make([]failedEventView, 0, len(events))
	for _, ev := range events {
		views = append(views, failedEventView{
			EventID:         ev.EventID,
			EventType:       ev.EventType,
			Attempts:        ev.Attempts,
			ProcessingError: ev.ProcessingError,
			ReceivedAt:      ev.ReceivedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	return c.JSON(fiber.Map{"events": views})
}

// HandleReprocess re-runs one failed event.
func (ac *AdminWebhookController) HandleReprocess(c *fiber.Ctx) error {
	eventID := c.Params("id")
	resp, err := ac.events.Reprocess(c.UserContext(), eventID)
	switch {
	case err == nil:
		return c.JSON(resp)
	case repository.IsNotFound(err):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "event_not_found"})
	case errors.Is(err, billing.ErrNotReprocessable):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "event_not_failed"})
	default:
		// The failure is recorded on the event again.
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":    "reprocess_failed",
			"event_id": eventID,
			"reason":   err.Error(),
		})
	}
}
