package controllers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/MealPay/internal/pkg/orchestrator"
)

// WebhookHandler processes one provider delivery.
type WebhookHandler interface {
	Handle(ctx context.Context, d orchestrator.Delivery) orchestrator.Response
}

// WebhookController receives payment provider webhooks.
type WebhookController struct {
	handler         WebhookHandler
	signatureHeader string
	eventIDHeader   string
	timeout         time.Duration
}

func NewWebhookController(handler WebhookHandler, signatureHeader, eventIDHeader string) *WebhookController {
	return &WebhookController{
		handler:         handler,
		signatureHeader: signatureHeader,
		eventIDHeader:   eventIDHeader,
		timeout:         15 * time.Second,
	}
}

// HandlePaymentWebhook is mounted for every method so that non-POST requests
// get a 405 from the same pipeline.
func (wc *WebhookController) HandlePaymentWebhook(c *fiber.Ctx) error {
	// fasthttp reuses the request buffer after the handler returns.
	rawBody := append([]byte(nil), c.BodyRaw()...)

	ctx, cancel := context.WithTimeout(c.UserContext(), wc.timeout)
	defer cancel()

	resp := wc.handler.Handle(ctx, orchestrator.Delivery{
		Method:        c.Method(),
		Body:          rawBody,
		Signature:     strings.TrimSpace(c.Get(wc.signatureHeader)),
		EventIDHeader: strings.TrimSpace(c.Get(wc.eventIDHeader)),
		ReceivedAt:    time.Now().UTC(),
	})
	if resp.HTTPStatus == fiber.StatusMethodNotAllowed {
		c.Set(fiber.HeaderAllow, fiber.MethodPost)
	}
	return c.Status(resp.HTTPStatus).JSON(resp)
}
