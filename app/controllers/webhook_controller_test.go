package controllers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/MealPay/app/models"
	"github.com/ManuelReschke/MealPay/app/repository"
	"github.com/ManuelReschke/MealPay/internal/pkg/billing"
	"github.com/ManuelReschke/MealPay/internal/pkg/orchestrator"
	"github.com/ManuelReschke/MealPay/internal/pkg/secrets"
)

const (
	testSecret      = "whsec_controller"
	signatureHeader = "X-Razorpay-Signature"
	eventIDHeader   = "X-Razorpay-Event-Id"
)

const capturedBody = `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_c","order_id":"order_c","amount":45000,"currency":"INR"}}}}`

func newWebhookApp(t *testing.T) (*fiber.App, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	orch, err := orchestrator.New(orchestrator.Options{
		Store:   store,
		Secrets: secrets.Static{testSecret},
	})
	require.NoError(t, err)

	app := fiber.New()
	wc := NewWebhookController(orch, signatureHeader, eventIDHeader)
	app.All("/webhooks/payments", wc.HandlePaymentWebhook)

	ac := NewAdminWebhookController(orch)
	app.Get("/admin/webhooks/failed", ac.HandleListFailed)
	app.Post("/admin/webhooks/:id/reprocess", ac.HandleReprocess)
	return app, store
}

func newDelivery(method, body, signature, eventID string) *http.Request {
	req := httptest.NewRequest(method, "/webhooks/payments", strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if signature != "" {
		req.Header.Set(signatureHeader, signature)
	}
	if eventID != "" {
		req.Header.Set(eventIDHeader, eventID)
	}
	return req
}

func sign(body string) string {
	return billing.SignPayload([]byte(body), testSecret)
}

func decode(t *testing.T, body io.Reader) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(body).Decode(&out))
	return out
}

func strPtr(s string) *string { return &s }

func seedCapturable(t *testing.T, store *repository.MemoryStore) {
	t.Helper()
	require.NoError(t, store.Seed(
		&models.Order{ID: "meal_c", Status: models.OrderStatusPending, PaymentStatus: models.OrderPaymentPending},
		&models.PaymentOrder{ID: "po_c", ProviderOrderID: "order_c", Amount: 45000, Currency: "INR", Status: models.PaymentStatusPending, OrderID: strPtr("meal_c")},
		&models.PaymentTransaction{ID: "tx_c", ProviderPaymentID: "pay_c", Amount: 45000, Currency: "INR", Status: models.PaymentStatusPending},
	))
}

func TestHandlePaymentWebhook_Rejections(t *testing.T) {
	app, _ := newWebhookApp(t)

	tests := []struct {
		name   string
		req    *http.Request
		status int
		code   string
	}{
		{"missing signature", newDelivery(fiber.MethodPost, capturedBody, "", "evt_1"), fiber.StatusBadRequest, "missing_signature"},
		{"wrong signature", newDelivery(fiber.MethodPost, capturedBody, strings.Repeat("ab", 32), "evt_1"), fiber.StatusUnauthorized, "invalid_signature"},
		{"empty body", newDelivery(fiber.MethodPost, "", sign(""), "evt_1"), fiber.StatusBadRequest, "missing_body"},
		{"malformed json", newDelivery(fiber.MethodPost, "{oops", sign("{oops"), "evt_1"), fiber.StatusBadRequest, "invalid_payload"},
		{"wrong method", newDelivery(fiber.MethodGet, "", "", ""), fiber.StatusMethodNotAllowed, "method_not_allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := app.Test(tt.req, -1)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			body := decode(t, resp.Body)
			assert.Equal(t, false, body["ok"])
			assert.Equal(t, tt.code, body["error"])
		})
	}
}

func TestHandlePaymentWebhook_MethodNotAllowedSetsAllow(t *testing.T) {
	app, _ := newWebhookApp(t)
	resp, err := app.Test(newDelivery(fiber.MethodPut, capturedBody, sign(capturedBody), ""), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, fiber.MethodPost, resp.Header.Get(fiber.HeaderAllow))
}

func TestHandlePaymentWebhook_ProcessAndReplay(t *testing.T) {
	app, store := newWebhookApp(t)
	seedCapturable(t, store)

	resp, err := app.Test(newDelivery(fiber.MethodPost, capturedBody, sign(capturedBody), "evt_ok"), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decode(t, resp.Body)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, orchestrator.StatusProcessed, body["status"])
	assert.Equal(t, "evt_ok", body["event_id"])

	resp, err = app.Test(newDelivery(fiber.MethodPost, capturedBody, sign(capturedBody), "evt_ok"), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, orchestrator.StatusAlreadyProcessed, decode(t, resp.Body)["status"])
}

func TestHandlePaymentWebhook_UnknownKind(t *testing.T) {
	app, _ := newWebhookApp(t)
	body := `{"event":"foo.bar","payload":{}}`

	resp, err := app.Test(newDelivery(fiber.MethodPost, body, sign(body), "evt_foo"), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	out := decode(t, resp.Body)
	assert.Equal(t, orchestrator.StatusProcessed, out["status"])
	assert.Equal(t, true, out["noop"])
}

func TestAdminWebhook_ListAndReprocess(t *testing.T) {
	app, store := newWebhookApp(t)

	// Nothing to reconcile against yet: acknowledged, recorded as failed.
	resp, err := app.Test(newDelivery(fiber.MethodPost, capturedBody, sign(capturedBody), "evt_late"), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, orchestrator.StatusInternalFailure, decode(t, resp.Body)["status"])

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/admin/webhooks/failed", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	listed := decode(t, resp.Body)["events"].([]interface{})
	require.Len(t, listed, 1)
	assert.Equal(t, "evt_late", listed[0].(map[string]interface{})["event_id"])

	resp, err = app.Test(httptest.NewRequest(fiber.MethodPost, "/admin/webhooks/evt_late/reprocess", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)

	seedCapturable(t, store)
	resp, err = app.Test(httptest.NewRequest(fiber.MethodPost, "/admin/webhooks/evt_late/reprocess", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, orchestrator.StatusProcessed, decode(t, resp.Body)["status"])

	resp, err = app.Test(httptest.NewRequest(fiber.MethodPost, "/admin/webhooks/evt_late/reprocess", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(fiber.MethodPost, "/admin/webhooks/evt_nope/reprocess", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
