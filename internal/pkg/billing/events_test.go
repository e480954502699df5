package billing

import (
	"errors"
	"strings"
	"testing"

	"github.com/ManuelReschke/MealPay/app/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyPaymentCaptured(t *testing.T) {
	raw := []byte(`{
		"entity": "event",
		"account_id": "acc_1",
		"event": "payment.captured",
		"contains": ["payment"],
		"payload": {"payment": {"entity": {
			"id": "pay_1", "order_id": "order_1", "amount": 45000, "currency": "inr", "status": "captured"
		}}},
		"created_at": 1700000000
	}`)

	env, err := ClassifyEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, "payment.captured", env.Kind)
	assert.Equal(t, int64(1700000000), env.CreatedAt)

	ev, ok := env.Event.(PaymentCaptured)
	require.True(t, ok, "got %T", env.Event)
	assert.Equal(t, "pay_1", ev.ProviderPaymentID)
	assert.Equal(t, "order_1", ev.ProviderOrderID)
	assert.Equal(t, int64(45000), ev.Amount)
	assert.Equal(t, "INR", ev.Currency)
	assert.Equal(t, KindPaymentCaptured, ev.Kind())
}

func TestClassifyPaymentFailed(t *testing.T) {
	raw := []byte(`{"event":"payment.failed","payload":{"payment":{"entity":{
		"id":"pay_2","order_id":"order_2","amount":100,"currency":"INR","status":"failed",
		"error_code":"BAD_REQUEST_ERROR","error_description":"Card declined"}}}}`)

	env, err := ClassifyEvent(raw)
	require.NoError(t, err)
	ev, ok := env.Event.(PaymentFailed)
	require.True(t, ok, "got %T", env.Event)
	assert.Equal(t, "BAD_REQUEST_ERROR", ev.ErrorCode)
	assert.Equal(t, "Card declined", ev.ErrorDescription)
}

func TestClassifyRefundCreated(t *testing.T) {
	raw := []byte(`{"event":"refund.created","payload":{"refund":{"entity":{
		"id":"rfnd_1","payment_id":"pay_1","amount":2000,"currency":"INR","status":"processed",
		"notes":{"reason": "late delivery"}}}}}`)

	env, err := ClassifyEvent(raw)
	require.NoError(t, err)
	ev, ok := env.Event.(RefundCreated)
	require.True(t, ok, "got %T", env.Event)
	assert.Equal(t, "rfnd_1", ev.ProviderRefundID)
	assert.Equal(t, "pay_1", ev.ProviderPaymentID)
	assert.Equal(t, models.RefundStatusProcessed, ev.Status)
	assert.Equal(t, `{"reason":"late delivery"}`, ev.Notes)

	env, err = ClassifyEvent([]byte(`{"event":"refund.created","payload":{"refund":{"entity":{
		"id":"rfnd_2","payment_id":"pay_1","amount":1,"status":"created","notes":[]}}}}`))
	require.NoError(t, err)
	ev = env.Event.(RefundCreated)
	assert.Equal(t, models.RefundStatusPending, ev.Status)
	assert.Empty(t, ev.Notes)
}

func TestClassifyNoOps(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		reason string
	}{
		{name: "unknown kind", raw: `{"event":"foo.bar","payload":{}}`, reason: "unhandled event kind"},
		{name: "missing kind", raw: `{"payload":{}}`, reason: "missing event kind"},
		{name: "missing entity", raw: `{"event":"payment.captured","payload":{}}`, reason: "missing payment entity"},
		{name: "null entity", raw: `{"event":"payment.failed","payload":{"payment":{"entity":null}}}`, reason: "missing payment entity"},
		{name: "invalid entity", raw: `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_1"}}}}`, reason: "invalid payment entity"},
		{name: "malformed entity", raw: `{"event":"refund.created","payload":{"refund":{"entity":{"id":7}}}}`, reason: "malformed refund entity"},
		{name: "zero refund", raw: `{"event":"refund.created","payload":{"refund":{"entity":{"id":"r","payment_id":"p","amount":0}}}}`, reason: "invalid refund entity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := ClassifyEvent([]byte(tt.raw))
			require.NoError(t, err)
			noop, ok := env.Event.(NoOp)
			require.True(t, ok, "got %T", env.Event)
			assert.True(t, strings.HasPrefix(noop.Reason, tt.reason), noop.Reason)
		})
	}
}

func TestClassifyParseErrors(t *testing.T) {
	for _, raw := range []string{"", "   ", "{not json", "[1,2]", `"text"`} {
		_, err := ClassifyEvent([]byte(raw))
		require.Error(t, err, "input %q", raw)
		var perr *ParseError
		assert.True(t, errors.As(err, &perr), "input %q", raw)
	}
}

func TestResolveEventID(t *testing.T) {
	payload := []byte(`{"id":"evt_body"}`)
	env := &Envelope{ID: "evt_body"}

	assert.Equal(t, "evt_header", ResolveEventID(" evt_header ", env, payload))
	assert.Equal(t, "evt_body", ResolveEventID("", env, payload))

	hashed := ResolveEventID("", &Envelope{}, payload)
	assert.True(t, strings.HasPrefix(hashed, "hash:"))
	assert.Len(t, hashed, len("hash:")+64)
	assert.Equal(t, hashed, ResolveEventID("", nil, payload))
}
