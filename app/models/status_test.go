package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaymentStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to PaymentStatus
		ok       bool
	}{
		{PaymentStatusPending, PaymentStatusCaptured, true},
		{PaymentStatusPending, PaymentStatusFailed, true},
		{PaymentStatusCaptured, PaymentStatusRefunded, true},
		{PaymentStatusCaptured, PaymentStatusCaptured, true},
		{PaymentStatusCaptured, PaymentStatusFailed, false},
		{PaymentStatusFailed, PaymentStatusCaptured, false},
		{PaymentStatusRefunded, PaymentStatusPending, false},
		{PaymentStatusPending, PaymentStatus("settled"), false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestBillingCycleSettlesOnce(t *testing.T) {
	c := &BillingCycle{ID: "bc_1", Status: BillingCycleProcessing}
	require.NoError(t, c.CanSettle(BillingCyclePaid))
	require.NoError(t, c.CanSettle(BillingCycleFailed))
	assert.Error(t, c.CanSettle(BillingCycleProcessing))

	c.Status = BillingCyclePaid
	err := c.CanSettle(BillingCycleFailed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Error(t, c.CanSettle(BillingCyclePaid))
}

func TestParseRefundStatus(t *testing.T) {
	assert.Equal(t, RefundStatusProcessed, ParseRefundStatus("processed"))
	assert.Equal(t, RefundStatusFailed, ParseRefundStatus("failed"))
	assert.Equal(t, RefundStatusPending, ParseRefundStatus("created"))
	assert.Equal(t, RefundStatusPending, ParseRefundStatus(""))
}

func TestWebhookOutcomeTransitions(t *testing.T) {
	assert.True(t, WebhookOutcomeProcessing.CanTransitionTo(WebhookOutcomeProcessed))
	assert.True(t, WebhookOutcomeFailed.CanTransitionTo(WebhookOutcomeProcessing))
	assert.False(t, WebhookOutcomeProcessed.CanTransitionTo(WebhookOutcomeProcessing))
	assert.False(t, WebhookOutcomeProcessed.CanTransitionTo(WebhookOutcomeFailed))
}

func TestPaymentOrderPurpose(t *testing.T) {
	orderID := "meal_order_123"
	subID := "sub_1"

	po := &PaymentOrder{OrderID: &orderID}
	p, err := po.Purpose()
	require.NoError(t, err)
	assert.Equal(t, OrderPayment{OrderID: orderID}, p)

	po = &PaymentOrder{SubscriptionID: &subID}
	p, err = po.Purpose()
	require.NoError(t, err)
	assert.Equal(t, SubscriptionPayment{SubscriptionID: subID}, p)

	po = &PaymentOrder{OrderID: &orderID, SubscriptionID: &subID}
	_, err = po.Purpose()
	assert.ErrorIs(t, err, ErrInvalidPurpose)

	blank := "  "
	po = &PaymentOrder{OrderID: &blank}
	_, err = po.Purpose()
	assert.ErrorIs(t, err, ErrInvalidPurpose)

	po.SetPurpose(SubscriptionPayment{SubscriptionID: subID})
	assert.Nil(t, po.OrderID)
	require.NotNil(t, po.SubscriptionID)
	assert.Equal(t, subID, *po.SubscriptionID)
}

func TestPaymentTransactionLifecycle(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tx := &PaymentTransaction{ID: "tx_1", Status: PaymentStatusPending}

	changed, err := tx.MarkCaptured(now)
	require.NoError(t, err)
	assert.True(t, changed)
	require.NotNil(t, tx.CapturedAt)
	assert.Equal(t, now, *tx.CapturedAt)

	changed, err = tx.MarkCaptured(now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, now, *tx.CapturedAt)

	_, err = tx.MarkFailed("BAD_REQUEST_ERROR", "declined", now)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	changed, err = tx.MarkRefunded(now)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, PaymentStatusRefunded, tx.Status)
}

func TestOrderApplyPayment(t *testing.T) {
	o := &Order{ID: "meal_order_123", Status: OrderStatusPending, PaymentStatus: OrderPaymentPending}
	changed, err := o.ApplyPayment(OrderPaymentPaid, OrderStatusConfirmed)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = o.ApplyPayment(OrderPaymentPaid, OrderStatusConfirmed)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = o.ApplyPayment(OrderPaymentFailed, OrderStatusCancelled)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, OrderStatusConfirmed, o.Status)
	assert.Equal(t, OrderPaymentPaid, o.PaymentStatus)
}

func TestOrderRecoversFromFailedPayment(t *testing.T) {
	o := &Order{ID: "meal_order_123", Status: OrderStatusPending, PaymentStatus: OrderPaymentPending}
	_, err := o.ApplyPayment(OrderPaymentFailed, OrderStatusCancelled)
	require.NoError(t, err)

	changed, err := o.ApplyPayment(OrderPaymentPaid, OrderStatusConfirmed)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, OrderStatusConfirmed, o.Status)
	assert.Equal(t, OrderPaymentPaid, o.PaymentStatus)

	assert.False(t, OrderStatusConfirmed.CanTransitionTo(OrderStatusCancelled))
	assert.False(t, OrderPaymentPaid.CanTransitionTo(OrderPaymentFailed))
}

func TestSubscriptionDunningLimitAndReactivate(t *testing.T) {
	s := &Subscription{ID: "sub_1", Status: SubscriptionStatusSuspended, DunningAttempts: 3}
	assert.Equal(t, 3, s.DunningLimit(3))
	s.MaxDunningAttempts = 5
	assert.Equal(t, 5, s.DunningLimit(3))

	now := time.Now()
	s.SuspendedAt = &now
	changed, err := s.Reactivate()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, SubscriptionStatusActive, s.Status)
	assert.Equal(t, 0, s.DunningAttempts)
	assert.Nil(t, s.SuspendedAt)
}

func TestWebhookEventIsStale(t *testing.T) {
	now := time.Now()
	e := &WebhookEvent{Outcome: WebhookOutcomeProcessing, ClaimedAt: now.Add(-20 * time.Minute)}
	assert.True(t, e.IsStale(now, 10*time.Minute))
	assert.False(t, e.IsStale(now, 0))
	e.Outcome = WebhookOutcomeProcessed
	assert.False(t, e.IsStale(now, 10*time.Minute))
}
