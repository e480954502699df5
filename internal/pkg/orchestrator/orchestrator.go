package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/MealPay/app/models"
	"github.com/ManuelReschke/MealPay/app/repository"
	"github.com/ManuelReschke/MealPay/internal/pkg/audit"
	"github.com/ManuelReschke/MealPay/internal/pkg/billing"
	"github.com/ManuelReschke/MealPay/internal/pkg/deadletter"
	"github.com/ManuelReschke/MealPay/internal/pkg/reconcile"
	"github.com/ManuelReschke/MealPay/internal/pkg/secrets"
	"github.com/ManuelReschke/MealPay/internal/pkg/statechange"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Response body statuses. The HTTP status of an authenticated delivery is
// always 200; these tell the outcomes apart.
const (
	StatusProcessed        = "processed"
	StatusAlreadyProcessed = "already processed"
	StatusInternalFailure  = "processed with internal failure, acknowledged"
)

// Delivery outcomes used for metrics.
const (
	OutcomeProcessed = "processed"
	OutcomeNoOp      = "noop"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

// Recorder receives pipeline metrics.
type Recorder interface {
	ObserveDelivery(kind, outcome string, d time.Duration)
	DunningSuspended()
	RefundRecorded(duplicate bool)
	RetryEnqueued()
}

// RetryScheduler queues a failed event for reprocessing.
type RetryScheduler interface {
	ScheduleReprocess(ctx context.Context, provider, eventID string, attempt int) error
}

// Delivery is one inbound webhook request.
type Delivery struct {
	Method        string
	Body          []byte
	Signature     string
	EventIDHeader string
	ReceivedAt    time.Time
}

// Response is what the HTTP layer sends back.
type Response struct {
	HTTPStatus int    `json:"-"`
	OK         bool   `json:"ok"`
	Status     string `json:"status,omitempty"`
	EventID    string `json:"event_id,omitempty"`
	Kind       string `json:"kind,omitempty"`
	NoOp       bool   `json:"noop,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Options wires the orchestrator. Store and Secrets are required.
type Options struct {
	Store                     repository.Store
	Secrets                   secrets.Provider
	Now                       func() time.Time
	Provider                  string
	DefaultMaxDunningAttempts int
	ClaimTTL                  time.Duration
	SeenCache                 fiber.Storage
	SeenTTL                   time.Duration
	Metrics                   Recorder
	Archiver                  deadletter.Archiver
	Retry                     RetryScheduler
	Publisher                 statechange.Publisher
	TracerProvider            trace.TracerProvider
}

// Orchestrator sequences signature check, replay guard, classification and
// reconciliation for each delivery, and decides the response.
type Orchestrator struct {
	store      repository.Store
	secrets    secrets.Provider
	now        func() time.Time
	provider   string
	guard      *billing.ReplayGuard
	reconciler *reconcile.Reconciler
	refunds    *reconcile.RefundRecorder
	metrics    Recorder
	archiver   deadletter.Archiver
	retry      RetryScheduler
	publisher  statechange.Publisher
	tracer     trace.Tracer
}

// New creates an orchestrator from explicit dependencies.
func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, errors.New("orchestrator: store is required")
	}
	if opts.Secrets == nil {
		return nil, errors.New("orchestrator: secret provider is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	provider := strings.ToLower(strings.TrimSpace(opts.Provider))
	if provider == "" {
		provider = "razorpay"
	}
	archiver := opts.Archiver
	if archiver == nil {
		archiver = deadletter.Nop{}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = nopRecorder{}
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = statechange.Nop{}
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	auditLog := audit.NewLogger(now)
	dunning := reconcile.NewDunningEngine(opts.DefaultMaxDunningAttempts, auditLog, now)
	return &Orchestrator{
		store:    opts.Store,
		secrets:  opts.Secrets,
		now:      now,
		provider: provider,
		guard: billing.NewReplayGuard(opts.Store, billing.ReplayGuardOptions{
			Seen:     opts.SeenCache,
			SeenTTL:  opts.SeenTTL,
			ClaimTTL: opts.ClaimTTL,
			Now:      now,
		}),
		reconciler: reconcile.NewReconciler(dunning, auditLog, now),
		refunds:    reconcile.NewRefundRecorder(auditLog, now),
		metrics:    metrics,
		archiver:   archiver,
		retry:      opts.Retry,
		publisher:  publisher,
		tracer:     tp.Tracer("github.com/ManuelReschke/MealPay/orchestrator"),
	}, nil
}

// Provider returns the provider name claims are recorded under.
func (o *Orchestrator) Provider() string { return o.provider }

func reject(status int, code string) Response {
	return Response{HTTPStatus: status, OK: false, Error: code}
}

// Handle processes one delivery. Transport and authentication problems are
// rejected before any state is touched; everything after that is acknowledged
// with 200 so the provider does not retry.
func (o *Orchestrator) Handle(ctx context.Context, d Delivery) Response {
	start := o.now()
	ctx, span := o.tracer.Start(ctx, "webhook.handle")
	defer span.End()

	resp, kind, outcome := o.handle(ctx, d)
	span.SetAttributes(
		attribute.String("webhook.provider", o.provider),
		attribute.String("webhook.event_id", resp.EventID),
		attribute.String("webhook.kind", kind),
		attribute.String("webhook.outcome", outcome),
		attribute.Int("http.status_code", resp.HTTPStatus),
	)
	if outcome == OutcomeFailed {
		span.SetStatus(codes.Error, resp.Status)
	}
	o.metrics.ObserveDelivery(kind, outcome, o.now().Sub(start))
	return resp
}

func (o *Orchestrator) handle(ctx context.Context, d Delivery) (Response, string, string) {
	if !strings.EqualFold(d.Method, fiber.MethodPost) {
		return reject(fiber.StatusMethodNotAllowed, "method_not_allowed"), "", OutcomeRejected
	}
	if len(d.Body) == 0 {
		return reject(fiber.StatusBadRequest, "missing_body"), "", OutcomeRejected
	}
	if strings.TrimSpace(d.Signature) == "" {
		return reject(fiber.StatusBadRequest, "missing_signature"), "", OutcomeRejected
	}

	keys, err := o.secrets.SigningSecrets(ctx)
	if err != nil {
		log.Errorf("[Webhook] Cannot load signing secrets: %v", err)
		return reject(fiber.StatusUnauthorized, "invalid_signature"), "", OutcomeRejected
	}
	if !billing.VerifyWithAnySecret(d.Body, d.Signature, keys) {
		log.Warnf("[Webhook] Rejected delivery with invalid signature (%d bytes)", len(d.Body))
		return reject(fiber.StatusUnauthorized, "invalid_signature"), "", OutcomeRejected
	}

	env, err := billing.ClassifyEvent(d.Body)
	if err != nil {
		log.Warnf("[Webhook] Rejected malformed payload: %v", err)
		return reject(fiber.StatusBadRequest, "invalid_payload"), "", OutcomeRejected
	}

	eventID := billing.ResolveEventID(d.EventIDHeader, env, d.Body)
	kind := env.Kind
	receivedAt := d.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = o.now()
	}

	claim, err := o.guard.Claim(ctx, billing.WebhookEventInput{
		Provider:        o.provider,
		ProviderEventID: eventID,
		EventType:       kind,
		PayloadJSON:     string(d.Body),
		ReceivedAt:      receivedAt,
	})
	if err != nil {
		log.Errorf("[Webhook] Claim failed for event %s (%s): %v", eventID, kind, err)
		o.archive(ctx, deadletter.Record{
			Provider:   o.provider,
			EventID:    eventID,
			EventType:  kind,
			Payload:    string(d.Body),
			Error:      err.Error(),
			ReceivedAt: receivedAt,
		})
		return ack(StatusInternalFailure, eventID, kind), kind, OutcomeFailed
	}
	if claim.Outcome != billing.ClaimFresh {
		log.Infof("[Webhook] Event %s (%s) is %s, skipping", eventID, kind, claim.Outcome)
		return ack(StatusAlreadyProcessed, eventID, kind), kind, OutcomeDuplicate
	}

	resp, outcome, procErr := o.process(ctx, claim.Event, env)
	if procErr != nil {
		o.scheduleRetry(ctx, claim.Event, 1)
	}
	return resp, kind, outcome
}

func ack(status, eventID, kind string) Response {
	return Response{HTTPStatus: fiber.StatusOK, OK: true, Status: status, EventID: eventID, Kind: kind}
}

// process applies a claimed event. The side effects and the processed mark
// commit in one unit of work; on failure the event is marked failed in a
// separate one and archived.
func (o *Orchestrator) process(ctx context.Context, event *models.WebhookEvent, env *billing.Envelope) (Response, string, error) {
	kind := env.Kind
	noop, isNoOp := env.Event.(billing.NoOp)

	var suspended bool
	var refund *reconcile.RefundOutcome
	var change *statechange.Event
	err := o.store.Transaction(ctx, func(tx repository.Tx) error {
		note := ""
		change = nil
		switch ev := env.Event.(type) {
		case billing.PaymentCaptured:
			res, err := o.reconciler.HandleCaptured(tx, event.EventID, ev)
			if err != nil {
				return err
			}
			change = o.stateChange(event, kind, res)
		case billing.PaymentFailed:
			res, err := o.reconciler.HandleFailed(tx, event.EventID, ev)
			if err != nil {
				return err
			}
			suspended = res.Dunning != nil && res.Dunning.NewlySuspended
			if res.Stale {
				note = strings.Join(res.Notes, "; ")
			}
			if change = o.stateChange(event, kind, res); change != nil {
				change.Suspended = suspended
			}
		case billing.RefundCreated:
			out, err := o.refunds.Record(tx, event.EventID, ev)
			if err != nil {
				return err
			}
			refund = out
			if out.Duplicate {
				note = "duplicate refund " + ev.ProviderRefundID
			} else {
				change = &statechange.Event{
					Provider:      event.Provider,
					EventID:       event.EventID,
					Kind:          kind,
					RefundID:      out.RefundID,
					FullyRefunded: out.FullyRefunded,
					OccurredAt:    o.now(),
				}
			}
		case billing.NoOp:
			note = "ignored: " + ev.Reason
		default:
			return fmt.Errorf("unsupported event type %T", env.Event)
		}
		return o.guard.MarkProcessed(tx, event, note)
	})
	if err != nil {
		log.Errorf("[Webhook] Processing failed for event %s (%s, attempt %d): %v", event.EventID, kind, event.Attempts, err)
		if markErr := o.guard.MarkFailed(ctx, event, err); markErr != nil {
			log.Errorf("[Webhook] %v", markErr)
		}
		o.archive(ctx, deadletter.Record{
			Provider:   event.Provider,
			EventID:    event.EventID,
			EventType:  kind,
			Payload:    event.PayloadJSON,
			Error:      err.Error(),
			Attempts:   event.Attempts,
			ReceivedAt: event.ReceivedAt,
		})
		return ack(StatusInternalFailure, event.EventID, kind), OutcomeFailed, err
	}

	o.guard.Remember(event)
	if suspended {
		o.metrics.DunningSuspended()
	}
	if refund != nil {
		o.metrics.RefundRecorded(refund.Duplicate)
	}
	if change != nil {
		if err := o.publisher.Publish(ctx, *change); err != nil {
			log.Errorf("[StateChange] %v", err)
		}
	}

	resp := ack(StatusProcessed, event.EventID, kind)
	if isNoOp {
		resp.NoOp = true
		log.Infof("[Webhook] Event %s (%q) acknowledged as no-op: %s", event.EventID, kind, noop.Reason)
		return resp, OutcomeNoOp, nil
	}
	log.Infof("[Webhook] Event %s (%s) processed", event.EventID, kind)
	return resp, OutcomeProcessed, nil
}

// Reprocess re-runs a failed-but-acknowledged event from its stored payload.
// It returns the processing error so a retry worker can decide to try again.
func (o *Orchestrator) Reprocess(ctx context.Context, eventID string) (Response, error) {
	start := o.now()
	ctx, span := o.tracer.Start(ctx, "webhook.reprocess")
	defer span.End()
	span.SetAttributes(attribute.String("webhook.event_id", eventID))

	event, err := o.guard.ClaimForReprocess(ctx, o.provider, eventID)
	if err != nil {
		if repository.IsNotFound(err) {
			return Response{}, fmt.Errorf("webhook event %s not found: %w", eventID, err)
		}
		return Response{}, err
	}
	env, err := billing.ClassifyEvent([]byte(event.PayloadJSON))
	if err != nil {
		markErr := o.guard.MarkFailed(ctx, event, err)
		return Response{}, errors.Join(err, markErr)
	}

	resp, outcome, procErr := o.process(ctx, event, env)
	o.metrics.ObserveDelivery(env.Kind, outcome, o.now().Sub(start))
	if procErr != nil {
		span.SetStatus(codes.Error, procErr.Error())
	}
	return resp, procErr
}

// FailedEvents lists failed-but-acknowledged events, oldest first.
func (o *Orchestrator) FailedEvents(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := o.store.Transaction(ctx, func(tx repository.Tx) error {
		var err error
		events, err = tx.ListWebhookEvents(models.WebhookOutcomeFailed, limit)
		return err
	})
	return events, err
}

// stateChange describes a committed change, or nil when nothing changed.
func (o *Orchestrator) stateChange(event *models.WebhookEvent, kind string, res *reconcile.Result) *statechange.Event {
	if res == nil || !res.Changed {
		return nil
	}
	e := &statechange.Event{
		Provider:       event.Provider,
		EventID:        event.EventID,
		Kind:           kind,
		PaymentOrderID: res.PaymentOrderID,
		OccurredAt:     o.now(),
	}
	switch p := res.Purpose.(type) {
	case models.OrderPayment:
		e.OrderID = p.OrderID
	case models.SubscriptionPayment:
		e.SubscriptionID = p.SubscriptionID
	}
	return e
}

func (o *Orchestrator) archive(ctx context.Context, rec deadletter.Record) {
	rec.FailedAt = o.now()
	if err := o.archiver.Archive(ctx, rec); err != nil {
		log.Errorf("[DeadLetter] Failed to archive event %s: %v", rec.EventID, err)
	}
}

func (o *Orchestrator) scheduleRetry(ctx context.Context, event *models.WebhookEvent, attempt int) {
	if o.retry == nil {
		return
	}
	if err := o.retry.ScheduleReprocess(ctx, event.Provider, event.EventID, attempt); err != nil {
		log.Errorf("[RetryQueue] Failed to schedule reprocess of %s: %v", event.EventID, err)
		return
	}
	o.metrics.RetryEnqueued()
}

type nopRecorder struct{}

func (nopRecorder) ObserveDelivery(string, string, time.Duration) {}
func (nopRecorder) DunningSuspended()                             {}
func (nopRecorder) RefundRecorded(bool)                           {}
func (nopRecorder) RetryEnqueued()                                {}
