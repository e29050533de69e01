package yookassawebhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/telemart/storefront-backend/internal/ledger"
	"github.com/telemart/storefront-backend/internal/payments"
	"github.com/telemart/storefront-backend/pkg/db/models"
	"github.com/telemart/storefront-backend/pkg/enums"
	pkgerrors "github.com/telemart/storefront-backend/pkg/errors"
	"github.com/telemart/storefront-backend/pkg/logger"
	"github.com/telemart/storefront-backend/pkg/metrics"
	"github.com/telemart/storefront-backend/pkg/outbox"
	redispkg "github.com/telemart/storefront-backend/pkg/redis"
	"github.com/telemart/storefront-backend/pkg/yookassa"
)

// Outcome classifies how a webhook delivery was handled. Every outcome except
// OutcomeError acks the delivery with HTTP 200.
type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeRejected       Outcome = "rejected"
	OutcomeIgnored        Outcome = "ignored"
	OutcomeUnknownPayment Outcome = "unknown_payment"
	OutcomeError          Outcome = "error"
)

const (
	idempotencyScope  = "webhook:yookassa"
	fastPathMarkerTTL = 48 * time.Hour
	triggerSource     = "webhook"
)

type paymentApplier interface {
	ApplyTx(ctx context.Context, tx *gorm.DB, input payments.ApplyInput) (*payments.Result, error)
	GetByProviderPaymentIDTx(ctx context.Context, tx *gorm.DB, provider enums.PaymentProvider, providerPaymentID string) (*models.Payment, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	Logger            *logger.Logger
	TransactionRunner txRunner
	Ledger            ledger.Service
	Payments          paymentApplier
	Idempotency       redispkg.IdempotencyStore
	Metrics           *metrics.WebhookMetrics
	WebhookSecret     string
}

// Service is the YooKassa webhook gateway: it authenticates deliveries,
// dedupes them through the durable ledger and feeds canonical events into the
// payment state machine.
type Service struct {
	logg        *logger.Logger
	txRunner    txRunner
	ledger      ledger.Service
	payments    paymentApplier
	idempotency redispkg.IdempotencyStore
	metrics     *metrics.WebhookMetrics
	secret      string
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	}
	if params.Payments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment service required")
	}
	if params.WebhookSecret == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook secret required")
	}
	return &Service{
		logg:        params.Logger,
		txRunner:    params.TransactionRunner,
		ledger:      params.Ledger,
		payments:    params.Payments,
		idempotency: params.Idempotency,
		metrics:     params.Metrics,
		secret:      params.WebhookSecret,
	}, nil
}

// HandleDelivery processes one raw webhook delivery. The returned outcome is
// advisory for logging/metrics; a non-nil error means the delivery must be
// answered with a non-2xx status so the provider redelivers.
func (s *Service) HandleDelivery(ctx context.Context, body []byte, signature string) (Outcome, error) {
	provider := string(enums.PaymentProviderYooKassa)

	if !yookassa.VerifySignature(s.secret, body, signature) {
		s.metrics.IncEvent(provider, "unauthorized")
		return OutcomeError, pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook signature verification failed")
	}

	event, err := yookassa.ParseEvent(body)
	if err != nil {
		s.metrics.IncEvent(provider, "rejected")
		return OutcomeError, err
	}

	externalID := event.ExternalID()
	ctx = s.logg.WithProvider(ctx, provider)
	ctx = s.logg.WithField(ctx, "external_event_id", externalID)

	kind, known := eventKind(event.Event)
	if !known {
		s.logg.Info(ctx, "ignoring unhandled webhook event type")
		s.metrics.IncEvent(provider, "ignored")
		return OutcomeIgnored, nil
	}

	// advisory fast path: a marker here means a previous delivery committed
	if s.seenRecently(ctx, externalID) {
		s.metrics.IncEvent(provider, "duplicate")
		return OutcomeDuplicate, nil
	}

	outcome, err := s.process(ctx, event, kind, externalID)
	if err != nil {
		s.metrics.IncEvent(provider, "error")
		return OutcomeError, err
	}

	s.markSeen(ctx, externalID)
	s.metrics.IncEvent(provider, string(outcome))
	return outcome, nil
}

// process runs admission and the state transition in one transaction. The
// ledger row is the atomic gate: it commits together with the transition, or
// with a recorded rejection, and rolls back on transient failure so the
// provider's redelivery gets a clean retry.
func (s *Service) process(ctx context.Context, event *yookassa.Event, kind payments.EventKind, externalID string) (Outcome, error) {
	var outcome Outcome
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		admitted, err := s.ledger.TryBeginProcessing(ctx, tx, enums.PaymentProviderYooKassa, externalID)
		if err != nil {
			return err
		}
		if !admitted {
			outcome = OutcomeDuplicate
			return nil
		}

		payment, err := s.payments.GetByProviderPaymentIDTx(ctx, tx, enums.PaymentProviderYooKassa, event.ProviderPaymentID())
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				// redelivery cannot fix an unknown payment; keep the admission
				// with the outcome recorded and ack
				s.logg.Warn(s.logg.WithField(ctx, "provider_payment_id", event.ProviderPaymentID()), "webhook references unknown payment")
				outcome = OutcomeUnknownPayment
				return s.ledger.MarkOutcome(ctx, tx, enums.PaymentProviderYooKassa, externalID, enums.LedgerOutcomeUnknownPayment)
			}
			return err
		}

		input, err := buildApplyInput(payment, event, kind, externalID)
		if err != nil {
			return err
		}

		if _, err := s.payments.ApplyTx(ctx, tx, input); err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) || pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
				// invalid transition or amount mismatch: deterministic, a
				// redelivery would fail the same way
				s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "webhook event rejected by state machine")
				outcome = OutcomeRejected
				return s.ledger.MarkOutcome(ctx, tx, enums.PaymentProviderYooKassa, externalID, enums.LedgerOutcomeRejected)
			}
			return err
		}

		outcome = OutcomeApplied
		return nil
	})
	if err != nil {
		return OutcomeError, err
	}
	return outcome, nil
}

func buildApplyInput(payment *models.Payment, event *yookassa.Event, kind payments.EventKind, externalID string) (payments.ApplyInput, error) {
	input := payments.ApplyInput{
		PaymentID:  payment.ID,
		Kind:       kind,
		RawPayload: rawObject(event),
		Trigger:    outbox.TriggerRef{Source: triggerSource, ExternalEventID: externalID},
	}

	switch kind {
	case payments.EventAuthorizationSucceeded, payments.EventRefunded:
		amount, err := decimal.NewFromString(event.Object.Amount.Value)
		if err != nil {
			return payments.ApplyInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse webhook amount")
		}
		currency, err := enums.ParseCurrency(event.Object.Amount.Currency)
		if err != nil {
			return payments.ApplyInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse webhook currency")
		}
		input.Amount = amount
		input.Currency = currency
	case payments.EventAuthorizationFailed:
		if event.Object.CancellationDetails != nil {
			input.Reason = event.Object.CancellationDetails.Reason
		}
	}
	return input, nil
}

func eventKind(name string) (payments.EventKind, bool) {
	switch name {
	case yookassa.EventPaymentSucceeded:
		return payments.EventAuthorizationSucceeded, true
	case yookassa.EventPaymentCanceled:
		return payments.EventAuthorizationFailed, true
	case yookassa.EventRefundSucceeded:
		return payments.EventRefunded, true
	default:
		return "", false
	}
}

func rawObject(event *yookassa.Event) json.RawMessage {
	raw, err := json.Marshal(event.Object)
	if err != nil {
		return nil
	}
	return raw
}

func (s *Service) seenRecently(ctx context.Context, externalID string) bool {
	if s.idempotency == nil {
		return false
	}
	_, err := s.idempotency.Get(ctx, s.idempotency.IdempotencyKey(idempotencyScope, externalID))
	return err == nil
}

func (s *Service) markSeen(ctx context.Context, externalID string) {
	if s.idempotency == nil {
		return
	}
	key := s.idempotency.IdempotencyKey(idempotencyScope, externalID)
	if _, err := s.idempotency.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), fastPathMarkerTTL); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "idempotency fast-path write failed")
	}
}
