package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/telemart/storefront-backend/internal/ledger"
	"github.com/telemart/storefront-backend/internal/payments"
	"github.com/telemart/storefront-backend/pkg/db/models"
	"github.com/telemart/storefront-backend/pkg/enums"
	pkgerrors "github.com/telemart/storefront-backend/pkg/errors"
	"github.com/telemart/storefront-backend/pkg/logger"
	"github.com/telemart/storefront-backend/pkg/metrics"
	"github.com/telemart/storefront-backend/pkg/outbox"
	"github.com/telemart/storefront-backend/pkg/yookassa"
)

const (
	defaultStaleness       = 15 * time.Minute
	defaultReconcileLimit  = 100
	defaultProviderTimeout = 10 * time.Second
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type stalePaymentSource interface {
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Payment, error)
	ApplyTx(ctx context.Context, tx *gorm.DB, input payments.ApplyInput) (*payments.Result, error)
}

type providerReader interface {
	GetPayment(ctx context.Context, paymentID string) (*yookassa.Payment, error)
}

// ReconcilePaymentsJobParams configures the stale-payment sweep.
type ReconcilePaymentsJobParams struct {
	Logger    *logger.Logger
	DB        txRunner
	Payments  stalePaymentSource
	Provider  providerReader
	Ledger    ledger.Service
	Metrics   *metrics.JobMetrics
	Staleness time.Duration
	Limit     int
	Timeout   time.Duration
	Now       func() time.Time
}

// NewReconcilePaymentsJob builds the sweep that re-checks payments stuck in
// pending against the provider. A lost webhook is recovered here: the
// provider's answer is fed through the same ledger admission and state
// machine as a webhook delivery would be.
func NewReconcilePaymentsJob(params ReconcilePaymentsJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment service required")
	}
	if params.Provider == nil {
		return nil, fmt.Errorf("provider client required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	staleness := params.Staleness
	if staleness <= 0 {
		staleness = defaultStaleness
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &reconcilePaymentsJob{
		logg:      params.Logger,
		db:        params.DB,
		payments:  params.Payments,
		provider:  params.Provider,
		ledger:    params.Ledger,
		metrics:   params.Metrics,
		staleness: staleness,
		limit:     limit,
		timeout:   timeout,
		now:       now,
	}, nil
}

type reconcilePaymentsJob struct {
	logg      *logger.Logger
	db        txRunner
	payments  stalePaymentSource
	provider  providerReader
	ledger    ledger.Service
	metrics   *metrics.JobMetrics
	staleness time.Duration
	limit     int
	timeout   time.Duration
	now       func() time.Time
}

func (j *reconcilePaymentsJob) Name() string { return "reconcile-payments" }

func (j *reconcilePaymentsJob) Run(ctx context.Context) error {
	olderThan := j.now().UTC().Add(-j.staleness)
	stale, err := j.payments.ListStalePending(ctx, olderThan, j.limit)
	if err != nil {
		return fmt.Errorf("list stale pending payments: %w", err)
	}

	var errs error
	resolved := 0
	for i := range stale {
		outcome, err := j.reconcilePayment(ctx, &stale[i])
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		j.record(outcome)
		if outcome == "applied" {
			resolved++
		}
	}

	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(stale),
		"resolved":   resolved,
	})
	j.logg.Info(reportCtx, "payment reconcile sweep complete")
	return errs
}

func (j *reconcilePaymentsJob) reconcilePayment(ctx context.Context, payment *models.Payment) (string, error) {
	logCtx := j.logg.WithPaymentID(ctx, payment.ID.String())
	if payment.ProviderPaymentID == nil || *payment.ProviderPaymentID == "" {
		// registration never completed; nothing to ask the provider
		j.logg.Info(logCtx, "stale payment has no provider id; skipping")
		return "skipped", nil
	}

	callCtx, cancel := context.WithTimeout(logCtx, j.timeout)
	defer cancel()
	remote, err := j.provider.GetPayment(callCtx, *payment.ProviderPaymentID)
	if err != nil {
		return "", fmt.Errorf("fetch provider payment %s: %w", *payment.ProviderPaymentID, err)
	}

	kind, terminal := reconcileEventKind(remote.Status)
	if !terminal {
		j.logg.Info(j.logg.WithField(logCtx, "provider_status", remote.Status),
			"payment still pending at provider")
		return "pending", nil
	}

	externalID := fmt.Sprintf("reconcile:%s:%s", payment.ID, remote.Status)
	input, err := buildReconcileInput(payment, remote, kind, externalID)
	if err != nil {
		return "", err
	}

	outcome := "applied"
	err = j.db.WithTx(logCtx, func(tx *gorm.DB) error {
		admitted, err := j.ledger.TryBeginProcessing(logCtx, tx, payment.Provider, externalID)
		if err != nil {
			return err
		}
		if !admitted {
			outcome = "duplicate"
			return nil
		}
		if _, err := j.payments.ApplyTx(logCtx, tx, input); err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) || pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
				// a webhook beat us to it, or the amounts disagree;
				// either way the admission stands
				outcome = "rejected"
				return j.ledger.MarkOutcome(logCtx, tx, payment.Provider, externalID, enums.LedgerOutcomeRejected)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("reconcile payment %s: %w", payment.ID, err)
	}

	j.logg.Info(j.logg.WithFields(logCtx, map[string]any{
		"provider_status": remote.Status,
		"outcome":         outcome,
	}), "stale payment reconciled")
	return outcome, nil
}

func (j *reconcilePaymentsJob) record(outcome string) {
	if j.metrics == nil {
		return
	}
	j.metrics.IncReconciled(outcome)
}

func reconcileEventKind(providerStatus string) (payments.EventKind, bool) {
	switch providerStatus {
	case "succeeded":
		return payments.EventAuthorizationSucceeded, true
	case "canceled":
		return payments.EventAuthorizationFailed, true
	default:
		return "", false
	}
}

func buildReconcileInput(payment *models.Payment, remote *yookassa.Payment, kind payments.EventKind, externalID string) (payments.ApplyInput, error) {
	input := payments.ApplyInput{
		PaymentID: payment.ID,
		Kind:      kind,
		Trigger:   outbox.TriggerRef{Source: "reconcile", ExternalEventID: externalID},
	}
	switch kind {
	case payments.EventAuthorizationSucceeded:
		amount, err := remote.Amount.Decimal()
		if err != nil {
			return payments.ApplyInput{}, fmt.Errorf("parse provider amount: %w", err)
		}
		currency, err := enums.ParseCurrency(remote.Amount.Currency)
		if err != nil {
			return payments.ApplyInput{}, fmt.Errorf("parse provider currency: %w", err)
		}
		input.Amount = amount
		input.Currency = currency
	case payments.EventAuthorizationFailed:
		if remote.CancellationDetails != nil {
			input.Reason = remote.CancellationDetails.Reason
		}
	}
	return input, nil
}
