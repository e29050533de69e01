package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/telemart/storefront-backend/internal/payments"
	"github.com/telemart/storefront-backend/pkg/db/models"
	"github.com/telemart/storefront-backend/pkg/enums"
	pkgerrors "github.com/telemart/storefront-backend/pkg/errors"
	"github.com/telemart/storefront-backend/pkg/logger"
	"github.com/telemart/storefront-backend/pkg/yookassa"
)

type reconcileTxRunner struct{}

func (reconcileTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeStaleSource struct {
	stale    []models.Payment
	applied  []payments.ApplyInput
	applyErr error
}

func (f *fakeStaleSource) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Payment, error) {
	return f.stale, nil
}

func (f *fakeStaleSource) ApplyTx(ctx context.Context, tx *gorm.DB, input payments.ApplyInput) (*payments.Result, error) {
	f.applied = append(f.applied, input)
	if f.applyErr != nil {
		return nil, f.applyErr
	}
	return &payments.Result{}, nil
}

type fakeProviderReader struct {
	payments map[string]*yookassa.Payment
	err      error
}

func (f *fakeProviderReader) GetPayment(ctx context.Context, paymentID string) (*yookassa.Payment, error) {
	if f.err != nil {
		return nil, f.err
	}
	remote, ok := f.payments[paymentID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	return remote, nil
}

type fakeReconcileLedger struct {
	admitted   map[string]bool
	outcomes   map[string]enums.LedgerOutcome
	admissions []string
}

func newFakeReconcileLedger() *fakeReconcileLedger {
	return &fakeReconcileLedger{admitted: map[string]bool{}, outcomes: map[string]enums.LedgerOutcome{}}
}

func (f *fakeReconcileLedger) TryBeginProcessing(ctx context.Context, tx *gorm.DB, provider enums.PaymentProvider, externalEventID string) (bool, error) {
	if f.admitted[externalEventID] {
		return false, nil
	}
	f.admitted[externalEventID] = true
	f.admissions = append(f.admissions, externalEventID)
	return true, nil
}

func (f *fakeReconcileLedger) MarkOutcome(ctx context.Context, tx *gorm.DB, provider enums.PaymentProvider, externalEventID string, outcome enums.LedgerOutcome) error {
	f.outcomes[externalEventID] = outcome
	return nil
}

func (f *fakeReconcileLedger) Lookup(ctx context.Context, provider enums.PaymentProvider, externalEventID string) (*models.IdempotencyRecord, error) {
	return nil, nil
}

func (f *fakeReconcileLedger) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func stalePayment(providerID string) models.Payment {
	ref := providerID
	return models.Payment{
		ID:                uuid.New(),
		OrderID:           uuid.New(),
		Provider:          enums.PaymentProviderYooKassa,
		ProviderPaymentID: &ref,
		Amount:            decimal.RequireFromString("350.00"),
		Currency:          enums.CurrencyRUB,
		Status:            enums.PaymentStatusPending,
	}
}

func newReconcileJob(t *testing.T, source *fakeStaleSource, provider *fakeProviderReader, ledg *fakeReconcileLedger) Job {
	t.Helper()
	job, err := NewReconcilePaymentsJob(ReconcilePaymentsJobParams{
		Logger:   logger.New(logger.Options{ServiceName: "test"}),
		DB:       reconcileTxRunner{},
		Payments: source,
		Provider: provider,
		Ledger:   ledg,
	})
	if err != nil {
		t.Fatalf("NewReconcilePaymentsJob: %v", err)
	}
	return job
}

func TestReconcilePaymentsJobAppliesProviderOutcome(t *testing.T) {
	payment := stalePayment("prov-1")
	source := &fakeStaleSource{stale: []models.Payment{payment}}
	provider := &fakeProviderReader{payments: map[string]*yookassa.Payment{
		"prov-1": {
			ID:     "prov-1",
			Status: "succeeded",
			Paid:   true,
			Amount: yookassa.Amount{Value: "350.00", Currency: "RUB"},
		},
	}}
	ledg := newFakeReconcileLedger()

	if err := newReconcileJob(t, source, provider, ledg).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(source.applied) != 1 {
		t.Fatalf("expected one event applied, got %d", len(source.applied))
	}
	applied := source.applied[0]
	if applied.Kind != payments.EventAuthorizationSucceeded {
		t.Fatalf("expected succeeded event, got %s", applied.Kind)
	}
	if !applied.Amount.Equal(decimal.RequireFromString("350.00")) {
		t.Fatalf("expected provider amount carried over, got %s", applied.Amount)
	}
	wantID := "reconcile:" + payment.ID.String() + ":succeeded"
	if applied.Trigger.ExternalEventID != wantID {
		t.Fatalf("expected event id %q, got %q", wantID, applied.Trigger.ExternalEventID)
	}
	if len(ledg.admissions) != 1 || ledg.admissions[0] != wantID {
		t.Fatalf("expected one ledger admission for %q, got %v", wantID, ledg.admissions)
	}
}

func TestReconcilePaymentsJobMapsCanceledStatus(t *testing.T) {
	payment := stalePayment("prov-2")
	source := &fakeStaleSource{stale: []models.Payment{payment}}
	provider := &fakeProviderReader{payments: map[string]*yookassa.Payment{
		"prov-2": {
			ID:     "prov-2",
			Status: "canceled",
			CancellationDetails: &yookassa.CancellationDetails{
				Party:  "yoo_money",
				Reason: "expired_on_confirmation",
			},
		},
	}}

	if err := newReconcileJob(t, source, provider, newFakeReconcileLedger()).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(source.applied) != 1 {
		t.Fatalf("expected one event applied, got %d", len(source.applied))
	}
	if source.applied[0].Kind != payments.EventAuthorizationFailed {
		t.Fatalf("expected failed event, got %s", source.applied[0].Kind)
	}
	if source.applied[0].Reason != "expired_on_confirmation" {
		t.Fatalf("expected cancellation reason carried over, got %q", source.applied[0].Reason)
	}
}

func TestReconcilePaymentsJobSkipsStillPending(t *testing.T) {
	payment := stalePayment("prov-3")
	source := &fakeStaleSource{stale: []models.Payment{payment}}
	provider := &fakeProviderReader{payments: map[string]*yookassa.Payment{
		"prov-3": {ID: "prov-3", Status: "waiting_for_capture"},
	}}
	ledg := newFakeReconcileLedger()

	if err := newReconcileJob(t, source, provider, ledg).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(source.applied) != 0 {
		t.Fatalf("expected no events applied, got %d", len(source.applied))
	}
	if len(ledg.admissions) != 0 {
		t.Fatalf("expected no ledger admissions, got %v", ledg.admissions)
	}
}

func TestReconcilePaymentsJobSkipsUnregisteredPayments(t *testing.T) {
	payment := stalePayment("")
	payment.ProviderPaymentID = nil
	source := &fakeStaleSource{stale: []models.Payment{payment}}
	provider := &fakeProviderReader{err: errors.New("must not be called")}

	if err := newReconcileJob(t, source, provider, newFakeReconcileLedger()).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(source.applied) != 0 {
		t.Fatalf("expected no events applied, got %d", len(source.applied))
	}
}

func TestReconcilePaymentsJobDuplicateAdmissionIsNoop(t *testing.T) {
	payment := stalePayment("prov-4")
	source := &fakeStaleSource{stale: []models.Payment{payment}}
	provider := &fakeProviderReader{payments: map[string]*yookassa.Payment{
		"prov-4": {ID: "prov-4", Status: "succeeded", Amount: yookassa.Amount{Value: "350.00", Currency: "RUB"}},
	}}
	ledg := newFakeReconcileLedger()
	ledg.admitted["reconcile:"+payment.ID.String()+":succeeded"] = true

	if err := newReconcileJob(t, source, provider, ledg).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(source.applied) != 0 {
		t.Fatalf("expected no events applied on duplicate admission, got %d", len(source.applied))
	}
}

func TestReconcilePaymentsJobRecordsRejectionWhenWebhookWon(t *testing.T) {
	payment := stalePayment("prov-5")
	source := &fakeStaleSource{
		stale:    []models.Payment{payment},
		applyErr: pkgerrors.New(pkgerrors.CodeStateConflict, "already succeeded"),
	}
	provider := &fakeProviderReader{payments: map[string]*yookassa.Payment{
		"prov-5": {ID: "prov-5", Status: "succeeded", Amount: yookassa.Amount{Value: "350.00", Currency: "RUB"}},
	}}
	ledg := newFakeReconcileLedger()

	if err := newReconcileJob(t, source, provider, ledg).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	wantID := "reconcile:" + payment.ID.String() + ":succeeded"
	if ledg.outcomes[wantID] != enums.LedgerOutcomeRejected {
		t.Fatalf("expected rejected outcome recorded, got %q", ledg.outcomes[wantID])
	}
}

func TestReconcilePaymentsJobAggregatesProviderErrors(t *testing.T) {
	first := stalePayment("prov-err")
	second := stalePayment("prov-6")
	source := &fakeStaleSource{stale: []models.Payment{first, second}}
	provider := &fakeProviderReader{payments: map[string]*yookassa.Payment{
		"prov-6": {ID: "prov-6", Status: "succeeded", Amount: yookassa.Amount{Value: "350.00", Currency: "RUB"}},
	}}

	err := newReconcileJob(t, source, provider, newFakeReconcileLedger()).Run(context.Background())
	if err == nil {
		t.Fatal("expected aggregated error for the failed lookup")
	}
	if len(source.applied) != 1 {
		t.Fatalf("one payment still reconciles despite the other failing, got %d applies", len(source.applied))
	}
}
