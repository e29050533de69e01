package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/telemart/storefront-backend/pkg/db/models"
	"github.com/telemart/storefront-backend/pkg/enums"
)

// Service is the durable idempotency gate for external event processing.
type Service interface {
	TryBeginProcessing(ctx context.Context, tx *gorm.DB, provider enums.PaymentProvider, externalEventID string) (bool, error)
	MarkOutcome(ctx context.Context, tx *gorm.DB, provider enums.PaymentProvider, externalEventID string, outcome enums.LedgerOutcome) error
	Lookup(ctx context.Context, provider enums.PaymentProvider, externalEventID string) (*models.IdempotencyRecord, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type service struct {
	repo Repository
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

// TryBeginProcessing admits the event for processing. Must run inside the
// same transaction as the state transition it guards: if the transaction
// rolls back, the admission rolls back with it and a redelivery gets a fresh
// attempt. Returns false without error when the event was already admitted.
func (s *service) TryBeginProcessing(ctx context.Context, tx *gorm.DB, provider enums.PaymentProvider, externalEventID string) (bool, error) {
	if tx == nil {
		return false, fmt.Errorf("transaction required")
	}
	if !provider.IsValid() {
		return false, fmt.Errorf("invalid provider %q", provider)
	}
	if strings.TrimSpace(externalEventID) == "" {
		return false, fmt.Errorf("external event id is required")
	}

	record := &models.IdempotencyRecord{
		ID:              uuid.New(),
		Provider:        provider,
		ExternalEventID: externalEventID,
		Outcome:         enums.LedgerOutcomeApplied,
		ProcessedAt:     time.Now().UTC(),
	}
	return s.repo.WithTx(tx).InsertIgnoreDuplicate(ctx, record)
}

// MarkOutcome overrides the recorded outcome for an admitted event, e.g. when
// processing concludes with a rejection that should still ack redeliveries.
func (s *service) MarkOutcome(ctx context.Context, tx *gorm.DB, provider enums.PaymentProvider, externalEventID string, outcome enums.LedgerOutcome) error {
	if !outcome.IsValid() {
		return fmt.Errorf("invalid ledger outcome %q", outcome)
	}
	repo := s.repo
	if tx != nil {
		repo = repo.WithTx(tx)
	}
	return repo.UpdateOutcome(ctx, provider, externalEventID, outcome)
}

func (s *service) Lookup(ctx context.Context, provider enums.PaymentProvider, externalEventID string) (*models.IdempotencyRecord, error) {
	return s.repo.Find(ctx, provider, externalEventID)
}

// PruneBefore removes records processed before the cutoff. Safe because the
// provider's redelivery horizon is far shorter than the retention window.
func (s *service) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		return 0, fmt.Errorf("cutoff is required")
	}
	return s.repo.DeleteProcessedBefore(ctx, cutoff)
}
