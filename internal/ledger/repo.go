package ledger

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/telemart/storefront-backend/pkg/db/models"
	"github.com/telemart/storefront-backend/pkg/enums"
)

// Repository manages persistence for idempotency records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	InsertIgnoreDuplicate(ctx context.Context, record *models.IdempotencyRecord) (bool, error)
	UpdateOutcome(ctx context.Context, provider enums.PaymentProvider, externalEventID string, outcome enums.LedgerOutcome) error
	Find(ctx context.Context, provider enums.PaymentProvider, externalEventID string) (*models.IdempotencyRecord, error)
	DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// InsertIgnoreDuplicate attempts the admission insert. The unique index on
// (provider, external_event_id) makes the insert the atomic gate: exactly one
// concurrent writer observes true.
func (r *repository) InsertIgnoreDuplicate(ctx context.Context, record *models.IdempotencyRecord) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "external_event_id"}},
			DoNothing: true,
		}).
		Create(record)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) UpdateOutcome(ctx context.Context, provider enums.PaymentProvider, externalEventID string, outcome enums.LedgerOutcome) error {
	return r.db.WithContext(ctx).
		Model(&models.IdempotencyRecord{}).
		Where("provider = ? AND external_event_id = ?", provider, externalEventID).
		Update("outcome", outcome).Error
}

func (r *repository) Find(ctx context.Context, provider enums.PaymentProvider, externalEventID string) (*models.IdempotencyRecord, error) {
	var record models.IdempotencyRecord
	err := r.db.WithContext(ctx).
		Where("provider = ? AND external_event_id = ?", provider, externalEventID).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) DeleteProcessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("processed_at < ?", cutoff).
		Delete(&models.IdempotencyRecord{})
	return res.RowsAffected, res.Error
}
