package payments

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/telemart/storefront-backend/pkg/db/models"
	"github.com/telemart/storefront-backend/pkg/enums"
)

// Repository manages persistence for payment attempts.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindByProviderPaymentID(ctx context.Context, provider enums.PaymentProvider, providerPaymentID string) (*models.Payment, error)
	FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Payment, error)
	FindLatestByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	AttachProviderRef(ctx context.Context, id uuid.UUID, providerPaymentID string, rawPayload json.RawMessage) error
	UpdateStatusGuarded(ctx context.Context, id uuid.UUID, from, to enums.PaymentStatus, rawPayload json.RawMessage) (bool, error)
}

// ErrNotFound is returned when no payment matches the lookup.
var ErrNotFound = errors.New("payment not found")

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payment repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindByProviderPaymentID(ctx context.Context, provider enums.PaymentProvider, providerPaymentID string) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_payment_id = ?", provider, providerPaymentID).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.Payment, error) {
	var rows []models.Payment
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.PaymentStatusPending, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) FindLatestByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// AttachProviderRef records the provider-side payment id once registration
// succeeds. The id is written once; later writes only refresh the payload.
func (r *repository) AttachProviderRef(ctx context.Context, id uuid.UUID, providerPaymentID string, rawPayload json.RawMessage) error {
	updates := map[string]any{
		"provider_payment_id": providerPaymentID,
		"updated_at":          time.Now().UTC(),
	}
	if len(rawPayload) > 0 {
		updates["raw_payload"] = rawPayload
	}
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// UpdateStatusGuarded transitions the payment only when it is still in the
// expected source status. A false return means a concurrent writer advanced
// the row first.
func (r *repository) UpdateStatusGuarded(ctx context.Context, id uuid.UUID, from, to enums.PaymentStatus, rawPayload json.RawMessage) (bool, error) {
	updates := map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	if len(rawPayload) > 0 {
		updates["raw_payload"] = rawPayload
	}
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
