package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/telemart/storefront-backend/pkg/db/models"
	"github.com/telemart/storefront-backend/pkg/enums"
	"github.com/telemart/storefront-backend/pkg/types"
)

// Repository manages persistence for orders and their line items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByIDTx(tx *gorm.DB, id uuid.UUID) (*models.Order, error)
	UpdateStatusGuardedTx(tx *gorm.DB, id uuid.UUID, from []enums.OrderStatus, to enums.OrderStatus) (bool, error)
	AttachQuoteGuarded(ctx context.Context, id uuid.UUID, quote types.SelectedQuote, deliveryFee, total decimal.Decimal, inStatus []enums.OrderStatus) (bool, error)
}

// ErrNotFound is returned when no order matches the lookup.
var ErrNotFound = errors.New("order not found")

type repository struct {
	db *gorm.DB
}

// NewRepository returns an order repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByIDTx(tx *gorm.DB, id uuid.UUID) (*models.Order, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	var order models.Order
	err := tx.Where("id = ?", id).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

// UpdateStatusGuardedTx transitions the order only while it is still in one
// of the expected source statuses.
func (r *repository) UpdateStatusGuardedTx(tx *gorm.DB, id uuid.UUID, from []enums.OrderStatus, to enums.OrderStatus) (bool, error) {
	if tx == nil {
		return false, errors.New("transaction required")
	}
	res := tx.Model(&models.Order{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]any{
			"status":     to,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// AttachQuoteGuarded stores the selected quote and reprices the order, but
// only while the order is still in a status that allows repricing.
func (r *repository) AttachQuoteGuarded(ctx context.Context, id uuid.UUID, quote types.SelectedQuote, deliveryFee, total decimal.Decimal, inStatus []enums.OrderStatus) (bool, error) {
	// struct-based Updates so the jsonb serializer applies to selected_quote
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status IN ?", id, inStatus).
		Select("selected_quote", "delivery_fee", "total_amount", "updated_at").
		Updates(models.Order{
			SelectedQuote: &quote,
			DeliveryFee:   deliveryFee,
			TotalAmount:   total,
			UpdatedAt:     time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
