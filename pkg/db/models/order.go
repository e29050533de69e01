package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/telemart/storefront-backend/pkg/enums"
	"github.com/telemart/storefront-backend/pkg/types"
)

// Order is a storefront order. Orders are never deleted; terminal states are
// retained for audit.
type Order struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserTelegramID *int64    `gorm:"column:user_telegram_id"`
	CustomerName   string    `gorm:"column:customer_name;not null"`
	CustomerPhone  string    `gorm:"column:customer_phone;not null"`

	Currency enums.Currency `gorm:"column:currency;type:text;not null;default:'RUB'"`

	SubtotalAmount decimal.Decimal `gorm:"column:subtotal_amount;type:numeric(10,2);not null"`
	DeliveryFee    decimal.Decimal `gorm:"column:delivery_fee;type:numeric(10,2);not null;default:0"`
	TotalAmount    decimal.Decimal `gorm:"column:total_amount;type:numeric(10,2);not null"`

	DeliveryAddress types.Address        `gorm:"column:delivery_address;type:jsonb;serializer:json"`
	PickupAddress   types.Address        `gorm:"column:pickup_address;type:jsonb;serializer:json"`
	SelectedQuote   *types.SelectedQuote `gorm:"column:selected_quote;type:jsonb;serializer:json"`

	Status enums.OrderStatus `gorm:"column:status;type:text;not null;default:'created'"`

	Items    []OrderItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Payments []Payment   `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
