package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/telemart/storefront-backend/pkg/enums"
)

// Payment tracks one payment attempt against an order. The row becomes
// immutable once the status is terminal; retried orders accumulate history.
type Payment struct {
	ID                uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID           uuid.UUID             `gorm:"column:order_id;type:uuid;not null"`
	Provider          enums.PaymentProvider `gorm:"column:provider;type:text;not null"`
	ProviderPaymentID *string               `gorm:"column:provider_payment_id;uniqueIndex:ux_payments_provider_payment_id"`
	Amount            decimal.Decimal       `gorm:"column:amount;type:numeric(10,2);not null"`
	Currency          enums.Currency        `gorm:"column:currency;type:text;not null;default:'RUB'"`
	Status            enums.PaymentStatus   `gorm:"column:status;type:text;not null;default:'pending'"`
	RawPayload        json.RawMessage       `gorm:"column:raw_payload;type:jsonb"`
	CreatedAt         time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}
