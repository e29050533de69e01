package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderItem snapshots one product line at checkout time. Weight and dimensions
// feed the delivery manifest.
type OrderItem struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID       uuid.UUID       `gorm:"column:order_id;type:uuid;not null"`
	ProductID     uuid.UUID       `gorm:"column:product_id;type:uuid;not null"`
	TitleSnapshot string          `gorm:"column:title_snapshot;not null"`
	Quantity      int             `gorm:"column:quantity;not null"`
	UnitPrice     decimal.Decimal `gorm:"column:unit_price;type:numeric(10,2);not null"`
	TotalPrice    decimal.Decimal `gorm:"column:total_price;type:numeric(10,2);not null"`
	WeightKG      float64         `gorm:"column:weight_kg;not null"`
	LengthM       float64         `gorm:"column:length_m;not null"`
	WidthM        float64         `gorm:"column:width_m;not null"`
	HeightM       float64         `gorm:"column:height_m;not null"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
}
