package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/telemart/storefront-backend/pkg/enums"
)

// IdempotencyRecord marks an external event as processed. The unique index on
// (provider, external_event_id) is the atomic admission gate.
type IdempotencyRecord struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Provider        enums.PaymentProvider `gorm:"column:provider;type:text;not null;uniqueIndex:ux_idempotency_provider_event"`
	ExternalEventID string                `gorm:"column:external_event_id;not null;uniqueIndex:ux_idempotency_provider_event"`
	Outcome         enums.LedgerOutcome   `gorm:"column:outcome;type:text;not null;default:'applied'"`
	ProcessedAt     time.Time             `gorm:"column:processed_at;autoCreateTime"`
}
