package outbox

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/telemart/storefront-backend/pkg/db/models"
)

const dlqErrorMessageMax = 2048

type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

func (r *DLQRepository) InsertTx(tx *gorm.DB, row models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if row.ErrorMessage != nil {
		truncated := truncateDLQError(*row.ErrorMessage)
		row.ErrorMessage = &truncated
	}
	return tx.Create(&row).Error
}

func (r *DLQRepository) FindByEventID(eventID uuid.UUID) (*models.OutboxDLQ, error) {
	var row models.OutboxDLQ
	err := r.db.Where("event_id = ?", eventID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *DLQRepository) List(limit int) ([]models.OutboxDLQ, error) {
	var rows []models.OutboxDLQ
	err := r.db.Order("failed_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

func truncateDLQError(msg string) string {
	if len(msg) <= dlqErrorMessageMax {
		return msg
	}
	return msg[:dlqErrorMessageMax]
}
