package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/telemart/storefront-backend/pkg/db/models"
	"github.com/telemart/storefront-backend/pkg/logger"
	"github.com/telemart/storefront-backend/pkg/outbox"
)

type telegramSender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// NonRetryableError marks a delivery failure that retrying cannot fix, such
// as a malformed payload. The publisher routes these to the DLQ instead of
// retrying.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string { return e.Err.Error() }
func (e NonRetryableError) Unwrap() error { return e.Err }

// NewNonRetryableError wraps err as permanently failed.
func NewNonRetryableError(err error) error {
	return NonRetryableError{Err: err}
}

// Service turns order lifecycle events into Telegram messages for the
// customer. Delivery is best effort: a returned error makes the publisher
// retry, a NonRetryableError sends the event to the DLQ.
type Service struct {
	logg     *logger.Logger
	telegram telegramSender
}

func NewService(logg *logger.Logger, telegram telegramSender) (*Service, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if telegram == nil {
		return nil, fmt.Errorf("telegram client required")
	}
	return &Service{logg: logg, telegram: telegram}, nil
}

// Deliver renders and sends the notification for one outbox event. Events
// without a Telegram chat id are acknowledged without sending; there is no
// one to notify.
func (s *Service) Deliver(ctx context.Context, event models.OutboxEvent) error {
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return NewNonRetryableError(fmt.Errorf("decode envelope: %w", err))
	}

	var payload orderEventPayload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		return NewNonRetryableError(fmt.Errorf("decode order event payload: %w", err))
	}
	if payload.OrderID == uuid.Nil {
		return NewNonRetryableError(fmt.Errorf("order event without order id"))
	}

	logCtx := s.logg.WithOrderID(ctx, payload.OrderID.String())
	logCtx = s.logg.WithField(logCtx, "event_type", string(event.EventType))

	if payload.UserTelegramID == nil || *payload.UserTelegramID == 0 {
		s.logg.Info(logCtx, "order has no telegram chat; skipping notification")
		return nil
	}

	text, err := renderMessage(event.EventType, payload)
	if err != nil {
		return NewNonRetryableError(err)
	}

	if err := s.telegram.SendMessage(ctx, *payload.UserTelegramID, text); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}

	s.logg.Info(logCtx, "order notification sent")
	return nil
}

type orderEventPayload struct {
	OrderID        uuid.UUID `json:"order_id"`
	PaymentID      uuid.UUID `json:"payment_id"`
	UserTelegramID *int64    `json:"user_telegram_id"`
	CustomerName   string    `json:"customer_name"`
	Amount         string    `json:"amount"`
	Currency       string    `json:"currency"`
	Reason         string    `json:"reason,omitempty"`
}
