package yookassa

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	pkgerrors "github.com/telemart/storefront-backend/pkg/errors"
)

// Provider event types delivered over webhooks.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentCanceled  = "payment.canceled"
	EventRefundSucceeded  = "refund.succeeded"
)

// Event is a webhook notification body.
type Event struct {
	Type   string  `json:"type"`
	Event  string  `json:"event"`
	Object Payment `json:"object"`
}

// ExternalID derives the stable identifier used for idempotent processing:
// the event name combined with the provider object id.
func (e Event) ExternalID() string {
	return e.Event + ":" + e.Object.ID
}

// ProviderPaymentID returns the payment the notification is about. Refund
// objects reference their payment through payment_id; payment objects are
// the payment themselves.
func (e Event) ProviderPaymentID() string {
	if e.Object.PaymentID != "" {
		return e.Object.PaymentID
	}
	return e.Object.ID
}

// ParseEvent decodes a webhook body into a canonical event. Events without a
// name or payment id are rejected before they reach the processing pipeline.
func ParseEvent(body []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode webhook event")
	}
	if strings.TrimSpace(event.Event) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook event name is required")
	}
	if strings.TrimSpace(event.Object.ID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook payment id is required")
	}
	return &event, nil
}

// VerifySignature checks the HMAC-SHA256 hex signature computed over the raw
// request body. Comparison is constant-time.
func VerifySignature(secret string, body []byte, signature string) bool {
	signature = strings.TrimSpace(signature)
	if secret == "" || signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, provided)
}
