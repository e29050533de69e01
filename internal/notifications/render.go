package notifications

import (
	"fmt"
	"html"
	"strings"

	"github.com/telemart/storefront-backend/pkg/enums"
)

// renderMessage builds the HTML message body for one order event. Telegram
// parses the text with parse_mode=HTML, so user-provided values are escaped.
func renderMessage(eventType enums.OutboxEventType, payload orderEventPayload) (string, error) {
	ref := shortOrderRef(payload.OrderID.String())
	amount := html.EscapeString(strings.TrimSpace(payload.Amount + " " + payload.Currency))

	switch eventType {
	case enums.EventOrderPaid:
		return fmt.Sprintf("✅ Payment received for order <code>%s</code> (%s). We are preparing your delivery.", ref, amount), nil
	case enums.EventOrderPaymentFailed:
		text := fmt.Sprintf("❌ Payment for order <code>%s</code> did not go through.", ref)
		if reason := strings.TrimSpace(payload.Reason); reason != "" {
			text += fmt.Sprintf(" Reason: %s.", html.EscapeString(reason))
		}
		return text + " You can retry from the order page.", nil
	case enums.EventOrderCanceled:
		text := fmt.Sprintf("🚫 Order <code>%s</code> has been canceled.", ref)
		if reason := strings.TrimSpace(payload.Reason); reason != "" {
			text += fmt.Sprintf(" Reason: %s.", html.EscapeString(reason))
		}
		return text, nil
	case enums.EventOrderRefunded:
		return fmt.Sprintf("💸 Order <code>%s</code> was refunded (%s). The money is on its way back to you.", ref, amount), nil
	default:
		return "", fmt.Errorf("no message template for event type %q", eventType)
	}
}

// shortOrderRef keeps the first uuid block; enough for support lookups
// without flooding the chat.
func shortOrderRef(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
