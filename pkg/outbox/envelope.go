package outbox

import (
	"encoding/json"
	"time"
)

// TriggerRef identifies what produced the event: a provider webhook, the
// reconciliation sweeper, or a manual action.
type TriggerRef struct {
	Source          string `json:"source"`
	ExternalEventID string `json:"externalEventId,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Trigger    *TriggerRef     `json:"trigger,omitempty"`
	Data       json.RawMessage `json:"data"`
}
