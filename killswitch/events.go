package killswitch

import "encoding/json"

// EventType enumerates the pub/sub event kinds.
type EventType string

const (
	EventGlobalStop   EventType = "GLOBAL_STOP"
	EventGlobalResume EventType = "GLOBAL_RESUME"
	EventUserStop     EventType = "USER_STOP"
	EventUserResume   EventType = "USER_RESUME"
	EventStrategyStop EventType = "STRATEGY_STOP"
)

// Event is the JSON payload broadcast on the kill-switch channel.
type Event struct {
	Type           EventType `json:"type"`
	Reason         string    `json:"reason,omitempty"`
	ActivatedBy    string    `json:"activated_by,omitempty"`
	DeactivatedBy  string    `json:"deactivated_by,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
}

// Marshal encodes the event for publishing.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// ParseEvent decodes a payload from the channel. Unknown or malformed
// messages return ok=false and are logged and ignored by subscribers.
func ParseEvent(payload []byte) (Event, bool) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return Event{}, false
	}
	switch e.Type {
	case EventGlobalStop, EventGlobalResume, EventUserStop, EventUserResume, EventStrategyStop:
		return e, true
	}
	return Event{}, false
}
