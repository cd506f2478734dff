package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/adtrail-backend/pkg/enums"
)

// Envelope is an attribution event as received from the analytics subscription.
type Envelope struct {
	EventID       uuid.UUID                 `json:"event_id"`
	EventType     enums.OutboxEventType     `json:"event_type"`
	AggregateType enums.OutboxAggregateType `json:"aggregate_type"`
	AggregateID   string                    `json:"aggregate_id"`
	Version       int                       `json:"version"`
	OccurredAt    time.Time                 `json:"occurred_at"`
	Source        string                    `json:"source,omitempty"`
	Payload       json.RawMessage           `json:"payload"`
}
