package enums

import "slices"

// OutboxAggregateType maps to the aggregate_type column on outbox_events.
type OutboxAggregateType string

const (
	AggregateOrder      OutboxAggregateType = "order"
	AggregateClickEvent OutboxAggregateType = "click_event"
	AggregateConnection OutboxAggregateType = "external_connection"
	AggregateSyncRun    OutboxAggregateType = "sync_run"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateClickEvent,
	AggregateConnection,
	AggregateSyncRun,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	return slices.Contains(validAggregateTypes, a)
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parse(value, validAggregateTypes, "aggregate type")
}

// OutboxEventType maps to the event_type column on outbox_events.
type OutboxEventType string

const (
	EventOrderIngested               OutboxEventType = "order_ingested"
	EventClickConverted              OutboxEventType = "click_converted"
	EventSyncCompleted               OutboxEventType = "sync_completed"
	EventConnectionReconnectRequired OutboxEventType = "connection_reconnect_required"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderIngested,
	EventClickConverted,
	EventSyncCompleted,
	EventConnectionReconnectRequired,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	return slices.Contains(validOutboxEventTypes, e)
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parse(value, validOutboxEventTypes, "event type")
}
