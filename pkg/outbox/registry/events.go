package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/adtrail-backend/pkg/config"
	"github.com/angelmondragon/adtrail-backend/pkg/db/models"
	"github.com/angelmondragon/adtrail-backend/pkg/enums"
	"github.com/angelmondragon/adtrail-backend/pkg/outbox"
	"github.com/angelmondragon/adtrail-backend/pkg/outbox/payloads"
)

// EventDescriptor routes one event type: the aggregate it must belong to, the topic it
// is published on and how its payload decodes.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	Decode        Decoder
}

// ResolvedEvent is an outbox row that passed validation, with its payload decoded.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks rows that will never publish, however often they are retried.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// NewNonRetryableError wraps err so the dispatcher dead-letters the row immediately.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err, or anything it wraps, is a NonRetryableError.
func IsNonRetryable(err error) bool {
	var target NonRetryableError
	return errors.As(err, &target)
}

// EventRegistry is the publisher's routing table.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NewEventRegistry routes every attribution event to the configured topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	topic := strings.TrimSpace(cfg.AttributionTopic)
	if topic == "" {
		return nil, errors.New("attribution topic is required")
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor)}
	descriptors := []EventDescriptor{
		{enums.EventOrderIngested, enums.AggregateOrder, topic, JSON[payloads.OrderIngestedEvent]()},
		{enums.EventClickConverted, enums.AggregateClickEvent, topic, JSON[payloads.ClickConvertedEvent]()},
		{enums.EventSyncCompleted, enums.AggregateSyncRun, topic, JSON[payloads.SyncCompletedEvent]()},
		{enums.EventConnectionReconnectRequired, enums.AggregateConnection, topic, JSON[payloads.ConnectionReconnectRequiredEvent]()},
	}
	for _, desc := range descriptors {
		if err := reg.add(desc); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func (r *EventRegistry) add(desc EventDescriptor) error {
	switch {
	case !desc.EventType.IsValid():
		return fmt.Errorf("registry: unknown event type %q", desc.EventType)
	case desc.Decode == nil:
		return fmt.Errorf("registry: %s has no decoder", desc.EventType)
	case desc.Topic == "":
		return fmt.Errorf("registry: %s has no topic", desc.EventType)
	}
	if _, dup := r.entries[desc.EventType]; dup {
		return fmt.Errorf("registry: %s routed twice", desc.EventType)
	}
	r.entries[desc.EventType] = desc
	return nil
}

// Topics lists the distinct topics the registry publishes to, sorted.
func (r *EventRegistry) Topics() []string {
	seen := make(map[string]struct{}, len(r.entries))
	topics := make([]string, 0, len(r.entries))
	for _, desc := range r.entries {
		if _, ok := seen[desc.Topic]; ok {
			continue
		}
		seen[desc.Topic] = struct{}{}
		topics = append(topics, desc.Topic)
	}
	sort.Strings(topics)
	return topics
}

// Resolve checks the row against its descriptor and decodes the payload. Every failure
// is non-retryable: the row content is what is wrong.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if desc.AggregateType != event.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("%s: aggregate %s, want %s", event.EventType, event.AggregateType, desc.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(fmt.Errorf("%s: missing aggregate_id", event.EventType))
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("%s: %w", event.EventType, err))
	}
	payload, err := desc.Decode(envelope.Data)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
