package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/adtrail-backend/internal/analytics/types"
	"github.com/angelmondragon/adtrail-backend/pkg/enums"
	"github.com/angelmondragon/adtrail-backend/pkg/logger"
	"github.com/angelmondragon/adtrail-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/adtrail-backend/pkg/outbox/registry"
)

const currentVersion = 1

var (
	ErrUnsupportedEventType = errors.New("unsupported analytics event type")
	ErrMalformedPayload     = errors.New("malformed analytics payload")
)

// Writer delivers BigQuery rows produced by the router.
type Writer interface {
	InsertAttributionEvent(ctx context.Context, row types.AttributionEventRow) error
	InsertConversionFact(ctx context.Context, row types.ConversionFactRow) error
}

// Router decodes attribution envelopes and fans them out to BigQuery rows.
type Router struct {
	decoders *registry.DecoderRegistry
	writer   Writer
	logg     *logger.Logger
}

// NewRouter registers the v1 decoder for every published event type.
func NewRouter(writer Writer, logg *logger.Logger) (*Router, error) {
	if writer == nil {
		return nil, errors.New("writer is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}

	decoders := registry.NewDecoderRegistry()
	decoders.MustRegister(enums.EventOrderIngested, currentVersion, registry.JSON[payloads.OrderIngestedEvent]())
	decoders.MustRegister(enums.EventClickConverted, currentVersion, registry.JSON[payloads.ClickConvertedEvent]())
	decoders.MustRegister(enums.EventSyncCompleted, currentVersion, registry.JSON[payloads.SyncCompletedEvent]())
	decoders.MustRegister(enums.EventConnectionReconnectRequired, currentVersion, registry.JSON[payloads.ConnectionReconnectRequiredEvent]())

	return &Router{decoders: decoders, writer: writer, logg: logg}, nil
}

// Handle writes the attribution_events row for the envelope, and a conversion_facts row
// when a click converted. Unsupported or malformed events are reported with sentinel
// errors so the worker can ack them.
func (r *Router) Handle(ctx context.Context, envelope types.Envelope) error {
	if !envelope.EventType.IsValid() {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}
	if len(envelope.Payload) == 0 {
		return fmt.Errorf("%w: empty payload for %s", ErrMalformedPayload, envelope.EventType)
	}
	version := envelope.Version
	if version <= 0 {
		version = currentVersion
	}
	decoded, err := r.decoders.Decode(envelope.EventType, version, envelope.Payload)
	if err != nil {
		return fmt.Errorf("%w: %s@v%d: %v", ErrMalformedPayload, envelope.EventType, version, err)
	}

	row, err := attributionEventRow(envelope, decoded)
	if err != nil {
		return err
	}
	if err := r.writer.InsertAttributionEvent(ctx, row); err != nil {
		return err
	}

	converted, ok := decoded.(*payloads.ClickConvertedEvent)
	if !ok {
		return nil
	}
	return r.writer.InsertConversionFact(ctx, conversionFactRow(envelope, converted))
}
