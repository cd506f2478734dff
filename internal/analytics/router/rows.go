package router

import (
	"fmt"

	"github.com/angelmondragon/adtrail-backend/internal/analytics/types"
	"github.com/angelmondragon/adtrail-backend/internal/analytics/writer"
	"github.com/angelmondragon/adtrail-backend/pkg/outbox/payloads"
)

func attributionEventRow(envelope types.Envelope, decoded any) (types.AttributionEventRow, error) {
	payload, err := writer.EncodeJSON(envelope.Payload)
	if err != nil {
		return types.AttributionEventRow{}, fmt.Errorf("encode payload: %w", err)
	}
	row := types.AttributionEventRow{
		EventID:       envelope.EventID.String(),
		EventType:     string(envelope.EventType),
		AggregateType: string(envelope.AggregateType),
		AggregateID:   envelope.AggregateID,
		OccurredAt:    envelope.OccurredAt.UTC(),
		Source:        nullString(envelope.Source),
		Payload:       payload,
	}

	switch event := decoded.(type) {
	case *payloads.OrderIngestedEvent:
		row.UserID = nullUUID(event.UserID)
		row.OrderID = nullUUID(event.OrderID)
		row.ConnectionID = nullUUID(event.ConnectionID)
		row.Provider = nullString(string(event.Provider))
	case *payloads.ClickConvertedEvent:
		row.UserID = nullUUID(event.UserID)
		row.OrderID = nullUUID(event.OrderID)
	case *payloads.SyncCompletedEvent:
		if event.UserID != nil {
			row.UserID = nullUUID(*event.UserID)
		}
	case *payloads.ConnectionReconnectRequiredEvent:
		row.UserID = nullUUID(event.UserID)
		row.ConnectionID = nullUUID(event.ConnectionID)
		row.Provider = nullString(string(event.Provider))
	}
	return row, nil
}

func conversionFactRow(envelope types.Envelope, event *payloads.ClickConvertedEvent) types.ConversionFactRow {
	row := types.ConversionFactRow{
		EventID:        envelope.EventID.String(),
		ClickEventID:   event.ClickEventID.String(),
		ClickID:        event.ClickID,
		TrackingLinkID: event.TrackingLinkID.String(),
		OrderID:        event.OrderID.String(),
		UserID:         event.UserID.String(),
		Strategy:       string(event.Strategy),
		Revenue:        event.Revenue.Rat(),
		ClickedAt:      event.ClickedAt.UTC(),
		ConvertedAt:    event.ConvertedAt.UTC(),
	}
	if event.CampaignID != nil {
		row.CampaignID = nullUUID(*event.CampaignID)
	}
	if lag := event.ConvertedAt.Sub(event.ClickedAt); lag > 0 {
		row.LagSeconds = int64(lag.Seconds())
	}
	return row
}
