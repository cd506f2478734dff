package types

import (
	"math/big"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// AttributionEventRow mirrors the attribution_events BigQuery schema. Every event
// produces exactly one row.
type AttributionEventRow struct {
	EventID       string               `bigquery:"event_id"`
	EventType     string               `bigquery:"event_type"`
	AggregateType string               `bigquery:"aggregate_type"`
	AggregateID   string               `bigquery:"aggregate_id"`
	OccurredAt    time.Time            `bigquery:"occurred_at"`
	UserID        cbigquery.NullString `bigquery:"user_id"`
	OrderID       cbigquery.NullString `bigquery:"order_id"`
	ConnectionID  cbigquery.NullString `bigquery:"connection_id"`
	Provider      cbigquery.NullString `bigquery:"provider"`
	Source        cbigquery.NullString `bigquery:"source"`
	Payload       cbigquery.NullJSON   `bigquery:"payload"`
}

// ConversionFactRow mirrors the conversion_facts BigQuery schema, one row per
// converted click.
type ConversionFactRow struct {
	EventID        string               `bigquery:"event_id"`
	ClickEventID   string               `bigquery:"click_event_id"`
	ClickID        string               `bigquery:"click_id"`
	TrackingLinkID string               `bigquery:"tracking_link_id"`
	CampaignID     cbigquery.NullString `bigquery:"campaign_id"`
	OrderID        string               `bigquery:"order_id"`
	UserID         string               `bigquery:"user_id"`
	Strategy       string               `bigquery:"strategy"`
	Revenue        *big.Rat             `bigquery:"revenue"`
	ClickedAt      time.Time            `bigquery:"clicked_at"`
	ConvertedAt    time.Time            `bigquery:"converted_at"`
	LagSeconds     int64                `bigquery:"lag_seconds"`
}
