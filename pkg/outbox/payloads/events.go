package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/adtrail-backend/pkg/enums"
)

// OrderIngestedEvent is emitted once per newly inserted order line.
type OrderIngestedEvent struct {
	OrderID            uuid.UUID            `json:"order_id"`
	UserID             uuid.UUID            `json:"user_id"`
	ConnectionID       uuid.UUID            `json:"connection_id"`
	Provider           enums.Provider       `json:"provider"`
	ExternalOrderID    string               `json:"external_order_id"`
	ExternalLineItemID string               `json:"external_line_item_id"`
	Status             enums.OrderStatus    `json:"status"`
	TotalAmount        decimal.Decimal      `json:"total_amount"`
	Currency           string               `json:"currency,omitempty"`
	OrderedAt          time.Time            `json:"ordered_at"`
	Attributed         bool                 `json:"attributed"`
	MatchStrategy      *enums.MatchStrategy `json:"match_strategy,omitempty"`
}

// ClickConvertedEvent is emitted when a click is credited with an order.
type ClickConvertedEvent struct {
	ClickEventID   uuid.UUID           `json:"click_event_id"`
	ClickID        string              `json:"click_id"`
	TrackingLinkID uuid.UUID           `json:"tracking_link_id"`
	CampaignID     *uuid.UUID          `json:"campaign_id,omitempty"`
	OrderID        uuid.UUID           `json:"order_id"`
	UserID         uuid.UUID           `json:"user_id"`
	Strategy       enums.MatchStrategy `json:"strategy"`
	Revenue        decimal.Decimal     `json:"revenue"`
	ClickedAt      time.Time           `json:"clicked_at"`
	ConvertedAt    time.Time           `json:"converted_at"`
}

// SyncCompletedEvent summarizes one ingestion run.
type SyncCompletedEvent struct {
	SyncRunID          uuid.UUID         `json:"sync_run_id"`
	UserID             *uuid.UUID        `json:"user_id,omitempty"`
	Trigger            enums.SyncTrigger `json:"trigger"`
	Synced             int               `json:"synced"`
	Matched            int               `json:"matched"`
	Errors             int               `json:"errors"`
	SkippedConnections int               `json:"skipped_connections"`
	ReconnectRequired  []uuid.UUID       `json:"reconnect_required,omitempty"`
	StartedAt          time.Time         `json:"started_at"`
	FinishedAt         time.Time         `json:"finished_at"`
}

// ConnectionReconnectRequiredEvent tells downstream systems the seller must re-authorize.
type ConnectionReconnectRequiredEvent struct {
	ConnectionID uuid.UUID      `json:"connection_id"`
	UserID       uuid.UUID      `json:"user_id"`
	Provider     enums.Provider `json:"provider"`
	Failures     int            `json:"failures"`
	Reason       string         `json:"reason,omitempty"`
	FailedAt     time.Time      `json:"failed_at"`
}
