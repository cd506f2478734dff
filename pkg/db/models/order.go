package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/adtrail-backend/pkg/enums"
)

// Order is one canonical order line. (site_id, external_order_id, external_line_item_id)
// is unique; attribution columns are written at most once and settlement columns
// only by the reconciler.
type Order struct {
	ID                 uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	UserID             uuid.UUID         `gorm:"column:user_id;type:uuid;not null"`
	SiteID             string            `gorm:"column:site_id;not null;uniqueIndex:ux_orders_site_external_line,priority:1"`
	ConnectionID       uuid.UUID         `gorm:"column:connection_id;type:uuid;not null"`
	Provider           enums.Provider    `gorm:"column:provider;not null"`
	ExternalOrderID    string            `gorm:"column:external_order_id;not null;uniqueIndex:ux_orders_site_external_line,priority:2"`
	ExternalLineItemID string            `gorm:"column:external_line_item_id;not null;uniqueIndex:ux_orders_site_external_line,priority:3"`
	ProductID          *uuid.UUID        `gorm:"column:product_id;type:uuid"`
	ExternalProductID  *string           `gorm:"column:external_product_id"`
	Quantity           int               `gorm:"column:quantity;not null;default:1"`
	UnitPrice          decimal.Decimal   `gorm:"column:unit_price;type:numeric(14,2);not null;default:0"`
	TotalAmount        decimal.Decimal   `gorm:"column:total_amount;type:numeric(14,2);not null;default:0"`
	Currency           string            `gorm:"column:currency;not null;default:''"`
	MarketplaceStatus  string            `gorm:"column:marketplace_status;not null"`
	Status             enums.OrderStatus `gorm:"column:status;not null"`
	OrderedAt          time.Time         `gorm:"column:ordered_at;not null"`
	PurchaseDecidedAt  *time.Time        `gorm:"column:purchase_decided_at"`

	TrackingLinkID   *uuid.UUID           `gorm:"column:tracking_link_id;type:uuid"`
	ClickID          *string              `gorm:"column:click_id"`
	CampaignID       *uuid.UUID           `gorm:"column:campaign_id;type:uuid"`
	UTMSource        *string              `gorm:"column:utm_source"`
	UTMMedium        *string              `gorm:"column:utm_medium"`
	UTMCampaign      *string              `gorm:"column:utm_campaign"`
	MatchStrategy    *enums.MatchStrategy `gorm:"column:match_strategy"`
	AttributedAt     *time.Time           `gorm:"column:attributed_at"`
	MatchEvaluatedAt *time.Time           `gorm:"column:match_evaluated_at"`

	CommissionAmount *decimal.Decimal `gorm:"column:commission_amount;type:numeric(14,2)"`
	SettlementAmount *decimal.Decimal `gorm:"column:settlement_amount;type:numeric(14,2)"`
	SettlementStatus *string          `gorm:"column:settlement_status"`
	SettledAt        *time.Time       `gorm:"column:settled_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(_ *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// Attributed reports whether attribution columns have been set.
func (o *Order) Attributed() bool {
	return o != nil && o.TrackingLinkID != nil
}
