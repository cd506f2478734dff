package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/adtrail-backend/pkg/db/models"
	"github.com/angelmondragon/adtrail-backend/pkg/enums"
)

// KeyConstraint is the composite unique key that de-duplicates order lines.
const KeyConstraint = "ux_orders_site_external_line"

// Key identifies one order line on a storefront site.
type Key struct {
	SiteID             string
	ExternalOrderID    string
	ExternalLineItemID string
}

// MutableFields are the columns a re-ingest may change.
type MutableFields struct {
	Status            enums.OrderStatus
	MarketplaceStatus string
	UnitPrice         decimal.Decimal
	Quantity          int
	TotalAmount       decimal.Decimal
	Currency          string
	PurchaseDecidedAt *time.Time
}

// Attribution is the write-once attribution column set.
type Attribution struct {
	TrackingLinkID uuid.UUID
	ClickID        string
	CampaignID     *uuid.UUID
	UTMSource      *string
	UTMMedium      *string
	UTMCampaign    *string
	Strategy       enums.MatchStrategy
	At             time.Time
}

// SettlementFields are written by the settlement reconciler only.
type SettlementFields struct {
	Commission       *decimal.Decimal
	SettlementAmount *decimal.Decimal
	Status           string
	SettledAt        *time.Time
}

// Repository persists canonical order lines.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByKey(ctx context.Context, key Key) (*models.Order, error)
	Create(ctx context.Context, order *models.Order) error
	UpdateMutable(ctx context.Context, id uuid.UUID, fields MutableFields) error
	SetAttribution(ctx context.Context, id uuid.UUID, attr Attribution) (bool, error)
	MarkEvaluated(ctx context.Context, id uuid.UUID, at time.Time) error
	ListPendingSettlement(ctx context.Context, after *uuid.UUID, limit int) ([]models.Order, error)
	ApplySettlement(ctx context.Context, id uuid.UUID, fields SettlementFields) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindByKey returns nil when the line has never been ingested.
func (r *repository) FindByKey(ctx context.Context, key Key) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Where("site_id = ? AND external_order_id = ? AND external_line_item_id = ?", key.SiteID, key.ExternalOrderID, key.ExternalLineItemID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

// UpdateMutable never touches attribution or settlement columns. purchase_decided_at keeps
// its first value.
func (r *repository) UpdateMutable(ctx context.Context, id uuid.UUID, fields MutableFields) error {
	updates := map[string]any{
		"status":             fields.Status,
		"marketplace_status": fields.MarketplaceStatus,
		"unit_price":         fields.UnitPrice,
		"quantity":           fields.Quantity,
		"total_amount":       fields.TotalAmount,
		"currency":           fields.Currency,
	}
	if fields.PurchaseDecidedAt != nil {
		updates["purchase_decided_at"] = gorm.Expr("COALESCE(purchase_decided_at, ?)", *fields.PurchaseDecidedAt)
	}
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// SetAttribution writes the attribution columns only when the row was never evaluated.
func (r *repository) SetAttribution(ctx context.Context, id uuid.UUID, attr Attribution) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND tracking_link_id IS NULL AND match_evaluated_at IS NULL", id).
		Updates(map[string]any{
			"tracking_link_id":   attr.TrackingLinkID,
			"click_id":           attr.ClickID,
			"campaign_id":        attr.CampaignID,
			"utm_source":         attr.UTMSource,
			"utm_medium":         attr.UTMMedium,
			"utm_campaign":       attr.UTMCampaign,
			"match_strategy":     attr.Strategy,
			"attributed_at":      attr.At,
			"match_evaluated_at": attr.At,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) MarkEvaluated(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND match_evaluated_at IS NULL", id).
		Update("match_evaluated_at", at).Error
}

// ListPendingSettlement pages through settlement-eligible rows still missing settlement
// data, keyed by id so rows the provider has not settled yet do not block later pages.
func (r *repository) ListPendingSettlement(ctx context.Context, after *uuid.UUID, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	query := r.db.WithContext(ctx).
		Where("settlement_status IS NULL AND status IN ?", enums.SettlementEligibleStatuses)
	if after != nil {
		query = query.Where("id > ?", *after)
	}

	var rows []models.Order
	err := query.Order("id ASC").Limit(limit).Find(&rows).Error
	return rows, err
}

// ApplySettlement writes settlement columns once; a row already settled is left alone.
func (r *repository) ApplySettlement(ctx context.Context, id uuid.UUID, fields SettlementFields) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND settlement_status IS NULL", id).
		Updates(map[string]any{
			"commission_amount": fields.Commission,
			"settlement_amount": fields.SettlementAmount,
			"settlement_status": fields.Status,
			"settled_at":        fields.SettledAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
