package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/adtrail-backend/pkg/enums"
)

// TrackingLink is one ad placement. Clicks is mutated by click capture only,
// Conversions and Revenue by the aggregate updater only.
type TrackingLink struct {
	ID             uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	UserID         uuid.UUID        `gorm:"column:user_id;type:uuid;not null"`
	ProductID      *uuid.UUID       `gorm:"column:product_id;type:uuid"`
	CampaignID     *uuid.UUID       `gorm:"column:campaign_id;type:uuid"`
	DestinationURL string           `gorm:"column:destination_url;not null"`
	UTMSource      string           `gorm:"column:utm_source;not null;default:''"`
	UTMMedium      string           `gorm:"column:utm_medium;not null;default:''"`
	UTMCampaign    string           `gorm:"column:utm_campaign;not null;default:''"`
	Status         enums.LinkStatus `gorm:"column:status;not null;default:active"`
	Clicks         int64            `gorm:"column:clicks;not null;default:0"`
	Conversions    int64            `gorm:"column:conversions;not null;default:0"`
	Revenue        decimal.Decimal  `gorm:"column:revenue;type:numeric(14,2);not null;default:0"`
	CreatedAt      time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (l *TrackingLink) BeforeCreate(_ *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// IsActive reports whether clicks through the link are tracked.
func (l *TrackingLink) IsActive() bool {
	return l != nil && l.Status == enums.LinkStatusActive
}
