package aggregates

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/adtrail-backend/pkg/db/models"
)

var hundred = decimal.NewFromInt(100)

// Conversion is one matched (click, order) pair to credit.
type Conversion struct {
	ClickEventID uuid.UUID
	LinkID       uuid.UUID
	CampaignID   *uuid.UUID
	OrderID      uuid.UUID
	Amount       decimal.Decimal
	At           time.Time
}

// Updater applies conversions to clicks, links and campaigns.
type Updater struct{}

func NewUpdater() *Updater {
	return &Updater{}
}

// Convert flips the click to converted with a conditional write and, only when this call
// won the flip, increments the link and campaign counters. Losing the race returns
// (false, nil): another process already credited the click.
func (u *Updater) Convert(ctx context.Context, tx *gorm.DB, c Conversion) (bool, error) {
	if tx == nil {
		return false, errors.New("transaction required")
	}
	db := tx.WithContext(ctx)

	res := db.Model(&models.ClickEvent{}).
		Where("id = ? AND is_converted = ?", c.ClickEventID, false).
		Updates(map[string]any{
			"is_converted":       true,
			"converted_order_id": c.OrderID,
			"converted_at":       c.At,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	if err := db.Model(&models.TrackingLink{}).
		Where("id = ?", c.LinkID).
		Updates(map[string]any{
			"conversions": gorm.Expr("conversions + ?", 1),
			"revenue":     gorm.Expr("revenue + ?", c.Amount),
		}).Error; err != nil {
		return false, err
	}

	if c.CampaignID == nil {
		return true, nil
	}
	if err := u.creditCampaign(db, *c.CampaignID, c.Amount); err != nil {
		return false, err
	}
	return true, nil
}

func (u *Updater) creditCampaign(db *gorm.DB, campaignID uuid.UUID, amount decimal.Decimal) error {
	res := db.Model(&models.Campaign{}).
		Where("id = ?", campaignID).
		Updates(map[string]any{
			"conversions": gorm.Expr("conversions + ?", 1),
			"revenue":     gorm.Expr("revenue + ?", amount),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}

	var campaign models.Campaign
	if err := db.Select("id", "revenue", "spent").Where("id = ?", campaignID).First(&campaign).Error; err != nil {
		return err
	}
	return db.Model(&models.Campaign{}).
		Where("id = ?", campaignID).
		Update("roas", ROAS(campaign.Revenue, campaign.Spent)).Error
}

// ROAS is revenue over spend as a rounded percentage; zero spend yields zero.
func ROAS(revenue, spent decimal.Decimal) int64 {
	if !spent.IsPositive() {
		return 0
	}
	return revenue.Mul(hundred).Div(spent).Round(0).IntPart()
}
