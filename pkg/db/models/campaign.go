package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Campaign aggregates conversions across its tracking links. Spent is written by
// the ad-spend source; ROAS is a percentage derived from Revenue and Spent.
type Campaign struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	UserID      uuid.UUID       `gorm:"column:user_id;type:uuid;not null"`
	Name        string          `gorm:"column:name;not null"`
	Conversions int64           `gorm:"column:conversions;not null;default:0"`
	Revenue     decimal.Decimal `gorm:"column:revenue;type:numeric(14,2);not null;default:0"`
	Spent       decimal.Decimal `gorm:"column:spent;type:numeric(14,2);not null;default:0"`
	ROAS        int64           `gorm:"column:roas;not null;default:0"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Campaign) BeforeCreate(_ *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
