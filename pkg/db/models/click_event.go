package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ClickEvent is one recorded redirect hit. IsConverted flips false -> true exactly once.
type ClickEvent struct {
	ID               uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	TrackingLinkID   uuid.UUID  `gorm:"column:tracking_link_id;type:uuid;not null"`
	ClickID          string     `gorm:"column:click_id;not null;uniqueIndex"`
	UserAgent        string     `gorm:"column:user_agent;not null;default:''"`
	IPAddress        string     `gorm:"column:ip_address;not null;default:''"`
	Referrer         string     `gorm:"column:referrer;not null;default:''"`
	FBCLID           *string    `gorm:"column:fbclid"`
	GCLID            *string    `gorm:"column:gclid"`
	FBP              *string    `gorm:"column:fbp"`
	FBC              *string    `gorm:"column:fbc"`
	IsConverted      bool       `gorm:"column:is_converted;not null;default:false"`
	ConvertedOrderID *uuid.UUID `gorm:"column:converted_order_id;type:uuid"`
	ConvertedAt      *time.Time `gorm:"column:converted_at"`
	CreatedAt        time.Time  `gorm:"column:created_at"`
}

func (c *ClickEvent) BeforeCreate(_ *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	return nil
}
