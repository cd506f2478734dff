package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product is a storefront catalog snapshot keyed by (site_id, external_product_id).
type Product struct {
	ID                uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	SiteID            string           `gorm:"column:site_id;not null;uniqueIndex:ux_products_site_external,priority:1"`
	ConnectionID      uuid.UUID        `gorm:"column:connection_id;type:uuid;not null"`
	ExternalProductID string           `gorm:"column:external_product_id;not null;uniqueIndex:ux_products_site_external,priority:2"`
	Name              string           `gorm:"column:name;not null;default:''"`
	Price             *decimal.Decimal `gorm:"column:price;type:numeric(14,2)"`
	Stock             *int             `gorm:"column:stock"`
	CreatedAt         time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Product) BeforeCreate(_ *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
