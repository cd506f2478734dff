package products

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/adtrail-backend/pkg/db/models"
)

// Snapshot is the catalog data an order line carries about its product.
type Snapshot struct {
	SiteID            string
	ConnectionID      uuid.UUID
	ExternalProductID string
	Name              string
	Price             *decimal.Decimal
}

// Repository persists storefront product snapshots.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// Upsert inserts or refreshes the product keyed by (site, external product id) and returns
// the stored row. Empty names and missing prices never overwrite known values.
func (r *Repository) Upsert(ctx context.Context, snap Snapshot) (*models.Product, error) {
	externalID := strings.TrimSpace(snap.ExternalProductID)
	if snap.SiteID == "" || externalID == "" {
		return nil, errors.New("site and external product id required")
	}

	row := models.Product{
		SiteID:            snap.SiteID,
		ConnectionID:      snap.ConnectionID,
		ExternalProductID: externalID,
		Name:              strings.TrimSpace(snap.Name),
		Price:             snap.Price,
	}

	assignments := clause.Set{{Column: clause.Column{Name: "updated_at"}, Value: gorm.Expr("CURRENT_TIMESTAMP")}}
	if row.Name != "" {
		assignments = append(assignments, clause.Assignment{Column: clause.Column{Name: "name"}, Value: row.Name})
	}
	if row.Price != nil {
		assignments = append(assignments, clause.Assignment{Column: clause.Column{Name: "price"}, Value: *row.Price})
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "site_id"}, {Name: "external_product_id"}},
			DoUpdates: assignments,
		}).
		Create(&row).Error
	if err != nil {
		return nil, err
	}
	return r.FindByExternalID(ctx, snap.SiteID, externalID)
}

// FindByExternalID returns nil when the product is unknown.
func (r *Repository) FindByExternalID(ctx context.Context, siteID, externalProductID string) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).
		Where("site_id = ? AND external_product_id = ?", siteID, externalProductID).
		First(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &product, nil
}
