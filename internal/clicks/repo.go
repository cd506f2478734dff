package clicks

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/adtrail-backend/pkg/db/models"
)

// Repository persists tracking link reads and click writes.
type Repository interface {
	FindLink(ctx context.Context, id uuid.UUID) (*models.TrackingLink, error)
	RecordClick(ctx context.Context, click *models.ClickEvent) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a click repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) FindLink(ctx context.Context, id uuid.UUID) (*models.TrackingLink, error) {
	var link models.TrackingLink
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&link).Error; err != nil {
		return nil, err
	}
	return &link, nil
}

// RecordClick inserts the click and bumps the link's click counter in one transaction.
func (r *repository) RecordClick(ctx context.Context, click *models.ClickEvent) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(click).Error; err != nil {
			return err
		}
		return tx.Model(&models.TrackingLink{}).
			Where("id = ?", click.TrackingLinkID).
			UpdateColumn("clicks", gorm.Expr("clicks + ?", 1)).Error
	})
}
