package ingestion

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/adtrail-backend/pkg/db/models"
	"github.com/angelmondragon/adtrail-backend/pkg/pagination"
)

// RunRepository persists sync run summaries.
type RunRepository struct {
	db *gorm.DB
}

func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) WithTx(tx *gorm.DB) *RunRepository {
	if tx == nil {
		return r
	}
	return &RunRepository{db: tx}
}

func (r *RunRepository) Create(ctx context.Context, run *models.SyncRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

// ListByUser returns one page of the user's runs, newest first, plus the cursor of the
// next page when more rows exist.
func (r *RunRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int, after *pagination.Cursor) ([]models.SyncRun, *pagination.Cursor, error) {
	limit = pagination.NormalizeLimit(limit)
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if after != nil {
		query = query.Where("(started_at < ?) OR (started_at = ? AND id < ?)", after.At, after.At, after.ID)
	}
	var runs []models.SyncRun
	if err := query.Order("started_at DESC").Order("id DESC").Limit(limit + 1).Find(&runs).Error; err != nil {
		return nil, nil, err
	}
	if len(runs) <= limit {
		return runs, nil, nil
	}
	last := runs[limit-1]
	return runs[:limit], &pagination.Cursor{At: last.StartedAt, ID: last.ID}, nil
}
