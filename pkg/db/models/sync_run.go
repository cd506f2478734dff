package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/adtrail-backend/pkg/enums"
)

// SyncRun records the summary of one ingestion invocation.
type SyncRun struct {
	ID                 uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	UserID             *uuid.UUID        `gorm:"column:user_id;type:uuid"`
	Trigger            enums.SyncTrigger `gorm:"column:trigger;not null"`
	StartedAt          time.Time         `gorm:"column:started_at;not null"`
	FinishedAt         time.Time         `gorm:"column:finished_at;not null"`
	Synced             int               `gorm:"column:synced;not null;default:0"`
	Matched            int               `gorm:"column:matched;not null;default:0"`
	Errors             int               `gorm:"column:errors;not null;default:0"`
	SkippedConnections int               `gorm:"column:skipped_connections;not null;default:0"`
}

func (r *SyncRun) BeforeCreate(_ *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
