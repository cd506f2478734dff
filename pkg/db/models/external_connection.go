package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/adtrail-backend/pkg/enums"
)

// ExternalConnection holds the credentials for one storefront site. Rows are never
// deleted; needs_reconnect is terminal until the seller re-authorizes.
type ExternalConnection struct {
	ID                uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	UserID            uuid.UUID              `gorm:"column:user_id;type:uuid;not null"`
	Provider          enums.Provider         `gorm:"column:provider;not null"`
	Status            enums.ConnectionStatus `gorm:"column:status;not null"`
	AccessToken       string                 `gorm:"column:access_token;not null"`
	RefreshToken      string                 `gorm:"column:refresh_token;not null;default:''"`
	TokenExpiresAt    *time.Time             `gorm:"column:token_expires_at"`
	AccountID         string                 `gorm:"column:account_id;not null;default:''"`
	SiteID            string                 `gorm:"column:site_id;not null"`
	Metadata          json.RawMessage        `gorm:"column:metadata;type:jsonb"`
	RefreshClaimToken *string                `gorm:"column:refresh_claim_token"`
	RefreshClaimedAt  *time.Time             `gorm:"column:refresh_claimed_at"`
	RefreshFailures   int                    `gorm:"column:refresh_failures;not null;default:0"`
	LastRefreshError  *string                `gorm:"column:last_refresh_error"`
	LastSyncedAt      *time.Time             `gorm:"column:last_synced_at"`
	CreatedAt         time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *ExternalConnection) BeforeCreate(_ *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// ReconnectRequired reports whether the seller must re-authorize the connection.
func (c *ExternalConnection) ReconnectRequired() bool {
	return c != nil && c.Status == enums.ConnectionStatusNeedsReconnect
}
