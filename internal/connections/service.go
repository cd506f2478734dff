package connections

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/adtrail-backend/pkg/db/models"
	"github.com/angelmondragon/adtrail-backend/pkg/enums"
)

// ConnectionView is the dashboard-facing projection of a connection. Tokens never leave
// the backend.
type ConnectionView struct {
	ID                uuid.UUID              `json:"id"`
	Provider          enums.Provider         `json:"provider"`
	Status            enums.ConnectionStatus `json:"status"`
	SiteID            string                 `json:"site_id"`
	AccountID         string                 `json:"account_id,omitempty"`
	TokenExpiresAt    *time.Time             `json:"token_expires_at,omitempty"`
	LastSyncedAt      *time.Time             `json:"last_synced_at,omitempty"`
	RefreshFailures   int                    `json:"refresh_failures"`
	LastRefreshError  *string                `json:"last_refresh_error,omitempty"`
	ReconnectRequired bool                   `json:"reconnect_required"`
}

// Service exposes read operations over a user's connections.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// List returns the user's connections, flagging the ones that need re-authorization.
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]ConnectionView, error) {
	conns, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]ConnectionView, 0, len(conns))
	for i := range conns {
		views = append(views, toView(&conns[i]))
	}
	return views, nil
}

func toView(c *models.ExternalConnection) ConnectionView {
	return ConnectionView{
		ID:                c.ID,
		Provider:          c.Provider,
		Status:            c.Status,
		SiteID:            c.SiteID,
		AccountID:         c.AccountID,
		TokenExpiresAt:    c.TokenExpiresAt,
		LastSyncedAt:      c.LastSyncedAt,
		RefreshFailures:   c.RefreshFailures,
		LastRefreshError:  c.LastRefreshError,
		ReconnectRequired: c.ReconnectRequired(),
	}
}
