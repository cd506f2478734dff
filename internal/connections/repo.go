package connections

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/adtrail-backend/pkg/db/models"
	"github.com/angelmondragon/adtrail-backend/pkg/enums"
)

// RefreshedTokens is the credential set written on a successful refresh.
type RefreshedTokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// Repository defines persistence for external connections. Every state transition is a
// conditional update so independent processes cannot clobber each other.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.ExternalConnection, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.ExternalConnection, error)
	ListForSync(ctx context.Context, userID *uuid.UUID) ([]models.ExternalConnection, error)
	ClaimRefresh(ctx context.Context, id uuid.UUID, observedAccessToken, claimToken string, now, staleBefore time.Time) (bool, error)
	CompleteRefresh(ctx context.Context, id uuid.UUID, claimToken string, tokens RefreshedTokens) (bool, error)
	FailRefresh(ctx context.Context, id uuid.UUID, claimToken string, attempts int, reason string) (bool, error)
	ReleaseClaim(ctx context.Context, id uuid.UUID, claimToken string) error
	MarkSynced(ctx context.Context, id uuid.UUID, at time.Time) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a connections repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.ExternalConnection, error) {
	var conn models.ExternalConnection
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&conn).Error; err != nil {
		return nil, err
	}
	return &conn, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.ExternalConnection, error) {
	var conns []models.ExternalConnection
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&conns).Error
	return conns, err
}

// ListForSync returns every connection a sync should consider, including the ones that
// will be reported as skipped. A nil user lists across all users.
func (r *repository) ListForSync(ctx context.Context, userID *uuid.UUID) ([]models.ExternalConnection, error) {
	query := r.db.WithContext(ctx).Where("status IN ?", []enums.ConnectionStatus{
		enums.ConnectionStatusConnected,
		enums.ConnectionStatusTokenExpired,
		enums.ConnectionStatusNeedsReconnect,
	})
	if userID != nil {
		query = query.Where("user_id = ?", *userID)
	}

	var conns []models.ExternalConnection
	err := query.Order("user_id ASC").Order("created_at ASC").Find(&conns).Error
	return conns, err
}

// ClaimRefresh takes the refresh slot only while the stored access token still equals the
// one the caller read and no live claim exists.
func (r *repository) ClaimRefresh(ctx context.Context, id uuid.UUID, observedAccessToken, claimToken string, now, staleBefore time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ExternalConnection{}).
		Where("id = ? AND access_token = ? AND status <> ?", id, observedAccessToken, enums.ConnectionStatusNeedsReconnect).
		Where("refresh_claim_token IS NULL OR refresh_claimed_at < ?", staleBefore).
		Updates(map[string]any{
			"status":              enums.ConnectionStatusTokenExpired,
			"refresh_claim_token": claimToken,
			"refresh_claimed_at":  now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CompleteRefresh(ctx context.Context, id uuid.UUID, claimToken string, tokens RefreshedTokens) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ExternalConnection{}).
		Where("id = ? AND refresh_claim_token = ?", id, claimToken).
		Updates(map[string]any{
			"access_token":        tokens.AccessToken,
			"refresh_token":       tokens.RefreshToken,
			"token_expires_at":    tokens.ExpiresAt,
			"status":              enums.ConnectionStatusConnected,
			"refresh_failures":    0,
			"last_refresh_error":  nil,
			"refresh_claim_token": nil,
			"refresh_claimed_at":  nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FailRefresh(ctx context.Context, id uuid.UUID, claimToken string, attempts int, reason string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ExternalConnection{}).
		Where("id = ? AND refresh_claim_token = ?", id, claimToken).
		Updates(map[string]any{
			"status":              enums.ConnectionStatusNeedsReconnect,
			"refresh_failures":    gorm.Expr("refresh_failures + ?", attempts),
			"last_refresh_error":  reason,
			"refresh_claim_token": nil,
			"refresh_claimed_at":  nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReleaseClaim gives the slot back without changing credentials.
func (r *repository) ReleaseClaim(ctx context.Context, id uuid.UUID, claimToken string) error {
	return r.db.WithContext(ctx).
		Model(&models.ExternalConnection{}).
		Where("id = ? AND refresh_claim_token = ?", id, claimToken).
		Updates(map[string]any{
			"refresh_claim_token": nil,
			"refresh_claimed_at":  nil,
		}).Error
}

func (r *repository) MarkSynced(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.ExternalConnection{}).
		Where("id = ?", id).
		UpdateColumn("last_synced_at", at).Error
}
