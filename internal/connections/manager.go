package connections

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/adtrail-backend/internal/providers"
	"github.com/angelmondragon/adtrail-backend/pkg/config"
	"github.com/angelmondragon/adtrail-backend/pkg/db/models"
	"github.com/angelmondragon/adtrail-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/adtrail-backend/pkg/errors"
	"github.com/angelmondragon/adtrail-backend/pkg/logger"
	"github.com/angelmondragon/adtrail-backend/pkg/metrics"
	"github.com/angelmondragon/adtrail-backend/pkg/outbox"
	"github.com/angelmondragon/adtrail-backend/pkg/outbox/payloads"
)

// ErrNeedsReconnect marks a connection whose credentials cannot be refreshed. Batch jobs
// skip it until the seller re-authorizes.
var ErrNeedsReconnect = errors.New("connection needs reconnect")

const (
	maxRefreshAttempts  = 2
	defaultPollInterval = 100 * time.Millisecond
	maxClaimRounds      = 3
)

// Refresher performs the provider refresh grant.
type Refresher interface {
	Refresh(ctx context.Context, provider enums.Provider, refreshToken string) (*providers.TokenSet, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// TokenManager hands out connections with usable access tokens.
type TokenManager struct {
	repo         Repository
	tx           txRunner
	refresher    Refresher
	outbox       outbox.Emitter
	logg         *logger.Logger
	metrics      *metrics.AttributionMetrics
	skew         time.Duration
	claimTTL     time.Duration
	pollInterval time.Duration
	now          func() time.Time
}

// NewTokenManager wires the refresh state machine.
func NewTokenManager(repo Repository, tx txRunner, refresher Refresher, emitter outbox.Emitter, cfg config.SyncConfig, logg *logger.Logger, m *metrics.AttributionMetrics) (*TokenManager, error) {
	if repo == nil || tx == nil || refresher == nil || emitter == nil {
		return nil, errors.New("token manager dependencies required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	skew := cfg.RefreshSkew
	if skew < 0 {
		skew = 0
	}
	claimTTL := cfg.RefreshClaimTTL
	if claimTTL <= 0 {
		claimTTL = 30 * time.Second
	}
	return &TokenManager{
		repo:         repo,
		tx:           tx,
		refresher:    refresher,
		outbox:       emitter,
		logg:         logg,
		metrics:      m,
		skew:         skew,
		claimTTL:     claimTTL,
		pollInterval: defaultPollInterval,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// EnsureFresh returns the connection with an access token that is valid for at least the
// configured skew. rejected names a token the provider just refused with a 401: it is
// refreshed regardless of expiry while it is still the stored token, and a connection
// already rotated past it is returned as is. Pass "" for a plain expiry check.
func (m *TokenManager) EnsureFresh(ctx context.Context, connectionID uuid.UUID, rejected string) (*models.ExternalConnection, error) {
	ctx = m.logg.WithConnectionID(ctx, connectionID.String())

	for round := 0; round < maxClaimRounds; round++ {
		conn, err := m.repo.FindByID(ctx, connectionID)
		if err != nil {
			return nil, err
		}
		if conn.ReconnectRequired() {
			return nil, reconnectError(conn, nil)
		}
		if stale := rejected != "" && conn.AccessToken == rejected; !stale && m.fresh(conn) {
			return conn, nil
		}

		claimToken := uuid.NewString()
		now := m.now()
		claimed, err := m.repo.ClaimRefresh(ctx, conn.ID, conn.AccessToken, claimToken, now, now.Add(-m.claimTTL))
		if err != nil {
			return nil, err
		}
		if claimed {
			return m.refresh(ctx, conn, claimToken)
		}

		updated, done, err := m.waitForOther(ctx, conn)
		if err != nil {
			return nil, err
		}
		if done {
			m.metrics.IncTokenRefresh(conn.Provider.String(), metrics.RefreshResultWaitedForOther)
			return updated, nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeConflict, "token refresh is held by another worker")
}

func (m *TokenManager) fresh(conn *models.ExternalConnection) bool {
	if conn.Status != enums.ConnectionStatusConnected {
		return false
	}
	if conn.TokenExpiresAt == nil {
		return true
	}
	return conn.TokenExpiresAt.Add(-m.skew).After(m.now())
}

// waitForOther polls until the access token this caller read has been replaced, the
// connection became terminal, or the foreign claim went stale.
func (m *TokenManager) waitForOther(ctx context.Context, observed *models.ExternalConnection) (*models.ExternalConnection, bool, error) {
	deadline := m.now().Add(m.claimTTL)
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		conn, err := m.repo.FindByID(ctx, observed.ID)
		if err != nil {
			return nil, false, err
		}
		if conn.ReconnectRequired() {
			return nil, false, reconnectError(conn, nil)
		}
		if conn.AccessToken != observed.AccessToken && conn.RefreshClaimToken == nil {
			return conn, true, nil
		}
		if conn.RefreshClaimToken == nil || m.now().After(deadline) {
			return nil, false, nil
		}

		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *TokenManager) refresh(ctx context.Context, conn *models.ExternalConnection, claimToken string) (*models.ExternalConnection, error) {
	provider := conn.Provider.String()

	var (
		tokens   *providers.TokenSet
		lastErr  error
		attempts int
	)
	if conn.RefreshToken == "" {
		lastErr = errors.New("no refresh token stored")
	}
	for attempts < maxRefreshAttempts && conn.RefreshToken != "" {
		attempts++
		tokens, lastErr = m.refresher.Refresh(ctx, conn.Provider, conn.RefreshToken)
		if lastErr == nil {
			break
		}
		if ctx.Err() != nil {
			_ = m.repo.ReleaseClaim(context.WithoutCancel(ctx), conn.ID, claimToken)
			return nil, ctx.Err()
		}
		m.logg.Warn(m.logg.WithFields(ctx, map[string]any{
			"attempt": attempts,
			"error":   lastErr.Error(),
		}), "token refresh attempt failed")
	}

	if lastErr != nil {
		marked, err := m.markNeedsReconnect(ctx, conn, claimToken, attempts, lastErr)
		if err != nil {
			return nil, err
		}
		if !marked {
			if current, ferr := m.repo.FindByID(ctx, conn.ID); ferr == nil && current.AccessToken != conn.AccessToken && !current.ReconnectRequired() {
				return current, nil
			}
		}
		m.metrics.IncTokenRefresh(provider, metrics.RefreshResultReconnect)
		return nil, reconnectError(conn, lastErr)
	}

	refreshToken := tokens.RefreshToken
	if refreshToken == "" {
		refreshToken = conn.RefreshToken
	}
	var expiresAt *time.Time
	if !tokens.ExpiresAt.IsZero() {
		exp := tokens.ExpiresAt.UTC()
		expiresAt = &exp
	}

	ok, err := m.repo.CompleteRefresh(ctx, conn.ID, claimToken, RefreshedTokens{
		AccessToken:  tokens.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		// our claim was taken over as stale; the newer writer owns the credentials
		m.logg.Warn(ctx, "refresh claim lost before completion")
	} else {
		m.metrics.IncTokenRefresh(provider, metrics.RefreshResultSuccess)
		m.logg.Info(ctx, "access token refreshed")
	}
	return m.repo.FindByID(ctx, conn.ID)
}

// markNeedsReconnect reports false when the claim had already been taken over.
func (m *TokenManager) markNeedsReconnect(ctx context.Context, conn *models.ExternalConnection, claimToken string, attempts int, cause error) (bool, error) {
	reason := truncateReason(cause.Error())
	failedAt := m.now()

	marked := false
	err := m.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := m.repo.WithTx(tx).FailRefresh(ctx, conn.ID, claimToken, attempts, reason)
		if err != nil || !ok {
			return err
		}
		marked = true
		return m.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventConnectionReconnectRequired,
			AggregateType: enums.AggregateConnection,
			AggregateID:   conn.ID,
			Actor:         &outbox.ActorRef{Source: "token_manager"},
			OccurredAt:    failedAt,
			Data: payloads.ConnectionReconnectRequiredEvent{
				ConnectionID: conn.ID,
				UserID:       conn.UserID,
				Provider:     conn.Provider,
				Failures:     conn.RefreshFailures + attempts,
				Reason:       reason,
				FailedAt:     failedAt,
			},
		})
	})
	if err != nil {
		return false, fmt.Errorf("mark connection needs reconnect: %w", err)
	}

	if marked {
		m.logg.Warn(m.logg.WithField(ctx, "reason", reason), "connection requires reconnect")
	}
	return marked, nil
}

func reconnectError(conn *models.ExternalConnection, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: connection %s", ErrNeedsReconnect, conn.ID)
	}
	return fmt.Errorf("%w: connection %s: %w", ErrNeedsReconnect, conn.ID, cause)
}

// truncateReason clips at a rune boundary; last_refresh_error is a UTF-8 text column.
func truncateReason(reason string) string {
	const max = 500
	if len(reason) <= max {
		return reason
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}
