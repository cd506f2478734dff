package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/angelmondragon/adtrail-backend/internal/aggregates"
	"github.com/angelmondragon/adtrail-backend/internal/attribution"
	"github.com/angelmondragon/adtrail-backend/internal/connections"
	"github.com/angelmondragon/adtrail-backend/internal/orders"
	"github.com/angelmondragon/adtrail-backend/internal/products"
	"github.com/angelmondragon/adtrail-backend/internal/providers"
	"github.com/angelmondragon/adtrail-backend/pkg/config"
	"github.com/angelmondragon/adtrail-backend/pkg/db/models"
	"github.com/angelmondragon/adtrail-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/adtrail-backend/pkg/errors"
	"github.com/angelmondragon/adtrail-backend/pkg/logger"
	"github.com/angelmondragon/adtrail-backend/pkg/metrics"
	"github.com/angelmondragon/adtrail-backend/pkg/outbox"
	"github.com/angelmondragon/adtrail-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/adtrail-backend/pkg/pagination"
)

const (
	maxMatchAttempts   = 3
	maxPages           = 500
	defaultConcurrency = 4
	maxLookbackDays    = 90
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type connectionStore interface {
	ListForSync(ctx context.Context, userID *uuid.UUID) ([]models.ExternalConnection, error)
	MarkSynced(ctx context.Context, id uuid.UUID, at time.Time) error
}

type tokenSource interface {
	EnsureFresh(ctx context.Context, connectionID uuid.UUID, rejected string) (*models.ExternalConnection, error)
}

type sourceResolver interface {
	Source(provider enums.Provider) (providers.Source, error)
}

type productStore interface {
	Upsert(ctx context.Context, snap products.Snapshot) (*models.Product, error)
}

type matcher interface {
	Match(ctx context.Context, tx *gorm.DB, in attribution.Input) (attribution.Result, error)
}

type converter interface {
	Convert(ctx context.Context, tx *gorm.DB, c aggregates.Conversion) (bool, error)
}

// RunRequest scopes one sync. Nil UserID syncs every user; nil ConnectionID syncs every
// connection in scope.
type RunRequest struct {
	UserID       *uuid.UUID
	ConnectionID *uuid.UUID
	Trigger      enums.SyncTrigger
	LookbackDays int
}

// Summary is the outcome of one sync run. Partial success is the normal case.
type Summary struct {
	RunID              uuid.UUID   `json:"run_id"`
	Synced             int         `json:"synced"`
	Matched            int         `json:"matched"`
	Errors             int         `json:"errors"`
	SkippedConnections int         `json:"skipped_connections"`
	ReconnectRequired  []uuid.UUID `json:"reconnect_required,omitempty"`
	StartedAt          time.Time   `json:"started_at"`
	FinishedAt         time.Time   `json:"finished_at"`
}

func (s *Summary) add(res ConnectionResult) {
	s.Synced += res.Synced
	s.Matched += res.Matched
	s.Errors += res.Errors
	if res.ReconnectRequired {
		s.skip(res.ConnectionID)
	}
}

func (s *Summary) skip(connectionID uuid.UUID) {
	s.SkippedConnections++
	s.ReconnectRequired = append(s.ReconnectRequired, connectionID)
}

// ConnectionResult counts what one connection contributed to a run.
type ConnectionResult struct {
	ConnectionID      uuid.UUID
	Synced            int
	Matched           int
	Errors            int
	ReconnectRequired bool
}

// ServiceParams bundles the dependencies of the ingestion pipeline.
type ServiceParams struct {
	Connections connectionStore
	Tokens      tokenSource
	Sources     sourceResolver
	Orders      orders.Repository
	Products    productStore
	Runs        *RunRepository
	Matcher     matcher
	Updater     converter
	Outbox      outbox.Emitter
	Tx          txRunner
	Config      config.SyncConfig
	Logger      *logger.Logger
	Metrics     *metrics.AttributionMetrics
}

// Service pulls storefront orders and runs ingest -> match -> convert per order line.
type Service struct {
	connections connectionStore
	tokens      tokenSource
	sources     sourceResolver
	orders      orders.Repository
	products    productStore
	runs        *RunRepository
	matcher     matcher
	updater     converter
	outbox      outbox.Emitter
	tx          txRunner
	logg        *logger.Logger
	metrics     *metrics.AttributionMetrics
	cfg         config.SyncConfig
	retry       providers.RetryPolicy
	now         func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Connections == nil:
		return nil, fmt.Errorf("connection store required")
	case params.Tokens == nil:
		return nil, fmt.Errorf("token manager required")
	case params.Sources == nil:
		return nil, fmt.Errorf("provider registry required")
	case params.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case params.Runs == nil:
		return nil, fmt.Errorf("sync run repository required")
	case params.Matcher == nil || params.Updater == nil:
		return nil, fmt.Errorf("matcher and updater required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case params.Tx == nil:
		return nil, fmt.Errorf("tx runner required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{
		connections: params.Connections,
		tokens:      params.Tokens,
		sources:     params.Sources,
		orders:      params.Orders,
		products:    params.Products,
		runs:        params.Runs,
		matcher:     params.Matcher,
		updater:     params.Updater,
		outbox:      params.Outbox,
		tx:          params.Tx,
		logg:        logg,
		metrics:     params.Metrics,
		cfg:         params.Config,
		retry:       providers.RetryPolicyFor(params.Config),
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run syncs every connection in scope with bounded parallelism and records the run.
// Connections needing reconnect are reported as skipped, never retried. The returned
// error aggregates connection-level failures; the summary is still valid alongside it.
func (s *Service) Run(ctx context.Context, req RunRequest) (*Summary, error) {
	if !req.Trigger.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid sync trigger")
	}
	if req.LookbackDays < 0 || req.LookbackDays > maxLookbackDays {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("lookback_days must be between 1 and %d", maxLookbackDays))
	}

	started := s.now()
	ctx = s.logg.WithField(ctx, "trigger", string(req.Trigger))
	if req.UserID != nil {
		ctx = s.logg.WithUserID(ctx, req.UserID.String())
	}

	conns, err := s.connections.ListForSync(ctx, req.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list connections")
	}
	if req.ConnectionID != nil {
		conns = onlyConnection(conns, *req.ConnectionID)
		if len(conns) == 0 {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "connection not found")
		}
	}

	since := started.Add(-s.lookback(req.LookbackDays))
	summary := &Summary{RunID: uuid.New(), StartedAt: started}

	var (
		mu   sync.Mutex
		errs error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency())
	for i := range conns {
		conn := conns[i]
		if conn.ReconnectRequired() {
			mu.Lock()
			summary.skip(conn.ID)
			mu.Unlock()
			continue
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := s.SyncConnection(gctx, &conn, since)
			mu.Lock()
			defer mu.Unlock()
			summary.add(res)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("connection %s: %w", conn.ID, err))
			}
			return nil
		})
	}
	_ = g.Wait()
	summary.FinishedAt = s.now()

	if err := s.record(ctx, req, summary); err != nil {
		errs = multierr.Append(errs, err)
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"event":               "sync_completed",
		"connections":         len(conns),
		"synced":              summary.Synced,
		"matched":             summary.Matched,
		"errors":              summary.Errors,
		"skipped_connections": summary.SkippedConnections,
		"duration_ms":         summary.FinishedAt.Sub(started).Milliseconds(),
	}), "sync run finished")
	return summary, errs
}

// SyncConnection ingests one connection's orders since the given time. A connection that
// needs reconnect yields ReconnectRequired and no error.
func (s *Service) SyncConnection(ctx context.Context, conn *models.ExternalConnection, since time.Time) (result ConnectionResult, err error) {
	result = ConnectionResult{ConnectionID: conn.ID}
	ctx = s.logg.WithConnectionID(ctx, conn.ID.String())
	ctx = s.logg.WithProvider(ctx, conn.Provider.String())
	defer func() {
		s.metrics.AddOrdersSynced(conn.Provider.String(), result.Synced)
		s.metrics.AddOrderErrors(conn.Provider.String(), result.Errors)
	}()

	current, err := s.tokens.EnsureFresh(ctx, conn.ID, "")
	if err != nil {
		return s.connectionFailed(ctx, result, err)
	}
	source, err := s.sources.Source(conn.Provider)
	if err != nil {
		return s.connectionFailed(ctx, result, err)
	}
	mapping, err := providers.MappingFor(conn.Provider)
	if err != nil {
		return s.connectionFailed(ctx, result, err)
	}

	cursor := ""
	seen := map[string]struct{}{}
	for page := 0; page < maxPages; page++ {
		var orderPage *providers.OrderPage
		orderPage, current, err = s.listPage(ctx, source, current, since, cursor)
		if err != nil {
			return s.connectionFailed(ctx, result, err)
		}
		for _, raw := range orderPage.Orders {
			s.ingestOrder(ctx, current, mapping, raw, &result)
		}

		next := orderPage.NextCursor
		if next == "" {
			break
		}
		if _, repeated := seen[next]; repeated {
			s.logg.Warn(s.logg.WithField(ctx, "cursor", next), "provider repeated a page cursor")
			break
		}
		seen[next] = struct{}{}
		cursor = next
	}

	if err := s.connections.MarkSynced(ctx, conn.ID, s.now()); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "mark connection synced failed")
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"synced":  result.Synced,
		"matched": result.Matched,
		"errors":  result.Errors,
	}), "connection synced")
	return result, nil
}

// listPage retries transient provider failures with backoff. When the provider rejects
// the token it refreshes that token once and retries the page.
func (s *Service) listPage(ctx context.Context, source providers.Source, conn *models.ExternalConnection, since time.Time, cursor string) (*providers.OrderPage, *models.ExternalConnection, error) {
	page, err := s.fetchPage(ctx, source, conn.AccessToken, since, cursor)
	if err == nil {
		return page, conn, nil
	}
	if !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
		return nil, conn, err
	}

	s.logg.Warn(ctx, "order listing unauthorized, refreshing rejected token")
	refreshed, err := s.tokens.EnsureFresh(ctx, conn.ID, conn.AccessToken)
	if err != nil {
		return nil, conn, err
	}
	page, err = s.fetchPage(ctx, source, refreshed.AccessToken, since, cursor)
	if err != nil {
		return nil, refreshed, err
	}
	return page, refreshed, nil
}

func (s *Service) fetchPage(ctx context.Context, source providers.Source, accessToken string, since time.Time, cursor string) (*providers.OrderPage, error) {
	attempt := 0
	return providers.Retry(ctx, s.retry, func(ctx context.Context) (*providers.OrderPage, error) {
		attempt++
		page, err := source.ListOrders(ctx, accessToken, since, cursor)
		if pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"cursor":  cursor,
				"attempt": attempt,
				"error":   err.Error(),
			}), "order listing failed")
		}
		return page, err
	})
}

func (s *Service) connectionFailed(ctx context.Context, result ConnectionResult, err error) (ConnectionResult, error) {
	if errors.Is(err, connections.ErrNeedsReconnect) {
		result.ReconnectRequired = true
		s.logg.Warn(ctx, "connection skipped, reconnect required")
		return result, nil
	}
	result.Errors++
	s.logg.Error(ctx, "connection sync failed", err)
	return result, err
}

func (s *Service) ingestOrder(ctx context.Context, conn *models.ExternalConnection, mapping providers.Mapping, raw []byte, result *ConnectionResult) {
	lines, err := providers.Normalize(mapping, raw)
	if err != nil {
		result.Errors++
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "order payload rejected")
		return
	}
	for _, line := range lines {
		outcome, err := s.ingestLine(ctx, conn, line)
		if err != nil {
			result.Errors++
			s.logg.Error(s.logg.WithFields(ctx, map[string]any{
				"external_order_id":     line.ExternalOrderID,
				"external_line_item_id": line.ExternalLineItemID,
			}), "order line ingest failed", err)
			continue
		}
		result.Synced++
		if outcome.Converted {
			result.Matched++
		}
	}
}

func (s *Service) record(ctx context.Context, req RunRequest, summary *Summary) error {
	run := models.SyncRun{
		ID:                 summary.RunID,
		UserID:             req.UserID,
		Trigger:            req.Trigger,
		StartedAt:          summary.StartedAt,
		FinishedAt:         summary.FinishedAt,
		Synced:             summary.Synced,
		Matched:            summary.Matched,
		Errors:             summary.Errors,
		SkippedConnections: summary.SkippedConnections,
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.runs.WithTx(tx).Create(ctx, &run); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSyncCompleted,
			AggregateType: enums.AggregateSyncRun,
			AggregateID:   run.ID,
			Actor:         &outbox.ActorRef{UserID: req.UserID, Source: string(req.Trigger)},
			OccurredAt:    summary.FinishedAt,
			Data: payloads.SyncCompletedEvent{
				SyncRunID:          run.ID,
				UserID:             req.UserID,
				Trigger:            req.Trigger,
				Synced:             summary.Synced,
				Matched:            summary.Matched,
				Errors:             summary.Errors,
				SkippedConnections: summary.SkippedConnections,
				ReconnectRequired:  summary.ReconnectRequired,
				StartedAt:          summary.StartedAt,
				FinishedAt:         summary.FinishedAt,
			},
		})
	})
	if err != nil {
		return fmt.Errorf("record sync run: %w", err)
	}
	return nil
}

// RunsPage is one page of sync history.
type RunsPage struct {
	Runs       []models.SyncRun
	NextCursor string
}

// ListRuns returns a page of the user's sync runs, newest first.
func (s *Service) ListRuns(ctx context.Context, userID uuid.UUID, params pagination.Params) (*RunsPage, error) {
	after, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor").WithDetails(map[string]any{"cursor": "is malformed"})
	}
	runs, next, err := s.runs.ListByUser(ctx, userID, params.Limit, after)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list sync runs")
	}
	page := &RunsPage{Runs: runs}
	if next != nil {
		page.NextCursor = next.Encode()
	}
	return page, nil
}

func (s *Service) lookback(days int) time.Duration {
	if days > 0 {
		return time.Duration(days) * 24 * time.Hour
	}
	return s.cfg.LookbackWindow()
}

func (s *Service) concurrency() int {
	if s.cfg.Concurrency > 0 {
		return s.cfg.Concurrency
	}
	return defaultConcurrency
}

func onlyConnection(conns []models.ExternalConnection, id uuid.UUID) []models.ExternalConnection {
	for _, conn := range conns {
		if conn.ID == id {
			return []models.ExternalConnection{conn}
		}
	}
	return nil
}
