package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/adtrail-backend/internal/connections"
	"github.com/angelmondragon/adtrail-backend/internal/orders"
	"github.com/angelmondragon/adtrail-backend/internal/providers"
	"github.com/angelmondragon/adtrail-backend/pkg/config"
	"github.com/angelmondragon/adtrail-backend/pkg/db/models"
	"github.com/angelmondragon/adtrail-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/adtrail-backend/pkg/errors"
	"github.com/angelmondragon/adtrail-backend/pkg/logger"
)

const (
	defaultBatchSize        = 50
	pageSize                = 500
	defaultSettlementStatus = "settled"
)

type tokenSource interface {
	EnsureFresh(ctx context.Context, connectionID uuid.UUID, rejected string) (*models.ExternalConnection, error)
}

type sourceResolver interface {
	Source(provider enums.Provider) (providers.Source, error)
}

// ReconcileSummary counts one reconciliation pass.
type ReconcileSummary struct {
	Checked int `json:"checked"`
	Settled int `json:"settled"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// Reconciler attaches marketplace settlement data to ingested orders. It writes settlement
// columns only; attribution and clicks are never touched.
type Reconciler struct {
	orders    orders.Repository
	tokens    tokenSource
	sources   sourceResolver
	batchSize int
	retry     providers.RetryPolicy
	logg      *logger.Logger
}

func NewReconciler(repo orders.Repository, tokens tokenSource, sources sourceResolver, cfg config.SyncConfig, logg *logger.Logger) (*Reconciler, error) {
	if repo == nil || tokens == nil || sources == nil {
		return nil, fmt.Errorf("reconciler dependencies required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	batch := cfg.SettlementBatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &Reconciler{
		orders:    repo,
		tokens:    tokens,
		sources:   sources,
		batchSize: batch,
		retry:     providers.RetryPolicyFor(cfg),
		logg:      logg,
	}, nil
}

// connState caches one connection's credentials for the duration of a pass.
type connState struct {
	conn   *models.ExternalConnection
	source providers.Source
	skip   bool
}

// Run walks every settlement-eligible order still missing settlement data.
func (r *Reconciler) Run(ctx context.Context) (ReconcileSummary, error) {
	var (
		summary ReconcileSummary
		errs    error
		after   *uuid.UUID
	)
	states := map[uuid.UUID]*connState{}
	started := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return summary, multierr.Append(errs, err)
		}
		rows, err := r.orders.ListPendingSettlement(ctx, after, pageSize)
		if err != nil {
			return summary, multierr.Append(errs, fmt.Errorf("list pending settlement: %w", err))
		}
		if len(rows) == 0 {
			break
		}
		last := rows[len(rows)-1].ID
		after = &last
		summary.Checked += len(rows)

		for connID, group := range groupByConnection(rows) {
			state, err := r.state(ctx, states, connID)
			if err != nil {
				summary.Errors += len(group)
				errs = multierr.Append(errs, fmt.Errorf("connection %s: %w", connID, err))
				continue
			}
			if state.skip {
				summary.Skipped += len(group)
				continue
			}
			settled, err := r.reconcileGroup(ctx, state, group)
			summary.Settled += settled
			if err != nil {
				summary.Errors++
				errs = multierr.Append(errs, fmt.Errorf("connection %s: %w", connID, err))
			}
		}
		if len(rows) < pageSize {
			break
		}
	}

	r.logg.Info(r.logg.WithFields(ctx, map[string]any{
		"event":       "settlement_reconciled",
		"checked":     summary.Checked,
		"settled":     summary.Settled,
		"skipped":     summary.Skipped,
		"errors":      summary.Errors,
		"duration_ms": time.Since(started).Milliseconds(),
	}), "settlement pass finished")
	return summary, errs
}

func (r *Reconciler) state(ctx context.Context, states map[uuid.UUID]*connState, connID uuid.UUID) (*connState, error) {
	if state, ok := states[connID]; ok {
		return state, nil
	}
	conn, err := r.tokens.EnsureFresh(ctx, connID, "")
	if err != nil {
		if errors.Is(err, connections.ErrNeedsReconnect) {
			states[connID] = &connState{skip: true}
			return states[connID], nil
		}
		return nil, err
	}
	source, err := r.sources.Source(conn.Provider)
	if err != nil {
		return nil, err
	}
	states[connID] = &connState{conn: conn, source: source}
	return states[connID], nil
}

// reconcileGroup fetches settlements in batches of external order ids and applies them.
func (r *Reconciler) reconcileGroup(ctx context.Context, state *connState, group []models.Order) (int, error) {
	byOrder := map[string][]models.Order{}
	var orderIDs []string
	for _, row := range group {
		if _, seen := byOrder[row.ExternalOrderID]; !seen {
			orderIDs = append(orderIDs, row.ExternalOrderID)
		}
		byOrder[row.ExternalOrderID] = append(byOrder[row.ExternalOrderID], row)
	}

	settled := 0
	var errs error
	for start := 0; start < len(orderIDs); start += r.batchSize {
		end := min(start+r.batchSize, len(orderIDs))
		records, err := r.fetch(ctx, state, orderIDs[start:end])
		if err != nil {
			if state.skip {
				r.logg.Warn(ctx, "settlement connection requires reconnect")
				break
			}
			errs = multierr.Append(errs, err)
			continue
		}
		for _, record := range records {
			for _, row := range targets(byOrder[record.ExternalOrderID], record) {
				ok, err := r.orders.ApplySettlement(ctx, row.ID, orders.SettlementFields{
					Commission:       record.Commission,
					SettlementAmount: record.SettlementAmount,
					Status:           settlementStatus(record),
					SettledAt:        record.SettledAt,
				})
				if err != nil {
					errs = multierr.Append(errs, err)
					continue
				}
				if ok {
					settled++
				}
			}
		}
	}
	return settled, errs
}

// fetch retries transient provider failures with backoff, and retries once with a
// refreshed token when the provider rejects the current one.
func (r *Reconciler) fetch(ctx context.Context, state *connState, ids []string) ([]providers.Settlement, error) {
	records, err := r.fetchBatch(ctx, state.source, state.conn.AccessToken, ids)
	if err == nil || !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
		return records, err
	}
	conn, err := r.tokens.EnsureFresh(ctx, state.conn.ID, state.conn.AccessToken)
	if err != nil {
		if errors.Is(err, connections.ErrNeedsReconnect) {
			state.skip = true
		}
		return nil, err
	}
	state.conn = conn
	return r.fetchBatch(ctx, state.source, conn.AccessToken, ids)
}

func (r *Reconciler) fetchBatch(ctx context.Context, source providers.Source, accessToken string, ids []string) ([]providers.Settlement, error) {
	return providers.Retry(ctx, r.retry, func(ctx context.Context) ([]providers.Settlement, error) {
		records, err := source.FetchSettlements(ctx, accessToken, ids)
		if pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
			r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
				"orders": len(ids),
				"error":  err.Error(),
			}), "settlement fetch failed")
		}
		return records, err
	})
}

func groupByConnection(rows []models.Order) map[uuid.UUID][]models.Order {
	groups := map[uuid.UUID][]models.Order{}
	for _, row := range rows {
		groups[row.ConnectionID] = append(groups[row.ConnectionID], row)
	}
	return groups
}

// targets picks the order lines a settlement record covers: the named line when the
// provider settles per line, otherwise every line of the order.
func targets(lines []models.Order, record providers.Settlement) []models.Order {
	if record.ExternalLineItemID == "" {
		return lines
	}
	for _, line := range lines {
		if line.ExternalLineItemID == record.ExternalLineItemID {
			return []models.Order{line}
		}
	}
	return nil
}

func settlementStatus(record providers.Settlement) string {
	if record.Status == "" {
		return defaultSettlementStatus
	}
	return record.Status
}
