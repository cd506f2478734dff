package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/sethvargo/go-retry"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/adtrail-backend/internal/analytics/types"
	pkgbigquery "github.com/angelmondragon/adtrail-backend/pkg/bigquery"
)

const (
	defaultBatchSize      = 1
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaximumBackoff = 2 * time.Second
)

// Config controls the analytics writer behavior.
type Config struct {
	AttributionEventTable string
	ConversionFactTable   string
	BatchSize             int
	RetryPolicy           RetryPolicy
}

// RetryPolicy controls how many times BigQuery inserts are retried.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// buffer holds pending rows for one table. Rows are streamed with their event id as
// the insert id, so a retried batch is deduplicated by BigQuery.
type buffer[T any] struct {
	table string
	rows  []T
	key   func(*T) string
}

func (b *buffer[T]) savers() []any {
	out := make([]any, len(b.rows))
	for i := range b.rows {
		out[i] = &cbigquery.StructSaver{Struct: &b.rows[i], InsertID: b.key(&b.rows[i])}
	}
	return out
}

// BigQueryWriter streams analytics rows into BigQuery, batching per table and retrying
// transient failures with capped exponential backoff.
type BigQueryWriter struct {
	mu          sync.Mutex
	client      tableInserter
	batchSize   int
	retry       RetryPolicy
	events      buffer[types.AttributionEventRow]
	conversions buffer[types.ConversionFactRow]
}

// TableSpecs derives the BigQuery definitions of both analytics tables from the row types.
// Both tables are partitioned by day on their event timestamp.
func TableSpecs(cfg Config) ([]pkgbigquery.TableSpec, error) {
	eventSchema, err := cbigquery.InferSchema(types.AttributionEventRow{})
	if err != nil {
		return nil, fmt.Errorf("infer attribution event schema: %w", err)
	}
	factSchema, err := cbigquery.InferSchema(types.ConversionFactRow{})
	if err != nil {
		return nil, fmt.Errorf("infer conversion fact schema: %w", err)
	}
	return []pkgbigquery.TableSpec{
		{Name: cfg.AttributionEventTable, Schema: eventSchema, PartitionField: "occurred_at"},
		{Name: cfg.ConversionFactTable, Schema: factSchema, PartitionField: "converted_at"},
	}, nil
}

// New creates a writer on top of the shared BigQuery client.
func New(client *pkgbigquery.Client, cfg Config) (*BigQueryWriter, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	return newWriter(client, cfg)
}

func newWriter(client tableInserter, cfg Config) (*BigQueryWriter, error) {
	eventTable := strings.TrimSpace(cfg.AttributionEventTable)
	if eventTable == "" {
		return nil, errors.New("attribution event table is required")
	}
	factTable := strings.TrimSpace(cfg.ConversionFactTable)
	if factTable == "" {
		return nil, errors.New("conversion fact table is required")
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &BigQueryWriter{
		client:      client,
		batchSize:   batchSize,
		retry:       cfg.RetryPolicy.withDefaults(),
		events:      buffer[types.AttributionEventRow]{table: eventTable, key: func(r *types.AttributionEventRow) string { return r.EventID }},
		conversions: buffer[types.ConversionFactRow]{table: factTable, key: func(r *types.ConversionFactRow) string { return r.EventID }},
	}, nil
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = defaultInitialBackoff
	}
	if p.MaximumBackoff < p.InitialBackoff {
		p.MaximumBackoff = max(p.InitialBackoff, defaultMaximumBackoff)
	}
	return p
}

func (p RetryPolicy) backoff() retry.Backoff {
	b := retry.NewExponential(p.InitialBackoff)
	b = retry.WithCappedDuration(p.MaximumBackoff, b)
	return retry.WithMaxRetries(uint64(p.MaxAttempts-1), b)
}

// InsertAttributionEvent buffers one attribution_events row and flushes at batch size.
func (w *BigQueryWriter) InsertAttributionEvent(ctx context.Context, row types.AttributionEventRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events.rows = append(w.events.rows, row)
	if len(w.events.rows) < w.batchSize {
		return nil
	}
	return flush(ctx, w, &w.events)
}

// InsertConversionFact buffers one conversion_facts row and flushes at batch size.
func (w *BigQueryWriter) InsertConversionFact(ctx context.Context, row types.ConversionFactRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conversions.rows = append(w.conversions.rows, row)
	if len(w.conversions.rows) < w.batchSize {
		return nil
	}
	return flush(ctx, w, &w.conversions)
}

// Flush writes whatever is buffered. Events go first, so a fact never lands without
// the event row it belongs to.
func (w *BigQueryWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := flush(ctx, w, &w.events); err != nil {
		return err
	}
	return flush(ctx, w, &w.conversions)
}

// Pending reports how many rows wait in the buffers.
func (w *BigQueryWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.events.rows) + len(w.conversions.rows)
}

// flush keeps the rows buffered when the insert fails, so the next flush retries them.
func flush[T any](ctx context.Context, w *BigQueryWriter, b *buffer[T]) error {
	if len(b.rows) == 0 {
		return nil
	}
	if err := w.insert(ctx, b.table, b.savers()); err != nil {
		return err
	}
	b.rows = b.rows[:0]
	return nil
}

func (w *BigQueryWriter) insert(ctx context.Context, table string, rows []any) error {
	err := retry.Do(ctx, w.retry.backoff(), func(ctx context.Context) error {
		err := w.client.InsertRows(ctx, table, rows)
		if isRetryableBigQueryError(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("insert %s rows: %w", table, err)
	}
	return err
}

func isRetryableBigQueryError(err error) bool {
	if err == nil {
		return false
	}

	var multi *cbigquery.MultiError
	if errors.As(err, &multi) {
		if multi == nil || len(*multi) == 0 {
			return false
		}
		for _, inner := range *multi {
			if !isRetryableBigQueryError(inner) {
				return false
			}
		}
		return true
	}

	var pme *cbigquery.PutMultiError
	if errors.As(err, &pme) {
		if pme == nil || len(*pme) == 0 {
			return false
		}
		for _, rowErr := range *pme {
			if !isRetryableBigQueryError(rowErr.Errors) {
				return false
			}
		}
		return true
	}

	var rowErr *cbigquery.RowInsertionError
	if errors.As(err, &rowErr) {
		if rowErr == nil || len(rowErr.Errors) == 0 {
			return false
		}
		for _, inner := range rowErr.Errors {
			if !isRetryableBigQueryError(inner) {
				return false
			}
		}
		return true
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return isRetryableHTTPCode(apiErr.Code)
	}

	var statusErr interface{ GRPCStatus() *status.Status }
	if errors.As(err, &statusErr) {
		if st := statusErr.GRPCStatus(); st != nil {
			return isRetryableGRPCCode(st.Code())
		}
	}

	return false
}

func isRetryableHTTPCode(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func isRetryableGRPCCode(code codes.Code) bool {
	switch code {
	case codes.Aborted,
		codes.DeadlineExceeded,
		codes.Internal,
		codes.ResourceExhausted,
		codes.Unavailable:
		return true
	default:
		return false
	}
}

// EncodeJSON serializes the provided payload so it can be stored in BigQuery JSON columns.
func EncodeJSON(payload any) (cbigquery.NullJSON, error) {
	switch value := payload.(type) {
	case nil:
		return cbigquery.NullJSON{}, nil
	case cbigquery.NullJSON:
		return value, nil
	case json.RawMessage:
		if len(value) == 0 {
			return cbigquery.NullJSON{}, nil
		}
		return cbigquery.NullJSON{Valid: true, JSONVal: string(value)}, nil
	case []byte:
		if len(value) == 0 {
			return cbigquery.NullJSON{}, nil
		}
		return cbigquery.NullJSON{Valid: true, JSONVal: string(value)}, nil
	}

	marshaled, err := json.Marshal(payload)
	if err != nil {
		return cbigquery.NullJSON{}, fmt.Errorf("marshal json: %w", err)
	}
	if len(marshaled) == 0 {
		return cbigquery.NullJSON{}, nil
	}
	return cbigquery.NullJSON{Valid: true, JSONVal: string(marshaled)}, nil
}
