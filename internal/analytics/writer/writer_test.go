package writer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/adtrail-backend/internal/analytics/types"
	pkgbigquery "github.com/angelmondragon/adtrail-backend/pkg/bigquery"
)

func TestNewWriterValidation(t *testing.T) {
	if _, err := New(nil, Config{}); err == nil {
		t.Fatal("expected error when client missing")
	}
	if _, err := New(&pkgbigquery.Client{}, Config{AttributionEventTable: " ", ConversionFactTable: "facts"}); err == nil {
		t.Fatal("expected error when event table missing")
	}
	if _, err := New(&pkgbigquery.Client{}, Config{AttributionEventTable: "events", ConversionFactTable: " "}); err == nil {
		t.Fatal("expected error when conversion table missing")
	}
}

func TestEncodeJSON(t *testing.T) {
	nj, err := EncodeJSON(map[string]any{"synced": 4})
	if err != nil {
		t.Fatalf("unexpected error encoding json: %v", err)
	}
	if !nj.Valid {
		t.Fatal("expected json to be marked valid")
	}

	nj, err = EncodeJSON(nil)
	if err != nil {
		t.Fatalf("unexpected error for nil json: %v", err)
	}
	if nj.Valid {
		t.Fatal("expected nil json to be invalid")
	}

	rawMessage := json.RawMessage(`{"order_id":"abc"}`)
	nj, err = EncodeJSON(rawMessage)
	if err != nil {
		t.Fatalf("unexpected error encoding raw json: %v", err)
	}
	if nj.JSONVal != string(rawMessage) {
		t.Fatalf("expected raw json passed through, got %s", nj.JSONVal)
	}
}

func TestWriterRetriesOnTransientError(t *testing.T) {
	writer, fake := newWriterWithFakeInserter(t)
	fake.responses = []error{
		&googleapi.Error{Code: http.StatusServiceUnavailable},
		nil,
	}

	if err := writer.InsertAttributionEvent(context.Background(), types.AttributionEventRow{EventID: "1"}); err != nil {
		t.Fatalf("unexpected error writing row: %v", err)
	}
	if len(fake.calls) != 2 {
		t.Fatalf("expected two insert attempts, got %d", len(fake.calls))
	}
	if fake.calls[1].table != "attribution_events" {
		t.Fatalf("expected event table on retry, got %s", fake.calls[1].table)
	}
	if writer.Pending() != 0 {
		t.Fatal("expected buffer to be empty after success")
	}
}

func TestWriterStopsOnPermanentError(t *testing.T) {
	writer, fake := newWriterWithFakeInserter(t)
	fake.responses = []error{&googleapi.Error{Code: http.StatusBadRequest}}

	if err := writer.InsertConversionFact(context.Background(), types.ConversionFactRow{EventID: "1"}); err == nil {
		t.Fatal("expected error")
	}
	if len(fake.calls) != 1 {
		t.Fatalf("expected one attempt, got %d", len(fake.calls))
	}
	if fake.calls[0].table != "conversion_facts" {
		t.Fatalf("expected conversion table, got %s", fake.calls[0].table)
	}
}

func TestWriterBatching(t *testing.T) {
	writer, fake := newWriterWithFakeInserter(t)
	writer.batchSize = 2

	if err := writer.InsertAttributionEvent(context.Background(), types.AttributionEventRow{EventID: "1"}); err != nil {
		t.Fatalf("unexpected error on first insert: %v", err)
	}
	if len(fake.calls) != 0 {
		t.Fatalf("expected no insert before batch full, got %d", len(fake.calls))
	}
	if err := writer.InsertAttributionEvent(context.Background(), types.AttributionEventRow{EventID: "2"}); err != nil {
		t.Fatalf("unexpected error on second insert: %v", err)
	}
	if len(fake.calls) != 1 {
		t.Fatalf("expected single insert after batch flush, got %d", len(fake.calls))
	}
	if fake.calls[0].rowCount != 2 {
		t.Fatalf("expected two rows inserted, got %d", fake.calls[0].rowCount)
	}
}

func TestWriterFlush(t *testing.T) {
	writer, fake := newWriterWithFakeInserter(t)
	writer.batchSize = 10
	ctx := context.Background()
	if err := writer.InsertAttributionEvent(ctx, types.AttributionEventRow{EventID: "1"}); err != nil {
		t.Fatalf("unexpected insert error: %v", err)
	}
	if err := writer.InsertConversionFact(ctx, types.ConversionFactRow{EventID: "1"}); err != nil {
		t.Fatalf("unexpected insert error: %v", err)
	}
	if err := writer.Flush(ctx); err != nil {
		t.Fatalf("unexpected flush error: %v", err)
	}
	if len(fake.calls) != 2 {
		t.Fatalf("expected one insert per table, got %d", len(fake.calls))
	}
	if writer.Pending() != 0 {
		t.Fatal("expected buffers to be empty after flush")
	}
}

func TestIsRetryableBigQueryError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", &googleapi.Error{Code: http.StatusTooManyRequests}, true},
		{"bad request", &googleapi.Error{Code: http.StatusBadRequest}, false},
		{"grpc unavailable", status.Error(codes.Unavailable, "down"), true},
		{"grpc invalid", status.Error(codes.InvalidArgument, "bad"), false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isRetryableBigQueryError(tc.err); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

type insertCall struct {
	table    string
	rowCount int
}

type fakeInserter struct {
	responses []error
	calls     []insertCall
	lastRows  []any
	index     int
}

func (f *fakeInserter) InsertRows(_ context.Context, table string, rows []any) error {
	f.calls = append(f.calls, insertCall{table: table, rowCount: len(rows)})
	f.lastRows = rows
	var err error
	if f.index < len(f.responses) {
		err = f.responses[f.index]
	}
	f.index++
	return err
}

func newWriterWithFakeInserter(t *testing.T) (*BigQueryWriter, *fakeInserter) {
	t.Helper()
	fake := &fakeInserter{}
	writer, err := newWriter(fake, Config{
		AttributionEventTable: "attribution_events",
		ConversionFactTable:   "conversion_facts",
		RetryPolicy:           RetryPolicy{InitialBackoff: time.Millisecond, MaximumBackoff: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("construct writer: %v", err)
	}
	return writer, fake
}

func TestTableSpecsInferSchemas(t *testing.T) {
	specs, err := TableSpecs(Config{AttributionEventTable: "attribution_events", ConversionFactTable: "conversion_facts"})
	if err != nil {
		t.Fatalf("table specs: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("expected two specs, got %d", len(specs))
	}
	if specs[0].Name != "attribution_events" || specs[0].PartitionField != "occurred_at" {
		t.Fatalf("unexpected event spec %+v", specs[0])
	}
	if specs[1].Name != "conversion_facts" || specs[1].PartitionField != "converted_at" {
		t.Fatalf("unexpected fact spec %+v", specs[1])
	}
	fields := map[string]bool{}
	for _, field := range specs[1].Schema {
		fields[field.Name] = true
	}
	for _, want := range []string{"click_id", "revenue", "lag_seconds", specs[1].PartitionField} {
		if !fields[want] {
			t.Fatalf("conversion schema missing %s", want)
		}
	}
}

func TestRowsCarryInsertIDs(t *testing.T) {
	writer, fake := newWriterWithFakeInserter(t)
	if err := writer.InsertAttributionEvent(context.Background(), types.AttributionEventRow{EventID: "evt-1"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	saver, ok := fake.lastRows[0].(*cbigquery.StructSaver)
	if !ok {
		t.Fatalf("expected struct saver, got %T", fake.lastRows[0])
	}
	if saver.InsertID != "evt-1" {
		t.Fatalf("expected insert id evt-1, got %q", saver.InsertID)
	}
}

func TestWriterKeepsRowsAfterExhaustedRetries(t *testing.T) {
	writer, fake := newWriterWithFakeInserter(t)
	writer.retry.MaxAttempts = 2
	unavailable := &googleapi.Error{Code: http.StatusServiceUnavailable}
	fake.responses = []error{unavailable, unavailable, nil}

	err := writer.InsertAttributionEvent(context.Background(), types.AttributionEventRow{EventID: "1"})
	if !errors.As(err, new(*googleapi.Error)) {
		t.Fatalf("expected googleapi error after retries, got %v", err)
	}
	if len(fake.calls) != 2 {
		t.Fatalf("expected two attempts, got %d", len(fake.calls))
	}
	if writer.Pending() != 1 {
		t.Fatalf("failed rows must stay buffered, got %d", writer.Pending())
	}

	if err := writer.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if writer.Pending() != 0 || fake.calls[2].rowCount != 1 {
		t.Fatalf("expected buffered row to be written on flush, calls=%+v", fake.calls)
	}
}

func TestWriterStopsWhenContextEnds(t *testing.T) {
	writer, fake := newWriterWithFakeInserter(t)
	writer.retry.InitialBackoff = time.Hour
	writer.retry.MaximumBackoff = time.Hour
	fake.responses = []error{&googleapi.Error{Code: http.StatusServiceUnavailable}}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := writer.InsertConversionFact(ctx, types.ConversionFactRow{EventID: "1"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
