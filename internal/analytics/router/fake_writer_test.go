package router

import (
	"context"
	"sync"

	"github.com/angelmondragon/adtrail-backend/internal/analytics/types"
)

// fakeWriter records rows in memory and remembers which table each write hit, in order.
type fakeWriter struct {
	mu          sync.Mutex
	events      []types.AttributionEventRow
	conversions []types.ConversionFactRow
	tables      []string
	eventErr    error
	factErr     error
}

func (f *fakeWriter) InsertAttributionEvent(_ context.Context, row types.AttributionEventRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables = append(f.tables, "attribution_events")
	if f.eventErr != nil {
		return f.eventErr
	}
	f.events = append(f.events, row)
	return nil
}

func (f *fakeWriter) InsertConversionFact(_ context.Context, row types.ConversionFactRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables = append(f.tables, "conversion_facts")
	if f.factErr != nil {
		return f.factErr
	}
	f.conversions = append(f.conversions, row)
	return nil
}
