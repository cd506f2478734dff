package clicks

import (
	"context"
	"sync"
	"time"

	"github.com/angelmondragon/adtrail-backend/pkg/db/models"
	"github.com/angelmondragon/adtrail-backend/pkg/logger"
	"github.com/angelmondragon/adtrail-backend/pkg/metrics"
)

const (
	defaultWriterBuffer  = 1024
	defaultWriterWorkers = 2
	defaultWriterTimeout = 5 * time.Second
)

type clickRecorder interface {
	RecordClick(ctx context.Context, click *models.ClickEvent) error
}

// WriterOptions sizes the async click writer.
type WriterOptions struct {
	Buffer  int
	Workers int
	Timeout time.Duration
}

// AsyncWriter persists clicks off the redirect path. Enqueue never blocks: a full
// buffer drops the click.
type AsyncWriter struct {
	store   clickRecorder
	logg    *logger.Logger
	metrics *metrics.AttributionMetrics
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan models.ClickEvent
	wg     sync.WaitGroup
}

// NewAsyncWriter starts the worker goroutines.
func NewAsyncWriter(store clickRecorder, opts WriterOptions, logg *logger.Logger, m *metrics.AttributionMetrics) *AsyncWriter {
	if opts.Buffer <= 0 {
		opts.Buffer = defaultWriterBuffer
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWriterWorkers
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultWriterTimeout
	}
	if logg == nil {
		logg = logger.Nop()
	}

	w := &AsyncWriter{
		store:   store,
		logg:    logg,
		metrics: m,
		timeout: opts.Timeout,
		queue:   make(chan models.ClickEvent, opts.Buffer),
	}
	for i := 0; i < opts.Workers; i++ {
		w.wg.Add(1)
		go w.run()
	}
	return w
}

// Enqueue hands the click to a worker. It reports false when the click was dropped.
func (w *AsyncWriter) Enqueue(click models.ClickEvent) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}

	select {
	case w.queue <- click:
		w.metrics.SetWriterBacklog(len(w.queue))
		return true
	default:
		w.metrics.IncClick(metrics.ClickOutcomeDropped)
		ctx := w.logg.WithFields(context.Background(), map[string]any{
			"click_id":         click.ClickID,
			"tracking_link_id": click.TrackingLinkID.String(),
		})
		w.logg.Warn(ctx, "click writer buffer full, dropping click")
		return false
	}
}

// Close stops accepting clicks and waits for queued ones to drain or ctx to end.
func (w *AsyncWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *AsyncWriter) run() {
	defer w.wg.Done()
	for click := range w.queue {
		w.write(click)
		w.metrics.SetWriterBacklog(len(w.queue))
	}
}

func (w *AsyncWriter) write(click models.ClickEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	if err := w.store.RecordClick(ctx, &click); err != nil {
		w.metrics.IncClick(metrics.ClickOutcomeFailed)
		logCtx := w.logg.WithFields(ctx, map[string]any{
			"click_id":         click.ClickID,
			"tracking_link_id": click.TrackingLinkID.String(),
		})
		w.logg.Error(logCtx, "persist click event", err)
	}
}
