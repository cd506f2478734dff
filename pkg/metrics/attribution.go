package metrics

import "github.com/prometheus/client_golang/prometheus"

// Click capture outcomes.
const (
	ClickOutcomeTracked  = "tracked"
	ClickOutcomeBot      = "bot"
	ClickOutcomeInactive = "inactive"
	ClickOutcomeDropped  = "dropped"
	ClickOutcomeFailed   = "failed"
)

// Token refresh outcomes.
const (
	RefreshResultSuccess        = "success"
	RefreshResultReconnect      = "needs_reconnect"
	RefreshResultWaitedForOther = "waited"
)

// AttributionMetrics covers the click -> order -> conversion pipeline.
type AttributionMetrics struct {
	clicks        *prometheus.CounterVec
	ordersSynced  *prometheus.CounterVec
	orderErrors   *prometheus.CounterVec
	matches       *prometheus.CounterVec
	races         prometheus.Counter
	tokenRefresh  *prometheus.CounterVec
	writerBacklog prometheus.Gauge
}

// NewAttributionMetrics registers the pipeline metrics on the provided registerer.
// A nil registerer returns a no-op recorder.
func NewAttributionMetrics(reg prometheus.Registerer) *AttributionMetrics {
	if reg == nil {
		return &AttributionMetrics{}
	}
	m := &AttributionMetrics{
		clicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clicks_total",
			Help:      "Redirect hits by capture outcome.",
		}, []string{"outcome"}),
		ordersSynced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_synced_total",
			Help:      "Order lines ingested per provider.",
		}, []string{"provider"}),
		orderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_errors_total",
			Help:      "Orders skipped during ingestion per provider.",
		}, []string{"provider"}),
		matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attribution_matches_total",
			Help:      "Orders attributed per matching strategy.",
		}, []string{"strategy"}),
		races: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversion_races_total",
			Help:      "Click conversions lost to a concurrent converter.",
		}),
		tokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_total",
			Help:      "Token refresh attempts by result.",
		}, []string{"provider", "result"}),
		writerBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "click_writer_backlog",
			Help:      "Click events queued for persistence.",
		}),
	}
	reg.MustRegister(m.clicks, m.ordersSynced, m.orderErrors, m.matches, m.races, m.tokenRefresh, m.writerBacklog)
	return m
}

func (m *AttributionMetrics) IncClick(outcome string) {
	if m == nil || m.clicks == nil {
		return
	}
	m.clicks.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *AttributionMetrics) AddOrdersSynced(provider string, n int) {
	if m == nil || m.ordersSynced == nil || n <= 0 {
		return
	}
	m.ordersSynced.WithLabelValues(normalizeLabel(provider)).Add(float64(n))
}

func (m *AttributionMetrics) AddOrderErrors(provider string, n int) {
	if m == nil || m.orderErrors == nil || n <= 0 {
		return
	}
	m.orderErrors.WithLabelValues(normalizeLabel(provider)).Add(float64(n))
}

func (m *AttributionMetrics) IncMatch(strategy string) {
	if m == nil || m.matches == nil {
		return
	}
	m.matches.WithLabelValues(normalizeLabel(strategy)).Inc()
}

func (m *AttributionMetrics) IncConversionRace() {
	if m == nil || m.races == nil {
		return
	}
	m.races.Inc()
}

func (m *AttributionMetrics) IncTokenRefresh(provider, result string) {
	if m == nil || m.tokenRefresh == nil {
		return
	}
	m.tokenRefresh.WithLabelValues(normalizeLabel(provider), normalizeLabel(result)).Inc()
}

func (m *AttributionMetrics) SetWriterBacklog(n int) {
	if m == nil || m.writerBacklog == nil {
		return
	}
	m.writerBacklog.Set(float64(n))
}
