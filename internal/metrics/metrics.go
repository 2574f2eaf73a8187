package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline counters, shared by every request.
var (
	PagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_pages_fetched_total",
		Help: "Pages fetched over plain HTTP, by source kind and outcome",
	}, []string{"source", "outcome"})

	PagesRendered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_pages_rendered_total",
		Help: "Pages escalated to the headless renderer",
	})

	CandidatesExtracted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_candidates_extracted_total",
		Help: "Raw review candidates produced by extraction, by source kind",
	}, []string{"source"})

	CandidatesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_candidates_rejected_total",
		Help: "Candidate blocks rejected during extraction, by gate",
	}, []string{"source", "gate"})

	DuplicatesRemoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_duplicates_removed_total",
		Help: "Candidates removed by deduplication, by pass (exact or near)",
	}, []string{"pass"})

	ClassifierCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_classifier_calls_total",
		Help: "External classifier batch calls, by outcome",
	}, []string{"outcome"})

	ReviewsPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_reviews_persisted_total",
		Help: "Validated reviews written to the database",
	})

	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvester_fetch_duration_seconds",
		Help:    "Time spent obtaining page HTML",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"render"})

	ClassifyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvester_classify_duration_seconds",
		Help:    "Time spent per classifier batch call",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})
)

// DatabaseMetrics exposes sql.DB pool statistics as gauges
type DatabaseMetrics struct {
	openConnections prometheus.Gauge
	inUse           prometheus.Gauge
	idle            prometheus.Gauge
	waitCount       prometheus.Gauge
}

// NewDatabaseMetrics registers pool gauges for the named service
func NewDatabaseMetrics(service string) *DatabaseMetrics {
	labels := prometheus.Labels{"service": service}
	return &DatabaseMetrics{
		openConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name:        "harvester_db_open_connections",
			Help:        "Open connections in the database pool",
			ConstLabels: labels,
		}),
		inUse: promauto.NewGauge(prometheus.GaugeOpts{
			Name:        "harvester_db_in_use_connections",
			Help:        "Connections currently in use",
			ConstLabels: labels,
		}),
		idle: promauto.NewGauge(prometheus.GaugeOpts{
			Name:        "harvester_db_idle_connections",
			Help:        "Idle connections in the pool",
			ConstLabels: labels,
		}),
		waitCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name:        "harvester_db_wait_count",
			Help:        "Total connections waited for",
			ConstLabels: labels,
		}),
	}
}

// UpdateDBStats refreshes the gauges from the pool's current stats
func (m *DatabaseMetrics) UpdateDBStats(db *sql.DB) {
	if db == nil {
		return
	}
	stats := db.Stats()
	m.openConnections.Set(float64(stats.OpenConnections))
	m.inUse.Set(float64(stats.InUse))
	m.idle.Set(float64(stats.Idle))
	m.waitCount.Set(float64(stats.WaitCount))
}
