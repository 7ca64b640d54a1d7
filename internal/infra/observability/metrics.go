package observability

import (
	"time"

	"github.com/boddenberg/mutuelle-ledger/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Operation outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Metrics holds all Prometheus metrics for the ledger.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	operationDuration *prometheus.HistogramVec
	operationsTotal   *prometheus.CounterVec
	rejections        *prometheus.CounterVec
	externalErrors    *prometheus.CounterVec
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	interest          *prometheus.CounterVec
	renfoulement      prometheus.Counter
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mutuelle_operation_duration_seconds",
				Help:    "Duration of ledger operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mutuelle_operations_total",
				Help: "Ledger operations by outcome.",
			},
			[]string{"operation", "outcome"},
		),
		rejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mutuelle_rejections_total",
				Help: "Business-rule rejections by kind.",
			},
			[]string{"kind"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mutuelle_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mutuelle_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mutuelle_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		interest: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mutuelle_interest_amount_total",
				Help: "Loan interest redistributed to savers or swept to the cash reserve.",
			},
			[]string{"destination"},
		),
		renfoulement: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mutuelle_renfoulement_levied_total",
				Help: "Total renfoulement levied on members.",
			},
		),
	}
}

// RecordOperation records the duration and outcome of a ledger operation.
func (m *Metrics) RecordOperation(operation, outcome string, d time.Duration) {
	m.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
}

// IncrRejection counts a business-rule rejection.
func (m *Metrics) IncrRejection(kind string) {
	m.rejections.WithLabelValues(kind).Inc()
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// AddInterest records redistributed interest and the remainder swept to
// the reserve.
func (m *Metrics) AddInterest(distributed, toReserve float64) {
	m.interest.WithLabelValues("members").Add(distributed)
	m.interest.WithLabelValues("reserve").Add(toReserve)
}

// AddRenfoulement records a levy applied to members.
func (m *Metrics) AddRenfoulement(amount float64) {
	m.renfoulement.Add(amount)
}

// Snapshot returns cumulative ledger metrics for GET /v1/admin/stats.
func (m *Metrics) Snapshot() *domain.LedgerStats {
	stats := &domain.LedgerStats{RejectionsByKind: make(map[string]float64)}

	families, err := m.Registry.Gather()
	if err != nil {
		return stats
	}
	for _, mf := range families {
		switch mf.GetName() {
		case "mutuelle_operations_total":
			for _, metric := range mf.GetMetric() {
				v := metric.GetCounter().GetValue()
				switch labelValue(metric, "outcome") {
				case OutcomeSuccess:
					stats.OperationsSucceeded += v
				case OutcomeRejected:
					stats.OperationsRejected += v
				case OutcomeError:
					stats.OperationsFailed += v
				}
			}
		case "mutuelle_rejections_total":
			for _, metric := range mf.GetMetric() {
				stats.RejectionsByKind[labelValue(metric, "kind")] += metric.GetCounter().GetValue()
			}
		case "mutuelle_external_errors_total":
			for _, metric := range mf.GetMetric() {
				stats.ExternalErrors += metric.GetCounter().GetValue()
			}
		}
	}

	stats.InterestDistributed = getCounterValue(m.interest, "members")
	stats.InterestToReserve = getCounterValue(m.interest, "reserve")
	stats.RenfoulementLevied = counterValue(m.renfoulement)

	hits := getCounterValue(m.cacheHits, "period")
	misses := getCounterValue(m.cacheMisses, "period")
	if hits+misses > 0 {
		stats.PeriodCacheHitRate = hits / (hits + misses)
	}
	return stats
}

func labelValue(metric *dto.Metric, name string) string {
	for _, lp := range metric.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	return counterValue(cv.WithLabelValues(label))
}

func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
