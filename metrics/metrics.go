// Package metrics exposes Prometheus instruments for validation, schema
// mutation and computed-field resolution. A nil *Metrics records nothing.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cbnsndwch/struktura/schema"
)

const namespace = "struktura"

// Metrics holds the instruments of one process.
type Metrics struct {
	validations *prometheus.CounterVec
	violations  *prometheus.CounterVec
	mutations   *prometheus.CounterVec
	resolve     *prometheus.HistogramVec
	cache       *prometheus.CounterVec
}

// New creates the instruments and registers them with reg. A nil reg
// leaves them unregistered, which is handy in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_validations_total",
			Help:      "Record validations by collection and outcome.",
		}, []string{"collection", "outcome"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_violations_total",
			Help:      "Record violations by collection and code.",
		}, []string{"collection", "code"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schema_mutations_total",
			Help:      "Schema mutations by operation and result.",
		}, []string{"operation", "result"}),
		resolve: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolve_duration_seconds",
			Help:      "Time spent resolving the computed fields of one record.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"collection"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolve_cache_total",
			Help:      "Computed-field cache lookups by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.validations, m.violations, m.mutations, m.resolve, m.cache)
	}
	return m
}

// ObserveValidation counts one record validation and its violations.
func (m *Metrics) ObserveValidation(collection string, o schema.Outcome) {
	if m == nil {
		return
	}
	outcome := "valid"
	if !o.IsValid() {
		outcome = "invalid"
	}
	m.validations.WithLabelValues(collection, outcome).Inc()
	for _, v := range o.Violations {
		m.violations.WithLabelValues(collection, string(v.Code)).Inc()
	}
}

// ObserveMutation counts one schema mutation. The result label tells the
// error classes apart.
func (m *Metrics) ObserveMutation(operation string, err error) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(operation, resultOf(err)).Inc()
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, schema.ErrInvalidDefinition):
		return "invalid"
	case errors.Is(err, schema.ErrSchemaIntegrity):
		return "integrity"
	case errors.Is(err, schema.ErrCircularComputation):
		return "circular"
	case errors.Is(err, schema.ErrCollectionNotFound),
		errors.Is(err, schema.ErrFieldNotFound),
		errors.Is(err, schema.ErrViewNotFound):
		return "not_found"
	}
	return "error"
}

// ObserveResolve records the time spent resolving one record.
func (m *Metrics) ObserveResolve(collection string, d time.Duration) {
	if m == nil {
		return
	}
	m.resolve.WithLabelValues(collection).Observe(d.Seconds())
}

// CacheHit counts a computed-field cache hit.
func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cache.WithLabelValues("hit").Inc()
}

// CacheMiss counts a computed-field cache miss.
func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cache.WithLabelValues("miss").Inc()
}
