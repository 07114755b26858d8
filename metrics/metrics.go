// Package metrics exports store operations as Prometheus metrics.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jacentio/arbor/store"
)

// Metrics implements store.Observer.
type Metrics struct {
	operations *prometheus.CounterVec
	records    *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arbor",
			Name:      "operations_total",
			Help:      "Record operations by table, operation and outcome.",
		}, []string{"table", "op", "outcome"}),
		records: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "arbor",
			Name:      "records",
			Help:      "Live records per table.",
		}, []string{"table"}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.records)
	}
	return m
}

// Operations returns the operation counter, labelled by table, op and outcome.
func (m *Metrics) Operations() *prometheus.CounterVec { return m.operations }

// Records returns the live record gauge, labelled by table.
func (m *Metrics) Records() *prometheus.GaugeVec { return m.records }

// Observe records e.
func (m *Metrics) Observe(e store.Event) {
	m.operations.WithLabelValues(e.Table, string(e.Op), Outcome(e.Err)).Inc()
	if e.Err != nil {
		return
	}
	switch e.Op {
	case store.OpCreate:
		m.records.WithLabelValues(e.Table).Inc()
	case store.OpDelete:
		m.records.WithLabelValues(e.Table).Dec()
	}
}

// Outcome names the class of err for the outcome label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, store.ErrNotUnique):
		return "not_unique"
	case errors.Is(err, store.ErrValidation):
		return "invalid"
	case errors.Is(err, store.ErrReadOnly):
		return "read_only"
	case errors.Is(err, store.ErrUnknownField):
		return "unknown_field"
	case errors.Is(err, store.ErrDeleteForbidden):
		return "forbidden"
	case errors.Is(err, store.ErrUnhashable):
		return "unhashable"
	case errors.Is(err, store.ErrDeleted):
		return "deleted"
	default:
		return "error"
	}
}
