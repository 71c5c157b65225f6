package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"duoescrow/core/events"
)

type eventMetrics struct {
	emitted   *prometheus.CounterVec
	transfers *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking emitted ledger events. The
// registry doubles as an events.Emitter so it can sit in an emitter fan-out.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of emitted ledger events segmented by type.",
			}, []string{"type"}),
			transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "escrow",
				Subsystem: "events",
				Name:      "transfers_total",
				Help:      "Count of vault transfers segmented by reason.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(eventRegistry.emitted, eventRegistry.transfers)
	})
	return eventRegistry
}

// Emit implements events.Emitter.
func (m *eventMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	eventType := strings.TrimSpace(evt.EventType())
	if eventType == "" {
		eventType = "unknown"
	}
	m.emitted.WithLabelValues(eventType).Inc()
	if transfer, ok := evt.(events.Transfer); ok {
		m.RecordTransfer(transfer.Reason)
	}
}

// RecordTransfer increments the transfer counter for the supplied reason.
func (m *eventMetrics) RecordTransfer(reason string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToLower(reason))
	if normalized == "" {
		normalized = "unknown"
	}
	m.transfers.WithLabelValues(normalized).Inc()
}
