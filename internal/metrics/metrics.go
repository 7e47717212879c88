// ABOUTME: Prometheus collectors for the dispatch scheduler.
// ABOUTME: Queue depth, active conversations, assignment and closure counters.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the dispatcher updates.
type Metrics struct {
	QueueDepth          prometheus.Gauge
	ActiveConversations prometheus.Gauge
	AssignmentsTotal    *prometheus.CounterVec
	ClosuresTotal       *prometheus.CounterVec
	QueuedTotal         *prometheus.CounterVec
	InboundMessages     prometheus.Counter
	LookupFailures      prometheus.Counter
}

// New registers and returns the dispatcher metrics on the given registerer.
// Passing nil uses the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dispatch_queue_depth",
			Help: "Current number of conversations waiting for an agent",
		}),
		ActiveConversations: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dispatch_active_conversations",
			Help: "Conversations currently assigned to an agent",
		}),
		AssignmentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_assignments_total",
			Help: "Total conversations assigned to agents",
		}, []string{"agent"}),
		ClosuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_closures_total",
			Help: "Total conversations closed",
		}, []string{"reason"}),
		QueuedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_queued_total",
			Help: "Total conversations parked on the pending queue",
		}, []string{"reason"}),
		InboundMessages: factory.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_inbound_messages_total",
			Help: "Total inbound customer messages processed",
		}),
		LookupFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_lookup_failures_total",
			Help: "Total delivery-eligibility lookup failures",
		}),
	}
}
