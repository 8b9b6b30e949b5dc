package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "auction_engine"

// Collector holds the engine's Prometheus collectors. A nil Collector is a no-op.
type Collector struct {
	bidsAccepted   prometheus.Counter
	bidsRejected   *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	jobsProcessed  *prometheus.CounterVec
	jobsFailed     *prometheus.CounterVec
	settlements    *prometheus.CounterVec
	gatewayLatency *prometheus.HistogramVec
}

// NewCollector creates the collectors and registers them on reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		bidsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bids_accepted_total",
			Help:      "Bids committed to the ledger.",
		}),
		bidsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bids_rejected_total",
			Help:      "Bids rejected, by reason.",
		}, []string{"reason"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auction_transitions_total",
			Help:      "Lifecycle transitions, by target status.",
		}, []string{"to"}),
		jobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_jobs_processed_total",
			Help:      "Scheduler job runs, by type and outcome.",
		}, []string{"type", "outcome"}),
		jobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_jobs_failed_total",
			Help:      "Jobs that exhausted their retry budget.",
		}, []string{"type"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settlement attempts, by payment status.",
		}, []string{"result"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payment_gateway_seconds",
			Help:      "Payment gateway call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	reg.MustRegister(
		c.bidsAccepted,
		c.bidsRejected,
		c.transitions,
		c.jobsProcessed,
		c.jobsFailed,
		c.settlements,
		c.gatewayLatency,
	)

	return c
}

func (c *Collector) BidAccepted() {
	if c == nil {
		return
	}
	c.bidsAccepted.Inc()
}

func (c *Collector) BidRejected(reason string) {
	if c == nil {
		return
	}
	c.bidsRejected.WithLabelValues(reason).Inc()
}

func (c *Collector) Transition(to string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(to).Inc()
}

func (c *Collector) JobProcessed(jobType, outcome string) {
	if c == nil {
		return
	}
	c.jobsProcessed.WithLabelValues(jobType, outcome).Inc()
}

func (c *Collector) JobFailed(jobType string) {
	if c == nil {
		return
	}
	c.jobsFailed.WithLabelValues(jobType).Inc()
}

func (c *Collector) Settlement(result string) {
	if c == nil {
		return
	}
	c.settlements.WithLabelValues(result).Inc()
}

// ObserveGateway records the latency of a gateway call started at start
func (c *Collector) ObserveGateway(operation string, start time.Time) {
	if c == nil {
		return
	}
	c.gatewayLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
