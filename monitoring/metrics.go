package monitoring

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	purchaseRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchase_requests_total",
			Help: "Purchase requests by outcome",
		},
		[]string{"event_id", "outcome"},
	)

	capacityAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "capacity_available",
			Help: "Current available capacity per event",
		},
		[]string{"event_id"},
	)

	reconciliations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_reconciliations_total",
			Help: "Payment notifications applied by source and result",
		},
		[]string{"provider", "result"},
	)

	ticketsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tickets_issued_total",
			Help: "Tickets issued per event",
		},
		[]string{"event_id"},
	)

	lockWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "capacity_lock_wait_seconds",
			Help:    "Time spent waiting for the per-event capacity lock",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"event_id"},
	)

	issuanceQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "issuance_queue_depth",
			Help: "Jobs waiting in the ticket issuance queue",
		},
	)
)

// Monitor is a thin facade over the metric set so services do not touch
// prometheus directly.
type Monitor struct{}

func NewMonitor() *Monitor {
	return &Monitor{}
}

// ServeMetrics exposes /metrics on its own port. Blocks, so run it in a
// goroutine.
func ServeMetrics(port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		log.Printf("monitoring: metrics server: %v", err)
	}
}

func (m *Monitor) TrackPurchase(eventID, outcome string) {
	purchaseRequests.WithLabelValues(eventID, outcome).Inc()
}

func (m *Monitor) SetCapacityAvailable(eventID string, available int) {
	capacityAvailable.WithLabelValues(eventID).Set(float64(available))
}

func (m *Monitor) TrackReconciliation(provider, result string) {
	reconciliations.WithLabelValues(provider, result).Inc()
}

func (m *Monitor) TrackTicketsIssued(eventID string, count int) {
	ticketsIssued.WithLabelValues(eventID).Add(float64(count))
}

func (m *Monitor) TrackLockWait(eventID string, waited time.Duration) {
	lockWaitDuration.WithLabelValues(eventID).Observe(waited.Seconds())
}

func (m *Monitor) SetIssuanceQueueDepth(depth int) {
	issuanceQueueDepth.Set(float64(depth))
}
