package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escaperoom_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "escaperoom_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HoldsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escaperoom_holds_created_total",
			Help: "Total number of holds registered",
		},
		[]string{"kind"},
	)

	HoldsEvictedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "escaperoom_holds_evicted_total",
			Help: "Total number of holds invalidated by an overlapping hold",
		},
	)

	HoldsReleasedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escaperoom_holds_released_total",
			Help: "Total number of holds released without payment",
		},
		[]string{"reason"},
	)

	ActiveHolds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "escaperoom_active_holds",
			Help: "Current number of live holds",
		},
	)

	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escaperoom_webhooks_total",
			Help: "Total number of provider callbacks by outcome",
		},
		[]string{"provider", "outcome"},
	)

	BookingsFinalizedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escaperoom_bookings_finalized_total",
			Help: "Total number of bookings confirmed by payment",
		},
		[]string{"provider"},
	)

	GiftCardDebitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "escaperoom_gift_card_debited_sek_total",
			Help: "Total gift card balance consumed in SEK",
		},
	)

	LedgerViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escaperoom_ledger_violations_total",
			Help: "Total number of clamped or rejected ledger effects",
		},
		[]string{"kind"},
	)

	DispatchJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escaperoom_dispatch_jobs_total",
			Help: "Total number of side-effect jobs by result",
		},
		[]string{"job", "status"},
	)

	DispatchQueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "escaperoom_dispatch_queue_length",
			Help: "Current length of the side-effect queue",
		},
	)

	SweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "escaperoom_sweeps_total",
			Help: "Total number of sweeper ticks",
		},
	)
)

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

func RecordHoldCreated(kind string) {
	HoldsCreatedTotal.WithLabelValues(kind).Inc()
}

func RecordHoldEvicted() {
	HoldsEvictedTotal.Inc()
}

func RecordHoldReleased(reason string) {
	HoldsReleasedTotal.WithLabelValues(reason).Inc()
}

func SetActiveHolds(n int) {
	ActiveHolds.Set(float64(n))
}

func RecordWebhook(provider, outcome string) {
	WebhooksTotal.WithLabelValues(provider, outcome).Inc()
}

func RecordBookingFinalized(provider string) {
	BookingsFinalizedTotal.WithLabelValues(provider).Inc()
}

func RecordGiftCardDebit(amount int64) {
	if amount > 0 {
		GiftCardDebitedTotal.Add(float64(amount))
	}
}

func RecordLedgerViolation(kind string) {
	LedgerViolationsTotal.WithLabelValues(kind).Inc()
}

func RecordDispatch(job, status string) {
	DispatchJobsTotal.WithLabelValues(job, status).Inc()
}

func RecordSweep() {
	SweepsTotal.Inc()
}
