package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for RequestsTotal.
const (
	OutcomeDelivered   = "delivered"
	OutcomeUndelivered = "undelivered"
	OutcomeFailed      = "failed"
	OutcomeEmptyQuery  = "empty_query"
	OutcomeRateLimit   = "rate_limited"
	OutcomeHelp        = "help"
)

// Delivery stages for DeliveryFailures.
const (
	StageFirst    = "first"
	StageFollowUp = "follow_up"
	StageDefer    = "defer"
	StageError    = "error"
)

var (
	// RequestsTotal counts handled triggers by origin (command|message) and
	// terminal outcome.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askgw_requests_total",
			Help: "Ask requests by origin and terminal outcome.",
		},
		[]string{"origin", "outcome"},
	)

	// ProviderDuration is the wall time of the provider call.
	ProviderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askgw_provider_duration_seconds",
			Help:    "Duration of generative provider calls in seconds.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"outcome"},
	)

	// DeliveryFailures counts outbound sends that failed, by stage.
	DeliveryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askgw_delivery_failures_total",
			Help: "Failed outbound chat platform sends by stage.",
		},
		[]string{"stage"},
	)

	// ImagesTotal counts extracted images: "binary" or "url".
	ImagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askgw_images_total",
			Help: "Images extracted from provider responses by kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(RequestsTotal, ProviderDuration, DeliveryFailures, ImagesTotal)
}

// ObserveProvider records one provider call.
func ObserveProvider(outcome string, elapsed time.Duration) {
	ProviderDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}
