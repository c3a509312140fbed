package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SearchesTotal   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool", Name: "searches_total", Help: "Total ride searches served"})
	MatchesReturned = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "carpool", Name: "matches_returned", Help: "Matches returned per search", Buckets: []float64{0, 1, 2, 5, 10, 20}})

	WaitlistJoins      = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool", Name: "waitlist_joins_total", Help: "Total wait-list joins"})
	WaitlistPromotions = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool", Name: "waitlist_promotions_total", Help: "Total wait-list promotions on freed seats"})

	ExperimentAssignments = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carpool", Name: "experiment_assignments_total", Help: "Experiment assignments by experiment and variant"},
		[]string{"experiment", "variant"},
	)

	TrackingUpdates     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "carpool", Name: "tracking_updates_total", Help: "Live tracking state updates published"})
	TrackingSubscribers = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "carpool", Name: "tracking_subscribers", Help: "Currently registered tracking subscribers"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "carpool", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "carpool",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
