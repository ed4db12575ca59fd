package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the matching engine.
type Metrics struct {
	RankingsComputed  prometheus.Counter
	RankingFailures   prometheus.Counter
	RankingDuration   prometheus.Histogram
	DonationsVerified prometheus.Counter
	MatchesCreated    prometheus.Counter
	MatchesApproved   prometheus.Counter
	MatchesRejected   prometheus.Counter
	ApprovalConflicts prometheus.Counter
	HTTPDuration      *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers against the given registerer so test suites can use a
// private registry and avoid duplicate-registration panics.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RankingsComputed: factory.NewCounter(prometheus.CounterOpts{
			Name: "organlink_rankings_computed_total",
			Help: "Total number of candidate rankings computed",
		}),
		RankingFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "organlink_ranking_failures_total",
			Help: "Total number of ranking runs that failed before a score was persisted",
		}),
		RankingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "organlink_ranking_duration_seconds",
			Help:    "Time spent computing one candidate ranking",
			Buckets: prometheus.DefBuckets,
		}),
		DonationsVerified: factory.NewCounter(prometheus.CounterOpts{
			Name: "organlink_donations_verified_total",
			Help: "Total number of donor submissions verified by an admin",
		}),
		MatchesCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "organlink_matches_created_total",
			Help: "Total number of pending matches created",
		}),
		MatchesApproved: factory.NewCounter(prometheus.CounterOpts{
			Name: "organlink_matches_approved_total",
			Help: "Total number of matches approved",
		}),
		MatchesRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "organlink_matches_rejected_total",
			Help: "Total number of matches rejected, including auto-invalidations",
		}),
		ApprovalConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "organlink_approval_conflicts_total",
			Help: "Total number of approvals refused because the donor already had an approved match",
		}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "organlink_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}
