// Package slo tracks the pipeline's service level objectives as Prometheus
// gauges, updated periodically by the components that own each measurement.
package slo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SLO targets define the service level objectives for the pipeline.
const (
	// FeedAvailabilitySLO is the target share of configured feeds with a
	// closed circuit (0.95 = at most 5% of feeds broken at once).
	FeedAvailabilitySLO = 0.95

	// ClusteringLagSLO is the target worst-case seconds between an article
	// landing in the store and its clustering decision.
	ClusteringLagSLO = 60.0

	// SummarizationErrorRateSLO is the maximum acceptable share of
	// synthesis attempts that end in failure (fallbacks excluded).
	SummarizationErrorRateSLO = 0.01
)

// SLO tracking metrics. These gauges are updated periodically based on
// recent measurements to track whether the pipeline is meeting its targets.
var (
	// SLOFeedAvailability tracks the share of feeds with a closed circuit
	// (0-1), updated after every poll cycle.
	SLOFeedAvailability = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slo_feed_availability_ratio",
			Help: "Share of configured feeds with a closed circuit (0-1), target: 0.95",
		},
	)

	// SLOClusteringLag tracks the seconds between article persistence and
	// its clustering decision, observed per handled event.
	SLOClusteringLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slo_clustering_lag_seconds",
			Help: "Seconds between article ingest and clustering decision, target: 60",
		},
	)

	// SLOSummarizationErrorRate tracks the recent share of synthesis
	// attempts that failed outright (0-1).
	SLOSummarizationErrorRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slo_summarization_error_rate_ratio",
			Help: "Share of synthesis attempts that failed (0-1), target: 0.01",
		},
	)
)

// UpdateFeedAvailability updates the feed availability gauge. Called by the
// poller after each cycle with closedCircuits/totalFeeds.
func UpdateFeedAvailability(ratio float64) {
	SLOFeedAvailability.Set(ratio)
}

// UpdateClusteringLag records the most recent ingest-to-decision lag.
func UpdateClusteringLag(seconds float64) {
	SLOClusteringLag.Set(seconds)
}

// UpdateSummarizationErrorRate updates the synthesis failure share.
func UpdateSummarizationErrorRate(ratio float64) {
	SLOSummarizationErrorRate.Set(ratio)
}
