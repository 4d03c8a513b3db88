package slo

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	io_prometheus_client "github.com/prometheus/client_model/go"
)

func TestSLOConstants(t *testing.T) {
	tests := []struct {
		name     string
		value    float64
		expected float64
	}{
		{"FeedAvailabilitySLO", FeedAvailabilitySLO, 0.95},
		{"ClusteringLagSLO", ClusteringLagSLO, 60.0},
		{"SummarizationErrorRateSLO", SummarizationErrorRateSLO, 0.01},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != tt.expected {
				t.Errorf("%s = %v, want %v", tt.name, tt.value, tt.expected)
			}
		})
	}
}

func readGauge(t *testing.T, gauge prometheus.Gauge) float64 {
	t.Helper()
	metric := &io_prometheus_client.Metric{}
	if err := gauge.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return metric.GetGauge().GetValue()
}

func TestUpdateFeedAvailability(t *testing.T) {
	SLOFeedAvailability.Set(0)

	UpdateFeedAvailability(0.98)
	if got := readGauge(t, SLOFeedAvailability); got != 0.98 {
		t.Errorf("SLOFeedAvailability = %v, want 0.98", got)
	}
}

func TestUpdateClusteringLag(t *testing.T) {
	SLOClusteringLag.Set(0)

	UpdateClusteringLag(12.5)
	if got := readGauge(t, SLOClusteringLag); got != 12.5 {
		t.Errorf("SLOClusteringLag = %v, want 12.5", got)
	}
}

func TestUpdateSummarizationErrorRate(t *testing.T) {
	SLOSummarizationErrorRate.Set(0)

	UpdateSummarizationErrorRate(0.004)
	if got := readGauge(t, SLOSummarizationErrorRate); got != 0.004 {
		t.Errorf("SLOSummarizationErrorRate = %v, want 0.004", got)
	}
}

func TestMetricsAreRegistered(t *testing.T) {
	metrics := []prometheus.Collector{
		SLOFeedAvailability,
		SLOClusteringLag,
		SLOSummarizationErrorRate,
	}

	for _, metric := range metrics {
		desc := make(chan *prometheus.Desc, 1)
		metric.Describe(desc)
		select {
		case d := <-desc:
			if d == nil {
				t.Error("metric descriptor is nil")
			}
		default:
			t.Error("no descriptor received")
		}
	}
}

func TestSLOTargetsAreReasonable(t *testing.T) {
	if FeedAvailabilitySLO < 0.9 || FeedAvailabilitySLO > 1.0 {
		t.Errorf("FeedAvailabilitySLO = %v, should be between 0.9 and 1.0", FeedAvailabilitySLO)
	}
	if ClusteringLagSLO <= 0 || ClusteringLagSLO > 300 {
		t.Errorf("ClusteringLagSLO = %v, should be between 0 and 300 seconds", ClusteringLagSLO)
	}
	if SummarizationErrorRateSLO < 0 || SummarizationErrorRateSLO > 0.05 {
		t.Errorf("SummarizationErrorRateSLO = %v, should be between 0 and 0.05", SummarizationErrorRateSLO)
	}
}
