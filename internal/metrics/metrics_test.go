package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gatherFamily(t *testing.T, name string) *dto.MetricFamily {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric family %s not registered", name)
	return nil
}

func TestCacheLookups_Registered(t *testing.T) {
	CacheLookups.WithLabelValues("hit").Inc()

	mf := gatherFamily(t, "gistgw_cache_lookups_total")
	if mf.GetType() != dto.MetricType_COUNTER {
		t.Errorf("type = %v, want counter", mf.GetType())
	}

	var hit *dto.Metric
	for _, m := range mf.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetName() == "result" && l.GetValue() == "hit" {
				hit = m
			}
		}
	}
	if hit == nil {
		t.Fatal("expected a series labelled result=hit")
	}
	if hit.GetCounter().GetValue() < 1 {
		t.Errorf("counter = %v, want >= 1", hit.GetCounter().GetValue())
	}
}

func TestUpstreamRateLimitRemaining_Gauge(t *testing.T) {
	UpstreamRateLimitRemaining.Set(4999)

	mf := gatherFamily(t, "gistgw_upstream_rate_limit_remaining")
	if mf.GetType() != dto.MetricType_GAUGE {
		t.Errorf("type = %v, want gauge", mf.GetType())
	}
	if got := mf.GetMetric()[0].GetGauge().GetValue(); got != 4999 {
		t.Errorf("gauge = %v, want 4999", got)
	}
}
