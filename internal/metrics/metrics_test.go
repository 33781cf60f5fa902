package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCollectorsRegistered(t *testing.T) {
	for name, c := range map[string]prometheus.Collector{
		"entries":   EntriesIngested,
		"failures":  EmbedFailures,
		"syntheses": Syntheses,
		"alerts":    Alerts,
		"outputs":   OutputErrors,
		"http":      HTTPRequests,
	} {
		if err := prometheus.Register(c); err == nil {
			t.Errorf("%s: collector was not registered in init", name)
		}
	}
}

// counterValue sums every series of the named family in the default registry.
func counterValue(t *testing.T, family string) float64 {
	t.Helper()
	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var sum float64
	for _, mf := range mfs {
		if mf.GetName() != family {
			continue
		}
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
	}
	return sum
}

func TestSynthesesCounter(t *testing.T) {
	before := counterValue(t, "watchdog_syntheses_total")
	Syntheses.WithLabelValues("degraded").Inc()
	if got := counterValue(t, "watchdog_syntheses_total"); got != before+1 {
		t.Errorf("syntheses_total = %v, want %v", got, before+1)
	}
}

func TestObserve(t *testing.T) {
	Observe("embed", time.Now().Add(-10*time.Millisecond))
	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == "watchdog_capability_seconds" {
			for _, m := range mf.GetMetric() {
				if m.GetHistogram().GetSampleCount() > 0 {
					return
				}
			}
		}
	}
	t.Error("no latency sample recorded")
}
