package monitoring

import (
	"testing"
)

func TestSummaryAggregates(t *testing.T) {
	t.Parallel()

	collector := NewCollector(100)
	for _, v := range []float64{10, 30, 20} {
		collector.Record("latency_ms", v, nil)
	}

	summary, ok := collector.Summary("latency_ms")
	if !ok {
		t.Fatalf("expected a summary for a recorded metric")
	}
	if summary.Count != 3 || summary.Min != 10 || summary.Max != 30 || summary.Avg != 20 || summary.Latest != 20 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestSummaryUnknownMetric(t *testing.T) {
	t.Parallel()

	collector := NewCollector(100)
	if _, ok := collector.Summary("ghost"); ok {
		t.Fatalf("unknown metric should have no summary")
	}
	if _, ok := collector.Latest("ghost"); ok {
		t.Fatalf("unknown metric should have no latest sample")
	}
}

func TestRingEvictsOldest(t *testing.T) {
	t.Parallel()

	collector := NewCollector(3)
	for i := 1; i <= 5; i++ {
		collector.Record("cpu", float64(i*10), nil)
	}

	summary, ok := collector.Summary("cpu")
	if !ok {
		t.Fatalf("expected a summary")
	}
	// 10 and 20 were evicted; 30, 40, 50 remain.
	if summary.Count != 3 || summary.Min != 30 || summary.Max != 50 || summary.Latest != 50 {
		t.Fatalf("eviction kept wrong samples: %+v", summary)
	}
	if summary.Avg != 40 {
		t.Fatalf("expected avg 40, got %f", summary.Avg)
	}
}

func TestLatestReflectsMostRecentSample(t *testing.T) {
	t.Parallel()

	collector := NewCollector(10)
	collector.Record("queue_depth", 5, map[string]string{"queue": "payments"})
	collector.Record("queue_depth", 9, map[string]string{"queue": "payments"})

	sample, ok := collector.Latest("queue_depth")
	if !ok || sample.Value != 9 {
		t.Fatalf("expected latest value 9, got %+v ok=%v", sample, ok)
	}
	if sample.Tags["queue"] != "payments" {
		t.Fatalf("tags not retained: %v", sample.Tags)
	}
}

func TestRecordIgnoresEmptyName(t *testing.T) {
	t.Parallel()

	collector := NewCollector(10)
	collector.Record("", 1, nil)
	if names := collector.Names(); len(names) != 0 {
		t.Fatalf("empty metric name must not create a series, got %v", names)
	}
}

func TestNamesSorted(t *testing.T) {
	t.Parallel()

	collector := NewCollector(10)
	collector.Record("zeta", 1, nil)
	collector.Record("alpha", 1, nil)
	collector.Record("mid", 1, nil)

	names := collector.Names()
	if len(names) != 3 || names[0] != "alpha" || names[1] != "mid" || names[2] != "zeta" {
		t.Fatalf("names must be sorted, got %v", names)
	}
}
