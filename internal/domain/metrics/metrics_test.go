package metrics

import (
	"testing"
	"time"
)

func TestIncrementCounter(t *testing.T) {
	c := New()
	c.Increment("test.counter", nil)
	c.IncrementBy("test.counter", 5, nil)

	snap := c.Snapshot()
	if got := snap.Counters["test.counter"]; got != 6 {
		t.Fatalf("counter = %d, want 6", got)
	}
}

func TestIncrementCounterWithTags(t *testing.T) {
	c := New()
	c.Increment("test.counter", map[string]string{"env": "test"})

	snap := c.Snapshot()
	if got := snap.Counters["test.counter[env=test]"]; got != 1 {
		t.Fatalf("tagged counter = %d, want 1", got)
	}
}

func TestIncrementCounterTagOrderIsStable(t *testing.T) {
	c := New()
	c.Increment("x", map[string]string{"b": "2", "a": "1"})

	snap := c.Snapshot()
	if got := snap.Counters["x[a=1,b=2]"]; got != 1 {
		t.Fatalf("expected sorted-tag key, got counters=%v", snap.Counters)
	}
}

func TestSetGauge(t *testing.T) {
	c := New()
	c.SetGauge("test.gauge", 42.5, nil)

	snap := c.Snapshot()
	if got := snap.Gauges["test.gauge"]; got != 42.5 {
		t.Fatalf("gauge = %v, want 42.5", got)
	}
}

func TestRecordTiming(t *testing.T) {
	c := New()
	c.RecordTiming("test.timing", 100*time.Millisecond, nil)

	stats := c.Snapshot().Timings["test.timing"]
	if stats.Count != 1 {
		t.Fatalf("count = %d, want 1", stats.Count)
	}
	if stats.Min != 100 || stats.Max != 100 || stats.Avg != 100 {
		t.Fatalf("stats = %+v, want min=max=avg=100", stats)
	}
}

func TestTimingStatsMultipleSamples(t *testing.T) {
	c := New()
	for _, ms := range []int{10, 20, 30, 40, 50} {
		c.RecordTiming("test.timing", time.Duration(ms)*time.Millisecond, nil)
	}

	stats := c.Snapshot().Timings["test.timing"]
	if stats.Count != 5 {
		t.Fatalf("count = %d, want 5", stats.Count)
	}
	if stats.Min != 10 {
		t.Fatalf("min = %v, want 10", stats.Min)
	}
	if stats.Max != 50 {
		t.Fatalf("max = %v, want 50", stats.Max)
	}
	if stats.Avg != 30 {
		t.Fatalf("avg = %v, want 30", stats.Avg)
	}
	if stats.P50 != 30 {
		t.Fatalf("p50 = %v, want 30", stats.P50)
	}
}

func TestRecordTimingEvictsOldestBeyondWindow(t *testing.T) {
	c := New()
	c.windowSize = 3
	for _, ms := range []int{1, 2, 3, 4} {
		c.RecordTiming("t", time.Duration(ms)*time.Millisecond, nil)
	}

	stats := c.Snapshot().Timings["t"]
	if stats.Count != 3 {
		t.Fatalf("count = %d, want 3 (window evicted the oldest sample)", stats.Count)
	}
	if stats.Min != 2 {
		t.Fatalf("min = %v, want 2 (sample 1 should have been evicted)", stats.Min)
	}
}

func TestSnapshotIncludesAllMetricKinds(t *testing.T) {
	c := New()
	c.Increment("counter1", nil)
	c.SetGauge("gauge1", 10.0, nil)
	c.RecordTiming("timing1", 100*time.Millisecond, nil)

	snap := c.Snapshot()
	if snap.Counters["counter1"] != 1 {
		t.Fatalf("counters missing counter1: %v", snap.Counters)
	}
	if snap.Gauges["gauge1"] != 10.0 {
		t.Fatalf("gauges missing gauge1: %v", snap.Gauges)
	}
	if _, ok := snap.Timings["timing1"]; !ok {
		t.Fatalf("timings missing timing1: %v", snap.Timings)
	}
}

func TestReset(t *testing.T) {
	c := New()
	c.Increment("test.counter", nil)
	c.SetGauge("test.gauge", 10.0, nil)

	c.Reset()

	snap := c.Snapshot()
	if got := snap.Counters["test.counter"]; got != 0 {
		t.Fatalf("counter after reset = %d, want 0", got)
	}
	if _, ok := snap.Gauges["test.gauge"]; ok {
		t.Fatalf("gauge survived reset: %v", snap.Gauges)
	}
}

func TestStartTimingRecordsElapsed(t *testing.T) {
	c := New()
	stop := c.StartTiming("test.timing", map[string]string{"test": "true"})
	time.Sleep(5 * time.Millisecond)
	stop()

	stats := c.Snapshot().Timings["test.timing[test=true]"]
	if stats.Count == 0 {
		t.Fatalf("expected a recorded sample, got %+v", stats)
	}
	if stats.Avg <= 0 {
		t.Fatalf("avg = %v, want > 0", stats.Avg)
	}
}

func TestNilCollectorIsNoOp(t *testing.T) {
	var c *Collector

	c.Increment("x", nil)
	c.IncrementBy("x", 5, nil)
	c.SetGauge("y", 1.0, nil)
	c.RecordTiming("z", time.Millisecond, nil)
	c.Reset()
	stop := c.StartTiming("w", nil)
	stop()

	snap := c.Snapshot()
	if len(snap.Counters) != 0 || len(snap.Gauges) != 0 || len(snap.Timings) != 0 {
		t.Fatalf("nil collector should produce an empty snapshot, got %+v", snap)
	}
}
