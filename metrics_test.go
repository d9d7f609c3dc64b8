package authcore

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMetricsCounters(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		apply   func(m *Metrics)
		id      MetricID
		want    uint64
	}{
		{name: "disabled drops increments", apply: func(m *Metrics) { m.Inc(MetricLoginSuccess) }, id: MetricLoginSuccess},
		{name: "inc", enabled: true, apply: func(m *Metrics) {
			m.Inc(MetricLoginSuccess)
			m.Inc(MetricLoginSuccess)
		}, id: MetricLoginSuccess, want: 2},
		{name: "add batches", enabled: true, apply: func(m *Metrics) { m.Add(MetricCleanupDeleted, 17) }, id: MetricCleanupDeleted, want: 17},
		{name: "out of range id", enabled: true, apply: func(m *Metrics) { m.Inc(MetricID(MetricIDCount + 3)) }, id: MetricID(MetricIDCount + 3)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMetrics(MetricsConfig{Enabled: tc.enabled})
			tc.apply(m)
			if got := m.Value(tc.id); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const workers, perWorker = 16, 2500
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				m.Inc(MetricRefreshReuseDetected)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(MetricRefreshReuseDetected); got != workers*perWorker {
		t.Fatalf("expected %d, got %d", workers*perWorker, got)
	}
}

func TestMetricsHistogramBuckets(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})

	// One sample per bucket, each on the upper edge except the overflow.
	for _, ms := range []int{5, 10, 25, 50, 100, 250, 500, 2000} {
		m.Observe(MetricRefreshLatency, time.Duration(ms)*time.Millisecond)
	}
	m.Observe(MetricLoginLatency, 11*time.Millisecond)

	snap := m.Snapshot()
	refresh := snap.Histograms[MetricRefreshLatency]
	if len(refresh) != HistogramBucketCount {
		t.Fatalf("expected %d buckets, got %d", HistogramBucketCount, len(refresh))
	}
	for i, v := range refresh {
		if v != 1 {
			t.Fatalf("refresh bucket %d: expected 1, got %d", i, v)
		}
	}
	if login := snap.Histograms[MetricLoginLatency]; login[2] != 1 || login[1] != 0 {
		t.Fatalf("11ms landed in the wrong bucket: %v", login)
	}
}

func TestMetricsHistogramsDisabled(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Observe(MetricLoginLatency, time.Millisecond)

	snap := m.Snapshot()
	if len(snap.Histograms) != 0 {
		t.Fatalf("histograms reported while disabled: %v", snap.Histograms)
	}
	if _, ok := snap.Counters[MetricLoginSuccess]; !ok {
		t.Fatal("counters missing from snapshot")
	}
}

func TestMetricsIgnoreObserveOnCounters(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	m.Observe(MetricLoginSuccess, time.Millisecond)
	if _, ok := m.Snapshot().Histograms[MetricLoginSuccess]; ok {
		t.Fatalf("counter exposed as histogram")
	}
	if _, ok := m.Snapshot().Counters[MetricRefreshLatency]; ok {
		t.Fatalf("latency metric exposed as counter")
	}
}

func TestEngineMetricsTrackFlows(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	pair := h.login(t)
	_, _ = h.engine.Login(ctx, testEmail, "wrong")
	if _, err := h.engine.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	snap := h.engine.MetricsSnapshot()
	if snap.Counters[MetricLoginSuccess] != 1 || snap.Counters[MetricLoginFailure] != 1 {
		t.Fatalf("login counters: %v", snap.Counters)
	}
	if snap.Counters[MetricRefreshSuccess] != 1 || snap.Counters[MetricSessionCreated] != 1 {
		t.Fatalf("refresh counters: %v", snap.Counters)
	}
}
