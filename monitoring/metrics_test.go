package monitoring

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterAccumulatesPerSeries(t *testing.T) {
	mc := NewMetricsCollector()
	heating := map[string]string{"target": "heating", "outcome": "ok"}
	cooling := map[string]string{"outcome": "ok", "target": "cooling"}

	mc.IncrCounter("predictions_total", 1, heating)
	mc.IncrCounter("predictions_total", 1, heating)
	mc.IncrCounter("predictions_total", 1, cooling)

	assert.Equal(t, 2.0, mc.Value("predictions_total", map[string]string{"outcome": "ok", "target": "heating"}))
	assert.Equal(t, 1.0, mc.Value("predictions_total", cooling))
	assert.Equal(t, 0.0, mc.Value("predictions_total", map[string]string{"target": "none"}))
}

func TestGaugeOverwrites(t *testing.T) {
	mc := NewMetricsCollector()
	mc.SetGauge("cache_entries", 3, nil)
	mc.SetGauge("cache_entries", 1, nil)
	assert.Equal(t, 1.0, mc.Value("cache_entries", nil))

	history, err := mc.GetMetric("cache_entries")
	require.NoError(t, err)
	assert.Len(t, history, 2)

	_, err = mc.GetMetric("missing")
	assert.Error(t, err)
}

func TestHistogramSummary(t *testing.T) {
	mc := NewMetricsCollector()
	for i := 1; i <= 100; i++ {
		mc.RecordHistogram("prediction_duration_seconds", float64(i), map[string]string{"target": "heating"})
	}

	summary, err := mc.GetMetricSummary("prediction_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 100, summary["count"])
	assert.Equal(t, 1.0, summary["min"])
	assert.Equal(t, 100.0, summary["max"])
	assert.Equal(t, 50.5, summary["average"])
	assert.Equal(t, 50.0, summary["p50"])
	assert.Equal(t, 95.0, summary["p95"])
}

func TestHistoryIsBounded(t *testing.T) {
	mc := NewMetricsCollector()
	for i := 0; i < maxHistory+1; i++ {
		mc.IncrCounter("requests", 1, nil)
	}
	history, err := mc.GetMetric("requests")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(history), maxHistory)
	assert.Equal(t, float64(maxHistory+1), mc.Value("requests", nil))
}

func TestExportPrometheus(t *testing.T) {
	mc := NewMetricsCollector()
	mc.IncrCounter("predictions_total", 2, map[string]string{"target": "heating", "outcome": "ok"})
	mc.IncrCounter("predictions_total", 1, map[string]string{"target": "cooling", "outcome": "ok"})
	mc.RecordHistogram("prediction_duration_seconds", 0.5, map[string]string{"target": "heating"})
	mc.RecordHistogram("prediction_duration_seconds", 0.25, map[string]string{"target": "heating"})

	out := mc.ExportPrometheus()
	assert.Equal(t, 1, strings.Count(out, "# TYPE predictions_total counter"))
	assert.Contains(t, out, `predictions_total{outcome="ok",target="cooling"} 1`)
	assert.Contains(t, out, `predictions_total{outcome="ok",target="heating"} 2`)
	assert.Contains(t, out, "# TYPE prediction_duration_seconds summary")
	assert.Contains(t, out, `prediction_duration_seconds_count{target="heating"} 2`)
	assert.Contains(t, out, `prediction_duration_seconds_sum{target="heating"} 0.75`)

	// Output is stable between calls.
	assert.Equal(t, out, mc.ExportPrometheus())
}

func TestExportJSON(t *testing.T) {
	mc := NewMetricsCollector()
	mc.IncrCounter("predictions_total", 1, nil)
	mc.RecordHistogram("prediction_duration_seconds", 0.1, nil)

	payload, err := mc.ExportJSON()
	require.NoError(t, err)

	var report Report
	require.NoError(t, json.Unmarshal([]byte(payload), &report))
	assert.Len(t, report.Series, 2)
	assert.Len(t, report.Summaries, 1)
	assert.NotEmpty(t, report.Uptime)
}

func TestCollectSystemMetricsStopsWithContext(t *testing.T) {
	mc := NewMetricsCollector()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		mc.CollectSystemMetrics(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return mc.Value("system_goroutines", nil) > 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("collector did not stop")
	}
}
