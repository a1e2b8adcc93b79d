package observe

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestTranscriptCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTranscript(ctx, "candidate", true)
	m.RecordTranscript(ctx, "candidate", true)
	m.RecordTranscript(ctx, "recruiter", false)

	rm := collect(t, reader)
	found := findMetric(rm, "crosstalk.transcripts")
	if found == nil {
		t.Fatal("crosstalk.transcripts not found")
	}

	sum, ok := found.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", found.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 3 {
		t.Errorf("transcript total = %d, want 3", total)
	}
}

func TestWindowCounterByTrigger(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordWindow(ctx, "time_limit")
	m.RecordWindow(ctx, "speaker_turn")
	m.RecordWindow(ctx, "speaker_turn")

	rm := collect(t, reader)
	found := findMetric(rm, "crosstalk.windows")
	if found == nil {
		t.Fatal("crosstalk.windows not found")
	}

	sum, ok := found.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", found.Data)
	}
	if len(sum.DataPoints) != 2 {
		t.Errorf("data points = %d, want 2 (one per trigger)", len(sum.DataPoints))
	}
}

func TestEvaluationHistogram(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.EvaluationDuration.Record(ctx, 0.8)
	m.EvaluationDuration.Record(ctx, 1.3)

	rm := collect(t, reader)
	found := findMetric(rm, "crosstalk.evaluation.duration")
	if found == nil {
		t.Fatal("crosstalk.evaluation.duration not found")
	}

	hist, ok := found.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("unexpected data type %T", found.Data)
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 2 {
		t.Errorf("histogram observations = %+v, want 2 in one series", hist.DataPoints)
	}
}

func TestBreakerOpenCounterByName(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordBreakerOpen(ctx, "stt-interviewer-1")
	m.RecordBreakerOpen(ctx, "stt-interviewer-1")
	m.RecordBreakerOpen(ctx, "stt-candidate-1")

	rm := collect(t, reader)
	found := findMetric(rm, "crosstalk.breaker.opens")
	if found == nil {
		t.Fatal("crosstalk.breaker.opens not found")
	}

	sum, ok := found.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", found.Data)
	}
	if len(sum.DataPoints) != 2 {
		t.Errorf("data points = %d, want 2 (one per breaker)", len(sum.DataPoints))
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	if total != 3 {
		t.Errorf("breaker opens total = %d, want 3", total)
	}
}

func TestActiveSpeakersGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSpeakers.Add(ctx, 2)
	m.ActiveSpeakers.Add(ctx, -1)

	rm := collect(t, reader)
	found := findMetric(rm, "crosstalk.active_speakers")
	if found == nil {
		t.Fatal("crosstalk.active_speakers not found")
	}

	sum, ok := found.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type %T", found.Data)
	}
	if len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 1 {
		t.Errorf("active speakers = %+v, want 1", sum.DataPoints)
	}
}

func TestDefaultMetricsSingleton(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different instances")
	}
}
