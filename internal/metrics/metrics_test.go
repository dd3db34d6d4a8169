package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.IncrementOutcome("accepted", "")
	m.ObserveRecognitionLatency(time.Second)
	m.ObserveEmbeddingLatency("recognize", time.Second)
	m.ObserveMatchScore(0.5)
	m.IncrementUnlogged()
	m.IncrementEnrollment("ok")
	m.SetGalleryTemplates(3)
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("reading metrics: %v", err)
	}
	return string(body)
}

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg, reg)

	m.IncrementOutcome("rejected", "below_threshold")
	m.IncrementOutcome("rejected", "below_threshold")
	m.IncrementUnlogged()
	m.SetGalleryTemplates(7)

	body := scrape(t, m)
	for _, want := range []string{
		`facegate_recognition_outcomes_total{outcome="rejected",reason="below_threshold"} 2`,
		"facegate_unlogged_attempts_total 1",
		"facegate_gallery_templates 7",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in exposition, got:\n%s", want, body)
		}
	}
}

func TestNewIncludesRuntimeCollectors(t *testing.T) {
	body := scrape(t, New())
	if !strings.Contains(body, "go_goroutines") {
		t.Error("expected Go runtime metrics in exposition")
	}
}
