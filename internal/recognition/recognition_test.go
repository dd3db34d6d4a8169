package recognition

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kozaktomas/face-gate/internal/audit"
	"github.com/kozaktomas/face-gate/internal/database"
	dbmock "github.com/kozaktomas/face-gate/internal/database/mock"
	"github.com/kozaktomas/face-gate/internal/decision"
	"github.com/kozaktomas/face-gate/internal/embedding"
	embmock "github.com/kozaktomas/face-gate/internal/embedding/mock"
	"github.com/kozaktomas/face-gate/internal/facegate"
	"github.com/kozaktomas/face-gate/internal/gallery"
	"github.com/kozaktomas/face-gate/internal/matcher"
	"github.com/kozaktomas/face-gate/internal/metrics"
)

// unitAt returns a 2D unit vector with cosine similarity sim to (1, 0).
func unitAt(sim float64) []float32 {
	return []float32{float32(sim), float32(math.Sqrt(1 - sim*sim))}
}

var probeFace = embedding.Face{Embedding: []float32{1, 0}, BBox: []float64{0, 0, 50, 50}, DetScore: 0.9}

type fixture struct {
	orch     *Orchestrator
	provider *embmock.MockProvider
	store    *gallery.Store
	log      *dbmock.MockAttemptLog
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T, policy decision.Policy) *fixture {
	t.Helper()
	return newFixtureWithMatcher(t, policy, matcher.Linear{})
}

// newFixtureWithMatcher wires m the way the server does: an HNSW matcher
// refreshes its graph whenever the gallery publishes a snapshot.
func newFixtureWithMatcher(t *testing.T, policy decision.Policy, mt matcher.Matcher) *fixture {
	t.Helper()
	provider := embmock.NewMockProvider()
	var opts gallery.Options
	if h, ok := mt.(*matcher.HNSW); ok {
		opts.OnPublish = h.Refresh
		t.Cleanup(h.Wait)
	}
	store := gallery.NewStore(nil, opts)
	log := dbmock.NewMockAttemptLog()
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg, reg)

	orch := NewOrchestrator(Config{
		Provider:         provider,
		Gallery:          store,
		Matcher:          mt,
		Policy:           policy,
		Audit:            audit.NewLogger(log, store),
		Metrics:          m,
		EmbeddingTimeout: time.Second,
	})
	return &fixture{orch: orch, provider: provider, store: store, log: log, metrics: m}
}

func (f *fixture) enroll(t *testing.T, id string, emb []float32) {
	t.Helper()
	if _, err := f.store.Put(context.Background(), id, emb, ""); err != nil {
		t.Fatalf("Put %s failed: %v", id, err)
	}
}

func (f *fixture) scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	f.metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func (f *fixture) onlyAttempt(t *testing.T) database.RecognitionAttempt {
	t.Helper()
	attempts := f.log.Attempts()
	if len(attempts) != 1 {
		t.Fatalf("expected exactly one attempt, got %d", len(attempts))
	}
	return attempts[0]
}

func TestRecognize_AcceptsBestMatch(t *testing.T) {
	f := newFixture(t, decision.Policy{Threshold: 0.80})
	f.enroll(t, "S1", unitAt(0.93))
	f.enroll(t, "S2", unitAt(0.40))
	f.provider.SetFaces([]byte("probe"), probeFace)

	out, err := f.orch.Recognize(context.Background(), Request{Image: []byte("probe"), ImageRef: "cam-1/0001.jpg"})
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if !out.Accepted() || out.IdentityID != "S1" {
		t.Fatalf("expected accepted S1, got %+v", out)
	}
	if math.Abs(out.Score-0.93) > 1e-6 {
		t.Errorf("expected score 0.93, got %v", out.Score)
	}
	if out.State != StateAccepted {
		t.Errorf("expected state %s, got %s", StateAccepted, out.State)
	}

	a := f.onlyAttempt(t)
	if a.ID != out.AttemptID || !a.Accepted || a.IdentityID != "S1" || a.ProbeImageRef != "cam-1/0001.jpg" {
		t.Errorf("attempt does not match outcome: %+v", a)
	}
}

func TestRecognize_RejectsBelowThreshold(t *testing.T) {
	f := newFixture(t, decision.Policy{Threshold: 0.95})
	f.enroll(t, "S1", unitAt(0.93))
	f.provider.SetFaces([]byte("probe"), probeFace)

	out, err := f.orch.Recognize(context.Background(), Request{Image: []byte("probe")})
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if out.Kind != database.OutcomeRejected || out.Reason != decision.ReasonBelowThreshold {
		t.Errorf("expected below_threshold rejection, got %+v", out)
	}
	if out.IdentityID != "" {
		t.Errorf("rejected outcome must not carry an identity, got %q", out.IdentityID)
	}
	a := f.onlyAttempt(t)
	if a.Accepted || a.IdentityID != "" || math.Abs(a.Score-0.93) > 1e-6 {
		t.Errorf("unexpected attempt %+v", a)
	}
}

func TestRecognize_AmbiguousMatch(t *testing.T) {
	f := newFixture(t, decision.Policy{Threshold: 0.85, MarginEnabled: true, MarginEpsilon: 0.02})
	f.enroll(t, "S1", unitAt(0.91))
	f.enroll(t, "S2", unitAt(0.90))
	f.provider.SetFaces([]byte("probe"), probeFace)

	out, err := f.orch.Recognize(context.Background(), Request{Image: []byte("probe")})
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if out.Kind != database.OutcomeRejected || out.Reason != decision.ReasonAmbiguous {
		t.Errorf("expected ambiguous rejection, got %+v", out)
	}
}

func TestRecognize_EmptyGallery(t *testing.T) {
	f := newFixture(t, decision.Policy{Threshold: -1})
	f.provider.SetFaces([]byte("probe"), probeFace)

	out, err := f.orch.Recognize(context.Background(), Request{Image: []byte("probe")})
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if out.Kind != database.OutcomeRejected || out.Reason != decision.ReasonEmptyGallery {
		t.Errorf("expected empty gallery rejection, got %+v", out)
	}
	if out.Score != database.SimilarityFloor {
		t.Errorf("expected similarity floor, got %v", out.Score)
	}
	f.onlyAttempt(t)
}

func TestRecognize_NoFace(t *testing.T) {
	f := newFixture(t, decision.Policy{Threshold: 0.5})
	f.enroll(t, "S1", unitAt(0.9))

	out, err := f.orch.Recognize(context.Background(), Request{Image: []byte("blank")})
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if out.Kind != database.OutcomeNoFace || out.State != StateNoFace || out.Reason != facegate.KindNoFace {
		t.Errorf("expected no_face outcome, got %+v", out)
	}
	if a := f.onlyAttempt(t); a.Outcome != database.OutcomeNoFace {
		t.Errorf("expected no_face attempt, got %+v", a)
	}
}

func TestRecognize_MultipleFacesUsesHighestDetection(t *testing.T) {
	f := newFixture(t, decision.Policy{Threshold: 0.9})
	f.enroll(t, "S1", []float32{1, 0})
	f.enroll(t, "S2", []float32{0, 1})
	f.provider.SetFaces([]byte("group"),
		embedding.Face{Embedding: []float32{0, 1}, DetScore: 0.6},
		embedding.Face{Embedding: []float32{1, 0}, DetScore: 0.99},
	)

	out, err := f.orch.Recognize(context.Background(), Request{Image: []byte("group")})
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if out.IdentityID != "S1" {
		t.Errorf("expected the higher detection face to match S1, got %+v", out)
	}
}

func TestRecognize_ProviderTimeoutLogged(t *testing.T) {
	f := newFixture(t, decision.Policy{Threshold: 0.5})
	f.orch.cfg.EmbeddingTimeout = 20 * time.Millisecond
	f.provider.Delay = time.Second

	out, err := f.orch.Recognize(context.Background(), Request{Image: []byte("slow")})
	if err != nil {
		t.Fatalf("provider timeout should be an outcome, got error %v", err)
	}
	if out.Kind != database.OutcomeError || out.ErrorKind != facegate.KindProviderTimeout || out.State != StateError {
		t.Errorf("expected provider_timeout error outcome, got %+v", out)
	}
	if a := f.onlyAttempt(t); a.Outcome != database.OutcomeError || a.Reason != facegate.KindProviderTimeout {
		t.Errorf("unexpected attempt %+v", a)
	}
}

func TestRecognize_ProviderTimeoutUnlogged(t *testing.T) {
	f := newFixture(t, decision.Policy{Threshold: 0.5})
	f.provider.Err = facegate.ErrProviderTimeout
	f.log.AppendError = errors.New("database is locked")

	_, err := f.orch.Recognize(context.Background(), Request{Image: []byte("slow")})
	if !errors.Is(err, facegate.ErrProviderTimeout) || !errors.Is(err, facegate.ErrStoreUnavailable) {
		t.Fatalf("expected timeout joined with store failure, got %v", err)
	}
	if len(f.log.Attempts()) != 0 {
		t.Error("expected no attempt")
	}
	if body := f.scrape(t); !strings.Contains(body, "facegate_unlogged_attempts_total 1") {
		t.Errorf("expected unlogged counter to be 1, got:\n%s", body)
	}
}

func TestRecognize_DimensionMismatchIsStructural(t *testing.T) {
	f := newFixture(t, decision.Policy{Threshold: 0.5})
	f.enroll(t, "S1", []float32{1, 0, 0})
	f.provider.SetFaces([]byte("probe"), probeFace)

	out, err := f.orch.Recognize(context.Background(), Request{Image: []byte("probe")})
	if !errors.Is(err, facegate.ErrInvalidEmbeddingDimension) {
		t.Fatalf("expected ErrInvalidEmbeddingDimension, got %v", err)
	}
	if out.ErrorKind != facegate.KindInvalidDimension {
		t.Errorf("expected error kind on outcome, got %+v", out)
	}
	if a := f.onlyAttempt(t); a.Reason != facegate.KindInvalidDimension {
		t.Errorf("unexpected attempt %+v", a)
	}
}

func TestRecognize_LogFailureIsAnError(t *testing.T) {
	f := newFixture(t, decision.Policy{Threshold: 0.5})
	f.enroll(t, "S1", unitAt(0.9))
	f.provider.SetFaces([]byte("probe"), probeFace)
	f.log.AppendError = errors.New("disk full")

	out, err := f.orch.Recognize(context.Background(), Request{Image: []byte("probe")})
	if !errors.Is(err, facegate.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if out.Accepted() {
		t.Error("an unlogged attempt must not be accepted")
	}
}

func TestRecognize_CanceledWritesNoRecord(t *testing.T) {
	f := newFixture(t, decision.Policy{Threshold: 0.5})
	f.provider.Delay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := f.orch.Recognize(ctx, Request{Image: []byte("probe")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(f.log.Attempts()) != 0 {
		t.Error("canceled call must not write an attempt")
	}
}

func TestRecognize_EveryTerminalCallWritesOneAttempt(t *testing.T) {
	f := newFixture(t, decision.Policy{Threshold: 0.8})
	f.enroll(t, "S1", unitAt(0.93))
	f.provider.SetFaces([]byte("match"), probeFace)
	f.provider.SetFaces([]byte("weak"), embedding.Face{Embedding: []float32{0, 1}, DetScore: 0.9})

	images := []string{"match", "weak", "blank", "match", "blank"}
	ids := make(map[string]bool)
	for _, img := range images {
		out, err := f.orch.Recognize(context.Background(), Request{Image: []byte(img)})
		if err != nil {
			t.Fatalf("Recognize(%s) failed: %v", img, err)
		}
		if ids[out.AttemptID] {
			t.Errorf("duplicate attempt id %s", out.AttemptID)
		}
		ids[out.AttemptID] = true
	}
	if got := len(f.log.Attempts()); got != len(images) {
		t.Errorf("expected %d attempts, got %d", len(images), got)
	}
}

func TestRecognize_HNSWMatcherAgreesWithLinear(t *testing.T) {
	type enrollment struct {
		id  string
		emb []float32
	}
	tests := []struct {
		name      string
		policy    decision.Policy
		enrolled  []enrollment
		wantKind  string
		wantID    string
		wantScore float64
	}{
		{
			name:      "accepts best match",
			policy:    decision.Policy{Threshold: 0.80},
			enrolled:  []enrollment{{"S1", unitAt(0.93)}, {"S2", unitAt(0.40)}},
			wantKind:  database.OutcomeAccepted,
			wantID:    "S1",
			wantScore: 0.93,
		},
		{
			name:      "rejects below threshold",
			policy:    decision.Policy{Threshold: 0.95},
			enrolled:  []enrollment{{"S1", unitAt(0.93)}, {"S2", unitAt(0.40)}},
			wantKind:  database.OutcomeRejected,
			wantScore: 0.93,
		},
		{
			name:   "re-enrollment replaces the matched template",
			policy: decision.Policy{Threshold: 0.80},
			enrolled: []enrollment{
				{"S1", unitAt(0.99)}, {"S2", unitAt(0.85)}, {"S1", unitAt(0.10)},
			},
			wantKind:  database.OutcomeAccepted,
			wantID:    "S2",
			wantScore: 0.85,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := matcher.NewHNSW(matcher.HNSWOptions{MinGallerySize: -1})
			f := newFixtureWithMatcher(t, tt.policy, h)
			for _, e := range tt.enrolled {
				f.enroll(t, e.id, e.emb)
			}
			h.Wait()
			if _, err := h.Index(f.store.Snapshot()); err != nil {
				t.Fatalf("Index failed: %v", err)
			}
			f.provider.SetFaces([]byte("probe"), probeFace)

			out, err := f.orch.Recognize(context.Background(), Request{Image: []byte("probe")})
			if err != nil {
				t.Fatalf("Recognize failed: %v", err)
			}
			if out.Kind != tt.wantKind || out.IdentityID != tt.wantID {
				t.Errorf("expected %s %q, got %+v", tt.wantKind, tt.wantID, out)
			}
			if math.Abs(out.Score-tt.wantScore) > 1e-6 {
				t.Errorf("expected score %v, got %v", tt.wantScore, out.Score)
			}
			f.onlyAttempt(t)
		})
	}
}
