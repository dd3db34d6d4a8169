package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kozaktomas/face-gate/internal/database"
)

func seedAttempts(t *testing.T, env *testEnv) {
	t.Helper()
	base := time.Now().UTC().Add(-time.Hour)
	attempts := []database.RecognitionAttempt{
		{ID: "a1", Timestamp: base, Outcome: database.OutcomeRejected, Reason: "below_threshold", Score: 0.2, ProcessingDuration: 100 * time.Millisecond},
		{ID: "a2", Timestamp: base.Add(time.Minute), IdentityID: "alice", Accepted: true, Outcome: database.OutcomeAccepted, Score: 0.9, ProcessingDuration: 300 * time.Millisecond},
		{ID: "a3", Timestamp: base.Add(2 * time.Minute), Outcome: database.OutcomeNoFace, Reason: "no_face_detected", Score: -1, ProcessingDuration: 200 * time.Millisecond},
	}
	for _, a := range attempts {
		if err := env.attempts.AppendAttempt(context.Background(), a); err != nil {
			t.Fatalf("seeding attempt: %v", err)
		}
	}
}

func TestAttemptsHandler_List(t *testing.T) {
	env := newTestEnv(t, 0.8)
	seedAttempts(t, env)

	w := httptest.NewRecorder()
	NewAttemptsHandler(env.audit).List(w, httptest.NewRequest(http.MethodGet, "/api/v1/attempts?limit=2", nil))

	assertStatusCode(t, w, http.StatusOK)
	var resp struct {
		Attempts []AttemptResponse `json:"attempts"`
		Total    int               `json:"total"`
		Limit    int               `json:"limit"`
	}
	parseJSONResponse(t, w, &resp)
	if resp.Total != 3 || resp.Limit != 2 || len(resp.Attempts) != 2 {
		t.Fatalf("unexpected page %+v", resp)
	}
	if resp.Attempts[0].ID != "a3" || resp.Attempts[1].ID != "a2" {
		t.Errorf("expected newest first, got %s, %s", resp.Attempts[0].ID, resp.Attempts[1].ID)
	}
	if resp.Attempts[0].IdentityID != nil {
		t.Error("expected null identity for no_face attempt")
	}
	if resp.Attempts[1].IdentityID == nil || *resp.Attempts[1].IdentityID != "alice" {
		t.Error("expected alice on accepted attempt")
	}
	if resp.Attempts[1].ProcessingTimeMS != 300 {
		t.Errorf("expected 300ms, got %v", resp.Attempts[1].ProcessingTimeMS)
	}
}

func TestAttemptsHandler_ListError(t *testing.T) {
	env := newTestEnv(t, 0.8)
	env.attempts.ListError = errors.New("boom")

	w := httptest.NewRecorder()
	NewAttemptsHandler(env.audit).List(w, httptest.NewRequest(http.MethodGet, "/api/v1/attempts", nil))
	assertStatusCode(t, w, http.StatusServiceUnavailable)
}

func TestAttemptsHandler_Get(t *testing.T) {
	env := newTestEnv(t, 0.8)
	seedAttempts(t, env)
	handler := NewAttemptsHandler(env.audit)

	w := httptest.NewRecorder()
	handler.Get(w, requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/attempts/a2", nil), map[string]string{"id": "a2"}))
	assertStatusCode(t, w, http.StatusOK)
	var resp AttemptResponse
	parseJSONResponse(t, w, &resp)
	if resp.ID != "a2" || !resp.Accepted {
		t.Errorf("unexpected attempt %+v", resp)
	}

	w = httptest.NewRecorder()
	handler.Get(w, requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/attempts/zz", nil), map[string]string{"id": "zz"}))
	assertStatusCode(t, w, http.StatusNotFound)
}

func TestStatsHandler_Get(t *testing.T) {
	env := newTestEnv(t, 0.8)
	env.enroll(t, "alice", []float32{1, 0})
	seedAttempts(t, env)

	w := httptest.NewRecorder()
	NewStatsHandler(env.audit).Get(w, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))

	assertStatusCode(t, w, http.StatusOK)
	var resp StatsResponse
	parseJSONResponse(t, w, &resp)
	if resp.EnrolledIdentities != 1 || resp.TotalAttempts != 3 || resp.FailedAttempts != 2 {
		t.Errorf("unexpected stats %+v", resp)
	}
	if resp.AvgProcessingTimeMS != 200 {
		t.Errorf("expected 200ms average, got %v", resp.AvgProcessingTimeMS)
	}
}

func TestStatsHandler_Error(t *testing.T) {
	env := newTestEnv(t, 0.8)
	env.attempts.StatsError = errors.New("boom")

	w := httptest.NewRecorder()
	NewStatsHandler(env.audit).Get(w, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	assertStatusCode(t, w, http.StatusServiceUnavailable)
}

type stubHealth struct{ err error }

func (s stubHealth) Health(ctx context.Context) error { return s.err }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		provider   HealthChecker
		wantStatus int
		wantState  string
	}{
		{"no provider probe", nil, http.StatusOK, "unknown"},
		{"provider ok", stubHealth{}, http.StatusOK, "ok"},
		{"provider down", stubHealth{err: errors.New("connection refused")}, http.StatusServiceUnavailable, "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 0.8)
			w := httptest.NewRecorder()
			NewHealthHandler(env.gallery, tt.provider).Check(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

			assertStatusCode(t, w, tt.wantStatus)
			var resp map[string]any
			parseJSONResponse(t, w, &resp)
			if resp["embedding"] != tt.wantState {
				t.Errorf("embedding = %v, want %s", resp["embedding"], tt.wantState)
			}
		})
	}
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", 50, 0},
		{"limit=10&offset=5", 10, 5},
		{"limit=100000", 500, 0},
		{"limit=-1&offset=-4", 50, 0},
		{"limit=abc", 50, 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			limit, offset := parsePagination(httptest.NewRequest(http.MethodGet, "/x?"+tt.query, nil))
			if limit != tt.wantLimit || offset != tt.wantOffset {
				t.Errorf("got (%d, %d), want (%d, %d)", limit, offset, tt.wantLimit, tt.wantOffset)
			}
		})
	}
}
