package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-gate/internal/embedding"
	"github.com/kozaktomas/face-gate/internal/facegate"
)

func TestEnrollmentsHandler_Create(t *testing.T) {
	env := newTestEnv(t, 0.8)
	env.provider.SetFaces([]byte("alice"), embedding.Face{Embedding: []float32{1, 0}, BBox: []float64{1, 2, 3, 4}, DetScore: 0.97})
	handler := NewEnrollmentsHandler(env.manager, env.gallery)

	w := httptest.NewRecorder()
	handler.Create(w, multipartRequest(t, "/api/v1/enrollments", []byte("alice"), map[string]string{"identity_id": "alice"}))

	assertStatusCode(t, w, http.StatusCreated)
	var resp TemplateResponse
	parseJSONResponse(t, w, &resp)
	if resp.IdentityID != "alice" || resp.TemplateID == 0 || resp.Dim != 2 || resp.DetScore != 0.97 {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.SourceImageRef != "probe.jpg" {
		t.Errorf("expected uploaded filename as source ref, got %q", resp.SourceImageRef)
	}
}

func TestEnrollmentsHandler_CreateErrors(t *testing.T) {
	tests := []struct {
		name       string
		image      []byte
		fields     map[string]string
		setup      func(env *testEnv)
		wantStatus int
		wantError  string
	}{
		{
			name:       "missing identity",
			image:      []byte("img"),
			fields:     map[string]string{},
			wantStatus: http.StatusBadRequest,
			wantError:  "identity_id is required",
		},
		{
			name:       "blank identity",
			image:      []byte("img"),
			fields:     map[string]string{"identity_id": "   "},
			wantStatus: http.StatusBadRequest,
			wantError:  facegate.KindInvalidIdentity,
		},
		{
			name:       "bad bbox",
			image:      []byte("img"),
			fields:     map[string]string{"identity_id": "alice", "bbox": "1,2,3"},
			wantStatus: http.StatusBadRequest,
			wantError:  "bbox must have 4 comma-separated values, got 3",
		},
		{
			name:       "no face",
			image:      []byte("img"),
			fields:     map[string]string{"identity_id": "alice"},
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  facegate.KindNoFace,
		},
		{
			name:   "multiple faces",
			image:  []byte("group"),
			fields: map[string]string{"identity_id": "alice"},
			setup: func(env *testEnv) {
				env.provider.SetFaces([]byte("group"),
					embedding.Face{Embedding: []float32{1, 0}, BBox: []float64{0, 0, 10, 10}},
					embedding.Face{Embedding: []float32{0, 1}, BBox: []float64{20, 0, 30, 10}},
				)
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantError:  facegate.KindMultipleFaces,
		},
		{
			name:   "store unavailable",
			image:  []byte("alice"),
			fields: map[string]string{"identity_id": "alice"},
			setup: func(env *testEnv) {
				env.provider.SetFaces([]byte("alice"), embedding.Face{Embedding: []float32{1, 0}})
				env.templates.SaveError = errors.New("connection reset")
			},
			wantStatus: http.StatusServiceUnavailable,
			wantError:  facegate.KindStoreUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 0.8)
			if tt.setup != nil {
				tt.setup(env)
			}
			w := httptest.NewRecorder()
			NewEnrollmentsHandler(env.manager, env.gallery).Create(w, multipartRequest(t, "/api/v1/enrollments", tt.image, tt.fields))

			assertStatusCode(t, w, tt.wantStatus)
			assertJSONError(t, w, tt.wantError)
			if env.gallery.Len() != 0 {
				t.Error("gallery must stay empty")
			}
		})
	}
}

func TestEnrollmentsHandler_CreateWithBBox(t *testing.T) {
	env := newTestEnv(t, 0.8)
	env.provider.SetFaces([]byte("group"),
		embedding.Face{Embedding: []float32{1, 0}, BBox: []float64{0, 0, 10, 10}},
		embedding.Face{Embedding: []float32{0, 1}, BBox: []float64{20, 0, 30, 10}},
	)

	w := httptest.NewRecorder()
	NewEnrollmentsHandler(env.manager, env.gallery).Create(w, multipartRequest(t, "/api/v1/enrollments", []byte("group"),
		map[string]string{"identity_id": "bob", "bbox": "19, 0, 30, 10"}))

	assertStatusCode(t, w, http.StatusCreated)
	got, ok := env.gallery.Get("bob")
	if !ok || got.Embedding[1] != 1 {
		t.Errorf("expected the right-hand face, got %+v", got)
	}
}

func TestEnrollmentsHandler_List(t *testing.T) {
	env := newTestEnv(t, 0.8)
	env.enroll(t, "alice", []float32{1, 0})
	env.enroll(t, "bob", []float32{0, 1})
	env.enroll(t, "carol", []float32{1, 1})

	w := httptest.NewRecorder()
	NewEnrollmentsHandler(env.manager, env.gallery).List(w, httptest.NewRequest(http.MethodGet, "/api/v1/enrollments?limit=2&offset=1", nil))

	assertStatusCode(t, w, http.StatusOK)
	var resp struct {
		Enrollments []TemplateResponse `json:"enrollments"`
		Total       int                `json:"total"`
	}
	parseJSONResponse(t, w, &resp)
	if resp.Total != 3 || len(resp.Enrollments) != 2 {
		t.Fatalf("unexpected page %+v", resp)
	}
	if resp.Enrollments[0].IdentityID != "bob" || resp.Enrollments[1].IdentityID != "carol" {
		t.Errorf("expected enrollment order, got %+v", resp.Enrollments)
	}

	w = httptest.NewRecorder()
	NewEnrollmentsHandler(env.manager, env.gallery).List(w, httptest.NewRequest(http.MethodGet, "/api/v1/enrollments?offset=10", nil))
	parseJSONResponse(t, w, &resp)
	if len(resp.Enrollments) != 0 {
		t.Errorf("expected empty page past the end, got %d", len(resp.Enrollments))
	}
}

func TestEnrollmentsHandler_GetWithHistory(t *testing.T) {
	env := newTestEnv(t, 0.8)
	env.enroll(t, "alice", []float32{1, 0})
	env.enroll(t, "alice", []float32{0, 1})
	handler := NewEnrollmentsHandler(env.manager, env.gallery)

	w := httptest.NewRecorder()
	req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/enrollments/alice", nil), map[string]string{"identityID": "alice"})
	handler.Get(w, req)

	assertStatusCode(t, w, http.StatusOK)
	var resp struct {
		Enrollment TemplateResponse  `json:"enrollment"`
		History    []HistoryResponse `json:"history"`
	}
	parseJSONResponse(t, w, &resp)
	if resp.Enrollment.IdentityID != "alice" || len(resp.History) != 1 || resp.History[0].RetiredReason != "replaced" {
		t.Errorf("unexpected response %+v", resp)
	}

	w = httptest.NewRecorder()
	req = requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/enrollments/nobody", nil), map[string]string{"identityID": "nobody"})
	handler.Get(w, req)
	assertStatusCode(t, w, http.StatusNotFound)
}

func TestEnrollmentsHandler_Delete(t *testing.T) {
	env := newTestEnv(t, 0.8)
	env.enroll(t, "alice", []float32{1, 0})
	handler := NewEnrollmentsHandler(env.manager, env.gallery)

	w := httptest.NewRecorder()
	req := requestWithChiParams(httptest.NewRequest(http.MethodDelete, "/api/v1/enrollments/alice", nil), map[string]string{"identityID": "alice"})
	handler.Delete(w, req)

	assertStatusCode(t, w, http.StatusNoContent)
	if env.gallery.Len() != 0 {
		t.Error("expected alice to be removed")
	}
	if tpl, _ := env.templates.GetTemplate(context.Background(), "alice"); tpl != nil {
		t.Error("expected alice to be removed from persistence")
	}

	env.templates.DeleteError = errors.New("read-only")
	w = httptest.NewRecorder()
	req = requestWithChiParams(httptest.NewRequest(http.MethodDelete, "/api/v1/enrollments/bob", nil), map[string]string{"identityID": "bob"})
	handler.Delete(w, req)
	assertStatusCode(t, w, http.StatusServiceUnavailable)
}
