package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-gate/internal/audit"
	dbmock "github.com/kozaktomas/face-gate/internal/database/mock"
	"github.com/kozaktomas/face-gate/internal/decision"
	embmock "github.com/kozaktomas/face-gate/internal/embedding/mock"
	"github.com/kozaktomas/face-gate/internal/enrollment"
	"github.com/kozaktomas/face-gate/internal/gallery"
	"github.com/kozaktomas/face-gate/internal/matcher"
	"github.com/kozaktomas/face-gate/internal/recognition"
)

// testEnv wires the services behind the handlers with in-memory mocks
type testEnv struct {
	provider  *embmock.MockProvider
	templates *dbmock.MockTemplateStore
	attempts  *dbmock.MockAttemptLog
	gallery   *gallery.Store
	audit     *audit.Logger
	manager   *enrollment.Manager
	orch      *recognition.Orchestrator
}

func newTestEnv(t *testing.T, threshold float64) *testEnv {
	t.Helper()
	env := &testEnv{
		provider:  embmock.NewMockProvider(),
		templates: dbmock.NewMockTemplateStore(),
		attempts:  dbmock.NewMockAttemptLog(),
	}
	env.gallery = gallery.NewStore(env.templates, gallery.Options{})
	env.audit = audit.NewLogger(env.attempts, env.gallery)
	env.manager = enrollment.NewManager(env.provider, env.gallery, nil)
	env.orch = recognition.NewOrchestrator(recognition.Config{
		Provider: env.provider,
		Gallery:  env.gallery,
		Matcher:  matcher.Linear{},
		Policy:   decision.Policy{Threshold: threshold},
		Audit:    env.audit,
	})
	return env
}

// enroll puts a template directly into the gallery
func (e *testEnv) enroll(t *testing.T, id string, emb []float32) {
	t.Helper()
	if _, err := e.gallery.Put(context.Background(), id, emb, id+".jpg"); err != nil {
		t.Fatalf("enrolling %s: %v", id, err)
	}
}

// multipartRequest builds a multipart POST with an optional image part and form fields
func multipartRequest(t *testing.T, path string, image []byte, fields map[string]string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if image != nil {
		part, err := writer.CreateFormFile("image", "probe.jpg")
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		part.Write(image)
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
