package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/kozaktomas/face-gate/internal/constants"
	"github.com/kozaktomas/face-gate/internal/facegate"
)

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// errorStatus maps the error taxonomy to an HTTP status.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, facegate.ErrInvalidIdentity):
		return http.StatusBadRequest
	case errors.Is(err, facegate.ErrNoFaceDetected), errors.Is(err, facegate.ErrMultipleFacesDetected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, facegate.ErrProviderTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, facegate.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondFailure sends an error response with the stable error kind.
func respondFailure(w http.ResponseWriter, err error) {
	respondJSON(w, errorStatus(err), map[string]string{
		"error":   facegate.Kind(err),
		"message": err.Error(),
	})
}

// readImage reads the "image" part of a multipart request.
func readImage(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		return nil, "", errors.New("failed to parse multipart form")
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, "", errors.New("no image file provided")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", errors.New("failed to read image")
	}
	if len(data) == 0 {
		return nil, "", errors.New("image is empty")
	}
	return data, header.Filename, nil
}

// parseBBox parses "x1,y1,x2,y2".
func parseBBox(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("bbox must have 4 comma-separated values, got %d", len(parts))
	}
	bbox := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("bbox value %q: %w", p, err)
		}
		bbox[i] = v
	}
	return bbox, nil
}

// parsePagination reads limit and offset query parameters.
func parsePagination(r *http.Request) (limit, offset int) {
	limit = constants.DefaultHandlerPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = min(v, constants.MaxHandlerPageSize)
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
