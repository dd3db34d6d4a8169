package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/kozaktomas/face-gate/internal/facegate"
	"github.com/kozaktomas/face-gate/internal/facematch"
)

const (
	defaultEmbeddingURL = "http://localhost:8000"
	defaultTimeout      = 5 * time.Second
	faceEndpoint        = "/embed/face"
	maxResponseSize     = 32 << 20
)

// Client computes face embeddings using the InsightFace embedding server.
type Client struct {
	baseURL string
	timeout time.Duration
	maxSide int
	client  *http.Client
}

// NewClient creates a new embedding client. A zero timeout uses the default;
// a zero maxSide disables downscaling.
func NewClient(baseURL string, timeout time.Duration, maxSide int) *Client {
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		timeout: timeout,
		maxSide: maxSide,
		client:  &http.Client{},
	}
}

// faceDetection represents a single detected face
type faceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// faceResponse represents the response from the face embedding endpoint
type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// postMultipartImage constructs a multipart form with the image data and posts it to the given endpoint.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// isTimeout reports whether err was caused by an exceeded deadline.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ExtractFaces detects faces and computes their embeddings. Bounding boxes
// are reported in the coordinates of the submitted image even when it was
// downscaled for upload.
func (c *Client) ExtractFaces(ctx context.Context, image []byte) (*Result, error) {
	if len(image) == 0 {
		return nil, errors.New("empty image")
	}

	payload, scale, err := Downscale(image, c.maxSide)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := c.postMultipartImage(callCtx, faceEndpoint, payload)
	if err != nil {
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
			return nil, fmt.Errorf("embedding request canceled: %w", ctxErr)
		}
		if isTimeout(err) {
			return nil, fmt.Errorf("%w after %s: %w", facegate.ErrProviderTimeout, c.timeout, err)
		}
		return nil, err
	}

	var faceResp faceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	result := &Result{
		Faces: make([]Face, 0, len(faceResp.Faces)),
		Model: faceResp.Model,
	}
	for _, f := range faceResp.Faces {
		if len(f.Embedding) == 0 {
			continue
		}
		result.Faces = append(result.Faces, Face{
			Embedding: f.Embedding,
			BBox:      facematch.ScaleBBox(f.BBox, scale),
			DetScore:  f.DetScore,
		})
	}

	return result, nil
}

// Health checks that the embedding server is reachable.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("embedding server unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("embedding server unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}
