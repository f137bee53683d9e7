// Package extractor turns captured images into face descriptors through the
// face embedding server.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/kozaktomas/face-auth/internal/apperr"
	"github.com/kozaktomas/face-auth/internal/constants"
	"github.com/kozaktomas/face-auth/internal/facematch"
)

const defaultEmbeddingURL = "http://localhost:8000"

// Extractor converts a raw capture into a descriptor with its quality score.
type Extractor interface {
	Extract(ctx context.Context, image []byte) (facematch.Capture, error)
}

// FaceDetection represents a single detected face
type FaceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// FaceResponse represents the response from the face embedding endpoint
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Client computes face descriptors using the embedding server
type Client struct {
	baseURL    string
	dim        int
	minQuality float64
	maxSize    int
	client     *http.Client
}

// NewClient creates a new embedding server client. Captures whose best face
// scores below minQuality are rejected with apperr.ErrLowQuality.
func NewClient(baseURL string, dim int, minQuality float64) *Client {
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	if dim <= 0 {
		dim = facematch.DefaultDescriptorLength
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		dim:        dim,
		minQuality: minQuality,
		maxSize:    constants.MaxImageSize,
		client:     &http.Client{},
	}
}

// Extract detects the faces in image and returns the descriptor of the face with
// the highest detection score. The detection score is used as capture quality.
func (c *Client) Extract(ctx context.Context, image []byte) (facematch.Capture, error) {
	prepared, err := PrepareImage(image, c.maxSize)
	if err != nil {
		return facematch.Capture{}, err
	}

	resp, err := c.ComputeFaceEmbeddings(ctx, prepared)
	if err != nil {
		return facematch.Capture{}, err
	}
	return c.selectFace(resp)
}

func (c *Client) selectFace(resp *FaceResponse) (facematch.Capture, error) {
	if resp.FacesCount == 0 || len(resp.Faces) == 0 {
		return facematch.Capture{}, apperr.ErrNoFaceDetected
	}

	best := resp.Faces[0]
	for _, f := range resp.Faces[1:] {
		if f.DetScore > best.DetScore {
			best = f
		}
	}

	if best.DetScore < c.minQuality {
		return facematch.Capture{}, fmt.Errorf("%w: detection score %.2f below %.2f",
			apperr.ErrLowQuality, best.DetScore, c.minQuality)
	}

	descriptor := facematch.Descriptor(best.Embedding)
	if err := facematch.Validate(descriptor, c.dim); err != nil {
		return facematch.Capture{}, err
	}
	return facematch.Capture{Descriptor: descriptor, Quality: best.DetScore}, nil
}

// ComputeFaceEmbeddings detects faces and computes their embeddings
func (c *Client) ComputeFaceEmbeddings(ctx context.Context, imageData []byte) (*FaceResponse, error) {
	body, err := c.postMultipartImage(ctx, "/embed/face", imageData)
	if err != nil {
		return nil, err
	}

	var faceResp FaceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %w", apperr.ErrCaptureUnavailable, err)
	}

	return &faceResp, nil
}

// postMultipartImage constructs a multipart form with the image data and posts it to the given endpoint.
// Transport failures are reported as apperr.ErrCaptureUnavailable and keep the context error in the chain.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="capture.jpg"`)
	h.Set("Content-Type", "image/jpeg")
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
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", apperr.ErrCaptureUnavailable, ctxErr)
		}
		return nil, fmt.Errorf("%w: request failed: %w", apperr.ErrCaptureUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", apperr.ErrCaptureUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: embedding server error (status %d): %s",
			apperr.ErrCaptureUnavailable, resp.StatusCode, string(body))
	}

	return body, nil
}
