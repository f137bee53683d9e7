package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kozaktomas/face-auth/internal/apperr"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func embedding(dim int, v float32) []float32 {
	e := make([]float32, dim)
	for i := range e {
		e[i] = v + float32(i)
	}
	return e
}

func faceServer(t *testing.T, resp FaceResponse, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file part: %v", err)
		} else {
			file.Close()
			if header.Header.Get("Content-Type") != "image/jpeg" {
				t.Errorf("expected image/jpeg part, got %s", header.Header.Get("Content-Type"))
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestExtract_PicksHighestScoringFace(t *testing.T) {
	srv := faceServer(t, FaceResponse{
		FacesCount: 2,
		Faces: []FaceDetection{
			{FaceIndex: 0, Embedding: embedding(8, 1), DetScore: 0.6},
			{FaceIndex: 1, Embedding: embedding(8, 2), DetScore: 0.95},
		},
	}, http.StatusOK)
	defer srv.Close()

	c := NewClient(srv.URL, 8, 0.5)
	capture, err := c.Extract(context.Background(), testPNG(t, 32, 32))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if capture.Quality != 0.95 {
		t.Errorf("expected quality 0.95, got %f", capture.Quality)
	}
	if capture.Descriptor[0] != 2 {
		t.Errorf("expected second face descriptor, got %v", capture.Descriptor)
	}
}

func TestExtract_NoFace(t *testing.T) {
	srv := faceServer(t, FaceResponse{FacesCount: 0}, http.StatusOK)
	defer srv.Close()

	_, err := NewClient(srv.URL, 8, 0.5).Extract(context.Background(), testPNG(t, 16, 16))
	if !errors.Is(err, apperr.ErrNoFaceDetected) {
		t.Fatalf("expected ErrNoFaceDetected, got %v", err)
	}
}

func TestExtract_LowQuality(t *testing.T) {
	srv := faceServer(t, FaceResponse{
		FacesCount: 1,
		Faces:      []FaceDetection{{Embedding: embedding(8, 1), DetScore: 0.3}},
	}, http.StatusOK)
	defer srv.Close()

	_, err := NewClient(srv.URL, 8, 0.5).Extract(context.Background(), testPNG(t, 16, 16))
	if !errors.Is(err, apperr.ErrLowQuality) {
		t.Fatalf("expected ErrLowQuality, got %v", err)
	}
}

func TestExtract_WrongDimension(t *testing.T) {
	srv := faceServer(t, FaceResponse{
		FacesCount: 1,
		Faces:      []FaceDetection{{Embedding: embedding(4, 1), DetScore: 0.9}},
	}, http.StatusOK)
	defer srv.Close()

	_, err := NewClient(srv.URL, 8, 0.5).Extract(context.Background(), testPNG(t, 16, 16))
	if !errors.Is(err, apperr.ErrInvalidDescriptor) {
		t.Fatalf("expected ErrInvalidDescriptor, got %v", err)
	}
}

func TestExtract_ServerError(t *testing.T) {
	srv := faceServer(t, FaceResponse{}, http.StatusInternalServerError)
	defer srv.Close()

	_, err := NewClient(srv.URL, 8, 0.5).Extract(context.Background(), testPNG(t, 16, 16))
	if !errors.Is(err, apperr.ErrCaptureUnavailable) {
		t.Fatalf("expected ErrCaptureUnavailable, got %v", err)
	}
}

func TestExtract_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewClient(srv.URL, 8, 0.5).Extract(ctx, testPNG(t, 16, 16))
	if !errors.Is(err, apperr.ErrCaptureUnavailable) {
		t.Fatalf("expected ErrCaptureUnavailable, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline in chain, got %v", err)
	}
}

func TestExtract_CorruptImage(t *testing.T) {
	_, err := NewClient("http://127.0.0.1:1", 8, 0.5).Extract(context.Background(), []byte("not an image"))
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPrepareImage_Downscales(t *testing.T) {
	out, err := PrepareImage(testPNG(t, 200, 100), 50)
	if err != nil {
		t.Fatalf("PrepareImage: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if img.Bounds().Dx() != 50 || img.Bounds().Dy() != 25 {
		t.Errorf("expected 50x25, got %dx%d", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestPrepareImage_KeepsSmallImages(t *testing.T) {
	out, err := PrepareImage(testPNG(t, 20, 10), 50)
	if err != nil {
		t.Fatalf("PrepareImage: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if img.Bounds().Dx() != 20 || img.Bounds().Dy() != 10 {
		t.Errorf("expected 20x10, got %dx%d", img.Bounds().Dx(), img.Bounds().Dy())
	}
}
