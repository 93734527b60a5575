// Package multimodal processes image, audio, and video files routed off the
// text pipeline at intake.
//
// Images yield an OCR text chunk (768-d, indexed alongside document text)
// and a visual embedding (512-d, indexed in the tenant's parallel image
// collection). Audio yields a single transcript chunk. Video yields a
// transcript chunk plus per-frame visual embeddings sampled at 1 fps, each
// tagged with its timestamp.
package multimodal

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/oxbow-systems/sluice/iox"
)

// OCR extracts text from an image.
type OCR interface {
	ExtractText(ctx context.Context, image []byte) (string, error)
}

// Visual produces an image embedding.
type Visual interface {
	EmbedImage(ctx context.Context, image []byte) ([]float32, error)
	Dimensions() int
}

// Transcriber produces a transcript from audio bytes.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// HTTPOCR calls an OCR service accepting base64 content.
type HTTPOCR struct {
	endpoint string
	client   *http.Client
}

var _ OCR = (*HTTPOCR)(nil)

// NewHTTPOCR builds an OCR client. A zero timeout defaults to 30s.
func NewHTTPOCR(endpoint string, timeout time.Duration) *HTTPOCR {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPOCR{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

// ExtractText posts the image and returns the recognized text, which may be
// empty for images with no legible content.
func (o *HTTPOCR) ExtractText(ctx context.Context, image []byte) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	if err := postJSON(ctx, o.client, o.endpoint, image, &out); err != nil {
		return "", fmt.Errorf("ocr: %w", err)
	}
	return out.Text, nil
}

// HTTPVisual calls a visual embedding service accepting base64 content.
type HTTPVisual struct {
	endpoint string
	dims     int
	client   *http.Client
}

var _ Visual = (*HTTPVisual)(nil)

// NewHTTPVisual builds a visual embedding client. A zero timeout defaults
// to 30s.
func NewHTTPVisual(endpoint string, dims int, timeout time.Duration) *HTTPVisual {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPVisual{endpoint: endpoint, dims: dims, client: &http.Client{Timeout: timeout}}
}

// Dimensions returns the vector width this client expects back.
func (v *HTTPVisual) Dimensions() int { return v.dims }

// EmbedImage posts the image and returns its embedding.
func (v *HTTPVisual) EmbedImage(ctx context.Context, image []byte) ([]float32, error) {
	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := postJSON(ctx, v.client, v.endpoint, image, &out); err != nil {
		return nil, fmt.Errorf("visual: %w", err)
	}
	return out.Embedding, nil
}

// HTTPTranscriber calls a Whisper-compatible transcription endpoint with a
// multipart file upload.
type HTTPTranscriber struct {
	endpoint string
	model    string
	client   *http.Client
}

var _ Transcriber = (*HTTPTranscriber)(nil)

// NewHTTPTranscriber builds a transcription client. A zero timeout defaults
// to 120s; transcription is the slowest call in the pipeline.
func NewHTTPTranscriber(endpoint, model string, timeout time.Duration) *HTTPTranscriber {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPTranscriber{endpoint: endpoint, model: model, client: &http.Client{Timeout: timeout}}
}

// Transcribe uploads the media file and returns its transcript.
func (t *HTTPTranscriber) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("transcribe: build form: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("transcribe: write form: %w", err)
	}
	if t.model != "" {
		if err := writer.WriteField("model", t.model); err != nil {
			return "", fmt.Errorf("transcribe: write model field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("transcribe: close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("transcribe: build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcribe: call endpoint: %w", err)
	}
	defer iox.DiscardClose(resp.Body)
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("transcribe: endpoint returned %d: %s", resp.StatusCode, snippet)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("transcribe: decode response: %w", err)
	}
	return out.Text, nil
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, content []byte, out any) error {
	payload, err := json.Marshal(map[string]string{
		"content": base64.StdEncoding.EncodeToString(content),
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("call endpoint: %w", err)
	}
	defer iox.DiscardClose(resp.Body)
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, snippet)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
