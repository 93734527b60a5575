// Package embed produces text embeddings for indexing.
//
// Two clients exist: an HTTP client speaking the OpenAI-compatible
// /embeddings shape for online mode, and a deterministic stub for offline
// mode so the pipeline runs end to end without a model endpoint. Both
// declare their dimension; the embed worker asserts every returned vector
// against it before any write.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/oxbow-systems/sluice/iox"
)

// TextDimensions is the required text embedding width.
const TextDimensions = 768

// Client produces one embedding per input text, in input order.
type Client interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// ZeroVector is the recorded-failure fallback: a zero vector keeps the
// dimension invariant while an audit event records that the endpoint failed.
func ZeroVector(dims int) []float32 {
	return make([]float32, dims)
}

// HTTP calls an OpenAI-compatible embeddings endpoint.
type HTTP struct {
	endpoint string
	model    string
	dims     int
	client   *http.Client
}

var _ Client = (*HTTP)(nil)

// NewHTTP builds an embeddings client. A zero timeout defaults to 30s.
func NewHTTP(endpoint, model string, dims int, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTP{
		endpoint: endpoint,
		model:    model,
		dims:     dims,
		client:   &http.Client{Timeout: timeout},
	}
}

// Dimensions returns the vector width this client requests.
func (h *HTTP) Dimensions() int { return h.dims }

type embedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed requests one vector per text. The response is reordered by index so
// output position always matches input position.
func (h *HTTP) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(embedRequest{Model: h.model, Input: texts, Dimensions: h.dims})
	if err != nil {
		return nil, fmt.Errorf("embed: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embed: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed: call endpoint: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embed: endpoint returned %d: %s", resp.StatusCode, snippet)
	}

	var decoded embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("embed: decode response: %w", err)
	}
	if len(decoded.Data) != len(texts) {
		return nil, fmt.Errorf("embed: got %d vectors for %d inputs", len(decoded.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range decoded.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embed: response index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("embed: no vector for input %d", i)
		}
	}
	return vectors, nil
}
