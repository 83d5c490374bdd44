package identify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPEmbedder calls an external embedding service: POST {base}/embed
// with the raw image, receiving a face embedding vector. The service is
// typically the same model the worker runs, exposed over HTTP.
type HTTPEmbedder struct {
	baseURL string
	client  *http.Client
}

// NewHTTPEmbedder creates an embedder client against the given base URL.
func NewHTTPEmbedder(baseURL string) *HTTPEmbedder {
	return &HTTPEmbedder{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// embedResponse is the service's wire format.
type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed posts the image and returns the embedding vector.
func (e *HTTPEmbedder) Embed(ctx context.Context, image []byte) ([]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed", bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("embedder: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedder: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedder: service returned status %d", resp.StatusCode)
	}

	var body embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("embedder: failed to decode response: %w", err)
	}
	if len(body.Embedding) == 0 {
		return nil, fmt.Errorf("embedder: service returned empty embedding")
	}
	return body.Embedding, nil
}
