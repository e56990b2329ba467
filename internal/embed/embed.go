// Package embed provides the context-embedding implementations shared by
// internal/search's semantic retrieval and internal/learning's pattern
// similarity queries. Both packages depend only on a narrow Embed(ctx,
// text) ([]float32, error) method, following the same embedding-provider
// shape as an OpenAI-compatible chat provider's HTTP plumbing, so an
// embedding backend is swappable the same way a chat model provider is.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"time"
)

// Config configures an API-backed embedder.
type Config struct {
	BaseURL string // e.g. "https://api.openai.com/v1"
	APIKey  string
	Model   string // e.g. "text-embedding-3-small"
	Dims    int    // expected embedding width; must match the catalog's EmbeddingDims
}

// Embedder is satisfied by both APIClient and Hash, and structurally by
// internal/search's and internal/learning's own Embedder interfaces.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// New picks the API-backed embedder when cfg.BaseURL is set, otherwise
// falls back to the dependency-free hashing embedder.
func New(cfg Config) Embedder {
	if cfg.BaseURL != "" {
		return NewAPIClient(cfg)
	}
	return NewHash(cfg.Dims)
}

// APIClient calls an OpenAI-compatible /embeddings endpoint.
type APIClient struct {
	baseURL string
	apiKey  string
	model   string
	dims    int
	client  *http.Client
}

// NewAPIClient builds an embedder backed by an OpenAI-compatible endpoint.
func NewAPIClient(cfg Config) *APIClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &APIClient{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		dims:    cfg.Dims,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

type embeddingError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Embed calls the configured embeddings endpoint for text.
func (c *APIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: c.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr embeddingError
		json.Unmarshal(respBody, &apiErr)
		return nil, fmt.Errorf("embeddings API error %d: %s (%s)", resp.StatusCode, apiErr.Error.Message, apiErr.Error.Type)
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("no embedding in response")
	}
	vec := parsed.Data[0].Embedding
	if c.dims > 0 && len(vec) != c.dims {
		return nil, fmt.Errorf("embedding width %d does not match configured dims %d", len(vec), c.dims)
	}
	return vec, nil
}

// Hash is a network-free fallback embedder. It hashes overlapping
// trigrams of the input into a fixed-width vector and L2-normalizes the
// result, so cosine similarity still reflects lexical overlap without
// any external dependency. Used when no embeddings endpoint is
// configured, so semantic search and learned pattern similarity degrade
// gracefully to a deterministic signal instead of going fully dark.
type Hash struct {
	dims int
}

// NewHash builds a deterministic hashing embedder of width dims.
func NewHash(dims int) *Hash {
	if dims <= 0 {
		dims = 384
	}
	return &Hash{dims: dims}
}

func (h *Hash) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dims)
	if len(text) == 0 {
		return vec, nil
	}
	const n = 3
	runes := []rune(text)
	for i := 0; i <= len(runes)-n || i == 0; i++ {
		end := i + n
		if end > len(runes) {
			end = len(runes)
		}
		gram := string(runes[i:end])
		hf := fnv.New32a()
		hf.Write([]byte(gram))
		idx := hf.Sum32() % uint32(h.dims)
		vec[idx] += 1
		if end == len(runes) {
			break
		}
	}

	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec, nil
	}
	inv := float32(1) / sqrt32(norm)
	for i := range vec {
		vec[i] *= inv
	}
	return vec, nil
}

func sqrt32(v float32) float32 {
	// Newton's method, a handful of iterations is plenty for unit-norm vectors.
	if v <= 0 {
		return 0
	}
	x := v
	for i := 0; i < 8; i++ {
		x = 0.5 * (x + v/x)
	}
	return x
}
