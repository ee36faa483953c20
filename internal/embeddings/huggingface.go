package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// defaultHuggingFaceBaseURL is the hosted Inference API endpoint.
const defaultHuggingFaceBaseURL = "https://api-inference.huggingface.co"

// HuggingFaceConfig holds configuration for the HuggingFace provider.
type HuggingFaceConfig struct {
	// Model is the feature-extraction model name.
	Model string

	// APIToken is optional; public models accept unauthenticated requests
	// at a lower rate limit.
	APIToken string

	// BaseURL overrides the Inference API endpoint. Used in tests.
	BaseURL string
}

// HuggingFaceProvider generates embeddings via the HuggingFace Inference
// API's feature-extraction pipeline.
type HuggingFaceProvider struct {
	config    HuggingFaceConfig
	client    *http.Client
	dimension int
}

// NewHuggingFaceProvider creates a HuggingFace embedding provider.
//
// No network call is made at construction; the first embed call validates
// the model and credential.
func NewHuggingFaceProvider(cfg HuggingFaceConfig) (*HuggingFaceProvider, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultHuggingFaceModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultHuggingFaceBaseURL
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("%w: parsing base URL: %v", ErrDependencyUnavailable, err)
	}

	return &HuggingFaceProvider{
		config:    cfg,
		client:    &http.Client{},
		dimension: detectDimension(cfg.Model),
	}, nil
}

// hfRequest is the request body for the feature-extraction pipeline.
type hfRequest struct {
	Inputs  []string  `json:"inputs"`
	Options hfOptions `json:"options"`
}

type hfOptions struct {
	WaitForModel bool `json:"wait_for_model"`
}

// EmbedDocuments generates embeddings for multiple texts.
func (p *HuggingFaceProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	body, err := json.Marshal(hfRequest{
		Inputs:  texts,
		Options: hfOptions{WaitForModel: true},
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := p.config.BaseURL + "/pipeline/feature-extraction/" + p.config.Model
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.config.APIToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.config.APIToken)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: status %d from inference API", ErrMissingCredential, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), len(texts))
	}

	return vectors, nil
}

// EmbedQuery generates an embedding for a single query. Empty text is
// allowed; the model returns a vector for the empty string.
func (p *HuggingFaceProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Dimension returns the embedding dimension for the configured model.
func (p *HuggingFaceProvider) Dimension() int {
	return p.dimension
}

// Close is a no-op; the provider holds no persistent connections.
func (p *HuggingFaceProvider) Close() error {
	return nil
}

var _ Provider = (*HuggingFaceProvider)(nil)
