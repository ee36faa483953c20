// Package embeddings provides embedding generation via multiple providers.
//
// A Factory resolves a provider name against a registry and constructs the
// matching Provider. Providers are resolved lazily, one at a time, so an
// unconfigured backend costs nothing until it is actually selected.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrUnsupportedProvider indicates a provider name outside the registry.
	ErrUnsupportedProvider = errors.New("unsupported embedding provider")

	// ErrMissingCredential indicates a remote provider without an API key.
	ErrMissingCredential = errors.New("missing provider credential")

	// ErrDependencyUnavailable indicates the provider's client library
	// could not be initialized.
	ErrDependencyUnavailable = errors.New("embedding backend unavailable")

	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Default models per provider.
const (
	DefaultHuggingFaceModel = "sentence-transformers/all-MiniLM-L6-v2"
	DefaultOpenAIModel      = "text-embedding-3-small"
)

// Provider generates vector embeddings from text.
//
// Implementations return one fixed-length vector per input text, in input
// order. The dimension is stable for the lifetime of the provider.
type Provider interface {
	// EmbedDocuments generates embeddings for multiple texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding dimension for the current model.
	Dimension() int

	// Close releases resources held by the provider.
	Close() error
}

// FactoryDefaults carries the ambient configuration consulted when a caller
// omits an argument. Passed explicitly so construction order stays testable
// instead of reading global state.
type FactoryDefaults struct {
	// Provider is the process-wide default provider name.
	Provider string

	// Model is the process-wide default model. Empty means the
	// provider-specific default constant.
	Model string

	// OpenAIAPIKey is the fallback OpenAI credential.
	OpenAIAPIKey string

	// HuggingFaceToken is the optional fallback HuggingFace token.
	HuggingFaceToken string
}

// Factory constructs embedding providers from the registered set.
type Factory struct {
	defaults FactoryDefaults
	logger   *zap.Logger
}

// NewFactory creates a Factory with the given ambient defaults.
func NewFactory(defaults FactoryDefaults, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{defaults: defaults, logger: logger}
}

// builderFunc constructs a Provider for one registered backend.
type builderFunc func(f *Factory, model, apiKey string) (Provider, error)

// registry maps provider names to constructors. Adding a provider means
// adding one entry here; the rest of the system is provider-agnostic.
var registry = map[string]builderFunc{
	"huggingface": buildHuggingFace,
	"openai":      buildOpenAI,
}

// SupportedProviders returns the registered provider names, sorted.
func SupportedProviders() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create constructs a Provider for the given provider name.
//
// Empty arguments fall back to the factory defaults: provider to the
// configured default provider, model to the provider-specific default, and
// apiKey to the configured credential for that provider.
//
// Returns ErrUnsupportedProvider for names outside the registered set,
// ErrMissingCredential when a remote provider has no usable credential, and
// ErrDependencyUnavailable when the backend client cannot be initialized.
func (f *Factory) Create(provider, model, apiKey string) (Provider, error) {
	if provider == "" {
		provider = f.defaults.Provider
	}
	provider = strings.ToLower(provider)

	build, ok := registry[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q (supported: %s)",
			ErrUnsupportedProvider, provider, strings.Join(SupportedProviders(), ", "))
	}

	if model == "" {
		model = f.defaults.Model
	}

	f.logger.Info("creating embedding provider",
		zap.String("provider", provider),
		zap.String("model", model),
	)

	return build(f, model, apiKey)
}

func buildHuggingFace(f *Factory, model, apiKey string) (Provider, error) {
	if model == "" {
		model = DefaultHuggingFaceModel
	}
	if apiKey == "" {
		apiKey = f.defaults.HuggingFaceToken
	}
	return NewHuggingFaceProvider(HuggingFaceConfig{
		Model:    model,
		APIToken: apiKey,
	})
}

func buildOpenAI(f *Factory, model, apiKey string) (Provider, error) {
	if model == "" {
		model = DefaultOpenAIModel
	}
	if apiKey == "" {
		apiKey = f.defaults.OpenAIAPIKey
	}
	return NewOpenAIProvider(OpenAIConfig{
		Model:  model,
		APIKey: apiKey,
	})
}

// modelDimensions maps known model names to their embedding dimensions.
var modelDimensions = map[string]int{
	"sentence-transformers/all-MiniLM-L6-v2": 384,
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-large-en-v1.5":                 1024,
	"text-embedding-3-small":                 1536,
	"text-embedding-3-large":                 3072,
	"text-embedding-ada-002":                 1536,
}

// detectDimension returns the embedding dimension for a model name.
// Falls back to 384 for unknown models.
func detectDimension(model string) int {
	if dim, ok := modelDimensions[model]; ok {
		return dim
	}
	switch {
	case strings.Contains(model, "large"):
		return 1024
	case strings.Contains(model, "base"):
		return 768
	default:
		return 384
	}
}
