// Package vectorstore provides the persistent vector collection service.
//
// Collections are backed by an embedded chromem-go database persisted under
// a configured directory. Each collection is bound to one embedding provider
// at creation time; all vectors inside a collection share that provider's
// dimensionality.
//
// Data-path operations (AddDocuments, QueryDocuments, DeleteCollection,
// GetCollectionCount) return sentinel values instead of errors so the
// request layer can map outcomes to fixed HTTP statuses. Every sentinel
// path logs the underlying cause first.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/embeddings"
)

// Sentinel errors for vector store operations.
var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrDimensionMismatch indicates a supplied embedding whose length does
	// not match the collection's established dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrLengthMismatch indicates parallel input slices of different lengths.
	ErrLengthMismatch = errors.New("documents, metadatas and ids must have equal length")
)

var tracer = otel.Tracer("ragd.vectorstore")

// DefaultNResults is the number of matches returned per query when the
// caller does not specify one.
const DefaultNResults = 10

// Config holds configuration for the collection service.
type Config struct {
	// PersistPath is the directory for the on-disk index.
	// Created if absent.
	PersistPath string

	// Compress enables gzip compression for stored data.
	Compress bool
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.PersistPath == "" {
		return fmt.Errorf("%w: persist path required", ErrInvalidConfig)
	}
	return nil
}

// Collection is a named set of documents bound to one embedding provider.
//
// The binding is fixed at creation time; rebinding requires deleting and
// recreating the collection.
type Collection struct {
	name      string
	col       *chromem.Collection
	provider  embeddings.Provider
	dimension int
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Count returns the number of documents currently stored.
func (c *Collection) Count() int { return c.col.Count() }

// Service owns named collections over a persistent chromem database.
type Service struct {
	db              *chromem.DB
	config          Config
	logger          *zap.Logger
	defaultProvider embeddings.Provider

	mu          sync.RWMutex
	collections map[string]*Collection
}

// NewService creates a collection service with the given configuration.
//
// The persistence directory is created if it does not exist. Collections
// persisted by earlier runs become visible again and are rebound to the
// default provider on first access.
func NewService(config Config, defaultProvider embeddings.Provider, logger *zap.Logger) (*Service, error) {
	if defaultProvider == nil {
		return nil, fmt.Errorf("%w: default embedding provider is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if err := os.MkdirAll(config.PersistPath, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", config.PersistPath, err)
	}

	db, err := chromem.NewPersistentDB(config.PersistPath, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	logger.Info("vector store initialized",
		zap.String("path", config.PersistPath),
		zap.Bool("compress", config.Compress),
	)

	return &Service{
		db:              db,
		config:          config,
		logger:          logger,
		defaultProvider: defaultProvider,
		collections:     make(map[string]*Collection),
	}, nil
}

// embeddingFunc adapts an embedding provider to chromem's query interface.
func embeddingFunc(provider embeddings.Provider) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return provider.EmbedQuery(ctx, text)
	}
}

// GetOrCreateCollection returns the named collection, creating it if absent.
//
// For an existing collection the stored provider binding always wins; a
// different requested provider is ignored with a warning, since documents
// added afterward would otherwise silently mix dimensionalities. A nil
// provider selects the service default.
func (s *Service) GetOrCreateCollection(ctx context.Context, name string, metadata map[string]string, provider embeddings.Provider) (*Collection, error) {
	ctx, span := tracer.Start(ctx, "Service.GetOrCreateCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name))

	if name == "" {
		return nil, fmt.Errorf("%w: collection name required", ErrInvalidConfig)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.collections[name]; ok {
		if provider != nil && provider != existing.provider {
			s.logger.Warn("requested embedding provider differs from collection binding; keeping original",
				zap.String("collection", name),
			)
		}
		return existing, nil
	}

	if provider == nil {
		provider = s.defaultProvider
	}

	col, err := s.db.GetOrCreateCollection(name, metadata, embeddingFunc(provider))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("getting/creating collection %s: %w", name, err)
	}

	bound := &Collection{
		name:      name,
		col:       col,
		provider:  provider,
		dimension: provider.Dimension(),
	}
	s.collections[name] = bound

	s.logger.Info("collection ready",
		zap.String("collection", name),
		zap.Int("dimension", bound.dimension),
		zap.Int("count", col.Count()),
	)

	return bound, nil
}

// lookupCollection returns the named collection without creating it.
// Collections persisted by an earlier run are rebound to the default
// provider and cached.
func (s *Service) lookupCollection(name string) (*Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.collections[name]; ok {
		return existing, nil
	}

	// Must pass an embedding function; chromem falls back to its OpenAI
	// default when nil is passed for persisted collections.
	col := s.db.GetCollection(name, embeddingFunc(s.defaultProvider))
	if col == nil {
		return nil, ErrCollectionNotFound
	}

	bound := &Collection{
		name:      name,
		col:       col,
		provider:  s.defaultProvider,
		dimension: s.defaultProvider.Dimension(),
	}
	s.collections[name] = bound
	return bound, nil
}

// AddDocuments adds documents to a collection.
//
// Embeddings supplied by the caller are stored verbatim after a dimension
// check; missing ones are computed with the collection's provider. Missing
// ids are generated, missing metadatas default to empty maps.
//
// Returns false (after logging the cause) on unknown collection, length
// mismatch between parallel inputs, dimension mismatch, or embedding
// failure. A failed call inserts nothing.
func (s *Service) AddDocuments(ctx context.Context, collectionName string, documents []string, metadatas []map[string]string, ids []string, embs [][]float32) bool {
	ctx, span := tracer.Start(ctx, "Service.AddDocuments")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collectionName),
		attribute.Int("document_count", len(documents)),
	)

	fail := func(err error) bool {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("add documents failed",
			zap.String("collection", collectionName),
			zap.Int("document_count", len(documents)),
			zap.Error(err),
		)
		return false
	}

	col, err := s.lookupCollection(collectionName)
	if err != nil {
		return fail(err)
	}

	if len(documents) == 0 {
		return fail(fmt.Errorf("no documents supplied"))
	}
	if metadatas != nil && len(metadatas) != len(documents) {
		return fail(fmt.Errorf("%w: %d documents, %d metadatas", ErrLengthMismatch, len(documents), len(metadatas)))
	}
	if ids != nil && len(ids) != len(documents) {
		return fail(fmt.Errorf("%w: %d documents, %d ids", ErrLengthMismatch, len(documents), len(ids)))
	}
	if embs != nil && len(embs) != len(documents) {
		return fail(fmt.Errorf("%w: %d documents, %d embeddings", ErrLengthMismatch, len(documents), len(embs)))
	}

	if embs != nil {
		for i, emb := range embs {
			if len(emb) != col.dimension {
				return fail(fmt.Errorf("%w: embedding %d has dimension %d, collection %q expects %d",
					ErrDimensionMismatch, i, len(emb), collectionName, col.dimension))
			}
		}
	} else {
		embs, err = col.provider.EmbedDocuments(ctx, documents)
		if err != nil {
			return fail(fmt.Errorf("embedding documents: %w", err))
		}
	}

	chromemDocs := make([]chromem.Document, len(documents))
	for i, text := range documents {
		id := ""
		if ids != nil {
			id = ids[i]
		}
		if id == "" {
			id = uuid.NewString()
		}

		var meta map[string]string
		if metadatas != nil {
			meta = metadatas[i]
		}
		if meta == nil {
			meta = map[string]string{}
		}

		chromemDocs[i] = chromem.Document{
			ID:        id,
			Content:   text,
			Metadata:  meta,
			Embedding: embs[i],
		}
	}

	// Concurrency of 1 since embeddings are already computed.
	if err := col.col.AddDocuments(ctx, chromemDocs, 1); err != nil {
		return fail(fmt.Errorf("adding documents: %w", err))
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("added documents",
		zap.String("collection", collectionName),
		zap.Int("count", len(documents)),
	)
	return true
}

// QueryDocuments performs nearest-neighbor search for each query text.
//
// Results per query are ordered by ascending distance (1 - cosine
// similarity). where filters on document metadata; whereDocument filters on
// content (chromem's $contains / $not_contains operators). nResults <= 0
// selects DefaultNResults; the effective value is capped at the collection
// size. include selects which result sections to populate ("documents",
// "metadatas", "distances"); empty means all. IDs are always returned.
//
// Returns nil (after logging the cause) on unknown collection, embedding
// failure, or an unrecognized include entry.
func (s *Service) QueryDocuments(ctx context.Context, collectionName string, queryTexts []string, nResults int, where map[string]string, whereDocument map[string]string, include []string) *QueryResults {
	ctx, span := tracer.Start(ctx, "Service.QueryDocuments")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collectionName),
		attribute.Int("query_count", len(queryTexts)),
		attribute.Int("n_results", nResults),
	)

	fail := func(err error) *QueryResults {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("query failed",
			zap.String("collection", collectionName),
			zap.Int("query_count", len(queryTexts)),
			zap.Error(err),
		)
		return nil
	}

	col, err := s.lookupCollection(collectionName)
	if err != nil {
		return fail(err)
	}

	if len(queryTexts) == 0 {
		return fail(fmt.Errorf("no query texts supplied"))
	}
	if nResults <= 0 {
		nResults = DefaultNResults
	}

	incDocs, incMetas, incDists := true, true, true
	if len(include) > 0 {
		incDocs, incMetas, incDists = false, false, false
		for _, section := range include {
			switch section {
			case "documents":
				incDocs = true
			case "metadatas":
				incMetas = true
			case "distances":
				incDists = true
			default:
				return fail(fmt.Errorf("unknown include section %q", section))
			}
		}
	}

	results := &QueryResults{
		IDs:       make([][]string, len(queryTexts)),
		Documents: make([][]string, len(queryTexts)),
		Metadatas: make([][]map[string]string, len(queryTexts)),
		Distances: make([][]float32, len(queryTexts)),
	}

	for qi, text := range queryTexts {
		// chromem rejects nResults greater than the document count.
		k := nResults
		count := col.col.Count()
		if count == 0 {
			results.IDs[qi] = []string{}
			if incDocs {
				results.Documents[qi] = []string{}
			}
			if incMetas {
				results.Metadatas[qi] = []map[string]string{}
			}
			if incDists {
				results.Distances[qi] = []float32{}
			}
			continue
		}
		if k > count {
			k = count
		}

		matches, err := col.col.Query(ctx, text, k, where, whereDocument)
		if err != nil {
			return fail(fmt.Errorf("querying collection: %w", err))
		}

		ids := make([]string, len(matches))
		docs := make([]string, len(matches))
		metas := make([]map[string]string, len(matches))
		dists := make([]float32, len(matches))
		for i, m := range matches {
			ids[i] = m.ID
			docs[i] = m.Content
			metas[i] = m.Metadata
			dists[i] = 1 - m.Similarity
		}
		results.IDs[qi] = ids
		if incDocs {
			results.Documents[qi] = docs
		}
		if incMetas {
			results.Metadatas[qi] = metas
		}
		if incDists {
			results.Distances[qi] = dists
		}
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("query complete",
		zap.String("collection", collectionName),
		zap.Int("query_count", len(queryTexts)),
	)
	return results
}

// ListCollections returns the names of all collections, sorted.
func (s *Service) ListCollections(ctx context.Context) []string {
	_, span := tracer.Start(ctx, "Service.ListCollections")
	defer span.End()

	names := make([]string, 0)
	for name := range s.db.ListCollections() {
		names = append(names, name)
	}
	sort.Strings(names)

	span.SetAttributes(attribute.Int("collection_count", len(names)))
	return names
}

// DeleteCollection deletes a collection and all its documents.
//
// Returns false when the collection does not exist; deleting it twice is
// not an error, the second call just reports false again.
func (s *Service) DeleteCollection(ctx context.Context, name string) bool {
	_, span := tracer.Start(ctx, "Service.DeleteCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name))

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db.GetCollection(name, embeddingFunc(s.defaultProvider)) == nil {
		s.logger.Warn("delete of unknown collection", zap.String("collection", name))
		return false
	}

	if err := s.db.DeleteCollection(name); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("delete collection failed",
			zap.String("collection", name),
			zap.Error(err),
		)
		return false
	}

	delete(s.collections, name)
	span.SetStatus(codes.Ok, "success")
	s.logger.Info("deleted collection", zap.String("collection", name))
	return true
}

// Reset deletes every collection and its documents. Returns false (after
// logging) if any deletion fails; deletions up to that point stick.
func (s *Service) Reset(ctx context.Context) bool {
	_, span := tracer.Start(ctx, "Service.Reset")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	for name := range s.db.ListCollections() {
		if err := s.db.DeleteCollection(name); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.logger.Error("reset failed",
				zap.String("collection", name),
				zap.Error(err),
			)
			return false
		}
		delete(s.collections, name)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Info("vector store reset")
	return true
}

// GetCollectionCount returns the number of documents in a collection, or -1
// when the collection does not exist, so callers can tell "empty" from
// "unknown" without an error branch.
func (s *Service) GetCollectionCount(ctx context.Context, name string) int {
	_, span := tracer.Start(ctx, "Service.GetCollectionCount")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name))

	col, err := s.lookupCollection(name)
	if err != nil {
		s.logger.Warn("count of unknown collection", zap.String("collection", name))
		return -1
	}
	return col.col.Count()
}

// GetCollectionInfo returns metadata about a collection.
func (s *Service) GetCollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	col, err := s.lookupCollection(name)
	if err != nil {
		return nil, err
	}
	return &CollectionInfo{
		Name:      name,
		Count:     col.col.Count(),
		Dimension: col.dimension,
	}, nil
}

// Close releases the service. chromem persists on write, so there is
// nothing to flush.
func (s *Service) Close() error {
	s.logger.Info("vector store closed")
	return nil
}
