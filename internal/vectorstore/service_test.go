package vectorstore

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/ragd/internal/embeddings"
)

// fakeProvider returns deterministic unit vectors without any network calls.
// Known texts get hand-picked vectors so nearest-neighbor order is predictable;
// everything else gets a hash-derived vector.
type fakeProvider struct {
	dim     int
	vectors map[string][]float32
	failAll bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		dim: 3,
		vectors: map[string][]float32{
			"cat":    {1, 0, 0},
			"dog":    {0, 1, 0},
			"bird":   {0, 0, 1},
			"feline": {0.96, 0.28, 0},
		},
	}
}

func (p *fakeProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (p *fakeProvider) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if p.failAll {
		return nil, fmt.Errorf("%w: provider offline", embeddings.ErrEmbeddingFailed)
	}
	if vec, ok := p.vectors[text]; ok {
		return vec, nil
	}
	return hashVector(text, p.dim), nil
}

func (p *fakeProvider) Dimension() int { return p.dim }
func (p *fakeProvider) Close() error   { return nil }

func hashVector(text string, dim int) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, dim)
	var norm float64
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		v := float64(seed%2000)/1000.0 - 1
		if v == 0 {
			v = 0.1
		}
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

func newTestService(t *testing.T, provider embeddings.Provider) *Service {
	t.Helper()
	if provider == nil {
		provider = newFakeProvider()
	}
	svc, err := NewService(Config{PersistPath: t.TempDir()}, provider, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestNewService_Validation(t *testing.T) {
	provider := newFakeProvider()

	_, err := NewService(Config{}, provider, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewService(Config{PersistPath: t.TempDir()}, nil, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestGetOrCreateCollection(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	col, err := svc.GetOrCreateCollection(ctx, "docs", map[string]string{"owner": "tests"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "docs", col.Name())
	assert.Equal(t, 0, col.Count())

	// Second call returns the same binding.
	again, err := svc.GetOrCreateCollection(ctx, "docs", nil, nil)
	require.NoError(t, err)
	assert.Same(t, col, again)

	_, err = svc.GetOrCreateCollection(ctx, "", nil, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestGetOrCreateCollection_BindingWins(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	col, err := svc.GetOrCreateCollection(ctx, "docs", nil, nil)
	require.NoError(t, err)

	// Requesting a different provider for an existing collection keeps the
	// original binding.
	other := &fakeProvider{dim: 7}
	again, err := svc.GetOrCreateCollection(ctx, "docs", nil, other)
	require.NoError(t, err)
	assert.Same(t, col, again)
	assert.Equal(t, 3, again.dimension)
}

func TestAddAndQueryDocuments(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.GetOrCreateCollection(ctx, "animals", nil, nil)
	require.NoError(t, err)

	ok := svc.AddDocuments(ctx, "animals",
		[]string{"cat", "dog", "bird"},
		[]map[string]string{
			{"kind": "mammal"},
			{"kind": "mammal"},
			{"kind": "avian"},
		},
		[]string{"id-cat", "id-dog", "id-bird"},
		nil,
	)
	require.True(t, ok)
	assert.Equal(t, 3, svc.GetCollectionCount(ctx, "animals"))

	results := svc.QueryDocuments(ctx, "animals", []string{"feline"}, 2, nil, nil, nil)
	require.NotNil(t, results)
	require.Len(t, results.IDs, 1)
	require.Len(t, results.IDs[0], 2)

	// "feline" is closest to "cat", and distances come back ascending.
	assert.Equal(t, "id-cat", results.IDs[0][0])
	assert.Equal(t, "cat", results.Documents[0][0])
	assert.Equal(t, "mammal", results.Metadatas[0][0]["kind"])
	assert.LessOrEqual(t, results.Distances[0][0], results.Distances[0][1])

	// Parallel slices stay parallel.
	assert.Len(t, results.Documents[0], 2)
	assert.Len(t, results.Metadatas[0], 2)
	assert.Len(t, results.Distances[0], 2)
}

func TestQueryDocuments_MetadataFilter(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.GetOrCreateCollection(ctx, "animals", nil, nil)
	require.NoError(t, err)

	ok := svc.AddDocuments(ctx, "animals",
		[]string{"cat", "dog", "bird"},
		[]map[string]string{
			{"kind": "mammal"},
			{"kind": "mammal"},
			{"kind": "avian"},
		},
		[]string{"id-cat", "id-dog", "id-bird"},
		nil,
	)
	require.True(t, ok)

	results := svc.QueryDocuments(ctx, "animals", []string{"feline"}, 1,
		map[string]string{"kind": "avian"}, nil, nil)
	require.NotNil(t, results)
	require.Len(t, results.IDs[0], 1)
	assert.Equal(t, "id-bird", results.IDs[0][0])
}

func TestQueryDocuments_ResultCapAndDefault(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.GetOrCreateCollection(ctx, "animals", nil, nil)
	require.NoError(t, err)

	ok := svc.AddDocuments(ctx, "animals", []string{"cat", "dog"}, nil, nil, nil)
	require.True(t, ok)

	// Requested more results than documents: capped at the collection size.
	results := svc.QueryDocuments(ctx, "animals", []string{"feline"}, 50, nil, nil, nil)
	require.NotNil(t, results)
	assert.Len(t, results.IDs[0], 2)

	// nResults <= 0 selects the default, still capped.
	results = svc.QueryDocuments(ctx, "animals", []string{"feline"}, 0, nil, nil, nil)
	require.NotNil(t, results)
	assert.Len(t, results.IDs[0], 2)
}

func TestQueryDocuments_EmptyCollection(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.GetOrCreateCollection(ctx, "empty", nil, nil)
	require.NoError(t, err)

	results := svc.QueryDocuments(ctx, "empty", []string{"anything"}, 5, nil, nil, nil)
	require.NotNil(t, results)
	assert.Empty(t, results.IDs[0])
	assert.Empty(t, results.Documents[0])
	assert.Empty(t, results.Distances[0])
}

func TestQueryDocuments_IncludeSections(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.GetOrCreateCollection(ctx, "animals", nil, nil)
	require.NoError(t, err)
	require.True(t, svc.AddDocuments(ctx, "animals", []string{"cat"}, nil, []string{"id-cat"}, nil))

	results := svc.QueryDocuments(ctx, "animals", []string{"feline"}, 1, nil, nil,
		[]string{"distances"})
	require.NotNil(t, results)
	assert.Equal(t, "id-cat", results.IDs[0][0])
	assert.Len(t, results.Distances[0], 1)
	assert.Nil(t, results.Documents[0])
	assert.Nil(t, results.Metadatas[0])

	// An unrecognized section is a failure, not a silent no-op.
	assert.Nil(t, svc.QueryDocuments(ctx, "animals", []string{"feline"}, 1, nil, nil,
		[]string{"embeddings"}))
}

func TestQueryDocuments_UnknownCollection(t *testing.T) {
	svc := newTestService(t, nil)
	assert.Nil(t, svc.QueryDocuments(context.Background(), "missing", []string{"x"}, 5, nil, nil, nil))
}

func TestQueryDocuments_EmbeddingFailure(t *testing.T) {
	failing := &fakeProvider{dim: 3, failAll: true}
	svc := newTestService(t, failing)
	ctx := context.Background()

	_, err := svc.GetOrCreateCollection(ctx, "docs", nil, nil)
	require.NoError(t, err)

	// Seed with verbatim embeddings so the provider is not needed for the add.
	ok := svc.AddDocuments(ctx, "docs", []string{"a"}, nil, nil, [][]float32{{1, 0, 0}})
	require.True(t, ok)

	assert.Nil(t, svc.QueryDocuments(ctx, "docs", []string{"query"}, 1, nil, nil, nil))
}

func TestAddDocuments_UnknownCollection(t *testing.T) {
	svc := newTestService(t, nil)
	assert.False(t, svc.AddDocuments(context.Background(), "missing", []string{"x"}, nil, nil, nil))
}

func TestAddDocuments_LengthMismatch(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.GetOrCreateCollection(ctx, "docs", nil, nil)
	require.NoError(t, err)

	ok := svc.AddDocuments(ctx, "docs",
		[]string{"one", "two"},
		[]map[string]string{{"a": "1"}, {"a": "2"}, {"a": "3"}},
		nil, nil,
	)
	assert.False(t, ok)

	// A failed call inserts nothing.
	assert.Equal(t, 0, svc.GetCollectionCount(ctx, "docs"))

	ok = svc.AddDocuments(ctx, "docs", []string{"one", "two"}, nil, []string{"only-one"}, nil)
	assert.False(t, ok)
	assert.Equal(t, 0, svc.GetCollectionCount(ctx, "docs"))
}

func TestAddDocuments_DimensionMismatch(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.GetOrCreateCollection(ctx, "docs", nil, nil)
	require.NoError(t, err)

	// Collection dimension is 3; supplied vector is 5-dimensional.
	ok := svc.AddDocuments(ctx, "docs", []string{"one"}, nil, nil, [][]float32{{1, 2, 3, 4, 5}})
	assert.False(t, ok)
	assert.Equal(t, 0, svc.GetCollectionCount(ctx, "docs"))
}

func TestAddDocuments_GeneratedIDs(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.GetOrCreateCollection(ctx, "docs", nil, nil)
	require.NoError(t, err)

	ok := svc.AddDocuments(ctx, "docs", []string{"alpha", "beta"}, nil, nil, nil)
	require.True(t, ok)
	assert.Equal(t, 2, svc.GetCollectionCount(ctx, "docs"))

	results := svc.QueryDocuments(ctx, "docs", []string{"alpha"}, 2, nil, nil, nil)
	require.NotNil(t, results)
	for _, id := range results.IDs[0] {
		assert.NotEmpty(t, id)
	}
	// Missing metadatas default to empty maps, not nil.
	for _, meta := range results.Metadatas[0] {
		assert.NotNil(t, meta)
	}
}

func TestDeleteCollection(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.GetOrCreateCollection(ctx, "doomed", nil, nil)
	require.NoError(t, err)

	assert.True(t, svc.DeleteCollection(ctx, "doomed"))
	assert.False(t, svc.DeleteCollection(ctx, "doomed"))
	assert.Equal(t, -1, svc.GetCollectionCount(ctx, "doomed"))
}

func TestReset(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	for _, name := range []string{"one", "two"} {
		_, err := svc.GetOrCreateCollection(ctx, name, nil, nil)
		require.NoError(t, err)
	}
	require.True(t, svc.AddDocuments(ctx, "one", []string{"cat"}, nil, nil, nil))

	assert.True(t, svc.Reset(ctx))
	assert.Empty(t, svc.ListCollections(ctx))
	assert.Equal(t, -1, svc.GetCollectionCount(ctx, "one"))

	// Resetting an empty store succeeds.
	assert.True(t, svc.Reset(ctx))
}

func TestGetCollectionCount_Unknown(t *testing.T) {
	svc := newTestService(t, nil)
	assert.Equal(t, -1, svc.GetCollectionCount(context.Background(), "missing"))
}

func TestListCollections(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	assert.Empty(t, svc.ListCollections(ctx))

	for _, name := range []string{"zebra", "alpha", "mango"} {
		_, err := svc.GetOrCreateCollection(ctx, name, nil, nil)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"alpha", "mango", "zebra"}, svc.ListCollections(ctx))
}

func TestGetCollectionInfo(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.GetOrCreateCollection(ctx, "docs", nil, nil)
	require.NoError(t, err)
	require.True(t, svc.AddDocuments(ctx, "docs", []string{"cat"}, nil, nil, nil))

	info, err := svc.GetCollectionInfo(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, "docs", info.Name)
	assert.Equal(t, 1, info.Count)
	assert.Equal(t, 3, info.Dimension)

	_, err = svc.GetCollectionInfo(ctx, "missing")
	require.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestPersistenceAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	provider := newFakeProvider()
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	svc, err := NewService(Config{PersistPath: dir}, provider, logger)
	require.NoError(t, err)

	_, err = svc.GetOrCreateCollection(ctx, "durable", nil, nil)
	require.NoError(t, err)
	require.True(t, svc.AddDocuments(ctx, "durable", []string{"cat", "dog"}, nil, []string{"c", "d"}, nil))
	require.NoError(t, svc.Close())

	// A fresh service over the same directory sees the persisted collection
	// and rebinds it to its default provider.
	reopened, err := NewService(Config{PersistPath: dir}, provider, logger)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, []string{"durable"}, reopened.ListCollections(ctx))
	assert.Equal(t, 2, reopened.GetCollectionCount(ctx, "durable"))

	results := reopened.QueryDocuments(ctx, "durable", []string{"feline"}, 1, nil, nil, nil)
	require.NotNil(t, results)
	assert.Equal(t, "c", results.IDs[0][0])
}
