package vectorstore

// QueryResults holds nearest-neighbor results for a batch of query texts.
//
// All fields are parallel: row i holds the matches for query i, ordered by
// ascending distance (closest first).
type QueryResults struct {
	IDs       [][]string            `json:"ids"`
	Documents [][]string            `json:"documents"`
	Metadatas [][]map[string]string `json:"metadatas"`
	Distances [][]float32           `json:"distances"`
}

// CollectionInfo contains metadata about a vector collection.
type CollectionInfo struct {
	// Name is the collection name.
	Name string `json:"name"`

	// Count is the number of documents in the collection.
	Count int `json:"count"`

	// Dimension is the vector dimensionality bound to this collection.
	Dimension int `json:"dimension"`
}
