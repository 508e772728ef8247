package vector

import (
	"context"
	"time"
)

// Index is the interface for chunk-level vector storage and similarity
// search. The index is metadata-agnostic: it knows nothing about entities
// beyond the opaque back-reference carried in each record's metadata.
//
// Records are append-only. There is no update-in-place: an edit of a source
// entity is realized as ReplaceForEntity (delete all, insert fresh).
type Index interface {
	// Add appends one record with a precomputed embedding. Fails when the
	// embedding length does not match the index dimensionality.
	Add(rec Record) error

	// AddText embeds text through the embedding provider and appends the
	// resulting record.
	AddText(ctx context.Context, text string, meta Meta) error

	// Search returns up to topK records ordered by descending similarity to
	// the query vector. Ties break by insertion order, earliest first.
	Search(vector []float32, topK int) ([]Scored, error)

	// SearchText embeds the query text and runs Search.
	SearchText(ctx context.Context, query string, topK int) ([]Scored, error)

	// DeleteWhere removes all records matching the metadata filter. A filter
	// matching nothing is a no-op, not an error.
	DeleteWhere(f Filter) error

	// ReplaceForEntity atomically swaps every record owned by entityID for
	// the given fresh set. Readers never observe the torn state between
	// delete and insert.
	ReplaceForEntity(entityID string, recs []Record) error

	// Count returns the number of stored records.
	Count() (int, error)
}

// Meta is the back-reference metadata attached to a record at insert time.
type Meta struct {
	EntityID string
	Kind     string            // "chunk", "attachment", ...
	Seq      int               // chunk sequence within the entity
	Extra    map[string]string // open key-value bag
}

// Record is one stored chunk: its source text, embedding, and metadata.
type Record struct {
	ID        string
	EntityID  string
	Kind      string
	Seq       int
	Document  string
	Embedding []float32
	Extra     map[string]string
	CreatedAt time.Time
}

// Scored is a Record with a similarity score attached. Scores are cosine
// similarities in [-1, 1]; callers should only rely on "higher is more
// similar".
type Scored struct {
	Record
	Similarity float32
}

// Filter selects records by metadata. Zero fields match anything.
type Filter struct {
	EntityID string
	Kind     string
}
