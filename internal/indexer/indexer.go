// Package indexer owns the write path of the semantic index: whenever an
// entity changes, its chunk set is re-embedded and swapped atomically.
package indexer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/thillai/mandi/internal/embed"
	"github.com/thillai/mandi/internal/storage"
	"github.com/thillai/mandi/internal/vector"
)

// IndexWriter is the slice of the vector index the indexer writes through.
type IndexWriter interface {
	ReplaceForEntity(entityID string, recs []vector.Record) error
	DeleteWhere(f vector.Filter) error
}

// Indexer sequences per-entity index mutations. Concurrent reindex calls for
// different entities proceed in parallel; calls for the same entity queue on
// a per-entity lock, so a reader never races a half-replaced chunk set.
type Indexer struct {
	provider embed.Provider
	index    IndexWriter
	chunker  vector.Chunker

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an Indexer.
func New(provider embed.Provider, index IndexWriter, chunker vector.Chunker) *Indexer {
	return &Indexer{
		provider: provider,
		index:    index,
		chunker:  chunker,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (ix *Indexer) entityLock(id string) *sync.Mutex {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	l, ok := ix.locks[id]
	if !ok {
		l = &sync.Mutex{}
		ix.locks[id] = l
	}
	return l
}

// IndexText returns the text an entity contributes to the semantic index:
// title, payload description and tags, location, and any attached document
// text carried in the payload's "documents" extra.
func IndexText(e storage.Entity) string {
	parts := []string{e.Title}
	if t := e.Payload.IndexText(); t != "" {
		parts = append(parts, t)
	}
	if e.Location != "" {
		parts = append(parts, e.Location)
	}
	if docs, ok := e.Payload.Extra["documents"].([]any); ok {
		for _, d := range docs {
			if text, ok := d.(string); ok && text != "" {
				parts = append(parts, text)
			}
		}
	}
	return strings.Join(parts, "\n")
}

// Reindex re-chunks and re-embeds an entity's text, then swaps the entity's
// records in one transaction. All embeddings are computed before anything is
// deleted: a provider failure leaves the previously indexed state untouched.
func (ix *Indexer) Reindex(ctx context.Context, e storage.Entity) error {
	l := ix.entityLock(e.ID)
	l.Lock()
	defer l.Unlock()

	chunks := ix.chunker.Split(IndexText(e))
	vecs, err := embed.Batch(ctx, ix.provider, chunks)
	if err != nil {
		return fmt.Errorf("embedding %d chunks for entity %s: %w", len(chunks), e.ID, err)
	}

	recs := make([]vector.Record, len(chunks))
	now := time.Now().UTC()
	for i, chunk := range chunks {
		recs[i] = vector.Record{
			Kind:      "chunk",
			Seq:       i,
			Document:  chunk,
			Embedding: vecs[i],
			CreatedAt: now,
		}
	}

	if err := ix.index.ReplaceForEntity(e.ID, recs); err != nil {
		return fmt.Errorf("replacing vectors for entity %s: %w", e.ID, err)
	}
	return nil
}

// Unindex drops every record owned by an entity. Dropping an entity that was
// never indexed is a no-op.
func (ix *Indexer) Unindex(entityID string) error {
	l := ix.entityLock(entityID)
	l.Lock()
	defer l.Unlock()

	return ix.index.DeleteWhere(vector.Filter{EntityID: entityID})
}
