// Package search turns free-text queries into ranked entity results. Chunk
// hits from the vector index are collapsed to entity-level relevance and
// joined back against the entity store.
package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/thillai/mandi/internal/storage"
	"github.com/thillai/mandi/internal/vector"
)

// DefaultOverfetch compensates for the chunk-to-entity collapse: several
// chunk hits can belong to one entity, so the index is asked for more
// records than the caller's limit.
const DefaultOverfetch = 4

// EntityReader is the slice of the entity store the searcher reads through.
type EntityReader interface {
	GetEntities(ctx context.Context, ids []string) ([]storage.Entity, error)
	ListEntities(filter storage.EntityFilter) ([]storage.Entity, error)
	PersonsOf(entityID string) ([]storage.PersonLink, error)
}

// IndexSearcher is the query side of the vector index.
type IndexSearcher interface {
	SearchText(ctx context.Context, query string, topK int) ([]vector.Scored, error)
}

// Filter narrows search results by relational fields. It is applied after
// semantic ranking so it never biases which entities matched.
type Filter struct {
	Status storage.EntityStatus
	Type   storage.EntityType
}

// Result is an entity with its query relevance attached. Scored is false on
// plain (empty-query) listings, where Similarity carries no meaning.
type Result struct {
	storage.Entity
	Similarity float32
	Scored     bool
}

// Searcher coordinates vector lookup, chunk-to-entity aggregation, and the
// relational join.
type Searcher struct {
	store     EntityReader
	index     IndexSearcher
	overfetch int
}

// New creates a Searcher. overfetch below 2 is raised to DefaultOverfetch.
func New(store EntityReader, index IndexSearcher, overfetch int) *Searcher {
	if overfetch < 2 {
		overfetch = DefaultOverfetch
	}
	return &Searcher{store: store, index: index, overfetch: overfetch}
}

// Search returns up to limit entities ranked by relevance to query.
//
// An empty (or whitespace) query bypasses the index entirely and returns the
// plain relational listing. A non-empty query that matches nothing returns
// an empty ranked list; the two cases are deliberately distinct.
func (s *Searcher) Search(ctx context.Context, query string, filter Filter, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 20
	}

	if strings.TrimSpace(query) == "" {
		return s.plainListing(filter, limit)
	}

	scored, err := s.index.SearchText(ctx, query, limit*s.overfetch)
	if err != nil {
		return nil, fmt.Errorf("querying vector index: %w", err)
	}
	if len(scored) == 0 {
		return []Result{}, nil
	}

	// Collapse chunk hits to entities: an entity's relevance is the maximum
	// similarity among its chunks, and entities keep the order of their
	// best-ranked first occurrence.
	ids, best := aggregateByEntity(scored)

	entities, err := s.store.GetEntities(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetching matched entities: %w", err)
	}

	// Dangling vector records (entity deleted, vectors missed) drop out here
	// simply by not being fetched.
	byID := make(map[string]storage.Entity, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}

	results := make([]Result, 0, len(ids))
	for _, id := range ids {
		e, ok := byID[id]
		if !ok {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		results = append(results, Result{Entity: e, Similarity: best[id], Scored: true})
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

// aggregateByEntity groups scored chunks by owning entity, taking the MAX
// similarity per entity. The input is ordered by similarity descending with
// deterministic tie-breaks, so first occurrence order is already the final
// ranking: a later chunk of an already-seen entity can never raise its max.
func aggregateByEntity(scored []vector.Scored) (ids []string, best map[string]float32) {
	best = make(map[string]float32)
	for _, sc := range scored {
		if _, seen := best[sc.EntityID]; !seen {
			ids = append(ids, sc.EntityID)
			best[sc.EntityID] = sc.Similarity
			continue
		}
		if sc.Similarity > best[sc.EntityID] {
			best[sc.EntityID] = sc.Similarity
		}
	}
	return ids, best
}

func (s *Searcher) plainListing(filter Filter, limit int) ([]Result, error) {
	entities, err := s.store.ListEntities(storage.EntityFilter{
		Status: filter.Status,
		Type:   filter.Type,
		Limit:  limit,
	})
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	results := make([]Result, len(entities))
	for i, e := range entities {
		results[i] = Result{Entity: e}
	}
	return results, nil
}
