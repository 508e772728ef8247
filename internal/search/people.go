package search

import (
	"context"

	"github.com/thillai/mandi/internal/storage"
)

// PersonMatch is a person surfaced through the entities they are linked to.
type PersonMatch struct {
	PersonID   string       `json:"person_id"`
	Role       storage.Role `json:"role"`
	EntityID   string       `json:"entity_id"`  // first matching entity that surfaced this person
	Similarity float32      `json:"similarity"` // relevance of that entity
}

// SearchPeople resolves people linked to semantically matching entities,
// optionally restricted to one role. Each person appears once, at the
// position of the first (most relevant) entity that surfaced them.
func (s *Searcher) SearchPeople(ctx context.Context, query string, role storage.Role, limit int) ([]PersonMatch, error) {
	if limit <= 0 {
		limit = 20
	}

	results, err := s.Search(ctx, query, Filter{}, limit*s.overfetch)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var matches []PersonMatch
	for _, res := range results {
		links, err := s.store.PersonsOf(res.ID)
		if err != nil {
			return nil, err
		}
		for _, l := range links {
			if role != "" && l.Role != role {
				continue
			}
			if seen[l.PersonID] {
				continue
			}
			seen[l.PersonID] = true
			matches = append(matches, PersonMatch{
				PersonID:   l.PersonID,
				Role:       l.Role,
				EntityID:   res.ID,
				Similarity: res.Similarity,
			})
			if len(matches) == limit {
				return matches, nil
			}
		}
	}
	return matches, nil
}
