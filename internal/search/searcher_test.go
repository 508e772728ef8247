package search

import (
	"context"
	"errors"
	"testing"

	"github.com/thillai/mandi/internal/storage"
	"github.com/thillai/mandi/internal/vector"
)

// fakeReader serves entities from a map and records listing calls.
type fakeReader struct {
	entities map[string]storage.Entity
	links    map[string][]storage.PersonLink
	listed   []storage.EntityFilter
}

func newFakeReader(entities ...storage.Entity) *fakeReader {
	r := &fakeReader{
		entities: make(map[string]storage.Entity),
		links:    make(map[string][]storage.PersonLink),
	}
	for _, e := range entities {
		r.entities[e.ID] = e
	}
	return r
}

func (r *fakeReader) GetEntities(_ context.Context, ids []string) ([]storage.Entity, error) {
	var out []storage.Entity
	for _, id := range ids {
		if e, ok := r.entities[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeReader) ListEntities(f storage.EntityFilter) ([]storage.Entity, error) {
	r.listed = append(r.listed, f)
	var out []storage.Entity
	for _, e := range r.entities {
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (r *fakeReader) PersonsOf(entityID string) ([]storage.PersonLink, error) {
	return r.links[entityID], nil
}

// fakeIndex returns a canned hit list for any query.
type fakeIndex struct {
	hits []vector.Scored
	err  error
	topK int
}

func (f *fakeIndex) SearchText(_ context.Context, _ string, topK int) ([]vector.Scored, error) {
	f.topK = topK
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

func hit(entityID string, sim float32) vector.Scored {
	return vector.Scored{Record: vector.Record{EntityID: entityID}, Similarity: sim}
}

func TestSearch_RankingAndAggregation(t *testing.T) {
	reader := newFakeReader(
		storage.Entity{ID: "e1", Type: storage.TypeProduct, Status: storage.StatusActive},
		storage.Entity{ID: "e2", Type: storage.TypeProduct, Status: storage.StatusActive},
	)
	// e1 has two chunk hits; only its best score must survive.
	index := &fakeIndex{hits: []vector.Scored{
		hit("e1", 0.9),
		hit("e2", 0.8),
		hit("e1", 0.7),
	}}
	s := New(reader, index, 4)

	results, err := s.Search(context.Background(), "spices", Filter{}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (chunks collapsed per entity)", len(results))
	}
	if results[0].ID != "e1" || results[0].Similarity != 0.9 {
		t.Errorf("results[0] = %s/%f, want e1/0.9", results[0].ID, results[0].Similarity)
	}
	if results[1].ID != "e2" || results[1].Similarity != 0.8 {
		t.Errorf("results[1] = %s/%f, want e2/0.8", results[1].ID, results[1].Similarity)
	}
	if !results[0].Scored {
		t.Error("ranked results must be marked scored")
	}
	if index.topK != 40 {
		t.Errorf("index asked for %d records, want limit*overfetch = 40", index.topK)
	}
}

func TestSearch_DanglingHitDropped(t *testing.T) {
	reader := newFakeReader(storage.Entity{ID: "e2", Status: storage.StatusActive})
	index := &fakeIndex{hits: []vector.Scored{
		hit("deleted", 0.99),
		hit("e2", 0.5),
	}}
	s := New(reader, index, 4)

	results, err := s.Search(context.Background(), "q", Filter{}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "e2" {
		t.Fatalf("results = %v, want only e2", results)
	}
}

func TestSearch_FilterAppliedAfterRanking(t *testing.T) {
	reader := newFakeReader(
		storage.Entity{ID: "e1", Type: storage.TypeProduct, Status: storage.StatusCancelled},
		storage.Entity{ID: "e2", Type: storage.TypeService, Status: storage.StatusActive},
		storage.Entity{ID: "e3", Type: storage.TypeProduct, Status: storage.StatusActive},
	)
	index := &fakeIndex{hits: []vector.Scored{
		hit("e1", 0.9),
		hit("e2", 0.8),
		hit("e3", 0.7),
	}}
	s := New(reader, index, 4)

	results, err := s.Search(context.Background(), "q", Filter{
		Status: storage.StatusActive,
		Type:   storage.TypeProduct,
	}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "e3" {
		t.Fatalf("results = %v, want only e3", results)
	}
}

func TestSearch_LimitCapsResults(t *testing.T) {
	reader := newFakeReader(
		storage.Entity{ID: "e1"}, storage.Entity{ID: "e2"}, storage.Entity{ID: "e3"},
	)
	index := &fakeIndex{hits: []vector.Scored{
		hit("e1", 0.9), hit("e2", 0.8), hit("e3", 0.7),
	}}
	s := New(reader, index, 4)

	results, err := s.Search(context.Background(), "q", Filter{}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("got %d results, want 2", len(results))
	}
}

func TestSearch_EmptyQueryIsPlainListing(t *testing.T) {
	reader := newFakeReader(storage.Entity{ID: "e1"})
	index := &fakeIndex{err: errors.New("index must not be queried")}
	s := New(reader, index, 4)

	results, err := s.Search(context.Background(), "   ", Filter{Type: storage.TypeProduct}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Scored {
		t.Errorf("results = %v, want one unscored listing row", results)
	}
	if len(reader.listed) != 1 || reader.listed[0].Type != storage.TypeProduct || reader.listed[0].Limit != 5 {
		t.Errorf("listing filter = %v", reader.listed)
	}
}

func TestSearch_NoHitsIsEmptyNotNil(t *testing.T) {
	s := New(newFakeReader(), &fakeIndex{}, 4)

	results, err := s.Search(context.Background(), "nothing like this", Filter{}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("results = %v, want empty non-nil slice", results)
	}
}

func TestSearch_IndexErrorPropagates(t *testing.T) {
	s := New(newFakeReader(), &fakeIndex{err: errors.New("boom")}, 4)

	if _, err := s.Search(context.Background(), "q", Filter{}, 5); err == nil {
		t.Fatal("expected index error")
	}
}

func TestNew_OverfetchFloor(t *testing.T) {
	index := &fakeIndex{hits: []vector.Scored{hit("e1", 0.9)}}
	s := New(newFakeReader(storage.Entity{ID: "e1"}), index, 1)

	if _, err := s.Search(context.Background(), "q", Filter{}, 10); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if index.topK != 10*DefaultOverfetch {
		t.Errorf("topK = %d, want overfetch raised to default", index.topK)
	}
}

func TestSearchPeople(t *testing.T) {
	reader := newFakeReader(
		storage.Entity{ID: "e1"},
		storage.Entity{ID: "e2"},
	)
	reader.links["e1"] = []storage.PersonLink{
		{PersonID: "p1", Role: storage.RoleSeller},
		{PersonID: "p2", Role: storage.RoleBuyer},
	}
	reader.links["e2"] = []storage.PersonLink{
		{PersonID: "p1", Role: storage.RoleSeller}, // duplicate person, lower relevance
		{PersonID: "p3", Role: storage.RoleDriver},
	}
	index := &fakeIndex{hits: []vector.Scored{hit("e1", 0.9), hit("e2", 0.6)}}
	s := New(reader, index, 4)

	matches, err := s.SearchPeople(context.Background(), "q", "", 10)
	if err != nil {
		t.Fatalf("SearchPeople: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("got %d matches, want 3 deduped people", len(matches))
	}
	if matches[0].PersonID != "p1" || matches[0].EntityID != "e1" || matches[0].Similarity != 0.9 {
		t.Errorf("matches[0] = %+v, want p1 via its most relevant entity", matches[0])
	}

	sellers, err := s.SearchPeople(context.Background(), "q", storage.RoleSeller, 10)
	if err != nil {
		t.Fatalf("SearchPeople role filter: %v", err)
	}
	if len(sellers) != 1 || sellers[0].PersonID != "p1" {
		t.Errorf("sellers = %v", sellers)
	}
}
