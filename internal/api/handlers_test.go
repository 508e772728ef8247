package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/thillai/mandi/internal/embed"
	"github.com/thillai/mandi/internal/search"
	"github.com/thillai/mandi/internal/storage"
	"github.com/thillai/mandi/internal/vector"
)

const testToken = "test-token"

// fakeIndex serves canned hits so handler tests need no embedding provider.
type fakeIndex struct {
	hits []vector.Scored
	err  error
}

func (f *fakeIndex) SearchText(context.Context, string, int) ([]vector.Scored, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

func newTestAPI(t *testing.T, index *fakeIndex) (http.Handler, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if index == nil {
		index = &fakeIndex{}
	}
	handler := NewHandler(Deps{
		Store:    store,
		Searcher: search.New(store, index, 4),
		Token:    testToken,
	})
	return handler, store
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encoding body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
}

func createTestEntity(t *testing.T, h http.Handler, body map[string]any) string {
	t.Helper()
	rec := doRequest(t, h, http.MethodPost, "/entities", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create entity: status %d: %s", rec.Code, rec.Body.String())
	}
	var out map[string]string
	decodeResponse(t, rec, &out)
	return out["id"]
}

func TestHealthUnauthenticated(t *testing.T) {
	h, _ := newTestAPI(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	h, _ := newTestAPI(t, nil)

	cases := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong token", "Bearer nope"},
		{"wrong scheme", "Basic " + testToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/entities", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestCreateAndGetEntity(t *testing.T) {
	h, store := newTestAPI(t, nil)

	id := createTestEntity(t, h, map[string]any{
		"type":        "product",
		"title":       "Ceylon cinnamon",
		"description": "true cinnamon quills",
		"tags":        []string{"spice"},
		"value":       6.5,
		"quantity":    20,
	})

	rec := doRequest(t, h, http.MethodGet, "/entities/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status %d", rec.Code)
	}
	var got storage.Entity
	decodeResponse(t, rec, &got)
	if got.Title != "Ceylon cinnamon" || got.Type != storage.TypeProduct {
		t.Errorf("entity = %+v", got)
	}
	if got.Payload.Description != "true cinnamon quills" {
		t.Errorf("description = %q", got.Payload.Description)
	}
	if got.Status != storage.StatusActive {
		t.Errorf("status = %q, want active default", got.Status)
	}

	// The mutation must queue a reindex job.
	job, err := store.ClaimNextJob([]string{"entity_reindex"})
	if err != nil {
		t.Fatalf("claiming job: %v", err)
	}
	if job == nil {
		t.Fatal("no reindex job enqueued")
	}
	if !strings.Contains(job.PayloadJSON, id) {
		t.Errorf("job payload %q does not name the entity", job.PayloadJSON)
	}
}

func TestCreateEntity_ValidationError(t *testing.T) {
	h, _ := newTestAPI(t, nil)

	rec := doRequest(t, h, http.MethodPost, "/entities", map[string]any{
		"type":  "warehouse",
		"title": "x",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	decodeResponse(t, rec, &body)
	if body.Error.Type != "invalid_request_error" {
		t.Errorf("error type = %q", body.Error.Type)
	}
}

func TestCreateEntity_MalformedBody(t *testing.T) {
	h, _ := newTestAPI(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/entities", strings.NewReader("{broken"))
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetEntity_NotFound(t *testing.T) {
	h, _ := newTestAPI(t, nil)

	rec := doRequest(t, h, http.MethodGet, "/entities/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestUpdateEntity(t *testing.T) {
	h, _ := newTestAPI(t, nil)
	id := createTestEntity(t, h, map[string]any{"type": "product", "title": "old"})

	rec := doRequest(t, h, http.MethodPatch, "/entities/"+id, map[string]any{
		"title":  "new title",
		"status": "completed",
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("patch: status %d: %s", rec.Code, rec.Body.String())
	}

	var got storage.Entity
	decodeResponse(t, doRequest(t, h, http.MethodGet, "/entities/"+id, nil), &got)
	if got.Title != "new title" || got.Status != storage.StatusCompleted {
		t.Errorf("entity after patch = %+v", got)
	}
}

func TestDeleteEntity(t *testing.T) {
	h, store := newTestAPI(t, nil)
	id := createTestEntity(t, h, map[string]any{"type": "product", "title": "x"})

	// Drain the create's reindex job first.
	if _, err := store.ClaimNextJob([]string{"entity_reindex"}); err != nil {
		t.Fatalf("claiming job: %v", err)
	}

	rec := doRequest(t, h, http.MethodDelete, "/entities/"+id, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", rec.Code)
	}
	if rec := doRequest(t, h, http.MethodGet, "/entities/"+id, nil); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: status %d, want 404", rec.Code)
	}

	job, err := store.ClaimNextJob([]string{"entity_unindex"})
	if err != nil {
		t.Fatalf("claiming job: %v", err)
	}
	if job == nil {
		t.Error("no unindex job enqueued on delete")
	}
}

func TestPeopleEndpoints(t *testing.T) {
	h, _ := newTestAPI(t, nil)
	id := createTestEntity(t, h, map[string]any{"type": "product", "title": "x"})

	rec := doRequest(t, h, http.MethodPost, "/entities/"+id+"/people", map[string]any{
		"role":       "buyer",
		"person_ids": []string{"p1", "p2", ""},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("add people: status %d: %s", rec.Code, rec.Body.String())
	}
	var res struct {
		Succeeded []string          `json:"succeeded"`
		Failed    map[string]string `json:"failed"`
	}
	decodeResponse(t, rec, &res)
	if len(res.Succeeded) != 2 || len(res.Failed) != 1 {
		t.Errorf("bulk result = %+v", res)
	}

	var links []storage.PersonLink
	decodeResponse(t, doRequest(t, h, http.MethodGet, "/entities/"+id+"/people", nil), &links)
	if len(links) != 2 {
		t.Fatalf("got %d links, want 2", len(links))
	}

	rec = doRequest(t, h, http.MethodDelete, "/entities/"+id+"/people/p1?role=buyer", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("remove person: status %d", rec.Code)
	}
	links = nil
	decodeResponse(t, doRequest(t, h, http.MethodGet, "/entities/"+id+"/people", nil), &links)
	if len(links) != 1 || links[0].PersonID != "p2" {
		t.Errorf("links after removal = %v", links)
	}

	var entities []storage.Entity
	decodeResponse(t, doRequest(t, h, http.MethodGet, "/people/p2/entities", nil), &entities)
	if len(entities) != 1 || entities[0].ID != id {
		t.Errorf("entities of p2 = %v", entities)
	}
}

func TestTaskLifecycleEndpoints(t *testing.T) {
	h, _ := newTestAPI(t, nil)
	entityID := createTestEntity(t, h, map[string]any{"type": "product", "title": "x"})

	rec := doRequest(t, h, http.MethodPost, "/tasks", map[string]any{
		"entity_id": entityID,
		"person_id": "p1",
		"type":      "deliver",
		"priority":  2,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create task: status %d: %s", rec.Code, rec.Body.String())
	}
	var created map[string]string
	decodeResponse(t, rec, &created)
	taskID := created["id"]

	var tasks []storage.Task
	decodeResponse(t, doRequest(t, h, http.MethodGet, "/tasks?status=pending", nil), &tasks)
	if len(tasks) != 1 || tasks[0].Title != "deliver" {
		t.Errorf("tasks = %v, want title defaulted to type", tasks)
	}

	rec = doRequest(t, h, http.MethodPost, "/tasks/"+taskID+"/status", map[string]any{"status": "completed"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status update: %d: %s", rec.Code, rec.Body.String())
	}

	// Completed tasks cannot reopen.
	rec = doRequest(t, h, http.MethodPost, "/tasks/"+taskID+"/status", map[string]any{"status": "pending"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("reopen: status %d, want 400", rec.Code)
	}

	decodeResponse(t, doRequest(t, h, http.MethodGet, "/entities/"+entityID+"/tasks", nil), &tasks)
	if len(tasks) != 1 || tasks[0].Status != storage.TaskCompleted {
		t.Errorf("entity tasks = %v", tasks)
	}
}

func TestSearchEndpoint(t *testing.T) {
	index := &fakeIndex{}
	h, _ := newTestAPI(t, index)
	id := createTestEntity(t, h, map[string]any{"type": "product", "title": "sesame oil"})
	index.hits = []vector.Scored{
		{Record: vector.Record{EntityID: id}, Similarity: 0.87},
	}

	var results []struct {
		ID         string   `json:"id"`
		Title      string   `json:"title"`
		Similarity *float32 `json:"similarity"`
	}
	rec := doRequest(t, h, http.MethodGet, "/search?q=oil", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("search: status %d: %s", rec.Code, rec.Body.String())
	}
	decodeResponse(t, rec, &results)
	if len(results) != 1 || results[0].ID != id {
		t.Fatalf("results = %v", results)
	}
	if results[0].Similarity == nil || *results[0].Similarity != 0.87 {
		t.Errorf("similarity = %v, want 0.87", results[0].Similarity)
	}

	// Empty query lists without scores.
	results = nil
	decodeResponse(t, doRequest(t, h, http.MethodGet, "/search", nil), &results)
	if len(results) != 1 {
		t.Fatalf("listing results = %v", results)
	}
	if results[0].Similarity != nil {
		t.Error("plain listing must omit similarity")
	}
}

func TestSearchEndpoint_ProviderDown(t *testing.T) {
	index := &fakeIndex{err: fmt.Errorf("embedding query: %w", embed.ErrUnavailable)}
	h, _ := newTestAPI(t, index)

	rec := doRequest(t, h, http.MethodGet, "/search?q=oil", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestSearchPeopleEndpoint(t *testing.T) {
	index := &fakeIndex{}
	h, _ := newTestAPI(t, index)
	id := createTestEntity(t, h, map[string]any{"type": "product", "title": "x"})
	doRequest(t, h, http.MethodPost, "/entities/"+id+"/people", map[string]any{
		"role": "seller", "person_ids": []string{"p1"},
	})
	index.hits = []vector.Scored{{Record: vector.Record{EntityID: id}, Similarity: 0.7}}

	var matches []struct {
		PersonID string `json:"person_id"`
		Role     string `json:"role"`
	}
	rec := doRequest(t, h, http.MethodGet, "/search/people?q=x", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	decodeResponse(t, rec, &matches)
	if len(matches) != 1 || matches[0].PersonID != "p1" || matches[0].Role != "seller" {
		t.Errorf("matches = %v", matches)
	}
}

func TestStatsEndpoint(t *testing.T) {
	h, _ := newTestAPI(t, nil)
	createTestEntity(t, h, map[string]any{"type": "product", "title": "a"})
	createTestEntity(t, h, map[string]any{"type": "service", "title": "b"})

	var stats struct {
		Entities       int            `json:"entities"`
		EntitiesByType map[string]int `json:"entities_by_type"`
	}
	rec := doRequest(t, h, http.MethodGet, "/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: status %d", rec.Code)
	}
	decodeResponse(t, rec, &stats)
	if stats.Entities != 2 || stats.EntitiesByType["product"] != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestAttachmentEndpoint(t *testing.T) {
	h, store := newTestAPI(t, nil)
	id := createTestEntity(t, h, map[string]any{"type": "product", "title": "x"})
	if _, err := store.ClaimNextJob([]string{"entity_reindex"}); err != nil {
		t.Fatalf("claiming job: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/entities/"+id+"/attachments",
		strings.NewReader("warranty terms and conditions"))
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("attachment: status %d: %s", rec.Code, rec.Body.String())
	}

	var got storage.Entity
	decodeResponse(t, doRequest(t, h, http.MethodGet, "/entities/"+id, nil), &got)
	docs, _ := got.Payload.Extra["documents"].([]any)
	if len(docs) != 1 || docs[0] != "warranty terms and conditions" {
		t.Errorf("documents = %v", docs)
	}

	// Attachment ingestion schedules a reindex.
	job, err := store.ClaimNextJob([]string{"entity_reindex"})
	if err != nil {
		t.Fatalf("claiming job: %v", err)
	}
	if job == nil {
		t.Error("no reindex job after attachment")
	}
}
