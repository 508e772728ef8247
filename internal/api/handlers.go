// Package api is the HTTP surface consumed by the mobile client. All
// operations return plain data; rendering is the client's concern.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/thillai/mandi/internal/embed"
	"github.com/thillai/mandi/internal/indexer"
	"github.com/thillai/mandi/internal/search"
	"github.com/thillai/mandi/internal/storage"
)

const maxRequestBodySize = 1 << 20   // 1MB
const maxAttachmentSize = 10 << 20   // 10MB

// Deps holds the dependencies shared by all handlers.
type Deps struct {
	Store    *storage.Store
	Searcher *search.Searcher
	Token    string
}

// NewHandler builds the chi router for the full API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/entities", handleCreateEntity(deps))
		r.Get("/entities", handleListEntities(deps))
		r.Get("/entities/{id}", handleGetEntity(deps))
		r.Patch("/entities/{id}", handleUpdateEntity(deps))
		r.Delete("/entities/{id}", handleDeleteEntity(deps))

		r.Get("/entities/{id}/people", handlePersonsOf(deps))
		r.Post("/entities/{id}/people", handleAddPeople(deps))
		r.Delete("/entities/{id}/people/{personID}", handleRemovePerson(deps))

		r.Get("/entities/{id}/tasks", handleTasksOfEntity(deps))
		r.Delete("/entities/{id}/tasks", handleDeleteEntityTasks(deps))
		r.Post("/entities/{id}/order-tasks", handleCreateOrderTasks(deps))
		r.Post("/entities/{id}/attachments", handleAttachment(deps))

		r.Post("/tasks", handleCreateTask(deps))
		r.Get("/tasks", handleListTasks(deps))
		r.Get("/tasks/overdue", handleOverdueTasks(deps))
		r.Get("/tasks/due-soon", handleDueSoon(deps))
		r.Patch("/tasks/{id}", handleUpdateTask(deps))
		r.Post("/tasks/{id}/status", handleTaskStatus(deps))
		r.Delete("/tasks/{id}", handleDeleteTask(deps))

		r.Get("/people/{id}/entities", handleEntitiesOf(deps))

		r.Get("/stats", handleStats(deps))
		r.Get("/search", handleSearch(deps))
		r.Get("/search/people", handleSearchPeople(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// EntityRequest is the JSON body for entity creation and patches.
type EntityRequest struct {
	Type        *string        `json:"type"`
	Title       *string        `json:"title"`
	Description *string        `json:"description"`
	Tags        []string       `json:"tags"`
	Extra       map[string]any `json:"extra"`
	Value       *float64       `json:"value"`
	Quantity    *int           `json:"quantity"`
	Location    *string        `json:"location"`
	Status      *string        `json:"status"`
}

func handleCreateEntity(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EntityRequest
		if !decodeBody(w, r, &req) {
			return
		}

		e := storage.Entity{}
		if req.Type != nil {
			e.Type = storage.EntityType(*req.Type)
		}
		if req.Title != nil {
			e.Title = *req.Title
		}
		if req.Value != nil {
			e.Value = *req.Value
		}
		if req.Quantity != nil {
			e.Quantity = *req.Quantity
		}
		if req.Location != nil {
			e.Location = *req.Location
		}
		if req.Status != nil {
			e.Status = storage.EntityStatus(*req.Status)
		}
		if req.Description != nil {
			e.Payload.Description = *req.Description
		}
		e.Payload.Tags = req.Tags
		e.Payload.Extra = req.Extra

		id, err := deps.Store.CreateEntity(e)
		if err != nil {
			writeError(w, err)
			return
		}

		enqueueReindex(deps, id)
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	}
}

func handleGetEntity(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := deps.Store.GetEntity(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, e)
	}
}

func handleListEntities(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := storage.EntityFilter{
			Status: storage.EntityStatus(r.URL.Query().Get("status")),
			Type:   storage.EntityType(r.URL.Query().Get("type")),
			Limit:  queryInt(r, "limit", 50),
		}
		entities, err := deps.Store.ListEntities(filter)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entities)
	}
}

func handleUpdateEntity(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req EntityRequest
		if !decodeBody(w, r, &req) {
			return
		}

		patch := storage.EntityPatch{
			Title:    req.Title,
			Value:    req.Value,
			Quantity: req.Quantity,
			Location: req.Location,
		}
		if req.Type != nil {
			t := storage.EntityType(*req.Type)
			patch.Type = &t
		}
		if req.Status != nil {
			s := storage.EntityStatus(*req.Status)
			patch.Status = &s
		}
		if req.Description != nil || req.Tags != nil || req.Extra != nil {
			e, err := deps.Store.GetEntity(id)
			if err != nil {
				writeError(w, err)
				return
			}
			p := e.Payload
			if req.Description != nil {
				p.Description = *req.Description
			}
			if req.Tags != nil {
				p.Tags = req.Tags
			}
			if req.Extra != nil {
				p.Extra = req.Extra
			}
			patch.Payload = &p
		}

		if err := deps.Store.UpdateEntity(id, patch); err != nil {
			writeError(w, err)
			return
		}

		enqueueReindex(deps, id)
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleDeleteEntity(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Store.DeleteEntity(id); err != nil {
			writeError(w, err)
			return
		}
		if err := indexer.EnqueueUnindex(deps.Store, uuid.New().String(), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// PeopleRequest is the JSON body for bulk person linking.
type PeopleRequest struct {
	Role      string   `json:"role"`
	PersonIDs []string `json:"person_ids"`
}

func handleAddPeople(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PeopleRequest
		if !decodeBody(w, r, &req) {
			return
		}
		res, err := deps.Store.AddPeopleToEntity(chi.URLParam(r, "id"), req.PersonIDs, storage.Role(req.Role))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handlePersonsOf(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		links, err := deps.Store.PersonsOf(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, links)
	}
}

func handleRemovePerson(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.RemovePersonLink(
			chi.URLParam(r, "id"),
			chi.URLParam(r, "personID"),
			storage.Role(r.URL.Query().Get("role")),
		)
		if err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleEntitiesOf(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entities, err := deps.Store.EntitiesOf(chi.URLParam(r, "id"), storage.Role(r.URL.Query().Get("role")))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entities)
	}
}

// TaskRequest is the JSON body for task creation and patches.
type TaskRequest struct {
	EntityID *string    `json:"entity_id"`
	PersonID *string    `json:"person_id"`
	Type     *string    `json:"type"`
	Title    *string    `json:"title"`
	Priority *int       `json:"priority"`
	Due      *time.Time `json:"due"`
}

func handleCreateTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TaskRequest
		if !decodeBody(w, r, &req) {
			return
		}
		t := storage.Task{}
		if req.EntityID != nil {
			t.EntityID = *req.EntityID
		}
		if req.PersonID != nil {
			t.PersonID = *req.PersonID
		}
		if req.Type != nil {
			t.Type = storage.TaskType(*req.Type)
		}
		if req.Title != nil {
			t.Title = *req.Title
		}
		if req.Priority != nil {
			t.Priority = *req.Priority
		}
		if req.Due != nil {
			t.Due = *req.Due
		}
		if t.Title == "" {
			t.Title = string(t.Type)
		}

		id, err := deps.Store.CreateTask(t)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	}
}

func handleListTasks(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := storage.TaskFilter{
			EntityID: r.URL.Query().Get("entity"),
			PersonID: r.URL.Query().Get("person"),
			Status:   storage.TaskStatus(r.URL.Query().Get("status")),
			Limit:    queryInt(r, "limit", 100),
		}
		tasks, err := deps.Store.ListTasks(filter)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tasks)
	}
}

func handleTasksOfEntity(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tasks, err := deps.Store.TasksOfEntity(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tasks)
	}
}

func handleDeleteEntityTasks(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := deps.Store.DeleteTasksForEntity(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
	}
}

func handleUpdateTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TaskRequest
		if !decodeBody(w, r, &req) {
			return
		}
		patch := storage.TaskPatch{
			Title:    req.Title,
			Priority: req.Priority,
			Due:      req.Due,
		}
		if err := deps.Store.UpdateTask(chi.URLParam(r, "id"), patch); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleTaskStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Status string `json:"status"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if err := deps.Store.UpdateTaskStatus(chi.URLParam(r, "id"), storage.TaskStatus(req.Status)); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleDeleteTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteTask(chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleOverdueTasks(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tasks, err := deps.Store.OverdueTasks()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tasks)
	}
}

func handleDueSoon(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tasks, err := deps.Store.DueSoon(queryInt(r, "hours", 24))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tasks)
	}
}

// OrderTasksRequest derives a batch of follow-up tasks for one entity.
type OrderTasksRequest struct {
	Tasks []struct {
		PersonID string     `json:"person_id"`
		Type     string     `json:"type"`
		Title    string     `json:"title"`
		Priority int        `json:"priority"`
		Due      *time.Time `json:"due"`
	} `json:"tasks"`
}

func handleCreateOrderTasks(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OrderTasksRequest
		if !decodeBody(w, r, &req) {
			return
		}
		specs := make([]storage.OrderTaskSpec, len(req.Tasks))
		for i, t := range req.Tasks {
			specs[i] = storage.OrderTaskSpec{
				PersonID: t.PersonID,
				Type:     storage.TaskType(t.Type),
				Title:    t.Title,
				Priority: t.Priority,
			}
			if t.Due != nil {
				specs[i].Due = *t.Due
			}
		}
		res, err := deps.Store.CreateOrderTasks(chi.URLParam(r, "id"), specs)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleAttachment(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		r.Body = http.MaxBytesReader(w, r.Body, maxAttachmentSize)
		data, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading attachment: %v", err)
			return
		}

		text, err := indexer.AttachmentText(r.Header.Get("Content-Type"), data)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "extracting attachment text: %v", err)
			return
		}

		e, err := deps.Store.GetEntity(id)
		if err != nil {
			writeError(w, err)
			return
		}

		p := e.Payload
		if p.Extra == nil {
			p.Extra = make(map[string]any)
		}
		docs, _ := p.Extra["documents"].([]any)
		p.Extra["documents"] = append(docs, text)

		if err := deps.Store.UpdateEntity(id, storage.EntityPatch{Payload: &p}); err != nil {
			writeError(w, err)
			return
		}

		enqueueReindex(deps, id)
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "extracted_chars": len(text)})
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Store.Stats()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// SearchResult is one ranked search hit. Similarity is present only on
// semantic results, never on plain listings.
type SearchResult struct {
	storage.Entity
	Similarity *float32 `json:"similarity,omitempty"`
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := search.Filter{
			Status: storage.EntityStatus(q.Get("status")),
			Type:   storage.EntityType(q.Get("type")),
		}
		results, err := deps.Searcher.Search(r.Context(), q.Get("q"), filter, queryInt(r, "limit", 20))
		if err != nil {
			writeError(w, err)
			return
		}

		out := make([]SearchResult, len(results))
		for i, res := range results {
			out[i] = SearchResult{Entity: res.Entity}
			if res.Scored {
				sim := res.Similarity
				out[i].Similarity = &sim
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleSearchPeople(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		matches, err := deps.Searcher.SearchPeople(
			r.Context(), q.Get("q"),
			storage.Role(q.Get("role")),
			queryInt(r, "limit", 20),
		)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, matches)
	}
}

// enqueueReindex queues an async reindex. Queue failures degrade the index,
// not the mutation: they are logged and the request still succeeds.
func enqueueReindex(deps Deps, entityID string) {
	if err := indexer.EnqueueReindex(deps.Store, uuid.New().String(), entityID); err != nil {
		slog.Error("enqueueing reindex failed", "entity_id", entityID, "error", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the storage/provider error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	var verr *storage.ValidationError
	switch {
	case errors.As(err, &verr):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", verr)
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found_error", "%v", err)
	case errors.Is(err, embed.ErrUnavailable):
		httpError(w, http.StatusServiceUnavailable, "provider_unavailable", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
