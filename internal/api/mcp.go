package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/thillai/mandi/internal/indexer"
	"github.com/thillai/mandi/internal/search"
	"github.com/thillai/mandi/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store    *storage.Store
	Searcher *search.Searcher
}

// NewMCPServer creates an MCP server with the mandi tools and resources
// registered, so assistants can work the catalog directly.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"mandi",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("mandi: local commerce catalog with semantic search over entities, people, and tasks."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("upsert_entity",
			mcp.WithDescription("Create an entity, or patch an existing one when id is given."),
			mcp.WithString("id", mcp.Description("Entity id to update; omit to create")),
			mcp.WithString("type", mcp.Description("Entity type (product, service, booking, ...)")),
			mcp.WithString("title", mcp.Description("Entity title")),
			mcp.WithString("description", mcp.Description("Free-text description")),
			mcp.WithString("location", mcp.Description("Physical or logical location")),
			mcp.WithNumber("value", mcp.Description("Monetary value")),
			mcp.WithNumber("quantity", mcp.Description("Quantity, defaults to 1")),
			mcp.WithArray("tags", mcp.Description("Optional tags")),
		),
		mcpUpsertEntity(deps),
	)

	s.AddTool(
		mcp.NewTool("search",
			mcp.WithDescription("Semantically search entities. An empty query lists recent active entities."),
			mcp.WithString("query", mcp.Description("Search query")),
			mcp.WithString("type", mcp.Description("Restrict to one entity type")),
			mcp.WithString("status", mcp.Description("Restrict to one entity status")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpSearch(deps),
	)

	s.AddTool(
		mcp.NewTool("list_tasks",
			mcp.WithDescription("List tasks, optionally filtered by entity, person, or status."),
			mcp.WithString("entity_id", mcp.Description("Only tasks attached to this entity")),
			mcp.WithString("person_id", mcp.Description("Only tasks assigned to this person")),
			mcp.WithString("status", mcp.Description("Only tasks in this status")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of tasks (default 50)")),
		),
		mcpListTasks(deps),
	)

	s.AddTool(
		mcp.NewTool("complete_task",
			mcp.WithDescription("Mark a task completed."),
			mcp.WithString("id", mcp.Description("Task id"), mcp.Required()),
		),
		mcpCompleteTask(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"mandi://stats",
			"Store Statistics",
			mcp.WithResourceDescription("Entity, task, and person-link counts as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStats(deps),
	)

	return s
}

func mcpUpsertEntity(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := req.GetString("id", "")
		title := req.GetString("title", "")
		typ := req.GetString("type", "")
		description := req.GetString("description", "")
		location := req.GetString("location", "")
		value := req.GetFloat("value", 0)
		quantity := req.GetInt("quantity", 0)
		tags := req.GetStringSlice("tags", nil)

		if id == "" {
			e := storage.Entity{
				Type:     storage.EntityType(typ),
				Title:    title,
				Value:    value,
				Quantity: quantity,
				Location: location,
			}
			e.Payload.Description = description
			e.Payload.Tags = tags

			newID, err := deps.Store.CreateEntity(e)
			if err != nil {
				return mcpError(fmt.Sprintf("create failed: %v", err)), nil
			}
			mcpEnqueueReindex(deps.Store, newID)
			return mcpText(fmt.Sprintf("Created entity %s", newID)), nil
		}

		patch := storage.EntityPatch{}
		if title != "" {
			patch.Title = &title
		}
		if typ != "" {
			t := storage.EntityType(typ)
			patch.Type = &t
		}
		if location != "" {
			patch.Location = &location
		}
		if description != "" || len(tags) > 0 {
			e, err := deps.Store.GetEntity(id)
			if err != nil {
				return mcpError(fmt.Sprintf("update failed: %v", err)), nil
			}
			p := e.Payload
			if description != "" {
				p.Description = description
			}
			if len(tags) > 0 {
				p.Tags = tags
			}
			patch.Payload = &p
		}

		if err := deps.Store.UpdateEntity(id, patch); err != nil {
			return mcpError(fmt.Sprintf("update failed: %v", err)), nil
		}
		mcpEnqueueReindex(deps.Store, id)
		return mcpText(fmt.Sprintf("Updated entity %s", id)), nil
	}
}

func mcpSearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := req.GetString("query", "")
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 50 {
			limit = 50
		}

		filter := search.Filter{
			Status: storage.EntityStatus(req.GetString("status", "")),
			Type:   storage.EntityType(req.GetString("type", "")),
		}

		results, err := deps.Searcher.Search(ctx, query, filter, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if len(results) == 0 {
			return mcpText("[]"), nil
		}

		type hit struct {
			ID         string   `json:"id"`
			Type       string   `json:"type"`
			Title      string   `json:"title"`
			Status     string   `json:"status"`
			Similarity *float32 `json:"similarity,omitempty"`
		}

		hits := make([]hit, len(results))
		for i, res := range results {
			hits[i] = hit{
				ID:     res.ID,
				Type:   string(res.Type),
				Title:  res.Title,
				Status: string(res.Status),
			}
			if res.Scored {
				sim := res.Similarity
				hits[i].Similarity = &sim
			}
		}

		b, err := json.Marshal(hits)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListTasks(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 50)
		if limit <= 0 {
			limit = 50
		}

		filter := storage.TaskFilter{
			EntityID: req.GetString("entity_id", ""),
			PersonID: req.GetString("person_id", ""),
			Status:   storage.TaskStatus(req.GetString("status", "")),
			Limit:    limit,
		}

		tasks, err := deps.Store.ListTasks(filter)
		if err != nil {
			return mcpError(fmt.Sprintf("listing tasks failed: %v", err)), nil
		}

		b, err := json.Marshal(tasks)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal tasks: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpCompleteTask(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		if err := deps.Store.UpdateTaskStatus(id, storage.TaskCompleted); err != nil {
			return mcpError(fmt.Sprintf("completing task failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Task %s completed", id)), nil
	}
}

func mcpEnqueueReindex(st *storage.Store, entityID string) {
	if err := indexer.EnqueueReindex(st, uuid.New().String(), entityID); err != nil {
		slog.Error("enqueueing reindex failed", "entity_id", entityID, "error", err)
	}
}

func mcpResourceStats(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		stats, err := deps.Store.Stats()
		if err != nil {
			return nil, fmt.Errorf("failed to compute stats: %w", err)
		}

		b, err := json.Marshal(stats)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal stats: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
