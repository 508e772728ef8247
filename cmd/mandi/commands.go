package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thillai/mandi/internal/config"
	"github.com/thillai/mandi/internal/search"
	"github.com/thillai/mandi/internal/storage"
)

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Semantic search over the catalog",
	Long: `Semantic search over the catalog.

Examples:
  mandi search "cinnamon for the cafe order"
  mandi search --type product --limit 5 "cooking oil"
  mandi search --live               # re-run the search as you type queries
  mandi search                      # lists recent active entities`,
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")
		typ, _ := cmd.Flags().GetString("type")
		status, _ := cmd.Flags().GetString("status")

		if live, _ := cmd.Flags().GetBool("live"); live {
			return runLiveSearch(cmd, search.Filter{
				Status: storage.EntityStatus(status),
				Type:   storage.EntityType(typ),
			}, limit)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := url.Values{}
		q.Set("q", query)
		q.Set("limit", fmt.Sprint(limit))
		if typ != "" {
			q.Set("type", typ)
		}
		if status != "" {
			q.Set("status", status)
		}

		resp, err := client.get(cmd.Context(), "/search?"+q.Encode())
		if err != nil {
			return err
		}

		var results []struct {
			ID         string   `json:"id"`
			Type       string   `json:"type"`
			Title      string   `json:"title"`
			Status     string   `json:"status"`
			Location   string   `json:"location"`
			Similarity *float32 `json:"similarity"`
		}
		if err := decodeJSON(resp, &results); err != nil {
			return err
		}

		if len(results) == 0 {
			fmt.Println("No results found.")
			return nil
		}

		for _, r := range results {
			var sim float32
			if r.Similarity != nil {
				sim = *r.Similarity
			}
			printResultLine(cmd.OutOrStdout(), shortID(r.ID), r.Type, r.Title, sim, r.Similarity != nil)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", 10, "maximum number of results")
	searchCmd.Flags().String("type", "", "restrict to one entity type")
	searchCmd.Flags().String("status", "", "restrict to one entity status")
	searchCmd.Flags().Bool("live", false, "keep reading queries from stdin, debouncing rapid input")
}

// --- entity ---

var entityCmd = &cobra.Command{
	Use:   "entity",
	Short: "Manage catalog entities",
}

var entityAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Create an entity",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title := strings.Join(args, " ")
		typ, _ := cmd.Flags().GetString("type")
		description, _ := cmd.Flags().GetString("description")
		location, _ := cmd.Flags().GetString("location")
		value, _ := cmd.Flags().GetFloat64("value")
		quantity, _ := cmd.Flags().GetInt("quantity")
		tagsStr, _ := cmd.Flags().GetString("tags")

		req := map[string]any{
			"type":  typ,
			"title": title,
		}
		if description != "" {
			req["description"] = description
		}
		if location != "" {
			req["location"] = location
		}
		if value != 0 {
			req["value"] = value
		}
		if quantity != 0 {
			req["quantity"] = quantity
		}
		if tagsStr != "" {
			tags := strings.Split(tagsStr, ",")
			for i := range tags {
				tags[i] = strings.TrimSpace(tags[i])
			}
			req["tags"] = tags
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/entities", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Created entity %s", result["id"])
		return nil
	},
}

var entityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List entities",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		typ, _ := cmd.Flags().GetString("type")
		status, _ := cmd.Flags().GetString("status")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := url.Values{}
		q.Set("limit", fmt.Sprint(limit))
		if typ != "" {
			q.Set("type", typ)
		}
		if status != "" {
			q.Set("status", status)
		}

		resp, err := client.get(cmd.Context(), "/entities?"+q.Encode())
		if err != nil {
			return err
		}

		var entities []struct {
			ID       string  `json:"id"`
			Type     string  `json:"type"`
			Title    string  `json:"title"`
			Status   string  `json:"status"`
			Value    float64 `json:"value"`
			Quantity int     `json:"quantity"`
		}
		if err := decodeJSON(resp, &entities); err != nil {
			return err
		}

		if len(entities) == 0 {
			fmt.Println("No entities found.")
			return nil
		}

		for _, e := range entities {
			fmt.Printf("%s  %-12s %-10s %3d × %8.2f  %s\n",
				colorize(colorCyan, shortID(e.ID)), e.Type, e.Status, e.Quantity, e.Value, e.Title)
		}
		return nil
	},
}

func init() {
	entityAddCmd.Flags().String("type", "product", "entity type")
	entityAddCmd.Flags().String("description", "", "free-text description")
	entityAddCmd.Flags().String("location", "", "physical or logical location")
	entityAddCmd.Flags().Float64("value", 0, "monetary value")
	entityAddCmd.Flags().Int("quantity", 0, "quantity (defaults to 1)")
	entityAddCmd.Flags().String("tags", "", "comma-separated tags")

	entityListCmd.Flags().Int("limit", 20, "maximum number of entities")
	entityListCmd.Flags().String("type", "", "filter by entity type")
	entityListCmd.Flags().String("status", "", "filter by entity status")

	entityCmd.AddCommand(entityAddCmd)
	entityCmd.AddCommand(entityListCmd)
}

// --- task ---

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks by priority and due date",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		status, _ := cmd.Flags().GetString("status")
		overdue, _ := cmd.Flags().GetBool("overdue")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/tasks?limit=%d", limit)
		if status != "" {
			path += "&status=" + url.QueryEscape(status)
		}
		if overdue {
			path = "/tasks/overdue"
		}

		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var tasks []struct {
			ID       string `json:"id"`
			Type     string `json:"type"`
			Title    string `json:"title"`
			Status   string `json:"status"`
			Priority int    `json:"priority"`
			Due      string `json:"due,omitempty"`
		}
		if err := decodeJSON(resp, &tasks); err != nil {
			return err
		}

		if len(tasks) == 0 {
			fmt.Println("No tasks found.")
			return nil
		}

		for _, t := range tasks {
			due := t.Due
			if due == "" {
				due = "-"
			}
			fmt.Printf("%s  p%d %-10s %-20s %s\n",
				colorize(colorCyan, shortID(t.ID)), t.Priority, t.Status, due, t.Title)
		}
		return nil
	},
}

var taskDoneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark a task completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/tasks/"+args[0]+"/status", map[string]string{"status": "completed"})
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}

		printSuccess("Task %s completed", args[0])
		return nil
	},
}

func init() {
	taskListCmd.Flags().Int("limit", 50, "maximum number of tasks")
	taskListCmd.Flags().String("status", "", "filter by task status")
	taskListCmd.Flags().Bool("overdue", false, "show only overdue tasks")

	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskDoneCmd)
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/stats")
		if err != nil {
			return err
		}

		var stats struct {
			EntitiesByStatus map[string]int `json:"entities_by_status"`
			EntitiesByType   map[string]int `json:"entities_by_type"`
			TasksByStatus    map[string]int `json:"tasks_by_status"`
			LinksByRole      map[string]int `json:"links_by_role"`
		}
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		printSection := func(title string, counts map[string]int) {
			if len(counts) == 0 {
				return
			}
			fmt.Println(colorize(colorBold, title))
			for k, v := range counts {
				fmt.Printf("  %-14s %d\n", k, v)
			}
		}

		printSection("Entities by status", stats.EntitiesByStatus)
		printSection("Entities by type", stats.EntitiesByType)
		printSection("Tasks by status", stats.TasksByStatus)
		printSection("Links by role", stats.LinksByRole)
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(config.DefaultPath(), key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
