package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/thillai/mandi/internal/config"
	"github.com/thillai/mandi/internal/search"
	"github.com/thillai/mandi/internal/storage"
)

// remoteRunner adapts the HTTP API to the session's query interface, so the
// CLI gets the same debounce and cancel-on-supersede behavior the mobile
// client has.
type remoteRunner struct {
	client *apiClient
}

func (r remoteRunner) Search(ctx context.Context, query string, filter search.Filter, limit int) ([]search.Result, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("limit", fmt.Sprint(limit))
	if filter.Type != "" {
		q.Set("type", string(filter.Type))
	}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}

	resp, err := r.client.get(ctx, "/search?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var rows []struct {
		storage.Entity
		Similarity *float32 `json:"similarity"`
	}
	if err := decodeJSON(resp, &rows); err != nil {
		return nil, err
	}

	results := make([]search.Result, len(rows))
	for i, row := range rows {
		results[i] = search.Result{Entity: row.Entity}
		if row.Similarity != nil {
			results[i].Similarity = *row.Similarity
			results[i].Scored = true
		}
	}
	return results, nil
}

// runLiveSearch reads queries line by line and re-runs the search for each
// one. Rapid input is debounced per config and a newer query cancels the
// in-flight one, so only the latest results print.
func runLiveSearch(cmd *cobra.Command, filter search.Filter, limit int) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	var mu sync.Mutex
	var delivered uint64
	session := search.NewSession(remoteRunner{client},
		time.Duration(cfg.Search.DebounceMS)*time.Millisecond,
		func(o search.Outcome) {
			switch {
			case o.Err != nil:
				printError("search failed: %v", o.Err)
			case len(o.Results) == 0:
				fmt.Fprintf(out, "no results for %q\n", o.Query)
			default:
				for _, res := range o.Results {
					printResultLine(out, shortID(res.ID), string(res.Type), res.Title, res.Similarity, res.Scored)
				}
			}

			mu.Lock()
			delivered = o.Generation
			mu.Unlock()
		})
	defer session.Close()

	fmt.Fprintln(out, "live search: type a query and press enter, Ctrl-D to quit")

	var lastGen uint64
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		lastGen = session.Update(scanner.Text(), filter, limit)
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	// Input closed with a query still pending; wait for its results before
	// tearing the session down.
	if lastGen > 0 {
		deadline := time.Now().Add(time.Duration(cfg.Search.DebounceMS)*time.Millisecond + 10*time.Second)
		for time.Now().Before(deadline) {
			mu.Lock()
			done := delivered == lastGen
			mu.Unlock()
			if done {
				break
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
	return nil
}

func printResultLine(out io.Writer, id, typ, title string, similarity float32, scored bool) {
	line := fmt.Sprintf("%s  %-12s %s", colorize(colorCyan, id), typ, title)
	if scored {
		line += fmt.Sprintf("  [%.3f]", similarity)
	}
	fmt.Fprintln(out, line)
}

// shortID truncates an id for display.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
