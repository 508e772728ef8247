package search

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultDebounce is the quiet period a query must survive before executing.
const DefaultDebounce = 300 * time.Millisecond

// Outcome is one delivered search completion. Generation identifies which
// Update produced it.
type Outcome struct {
	Generation uint64
	Query      string
	Results    []Result
	Err        error
}

// queryRunner is the slice of Searcher a Session drives. Narrowed for tests.
type queryRunner interface {
	Search(ctx context.Context, query string, filter Filter, limit int) ([]Result, error)
}

// Session supervises one logical search box. Rapid successive Updates are
// debounced: only the last query after a quiet period executes. Every Update
// cancels any in-flight search, and completions carry a generation number
// checked against the latest issued, so a slow stale response can never
// overwrite a newer one.
type Session struct {
	runner   queryRunner
	debounce time.Duration
	deliver  func(Outcome)

	mu     sync.Mutex
	gen    uint64
	timer  *time.Timer
	cancel context.CancelFunc
	closed bool
}

// NewSession creates a Session delivering outcomes through deliver, which is
// called from the searching goroutine, at most once per generation, and only
// for the latest generation. debounce <= 0 uses DefaultDebounce.
func NewSession(runner queryRunner, debounce time.Duration, deliver func(Outcome)) *Session {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Session{runner: runner, debounce: debounce, deliver: deliver}
}

// Update supersedes any pending or in-flight query with a new one. The new
// query executes after the debounce interval unless superseded itself.
// Returns the generation assigned to this query.
func (s *Session) Update(query string, filter Filter, limit int) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.gen
	}

	s.supersedeLocked()
	s.gen++
	gen := s.gen

	s.timer = time.AfterFunc(s.debounce, func() {
		s.execute(gen, query, filter, limit)
	})
	return gen
}

// supersedeLocked stops the pending timer and cancels the in-flight search.
// Callers hold s.mu.
func (s *Session) supersedeLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Session) execute(gen uint64, query string, filter Filter, limit int) {
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	results, err := s.runner.Search(ctx, query, filter, limit)

	s.mu.Lock()
	latest := !s.closed && gen == s.gen
	s.mu.Unlock()

	// A superseded search is not an error; its result is simply discarded.
	if !latest || errors.Is(err, context.Canceled) {
		return
	}
	s.deliver(Outcome{Generation: gen, Query: query, Results: results, Err: err})
}

// Close cancels pending and in-flight work and ignores further Updates.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.supersedeLocked()
}
