// Package embed defines the embedding provider port and its implementations.
// The provider is an external collaborator: given text it returns a
// fixed-length vector in a space where cosine similarity is meaningful.
package embed

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// ErrUnavailable reports that the provider is unreachable or still loading
// its model. It is retryable; callers must never substitute a zero vector.
var ErrUnavailable = errors.New("embedding provider unavailable")

// Provider generates embeddings for documents and queries. EmbedQuery may
// differ from Embed for asymmetric query/document models; symmetric
// providers implement it as an alias.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Batch embeds several texts concurrently with bounded fan-out. Returns nil
// for empty input. Results are positionally aligned with the input.
func Batch(ctx context.Context, p Provider, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency to avoid overwhelming the provider.

	for i, text := range texts {
		g.Go(func() error {
			vec, err := p.Embed(gCtx, text)
			if err != nil {
				return err
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
