package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Resilient wraps a Provider with a circuit breaker and a rate limiter.
// After repeated consecutive failures the breaker opens and calls fail fast
// with ErrUnavailable until a cooldown passes; the limiter smooths bursty
// indexing fan-out so a local model server is not flooded.
type Resilient struct {
	inner   Provider
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewResilient wraps p. requestsPerSecond <= 0 disables rate limiting.
func NewResilient(p Provider, requestsPerSecond float64) *Resilient {
	settings := gobreaker.Settings{
		Name:    "embedding-provider",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("embedding breaker state change", "from", from.String(), "to", to.String())
		},
	}

	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)+1)
	}

	return &Resilient{
		inner:   p,
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: limiter,
	}
}

func (r *Resilient) Dimensions() int { return r.inner.Dimensions() }

func (r *Resilient) Embed(ctx context.Context, text string) ([]float32, error) {
	return r.call(ctx, text, r.inner.Embed)
}

func (r *Resilient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return r.call(ctx, text, r.inner.EmbedQuery)
}

func (r *Resilient) call(ctx context.Context, text string, fn func(context.Context, string) ([]float32, error)) ([]float32, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	result, err := r.breaker.Execute(func() (any, error) {
		return fn(ctx, text)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open", ErrUnavailable)
		}
		return nil, err
	}
	return result.([]float32), nil
}
