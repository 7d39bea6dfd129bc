package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrNoProviders is returned by a chain with nothing to try.
var ErrNoProviders = errors.New("fetcher: no providers configured")

// Provider is one ranked source for a value of type T.
type Provider[T any] interface {
	Name() string
	Fetch(ctx context.Context) (T, error)
}

// ProviderFunc adapts a function into a Provider.
type ProviderFunc[T any] struct {
	ID string
	Fn func(ctx context.Context) (T, error)
}

// Name implements Provider.
func (p ProviderFunc[T]) Name() string { return p.ID }

// Fetch implements Provider.
func (p ProviderFunc[T]) Fetch(ctx context.Context) (T, error) { return p.Fn(ctx) }

// GuardOptions configure the breaker and limiter wrapped around each provider.
type GuardOptions struct {
	RPS                 float64
	Burst               int
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	Interval            time.Duration
	OnStateChange       func(provider string, from, to gobreaker.State)
}

type guarded[T any] struct {
	provider Provider[T]
	breaker  *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
}

// Chain tries its providers in rank order and returns the first success.
// A provider whose breaker is open is skipped without being called.
type Chain[T any] struct {
	name   string
	links  []guarded[T]
	logger zerolog.Logger
}

// NewChain builds a ranked chain; providers are tried in the order given.
func NewChain[T any](name string, opts GuardOptions, logger zerolog.Logger, providers ...Provider[T]) *Chain[T] {
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	failures := opts.ConsecutiveFailures
	if failures == 0 {
		failures = 3
	}

	c := &Chain[T]{
		name:   name,
		logger: logger.With().Str("component", "fetch_chain").Str("chain", name).Logger(),
	}
	for _, p := range providers {
		settings := gobreaker.Settings{
			Name:     name + "/" + p.Name(),
			Interval: opts.Interval,
			Timeout:  opts.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
		}
		providerName := p.Name()
		settings.OnStateChange = func(_ string, from, to gobreaker.State) {
			c.logger.Warn().Str("provider", providerName).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			if opts.OnStateChange != nil {
				opts.OnStateChange(providerName, from, to)
			}
		}
		c.links = append(c.links, guarded[T]{
			provider: p,
			breaker:  gobreaker.NewCircuitBreaker(settings),
			limiter:  rate.NewLimiter(limit, burst),
		})
	}
	return c
}

// Name returns the chain name.
func (c *Chain[T]) Name() string { return c.name }

// Fetch returns the first successful value and the name of the provider
// that produced it. When every provider fails the errors are joined.
func (c *Chain[T]) Fetch(ctx context.Context) (T, string, error) {
	var zero T
	if len(c.links) == 0 {
		return zero, "", ErrNoProviders
	}

	var errs []error
	for _, link := range c.links {
		name := link.provider.Name()
		if err := link.limiter.Wait(ctx); err != nil {
			return zero, "", fmt.Errorf("%s: rate limit: %w", c.name, err)
		}

		out, err := link.breaker.Execute(func() (interface{}, error) {
			return link.provider.Fetch(ctx)
		})
		if err != nil {
			c.logger.Warn().Err(err).Str("provider", name).Msg("provider failed")
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		c.logger.Debug().Str("provider", name).Msg("provider succeeded")
		value, _ := out.(T)
		return value, name, nil
	}
	return zero, "", fmt.Errorf("%s: all providers failed: %w", c.name, errors.Join(errs...))
}
