package contact

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/bankruptcy-monitor/internal/metrics"
	"github.com/sells-group/bankruptcy-monitor/internal/resilience"
)

// ChainConfig is the per-attempt policy of a Chain.
type ChainConfig struct {
	// Timeout bounds a single strategy attempt. Default: 20s.
	Timeout time.Duration
	Retry   resilience.RetryConfig
	// Limiter is shared by every attempt of every strategy. Nil means
	// unlimited.
	Limiter  *rate.Limiter
	Breakers *resilience.ServiceBreakers
	Metrics  *metrics.Metrics
}

// Chain tries strategies in order and stops at the first plausible
// address. Strategy errors never propagate: they count as a miss.
type Chain struct {
	strategies []Strategy
	cfg        ChainConfig
}

// NewChain builds a chain over strategies. Nil strategies are dropped.
func NewChain(cfg ChainConfig, strategies ...Strategy) *Chain {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.Breakers == nil {
		cfg.Breakers = resilience.NewServiceBreakers(resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     5 * time.Minute,
		})
	}
	c := &Chain{cfg: cfg}
	for _, s := range strategies {
		if s != nil {
			c.strategies = append(c.strategies, s)
		}
	}
	return c
}

// Strategies returns the strategy names in order.
func (c *Chain) Strategies() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}

// Lookup returns the first plausible address and the strategy that found
// it, or "" when every strategy missed.
func (c *Chain) Lookup(ctx context.Context, q Query) (email, strategy string) {
	log := zap.L().With(zap.String("component", "contact"), zap.String("country", q.Country))

	for _, s := range c.strategies {
		if ctx.Err() != nil {
			return "", ""
		}
		g := resilience.Guard{
			Timeout: c.cfg.Timeout,
			Retry:   c.cfg.Retry,
			Breaker: c.cfg.Breakers.Get(s.Name()),
		}
		got, err := resilience.Call(ctx, g, func(ctx context.Context) (string, error) {
			if c.cfg.Limiter != nil {
				if err := c.cfg.Limiter.Wait(ctx); err != nil {
					return "", err
				}
			}
			return s.Lookup(ctx, q)
		})
		switch {
		case errors.Is(err, resilience.ErrCircuitOpen):
			c.cfg.Metrics.IncLookup(s.Name(), "skipped")
			continue
		case err != nil:
			c.cfg.Metrics.IncLookup(s.Name(), "error")
			log.Warn("contact lookup failed",
				zap.String("strategy", s.Name()),
				zap.String("trustee", q.TrusteeName),
				zap.Error(err),
			)
			continue
		}

		got = strings.ToLower(strings.TrimSpace(got))
		if got == "" || !Plausible(got) {
			c.cfg.Metrics.IncLookup(s.Name(), "miss")
			continue
		}
		c.cfg.Metrics.IncLookup(s.Name(), "found")
		return got, s.Name()
	}
	return "", ""
}
