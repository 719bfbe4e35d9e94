package gateway

import (
	"context"
	"log/slog"

	"github.com/fjod/storefront/pkg/circuitbreaker"
)

// StockSource is anything that can answer a stock query.
type StockSource interface {
	QueryStock(ctx context.Context, ids []string) (map[string]int, error)
}

// BreakerGateway stops calling a failing source for a while so that every
// cart validation does not wait on a dead upstream.
type BreakerGateway struct {
	next StockSource
	cb   *circuitbreaker.Breaker[map[string]int]
}

func WithBreaker(next StockSource, cfg circuitbreaker.Config, log *slog.Logger) *BreakerGateway {
	return &BreakerGateway{
		next: next,
		cb:   circuitbreaker.New[map[string]int](cfg, log),
	}
}

// QueryStock calls through the breaker. A failure seen after the caller's
// context ended is not held against the source.
func (g *BreakerGateway) QueryStock(ctx context.Context, ids []string) (map[string]int, error) {
	return g.cb.Execute(func() (map[string]int, error) {
		stock, err := g.next.QueryStock(ctx, ids)
		if err != nil && ctx.Err() != nil {
			return nil, circuitbreaker.Excluded(err)
		}
		return stock, err
	})
}
