package contact

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/bankruptcy-monitor/internal/country"
	"github.com/sells-group/bankruptcy-monitor/internal/model"
)

const maxConcurrency = 5

// Resolver assigns trustee addresses to scored records. The country-native
// lookup always runs first, followed by the configured fallbacks.
type Resolver struct {
	cfg         ChainConfig
	fallbacks   []Strategy
	concurrency int
}

// NewResolver creates a resolver. concurrency is clamped to 1..5.
func NewResolver(cfg ChainConfig, concurrency int, fallbacks ...Strategy) *Resolver {
	return &Resolver{
		cfg:         cfg,
		fallbacks:   fallbacks,
		concurrency: min(max(concurrency, 1), maxConcurrency),
	}
}

// Chain returns the lookup chain used for plugin's records.
func (r *Resolver) Chain(plugin country.Plugin) *Chain {
	strategies := make([]Strategy, 0, len(r.fallbacks)+1)
	if plugin != nil {
		strategies = append(strategies, PluginStrategy{Plugin: plugin})
	}
	strategies = append(strategies, r.fallbacks...)
	return NewChain(r.cfg, strategies...)
}

type pair struct {
	query Query
	recs  []*model.FilingRecord
}

// Resolve looks up every unique trustee of the HIGH and MEDIUM records
// once and sets TrusteeEmail on all records of that trustee. Records that
// already carry an address are left alone. It returns the number of
// records that received an address.
func (r *Resolver) Resolve(ctx context.Context, recs []*model.FilingRecord, plugin country.Plugin) int {
	log := zap.L().With(zap.String("component", "contact"))

	var order []string
	groups := make(map[string]*pair)
	for _, rec := range recs {
		if !rec.Tier.IsOutreachCandidate() || rec.TrusteeEmail != "" {
			continue
		}
		if rec.TrusteeName == "" && rec.TrusteeFirm == "" {
			continue
		}
		key := model.NormalizeName(rec.TrusteeName) + "|" + model.NormalizeName(rec.TrusteeFirm)
		p, ok := groups[key]
		if !ok {
			p = &pair{query: Query{
				TrusteeName: rec.TrusteeName,
				TrusteeFirm: rec.TrusteeFirm,
				Country:     rec.Country,
			}}
			groups[key] = p
			order = append(order, key)
		}
		p.recs = append(p.recs, rec)
	}
	if len(order) == 0 {
		return 0
	}

	chain := r.Chain(plugin)
	results := make([]int, len(order))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, key := range order {
		p := groups[key]
		g.Go(func() error {
			email, strategy := chain.Lookup(gctx, p.query)
			if email == "" {
				return nil
			}
			for _, rec := range p.recs {
				rec.TrusteeEmail = email
			}
			results[i] = len(p.recs)
			log.Debug("trustee email found",
				zap.String("trustee", p.query.TrusteeName),
				zap.String("strategy", strategy),
			)
			return nil
		})
	}
	_ = g.Wait()

	found, pairs := 0, 0
	for _, n := range results {
		found += n
		if n > 0 {
			pairs++
		}
	}
	log.Info("contact resolution complete",
		zap.Int("pairs", len(order)),
		zap.Int("pairs_found", pairs),
		zap.Int("records", found),
	)
	return found
}
