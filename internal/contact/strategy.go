// Package contact resolves trustee email addresses through an ordered
// fallback chain: the country-native lookup first, then web search.
package contact

import (
	"context"

	"github.com/sells-group/bankruptcy-monitor/internal/country"
)

// Query identifies the trustee to look up.
type Query struct {
	TrusteeName string
	TrusteeFirm string
	Country     string
}

// Hints returns the extraction hints for q.
func (q Query) Hints() Hints {
	return Hints{Name: q.TrusteeName, Firm: q.TrusteeFirm}
}

// Strategy is one way of finding a trustee's address. An empty string
// with a nil error is a miss.
type Strategy interface {
	Name() string
	Lookup(ctx context.Context, q Query) (string, error)
}

// PluginStrategy adapts the country-native lookup.
type PluginStrategy struct {
	Plugin country.Plugin
}

// Name implements Strategy.
func (s PluginStrategy) Name() string { return "plugin:" + s.Plugin.Code() }

// Lookup implements Strategy.
func (s PluginStrategy) Lookup(ctx context.Context, q Query) (string, error) {
	return s.Plugin.LookupTrusteeEmail(ctx, q.TrusteeName, q.TrusteeFirm)
}
