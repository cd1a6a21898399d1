// Package scoring assigns a data-asset score, a tier and asset tags to
// filing records from their industry classification code.
package scoring

import (
	"strings"

	"github.com/sells-group/bankruptcy-monitor/internal/country"
	"github.com/sells-group/bankruptcy-monitor/internal/model"
)

// Result is the outcome of scoring one record. Score is nil when the
// industry code matched no band.
type Result struct {
	Score      *int
	Tier       model.Tier
	AssetTypes string
}

// Engine scores records against one country's classification tables. It
// holds no mutable state and is safe for concurrent use.
type Engine struct {
	tables country.Tables
}

// NewEngine creates an Engine over a private copy of t.
func NewEngine(t country.Tables) *Engine {
	return &Engine{tables: t.Clone()}
}

type band struct {
	table map[string]int
	tier  model.Tier
}

// Score classifies rec. Bands are tried in order high, mid, low; within a
// band the longest matching code prefix wins.
func (e *Engine) Score(rec model.FilingRecord) Result {
	code := codeDigits(rec.IndustryCode)
	var res Result
	if code == "" {
		return res
	}

	for _, b := range []band{
		{e.tables.High, model.TierHigh},
		{e.tables.Mid, model.TierMedium},
		{e.tables.Low, model.TierLow},
	} {
		if s, ok := longestPrefix(b.table, code); ok {
			res.Score = model.IntPtr(s)
			res.Tier = b.tier
			break
		}
	}

	if tags, ok := longestPrefix(e.tables.Assets, code); ok {
		res.AssetTypes = joinTags(tags)
	}
	return res
}

// Apply scores rec in place and returns the result.
func (e *Engine) Apply(rec *model.FilingRecord) Result {
	res := e.Score(*rec)
	rec.Score = res.Score
	rec.Tier = res.Tier
	rec.AssetTypes = res.AssetTypes
	return res
}

// ApplyAll scores every record of recs in place.
func (e *Engine) ApplyAll(recs []model.FilingRecord) {
	for i := range recs {
		e.Apply(&recs[i])
	}
}

// codeDigits strips separators from an industry code ("62.010" -> "62010").
// Codes carrying anything other than digits and separators are treated as
// unclassified.
func codeDigits(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == ' ' || r == '-':
		default:
			return ""
		}
	}
	return b.String()
}

func longestPrefix[V any](table map[string]V, code string) (V, bool) {
	for n := len(code); n >= 1; n-- {
		if v, ok := table[code[:n]]; ok {
			return v, true
		}
	}
	var zero V
	return zero, false
}

// joinTags normalizes a comma-separated tag list: trimmed, lowercased,
// de-duplicated in first-seen order.
func joinTags(raw string) string {
	seen := make(map[string]bool)
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tags = append(tags, t)
	}
	return strings.Join(tags, ",")
}
