// Package aggregate fans out to a country's sources and merges their
// records into one value per real-world filing.
package aggregate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/bankruptcy-monitor/internal/country"
	"github.com/sells-group/bankruptcy-monitor/internal/metrics"
	"github.com/sells-group/bankruptcy-monitor/internal/model"
)

// Options configures a merge.
type Options struct {
	Country string
	// SourceTimeout bounds each source's fetch. Zero means no limit beyond ctx.
	SourceTimeout time.Duration
	Metrics       *metrics.Metrics
}

type sourceResult struct {
	records []model.FilingRecord
	failed  bool
}

// Merge fetches every source concurrently and merges the results in source
// order. A failing source contributes nothing; the others still merge.
// Records outside the target month are dropped.
func Merge(ctx context.Context, sources []country.Source, year, month int, known model.KeySet, opts Options) []model.FilingRecord {
	results := make([]sourceResult, len(sources))

	var g errgroup.Group
	for i, src := range sources {
		g.Go(func() error {
			results[i] = drain(ctx, src, year, month, known, opts)
			return nil
		})
	}
	_ = g.Wait()

	byKey := make(map[string]int)
	var merged []model.FilingRecord
	for i, res := range results {
		if res.failed {
			continue
		}
		for _, rec := range res.records {
			if !rec.InMonth(year, month) {
				continue
			}
			key, fallback := model.MergeKey(rec)
			if idx, ok := byKey[key]; ok {
				MergeRecord(&merged[idx], rec)
				continue
			}
			rec.FallbackKey = fallback
			if rec.Source == "" {
				rec.Source = sources[i].Name()
			}
			byKey[key] = len(merged)
			merged = append(merged, rec)
		}
	}
	if merged == nil {
		merged = []model.FilingRecord{}
	}
	return merged
}

func drain(ctx context.Context, src country.Source, year, month int, known model.KeySet, opts Options) (res sourceResult) {
	log := zap.L().With(
		zap.String("component", "aggregate"),
		zap.String("country", opts.Country),
		zap.String("source", src.Name()),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("source panicked", zap.String("panic", fmt.Sprint(r)))
			opts.Metrics.IncSourceFailure(opts.Country, src.Name())
			res = sourceResult{failed: true}
		}
	}()

	if opts.SourceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.SourceTimeout)
		defer cancel()
	}

	var skipped int
	for rec, err := range src.Fetch(ctx, year, month, known) {
		if err != nil {
			if isZero(rec) {
				log.Warn("source failed, discarding its records", zap.Error(err))
				opts.Metrics.IncSourceFailure(opts.Country, src.Name())
				return sourceResult{failed: true}
			}
			skipped++
			log.Debug("skipping unparseable record",
				zap.String("company", rec.CompanyName),
				zap.Error(err),
			)
			continue
		}
		res.records = append(res.records, rec)
	}
	if err := ctx.Err(); err != nil {
		log.Warn("source timed out, discarding its records", zap.Error(err))
		opts.Metrics.IncSourceFailure(opts.Country, src.Name())
		return sourceResult{failed: true}
	}

	opts.Metrics.AddScraped(opts.Country, src.Name(), len(res.records))
	log.Info("source complete",
		zap.Int("records", len(res.records)),
		zap.Int("skipped", skipped),
	)
	return res
}

func isZero(r model.FilingRecord) bool {
	return r.CompanyName == "" && r.OrgNumber == "" && r.FilingDate.IsZero()
}

// MergeRecord fills every empty field of dst from src. Fields already set
// on dst are kept.
func MergeRecord(dst *model.FilingRecord, src model.FilingRecord) {
	fillString(&dst.Country, src.Country)
	fillString(&dst.CompanyName, src.CompanyName)
	fillString(&dst.OrgNumber, src.OrgNumber)
	if dst.FilingDate.IsZero() {
		dst.FilingDate = src.FilingDate
	}
	fillString(&dst.Court, src.Court)
	fillString(&dst.IndustryCode, src.IndustryCode)
	fillString(&dst.IndustryName, src.IndustryName)
	fillString(&dst.TrusteeName, src.TrusteeName)
	fillString(&dst.TrusteeFirm, src.TrusteeFirm)
	fillString(&dst.TrusteeAddress, src.TrusteeAddress)
	fillPtr(&dst.Employees, src.Employees)
	fillPtr(&dst.NetSales, src.NetSales)
	fillPtr(&dst.TotalAssets, src.TotalAssets)
	fillString(&dst.Region, src.Region)
	fillPtr(&dst.Score, src.Score)
	if dst.Tier == model.TierNone {
		dst.Tier = src.Tier
	}
	fillString(&dst.AssetTypes, src.AssetTypes)
	fillString(&dst.ScoreReason, src.ScoreReason)
	fillString(&dst.TrusteeEmail, src.TrusteeEmail)
	fillString(&dst.Source, src.Source)
}

func fillString(dst *string, src string) {
	if *dst == "" {
		*dst = src
	}
}

func fillPtr[T any](dst **T, src *T) {
	if *dst == nil && src != nil {
		v := *src
		*dst = &v
	}
}
