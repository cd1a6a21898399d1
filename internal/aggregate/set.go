package aggregate

import (
	"context"

	"github.com/sells-group/bankruptcy-monitor/internal/country"
	"github.com/sells-group/bankruptcy-monitor/internal/model"
)

// Set is a plugin's ordered source list and merge options. Plugins embed it
// to implement country.Plugin.Scrape.
type Set struct {
	Sources []country.Source
	Options Options
}

// Scrape merges all sources for the target month. It never fails; source
// failures are absorbed by Merge.
func (s *Set) Scrape(ctx context.Context, year, month int, known model.KeySet) ([]model.FilingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Merge(ctx, s.Sources, year, month, known, s.Options), nil
}
