package country

import (
	"context"
	"iter"

	"github.com/sells-group/bankruptcy-monitor/internal/model"
)

// Plugin is the per-country capability set used by the pipeline.
type Plugin interface {
	// Code returns the lowercase ISO 3166-1 alpha-2 code (e.g., "se").
	Code() string

	// Name returns the English country name.
	Name() string

	// Currency returns the ISO 4217 code financial values are reported in.
	Currency() string

	// Scrape returns the merged bankruptcy filings for the target month.
	// known lists filings already persisted; sources may use it to stop
	// paginating early but must not rely on it for correctness.
	Scrape(ctx context.Context, year, month int, known model.KeySet) ([]model.FilingRecord, error)

	// LookupTrusteeEmail is the country-native contact lookup. An empty
	// string with a nil error means not found.
	LookupTrusteeEmail(ctx context.Context, name, firm string) (string, error)

	// ClassificationTables returns the industry scoring tables.
	ClassificationTables() Tables

	// DefaultRegions lists the major regions used as the report filter
	// default and for operator reference.
	DefaultRegions() []string

	// ParseFinancialValue converts a raw amount into an integer in the
	// country currency. false means the value is null.
	ParseFinancialValue(raw string) (int64, bool)
}

// Source is one upstream feed of filing records. Fetch yields records
// lazily; a yielded error with a zero record aborts the source, while a
// yielded error alongside a record marks only that record as unusable.
type Source interface {
	Name() string
	Fetch(ctx context.Context, year, month int, known model.KeySet) iter.Seq2[model.FilingRecord, error]
}
