// Package report orders scored records and writes the per-country report
// files.
package report

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/sells-group/bankruptcy-monitor/internal/model"
)

// Report is the content of one country's report.
type Report struct {
	Country     string
	CountryName string
	Currency    string
	Year        int
	Month       int
	Records     []model.FilingRecord
	Status      model.RunStatus
}

// Period returns the report month as "March 2025".
func (r Report) Period() string {
	return time.Date(r.Year, time.Month(r.Month), 1, 0, 0, 0, 0, time.UTC).Format("January 2006")
}

// FileStem returns the base file name without extension.
func (r Report) FileStem() string {
	return fmt.Sprintf("bankruptcies_%s_%04d-%02d", r.Country, r.Year, r.Month)
}

// Writer renders a report and returns where it was written.
type Writer interface {
	Write(ctx context.Context, r Report) (string, error)
}

// SortByTier orders records HIGH, MEDIUM, LOW, then unscored; within a
// tier by score descending, then company name. The sort is stable.
func SortByTier(recs []model.FilingRecord) {
	slices.SortStableFunc(recs, func(a, b model.FilingRecord) int {
		if c := cmp.Compare(a.Tier.Rank(), b.Tier.Rank()); c != 0 {
			return c
		}
		if c := cmp.Compare(scoreOf(b), scoreOf(a)); c != 0 {
			return c
		}
		return cmp.Compare(a.CompanyName, b.CompanyName)
	})
}

func scoreOf(r model.FilingRecord) int {
	if r.Score == nil {
		return -1
	}
	return *r.Score
}

// columns is the report layout shared by every writer.
var columns = []string{
	"Tier", "Score", "Company", "Org number", "Filing date", "Court",
	"Industry code", "Industry", "Employees", "Net sales", "Total assets",
	"Region", "Trustee", "Trustee firm", "Trustee email", "Asset types", "Reason",
}

func row(r model.FilingRecord) []string {
	return []string{
		r.Tier.String(),
		optInt(r.Score),
		r.CompanyName,
		r.OrgNumber,
		r.FilingDate.Format(model.DateLayout),
		r.Court,
		r.IndustryCode,
		r.IndustryName,
		optInt(r.Employees),
		optInt64(r.NetSales),
		optInt64(r.TotalAssets),
		r.Region,
		r.TrusteeName,
		r.TrusteeFirm,
		r.TrusteeEmail,
		r.AssetTypes,
		r.ScoreReason,
	}
}

func optInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func optInt64(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

// TierCounts returns the number of records per tier.
func TierCounts(recs []model.FilingRecord) map[model.Tier]int {
	counts := make(map[model.Tier]int)
	for _, r := range recs {
		counts[r.Tier]++
	}
	return counts
}
