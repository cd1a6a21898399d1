// Package filter narrows a country's records to the ones that go into the
// report. It never affects persistence or outreach.
package filter

import (
	"fmt"
	"strings"

	"github.com/sells-group/bankruptcy-monitor/internal/config"
	"github.com/sells-group/bankruptcy-monitor/internal/model"
)

// Criteria are the report filter settings. Zero values are unset.
type Criteria struct {
	MinEmployees    int
	MaxEmployees    int
	MinNetSales     int64
	MaxNetSales     int64
	Regions         []string
	IncludeKeywords []string
	ExcludeKeywords []string
	BusinessTypes   []string
}

// FromConfig converts the config section into Criteria.
func FromConfig(c config.FilterConfig) Criteria {
	return Criteria{
		MinEmployees:    c.MinEmployees,
		MaxEmployees:    c.MaxEmployees,
		MinNetSales:     c.MinNetSales,
		MaxNetSales:     c.MaxNetSales,
		Regions:         nonEmpty(c.Regions),
		IncludeKeywords: nonEmpty(c.IncludeKeywords),
		ExcludeKeywords: nonEmpty(c.ExcludeKeywords),
		BusinessTypes:   nonEmpty(c.BusinessTypes),
	}
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// IsEmpty reports whether no criterion is set, which accepts every record.
func (c Criteria) IsEmpty() bool {
	return c.MinEmployees == 0 && c.MaxEmployees == 0 &&
		c.MinNetSales == 0 && c.MaxNetSales == 0 &&
		len(c.Regions) == 0 && len(c.IncludeKeywords) == 0 &&
		len(c.ExcludeKeywords) == 0 && len(c.BusinessTypes) == 0
}

// Apply returns the records matching c, in input order.
func Apply(recs []model.FilingRecord, c Criteria) []model.FilingRecord {
	if c.IsEmpty() {
		return recs
	}
	out := make([]model.FilingRecord, 0, len(recs))
	for _, r := range recs {
		if ok, _ := c.Match(r); ok {
			out = append(out, r)
		}
	}
	return out
}

// Match reports whether r passes every set criterion. When it does not,
// reason names the first failing check.
func (c Criteria) Match(r model.FilingRecord) (ok bool, reason string) {
	if c.MinEmployees > 0 || c.MaxEmployees > 0 {
		if r.Employees == nil {
			return false, "employees unknown"
		}
		if c.MinEmployees > 0 && *r.Employees < c.MinEmployees {
			return false, fmt.Sprintf("employees %d < min %d", *r.Employees, c.MinEmployees)
		}
		if c.MaxEmployees > 0 && *r.Employees > c.MaxEmployees {
			return false, fmt.Sprintf("employees %d > max %d", *r.Employees, c.MaxEmployees)
		}
	}

	if c.MinNetSales > 0 || c.MaxNetSales > 0 {
		if r.NetSales == nil {
			return false, "net sales unknown"
		}
		if c.MinNetSales > 0 && *r.NetSales < c.MinNetSales {
			return false, fmt.Sprintf("net sales %d < min %d", *r.NetSales, c.MinNetSales)
		}
		if c.MaxNetSales > 0 && *r.NetSales > c.MaxNetSales {
			return false, fmt.Sprintf("net sales %d > max %d", *r.NetSales, c.MaxNetSales)
		}
	}

	// Records without a region pass.
	if len(c.Regions) > 0 && r.Region != "" {
		if !containsAny(r.Region, c.Regions) {
			return false, "region " + r.Region + " not in filter"
		}
	}

	text := r.CompanyName + " " + r.IndustryName
	for _, kw := range c.ExcludeKeywords {
		if containsFold(text, kw) {
			return false, "contains excluded keyword " + kw
		}
	}
	if len(c.IncludeKeywords) > 0 && !containsAny(text, c.IncludeKeywords) {
		return false, "no included keyword"
	}

	if len(c.BusinessTypes) > 0 && !matchesBusinessType(r, c.BusinessTypes) {
		return false, "business type not in filter"
	}
	return true, ""
}

func matchesBusinessType(r model.FilingRecord, types []string) bool {
	code := strings.NewReplacer(".", "", " ", "").Replace(r.IndustryCode)
	for _, bt := range types {
		if code != "" && strings.HasPrefix(code, strings.ReplaceAll(bt, ".", "")) {
			return true
		}
		if containsFold(r.IndustryName, bt) {
			return true
		}
	}
	return false
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if containsFold(s, n) {
			return true
		}
	}
	return false
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
