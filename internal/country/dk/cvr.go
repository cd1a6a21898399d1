package dk

import (
	"context"
	"encoding/json"
	"iter"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/bankruptcy-monitor/internal/model"
)

// cvrCompany is the cvrapi.dk company payload. Several fields arrive as
// either numbers or strings.
type cvrCompany struct {
	VAT          json.RawMessage `json:"vat"`
	Name         string          `json:"name"`
	Address      string          `json:"address"`
	Zipcode      json.RawMessage `json:"zipcode"`
	City         string          `json:"city"`
	IndustryCode json.RawMessage `json:"industrycode"`
	IndustryDesc string          `json:"industrydesc"`
	Employees    json.RawMessage `json:"employees"`
	Error        string          `json:"error"`
}

// cvrSource enriches the gazette listing with CVR register data. It yields
// one record per CVR number, keyed like the gazette record so the merge
// fills the gazette's empty fields.
type cvrSource struct {
	p *Plugin
}

func (s *cvrSource) Name() string { return "cvr" }

func (s *cvrSource) Fetch(ctx context.Context, year, month int, known model.KeySet) iter.Seq2[model.FilingRecord, error] {
	return func(yield func(model.FilingRecord, error) bool) {
		log := zap.L().With(zap.String("component", "dk.cvr"))
		listing, err := s.p.listings.get(ctx, year, month)
		if err != nil {
			yield(model.FilingRecord{}, err)
			return
		}

		seen := make(map[string]bool)
		enriched := 0
		for _, base := range listing {
			if base.OrgNumber == "" || seen[base.OrgNumber] || known.Has(base.FilingKey()) {
				continue
			}
			seen[base.OrgNumber] = true
			if ctx.Err() != nil {
				return
			}

			rec, err := s.p.lookupCVR(ctx, base)
			if err != nil {
				log.Debug("cvr lookup failed", zap.String("org_number", base.OrgNumber), zap.Error(err))
				if !yield(base, err) {
					return
				}
				continue
			}
			enriched++
			if !yield(rec, nil) {
				return
			}
		}
		log.Debug("cvr enrichment done", zap.Int("enriched", enriched), zap.Int("listing", len(listing)))
	}
}

// lookupCVR fetches one company and maps it onto a record carrying the
// identity of base.
func (p *Plugin) lookupCVR(ctx context.Context, base model.FilingRecord) (model.FilingRecord, error) {
	q := url.Values{}
	q.Set("vat", base.OrgNumber)
	q.Set("country", "dk")

	var c cvrCompany
	if err := p.fetcher.GetJSON(ctx, p.cvrBaseURL+"/api?"+q.Encode(), &c); err != nil {
		return base, eris.Wrapf(err, "dk: lookup cvr %s", base.OrgNumber)
	}
	if c.Error != "" {
		return base, eris.Errorf("dk: lookup cvr %s: %s", base.OrgNumber, c.Error)
	}

	rec := model.FilingRecord{
		Country:      p.Code(),
		CompanyName:  strings.TrimSpace(c.Name),
		OrgNumber:    base.OrgNumber,
		FilingDate:   base.FilingDate,
		IndustryCode: rawString(c.IndustryCode),
		IndustryName: strings.TrimSpace(c.IndustryDesc),
		Region:       strings.TrimSpace(c.City),
	}
	if rec.CompanyName == "" {
		rec.CompanyName = base.CompanyName
	}
	if n, ok := parseEmployeeRange(rawString(c.Employees)); ok {
		rec.Employees = model.IntPtr(n)
	}
	if strings.TrimSpace(c.Address) != "" {
		var parts []string
		for _, s := range []string{c.Address, rawString(c.Zipcode), c.City} {
			if s = strings.TrimSpace(s); s != "" {
				parts = append(parts, s)
			}
		}
		rec.TrusteeAddress = strings.Join(parts, ", ")
	}
	return rec, nil
}

// rawString renders a JSON string or number as text. null gives "".
func rawString(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	if unq, err := strconv.Unquote(s); err == nil {
		return strings.TrimSpace(unq)
	}
	return s
}

var (
	employeeRange = regexp.MustCompile(`^(\d+)\s*-\s*(\d+)`)
	employeePlus  = regexp.MustCompile(`^(\d+)\+`)
)

// parseEmployeeRange turns the register's employee bands ("10-19",
// "1000+", "7") into a representative count. Ranges use the midpoint.
func parseEmployeeRange(raw string) (int, bool) {
	s := strings.TrimSpace(raw)
	if s == "" || s == "N/A" || s == "-" {
		return 0, false
	}
	if m := employeeRange.FindStringSubmatch(s); m != nil {
		lo, _ := strconv.Atoi(m[1])
		hi, _ := strconv.Atoi(m[2])
		return (lo + hi) / 2, true
	}
	if m := employeePlus.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n, true
	}
	s = strings.NewReplacer(",", "", ".", "").Replace(s)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
