package fi

import (
	"context"
	"encoding/json"
	"iter"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/bankruptcy-monitor/internal/model"
)

var bankruptcyKeywords = []string{"konkurssi", "konkurs", "bankruptcy"}

type situation struct {
	Type             string `json:"type"`
	Name             string `json:"name"`
	RegistrationDate string `json:"registrationDate"`
	Date             string `json:"date"`
}

func (s situation) isBankruptcy() bool {
	kind := strings.ToLower(s.Type)
	if kind == "" {
		kind = strings.ToLower(s.Name)
	}
	for _, kw := range bankruptcyKeywords {
		if strings.Contains(kind, kw) {
			return true
		}
	}
	return false
}

type prhAddress struct {
	Street     string `json:"street"`
	PostCode   string `json:"postCode"`
	PostalCode string `json:"postalCode"`
	City       string `json:"city"`
	PostOffice string `json:"postOffice"`
}

// businessLine accepts either {"code":..,"name":..} or "62010 Text".
type businessLine struct {
	Code string
	Name string
}

var leadingCode = regexp.MustCompile(`^(\d+)\s*(.*)$`)

func (b *businessLine) UnmarshalJSON(data []byte) error {
	*b = businessLine{}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		s = strings.TrimSpace(s)
		if m := leadingCode.FindStringSubmatch(s); m != nil {
			b.Code, b.Name = m[1], strings.TrimSpace(m[2])
		} else {
			b.Name = s
		}
		return nil
	}
	var obj struct {
		Code        json.RawMessage `json:"code"`
		Name        string          `json:"name"`
		Description string          `json:"description"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	b.Code = strings.Trim(string(obj.Code), `"`)
	if b.Code == "null" {
		b.Code = ""
	}
	b.Name = obj.Name
	if b.Name == "" {
		b.Name = obj.Description
	}
	return nil
}

// addressField accepts a single address object or a list of them.
type addressField struct {
	addr *prhAddress
}

func (a *addressField) UnmarshalJSON(data []byte) error {
	var list []prhAddress
	if err := json.Unmarshal(data, &list); err == nil {
		if len(list) > 0 {
			a.addr = &list[0]
		}
		return nil
	}
	var one prhAddress
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	a.addr = &one
	return nil
}

type company struct {
	BusinessID       string        `json:"businessId"`
	Name             string        `json:"name"`
	RegistrationDate string        `json:"registrationDate"`
	MainBusinessLine *businessLine `json:"mainBusinessLine"`
	StreetAddress    *addressField `json:"streetAddress"`
	PostalAddress    *addressField `json:"postalAddress"`
	Addresses        *addressField `json:"addresses"`
	Situations       []situation   `json:"companySituations"`
}

type companiesPage struct {
	Companies []company       `json:"companies"`
	Results   []company       `json:"results"`
	NextPage  json.RawMessage `json:"nextPage"`
}

func (c company) bankruptcy() (situation, bool) {
	for _, s := range c.Situations {
		if s.isBankruptcy() {
			return s, true
		}
	}
	return situation{}, false
}

// prhSource queries companies registered in the target month and keeps
// those with a bankruptcy situation.
type prhSource struct {
	p *Plugin
}

func (s *prhSource) Name() string { return "prh" }

func (s *prhSource) Fetch(ctx context.Context, year, month int, _ model.KeySet) iter.Seq2[model.FilingRecord, error] {
	return func(yield func(model.FilingRecord, error) bool) {
		start := model.Date(year, month, 1)
		end := start.AddDate(0, 1, -1)

		q := url.Values{}
		q.Set("registrationDateStart", start.Format(model.DateLayout))
		q.Set("registrationDateEnd", end.Format(model.DateLayout))
		next := s.p.baseURL + "/companies?" + q.Encode()

		for page := 0; page < maxPages && next != ""; page++ {
			var resp companiesPage
			if err := s.p.fetcher.GetJSON(ctx, next, &resp); err != nil {
				if page == 0 {
					yield(model.FilingRecord{}, eris.Wrap(err, "fi: fetch companies"))
				}
				return
			}
			companies := resp.Companies
			if len(companies) == 0 {
				companies = resp.Results
			}
			if len(companies) == 0 {
				return
			}
			for _, c := range companies {
				sit, ok := c.bankruptcy()
				if !ok {
					continue
				}
				if !yield(s.p.toRecord(c, sit)) {
					return
				}
			}
			next = s.nextURL(resp.NextPage, q, page)
		}
	}
}

// nextURL resolves the nextPage marker, which is either an absolute URL or
// a page number.
func (s *prhSource) nextURL(raw json.RawMessage, q url.Values, page int) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if strings.HasPrefix(str, "http") {
			return str
		}
		if _, err := strconv.Atoi(str); err != nil {
			return ""
		}
		raw = json.RawMessage(str)
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil || n <= page {
		return ""
	}
	next := url.Values{}
	for k, v := range q {
		next[k] = v
	}
	next.Set("page", strconv.Itoa(n))
	return s.p.baseURL + "/companies?" + next.Encode()
}

func (p *Plugin) toRecord(c company, sit situation) (model.FilingRecord, error) {
	rec := model.FilingRecord{
		Country:     p.Code(),
		CompanyName: strings.TrimSpace(c.Name),
		OrgNumber:   model.NormalizeOrgNumber("fi", c.BusinessID),
	}

	raw := sit.RegistrationDate
	if raw == "" {
		raw = sit.Date
	}
	if raw == "" {
		raw = c.RegistrationDate
	}
	d, ok := model.ParseDate(raw)
	if !ok {
		return rec, eris.Errorf("fi: no usable date for %q", c.BusinessID)
	}
	rec.FilingDate = d

	if bl := c.MainBusinessLine; bl != nil {
		rec.IndustryCode, rec.IndustryName = bl.Code, bl.Name
	}

	for _, f := range []*addressField{c.StreetAddress, c.PostalAddress, c.Addresses} {
		if f == nil || f.addr == nil {
			continue
		}
		a := f.addr
		postCode := firstNonEmpty(a.PostCode, a.PostalCode)
		city := firstNonEmpty(a.City, a.PostOffice)
		var parts []string
		for _, s := range []string{a.Street, postCode, city} {
			if s != "" {
				parts = append(parts, s)
			}
		}
		rec.TrusteeAddress = strings.Join(parts, ", ")
		rec.Region = city
		break
	}
	return rec, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
