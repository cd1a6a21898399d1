package no

import (
	"context"
	"iter"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/bankruptcy-monitor/internal/model"
	"github.com/sells-group/bankruptcy-monitor/internal/resilience"
)

type address struct {
	Adresse    []string `json:"adresse"`
	Postnummer string   `json:"postnummer"`
	Poststed   string   `json:"poststed"`
	Kommune    string   `json:"kommune"`
}

type entity struct {
	Organisasjonsnummer string `json:"organisasjonsnummer"`
	Navn                string `json:"navn"`
	Konkurs             bool   `json:"konkurs"`
	Konkursdato         string `json:"konkursdato"`
	Registreringsdato   string `json:"registreringsdatoEnhetsregisteret"`
	Naeringskode1       *struct {
		Kode        string `json:"kode"`
		Beskrivelse string `json:"beskrivelse"`
	} `json:"naeringskode1"`
	Forretningsadresse *address `json:"forretningsadresse"`
	Postadresse        *address `json:"postadresse"`
	AntallAnsatte      *int     `json:"antallAnsatte"`
}

type pageInfo struct {
	TotalPages int `json:"totalPages"`
	Number     int `json:"number"`
}

type updatesPage struct {
	Embedded struct {
		Oppdateringer []struct {
			Dato                string `json:"dato"`
			Organisasjonsnummer string `json:"organisasjonsnummer"`
		} `json:"oppdateringer"`
	} `json:"_embedded"`
	Page pageInfo `json:"page"`
}

type searchPage struct {
	Embedded struct {
		Enheter []entity `json:"enheter"`
	} `json:"_embedded"`
	Page pageInfo `json:"page"`
}

func monthBounds(year, month int) (start, end time.Time) {
	start = model.Date(year, month, 1)
	return start, start.AddDate(0, 1, 0)
}

// toRecord maps an entity. fallbackDate is used when the entity carries
// no bankruptcy date.
func (p *Plugin) toRecord(e entity, fallbackDate time.Time) (model.FilingRecord, error) {
	rec := model.FilingRecord{
		Country:     p.Code(),
		CompanyName: strings.TrimSpace(e.Navn),
		OrgNumber:   model.NormalizeOrgNumber("no", e.Organisasjonsnummer),
		Employees:   e.AntallAnsatte,
	}
	if rec.OrgNumber == "" {
		return rec, eris.Errorf("no: entity %q has no organisation number", e.Navn)
	}

	switch {
	case e.Konkursdato != "":
		d, ok := model.ParseDate(e.Konkursdato)
		if !ok {
			return rec, eris.Errorf("no: parse konkursdato %q", e.Konkursdato)
		}
		rec.FilingDate = d
	case !fallbackDate.IsZero():
		rec.FilingDate = fallbackDate
	default:
		d, ok := model.ParseDate(e.Registreringsdato)
		if !ok {
			return rec, eris.Errorf("no: parse registration date %q", e.Registreringsdato)
		}
		rec.FilingDate = d
	}

	if nk := e.Naeringskode1; nk != nil {
		rec.IndustryCode = nk.Kode
		rec.IndustryName = nk.Beskrivelse
	}

	addr := e.Forretningsadresse
	if addr == nil {
		addr = e.Postadresse
	}
	if addr != nil {
		rec.Region = addr.Kommune
		var parts []string
		for _, line := range addr.Adresse {
			if line = strings.TrimSpace(line); line != "" {
				parts = append(parts, line)
			}
		}
		if addr.Postnummer != "" && addr.Poststed != "" {
			parts = append(parts, addr.Postnummer+" "+addr.Poststed)
		}
		rec.TrusteeAddress = strings.Join(parts, ", ")
	}
	return rec, nil
}

// updatesSource scans the register's change feed for the target month and
// keeps entities currently flagged as bankrupt.
type updatesSource struct {
	p *Plugin
}

func (s *updatesSource) Name() string { return "brreg-updates" }

func (s *updatesSource) Fetch(ctx context.Context, year, month int, _ model.KeySet) iter.Seq2[model.FilingRecord, error] {
	return func(yield func(model.FilingRecord, error) bool) {
		log := zap.L().With(zap.String("component", "no.updates"))
		start, end := monthBounds(year, month)
		seen := make(map[string]bool)

		for page := 0; page < maxPages; page++ {
			q := url.Values{}
			q.Set("dato", start.Format("2006-01-02T15:04:05.000Z"))
			q.Set("size", strconv.Itoa(pageSize))
			q.Set("page", strconv.Itoa(page))

			var resp updatesPage
			if err := s.p.fetcher.GetJSON(ctx, s.p.brregBaseURL+"/oppdateringer/enheter?"+q.Encode(), &resp); err != nil {
				yield(model.FilingRecord{}, eris.Wrap(err, "no: fetch updates"))
				return
			}
			updates := resp.Embedded.Oppdateringer
			if len(updates) == 0 {
				return
			}

			for _, u := range updates {
				at, err := time.Parse(time.RFC3339, u.Dato)
				if err != nil {
					at, _ = model.ParseDate(u.Dato)
				}
				if !at.IsZero() && !at.Before(end) {
					return
				}
				orgnr := u.Organisasjonsnummer
				if orgnr == "" || seen[orgnr] {
					continue
				}
				seen[orgnr] = true

				var e entity
				if err := s.p.fetcher.GetJSON(ctx, s.p.brregBaseURL+"/enheter/"+url.PathEscape(orgnr), &e); err != nil {
					if ctx.Err() != nil {
						yield(model.FilingRecord{}, ctx.Err())
						return
					}
					if resilience.IsTransient(err) {
						log.Warn("entity fetch failed", zap.String("org_number", orgnr), zap.Error(err))
					}
					continue
				}
				if !e.Konkurs {
					continue
				}
				day := time.Time{}
				if !at.IsZero() {
					day = model.Date(at.Year(), int(at.Month()), at.Day())
				}
				if !yield(s.p.toRecord(e, day)) {
					return
				}
			}

			if page+1 >= resp.Page.TotalPages {
				return
			}
		}
	}
}

// searchSource lists bankrupt entities registered in the target month.
type searchSource struct {
	p *Plugin
}

func (s *searchSource) Name() string { return "brreg-search" }

func (s *searchSource) Fetch(ctx context.Context, year, month int, _ model.KeySet) iter.Seq2[model.FilingRecord, error] {
	return func(yield func(model.FilingRecord, error) bool) {
		start, end := monthBounds(year, month)

		for page := 0; page < maxPages; page++ {
			q := url.Values{}
			q.Set("konkurs", "true")
			q.Set("size", strconv.Itoa(pageSize))
			q.Set("page", strconv.Itoa(page))
			q.Set("fraRegistreringsdatoEnhetsregisteret", start.Format(model.DateLayout))
			q.Set("tilRegistreringsdatoEnhetsregisteret", end.Format(model.DateLayout))

			var resp searchPage
			if err := s.p.fetcher.GetJSON(ctx, s.p.brregBaseURL+"/enheter?"+q.Encode(), &resp); err != nil {
				yield(model.FilingRecord{}, eris.Wrapf(err, "no: search page %d", page))
				return
			}
			if len(resp.Embedded.Enheter) == 0 {
				return
			}
			for _, e := range resp.Embedded.Enheter {
				if !yield(s.p.toRecord(e, time.Time{})) {
					return
				}
			}
			if page+1 >= resp.Page.TotalPages {
				return
			}
		}
	}
}
