package se

import (
	"context"
	"fmt"
	"iter"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/bankruptcy-monitor/internal/country"
	"github.com/sells-group/bankruptcy-monitor/internal/model"
)

const cardDateLayout = "01/02/2006"

var careOfPrefix = regexp.MustCompile(`(?i)^c/o\s+`)

// ticSource pages through the tic.io bankruptcy listing, newest first.
type ticSource struct {
	p *Plugin
}

func (s *ticSource) Name() string { return "tic" }

func (s *ticSource) pageURL(page int) string {
	return fmt.Sprintf("%s/en/oppna-data/konkurser?pageNumber=%d&pageSize=%d&q=&sortBy=initiatedDate%%3Adesc",
		strings.TrimRight(s.p.ticBaseURL, "/"), page, pageSize)
}

func (s *ticSource) Fetch(ctx context.Context, year, month int, known model.KeySet) iter.Seq2[model.FilingRecord, error] {
	return func(yield func(model.FilingRecord, error) bool) {
		log := zap.L().With(zap.String("component", "se.tic"))
		target := model.Date(year, month, 1)

		for page := 1; page <= s.p.maxPages; page++ {
			doc, err := s.p.fetcher.GetDocument(ctx, s.pageURL(page))
			if err != nil {
				if page == 1 {
					yield(model.FilingRecord{}, eris.Wrap(err, "se: fetch listing"))
					return
				}
				// Keep what earlier pages produced.
				log.Warn("listing page failed, stopping", zap.Int("page", page), zap.Error(err))
				return
			}

			cards := doc.Find(".bankruptcy-card")
			if cards.Length() == 0 {
				return
			}

			pastTarget := false
			inMonth, unseen := 0, 0
			for i := range cards.Length() {
				rec, err := s.p.parseCard(cards.Eq(i))
				if err != nil {
					if rec.CompanyName != "" {
						if !yield(rec, err) {
							return
						}
					}
					continue
				}
				if rec.FilingDate.Before(target) {
					pastTarget = true
					break
				}
				if !rec.InMonth(year, month) {
					continue
				}
				inMonth++
				if !known.Has(rec.FilingKey()) {
					unseen++
				}
				if !yield(rec, nil) {
					return
				}
			}

			if pastTarget {
				log.Debug("passed target month", zap.Int("page", page))
				return
			}
			if inMonth > 0 && unseen == 0 {
				log.Debug("page fully known, stopping", zap.Int("page", page), zap.Int("records", inMonth))
				return
			}

			if page < s.p.maxPages && s.p.pageDelay > 0 {
				select {
				case <-ctx.Done():
					yield(model.FilingRecord{}, ctx.Err())
					return
				case <-time.After(s.p.pageDelay):
				}
			}
		}
	}
}

func text(sel *goquery.Selection) string {
	return strings.TrimSpace(sel.First().Text())
}

// parseCard maps one listing card. A card without a parseable date is an
// error.
func (p *Plugin) parseCard(card *goquery.Selection) (model.FilingRecord, error) {
	rec := model.FilingRecord{
		Country:     p.Code(),
		CompanyName: text(card.Find(".bankruptcy-card__name a")),
		OrgNumber:   model.NormalizeOrgNumber("se", text(card.Find(".bankruptcy-card__org-number"))),
		Region:      clean(text(card.Find(".bankruptcy-card__detail .bankruptcy-card__value"))),
	}

	rawDate := text(card.Find(".bankruptcy-card__dates .bankruptcy-card__value"))
	d, err := time.Parse(cardDateLayout, rawDate)
	if err != nil {
		return rec, eris.Wrapf(err, "se: parse date %q", rawDate)
	}
	rec.FilingDate = d

	court := text(card.Find(".bankruptcy-card__court .bankruptcy-card__value"))
	if i := strings.IndexByte(court, '\n'); i >= 0 {
		court = court[:i]
	}
	rec.Court = clean(strings.TrimSpace(court))

	if sni := card.Find(".bankruptcy-card__sni-item").First(); sni.Length() > 0 {
		rec.IndustryCode = clean(text(sni.Find(".bankruptcy-card__sni-code")))
		rec.IndustryName = clean(text(sni.Find(".bankruptcy-card__sni-name")))
	}

	rec.TrusteeName = clean(text(card.Find(".bankruptcy-card__trustee-name")))
	rec.TrusteeFirm = clean(careOfPrefix.ReplaceAllString(text(card.Find(".bankruptcy-card__trustee-company")), ""))
	addr := text(card.Find(".bankruptcy-card__trustee-address"))
	rec.TrusteeAddress = clean(joinLines(addr))

	card.Find(".bankruptcy-card__financial-item").Each(func(_ int, item *goquery.Selection) {
		label := text(item.Find(".bankruptcy-card__financial-label"))
		value := text(item.Find(".bankruptcy-card__financial-value"))
		switch {
		case strings.Contains(label, "Number of employees"):
			if n, ok := country.ParseAmount(value, country.AmountFormat{Decimal: '.', Thousands: ","}); ok {
				rec.Employees = model.IntPtr(int(n))
			}
		case strings.Contains(label, "Net sales"):
			if n, ok := p.ParseFinancialValue(value); ok {
				rec.NetSales = model.Int64Ptr(n)
			}
		case strings.Contains(label, "Total assets"):
			if n, ok := p.ParseFinancialValue(value); ok {
				rec.TotalAssets = model.Int64Ptr(n)
			}
		}
	})

	return rec, nil
}

func joinLines(s string) string {
	var parts []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, ", ")
}

// clean maps the listing's placeholders to empty.
func clean(s string) string {
	if s == "N/A" || s == "-" {
		return ""
	}
	return s
}
