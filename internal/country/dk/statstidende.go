package dk

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/bankruptcy-monitor/internal/model"
)

const (
	itemSelector         = ".search-result, .announcement, .entry, tr.result"
	fallbackItemSelector = `div[class*="result"], div[class*="entry"], div[class*="item"]`
)

var (
	cvrPattern     = regexp.MustCompile(`(?i)cvr[:\s-]*(?:nr\.?\s*)?(\d{8})`)
	cvrInName      = regexp.MustCompile(`(?i)\s*\(cvr[:\s-]*\d+\)\s*`)
	courtPattern   = regexp.MustCompile(`(?:Skifteretten\s+i\s+|Skifteret[:\s]+)([A-Za-z\x{00C0}-\x{00FF} ]+)`)
	kuratorPattern = regexp.MustCompile(`[Kk]urator[:\s]+([^\n,]+?)(?:,[ \t]*([^\n]+?))?[ \t]*(?:\n|$)`)
	datePattern    = regexp.MustCompile(`(\d{1,2})[./-](\d{1,2})[./-](\d{4})`)
)

// gazetteSource yields the bankruptcy decrees published in Statstidende.
type gazetteSource struct {
	p *Plugin
}

func (s *gazetteSource) Name() string { return "statstidende" }

func (s *gazetteSource) Fetch(ctx context.Context, year, month int, _ model.KeySet) iter.Seq2[model.FilingRecord, error] {
	return func(yield func(model.FilingRecord, error) bool) {
		recs, err := s.p.listings.get(ctx, year, month)
		if err != nil {
			yield(model.FilingRecord{}, err)
			return
		}
		for _, rec := range recs {
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func (p *Plugin) gazettePageURL(year, month, page int) string {
	first := model.Date(year, month, 1)
	last := first.AddDate(0, 1, -1)
	q := url.Values{}
	q.Set("teleAvisNr", "")
	q.Set("teleKategori", "konkurs")
	q.Set("teleFromDate", first.Format(model.DateLayout))
	q.Set("teleToDate", last.Format(model.DateLayout))
	q.Set("teleSearchText", "")
	q.Set("page", strconv.Itoa(page))
	return p.gazetteURL + "?" + q.Encode()
}

// fetchGazette walks the gazette search result pages for the month. A
// failure on the first page fails the listing; later failures keep what
// was already read.
func (p *Plugin) fetchGazette(ctx context.Context, year, month int) ([]model.FilingRecord, error) {
	log := zap.L().With(zap.String("component", "dk.statstidende"))
	var (
		out       []model.FilingRecord
		prevFirst string
	)
	for page := 1; page <= p.maxPages; page++ {
		doc, err := p.fetcher.GetDocument(ctx, p.gazettePageURL(year, month, page))
		if err != nil {
			if page == 1 {
				return nil, eris.Wrap(err, "dk: fetch gazette")
			}
			log.Warn("gazette page failed, stopping", zap.Int("page", page), zap.Error(err))
			break
		}

		items := doc.Find(itemSelector)
		if items.Length() == 0 {
			items = doc.Find(fallbackItemSelector)
		}
		if items.Length() == 0 {
			if page == 1 {
				log.Warn("no gazette entries matched; the page layout may have changed")
			}
			break
		}

		var parsed []model.FilingRecord
		items.Each(func(_ int, item *goquery.Selection) {
			if rec, ok := p.parseEntry(item, year, month); ok {
				parsed = append(parsed, rec)
			}
		})
		if len(parsed) == 0 {
			break
		}
		// The search repeats its last page when asked past the end.
		first := parsed[0].OrgNumber + "|" + parsed[0].CompanyName
		if first == prevFirst {
			break
		}
		prevFirst = first
		out = append(out, parsed...)
	}
	log.Debug("gazette listing read", zap.Int("records", len(out)))
	return out, nil
}

// parseEntry maps one gazette announcement. Entries without a company name
// are skipped.
func (p *Plugin) parseEntry(item *goquery.Selection, year, month int) (model.FilingRecord, bool) {
	lines := textLines(item)
	if len(lines) == 0 {
		return model.FilingRecord{}, false
	}
	text := strings.Join(lines, "\n")

	rec := model.FilingRecord{Country: p.Code()}
	if m := cvrPattern.FindStringSubmatch(text); m != nil {
		rec.OrgNumber = m[1]
	}

	if h := item.Find("h3, h4, strong, a").First(); h.Length() > 0 {
		rec.CompanyName = strings.TrimSpace(cvrInName.ReplaceAllString(strings.TrimSpace(h.Text()), " "))
	}
	if rec.CompanyName == "" {
		rec.CompanyName = strings.TrimSpace(cvrInName.ReplaceAllString(lines[0], " "))
	}
	if rec.CompanyName == "" {
		return model.FilingRecord{}, false
	}

	if m := courtPattern.FindStringSubmatch(text); m != nil {
		rec.Court = strings.TrimSpace(m[1])
		rec.Region = rec.Court
	}
	if m := kuratorPattern.FindStringSubmatch(text); m != nil {
		rec.TrusteeName = strings.TrimSpace(m[1])
		rec.TrusteeFirm = strings.TrimSpace(m[2])
	}

	rec.FilingDate = model.Date(year, month, 1)
	if m := datePattern.FindStringSubmatch(text); m != nil {
		day, _ := strconv.Atoi(m[1])
		mon, _ := strconv.Atoi(m[2])
		yr, _ := strconv.Atoi(m[3])
		if d := model.Date(yr, mon, day); d.Day() == day && int(d.Month()) == mon {
			rec.FilingDate = d
		}
	}
	return rec, true
}

// textLines returns the trimmed, non-empty text nodes under sel in
// document order.
func textLines(sel *goquery.Selection) []string {
	var out []string
	var walk func(*goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, c *goquery.Selection) {
			if goquery.NodeName(c) == "#text" {
				if t := strings.TrimSpace(c.Text()); t != "" {
					out = append(out, t)
				}
				return
			}
			walk(c)
		})
	}
	walk(sel)
	return out
}

// listingCache shares one gazette listing between the plugin's sources.
// Concurrent callers for the same month wait on a single fetch.
type listingCache struct {
	fetch func(ctx context.Context, year, month int) ([]model.FilingRecord, error)
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]listingEntry
}

type listingEntry struct {
	records   []model.FilingRecord
	fetchedAt time.Time
}

func newListingCache(fetch func(context.Context, int, int) ([]model.FilingRecord, error), ttl time.Duration) *listingCache {
	return &listingCache{
		fetch:   fetch,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]listingEntry),
	}
}

func (c *listingCache) get(ctx context.Context, year, month int) ([]model.FilingRecord, error) {
	key := fmt.Sprintf("%04d-%02d", year, month)

	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if ok && c.now().Sub(e.fetchedAt) < c.ttl {
		return slices.Clone(e.records), nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		recs, err := c.fetch(ctx, year, month)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = listingEntry{records: recs, fetchedAt: c.now()}
		c.mu.Unlock()
		return recs, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]model.FilingRecord)), nil
}
