package contact

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/bankruptcy-monitor/internal/fetcher"
	"github.com/sells-group/bankruptcy-monitor/pkg/brave"
	"github.com/sells-group/bankruptcy-monitor/pkg/jina"
)

// Hit is one web search result.
type Hit struct {
	Title    string
	URL      string
	Snippets []string
}

// Text joins every field of the hit for scanning.
func (h Hit) Text() string {
	return strings.Join(append([]string{h.Title, h.URL}, h.Snippets...), " ")
}

// Searcher runs a web search.
type Searcher interface {
	Search(ctx context.Context, query string, n int) ([]Hit, error)
}

// PageReader returns the scannable text of a web page.
type PageReader interface {
	ReadPage(ctx context.Context, pageURL string) (string, error)
}

// BraveSearcher adapts the Brave Search client.
type BraveSearcher struct {
	Client  brave.Client
	Country string
}

// Search implements Searcher.
func (s BraveSearcher) Search(ctx context.Context, query string, n int) ([]Hit, error) {
	resp, err := s.Client.Search(ctx, brave.SearchRequest{
		Query:         query,
		Count:         n,
		ExtraSnippets: true,
		Country:       s.Country,
	})
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(resp.Results()))
	for _, r := range resp.Results() {
		hits = append(hits, Hit{
			Title:    r.Title,
			URL:      r.URL,
			Snippets: append([]string{r.Description}, r.ExtraSnippets...),
		})
	}
	return hits, nil
}

// JinaSearcher adapts the Jina search endpoint.
type JinaSearcher struct {
	Client jina.Client
}

// Search implements Searcher.
func (s JinaSearcher) Search(ctx context.Context, query string, n int) ([]Hit, error) {
	resp, err := s.Client.Search(ctx, query, jina.WithCount(n))
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(resp.Data))
	for _, r := range resp.Data {
		hits = append(hits, Hit{
			Title:    r.Title,
			URL:      r.URL,
			Snippets: []string{r.Description, r.Content},
		})
	}
	return hits, nil
}

// JinaReader reads pages through the Jina reader, which renders
// JavaScript-heavy firm sites to text.
type JinaReader struct {
	Client jina.Client
}

// ReadPage implements PageReader.
func (r JinaReader) ReadPage(ctx context.Context, pageURL string) (string, error) {
	resp, err := r.Client.Read(ctx, pageURL)
	if err != nil {
		return "", err
	}
	return resp.Data.Content, nil
}

// HTMLReader fetches the page directly and returns its mailto addresses
// followed by the visible text.
type HTMLReader struct {
	Fetcher fetcher.Fetcher
}

// ReadPage implements PageReader.
func (r HTMLReader) ReadPage(ctx context.Context, pageURL string) (string, error) {
	doc, err := r.Fetcher.GetDocument(ctx, pageURL)
	if err != nil {
		return "", eris.Wrap(err, "contact: fetch page")
	}
	return pageText(doc), nil
}

func pageText(doc *goquery.Document) string {
	doc.Find("script, style, noscript").Remove()
	var b strings.Builder
	for _, addr := range fetcher.MailtoAddresses(doc.Selection) {
		b.WriteString(addr)
		b.WriteByte('\n')
	}
	b.WriteString(strings.Join(strings.Fields(doc.Text()), " "))
	return b.String()
}

// Directory and aggregator sites that list people but never carry a
// trustee's own address.
var excludedDomains = []string{
	"linkedin.com", "allabolag.se", "hitta.se", "proff.se", "proff.no",
	"ratsit.se", "bolagsverket.se", "facebook.com", "twitter.com",
	"wikipedia.org", "creditsafe.com", "tic.io", "eniro.se", "merinfo.se",
	"gulesider.no", "krak.dk", "finder.fi",
}

func excludedURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return true
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range excludedDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// Lawyer title per country, used when the firm is unknown.
var lawyerWord = map[string]string{
	"se": "advokat",
	"no": "advokat",
	"dk": "advokat",
	"fi": "asianajaja",
}

// Contact wording per country for the localized query variant.
var contactWords = map[string]string{
	"se": "kontakt e-post",
	"no": "kontakt e-post",
	"dk": "kontakt e-mail",
	"fi": "yhteystiedot sähköposti",
}

// queries returns the search variants for q, most precise first.
func queries(q Query) []string {
	name := strings.TrimSpace(q.TrusteeName)
	firm := strings.TrimSpace(q.TrusteeFirm)
	if name == "" {
		if firm == "" {
			return nil
		}
		return []string{fmt.Sprintf("%q email", firm)}
	}
	if firm == "" {
		word := lawyerWord[q.Country]
		if word == "" {
			word = "lawyer"
		}
		return []string{
			fmt.Sprintf("%q %s email", name, word),
			fmt.Sprintf("%s %s email", name, word),
		}
	}
	out := []string{
		fmt.Sprintf("%q %q email", name, firm),
		fmt.Sprintf("%s %s email", name, firm),
	}
	if w, ok := contactWords[q.Country]; ok {
		out = append(out, fmt.Sprintf("%q %q %s", name, firm, w))
	}
	return out
}

// SearchStrategy finds addresses through web search: result snippets
// first, then the text of the top result pages.
type SearchStrategy struct {
	Searcher Searcher
	// Reader is optional; without it only snippets are scanned.
	Reader     PageReader
	Label      string
	MaxResults int
	FetchPages int
}

// Name implements Strategy.
func (s *SearchStrategy) Name() string {
	if s.Label != "" {
		return s.Label
	}
	return "search"
}

// Lookup implements Strategy.
func (s *SearchStrategy) Lookup(ctx context.Context, q Query) (string, error) {
	log := zap.L().With(zap.String("component", "contact"), zap.String("strategy", s.Name()))
	hints := q.Hints()
	maxResults := s.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}

	var seen []string
	read := make(map[string]bool)
	pagesLeft := s.FetchPages
	for _, query := range queries(q) {
		hits, err := s.Searcher.Search(ctx, query, maxResults)
		if err != nil {
			return "", eris.Wrapf(err, "contact: search %q", query)
		}

		var text strings.Builder
		for _, h := range hits {
			text.WriteString(h.Text())
			text.WriteByte('\n')
		}
		seen = appendNew(seen, Candidates(text.String()))
		if e := best(seen, hints); e != "" && rankEmail(e, hints.nameTokens()) == 0 {
			return e, nil
		}

		if s.Reader == nil {
			continue
		}
		for _, h := range hits {
			if pagesLeft <= 0 {
				break
			}
			if read[h.URL] || excludedURL(h.URL) {
				continue
			}
			read[h.URL] = true
			pagesLeft--
			page, err := s.Reader.ReadPage(ctx, h.URL)
			if err != nil {
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				log.Debug("page read failed", zap.String("url", h.URL), zap.Error(err))
				continue
			}
			seen = appendNew(seen, Candidates(page))
			if e := best(seen, hints); e != "" && rankEmail(e, hints.nameTokens()) == 0 {
				return e, nil
			}
		}
	}
	return best(seen, hints), nil
}

func appendNew(dst, src []string) []string {
	for _, e := range src {
		dup := false
		for _, d := range dst {
			if d == e {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, e)
		}
	}
	return dst
}
