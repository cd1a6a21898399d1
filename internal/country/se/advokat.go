package se

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/bankruptcy-monitor/internal/fetcher"
)

type person struct {
	name string // ascii-lowered
	url  string
}

type office struct {
	firm string // normalized
	href string
}

// directory is the Bar Association member directory. The listing returns
// every office regardless of query, so it is loaded once and matched
// locally; office pages are cached by href.
type directory struct {
	fetcher fetcher.Fetcher
	base    string

	mu      sync.Mutex
	offices []office
	people  map[string][]person
}

func newDirectory(f fetcher.Fetcher, base string) *directory {
	return &directory{
		fetcher: f,
		base:    strings.TrimRight(base, "/"),
		people:  make(map[string][]person),
	}
}

// LookupTrusteeEmail finds the trustee in the Bar Association directory:
// directory, then office page, then person page, then mailto.
func (p *Plugin) LookupTrusteeEmail(ctx context.Context, name, firm string) (string, error) {
	return p.directory.lookup(ctx, name, firm)
}

func (d *directory) lookup(ctx context.Context, name, firm string) (string, error) {
	// Trustee names are listed as "Last, First".
	parts := strings.Fields(strings.ReplaceAll(name, ",", " "))
	if len(parts) < 2 || strings.TrimSpace(firm) == "" {
		return "", nil
	}
	last, first := asciiLower(parts[0]), asciiLower(parts[1])

	offices, err := d.loadOffices(ctx)
	if err != nil {
		return "", err
	}

	target := normalizeFirm(careOfPrefix.ReplaceAllString(strings.TrimSpace(firm), ""))
	for _, o := range offices {
		if o.firm != target {
			continue
		}
		people, err := d.loadPeople(ctx, o.href)
		if err != nil {
			return "", err
		}
		for _, pr := range people {
			if !strings.Contains(pr.name, last) || !strings.Contains(pr.name, first) {
				continue
			}
			doc, err := d.fetcher.GetDocument(ctx, pr.url)
			if err != nil {
				return "", eris.Wrap(err, "se: fetch person page")
			}
			if addrs := fetcher.MailtoAddresses(doc.Selection); len(addrs) > 0 {
				return addrs[0], nil
			}
		}
	}
	return "", nil
}

func (d *directory) loadOffices(ctx context.Context) ([]office, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.offices != nil {
		return d.offices, nil
	}

	doc, err := d.fetcher.GetDocument(ctx, d.base+"/Sok-advokat/Sokresultat/?Query=a")
	if err != nil {
		return nil, eris.Wrap(err, "se: fetch bar directory")
	}
	offices := []office{}
	doc.Find(`a[href*="Kontorsdetaljer"]`).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		offices = append(offices, office{firm: normalizeFirm(strings.TrimSpace(a.Text())), href: href})
	})
	d.offices = offices
	return offices, nil
}

func (d *directory) loadPeople(ctx context.Context, href string) ([]person, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if people, ok := d.people[href]; ok {
		return people, nil
	}

	officeURL := fetcher.Resolve(d.base+"/", href)
	doc, err := d.fetcher.GetDocument(ctx, officeURL)
	if err != nil {
		return nil, eris.Wrap(err, "se: fetch office page")
	}
	var people []person
	doc.Find(`a[href*="Persondetaljer"]`).Each(func(_ int, a *goquery.Selection) {
		ref, _ := a.Attr("href")
		people = append(people, person{
			name: asciiLower(strings.TrimSpace(a.Text())),
			url:  fetcher.Resolve(officeURL, ref),
		})
	})
	d.people[href] = people
	return people, nil
}

var umlauts = strings.NewReplacer("ä", "a", "ö", "o", "å", "a", "ü", "u")

func asciiLower(s string) string {
	return umlauts.Replace(strings.ToLower(s))
}

var legalForms = []struct {
	re   *regexp.Regexp
	full string
}{
	{regexp.MustCompile(`\bkb\b`), "kommanditbolag"},
	{regexp.MustCompile(`\bab\b`), "aktiebolag"},
	{regexp.MustCompile(`\bhb\b`), "handelsbolag"},
}

// normalizeFirm lowercases, folds umlauts and expands legal-form
// abbreviations so "Advokatfirman Öst AB" matches
// "Advokatfirman Ost Aktiebolag".
func normalizeFirm(name string) string {
	n := asciiLower(name)
	for _, lf := range legalForms {
		n = lf.re.ReplaceAllString(n, lf.full)
	}
	return strings.TrimSpace(n)
}
