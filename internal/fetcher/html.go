package fetcher

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// MailtoAddresses returns the addresses of all mailto links under sel, in
// document order, lowercased and without query parameters.
func MailtoAddresses(sel *goquery.Selection) []string {
	var out []string
	sel.Find(`a[href^="mailto:"]`).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		raw := strings.TrimPrefix(href, "mailto:")
		if i := strings.IndexByte(raw, '?'); i >= 0 {
			raw = raw[:i]
		}
		if dec, err := url.PathUnescape(raw); err == nil {
			raw = dec
		}
		if m := emailPattern.FindString(strings.TrimSpace(raw)); m != "" {
			out = append(out, strings.ToLower(m))
		}
	})
	return out
}

// Resolve joins href against base the way a browser would. An unparseable
// href is returned unchanged.
func Resolve(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}
