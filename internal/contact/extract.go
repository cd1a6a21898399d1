package contact

import (
	"regexp"
	"strings"

	"github.com/sells-group/bankruptcy-monitor/internal/model"
)

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

var fullEmailPattern = regexp.MustCompile(`^[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}$`)

// Substrings that mark an address as machine-generated or third-party.
var deniedSubstrings = []string{
	"noreply", "no-reply", "donotreply",
	"example.com", "sentry.io", "wixpress.com", "schema.org", "w3.org",
	"google.com", "facebook.com", "twitter.com", "wordpress",
}

var deniedLocals = map[string]bool{
	"info": true, "test": true, "example": true,
	"admin": true, "webmaster": true, "postmaster": true,
}

// Shared mailboxes: acceptable, but only when nothing personal is found.
var genericLocals = map[string]bool{
	"kontakt": true, "contact": true, "mail": true, "reception": true, "office": true,
}

// Asset filenames such as logo@2x.png match the address pattern.
var assetSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp"}

// Hints describe whose address we are looking for.
type Hints struct {
	Name string
	Firm string
}

// nameTokens returns the folded tokens of the trustee name that are long
// enough to be meaningful in a local part.
func (h Hints) nameTokens() []string {
	var out []string
	for _, tok := range strings.Fields(model.NormalizeName(h.Name)) {
		if len(tok) >= 3 {
			out = append(out, tok)
		}
	}
	return out
}

// Candidates returns every acceptable address in text, lowercased, in
// order of first appearance.
func Candidates(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range emailPattern.FindAllString(text, -1) {
		e := strings.TrimRight(strings.ToLower(m), ".")
		if seen[e] || !acceptable(e) {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

// ExtractEmail picks the best trustee address from free text. Addresses
// whose local part contains a token of the trustee's name win; otherwise
// the first personal address; shared mailboxes come last. Returns "" when
// nothing acceptable is present.
func ExtractEmail(text string, hints Hints) string {
	return best(Candidates(text), hints)
}

func best(cands []string, hints Hints) string {
	tokens := hints.nameTokens()
	pick, rank := "", 4
	for _, e := range cands {
		if r := rankEmail(e, tokens); r < rank {
			pick, rank = e, r
		}
	}
	return pick
}

func rankEmail(e string, nameTokens []string) int {
	local := localPart(e)
	folded := model.NormalizeName(local)
	for _, tok := range nameTokens {
		if strings.Contains(folded, tok) || strings.Contains(local, tok) {
			return 0
		}
	}
	if genericLocals[local] {
		return 2
	}
	return 1
}

// Plausible reports whether s is a single acceptable address.
func Plausible(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return fullEmailPattern.MatchString(s) && acceptable(s)
}

func acceptable(e string) bool {
	for _, d := range deniedSubstrings {
		if strings.Contains(e, d) {
			return false
		}
	}
	for _, suf := range assetSuffixes {
		if strings.HasSuffix(e, suf) {
			return false
		}
	}
	return !deniedLocals[localPart(e)]
}

func localPart(e string) string {
	if i := strings.IndexByte(e, '@'); i >= 0 {
		return e[:i]
	}
	return e
}
