package model

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// FilingKey identifies one real-world filing.
type FilingKey struct {
	Country    string
	OrgNumber  string
	FilingDate string // YYYY-MM-DD
}

// RecordKey is the persisted identity: a filing plus the resolved contact.
type RecordKey struct {
	FilingKey
	TrusteeEmail string
}

// KeySet is a set of filing identities already known to the store.
type KeySet map[FilingKey]struct{}

// NewKeySet builds a KeySet from keys.
func NewKeySet(keys ...FilingKey) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Has reports whether k is in the set. A nil set has no members.
func (s KeySet) Has(k FilingKey) bool {
	_, ok := s[k]
	return ok
}

// Add inserts k.
func (s KeySet) Add(k FilingKey) { s[k] = struct{}{} }

// NormalizeOrgNumber canonicalizes a registration number for a country.
// Placeholder values ("N/A", "-") normalize to "".
func NormalizeOrgNumber(country, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "n/a") || raw == "-" {
		return ""
	}
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}

	switch strings.ToLower(country) {
	case "se":
		// 12-digit form carries the century prefix (16, 19, 20).
		if len(digits) == 12 {
			digits = digits[2:]
		}
		if len(digits) == 10 {
			return digits[:6] + "-" + digits[6:]
		}
	case "fi":
		if len(digits) == 8 {
			return digits[:7] + "-" + digits[7:]
		}
	}
	return digits
}

var legalForms = map[string]bool{
	"ab": true, "aktiebolag": true, "publ": true,
	"as": true, "asa": true, "aps": true, "is": true,
	"oy": true, "oyj": true, "ky": true,
	"hb": true, "kb": true, "handelsbolag": true, "kommanditbolag": true,
	"ltd": true, "gmbh": true, "konkursbo": true,
}

var foldReplacer = strings.NewReplacer(
	"ø", "o", "æ", "ae", "đ", "d", "ł", "l", "a/s", "as", "i/s", "is",
)

// NormalizeName produces the fallback identity form of a company name:
// accents stripped, case folded, punctuation collapsed, and trailing
// legal-form tokens (AB, AS, ApS, Oy, ...) dropped.
func NormalizeName(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, name)
	if err != nil {
		stripped = name
	}
	folded := foldReplacer.Replace(cases.Fold().String(stripped))

	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for len(fields) > 1 && legalForms[fields[len(fields)-1]] {
		fields = fields[:len(fields)-1]
	}
	return strings.Join(fields, " ")
}

// NamePrefix marks an identity derived from the company name.
const NamePrefix = "name:"

// OrgFromIdentity splits a persisted identity number back into the org
// number and the fallback flag.
func OrgFromIdentity(id string) (org string, fallback bool) {
	if strings.HasPrefix(id, NamePrefix) {
		return "", true
	}
	return id, false
}

// MergeKey returns the aggregator identity for a record: the org number
// when present, otherwise the normalized company name.
func MergeKey(r FilingRecord) (key string, fallback bool) {
	if r.OrgNumber != "" {
		return "org:" + r.OrgNumber, false
	}
	return NamePrefix + NormalizeName(r.CompanyName), true
}
