package country

import (
	"math"
	"strconv"
	"strings"
)

// AmountFormat describes how a country writes money amounts.
type AmountFormat struct {
	// Currency is the unit suffix (e.g., "SEK"). A "T" prefix ("TSEK")
	// means thousands.
	Currency string
	// Decimal is the decimal separator.
	Decimal rune
	// Thousands lists the grouping separators, removed before parsing.
	Thousands string
}

// ParseAmount converts raw into an integer amount in f's currency,
// truncating any fractional part. Empty values and the placeholders "N/A"
// and "-" are null.
func ParseAmount(raw string, f AmountFormat) (int64, bool) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" || s == "N/A" || s == "-" {
		return 0, false
	}

	mult := 1.0
	if cur := strings.ToUpper(f.Currency); cur != "" {
		if strings.Contains(s, "T"+cur) {
			mult = 1000
			s = strings.ReplaceAll(s, "T"+cur, "")
		} else {
			s = strings.ReplaceAll(s, cur, "")
		}
	}

	s = strings.Map(func(r rune) rune {
		switch {
		case r == ' ' || r == '\u00a0' || r == '\u202f':
			return -1
		case strings.ContainsRune(f.Thousands, r):
			return -1
		case r == f.Decimal:
			return '.'
		}
		return r
	}, s)
	if s == "" {
		return 0, false
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if mult > 1 {
		return int64(math.Round(v * mult)), true
	}
	return int64(v), true
}
