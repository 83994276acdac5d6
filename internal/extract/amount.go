package extract

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// NormalizeAmount converts a currency-formatted string ("$5,000,000",
// "€1.234,56" is out of scope, "(2,500)") into an exact decimal. Currency
// symbols and grouping separators are stripped; accounting parentheses
// negate. A value that cannot be converted is a missing field and
// normalizes to zero, never to an error.
func NormalizeAmount(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '$', '€', '£', '¥', ',', ' ', '_':
			// currency symbol or grouping separator
		default:
			sb.WriteRune(r)
		}
	}

	d, err := decimal.NewFromString(sb.String())
	if err != nil {
		return decimal.Zero
	}
	if negative {
		return d.Neg()
	}
	return d
}

// dateLayouts are tried in order when parsing transaction dates.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05Z07:00",
	"01/02/2006",
	"2006/01/02",
	"Jan 2, 2006",
	"2 Jan 2006",
}

// ParseDate parses a transaction date from the formats that show up in fund
// documents. Returns the zero time when nothing matches; the date is
// best-effort, unlike the amount it is not required for validity.
func ParseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
