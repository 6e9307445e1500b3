// Package coord parses, normalizes and classifies coordinate values found in
// survey documents and in the marker store.
package coord

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// NumberFormat tells ParseNumber which separator convention a document uses.
type NumberFormat string

const (
	// FormatAuto treats a token with a comma as Brazilian ("627.110,28") and a
	// token without one as dot-decimal ("757919.735"). Comma-less tokens with
	// several dots ("7.187.922") are ambiguous and rejected.
	FormatAuto NumberFormat = "auto"
	// FormatComma always reads "." as thousands and "," as decimal separator.
	FormatComma NumberFormat = "comma"
	// FormatDot always reads "," as thousands and "." as decimal separator.
	FormatDot NumberFormat = "dot"
)

// ParseNumberFormat validates a configured format name. Empty means auto.
func ParseNumberFormat(s string) (NumberFormat, error) {
	switch f := NumberFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatAuto:
		return FormatAuto, nil
	case FormatComma, FormatDot:
		return f, nil
	}
	return "", eris.Errorf("coord: unknown number format %q", s)
}

// ParseNumber converts a numeric token to float64 following the separator
// convention in format. Surrounding spaces, a leading sign and inner spaces
// used as digit grouping are tolerated.
func ParseNumber(token string, format NumberFormat) (float64, error) {
	s := strings.TrimSpace(token)
	s = strings.NewReplacer(" ", "", "\u00a0", "").Replace(s)
	if s == "" {
		return 0, eris.New("coord: empty numeric token")
	}

	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg, s = true, s[1:]
	case strings.HasPrefix(s, "\u2212"):
		neg, s = true, strings.TrimPrefix(s, "\u2212")
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}

	var canonical string
	switch format {
	case FormatDot:
		canonical = strings.ReplaceAll(s, ",", "")
	case FormatComma:
		canonical = commaDecimal(s)
	default:
		if strings.Contains(s, ",") {
			canonical = commaDecimal(s)
		} else {
			canonical = s
		}
	}

	v, err := strconv.ParseFloat(canonical, 64)
	if err != nil || !onlyNumeric(canonical) {
		return 0, eris.Errorf("coord: invalid numeric token %q", token)
	}
	if neg {
		v = -v
	}
	return v, nil
}

// commaDecimal rewrites "7.187.922,29" as "7187922.29". The digit group after
// the last comma is the fraction; every other separator is grouping.
func commaDecimal(s string) string {
	idx := strings.LastIndex(s, ",")
	if idx < 0 {
		return strings.ReplaceAll(s, ".", "")
	}
	intPart := strings.NewReplacer(".", "", ",", "").Replace(s[:idx])
	return intPart + "." + s[idx+1:]
}

// onlyNumeric rejects forms strconv accepts but documents never use
// ("Inf", "NaN", hex, exponents, underscores).
func onlyNumeric(s string) bool {
	dot := false
	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.' && !dot:
			dot = true
		default:
			return false
		}
	}
	return digits > 0
}
