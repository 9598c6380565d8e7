package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	cikPattern = regexp.MustCompile(`^\d+$`)
	// Permissive ticker shape. '.' and '-' are kept literal (BRK.B, RDS-A).
	tickerPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9.\-]{0,9}$`)
)

// IssuerRef is a reference-map entry keyed by canonical CIK.
type IssuerRef struct {
	Ticker  string `json:"ticker"`
	Company string `json:"company"`
}

// CanonicalTicker normalizes a ticker token to its canonical uppercase form.
// Returns "" when the token does not look like a ticker.
func CanonicalTicker(tok string) string {
	t := strings.ToUpper(strings.TrimSpace(tok))
	if t == "" || !tickerPattern.MatchString(t) {
		return ""
	}
	return t
}

// CanonicalCIK normalizes a CIK token to the 10-digit zero-padded form used
// by EDGAR. Returns "" when the token is not numeric.
func CanonicalCIK(tok string) string {
	t := strings.TrimSpace(tok)
	if !cikPattern.MatchString(t) {
		return ""
	}
	n, err := strconv.Atoi(t)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%010d", n)
}

// CanonicalText casefolds and collapses interior whitespace. Used for issuer
// names and dedup key fields so that cosmetic differences between sources do
// not defeat matching.
func CanonicalText(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.ToLower(s)
}
