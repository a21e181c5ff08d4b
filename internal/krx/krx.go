// Package krx holds the small shared conventions of the Korean cash-equity
// market this system trades: the exchange timezone and the 6-digit
// zero-padded instrument code format.
package krx

import (
	"strings"
	"time"
)

// KST is the exchange timezone. A fixed offset is used on purpose: Korea has
// no daylight saving, and a fixed zone keeps replay deterministic on hosts
// without tzdata.
var KST = time.FixedZone("KST", 9*60*60)

// Now returns the current wall-clock time in exchange time.
func Now() time.Time {
	return time.Now().In(KST)
}

// NormalizeCode zero-pads an instrument code to the canonical 6-digit form.
// Codes longer than 6 digits are returned trimmed of surrounding whitespace
// but otherwise untouched.
func NormalizeCode(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	for len(code) < 6 {
		code = "0" + code
	}
	return code
}
