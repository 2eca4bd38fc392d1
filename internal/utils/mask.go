package utils

import "strings"

// MaskToken keeps both ends of a token so two tokens can be told apart in
// output without revealing either. Short values are hidden entirely.
func MaskToken(s string) string {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return "(none)"
	case len(s) <= 12:
		return "****"
	default:
		return s[:4] + "…" + s[len(s)-4:]
	}
}
