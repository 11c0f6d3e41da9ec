package domain

import "strings"

// SanitizeServiceID keeps only ASCII letters, digits, '-' and '_'.
// Example: "next cloud;rm" -> "nextcloudrm"
func SanitizeServiceID(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}
