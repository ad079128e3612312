package ingestion

import (
	"strings"
	"unicode"
)

// titleMaxRunes and messageMaxRunes are spec.md §4.8/§7's length caps: chat
// titles cap at 255; message text beyond 10000 runes is rejected at
// ingress rather than silently truncated.
const (
	titleMaxRunes   = 255
	messageMaxRunes = 10000
)

// sanitizeText implements spec.md §4.1 step 2 / §4.8: trim, strip Unicode
// "other" category code points (Cc control, Cf format, Co private-use),
// matching ai/filter/sensitive.go's compiled-rule idiom but using
// unicode.Is rather than a regex since the rule is a category test, not a
// pattern.
func sanitizeText(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.In(r, unicode.Cc, unicode.Cf, unicode.Co) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// sanitizeTitle sanitizes and caps a chat title at titleMaxRunes.
func sanitizeTitle(s string) string {
	return truncateRunes(sanitizeText(s), titleMaxRunes)
}

// isOversizedMessage rejects message text over messageMaxRunes before it
// ever reaches persistence (spec.md §7 "Validation" error kind).
func isOversizedMessage(s string) bool {
	return len([]rune(s)) > messageMaxRunes
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
