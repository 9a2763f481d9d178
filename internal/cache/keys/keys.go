// Package keys builds cache keys for TiTiler /info responses.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const infoPrefix = "cog:info:"

// Info keys an /info response by COG and TiTiler base. The COG hash comes
// first so every base caching one COG shares CogPrefix.
func Info(titilerBase, cogURL string) string {
	norm := strings.TrimRight(strings.ToLower(strings.TrimSpace(titilerBase)), "/")
	base := sanitize(norm)
	const maxBaseLen = 96
	if len(base) > maxBaseLen {
		base = base[:maxBaseLen]
	}
	return fmt.Sprintf("%s%s:%s", CogPrefix(cogURL), base, hash(norm))
}

// CogPrefix is shared by all Info keys for cogURL.
func CogPrefix(cogURL string) string {
	return infoPrefix + hash(cogURL) + ":"
}

func hash(s string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(strings.TrimSpace(s)))
}

// keeps [A-Za-z0-9:_-]; runs of anything else collapse to one '-'
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := '-'
		if isAlphaNum(r) || r == ':' || r == '_' {
			out = r
		}
		if out == '-' && prev == '-' {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r < unicode.MaxASCII && unicode.IsDigit(r))
}
