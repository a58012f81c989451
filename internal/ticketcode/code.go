// Package ticketcode formats and parses human-readable ticket codes of the
// form PREFIX-YEAR-NNNNN, e.g. FX-2025-00142.
package ticketcode

import (
	"fmt"
	"strconv"
	"strings"
)

const DefaultPrefix = "FX"

// LikeEscaper escapes LIKE wildcards for patterns used with ESCAPE '\'.
var LikeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Format renders a code. Sequences above 99999 keep all their digits.
func Format(prefix string, year, seq int) string {
	return fmt.Sprintf("%s-%d-%05d", prefix, year, seq)
}

// Pattern returns the SQL LIKE pattern matching every code of prefix/year.
// Wildcards in prefix are escaped; use it with ESCAPE '\'.
func Pattern(prefix string, year int) string {
	return fmt.Sprintf("%s-%d-%%", LikeEscaper.Replace(prefix), year)
}

// Sequence extracts the numeric segment of code if it belongs to prefix/year.
func Sequence(code, prefix string, year int) (int, bool) {
	head := fmt.Sprintf("%s-%d-", prefix, year)
	if !strings.HasPrefix(code, head) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(code, head))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Next returns the sequence that follows latest, or 1 when latest is empty or
// does not parse.
func Next(latest, prefix string, year int) int {
	if n, ok := Sequence(latest, prefix, year); ok {
		return n + 1
	}
	return 1
}
