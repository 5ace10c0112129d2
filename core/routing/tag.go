package routing

import "strings"

// ParseTag splits an optional bracketed routing tag off the front of a
// message: "[main] hello" yields ("main", "hello", true). An unterminated
// bracket is not a tag; the literal text is preserved as the body.
func ParseTag(text string) (tag, body string, ok bool) {
	rest, found := strings.CutPrefix(text, "[")
	if !found {
		return "", text, false
	}
	end := strings.Index(rest, "]")
	if end < 0 {
		return "", text, false
	}
	return rest[:end], strings.TrimSpace(rest[end+1:]), true
}
