// Package sanitize implements the Unicode Sanitizer (spec.md §4.A): it
// strips C0/C1 control bytes (except tab/LF/CR) from strings, and detects
// both literal control characters and their JSON-escape forms
// ( -, ) so previously-persisted-then-re-cast text is
// caught too.
package sanitize

import (
	"regexp"
	"strings"
)

// jsonEscapePattern matches a literal `\uXXXX` escape sequence for a C0
// control code point or DEL (U+007F) appearing in already-serialized text.
// Matches both the lower- and upper-case hex forms.
var jsonEscapePattern = regexp.MustCompile(`\\u(?:00[01][0-9a-fA-F]|007[fF])`)

// allowedControl is the set of C0 control runes that must NOT be stripped
// (tab, LF, CR), per spec.md §4.A.
func allowedControl(r rune) bool {
	return r == '\t' || r == '\n' || r == '\r'
}

// isUnwantedControl reports whether r is a C0 (U+0000-U+001F) or C1
// (U+007F-U+009F) control code point that must be stripped.
func isUnwantedControl(r rune) bool {
	if allowedControl(r) {
		return false
	}
	if r >= 0x00 && r <= 0x1F {
		return true
	}
	if r >= 0x7F && r <= 0x9F {
		return true
	}
	return false
}

// String removes actual C0/C1 control characters from s. It does not touch
// JSON-escape sequences; use StripJSONEscapes for text that is itself a
// serialized JSON fragment rather than a parsed value.
func String(s string) string {
	if !strings.ContainsFunc(s, isUnwantedControl) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isUnwantedControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// HasJSONEscapedControl reports whether s contains a literal `\u00XX`/``
// escape sequence, i.e. text that, if parsed as JSON, would decode to a
// disallowed control character. Used by the Sanitization Sweeper (§4.M) to
// pre-filter rows before touching them.
func HasJSONEscapedControl(s string) bool {
	return jsonEscapePattern.MatchString(s)
}

// StripJSONEscapes removes `\u00XX`/`` escape sequences from raw,
// not-yet-parsed JSON text. This must only run on text that is NOT
// currently being accumulated as a partial JSON token (spec.md §4.A
// "Sanitization MUST be applied after successful JSON parse... not during
// accumulation").
func StripJSONEscapes(s string) string {
	return jsonEscapePattern.ReplaceAllString(s, "")
}

// Filename sanitizes a file-name field: strips control characters and any
// ".." path-traversal segments (spec.md §4.A field-specific variant).
func Filename(s string) string {
	s = String(s)
	parts := strings.Split(s, "/")
	out := parts[:0]
	for _, p := range parts {
		if p == ".." {
			continue
		}
		out = append(out, p)
	}
	return strings.Join(out, "/")
}

// URL sanitizes a URL field: strips control characters and whitespace
// (spec.md §4.A field-specific variant).
func URL(s string) string {
	s = String(s)
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, s)
}
