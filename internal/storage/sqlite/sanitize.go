package sqlite

import "strings"

// sanitizeText normalizes untrusted string input before it is used in query
// parameters or stored: NUL bytes are stripped (SQLite treats them as string
// terminators in some contexts) and surrounding whitespace is trimmed.
func sanitizeText(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	return strings.TrimSpace(s)
}

// escapeLike escapes LIKE metacharacters in a user-supplied search term so
// that substring matching stays literal. The caller must bind the resulting
// pattern with an ESCAPE '\' clause.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
