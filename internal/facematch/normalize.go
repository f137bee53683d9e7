package facematch

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// CanonicalUsername returns the key usernames are compared by (trimmed, lowercase, no diacritics).
// "Bob", " bob " and "Böb" share the same key.
func CanonicalUsername(username string) string {
	username = strings.TrimSpace(username)
	username = RemoveDiacritics(username)
	return strings.ToLower(username)
}

// CanonicalEmail returns the key emails are compared by.
func CanonicalEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
