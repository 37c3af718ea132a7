// Package canon turns raw posting records into canonical records with a
// stable identity hash.
//
// The identity is a SHA-256 digest over the "|"-joined normalized source,
// title, company, location and canonical URL. Normalization applies full
// Unicode lower-casing, trims and collapses whitespace runs, so formatting
// noise from a source never produces a second identity for the same
// posting. Digests are part of the stored data and must not change.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"jobmate/catalog-service/internal/model"
)

// SnippetMaxRunes bounds description_snippet.
const SnippetMaxRunes = 250

const snippetEllipsis = "..."

// Normalize returns "" for empty input; otherwise the trimmed, lower-cased
// string with every whitespace run collapsed to a single space.
//
// Lower-casing is the full root-locale mapping (U+0130 becomes "i\u0307",
// a final sigma becomes ς), not the per-rune strings.ToLower.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	// A Caser keeps state; one per call.
	return cases.Lower(language.Und).String(strings.Join(strings.FieldsFunc(s, isSpace), " "))
}

// isSpace is unicode.IsSpace plus the ASCII information separators
// U+001C..U+001F.
func isSpace(r rune) bool {
	return unicode.IsSpace(r) || (r >= 0x1c && r <= 0x1f)
}

// Identity computes the hex-encoded identity hash of a posting.
func Identity(source, title, company, location, canonicalURL string) string {
	base := strings.Join([]string{
		Normalize(source),
		Normalize(title),
		Normalize(company),
		Normalize(location),
		Normalize(canonicalURL),
	}, "|")
	sum := sha256.Sum256([]byte(base))
	return hex.EncodeToString(sum[:])
}

// Snippet trims s and cuts it to SnippetMaxRunes, appending "..." when
// something was dropped.
func Snippet(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= SnippetMaxRunes {
		return s
	}
	runes := []rune(s)
	return strings.TrimRightFunc(string(runes[:SnippetMaxRunes]), unicode.IsSpace) + snippetEllipsis
}

// Canonicalize builds the canonical form of raw. source is attached when the
// record does not carry its own.
func Canonicalize(source string, raw model.RawPosting) model.CanonicalRecord {
	src := strings.TrimSpace(raw.Source)
	if src == "" {
		src = source
	}
	rec := model.CanonicalRecord{
		Source:             src,
		Title:              strings.TrimSpace(raw.Title),
		Company:            strings.TrimSpace(raw.Company),
		Location:           strings.TrimSpace(raw.Location),
		DescriptionSnippet: Snippet(raw.DescriptionSnippet),
		PostedAt:           raw.PostedAt,
		CanonicalURL:       strings.TrimSpace(raw.CanonicalURL),
		SalaryText:         strings.TrimSpace(raw.SalaryText),
	}
	rec.IdentityHash = Identity(rec.Source, rec.Title, rec.Company, rec.Location, rec.CanonicalURL)
	return rec
}
