package canon_test

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/catalog-service/internal/canon"
	"jobmate/catalog-service/internal/model"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"", ""},
		{"   ", ""},
		{"Acme Pty Ltd", "acme pty ltd"},
		{"  acme   pty ltd ", "acme pty ltd"},
		{"Sydney\tNSW\n", "sydney nsw"},
		{"MIXED Case", "mixed case"},
		{"\x1cSydney\x1fNSW\x1e", "sydney nsw"},
		{"İstanbul", "i\u0307stanbul"},
		{"ΟΔΟΣ", "οδος"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, canon.Normalize(c.in), "Normalize(%q)", c.in)
	}
}

func TestIdentity_StableAcrossFormattingNoise(t *testing.T) {
	a := canon.Identity("seek", "Junior Software Developer", "Acme Pty Ltd", "Sydney NSW", "https://example.com/seek/acme-junior")
	b := canon.Identity(" SEEK", "junior   software\tdeveloper ", "  acme   pty ltd ", "SYDNEY  nsw", "HTTPS://example.com/seek/acme-junior  ")

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestIdentity_KnownDigest(t *testing.T) {
	got := canon.Identity("seek", "Junior Software Developer", "Acme Pty Ltd", "Sydney NSW", "https://example.com/seek/acme-junior")
	assert.Equal(t, "ac13f7135de0d3a7cbc386ddcab006bc341372cc67d0ddb141c5bdd8bfabdd6d", got)
}

// Digests computed independently of this package; they are stored and must
// never drift.
func TestIdentity_ReferenceDigests(t *testing.T) {
	cases := []struct {
		title, company, location string
		want                     string
	}{
		{"Dev", "Acme", "Sydney NSW", "2f7ffb91f76767a3511a7ae00f47cad49d0737b8b6e03d2a7bcc1a06cce58d6d"},
		{"Dev", "Acme", "Sydney\x1fNSW", "2f7ffb91f76767a3511a7ae00f47cad49d0737b8b6e03d2a7bcc1a06cce58d6d"},
		{"Dev", "Acme", "\x1cSydney NSW\x1e", "2f7ffb91f76767a3511a7ae00f47cad49d0737b8b6e03d2a7bcc1a06cce58d6d"},
		{"Dev", "Acme", "İstanbul", "f57e6a9784f0e281ccf82270fd91bb2f70542943f56cf7600e41fb60bf7d6656"},
		{"ΟΔΟΣ", "Acme", "Athens", "719c4145a88c1b504e417d016db1cf1c495f502361e4fb47af9c66e1d71cb20d"},
		{"Straße", "Acme", "Berlin", "824b4bc54136d0ae2fd528be354bb0a405299a428d4955afec5347eb7be1f002"},
		{"Dev\u00a0Ops", "Acme\u3000KK", "Tokyo\u2028JP", "bedb47c43543924d1c21a557a8f0276335e2db103f93bad4ae8179d8b8182d92"},
	}
	for _, c := range cases {
		got := canon.Identity("seek", c.title, c.company, c.location, "")
		assert.Equal(t, c.want, got, "Identity(%q, %q, %q)", c.title, c.company, c.location)
	}
}

func TestIdentity_EmptyFields(t *testing.T) {
	got := canon.Identity("", "", "", "", "")
	assert.Equal(t, "45ca31c3315a5978f40438aab46040d75e99c9b125c2fd01db6e10ac80bef906", got)
}

func TestIdentity_FieldsAreDistinct(t *testing.T) {
	base := canon.Identity("seek", "Backend Engineer", "FinTech Global", "Melbourne VIC", "")

	assert.NotEqual(t, base, canon.Identity("indeed", "Backend Engineer", "FinTech Global", "Melbourne VIC", ""))
	assert.NotEqual(t, base, canon.Identity("seek", "Backend Engineer", "FinTech Global", "Sydney NSW", ""))
	assert.NotEqual(t, base, canon.Identity("seek", "Backend Engineer", "FinTech Global", "Melbourne VIC", "https://example.com/x"))
	// The separator keeps adjacent fields from bleeding into each other.
	assert.NotEqual(t,
		canon.Identity("seek", "a", "b", "", ""),
		canon.Identity("seek", "a b", "", "", ""),
	)
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "short text", canon.Snippet("  short text "))

	long := strings.Repeat("é", canon.SnippetMaxRunes+10)
	got := canon.Snippet(long)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, canon.SnippetMaxRunes+3, utf8.RuneCountInString(got))

	exact := strings.Repeat("x", canon.SnippetMaxRunes)
	assert.Equal(t, exact, canon.Snippet(exact))
}

func TestCanonicalize_AttachesSource(t *testing.T) {
	posted := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	raw := model.RawPosting{
		Title:        "  Junior Software Developer ",
		Company:      "Acme Pty Ltd",
		Location:     "Sydney NSW",
		PostedAt:     &posted,
		CanonicalURL: "https://example.com/seek/acme-junior",
		SalaryText:   " $80k–$95k ",
	}

	rec := canon.Canonicalize("seek", raw)

	assert.Equal(t, "seek", rec.Source)
	assert.Equal(t, "Junior Software Developer", rec.Title)
	assert.Equal(t, "$80k–$95k", rec.SalaryText)
	require.NotNil(t, rec.PostedAt)
	assert.True(t, posted.Equal(*rec.PostedAt))
	assert.Equal(t, canon.Identity("seek", raw.Title, raw.Company, raw.Location, raw.CanonicalURL), rec.IdentityHash)
}

func TestCanonicalize_KeepsRecordSource(t *testing.T) {
	rec := canon.Canonicalize("seek", model.RawPosting{Source: "linkedin", Title: "SRE"})
	assert.Equal(t, "linkedin", rec.Source)
	assert.Equal(t, canon.Identity("linkedin", "SRE", "", "", ""), rec.IdentityHash)
}

func TestCanonicalize_UntitledRecordsCollide(t *testing.T) {
	a := canon.Canonicalize("seek", model.RawPosting{Company: "Acme", Location: "Perth", DescriptionSnippet: "one"})
	b := canon.Canonicalize("seek", model.RawPosting{Company: "ACME ", Location: "perth", DescriptionSnippet: "two"})
	assert.Equal(t, a.IdentityHash, b.IdentityHash)
}
