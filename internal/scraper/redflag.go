package scraper

import (
	"strings"

	"jobmate/catalog-service/internal/model"
)

// RedFlags drops postings mentioning any configured term (case-insensitive)
// in the title, company or description. The zero value excludes nothing.
type RedFlags struct {
	terms []string
}

// NewRedFlags lower-cases terms once and discards blanks.
func NewRedFlags(terms []string) RedFlags {
	rf := RedFlags{}
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			rf.terms = append(rf.terms, t)
		}
	}
	return rf
}

// Matches reports whether p contains a red flag.
func (rf RedFlags) Matches(p model.RawPosting) bool {
	if len(rf.terms) == 0 {
		return false
	}
	combined := strings.ToLower(p.Title + " " + p.Company + " " + p.DescriptionSnippet)
	for _, term := range rf.terms {
		if strings.Contains(combined, term) {
			return true
		}
	}
	return false
}

// Filter returns the postings without a red flag and how many were dropped.
// The input slice is not modified.
func (rf RedFlags) Filter(postings []model.RawPosting) ([]model.RawPosting, int) {
	if len(rf.terms) == 0 {
		return postings, 0
	}
	kept := make([]model.RawPosting, 0, len(postings))
	for _, p := range postings {
		if !rf.Matches(p) {
			kept = append(kept, p)
		}
	}
	return kept, len(postings) - len(kept)
}
