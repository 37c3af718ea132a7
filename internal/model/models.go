// Package model defines shared data structures for the catalog service.
package model

import "time"

// RawPosting is a semi-structured offer as handed over by a source adapter.
// Every field is optional; Title is the only one that matters for a strong
// identity.
type RawPosting struct {
	Source             string     `json:"source,omitempty"`
	Title              string     `json:"title"`
	Company            string     `json:"company,omitempty"`
	Location           string     `json:"location,omitempty"`
	DescriptionSnippet string     `json:"description_snippet,omitempty"`
	PostedAt           *time.Time `json:"posted_at,omitempty"`
	CanonicalURL       string     `json:"canonical_url,omitempty"`
	SalaryText         string     `json:"salary_text,omitempty"`
}

// CanonicalRecord is a RawPosting after canonicalization: source attached,
// display fields trimmed, snippet bounded and identity computed.
type CanonicalRecord struct {
	Source             string
	Title              string
	Company            string
	Location           string
	DescriptionSnippet string
	PostedAt           *time.Time
	CanonicalURL       string
	SalaryText         string
	IdentityHash       string
}

// Posting mirrors a job_posting row.
type Posting struct {
	ID                 string     `db:"id" json:"id"`
	Source             string     `db:"source" json:"source"`
	Title              string     `db:"title" json:"title"`
	Company            string     `db:"company" json:"company"`
	Location           string     `db:"location" json:"location"`
	DescriptionSnippet string     `db:"description_snippet" json:"descriptionSnippet"`
	PostedAt           *time.Time `db:"posted_at" json:"postedAt,omitempty"`
	CanonicalURL       *string    `db:"canonical_url" json:"canonicalUrl,omitempty"`
	SalaryText         *string    `db:"salary_text" json:"salaryText,omitempty"`
	IdentityHash       string     `db:"identity_hash" json:"identityHash"`
	CreatedAt          time.Time  `db:"created_at" json:"createdAt"`
	FirstSeen          time.Time  `db:"first_seen" json:"firstSeen"`
	LastSeen           time.Time  `db:"last_seen" json:"lastSeen"`
	IsActive           bool       `db:"is_active" json:"isActive"`
}

// UpsertOutcome describes what a single upsert did to the row it targeted.
type UpsertOutcome struct {
	ID        string
	Inserted  bool
	WasActive bool // previous is_active; meaningless when Inserted
}

// SourceStats summarizes the stored postings of one source.
type SourceStats struct {
	Source   string     `db:"source" json:"source"`
	Active   int64      `db:"active" json:"active"`
	Inactive int64      `db:"inactive" json:"inactive"`
	LastSeen *time.Time `db:"last_seen" json:"lastSeen,omitempty"`
}
