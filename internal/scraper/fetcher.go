// Package scraper implements the source adapters that hand raw postings to
// the ingestion pipeline.
//
// A Fetcher must return either every posting the source currently lists or
// an error. Partial results are never returned: the orchestrator treats a
// successful fetch as the complete set and deactivates whatever is missing.
package scraper

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"

	"jobmate/catalog-service/internal/model"
)

const httpTimeout = 15 * time.Second

// ErrNotConfigured is returned by adapters missing credentials. A run with
// an unconfigured adapter must fail rather than look like "zero postings".
var ErrNotConfigured = errors.New("source adapter not configured")

// Fetcher retrieves the current postings of one source.
type Fetcher interface {
	Fetch(ctx context.Context) ([]model.RawPosting, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context) ([]model.RawPosting, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context) ([]model.RawPosting, error) {
	return f(ctx)
}

// Query is one search issued against a job board.
type Query struct {
	What  string `yaml:"what"`
	Where string `yaml:"where"`
}

// Seen reports whether an identity is already stored. Used to skip
// expensive per-item lookups; never as the dedup authority.
type Seen interface {
	Exists(ctx context.Context, identityHash string) (bool, error)
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: httpTimeout}
}
