package scraper

import (
	"context"
	"encoding/json"
	"os"

	"github.com/cockroachdb/errors"

	"jobmate/catalog-service/internal/model"
)

// StaticFetcher serves postings from a JSON array on disk. The file is read
// on every fetch, so editing it between runs simulates a source changing its
// listings.
type StaticFetcher struct {
	Path string
}

// Fetch reads and decodes the file. A missing or malformed file is a fetch
// failure, never an empty listing.
func (f StaticFetcher) Fetch(ctx context.Context) ([]model.RawPosting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", f.Path)
	}
	var postings []model.RawPosting
	if err := json.Unmarshal(data, &postings); err != nil {
		return nil, errors.Wrapf(err, "decode %s", f.Path)
	}
	return postings, nil
}
