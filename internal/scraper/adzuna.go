package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"jobmate/catalog-service/internal/model"
)

const (
	adzunaBaseURL  = "https://api.adzuna.com/v1/api/jobs"
	adzunaPageSize = 50
	adzunaMaxPages = 3 // max 150 results per query
)

// AdzunaFetcher fetches job offers from the Adzuna public API for a fixed
// list of queries.
type AdzunaFetcher struct {
	AppID   string
	AppKey  string
	Country string // "fr", "gb", "us", …
	Queries []Query
	BaseURL string

	client  *http.Client
	limiter *rate.Limiter
}

// NewAdzunaFetcher constructs a fetcher with a shared HTTP client. rps <= 0
// disables rate limiting.
func NewAdzunaFetcher(appID, appKey, country string, queries []Query, rps float64) *AdzunaFetcher {
	return &AdzunaFetcher{
		AppID:   appID,
		AppKey:  appKey,
		Country: country,
		Queries: queries,
		BaseURL: adzunaBaseURL,
		client:  newHTTPClient(),
		limiter: newLimiter(rps),
	}
}

type adzunaResponse struct {
	Results []adzunaResult `json:"results"`
	Count   int            `json:"count"`
}

type adzunaResult struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Company     adzunaCompany  `json:"company"`
	Location    adzunaLocation `json:"location"`
	SalaryMin   float64        `json:"salary_min"`
	SalaryMax   float64        `json:"salary_max"`
	RedirectURL string         `json:"redirect_url"`
	Created     string         `json:"created"`
}

type adzunaCompany struct {
	DisplayName string `json:"display_name"`
}

type adzunaLocation struct {
	DisplayName string `json:"display_name"`
}

// Fetch runs every query, iterating pages until a short page or
// adzunaMaxPages. Any failed page fails the whole fetch.
func (f *AdzunaFetcher) Fetch(ctx context.Context) ([]model.RawPosting, error) {
	if f.AppID == "" || f.AppKey == "" {
		return nil, errors.Wrap(ErrNotConfigured, "adzuna: ADZUNA_APP_ID / ADZUNA_APP_KEY not set")
	}

	var results []model.RawPosting
	for _, q := range f.Queries {
		for page := 1; page <= adzunaMaxPages; page++ {
			batch, err := f.fetchPage(ctx, q, page)
			if err != nil {
				return nil, errors.Wrapf(err, "adzuna %q in %q page %d", q.What, q.Where, page)
			}
			results = append(results, batch...)
			if len(batch) < adzunaPageSize {
				break
			}
		}
	}
	return results, nil
}

func (f *AdzunaFetcher) fetchPage(ctx context.Context, q Query, page int) ([]model.RawPosting, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("app_id", f.AppID)
	params.Set("app_key", f.AppKey)
	params.Set("results_per_page", strconv.Itoa(adzunaPageSize))
	params.Set("what", q.What)
	params.Set("where", q.Where)
	params.Set("content-type", "application/json")
	params.Set("sort_by", "date")

	reqURL := fmt.Sprintf("%s/%s/search/%d?%s", f.BaseURL, f.Country, page, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "http GET")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("adzuna returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var apiResp adzunaResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, errors.Wrap(err, "json unmarshal")
	}

	postings := make([]model.RawPosting, 0, len(apiResp.Results))
	for _, r := range apiResp.Results {
		postings = append(postings, model.RawPosting{
			Title:              r.Title,
			Company:            r.Company.DisplayName,
			Location:           r.Location.DisplayName,
			DescriptionSnippet: r.Description,
			PostedAt:           parseTime(r.Created),
			CanonicalURL:       r.RedirectURL,
			SalaryText:         salaryRange(r.SalaryMin, r.SalaryMax),
		})
	}
	return postings, nil
}

func salaryRange(min, max float64) string {
	switch {
	case min > 0 && max > 0 && min != max:
		return fmt.Sprintf("%.0f–%.0f", min, max)
	case max > 0:
		return fmt.Sprintf("%.0f", max)
	case min > 0:
		return fmt.Sprintf("%.0f", min)
	}
	return ""
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}
