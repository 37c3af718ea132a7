package scraper

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"jobmate/catalog-service/internal/canon"
	"jobmate/catalog-service/internal/logger"
	"jobmate/catalog-service/internal/model"
)

const (
	jsearchHost    = "jsearch.p.rapidapi.com"
	jsearchBaseURL = "https://" + jsearchHost
	jsearchSource  = "jsearch"
)

// JSearchFetcher reads postings from the JSearch RapidAPI: one search call per
// page, then a detail call per posting the catalog does not know yet.
type JSearchFetcher struct {
	Source  string
	APIKey  string
	Queries []string
	Pages   int
	BaseURL string

	seen    Seen
	client  *http.Client
	limiter *rate.Limiter
	log     *logger.Logger
}

// NewJSearchFetcher builds a fetcher. seen may be nil, in which case every
// posting gets a detail call.
func NewJSearchFetcher(apiKey string, queries []string, pages int, rps float64, seen Seen, log *logger.Logger) *JSearchFetcher {
	if pages <= 0 {
		pages = 1
	}
	return &JSearchFetcher{
		Source:  jsearchSource,
		APIKey:  apiKey,
		Queries: queries,
		Pages:   pages,
		BaseURL: jsearchBaseURL,
		seen:    seen,
		client:  newHTTPClient(),
		limiter: newLimiter(rps),
		log:     log.WithComponent("jsearch"),
	}
}

type jsearchResponse struct {
	Status string       `json:"status"`
	Data   []jsearchJob `json:"data"`
}

type jsearchJob struct {
	ID          string `json:"job_id"`
	Title       string `json:"job_title"`
	Employer    string `json:"employer_name"`
	City        string `json:"job_city"`
	Description string `json:"job_description"`
	PostedAt    *int64 `json:"job_posted_at_timestamp"`
	ApplyLink   string `json:"job_apply_link"`
	SalaryRange string `json:"job_salary_range"`
}

func (j jsearchJob) posting(source string) model.RawPosting {
	p := model.RawPosting{
		Source:             source,
		Title:              j.Title,
		Company:            j.Employer,
		Location:           j.City,
		DescriptionSnippet: j.Description,
		CanonicalURL:       j.ApplyLink,
		SalaryText:         j.SalaryRange,
	}
	if j.PostedAt != nil {
		t := time.Unix(*j.PostedAt, 0).UTC()
		p.PostedAt = &t
	}
	return p
}

// Fetch returns every posting listed by the configured queries. A failed
// search page fails the fetch; a failed detail call falls back to the
// summary the search returned so the posting still counts as seen.
func (f *JSearchFetcher) Fetch(ctx context.Context) ([]model.RawPosting, error) {
	if f.APIKey == "" {
		return nil, errors.Wrap(ErrNotConfigured, "jsearch: RAPIDAPI_KEY not set")
	}

	var out []model.RawPosting
	for _, q := range f.Queries {
		for page := 1; page <= f.Pages; page++ {
			jobs, err := f.search(ctx, q, page)
			if err != nil {
				return nil, errors.Wrapf(err, "jsearch %q page %d", q, page)
			}
			if len(jobs) == 0 {
				break
			}
			for _, job := range jobs {
				if job.ID == "" {
					continue
				}
				out = append(out, f.resolve(ctx, job))
			}
		}
	}
	return out, nil
}

// resolve returns the detailed posting for job, or its summary when the
// catalog already holds it or the detail call fails.
func (f *JSearchFetcher) resolve(ctx context.Context, job jsearchJob) model.RawPosting {
	summary := job.posting(f.Source)

	if f.seen != nil {
		id := canon.Identity(f.Source, summary.Title, summary.Company, summary.Location, summary.CanonicalURL)
		known, err := f.seen.Exists(ctx, id)
		switch {
		case err != nil:
			f.log.Warnw("existence check failed, fetching details", "job_id", job.ID, "error", err)
		case known:
			return summary
		}
	}

	detail, err := f.details(ctx, job.ID)
	if err != nil {
		f.log.Warnw("detail fetch failed, keeping summary", "job_id", job.ID, "error", err)
		return summary
	}
	return detail.posting(f.Source)
}

func (f *JSearchFetcher) search(ctx context.Context, query string, page int) ([]jsearchJob, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("page", strconv.Itoa(page))
	params.Set("num_pages", "1")

	var resp jsearchResponse
	if err := f.get(ctx, "/search", params, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "OK" {
		return nil, errors.Newf("search status %q", resp.Status)
	}
	return resp.Data, nil
}

func (f *JSearchFetcher) details(ctx context.Context, jobID string) (jsearchJob, error) {
	params := url.Values{}
	params.Set("job_id", jobID)
	params.Set("extended_publisher_details", "false")

	var resp jsearchResponse
	if err := f.get(ctx, "/job-details", params, &resp); err != nil {
		return jsearchJob{}, err
	}
	if resp.Status != "OK" || len(resp.Data) == 0 {
		return jsearchJob{}, errors.Newf("job %s: no details (status %q)", jobID, resp.Status)
	}
	return resp.Data[0], nil
}

func (f *JSearchFetcher) get(ctx context.Context, path string, params url.Values, into any) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.BaseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-RapidAPI-Key", f.APIKey)
	req.Header.Set("X-RapidAPI-Host", jsearchHost)

	resp, err := f.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "http GET")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Newf("jsearch returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return errors.Wrap(json.Unmarshal(body, into), "json unmarshal")
}
