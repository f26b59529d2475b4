// Package source retrieves the raw CSV text of the inventory spreadsheet.
//
// A shared spreadsheet can be exported several ways and each one fails
// differently (login interstitials, empty bodies, CORS proxies that time
// out). Fetcher tries the known export URLs in order and returns the
// first body that looks like CSV. CachedFetcher puts a Redis copy in front
// so replicas share one upstream fetch.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUnavailable is returned when every retrieval strategy failed. The
// individual strategy errors are joined into the returned error.
var ErrUnavailable = errors.New("inventory source unavailable")

// ErrNoSource is returned for an empty source id.
var ErrNoSource = errors.New("no inventory source configured")

var (
	errEmptyBody = errors.New("empty body")
	errHTMLBody  = errors.New("html page instead of csv")
)

// Strategy names reported in Result and metrics.
const (
	StrategyURL       = "url"
	StrategyDirect    = "direct"
	StrategyGviz      = "gviz"
	StrategyPublished = "published"
	StrategyCache     = "cache"
)

const publishedPrefix = "2PACX-"

// DefaultBaseURL is the spreadsheet host.
const DefaultBaseURL = "https://docs.google.com"

// Config controls how the spreadsheet is located and read.
type Config struct {
	BaseURL      string        // spreadsheet host, DefaultBaseURL when empty
	GID          string        // optional sheet tab id
	Proxies      []string      // prefixes; the escaped export URL is appended
	Timeout      time.Duration // per attempt
	MaxBodyBytes int64         // <= 0 disables the cap
	UserAgent    string
}

// Result is one successful retrieval.
type Result struct {
	Text     string
	Strategy string
	URL      string
	Bytes    int64
}

// AttemptRecorder observes every strategy attempt.
type AttemptRecorder interface {
	ObserveFetch(strategy string, err error, elapsed time.Duration)
}

// StrategyError records why one strategy was rejected.
type StrategyError struct {
	Strategy string
	URL      string
	Err      error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Strategy, e.URL, e.Err)
}

func (e *StrategyError) Unwrap() error { return e.Err }

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Code, http.StatusText(e.Code))
}

// Fetcher retrieves CSV text with ordered fallback strategies.
type Fetcher struct {
	cfg      Config
	client   *http.Client
	recorder AttemptRecorder
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithRecorder reports each attempt to r.
func WithRecorder(r AttemptRecorder) Option {
	return func(f *Fetcher) { f.recorder = r }
}

// NewFetcher creates a Fetcher. Zero config values get defaults.
func NewFetcher(cfg Config, opts ...Option) *Fetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "stockfeed/1.0"
	}

	f := &Fetcher{
		cfg:    cfg,
		client: &http.Client{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Attempt is one planned retrieval.
type Attempt struct {
	Strategy string
	URL      string
}

// Plan lists the strategies Fetch will try for sourceID, in order.
func (f *Fetcher) Plan(sourceID string) []Attempt {
	id := strings.TrimSpace(sourceID)
	if id == "" {
		return nil
	}

	lower := strings.ToLower(id)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return []Attempt{{Strategy: StrategyURL, URL: id}}
	}

	direct := f.sheetURL(id, "export", url.Values{"format": {"csv"}})
	gviz := f.sheetURL(id, "gviz/tq", url.Values{"tqx": {"out:csv"}})

	var plan []Attempt
	if strings.HasPrefix(id, publishedPrefix) {
		plan = append(plan, Attempt{StrategyPublished, f.publishedURL(id)})
	}
	plan = append(plan,
		Attempt{StrategyDirect, direct},
		Attempt{StrategyGviz, gviz},
	)

	for i, prefix := range f.cfg.Proxies {
		prefix = strings.TrimSpace(prefix)
		if prefix == "" {
			continue
		}
		plan = append(plan, Attempt{
			Strategy: fmt.Sprintf("proxy:%d", i+1),
			URL:      prefix + url.QueryEscape(plan[0].URL),
		})
	}
	return plan
}

func (f *Fetcher) sheetURL(id, endpoint string, q url.Values) string {
	if f.cfg.GID != "" {
		q.Set("gid", f.cfg.GID)
	}
	return fmt.Sprintf("%s/spreadsheets/d/%s/%s?%s", f.cfg.BaseURL, url.PathEscape(id), endpoint, q.Encode())
}

func (f *Fetcher) publishedURL(id string) string {
	q := url.Values{"output": {"csv"}}
	if f.cfg.GID != "" {
		q.Set("gid", f.cfg.GID)
	}
	return fmt.Sprintf("%s/spreadsheets/d/e/%s/pub?%s", f.cfg.BaseURL, url.PathEscape(id), q.Encode())
}

// Fetch returns the first usable CSV body for sourceID. When all
// strategies fail the error wraps ErrUnavailable and every attempt error.
func (f *Fetcher) Fetch(ctx context.Context, sourceID string) (Result, error) {
	plan := f.Plan(sourceID)
	if len(plan) == 0 {
		return Result{}, ErrNoSource
	}

	var errs []error
	for _, a := range plan {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		start := time.Now()
		res, err := f.try(ctx, a)
		if f.recorder != nil {
			f.recorder.ObserveFetch(a.Strategy, err, time.Since(start))
		}
		if err == nil {
			return res, nil
		}
		errs = append(errs, &StrategyError{Strategy: a.Strategy, URL: a.URL, Err: err})
	}

	return Result{}, fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(errs...))
}

func (f *Fetcher) try(ctx context.Context, a Attempt) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Accept", "text/csv, text/plain;q=0.9, */*;q=0.5")
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, &StatusError{Code: resp.StatusCode}
	}

	text, n, err := readBody(resp.Body, f.cfg.MaxBodyBytes)
	if err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(text) == "" {
		return Result{}, errEmptyBody
	}
	if looksLikeHTML(resp.Header.Get("Content-Type"), text) {
		return Result{}, errHTMLBody
	}

	return Result{Text: text, Strategy: a.Strategy, URL: a.URL, Bytes: n}, nil
}

// looksLikeHTML catches sign-in and interstitial pages served with 200.
func looksLikeHTML(contentType, body string) bool {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "text/html") {
		return true
	}
	head := strings.ToLower(strings.TrimSpace(body))
	if len(head) > 64 {
		head = head[:64]
	}
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}
