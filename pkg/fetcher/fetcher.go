// Package fetcher retrieves player page markup.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"manifest-extractor-go/pkg/config"
	"manifest-extractor-go/pkg/flaresolverr"
	"manifest-extractor-go/pkg/interfaces"
	"manifest-extractor-go/pkg/logging"
	"manifest-extractor-go/pkg/types"
	"manifest-extractor-go/pkg/urlutil"
)

const acceptHTML = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"

// Options configures a Fetcher.
type Options struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64

	// SolverDomains are fetched through Solver when it is configured.
	SolverDomains []string
}

// OptionsFromConfig builds fetcher options from the application config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Timeout:       cfg.FetchTimeout,
		UserAgent:     cfg.UserAgent,
		MaxBodyBytes:  cfg.MaxBodyBytes,
		SolverDomains: cfg.FlareSolverrDomains,
	}
}

// Fetcher performs single, bounded GET requests. It never retries.
type Fetcher struct {
	client interfaces.HTTPClient
	solver *flaresolverr.Client
	opts   Options
	log    *logging.Logger
}

// New creates a Fetcher. solver may be nil.
func New(client interfaces.HTTPClient, solver *flaresolverr.Client, opts Options, log *logging.Logger) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 8 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = config.DefaultUserAgent
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 << 20
	}
	return &Fetcher{
		client: client,
		solver: solver,
		opts:   opts,
		log:    log.WithComponent("fetcher"),
	}
}

// Fetch returns the body of url as text. Connection failures, timeouts and
// non-2xx responses are returned as *types.NetworkError.
//
// Hosts in SolverDomains go through FlareSolverr instead, bounded by the
// solver's own timeout.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	if f.solver.IsConfigured() && urlutil.MatchesDomain(url, f.opts.SolverDomains) {
		return f.fetchSolved(ctx, url)
	}

	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &types.NetworkError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", acceptHTML)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return "", &types.NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &types.NetworkError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBodyBytes))
	if err != nil {
		return "", &types.NetworkError{URL: url, Err: fmt.Errorf("reading body: %w", err)}
	}

	f.log.Debug("fetched", "url", url, "status", resp.StatusCode, "bytes", len(body), "duration_ms", time.Since(start).Milliseconds())
	return string(body), nil
}

func (f *Fetcher) fetchSolved(ctx context.Context, url string) (string, error) {
	sol, err := f.solver.Solve(ctx, url)
	if err != nil {
		return "", &types.NetworkError{URL: url, Err: err}
	}
	if sol.Status != 0 && (sol.Status < 200 || sol.Status > 299) {
		return "", &types.NetworkError{URL: url, StatusCode: sol.Status}
	}
	return sol.Response, nil
}
