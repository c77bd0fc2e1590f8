// Package robots fetches and evaluates robots.txt directives for
// compliance validation. Unlike a crawl-path checker, this checker is
// fail-closed: a fetch error is reported to the caller instead of
// degrading to allow-all, because an unverifiable directive cannot
// support a compliance claim.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/temoto/robotstxt"
)

// robotsTxtPath is the well-known path for robots.txt files.
const robotsTxtPath = "/robots.txt"

// maxRobotsBodyBytes limits the size of robots.txt responses we will read.
const maxRobotsBodyBytes = 512 * 1024 // 512 KB

// defaultFetchTimeout bounds a robots.txt fetch when the caller's
// context carries no deadline.
const defaultFetchTimeout = 15 * time.Second

// Report is the outcome of evaluating a source's robots directives.
type Report struct {
	// Allowed is true when every checked path is permitted for the agent.
	Allowed bool
	// DisallowedPath is the first checked path found disallowed.
	DisallowedPath string
	// CrawlDelay is the delay directive for the agent's group, zero if absent.
	CrawlDelay time.Duration
	// StatusCode is the HTTP status of the robots.txt response.
	StatusCode int
	// AllowAll is true when robots.txt was absent (non-2xx) or unparseable,
	// which standard practice treats as no restrictions.
	AllowAll bool
}

// Checker evaluates robots.txt directives for a base URL.
type Checker interface {
	Check(ctx context.Context, baseURL string, paths []string) (*Report, error)
}

// HTTPChecker fetches robots.txt over HTTP and evaluates directives
// with temoto/robotstxt.
type HTTPChecker struct {
	httpClient *http.Client
	userAgent  string
}

func NewHTTPChecker(httpClient *http.Client, userAgent string) *HTTPChecker {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultFetchTimeout}
	}
	return &HTTPChecker{
		httpClient: httpClient,
		userAgent:  userAgent,
	}
}

// Check fetches the robots.txt for baseURL and tests each path against
// the agent's group. Network and read failures return an error; the
// caller decides what a failed fetch means (for compliance: a failed
// validation, never a pass).
func (c *HTTPChecker) Check(ctx context.Context, baseURL string, paths []string) (*Report, error) {
	parsed, parseErr := url.Parse(baseURL)
	if parseErr != nil {
		return nil, fmt.Errorf("robots: parse url: %w", parseErr)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("robots: empty host in url %q", baseURL)
	}
	scheme := parsed.Scheme
	if scheme == "" {
		scheme = "https"
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultFetchTimeout)
		defer cancel()
	}

	robotsURL := scheme + "://" + parsed.Host + robotsTxtPath
	body, statusCode, fetchErr := c.doFetch(ctx, robotsURL)
	if fetchErr != nil {
		return nil, fetchErr
	}

	if !isSuccessStatus(statusCode) {
		// Missing robots.txt imposes no restrictions.
		return &Report{Allowed: true, AllowAll: true, StatusCode: statusCode}, nil
	}

	data, robotsErr := robotstxt.FromBytes(body)
	if robotsErr != nil {
		return &Report{Allowed: true, AllowAll: true, StatusCode: statusCode}, nil
	}

	report := &Report{Allowed: true, StatusCode: statusCode}
	group := data.FindGroup(c.userAgent)
	if group != nil {
		report.CrawlDelay = group.CrawlDelay
	}

	if len(paths) == 0 {
		paths = []string{"/"}
	}
	for _, path := range paths {
		if path == "" {
			path = "/"
		}
		if !data.TestAgent(path, c.userAgent) {
			report.Allowed = false
			report.DisallowedPath = path
			break
		}
	}
	return report, nil
}

// doFetch performs the HTTP GET request for a robots.txt URL.
func (c *HTTPChecker) doFetch(ctx context.Context, robotsURL string) (body []byte, statusCode int, err error) {
	req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, http.NoBody)
	if reqErr != nil {
		return nil, 0, fmt.Errorf("robots: create request: %w", reqErr)
	}

	req.Header.Set("User-Agent", c.userAgent)

	resp, doErr := c.httpClient.Do(req)
	if doErr != nil {
		return nil, 0, fmt.Errorf("robots: fetch: %w", doErr)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxRobotsBodyBytes)

	body, readErr := io.ReadAll(limited)
	if readErr != nil {
		return nil, resp.StatusCode, fmt.Errorf("robots: read body: %w", readErr)
	}

	return body, resp.StatusCode, nil
}

const (
	statusSuccessLow  = 200
	statusSuccessHigh = 300
)

func isSuccessStatus(statusCode int) bool {
	return statusCode >= statusSuccessLow && statusCode < statusSuccessHigh
}
