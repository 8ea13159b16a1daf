// Package github implements the stargazer lookup client for the GitHub REST API.
//
// Two strategies exist for answering "has this user starred the repo":
// FetchAllStargazers walks the repository's stargazer listing (cheap per user,
// used by the scheduled sync) and ProbeStargazer walks a single user's starred
// listing (expensive, always fresh, used as a cache-miss fallback). Neither
// surfaces transport errors to callers; every failure mode degrades to a
// partial result plus a log line.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

const (
	defaultBaseURL = "https://api.github.com"
	acceptJSON     = "application/vnd.github.v3+json"
	acceptStarJSON = "application/vnd.github.star+json"
	userAgent      = "stargate-verification"
	probeCacheSize = 512
	probeCacheTTL  = 5 * time.Minute
)

// loginPattern matches a syntactically valid GitHub login: alphanumeric and
// hyphen, not starting or ending with a hyphen. Length is checked separately.
var loginPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?$`)

// ValidLogin reports whether s is a plausible GitHub username (1-39 chars).
func ValidLogin(s string) bool {
	return s != "" && len(s) <= 39 && loginPattern.MatchString(s)
}

// Options configures a Client.
type Options struct {
	Token        string
	BaseURL      string
	PageSize     int
	MaxRetries   int
	RetryBackoff time.Duration
	PageThrottle time.Duration
	ProbePageCap int
	HTTPTimeout  time.Duration
}

// Client talks to the GitHub API. Safe for concurrent use.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	pageSize     int
	maxRetries   int
	retryBackoff time.Duration
	pageThrottle time.Duration
	probePageCap int
	logger       *logrus.Logger

	// probeCache holds recent positive probe outcomes so repeated claims for
	// the same handle do not re-walk pagination. Negatives are never cached:
	// a user who stars the repo mid-verification must be observed on their
	// next attempt.
	probeCache *expirable.LRU[string, *time.Time]
}

// NewClient creates a GitHub client authenticated with the given token.
func NewClient(opts Options, logger *logrus.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.PageSize <= 0 || opts.PageSize > 100 {
		opts.PageSize = 100
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Second
	}
	if opts.PageThrottle <= 0 {
		opts.PageThrottle = 100 * time.Millisecond
	}
	if opts.ProbePageCap <= 0 {
		opts.ProbePageCap = 20
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 30 * time.Second
	}

	var hc *http.Client
	if opts.Token != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token})
		hc = oauth2.NewClient(context.Background(), src)
	} else {
		hc = &http.Client{}
	}
	hc.Timeout = opts.HTTPTimeout

	return &Client{
		httpClient:   hc,
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		pageSize:     opts.PageSize,
		maxRetries:   opts.MaxRetries,
		retryBackoff: opts.RetryBackoff,
		pageThrottle: opts.PageThrottle,
		probePageCap: opts.ProbePageCap,
		logger:       logger,
		probeCache:   expirable.NewLRU[string, *time.Time](probeCacheSize, nil, probeCacheTTL),
	}
}

type stargazerEntry struct {
	Login string `json:"login"`
}

type starredEntry struct {
	StarredAt time.Time `json:"starred_at"`
	Repo      struct {
		FullName string `json:"full_name"`
	} `json:"repo"`
}

// FetchAllStargazers pages through the repository's stargazer listing and
// returns every login collected. It never returns an error: auth failures,
// rate limits and exhausted retries all terminate the walk and return what
// was accumulated so far.
func (c *Client) FetchAllStargazers(ctx context.Context, repo string) []string {
	var logins []string
	page := 1

	c.logger.Infof("[github] fetching stargazers of %s", repo)

	for {
		endpoint := fmt.Sprintf("%s/repos/%s/stargazers?per_page=%d&page=%d", c.baseURL, repo, c.pageSize, page)

		body, status, header, ok := c.getWithRetry(ctx, endpoint, acceptJSON)
		if !ok {
			// Retries exhausted or a non-retryable transport failure.
			return logins
		}

		switch {
		case status == http.StatusOK:
			var entries []stargazerEntry
			if err := json.Unmarshal(body, &entries); err != nil {
				c.logger.Errorf("[github] bad stargazer payload on page %d of %s: %v", page, repo, err)
				return logins
			}
			if len(entries) == 0 {
				if page == 1 {
					c.logger.Warnf("[github] repository %s has no stargazers", repo)
				}
				c.logger.Infof("[github] fetched %d stargazers of %s", len(logins), repo)
				return logins
			}
			for _, e := range entries {
				if e.Login != "" {
					logins = append(logins, e.Login)
				}
			}
			if !hasNextPage(header, len(entries), c.pageSize) {
				c.logger.Infof("[github] fetched %d stargazers of %s", len(logins), repo)
				return logins
			}
			page++
			if !c.sleep(ctx, c.pageThrottle) {
				return logins
			}

		case status == http.StatusUnauthorized:
			c.logger.Errorf("[github] authentication failed fetching %s: %s", repo, truncate(body))
			return logins

		case status == http.StatusForbidden:
			if isRateLimited(header, body) {
				c.logger.Warnf("[github] rate limited on page %d of %s, keeping %d stargazers", page, repo, len(logins))
			} else {
				c.logger.Errorf("[github] access forbidden to %s: %s", repo, truncate(body))
			}
			return logins

		case status == http.StatusNotFound:
			c.logger.Errorf("[github] repository %s not found: %s", repo, truncate(body))
			return logins

		case status == http.StatusUnprocessableEntity:
			// Page out of range, pagination complete.
			c.logger.Infof("[github] fetched %d stargazers of %s", len(logins), repo)
			return logins

		default:
			c.logger.Errorf("[github] fetching %s failed: %d - %s", repo, status, truncate(body))
			return logins
		}
	}
}

// ProbeStargazer walks login's starred-repository listing looking for repo.
// The walk is capped at probePageCap pages so users with enormous star lists
// do not consume unbounded API quota. When found, the star's timestamp is
// returned alongside.
func (c *Client) ProbeStargazer(ctx context.Context, login, repo string) (bool, *time.Time) {
	cacheKey := login + "\x00" + repo
	if at, ok := c.probeCache.Get(cacheKey); ok {
		return true, at
	}

	c.logger.Infof("[github] probing starred list of %s for %s", login, repo)

	checked := 0
	for page := 1; page <= c.probePageCap; page++ {
		endpoint := fmt.Sprintf("%s/users/%s/starred?per_page=%d&page=%d", c.baseURL, url.PathEscape(login), c.pageSize, page)

		body, status, header, ok := c.getWithRetry(ctx, endpoint, acceptStarJSON)
		if !ok {
			return false, nil
		}

		switch status {
		case http.StatusOK:
			var entries []starredEntry
			if err := json.Unmarshal(body, &entries); err != nil {
				c.logger.Errorf("[github] bad starred payload for %s: %v", login, err)
				return false, nil
			}
			if len(entries) == 0 {
				c.logger.Infof("[github] %s has not starred %s (%d repos checked)", login, repo, checked)
				return false, nil
			}
			for _, e := range entries {
				checked++
				if e.Repo.FullName == repo {
					at := e.StarredAt
					c.probeCache.Add(cacheKey, &at)
					c.logger.Infof("[github] %s starred %s at %s", login, repo, at.Format(time.RFC3339))
					return true, &at
				}
			}
			if !hasNextPage(header, len(entries), c.pageSize) {
				c.logger.Infof("[github] %s has not starred %s (%d repos checked)", login, repo, checked)
				return false, nil
			}
			if !c.sleep(ctx, c.pageThrottle) {
				return false, nil
			}

		case http.StatusUnauthorized:
			c.logger.Errorf("[github] authentication failed probing %s: %s", login, truncate(body))
			return false, nil

		case http.StatusForbidden:
			c.logger.Warnf("[github] rate limited or forbidden probing %s: %s", login, truncate(body))
			return false, nil

		case http.StatusNotFound:
			c.logger.Warnf("[github] user %s does not exist or starred list is hidden", login)
			return false, nil

		default:
			c.logger.Errorf("[github] probing %s failed: %d - %s", login, status, truncate(body))
			return false, nil
		}
	}

	c.logger.Infof("[github] probe page cap reached for %s without finding %s", login, repo)
	return false, nil
}

// getWithRetry issues a GET, retrying transient failures (5xx, timeouts) up
// to maxRetries with linearly increasing backoff. ok is false when retries
// were exhausted or a non-retryable transport error occurred; all other
// statuses are returned to the caller for interpretation.
func (c *Client) getWithRetry(ctx context.Context, endpoint, accept string) (body []byte, status int, header http.Header, ok bool) {
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		body, status, header, err := c.get(ctx, endpoint, accept)
		if err != nil {
			if isTimeout(err) && attempt < c.maxRetries {
				if !c.sleep(ctx, c.retryBackoff*time.Duration(attempt)) {
					return nil, 0, nil, false
				}
				continue
			}
			c.logger.Errorf("[github] request failed: %v", err)
			return nil, 0, nil, false
		}

		if status >= 500 && status < 600 {
			if attempt < c.maxRetries {
				if !c.sleep(ctx, c.retryBackoff*time.Duration(attempt)) {
					return nil, 0, nil, false
				}
				continue
			}
			c.logger.Errorf("[github] server error after %d attempts: %d - %s", attempt, status, truncate(body))
			return nil, 0, nil, false
		}

		return body, status, header, true
	}
	return nil, 0, nil, false
}

func (c *Client) get(ctx context.Context, endpoint, accept string) ([]byte, int, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, nil, err
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, nil, err
	}
	defer resp.Body.Close()

	body, err := readCapped(resp)
	if err != nil {
		return nil, resp.StatusCode, resp.Header, err
	}
	return body, resp.StatusCode, resp.Header, nil
}

// sleep waits for d or until ctx is cancelled; returns false on cancellation.
func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// isRateLimited distinguishes a quota 403 from a permission 403.
func isRateLimited(header http.Header, body []byte) bool {
	if header.Get("X-RateLimit-Remaining") == "0" {
		return true
	}
	return strings.Contains(strings.ToLower(string(body)), "rate limit")
}

// hasNextPage inspects the Link header; absent one, a short page ends the walk.
func hasNextPage(header http.Header, got, pageSize int) bool {
	if link := header.Get("Link"); link != "" {
		return strings.Contains(link, `rel="next"`)
	}
	return got >= pageSize
}

func isTimeout(err error) bool {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return true
	}
	if ue, ok := err.(*url.Error); ok {
		return ue.Timeout()
	}
	return false
}

// readCapped reads at most 1 MiB of the response body.
func readCapped(resp *http.Response) ([]byte, error) {
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

func truncate(body []byte) string {
	const max = 500
	if len(body) > max {
		return string(body[:max])
	}
	return string(body)
}
