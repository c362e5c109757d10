// Package github queries the forge's REST API for merged pull requests and
// commit metadata, and verifies webhook signatures.
//
// Rate-limit headers are tracked on every response; 429 and secondary-limit
// responses are retried with backoff before being surfaced.
package github

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
)

// DefaultAPIURL is the public GitHub REST endpoint.
const DefaultAPIURL = "https://api.github.com"

const apiVersion = "2022-11-28"

// Sentinel errors callers branch on.
var (
	// ErrAuthentication covers 401/403 responses.
	ErrAuthentication = errors.New("github: authentication failed")
	// ErrRateLimited is returned after backoff retries are exhausted.
	ErrRateLimited = errors.New("github: rate limited")
)

// APIError is a non-2xx response that is neither auth nor rate limiting.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github: HTTP %d: %s", e.Status, e.Body)
}

// RateLimit is the forge's rate-limit state from response headers.
type RateLimit struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// PRSummary is a merged pull request as returned by the list endpoint.
type PRSummary struct {
	Number         int64     `json:"number"`
	Title          string    `json:"title"`
	State          string    `json:"state"`
	Merged         bool      `json:"merged"`
	MergeCommitSHA string    `json:"merge_commit_sha"`
	MergedAt       time.Time `json:"merged_at"`
	Head           Ref       `json:"head"`
	Base           Ref       `json:"base"`
}

// Ref is a PR head or base reference.
type Ref struct {
	Name string `json:"ref"`
	SHA  string `json:"sha"`
}

// CommitSummary is one commit of a pull request.
type CommitSummary struct {
	SHA    string       `json:"sha"`
	Commit CommitInner  `json:"commit"`
	Author *UserSummary `json:"author"`
}

// CommitInner holds the git-level commit data.
type CommitInner struct {
	Message   string   `json:"message"`
	Author    GitActor `json:"author"`
	Committer GitActor `json:"committer"`
}

// GitActor is a name/email/date triple.
type GitActor struct {
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Date  time.Time `json:"date"`
}

// UserSummary is the forge account attached to a commit.
type UserSummary struct {
	Login string `json:"login"`
	ID    int64  `json:"id"`
}

// CommitDetail extends CommitSummary with the parents array used for merge
// strategy detection.
type CommitDetail struct {
	SHA     string      `json:"sha"`
	Commit  CommitInner `json:"commit"`
	Parents []Parent    `json:"parents"`
}

// Parent is one parent reference of a commit.
type Parent struct {
	SHA string `json:"sha"`
}

// Client talks to one repository on the forge.
type Client struct {
	http   *http.Client
	apiURL string
	repo   string
	token  string
	log    *logrus.Entry

	// retryBase is the initial backoff step for retryable responses.
	retryBase time.Duration

	mu        sync.Mutex
	rateLimit RateLimit
}

// NewClient creates a Client for repo ("owner/name"). An empty apiURL uses
// the public endpoint.
func NewClient(apiURL, repo, token string, logger *logrus.Logger) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		http:      &http.Client{Timeout: 30 * time.Second},
		apiURL:    strings.TrimSuffix(apiURL, "/"),
		repo:      repo,
		token:     token,
		retryBase: 2 * time.Second,
		log:       logger.WithField("component", "github"),
	}
}

// RateLimit returns the most recently observed rate-limit state.
func (c *Client) RateLimit() RateLimit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rateLimit
}

// get performs an authenticated GET with rate-limit-aware retries and
// decodes the JSON response into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.apiURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	backoff := retry.WithMaxRetries(3, retry.NewExponential(c.retryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", apiVersion)
		req.Header.Set("User-Agent", "gitsvnsync")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("github request failed: %w", err))
		}
		defer resp.Body.Close()

		c.observeRateLimit(resp)

		switch {
		case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
			if resp.StatusCode == http.StatusForbidden && c.RateLimit().Remaining == 0 {
				return retry.RetryableError(ErrRateLimited)
			}
			return fmt.Errorf("%w: HTTP %d", ErrAuthentication, resp.StatusCode)
		case resp.StatusCode == http.StatusTooManyRequests:
			return retry.RetryableError(ErrRateLimited)
		case resp.StatusCode >= 500:
			return retry.RetryableError(&APIError{Status: resp.StatusCode, Body: "server error"})
		case resp.StatusCode >= 400:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode github response: %w", err)
		}
		return nil
	})
}

func (c *Client) observeRateLimit(resp *http.Response) {
	limit, _ := strconv.Atoi(resp.Header.Get("X-RateLimit-Limit"))
	remaining, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining"))
	if err != nil {
		return
	}
	var resetAt time.Time
	if v, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		resetAt = time.Unix(v, 0)
	}
	c.mu.Lock()
	c.rateLimit = RateLimit{Limit: limit, Remaining: remaining, ResetAt: resetAt}
	c.mu.Unlock()
}

// ListMergedPRs returns pull requests into base that were merged after
// since, ordered by merge timestamp ascending. The forge has no server-side
// merged-since filter on the pulls endpoint, so filtering happens here.
func (c *Client) ListMergedPRs(ctx context.Context, base string, since time.Time) ([]PRSummary, error) {
	query := url.Values{
		"state":     {"closed"},
		"base":      {base},
		"sort":      {"updated"},
		"direction": {"desc"},
		"per_page":  {"50"},
	}
	var prs []PRSummary
	if err := c.get(ctx, "/repos/"+c.repo+"/pulls", query, &prs); err != nil {
		return nil, fmt.Errorf("failed to list pull requests: %w", err)
	}

	var merged []PRSummary
	for _, pr := range prs {
		if pr.MergedAt.IsZero() || pr.MergeCommitSHA == "" {
			continue
		}
		if !since.IsZero() && !pr.MergedAt.After(since) {
			continue
		}
		merged = append(merged, pr)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].MergedAt.Before(merged[j].MergedAt)
	})

	c.log.WithFields(logrus.Fields{"count": len(merged), "base": base}).
		Debug("fetched merged pull requests")
	return merged, nil
}

// GetPR fetches one pull request by number.
func (c *Client) GetPR(ctx context.Context, number int64) (PRSummary, error) {
	var pr PRSummary
	err := c.get(ctx, fmt.Sprintf("/repos/%s/pulls/%d", c.repo, number), nil, &pr)
	if err != nil {
		return PRSummary{}, fmt.Errorf("failed to fetch PR #%d: %w", number, err)
	}
	return pr, nil
}

// GetPRCommits returns the commits of a pull request in the order the forge
// reports them.
func (c *Client) GetPRCommits(ctx context.Context, number int64) ([]CommitSummary, error) {
	query := url.Values{"per_page": {"100"}}
	var commits []CommitSummary
	err := c.get(ctx, fmt.Sprintf("/repos/%s/pulls/%d/commits", c.repo, number), query, &commits)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch commits for PR #%d: %w", number, err)
	}
	return commits, nil
}

// GetCommit fetches a single commit, including its parents.
func (c *Client) GetCommit(ctx context.Context, sha string) (CommitDetail, error) {
	var detail CommitDetail
	err := c.get(ctx, "/repos/"+c.repo+"/commits/"+sha, nil, &detail)
	if err != nil {
		return CommitDetail{}, fmt.Errorf("failed to fetch commit %s: %w", sha, err)
	}
	return detail, nil
}

// VerifyWebhookSignature checks the X-Hub-Signature-256 header against the
// HMAC-SHA256 of the raw body. The comparison is constant-time; any mismatch
// or malformed header rejects the delivery.
func VerifyWebhookSignature(payload []byte, signatureHeader, secret string) bool {
	hexSig, ok := strings.CutPrefix(signatureHeader, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(hexSig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}
