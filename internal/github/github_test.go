package github

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func TestListMergedPRsFiltersAndSorts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/owner/repo/pulls", r.URL.Path)
		assert.Equal(t, "closed", r.URL.Query().Get("state"))
		assert.Equal(t, "main", r.URL.Query().Get("base"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		w.Header().Set("X-RateLimit-Limit", "5000")
		w.Header().Set("X-RateLimit-Remaining", "4999")
		fmt.Fprint(w, `[
			{"number": 3, "title": "newest", "state": "closed", "merge_commit_sha": "c3", "merged_at": "2025-06-03T10:00:00Z", "head": {"ref": "f3"}},
			{"number": 1, "title": "closed unmerged", "state": "closed", "merge_commit_sha": "", "merged_at": null},
			{"number": 2, "title": "older", "state": "closed", "merge_commit_sha": "c2", "merged_at": "2025-06-02T10:00:00Z", "head": {"ref": "f2"}},
			{"number": 0, "title": "too old", "state": "closed", "merge_commit_sha": "c0", "merged_at": "2025-05-01T10:00:00Z", "head": {"ref": "f0"}}
		]`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "owner/repo", "tok", quietLogger())
	since := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	prs, err := c.ListMergedPRs(context.Background(), "main", since)
	require.NoError(t, err)
	require.Len(t, prs, 2)
	// Ascending merge-time order.
	assert.Equal(t, int64(2), prs[0].Number)
	assert.Equal(t, int64(3), prs[1].Number)

	rl := c.RateLimit()
	assert.Equal(t, 5000, rl.Limit)
	assert.Equal(t, 4999, rl.Remaining)
}

func TestGetPRCommits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/owner/repo/pulls/7/commits", r.URL.Path)
		fmt.Fprint(w, `[
			{"sha": "aaa", "commit": {"message": "first", "author": {"name": "Dev", "email": "d@x.com"}}},
			{"sha": "bbb", "commit": {"message": "second [gitsvnsync]", "author": {"name": "Bot", "email": "b@x.com"}}}
		]`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "owner/repo", "tok", quietLogger())
	commits, err := c.GetPRCommits(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, "aaa", commits[0].SHA)
	assert.Equal(t, "Dev", commits[0].Commit.Author.Name)
}

func TestGetCommitParents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/owner/repo/commits/mergesha", r.URL.Path)
		fmt.Fprint(w, `{"sha": "mergesha", "commit": {"message": "Merge pull request #7"},
			"parents": [{"sha": "p1"}, {"sha": "p2"}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "owner/repo", "tok", quietLogger())
	detail, err := c.GetCommit(context.Background(), "mergesha")
	require.NoError(t, err)
	assert.Len(t, detail.Parents, 2)
}

func TestAuthenticationErrorNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "owner/repo", "bad", quietLogger())
	_, err := c.GetCommit(context.Background(), "sha")
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.Equal(t, 1, calls)
}

func TestServerErrorRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"sha": "ok", "commit": {"message": "m"}, "parents": []}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "owner/repo", "tok", quietLogger())
	c.retryBase = time.Millisecond
	detail, err := c.GetCommit(context.Background(), "ok")
	require.NoError(t, err)
	assert.Equal(t, "ok", detail.SHA)
	assert.Equal(t, 3, calls)
}

func TestNotFoundSurfacedAsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "Not Found"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "owner/repo", "tok", quietLogger())
	_, err := c.GetPR(context.Background(), 99)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestVerifyWebhookSignature(t *testing.T) {
	secret := "my-secret"
	payload := []byte(`{"action": "closed"}`)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	valid := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	assert.True(t, VerifyWebhookSignature(payload, valid, secret))
	assert.False(t, VerifyWebhookSignature(payload, valid, "other-secret"))
	assert.False(t, VerifyWebhookSignature([]byte("tampered"), valid, secret))
	assert.False(t, VerifyWebhookSignature(payload, "sha256=zznothex", secret))
	assert.False(t, VerifyWebhookSignature(payload, "sha1=abcdef", secret))
	assert.False(t, VerifyWebhookSignature(payload, "", secret))
}
