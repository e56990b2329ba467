package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the production code-host API endpoint.
const DefaultBaseURL = "https://api.github.com"

// hostClient is a minimal code-host API client covering the three calls
// the ingestion pipeline needs: repo metadata, directory listing, and
// raw-content probing, plus topic search.
type hostClient struct {
	baseURL string
	auth    *tokenSource
	http    *http.Client
}

func newHostClient(baseURL string, auth *tokenSource, timeout time.Duration) *hostClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &hostClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		auth:    auth,
		http:    &http.Client{Timeout: timeout},
	}
}

type repoContentEntry struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Path string `json:"path"`
}

type repoMeta struct {
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	Description   string `json:"description"`
	StargazersCnt int    `json:"stargazers_count"`
	ForksCount    int    `json:"forks_count"`
	HTMLURL       string `json:"html_url"`
}

type searchResultItem struct {
	FullName string `json:"full_name"`
	Owner    struct {
		Login string `json:"login"`
	} `json:"owner"`
	Name            string   `json:"name"`
	DefaultBranch   string   `json:"default_branch"`
	Description     string   `json:"description"`
	StargazersCount int      `json:"stargazers_count"`
	ForksCount      int      `json:"forks_count"`
	Topics          []string `json:"topics"`
	HTMLURL         string   `json:"html_url"`
}

type searchResponse struct {
	Items []searchResultItem `json:"items"`
}

// rateLimitedError signals an upstream 429/secondary-rate-limit response.
type rateLimitedError struct {
	retryAfter time.Duration
}

func (e *rateLimitedError) Error() string {
	return fmt.Sprintf("ingest: upstream rate limited, retry after %s", e.retryAfter)
}

func (c *hostClient) getRepo(ctx context.Context, owner, repo string) (repoMeta, error) {
	var meta repoMeta
	err := c.getJSON(ctx, fmt.Sprintf("%s/repos/%s/%s", c.baseURL, owner, repo), &meta)
	return meta, err
}

func (c *hostClient) listContents(ctx context.Context, owner, repo, path string) ([]repoContentEntry, error) {
	var entries []repoContentEntry
	u := fmt.Sprintf("%s/repos/%s/%s/contents/%s", c.baseURL, owner, repo, strings.TrimLeft(path, "/"))
	err := c.getJSON(ctx, u, &entries)
	if isNotFound(err) {
		return nil, nil
	}
	return entries, err
}

// getDescriptor fetches and base64-decodes a single file's content via
// the contents API. Returns ("", false, nil) if the file is absent.
func (c *hostClient) getDescriptor(ctx context.Context, owner, repo, path, ref string) (string, bool, error) {
	type contentResp struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	var resp contentResp
	u := fmt.Sprintf("%s/repos/%s/%s/contents/%s", c.baseURL, owner, repo, strings.TrimLeft(path, "/"))
	if ref != "" {
		u += "?ref=" + url.QueryEscape(ref)
	}
	err := c.getJSON(ctx, u, &resp)
	if isNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if resp.Encoding != "base64" {
		return resp.Content, true, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(resp.Content, "\n", ""))
	if err != nil {
		return "", false, fmt.Errorf("ingest: decode descriptor content: %w", err)
	}
	return string(decoded), true, nil
}

func (c *hostClient) searchTopic(ctx context.Context, topic string, page int) (searchResponse, error) {
	var resp searchResponse
	u := fmt.Sprintf("%s/search/repositories?q=topic:%s&sort=stars&order=desc&per_page=30&page=%d",
		c.baseURL, url.QueryEscape(topic), page)
	err := c.getJSON(ctx, u, &resp)
	return resp, err
}

func (c *hostClient) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("ingest: build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.auth != nil {
		authVal, err := c.auth.AuthHeaderValue()
		if err != nil {
			return fmt.Errorf("ingest: build auth header: %w", err)
		}
		if authVal != "" {
			req.Header.Set("Authorization", authVal)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ingest: request %s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden {
		return &rateLimitedError{retryAfter: retryAfterOf(resp)}
	}
	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ingest: %s: HTTP %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ingest: decode response from %s: %w", endpoint, err)
	}
	return nil
}

var errNotFound = fmt.Errorf("ingest: not found")

func isNotFound(err error) bool { return err == errNotFound }

func retryAfterOf(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := time.ParseDuration(v + "s"); err == nil {
			return secs
		}
	}
	return time.Minute
}
