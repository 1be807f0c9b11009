package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultAPIBaseURL = "https://api.atlassian.com"
	defaultTimeout    = 30 * time.Second
	maxErrorBody      = 4096
)

// APIError is returned for any non-2xx tracker response.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Status, e.Body)
}

// Client calls the tracker REST API on behalf of a bearer token.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the hosted tracker API.
func NewClient() *Client {
	return &Client{
		baseURL:    defaultAPIBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL.
func NewClientWithBaseURL(baseURL string) *Client {
	c := NewClient()
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// AccessibleResources lists the sites the token can reach.
func (c *Client) AccessibleResources(ctx context.Context, token string) ([]Resource, error) {
	var out []Resource
	if err := c.get(ctx, token, "/oauth/token/accessible-resources", "accessible resources", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SearchProjects lists the projects of a site.
func (c *Client) SearchProjects(ctx context.Context, token, cloudID string) ([]Project, error) {
	var out struct {
		Values []Project `json:"values"`
	}
	if err := c.get(ctx, token, siteAPI(cloudID)+"/project/search", "project search", &out); err != nil {
		return nil, err
	}
	if out.Values == nil {
		return []Project{}, nil
	}
	return out.Values, nil
}

// SearchIssues lists a project's issues, most recently updated first.
func (c *Client) SearchIssues(ctx context.Context, token, cloudID, projectKey string) ([]Issue, error) {
	q := url.Values{}
	q.Set("jql", fmt.Sprintf("project = %s ORDER BY updated DESC", projectKey))
	var out struct {
		Issues []Issue `json:"issues"`
	}
	if err := c.get(ctx, token, siteAPI(cloudID)+"/search?"+q.Encode(), "issue search", &out); err != nil {
		return nil, err
	}
	if out.Issues == nil {
		return []Issue{}, nil
	}
	return out.Issues, nil
}

// FindProject returns the project with id, searching the site's projects.
func (c *Client) FindProject(ctx context.Context, token, cloudID, id string) (Project, bool, error) {
	projects, err := c.SearchProjects(ctx, token, cloudID)
	if err != nil {
		return Project{}, false, err
	}
	for _, p := range projects {
		if p.ID == id {
			return p, true, nil
		}
	}
	return Project{}, false, nil
}

func siteAPI(cloudID string) string {
	return "/ex/jira/" + url.PathEscape(cloudID) + "/rest/api/3"
}

func (c *Client) get(ctx context.Context, token, path, op string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Op: op, Status: resp.StatusCode, Body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("%s: decoding response: %w", op, err)
	}
	return nil
}
