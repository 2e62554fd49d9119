// Package upstream talks to the primary portal's read API: a lazily
// refreshed bearer token plus authenticated GETs for leads, users and
// listings. The client never retries; callers own that policy.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Tokens supplies bearer tokens.
type Tokens interface {
	Token(ctx context.Context) (Token, error)
}

// Client performs authenticated reads against the portal API.
type Client struct {
	baseURL    string
	tokens     Tokens
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL string, tokens Tokens, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: httpClient,
		logger:     slog.Default().With("component", "upstream-client"),
	}
}

// Get issues GET {base}{path}?{query} and returns the raw JSON body.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.Value)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("reading upstream response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(body)}
	}
	c.logger.Debug("upstream read", "path", path, "bytes", len(body))
	return body, nil
}

// listEnvelope covers both collection shapes the read API uses.
type listEnvelope struct {
	Data    []json.RawMessage `json:"data"`
	Results []json.RawMessage `json:"results"`
}

func (c *Client) first(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	body, err := c.Get(ctx, path, query)
	if err != nil {
		return nil, err
	}
	var env listEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", path, err)
	}
	items := env.Data
	if len(items) == 0 {
		items = env.Results
	}
	if len(items) == 0 || string(items[0]) == "null" {
		return nil, nil
	}
	return items[0], nil
}

// Lead fetches a lead by id. A nil result means the portal has not indexed
// it yet.
func (c *Client) Lead(ctx context.Context, id string) (json.RawMessage, error) {
	return c.first(ctx, "/leads", url.Values{"id": {id}})
}

// User fetches the agent behind a public profile id.
func (c *Client) User(ctx context.Context, publicProfileID string) (json.RawMessage, error) {
	return c.first(ctx, "/users", url.Values{"publicProfileId": {publicProfileID}})
}

// Listing fetches a listing by id.
func (c *Client) Listing(ctx context.Context, id string) (json.RawMessage, error) {
	return c.first(ctx, "/listings", url.Values{"filter[ids]": {id}})
}
