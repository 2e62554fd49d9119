// Package crm is a thin client for the Pipedrive v1 REST API: search, create
// and update on persons, deals and notes. It does not retry.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Resource is a Pipedrive collection.
type Resource string

const (
	ResourcePersons Resource = "persons"
	ResourceDeals   Resource = "deals"
	ResourceNotes   Resource = "notes"
)

// Search field names understood by /{resource}/search.
const (
	FieldEmail        = "email"
	FieldPhone        = "phone"
	FieldCustomFields = "custom_fields"
)

// SearchItem is one hit of a search, best match first.
type SearchItem struct {
	ID    int64
	Score float64
	Item  json.RawMessage
}

// Record is the entity a create or update returned.
type Record struct {
	ID   int64
	Data json.RawMessage
}

// Client talks to one Pipedrive company.
type Client struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL, apiToken string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiToken:   apiToken,
		httpClient: httpClient,
		logger:     slog.Default().With("component", "crm-client"),
	}
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
	ErrorInfo string          `json:"error_info"`
}

type searchData struct {
	Items []struct {
		ResultScore float64         `json:"result_score"`
		Item        json.RawMessage `json:"item"`
	} `json:"items"`
}

type idOnly struct {
	ID int64 `json:"id"`
}

// Search runs GET /{resource}/search. An empty field searches every
// searchable field.
func (c *Client) Search(ctx context.Context, resource Resource, term, field string, exact bool) ([]SearchItem, error) {
	q := url.Values{"term": {term}}
	if field != "" {
		q.Set("fields", field)
	}
	if exact {
		q.Set("exact_match", "true")
	}
	data, err := c.do(ctx, http.MethodGet, resource, "search", "/"+string(resource)+"/search", q, nil)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var sd searchData
	if err := json.Unmarshal(data, &sd); err != nil {
		return nil, fmt.Errorf("decoding %s search: %w", resource, err)
	}
	items := make([]SearchItem, 0, len(sd.Items))
	for _, it := range sd.Items {
		var ref idOnly
		if err := json.Unmarshal(it.Item, &ref); err != nil || ref.ID == 0 {
			continue
		}
		items = append(items, SearchItem{ID: ref.ID, Score: it.ResultScore, Item: it.Item})
	}
	return items, nil
}

// Create runs POST /{resource}.
func (c *Client) Create(ctx context.Context, resource Resource, body any) (*Record, error) {
	data, err := c.do(ctx, http.MethodPost, resource, "create", "/"+string(resource), nil, body)
	if err != nil {
		return nil, err
	}
	return toRecord(resource, "create", data)
}

// Update runs PUT /{resource}/{id}.
func (c *Client) Update(ctx context.Context, resource Resource, id int64, body any) (*Record, error) {
	path := "/" + string(resource) + "/" + strconv.FormatInt(id, 10)
	data, err := c.do(ctx, http.MethodPut, resource, "update", path, nil, body)
	if err != nil {
		return nil, err
	}
	return toRecord(resource, "update", data)
}

func toRecord(resource Resource, op string, data json.RawMessage) (*Record, error) {
	var ref idOnly
	if err := json.Unmarshal(data, &ref); err != nil || ref.ID == 0 {
		return nil, &CommandError{Resource: resource, Op: op, Message: "response carried no id"}
	}
	return &Record{ID: ref.ID, Data: data}, nil
}

func (c *Client) do(ctx context.Context, method string, resource Resource, op, path string, query url.Values, body any) (json.RawMessage, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api_token", c.apiToken)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling %s %s body: %w", op, resource, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+query.Encode(), reader)
	if err != nil {
		return nil, fmt.Errorf("building crm request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &HTTPError{Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &HTTPError{Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(raw)}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding crm %s %s response: %w", op, resource, err)
	}
	if !env.Success {
		msg := env.Error
		if env.ErrorInfo != "" {
			msg = strings.TrimSpace(msg + " " + env.ErrorInfo)
		}
		return nil, &CommandError{Resource: resource, Op: op, Message: msg}
	}
	c.logger.Debug("crm call", "method", method, "resource", resource, "op", op)
	return env.Data, nil
}
