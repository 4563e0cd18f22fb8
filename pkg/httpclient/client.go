package httpclient

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzhttp"

	"github.com/usherd/usher/pkg/api"
	"github.com/usherd/usher/pkg/store"
)

// ErrNotFound is returned when the queried resource does not exist.
var ErrNotFound = errors.New("resource not found")

// Client is a client to the usher API.
type Client struct {
	BaseURL string
	client  *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		client:  &http.Client{},
	}
}

// NewWithCompression creates a client that asks for gzipped responses and
// decompresses them transparently.
func NewWithCompression(baseURL string) *Client {
	c := New(baseURL)
	c.WithTransport(gzhttp.Transport(http.DefaultTransport))
	return c
}

func (c *Client) WithTransport(t http.RoundTripper) {
	c.client.Transport = t
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req)
}

// CreateRequestBody is the document POST /api/requests accepts. Params hold
// raw condition objects, the server casts them against the registry.
type CreateRequestBody struct {
	ID     string         `json:"id,omitempty"`
	Parent *string        `json:"parent,omitempty"`
	Params map[string]any `json:"params,omitempty"`
	Text   string         `json:"text,omitempty"`
}

// CreateUserBody is the document POST /api/users accepts.
type CreateUserBody struct {
	ID               string         `json:"id,omitempty"`
	Username         string         `json:"username"`
	Email            string         `json:"email,omitempty"`
	FirstName        string         `json:"first_name,omitempty"`
	LastName         string         `json:"last_name,omitempty"`
	Params           map[string]any `json:"params,omitempty"`
	MaxDailyRequests *int           `json:"max_daily_requests,omitempty"`
}

// DispatchBody names the request POST /api/dispatch should enqueue a
// dispatch task for.
type DispatchBody struct {
	ID       string         `json:"id"`
	ParentID *string        `json:"parent_id,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
}

// DispatchResponse carries the id of the enqueued dispatch task.
type DispatchResponse struct {
	TaskID string `json:"task_id"`
}

func (c *Client) CreateRequest(body *CreateRequestBody) (*store.Request, error) {
	out := &store.Request{}
	if _, err := c.postFor(c.BaseURL+api.PathRequests, body, out, http.StatusCreated); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetRequest(id string) (*store.Request, error) {
	out := &store.Request{}
	if _, err := c.getFor(c.BaseURL+api.PathRequests+"/"+url.PathEscape(id), out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListRequests(status string, limit int) ([]store.Request, error) {
	q := url.Values{}
	if status != "" {
		q.Set(api.URLParamStatus, status)
	}
	if limit > 0 {
		q.Set(api.URLParamLimit, strconv.Itoa(limit))
	}

	var out []store.Request
	if _, err := c.getFor(buildURL(c.BaseURL+api.PathRequests, q), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateUser(body *CreateUserBody) (*store.User, error) {
	out := &store.User{}
	if _, err := c.postFor(c.BaseURL+api.PathUsers, body, out, http.StatusCreated); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetUser(id string) (*store.User, error) {
	out := &store.User{}
	if _, err := c.getFor(c.BaseURL+api.PathUsers+"/"+url.PathEscape(id), out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListUsers() ([]store.User, error) {
	var out []store.User
	if _, err := c.getFor(c.BaseURL+api.PathUsers, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateDataType(kdt *store.KeyDataType) (*store.KeyDataType, error) {
	out := &store.KeyDataType{}
	if _, err := c.postFor(c.BaseURL+api.PathDataTypes, kdt, out, http.StatusCreated); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListDataTypes() ([]store.KeyDataType, error) {
	var out []store.KeyDataType
	if _, err := c.getFor(c.BaseURL+api.PathDataTypes, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Dispatch(body *DispatchBody) (*DispatchResponse, error) {
	out := &DispatchResponse{}
	if _, err := c.postFor(c.BaseURL+api.PathDispatch, body, out, http.StatusAccepted); err != nil {
		return nil, err
	}
	return out, nil
}

// DispatchSummary returns per-day committed dispatch counts, optionally
// bounded by start and end days (inclusive).
func (c *Client) DispatchSummary(start, end *time.Time) ([]store.SummaryRow, error) {
	q := url.Values{}
	if start != nil {
		q.Set(api.URLParamStartDate, start.UTC().Format(api.DateFormat))
	}
	if end != nil {
		q.Set(api.URLParamEndDate, end.UTC().Format(api.DateFormat))
	}

	var out []store.SummaryRow
	if _, err := c.getFor(buildURL(c.BaseURL+api.PathDispatchSummary, q), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// getFor sends a GET request and unmarshals the response into out.
func (c *Client) getFor(url string, out any) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.doFor(req, out, http.StatusOK)
}

// postFor sends in as a JSON body and unmarshals the response into out.
func (c *Client) postFor(url string, in, out any, expect int) (*http.Response, error) {
	payload, err := jsoniter.Marshal(in)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set(api.HeaderContentType, api.HeaderContentTypeJSON)

	return c.doFor(req, out, expect)
}

func (c *Client) doFor(req *http.Request, out any, expect int) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error querying usher at %s: %w", req.URL.String(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return resp, ErrNotFound
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, fmt.Errorf("error reading response body: %w", err)
	}

	if resp.StatusCode != expect {
		return resp, fmt.Errorf("%s request to %s failed with response: %d body: %s", req.Method, req.URL.String(), resp.StatusCode, string(body))
	}

	if err := jsoniter.Unmarshal(body, out); err != nil {
		return resp, fmt.Errorf("error decoding %T, err: %w body: %s", out, err, string(body))
	}

	return resp, nil
}

func buildURL(base string, q url.Values) string {
	if len(q) == 0 {
		return base
	}
	return base + "?" + q.Encode()
}
