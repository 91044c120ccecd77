// Package controlplane talks to the load-balancer administrative API that
// manages server entries of an upstream group.
//
// The API shape is fixed:
//
//	GET    {endpoint}/api/4/http/upstreams/{upstream}/servers
//	POST   {endpoint}/api/4/http/upstreams/{upstream}/servers       {"server":"host:port"}
//	DELETE {endpoint}/api/4/http/upstreams/{upstream}/servers/{id}
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/MrSnakeDoc/lbreg/internal/utils"
)

// APIVersion is the control-plane API version segment used in every path.
const APIVersion = "4"

// maxErrorBody caps how much of a failed response is kept in the error.
const maxErrorBody = 4 << 10

// Server is one server entry of an upstream group.
// ID is nil when the control plane did not return one.
type Server struct {
	ID     *int64 `json:"id,omitempty"`
	Server string `json:"server"`
	Weight int    `json:"weight,omitempty"`
	Backup bool   `json:"backup,omitempty"`
	Down   bool   `json:"down,omitempty"`
}

type createRequest struct {
	Server string `json:"server"`
}

type apiErrorBody struct {
	Error struct {
		Status int    `json:"status"`
		Text   string `json:"text"`
		Code   string `json:"code"`
	} `json:"error"`
}

// Options configures a Client.
type Options struct {
	Timeout   time.Duration // per request; 0 means no timeout
	UserAgent string        // optional
}

// Client performs list/create/delete calls against any control-plane endpoint.
// It is safe for concurrent use.
type Client struct {
	http      *http.Client
	userAgent string
}

// New builds a Client with its own http.Client.
func New(opts Options) *Client {
	return NewWithHTTPClient(&http.Client{Timeout: opts.Timeout}, opts.UserAgent)
}

// NewWithHTTPClient builds a Client around an existing http.Client.
func NewWithHTTPClient(hc *http.Client, userAgent string) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{http: hc, userAgent: userAgent}
}

// List returns every server entry of the upstream group.
func (c *Client) List(ctx context.Context, endpoint, upstream string) ([]Server, error) {
	u, err := ServersURL(endpoint, upstream)
	if err != nil {
		return nil, err
	}

	var servers []Server
	if err := c.do(ctx, http.MethodGet, u, nil, &servers); err != nil {
		return nil, err
	}
	return servers, nil
}

// Create adds server (host:port) to the upstream group and returns the created entry.
func (c *Client) Create(ctx context.Context, endpoint, upstream, server string) (Server, error) {
	u, err := ServersURL(endpoint, upstream)
	if err != nil {
		return Server{}, err
	}

	var created Server
	if err := c.do(ctx, http.MethodPost, u, createRequest{Server: server}, &created); err != nil {
		return Server{}, err
	}
	if created.Server == "" {
		created.Server = server
	}
	return created, nil
}

// Delete removes the server entry with the given id from the upstream group.
func (c *Client) Delete(ctx context.Context, endpoint, upstream string, id int64) error {
	u, err := ServerURL(endpoint, upstream, id)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, u, nil, nil)
}

func (c *Client) do(ctx context.Context, method, u string, body, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("could not request %s %s: %w", method, u, err)
	}
	defer utils.Close(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newStatusError(method, u, resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("could not parse response of %s %s: %w", method, u, err)
	}
	return nil
}

// StatusError is returned when the control plane answers with a non-2xx status.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Code       string // control-plane error code, when provided
	Text       string // control-plane error text or raw body
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s returned %d", e.Method, e.URL, e.StatusCode)
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Text != "" {
		msg += ": " + e.Text
	}
	return msg
}

func newStatusError(method, u string, resp *http.Response) *StatusError {
	se := &StatusError{Method: method, URL: u, StatusCode: resp.StatusCode}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return se
	}

	var body apiErrorBody
	if json.Unmarshal(raw, &body) == nil && body.Error.Text != "" {
		se.Text = body.Error.Text
		se.Code = body.Error.Code
		return se
	}
	se.Text = string(bytes.TrimSpace(raw))
	return se
}

// IsNotFound reports whether err is a 404 from the control plane.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// ServersURL joins endpoint with the servers collection path of upstream.
func ServersURL(endpoint, upstream string) (string, error) {
	return joinURL(endpoint, "api", APIVersion, "http", "upstreams", upstream, "servers")
}

// ServerURL joins endpoint with the path of a single server entry.
func ServerURL(endpoint, upstream string, id int64) (string, error) {
	return joinURL(endpoint, "api", APIVersion, "http", "upstreams", upstream, "servers", strconv.FormatInt(id, 10))
}

func joinURL(endpoint string, elem ...string) (string, error) {
	base, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("invalid endpoint %q: must be an absolute URL", endpoint)
	}
	return base.JoinPath(elem...).String(), nil
}
