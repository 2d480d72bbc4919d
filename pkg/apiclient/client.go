// Package apiclient talks JSON to the support API with bearer auth and the
// error shape the API uses ({"detail": ...}).
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const DefaultTimeout = 20 * time.Second

// Error is a non-2xx response.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: %s (HTTP %d)", e.Message, e.Status)
}

type Options struct {
	BaseURL string
	// HTTPClient defaults to a client without its own timeout; Timeout
	// bounds each call instead.
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *slog.Logger
	Now        func() time.Time
}

type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("api url %q: scheme must be http or https", opts.BaseURL)
	}
	c := &Client{
		base:    base,
		http:    opts.HTTPClient,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// Get fetches path and decodes the JSON body into out. A cache-busting _t
// parameter is added unless q already has one.
func (c *Client) Get(ctx context.Context, path string, q url.Values, token string, out any) error {
	if q == nil {
		q = url.Values{}
	}
	if !q.Has("_t") {
		q.Set("_t", strconv.FormatInt(c.now().UnixMilli(), 10))
	}
	return c.do(ctx, http.MethodGet, path, q, token, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, token string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, token, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, token string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := *c.base
	u.Path = u.Path + "/" + strings.TrimLeft(path, "/")
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("api call", "method", method, "path", path, "status", resp.StatusCode, "elapsed", c.now().Sub(start))

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Status: resp.StatusCode, Message: errorMessage(resp, data)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

// errorMessage prefers the detail field of a JSON body, then a plain text
// body, then the status line.
func errorMessage(resp *http.Response, data []byte) string {
	fallback := "HTTP " + strconv.Itoa(resp.StatusCode)
	mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mt == "application/json" {
		var body struct {
			Detail json.RawMessage `json:"detail"`
		}
		if err := json.Unmarshal(data, &body); err != nil || len(body.Detail) == 0 || string(body.Detail) == "null" {
			return fallback
		}
		var s string
		if err := json.Unmarshal(body.Detail, &s); err == nil {
			return s
		}
		return string(body.Detail)
	}
	if text := strings.TrimSpace(string(data)); text != "" {
		return text
	}
	return fallback
}
