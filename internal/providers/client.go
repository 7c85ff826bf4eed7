// Package providers wraps the travel, shopping and recipe REST APIs behind
// small search clients that return normalized Results.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// TransportError is a network failure or timeout talking to a provider.
type TransportError struct {
	Service string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Service, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UpstreamError is a non-2xx status or a payload that could not be decoded.
type UpstreamError struct {
	Service string
	Status  int
	Body    string
	Err     error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: bad payload: %v", e.Service, e.Err)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Service, e.Status, e.Body)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Options configure every client built by this package.
type Options struct {
	RapidAPIKey string
	Timeout     time.Duration
	// BaseURL overrides the provider host; tests point it at httptest servers.
	BaseURL    string
	HTTPClient *http.Client
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

type baseClient struct {
	httpClient *http.Client
	baseAPI    string
	service    string
	header     http.Header
	// query is merged into every request; used by key-in-query APIs.
	query url.Values
}

func newBaseClient(o Options, service, defaultBase string) baseClient {
	base := defaultBase
	if o.BaseURL != "" {
		base = strings.TrimRight(o.BaseURL, "/")
	}
	return baseClient{
		httpClient: o.httpClient(),
		baseAPI:    base,
		service:    service,
		header:     http.Header{},
		query:      url.Values{},
	}
}

// rapidAPI builds a client authenticated with RapidAPI headers for host.
func rapidAPI(o Options, service, host string) baseClient {
	c := newBaseClient(o, service, "https://"+host)
	c.header.Set("X-RapidAPI-Key", o.RapidAPIKey)
	c.header.Set("X-RapidAPI-Host", host)
	return c
}

// ---- Helpers ----

func (c baseClient) do(ctx context.Context, method, path string, query url.Values) (*http.Response, error) {
	u := c.baseAPI + path
	q := url.Values{}
	for k, v := range c.query {
		q[k] = v
	}
	for k, v := range query {
		q[k] = v
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: build request", c.service)
	}
	for k, v := range c.header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Service: c.service, Err: err}
	}
	return resp, nil
}

func (c baseClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, query)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &UpstreamError{Service: c.service, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return &TransportError{Service: c.service, Err: ctx.Err()}
		}
		return &UpstreamError{Service: c.service, Status: resp.StatusCode, Err: err}
	}
	return nil
}

// ---- Defensive JSON access ----

// dig walks nested objects by key, returning nil when any step is missing.
func dig(v any, path ...string) any {
	for _, p := range path {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v = m[p]
	}
	return v
}

// str renders scalars as text; anything else is "".
func str(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

func num(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func objects(v any) []map[string]any {
	arr, _ := v.([]any)
	out := make([]map[string]any, 0, len(arr))
	for _, it := range arr {
		if m, ok := it.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
