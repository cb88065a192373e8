// Package graph is the gateway to the Microsoft Graph resource API: SharePoint
// list items, OneDrive files, workbook tables and the user directory.
//
// Reads degrade to empty results on non-2xx answers (the body is logged);
// only missing credentials and failed re-authentication surface as errors.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/digitaldrywood/taskpulse/internal/auth"
	"github.com/digitaldrywood/taskpulse/internal/logger"
)

const DefaultEndpoint = "https://graph.microsoft.com/v1.0"

var (
	// ErrUnauthenticated means no bearer header could be obtained, so the
	// request was never sent.
	ErrUnauthenticated = errors.New("graph: unauthenticated")
	// ErrAuthFailure means the resource server rejected the token and one
	// refresh did not recover it.
	ErrAuthFailure = errors.New("graph: authentication failed")

	errTokenExpired = errors.New("graph: access token expired")
)

// UpstreamError is a non-2xx answer on a write path.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("graph: upstream returned %d: %s", e.Status, e.Body)
}

// IsAuthError reports whether err means the caller has to sign in again.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthenticated) || errors.Is(err, ErrAuthFailure)
}

type Client struct {
	baseURL          string
	sharePointHost   string
	http             *http.Client
	retryDelay       time.Duration
	photoConcurrency int
}

// NewClient returns a gateway rooted at baseURL. A nil httpClient gets a
// traced default transport.
func NewClient(baseURL, sharePointHost string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultEndpoint
	}
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &Client{
		baseURL:          strings.TrimRight(baseURL, "/"),
		sharePointHost:   sharePointHost,
		http:             httpClient,
		retryDelay:       50 * time.Millisecond,
		photoConcurrency: 8,
	}
}

type response struct {
	Status int
	Header http.Header
	Body   []byte
}

func (r *response) ok() bool {
	return r.Status >= 200 && r.Status < 300
}

func (c *Client) url(target string) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target
	}
	return c.baseURL + target
}

// send performs one authorized request. A 401 triggers exactly one token
// refresh and exactly one retry; a second 401 or a failed refresh ends in
// ErrAuthFailure.
func (c *Client) send(ctx context.Context, a auth.Authorizer, method, target string, body []byte, contentType string) (*response, error) {
	var (
		resp      *response
		refreshed bool
	)

	backoff := retry.WithMaxRetries(1, retry.NewConstant(c.retryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		header, ok := a.AuthorizedHeaders(ctx)
		if !ok {
			return ErrUnauthenticated
		}

		r, err := c.roundTrip(ctx, method, target, body, contentType, header)
		if err != nil {
			return err
		}

		if r.Status == http.StatusUnauthorized {
			if refreshed {
				return fmt.Errorf("%w: token rejected after refresh", ErrAuthFailure)
			}
			refreshed = true
			rejected := strings.TrimPrefix(header.Get("Authorization"), "Bearer ")
			if _, ok := a.RefreshAccessToken(ctx, rejected); !ok {
				return fmt.Errorf("%w: refresh failed", ErrAuthFailure)
			}
			logger.Debug("retrying graph request with refreshed token", "method", method, "url", target)
			return retry.RetryableError(errTokenExpired)
		}

		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) roundTrip(ctx context.Context, method, target string, body []byte, contentType string, header http.Header) (*response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(target), rdr)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph request %s %s: %w", method, target, err)
	}
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph response: %w", err)
	}
	return &response{Status: res.StatusCode, Header: res.Header, Body: b}, nil
}

// get decodes a 2xx JSON answer into out. Non-2xx answers are logged and
// reported as ok=false with a nil error.
func (c *Client) get(ctx context.Context, a auth.Authorizer, target string, out any) (bool, error) {
	r, err := c.send(ctx, a, http.MethodGet, target, nil, "")
	if err != nil {
		return false, err
	}
	if !r.ok() {
		logUpstream(target, r)
		return false, nil
	}

	if err := decode(r.Body, out); err != nil {
		logger.Warn("failed to decode graph response", "url", target, "error", err)
		return false, nil
	}
	return true, nil
}

func decode(body []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(out)
}

type page[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

// collect follows @odata.nextLink until it is absent and returns every
// element in order. Any failed page degrades the whole result to empty.
func collect[T any](ctx context.Context, c *Client, a auth.Authorizer, target string) ([]T, error) {
	var all []T
	for target != "" {
		var p page[T]
		ok, err := c.get(ctx, a, target, &p)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		all = append(all, p.Value...)
		target = p.NextLink
	}
	return all, nil
}

const maxLoggedBody = 2048

func logUpstream(target string, r *response) {
	logger.Warn("graph request failed", "url", target, "status", r.Status, "body", truncate(r.Body, maxLoggedBody))
}

// truncate cuts b to at most n bytes without splitting a UTF-8 sequence.
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	for n > 0 && !utf8.RuneStart(b[n]) {
		n--
	}
	return string(b[:n]) + "..."
}
