package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	domain "github.com/aq2208/course-orders/internal/entity"
	"golang.org/x/time/rate"
)

// StatusError is a non-2xx provider answer.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// JSONClient is the outbound HTTP leg shared by providers. Calls are paced by
// a token bucket and every failure comes back as a *domain.GatewayError.
type JSONClient struct {
	provider string
	baseURL  string
	hc       *http.Client
	limiter  *rate.Limiter
}

func NewJSONClient(provider, baseURL string, ratePerSecond float64, timeout time.Duration) *JSONClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	var lim *rate.Limiter
	if ratePerSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(ratePerSecond), int(ratePerSecond)+1)
	}
	return &JSONClient{
		provider: provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		hc:       &http.Client{Timeout: timeout},
		limiter:  lim,
	}
}

// Do sends body (already encoded JSON, may be nil) and decodes a 2xx answer into out.
func (c *JSONClient) Do(ctx context.Context, op, method, path string, hdr http.Header, body []byte, out any) error {
	fail := func(err error) error {
		return &domain.GatewayError{Provider: c.provider, Op: op, Err: err}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fail(err)
		}
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fail(err)
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fail(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(raw)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return fail(&StatusError{Code: resp.StatusCode, Body: snippet})
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fail(fmt.Errorf("decode response: %w", err))
	}
	return nil
}
