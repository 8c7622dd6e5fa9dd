package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// RetryPolicy bounds one logical request: how many times to retry, how to
// back off between attempts and how much total wall clock the call may burn.
type RetryPolicy struct {
	Retries        int
	BackoffStart   time.Duration
	BackoffFactor  float64
	JitterFraction float64
	MaxSleep       time.Duration
	RequestTimeout time.Duration
	HardDeadline   time.Duration
	RetryStatuses  map[int]struct{}
	// AfterEachSleep is an optional politeness delay after every success.
	AfterEachSleep time.Duration
}

func retryStatusSet() map[int]struct{} {
	set := make(map[int]struct{}, 8)
	for _, code := range []int{408, 409, 425, 429, 500, 502, 503, 504} {
		set[code] = struct{}{}
	}
	return set
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Retries:        3,
		BackoffStart:   600 * time.Millisecond,
		BackoffFactor:  2.0,
		JitterFraction: 0.3,
		MaxSleep:       8 * time.Second,
		RequestTimeout: 15 * time.Second,
		HardDeadline:   20 * time.Second,
		RetryStatuses:  retryStatusSet(),
	}
}

// EdgarRetryPolicy narrows the jitter for the filings endpoint, which is
// sensitive to burstiness more than to raw request rate, and spaces
// successive calls per the SEC fair-access guidance.
func EdgarRetryPolicy() RetryPolicy {
	p := DefaultRetryPolicy()
	p.JitterFraction = 0.25
	p.AfterEachSleep = 250 * time.Millisecond
	return p
}

// Client executes single outbound requests under a RetryPolicy. Callers get
// either a parsed response or a classified *Error; retry, backoff,
// Retry-After and the hard deadline are handled here and nowhere else.
type Client struct {
	http      *http.Client
	policy    RetryPolicy
	throttle  *Throttle
	randFloat func() float64
}

func NewClient(policy RetryPolicy, throttle *Throttle) *Client {
	return &Client{
		http:      &http.Client{Timeout: policy.RequestTimeout},
		policy:    policy,
		throttle:  throttle,
		randFloat: rand.Float64,
	}
}

// WithTransport swaps the underlying round tripper, for tests.
func (c *Client) WithTransport(rt http.RoundTripper) *Client {
	c.http.Transport = rt
	return c
}

func (c *Client) Throttle() *Throttle { return c.throttle }

// Request describes one idempotent outbound call. Body, when set, must be
// safe to resend on retry.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Get fetches a raw payload (CSV, HTML) under the retry policy.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: url, Headers: headers}, nil)
}

// GetJSON fetches and decodes a JSON payload. A payload that fails to decode
// is retried within the same budget, then reported as a parse failure.
func (c *Client) GetJSON(ctx context.Context, url string, headers map[string]string, out any) error {
	_, err := c.Do(ctx, Request{Method: http.MethodGet, URL: url, Headers: headers}, func(body []byte) error {
		return json.Unmarshal(body, out)
	})
	return err
}

// PostJSON sends a JSON body and decodes a JSON response.
func (c *Client) PostJSON(ctx context.Context, url string, headers map[string]string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &Error{Kind: ErrParse, Message: "encode request body", Err: err}
	}
	if headers == nil {
		headers = map[string]string{}
	}
	headers["Content-Type"] = "application/json"
	_, err = c.Do(ctx, Request{Method: http.MethodPost, URL: url, Headers: headers, Body: body}, func(b []byte) error {
		if out == nil {
			return nil
		}
		return json.Unmarshal(b, out)
	})
	return err
}

// Do runs the retry loop. decode, when non-nil, validates the payload and a
// decode failure counts as a retryable attempt.
func (c *Client) Do(ctx context.Context, req Request, decode func([]byte) error) ([]byte, error) {
	start := time.Now()
	var lastErr error

	for attempt := 0; ; attempt++ {
		body, retryable, hint, err := c.attempt(ctx, req)
		if err == nil && decode != nil {
			if derr := decode(body); derr != nil {
				err = &Error{Kind: ErrParse, Message: "malformed payload", Err: derr}
				retryable = true
				hint = c.parseRetrySleep()
			}
		}
		if err == nil {
			if c.policy.AfterEachSleep > 0 {
				if serr := c.throttle.Sleep(ctx, c.policy.AfterEachSleep); serr != nil {
					return body, nil
				}
			}
			return body, nil
		}

		lastErr = err
		if !retryable || attempt >= c.policy.Retries {
			return nil, lastErr
		}

		sleep := hint
		if sleep <= 0 {
			sleep = c.backoff(attempt)
		}
		// Fail now rather than sleep past the wall-clock budget.
		if time.Since(start)+sleep > c.policy.HardDeadline {
			return nil, fmt.Errorf("deadline %s would be exceeded after attempt %d: %w",
				c.policy.HardDeadline, attempt+1, lastErr)
		}
		if serr := c.throttle.Sleep(ctx, sleep); serr != nil {
			return nil, serr
		}
	}
}

func (c *Client) attempt(ctx context.Context, req Request) (body []byte, retryable bool, hint time.Duration, err error) {
	var reader io.Reader
	if len(req.Body) > 0 {
		reader = bytes.NewReader(req.Body)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, reader)
	if err != nil {
		return nil, false, 0, &Error{Kind: ErrTransport, Message: "build request", Err: err}
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, true, 0, &Error{Kind: ErrTransport, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, 0, &Error{Kind: ErrTransport, Message: "read body", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return payload, false, 0, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, 0, &Error{Kind: ErrNotFound, Status: 404, Message: bodySnippet(payload)}
	case resp.StatusCode == http.StatusTooManyRequests:
		e := &Error{Kind: ErrRateLimited, Status: 429, Message: bodySnippet(payload)}
		if after := parseRetryAfter(resp.Header.Get("Retry-After")); after > 0 {
			e.RetryAfter = after
		}
		return nil, true, e.RetryAfter, e
	default:
		_, retryableStatus := c.policy.RetryStatuses[resp.StatusCode]
		return nil, retryableStatus, 0, &Error{
			Kind:    ErrTransport,
			Status:  resp.StatusCode,
			Message: bodySnippet(payload),
		}
	}
}

func (c *Client) backoff(attempt int) time.Duration {
	base := float64(c.policy.BackoffStart) * math.Pow(c.policy.BackoffFactor, float64(attempt))
	d := time.Duration(base * (1 + c.randFloat()*c.policy.JitterFraction))
	if d > c.policy.MaxSleep {
		d = c.policy.MaxSleep
	}
	return d
}

func (c *Client) parseRetrySleep() time.Duration {
	d := time.Duration(float64(500*time.Millisecond) * (1 + c.randFloat()))
	if d > time.Second {
		d = time.Second
	}
	return d
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return 0
}

func bodySnippet(body []byte) string {
	const limit = 200
	s := string(body)
	if len(s) > limit {
		s = s[:limit]
	}
	return s
}
