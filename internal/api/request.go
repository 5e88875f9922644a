package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/retry"
)

// Headers sent with every request.
const (
	HeaderRequestID       = "X-Request-ID"
	HeaderRestliProtocol  = "X-Restli-Protocol-Version"
	restliProtocolVersion = "2.0.0"
)

// Request describes one logical call. The zero value is a GET of the
// endpoint's path.
type Request struct {
	Method  string
	Path    string // appended to the endpoint path, e.g. "/123"
	Query   url.Values
	Body    any // JSON-encoded when non-nil
	Header  http.Header
	Timeout time.Duration // overrides api.timeout.total when > 0
}

// Response is a successful (2xx/3xx) reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	RequestID  string
	Attempts   int
	Duration   time.Duration
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// Call sends req to the endpoint registered under endpointKey.
//
// It fails fast with ErrCircuitOpen when the endpoint's breaker is open,
// with ErrRateLimitExceeded when no token arrives within the wait budget,
// and with an error matching ErrRetryExhausted when every attempt hit a
// retryable failure. Non-retryable responses are returned as *APIError.
func (c *Client) Call(ctx context.Context, endpointKey string, req Request) (*Response, error) {
	path, ok := c.endpoints[endpointKey]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEndpoint, endpointKey)
	}

	requestID := uuid.NewString()
	logger := c.logger.With("endpoint", endpointKey, "request_id", requestID)
	start := time.Now()

	resp, err := c.call(ctx, endpointKey, path, requestID, req)

	elapsed := time.Since(start)
	if err != nil {
		kind := ErrorKind(err)
		c.metrics.ObserveAPICall(endpointKey, "error", elapsed)
		c.metrics.IncAPIError(endpointKey, kind)
		logger.Warn("api call failed",
			"kind", kind,
			"duration", elapsed,
			"error", err,
		)
		return nil, err
	}

	resp.Duration = elapsed
	c.metrics.ObserveAPICall(endpointKey, "success", elapsed)
	logger.Debug("api call succeeded",
		"status", resp.StatusCode,
		"attempts", resp.Attempts,
		"duration", elapsed,
	)
	return resp, nil
}

func (c *Client) call(ctx context.Context, endpointKey, path, requestID string, req Request) (*Response, error) {
	parent := ctx
	timeout := c.totalTimeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var body []byte
	if req.Body != nil {
		var err error
		body, err = json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	br := c.breakers.Get(endpointKey)
	ticket, err := br.Allow()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", endpointKey, err)
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		br.Release(ticket)
		return nil, fmt.Errorf("wait for request slot: %w", err)
	}
	defer c.sem.Release(1)
	c.inFlight.Add(1)
	defer c.inFlight.Add(-1)

	if err := c.limiter.Acquire(ctx, endpointKey, c.rateLimitWait); err != nil {
		br.Release(ticket)
		return nil, err
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	fullURL := c.baseURL + path + req.Path
	if len(req.Query) > 0 {
		fullURL += "?" + req.Query.Encode()
	}

	attempts := 0
	resp, err := retry.Do(ctx, c.retry, func(ctx context.Context) (*Response, error) {
		attempts++
		if attempts > 1 {
			c.metrics.IncRetry(endpointKey)
		}
		return c.doRequest(ctx, method, fullURL, body, requestID, req.Header)
	})

	switch {
	case err == nil:
		br.Success(ticket)
		resp.Attempts = attempts
		return resp, nil
	case errors.Is(err, retry.ErrRetryExhausted) || c.retry.Retryable(err):
		br.Failure(ticket)
	case parent.Err() != nil:
		// The caller gave up; the downstream's health is unknown.
		br.Release(ticket)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// The call's own total timeout fired: the downstream hung.
		br.Failure(ticket)
	default:
		// A non-retryable reply still proves the downstream is up.
		br.Success(ticket)
	}
	return nil, err
}

// doRequest performs a single HTTP round trip.
func (c *Client) doRequest(ctx context.Context, method, fullURL string, body []byte, requestID string, extra http.Header) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
	req.Header.Set(HeaderRestliProtocol, restliProtocolVersion)
	req.Header.Set(HeaderRequestID, requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.StatusCode, respBody),
			Body:       respBody,
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
		RequestID:  requestID,
	}, nil
}

// errorMessage prefers the API's own "message" field over the status text.
func errorMessage(status int, body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
		return payload.Message
	}
	return http.StatusText(status)
}

// CallJSON performs Call and decodes the JSON response into T.
func CallJSON[T any](ctx context.Context, c *Client, endpointKey string, req Request) (T, error) {
	var result T
	resp, err := c.Call(ctx, endpointKey, req)
	if err != nil {
		return result, err
	}
	if err := resp.Decode(&result); err != nil {
		return result, err
	}
	return result, nil
}
