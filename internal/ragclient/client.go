// Package ragclient talks to the remote indexing service that chunks and embeds documents.
package ragclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"rag-ingest-backend/internal/shared/metrics"
	"rag-ingest-backend/internal/shared/reqctx"
	"rag-ingest-backend/internal/shared/telemetry"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultRetryBackoff = 250 * time.Millisecond
	maxResponseBytes    = 10 << 20
	maxRawSnippet       = 500
	userAgent           = "rag-ingest-backend"
)

// Config holds the connection settings for the indexing service.
type Config struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	RetryBackoff time.Duration
}

// Client calls the indexing service. Each call is bounded by Config.Timeout and retried
// exactly once, after RetryBackoff, when the connection itself fails.
type Client struct {
	cfg   Config
	http  *http.Client
	sleep func(ctx context.Context, d time.Duration) error
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// New builds a client. Missing BaseURL or APIKey is reported per call, not here.
func New(cfg Config, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RetryBackoff < 0 {
		cfg.RetryBackoff = 0
	} else if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}

	c := &Client{
		cfg:   cfg,
		http:  &http.Client{},
		sleep: sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether both the base URL and the shared secret are set.
func (c *Client) Configured() bool {
	return c.cfg.BaseURL != "" && c.cfg.APIKey != ""
}

type call struct {
	op          string
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
	notFoundOK  bool
	// binary accepts any 2xx body as-is instead of requiring JSON.
	binary bool
}

func (c *Client) jsonCall(op, method, path string, payload any) (call, error) {
	cl := call{op: op, method: method, path: path}
	if payload == nil {
		return cl, nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return cl, &Error{Op: op, Kind: KindConfig, Message: "encode request body", Err: err}
	}
	cl.body = body
	cl.contentType = "application/json"
	return cl, nil
}

func (c *Client) do(ctx context.Context, cl call) (Response, error) {
	start := time.Now()
	resp, err := c.execute(ctx, cl)

	outcome := "ok"
	if e, ok := AsError(err); ok {
		outcome = string(e.Kind)
		telemetry.Warn("rag.request_failed", map[string]any{
			"op":         cl.op,
			"kind":       string(e.Kind),
			"status":     e.Status,
			"attempts":   e.Attempts,
			"message":    e.Message,
			"request_id": reqctx.RequestID(ctx),
		})
	}
	metrics.ObserveUpstream(cl.op, outcome, time.Since(start))
	return resp, err
}

func (c *Client) execute(ctx context.Context, cl call) (Response, error) {
	if c.cfg.BaseURL == "" {
		return Response{}, &Error{Op: cl.op, Kind: KindConfig, Message: "RAG service URL is not configured"}
	}
	if c.cfg.APIKey == "" {
		return Response{}, &Error{Op: cl.op, Kind: KindConfig, Message: "RAG service API key is not configured"}
	}
	target, err := url.Parse(c.cfg.BaseURL + cl.path)
	if err != nil {
		return Response{}, &Error{Op: cl.op, Kind: KindConfig, Message: "invalid RAG service URL", Err: err}
	}
	if len(cl.query) > 0 {
		target.RawQuery = cl.query.Encode()
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	for attempt := 1; ; attempt++ {
		httpResp, err := c.send(ctx, cl, target.String())
		if err == nil {
			return c.readResponse(ctx, cl, httpResp, attempt)
		}

		kind := classify(ctx, err)
		if kind != KindConnection || attempt >= 2 {
			return Response{}, transportError(cl.op, kind, attempt, err)
		}

		telemetry.Warn("rag.retry", map[string]any{
			"op":         cl.op,
			"attempt":    attempt,
			"backoff_ms": c.cfg.RetryBackoff.Milliseconds(),
			"err":        err,
		})
		if sleepErr := c.sleep(ctx, c.cfg.RetryBackoff); sleepErr != nil {
			return Response{}, transportError(cl.op, classify(ctx, sleepErr), attempt, sleepErr)
		}
	}
}

func (c *Client) send(ctx context.Context, cl call, target string) (*http.Response, error) {
	var body io.Reader
	if cl.body != nil {
		body = bytes.NewReader(cl.body)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", c.cfg.APIKey)
	if cl.binary {
		req.Header.Set("Accept", "*/*")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	req.Header.Set("User-Agent", userAgent)
	if cl.contentType != "" {
		req.Header.Set("Content-Type", cl.contentType)
	}
	if id := reqctx.RequestID(ctx); id != "" {
		req.Header.Set("X-Request-Id", id)
	}
	return c.http.Do(req)
}

func (c *Client) readResponse(ctx context.Context, cl call, resp *http.Response, attempts int) (Response, error) {
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		kind := classify(ctx, err)
		return Response{}, &Error{Op: cl.op, Kind: kind, Status: resp.StatusCode, Message: "read response body: " + err.Error(), Attempts: attempts, Err: err}
	}
	body := bytes.TrimSpace(raw)
	isJSON := len(body) > 0 && json.Valid(body)

	if resp.StatusCode == http.StatusNotFound && cl.notFoundOK {
		out := Response{Status: resp.StatusCode, NotFound: true}
		if isJSON {
			out.Body = body
		}
		return out, nil
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && cl.binary {
		return Response{
			Status:      resp.StatusCode,
			Body:        raw,
			ContentType: resp.Header.Get("Content-Type"),
			Disposition: resp.Header.Get("Content-Disposition"),
		}, nil
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if len(body) == 0 {
			return Response{Status: resp.StatusCode}, nil
		}
		if !isJSON {
			return Response{}, &Error{
				Op:       cl.op,
				Kind:     KindInvalidResponse,
				Status:   resp.StatusCode,
				Message:  "RAG service returned a non-JSON response",
				Raw:      snippet(body),
				Attempts: attempts,
			}
		}
		return Response{Status: resp.StatusCode, Body: body}, nil
	}

	e := &Error{
		Op:       cl.op,
		Kind:     KindUpstream,
		Status:   resp.StatusCode,
		Attempts: attempts,
	}
	if isJSON {
		e.Payload = body
		e.Message = errorMessage(body, resp.StatusCode)
	} else {
		e.Raw = snippet(body)
		e.Message = fmt.Sprintf("RAG service error (%d)", resp.StatusCode)
	}
	return Response{}, e
}

// errorMessage prefers detail (string, or the first validation msg), then message.
func errorMessage(body []byte, status int) string {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err == nil {
		switch d := obj["detail"].(type) {
		case string:
			if strings.TrimSpace(d) != "" {
				return d
			}
		case []any:
			if len(d) > 0 {
				if first, ok := d[0].(map[string]any); ok {
					if msg, ok := first["msg"].(string); ok && msg != "" {
						return msg
					}
				}
			}
		}
		if msg, ok := obj["message"].(string); ok && strings.TrimSpace(msg) != "" {
			return msg
		}
	}
	return fmt.Sprintf("RAG service error (%d)", status)
}

func classify(ctx context.Context, err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindConnection
}

func transportError(op string, kind Kind, attempts int, err error) *Error {
	msg := "RAG service connection failed"
	switch kind {
	case KindTimeout:
		msg = "RAG service timed out"
	case KindCanceled:
		msg = "request canceled"
	}
	return &Error{Op: op, Kind: kind, Message: msg, Attempts: attempts, Err: err}
}

func snippet(body []byte) string {
	if len(body) > maxRawSnippet {
		body = body[:maxRawSnippet]
	}
	return string(body)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
