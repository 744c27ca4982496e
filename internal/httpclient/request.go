package httpclient

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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// IdempotencyHeader carries the caller's idempotency key.
const IdempotencyHeader = "Idempotency-Key"

// Request builds and executes one call.
type Request interface {
	Get(ctx context.Context, path string) (*Response, error)
	Post(ctx context.Context, path string) (*Response, error)
	Delete(ctx context.Context, path string) (*Response, error)

	SetBody(body any) Request
	SetHeader(key, value string) Request
	SetQueryParam(key, value string) Request
	SetIdempotencyKey(key string) Request
	SetResult(result any) Request
	SetErrorHandler(h ResponseErrorHandler) Request
}

// Response is a fully-read response.
type Response struct {
	StatusCode int
	Header     http.Header
	body       []byte
}

// Body returns the raw body.
func (r *Response) Body() []byte { return r.body }

// IsSuccess reports a 2xx/3xx status.
func (r *Response) IsSuccess() bool { return r.StatusCode < 400 }

type requestBuilder struct {
	client       *InstrumentedClient
	headers      map[string]string
	query        map[string]string
	body         any
	result       any
	errorHandler ResponseErrorHandler
}

func (r *requestBuilder) Get(ctx context.Context, path string) (*Response, error) {
	return r.execute(ctx, http.MethodGet, path)
}

func (r *requestBuilder) Post(ctx context.Context, path string) (*Response, error) {
	return r.execute(ctx, http.MethodPost, path)
}

func (r *requestBuilder) Delete(ctx context.Context, path string) (*Response, error) {
	return r.execute(ctx, http.MethodDelete, path)
}

func (r *requestBuilder) SetBody(body any) Request {
	r.body = body
	return r
}

func (r *requestBuilder) SetHeader(key, value string) Request {
	r.headers[key] = value
	return r
}

func (r *requestBuilder) SetQueryParam(key, value string) Request {
	r.query[key] = value
	return r
}

func (r *requestBuilder) SetIdempotencyKey(key string) Request {
	return r.SetHeader(IdempotencyHeader, key)
}

func (r *requestBuilder) SetResult(result any) Request {
	r.result = result
	return r
}

func (r *requestBuilder) SetErrorHandler(h ResponseErrorHandler) Request {
	r.errorHandler = h
	return r
}

func (r *requestBuilder) execute(ctx context.Context, method, path string) (resp *Response, err error) {
	c := r.client
	start := time.Now()

	ctx, span := c.tracer.Start(ctx, "http.client."+strings.ToLower(method),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.path", path),
			attribute.String("provider", c.providerName),
		),
	)
	defer func() {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		c.record(ctx, method, status, err, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	fullURL, err := r.buildURL(path)
	if err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if r.body != nil {
		payload, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
		if _, ok := r.headers["Content-Type"]; !ok {
			r.headers["Content-Type"] = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	httpResp, err := c.client.Do(req)
	if err != nil {
		annotateNetError(span, err)
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	resp = &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, body: body}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if r.errorHandler != nil {
		if herr := r.errorHandler(resp.StatusCode, body); herr != nil {
			return resp, herr
		}
	} else if !resp.IsSuccess() {
		return resp, fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if r.result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, r.result); err != nil {
			return resp, fmt.Errorf("decode response: %w", err)
		}
	}

	return resp, nil
}

func (r *requestBuilder) buildURL(path string) (string, error) {
	raw := path
	if base := r.client.baseURL; base != "" && !strings.HasPrefix(path, "http") {
		raw = strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}

	if len(r.query) > 0 {
		q := u.Query()
		for k, v := range r.query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}

func (c *InstrumentedClient) record(ctx context.Context, method string, status int, err error, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("provider", c.providerName),
		attribute.String("method", method),
		attribute.Int("status", status),
		attribute.Bool("success", err == nil),
	)
	c.requestCounter.Add(ctx, 1, attrs)
	c.duration.Record(ctx, elapsed.Seconds(), attrs)
}

func annotateNetError(span trace.Span, err error) {
	var netErr net.Error
	if errors.Is(err, context.Canceled) {
		span.SetAttributes(attribute.Bool("context.cancelled", true))
	}
	if errors.As(err, &netErr) && netErr.Timeout() {
		span.SetAttributes(attribute.Bool("request.timeout", true))
	}
}

// IsTimeout reports whether err is a network or context timeout.
func IsTimeout(err error) bool {
	var netErr net.Error
	return errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
}
