// Package httpsource issues HTTP requests and exposes the response bodies as
// chunk.Sources, decompressed according to their Content-Encoding.
package httpsource

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/arnodel/arraystream"
	"github.com/arnodel/arraystream/chunk"
)

const (
	// DefaultTimeout bounds the wait for the response headers.
	DefaultTimeout = 30 * time.Second

	// RequestIDHeader is set on every request that does not have it yet.
	RequestIDHeader = "X-Request-Id"

	// At most this many bytes of the body of an error response are kept.
	maxErrorBodySize = 0x1000
)

// Config holds the settings of a Client.  The zero value is usable.
type Config struct {
	TLSConfig *tls.Config

	// Maximum wait for the response headers.  The body is streamed for as
	// long as the context of the request allows.
	Timeout time.Duration

	// Requests per second (0 = unlimited)
	RateLimit float64

	// Ask for a compressed response (gzip, deflate or zstd).
	Compressed bool

	// Headers added to every request (unless already set on it).
	Headers http.Header

	// Size of the reads from the response body.
	ChunkSize int

	Logger log.Logger
}

// A Client sends requests and returns their responses as chunk sources.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	cfg     Config
	logger  log.Logger
}

// NewClient creates a Client with a transport tuned for long streaming
// responses.
func NewClient(cfg Config) *Client {
	return NewClientWith(newHTTPClient(cfg), cfg)
}

// NewClientWith creates a Client sending requests with hc.  The TLSConfig and
// Timeout settings of cfg are ignored.
func NewClientWith(hc *http.Client, cfg Config) *Client {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		// Burst of 1: the first request goes immediately, the next ones wait
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Client{http: hc, limiter: limiter, cfg: cfg, logger: logger}
}

func newHTTPClient(cfg Config) *http.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                  http.ProxyFromEnvironment,
		DialContext:            dialer.DialContext,
		TLSClientConfig:        cfg.TLSConfig,
		TLSHandshakeTimeout:    10 * time.Second,
		ResponseHeaderTimeout:  timeout,
		ExpectContinueTimeout:  1 * time.Second,
		IdleConnTimeout:        60 * time.Second,
		MaxIdleConns:           100,
		MaxIdleConnsPerHost:    10,
		MaxResponseHeaderBytes: 1 << 20, // 1 MiB
		ForceAttemptHTTP2:      true,
		// Content encodings are handled by chunk.Decode so that the body is
		// inflated incrementally.
		DisableCompression: true,
	}
	return &http.Client{Transport: transport}
}

// Get sends a GET request for url.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Do sends req and returns the response if its status is 2xx.  Other statuses
// give a *StatusError.  A 204 No Content response has an empty source.
func (c *Client) Do(req *http.Request) (*Response, error) {
	ctx := req.Context()
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	for name, values := range c.cfg.Headers {
		if req.Header.Get(name) == "" {
			for _, v := range values {
				req.Header.Add(name, v)
			}
		}
	}
	if c.cfg.Compressed && req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", chunk.AcceptEncoding)
	}
	requestID := req.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
		req.Header.Set(RequestIDHeader, requestID)
	}
	logger := log.With(c.logger, "request_id", requestID)
	level.Debug(logger).Log("msg", "sending request", "method", req.Method, "url", req.URL.Redacted())

	resp, err := c.http.Do(req)
	if err != nil {
		level.Warn(logger).Log("msg", "request failed", "url", req.URL.Redacted(), "err", err)
		return nil, err
	}
	encoding := resp.Header.Get("Content-Encoding")
	level.Debug(logger).Log("msg", "received response", "status", resp.StatusCode, "encoding", encoding)

	switch {
	case resp.StatusCode == http.StatusNoContent:
		resp.Body.Close()
		return newResponse(resp, requestID, chunk.Empty()), nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, readStatusError(resp, requestID)
	}

	src, err := chunk.Decode(chunk.NewReaderSourceSize(resp.Body, c.cfg.ChunkSize), encoding)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("%s: %w", req.URL.Redacted(), err)
	}
	return newResponse(resp, requestID, src), nil
}

// A Response is a successful response whose body has not been read yet.
type Response struct {
	StatusCode int
	Header     http.Header
	RequestID  string

	source chunk.Source
}

func newResponse(resp *http.Response, requestID string, src chunk.Source) *Response {
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		RequestID:  requestID,
		source:     src,
	}
}

// Source returns the decompressed body.  Closing it closes the body.
func (r *Response) Source() chunk.Source {
	return r.source
}

// Stream returns an arraystream.Stream decoding the elements of the body at
// the given level.
func Stream[T any](r *Response, level, capacity int, opts ...arraystream.Option) *arraystream.Stream[T] {
	return arraystream.New[T](r.source, level, capacity, opts...)
}

// A StatusError is returned for responses with a status other than 2xx.
type StatusError struct {
	StatusCode int
	Status     string
	RequestID  string

	// Start of the response body
	Body string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return e.Status
	}
	return fmt.Sprintf("%s: %s", e.Status, body)
}

// readStatusError reads the start of the body of a failed response,
// decompressed according to its Content-Encoding.  If the encoding is not
// supported the body is kept as received.  A body cut short, or corrupt, keeps
// what could be decompressed.
func readStatusError(resp *http.Response, requestID string) error {
	defer resp.Body.Close()
	serr := &StatusError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		RequestID:  requestID,
	}
	raw := io.LimitReader(resp.Body, maxErrorBodySize)
	src, err := chunk.Decode(chunk.NewReaderSource(raw), resp.Header.Get("Content-Encoding"))
	if err != nil {
		body, err := io.ReadAll(raw)
		if err != nil {
			return fmt.Errorf("%s: reading error body: %w", resp.Status, err)
		}
		serr.Body = string(body)
		return serr
	}
	defer src.Close()
	ctx := context.Background()
	if resp.Request != nil {
		ctx = resp.Request.Context()
	}
	var body []byte
	for len(body) < maxErrorBodySize {
		data, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		var ierr *chunk.InflateError
		if errors.As(err, &ierr) {
			break
		}
		if err != nil {
			return fmt.Errorf("%s: reading error body: %w", resp.Status, err)
		}
		body = append(body, data...)
	}
	if len(body) > maxErrorBodySize {
		body = body[:maxErrorBodySize]
	}
	serr.Body = string(body)
	return serr
}
