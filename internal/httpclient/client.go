// Package httpclient wraps a shared fasthttp client for the GET traffic the
// probe issues against the system under test.
package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/valyala/fasthttp"
)

const (
	DefaultTimeout         = 30 * time.Second
	DefaultMaxConnsPerHost = 1000
	DefaultMaxIdleConn     = 90 * time.Second
	DefaultUserAgent       = "load-probe"
)

// ErrTimeout is set on a Response whose request did not finish before its deadline.
var ErrTimeout = errors.New("request timeout")

// Config holds client level settings.
type Config struct {
	Timeout             time.Duration `yaml:"timeout" env:"LP_HTTP_TIMEOUT"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host" env:"LP_HTTP_MAX_CONNS_PER_HOST"`
	MaxIdleConnDuration time.Duration `yaml:"max_idle_conn_duration" env:"LP_HTTP_MAX_IDLE_CONN_DURATION"`
	InsecureSkipVerify  bool          `yaml:"insecure_skip_verify" env:"LP_HTTP_INSECURE_SKIP_VERIFY"`
	UserAgent           string        `yaml:"user_agent" env:"LP_HTTP_USER_AGENT"`
	MaxBodyBytes        int           `yaml:"max_body_bytes" env:"LP_HTTP_MAX_BODY_BYTES"`
}

// Request is a GET against url with query parameters and headers.
type Request struct {
	URL     string
	Query   map[string]string
	Headers map[string]string
}

// Response is what a caller may inspect of a finished call.
type Response struct {
	Status  int
	Body    []byte
	Latency time.Duration
	Start   time.Time
	Err     error
}

// Client issues requests with a per-request deadline.
type Client struct {
	client  *fasthttp.Client
	timeout time.Duration
}

// New builds a client from cfg, filling zero values with defaults.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxConnsPerHost <= 0 {
		cfg.MaxConnsPerHost = DefaultMaxConnsPerHost
	}
	if cfg.MaxIdleConnDuration <= 0 {
		cfg.MaxIdleConnDuration = DefaultMaxIdleConn
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	c := &fasthttp.Client{
		Name:                   cfg.UserAgent,
		MaxConnsPerHost:        cfg.MaxConnsPerHost,
		MaxIdleConnDuration:    cfg.MaxIdleConnDuration,
		ReadTimeout:            cfg.Timeout,
		WriteTimeout:           cfg.Timeout,
		MaxResponseBodySize:    cfg.MaxBodyBytes,
		DisablePathNormalizing: true,
	}
	if cfg.InsecureSkipVerify {
		c.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &Client{client: c, timeout: cfg.Timeout}
}

// Get issues r. The returned error is non-nil only when ctx was already done and
// nothing was sent; transport failures are reported in Response.Err. Cancelling
// ctx while the request is in flight returns at once with Response.Err set to
// the cancellation cause.
func (c *Client) Get(ctx context.Context, r Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	req := fasthttp.AcquireRequest()
	req.SetRequestURI(r.URL)
	req.Header.SetMethod(fasthttp.MethodGet)
	if len(r.Query) > 0 {
		keys := make([]string, 0, len(r.Query))
		for k := range r.Query {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		args := req.URI().QueryArgs()
		for _, k := range keys {
			args.Set(k, r.Query[k])
		}
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	out := Response{Start: time.Now()}
	done := make(chan exchange, 1)
	go c.do(req, deadline, done)

	var ex exchange
	select {
	case ex = <-done:
	case <-ctx.Done():
		// The exchange keeps running until its deadline and releases its own
		// buffers; the call still counts as issued.
		out.Latency = time.Since(out.Start)
		if cause := context.Cause(ctx); errors.Is(cause, context.DeadlineExceeded) {
			out.Err = fmt.Errorf("%w after %s: %w", ErrTimeout, out.Latency.Round(time.Millisecond), cause)
		} else {
			out.Err = fmt.Errorf("GET %s: %w", r.URL, cause)
		}
		return out, nil
	}
	out.Latency = time.Since(out.Start)

	if err := ex.err; err != nil {
		if errors.Is(err, fasthttp.ErrTimeout) || time.Now().After(deadline) {
			out.Err = fmt.Errorf("%w after %s: %v", ErrTimeout, out.Latency.Round(time.Millisecond), err)
		} else {
			out.Err = fmt.Errorf("GET %s: %w", r.URL, err)
		}
		return out, nil
	}

	out.Status = ex.status
	out.Body = ex.body
	return out, nil
}

type exchange struct {
	status int
	body   []byte
	err    error
}

// do performs req and owns it from here on.
func (c *Client) do(req *fasthttp.Request, deadline time.Time, done chan<- exchange) {
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	var ex exchange
	if ex.err = c.client.DoDeadline(req, resp, deadline); ex.err == nil {
		ex.status = resp.StatusCode()
		ex.body = append([]byte(nil), resp.Body()...)
	}
	done <- ex
}

// CloseIdleConnections releases pooled connections.
func (c *Client) CloseIdleConnections() {
	c.client.CloseIdleConnections()
}
