package http

import (
	"context"
	"fmt"
	"io"
	gohttp "net/http"
	"strings"
	"time"

	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

// maxBodySize caps how much of a response body is kept in memory
const maxBodySize = 4 << 20

// Client sends rendered requests to the SUT or the driver controller.
// Headers and cookies from the config go with every request; those set on
// the request itself win.
type Client struct {
	http    *gohttp.Client
	limiter *Throttle
	retrier *Retrier
	headers map[string]string
	cookies map[string]string
}

// NewClient creates a client for config
func NewClient(config types.HTTPConfig) (*Client, error) {
	transport, err := NewTransport(config)
	if err != nil {
		return nil, err
	}

	c := &Client{
		http: &gohttp.Client{
			Transport: transport,
			Timeout:   config.Timeout,
			// a redirect is an outcome of the action, not something to follow
			CheckRedirect: func(*gohttp.Request, []*gohttp.Request) error {
				return gohttp.ErrUseLastResponse
			},
		},
		retrier: NewRetrier(config.Retry),
		headers: make(map[string]string, len(config.Headers)+1),
		cookies: make(map[string]string, len(config.Cookies)),
	}
	if config.RateLimit > 0 {
		c.limiter = NewThrottle(config.RateLimit, config.RateLimit*0.1, config.RateLimit*2)
	}
	if config.UserAgent != "" {
		c.headers["User-Agent"] = config.UserAgent
	}
	for k, v := range config.Headers {
		c.headers[k] = v
	}
	for k, v := range config.Cookies {
		c.cookies[k] = v
	}
	return c, nil
}

// Do sends req, waiting for the rate limiter and retrying transient failures
func (c *Client) Do(ctx context.Context, req *types.HTTPRequest) (*types.HTTPResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return c.retrier.Do(ctx, func() (*types.HTTPResponse, error) {
		return c.send(ctx, req)
	})
}

func (c *Client) send(ctx context.Context, req *types.HTTPRequest) (*types.HTTPResponse, error) {
	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%s %s: reading body: %w", req.Method, req.URL, err)
	}
	if c.limiter != nil {
		c.limiter.Record(resp.StatusCode)
	}

	return &types.HTTPResponse{
		StatusCode: resp.StatusCode,
		Headers:    flattenHeader(resp.Header),
		Body:       string(body),
		Latency:    time.Since(start),
	}, nil
}

func (c *Client) newRequest(ctx context.Context, req *types.HTTPRequest) (*gohttp.Request, error) {
	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}
	httpReq, err := gohttp.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("invalid request %s %s: %w", req.Method, req.URL, err)
	}

	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}

	for k, v := range c.cookies {
		if _, own := req.Cookies[k]; !own {
			httpReq.AddCookie(&gohttp.Cookie{Name: k, Value: v})
		}
	}
	for k, v := range req.Cookies {
		httpReq.AddCookie(&gohttp.Cookie{Name: k, Value: v})
	}
	return httpReq, nil
}

// flattenHeader joins repeated header values with ", "
func flattenHeader(h gohttp.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = strings.Join(v, ", ")
		}
	}
	return out
}

// Close releases idle connections
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}
