package http

import (
	"context"
	"errors"
	"io"
	gohttp "net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

func TestClientSendsRequest(t *testing.T) {
	var got *gohttp.Request
	var gotBody string
	srv := httptest.NewServer(gohttp.HandlerFunc(func(w gohttp.ResponseWriter, r *gohttp.Request) {
		got = r
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("X-Reply", "yes")
		w.WriteHeader(gohttp.StatusCreated)
		_, _ = w.Write([]byte(`{"id":1}`))
	}))
	defer srv.Close()

	cfg := types.DefaultConfig().HTTP
	cfg.Headers = map[string]string{"X-Session": "s"}
	cfg.Cookies = map[string]string{"sid": "session", "lang": "en"}
	c, err := NewClient(cfg)
	require.NoError(t, err)
	defer c.Close()

	resp, err := c.Do(context.Background(), &types.HTTPRequest{
		Method:      "POST",
		URL:         srv.URL + "/items",
		Headers:     map[string]string{"X-Req": "r"},
		Cookies:     map[string]string{"sid": "override"},
		Body:        `{"name":"a"}`,
		ContentType: "application/json",
	})
	require.NoError(t, err)

	assert.Equal(t, 201, resp.StatusCode)
	assert.Equal(t, `{"id":1}`, resp.Body)
	assert.Equal(t, "yes", resp.Headers["X-Reply"])

	require.NotNil(t, got)
	assert.Equal(t, "/items", got.URL.Path)
	assert.Equal(t, "s", got.Header.Get("X-Session"))
	assert.Equal(t, "r", got.Header.Get("X-Req"))
	assert.Equal(t, "evoburrito", got.Header.Get("User-Agent"))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"))
	assert.Equal(t, `{"name":"a"}`, gotBody)

	sid, err := got.Cookie("sid")
	require.NoError(t, err)
	assert.Equal(t, "override", sid.Value)
	lang, err := got.Cookie("lang")
	require.NoError(t, err)
	assert.Equal(t, "en", lang.Value)
}

func TestClientDoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(gohttp.HandlerFunc(func(w gohttp.ResponseWriter, r *gohttp.Request) {
		gohttp.Redirect(w, r, "/elsewhere", gohttp.StatusFound)
	}))
	defer srv.Close()

	c, err := NewClient(types.DefaultConfig().HTTP)
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), &types.HTTPRequest{Method: "GET", URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, 302, resp.StatusCode)
	assert.Equal(t, "/elsewhere", resp.Headers["Location"])
}

func TestClientRetriesRetryableStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(gohttp.HandlerFunc(func(w gohttp.ResponseWriter, r *gohttp.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(gohttp.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(gohttp.StatusOK)
	}))
	defer srv.Close()

	cfg := types.DefaultConfig().HTTP
	cfg.Retry = types.RetryConfig{MaxRetries: 3, Backoff: "constant", RetryOn: []int{503}}
	c, err := NewClient(cfg)
	require.NoError(t, err)

	resp, err := c.Do(context.Background(), &types.HTTPRequest{Method: "GET", URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClientHonoursDeadline(t *testing.T) {
	srv := httptest.NewServer(gohttp.HandlerFunc(func(w gohttp.ResponseWriter, r *gohttp.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	cfg := types.DefaultConfig().HTTP
	cfg.Retry = types.RetryConfig{MaxRetries: 5, RetryOn: []int{503}}
	c, err := NewClient(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = c.Do(ctx, &types.HTTPRequest{Method: "GET", URL: srv.URL})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRetrierDelay(t *testing.T) {
	exp := NewRetrier(types.RetryConfig{Backoff: "exponential"})
	assert.Equal(t, baseRetryDelay, exp.Delay(0))
	assert.Equal(t, 4*baseRetryDelay, exp.Delay(2))
	assert.Equal(t, maxRetryDelay, exp.Delay(30))

	lin := NewRetrier(types.RetryConfig{Backoff: "linear"})
	assert.Equal(t, 3*baseRetryDelay, lin.Delay(2))
}

func TestThrottle(t *testing.T) {
	th := NewThrottle(10, 1, 20)

	th.Record(429)
	assert.InDelta(t, 5, th.Rate(), 1e-9)

	for i := 0; i < 10; i++ {
		th.Record(503)
	}
	assert.InDelta(t, 1, th.Rate(), 1e-9, "never below the minimum")

	th.Reset()
	for i := 0; i < recoverAfter; i++ {
		th.Record(500)
	}
	assert.InDelta(t, 12, th.Rate(), 1e-9, "faults do not slow the search down")

	for i := 0; i < 20*recoverAfter; i++ {
		th.Record(200)
	}
	assert.InDelta(t, 20, th.Rate(), 1e-9, "never above the maximum")

	require.NoError(t, th.Wait(context.Background()))
}

func TestFlattenHeader(t *testing.T) {
	h := gohttp.Header{}
	h.Add("Vary", "Accept")
	h.Add("Vary", "Origin")
	h.Set("Content-Type", "application/json")
	h["Empty"] = nil

	assert.Equal(t, map[string]string{
		"Vary":         "Accept, Origin",
		"Content-Type": "application/json",
	}, flattenHeader(h))
}

func TestNewTransport(t *testing.T) {
	rt, err := NewTransport(types.HTTPConfig{H2C: true})
	require.NoError(t, err)
	assert.NotNil(t, rt)

	_, err = NewTransport(types.HTTPConfig{ProxyURL: "://bad"})
	assert.Error(t, err)
}
