package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WebFuzzing/EvoMaster-sub017/internal/logging"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/metrics"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/schema"
	"github.com/WebFuzzing/EvoMaster-sub017/internal/server"
	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

func TestInstanceAddrs(t *testing.T) {
	cfg := types.ControllerConfig{
		Host:      "localhost",
		Port:      40100,
		Instances: []string{"localhost:40101", "", "localhost:40100", "localhost:40101", "10.0.0.2:40100"},
	}
	assert.Equal(t, []string{"localhost:40100", "localhost:40101", "10.0.0.2:40100"}, instanceAddrs(cfg))
}

func TestApplyRequest(t *testing.T) {
	base := types.DefaultConfig()
	base.Controller.Instances = []string{"localhost:40101"}

	t.Run("zero request keeps defaults", func(t *testing.T) {
		cfg, err := applyRequest(base, server.SearchRequest{})
		require.NoError(t, err)
		assert.Equal(t, base.Controller, cfg.Controller)
		assert.Equal(t, base.Search, cfg.Search)
	})

	t.Run("overrides", func(t *testing.T) {
		cfg, err := applyRequest(base, server.SearchRequest{
			Controller:     "sut-host:41000",
			Instances:      []string{"sut-host:41001"},
			MaxEvaluations: 50,
			MaxTime:        "2m",
			Seed:           7,
		})
		require.NoError(t, err)
		assert.Equal(t, "sut-host", cfg.Controller.Host)
		assert.Equal(t, 41000, cfg.Controller.Port)
		assert.Equal(t, []string{"sut-host:41001"}, cfg.Controller.Instances)
		assert.Equal(t, 50, cfg.Search.MaxEvaluations)
		assert.Equal(t, 2*time.Minute, cfg.Search.MaxTime)
		assert.Equal(t, int64(7), cfg.Search.Seed)

		// base untouched
		assert.Equal(t, "localhost", base.Controller.Host)
		assert.Equal(t, []string{"localhost:40101"}, base.Controller.Instances)
		assert.Equal(t, 1000, base.Search.MaxEvaluations)
	})

	t.Run("invalid", func(t *testing.T) {
		tests := []struct {
			name string
			req  server.SearchRequest
		}{
			{"no port", server.SearchRequest{Controller: "sut-host"}},
			{"bad port", server.SearchRequest{Controller: "sut-host:http"}},
			{"negative budget", server.SearchRequest{MaxEvaluations: -1}},
			{"bad duration", server.SearchRequest{MaxTime: "soon"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := applyRequest(base, tt.req)
				assert.Error(t, err)
			})
		}
	})
}

// fakeDriver answers the controller calls a session makes at startup
type fakeDriver struct {
	mu      sync.Mutex
	info    map[string]any
	runSUTs []types.SutRunDto
	calls   []string
}

func (f *fakeDriver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, types.BasePath)
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.calls = append(f.calls, r.Method+" "+path)
	if path == types.RunSUTPath {
		var dto types.SutRunDto
		_ = json.Unmarshal(body, &dto)
		f.runSUTs = append(f.runSUTs, dto)
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch path {
	case types.ControllerInfoPath:
		_, _ = io.WriteString(w, `{"data":{"fullName":"em.Driver","isInstrumentationOn":true}}`)
	case types.InfoSUTPath:
		_ = json.NewEncoder(w).Encode(map[string]any{"data": f.info})
	default:
		_, _ = io.WriteString(w, `{}`)
	}
}

func (f *fakeDriver) stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	last := f.runSUTs[len(f.runSUTs)-1]
	return last.Run != nil && !*last.Run
}

func sessionConfig(t *testing.T, srv *httptest.Server) *types.Config {
	t.Helper()
	cfg := types.DefaultConfig()
	addr := strings.TrimPrefix(srv.URL, "http://")
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	cfg.Controller.Host = host
	cfg.Controller.Port, err = strconv.Atoi(port)
	require.NoError(t, err)
	cfg.Controller.StartupWait = time.Second
	return cfg
}

func TestOpenSession(t *testing.T) {
	logger := logging.Discard()

	t.Run("starts SUT and builds search", func(t *testing.T) {
		fake := &fakeDriver{info: map[string]any{
			"baseUrlOfSUT": "http://localhost:8080",
			"restProblem": map[string]any{
				"openApiSchema": `{"openapi": "3.0.0", "paths": {"/ping": {"get": {}}, "/users": {"post": {}}}}`,
			},
			"infoForAuthentication": []map[string]any{
				{"name": "admin", "headers": []map[string]string{{"name": "Authorization", "value": "Basic YQ=="}}},
			},
		}}
		srv := httptest.NewServer(fake)
		defer srv.Close()

		sess, err := openSession(context.Background(), sessionConfig(t, srv), metrics.New(), logger)
		require.NoError(t, err)
		require.NotNil(t, sess.Search)
		assert.Equal(t, "http://localhost:8080", sess.sut)
		assert.Equal(t, "rest", sess.set.Problem)
		assert.Len(t, sess.set.Templates, 2)
		assert.Len(t, sess.controllers, 1)

		fake.mu.Lock()
		assert.Equal(t, []string{
			"GET " + types.ControllerInfoPath,
			"PUT " + types.RunSUTPath,
			"POST " + types.NewSearchPath,
			"GET " + types.InfoSUTPath,
		}, fake.calls)
		require.Len(t, fake.runSUTs, 1)
		assert.True(t, *fake.runSUTs[0].Run)
		fake.mu.Unlock()

		sess.stop()
		assert.True(t, fake.stopped())
	})

	t.Run("schema error stops the SUT", func(t *testing.T) {
		fake := &fakeDriver{info: map[string]any{"baseUrlOfSUT": "http://localhost:8080"}}
		srv := httptest.NewServer(fake)
		defer srv.Close()

		_, err := openSession(context.Background(), sessionConfig(t, srv), metrics.New(), logger)
		require.ErrorIs(t, err, schema.ErrSchema)
		assert.True(t, fake.stopped())
	})

	t.Run("unreachable controller", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		cfg := sessionConfig(t, srv)
		srv.Close()
		cfg.Controller.StartupWait = 0

		_, err := openSession(context.Background(), cfg, metrics.New(), slog.Default())
		assert.Error(t, err)
	})
}
