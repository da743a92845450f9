package driver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	evohttp "github.com/WebFuzzing/EvoMaster-sub017/internal/http"
	"github.com/WebFuzzing/EvoMaster-sub017/pkg/types"
)

type recorded struct {
	endpoint, outcome string
}

type mockRecorder struct {
	mu    sync.Mutex
	calls []recorded
}

func (r *mockRecorder) ObserveCall(endpoint, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recorded{endpoint, outcome})
}

// fakeController serves canned envelopes and remembers what it received
type fakeController struct {
	mu     sync.Mutex
	bodies map[string]string
	query  map[string]string
	delay  time.Duration
}

func (f *fakeController) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	path := strings.TrimPrefix(r.URL.Path, types.BasePath)

	f.mu.Lock()
	f.bodies[r.Method+" "+path] = string(body)
	f.query[path] = r.URL.RawQuery
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	switch path {
	case types.ControllerInfoPath:
		_, _ = io.WriteString(w, `{"data":{"fullName":"em.Driver","isInstrumentationOn":true,"newField":42}}`)
	case types.InfoSUTPath:
		_, _ = io.WriteString(w, `{"data":{"baseUrlOfSUT":"http://localhost:8080","restProblem":{"openApiUrl":"http://localhost:8080/v3/api-docs"},
			"infoForAuthentication":[{"name":"admin","headers":[{"name":"Authorization","value":"Basic YQ=="}]}]}}`)
	case types.TestResultsPath:
		_, _ = io.WriteString(w, `{"data":{"targets":[{"id":3,"descriptiveId":"Line_at_X_00001","value":1,"actionIndex":0}],
			"additionalInfoList":[{"stringSpecializations":{"foo":["bar"]}}]}}`)
	case types.NewActionPath:
		var dto types.ActionDto
		_ = json.Unmarshal(body, &dto)
		if dto.RPCCall != nil {
			_, _ = io.WriteString(w, `{"data":{"index":0,"rpcResponse":{"ok":true}}}`)
			return
		}
		_, _ = io.WriteString(w, `{}`)
	case types.ExtraHeuristicsPath:
		_, _ = io.WriteString(w, `{"data":null}`)
	case types.DatabaseCommandPath:
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"table FOO does not exist"}`)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func newFake(t *testing.T) (*fakeController, *Controller, *mockRecorder) {
	t.Helper()
	fake := &fakeController{bodies: map[string]string{}, query: map[string]string{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := evohttp.NewClient(types.DefaultConfig().HTTP)
	require.NoError(t, err)

	rec := &mockRecorder{}
	return fake, NewControllerAt(srv.URL, client, WithRecorder(rec)), rec
}

func TestControllerInfoToleratesUnknownFields(t *testing.T) {
	_, c, rec := newFake(t)

	info, err := c.ControllerInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "em.Driver", info.FullName)
	assert.True(t, info.IsInstrumentationOn)
	assert.Equal(t, []recorded{{"controllerInfo", OutcomeOK}}, rec.calls)
}

func TestInfoSUT(t *testing.T) {
	_, c, _ := newFake(t)

	info, err := c.InfoSUT(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "rest", info.ProblemType())
	assert.Equal(t, "http://localhost:8080/v3/api-docs", info.RestProblem.OpenAPIURL)
	require.Len(t, info.InfoForAuthentication, 1)
	assert.Equal(t, "admin", info.InfoForAuthentication[0].Name)
	assert.Nil(t, info.SQLSchemaDto, "absent optional fields stay empty")
}

func TestRunSUTSendsFlags(t *testing.T) {
	fake, c, _ := newFake(t)

	require.NoError(t, c.ResetSUT(context.Background()))
	assert.JSONEq(t, `{"run":true,"resetState":true}`, fake.bodies["PUT "+types.RunSUTPath])

	require.NoError(t, c.RunSUT(context.Background(), true, false, true))
	assert.JSONEq(t, `{"run":true,"resetState":false,"calculateSqlHeuristics":true}`, fake.bodies["PUT "+types.RunSUTPath])

	require.NoError(t, c.StopSUT(context.Background()))
	assert.JSONEq(t, `{"run":false}`, fake.bodies["PUT "+types.RunSUTPath])

	require.NoError(t, c.NewSearch(context.Background()))
	_, ok := fake.bodies["POST "+types.NewSearchPath]
	assert.True(t, ok)
}

func TestTestResultsQuery(t *testing.T) {
	fake, c, _ := newFake(t)

	results, err := c.TestResults(context.Background(), types.TestResultsQuery{IDs: []int{1, 5}, KillSwitch: true, AllCovered: true})
	require.NoError(t, err)
	require.Len(t, results.Targets, 1)
	assert.Equal(t, "Line_at_X_00001", results.Targets[0].DescriptiveID)
	assert.Equal(t, []string{"bar"}, results.AdditionalInfo[0].StringSpecializations["foo"])
	assert.Equal(t, "allCovered=true&ids=1%2C5&killSwitch=true", fake.query[types.TestResultsPath])
}

func TestNewAction(t *testing.T) {
	_, c, _ := newFake(t)

	resp, err := c.NewAction(context.Background(), types.ActionDto{Index: 0, Name: "GET:/a"})
	require.NoError(t, err)
	assert.Nil(t, resp)

	resp, err = c.NewAction(context.Background(), types.ActionDto{Index: 0, RPCCall: &types.RPCCallDto{InterfaceID: "svc", ActionName: "m"}})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.JSONEq(t, `{"ok":true}`, string(resp.RPCResponse))
}

func TestExtraHeuristicsNullData(t *testing.T) {
	_, c, _ := newFake(t)

	extra, err := c.ExtraHeuristics(context.Background())
	require.NoError(t, err)
	assert.Nil(t, extra)
}

func TestControllerErrors(t *testing.T) {
	t.Run("error envelope", func(t *testing.T) {
		_, c, rec := newFake(t)
		err := c.DatabaseCommand(context.Background(), types.DatabaseCommandDto{Command: "SELECT 1"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrController)
		assert.Contains(t, err.Error(), "table FOO does not exist")
		assert.Equal(t, OutcomeError, rec.calls[0].outcome)
	})

	t.Run("timeout", func(t *testing.T) {
		fake, c, rec := newFake(t)
		fake.delay = time.Second

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		_, err := c.ControllerInfo(ctx)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Equal(t, OutcomeTimeout, rec.calls[0].outcome)
	})

	t.Run("unreachable", func(t *testing.T) {
		client, err := evohttp.NewClient(types.DefaultConfig().HTTP)
		require.NoError(t, err)
		c := NewController("127.0.0.1", 1, client)

		_, err = c.ControllerInfo(context.Background())
		assert.ErrorIs(t, err, ErrUnavailable)
	})
}

func TestWaitReadyGivesUp(t *testing.T) {
	client, err := evohttp.NewClient(types.DefaultConfig().HTTP)
	require.NoError(t, err)
	c := NewController("127.0.0.1", 1, client)

	_, err = c.WaitReady(context.Background(), 30*time.Millisecond, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestDefaultAddress(t *testing.T) {
	cfg := types.DefaultConfig().Controller
	c := NewController(cfg.Host, cfg.Port, nil)
	assert.Equal(t, "http://localhost:40100/controller/api", c.BaseURL())
}
