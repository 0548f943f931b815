package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/devrev/replicawatch/internal/config"
	"github.com/devrev/replicawatch/internal/converter"
	apierrors "github.com/devrev/replicawatch/internal/errors"
	"github.com/devrev/replicawatch/internal/handler"
	"github.com/devrev/replicawatch/internal/health"
	"github.com/devrev/replicawatch/internal/metrics"
	"github.com/devrev/replicawatch/internal/model"
	"github.com/devrev/replicawatch/internal/node"
	"github.com/devrev/replicawatch/internal/server"
	"github.com/devrev/replicawatch/internal/service"
	"github.com/devrev/replicawatch/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNodes = []string{"mongo1:27017", "mongo2:27017", "mongo3:27017"}

type testEnv struct {
	handler http.Handler
	store   *store.MemoryReplicatedStore
	mirror  *store.MirrorStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	m := metrics.NewMetrics()

	cfg := &config.Config{
		Nodes: testNodes,
		Server: config.ServerConfig{
			Port:           3000,
			AllowedOrigins: []string{"*"},
			RequestTimeout: 10 * time.Second,
		},
		BulkLoad: config.BulkLoadConfig{BatchSize: 10, StepCount: 10, DefaultTotal: 25},
	}

	mem := store.NewMemoryReplicatedStore("rs0", testNodes, 0)
	registry, err := node.NewRegistry(testNodes)
	require.NoError(t, err)
	connector := node.NewConnector(mem, node.Config{ConnectTimeout: time.Second, OperationTimeout: time.Second}, m, logger)
	mirror := store.NewMirrorStore()
	jobs := store.NewMemoryJobStore(time.Hour, logger)
	status := service.NewStatusService(connector, registry, logger)

	svc := handler.Services{
		Write:  service.NewWriteService(connector, registry, mirror, m, logger),
		Status: status,
		Search: service.NewSearchService(connector, registry, mirror, m, logger),
		BulkLoad: service.NewBulkLoadService(connector, registry, mirror, jobs, nil, m, service.BulkLoadConfig{
			BatchSize:    cfg.BulkLoad.BatchSize,
			StepCount:    cfg.BulkLoad.StepCount,
			OnDisconnect: service.OnDisconnectAbandon,
		}, logger),
	}

	errorHandler := apierrors.NewHandler(logger)
	handlers := handler.NewHandlers(svc, registry, converter.NewHTTPToService(false, cfg.BulkLoad.DefaultTotal),
		errorHandler, logger, cfg.Server.RequestTimeout)
	hc := health.NewHealthCheck(status, jobs, m, time.Second, logger)

	srv := server.NewServer(cfg, handlers, hc, errorHandler, m, logger)
	srv.SetupRoutes()

	return &testEnv{handler: srv.GetHandler(), store: mem, mirror: mirror}
}

func (e *testEnv) do(method, target, contentType, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", contentType)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = env.do(http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	env.store.SetDown("mongo1:27017", true)
	w = env.do(http.MethodGet, "/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServer_WriteThenSearch(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/v1/write", "application/json", `{"message":"hello","mirror":true}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var written service.WriteResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &written))
	assert.Equal(t, "mongo1:27017", written.Node)
	assert.True(t, written.Mirrored)

	for _, path := range []string{"/v1/search", "/v1/search/mirror"} {
		w = env.do(http.MethodGet, path+"?key=message&value=hello", "", "")
		require.Equal(t, http.StatusOK, w.Code)

		var res model.SearchResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.Equal(t, 1, res.Count, path)
		assert.Equal(t, written.Record.ID, res.Matches[0].ID, path)
	}

	t.Run("form post uses mirror default", func(t *testing.T) {
		w := env.do(http.MethodPost, "/v1/write", "application/x-www-form-urlencoded", "message=from+form")
		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, 1, env.mirror.Len())
		assert.Equal(t, 2, env.store.Len())
	})

	t.Run("blank message", func(t *testing.T) {
		w := env.do(http.MethodPost, "/v1/write", "application/json", `{"message":"  "}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), `"error_code":"CLIENT_INPUT"`)
	})

	t.Run("missing search value", func(t *testing.T) {
		w := env.do(http.MethodGet, "/v1/search?key=message", "", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestServer_Nodes(t *testing.T) {
	env := newTestEnv(t)

	t.Run("list", func(t *testing.T) {
		w := env.do(http.MethodGet, "/v1/nodes", "", "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp handler.NodeListResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "mongo1:27017", resp.Primary)
		assert.Len(t, resp.Nodes, 3)
	})

	t.Run("all status isolates failures", func(t *testing.T) {
		env.store.SetDown("mongo3:27017", true)
		defer env.store.SetDown("mongo3:27017", false)

		w := env.do(http.MethodGet, "/v1/nodes/status", "", "")
		require.Equal(t, http.StatusOK, w.Code)

		var round model.StatusRound
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &round))
		require.Len(t, round.Nodes, 3)
		assert.Equal(t, model.RolePrimary, round.Nodes[0].Role)
		assert.Equal(t, model.RoleSecondary, round.Nodes[1].Role)
		assert.Equal(t, "CONNECTION_FAILED", round.Nodes[2].ErrorCode)
	})

	t.Run("single node", func(t *testing.T) {
		w := env.do(http.MethodGet, "/v1/node-status?node=mongo2:27017", "", "")
		require.Equal(t, http.StatusOK, w.Code)

		var st model.NodeStatus
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
		assert.Equal(t, "mongo2:27017", st.Node)
		assert.Equal(t, model.RoleSecondary, st.Role)
	})

	t.Run("unknown node is rejected", func(t *testing.T) {
		w := env.do(http.MethodGet, "/v1/node-status?node=evil:27017", "", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = env.do(http.MethodGet, "/v1/node-status", "", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("replica set status as yaml", func(t *testing.T) {
		w := env.do(http.MethodGet, "/v1/replica-set/status?format=yaml", "", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/yaml", w.Header().Get("Content-Type"))
		assert.Contains(t, w.Body.String(), "set: rs0")
	})
}

func TestServer_BulkLoadStream(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/v1/bulk-load?total=25", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, `"message":"Inserted 10 / 25"`)
	assert.Contains(t, body, `"message":"Inserted 25 / 25"`)
	assert.Contains(t, body, `"message":"Completed bulk insert of 25 records"`)
	assert.Equal(t, 4, strings.Count(body, "data: "))
	assert.Equal(t, 25, env.store.Len())

	t.Run("invalid total", func(t *testing.T) {
		w := env.do(http.MethodGet, "/v1/bulk-load?total=0", "", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestServer_BulkLoadStep(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/v1/bulk-load/step?total=95&step=10&step_count=10", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var p model.Progress
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, 95, p.Written)
	assert.Equal(t, 100, p.Percent)
	assert.True(t, p.Done)
	assert.Equal(t, 5, env.store.Len())

	t.Run("failed step returns terminal progress", func(t *testing.T) {
		env.store.SetWriteError("mongo1:27017", 0, assert.AnError)
		defer env.store.SetWriteError("mongo1:27017", 0, nil)

		w := env.do(http.MethodGet, "/v1/bulk-load/step?total=95&step=1", "", "")
		assert.Equal(t, http.StatusBadGateway, w.Code)

		var p model.Progress
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
		assert.True(t, p.Done)
		assert.NotEmpty(t, p.Error)
	})

	t.Run("step is required", func(t *testing.T) {
		w := env.do(http.MethodGet, "/v1/bulk-load/step?total=95", "", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestServer_Jobs(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/v1/bulk-load/jobs", "application/json", `{"total":20,"step_count":2}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var job model.BulkJob
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, 10, job.StepSize)

	for i := 1; i <= 3; i++ {
		w = env.do(http.MethodPost, "/v1/bulk-load/jobs/"+job.ID+"/next", "", "")
		require.Equal(t, http.StatusOK, w.Code)
	}
	assert.Contains(t, w.Body.String(), "No steps remaining")
	assert.Equal(t, 20, env.store.Len())

	w = env.do(http.MethodGet, "/v1/bulk-load/jobs/"+job.ID, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, 20, job.Written)

	w = env.do(http.MethodGet, "/v1/bulk-load/jobs/missing", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "JOB_NOT_FOUND")
}

func TestServer_UnknownRoutes(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/v1/nope", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_FOUND")

	w = env.do(http.MethodDelete, "/v1/write", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
