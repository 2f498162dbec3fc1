package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/chatflow/pkg/config"
	"github.com/tcmartin/chatflow/pkg/metrics"
	"github.com/tcmartin/chatflow/pkg/models"
	"github.com/tcmartin/chatflow/pkg/registry"
	"github.com/tcmartin/chatflow/pkg/runtime"
	"github.com/tcmartin/chatflow/pkg/storage"
	"github.com/tcmartin/chatflow/pkg/validation"
)

const supportFlowYAML = `
flow:
  id: support
  bot_id: bot-1
  name: Support
nodes:
  - id: support-start
    category: trigger
    type: message_received
    start: true
  - id: support-help
    category: response
    type: text_response
    end: true
    config:
      text: "How can I help?"
  - id: support-other
    category: response
    type: text_response
    end: true
    config:
      text: "Hello!"
edges:
  - from: support-start
    to: support-help
    condition: "contains('help')"
    order: 1
  - from: support-start
    to: support-other
    kind: default
    order: 2
`

const cyclicFlowYAML = `
flow:
  id: loop
nodes:
  - id: loop-a
    category: trigger
    type: message_received
    start: true
  - id: loop-b
    category: action
    type: set_variable
edges:
  - from: loop-a
    to: loop-b
  - from: loop-b
    to: loop-a
`

const waitFlowYAML = `
flow:
  id: slow
nodes:
  - id: slow-start
    category: advanced
    type: wait
    start: true
    end: true
`

type testServer struct {
	*httptest.Server
	api        *Server
	engine     *runtime.Engine
	executions storage.ExecutionStore
	metrics    *metrics.EngineMetrics
}

func newTestServer(t *testing.T, mutate func(cfg *config.Config)) *testServer {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}

	provider := storage.NewMemoryProvider()
	require.NoError(t, provider.Initialize(context.Background()))
	graph := provider.GetGraphStore()
	executions := provider.GetExecutionStore()

	engineMetrics := metrics.NewEngineMetrics()
	wsManager := NewWebSocketManager(executions, nil)
	engine := runtime.NewEngine(graph, executions, runtime.Options{
		Metrics:  engineMetrics,
		Observer: wsManager,
	})

	api := NewServer(cfg, ServerOptions{
		Registry:   registry.NewFlowRegistry(graph, registry.FlowRegistryOptions{}),
		Engine:     engine,
		Executions: executions,
		WebSocket:  wsManager,
		Metrics:    engineMetrics,
	})
	server := httptest.NewServer(api.Handler())
	t.Cleanup(server.Close)

	return &testServer{Server: server, api: api, engine: engine, executions: executions, metrics: engineMetrics}
}

func (s *testServer) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (s *testServer) publish(t *testing.T, definition string) {
	t.Helper()
	resp, body := s.do(t, http.MethodPost, "/api/v1/flows", definition)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
}

func (s *testServer) execute(t *testing.T, flowID string, req ExecuteRequest) runtime.ExecutionResult {
	t.Helper()
	payload, err := json.Marshal(req)
	require.NoError(t, err)
	resp, body := s.do(t, http.MethodPost, "/api/v1/flows/"+flowID+"/execute", string(payload))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var result runtime.ExecutionResult
	require.NoError(t, json.Unmarshal(body, &result))
	return result
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)

	resp, body := s.do(t, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var health map[string]string
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health["status"])
}

func TestSchema(t *testing.T) {
	s := newTestServer(t, nil)

	resp, body := s.do(t, http.MethodGet, "/api/v1/schema", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, json.Valid(body))
}

func TestFlowLifecycle(t *testing.T) {
	s := newTestServer(t, nil)

	resp, body := s.do(t, http.MethodPost, "/api/v1/flows", supportFlowYAML)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var created struct {
		ID         string            `json:"id"`
		Validation validation.Result `json:"validation"`
	}
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "support", created.ID)
	assert.True(t, created.Validation.IsValid)

	resp, body = s.do(t, http.MethodGet, "/api/v1/flows", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var infos []registry.FlowInfo
	require.NoError(t, json.Unmarshal(body, &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, 3, infos[0].NodeCount)

	resp, body = s.do(t, http.MethodGet, "/api/v1/flows?bot_id=bot-2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "[]", string(body))

	resp, body = s.do(t, http.MethodGet, "/api/v1/flows/support", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var flow models.Flow
	require.NoError(t, json.Unmarshal(body, &flow))
	assert.Len(t, flow.Edges, 2)

	resp, body = s.do(t, http.MethodGet, "/api/v1/flows/support/validate", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result validation.Result
	require.NoError(t, json.Unmarshal(body, &result))
	assert.True(t, result.IsValid)

	resp, _ = s.do(t, http.MethodDelete, "/api/v1/flows/support", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = s.do(t, http.MethodGet, "/api/v1/flows/support", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"error": "Flow not found"}`, string(body))
}

func TestCreateFlowErrors(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{"syntax error", "flow: [", http.StatusBadRequest, "invalid flow definition"},
		{"missing node", "flow:\n  id: x\nnodes:\n  - id: a\n    category: trigger\n    type: message_received\nedges:\n  - from: a\n    to: ghost\n", http.StatusBadRequest, "non-existent node"},
		{"cycle", cyclicFlowYAML, http.StatusUnprocessableEntity, "Flow failed validation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := s.do(t, http.MethodPost, "/api/v1/flows", tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			var payload map[string]any
			require.NoError(t, json.Unmarshal(body, &payload))
			assert.Contains(t, payload["error"], tt.wantError)
		})
	}

	t.Run("node owned by another flow", func(t *testing.T) {
		s.publish(t, supportFlowYAML)
		stolen := strings.Replace(supportFlowYAML, "id: support\n", "id: copycat\n", 1)

		resp, _ := s.do(t, http.MethodPost, "/api/v1/flows", stolen)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})
}

func TestExecuteFlow(t *testing.T) {
	s := newTestServer(t, nil)
	s.publish(t, supportFlowYAML)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"condition matches", "I need help", "How can I help?"},
		{"default edge", "hi there", "Hello!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := s.execute(t, "support", ExecuteRequest{UserID: "u-1", Input: tt.input, Context: map[string]any{"plan": "pro"}})

			assert.True(t, result.Success)
			assert.Equal(t, models.StatusCompleted, result.Status)
			require.Len(t, result.Responses, 1)
			assert.Equal(t, tt.want, result.Responses[0].Content)
			assert.Equal(t, "pro", result.FinalContext["plan"])

			resp, body := s.do(t, http.MethodGet, "/api/v1/executions/"+result.ExecutionID, "")
			require.Equal(t, http.StatusOK, resp.StatusCode)
			var execution models.Execution
			require.NoError(t, json.Unmarshal(body, &execution))
			assert.Equal(t, models.StatusCompleted, execution.Status)
			assert.Equal(t, "bot-1", execution.BotID)
			assert.Equal(t, "u-1", execution.UserID)
			assert.Len(t, execution.NodeTrace, 2)
		})
	}

	t.Run("unknown flow", func(t *testing.T) {
		resp, _ := s.do(t, http.MethodPost, "/api/v1/flows/nope/execute", `{"input": "hi"}`)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("bad body", func(t *testing.T) {
		resp, _ := s.do(t, http.MethodPost, "/api/v1/flows/support/execute", `{"input": `)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown execution", func(t *testing.T) {
		resp, _ := s.do(t, http.MethodGet, "/api/v1/executions/nope", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestCancelRunningExecution(t *testing.T) {
	s := newTestServer(t, nil)
	started := make(chan string, 1)
	s.engine.Processor().Register(models.CategoryAdvanced, "wait", runtime.HandlerFunc(func(ctx context.Context, req runtime.NodeRequest) runtime.NodeResult {
		started <- req.ExecutionID
		<-ctx.Done()
		return runtime.NodeResult{}
	}))
	s.publish(t, waitFlowYAML)

	results := make(chan runtime.ExecutionResult, 1)
	go func() {
		resp, err := http.Post(s.URL+"/api/v1/flows/slow/execute", "application/json", bytes.NewBufferString(`{"input": "hi"}`))
		if err != nil {
			close(results)
			return
		}
		defer resp.Body.Close()
		var result runtime.ExecutionResult
		json.NewDecoder(resp.Body).Decode(&result)
		results <- result
	}()

	var executionID string
	select {
	case executionID = <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("execution did not start")
	}

	resp, body := s.do(t, http.MethodPost, "/api/v1/executions/"+executionID+"/cancel", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	select {
	case result, ok := <-results:
		require.True(t, ok)
		assert.Equal(t, models.StatusCancelled, result.Status)
		assert.True(t, result.FallbackToHuman)
	case <-time.After(5 * time.Second):
		t.Fatal("execution was not cancelled")
	}

	execution, err := s.executions.GetExecution(context.Background(), executionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, execution.Status)
}

func TestCancelStoredExecution(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()
	require.NoError(t, s.executions.SaveExecution(ctx, models.Execution{
		ID:        "elsewhere",
		FlowID:    "support",
		Status:    models.StatusRunning,
		StartTime: time.Now(),
	}))

	resp, _ := s.do(t, http.MethodPost, "/api/v1/executions/elsewhere/cancel", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	execution, err := s.executions.GetExecution(ctx, "elsewhere")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, execution.Status)
	assert.False(t, execution.EndTime.IsZero())

	resp, _ = s.do(t, http.MethodPost, "/api/v1/executions/elsewhere/cancel", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = s.do(t, http.MethodPost, "/api/v1/executions/missing/cancel", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExecuteRateLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.Server.ExecuteRateLimit = 1 })
	s.publish(t, supportFlowYAML)

	s.execute(t, "support", ExecuteRequest{Input: "hi"})
	resp, _ := s.do(t, http.MethodPost, "/api/v1/flows/support/execute", `{"input": "hi"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestWebSocketFeed(t *testing.T) {
	s := newTestServer(t, nil)
	s.publish(t, supportFlowYAML)

	ws := dialWebSocket(t, s.URL+"/api/v1/ws")
	subscribe(t, ws, WebSocketMessage{FlowID: "support"})

	result := s.execute(t, "support", ExecuteRequest{Input: "help"})

	var nodes []string
	for {
		update := readUpdate(t, ws)
		if update.Type == "complete" {
			assert.Equal(t, result.ExecutionID, update.ExecutionID)
			assert.Equal(t, models.StatusCompleted, update.Status)
			break
		}
		assert.Equal(t, "node", update.Type)
		nodes = append(nodes, update.NodeID)
	}
	assert.Equal(t, []string{"support-start", "support-help"}, nodes)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	s.publish(t, supportFlowYAML)
	s.execute(t, "support", ExecuteRequest{Input: "hi"})

	resp, body := s.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `chatflow_executions_total{status="completed"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.Server.AllowedOrigins = []string{"https://console.example"} })

	req, err := http.NewRequest(http.MethodOptions, s.URL+"/api/v1/flows", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://console.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://console.example", resp.Header.Get("Access-Control-Allow-Origin"))
}
