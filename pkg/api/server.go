// Package api exposes flows and executions over HTTP and websocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/tcmartin/chatflow/pkg/config"
	"github.com/tcmartin/chatflow/pkg/loader"
	"github.com/tcmartin/chatflow/pkg/logging"
	"github.com/tcmartin/chatflow/pkg/metrics"
	"github.com/tcmartin/chatflow/pkg/middleware"
	"github.com/tcmartin/chatflow/pkg/models"
	"github.com/tcmartin/chatflow/pkg/registry"
	"github.com/tcmartin/chatflow/pkg/runtime"
	"github.com/tcmartin/chatflow/pkg/storage"
)

// maxDefinitionSize bounds flow definition and execute request bodies
const maxDefinitionSize = 1 << 20

// ServerOptions holds the collaborators of the API server
type ServerOptions struct {
	Registry   registry.FlowRegistry
	Engine     runtime.FlowEngine
	Executions storage.ExecutionStore

	// WebSocket serves /api/v1/ws when set
	WebSocket *WebSocketManager

	// Metrics serves /metrics when set
	Metrics *metrics.EngineMetrics

	Logger logging.Logger
}

// Server represents the HTTP API server
type Server struct {
	config     *config.Config
	router     *mux.Router
	server     *http.Server
	registry   registry.FlowRegistry
	engine     runtime.FlowEngine
	executions storage.ExecutionStore
	ws         *WebSocketManager
	metrics    *metrics.EngineMetrics
	logger     logging.Logger

	// running holds the cancel funcs of executions served by this instance
	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// ExecuteRequest is the body of POST /api/v1/flows/{id}/execute
type ExecuteRequest struct {
	BotID     string         `json:"bot_id"`
	ChannelID string         `json:"channel_id"`
	MessageID string         `json:"message_id"`
	UserID    string         `json:"user_id"`
	Input     string         `json:"input"`
	Context   map[string]any `json:"context"`
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	s := &Server{
		config:     cfg,
		router:     mux.NewRouter(),
		registry:   opts.Registry,
		engine:     opts.Engine,
		executions: opts.Executions,
		ws:         opts.WebSocket,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		running:    make(map[string]context.CancelFunc),
	}

	s.setupRoutes()
	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
		// Execute requests run for up to the engine timeout
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.config.EngineTimeout() + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.LogSystemEvent("server_start", map[string]any{"addr": addr})

	var err error
	if s.config.Server.TLS.Enabled {
		err = s.server.ListenAndServeTLS(
			s.config.Server.TLS.CertFile,
			s.config.Server.TLS.KeyFile,
		)
	} else {
		err = s.server.ListenAndServe()
	}

	// If the server was shut down gracefully, this error is expected
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop stops the HTTP server gracefully and cancels executions still running
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for _, cancel := range s.running {
		cancel()
	}
	s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestLogger(s.logger))
	s.router.Use(middleware.CORS(s.config.Server.AllowedOrigins))

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/schema", s.handleSchema).Methods(http.MethodGet, http.MethodOptions)

	flows := api.PathPrefix("/flows").Subrouter()
	flows.HandleFunc("", s.handleListFlows).Methods(http.MethodGet, http.MethodOptions)
	flows.HandleFunc("", s.handleCreateFlow).Methods(http.MethodPost, http.MethodOptions)
	flows.HandleFunc("/{id}", s.handleGetFlow).Methods(http.MethodGet, http.MethodOptions)
	flows.HandleFunc("/{id}", s.handleDeleteFlow).Methods(http.MethodDelete, http.MethodOptions)
	flows.HandleFunc("/{id}/validate", s.handleValidateFlow).Methods(http.MethodGet, http.MethodOptions)

	var execute http.Handler = http.HandlerFunc(s.handleExecuteFlow)
	if limit := s.config.Server.ExecuteRateLimit; limit > 0 {
		execute = middleware.NewRateLimiter(limit, time.Minute).Limit(execute)
	}
	flows.Handle("/{id}/execute", execute).Methods(http.MethodPost, http.MethodOptions)

	executions := api.PathPrefix("/executions").Subrouter()
	executions.HandleFunc("/{id}", s.handleGetExecution).Methods(http.MethodGet, http.MethodOptions)
	executions.HandleFunc("/{id}/cancel", s.handleCancelExecution).Methods(http.MethodPost, http.MethodOptions)

	if s.ws != nil {
		api.HandleFunc("/ws", s.ws.HandleWebSocket).Methods(http.MethodGet)
	}
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeStoreError maps storage and registry errors to a status code
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrFlowNotFound):
		writeError(w, http.StatusNotFound, "Flow not found")
	case errors.Is(err, storage.ErrExecutionNotFound):
		writeError(w, http.StatusNotFound, "Execution not found")
	case errors.Is(err, storage.ErrNodeConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrExecutionTerminal):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, registry.ErrInvalidDefinition):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.WithContext(r.Context()).Error("Request failed", logging.F("path", r.URL.Path), logging.Err(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// handleHealth handles the health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleSchema serves the JSON schema of flow definition documents
func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/schema+json")
	io.WriteString(w, loader.FlowSchema)
}

// handleListFlows lists flows, optionally filtered by bot_id, name, page and page_size
func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filters := registry.FlowSearchFilters{
		BotID:        query.Get("bot_id"),
		NameContains: query.Get("name"),
	}
	filters.Page, _ = strconv.Atoi(query.Get("page"))
	filters.PageSize, _ = strconv.Atoi(query.Get("page_size"))

	flows, err := s.registry.Search(r.Context(), filters)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, flows)
}

// handleCreateFlow publishes a YAML or JSON flow definition
func (s *Server) handleCreateFlow(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDefinitionSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	flow, result, err := s.registry.Import(r.Context(), body)
	var invalid *registry.InvalidFlowError
	if errors.As(err, &invalid) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":      "Flow failed validation",
			"validation": invalid.Result,
		})
		return
	}
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         flow.ID,
		"validation": result,
	})
}

// handleGetFlow returns a flow with its nodes and edges
func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	flow, err := s.registry.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, flow)
}

// handleDeleteFlow deletes a flow
func (s *Server) handleDeleteFlow(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleValidateFlow re-validates a stored flow
func (s *Server) handleValidateFlow(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.ValidateFlow(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleExecuteFlow runs one conversational turn and returns its result. The turn is
// not tied to the client connection; it ends on completion, timeout or cancel.
func (s *Server) handleExecuteFlow(w http.ResponseWriter, r *http.Request) {
	flowID := mux.Vars(r)["id"]

	var req ExecuteRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxDefinitionSize)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	flow, err := s.registry.Get(r.Context(), flowID)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}

	execution := models.Execution{
		ID:        uuid.NewString(),
		BotID:     req.BotID,
		FlowID:    flow.ID,
		ChannelID: req.ChannelID,
		MessageID: req.MessageID,
		UserID:    req.UserID,
	}
	if execution.BotID == "" {
		execution.BotID = flow.BotID
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	s.track(execution.ID, cancel)
	defer s.untrack(execution.ID)

	result := s.engine.ExecuteFlow(ctx, execution, req.Input, req.Context)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) track(executionID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[executionID] = cancel
}

func (s *Server) untrack(executionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.running[executionID]; ok {
		cancel()
		delete(s.running, executionID)
	}
}

// handleGetExecution returns the execution record with its node trace
func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	executionID := mux.Vars(r)["id"]

	execution, err := s.executions.GetExecution(r.Context(), executionID)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	execution.NodeTrace, err = s.executions.GetNodeTrace(r.Context(), executionID)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, execution)
}

// handleCancelExecution cancels an execution. One running on this instance is interrupted
// and records its own cancelled status; any other is marked cancelled in the store.
func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	executionID := mux.Vars(r)["id"]

	s.mu.Lock()
	cancel, local := s.running[executionID]
	s.mu.Unlock()
	if local {
		cancel()
		writeJSON(w, http.StatusAccepted, map[string]string{
			"execution_id": executionID,
			"status":       "cancelling",
		})
		return
	}

	err := s.executions.UpdateStatus(r.Context(), executionID, models.ExecutionUpdate{
		Status:  models.StatusCancelled,
		Error:   runtime.ErrExecutionCancelled.Error(),
		EndTime: time.Now().UTC(),
	})
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"execution_id": executionID,
		"status":       string(models.StatusCancelled),
	})
}
