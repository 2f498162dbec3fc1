package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tcmartin/chatflow/pkg/logging"
	"github.com/tcmartin/chatflow/pkg/models"
	"github.com/tcmartin/chatflow/pkg/runtime"
	"github.com/tcmartin/chatflow/pkg/storage"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 64
)

// WebSocketManager pushes execution events to subscribed websocket clients.
// It implements runtime.Observer; events for slow clients are dropped rather than
// blocking the engine.
type WebSocketManager struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*wsClient]bool

	// executions is optional and used to send the current status on subscribe
	executions storage.ExecutionStore
	logger     logging.Logger
}

var _ runtime.Observer = (*WebSocketManager)(nil)

type wsClient struct {
	conn       *websocket.Conn
	send       chan ExecutionUpdate
	executions map[string]bool
	flows      map[string]bool
}

// ExecutionUpdate represents a real-time update for a flow execution
type ExecutionUpdate struct {
	Type        string                   `json:"type"` // "node", "complete", "status", "subscribed", "unsubscribed", "pong", "error"
	ExecutionID string                   `json:"execution_id,omitempty"`
	FlowID      string                   `json:"flow_id,omitempty"`
	Timestamp   time.Time                `json:"timestamp"`
	NodeID      string                   `json:"node_id,omitempty"`
	Category    models.NodeCategory      `json:"category,omitempty"`
	NodeType    string                   `json:"node_type,omitempty"`
	Message     string                   `json:"message,omitempty"`
	Data        map[string]any           `json:"data,omitempty"`
	Status      models.ExecutionStatus   `json:"status,omitempty"`
	Result      *runtime.ExecutionResult `json:"result,omitempty"`
}

// WebSocketMessage represents incoming WebSocket messages
type WebSocketMessage struct {
	Type        string `json:"type"` // "subscribe", "unsubscribe", "ping"
	ExecutionID string `json:"execution_id,omitempty"`
	FlowID      string `json:"flow_id,omitempty"`
}

// NewWebSocketManager creates a new WebSocket manager. executions may be nil.
func NewWebSocketManager(executions storage.ExecutionStore, logger logging.Logger) *WebSocketManager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &WebSocketManager{
		upgrader: websocket.Upgrader{
			// Origins are checked by the CORS middleware
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients:    make(map[*wsClient]bool),
		executions: executions,
		logger:     logger,
	}
}

// HandleWebSocket upgrades the connection and serves subscriptions until the client leaves
func (wsm *WebSocketManager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		wsm.logger.Warn("WebSocket upgrade failed", logging.Err(err))
		return
	}

	client := &wsClient{
		conn:       conn,
		send:       make(chan ExecutionUpdate, sendBuffer),
		executions: make(map[string]bool),
		flows:      make(map[string]bool),
	}
	wsm.mu.Lock()
	wsm.clients[client] = true
	wsm.mu.Unlock()
	wsm.logger.Debug("WebSocket connection established", logging.F("remote_addr", r.RemoteAddr))

	go wsm.writePump(client)
	defer wsm.removeClient(client)

	conn.SetReadDeadline(time.Now().Add(2 * pingInterval))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * pingInterval))
	})

	for {
		var msg WebSocketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsm.logger.Debug("WebSocket read failed", logging.Err(err))
			}
			return
		}
		wsm.handleMessage(r.Context(), client, msg)
	}
}

func (wsm *WebSocketManager) handleMessage(ctx context.Context, client *wsClient, msg WebSocketMessage) {
	switch msg.Type {
	case "subscribe":
		if msg.ExecutionID == "" && msg.FlowID == "" {
			wsm.reply(client, ExecutionUpdate{Type: "error", Message: "subscribe requires execution_id or flow_id"})
			return
		}
		wsm.mu.Lock()
		if msg.ExecutionID != "" {
			client.executions[msg.ExecutionID] = true
		}
		if msg.FlowID != "" {
			client.flows[msg.FlowID] = true
		}
		wsm.mu.Unlock()
		wsm.reply(client, ExecutionUpdate{Type: "subscribed", ExecutionID: msg.ExecutionID, FlowID: msg.FlowID})
		wsm.sendCurrentStatus(ctx, client, msg.ExecutionID)

	case "unsubscribe":
		wsm.mu.Lock()
		delete(client.executions, msg.ExecutionID)
		delete(client.flows, msg.FlowID)
		wsm.mu.Unlock()
		wsm.reply(client, ExecutionUpdate{Type: "unsubscribed", ExecutionID: msg.ExecutionID, FlowID: msg.FlowID})

	case "ping":
		wsm.reply(client, ExecutionUpdate{Type: "pong"})

	default:
		wsm.reply(client, ExecutionUpdate{Type: "error", Message: "unknown message type: " + msg.Type})
	}
}

// sendCurrentStatus sends the stored status of an execution. Executions not yet
// persisted are skipped; their events arrive as they happen.
func (wsm *WebSocketManager) sendCurrentStatus(ctx context.Context, client *wsClient, executionID string) {
	if wsm.executions == nil || executionID == "" {
		return
	}
	execution, err := wsm.executions.GetExecution(ctx, executionID)
	if err != nil {
		return
	}
	wsm.reply(client, ExecutionUpdate{
		Type:        "status",
		ExecutionID: execution.ID,
		FlowID:      execution.FlowID,
		Status:      execution.Status,
		Message:     execution.Error,
	})
}

// OnNodeVisited broadcasts a node event to subscribers of the execution or its flow
func (wsm *WebSocketManager) OnNodeVisited(execution models.Execution, node models.FlowNode, entry models.TraceEntry) {
	wsm.broadcast(execution, ExecutionUpdate{
		Type:        "node",
		ExecutionID: execution.ID,
		FlowID:      execution.FlowID,
		Timestamp:   entry.Timestamp,
		NodeID:      node.ID,
		Category:    node.Category,
		NodeType:    node.Type,
		Data:        entry.Data,
		Status:      models.StatusRunning,
	}, false)
}

// OnExecutionFinished broadcasts the result and drops execution subscriptions
func (wsm *WebSocketManager) OnExecutionFinished(execution models.Execution, result runtime.ExecutionResult) {
	wsm.broadcast(execution, ExecutionUpdate{
		Type:        "complete",
		ExecutionID: execution.ID,
		FlowID:      execution.FlowID,
		Timestamp:   execution.EndTime,
		Status:      result.Status,
		Message:     result.Error,
		Result:      &result,
	}, true)
}

func (wsm *WebSocketManager) broadcast(execution models.Execution, update ExecutionUpdate, finished bool) {
	if finished {
		wsm.mu.Lock()
		defer wsm.mu.Unlock()
	} else {
		wsm.mu.RLock()
		defer wsm.mu.RUnlock()
	}

	for client := range wsm.clients {
		if !client.executions[execution.ID] && !client.flows[execution.FlowID] {
			continue
		}
		wsm.enqueue(client, update)
		if finished {
			delete(client.executions, execution.ID)
		}
	}
}

// reply sends a direct answer to one client
func (wsm *WebSocketManager) reply(client *wsClient, update ExecutionUpdate) {
	if update.Timestamp.IsZero() {
		update.Timestamp = time.Now()
	}
	wsm.mu.RLock()
	defer wsm.mu.RUnlock()
	if wsm.clients[client] {
		wsm.enqueue(client, update)
	}
}

// enqueue must be called with mu held; it never blocks
func (wsm *WebSocketManager) enqueue(client *wsClient, update ExecutionUpdate) {
	select {
	case client.send <- update:
	default:
		wsm.logger.Warn("WebSocket client too slow, dropping update",
			logging.F("execution_id", update.ExecutionID),
			logging.F("type", update.Type),
		)
	}
}

// writePump owns all writes to the connection
func (wsm *WebSocketManager) writePump(client *wsClient) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case update, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				client.conn.Close()
				return
			}
			if err := client.conn.WriteJSON(update); err != nil {
				wsm.logger.Debug("Failed to send WebSocket message", logging.Err(err))
				client.conn.Close()
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				client.conn.Close()
				return
			}
		}
	}
}

// removeClient unregisters the client and stops its writer
func (wsm *WebSocketManager) removeClient(client *wsClient) {
	wsm.mu.Lock()
	defer wsm.mu.Unlock()
	if wsm.clients[client] {
		delete(wsm.clients, client)
		close(client.send)
	}
}

// GetConnectedClients returns the number of connected clients
func (wsm *WebSocketManager) GetConnectedClients() int {
	wsm.mu.RLock()
	defer wsm.mu.RUnlock()
	return len(wsm.clients)
}

// GetExecutionSubscribers returns the number of subscribers for an execution
func (wsm *WebSocketManager) GetExecutionSubscribers(executionID string) int {
	wsm.mu.RLock()
	defer wsm.mu.RUnlock()
	count := 0
	for client := range wsm.clients {
		if client.executions[executionID] {
			count++
		}
	}
	return count
}
