package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/tcmartin/chatflow/pkg/models"
	"github.com/tcmartin/chatflow/pkg/validation"
)

// PostgreSQLProvider implements the StorageProvider interface using PostgreSQL
type PostgreSQLProvider struct {
	db             *sql.DB
	graphStore     *PostgreSQLGraphStore
	executionStore *PostgreSQLExecutionStore
}

// PostgreSQLProviderConfig contains configuration for the PostgreSQL provider
type PostgreSQLProviderConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// NewPostgreSQLProvider creates a new PostgreSQL storage provider. The connection is
// checked in Initialize.
func NewPostgreSQLProvider(config PostgreSQLProviderConfig) (*PostgreSQLProvider, error) {
	// Set default port if not specified
	if config.Port == 0 {
		config.Port = 5432
	}

	// Set default SSL mode if not specified
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Database, config.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	return NewPostgreSQLProviderWithDB(db), nil
}

// NewPostgreSQLProviderWithDB creates a provider on an existing connection pool
func NewPostgreSQLProviderWithDB(db *sql.DB) *PostgreSQLProvider {
	return &PostgreSQLProvider{
		db:             db,
		graphStore:     NewPostgreSQLGraphStore(db),
		executionStore: NewPostgreSQLExecutionStore(db),
	}
}

// Initialize checks the connection and creates the tables if they don't exist
func (p *PostgreSQLProvider) Initialize(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	if err := p.graphStore.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize graph store: %w", err)
	}

	if err := p.executionStore.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize execution store: %w", err)
	}

	return nil
}

// Close cleans up resources
func (p *PostgreSQLProvider) Close() error {
	return p.db.Close()
}

// GetGraphStore returns the flow graph store
func (p *PostgreSQLProvider) GetGraphStore() GraphStore {
	return p.graphStore
}

// GetExecutionStore returns the execution store
func (p *PostgreSQLProvider) GetExecutionStore() ExecutionStore {
	return p.executionStore
}

// PostgreSQLGraphStore implements the GraphStore interface using PostgreSQL
type PostgreSQLGraphStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgreSQLGraphStore creates a new PostgreSQL graph store
func NewPostgreSQLGraphStore(db *sql.DB) *PostgreSQLGraphStore {
	return &PostgreSQLGraphStore{db: db, now: time.Now}
}

// Initialize creates the flow tables if they don't exist
func (s *PostgreSQLGraphStore) Initialize(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS flows (
			flow_id TEXT PRIMARY KEY,
			bot_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS flow_nodes (
			node_id TEXT PRIMARY KEY,
			flow_id TEXT NOT NULL REFERENCES flows (flow_id) ON DELETE CASCADE,
			category TEXT NOT NULL,
			node_type TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			config JSONB,
			is_start BOOLEAN NOT NULL DEFAULT FALSE,
			is_end BOOLEAN NOT NULL DEFAULT FALSE,
			is_enabled BOOLEAN NOT NULL DEFAULT TRUE
		);
		CREATE INDEX IF NOT EXISTS flow_nodes_flow_id_idx ON flow_nodes (flow_id);
		CREATE TABLE IF NOT EXISTS flow_edges (
			edge_id TEXT PRIMARY KEY,
			flow_id TEXT NOT NULL REFERENCES flows (flow_id) ON DELETE CASCADE,
			from_node_id TEXT NOT NULL,
			to_node_id TEXT NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			edge_condition TEXT,
			kind TEXT NOT NULL DEFAULT '',
			sort_order INTEGER NOT NULL DEFAULT 0,
			is_enabled BOOLEAN NOT NULL DEFAULT TRUE
		);
		CREATE INDEX IF NOT EXISTS flow_edges_flow_id_idx ON flow_edges (flow_id);
		CREATE INDEX IF NOT EXISTS flow_edges_from_node_id_idx ON flow_edges (from_node_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to create flow tables: %w", err)
	}
	return nil
}

// SaveFlow persists a flow definition in one transaction, replacing its nodes and edges
func (s *PostgreSQLGraphStore) SaveFlow(ctx context.Context, flow models.Flow) error {
	if err := checkNodeOwnership(ctx, s, flow); err != nil {
		return err
	}

	var createdAt int64
	err := s.db.QueryRowContext(ctx, "SELECT created_at FROM flows WHERE flow_id = $1", flow.ID).Scan(&createdAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to check if flow exists: %w", err)
	}

	prepared, err := prepareFlow(flow, createdAt, s.now())
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO flows (flow_id, bot_id, name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (flow_id) DO UPDATE SET
			bot_id = EXCLUDED.bot_id,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			updated_at = EXCLUDED.updated_at`,
		prepared.ID, prepared.BotID, prepared.Name, prepared.Description, prepared.CreatedAt, prepared.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save flow: %w", err)
	}

	// Replace the graph
	if _, err := tx.ExecContext(ctx, "DELETE FROM flow_edges WHERE flow_id = $1", prepared.ID); err != nil {
		return fmt.Errorf("failed to delete old edges: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM flow_nodes WHERE flow_id = $1", prepared.ID); err != nil {
		return fmt.Errorf("failed to delete old nodes: %w", err)
	}

	for _, node := range prepared.Nodes {
		config, err := marshalNullableJSON(node.Config)
		if err != nil {
			return fmt.Errorf("failed to marshal config of node %s: %w", node.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO flow_nodes (node_id, flow_id, category, node_type, title, config, is_start, is_end, is_enabled)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			node.ID, node.FlowID, string(node.Category), node.Type, node.Title, config, node.IsStart, node.IsEnd, node.IsEnabled,
		)
		if err != nil {
			return fmt.Errorf("failed to save node %s: %w", node.ID, err)
		}
	}

	for _, edge := range prepared.Edges {
		var condition sql.NullString
		if edge.Condition != nil {
			condition = sql.NullString{String: *edge.Condition, Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO flow_edges (edge_id, flow_id, from_node_id, to_node_id, label, edge_condition, kind, sort_order, is_enabled)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			edge.ID, edge.FlowID, edge.FromNodeID, edge.ToNodeID, edge.Label, condition, string(edge.Kind), edge.Order, edge.IsEnabled,
		)
		if err != nil {
			return fmt.Errorf("failed to save edge %s: %w", edge.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit flow: %w", err)
	}
	return nil
}

// GetFlow retrieves a flow definition
func (s *PostgreSQLGraphStore) GetFlow(ctx context.Context, flowID string) (models.Flow, error) {
	flow := models.Flow{ID: flowID}
	err := s.db.QueryRowContext(ctx,
		"SELECT bot_id, name, description, created_at, updated_at FROM flows WHERE flow_id = $1", flowID,
	).Scan(&flow.BotID, &flow.Name, &flow.Description, &flow.CreatedAt, &flow.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Flow{}, ErrFlowNotFound
	}
	if err != nil {
		return models.Flow{}, fmt.Errorf("failed to get flow: %w", err)
	}

	flow.Nodes, err = s.queryNodes(ctx, "WHERE flow_id = $1 ORDER BY node_id", flowID)
	if err != nil {
		return models.Flow{}, err
	}
	flow.Edges, err = s.queryEdges(ctx, "WHERE flow_id = $1 ORDER BY from_node_id, sort_order, edge_id", flowID)
	if err != nil {
		return models.Flow{}, err
	}
	return flow, nil
}

// ListFlows returns metadata for all flows
func (s *PostgreSQLGraphStore) ListFlows(ctx context.Context) ([]FlowMetadata, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.flow_id, f.bot_id, f.name, f.description, f.created_at, f.updated_at,
			(SELECT COUNT(*) FROM flow_nodes n WHERE n.flow_id = f.flow_id),
			(SELECT COUNT(*) FROM flow_edges e WHERE e.flow_id = f.flow_id)
		FROM flows f
		ORDER BY f.flow_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}
	defer rows.Close()

	result := []FlowMetadata{}
	for rows.Next() {
		var meta FlowMetadata
		if err := rows.Scan(&meta.ID, &meta.BotID, &meta.Name, &meta.Description, &meta.CreatedAt, &meta.UpdatedAt, &meta.NodeCount, &meta.EdgeCount); err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}
		result = append(result, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating flows: %w", err)
	}
	return result, nil
}

// DeleteFlow removes a flow; nodes and edges cascade
func (s *PostgreSQLGraphStore) DeleteFlow(ctx context.Context, flowID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM flows WHERE flow_id = $1", flowID)
	if err != nil {
		return fmt.Errorf("failed to delete flow: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrFlowNotFound
	}
	return nil
}

// FindStartNodes returns the enabled start nodes of a flow
func (s *PostgreSQLGraphStore) FindStartNodes(ctx context.Context, flowID string) ([]models.FlowNode, error) {
	return s.queryNodes(ctx, "WHERE flow_id = $1 AND is_start AND is_enabled ORDER BY node_id", flowID)
}

// FindByID returns the node or nil when it does not exist
func (s *PostgreSQLGraphStore) FindByID(ctx context.Context, nodeID string) (*models.FlowNode, error) {
	nodes, err := s.queryNodes(ctx, "WHERE node_id = $1", nodeID)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return &nodes[0], nil
}

// FindFromNode returns the edges leaving a node
func (s *PostgreSQLGraphStore) FindFromNode(ctx context.Context, fromNodeID string) ([]models.FlowEdge, error) {
	return s.queryEdges(ctx, "WHERE from_node_id = $1 ORDER BY sort_order, edge_id", fromNodeID)
}

// DetectCycles reports the cycles of a stored flow
func (s *PostgreSQLGraphStore) DetectCycles(ctx context.Context, flowID string) (validation.CycleReport, error) {
	return cycleReport(ctx, s, flowID)
}

// ValidateFlowStructure validates a stored flow
func (s *PostgreSQLGraphStore) ValidateFlowStructure(ctx context.Context, flowID string) (validation.Result, error) {
	return structureReport(ctx, s, flowID)
}

func (s *PostgreSQLGraphStore) queryNodes(ctx context.Context, where string, args ...any) ([]models.FlowNode, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT node_id, flow_id, category, node_type, title, config, is_start, is_end, is_enabled FROM flow_nodes "+where,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	nodes := []models.FlowNode{}
	for rows.Next() {
		var (
			node     models.FlowNode
			category string
			config   []byte
		)
		if err := rows.Scan(&node.ID, &node.FlowID, &category, &node.Type, &node.Title, &config, &node.IsStart, &node.IsEnd, &node.IsEnabled); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		node.Category = models.NodeCategory(category)
		if len(config) > 0 {
			if err := json.Unmarshal(config, &node.Config); err != nil {
				return nil, fmt.Errorf("failed to unmarshal config of node %s: %w", node.ID, err)
			}
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nodes: %w", err)
	}
	return nodes, nil
}

func (s *PostgreSQLGraphStore) queryEdges(ctx context.Context, where string, args ...any) ([]models.FlowEdge, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT edge_id, flow_id, from_node_id, to_node_id, label, edge_condition, kind, sort_order, is_enabled FROM flow_edges "+where,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	edges := []models.FlowEdge{}
	for rows.Next() {
		var (
			edge      models.FlowEdge
			condition sql.NullString
			kind      string
		)
		if err := rows.Scan(&edge.ID, &edge.FlowID, &edge.FromNodeID, &edge.ToNodeID, &edge.Label, &condition, &kind, &edge.Order, &edge.IsEnabled); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		edge.Kind = models.EdgeKind(kind)
		if condition.Valid {
			edge.Condition = models.StringPtr(condition.String)
		}
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating edges: %w", err)
	}
	return edges, nil
}

// PostgreSQLExecutionStore implements the ExecutionStore interface using PostgreSQL
type PostgreSQLExecutionStore struct {
	db *sql.DB
}

// NewPostgreSQLExecutionStore creates a new PostgreSQL execution store
func NewPostgreSQLExecutionStore(db *sql.DB) *PostgreSQLExecutionStore {
	return &PostgreSQLExecutionStore{db: db}
}

// Initialize creates the execution tables if they don't exist
func (s *PostgreSQLExecutionStore) Initialize(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS executions (
			execution_id TEXT PRIMARY KEY,
			bot_id TEXT NOT NULL DEFAULT '',
			flow_id TEXT NOT NULL,
			channel_id TEXT NOT NULL DEFAULT '',
			message_id TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			context JSONB,
			error TEXT NOT NULL DEFAULT '',
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS executions_flow_id_idx ON executions (flow_id, start_time);
		CREATE TABLE IF NOT EXISTS execution_trace (
			execution_id TEXT NOT NULL REFERENCES executions (execution_id) ON DELETE CASCADE,
			seq BIGSERIAL,
			node_id TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			data JSONB,
			PRIMARY KEY (execution_id, seq)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create execution tables: %w", err)
	}
	return nil
}

// SaveExecution persists execution data
func (s *PostgreSQLExecutionStore) SaveExecution(ctx context.Context, execution models.Execution) error {
	contextJSON, err := marshalNullableJSON(execution.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (execution_id, bot_id, flow_id, channel_id, message_id, user_id, status, context, error, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (execution_id) DO UPDATE SET
			bot_id = EXCLUDED.bot_id,
			flow_id = EXCLUDED.flow_id,
			channel_id = EXCLUDED.channel_id,
			message_id = EXCLUDED.message_id,
			user_id = EXCLUDED.user_id,
			status = EXCLUDED.status,
			context = EXCLUDED.context,
			error = EXCLUDED.error,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time`,
		execution.ID, execution.BotID, execution.FlowID, execution.ChannelID, execution.MessageID, execution.UserID,
		string(execution.Status), contextJSON, execution.Error, execution.StartTime, nullableTime(execution.EndTime),
	)
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}
	return nil
}

const executionColumns = "execution_id, bot_id, flow_id, channel_id, message_id, user_id, status, context, error, start_time, end_time"

// GetExecution retrieves execution data
func (s *PostgreSQLExecutionStore) GetExecution(ctx context.Context, executionID string) (models.Execution, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+executionColumns+" FROM executions WHERE execution_id = $1", executionID)
	execution, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Execution{}, ErrExecutionNotFound
	}
	if err != nil {
		return models.Execution{}, fmt.Errorf("failed to get execution: %w", err)
	}
	return execution, nil
}

// ListExecutions returns the executions of a flow
func (s *PostgreSQLExecutionStore) ListExecutions(ctx context.Context, flowID string) ([]models.Execution, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+executionColumns+" FROM executions WHERE flow_id = $1 ORDER BY start_time, execution_id", flowID)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	result := []models.Execution{}
	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		result = append(result, execution)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}
	return result, nil
}

// AddToNodeTrace appends one trace entry
func (s *PostgreSQLExecutionStore) AddToNodeTrace(ctx context.Context, executionID string, entry models.TraceEntry) error {
	data, err := marshalNullableJSON(entry.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal trace data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO execution_trace (execution_id, node_id, ts, data) VALUES ($1, $2, $3, $4)",
		executionID, entry.NodeID, entry.Timestamp, data,
	)
	if err != nil {
		return fmt.Errorf("failed to add trace entry: %w", err)
	}
	return nil
}

// GetNodeTrace retrieves the trace of an execution
func (s *PostgreSQLExecutionStore) GetNodeTrace(ctx context.Context, executionID string) ([]models.TraceEntry, error) {
	if _, err := s.GetExecution(ctx, executionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT node_id, ts, data FROM execution_trace WHERE execution_id = $1 ORDER BY seq", executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trace: %w", err)
	}
	defer rows.Close()

	trace := []models.TraceEntry{}
	for rows.Next() {
		var (
			entry models.TraceEntry
			data  []byte
		)
		if err := rows.Scan(&entry.NodeID, &entry.Timestamp, &data); err != nil {
			return nil, fmt.Errorf("failed to scan trace entry: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &entry.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal trace data: %w", err)
			}
		}
		trace = append(trace, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trace: %w", err)
	}
	return trace, nil
}

// UpdateStatus moves an execution to a new status unless it already finished. The
// terminal check and the write happen in one statement.
func (s *PostgreSQLExecutionStore) UpdateStatus(ctx context.Context, executionID string, update models.ExecutionUpdate) error {
	contextJSON, err := marshalNullableJSON(update.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE executions SET
			status = COALESCE(NULLIF($2, ''), status),
			error = COALESCE(NULLIF($3, ''), error),
			context = COALESCE($4::jsonb, context),
			end_time = COALESCE($5::timestamptz, end_time)
		WHERE execution_id = $1 AND status NOT IN ('completed', 'failed', 'timeout', 'cancelled')`,
		executionID, string(update.Status), update.Error, contextJSON, nullableTime(update.EndTime),
	)
	if err != nil {
		return fmt.Errorf("failed to update execution status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	if _, err := s.GetExecution(ctx, executionID); err != nil {
		return err
	}
	return ErrExecutionTerminal
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (models.Execution, error) {
	var (
		execution   models.Execution
		status      string
		contextJSON []byte
		endTime     sql.NullTime
	)
	err := row.Scan(&execution.ID, &execution.BotID, &execution.FlowID, &execution.ChannelID, &execution.MessageID,
		&execution.UserID, &status, &contextJSON, &execution.Error, &execution.StartTime, &endTime)
	if err != nil {
		return models.Execution{}, err
	}
	execution.Status = models.ExecutionStatus(status)
	if endTime.Valid {
		execution.EndTime = endTime.Time
	}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &execution.Context); err != nil {
			return models.Execution{}, fmt.Errorf("failed to unmarshal context: %w", err)
		}
	}
	return execution, nil
}

// marshalNullableJSON encodes v for a JSONB column; nil maps become NULL
func marshalNullableJSON(v map[string]any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
