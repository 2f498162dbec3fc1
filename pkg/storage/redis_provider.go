package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/tcmartin/chatflow/pkg/models"
	"github.com/tcmartin/chatflow/pkg/validation"
)

// maxWatchRetries bounds the optimistic transaction retries of UpdateStatus
const maxWatchRetries = 5

// RedisProviderConfig contains configuration for the Redis provider
type RedisProviderConfig struct {
	Addr      string `json:"addr"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Namespace string `json:"namespace"` // key prefix, defaults to "chatflow"
}

// RedisProvider implements the StorageProvider interface using Redis
type RedisProvider struct {
	client         *redis.Client
	graphStore     *RedisGraphStore
	executionStore *RedisExecutionStore
}

// NewRedisProvider creates a new Redis storage provider
func NewRedisProvider(config RedisProviderConfig) *RedisProvider {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	return NewRedisProviderWithClient(client, config.Namespace)
}

// NewRedisProviderWithClient creates a provider on an existing client
func NewRedisProviderWithClient(client *redis.Client, namespace string) *RedisProvider {
	if namespace == "" {
		namespace = "chatflow"
	}
	keys := redisKeys{ns: namespace}
	return &RedisProvider{
		client:         client,
		graphStore:     &RedisGraphStore{client: client, keys: keys, now: time.Now},
		executionStore: &RedisExecutionStore{client: client, keys: keys},
	}
}

// Initialize checks connectivity
func (p *RedisProvider) Initialize(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return nil
}

// Close cleans up resources
func (p *RedisProvider) Close() error {
	return p.client.Close()
}

// GetGraphStore returns the flow graph store
func (p *RedisProvider) GetGraphStore() GraphStore {
	return p.graphStore
}

// GetExecutionStore returns the execution store
func (p *RedisProvider) GetExecutionStore() ExecutionStore {
	return p.executionStore
}

// redisKeys builds the key layout under one namespace
type redisKeys struct {
	ns string
}

func (k redisKeys) flows() string              { return k.ns + ":flows" }
func (k redisKeys) flow(id string) string      { return k.ns + ":flow:" + id }
func (k redisKeys) node(id string) string      { return k.ns + ":node:" + id }
func (k redisKeys) edge(id string) string      { return k.ns + ":edge:" + id }
func (k redisKeys) from(nodeID string) string  { return k.ns + ":from:" + nodeID }
func (k redisKeys) execution(id string) string { return k.ns + ":exec:" + id }
func (k redisKeys) flowExecutions(flowID string) string {
	return k.ns + ":flow:" + flowID + ":execs"
}
func (k redisKeys) trace(executionID string) string { return k.ns + ":trace:" + executionID }

// RedisGraphStore implements the GraphStore interface using Redis. The full flow is
// stored as one JSON document; nodes, edges and the source index are kept beside it
// for the engine's lookups.
type RedisGraphStore struct {
	client *redis.Client
	keys   redisKeys
	now    func() time.Time
}

// SaveFlow persists a flow definition, replacing any previous version
func (s *RedisGraphStore) SaveFlow(ctx context.Context, flow models.Flow) error {
	if err := checkNodeOwnership(ctx, s, flow); err != nil {
		return err
	}

	old, err := s.GetFlow(ctx, flow.ID)
	exists := err == nil
	if err != nil && !errors.Is(err, ErrFlowNotFound) {
		return err
	}

	var createdAt int64
	if exists {
		createdAt = old.CreatedAt
	}
	prepared, err := prepareFlow(flow, createdAt, s.now())
	if err != nil {
		return err
	}

	doc, err := json.Marshal(prepared)
	if err != nil {
		return fmt.Errorf("failed to marshal flow: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if exists {
			s.removeGraph(ctx, pipe, old)
		}
		pipe.Set(ctx, s.keys.flow(prepared.ID), doc, 0)
		pipe.SAdd(ctx, s.keys.flows(), prepared.ID)
		for _, node := range prepared.Nodes {
			data, err := json.Marshal(node)
			if err != nil {
				return fmt.Errorf("failed to marshal node %s: %w", node.ID, err)
			}
			pipe.Set(ctx, s.keys.node(node.ID), data, 0)
		}
		for _, edge := range prepared.Edges {
			data, err := json.Marshal(edge)
			if err != nil {
				return fmt.Errorf("failed to marshal edge %s: %w", edge.ID, err)
			}
			pipe.Set(ctx, s.keys.edge(edge.ID), data, 0)
			pipe.SAdd(ctx, s.keys.from(edge.FromNodeID), edge.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save flow: %w", err)
	}
	return nil
}

// removeGraph queues the deletion of every key belonging to flow
func (s *RedisGraphStore) removeGraph(ctx context.Context, pipe redis.Pipeliner, flow models.Flow) {
	for _, node := range flow.Nodes {
		pipe.Del(ctx, s.keys.node(node.ID))
	}
	for _, edge := range flow.Edges {
		pipe.Del(ctx, s.keys.edge(edge.ID))
		pipe.SRem(ctx, s.keys.from(edge.FromNodeID), edge.ID)
	}
}

// GetFlow retrieves a flow definition
func (s *RedisGraphStore) GetFlow(ctx context.Context, flowID string) (models.Flow, error) {
	data, err := s.client.Get(ctx, s.keys.flow(flowID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Flow{}, ErrFlowNotFound
	}
	if err != nil {
		return models.Flow{}, fmt.Errorf("failed to get flow: %w", err)
	}

	var flow models.Flow
	if err := json.Unmarshal(data, &flow); err != nil {
		return models.Flow{}, fmt.Errorf("failed to unmarshal flow: %w", err)
	}
	return flow, nil
}

// ListFlows returns metadata for all flows
func (s *RedisGraphStore) ListFlows(ctx context.Context) ([]FlowMetadata, error) {
	ids, err := s.client.SMembers(ctx, s.keys.flows()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}
	sort.Strings(ids)

	result := make([]FlowMetadata, 0, len(ids))
	for _, id := range ids {
		flow, err := s.GetFlow(ctx, id)
		if errors.Is(err, ErrFlowNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, metadataOf(flow))
	}
	return result, nil
}

// DeleteFlow removes a flow with its nodes and edges
func (s *RedisGraphStore) DeleteFlow(ctx context.Context, flowID string) error {
	flow, err := s.GetFlow(ctx, flowID)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.removeGraph(ctx, pipe, flow)
		pipe.Del(ctx, s.keys.flow(flowID))
		pipe.SRem(ctx, s.keys.flows(), flowID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete flow: %w", err)
	}
	return nil
}

// FindStartNodes returns the enabled start nodes of a flow
func (s *RedisGraphStore) FindStartNodes(ctx context.Context, flowID string) ([]models.FlowNode, error) {
	flow, err := s.GetFlow(ctx, flowID)
	if errors.Is(err, ErrFlowNotFound) {
		return []models.FlowNode{}, nil
	}
	if err != nil {
		return nil, err
	}
	return startNodes(flow.Nodes), nil
}

// FindByID returns the node or nil when it does not exist
func (s *RedisGraphStore) FindByID(ctx context.Context, nodeID string) (*models.FlowNode, error) {
	data, err := s.client.Get(ctx, s.keys.node(nodeID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}

	var node models.FlowNode
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("failed to unmarshal node: %w", err)
	}
	return &node, nil
}

// FindFromNode returns the edges leaving a node
func (s *RedisGraphStore) FindFromNode(ctx context.Context, fromNodeID string) ([]models.FlowEdge, error) {
	ids, err := s.client.SMembers(ctx, s.keys.from(fromNodeID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get edges: %w", err)
	}
	edges := []models.FlowEdge{}
	if len(ids) == 0 {
		return edges, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.keys.edge(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get edges: %w", err)
	}

	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var edge models.FlowEdge
		if err := json.Unmarshal([]byte(raw), &edge); err != nil {
			return nil, fmt.Errorf("failed to unmarshal edge: %w", err)
		}
		edges = append(edges, edge)
	}
	sortEdges(edges)
	return edges, nil
}

// DetectCycles reports the cycles of a stored flow
func (s *RedisGraphStore) DetectCycles(ctx context.Context, flowID string) (validation.CycleReport, error) {
	return cycleReport(ctx, s, flowID)
}

// ValidateFlowStructure validates a stored flow
func (s *RedisGraphStore) ValidateFlowStructure(ctx context.Context, flowID string) (validation.Result, error) {
	return structureReport(ctx, s, flowID)
}

// RedisExecutionStore implements the ExecutionStore interface using Redis
type RedisExecutionStore struct {
	client *redis.Client
	keys   redisKeys
}

// SaveExecution persists execution data
func (s *RedisExecutionStore) SaveExecution(ctx context.Context, execution models.Execution) error {
	execution.NodeTrace = nil
	data, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.keys.execution(execution.ID), data, 0)
		pipe.ZAdd(ctx, s.keys.flowExecutions(execution.FlowID), &redis.Z{
			Score:  float64(execution.StartTime.UnixNano()),
			Member: execution.ID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}
	return nil
}

// GetExecution retrieves execution data
func (s *RedisExecutionStore) GetExecution(ctx context.Context, executionID string) (models.Execution, error) {
	return getRedisExecution(ctx, s.client, s.keys.execution(executionID))
}

// redisGetter is satisfied by *redis.Client and *redis.Tx
type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getRedisExecution(ctx context.Context, client redisGetter, key string) (models.Execution, error) {
	data, err := client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Execution{}, ErrExecutionNotFound
	}
	if err != nil {
		return models.Execution{}, fmt.Errorf("failed to get execution: %w", err)
	}

	var execution models.Execution
	if err := json.Unmarshal(data, &execution); err != nil {
		return models.Execution{}, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	return execution, nil
}

// ListExecutions returns the executions of a flow
func (s *RedisExecutionStore) ListExecutions(ctx context.Context, flowID string) ([]models.Execution, error) {
	ids, err := s.client.ZRange(ctx, s.keys.flowExecutions(flowID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	result := make([]models.Execution, 0, len(ids))
	for _, id := range ids {
		execution, err := s.GetExecution(ctx, id)
		if errors.Is(err, ErrExecutionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, execution)
	}
	sortExecutions(result)
	return result, nil
}

// AddToNodeTrace appends one trace entry
func (s *RedisExecutionStore) AddToNodeTrace(ctx context.Context, executionID string, entry models.TraceEntry) error {
	exists, err := s.client.Exists(ctx, s.keys.execution(executionID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check execution: %w", err)
	}
	if exists == 0 {
		return ErrExecutionNotFound
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal trace entry: %w", err)
	}
	if err := s.client.RPush(ctx, s.keys.trace(executionID), data).Err(); err != nil {
		return fmt.Errorf("failed to add trace entry: %w", err)
	}
	return nil
}

// GetNodeTrace retrieves the trace of an execution
func (s *RedisExecutionStore) GetNodeTrace(ctx context.Context, executionID string) ([]models.TraceEntry, error) {
	if _, err := s.GetExecution(ctx, executionID); err != nil {
		return nil, err
	}

	values, err := s.client.LRange(ctx, s.keys.trace(executionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get trace: %w", err)
	}

	trace := make([]models.TraceEntry, 0, len(values))
	for _, value := range values {
		var entry models.TraceEntry
		if err := json.Unmarshal([]byte(value), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trace entry: %w", err)
		}
		trace = append(trace, entry)
	}
	return trace, nil
}

// UpdateStatus moves an execution to a new status unless it already finished. The
// read and write run in a WATCH transaction.
func (s *RedisExecutionStore) UpdateStatus(ctx context.Context, executionID string, update models.ExecutionUpdate) error {
	key := s.keys.execution(executionID)

	txf := func(tx *redis.Tx) error {
		current, err := getRedisExecution(ctx, tx, key)
		if err != nil {
			return err
		}
		updated, err := update.Apply(current)
		if err != nil {
			return err
		}
		data, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("failed to marshal execution: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("failed to update execution status: %w", redis.TxFailedErr)
}
