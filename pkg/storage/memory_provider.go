package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tcmartin/chatflow/pkg/models"
	"github.com/tcmartin/chatflow/pkg/utils"
	"github.com/tcmartin/chatflow/pkg/validation"
)

// MemoryProvider implements the StorageProvider interface using in-memory storage
type MemoryProvider struct {
	graphStore     *MemoryGraphStore
	executionStore *MemoryExecutionStore
}

// NewMemoryProvider creates a new in-memory storage provider
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{
		graphStore:     NewMemoryGraphStore(),
		executionStore: NewMemoryExecutionStore(),
	}
}

// Initialize sets up the storage backend
func (p *MemoryProvider) Initialize(context.Context) error {
	// Nothing to initialize for in-memory storage
	return nil
}

// Close cleans up resources
func (p *MemoryProvider) Close() error {
	return nil
}

// GetGraphStore returns the flow graph store
func (p *MemoryProvider) GetGraphStore() GraphStore {
	return p.graphStore
}

// GetExecutionStore returns the execution store
func (p *MemoryProvider) GetExecutionStore() ExecutionStore {
	return p.executionStore
}

// MemoryGraphStore implements the GraphStore interface using in-memory storage
type MemoryGraphStore struct {
	mu    sync.RWMutex
	flows map[string]models.Flow
	nodes map[string]models.FlowNode
	from  map[string][]models.FlowEdge
	now   func() time.Time
}

// NewMemoryGraphStore creates a new in-memory graph store
func NewMemoryGraphStore() *MemoryGraphStore {
	return &MemoryGraphStore{
		flows: make(map[string]models.Flow),
		nodes: make(map[string]models.FlowNode),
		from:  make(map[string][]models.FlowEdge),
		now:   time.Now,
	}
}

// SaveFlow persists a flow definition, replacing any previous version
func (s *MemoryGraphStore) SaveFlow(ctx context.Context, flow models.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, node := range flow.Nodes {
		if existing, ok := s.nodes[node.ID]; ok && existing.FlowID != flow.ID {
			return errNodeConflict(node.ID, existing.FlowID)
		}
	}

	var createdAt int64
	if old, ok := s.flows[flow.ID]; ok {
		createdAt = old.CreatedAt
	}
	prepared, err := prepareFlow(flow, createdAt, s.now())
	if err != nil {
		return err
	}

	s.removeLocked(flow.ID)
	s.flows[prepared.ID] = prepared
	for _, node := range prepared.Nodes {
		s.nodes[node.ID] = node
	}
	for _, edge := range prepared.Edges {
		s.from[edge.FromNodeID] = append(s.from[edge.FromNodeID], edge)
	}
	return nil
}

// GetFlow retrieves a flow definition
func (s *MemoryGraphStore) GetFlow(ctx context.Context, flowID string) (models.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	flow, ok := s.flows[flowID]
	if !ok {
		return models.Flow{}, ErrFlowNotFound
	}
	return cloneFlow(flow), nil
}

// ListFlows returns metadata for all flows
func (s *MemoryGraphStore) ListFlows(ctx context.Context) ([]FlowMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]FlowMetadata, 0, len(s.flows))
	for _, flow := range s.flows {
		result = append(result, metadataOf(flow))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// DeleteFlow removes a flow with its nodes and edges
func (s *MemoryGraphStore) DeleteFlow(ctx context.Context, flowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.flows[flowID]; !ok {
		return ErrFlowNotFound
	}
	s.removeLocked(flowID)
	return nil
}

func (s *MemoryGraphStore) removeLocked(flowID string) {
	old, ok := s.flows[flowID]
	if !ok {
		return
	}
	for _, node := range old.Nodes {
		delete(s.nodes, node.ID)
	}
	for _, edge := range old.Edges {
		kept := s.from[edge.FromNodeID][:0]
		for _, e := range s.from[edge.FromNodeID] {
			if e.FlowID != flowID {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(s.from, edge.FromNodeID)
		} else {
			s.from[edge.FromNodeID] = kept
		}
	}
	delete(s.flows, flowID)
}

// FindStartNodes returns the enabled start nodes of a flow
func (s *MemoryGraphStore) FindStartNodes(ctx context.Context, flowID string) ([]models.FlowNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	flow, ok := s.flows[flowID]
	if !ok {
		return []models.FlowNode{}, nil
	}
	return startNodes(flow.Nodes), nil
}

// FindByID returns the node or nil when it does not exist
func (s *MemoryGraphStore) FindByID(ctx context.Context, nodeID string) (*models.FlowNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[nodeID]
	if !ok {
		return nil, nil
	}
	node = cloneNode(node)
	return &node, nil
}

// FindFromNode returns the edges leaving a node
func (s *MemoryGraphStore) FindFromNode(ctx context.Context, fromNodeID string) ([]models.FlowEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	edges := make([]models.FlowEdge, len(s.from[fromNodeID]))
	copy(edges, s.from[fromNodeID])
	return edges, nil
}

// DetectCycles reports the cycles of a stored flow
func (s *MemoryGraphStore) DetectCycles(ctx context.Context, flowID string) (validation.CycleReport, error) {
	return cycleReport(ctx, s, flowID)
}

// ValidateFlowStructure validates a stored flow
func (s *MemoryGraphStore) ValidateFlowStructure(ctx context.Context, flowID string) (validation.Result, error) {
	return structureReport(ctx, s, flowID)
}

// MemoryExecutionStore implements the ExecutionStore interface using in-memory storage
type MemoryExecutionStore struct {
	mu         sync.RWMutex
	executions map[string]models.Execution
	traces     map[string][]models.TraceEntry
}

// NewMemoryExecutionStore creates a new in-memory execution store
func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{
		executions: make(map[string]models.Execution),
		traces:     make(map[string][]models.TraceEntry),
	}
}

// SaveExecution persists execution data
func (s *MemoryExecutionStore) SaveExecution(ctx context.Context, execution models.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	execution.NodeTrace = nil
	execution.Context = utils.CopyMap(execution.Context)
	s.executions[execution.ID] = execution
	return nil
}

// GetExecution retrieves execution data
func (s *MemoryExecutionStore) GetExecution(ctx context.Context, executionID string) (models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	execution, ok := s.executions[executionID]
	if !ok {
		return models.Execution{}, ErrExecutionNotFound
	}
	execution.Context = utils.CopyMap(execution.Context)
	return execution, nil
}

// ListExecutions returns the executions of a flow
func (s *MemoryExecutionStore) ListExecutions(ctx context.Context, flowID string) ([]models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []models.Execution{}
	for _, execution := range s.executions {
		if execution.FlowID == flowID {
			execution.Context = utils.CopyMap(execution.Context)
			result = append(result, execution)
		}
	}
	sortExecutions(result)
	return result, nil
}

// AddToNodeTrace appends one trace entry
func (s *MemoryExecutionStore) AddToNodeTrace(ctx context.Context, executionID string, entry models.TraceEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.executions[executionID]; !ok {
		return ErrExecutionNotFound
	}
	entry.Data = utils.CopyMap(entry.Data)
	s.traces[executionID] = append(s.traces[executionID], entry)
	return nil
}

// GetNodeTrace retrieves the trace of an execution
func (s *MemoryExecutionStore) GetNodeTrace(ctx context.Context, executionID string) ([]models.TraceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.executions[executionID]; !ok {
		return nil, ErrExecutionNotFound
	}
	trace := make([]models.TraceEntry, len(s.traces[executionID]))
	copy(trace, s.traces[executionID])
	return trace, nil
}

// UpdateStatus moves an execution to a new status unless it already finished
func (s *MemoryExecutionStore) UpdateStatus(ctx context.Context, executionID string, update models.ExecutionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	execution, ok := s.executions[executionID]
	if !ok {
		return ErrExecutionNotFound
	}
	if update.Context != nil {
		update.Context = utils.CopyMap(update.Context)
	}
	updated, err := update.Apply(execution)
	if err != nil {
		return err
	}
	s.executions[executionID] = updated
	return nil
}

func cloneFlow(flow models.Flow) models.Flow {
	out := flow
	out.Nodes = make([]models.FlowNode, len(flow.Nodes))
	for i, node := range flow.Nodes {
		out.Nodes[i] = cloneNode(node)
	}
	out.Edges = make([]models.FlowEdge, len(flow.Edges))
	copy(out.Edges, flow.Edges)
	return out
}
