package storage

import (
	"context"
	"time"

	c "github.com/patrickmn/go-cache"

	"github.com/tcmartin/chatflow/pkg/models"
	"github.com/tcmartin/chatflow/pkg/validation"
)

// CachedGraphStore is a read-through cache in front of a GraphStore. The engine's
// lookups are served from memory; any save or delete flushes the cache.
type CachedGraphStore struct {
	GraphStore
	cache *c.Cache
}

// NewCachedGraphStore wraps store with a cache whose entries live for ttl
func NewCachedGraphStore(store GraphStore, ttl time.Duration) *CachedGraphStore {
	return &CachedGraphStore{
		GraphStore: store,
		cache:      c.New(ttl, 2*ttl),
	}
}

// SaveFlow writes through and flushes the cache
func (s *CachedGraphStore) SaveFlow(ctx context.Context, flow models.Flow) error {
	defer s.cache.Flush()
	return s.GraphStore.SaveFlow(ctx, flow)
}

// DeleteFlow deletes through and flushes the cache
func (s *CachedGraphStore) DeleteFlow(ctx context.Context, flowID string) error {
	defer s.cache.Flush()
	return s.GraphStore.DeleteFlow(ctx, flowID)
}

// GetFlow returns a cached copy of the flow
func (s *CachedGraphStore) GetFlow(ctx context.Context, flowID string) (models.Flow, error) {
	key := "flow:" + flowID
	if cached, found := s.cache.Get(key); found {
		return cloneFlow(cached.(models.Flow)), nil
	}
	flow, err := s.GraphStore.GetFlow(ctx, flowID)
	if err != nil {
		return models.Flow{}, err
	}
	s.cache.SetDefault(key, cloneFlow(flow))
	return flow, nil
}

// FindStartNodes returns the cached start nodes of a flow
func (s *CachedGraphStore) FindStartNodes(ctx context.Context, flowID string) ([]models.FlowNode, error) {
	key := "start:" + flowID
	if cached, found := s.cache.Get(key); found {
		return cloneNodes(cached.([]models.FlowNode)), nil
	}
	nodes, err := s.GraphStore.FindStartNodes(ctx, flowID)
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(key, cloneNodes(nodes))
	return nodes, nil
}

// FindByID returns the cached node. Misses are not cached.
func (s *CachedGraphStore) FindByID(ctx context.Context, nodeID string) (*models.FlowNode, error) {
	key := "node:" + nodeID
	if cached, found := s.cache.Get(key); found {
		node := cloneNode(cached.(models.FlowNode))
		return &node, nil
	}
	node, err := s.GraphStore.FindByID(ctx, nodeID)
	if err != nil || node == nil {
		return node, err
	}
	s.cache.SetDefault(key, cloneNode(*node))
	return node, nil
}

// FindFromNode returns the cached edges leaving a node
func (s *CachedGraphStore) FindFromNode(ctx context.Context, fromNodeID string) ([]models.FlowEdge, error) {
	key := "from:" + fromNodeID
	if cached, found := s.cache.Get(key); found {
		return cloneEdges(cached.([]models.FlowEdge)), nil
	}
	edges, err := s.GraphStore.FindFromNode(ctx, fromNodeID)
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(key, cloneEdges(edges))
	return edges, nil
}

// DetectCycles reports the cycles of a stored flow
func (s *CachedGraphStore) DetectCycles(ctx context.Context, flowID string) (validation.CycleReport, error) {
	return cycleReport(ctx, s, flowID)
}

// ValidateFlowStructure validates a stored flow
func (s *CachedGraphStore) ValidateFlowStructure(ctx context.Context, flowID string) (validation.Result, error) {
	return structureReport(ctx, s, flowID)
}

func cloneNodes(nodes []models.FlowNode) []models.FlowNode {
	out := make([]models.FlowNode, len(nodes))
	for i, node := range nodes {
		out[i] = cloneNode(node)
	}
	return out
}

func cloneEdges(edges []models.FlowEdge) []models.FlowEdge {
	out := make([]models.FlowEdge, len(edges))
	copy(out, edges)
	return out
}
