// Package storage provides the persistence backends for flow graphs and executions.
package storage

import (
	"context"
	"errors"

	"github.com/tcmartin/chatflow/pkg/models"
	"github.com/tcmartin/chatflow/pkg/runtime"
)

// Errors returned by every storage provider
var (
	ErrFlowNotFound      = errors.New("flow not found")
	ErrNodeNotFound      = errors.New("node not found")
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrNodeConflict is returned when a saved flow reuses a node id owned by another flow
	ErrNodeConflict = errors.New("node id belongs to another flow")

	// ErrExecutionTerminal is returned by UpdateStatus for executions that already finished
	ErrExecutionTerminal = models.ErrExecutionTerminal
)

// StorageProvider defines the interface for persistence backends
type StorageProvider interface {
	// Initialize sets up the storage backend (tables, indexes, connectivity)
	Initialize(ctx context.Context) error

	// Close cleans up resources
	Close() error

	// GetGraphStore returns the flow graph store
	GetGraphStore() GraphStore

	// GetExecutionStore returns the execution store
	GetExecutionStore() ExecutionStore
}

// GraphStore persists flows and answers the engine's graph queries
type GraphStore interface {
	runtime.GraphStore

	// SaveFlow replaces the flow definition with the given nodes and edges
	SaveFlow(ctx context.Context, flow models.Flow) error

	// GetFlow returns the flow with nodes sorted by id and edges by source, order and id
	GetFlow(ctx context.Context, flowID string) (models.Flow, error)

	// ListFlows returns metadata of every stored flow sorted by id
	ListFlows(ctx context.Context) ([]FlowMetadata, error)

	// DeleteFlow removes the flow and all its nodes and edges
	DeleteFlow(ctx context.Context, flowID string) error
}

// ExecutionStore persists executions and their node trace
type ExecutionStore interface {
	runtime.ExecutionStore

	// GetExecution returns the execution record. NodeTrace is not populated; see GetNodeTrace.
	GetExecution(ctx context.Context, executionID string) (models.Execution, error)

	// ListExecutions returns the executions of a flow ordered by start time
	ListExecutions(ctx context.Context, flowID string) ([]models.Execution, error)

	// GetNodeTrace returns the trace entries in the order they were added
	GetNodeTrace(ctx context.Context, executionID string) ([]models.TraceEntry, error)
}

// FlowMetadata contains information about a stored flow
type FlowMetadata struct {
	// ID of the flow
	ID string `json:"id"`

	// BotID is the bot the flow belongs to
	BotID string `json:"bot_id,omitempty"`

	// Name of the flow
	Name string `json:"name"`

	// Description of the flow
	Description string `json:"description,omitempty"`

	NodeCount int `json:"node_count"`
	EdgeCount int `json:"edge_count"`

	// CreatedAt is when the flow was first saved (unix seconds)
	CreatedAt int64 `json:"created_at"`

	// UpdatedAt is when the flow was last saved (unix seconds)
	UpdatedAt int64 `json:"updated_at"`
}
