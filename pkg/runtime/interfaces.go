// Package runtime provides functionality for executing flows.
package runtime

import (
	"context"

	"github.com/tcmartin/chatflow/pkg/models"
	"github.com/tcmartin/chatflow/pkg/utils"
	"github.com/tcmartin/chatflow/pkg/validation"
)

// FlowEngine executes flows for inbound messages
type FlowEngine interface {
	// ExecuteFlow runs one conversational turn. It never panics and never returns a raw error;
	// failures are reported through the result.
	ExecuteFlow(ctx context.Context, execution models.Execution, userInput string, vars map[string]any) ExecutionResult

	// ValidateFlow runs the structural validator plus edge cycle detection
	ValidateFlow(ctx context.Context, flowID string) (validation.Result, error)
}

// GraphStore is the read side of the flow graph store
type GraphStore interface {
	// FindStartNodes returns the enabled start nodes of a flow in a stable order
	FindStartNodes(ctx context.Context, flowID string) ([]models.FlowNode, error)

	// FindByID returns nil and no error when the node does not exist
	FindByID(ctx context.Context, nodeID string) (*models.FlowNode, error)

	// FindFromNode returns every edge leaving a node
	FindFromNode(ctx context.Context, fromNodeID string) ([]models.FlowEdge, error)

	DetectCycles(ctx context.Context, flowID string) (validation.CycleReport, error)

	ValidateFlowStructure(ctx context.Context, flowID string) (validation.Result, error)
}

// ExecutionStore records executions and their node trace
type ExecutionStore interface {
	SaveExecution(ctx context.Context, execution models.Execution) error

	AddToNodeTrace(ctx context.Context, executionID string, entry models.TraceEntry) error

	// UpdateStatus returns models.ErrExecutionTerminal if the execution already finished
	UpdateStatus(ctx context.Context, executionID string, update models.ExecutionUpdate) error
}

// AIProvider is the boundary to an external language model
type AIProvider interface {
	Complete(ctx context.Context, request utils.LLMRequest) (*utils.LLMResponse, error)
}

// Observer receives execution events. Implementations must not block.
type Observer interface {
	OnNodeVisited(execution models.Execution, node models.FlowNode, entry models.TraceEntry)
	OnExecutionFinished(execution models.Execution, result ExecutionResult)
}

// ExecutionResult is the outcome of one turn
type ExecutionResult struct {
	ExecutionID     string                 `json:"execution_id"`
	Success         bool                   `json:"success"`
	Responses       []models.Response      `json:"responses"`
	FallbackToHuman bool                   `json:"fallback_to_human"`
	Error           string                 `json:"error,omitempty"`
	FinalContext    map[string]any         `json:"final_context"`
	Status          models.ExecutionStatus `json:"status"`
	Depth           int                    `json:"depth"`
	Trace           []models.TraceEntry    `json:"trace,omitempty"`
}
