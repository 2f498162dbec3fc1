package runtime

import "errors"

var (
	// ErrNoStartNode is a configuration error: the flow has no enabled start node
	ErrNoStartNode = errors.New("no start node")

	// ErrMissingTargetNode is a configuration error: an edge points at a node that does not exist
	ErrMissingTargetNode = errors.New("edge target node not found")

	// ErrDepthExceeded is returned when a traversal would process more than MaxDepth nodes
	ErrDepthExceeded = errors.New("maximum traversal depth exceeded")

	// ErrExecutionTimeout is returned when the wall clock bound fires
	ErrExecutionTimeout = errors.New("execution timed out")

	// ErrExecutionCancelled is returned when the caller cancels the context
	ErrExecutionCancelled = errors.New("execution cancelled")

	// ErrNodeFault wraps a panic inside a node handler
	ErrNodeFault = errors.New("node processing fault")
)
