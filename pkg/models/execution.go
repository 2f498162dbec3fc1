package models

import (
	"errors"
	"time"
)

// ErrExecutionTerminal is returned when a status change targets an execution that already finished
var ErrExecutionTerminal = errors.New("execution already has a terminal status")

// ExecutionStatus is the lifecycle state of one execution
type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusTimeout   ExecutionStatus = "timeout"
	StatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed from s
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// Execution is one runtime traversal of a flow triggered by one inbound message
type Execution struct {
	// ID of the execution
	ID string `json:"id"`

	BotID     string `json:"bot_id"`
	FlowID    string `json:"flow_id"`
	ChannelID string `json:"channel_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`

	// Status of the execution
	Status ExecutionStatus `json:"status"`

	// Context holds the conversation variables at the last update
	Context map[string]any `json:"context,omitempty"`

	// NodeTrace is the ordered audit record of visited nodes
	NodeTrace []TraceEntry `json:"node_trace,omitempty"`

	// Error message if the execution failed
	Error string `json:"error,omitempty"`

	// StartTime is when the execution started
	StartTime time.Time `json:"start_time"`

	// EndTime is when the execution reached a terminal status
	EndTime time.Time `json:"end_time,omitempty"`
}

// TraceEntry records one visited node
type TraceEntry struct {
	NodeID    string         `json:"node_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// ExecutionUpdate moves an execution to a new status. Zero fields are left unchanged.
type ExecutionUpdate struct {
	Status  ExecutionStatus `json:"status"`
	Error   string          `json:"error,omitempty"`
	Context map[string]any  `json:"context,omitempty"`
	EndTime time.Time       `json:"end_time,omitempty"`
}

// Apply returns exec with u applied, or ErrExecutionTerminal if exec already finished
func (u ExecutionUpdate) Apply(exec Execution) (Execution, error) {
	if exec.Status.IsTerminal() {
		return exec, ErrExecutionTerminal
	}
	if u.Status != "" {
		exec.Status = u.Status
	}
	if u.Error != "" {
		exec.Error = u.Error
	}
	if u.Context != nil {
		exec.Context = u.Context
	}
	if !u.EndTime.IsZero() {
		exec.EndTime = u.EndTime
	}
	return exec, nil
}
