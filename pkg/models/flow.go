// Package models contains the data types shared by the flow engine and its stores.
package models

import "strings"

// NodeCategory groups node types. Dispatch is by category first, then by type.
type NodeCategory string

const (
	CategoryTrigger     NodeCategory = "trigger"
	CategoryCondition   NodeCategory = "condition"
	CategoryAction      NodeCategory = "action"
	CategoryResponse    NodeCategory = "response"
	CategoryIntegration NodeCategory = "integration"
	CategoryAI          NodeCategory = "ai"
	CategoryFlowControl NodeCategory = "flow_control"
	CategoryValidation  NodeCategory = "validation"
	CategoryAdvanced    NodeCategory = "advanced"
)

// Categories lists every known node category
var Categories = []NodeCategory{
	CategoryTrigger,
	CategoryCondition,
	CategoryAction,
	CategoryResponse,
	CategoryIntegration,
	CategoryAI,
	CategoryFlowControl,
	CategoryValidation,
	CategoryAdvanced,
}

// IsValid reports whether c is a known category
func (c NodeCategory) IsValid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// EdgeKind describes the intent of an edge
type EdgeKind string

const (
	EdgeConditional EdgeKind = "conditional"
	EdgeSuccess     EdgeKind = "success"
	EdgeDefault     EdgeKind = "default"
	EdgeError       EdgeKind = "error"
	EdgeTimeout     EdgeKind = "timeout"
)

// IsValid reports whether k is a known edge kind
func (k EdgeKind) IsValid() bool {
	switch k {
	case EdgeConditional, EdgeSuccess, EdgeDefault, EdgeError, EdgeTimeout:
		return true
	}
	return false
}

// FlowNode is a single step in a conversation flow
type FlowNode struct {
	// ID is unique across all flows
	ID string `json:"id"`

	// FlowID is the owning flow
	FlowID string `json:"flow_id"`

	// Category and Type select the handler
	Category NodeCategory `json:"category"`
	Type     string       `json:"type"`

	// Title is a human readable label
	Title string `json:"title,omitempty"`

	// Config is interpreted by the handler for Type
	Config map[string]any `json:"config,omitempty"`

	IsStart   bool `json:"is_start"`
	IsEnd     bool `json:"is_end"`
	IsEnabled bool `json:"is_enabled"`
}

// FlowEdge is a directed, optionally conditional transition between two nodes
type FlowEdge struct {
	ID         string   `json:"id"`
	FlowID     string   `json:"flow_id"`
	FromNodeID string   `json:"from_node_id"`
	ToNodeID   string   `json:"to_node_id"`
	Label      string   `json:"label,omitempty"`
	Condition  *string  `json:"condition,omitempty"`
	Kind       EdgeKind `json:"kind"`
	Order      int      `json:"order"`
	IsEnabled  bool     `json:"is_enabled"`
}

// HasCondition reports whether the edge carries a non-blank condition
func (e FlowEdge) HasCondition() bool {
	return e.Condition != nil && strings.TrimSpace(*e.Condition) != ""
}

// ConditionString returns the condition or an empty string
func (e FlowEdge) ConditionString() string {
	if e.Condition == nil {
		return ""
	}
	return *e.Condition
}

// Flow is a named graph of nodes and edges owned by a bot
type Flow struct {
	ID          string     `json:"id"`
	BotID       string     `json:"bot_id,omitempty"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Nodes       []FlowNode `json:"nodes"`
	Edges       []FlowEdge `json:"edges"`

	// CreatedAt and UpdatedAt are unix seconds set by the store
	CreatedAt int64 `json:"created_at,omitempty"`
	UpdatedAt int64 `json:"updated_at,omitempty"`
}

// StringPtr returns a pointer to s
func StringPtr(s string) *string {
	return &s
}
