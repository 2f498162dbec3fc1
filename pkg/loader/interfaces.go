// Package loader parses flow definition files into models.Flow.
package loader

import (
	"errors"

	"github.com/tcmartin/chatflow/pkg/models"
)

// ErrInvalidDefinition is wrapped by every parse error that is not a YAML syntax error
var ErrInvalidDefinition = errors.New("invalid flow definition")

// YAMLLoader parses YAML (or JSON) flow definitions into flow graphs.
type YAMLLoader interface {
	// Parse converts a definition into a flow
	Parse(content []byte) (models.Flow, error)

	// Validate checks that a definition can be parsed
	Validate(content []byte) error
}

// FlowDefinition represents a parsed flow definition document
type FlowDefinition struct {
	// Flow header
	Flow FlowHeader `yaml:"flow" json:"flow"`

	// Nodes in the flow
	Nodes []NodeDefinition `yaml:"nodes" json:"nodes"`

	// Edges between nodes
	Edges []EdgeDefinition `yaml:"edges" json:"edges"`
}

// FlowHeader contains information about the flow
type FlowHeader struct {
	ID          string `yaml:"id" json:"id"`
	BotID       string `yaml:"bot_id" json:"bot_id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}

// NodeDefinition describes one node. Enabled defaults to true.
type NodeDefinition struct {
	ID       string         `yaml:"id" json:"id"`
	Category string         `yaml:"category" json:"category"`
	Type     string         `yaml:"type" json:"type"`
	Title    string         `yaml:"title" json:"title"`
	Start    bool           `yaml:"start" json:"start"`
	End      bool           `yaml:"end" json:"end"`
	Enabled  *bool          `yaml:"enabled" json:"enabled"`
	Config   map[string]any `yaml:"config" json:"config"`
}

// EdgeDefinition describes one edge. A missing id is generated; kind defaults to
// conditional when a condition is set and success otherwise.
type EdgeDefinition struct {
	ID        string  `yaml:"id" json:"id"`
	From      string  `yaml:"from" json:"from"`
	To        string  `yaml:"to" json:"to"`
	Label     string  `yaml:"label" json:"label"`
	Condition *string `yaml:"condition" json:"condition"`
	Kind      string  `yaml:"kind" json:"kind"`
	Order     int     `yaml:"order" json:"order"`
	Enabled   *bool   `yaml:"enabled" json:"enabled"`
}
