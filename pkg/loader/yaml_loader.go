package loader

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/tcmartin/chatflow/pkg/models"
)

// DefaultYAMLLoader implements the YAMLLoader interface
type DefaultYAMLLoader struct {
	newID func() string
}

// NewYAMLLoader creates a new YAML loader
func NewYAMLLoader() *DefaultYAMLLoader {
	return &DefaultYAMLLoader{newID: uuid.NewString}
}

// ParseFile reads and parses a definition file
func (l *DefaultYAMLLoader) ParseFile(path string) (models.Flow, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return models.Flow{}, fmt.Errorf("failed to read flow file: %w", err)
	}
	return l.Parse(content)
}

// Parse converts a YAML or JSON definition into a flow
func (l *DefaultYAMLLoader) Parse(content []byte) (models.Flow, error) {
	def, err := decode(content)
	if err != nil {
		return models.Flow{}, err
	}
	if err := check(def); err != nil {
		return models.Flow{}, err
	}

	flow := models.Flow{
		ID:          def.Flow.ID,
		BotID:       def.Flow.BotID,
		Name:        def.Flow.Name,
		Description: def.Flow.Description,
		Nodes:       make([]models.FlowNode, 0, len(def.Nodes)),
		Edges:       make([]models.FlowEdge, 0, len(def.Edges)),
	}

	for _, n := range def.Nodes {
		flow.Nodes = append(flow.Nodes, models.FlowNode{
			ID:        n.ID,
			FlowID:    flow.ID,
			Category:  models.NodeCategory(n.Category),
			Type:      n.Type,
			Title:     n.Title,
			Config:    n.Config,
			IsStart:   n.Start,
			IsEnd:     n.End,
			IsEnabled: enabled(n.Enabled),
		})
	}

	for _, e := range def.Edges {
		edge := models.FlowEdge{
			ID:         e.ID,
			FlowID:     flow.ID,
			FromNodeID: e.From,
			ToNodeID:   e.To,
			Label:      e.Label,
			Condition:  e.Condition,
			Kind:       models.EdgeKind(e.Kind),
			Order:      e.Order,
			IsEnabled:  enabled(e.Enabled),
		}
		if edge.ID == "" {
			edge.ID = l.newID()
		}
		if edge.Kind == "" {
			edge.Kind = models.EdgeSuccess
			if edge.HasCondition() {
				edge.Kind = models.EdgeConditional
			}
		}
		flow.Edges = append(flow.Edges, edge)
	}

	return flow, nil
}

// Validate checks that a definition can be parsed
func (l *DefaultYAMLLoader) Validate(content []byte) error {
	def, err := decode(content)
	if err != nil {
		return err
	}
	return check(def)
}

// decode rejects unknown fields so typos in definitions surface early
func decode(content []byte) (FlowDefinition, error) {
	var def FlowDefinition
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return FlowDefinition{}, fmt.Errorf("failed to parse flow definition: %w", err)
	}
	return def, nil
}

func check(def FlowDefinition) error {
	if strings.TrimSpace(def.Flow.ID) == "" {
		return fmt.Errorf("%w: flow id is required", ErrInvalidDefinition)
	}
	if len(def.Nodes) == 0 {
		return fmt.Errorf("%w: flow must have at least one node", ErrInvalidDefinition)
	}

	ids := make(map[string]bool, len(def.Nodes))
	for i, n := range def.Nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: node %d has no id", ErrInvalidDefinition, i)
		}
		if n.Type == "" {
			return fmt.Errorf("%w: node '%s' has no type", ErrInvalidDefinition, n.ID)
		}
		if !models.NodeCategory(n.Category).IsValid() {
			return fmt.Errorf("%w: unknown category '%s' in node '%s'", ErrInvalidDefinition, n.Category, n.ID)
		}
		ids[n.ID] = true
	}

	for i, e := range def.Edges {
		name := e.ID
		if name == "" {
			name = fmt.Sprintf("#%d", i)
		}
		if e.Kind != "" && !models.EdgeKind(e.Kind).IsValid() {
			return fmt.Errorf("%w: unknown kind '%s' in edge '%s'", ErrInvalidDefinition, e.Kind, name)
		}
		if !ids[e.From] {
			return fmt.Errorf("%w: edge '%s' references non-existent node '%s'", ErrInvalidDefinition, name, e.From)
		}
		if !ids[e.To] {
			return fmt.Errorf("%w: edge '%s' references non-existent node '%s'", ErrInvalidDefinition, name, e.To)
		}
	}
	return nil
}

func enabled(v *bool) bool {
	return v == nil || *v
}
