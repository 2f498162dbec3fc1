package runtime

import (
	"sort"

	"github.com/tcmartin/chatflow/pkg/models"
	"github.com/tcmartin/chatflow/pkg/scripting"
)

// EdgeSelector picks the next edge among a node's enabled outgoing edges
type EdgeSelector struct {
	evaluator scripting.Evaluator
}

// NewEdgeSelector creates a selector using evaluator for edge conditions
func NewEdgeSelector(evaluator scripting.Evaluator) *EdgeSelector {
	return &EdgeSelector{evaluator: evaluator}
}

// SelectNextEdge walks edges in ascending order. An edge without a condition is taken at its
// position; otherwise the first edge whose condition holds wins. Failing both, the first edge of
// kind default is used. Nil means no admissible edge.
func (s *EdgeSelector) SelectNextEdge(edges []models.FlowEdge, vars map[string]any, userInput string) *models.FlowEdge {
	sorted := make([]models.FlowEdge, len(edges))
	copy(sorted, edges)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order < sorted[j].Order
	})

	for i := range sorted {
		edge := sorted[i]
		if !edge.HasCondition() || s.evaluator.Evaluate(*edge.Condition, vars, userInput) {
			return &edge
		}
	}

	for i := range sorted {
		edge := sorted[i]
		if edge.Kind == models.EdgeDefault {
			return &edge
		}
	}
	return nil
}
