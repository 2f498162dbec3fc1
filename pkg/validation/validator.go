// Package validation performs static analysis of flow graphs.
package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tcmartin/chatflow/pkg/models"
	"github.com/tcmartin/chatflow/pkg/scripting"
)

// Result is the outcome of validating a flow
type Result struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (r *Result) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// CycleReport lists the cycles found over enabled edges. Each cycle lists its nodes
// in traversal order without repeating the first node.
type CycleReport struct {
	HasCycles bool       `json:"has_cycles"`
	Cycles    [][]string `json:"cycles"`
}

// Validate checks start/end presence, edge integrity, orphans, reachability, conditions and cycles.
// Errors make a flow unpublishable; warnings are advisory.
func Validate(flow models.Flow) Result {
	result := Result{Errors: []string{}, Warnings: []string{}}

	nodes := make(map[string]models.FlowNode, len(flow.Nodes))
	for _, node := range flow.Nodes {
		if _, dup := nodes[node.ID]; dup {
			result.addError("duplicate node id %s", node.ID)
			continue
		}
		nodes[node.ID] = node
		if flow.ID != "" && node.FlowID != "" && node.FlowID != flow.ID {
			result.addError("node %s belongs to flow %s", node.ID, node.FlowID)
		}
		if !node.Category.IsValid() {
			result.addWarning("node %s has unknown category %q and will produce no output", node.ID, node.Category)
		}
	}

	checkStartAndEnd(flow.Nodes, &result)

	connected := make(map[string]bool)
	edgeIDs := make(map[string]bool)
	for _, edge := range flow.Edges {
		if edge.ID != "" {
			if edgeIDs[edge.ID] {
				result.addError("duplicate edge id %s", edge.ID)
			}
			edgeIDs[edge.ID] = true
		}
		checkEdge(flow.ID, edge, nodes, &result)
		connected[edge.FromNodeID] = true
		connected[edge.ToNodeID] = true
	}

	for _, node := range sortedNodes(nodes) {
		if !node.IsStart && !node.IsEnd && !connected[node.ID] {
			result.addWarning("node %s is orphaned (no incoming or outgoing edges)", node.ID)
		}
	}

	if start, ok := firstStart(flow.Nodes); ok {
		reachable := reachableFrom(start.ID, flow.Edges, nodes)
		for _, node := range sortedNodes(nodes) {
			if !reachable[node.ID] && connected[node.ID] {
				result.addWarning("node %s is not reachable from start node %s", node.ID, start.ID)
			}
		}
	}

	for _, cycle := range DetectCycles(flow.Nodes, flow.Edges).Cycles {
		result.addError("cycle detected: %s -> %s", strings.Join(cycle, " -> "), cycle[0])
	}

	result.IsValid = len(result.Errors) == 0
	return result
}

func checkStartAndEnd(all []models.FlowNode, result *Result) {
	var starts, enabledStarts []string
	hasEnd := false
	for _, node := range all {
		if node.IsStart {
			starts = append(starts, node.ID)
			if node.IsEnabled {
				enabledStarts = append(enabledStarts, node.ID)
			}
		}
		if node.IsEnd {
			hasEnd = true
		}
	}

	switch {
	case len(starts) == 0:
		result.addError("flow has no start node")
	case len(enabledStarts) == 0:
		result.addError("flow has no enabled start node")
	case len(enabledStarts) > 1:
		sort.Strings(enabledStarts)
		result.addWarning("flow has %d start nodes (%s); only %s is used", len(enabledStarts), strings.Join(enabledStarts, ", "), enabledStarts[0])
	}
	if !hasEnd {
		result.addWarning("flow has no end node")
	}
}

func checkEdge(flowID string, edge models.FlowEdge, nodes map[string]models.FlowNode, result *Result) {
	if edge.FromNodeID == edge.ToNodeID {
		result.addError("edge %s is a self loop on node %s", edge.ID, edge.FromNodeID)
	}

	from, fromOK := nodes[edge.FromNodeID]
	to, toOK := nodes[edge.ToNodeID]
	if !fromOK {
		result.addError("edge %s references missing source node %s", edge.ID, edge.FromNodeID)
	}
	if !toOK {
		result.addError("edge %s references missing target node %s", edge.ID, edge.ToNodeID)
	}
	if fromOK && toOK && from.FlowID != to.FlowID {
		result.addError("edge %s connects nodes of different flows (%s, %s)", edge.ID, from.FlowID, to.FlowID)
	}
	if flowID != "" && edge.FlowID != "" && edge.FlowID != flowID {
		result.addError("edge %s belongs to flow %s", edge.ID, edge.FlowID)
	}

	if edge.Kind != "" && !edge.Kind.IsValid() {
		result.addWarning("edge %s has unknown kind %q", edge.ID, edge.Kind)
	}
	if edge.HasCondition() {
		if err := scripting.CheckCondition(*edge.Condition); err != nil {
			if err == scripting.ErrUnrecognizedCondition {
				result.addWarning("edge %s condition %q is not recognized and will always match unless strict conditions are enabled", edge.ID, *edge.Condition)
			} else {
				result.addWarning("edge %s condition %q never matches: %v", edge.ID, *edge.Condition, err)
			}
		}
	}
}

// firstStart returns the start node the engine would use: the lowest id among enabled start nodes
func firstStart(all []models.FlowNode) (models.FlowNode, bool) {
	var start models.FlowNode
	found := false
	for _, node := range all {
		if node.IsStart && node.IsEnabled && (!found || node.ID < start.ID) {
			start, found = node, true
		}
	}
	return start, found
}

func reachableFrom(root string, edges []models.FlowEdge, nodes map[string]models.FlowNode) map[string]bool {
	adj := adjacency(edges, nodes)
	seen := map[string]bool{root: true}
	stack := []string{root}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range adj[current] {
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return seen
}

// adjacency builds successor lists over enabled edges between known nodes, sorted by edge order
func adjacency(edges []models.FlowEdge, nodes map[string]models.FlowNode) map[string][]string {
	enabled := make([]models.FlowEdge, 0, len(edges))
	for _, edge := range edges {
		if !edge.IsEnabled {
			continue
		}
		if _, ok := nodes[edge.FromNodeID]; !ok {
			continue
		}
		if _, ok := nodes[edge.ToNodeID]; !ok {
			continue
		}
		enabled = append(enabled, edge)
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		if enabled[i].Order != enabled[j].Order {
			return enabled[i].Order < enabled[j].Order
		}
		return enabled[i].ToNodeID < enabled[j].ToNodeID
	})

	adj := make(map[string][]string)
	for _, edge := range enabled {
		adj[edge.FromNodeID] = append(adj[edge.FromNodeID], edge.ToNodeID)
	}
	return adj
}

func sortedNodes(nodes map[string]models.FlowNode) []models.FlowNode {
	out := make([]models.FlowNode, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, node)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
