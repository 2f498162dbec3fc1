package validation

import (
	"strings"

	"github.com/tcmartin/chatflow/pkg/models"
)

const (
	unvisited = iota
	onStack
	done
)

type frame struct {
	node string
	next int
}

// DetectCycles runs a depth-first search over enabled edges with an explicit stack.
// Every edge that returns to a node still on the recursion stack yields the path from
// that node as a cycle. Rotations of the same cycle are reported once.
func DetectCycles(nodes []models.FlowNode, edges []models.FlowEdge) CycleReport {
	known := make(map[string]models.FlowNode, len(nodes))
	for _, node := range nodes {
		known[node.ID] = node
	}
	adj := adjacency(edges, known)

	state := make(map[string]int, len(known))
	report := CycleReport{Cycles: [][]string{}}
	seen := make(map[string]bool)

	for _, root := range sortedNodes(known) {
		if state[root.ID] != unvisited {
			continue
		}

		stack := []frame{{node: root.ID}}
		path := []string{root.ID}
		position := map[string]int{root.ID: 0}
		state[root.ID] = onStack

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			successors := adj[top.node]

			if top.next < len(successors) {
				succ := successors[top.next]
				top.next++

				switch state[succ] {
				case onStack:
					cycle := append([]string(nil), path[position[succ]:]...)
					key := canonicalKey(cycle)
					if !seen[key] {
						seen[key] = true
						report.Cycles = append(report.Cycles, cycle)
					}
				case unvisited:
					state[succ] = onStack
					position[succ] = len(path)
					path = append(path, succ)
					stack = append(stack, frame{node: succ})
				}
				continue
			}

			state[top.node] = done
			delete(position, top.node)
			path = path[:len(path)-1]
			stack = stack[:len(stack)-1]
		}
	}

	report.HasCycles = len(report.Cycles) > 0
	return report
}

// canonicalKey identifies a cycle independently of its starting node
func canonicalKey(cycle []string) string {
	lowest := 0
	for i, id := range cycle {
		if id < cycle[lowest] {
			lowest = i
		}
	}
	rotated := append(append([]string(nil), cycle[lowest:]...), cycle[:lowest]...)
	return strings.Join(rotated, "\x00")
}
