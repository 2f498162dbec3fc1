package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tcmartin/chatflow/pkg/models"
	"github.com/tcmartin/chatflow/pkg/utils"
	"github.com/tcmartin/chatflow/pkg/validation"
)

// prepareFlow stamps flow ids onto nodes and edges and sets the timestamps.
// createdAt is the creation time of the stored version, or 0 for a new flow.
func prepareFlow(flow models.Flow, createdAt int64, now time.Time) (models.Flow, error) {
	if flow.ID == "" {
		return models.Flow{}, fmt.Errorf("flow id is required")
	}

	out := flow
	out.Nodes = make([]models.FlowNode, 0, len(flow.Nodes))
	out.Edges = make([]models.FlowEdge, 0, len(flow.Edges))

	for _, node := range flow.Nodes {
		if node.ID == "" {
			return models.Flow{}, fmt.Errorf("flow %s has a node without id", flow.ID)
		}
		if node.FlowID == "" {
			node.FlowID = flow.ID
		} else if node.FlowID != flow.ID {
			return models.Flow{}, fmt.Errorf("node %s belongs to flow %s, not %s", node.ID, node.FlowID, flow.ID)
		}
		out.Nodes = append(out.Nodes, cloneNode(node))
	}
	for _, edge := range flow.Edges {
		if edge.ID == "" {
			return models.Flow{}, fmt.Errorf("flow %s has an edge without id", flow.ID)
		}
		if edge.FlowID == "" {
			edge.FlowID = flow.ID
		} else if edge.FlowID != flow.ID {
			return models.Flow{}, fmt.Errorf("edge %s belongs to flow %s, not %s", edge.ID, edge.FlowID, flow.ID)
		}
		out.Edges = append(out.Edges, edge)
	}

	out.UpdatedAt = now.Unix()
	out.CreatedAt = createdAt
	if out.CreatedAt == 0 {
		out.CreatedAt = out.UpdatedAt
	}

	sortNodes(out.Nodes)
	sortEdges(out.Edges)
	return out, nil
}

// checkNodeOwnership fails with ErrNodeConflict if any node id is stored under another flow
func checkNodeOwnership(ctx context.Context, store interface {
	FindByID(ctx context.Context, nodeID string) (*models.FlowNode, error)
}, flow models.Flow) error {
	for _, node := range flow.Nodes {
		existing, err := store.FindByID(ctx, node.ID)
		if err != nil {
			return err
		}
		if existing != nil && existing.FlowID != flow.ID {
			return errNodeConflict(node.ID, existing.FlowID)
		}
	}
	return nil
}

func errNodeConflict(nodeID, owner string) error {
	return fmt.Errorf("%w: %s is used by flow %s", ErrNodeConflict, nodeID, owner)
}

func metadataOf(flow models.Flow) FlowMetadata {
	return FlowMetadata{
		ID:          flow.ID,
		BotID:       flow.BotID,
		Name:        flow.Name,
		Description: flow.Description,
		NodeCount:   len(flow.Nodes),
		EdgeCount:   len(flow.Edges),
		CreatedAt:   flow.CreatedAt,
		UpdatedAt:   flow.UpdatedAt,
	}
}

// startNodes filters enabled start nodes in id order
func startNodes(nodes []models.FlowNode) []models.FlowNode {
	starts := []models.FlowNode{}
	for _, node := range nodes {
		if node.IsStart && node.IsEnabled {
			starts = append(starts, cloneNode(node))
		}
	}
	sortNodes(starts)
	return starts
}

func sortNodes(nodes []models.FlowNode) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
}

// sortEdges orders by source node, then order, then id
func sortEdges(edges []models.FlowEdge) {
	sort.SliceStable(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.FromNodeID != b.FromNodeID {
			return a.FromNodeID < b.FromNodeID
		}
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		return a.ID < b.ID
	})
}

func sortExecutions(executions []models.Execution) {
	sort.SliceStable(executions, func(i, j int) bool {
		a, b := executions[i], executions[j]
		if !a.StartTime.Equal(b.StartTime) {
			return a.StartTime.Before(b.StartTime)
		}
		return a.ID < b.ID
	})
}

func cloneNode(node models.FlowNode) models.FlowNode {
	if node.Config != nil {
		node.Config = utils.CopyMap(node.Config)
	}
	return node
}

// cycleReport and structureReport implement the two validation queries on top of GetFlow
func cycleReport(ctx context.Context, store GraphStore, flowID string) (validation.CycleReport, error) {
	flow, err := store.GetFlow(ctx, flowID)
	if err != nil {
		return validation.CycleReport{}, err
	}
	return validation.DetectCycles(flow.Nodes, flow.Edges), nil
}

func structureReport(ctx context.Context, store GraphStore, flowID string) (validation.Result, error) {
	flow, err := store.GetFlow(ctx, flowID)
	if err != nil {
		return validation.Result{}, err
	}
	return validation.Validate(flow), nil
}
