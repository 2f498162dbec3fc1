package runtime

import (
	"context"
	"fmt"

	"github.com/tcmartin/chatflow/pkg/logging"
	"github.com/tcmartin/chatflow/pkg/models"
	"github.com/tcmartin/chatflow/pkg/utils"
)

const defaultHandoff = "Let me connect you with a human agent who can help you further."

func (p *NodeProcessor) registerAdvancedNodes() {
	p.register(models.CategoryAdvanced, map[string]HandlerFunc{
		"fallback_to_human":  fallbackToHuman,
		"analytics_tracking": p.analyticsTracking,
		"custom_code":        p.customCode,
	})
}

// fallbackToHuman always emits exactly one text response and hands the conversation off
func fallbackToHuman(_ context.Context, req NodeRequest) NodeResult {
	cfg := req.Config()
	message := utils.GetString(cfg, "message", defaultHandoff)
	if message == "" {
		message = defaultHandoff
	}

	return NodeResult{
		Responses: []models.Response{textResponse(message, req.Vars())},
		Delta: map[string]any{
			"fallbackRequested": true,
			"fallbackReason":    utils.GetString(cfg, "reason", "requested"),
		},
		ShouldStop:      true,
		FallbackToHuman: true,
	}
}

// analyticsTracking only counts the event; the context is untouched
func (p *NodeProcessor) analyticsTracking(_ context.Context, req NodeRequest) NodeResult {
	event := utils.GetString(req.Config(), "event", "custom")
	p.metrics.RecordAnalyticsEvent(event)
	p.logger.Debug("analytics event",
		logging.F("execution_id", req.ExecutionID),
		logging.F("node_id", req.Node.ID),
		logging.F("event", event),
	)
	return NodeResult{}
}

// customCode runs config.code through the script engine when one is configured
func (p *NodeProcessor) customCode(ctx context.Context, req NodeRequest) NodeResult {
	code := utils.GetString(req.Config(), "code", "")
	if p.scripts == nil || code == "" {
		return NodeResult{}
	}

	changed, err := p.scripts.Execute(ctx, code, req.Context, req.UserInput)
	if err != nil {
		return NodeResult{Error: fmt.Sprintf("custom_code failed: %v", err)}
	}
	return NodeResult{Delta: changed}
}
