package runtime

import (
	"context"

	"github.com/tcmartin/chatflow/pkg/models"
	"github.com/tcmartin/chatflow/pkg/utils"
)

const defaultGoodbye = "Thank you for chatting with us. Goodbye!"

func (p *NodeProcessor) registerFlowControlNodes() {
	p.register(models.CategoryFlowControl, map[string]HandlerFunc{
		"delay":            delayNode,
		"jump_to_flow":     jumpToFlow,
		"end_conversation": endConversation,
	})
}

// delayNode records the requested pause; the engine never sleeps
func delayNode(_ context.Context, req NodeRequest) NodeResult {
	cfg := req.Config()
	ms := utils.GetInt(cfg, "durationMs", 0)
	if ms == 0 {
		ms = utils.GetInt(cfg, "seconds", 0) * 1000
	}
	return NodeResult{Delta: map[string]any{
		"delayRequested": true,
		"delayMs":        ms,
	}}
}

// jumpToFlow stops the traversal; the caller re-enters the target flow
func jumpToFlow(_ context.Context, req NodeRequest) NodeResult {
	cfg := req.Config()
	target := utils.GetString(cfg, "flowId", utils.GetString(cfg, "targetFlowId", ""))

	result := NodeResult{
		Delta:      map[string]any{"jumpToFlow": target},
		ShouldStop: true,
	}
	if target != "" {
		result.Responses = []models.Response{{
			Type: models.ResponseAction,
			Data: map[string]any{"action": "jump_to_flow", "flowId": target},
		}}
	}
	return result
}

func endConversation(_ context.Context, req NodeRequest) NodeResult {
	message := utils.GetString(req.Config(), "message", defaultGoodbye)
	return NodeResult{
		Responses:  []models.Response{textResponse(message, req.Vars())},
		Delta:      map[string]any{"conversationEnded": true},
		ShouldStop: true,
	}
}
