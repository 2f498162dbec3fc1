package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/tcmartin/chatflow/pkg/logging"
	"github.com/tcmartin/chatflow/pkg/models"
	"github.com/tcmartin/chatflow/pkg/utils"
)

func (p *NodeProcessor) registerIntegrationNodes() {
	p.register(models.CategoryIntegration, map[string]HandlerFunc{
		"webhook":  integrationRequest("webhook"),
		"api_call": integrationRequest("api_call"),
		"crm_sync": integrationRequest("crm_sync"),
	})
}

func (p *NodeProcessor) registerAINodes() {
	p.register(models.CategoryAI, map[string]HandlerFunc{
		"sentiment_analysis": sentimentAnalysis,
		"ai_response":        p.aiResponse,
	})
}

// integrationRequest records the request intent only; the surrounding system delivers it
func integrationRequest(kind string) HandlerFunc {
	return func(_ context.Context, req NodeRequest) NodeResult {
		cfg := req.Config()
		vars := req.Vars()

		request := map[string]any{
			"type":   kind,
			"status": "scheduled",
		}
		for _, key := range []string{"url", "endpoint", "method", "system", "action"} {
			if value := utils.GetString(cfg, key, ""); value != "" {
				request[key] = utils.Interpolate(value, vars)
			}
		}
		if payload, ok := cfg["payload"]; ok {
			request["payload"] = utils.InterpolateValue(payload, vars)
		}
		return NodeResult{Delta: map[string]any{"integrationRequest": request}}
	}
}

var (
	positiveWords = map[string]bool{
		"good": true, "great": true, "excellent": true, "happy": true, "love": true, "thanks": true,
		"thank": true, "awesome": true, "perfect": true, "amazing": true, "wonderful": true,
		"nice": true, "satisfied": true, "glad": true, "helpful": true,
	}
	negativeWords = map[string]bool{
		"bad": true, "terrible": true, "awful": true, "hate": true, "angry": true, "sad": true,
		"poor": true, "horrible": true, "worst": true, "disappointed": true, "frustrated": true,
		"upset": true, "useless": true, "broken": true, "annoyed": true,
	}
)

// sentimentAnalysis is a keyword classifier: positive, negative or neutral with a score in [-1, 1]
func sentimentAnalysis(_ context.Context, req NodeRequest) NodeResult {
	words := strings.FieldsFunc(strings.ToLower(req.UserInput), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})

	positive, negative := 0, 0
	for _, word := range words {
		switch {
		case positiveWords[word]:
			positive++
		case negativeWords[word]:
			negative++
		}
	}

	sentiment, score := "neutral", 0.0
	if total := positive + negative; total > 0 {
		score = float64(positive-negative) / float64(total)
	}
	switch {
	case positive > negative:
		sentiment = "positive"
	case negative > positive:
		sentiment = "negative"
	}

	return NodeResult{Delta: map[string]any{
		"sentiment":      sentiment,
		"sentimentScore": score,
	}}
}

// aiResponse calls the configured AIProvider under its own deadline. Without a provider the
// prompt is recorded for the surrounding system to schedule.
func (p *NodeProcessor) aiResponse(ctx context.Context, req NodeRequest) NodeResult {
	cfg := req.Config()
	vars := req.Vars()

	prompt := utils.Interpolate(utils.GetString(cfg, "prompt", "{{userInput}}"), vars)
	output := utils.GetString(cfg, "outputVariable", "aiResponse")

	if p.ai == nil {
		return NodeResult{Delta: map[string]any{
			"aiPending": true,
			"aiPrompt":  prompt,
		}}
	}

	timeout := p.aiTimeout
	if ms := utils.GetInt(cfg, "timeoutMs", 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var messages []utils.Message
	if system := utils.GetString(cfg, "systemPrompt", ""); system != "" {
		messages = append(messages, utils.Message{Role: "system", Content: utils.Interpolate(system, vars)})
	}
	messages = append(messages, utils.Message{Role: "user", Content: prompt})

	resp, err := p.ai.Complete(callCtx, utils.LLMRequest{
		Model:       utils.GetString(cfg, "model", ""),
		Messages:    messages,
		Temperature: utils.GetFloat(cfg, "temperature", 0),
		MaxTokens:   utils.GetInt(cfg, "maxTokens", 0),
	})
	if err != nil {
		p.logger.Warn("ai provider call failed",
			logging.F("execution_id", req.ExecutionID),
			logging.F("node_id", req.Node.ID),
			logging.Err(err),
		)
		return NodeResult{Error: fmt.Sprintf("ai_response failed: %v", err)}
	}

	result := NodeResult{Delta: map[string]any{output: resp.Content}}
	if utils.GetBool(cfg, "respond", true) && resp.Content != "" {
		result.Responses = []models.Response{models.TextResponse(resp.Content)}
	}
	return result
}
