package runtime

import (
	"context"
	"sort"
	"strings"

	"github.com/tcmartin/chatflow/pkg/models"
	"github.com/tcmartin/chatflow/pkg/scripting"
	"github.com/tcmartin/chatflow/pkg/utils"
)

// Trigger nodes record what matched. They never halt the flow.
func (p *NodeProcessor) registerTriggerNodes() {
	p.register(models.CategoryTrigger, map[string]HandlerFunc{
		"message_received": p.messageReceived,
		"keyword_trigger":  keywordTrigger,
		"pattern_trigger":  patternTrigger,
		"intent_trigger":   intentTrigger,
	})
}

func (p *NodeProcessor) messageReceived(_ context.Context, req NodeRequest) NodeResult {
	return NodeResult{Delta: map[string]any{
		"triggeredBy": "message_received",
		"triggeredAt": p.timestamp(),
	}}
}

func keywordTrigger(_ context.Context, req NodeRequest) NodeResult {
	input := strings.ToLower(req.UserInput)
	matched := []string{}
	for _, keyword := range utils.GetStringSlice(req.Config(), "keywords") {
		if keyword != "" && strings.Contains(input, strings.ToLower(keyword)) {
			matched = append(matched, keyword)
		}
	}

	return NodeResult{Delta: map[string]any{
		"keywordMatched":  len(matched) > 0,
		"matchedKeywords": matched,
	}}
}

func patternTrigger(_ context.Context, req NodeRequest) NodeResult {
	pattern := utils.GetString(req.Config(), "pattern", "")
	if pattern == "" {
		return NodeResult{Delta: map[string]any{"patternMatched": false}}
	}

	re, err := scripting.CompilePattern(pattern, true)
	if err != nil {
		return NodeResult{Delta: map[string]any{"patternMatched": false}}
	}

	match := re.FindStringSubmatch(req.UserInput)
	if match == nil {
		return NodeResult{Delta: map[string]any{"patternMatched": false}}
	}
	return NodeResult{Delta: map[string]any{
		"patternMatched": true,
		"patternMatches": match,
	}}
}

// intentTrigger reads config.intents as {intent: [keywords]}. Intents are tried in name order.
func intentTrigger(_ context.Context, req NodeRequest) NodeResult {
	intents := utils.GetMap(req.Config(), "intents")
	names := make([]string, 0, len(intents))
	for name := range intents {
		names = append(names, name)
	}
	sort.Strings(names)

	input := strings.ToLower(req.UserInput)
	for _, name := range names {
		var matched []string
		for _, keyword := range utils.GetStringSlice(intents, name) {
			if keyword != "" && strings.Contains(input, strings.ToLower(keyword)) {
				matched = append(matched, keyword)
			}
		}
		if len(matched) > 0 {
			return NodeResult{Delta: map[string]any{
				"intentMatched":  true,
				"detectedIntent": name,
				"intentKeywords": matched,
			}}
		}
	}

	return NodeResult{Delta: map[string]any{"intentMatched": false}}
}
