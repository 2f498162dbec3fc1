package runtime

import (
	"context"

	"github.com/tcmartin/chatflow/pkg/models"
	"github.com/tcmartin/chatflow/pkg/utils"
)

// Response nodes emit typed messages. ${var} and {{var}} are interpolated against the context.
func (p *NodeProcessor) registerResponseNodes() {
	p.register(models.CategoryResponse, map[string]HandlerFunc{
		"text_response":  textResponseNode,
		"quick_reply":    quickReply,
		"media_response": mediaResponse,
		"form_response":  formResponse,
	})
}

func textResponseNode(_ context.Context, req NodeRequest) NodeResult {
	cfg := req.Config()
	vars := req.Vars()

	var responses []models.Response
	for _, message := range utils.GetStringSlice(cfg, "messages") {
		responses = append(responses, textResponse(message, vars))
	}
	if len(responses) == 0 {
		text := utils.GetString(cfg, "text", utils.GetString(cfg, "message", ""))
		if text == "" {
			return NodeResult{}
		}
		responses = append(responses, textResponse(text, vars))
	}
	return NodeResult{Responses: responses}
}

func quickReply(_ context.Context, req NodeRequest) NodeResult {
	cfg := req.Config()
	vars := req.Vars()

	options := []any{}
	if raw, ok := cfg["options"].([]any); ok {
		for _, option := range raw {
			options = append(options, utils.InterpolateValue(option, vars))
		}
	} else {
		for _, option := range utils.GetStringSlice(cfg, "options") {
			options = append(options, utils.Interpolate(option, vars))
		}
	}

	return NodeResult{Responses: []models.Response{{
		Type:    models.ResponseForm,
		Content: utils.Interpolate(utils.GetString(cfg, "text", ""), vars),
		Data: map[string]any{
			"kind":    "quick_reply",
			"options": options,
		},
	}}}
}

func mediaResponse(_ context.Context, req NodeRequest) NodeResult {
	cfg := req.Config()
	vars := req.Vars()

	return NodeResult{Responses: []models.Response{{
		Type:    models.ResponseMedia,
		Content: utils.Interpolate(utils.GetString(cfg, "caption", ""), vars),
		Data: map[string]any{
			"url":       utils.Interpolate(utils.GetString(cfg, "url", ""), vars),
			"mediaType": utils.GetString(cfg, "mediaType", "image"),
		},
	}}}
}

func formResponse(_ context.Context, req NodeRequest) NodeResult {
	cfg := req.Config()
	vars := req.Vars()

	fields := []any{}
	if raw, ok := cfg["fields"].([]any); ok {
		for _, field := range raw {
			fields = append(fields, utils.InterpolateValue(field, vars))
		}
	}

	data := map[string]any{
		"kind":   "form",
		"fields": fields,
	}
	if submit := utils.GetString(cfg, "submitLabel", ""); submit != "" {
		data["submitLabel"] = utils.Interpolate(submit, vars)
	}

	return NodeResult{Responses: []models.Response{{
		Type:    models.ResponseForm,
		Content: utils.Interpolate(utils.GetString(cfg, "title", ""), vars),
		Data:    data,
	}}}
}
