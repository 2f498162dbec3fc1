package runtime

import (
	"context"
	"strings"

	"github.com/tcmartin/chatflow/pkg/models"
	"github.com/tcmartin/chatflow/pkg/utils"
)

func (p *NodeProcessor) registerActionNodes() {
	p.register(models.CategoryAction, map[string]HandlerFunc{
		"set_variable":   setVariable,
		"save_user_data": saveUserData,
		"http_request":   httpRequest,
	})
}

// configuredValue returns config.value interpolated against vars, or the raw user input when unset
func configuredValue(req NodeRequest) any {
	value, ok := req.Config()["value"]
	if !ok || value == nil {
		return req.UserInput
	}
	return utils.InterpolateValue(value, req.Vars())
}

func setVariable(_ context.Context, req NodeRequest) NodeResult {
	cfg := req.Config()
	name := utils.GetString(cfg, "variable", utils.GetString(cfg, "key", ""))
	if name == "" {
		return NodeResult{}
	}
	return NodeResult{Delta: map[string]any{name: configuredValue(req)}}
}

func saveUserData(_ context.Context, req NodeRequest) NodeResult {
	cfg := req.Config()
	field := utils.GetString(cfg, "field", utils.GetString(cfg, "key", ""))
	if field == "" {
		return NodeResult{}
	}

	userData := utils.CopyMap(utils.GetMap(req.Context, "userData"))
	userData[field] = configuredValue(req)
	return NodeResult{Delta: map[string]any{"userData": userData}}
}

// httpRequest records the request intent only; delivery belongs to an integration worker
func httpRequest(_ context.Context, req NodeRequest) NodeResult {
	cfg := req.Config()
	vars := req.Vars()

	request := map[string]any{
		"method": strings.ToUpper(utils.GetString(cfg, "method", "GET")),
		"url":    utils.Interpolate(utils.GetString(cfg, "url", ""), vars),
		"status": "scheduled",
	}
	if headers := utils.GetMap(cfg, "headers"); headers != nil {
		request["headers"] = utils.InterpolateValue(headers, vars)
	}
	if body, ok := cfg["body"]; ok {
		request["body"] = utils.InterpolateValue(body, vars)
	}
	return NodeResult{Delta: map[string]any{"lastHttpRequest": request}}
}
