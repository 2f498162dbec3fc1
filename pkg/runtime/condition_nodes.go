package runtime

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/tcmartin/chatflow/pkg/models"
	"github.com/tcmartin/chatflow/pkg/scripting"
	"github.com/tcmartin/chatflow/pkg/utils"
)

// Condition nodes store their boolean in conditionResult for downstream edges
func (p *NodeProcessor) registerConditionNodes() {
	p.register(models.CategoryCondition, map[string]HandlerFunc{
		"text_condition":       textCondition,
		"variable_condition":   variableCondition,
		"user_input_condition": userInputCondition,
	})
}

func conditionResult(result bool) NodeResult {
	return NodeResult{Delta: map[string]any{"conditionResult": result}}
}

func textCondition(_ context.Context, req NodeRequest) NodeResult {
	cfg := req.Config()
	operator := utils.GetString(cfg, "operator", "contains")
	value := utils.GetString(cfg, "value", "")
	subject := req.UserInput

	if !utils.GetBool(cfg, "caseSensitive", false) && operator != "matches" {
		subject = strings.ToLower(subject)
		value = strings.ToLower(value)
	}

	var result bool
	switch operator {
	case "contains":
		result = strings.Contains(subject, value)
	case "not_contains":
		result = !strings.Contains(subject, value)
	case "equals":
		result = strings.TrimSpace(subject) == value
	case "not_equals":
		result = strings.TrimSpace(subject) != value
	case "starts_with":
		result = strings.HasPrefix(subject, value)
	case "ends_with":
		result = strings.HasSuffix(subject, value)
	case "matches":
		re, err := scripting.CompilePattern(value, !utils.GetBool(cfg, "caseSensitive", false))
		result = err == nil && re.MatchString(subject)
	}
	return conditionResult(result)
}

func variableCondition(_ context.Context, req NodeRequest) NodeResult {
	cfg := req.Config()
	name := utils.GetString(cfg, "variable", "")
	operator := utils.GetString(cfg, "operator", "equals")
	expected := cfg["value"]

	actual, exists := utils.LookupPath(req.Context, name)
	if name == "" {
		exists = false
	}

	var result bool
	switch operator {
	case "equals":
		result = exists && utils.ToString(actual) == utils.ToString(expected)
	case "not_equals":
		result = !exists || utils.ToString(actual) != utils.ToString(expected)
	case "contains":
		result = exists && strings.Contains(strings.ToLower(utils.ToString(actual)), strings.ToLower(utils.ToString(expected)))
	case "greater_than", "less_than":
		a, aok := utils.ToFloat(actual)
		b, bok := utils.ToFloat(expected)
		if exists && aok && bok {
			if operator == "greater_than" {
				result = a > b
			} else {
				result = a < b
			}
		}
	case "exists":
		result = exists && actual != nil
	case "not_exists":
		result = !exists || actual == nil
	}
	return conditionResult(result)
}

var (
	yesWords = map[string]bool{"yes": true, "y": true, "yeah": true, "yep": true, "sure": true, "ok": true, "okay": true, "si": true}
	noWords  = map[string]bool{"no": true, "n": true, "nope": true, "nah": true}
)

func userInputCondition(_ context.Context, req NodeRequest) NodeResult {
	cfg := req.Config()
	input := strings.TrimSpace(req.UserInput)
	normalized := strings.Trim(strings.ToLower(input), ".!? ")

	var result bool
	switch utils.GetString(cfg, "check", "not_empty") {
	case "not_empty":
		result = input != ""
	case "empty":
		result = input == ""
	case "is_number":
		_, result = utils.ToFloat(input)
	case "is_yes":
		result = yesWords[normalized]
	case "is_no":
		result = noWords[normalized]
	case "min_length":
		result = utf8.RuneCountInString(input) >= utils.GetInt(cfg, "length", 1)
	case "max_length":
		result = utf8.RuneCountInString(input) <= utils.GetInt(cfg, "length", 0)
	case "contains":
		result = strings.Contains(strings.ToLower(input), strings.ToLower(utils.GetString(cfg, "value", "")))
	}
	return conditionResult(result)
}
