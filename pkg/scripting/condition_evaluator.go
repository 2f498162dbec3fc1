package scripting

import (
	"errors"
	"regexp"
	"strings"

	"github.com/tcmartin/chatflow/pkg/logging"
	"github.com/tcmartin/chatflow/pkg/utils"
)

// ErrUnrecognizedCondition is reported for conditions outside the grammar
var ErrUnrecognizedCondition = errors.New("unrecognized condition")

var (
	// context.<path> <op> '<value>'
	contextPattern = regexp.MustCompile(`^context\.([\w.\[\]]+)\s*(==|!=|contains|startsWith|matches)\s*(?:'(.*)'|"(.*)")$`)

	// [userInput.]<fn>('<value>')
	userInputPattern = regexp.MustCompile(`^(?:userInput\.)?(contains|equals|startsWith|matches)\(\s*(?:'(.*)'|"(.*)")\s*\)$`)

	// bare context key
	tokenPattern = regexp.MustCompile(`^[A-Za-z_][\w.]*$`)
)

type conditionKind int

const (
	kindUnknown conditionKind = iota
	kindLiteral
	kindContext
	kindUserInput
	kindToken
)

type parsedCondition struct {
	kind     conditionKind
	literal  bool
	path     string
	operator string
	value    string
}

func parseCondition(condition string) parsedCondition {
	cond := strings.TrimSpace(condition)

	switch strings.ToLower(cond) {
	case "true":
		return parsedCondition{kind: kindLiteral, literal: true}
	case "false":
		return parsedCondition{kind: kindLiteral, literal: false}
	}

	if m := contextPattern.FindStringSubmatch(cond); m != nil {
		return parsedCondition{kind: kindContext, path: m[1], operator: m[2], value: quoted(m[3], m[4])}
	}
	if m := userInputPattern.FindStringSubmatch(cond); m != nil {
		return parsedCondition{kind: kindUserInput, operator: m[1], value: quoted(m[2], m[3])}
	}
	if tokenPattern.MatchString(cond) {
		return parsedCondition{kind: kindToken, path: cond}
	}
	return parsedCondition{kind: kindUnknown}
}

func quoted(single, double string) string {
	if single != "" {
		return single
	}
	return double
}

// IsRecognized reports whether condition belongs to the condition grammar
func IsRecognized(condition string) bool {
	return parseCondition(condition).kind != kindUnknown
}

// CheckCondition returns ErrUnrecognizedCondition for conditions outside the grammar
// and the compile error for matches(...) conditions with an invalid pattern.
func CheckCondition(condition string) error {
	pc := parseCondition(condition)
	switch pc.kind {
	case kindUnknown:
		return ErrUnrecognizedCondition
	case kindContext, kindUserInput:
		if pc.operator == "matches" {
			_, err := defaultRegexCache.Compile(pc.value, true)
			return err
		}
	}
	return nil
}

// ConditionEvaluator implements the string-pattern condition grammar used on edges
type ConditionEvaluator struct {
	logger  logging.Logger
	regexes *RegexCache
	strict  bool
}

// NewConditionEvaluator creates an evaluator. In strict mode unrecognized conditions
// evaluate to false, otherwise they evaluate to true and a warning is logged.
func NewConditionEvaluator(logger logging.Logger, strict bool) *ConditionEvaluator {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ConditionEvaluator{
		logger:  logger,
		regexes: defaultRegexCache,
		strict:  strict,
	}
}

// Strict reports whether unrecognized conditions fail closed
func (e *ConditionEvaluator) Strict() bool {
	return e.strict
}

// Evaluate decides whether condition holds for the given context and raw user input
func (e *ConditionEvaluator) Evaluate(condition string, context map[string]any, userInput string) (result bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("condition evaluation panicked", logging.F("condition", condition), logging.F("panic", r))
			result = false
		}
	}()

	pc := parseCondition(condition)
	switch pc.kind {
	case kindLiteral:
		return pc.literal

	case kindContext:
		var subject string
		if v, ok := utils.LookupPath(context, pc.path); ok {
			subject = utils.ToString(v)
		}
		return e.compare(condition, pc.operator, subject, pc.value)

	case kindUserInput:
		op := pc.operator
		if op == "equals" {
			op = "=="
		}
		return e.compare(condition, op, userInput, pc.value)

	case kindToken:
		if v, ok := utils.LookupPath(context, pc.path); ok {
			return utils.IsTruthy(v)
		}
	}

	if e.strict {
		e.logger.Warn("unrecognized condition evaluated as false", logging.F("condition", condition))
		return false
	}
	e.logger.Warn("unrecognized condition evaluated as true", logging.F("condition", condition))
	return true
}

func (e *ConditionEvaluator) compare(condition, operator, subject, value string) bool {
	switch operator {
	case "==":
		return strings.EqualFold(subject, value)
	case "!=":
		return !strings.EqualFold(subject, value)
	case "contains":
		return strings.Contains(strings.ToLower(subject), strings.ToLower(value))
	case "startsWith":
		return strings.HasPrefix(strings.ToLower(subject), strings.ToLower(value))
	case "matches":
		re, err := e.regexes.Compile(value, true)
		if err != nil {
			e.logger.Warn("condition regex rejected", logging.F("condition", condition), logging.Err(err))
			return false
		}
		return re.MatchString(subject)
	}
	return false
}
