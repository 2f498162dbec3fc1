package runtime

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/tcmartin/chatflow/pkg/models"
	"github.com/tcmartin/chatflow/pkg/utils"
)

var (
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phonePattern    = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
	phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
)

// Validation nodes record the outcome and reply with an error message on failure.
// They never stop the flow; the graph branches on the recorded boolean.
func (p *NodeProcessor) registerValidationNodes() {
	p.register(models.CategoryValidation, map[string]HandlerFunc{
		"email_validation": emailValidation,
		"phone_validation": phoneValidation,
		"required_field":   requiredField,
	})
}

func validationOutcome(req NodeRequest, key string, valid bool, value string, defaultMessage string) NodeResult {
	cfg := req.Config()
	delta := map[string]any{"validationResult": valid}
	if key != "" {
		delta[key] = valid
	}
	if valid {
		if saveAs := utils.GetString(cfg, "saveAs", ""); saveAs != "" {
			delta[saveAs] = value
		}
		return NodeResult{Delta: delta}
	}

	message := utils.GetString(cfg, "errorMessage", defaultMessage)
	return NodeResult{
		Responses: []models.Response{textResponse(message, req.Vars())},
		Delta:     delta,
	}
}

func emailValidation(_ context.Context, req NodeRequest) NodeResult {
	input := strings.TrimSpace(req.UserInput)
	return validationOutcome(req, "isValidEmail", emailPattern.MatchString(input), input,
		"Please enter a valid email address.")
}

func phoneValidation(_ context.Context, req NodeRequest) NodeResult {
	input := phoneSeparators.Replace(strings.TrimSpace(req.UserInput))
	return validationOutcome(req, "isValidPhone", phonePattern.MatchString(input), input,
		"Please enter a valid phone number.")
}

func requiredField(_ context.Context, req NodeRequest) NodeResult {
	cfg := req.Config()
	input := strings.TrimSpace(req.UserInput)
	length := utf8.RuneCountInString(input)
	minLength := utils.GetInt(cfg, "minLength", 1)
	maxLength := utils.GetInt(cfg, "maxLength", 0)

	message := "This field is required."
	valid := length >= minLength && (maxLength <= 0 || length <= maxLength)
	switch {
	case length == 0:
	case length < minLength:
		message = fmt.Sprintf("Please enter at least %d characters.", minLength)
	case maxLength > 0 && length > maxLength:
		message = fmt.Sprintf("Please enter no more than %d characters.", maxLength)
	}
	return validationOutcome(req, "", valid, input, message)
}
