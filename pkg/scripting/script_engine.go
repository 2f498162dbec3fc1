package scripting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/dop251/goja"
)

// GojaScriptEngine runs custom_code scripts. Each call gets a fresh VM.
type GojaScriptEngine struct {
	timeout time.Duration
}

// NewGojaScriptEngine creates an engine that interrupts scripts after timeout (0 means only ctx bounds them)
func NewGojaScriptEngine(timeout time.Duration) *GojaScriptEngine {
	return &GojaScriptEngine{timeout: timeout}
}

// Execute runs script with $ bound to a JSON copy of vars and userInput bound to the raw input.
// Keys of $ that were added or changed by the script are returned.
func (e *GojaScriptEngine) Execute(ctx context.Context, script string, vars map[string]any, userInput string) (map[string]any, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := json.Marshal(vars)
	if err != nil {
		return nil, fmt.Errorf("failed to encode script variables: %w", err)
	}
	var before map[string]any
	if err := json.Unmarshal(data, &before); err != nil {
		return nil, fmt.Errorf("failed to encode script variables: %w", err)
	}

	vm := goja.New()
	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt("script cancelled")
	})
	defer stop()

	if err := vm.Set("userInput", userInput); err != nil {
		return nil, err
	}
	if _, err := vm.RunString(fmt.Sprintf("var $ = %s;\n%s", data, script)); err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, fmt.Errorf("script interrupted: %w", context.Cause(ctx))
		}
		return nil, fmt.Errorf("error executing javascript: %w", err)
	}

	val, err := vm.RunString("$")
	if err != nil {
		return nil, fmt.Errorf("error executing javascript: %w", err)
	}
	res, err := json.Marshal(val.Export())
	if err != nil {
		return nil, fmt.Errorf("failed to decode script result: %w", err)
	}
	var after map[string]any
	if err := json.Unmarshal(res, &after); err != nil {
		return nil, fmt.Errorf("script must leave $ as an object: %w", err)
	}

	changed := make(map[string]any)
	for key, value := range after {
		if old, ok := before[key]; ok && reflect.DeepEqual(old, value) {
			continue
		}
		changed[key] = value
	}
	return changed, nil
}
