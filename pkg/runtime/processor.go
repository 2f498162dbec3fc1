package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/tcmartin/chatflow/pkg/logging"
	"github.com/tcmartin/chatflow/pkg/metrics"
	"github.com/tcmartin/chatflow/pkg/models"
	"github.com/tcmartin/chatflow/pkg/scripting"
	"github.com/tcmartin/chatflow/pkg/utils"
)

// NodeRequest is the input of one node handler call. Context is a private copy.
type NodeRequest struct {
	ExecutionID string
	Node        models.FlowNode
	Context     map[string]any
	UserInput   string
}

// Config returns the node config, never nil
func (r NodeRequest) Config() map[string]any {
	if r.Node.Config == nil {
		return map[string]any{}
	}
	return r.Node.Config
}

// Vars returns the template variables for interpolation: the context plus userInput
func (r NodeRequest) Vars() map[string]any {
	vars := make(map[string]any, len(r.Context)+1)
	for k, v := range r.Context {
		vars[k] = v
	}
	if _, ok := vars["userInput"]; !ok {
		vars["userInput"] = r.UserInput
	}
	return vars
}

// NodeResult is what a handler produces: responses, a context delta and control signals
type NodeResult struct {
	Responses       []models.Response `json:"responses,omitempty"`
	Delta           map[string]any    `json:"delta,omitempty"`
	ShouldStop      bool              `json:"should_stop,omitempty"`
	FallbackToHuman bool              `json:"fallback_to_human,omitempty"`
	Error           string            `json:"error,omitempty"`
}

// NodeHandler processes one node type
type NodeHandler interface {
	Process(ctx context.Context, req NodeRequest) NodeResult
}

// HandlerFunc adapts a function to NodeHandler
type HandlerFunc func(ctx context.Context, req NodeRequest) NodeResult

func (f HandlerFunc) Process(ctx context.Context, req NodeRequest) NodeResult {
	return f(ctx, req)
}

// ProcessorOptions configures the built-in handlers
type ProcessorOptions struct {
	Logger       logging.Logger
	Metrics      *metrics.EngineMetrics
	AIProvider   AIProvider
	AITimeout    time.Duration
	ScriptEngine scripting.ScriptEngine
	Clock        func() time.Time
}

// NodeProcessor dispatches nodes by category, then type
type NodeProcessor struct {
	mu       sync.RWMutex
	handlers map[models.NodeCategory]map[string]NodeHandler

	logger    logging.Logger
	metrics   *metrics.EngineMetrics
	ai        AIProvider
	aiTimeout time.Duration
	scripts   scripting.ScriptEngine
	now       func() time.Time
}

// NewNodeProcessor creates a processor with every built-in handler registered
func NewNodeProcessor(opts ProcessorOptions) *NodeProcessor {
	p := &NodeProcessor{
		handlers:  make(map[models.NodeCategory]map[string]NodeHandler),
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		ai:        opts.AIProvider,
		aiTimeout: opts.AITimeout,
		scripts:   opts.ScriptEngine,
		now:       opts.Clock,
	}
	if p.logger == nil {
		p.logger = logging.NewNopLogger()
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.aiTimeout <= 0 {
		p.aiTimeout = 10 * time.Second
	}

	p.registerTriggerNodes()
	p.registerConditionNodes()
	p.registerActionNodes()
	p.registerResponseNodes()
	p.registerIntegrationNodes()
	p.registerAINodes()
	p.registerFlowControlNodes()
	p.registerValidationNodes()
	p.registerAdvancedNodes()
	return p
}

// Register installs or replaces the handler for (category, nodeType)
func (p *NodeProcessor) Register(category models.NodeCategory, nodeType string, handler NodeHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()

	byType, ok := p.handlers[category]
	if !ok {
		byType = make(map[string]NodeHandler)
		p.handlers[category] = byType
	}
	byType[nodeType] = handler
}

// Lookup returns the handler for (category, nodeType)
func (p *NodeProcessor) Lookup(category models.NodeCategory, nodeType string) (NodeHandler, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	handler, ok := p.handlers[category][nodeType]
	return handler, ok
}

// Types lists the registered node types of a category
func (p *NodeProcessor) Types(category models.NodeCategory) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	types := make([]string, 0, len(p.handlers[category]))
	for t := range p.handlers[category] {
		types = append(types, t)
	}
	return types
}

// Process runs the handler for req.Node. Unknown categories and types produce an empty result.
func (p *NodeProcessor) Process(ctx context.Context, req NodeRequest) NodeResult {
	handler, ok := p.Lookup(req.Node.Category, req.Node.Type)
	if !ok {
		p.logger.Debug("no handler for node",
			logging.F("node_id", req.Node.ID),
			logging.F("category", req.Node.Category),
			logging.F("type", req.Node.Type),
		)
		return NodeResult{}
	}
	return handler.Process(ctx, req)
}

func (p *NodeProcessor) register(category models.NodeCategory, handlers map[string]HandlerFunc) {
	for nodeType, fn := range handlers {
		p.Register(category, nodeType, fn)
	}
}

func (p *NodeProcessor) timestamp() string {
	return p.now().UTC().Format(time.RFC3339)
}

func textResponse(text string, vars map[string]any) models.Response {
	return models.TextResponse(utils.Interpolate(text, vars))
}
