package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tcmartin/chatflow/pkg/logging"
	"github.com/tcmartin/chatflow/pkg/metrics"
	"github.com/tcmartin/chatflow/pkg/models"
	"github.com/tcmartin/chatflow/pkg/scripting"
	"github.com/tcmartin/chatflow/pkg/utils"
	"github.com/tcmartin/chatflow/pkg/validation"
)

const (
	// DefaultMaxDepth bounds the number of nodes processed per execution
	DefaultMaxDepth = 100

	// DefaultTimeout bounds the wall clock duration of an execution
	DefaultTimeout = 30 * time.Second

	// DefaultPersistTimeout bounds how long ExecuteFlow waits for queued persistence writes
	DefaultPersistTimeout = 2 * time.Second
)

// Fallback reasons reported in metrics
const (
	reasonNoStartNode   = "no_start_node"
	reasonNodeRequested = "node_requested"
	reasonNoMatchedEdge = "no_matching_edge"
	reasonDisabledNode  = "disabled_target"
	reasonMissingTarget = "missing_target"
	reasonNodeError     = "node_error"
	reasonDepth         = "depth_exceeded"
	reasonTimeout       = "timeout"
	reasonCancelled     = "cancelled"
	reasonStore         = "store_error"
)

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	MaxDepth       int
	Timeout        time.Duration
	PersistTimeout time.Duration

	// StrictConditions makes unrecognized edge conditions evaluate to false
	StrictConditions bool

	Logger       logging.Logger
	Metrics      *metrics.EngineMetrics
	AIProvider   AIProvider
	AITimeout    time.Duration
	ScriptEngine scripting.ScriptEngine
	Observer     Observer
	Clock        func() time.Time

	// Evaluator and Processor replace the built-in condition evaluator and node processor
	Evaluator scripting.Evaluator
	Processor *NodeProcessor
}

// Engine traverses flow graphs one turn at a time. It holds no per-execution state
// and is safe for concurrent use.
type Engine struct {
	graph      GraphStore
	executions ExecutionStore
	processor  *NodeProcessor
	selector   *EdgeSelector
	opts       Options
	logger     logging.Logger
}

var _ FlowEngine = (*Engine)(nil)

// NewEngine creates an engine. executions may be nil to skip persistence.
func NewEngine(graph GraphStore, executions ExecutionStore, opts Options) *Engine {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = DefaultPersistTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Evaluator == nil {
		opts.Evaluator = scripting.NewConditionEvaluator(opts.Logger, opts.StrictConditions)
	}
	if opts.Processor == nil {
		opts.Processor = NewNodeProcessor(ProcessorOptions{
			Logger:       opts.Logger,
			Metrics:      opts.Metrics,
			AIProvider:   opts.AIProvider,
			AITimeout:    opts.AITimeout,
			ScriptEngine: opts.ScriptEngine,
			Clock:        opts.Clock,
		})
	}

	return &Engine{
		graph:      graph,
		executions: executions,
		processor:  opts.Processor,
		selector:   NewEdgeSelector(opts.Evaluator),
		opts:       opts,
		logger:     opts.Logger,
	}
}

// Processor exposes the node processor so callers can register extra handlers
func (e *Engine) Processor() *NodeProcessor {
	return e.processor
}

// turn is the state of one execution. It never escapes ExecuteFlow.
type turn struct {
	execution models.Execution
	userInput string
	vars      map[string]any
	responses []models.Response
	trace     []models.TraceEntry
	depth     int
	started   time.Time
	writer    *traceWriter
}

type outcome struct {
	status   models.ExecutionStatus
	success  bool
	fallback bool
	reason   string
	err      error
}

// ExecuteFlow runs one turn of execution.FlowID for userInput. vars seeds the context.
func (e *Engine) ExecuteFlow(ctx context.Context, execution models.Execution, userInput string, vars map[string]any) ExecutionResult {
	if execution.ID == "" {
		execution.ID = uuid.New().String()
	}
	execution.Status = models.StatusRunning
	execution.StartTime = e.opts.Clock()
	execution.EndTime = time.Time{}
	execution.Error = ""
	execution.NodeTrace = nil
	execution.Context = utils.CopyMap(vars)

	t := &turn{
		execution: execution,
		userInput: userInput,
		vars:      utils.CopyMap(vars),
		responses: []models.Response{},
		trace:     []models.TraceEntry{},
		started:   time.Now(),
		writer:    newTraceWriter(ctx, e.executions, execution.ID, e.logger, e.opts.Metrics),
	}
	t.writer.saveExecution(execution)

	e.logger.LogFlowExecution(execution.FlowID, execution.ID, "started", map[string]any{
		"bot_id":  execution.BotID,
		"user_id": execution.UserID,
	})

	runCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	return e.finish(t, e.traverse(runCtx, t))
}

func (e *Engine) traverse(ctx context.Context, t *turn) outcome {
	flowID := t.execution.FlowID

	starts, err := e.graph.FindStartNodes(ctx, flowID)
	if err != nil {
		if o, done := interrupted(ctx); done {
			return o
		}
		return failure(reasonStore, fmt.Errorf("failed to load start nodes: %w", err))
	}
	var current *models.FlowNode
	for i := range starts {
		if starts[i].IsEnabled {
			current = &starts[i]
			break
		}
	}
	if current == nil {
		return outcome{
			status: models.StatusFailed,
			reason: reasonNoStartNode,
			err:    fmt.Errorf("%w for flow %s", ErrNoStartNode, flowID),
		}
	}

	for {
		if t.depth >= e.opts.MaxDepth {
			return failure(reasonDepth, fmt.Errorf("%w (%d nodes)", ErrDepthExceeded, e.opts.MaxDepth))
		}
		if o, done := interrupted(ctx); done {
			return o
		}

		result, err := e.processNode(ctx, t, *current)
		if err != nil {
			if o, done := interrupted(ctx); done {
				return o
			}
			e.opts.Metrics.RecordNodeError(string(current.Category), current.Type)
			return failure(reasonNodeError, fmt.Errorf("node %s: %w", current.ID, err))
		}
		e.apply(t, *current, result)

		if result.Error != "" {
			e.opts.Metrics.RecordNodeError(string(current.Category), current.Type)
			return failure(reasonNodeError, fmt.Errorf("node %s: %s", current.ID, result.Error))
		}
		if result.FallbackToHuman {
			return outcome{status: models.StatusCompleted, success: true, fallback: true, reason: reasonNodeRequested}
		}
		if result.ShouldStop || current.IsEnd {
			return completed()
		}
		if o, done := interrupted(ctx); done {
			return o
		}

		edges, err := e.graph.FindFromNode(ctx, current.ID)
		if err != nil {
			if o, done := interrupted(ctx); done {
				return o
			}
			return failure(reasonStore, fmt.Errorf("failed to load edges of node %s: %w", current.ID, err))
		}
		enabled := edges[:0:0]
		for _, edge := range edges {
			if edge.IsEnabled {
				enabled = append(enabled, edge)
			}
		}
		if len(enabled) == 0 {
			return completed()
		}

		edge := e.selector.SelectNextEdge(enabled, t.vars, t.userInput)
		if edge == nil {
			return outcome{status: models.StatusCompleted, success: true, fallback: true, reason: reasonNoMatchedEdge}
		}

		next, err := e.graph.FindByID(ctx, edge.ToNodeID)
		if err != nil {
			if o, done := interrupted(ctx); done {
				return o
			}
			return failure(reasonStore, fmt.Errorf("failed to load node %s: %w", edge.ToNodeID, err))
		}
		if next == nil {
			return failure(reasonMissingTarget, fmt.Errorf("%w: edge %s points at %s", ErrMissingTargetNode, edge.ID, edge.ToNodeID))
		}
		if !next.IsEnabled {
			return outcome{status: models.StatusCompleted, success: true, fallback: true, reason: reasonDisabledNode}
		}
		current = next
	}
}

type nodeOutcome struct {
	result NodeResult
	err    error
}

// processNode races the handler against the execution deadline. A handler that ignores
// cancellation is abandoned; it only ever sees a private copy of the context.
func (e *Engine) processNode(ctx context.Context, t *turn, node models.FlowNode) (NodeResult, error) {
	req := NodeRequest{
		ExecutionID: t.execution.ID,
		Node:        node,
		Context:     utils.CopyMap(t.vars),
		UserInput:   t.userInput,
	}

	done := make(chan nodeOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("node handler panicked",
					logging.F("execution_id", req.ExecutionID),
					logging.F("node_id", node.ID),
					logging.F("panic", r),
				)
				done <- nodeOutcome{err: fmt.Errorf("%w: %v", ErrNodeFault, r)}
			}
		}()
		done <- nodeOutcome{result: e.processor.Process(ctx, req)}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return NodeResult{}, ctx.Err()
	}
}

// apply merges a node result into the turn: new context, responses and a trace entry
func (e *Engine) apply(t *turn, node models.FlowNode, result NodeResult) {
	t.depth++

	delta := utils.CopyMap(result.Delta)
	next := utils.CopyMap(t.vars)
	for k, v := range delta {
		next[k] = v
	}
	t.vars = next
	t.responses = append(t.responses, result.Responses...)

	entry := models.TraceEntry{
		NodeID:    node.ID,
		Timestamp: e.opts.Clock(),
		Data:      delta,
	}
	t.trace = append(t.trace, entry)
	t.writer.addTrace(entry)

	e.opts.Metrics.RecordNodeProcessed(string(node.Category), node.Type)
	e.logger.LogNodeExecution(t.execution.FlowID, t.execution.ID, node.ID, "processed", map[string]any{
		"category":  node.Category,
		"type":      node.Type,
		"responses": len(result.Responses),
		"stop":      result.ShouldStop,
		"fallback":  result.FallbackToHuman,
	})
	if e.opts.Observer != nil {
		e.opts.Observer.OnNodeVisited(t.execution, node, entry)
	}
}

func (e *Engine) finish(t *turn, o outcome) ExecutionResult {
	result := ExecutionResult{
		ExecutionID:     t.execution.ID,
		Success:         o.success,
		Responses:       t.responses,
		FallbackToHuman: o.fallback,
		FinalContext:    t.vars,
		Status:          o.status,
		Depth:           t.depth,
		Trace:           t.trace,
	}
	if o.err != nil {
		result.Error = o.err.Error()
	}

	t.execution.Status = o.status
	t.execution.Error = result.Error
	t.execution.Context = t.vars
	t.execution.NodeTrace = t.trace
	t.execution.EndTime = e.opts.Clock()

	t.writer.updateStatus(models.ExecutionUpdate{
		Status:  o.status,
		Error:   result.Error,
		Context: utils.CopyMap(t.vars),
		EndTime: t.execution.EndTime,
	})
	t.writer.close(e.opts.PersistTimeout)

	e.opts.Metrics.RecordExecution(string(o.status), time.Since(t.started), t.depth)
	if o.fallback {
		e.opts.Metrics.RecordFallback(o.reason)
	}

	event := string(o.status)
	data := map[string]any{
		"depth":     t.depth,
		"responses": len(t.responses),
		"fallback":  o.fallback,
	}
	if o.err != nil {
		data["error"] = result.Error
	}
	e.logger.LogFlowExecution(t.execution.FlowID, t.execution.ID, event, data)

	if e.opts.Observer != nil {
		e.opts.Observer.OnExecutionFinished(t.execution, result)
	}
	return result
}

// ValidateFlow runs the structural validator and merges in any cycle the store reports
func (e *Engine) ValidateFlow(ctx context.Context, flowID string) (validation.Result, error) {
	result, err := e.graph.ValidateFlowStructure(ctx, flowID)
	if err != nil {
		return validation.Result{}, fmt.Errorf("failed to validate flow %s: %w", flowID, err)
	}
	report, err := e.graph.DetectCycles(ctx, flowID)
	if err != nil {
		return validation.Result{}, fmt.Errorf("failed to detect cycles in flow %s: %w", flowID, err)
	}

	for _, cycle := range report.Cycles {
		message := fmt.Sprintf("cycle detected: %s -> %s", strings.Join(cycle, " -> "), cycle[0])
		if !contains(result.Errors, message) {
			result.Errors = append(result.Errors, message)
		}
	}
	result.IsValid = len(result.Errors) == 0
	return result, nil
}

func completed() outcome {
	return outcome{status: models.StatusCompleted, success: true}
}

func failure(reason string, err error) outcome {
	return outcome{status: models.StatusFailed, fallback: true, reason: reason, err: err}
}

// interrupted maps a done context to its terminal outcome
func interrupted(ctx context.Context) (outcome, bool) {
	switch {
	case ctx.Err() == nil:
		return outcome{}, false
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return outcome{status: models.StatusTimeout, fallback: true, reason: reasonTimeout, err: ErrExecutionTimeout}, true
	default:
		return outcome{status: models.StatusCancelled, fallback: true, reason: reasonCancelled, err: ErrExecutionCancelled}, true
	}
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
