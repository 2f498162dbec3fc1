package runtime

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcmartin/chatflow/pkg/models"
	"github.com/tcmartin/chatflow/pkg/validation"
)

// graphFixture is an in-memory GraphStore over a single flow
type graphFixture struct {
	flow models.Flow
	err  error
}

func (g *graphFixture) FindStartNodes(_ context.Context, flowID string) ([]models.FlowNode, error) {
	if g.err != nil {
		return nil, g.err
	}
	var starts []models.FlowNode
	for _, node := range g.flow.Nodes {
		if node.FlowID == flowID && node.IsStart && node.IsEnabled {
			starts = append(starts, node)
		}
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].ID < starts[j].ID })
	return starts, nil
}

func (g *graphFixture) FindByID(_ context.Context, nodeID string) (*models.FlowNode, error) {
	for _, node := range g.flow.Nodes {
		if node.ID == nodeID {
			n := node
			return &n, nil
		}
	}
	return nil, nil
}

func (g *graphFixture) FindFromNode(_ context.Context, fromNodeID string) ([]models.FlowEdge, error) {
	var edges []models.FlowEdge
	for _, edge := range g.flow.Edges {
		if edge.FromNodeID == fromNodeID {
			edges = append(edges, edge)
		}
	}
	return edges, nil
}

func (g *graphFixture) DetectCycles(_ context.Context, _ string) (validation.CycleReport, error) {
	return validation.DetectCycles(g.flow.Nodes, g.flow.Edges), nil
}

func (g *graphFixture) ValidateFlowStructure(_ context.Context, _ string) (validation.Result, error) {
	return validation.Validate(g.flow), nil
}

// executionRecorder is an ExecutionStore that keeps every write
type executionRecorder struct {
	mu         sync.Mutex
	executions map[string]models.Execution
	traces     map[string][]models.TraceEntry
	updates    []models.ExecutionUpdate
}

func newExecutionRecorder() *executionRecorder {
	return &executionRecorder{
		executions: make(map[string]models.Execution),
		traces:     make(map[string][]models.TraceEntry),
	}
}

func (r *executionRecorder) SaveExecution(_ context.Context, execution models.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executions[execution.ID] = execution
	return nil
}

func (r *executionRecorder) AddToNodeTrace(_ context.Context, executionID string, entry models.TraceEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traces[executionID] = append(r.traces[executionID], entry)
	return nil
}

func (r *executionRecorder) UpdateStatus(_ context.Context, executionID string, update models.ExecutionUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	exec, ok := r.executions[executionID]
	if !ok {
		return fmt.Errorf("execution %s not found", executionID)
	}
	updated, err := update.Apply(exec)
	if err != nil {
		return err
	}
	r.executions[executionID] = updated
	r.updates = append(r.updates, update)
	return nil
}

func (r *executionRecorder) get(id string) (models.Execution, []models.TraceEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.executions[id], r.traces[id]
}

type observerRecorder struct {
	mu       sync.Mutex
	visited  []string
	finished []ExecutionResult
}

func (o *observerRecorder) OnNodeVisited(_ models.Execution, node models.FlowNode, _ models.TraceEntry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.visited = append(o.visited, node.ID)
}

func (o *observerRecorder) OnExecutionFinished(_ models.Execution, result ExecutionResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, result)
}

const testFlowID = "flow-1"

func node(id string, category models.NodeCategory, nodeType string, config map[string]any) models.FlowNode {
	return models.FlowNode{
		ID:        id,
		FlowID:    testFlowID,
		Category:  category,
		Type:      nodeType,
		Config:    config,
		IsEnabled: true,
	}
}

func startNode(id string, category models.NodeCategory, nodeType string, config map[string]any) models.FlowNode {
	n := node(id, category, nodeType, config)
	n.IsStart = true
	return n
}

func edge(id, from, to string, order int, condition string) models.FlowEdge {
	e := models.FlowEdge{
		ID:         id,
		FlowID:     testFlowID,
		FromNodeID: from,
		ToNodeID:   to,
		Kind:       models.EdgeSuccess,
		Order:      order,
		IsEnabled:  true,
	}
	if condition != "" {
		e.Condition = models.StringPtr(condition)
		e.Kind = models.EdgeConditional
	}
	return e
}

func say(id, text string) models.FlowNode {
	return node(id, models.CategoryResponse, "text_response", map[string]any{"text": text})
}

func fixedClock() time.Time {
	return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
}

func newTestEngine(flow models.Flow, opts Options) (*Engine, *executionRecorder) {
	if opts.Clock == nil {
		opts.Clock = fixedClock
	}
	store := newExecutionRecorder()
	return NewEngine(&graphFixture{flow: flow}, store, opts), store
}

func execution(id string) models.Execution {
	return models.Execution{ID: id, BotID: "bot-1", FlowID: testFlowID, UserID: "user-1"}
}

func texts(responses []models.Response) []string {
	out := make([]string, 0, len(responses))
	for _, r := range responses {
		out = append(out, r.Content)
	}
	return out
}

func chain(length int) models.Flow {
	flow := models.Flow{ID: testFlowID}
	for i := 0; i < length; i++ {
		n := node(fmt.Sprintf("n%03d", i), models.CategoryAction, "set_variable",
			map[string]any{"variable": "last", "value": fmt.Sprintf("%d", i)})
		n.IsStart = i == 0
		flow.Nodes = append(flow.Nodes, n)
		if i > 0 {
			flow.Edges = append(flow.Edges, edge(fmt.Sprintf("e%03d", i), fmt.Sprintf("n%03d", i-1), n.ID, 0, ""))
		}
	}
	return flow
}

func TestExecuteFlow(t *testing.T) {
	t.Run("greeting flow completes", func(t *testing.T) {
		flow := models.Flow{
			ID: testFlowID,
			Nodes: []models.FlowNode{
				startNode("start", models.CategoryTrigger, "message_received", nil),
				node("name", models.CategoryAction, "set_variable", map[string]any{"variable": "name"}),
				say("greet", "Hello ${name}!"),
			},
			Edges: []models.FlowEdge{
				edge("e1", "start", "name", 1, ""),
				edge("e2", "name", "greet", 1, ""),
			},
		}
		engine, _ := newTestEngine(flow, Options{})

		result := engine.ExecuteFlow(context.Background(), execution("exec-1"), "Ada", nil)

		assert.True(t, result.Success)
		assert.False(t, result.FallbackToHuman)
		assert.Empty(t, result.Error)
		assert.Equal(t, models.StatusCompleted, result.Status)
		assert.Equal(t, []string{"Hello Ada!"}, texts(result.Responses))
		assert.Equal(t, "Ada", result.FinalContext["name"])
		assert.Equal(t, "message_received", result.FinalContext["triggeredBy"])
		assert.Equal(t, 3, result.Depth)
		require.Len(t, result.Trace, 3)
		assert.Equal(t, "start", result.Trace[0].NodeID)
		assert.Equal(t, "greet", result.Trace[2].NodeID)
	})

	t.Run("no start node", func(t *testing.T) {
		flow := models.Flow{ID: testFlowID, Nodes: []models.FlowNode{say("a", "hi")}}
		engine, _ := newTestEngine(flow, Options{})

		result := engine.ExecuteFlow(context.Background(), execution("exec-2"), "hi", nil)

		assert.False(t, result.Success)
		assert.False(t, result.FallbackToHuman)
		assert.Contains(t, result.Error, "no start node")
		assert.Equal(t, models.StatusFailed, result.Status)
		assert.Empty(t, result.Responses)
	})

	t.Run("disabled start node is ignored", func(t *testing.T) {
		start := startNode("start", models.CategoryResponse, "text_response", map[string]any{"text": "hi"})
		start.IsEnabled = false
		engine, _ := newTestEngine(models.Flow{ID: testFlowID, Nodes: []models.FlowNode{start}}, Options{})

		result := engine.ExecuteFlow(context.Background(), execution("exec-3"), "hi", nil)

		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "no start node")
	})

	t.Run("end node stops traversal", func(t *testing.T) {
		end := say("end", "bye")
		end.IsEnd = true
		flow := models.Flow{
			ID:    testFlowID,
			Nodes: []models.FlowNode{startNode("start", models.CategoryTrigger, "message_received", nil), end, say("after", "never")},
			Edges: []models.FlowEdge{edge("e1", "start", "end", 0, ""), edge("e2", "end", "after", 0, "")},
		}
		engine, _ := newTestEngine(flow, Options{})

		result := engine.ExecuteFlow(context.Background(), execution("exec-4"), "", nil)

		assert.True(t, result.Success)
		assert.Equal(t, []string{"bye"}, texts(result.Responses))
	})

	t.Run("seed context reaches handlers and is not mutated", func(t *testing.T) {
		flow := models.Flow{
			ID: testFlowID,
			Nodes: []models.FlowNode{
				startNode("start", models.CategoryAction, "set_variable", map[string]any{"variable": "plan", "value": "pro"}),
				say("reply", "${user.name} is on ${plan}"),
			},
			Edges: []models.FlowEdge{edge("e1", "start", "reply", 0, "")},
		}
		engine, _ := newTestEngine(flow, Options{})
		seed := map[string]any{"user": map[string]any{"name": "Grace"}, "plan": "free"}

		result := engine.ExecuteFlow(context.Background(), execution("exec-5"), "", seed)

		assert.Equal(t, []string{"Grace is on pro"}, texts(result.Responses))
		assert.Equal(t, "free", seed["plan"])
		assert.Equal(t, "pro", result.FinalContext["plan"])
	})

	t.Run("generates an execution id", func(t *testing.T) {
		flow := models.Flow{ID: testFlowID, Nodes: []models.FlowNode{startNode("s", models.CategoryResponse, "text_response", map[string]any{"text": "x"})}}
		engine, _ := newTestEngine(flow, Options{})

		result := engine.ExecuteFlow(context.Background(), models.Execution{FlowID: testFlowID}, "", nil)

		assert.NotEmpty(t, result.ExecutionID)
	})
}

func TestExecuteFlowDepthLimit(t *testing.T) {
	tests := []struct {
		name     string
		length   int
		success  bool
		fallback bool
		status   models.ExecutionStatus
	}{
		{name: "exactly the limit completes", length: DefaultMaxDepth, success: true, status: models.StatusCompleted},
		{name: "one more than the limit falls back", length: DefaultMaxDepth + 1, fallback: true, status: models.StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, _ := newTestEngine(chain(tt.length), Options{})

			result := engine.ExecuteFlow(context.Background(), execution("depth"), "", nil)

			assert.Equal(t, tt.success, result.Success)
			assert.Equal(t, tt.fallback, result.FallbackToHuman)
			assert.Equal(t, tt.status, result.Status)
			assert.Equal(t, DefaultMaxDepth, result.Depth)
			if !tt.success {
				assert.Contains(t, result.Error, ErrDepthExceeded.Error())
			}
		})
	}
}

func TestExecuteFlowCycleIsBoundedByDepth(t *testing.T) {
	flow := models.Flow{
		ID:    testFlowID,
		Nodes: []models.FlowNode{startNode("a", models.CategoryTrigger, "message_received", nil), say("b", "loop")},
		Edges: []models.FlowEdge{edge("e1", "a", "b", 0, ""), edge("e2", "b", "a", 0, "")},
	}
	engine, _ := newTestEngine(flow, Options{MaxDepth: 10})

	result := engine.ExecuteFlow(context.Background(), execution("cycle"), "", nil)

	assert.False(t, result.Success)
	assert.True(t, result.FallbackToHuman)
	assert.Equal(t, 10, result.Depth)
	assert.Len(t, result.Responses, 5)
}

func TestExecuteFlowEdgeSelection(t *testing.T) {
	tests := []struct {
		name      string
		edges     []models.FlowEdge
		input     string
		seed      map[string]any
		want      []string
		fallback  bool
		strict    bool
		wantError bool
	}{
		{
			name: "lowest order unconditional edge wins",
			edges: []models.FlowEdge{
				edge("e2", "start", "two", 2, ""),
				edge("e1", "start", "one", 1, ""),
				edge("e3", "start", "three", 3, ""),
			},
			want: []string{"one"},
		},
		{
			name: "context comparison is case insensitive",
			edges: []models.FlowEdge{
				edge("e1", "start", "one", 1, "context.status == 'ACTIVE'"),
				edge("e2", "start", "two", 2, ""),
			},
			seed: map[string]any{"status": "active"},
			want: []string{"one"},
		},
		{
			name: "user input contains",
			edges: []models.FlowEdge{
				edge("e1", "start", "one", 1, "userInput.contains('billing')"),
				edge("e2", "start", "two", 2, "userInput.contains('help')"),
			},
			input: "I need HELP please",
			want:  []string{"two"},
		},
		{
			name: "invalid regex never matches",
			edges: []models.FlowEdge{
				edge("e1", "start", "one", 1, "matches('[unclosed')"),
				edge("e2", "start", "two", 2, ""),
			},
			input: "[unclosed",
			want:  []string{"two"},
		},
		{
			name: "default edge used when nothing matches",
			edges: []models.FlowEdge{
				edge("e1", "start", "one", 1, "userInput.equals('yes')"),
				{ID: "e2", FlowID: testFlowID, FromNodeID: "start", ToNodeID: "three", Kind: models.EdgeDefault,
					Order: 5, Condition: models.StringPtr("userInput.equals('maybe')"), IsEnabled: true},
			},
			input: "no",
			want:  []string{"three"},
		},
		{
			name: "no admissible edge falls back",
			edges: []models.FlowEdge{
				edge("e1", "start", "one", 1, "userInput.equals('yes')"),
			},
			input:    "no",
			want:     []string{},
			fallback: true,
		},
		{
			name: "unknown condition passes by default",
			edges: []models.FlowEdge{
				edge("e1", "start", "one", 1, "some.weird >>> thing"),
			},
			want: []string{"one"},
		},
		{
			name: "unknown condition fails in strict mode",
			edges: []models.FlowEdge{
				edge("e1", "start", "one", 1, "some.weird >>> thing"),
			},
			strict:   true,
			want:     []string{},
			fallback: true,
		},
		{
			name: "disabled edges are skipped",
			edges: []models.FlowEdge{
				{ID: "e1", FlowID: testFlowID, FromNodeID: "start", ToNodeID: "one", Order: 1},
				edge("e2", "start", "two", 2, ""),
			},
			want: []string{"two"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flow := models.Flow{
				ID: testFlowID,
				Nodes: []models.FlowNode{
					startNode("start", models.CategoryTrigger, "message_received", nil),
					say("one", "one"),
					say("two", "two"),
					say("three", "three"),
				},
				Edges: tt.edges,
			}
			engine, _ := newTestEngine(flow, Options{StrictConditions: tt.strict})

			result := engine.ExecuteFlow(context.Background(), execution("edges"), tt.input, tt.seed)

			assert.True(t, result.Success)
			assert.Equal(t, tt.fallback, result.FallbackToHuman)
			assert.Equal(t, tt.want, texts(result.Responses))
		})
	}
}

func TestExecuteFlowTargets(t *testing.T) {
	t.Run("disabled target falls back", func(t *testing.T) {
		target := say("next", "hidden")
		target.IsEnabled = false
		flow := models.Flow{
			ID:    testFlowID,
			Nodes: []models.FlowNode{startNode("start", models.CategoryResponse, "text_response", map[string]any{"text": "first"}), target},
			Edges: []models.FlowEdge{edge("e1", "start", "next", 0, "")},
		}
		engine, _ := newTestEngine(flow, Options{})

		result := engine.ExecuteFlow(context.Background(), execution("disabled"), "", nil)

		assert.True(t, result.Success)
		assert.True(t, result.FallbackToHuman)
		assert.Equal(t, []string{"first"}, texts(result.Responses))
	})

	t.Run("missing target fails with fallback", func(t *testing.T) {
		flow := models.Flow{
			ID:    testFlowID,
			Nodes: []models.FlowNode{startNode("start", models.CategoryResponse, "text_response", map[string]any{"text": "first"})},
			Edges: []models.FlowEdge{edge("e1", "start", "ghost", 0, "")},
		}
		engine, _ := newTestEngine(flow, Options{})

		result := engine.ExecuteFlow(context.Background(), execution("missing"), "", nil)

		assert.False(t, result.Success)
		assert.True(t, result.FallbackToHuman)
		assert.Contains(t, result.Error, ErrMissingTargetNode.Error())
		assert.Equal(t, []string{"first"}, texts(result.Responses))
	})

	t.Run("unknown node type is a no-op", func(t *testing.T) {
		flow := models.Flow{
			ID: testFlowID,
			Nodes: []models.FlowNode{
				startNode("start", "mystery", "whatever", nil),
				say("next", "after"),
			},
			Edges: []models.FlowEdge{edge("e1", "start", "next", 0, "")},
		}
		engine, _ := newTestEngine(flow, Options{})

		result := engine.ExecuteFlow(context.Background(), execution("unknown"), "", nil)

		assert.True(t, result.Success)
		assert.Equal(t, []string{"after"}, texts(result.Responses))
		assert.Equal(t, 2, result.Depth)
	})
}

func TestExecuteFlowFallbackToHuman(t *testing.T) {
	flow := models.Flow{
		ID: testFlowID,
		Nodes: []models.FlowNode{
			startNode("start", models.CategoryTrigger, "message_received", nil),
			node("handoff", models.CategoryAdvanced, "fallback_to_human", map[string]any{"reason": "angry"}),
			say("after", "never"),
		},
		Edges: []models.FlowEdge{edge("e1", "start", "handoff", 0, ""), edge("e2", "handoff", "after", 0, "")},
	}
	engine, _ := newTestEngine(flow, Options{})

	result := engine.ExecuteFlow(context.Background(), execution("handoff"), "", nil)

	assert.True(t, result.Success)
	assert.True(t, result.FallbackToHuman)
	require.Len(t, result.Responses, 1)
	assert.Equal(t, defaultHandoff, result.Responses[0].Content)
	assert.Equal(t, "angry", result.FinalContext["fallbackReason"])
}

func TestExecuteFlowDeterministic(t *testing.T) {
	flow := models.Flow{
		ID: testFlowID,
		Nodes: []models.FlowNode{
			startNode("start", models.CategoryTrigger, "keyword_trigger", map[string]any{"keywords": []any{"order", "refund"}}),
			node("check", models.CategoryCondition, "variable_condition", map[string]any{"variable": "keywordMatched", "operator": "equals", "value": "true"}),
			say("yes", "Looking up ${matchedKeywords}"),
			say("no", "How can I help?"),
		},
		Edges: []models.FlowEdge{
			edge("e1", "start", "check", 0, ""),
			edge("e2", "check", "yes", 1, "context.conditionResult == 'true'"),
			edge("e3", "check", "no", 2, ""),
		},
	}
	engine, _ := newTestEngine(flow, Options{})

	first := engine.ExecuteFlow(context.Background(), execution("a"), "where is my order", map[string]any{"x": 1})
	second := engine.ExecuteFlow(context.Background(), execution("b"), "where is my order", map[string]any{"x": 1})

	assert.Equal(t, first.Responses, second.Responses)
	assert.Equal(t, first.FinalContext, second.FinalContext)
	assert.Equal(t, first.Depth, second.Depth)
}

func TestExecuteFlowTimeoutKeepsPartialResults(t *testing.T) {
	flow := models.Flow{
		ID: testFlowID,
		Nodes: []models.FlowNode{
			startNode("start", models.CategoryResponse, "text_response", map[string]any{"text": "before"}),
			node("slow", models.CategoryAdvanced, "slow", nil),
		},
		Edges: []models.FlowEdge{edge("e1", "start", "slow", 0, "")},
	}
	engine, store := newTestEngine(flow, Options{Timeout: 50 * time.Millisecond})
	release := make(chan struct{})
	defer close(release)
	engine.Processor().Register(models.CategoryAdvanced, "slow", HandlerFunc(func(_ context.Context, _ NodeRequest) NodeResult {
		<-release
		return NodeResult{Responses: []models.Response{models.TextResponse("late")}}
	}))

	result := engine.ExecuteFlow(context.Background(), execution("timeout"), "", nil)

	assert.False(t, result.Success)
	assert.True(t, result.FallbackToHuman)
	assert.Equal(t, models.StatusTimeout, result.Status)
	assert.Equal(t, ErrExecutionTimeout.Error(), result.Error)
	assert.Equal(t, []string{"before"}, texts(result.Responses))

	saved, _ := store.get("timeout")
	assert.Equal(t, models.StatusTimeout, saved.Status)
}

func TestExecuteFlowCancelled(t *testing.T) {
	flow := models.Flow{
		ID:    testFlowID,
		Nodes: []models.FlowNode{startNode("start", models.CategoryAdvanced, "wait", nil)},
	}
	engine, _ := newTestEngine(flow, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	engine.Processor().Register(models.CategoryAdvanced, "wait", HandlerFunc(func(ctx context.Context, _ NodeRequest) NodeResult {
		cancel()
		<-ctx.Done()
		return NodeResult{}
	}))

	result := engine.ExecuteFlow(ctx, execution("cancel"), "", nil)

	assert.Equal(t, models.StatusCancelled, result.Status)
	assert.Equal(t, ErrExecutionCancelled.Error(), result.Error)
	assert.True(t, result.FallbackToHuman)
}

func TestExecuteFlowRecoversFromPanic(t *testing.T) {
	flow := models.Flow{
		ID: testFlowID,
		Nodes: []models.FlowNode{
			startNode("start", models.CategoryResponse, "text_response", map[string]any{"text": "ok"}),
			node("boom", models.CategoryAdvanced, "boom", nil),
		},
		Edges: []models.FlowEdge{edge("e1", "start", "boom", 0, "")},
	}
	engine, _ := newTestEngine(flow, Options{})
	engine.Processor().Register(models.CategoryAdvanced, "boom", HandlerFunc(func(context.Context, NodeRequest) NodeResult {
		panic("kaboom")
	}))

	result := engine.ExecuteFlow(context.Background(), execution("panic"), "", nil)

	assert.False(t, result.Success)
	assert.True(t, result.FallbackToHuman)
	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Contains(t, result.Error, "kaboom")
	assert.Equal(t, []string{"ok"}, texts(result.Responses))
}

func TestExecuteFlowNodeError(t *testing.T) {
	flow := models.Flow{
		ID:    testFlowID,
		Nodes: []models.FlowNode{startNode("start", models.CategoryAdvanced, "broken", nil)},
	}
	engine, _ := newTestEngine(flow, Options{})
	engine.Processor().Register(models.CategoryAdvanced, "broken", HandlerFunc(func(context.Context, NodeRequest) NodeResult {
		return NodeResult{Error: "upstream unavailable", Delta: map[string]any{"attempted": true}}
	}))

	result := engine.ExecuteFlow(context.Background(), execution("err"), "", nil)

	assert.False(t, result.Success)
	assert.True(t, result.FallbackToHuman)
	assert.Contains(t, result.Error, "upstream unavailable")
	assert.Equal(t, true, result.FinalContext["attempted"])
}

func TestExecuteFlowHandlerCannotMutateEngineContext(t *testing.T) {
	flow := models.Flow{
		ID: testFlowID,
		Nodes: []models.FlowNode{
			startNode("start", models.CategoryAdvanced, "mutate", nil),
			say("next", "${secret}"),
		},
		Edges: []models.FlowEdge{edge("e1", "start", "next", 0, "")},
	}
	engine, _ := newTestEngine(flow, Options{})
	engine.Processor().Register(models.CategoryAdvanced, "mutate", HandlerFunc(func(_ context.Context, req NodeRequest) NodeResult {
		req.Context["secret"] = "leaked"
		return NodeResult{}
	}))

	result := engine.ExecuteFlow(context.Background(), execution("mutate"), "", map[string]any{"secret": "kept"})

	assert.Equal(t, []string{"kept"}, texts(result.Responses))
}

func TestExecuteFlowPersistsTrace(t *testing.T) {
	flow := models.Flow{
		ID: testFlowID,
		Nodes: []models.FlowNode{
			startNode("start", models.CategoryTrigger, "message_received", nil),
			say("reply", "hi"),
		},
		Edges: []models.FlowEdge{edge("e1", "start", "reply", 0, "")},
	}
	observer := &observerRecorder{}
	engine, store := newTestEngine(flow, Options{Observer: observer})

	result := engine.ExecuteFlow(context.Background(), execution("persist"), "hello", nil)

	saved, trace := store.get("persist")
	assert.Equal(t, models.StatusCompleted, saved.Status)
	assert.Equal(t, fixedClock(), saved.EndTime)
	assert.Equal(t, "message_received", saved.Context["triggeredBy"])
	require.Len(t, trace, 2)
	assert.Equal(t, "start", trace[0].NodeID)
	assert.Equal(t, "reply", trace[1].NodeID)
	assert.Equal(t, result.Trace, trace)

	assert.Equal(t, []string{"start", "reply"}, observer.visited)
	require.Len(t, observer.finished, 1)
	assert.Equal(t, result.ExecutionID, observer.finished[0].ExecutionID)
}

func TestExecuteFlowKeepsExternalTerminalStatus(t *testing.T) {
	flow := models.Flow{
		ID:    testFlowID,
		Nodes: []models.FlowNode{startNode("start", models.CategoryAdvanced, "cancel_elsewhere", nil)},
	}
	engine, store := newTestEngine(flow, Options{})
	engine.Processor().Register(models.CategoryAdvanced, "cancel_elsewhere", HandlerFunc(func(_ context.Context, req NodeRequest) NodeResult {
		// Wait for the running record, then cancel it out of band.
		assert.Eventually(t, func() bool {
			exec, _ := store.get(req.ExecutionID)
			return exec.ID != ""
		}, time.Second, time.Millisecond)
		_ = store.UpdateStatus(context.Background(), req.ExecutionID, models.ExecutionUpdate{Status: models.StatusCancelled})
		return NodeResult{}
	}))

	result := engine.ExecuteFlow(context.Background(), execution("external"), "", nil)

	assert.Equal(t, models.StatusCompleted, result.Status)
	saved, _ := store.get("external")
	assert.Equal(t, models.StatusCancelled, saved.Status)
}

func TestExecuteFlowWithoutExecutionStore(t *testing.T) {
	flow := models.Flow{ID: testFlowID, Nodes: []models.FlowNode{startNode("s", models.CategoryResponse, "text_response", map[string]any{"text": "x"})}}
	engine := NewEngine(&graphFixture{flow: flow}, nil, Options{})

	result := engine.ExecuteFlow(context.Background(), execution("nostore"), "", nil)

	assert.True(t, result.Success)
	assert.Equal(t, []string{"x"}, texts(result.Responses))
}

func TestExecuteFlowStoreError(t *testing.T) {
	engine := NewEngine(&graphFixture{err: fmt.Errorf("connection refused")}, nil, Options{})

	result := engine.ExecuteFlow(context.Background(), execution("storeerr"), "", nil)

	assert.False(t, result.Success)
	assert.True(t, result.FallbackToHuman)
	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Contains(t, result.Error, "connection refused")
}

func TestValidateFlow(t *testing.T) {
	flow := models.Flow{
		ID: testFlowID,
		Nodes: []models.FlowNode{
			startNode("a", models.CategoryTrigger, "message_received", nil),
			say("b", "b"),
			say("c", "c"),
		},
		Edges: []models.FlowEdge{
			edge("e1", "a", "b", 0, ""),
			edge("e2", "b", "c", 0, ""),
			edge("e3", "c", "a", 0, ""),
		},
	}
	engine, _ := newTestEngine(flow, Options{})

	result, err := engine.ValidateFlow(context.Background(), testFlowID)

	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.Contains(t, result.Errors, "cycle detected: a -> b -> c -> a")
	count := 0
	for _, e := range result.Errors {
		if e == "cycle detected: a -> b -> c -> a" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
