package interpreter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/flowscript/internal/events"
	"github.com/lyzr/flowscript/internal/flowerrors"
	"github.com/lyzr/flowscript/internal/registry"
	"github.com/lyzr/flowscript/internal/runctx"
	"github.com/lyzr/flowscript/internal/state"
)

// fnNode adapts a plain function into a registry.Node for tests, avoiding a
// dependency on internal/nodes.
type fnNode struct {
	name string
	kind registry.Kind
	fn   func(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error)
}

func (f fnNode) Metadata() registry.Metadata { return registry.Metadata{Name: f.name, Kind: f.kind} }
func (f fnNode) Execute(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error) {
	return f.fn(ctx, in)
}

func newTestInterpreter(t *testing.T, nodes ...fnNode) (*Interpreter, *registry.Registry) {
	t.Helper()
	reg := registry.New(nil)
	for _, n := range nodes {
		reg.Register(n)
	}
	return New(reg, nil, time.Second), reg
}

func collectEvents(interp *Interpreter, workflowID, executionID string) (*runctx.Context, *[]events.Event) {
	var got []events.Event
	rt := runctx.New(workflowID, executionID, func(ev events.Event) { got = append(got, ev) })
	return rt, &got
}

func TestRun_SequentialNodesMergeStateAndComplete(t *testing.T) {
	increment := fnNode{name: "increment", kind: registry.KindAction, fn: func(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error) {
		count, _ := in.State.Get("count")
		c, _ := count.(float64)
		return registry.NewEdgeMap(registry.StaticEdge("done", map[string]interface{}{"count": c + 1})), nil
	}}
	interp, _ := newTestInterpreter(t, increment)

	st, err := state.New(map[string]interface{}{"count": 0})
	require.NoError(t, err)
	rt, got := collectEvents(interp, "wf1", "ex1")

	wf := &Workflow{Name: "seq", Nodes: []Element{
		{Kind: ElementNodeRef, NodeName: "increment"},
		{Kind: ElementNodeRef, NodeName: "increment"},
		{Kind: ElementNodeRef, NodeName: "increment"},
	}}

	result := interp.Run(context.Background(), wf, st, rt)
	require.NoError(t, result.Err)
	assert.True(t, result.Completed)
	assert.Equal(t, float64(3), result.State["count"])

	assert.Equal(t, events.WorkflowStarted, (*got)[0].Event)
	assert.Equal(t, events.WorkflowCompleted, (*got)[len(*got)-1].Event)
}

func TestRun_BranchSelectsBodyByEdgeName(t *testing.T) {
	classify := fnNode{name: "classify", kind: registry.KindAction, fn: func(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error) {
		return registry.NewEdgeMap(registry.StaticEdge("high", nil)), nil
	}}
	markHigh := fnNode{name: "markHigh", kind: registry.KindAction, fn: func(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error) {
		return registry.NewEdgeMap(registry.StaticEdge("done", map[string]interface{}{"branch": "high"})), nil
	}}
	markLow := fnNode{name: "markLow", kind: registry.KindAction, fn: func(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error) {
		return registry.NewEdgeMap(registry.StaticEdge("done", map[string]interface{}{"branch": "low"})), nil
	}}
	interp, _ := newTestInterpreter(t, classify, markHigh, markLow)

	st, err := state.New(nil)
	require.NoError(t, err)
	rt, _ := collectEvents(interp, "wf1", "ex1")

	wf := &Workflow{Name: "branch", Nodes: []Element{
		{
			Kind:      ElementBranch,
			Condition: &Element{Kind: ElementNodeRef, NodeName: "classify"},
			Branches: map[string][]Element{
				"high": {{Kind: ElementNodeRef, NodeName: "markHigh"}},
				"low":  {{Kind: ElementNodeRef, NodeName: "markLow"}},
			},
		},
	}}

	result := interp.Run(context.Background(), wf, st, rt)
	require.NoError(t, result.Err)
	assert.Equal(t, "high", result.State["branch"])
}

func TestRun_LoopRepeatsUntilExitLoop(t *testing.T) {
	iterations := 0
	controller := fnNode{name: "whileLess", kind: registry.KindControl, fn: func(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error) {
		if iterations >= 3 {
			return registry.NewEdgeMap(registry.StaticEdge("exit_loop", nil)), nil
		}
		return registry.NewEdgeMap(registry.StaticEdge("next_iteration", nil)), nil
	}}
	body := fnNode{name: "tick", kind: registry.KindAction, fn: func(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error) {
		iterations++
		return registry.NewEdgeMap(registry.StaticEdge("done", nil)), nil
	}}
	interp, _ := newTestInterpreter(t, controller, body)

	st, err := state.New(nil)
	require.NoError(t, err)
	rt, _ := collectEvents(interp, "wf1", "ex1")

	wf := &Workflow{Name: "loop", Nodes: []Element{
		{
			Kind:      ElementLoop,
			Condition: &Element{Kind: ElementNodeRef, NodeName: "whileLess"},
			Body:      []Element{{Kind: ElementNodeRef, NodeName: "tick"}},
		},
	}}

	result := interp.Run(context.Background(), wf, st, rt)
	require.NoError(t, result.Err)
	assert.Equal(t, 3, iterations)
}

func TestRun_ExitEdgeStopsExecutionEarly(t *testing.T) {
	neverRan := false
	exitNode := fnNode{name: "exit", kind: registry.KindControl, fn: func(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error) {
		return registry.NewEdgeMap(registry.StaticEdge("exit", nil)), nil
	}}
	never := fnNode{name: "never", kind: registry.KindAction, fn: func(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error) {
		neverRan = true
		return registry.NewEdgeMap(registry.StaticEdge("done", nil)), nil
	}}
	interp, _ := newTestInterpreter(t, exitNode, never)

	st, err := state.New(nil)
	require.NoError(t, err)
	rt, _ := collectEvents(interp, "wf1", "ex1")

	wf := &Workflow{Name: "exit", Nodes: []Element{
		{Kind: ElementNodeRef, NodeName: "exit"},
		{Kind: ElementNodeRef, NodeName: "never"},
	}}

	result := interp.Run(context.Background(), wf, st, rt)
	require.NoError(t, result.Err)
	assert.Equal(t, "explicit_exit", result.ExitSignal)
	assert.False(t, neverRan, "a node after an exit edge must not execute")
}

func TestRun_NodeFailureEmitsWorkflowFailed(t *testing.T) {
	boom := fnNode{name: "boom", kind: registry.KindAction, fn: func(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error) {
		return nil, errBoom
	}}
	interp, _ := newTestInterpreter(t, boom)

	st, err := state.New(nil)
	require.NoError(t, err)
	rt, got := collectEvents(interp, "wf1", "ex1")

	wf := &Workflow{Name: "fail", Nodes: []Element{{Kind: ElementNodeRef, NodeName: "boom"}}}
	result := interp.Run(context.Background(), wf, st, rt)

	require.Error(t, result.Err)
	assert.False(t, result.Completed)
	assert.Equal(t, events.WorkflowFailed, (*got)[len(*got)-1].Event)
}

func TestRun_UnknownNodeIsRejected(t *testing.T) {
	interp, _ := newTestInterpreter(t)
	st, err := state.New(nil)
	require.NoError(t, err)
	rt, _ := collectEvents(interp, "wf1", "ex1")

	wf := &Workflow{Name: "missing", Nodes: []Element{{Kind: ElementNodeRef, NodeName: "ghost"}}}
	result := interp.Run(context.Background(), wf, st, rt)
	require.Error(t, result.Err)
}

func TestRun_TimeoutExceededFailsExecution(t *testing.T) {
	spin := fnNode{name: "spin", kind: registry.KindControl, fn: func(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error) {
		return registry.NewEdgeMap(registry.StaticEdge("next_iteration", nil)), nil
	}}
	tick := fnNode{name: "tick", kind: registry.KindAction, fn: func(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error) {
		time.Sleep(2 * time.Millisecond)
		return registry.NewEdgeMap(registry.StaticEdge("done", nil)), nil
	}}
	reg := registry.New(nil)
	reg.Register(spin)
	reg.Register(tick)
	interp := New(reg, nil, 5*time.Millisecond)

	st, err := state.New(nil)
	require.NoError(t, err)
	rt, _ := collectEvents(interp, "wf1", "ex1")

	wf := &Workflow{Name: "spin", Nodes: []Element{
		{Kind: ElementLoop, Condition: &Element{Kind: ElementNodeRef, NodeName: "spin"}, Body: []Element{{Kind: ElementNodeRef, NodeName: "tick"}}},
	}}
	result := interp.Run(context.Background(), wf, st, rt)
	require.Error(t, result.Err)
}

func TestRun_CancellationMidNodeDiscardsItsEdge(t *testing.T) {
	// The cancelling node's own edge (an "exit" here, chosen because it is
	// the hardest to accidentally suppress) must never take effect once
	// cancellation fired while it was executing — only the interpreter's
	// own suspend-point check, run immediately after Execute returns, may
	// decide the outcome.
	cancelling := fnNode{name: "cancelling", kind: registry.KindAction, fn: func(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error) {
		in.Runtime.RequestCancellation()
		return registry.NewEdgeMap(registry.StaticEdge("exit", map[string]interface{}{"shouldNotMerge": true})), nil
	}}
	never := fnNode{name: "never", kind: registry.KindAction, fn: func(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error) {
		return registry.NewEdgeMap(registry.StaticEdge("done", nil)), nil
	}}
	interp, _ := newTestInterpreter(t, cancelling, never)

	st, err := state.New(nil)
	require.NoError(t, err)
	rt, _ := collectEvents(interp, "wf1", "ex1")

	wf := &Workflow{Name: "cancel-mid-node", Nodes: []Element{
		{Kind: ElementNodeRef, NodeName: "cancelling"},
		{Kind: ElementNodeRef, NodeName: "never"},
	}}

	result := interp.Run(context.Background(), wf, st, rt)
	require.Error(t, result.Err)
	assert.False(t, result.Completed)
	assert.NotEqual(t, "explicit_exit", result.ExitSignal, "the in-flight node's exit edge must be discarded, not honored")
	_, ok := result.State["shouldNotMerge"]
	assert.False(t, ok, "the in-flight node's payload must not be merged into state")
}

func TestRun_EmptyNodeListCompletesImmediately(t *testing.T) {
	interp, _ := newTestInterpreter(t)
	st, err := state.New(map[string]interface{}{"seed": true})
	require.NoError(t, err)
	rt, got := collectEvents(interp, "wf1", "ex1")

	wf := &Workflow{Name: "empty", Nodes: nil}
	result := interp.Run(context.Background(), wf, st, rt)

	require.NoError(t, result.Err)
	assert.True(t, result.Completed)
	assert.Equal(t, true, result.State["seed"], "initial state survives untouched")
	require.Len(t, *got, 2)
	assert.Equal(t, events.WorkflowStarted, (*got)[0].Event)
	assert.Equal(t, events.WorkflowCompleted, (*got)[1].Event)
}

func TestRun_LoopToReExecutesTargetWithinFrame(t *testing.T) {
	runs := 0
	retry := fnNode{name: "retry", kind: registry.KindAction, fn: func(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error) {
		runs++
		if runs < 3 {
			return registry.NewEdgeMap(registry.StaticEdge("loopTo:retry", nil)), nil
		}
		return registry.NewEdgeMap(registry.StaticEdge("done", nil)), nil
	}}
	interp, _ := newTestInterpreter(t, retry)

	st, err := state.New(nil)
	require.NoError(t, err)
	rt, _ := collectEvents(interp, "wf1", "ex1")

	wf := &Workflow{Name: "loopto-self", Nodes: []Element{{Kind: ElementNodeRef, NodeName: "retry"}}}
	result := interp.Run(context.Background(), wf, st, rt)

	require.NoError(t, result.Err)
	assert.Equal(t, 3, runs, "loopTo targeting the current node re-executes it")
}

func TestRun_LoopToJumpsBackToEarlierNode(t *testing.T) {
	var order []string
	first := fnNode{name: "first", kind: registry.KindAction, fn: func(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error) {
		order = append(order, "first")
		return registry.NewEdgeMap(registry.StaticEdge("done", nil)), nil
	}}
	jumped := false
	second := fnNode{name: "second", kind: registry.KindAction, fn: func(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error) {
		order = append(order, "second")
		if !jumped {
			jumped = true
			return registry.NewEdgeMap(registry.StaticEdge("loopTo:first", nil)), nil
		}
		return registry.NewEdgeMap(registry.StaticEdge("done", nil)), nil
	}}
	interp, _ := newTestInterpreter(t, first, second)

	st, err := state.New(nil)
	require.NoError(t, err)
	rt, _ := collectEvents(interp, "wf1", "ex1")

	wf := &Workflow{Name: "loopto-back", Nodes: []Element{
		{Kind: ElementNodeRef, NodeName: "first"},
		{Kind: ElementNodeRef, NodeName: "second"},
	}}
	result := interp.Run(context.Background(), wf, st, rt)

	require.NoError(t, result.Err)
	assert.Equal(t, []string{"first", "second", "first", "second"}, order)
}

func TestRun_LoopToMissingTargetFailsWithTargetNotFound(t *testing.T) {
	jumper := fnNode{name: "jumper", kind: registry.KindAction, fn: func(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error) {
		return registry.NewEdgeMap(registry.StaticEdge("loopTo:ghost", nil)), nil
	}}
	interp, _ := newTestInterpreter(t, jumper)

	st, err := state.New(nil)
	require.NoError(t, err)
	rt, _ := collectEvents(interp, "wf1", "ex1")

	wf := &Workflow{Name: "loopto-missing", Nodes: []Element{{Kind: ElementNodeRef, NodeName: "jumper"}}}
	result := interp.Run(context.Background(), wf, st, rt)

	require.Error(t, result.Err)
	assert.Equal(t, flowerrors.KindTargetNotFound, flowerrors.KindOf(result.Err))
}

func TestRun_BranchWithNoMatchingEdgeIsSkipped(t *testing.T) {
	classify := fnNode{name: "classify", kind: registry.KindAction, fn: func(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error) {
		return registry.NewEdgeMap(registry.StaticEdge("mid", nil)), nil
	}}
	afterRan := false
	after := fnNode{name: "after", kind: registry.KindAction, fn: func(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error) {
		afterRan = true
		return registry.NewEdgeMap(registry.StaticEdge("done", nil)), nil
	}}
	interp, _ := newTestInterpreter(t, classify, after)

	st, err := state.New(nil)
	require.NoError(t, err)
	rt, _ := collectEvents(interp, "wf1", "ex1")

	wf := &Workflow{Name: "branch-no-match", Nodes: []Element{
		{
			Kind:      ElementBranch,
			Condition: &Element{Kind: ElementNodeRef, NodeName: "classify"},
			Branches:  map[string][]Element{"high": {{Kind: ElementNodeRef, NodeName: "after"}}},
		},
		{Kind: ElementNodeRef, NodeName: "after"},
	}}
	result := interp.Run(context.Background(), wf, st, rt)

	require.NoError(t, result.Err)
	assert.True(t, result.Completed)
	assert.True(t, afterRan, "the element after a non-matching branch must still run")
}

func TestRun_NullBranchBodyIsNoop(t *testing.T) {
	classify := fnNode{name: "classify", kind: registry.KindAction, fn: func(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error) {
		return registry.NewEdgeMap(registry.StaticEdge("skip", nil)), nil
	}}
	interp, _ := newTestInterpreter(t, classify)

	st, err := state.New(nil)
	require.NoError(t, err)
	rt, _ := collectEvents(interp, "wf1", "ex1")

	wf := &Workflow{Name: "branch-null-body", Nodes: []Element{
		{
			Kind:      ElementBranch,
			Condition: &Element{Kind: ElementNodeRef, NodeName: "classify"},
			Branches:  map[string][]Element{"skip": nil},
		},
	}}
	result := interp.Run(context.Background(), wf, st, rt)

	require.NoError(t, result.Err)
	assert.True(t, result.Completed)
}

func TestRun_NodeReturningZeroEdgesFails(t *testing.T) {
	edgeless := fnNode{name: "edgeless", kind: registry.KindAction, fn: func(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error) {
		return registry.NewEdgeMap(), nil
	}}
	interp, _ := newTestInterpreter(t, edgeless)

	st, err := state.New(nil)
	require.NoError(t, err)
	rt, _ := collectEvents(interp, "wf1", "ex1")

	wf := &Workflow{Name: "no-edges", Nodes: []Element{{Kind: ElementNodeRef, NodeName: "edgeless"}}}
	result := interp.Run(context.Background(), wf, st, rt)

	require.Error(t, result.Err)
	assert.Equal(t, flowerrors.KindNodeFailed, flowerrors.KindOf(result.Err))
}

func TestRun_ExitInsideLoopBodyUnwindsAllFrames(t *testing.T) {
	controller := fnNode{name: "forever", kind: registry.KindControl, fn: func(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error) {
		return registry.NewEdgeMap(registry.StaticEdge("next_iteration", nil)), nil
	}}
	bail := fnNode{name: "bail", kind: registry.KindControl, fn: func(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error) {
		return registry.NewEdgeMap(registry.StaticEdge("exit", nil)), nil
	}}
	neverRan := false
	never := fnNode{name: "never", kind: registry.KindAction, fn: func(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error) {
		neverRan = true
		return registry.NewEdgeMap(registry.StaticEdge("done", nil)), nil
	}}
	interp, _ := newTestInterpreter(t, controller, bail, never)

	st, err := state.New(nil)
	require.NoError(t, err)
	rt, _ := collectEvents(interp, "wf1", "ex1")

	wf := &Workflow{Name: "exit-in-loop", Nodes: []Element{
		{
			Kind:      ElementLoop,
			Condition: &Element{Kind: ElementNodeRef, NodeName: "forever"},
			Body:      []Element{{Kind: ElementNodeRef, NodeName: "bail"}},
		},
		{Kind: ElementNodeRef, NodeName: "never"},
	}}
	result := interp.Run(context.Background(), wf, st, rt)

	require.NoError(t, result.Err)
	assert.Equal(t, "explicit_exit", result.ExitSignal)
	assert.False(t, neverRan, "exit inside a loop body must unwind past the loop's outer frame")
}

func TestRun_CancellationWhilePausedEndsCancelledNotFailed(t *testing.T) {
	// A node blocked in WaitForResume observes cancellation as a Cancelled
	// error from the settled token. That error must reach Run untagged, so
	// the execution reports the cancelled outcome rather than failed.
	pauser := fnNode{name: "pauser", kind: registry.KindHuman, fn: func(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error) {
		tok, err := in.Runtime.Pause("pauser")
		if err != nil {
			return nil, err
		}
		go in.Runtime.RequestCancellation()
		_, err = in.Runtime.WaitForResume(ctx, tok)
		return nil, err
	}}
	interp, _ := newTestInterpreter(t, pauser)

	st, err := state.New(nil)
	require.NoError(t, err)
	rt, got := collectEvents(interp, "wf1", "ex1")

	wf := &Workflow{Name: "cancel-while-paused", Nodes: []Element{{Kind: ElementNodeRef, NodeName: "pauser"}}}
	result := interp.Run(context.Background(), wf, st, rt)

	require.Error(t, result.Err)
	assert.Equal(t, flowerrors.KindCancelled, flowerrors.KindOf(result.Err))
	assert.Equal(t, "cancelled", result.ExitSignal)

	last := (*got)[len(*got)-1]
	assert.Equal(t, events.WorkflowCompleted, last.Event)
	assert.Equal(t, "cancelled", last.Data["exitSignal"])
}

func TestInterpolateConfig_WholePlaceholderPreservesType(t *testing.T) {
	st, err := state.New(map[string]interface{}{"n": 5})
	require.NoError(t, err)

	out := interpolateConfig(map[string]interface{}{"amount": "{{n}}"}, st)
	assert.Equal(t, float64(5), out["amount"])
}

func TestInterpolateConfig_EmbeddedPlaceholderStringifies(t *testing.T) {
	st, err := state.New(map[string]interface{}{"name": "ada"})
	require.NoError(t, err)

	out := interpolateConfig(map[string]interface{}{"greeting": "hello {{name}}!"}, st)
	assert.Equal(t, "hello ada!", out["greeting"])
}

var errBoom = errors.New("boom")
