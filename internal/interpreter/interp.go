package interpreter

import (
	"context"
	"strings"
	"time"

	"github.com/lyzr/flowscript/internal/events"
	"github.com/lyzr/flowscript/internal/flowerrors"
	"github.com/lyzr/flowscript/internal/registry"
	"github.com/lyzr/flowscript/internal/runctx"
	"github.com/lyzr/flowscript/internal/state"
)

// DefaultTimeout is the per-execution wall-clock budget used when none is
// configured.
const DefaultTimeout = time.Minute

// Logger is the minimal logging surface the interpreter needs, satisfied by
// *common/logger.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Result is the terminal outcome of a Run.
type Result struct {
	Completed  bool
	ExitSignal string
	State      map[string]interface{}
	Err        error
}

// Interpreter executes a validated Workflow IR against a state.Store and a
// runtime context.
type Interpreter struct {
	registry *registry.Registry
	log      Logger
	timeout  time.Duration
}

// New builds an Interpreter. A zero timeout uses DefaultTimeout.
func New(reg *registry.Registry, log Logger, timeout time.Duration) *Interpreter {
	if log == nil {
		log = noopLogger{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Interpreter{registry: reg, log: log, timeout: timeout}
}

// execCtx carries the per-Run state the recursive element walk needs.
type execCtx struct {
	ctx       context.Context
	state     *state.Store
	rt        *runctx.Context
	startedAt time.Time
	timeout   time.Duration
}

// outcome is the internal result of walking one element list / loop.
type outcome struct {
	exit       bool
	exitSignal string
	err        error
}

// Run executes wf's top-level node list to completion (or failure,
// cancellation, timeout, explicit exit) and emits workflow_started up
// front and exactly one of workflow_completed/workflow_failed at the end.
func (interp *Interpreter) Run(ctx context.Context, wf *Workflow, st *state.Store, rt *runctx.Context) Result {
	ec := &execCtx{ctx: ctx, state: st, rt: rt, startedAt: time.Now(), timeout: interp.timeout}

	rt.Emit(events.WorkflowStarted, map[string]interface{}{"workflowName": wf.Name})

	o := interp.runElements(wf.Nodes, ec)
	snapshot := st.Snapshot()

	switch {
	case o.err != nil && flowerrors.Is(o.err, flowerrors.KindCancelled):
		rt.EmitTerminal(events.WorkflowCompleted, map[string]interface{}{
			"finalState": snapshot,
			"exitSignal": "cancelled",
		})
		return Result{Completed: false, ExitSignal: "cancelled", State: snapshot, Err: o.err}

	case o.err != nil:
		rt.EmitTerminal(events.WorkflowFailed, map[string]interface{}{
			"error": o.err.Error(),
			"state": snapshot,
		})
		return Result{Completed: false, State: snapshot, Err: o.err}

	default:
		data := map[string]interface{}{"finalState": snapshot}
		if o.exitSignal != "" {
			data["exitSignal"] = o.exitSignal
		}
		rt.EmitTerminal(events.WorkflowCompleted, data)
		return Result{Completed: true, ExitSignal: o.exitSignal, State: snapshot}
	}
}

func (interp *Interpreter) checkSuspendPoints(ec *execCtx) error {
	if ec.rt.CancelRequested() {
		return flowerrors.New(flowerrors.KindCancelled, "execution cancelled")
	}
	if time.Since(ec.startedAt) > ec.timeout {
		return flowerrors.New(flowerrors.KindTimeoutExceeded, "execution exceeded its time budget")
	}
	return nil
}

// runElements walks one frame's element list, advancing pc, honoring
// "exit" and "loopTo:<name>" special edges within this frame only.
func (interp *Interpreter) runElements(elements []Element, ec *execCtx) outcome {
	pc := 0
	for pc < len(elements) {
		if err := interp.checkSuspendPoints(ec); err != nil {
			return outcome{err: err}
		}

		el := elements[pc]
		switch el.Kind {
		case ElementNodeRef, ElementConfiguredNode:
			edge, payload, err := interp.executeNode(&el, ec)
			if err != nil {
				return outcome{err: err}
			}
			// The node may have been in flight when cancellation was
			// requested. It runs to completion but its edge must be
			// discarded: no state merge, no exit/loopTo follow-through.
			// So check here before interpreting the edge, not just at the
			// top of the loop before the next element.
			if err := interp.checkSuspendPoints(ec); err != nil {
				return outcome{err: err}
			}
			switch {
			case edge == "exit":
				return outcome{exit: true, exitSignal: "explicit_exit"}
			case strings.HasPrefix(edge, "loopTo:"):
				target := strings.TrimPrefix(edge, "loopTo:")
				idx := findNodeIndex(elements, target)
				if idx < 0 {
					return outcome{err: flowerrors.Newf(flowerrors.KindTargetNotFound, "loopTo target %q not found in current frame", target)}
				}
				pc = idx
				continue
			default:
				mergePayload(ec.state, payload)
				pc++
			}

		case ElementBranch:
			edge, payload, err := interp.runNodeElement(el.Condition, ec)
			if err != nil {
				return outcome{err: err}
			}
			mergePayload(ec.state, payload)
			if body, found := el.Branches[edge]; found && len(body) > 0 {
				o := interp.runElements(body, ec)
				if o.exit || o.err != nil {
					return o
				}
			}
			pc++

		case ElementLoop:
			o := interp.runLoop(&el, ec)
			if o.exit || o.err != nil {
				return o
			}
			pc++
		}
	}
	return outcome{}
}

// runNodeElement executes el, which must resolve to a node (reference or
// configured); a branch or loop nested inside a condition or controller
// slot is rejected.
func (interp *Interpreter) runNodeElement(el *Element, ec *execCtx) (string, interface{}, error) {
	if el.Kind != ElementNodeRef && el.Kind != ElementConfiguredNode {
		return "", nil, flowerrors.New(flowerrors.KindSchemaInvalid, "branch/loop condition must resolve to a node")
	}
	return interp.executeNode(el, ec)
}

// runLoop repeatedly invokes the controller until it returns exit_loop,
// running the body frame to completion after each next_iteration.
func (interp *Interpreter) runLoop(el *Element, ec *execCtx) outcome {
	for {
		if err := interp.checkSuspendPoints(ec); err != nil {
			return outcome{err: err}
		}

		edge, payload, err := interp.runNodeElement(el.Condition, ec)
		if err != nil {
			return outcome{err: err}
		}

		switch edge {
		case "exit_loop":
			return outcome{}
		case "next_iteration":
			mergePayload(ec.state, payload)
			o := interp.runElements(el.Body, ec)
			if o.exit || o.err != nil {
				return o
			}
		default:
			return outcome{err: flowerrors.Newf(flowerrors.KindInvalidLoopEdge, "loop controller returned unexpected edge %q", edge)}
		}
	}
}

// executeNode resolves el against the registry, interpolates its config,
// invokes execute, and returns the first edge's name and payload.
func (interp *Interpreter) executeNode(el *Element, ec *execCtx) (string, interface{}, error) {
	node, ok := interp.registry.Lookup(el.NodeName)
	if !ok {
		return "", nil, flowerrors.Newf(flowerrors.KindUnknownNode, "no node registered with name %q", el.NodeName)
	}

	meta := node.Metadata()
	config := interpolateConfig(el.Config, ec.state)

	ec.rt.SetCurrentNode(el.NodeName)
	ec.rt.Emit(events.NodeExecuting, map[string]interface{}{
		"nodeId":   el.NodeName,
		"nodeName": el.NodeName,
		"nodeType": string(meta.Kind),
	})

	edgeMap, err := node.Execute(ec.ctx, registry.ExecuteInput{State: ec.state, Config: config, Runtime: ec.rt})
	if err != nil {
		// A node unblocked by cancellation (or reporting the execution's
		// time budget exceeded) is not a node failure: the error must reach
		// Run untagged so the cancellation outcome is reported, not a
		// workflow_failed. A timed-out pause (HumanInputTimeout) is an
		// ordinary node failure.
		if flowerrors.Is(err, flowerrors.KindCancelled) || flowerrors.Is(err, flowerrors.KindTimeoutExceeded) {
			return "", nil, err
		}
		ec.rt.Emit(events.NodeFailed, map[string]interface{}{
			"nodeId":   el.NodeName,
			"nodeName": el.NodeName,
			"error":    err.Error(),
		})
		return "", nil, flowerrors.Wrap(flowerrors.KindNodeFailed, "node "+el.NodeName+" failed", err)
	}
	if len(edgeMap) == 0 {
		err := flowerrors.Newf(flowerrors.KindNodeFailed, "node %q returned no edges", el.NodeName)
		ec.rt.Emit(events.NodeFailed, map[string]interface{}{
			"nodeId":   el.NodeName,
			"nodeName": el.NodeName,
			"error":    err.Error(),
		})
		return "", nil, err
	}

	first := edgeMap[0]
	payload, perr := first.Produce()
	if perr != nil {
		ec.rt.Emit(events.NodeFailed, map[string]interface{}{
			"nodeId":   el.NodeName,
			"nodeName": el.NodeName,
			"error":    perr.Error(),
		})
		return "", nil, flowerrors.Wrap(flowerrors.KindNodeFailed, "node "+el.NodeName+" edge payload failed", perr)
	}

	ec.rt.Emit(events.NodeCompleted, map[string]interface{}{
		"nodeId":   el.NodeName,
		"nodeName": el.NodeName,
		"edge":     first.Name,
		"edgeData": payload,
	})

	return first.Name, payload, nil
}

// mergePayload merges an edge's payload into the state root if it is a JSON
// object; any other payload shape (or nil) is left for the edge-name
// handling in the caller to interpret.
func mergePayload(st *state.Store, payload interface{}) {
	if m, ok := payload.(map[string]interface{}); ok && m != nil {
		_ = st.Update(m)
	}
}
