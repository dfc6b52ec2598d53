package nodes

import (
	"context"
	"time"

	"github.com/lyzr/flowscript/internal/events"
	"github.com/lyzr/flowscript/internal/expr"
	"github.com/lyzr/flowscript/internal/registry"
	"github.com/lyzr/flowscript/internal/runctx"
)

// Increment adds config.amount (default 1) to the numeric field at
// config.path (default "count"). Used by the sequential-increment scenario.
type Increment struct{}

func (n *Increment) Metadata() registry.Metadata {
	return registry.Metadata{
		Name:        "increment",
		Description: "adds an amount to a numeric state field",
		Kind:        registry.KindAction,
		Edges:       []string{"done"},
	}
}

func (n *Increment) Execute(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error) {
	path, _ := in.Config["path"].(string)
	if path == "" {
		path = "count"
	}
	amount := 1.0
	if a, ok := in.Config["amount"].(float64); ok {
		amount = a
	}

	current := 0.0
	if v, found := in.State.Get(path); found {
		if f, ok := v.(float64); ok {
			current = f
		}
	}
	if err := in.State.Set(path, current+amount); err != nil {
		return nil, err
	}
	return registry.NewEdgeMap(registry.StaticEdge("done", nil)), nil
}

// Classify reads a numeric field at config.path (default "n") and returns
// the "high" edge if it exceeds config.threshold (default 5), else "low".
type Classify struct{}

func (n *Classify) Metadata() registry.Metadata {
	return registry.Metadata{
		Name:        "classify",
		Description: "returns high or low depending on a numeric threshold",
		Kind:        registry.KindAction,
		Edges:       []string{"high", "low"},
	}
}

func (n *Classify) Execute(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error) {
	path, _ := in.Config["path"].(string)
	if path == "" {
		path = "n"
	}
	threshold := 5.0
	if t, ok := in.Config["threshold"].(float64); ok {
		threshold = t
	}

	value := 0.0
	if v, found := in.State.Get(path); found {
		if f, ok := v.(float64); ok {
			value = f
		}
	}

	if value > threshold {
		return registry.NewEdgeMap(registry.StaticEdge("high", nil)), nil
	}
	return registry.NewEdgeMap(registry.StaticEdge("low", nil)), nil
}

// Noop does nothing and returns "done".
type Noop struct{}

func (n *Noop) Metadata() registry.Metadata {
	return registry.Metadata{Name: "noop", Description: "does nothing", Kind: registry.KindAction, Edges: []string{"done"}}
}

func (n *Noop) Execute(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error) {
	return registry.NewEdgeMap(registry.StaticEdge("done", nil)), nil
}

// SetState shallow-merges config.values into the state root and returns
// "done".
type SetState struct{}

func (n *SetState) Metadata() registry.Metadata {
	return registry.Metadata{Name: "setState", Description: "merges config.values into state", Kind: registry.KindAction, Edges: []string{"done"}}
}

func (n *SetState) Execute(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error) {
	values, _ := in.Config["values"].(map[string]interface{})
	return registry.NewEdgeMap(registry.Edge{
		Name:    "done",
		Produce: func() (interface{}, error) { return values, nil },
	}), nil
}

// Approve is a human-in-the-loop node: it emits human_input_required,
// pauses, and awaits external resume, returning "approved" with the
// resume payload once it arrives.
type Approve struct{}

func (n *Approve) Metadata() registry.Metadata {
	return registry.Metadata{
		Name:        "approve",
		Description: "pauses for human approval",
		Kind:        registry.KindHuman,
		Edges:       []string{"approved"},
	}
}

func (n *Approve) Execute(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error) {
	formSchema, _ := in.Config["formSchema"]
	uiHints, _ := in.Config["uiHints"]
	contextData, _ := in.Config["contextData"]
	timeoutMs, _ := in.Config["timeoutMs"].(float64)

	required := map[string]interface{}{
		"nodeId":      "approve",
		"nodeName":    "approve",
		"formSchema":  formSchema,
		"uiHints":     uiHints,
		"contextData": contextData,
	}
	if timeoutMs > 0 {
		required["timeoutMs"] = timeoutMs
	}
	in.Runtime.Emit(events.HumanInputRequired, required)

	var token *runctx.PauseToken
	var err error
	if timeoutMs > 0 {
		token, err = in.Runtime.PauseWithTimeout("approve", time.Duration(timeoutMs)*time.Millisecond)
	} else {
		token, err = in.Runtime.Pause("approve")
	}
	if err != nil {
		return nil, err
	}
	data, err := in.Runtime.WaitForResume(ctx, token)
	if err != nil {
		return nil, err
	}

	// The event carries the resume body directly, not nested under a key,
	// so subscribers read {"decision": ...} rather than {"data": {...}}.
	payload, _ := data.(map[string]interface{})
	in.Runtime.Emit(events.HumanInputReceived, payload)
	return registry.NewEdgeMap(registry.Edge{
		Name:    "approved",
		Produce: func() (interface{}, error) { return payload, nil },
	}), nil
}

// Fail always returns an explicit "error" edge, for exercising the
// node-failure / error-edge path.
type Fail struct{}

func (n *Fail) Metadata() registry.Metadata {
	return registry.Metadata{Name: "fail", Description: "always returns the error edge", Kind: registry.KindAction, Edges: []string{"error"}}
}

func (n *Fail) Execute(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error) {
	reason, _ := in.Config["reason"].(string)
	if reason == "" {
		reason = "fail node invoked"
	}
	return registry.NewEdgeMap(registry.Edge{
		Name:    "error",
		Produce: func() (interface{}, error) { return map[string]interface{}{"reason": reason}, nil },
	}), nil
}

// Exit always returns the "exit" special edge.
type Exit struct{}

func (n *Exit) Metadata() registry.Metadata {
	return registry.Metadata{Name: "exit", Description: "unconditionally exits the workflow", Kind: registry.KindControl, Edges: []string{"exit"}}
}

func (n *Exit) Execute(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error) {
	return registry.NewEdgeMap(registry.StaticEdge("exit", nil)), nil
}

// RegisterBuiltins installs the built-in control-flow and demo nodes into
// reg. eval backs whileCondition's restricted expression evaluation.
func RegisterBuiltins(reg *registry.Registry, eval *expr.Evaluator) {
	reg.Register(&WhileCondition{Eval: eval})
	reg.Register(&ForEach{})
	reg.Register(&Increment{})
	reg.Register(&Classify{})
	reg.Register(&Noop{})
	reg.Register(&SetState{})
	reg.Register(&Approve{})
	reg.Register(&Fail{})
	reg.Register(&Exit{})
}
