// Package nodes provides the built-in control-flow loop controllers
// (whileCondition, forEach) plus a handful of trivial data nodes used by
// interpreter tests and the cmd/flowscriptd demo.
package nodes

import (
	"context"
	"fmt"

	"github.com/lyzr/flowscript/internal/expr"
	"github.com/lyzr/flowscript/internal/registry"
)

// WhileCondition is a loop controller that evaluates a restricted boolean
// expression against state on every invocation: "next_iteration" while it
// is true, "exit_loop" once it is false. Config: {"expression": "..."}.
type WhileCondition struct {
	Eval *expr.Evaluator
}

func (n *WhileCondition) Metadata() registry.Metadata {
	return registry.Metadata{
		Name:        "whileCondition",
		Description: "loop controller: next_iteration while expression is true, else exit_loop",
		Kind:        registry.KindControl,
		Edges:       []string{"next_iteration", "exit_loop"},
	}
}

func (n *WhileCondition) Execute(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error) {
	expression, _ := in.Config["expression"].(string)
	if expression == "" {
		return nil, fmt.Errorf("whileCondition: config.expression is required")
	}
	ok, err := n.Eval.Evaluate(expression, in.State)
	if err != nil {
		return nil, err
	}
	if ok {
		return registry.NewEdgeMap(registry.StaticEdge("next_iteration", nil)), nil
	}
	return registry.NewEdgeMap(registry.StaticEdge("exit_loop", nil)), nil
}

// ForEach is a loop controller that walks an array at config.itemsPath,
// exposing the current element at config.itemPath and tracking its cursor
// at config.indexPath (both state paths, defaulting to "_forEach.item" and
// "_forEach.index"). Config: {"itemsPath": "...", "itemPath"?: "...",
// "indexPath"?: "..."}.
type ForEach struct{}

func (n *ForEach) Metadata() registry.Metadata {
	return registry.Metadata{
		Name:        "forEach",
		Description: "loop controller: iterates an array at config.itemsPath",
		Kind:        registry.KindControl,
		Edges:       []string{"next_iteration", "exit_loop"},
	}
}

func (n *ForEach) Execute(ctx context.Context, in registry.ExecuteInput) (registry.EdgeMap, error) {
	itemsPath, _ := in.Config["itemsPath"].(string)
	if itemsPath == "" {
		return nil, fmt.Errorf("forEach: config.itemsPath is required")
	}
	itemPath, _ := in.Config["itemPath"].(string)
	if itemPath == "" {
		itemPath = "_forEach.item"
	}
	indexPath, _ := in.Config["indexPath"].(string)
	if indexPath == "" {
		indexPath = "_forEach.index"
	}

	rawItems, found := in.State.Get(itemsPath)
	if !found {
		return registry.NewEdgeMap(registry.StaticEdge("exit_loop", nil)), nil
	}
	items, ok := rawItems.([]interface{})
	if !ok {
		return nil, fmt.Errorf("forEach: value at %q is not an array", itemsPath)
	}

	idx := 0
	if rawIdx, found := in.State.Get(indexPath); found {
		switch t := rawIdx.(type) {
		case float64:
			idx = int(t)
		case int:
			idx = t
		}
	}

	if idx >= len(items) {
		return registry.NewEdgeMap(registry.StaticEdge("exit_loop", nil)), nil
	}

	// itemPath/indexPath are arbitrary state paths (possibly nested), so
	// they are written directly rather than through the interpreter's
	// edge-payload merge, which is shallow and root-level only. A node
	// that needs nested writes performs them itself via the state handle
	// it already holds.
	if err := in.State.Set(itemPath, items[idx]); err != nil {
		return nil, fmt.Errorf("forEach: set itemPath: %w", err)
	}
	if err := in.State.Set(indexPath, idx+1); err != nil {
		return nil, fmt.Errorf("forEach: set indexPath: %w", err)
	}

	return registry.NewEdgeMap(registry.StaticEdge("next_iteration", nil)), nil
}
