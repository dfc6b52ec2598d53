// Package registry implements the node contract and the process-wide node
// registry: metadata plus an execute operation, looked up by name or kind.
// The registry is pure data with no scheduling logic of its own, and a
// test harness can always install a fresh one instead of sharing global
// state.
package registry

import (
	"context"
	"sync"

	"github.com/lyzr/flowscript/internal/runctx"
	"github.com/lyzr/flowscript/internal/state"
)

// Kind classifies a node for indexing and for node_executing event payloads.
type Kind string

const (
	KindAction  Kind = "action"
	KindControl Kind = "control"
	KindHuman   Kind = "human"
)

// Metadata describes a node: its name, a human description, its kind, the
// edge names it is expected to produce, and free-form hints consumers may
// use (e.g. a form schema for human nodes).
type Metadata struct {
	Name        string
	Description string
	Kind        Kind
	Edges       []string
	Hints       map[string]interface{}
}

// ExecuteInput is the {state, config, runtime} context passed to execute.
type ExecuteInput struct {
	State   *state.Store
	Config  map[string]interface{}
	Runtime *runctx.Context
}

// Producer lazily produces an edge's optional JSON payload. Invoked at most
// once, only for the selected edge, so unselected edges pay no cost.
type Producer func() (interface{}, error)

// Edge pairs a name with its lazy payload producer.
type Edge struct {
	Name    string
	Produce Producer
}

// EdgeMap is an ordered sequence of edges. It is a slice rather than a Go
// map so that "the first edge" is deterministic; a plain
// map[string]Producer would make the interpreter's default-edge selection
// depend on Go's randomized map iteration order.
type EdgeMap []Edge

// Get looks up an edge by name.
func (m EdgeMap) Get(name string) (Edge, bool) {
	for _, e := range m {
		if e.Name == name {
			return e, true
		}
	}
	return Edge{}, false
}

// NewEdgeMap builds an EdgeMap preserving the given order.
func NewEdgeMap(edges ...Edge) EdgeMap {
	return EdgeMap(edges)
}

// StaticEdge returns an edge whose payload is already known (no laziness
// needed because there is nothing expensive to defer).
func StaticEdge(name string, payload interface{}) Edge {
	return Edge{Name: name, Produce: func() (interface{}, error) { return payload, nil }}
}

// Node is the contract every flow element's node dispatch resolves against.
type Node interface {
	Metadata() Metadata
	Execute(ctx context.Context, in ExecuteInput) (EdgeMap, error)
}

// Factory constructs a node instance. Registering a factory rather than an
// instance is only a convenience at registration time — the registry still
// calls it exactly once and keeps the result as a stateless singleton.
type Factory func() Node

// Logger is the minimal logging surface the registry needs (duplicate-name
// warnings). Satisfied by *common/logger.Logger.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Registry is the process-wide (or per-test) node table.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Node
	byKind map[Kind][]Node
	log    Logger
}

// New creates an empty registry. Pass nil for log to silence duplicate-name
// warnings.
func New(log Logger) *Registry {
	if log == nil {
		log = noopLogger{}
	}
	return &Registry{
		byName: make(map[string]Node),
		byKind: make(map[Kind][]Node),
		log:    log,
	}
}

// Register installs a node instance under its own metadata name. A
// duplicate name replaces the prior registration; a warning is emitted.
func (r *Registry) Register(n Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.installLocked(n.Metadata().Name, n)
}

// RegisterFactory constructs a node via factory and installs it, exactly
// once, under name.
func (r *Registry) RegisterFactory(name string, factory Factory) {
	n := factory()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.installLocked(name, n)
}

func (r *Registry) installLocked(name string, n Node) {
	if old, exists := r.byName[name]; exists {
		r.log.Warn("node registry: replacing existing registration", "name", name)
		r.dropFromKindLocked(name, old.Metadata().Kind)
	}
	r.byName[name] = n
	kind := n.Metadata().Kind
	r.byKind[kind] = append(r.byKind[kind], n)
}

func (r *Registry) dropFromKindLocked(name string, kind Kind) {
	list := r.byKind[kind]
	for i, n := range list {
		if n.Metadata().Name == name {
			r.byKind[kind] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Lookup resolves a node by name. O(1).
func (r *Registry) Lookup(name string) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.byName[name]
	return n, ok
}

// ByKind returns every registered node of the given kind, in registration
// order. O(1) index lookup plus the copy.
func (r *Registry) ByKind(kind Kind) []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.byKind[kind]
	if len(list) == 0 {
		return nil
	}
	out := make([]Node, len(list))
	copy(out, list)
	return out
}

// Names returns every registered node name (unordered).
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	return out
}
