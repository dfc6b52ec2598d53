package registry

import (
	"context"
	"time"
)

// RetryPolicy bounds how often a wrapped node's execute is re-attempted.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// WithRetry wraps n so that Execute is attempted up to policy.Attempts
// times in total, waiting policy.Delay between attempts. The last
// error is returned once the attempts are exhausted. Attempts < 1 is
// treated as 1.
func WithRetry(n Node, policy RetryPolicy) Node {
	return &retryNode{Node: n, policy: policy}
}

type retryNode struct {
	Node
	policy RetryPolicy
}

func (r *retryNode) Execute(ctx context.Context, in ExecuteInput) (EdgeMap, error) {
	attempts := r.policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 && r.policy.Delay > 0 {
			select {
			case <-time.After(r.policy.Delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		em, err := r.Node.Execute(ctx, in)
		if err == nil {
			return em, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// WithErrorEdge wraps n so that a failing Execute surfaces as an "error"
// edge instead of propagating: the interpreter then treats it like any
// other named edge, so a surrounding branch can route the failure rather
// than the whole execution terminating.
func WithErrorEdge(n Node) Node {
	return &errorEdgeNode{Node: n}
}

type errorEdgeNode struct {
	Node
}

func (e *errorEdgeNode) Execute(ctx context.Context, in ExecuteInput) (EdgeMap, error) {
	em, err := e.Node.Execute(ctx, in)
	if err != nil {
		msg := err.Error()
		return NewEdgeMap(StaticEdge("error", map[string]interface{}{"error": msg})), nil
	}
	return em, nil
}
