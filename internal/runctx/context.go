// Package runctx implements the runtime context: the only surface nodes use
// to touch the outside world (emit events, pause for human input, observe
// cancellation) and the pause-token bookkeeping that backs human-in-the-loop
// flows.
package runctx

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/flowscript/internal/events"
	"github.com/lyzr/flowscript/internal/flowerrors"
)

// Publish delivers an event to the event bridge. The context never imports
// the bridge package directly — it only needs somewhere to hand events off
// to, which keeps the dependency direction pointing one way.
type Publish func(events.Event)

// Context is the per-execution façade threaded into every node's execute
// call as context.runtime.
type Context struct {
	workflowID  string
	executionID string
	publish     Publish

	mu              sync.Mutex
	currentNodeID   string
	terminated      bool
	cancelRequested bool
	tokens          map[string]*PauseToken
	lastEventStamp  time.Time
}

// New creates a runtime context for one execution. publish may be nil, in
// which case Emit is a no-op (useful for tests that don't care about
// events).
func New(workflowID, executionID string, publish Publish) *Context {
	return &Context{
		workflowID:  workflowID,
		executionID: executionID,
		publish:     publish,
		tokens:      make(map[string]*PauseToken),
	}
}

// nextStamp returns a timestamp guaranteed to be >= any previously issued
// one for this context, satisfying the monotonic-non-decreasing invariant
// even on platforms where time.Now() has coarse resolution.
func (c *Context) nextStamp() time.Time {
	now := time.Now()
	if !now.After(c.lastEventStamp) {
		now = c.lastEventStamp.Add(time.Nanosecond)
	}
	c.lastEventStamp = now
	return now
}

// Emit appends timestamp+ids and routes the event to the bridge. A no-op
// once the execution has terminated.
func (c *Context) Emit(eventType events.Type, data map[string]interface{}) {
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return
	}
	stamp := c.nextStamp()
	c.mu.Unlock()
	c.deliver(eventType, data, stamp)
}

// emitTerminal is used exactly once per execution, by the interpreter, to
// deliver the final workflow_completed/workflow_failed event. It cancels any
// outstanding pause tokens and sets terminated itself, so every later Emit is
// a no-op; a pending cancellation request does not stop the terminal event
// the interpreter itself must still deliver.
func (c *Context) emitTerminal(eventType events.Type, data map[string]interface{}) {
	c.mu.Lock()
	c.cancelAllLocked()
	stamp := c.nextStamp()
	c.terminated = true
	c.mu.Unlock()
	c.deliver(eventType, data, stamp)
}

func (c *Context) deliver(eventType events.Type, data map[string]interface{}, stamp time.Time) {
	if c.publish == nil {
		return
	}
	c.publish(events.Event{
		Event:       eventType,
		WorkflowID:  c.workflowID,
		ExecutionID: c.executionID,
		Timestamp:   stamp,
		Data:        data,
	})
}

// EmitTerminal is the exported hook the interpreter uses to deliver the
// execution's final event. See emitTerminal for why it bypasses the
// post-termination no-op rule that governs Emit.
func (c *Context) EmitTerminal(eventType events.Type, data map[string]interface{}) {
	c.emitTerminal(eventType, data)
}

// Pause creates a pause token and records it as active for this execution.
func (c *Context) Pause(nodeID string) (*PauseToken, error) {
	return c.pauseWithTimeout(nodeID, 0)
}

// PauseWithTimeout is like Pause but, if the token is still unsettled after
// d, rejects it with a HumanInputTimeout error (not Cancelled) and emits
// HumanInputTimeout. d <= 0 disables the timer.
func (c *Context) PauseWithTimeout(nodeID string, d time.Duration) (*PauseToken, error) {
	return c.pauseWithTimeout(nodeID, d)
}

func (c *Context) pauseWithTimeout(nodeID string, d time.Duration) (*PauseToken, error) {
	c.mu.Lock()
	if c.terminated || c.cancelRequested {
		c.mu.Unlock()
		return nil, flowerrors.New(flowerrors.KindExecutionTerminated, "cannot pause a terminated execution")
	}
	tok := newToken(uuid.NewString(), c.workflowID, c.executionID, nodeID)
	c.tokens[tok.ID] = tok
	c.mu.Unlock()

	c.Emit(events.WorkflowPaused, map[string]interface{}{"nodeId": nodeID, "tokenId": tok.ID})

	if d > 0 {
		time.AfterFunc(d, func() {
			// Reject rather than Cancel: a timed-out pause is a failure of
			// the step, distinct from an external cancellation of the
			// whole execution.
			timeoutErr := flowerrors.New(flowerrors.KindHumanInputTimeout, "human input not received before the pause timeout")
			if err := tok.Reject(timeoutErr); err == nil {
				c.removeToken(tok.ID)
				c.Emit(events.HumanInputTimeout, map[string]interface{}{"nodeId": nodeID, "tokenId": tok.ID})
			}
		})
	}
	return tok, nil
}

// WaitForResume blocks until token settles (resume/reject/cancel) or ctx is
// cancelled, then removes the token from the active set.
func (c *Context) WaitForResume(ctx context.Context, token *PauseToken) (interface{}, error) {
	data, err := token.Wait(ctx)
	c.removeToken(token.ID)
	return data, err
}

func (c *Context) removeToken(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, id)
}

// Resume forwards to the named token and, on success, emits
// WorkflowResumed. Fails with UnknownPauseToken if no such token is active.
func (c *Context) Resume(tokenID string, data interface{}) error {
	c.mu.Lock()
	tok, ok := c.tokens[tokenID]
	c.mu.Unlock()
	if !ok {
		return flowerrors.New(flowerrors.KindUnknownPauseToken, "no active pause token with id "+tokenID)
	}
	if err := tok.Resume(data); err != nil {
		return err
	}
	c.Emit(events.WorkflowResumed, map[string]interface{}{"tokenId": tokenID})
	return nil
}

// CancelToken rejects the named token with a Cancelled error.
func (c *Context) CancelToken(tokenID string) error {
	c.mu.Lock()
	tok, ok := c.tokens[tokenID]
	c.mu.Unlock()
	if !ok {
		return flowerrors.New(flowerrors.KindUnknownPauseToken, "no active pause token with id "+tokenID)
	}
	return tok.Cancel()
}

// RequestCancellation marks the execution for cancellation and immediately
// cancels every outstanding pause token, unblocking any node in
// waitForResume with a Cancelled error. The execution is not fully
// terminated until the interpreter calls EmitTerminal.
func (c *Context) RequestCancellation() {
	c.mu.Lock()
	c.cancelRequested = true
	c.cancelAllLocked()
	c.mu.Unlock()
}

func (c *Context) cancelAllLocked() {
	for id, tok := range c.tokens {
		_ = tok.Cancel()
		delete(c.tokens, id)
	}
}

// CancelRequested reports whether RequestCancellation has been called. The
// interpreter polls this between elements — it never busy-waits on it.
func (c *Context) CancelRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelRequested
}

// IsPaused reports whether the execution currently has any outstanding
// pause tokens (and has not terminated).
func (c *Context) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.terminated && len(c.tokens) > 0
}

// IsTerminated reports whether EmitTerminal has already run.
func (c *Context) IsTerminated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminated
}

// SetCurrentNode records the node currently executing, for event enrichment
// and status reporting.
func (c *Context) SetCurrentNode(nodeID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentNodeID = nodeID
}

// CurrentNode returns the most recently set current node id.
func (c *Context) CurrentNode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentNodeID
}

// ExecutionID returns the execution id this context belongs to.
func (c *Context) ExecutionID() string { return c.executionID }

// WorkflowID returns the workflow id this context belongs to.
func (c *Context) WorkflowID() string { return c.workflowID }
