package runctx

import (
	"context"
	"sync"
	"time"

	"github.com/lyzr/flowscript/internal/flowerrors"
)

// PauseToken is the one-shot future a node awaits to block an execution
// until externally resumed, rejected, or cancelled. Any settling call after
// the first is rejected with TokenSettled.
type PauseToken struct {
	ID          string    `json:"id"`
	WorkflowID  string    `json:"workflowId"`
	ExecutionID string    `json:"executionId"`
	NodeID      string    `json:"nodeId"`
	CreatedAt   time.Time `json:"createdAt"`

	mu       sync.Mutex
	settled  bool
	resultCh chan settlement
}

type settlement struct {
	data interface{}
	err  error
}

func newToken(id, workflowID, executionID, nodeID string) *PauseToken {
	return &PauseToken{
		ID:          id,
		WorkflowID:  workflowID,
		ExecutionID: executionID,
		NodeID:      nodeID,
		CreatedAt:   time.Now(),
		resultCh:    make(chan settlement, 1),
	}
}

func (t *PauseToken) settle(data interface{}, err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.settled {
		return flowerrors.New(flowerrors.KindTokenSettled, "pause token already settled")
	}
	t.settled = true
	t.resultCh <- settlement{data: data, err: err}
	return nil
}

// Resume settles the token successfully with the given payload.
func (t *PauseToken) Resume(data interface{}) error {
	return t.settle(data, nil)
}

// Reject settles the token with an error.
func (t *PauseToken) Reject(err error) error {
	return t.settle(nil, err)
}

// Cancel settles the token with a Cancelled error.
func (t *PauseToken) Cancel() error {
	return t.settle(nil, flowerrors.New(flowerrors.KindCancelled, "pause token cancelled"))
}

// Wait blocks until the token is settled or ctx is cancelled. The interpreter
// never busy-waits: this is a plain channel receive.
func (t *PauseToken) Wait(ctx context.Context) (interface{}, error) {
	select {
	case r := <-t.resultCh:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IsSettled reports whether the token has already resolved.
func (t *PauseToken) IsSettled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settled
}
