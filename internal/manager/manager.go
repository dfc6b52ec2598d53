// Package manager implements the execution manager: the live executions
// table, submit/status/resume/cancel/list, and the
// subscription-before-start ordering guarantee that the event bridge
// relies on (the lane is created before Submit returns, well before the
// interpreter's first event).
package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/flowscript/internal/bridge"
	"github.com/lyzr/flowscript/internal/events"
	"github.com/lyzr/flowscript/internal/flowerrors"
	"github.com/lyzr/flowscript/internal/interpreter"
	"github.com/lyzr/flowscript/internal/registry"
	"github.com/lyzr/flowscript/internal/runctx"
	"github.com/lyzr/flowscript/internal/state"
	"github.com/lyzr/flowscript/internal/statediff"
	"github.com/lyzr/flowscript/internal/validate"
)

// Logger is the minimal logging surface the manager needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Status is the point-in-time record returned by Status and List.
type Status struct {
	ExecutionID   string     `json:"executionId"`
	WorkflowID    string     `json:"workflowId"`
	Status        string     `json:"status"`
	StartedAt     time.Time  `json:"startedAt"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
	CurrentNodeID string     `json:"currentNodeId,omitempty"`
}

type entry struct {
	mu         sync.Mutex
	workflowID string
	startedAt  time.Time
	endedAt    *time.Time
	status     string // running | completed | failed | stopped (paused is derived)
	rt         *runctx.Context
	cancelFn   context.CancelFunc
}

// DefaultRetention is how long a terminal execution stays visible to
// Status/List before it is dropped from the live table.
const DefaultRetention = 5 * time.Minute

// Manager owns the live executions table and wires together the
// interpreter, registry, and event bridge.
type Manager struct {
	mu          sync.Mutex
	executions  map[string]*entry
	registry    *registry.Registry
	interpreter *interpreter.Interpreter
	bridge      *bridge.Bridge
	retention   time.Duration
	log         Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetention overrides how long terminal executions remain in the live
// table before eviction.
func WithRetention(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.retention = d
		}
	}
}

// New builds a Manager.
func New(reg *registry.Registry, interp *interpreter.Interpreter, br *bridge.Bridge, log Logger, opts ...Option) *Manager {
	if log == nil {
		log = noopLogger{}
	}
	m := &Manager{
		executions:  make(map[string]*entry),
		registry:    reg,
		interpreter: interp,
		bridge:      br,
		retention:   DefaultRetention,
		log:         log,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Submit validates rawIR, mints an execution id, creates the lane and
// runtime context, and starts the interpreter asynchronously. It returns
// the execution id before the interpreter's first event is emitted.
func (m *Manager) Submit(rawIR []byte, initialInput map[string]interface{}) (string, error) {
	wf, err := validate.Validate(rawIR)
	if err != nil {
		return "", err
	}

	initial := wf.InitialState
	if initial == nil {
		initial = map[string]interface{}{}
	}
	if initialInput != nil {
		merged := make(map[string]interface{}, len(initial)+len(initialInput))
		for k, v := range initial {
			merged[k] = v
		}
		for k, v := range initialInput {
			merged[k] = v
		}
		initial = merged
	}

	st, err := state.New(initial)
	if err != nil {
		return "", flowerrors.Wrap(flowerrors.KindSchemaInvalid, "invalid initial state", err)
	}

	executionID := uuid.NewString()

	// Lane must exist before this call returns, so subscribers attached
	// right after Submit never miss an event. Buffering makes this
	// deterministic instead of relying on a scheduling delay.
	m.bridge.CreateLane(executionID)

	rt := runctx.New(wf.ID, executionID, func(ev events.Event) { m.bridge.Publish(executionID, ev) })

	// Every write fires a state_updated event carrying the merge patch for
	// that single path, so subscribers can apply incremental updates. Errors
	// computing the patch are logged and swallowed — a diffing failure must
	// never block the mutation it describes.
	st.AddPostHook(func(path string, old, newValue interface{}) {
		patch, err := statediff.MergePatch(path, old, newValue)
		if err != nil {
			m.log.Warn("manager: failed to compute state diff", "executionId", executionID, "path", path, "error", err)
			return
		}
		rt.Emit(events.StateUpdated, map[string]interface{}{
			"path":  path,
			"patch": patch,
		})
	})

	runCtx, cancel := context.WithCancel(context.Background())
	e := &entry{
		workflowID: wf.ID,
		startedAt:  time.Now(),
		status:     "running",
		rt:         rt,
		cancelFn:   cancel,
	}

	m.mu.Lock()
	m.executions[executionID] = e
	m.mu.Unlock()

	go m.run(runCtx, executionID, e, wf, st, rt)

	return executionID, nil
}

func (m *Manager) run(ctx context.Context, executionID string, e *entry, wf *interpreter.Workflow, st *state.Store, rt *runctx.Context) {
	result := m.interpreter.Run(ctx, wf, st, rt)

	now := time.Now()
	e.mu.Lock()
	e.endedAt = &now
	switch {
	case result.Err != nil && flowerrors.Is(result.Err, flowerrors.KindCancelled):
		e.status = "stopped"
	case result.Err != nil:
		e.status = "failed"
		m.log.Warn("execution failed", "executionId", executionID, "error", result.Err)
	default:
		e.status = "completed"
	}
	e.mu.Unlock()

	m.bridge.Terminal(executionID)

	time.AfterFunc(m.retention, func() {
		m.mu.Lock()
		delete(m.executions, executionID)
		m.mu.Unlock()
	})
}

// Status returns the current record for executionId.
func (m *Manager) Status(executionID string) (Status, error) {
	e, err := m.lookup(executionID)
	if err != nil {
		return Status{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec := Status{
		ExecutionID:   executionID,
		WorkflowID:    e.workflowID,
		StartedAt:     e.startedAt,
		EndedAt:       e.endedAt,
		CurrentNodeID: e.rt.CurrentNode(),
	}
	switch {
	case e.status != "running":
		rec.Status = e.status
	case e.rt.IsPaused():
		rec.Status = "paused"
	default:
		rec.Status = "running"
	}
	return rec, nil
}

// Resume forwards a resume request for tokenID to the named execution's
// runtime context, failing with NotPaused if the execution has no
// outstanding pause tokens.
func (m *Manager) Resume(executionID, tokenID string, data interface{}) error {
	e, err := m.lookup(executionID)
	if err != nil {
		return err
	}
	if !e.rt.IsPaused() {
		return flowerrors.Newf(flowerrors.KindNotPaused, "execution %q is not paused", executionID)
	}
	return e.rt.Resume(tokenID, data)
}

// Cancel marks executionId for cancellation: every outstanding pause token
// is cancelled immediately (unblocking any node in waitForResume), and the
// interpreter observes the request between elements and ends with
// exitSignal "cancelled".
func (m *Manager) Cancel(executionID string) error {
	e, err := m.lookup(executionID)
	if err != nil {
		return err
	}
	e.rt.RequestCancellation()
	e.cancelFn()
	return nil
}

// List enumerates every execution currently in the live table.
func (m *Manager) List() []Status {
	m.mu.Lock()
	ids := make([]string, 0, len(m.executions))
	for id := range m.executions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	out := make([]Status, 0, len(ids))
	for _, id := range ids {
		if rec, err := m.Status(id); err == nil {
			out = append(out, rec)
		}
	}
	return out
}

func (m *Manager) lookup(executionID string) (*entry, error) {
	m.mu.Lock()
	e, ok := m.executions[executionID]
	m.mu.Unlock()
	if !ok {
		return nil, flowerrors.Newf(flowerrors.KindUnknownExecution, "no execution with id %q", executionID)
	}
	return e, nil
}

// Subscribe attaches to an execution's event lane. See bridge.Subscribe.
func (m *Manager) Subscribe(executionID string, deliver func(events.Event), onCaughtUp func()) (func(), error) {
	return m.bridge.Subscribe(executionID, deliver, onCaughtUp)
}

// DecodeIR is a small convenience used by transport-layer callers (the
// cmd/flowscriptd HTTP seam) that receive a workflow as a decoded Go value
// rather than raw bytes.
func DecodeIR(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode workflow IR: %w", err)
	}
	return b, nil
}
