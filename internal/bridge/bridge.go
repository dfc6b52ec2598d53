// Package bridge implements the event bridge / fan-out: per-execution
// lanes that buffer events until a subscriber attaches, then
// drain-then-stream live, isolating slow or panicking subscribers from
// each other and from the interpreter that publishes into them.
//
// Lanes are keyed by executionId and fan typed events.Event values out to
// each subscriber's own send channel + pump goroutine, so a stalled
// consumer on one lane can never block publication to another. The
// bounded buffer exists because subscribers may attach after publication
// has already started; the grace-period eviction tears a lane down once
// its execution reaches a terminal state.
package bridge

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/flowscript/internal/events"
	"github.com/lyzr/flowscript/internal/flowerrors"
)

const (
	// DefaultMaxBuffer is the default bound on a lane's FIFO buffer.
	DefaultMaxBuffer = 1024
	// DefaultEvictGrace is the default delay between an execution reaching
	// terminal status and its lane being torn down.
	DefaultEvictGrace = 5 * time.Second
)

// Logger is the minimal logging surface the bridge needs.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type subscriber struct {
	id          string
	executionID string
	send        chan events.Event
	done        chan struct{}
	deliver     func(events.Event)
	bridge      *Bridge
}

// enqueue never blocks: a subscriber whose pump has fallen more than
// maxBuffer events behind has its oldest queued event dropped to make
// room, so a stuck consumer can never stall Publish and, through it, the
// interpreter goroutine emitting the event.
func (s *subscriber) enqueue(ev events.Event) {
	for {
		select {
		case s.send <- ev:
			return
		case <-s.done:
			return
		default:
		}
		select {
		case <-s.send:
			s.bridge.log.Warn("bridge: subscriber falling behind, dropping oldest queued event",
				"executionId", s.executionID)
		case <-s.done:
			return
		default:
		}
	}
}

func (s *subscriber) pump() {
	for {
		select {
		case ev, ok := <-s.send:
			if !ok {
				return
			}
			s.safeDeliver(ev)
		case <-s.done:
			return
		}
	}
}

func (s *subscriber) safeDeliver(ev events.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.bridge.log.Error("bridge: subscriber panicked, detaching", "executionId", s.executionID, "recovered", r)
			s.bridge.Unsubscribe(s.executionID, s.id)
		}
	}()
	s.deliver(ev)
}

type lane struct {
	mu       sync.Mutex
	buffer   []events.Event
	subs     map[string]*subscriber
	terminal bool
}

// Bridge is the process-wide (or per-test) event fan-out.
type Bridge struct {
	mu         sync.Mutex
	lanes      map[string]*lane
	maxBuffer  int
	evictGrace time.Duration
	log        Logger
}

// New builds a Bridge. maxBuffer <= 0 uses DefaultMaxBuffer; evictGrace <= 0
// uses DefaultEvictGrace.
func New(maxBuffer int, evictGrace time.Duration, log Logger) *Bridge {
	if maxBuffer <= 0 {
		maxBuffer = DefaultMaxBuffer
	}
	if evictGrace <= 0 {
		evictGrace = DefaultEvictGrace
	}
	if log == nil {
		log = noopLogger{}
	}
	return &Bridge{lanes: make(map[string]*lane), maxBuffer: maxBuffer, evictGrace: evictGrace, log: log}
}

// CreateLane creates an empty lane for executionId. Must be called before
// the first event for that execution is published; the manager does this
// before starting the interpreter, so no event can be lost before a
// subscriber attaches and no scheduling delay is needed.
func (b *Bridge) CreateLane(executionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.lanes[executionID]; exists {
		return
	}
	b.lanes[executionID] = &lane{subs: make(map[string]*subscriber)}
}

func (b *Bridge) getLane(executionID string) *lane {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lanes[executionID]
}

// Publish routes ev to executionId's lane: buffered, then fanned out to
// every currently-attached subscriber.
func (b *Bridge) Publish(executionID string, ev events.Event) {
	l := b.getLane(executionID)
	if l == nil {
		return
	}

	l.mu.Lock()
	if l.terminal {
		l.mu.Unlock()
		return
	}
	if len(l.buffer) >= b.maxBuffer {
		l.buffer = l.buffer[1:]
		b.log.Warn("bridge: lane buffer overflow, dropping oldest event", "executionId", executionID)
	}
	l.buffer = append(l.buffer, ev)
	subs := make([]*subscriber, 0, len(l.subs))
	for _, s := range l.subs {
		subs = append(subs, s)
	}
	l.mu.Unlock()

	for _, s := range subs {
		s.enqueue(ev)
	}
}

// Subscribe attaches to executionId's lane: every buffered event is queued
// for deliver (in order), ahead of every live event published thereafter.
// deliver runs on the subscriber's own goroutine. onCaughtUp is called once,
// synchronously, after the buffered events have been queued (not
// necessarily delivered); it is a transport-neutral stand-in for a
// "confirmation" event that keeps the wire event type set closed. The
// returned func detaches the subscriber.
func (b *Bridge) Subscribe(executionID string, deliver func(events.Event), onCaughtUp func()) (func(), error) {
	l := b.getLane(executionID)
	if l == nil {
		return nil, flowerrors.Newf(flowerrors.KindUnknownExecution, "no lane for execution %q", executionID)
	}

	sub := &subscriber{
		id:          uuid.NewString(),
		executionID: executionID,
		send:        make(chan events.Event, b.maxBuffer),
		done:        make(chan struct{}),
		deliver:     deliver,
		bridge:      b,
	}

	l.mu.Lock()
	// Replay the buffer while still holding l.mu: a concurrent Publish
	// also takes l.mu before it appends+fans out, so this ordering
	// guarantees every buffered event reaches sub.send strictly before any
	// event published after Subscribe was called — otherwise a live event
	// could win the race onto sub.send ahead of the history it must follow.
	buffered := l.buffer
	l.subs[sub.id] = sub

	go sub.pump()
	for _, ev := range buffered {
		sub.enqueue(ev)
	}
	l.mu.Unlock()

	if onCaughtUp != nil {
		onCaughtUp()
	}

	unsubscribe := func() { b.Unsubscribe(executionID, sub.id) }
	return unsubscribe, nil
}

// Unsubscribe detaches a subscriber. Safe to call more than once.
func (b *Bridge) Unsubscribe(executionID, subscriberID string) {
	l := b.getLane(executionID)
	if l == nil {
		return
	}
	l.mu.Lock()
	sub, ok := l.subs[subscriberID]
	if ok {
		delete(l.subs, subscriberID)
	}
	l.mu.Unlock()
	if ok {
		close(sub.done)
	}
}

// Terminal marks executionId's lane as terminal (no further publishes are
// accepted) and schedules eviction after the grace period.
func (b *Bridge) Terminal(executionID string) {
	l := b.getLane(executionID)
	if l == nil {
		return
	}
	l.mu.Lock()
	l.terminal = true
	l.mu.Unlock()

	time.AfterFunc(b.evictGrace, func() { b.evict(executionID) })
}

func (b *Bridge) evict(executionID string) {
	b.mu.Lock()
	l := b.lanes[executionID]
	delete(b.lanes, executionID)
	b.mu.Unlock()
	if l == nil {
		return
	}
	l.mu.Lock()
	subs := l.subs
	l.subs = nil
	l.mu.Unlock()
	for _, s := range subs {
		close(s.done)
	}
}

// LaneExists reports whether a lane is currently tracked for executionId.
func (b *Bridge) LaneExists(executionID string) bool {
	return b.getLane(executionID) != nil
}
