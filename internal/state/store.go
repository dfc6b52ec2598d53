// Package state implements FlowScript's path-addressed mutable state
// document: the JSON object threaded through every node in a workflow.
//
// Reads and writes are expressed as gjson/sjson paths. The document is
// kept as a raw JSON byte slice rather than a live map[string]interface{}
// tree, so every Get and Snapshot is a fresh parse: callers always receive
// an independent copy and can never mutate a subtree shared with the store
// or with another caller.
package state

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Hook observes a single write. oldValue is the value at path before the
// write (nil if absent); newValue is the value being written.
type Hook func(path string, oldValue, newValue interface{})

// Store is the mutable JSON document for a single execution. A Store is
// owned by exactly one execution; the manager moves ownership in at submit
// and takes a snapshot out at completion — there is no cross-execution
// aliasing.
type Store struct {
	mu        sync.RWMutex
	doc       []byte
	preHooks  []Hook
	postHooks []Hook
}

// New creates a Store seeded with initial (nil is treated as an empty
// object).
func New(initial map[string]interface{}) (*Store, error) {
	if initial == nil {
		initial = map[string]interface{}{}
	}
	b, err := json.Marshal(initial)
	if err != nil {
		return nil, err
	}
	return &Store{doc: b}, nil
}

// AddPreHook registers a hook invoked before a write is applied.
func (s *Store) AddPreHook(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preHooks = append(s.preHooks, h)
}

// AddPostHook registers a hook invoked after a write is applied.
func (s *Store) AddPostHook(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.postHooks = append(s.postHooks, h)
}

// normalizePath strips the optional $. / state. prefix and rewrites
// bracketed array indices (a.b[3]) into the plain dotted form gjson/sjson
// expect (a.b.3).
func normalizePath(raw string) string {
	p := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(p, "$."):
		p = p[2:]
	case p == "$":
		p = ""
	case strings.HasPrefix(p, "state."):
		p = p[len("state."):]
	case p == "state":
		p = ""
	}
	if !strings.ContainsAny(p, "[]") {
		return p
	}
	var b strings.Builder
	b.Grow(len(p))
	for i := 0; i < len(p); i++ {
		c := p[i]
		switch c {
		case '[':
			if b.Len() > 0 {
				b.WriteByte('.')
			}
		case ']':
			// skip
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// escapeKey escapes a root-level key for use as a one-component sjson path,
// in case it contains path-special characters.
func escapeKey(key string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)
	return r.Replace(key)
}

// Get reads the value at path. The second return value is false when the
// path is absent, distinct from a stored JSON null (which reports true with
// a nil value).
func (s *Store) Get(path string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(path)
}

func (s *Store) getLocked(path string) (interface{}, bool) {
	norm := normalizePath(path)
	if norm == "" {
		var v map[string]interface{}
		if err := json.Unmarshal(s.doc, &v); err != nil {
			return nil, false
		}
		return v, true
	}
	r := gjson.GetBytes(s.doc, norm)
	if !r.Exists() {
		return nil, false
	}
	return r.Value(), true
}

// Set writes value at path, creating intermediate objects as needed, and
// fires the pre/post mutation hooks around the write.
func (s *Store) Set(path string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	norm := normalizePath(path)
	old, _ := s.getLocked(path)

	for _, h := range s.preHooks {
		safeHook(h, norm, old, value)
	}

	var newDoc []byte
	var err error
	if norm == "" {
		newDoc, err = json.Marshal(value)
	} else {
		newDoc, err = sjson.SetBytes(s.doc, norm, value)
	}
	if err != nil {
		return err
	}
	s.doc = newDoc

	for _, h := range s.postHooks {
		safeHook(h, norm, old, value)
	}
	return nil
}

// Update shallow-merges partial into the document root, one key at a time.
// Each key's write fires the hook lists exactly as Set would.
func (s *Store) Update(partial map[string]interface{}) error {
	for k, v := range partial {
		if err := s.Set(escapeKey(k), v); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot returns the whole document as a fresh, independently-owned map.
func (s *Store) Snapshot() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var v map[string]interface{}
	if err := json.Unmarshal(s.doc, &v); err != nil {
		return map[string]interface{}{}
	}
	return v
}

// RawJSON returns the current document's raw JSON bytes (a copy).
func (s *Store) RawJSON() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]byte, len(s.doc))
	copy(out, s.doc)
	return out
}

// safeHook runs a hook guarding against panics: hook failures are
// non-fatal, and the mutation applies regardless of what the hook does.
func safeHook(h Hook, path string, old, newValue interface{}) {
	defer func() { _ = recover() }()
	h(path, old, newValue)
}
