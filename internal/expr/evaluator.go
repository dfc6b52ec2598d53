// Package expr implements the restricted expression evaluator consumed by
// built-in control nodes such as whileCondition.
//
// It wraps google/cel-go with a mutex-guarded compiled-program cache and a
// deliberately small environment: the only variable is "state", and the
// only callable functions are exists/isEmpty/length, each taking a
// state-store path string (the same path grammar as internal/state) rather
// than an arbitrary CEL value. Path-based functions sidestep CEL's default
// behavior of erroring on selecting a missing map key, which would
// otherwise make "does this path exist" impossible to express safely.
//
// Because cel-go's standard environment (arithmetic, comparison, ternary,
// indexing operators) is still declared, a second line of defense, a plain
// character/token scan in validateGrammar, runs before compilation and
// rejects anything that isn't one of: whitespace, digits, letters,
// underscore, the path/argument punctuation ([](),.), the restricted
// operator set, or a quoted string literal. Expressions arrive in
// untrusted workflow documents and must never reach arbitrary evaluation.
package expr

import (
	"regexp"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/lyzr/flowscript/internal/flowerrors"
	"github.com/lyzr/flowscript/internal/state"
)

const allowedChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_.[](),+-*/%<>=!&|?: \t\n\r"

var identifierCallRe = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\s*\(`)

var allowedCalls = map[string]bool{"exists": true, "isEmpty": true, "length": true}

// Evaluator evaluates restricted boolean expressions against a state.Store.
type Evaluator struct {
	mu      sync.Mutex
	env     *cel.Env
	cache   map[string]cel.Program
	current *state.Store
}

// NewEvaluator builds an Evaluator with the narrowed CEL environment.
func NewEvaluator() (*Evaluator, error) {
	e := &Evaluator{cache: make(map[string]cel.Program)}
	env, err := cel.NewEnv(
		cel.ClearMacros(),
		cel.Variable("state", cel.DynType),
		cel.Function("exists",
			cel.Overload("exists_path_string", []*cel.Type{cel.StringType}, cel.BoolType,
				cel.UnaryBinding(e.existsImpl))),
		cel.Function("isEmpty",
			cel.Overload("isEmpty_path_string", []*cel.Type{cel.StringType}, cel.BoolType,
				cel.UnaryBinding(e.isEmptyImpl))),
		cel.Function("length",
			cel.Overload("length_path_string", []*cel.Type{cel.StringType}, cel.IntType,
				cel.UnaryBinding(e.lengthImpl))),
	)
	if err != nil {
		return nil, err
	}
	e.env = env
	return e, nil
}

// validateGrammar rejects any expression using characters or function calls
// outside the restricted grammar, before it ever reaches CEL's compiler.
func validateGrammar(expression string) error {
	if strings.TrimSpace(expression) == "" {
		return flowerrors.New(flowerrors.KindExpressionRejected, "empty expression")
	}

	var inQuote rune
	escaped := false
	for _, r := range expression {
		if inQuote != 0 {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == inQuote:
				inQuote = 0
			}
			continue
		}
		if r == '\'' || r == '"' {
			inQuote = r
			continue
		}
		if !strings.ContainsRune(allowedChars, r) {
			return flowerrors.Newf(flowerrors.KindExpressionRejected, "disallowed character %q in expression", r)
		}
	}
	if inQuote != 0 {
		return flowerrors.New(flowerrors.KindExpressionRejected, "unterminated string literal")
	}

	for _, m := range identifierCallRe.FindAllStringSubmatch(expression, -1) {
		if !allowedCalls[m[1]] {
			return flowerrors.Newf(flowerrors.KindExpressionRejected,
				"function %q is not in the whitelist (exists, isEmpty, length)", m[1])
		}
	}
	return nil
}

func (e *Evaluator) compileLocked(expression string) (cel.Program, error) {
	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}
	ast, iss := e.env.Compile(expression)
	if iss != nil && iss.Err() != nil {
		return nil, flowerrors.Wrap(flowerrors.KindExpressionRejected, "failed to compile expression", iss.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, flowerrors.Wrap(flowerrors.KindExpressionRejected, "failed to build expression program", err)
	}
	e.cache[expression] = prg
	return prg, nil
}

// Evaluate compiles (with caching) and runs expression against store,
// returning its boolean result.
func (e *Evaluator) Evaluate(expression string, store *state.Store) (bool, error) {
	if err := validateGrammar(expression); err != nil {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	prg, err := e.compileLocked(expression)
	if err != nil {
		return false, err
	}

	e.current = store
	defer func() { e.current = nil }()

	out, _, err := prg.Eval(map[string]interface{}{"state": store.Snapshot()})
	if err != nil {
		return false, flowerrors.Wrap(flowerrors.KindExpressionRejected, "expression evaluation failed", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, flowerrors.Newf(flowerrors.KindExpressionRejected, "expression must evaluate to a boolean, got %T", out.Value())
	}
	return b, nil
}

// ClearCache drops every compiled program, forcing recompilation on next use.
func (e *Evaluator) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]cel.Program)
}

// CacheSize reports how many distinct expressions are currently compiled.
func (e *Evaluator) CacheSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cache)
}

func (e *Evaluator) existsImpl(arg ref.Val) ref.Val {
	path, ok := arg.Value().(string)
	if !ok {
		return types.NewErr("exists: path must be a string")
	}
	_, found := e.current.Get(path)
	return types.Bool(found)
}

func (e *Evaluator) isEmptyImpl(arg ref.Val) ref.Val {
	path, ok := arg.Value().(string)
	if !ok {
		return types.NewErr("isEmpty: path must be a string")
	}
	v, found := e.current.Get(path)
	if !found || v == nil {
		return types.Bool(true)
	}
	switch t := v.(type) {
	case string:
		return types.Bool(len(t) == 0)
	case []interface{}:
		return types.Bool(len(t) == 0)
	case map[string]interface{}:
		return types.Bool(len(t) == 0)
	default:
		return types.Bool(false)
	}
}

func (e *Evaluator) lengthImpl(arg ref.Val) ref.Val {
	path, ok := arg.Value().(string)
	if !ok {
		return types.NewErr("length: path must be a string")
	}
	v, found := e.current.Get(path)
	if !found {
		return types.NewErr("length: path %q does not exist", path)
	}
	switch t := v.(type) {
	case string:
		return types.Int(len(t))
	case []interface{}:
		return types.Int(len(t))
	case map[string]interface{}:
		return types.Int(len(t))
	default:
		return types.NewErr("length: value has no length")
	}
}
