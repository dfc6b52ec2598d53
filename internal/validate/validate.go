// Package validate implements schema validation of a workflow IR document
// before the manager creates an execution for it. Validation runs against
// the raw generic JSON tree (the decoded interface{} shape) rather than
// the strongly-typed IR, so every violation in a malformed document can be
// reported at once instead of only the first; a document a human has to
// fix by hand deserves the full list.
package validate

import (
	"encoding/json"
	"fmt"

	"github.com/lyzr/flowscript/internal/flowerrors"
	"github.com/lyzr/flowscript/internal/interpreter"
)

// Validate parses raw as a workflow IR document, collecting every schema
// violation it can find. On success it returns the strongly-typed Workflow
// ready for execution. On failure it returns a SchemaInvalid error carrying
// the full violation list; no execution row should be created in that case.
func Validate(raw []byte) (*interpreter.Workflow, error) {
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, flowerrors.Invalid([]string{"document is not a JSON object: " + err.Error()})
	}

	var violations []string

	id, ok := generic["id"]
	if !ok {
		violations = append(violations, "missing required field \"id\"")
	} else if _, ok := id.(string); !ok {
		violations = append(violations, "\"id\" must be a string")
	}

	nodesRaw, ok := generic["nodes"]
	if !ok {
		violations = append(violations, "missing required field \"nodes\"")
	} else if nodesList, ok := nodesRaw.([]interface{}); !ok {
		violations = append(violations, "\"nodes\" must be an array")
	} else {
		for i, n := range nodesList {
			validateElement(n, fmt.Sprintf("nodes[%d]", i), &violations)
		}
	}

	if initialState, ok := generic["initialState"]; ok && initialState != nil {
		if _, ok := initialState.(map[string]interface{}); !ok {
			violations = append(violations, "\"initialState\" must be an object")
		}
	}

	if len(violations) > 0 {
		return nil, flowerrors.Invalid(violations)
	}

	var wf interpreter.Workflow
	if err := json.Unmarshal(raw, &wf); err != nil {
		// Reached when a field the shape checks above do not inspect has the
		// wrong type (e.g. a configured node's config that is not an object,
		// or a non-string "name"); only this one violation is reported then.
		return nil, flowerrors.Invalid([]string{"failed to decode IR after validation: " + err.Error()})
	}
	return &wf, nil
}

// validateElement checks one flow element's shape: string (node ref),
// single-key object (configured node), or 2-element array (branch/loop).
func validateElement(v interface{}, path string, violations *[]string) {
	switch t := v.(type) {
	case string:
		// node reference: always valid shape
	case map[string]interface{}:
		if len(t) != 1 {
			*violations = append(*violations, fmt.Sprintf("%s: configured node must have exactly one key, got %d", path, len(t)))
		}
	case []interface{}:
		if len(t) != 2 {
			*violations = append(*violations, fmt.Sprintf("%s: branch/loop must have exactly 2 slots, got %d", path, len(t)))
			return
		}
		validateElement(t[0], path+"[0]", violations)
		switch second := t[1].(type) {
		case map[string]interface{}:
			for edge, body := range second {
				if body == nil {
					continue
				}
				switch b := body.(type) {
				case []interface{}:
					for i, el := range b {
						validateElement(el, fmt.Sprintf("%s.branches[%s][%d]", path, edge, i), violations)
					}
				default:
					validateElement(body, fmt.Sprintf("%s.branches[%s]", path, edge), violations)
				}
			}
		case []interface{}:
			for i, el := range second {
				validateElement(el, fmt.Sprintf("%s.body[%d]", path, i), violations)
			}
		default:
			*violations = append(*violations, fmt.Sprintf("%s: second slot must be an object (branch) or array (loop)", path))
		}
	case nil:
		*violations = append(*violations, path+": flow element must not be null")
	default:
		*violations = append(*violations, fmt.Sprintf("%s: flow element has unrecognized shape %T", path, v))
	}
}
