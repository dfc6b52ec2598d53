// Package statediff turns a single state-store write into an RFC 7396 JSON
// Merge Patch fragment (github.com/evanphx/json-patch/v5), so that
// state_updated subscribers can apply an incremental update instead of
// re-rendering the whole document.
package statediff

import (
	"encoding/json"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/tidwall/sjson"
)

// MergePatch computes the merge patch describing the change at path from old
// to newValue, encoded as a single-branch JSON document (e.g. writing
// "a.b" turns into {"a":{"b": newValue}}). A missing old value is treated as
// null, which is the merge-patch convention CreateMergePatch already uses
// for "this key appeared".
func MergePatch(path string, old, newValue interface{}) (map[string]interface{}, error) {
	before, err := sjson.SetBytes([]byte("{}"), path, old)
	if err != nil {
		return nil, err
	}
	after, err := sjson.SetBytes([]byte("{}"), path, newValue)
	if err != nil {
		return nil, err
	}

	patchBytes, err := jsonpatch.CreateMergePatch(before, after)
	if err != nil {
		return nil, err
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(patchBytes, &patch); err != nil {
		return nil, err
	}
	return patch, nil
}
