// Package conftree implements recursive structural merging of generic
// configuration trees, as produced by YAML decoding into untyped values.
package conftree

import (
	"fmt"
	"io"
	"reflect"

	"gopkg.in/yaml.v3"
)

// Merge combines two configuration trees, with override taking precedence
// over base. Neither input is mutated; the result shares no containers with
// either input.
//
// Merge dispatches on the shapes of the two values:
//   - mapping and mapping: keys present in both are merged recursively,
//     keys present in only one side pass through.
//   - sequence and sequence: the result is base followed by every override
//     element not already present in base, in override's order. Duplicates
//     already in base are kept.
//   - anything else (scalar, nil, or mismatched shapes): override wins.
func Merge(base, override any) any {
	switch b := base.(type) {
	case map[string]any:
		o, ok := override.(map[string]any)
		if !ok {
			return Clone(override)
		}
		merged := make(map[string]any, len(b)+len(o))
		for k, v := range b {
			merged[k] = Clone(v)
		}
		for k, v := range o {
			if bv, exists := b[k]; exists {
				merged[k] = Merge(bv, v)
			} else {
				merged[k] = Clone(v)
			}
		}
		return merged
	case []any:
		o, ok := override.([]any)
		if !ok {
			return Clone(override)
		}
		merged := make([]any, 0, len(b)+len(o))
		for _, v := range b {
			merged = append(merged, Clone(v))
		}
		for _, v := range o {
			if !contains(b, v) {
				merged = append(merged, Clone(v))
			}
		}
		return merged
	default:
		return Clone(override)
	}
}

// contains reports whether seq has an element deeply equal to v.
func contains(seq []any, v any) bool {
	for _, e := range seq {
		if reflect.DeepEqual(e, v) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of a configuration tree. Scalars are returned
// as-is; maps and sequences are copied recursively.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Clone(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Clone(e)
		}
		return out
	default:
		return v
	}
}

// Decode reads a YAML document into a generic configuration tree.
// An empty document decodes to an empty mapping.
func Decode(r io.Reader) (map[string]any, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("conftree: decode: read: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("conftree: decode: parse: %w", err)
	}
	if tree == nil {
		tree = map[string]any{}
	}
	return tree, nil
}

// Encode writes a configuration tree as a YAML document.
func Encode(w io.Writer, tree map[string]any) error {
	data, err := yaml.Marshal(tree)
	if err != nil {
		return fmt.Errorf("conftree: encode: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("conftree: encode: write: %w", err)
	}
	return nil
}
