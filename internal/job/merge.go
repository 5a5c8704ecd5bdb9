package job

import (
	"encoding/json"
	"fmt"
)

// DeepMerge merges override into base recursively and returns a new map.
// Nested objects merge key by key; scalars and arrays from override replace
// the base value wholesale. Neither input is mutated.
func DeepMerge(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = cloneValue(v)
	}
	for k, v := range override {
		bv, exists := out[k]
		bm, baseIsMap := bv.(map[string]any)
		om, overrideIsMap := v.(map[string]any)
		if exists && baseIsMap && overrideIsMap {
			out[k] = DeepMerge(bm, om)
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}

// ToMap renders the job as a generic document, the base the experiment
// harness merges variant overrides into.
func (j *Job) ToMap() (map[string]any, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	m := map[string]any{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return m, nil
}

// VariantID derives the stable child id for variant i.
func VariantID(parentJobID string, i int) string {
	return fmt.Sprintf("%s-variant-%d", parentJobID, i)
}
