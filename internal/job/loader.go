package job

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ConfigError wraps any failure to load or validate a job config. Callers
// map it to the infrastructure exit code without running the pipeline.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("job config: %v", e.Err)
	}
	return fmt.Sprintf("job config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// LoadOptions tune the loader.
type LoadOptions struct {
	// Strict rejects documents that violate the embedded schema (unknown
	// keys included). Non-strict downgrades schema violations to warnings.
	Strict bool
}

var validate = validator.New()

// Load reads a job config from disk. Format is chosen by extension:
// .yaml/.yml parse as YAML, everything else as JSON. Returned warnings
// cover deprecated-key rewrites, layer alias normalization, and (outside
// strict mode) schema violations.
func Load(path string, opts LoadOptions) (*Job, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, &ConfigError{Path: path, Err: fmt.Errorf("read: %w", err)}
	}
	j, warnings, err := Parse(data, filepath.Ext(path), opts)
	if err != nil {
		return nil, warnings, &ConfigError{Path: path, Err: err}
	}
	return j, warnings, nil
}

// Parse decodes, rewrites, validates and canonicalizes a raw job document.
func Parse(data []byte, ext string, opts LoadOptions) (*Job, []string, error) {
	raw := map[string]any{}
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, nil, fmt.Errorf("parse yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, nil, fmt.Errorf("parse json: %w", err)
		}
	}

	warnings := applyDeprecations(raw)
	warnings = append(warnings, normalizeLayerKeys(raw)...)

	// Re-encode through JSON so YAML documents validate and decode with the
	// same types a JSON document would.
	canonical, err := json.Marshal(raw)
	if err != nil {
		return nil, warnings, fmt.Errorf("canonicalize: %w", err)
	}

	var doc any
	if err := json.Unmarshal(canonical, &doc); err != nil {
		return nil, warnings, fmt.Errorf("canonicalize: %w", err)
	}
	if err := compiledSchema().Validate(doc); err != nil {
		if opts.Strict {
			return nil, warnings, fmt.Errorf("schema: %w", err)
		}
		warnings = append(warnings, fmt.Sprintf("schema: %v", err))
	}

	var j Job
	if err := json.Unmarshal(canonical, &j); err != nil {
		return nil, warnings, fmt.Errorf("decode: %w", err)
	}

	if err := resolveThresholdScale(&j); err != nil {
		return nil, warnings, err
	}
	if err := validate.Struct(&j); err != nil {
		return nil, warnings, fmt.Errorf("invalid job: %w", err)
	}
	if err := validateSemantics(&j); err != nil {
		return nil, warnings, err
	}
	return &j, warnings, nil
}

// FromMap builds a validated Job from an already-merged document, as the
// experiment harness does for variants. Same pipeline as Parse.
func FromMap(m map[string]any) (*Job, []string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, nil, fmt.Errorf("encode merged job: %w", err)
	}
	return Parse(data, ".json", LoadOptions{})
}

// Serialize renders the canonical JSON form of a loaded job. Loading the
// output again yields an identical in-memory representation: deprecated keys
// are gone and the threshold scale is already rubric.
func (j *Job) Serialize() ([]byte, error) {
	return json.MarshalIndent(j, "", "  ")
}

// deprecations maps retired flat keys onto their nested replacements.
// Rewrites happen on the raw document before schema validation, so old
// configs stay loadable outside strict mode too.
var deprecations = []struct {
	old  string
	path []string
}{
	{"rag_enabled", []string{"rag", "enabled"}},
	{"qa_threshold", []string{"qa", "threshold"}},
	{"auto_fix_colors", []string{"qa", "autoFixColors"}},
	{"visual_baseline", []string{"qa", "visualBaseline"}},
}

func applyDeprecations(raw map[string]any) []string {
	var warnings []string
	for _, d := range deprecations {
		v, ok := raw[d.old]
		if !ok {
			continue
		}
		delete(raw, d.old)
		target := strings.Join(d.path, ".")
		if setNested(raw, d.path, v) {
			warnings = append(warnings, fmt.Sprintf("deprecated key %q rewritten to %q", d.old, target))
		} else {
			warnings = append(warnings, fmt.Sprintf("deprecated key %q ignored: %q already set", d.old, target))
		}
	}
	return warnings
}

// setNested writes v at path, creating intermediate objects. Returns false
// when the leaf already exists or an intermediate node is not an object; the
// new-style key wins in that case.
func setNested(raw map[string]any, path []string, v any) bool {
	m := raw
	for _, key := range path[:len(path)-1] {
		child, ok := m[key]
		if !ok {
			next := map[string]any{}
			m[key] = next
			m = next
			continue
		}
		childMap, ok := child.(map[string]any)
		if !ok {
			return false
		}
		m = childMap
	}
	leaf := path[len(path)-1]
	if _, exists := m[leaf]; exists {
		return false
	}
	m[leaf] = v
	return true
}

// resolveThresholdScale converts the gate threshold to rubric points (0-150)
// once, at load time. Two scales circulate in job configs: rubric and the
// 0-100 grade. world_class jobs with a threshold that only makes sense on the
// grade scale must say so explicitly; guessing would move the gate by 50%.
func resolveThresholdScale(j *Job) error {
	switch j.QA.Scale {
	case ScaleGrade:
		if j.QA.Threshold > 100 {
			return fmt.Errorf("qa.threshold %.2f exceeds the grade scale maximum of 100", j.QA.Threshold)
		}
		j.QA.Threshold = math.Round(j.QA.Threshold*1.5*100) / 100
		j.QA.Scale = ScaleRubric
	case ScaleRubric:
		// already canonical
	case "":
		if j.EffectiveMode() == ModeWorldClass && j.QA.Threshold > 0 && j.QA.Threshold <= 100 {
			return fmt.Errorf("world_class threshold %.2f is ambiguous: set qa.scale to %q or %q",
				j.QA.Threshold, ScaleRubric, ScaleGrade)
		}
		j.QA.Scale = ScaleRubric
	default:
		return fmt.Errorf("unknown qa.scale %q", j.QA.Scale)
	}
	return nil
}
