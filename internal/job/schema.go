package job

import (
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
)

// compiledSchema compiles the embedded job schema once. The schema is part
// of the binary; a compile failure is a programmer error.
func compiledSchema() *jsonschema.Schema {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("job.schema.json", strings.NewReader(jobSchema)); err != nil {
			panic(err)
		}
		schema = c.MustCompile("job.schema.json")
	})
	return schema
}

// jobSchema is the strict-mode contract for job documents. Layer keys are
// validated post-normalization, so only canonical names appear here.
const jobSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "title": "brandforge job",
  "type": "object",
  "additionalProperties": false,
  "required": ["jobId"],
  "properties": {
    "jobId": {"type": "string", "minLength": 1},
    "mode": {"enum": ["normal", "world_class", "experiment"]},
    "jobType": {"type": "string"},
    "content": {"type": "object"},
    "export": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "intent": {"enum": ["print", "screen"]},
        "preset": {"type": "string"},
        "pageSize": {"type": "string"}
      }
    },
    "qa": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "threshold": {"type": "number", "minimum": 0},
        "scale": {"enum": ["rubric", "grade"]},
        "autoFixColors": {"type": "boolean"},
        "visualBaseline": {"type": "string"},
        "failFast": {"type": "boolean"},
        "failOnAiError": {"type": "boolean"}
      }
    },
    "layers": {
      "type": "object",
      "propertyNames": {
        "enum": ["structural", "content", "pdf_quality", "visual", "ai_vision", "accessibility"]
      },
      "additionalProperties": {
        "type": "object",
        "additionalProperties": false,
        "properties": {
          "enabled": {"type": "boolean"},
          "minScore": {"type": "number"},
          "weight": {"type": "number", "minimum": 0},
          "options": {"type": "object"}
        }
      }
    },
    "experiment": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "variantCount": {"type": "integer", "minimum": 0},
        "variantConfigs": {"type": "array", "items": {"type": "object"}},
        "weights": {
          "type": "object",
          "additionalProperties": false,
          "properties": {
            "total": {"type": "number", "minimum": 0},
            "brand": {"type": "number", "minimum": 0},
            "visualDiff": {"type": "number", "minimum": 0},
            "passFail": {"type": "number", "minimum": 0}
          }
        }
      }
    },
    "rag": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "collection": {"type": "string"}
      }
    },
    "report": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "history": {"type": "boolean"}
      }
    },
    "budgetSeconds": {"type": "integer", "minimum": 0}
  }
}`
