package evidence

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// chainSchema is the JSON Schema for the v1 exported chain. Import
// rejects structurally invalid documents before any MAC work happens.
const chainSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "physjitter evidence chain v1",
  "type": "object",
  "required": ["records", "chain_mac"],
  "additionalProperties": false,
  "properties": {
    "records": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["variant", "sequence", "timestamp_ns", "input_hash", "jitter"],
        "additionalProperties": false,
        "properties": {
          "variant": {"enum": ["phys", "pure"]},
          "sequence": {"type": "integer", "minimum": 0},
          "timestamp_ns": {"type": "integer", "minimum": 0},
          "input_hash": {"type": "string", "pattern": "^[0-9a-f]{64}$"},
          "entropy": {
            "type": "object",
            "required": ["hash", "bits"],
            "additionalProperties": false,
            "properties": {
              "hash": {"type": "string", "pattern": "^[0-9a-f]{64}$"},
              "bits": {"type": "integer", "minimum": 0, "maximum": 64}
            }
          },
          "jitter": {"type": "integer", "minimum": 0, "maximum": 4294967295}
        }
      }
    },
    "chain_mac": {"type": "string", "pattern": "^[0-9a-f]{64}$"}
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func validateChainSchema(data []byte) error {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("chain-v1.schema.json", strings.NewReader(chainSchema)); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = compiler.Compile("chain-v1.schema.json")
	})
	if schemaErr != nil {
		return fmt.Errorf("evidence: compile schema: %w", schemaErr)
	}

	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if err := compiledSchema.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return nil
}
