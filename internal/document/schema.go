package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// snapshotSchema describes the response shape the materializer understands.
// Violations are diagnostics only: the snapshot is always written as-is.
const snapshotSchema = `{
  "type": "object",
  "properties": {
    "pages": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "markdown": {"type": ["string", "null"]},
          "images": {
            "type": ["array", "null"],
            "items": {
              "type": "object",
              "anyOf": [
                {"required": ["data"]},
                {"required": ["id", "image_base64"]}
              ]
            }
          }
        }
      }
    }
  },
  "required": ["pages"]
}`

// Issue is one schema violation, located by JSON pointer.
type Issue struct {
	Location string
	Message  string
}

func (i Issue) String() string {
	if i.Location == "" {
		return i.Message
	}
	return i.Location + ": " + i.Message
}

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("snapshot.json", strings.NewReader(snapshotSchema)); err != nil {
			compileErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiled, compileErr = compiler.Compile("snapshot.json")
	})
	return compiled, compileErr
}

// Validate checks an encoded snapshot against the expected response shape and
// returns the leaf violations. A nil result means the shape is understood.
func Validate(snapshot []byte) ([]Issue, error) {
	sch, err := schema()
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(snapshot))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	err = sch.Validate(v)
	if err == nil {
		return nil, nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return nil, err
	}
	return collectIssues(verr), nil
}

func collectIssues(err *jsonschema.ValidationError) []Issue {
	var issues []Issue
	var walk func(*jsonschema.ValidationError)
	walk = func(node *jsonschema.ValidationError) {
		if node == nil {
			return
		}
		if len(node.Causes) == 0 {
			issues = append(issues, Issue{
				Location: strings.TrimSpace(node.InstanceLocation),
				Message:  strings.TrimSpace(node.Message),
			})
			return
		}
		for _, cause := range node.Causes {
			walk(cause)
		}
	}
	walk(err)
	return issues
}
