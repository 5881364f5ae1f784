package utils

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	hjson "github.com/hjson/hjson-go/v4"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrUndecodable is returned when no decoding pass accepts the input.
var ErrUndecodable = errors.New("undecodable JSON")

// Stage names the decoding pass that accepted a document.
type Stage string

const (
	StageStrict   Stage = "strict"
	StageRepaired Stage = "repaired" // quotes, trailing commas, unclosed brackets
	StageHJSON    Stage = "hjson"    // comments, unquoted keys
)

// Decode unmarshals input into out, trying strict JSON first, then a
// repaired copy, then HJSON. It returns the JSON text that decoded and the
// pass that accepted it.
func Decode(input string, out interface{}) (string, Stage, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", "", fmt.Errorf("%w: empty input", ErrUndecodable)
	}

	if json.Unmarshal([]byte(input), out) == nil {
		return input, StageStrict, nil
	}

	if repaired, err := jsonrepair.RepairJSON(input); err == nil {
		if json.Unmarshal([]byte(repaired), out) == nil {
			return repaired, StageRepaired, nil
		}
	}

	var loose interface{}
	if err := hjson.Unmarshal([]byte(input), &loose); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	canonical, err := json.Marshal(loose)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if err := json.Unmarshal(canonical, out); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return string(canonical), StageHJSON, nil
}

// Schema is a compiled JSON Schema.
type Schema struct {
	compiled *jsonschema.Schema
}

var (
	schemaMu    sync.Mutex
	schemaCache = map[string]*Schema{}
)

// CompileSchema compiles a JSON Schema document, reusing an earlier
// compilation of the same source text.
func CompileSchema(src string) (*Schema, error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()

	if s, ok := schemaCache[src]; ok {
		return s, nil
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("reply.json", bytes.NewReader([]byte(src))); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	compiled, err := c.Compile("reply.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	s := &Schema{compiled: compiled}
	schemaCache[src] = s
	return s, nil
}

// Check validates a JSON document.
func (s *Schema) Check(doc []byte) error {
	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return fmt.Errorf("not JSON: %w", err)
	}
	if err := s.compiled.Validate(v); err != nil {
		return fmt.Errorf("schema violation: %w", err)
	}
	return nil
}
