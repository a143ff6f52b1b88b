package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// CheckShape verifies a response body parses as a JSON object. This is the
// minimal acceptance bar: anything else is preserved verbatim as an error.
func CheckShape(body string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(body)

	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}

	return json.RawMessage(trimmed), nil
}

// Validate checks a response document against the descriptor's schema.
// Violations are reported but callers typically treat them as advisory:
// the provider was asked for this shape and mostly delivers it.
func (d *Descriptor) Validate(doc json.RawMessage) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(d.Raw),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("validating against schema %s: %w", d.Name, err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("schema %s violations: %s", d.Name, strings.Join(msgs, "; "))
	}

	return nil
}
