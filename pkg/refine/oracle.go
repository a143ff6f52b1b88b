package refine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chronominer/chronominer/pkg/model"
	"github.com/chronominer/chronominer/pkg/model/provider"
	"github.com/chronominer/chronominer/pkg/schema"
)

const judgeSystem = `You are locating semantic boundaries in a historical text source. A semantic boundary is the start of a new logical unit (a dated entry, a new record, a section heading). Answer strictly in the requested JSON shape.`

const judgeTemplate = `The following window surrounds a tentative chunk boundary. Decide whether the window contains the start of a new logical unit.

Rules:
- If a new unit starts inside the window, set "semantic_marker" to a short verbatim excerpt of the line where it starts. The excerpt must appear character-for-character in the window.
- If the window clearly contains no boundary, set "contains_no_semantic_boundary" to true.
- If you cannot tell from this window alone, set "needs_more_context" to true.
- "certainty" is your confidence from 0 to 100.

Window:
%s`

const boundaryHintTemplate = `The logical units in this source are %s records.`

const relevantSystem = `You are screening a text passage for extractable content. Answer strictly in the requested JSON shape.`

const relevantTemplate = `Does the following passage contain any content matching the "%s" schema (records that an extraction pass should capture)? Set "relevant" accordingly and "certainty" to your confidence from 0 to 100.

Passage:
%s`

// VerdictSchema describes the boundary verdict shape for structured output.
func VerdictSchema() *schema.Descriptor {
	return inlineSchema("boundary_verdict", "Verdict on a tentative chunk boundary", map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"contains_no_semantic_boundary": map[string]any{"type": "boolean"},
			"needs_more_context":            map[string]any{"type": "boolean"},
			"semantic_marker":               map[string]any{"type": "string"},
			"certainty":                     map[string]any{"type": "integer", "minimum": 0, "maximum": 100},
		},
		"required": []any{"contains_no_semantic_boundary", "needs_more_context", "semantic_marker", "certainty"},
	})
}

// RelevanceSchema describes the relevance probe shape.
func RelevanceSchema() *schema.Descriptor {
	return inlineSchema("content_relevance", "Whether a passage contains extractable content", map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"relevant":  map[string]any{"type": "boolean"},
			"certainty": map[string]any{"type": "integer", "minimum": 0, "maximum": 100},
		},
		"required": []any{"relevant", "certainty"},
	})
}

func inlineSchema(name, description string, doc map[string]any) *schema.Descriptor {
	raw, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return &schema.Descriptor{
		Name:        name,
		Description: description,
		Schema:      doc,
		Raw:         raw,
	}
}

// LLMOracle answers boundary questions through two provider clients, one per
// structured-output shape.
type LLMOracle struct {
	judge        provider.Provider
	probe        provider.Provider
	schemaName   string
	boundaryType string
}

// NewLLMOracle wires an oracle from the two clients. judge must be built with
// VerdictSchema as its structured output, probe with RelevanceSchema.
// schemaName names the extraction schema the relevance probe screens for;
// boundaryType, when non-empty, tells the judge what kind of unit the
// boundaries separate ("diary entry", "letter").
func NewLLMOracle(judge, probe provider.Provider, schemaName, boundaryType string) *LLMOracle {
	return &LLMOracle{judge: judge, probe: probe, schemaName: schemaName, boundaryType: boundaryType}
}

func (o *LLMOracle) Judge(ctx context.Context, window string) (Verdict, error) {
	prompt := fmt.Sprintf(judgeTemplate, window)
	if o.boundaryType != "" {
		prompt = fmt.Sprintf(boundaryHintTemplate, o.boundaryType) + "\n\n" + prompt
	}

	resp, err := o.judge.Invoke(ctx, model.Request{
		System: judgeSystem,
		Prompt: prompt,
	})
	if err != nil {
		return Verdict{}, err
	}

	var verdict Verdict
	if err := json.Unmarshal([]byte(resp.Text), &verdict); err != nil {
		return Verdict{}, fmt.Errorf("parsing boundary verdict: %w", err)
	}
	return verdict, nil
}

func (o *LLMOracle) Relevant(ctx context.Context, window string) (bool, error) {
	resp, err := o.probe.Invoke(ctx, model.Request{
		System: relevantSystem,
		Prompt: fmt.Sprintf(relevantTemplate, o.schemaName, window),
	})
	if err != nil {
		return false, err
	}

	var answer struct {
		Relevant  bool `json:"relevant"`
		Certainty int  `json:"certainty"`
	}
	if err := json.Unmarshal([]byte(resp.Text), &answer); err != nil {
		return false, fmt.Errorf("parsing relevance answer: %w", err)
	}
	return answer.Relevant, nil
}
