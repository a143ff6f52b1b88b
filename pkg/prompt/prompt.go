// Package prompt renders the extraction and refinement prompts, injecting the
// context bundle into its template placeholder.
package prompt

import (
	"fmt"
	"strconv"
	"strings"
	"text/template"
)

// extractionTemplate is the default prompt for one chunk request.
const extractionTemplate = `You are extracting structured records from a historical text source.

{{if .Context}}Context:
{{.Context}}

{{end}}Extract every record from the following text according to the "{{.SchemaName}}" schema. Respond with a single JSON object. Do not invent records; when a field is absent in the source leave it out.

Text (lines {{.LineStart}}-{{.LineEnd}}):
{{.Text}}`

// Bundle is the immutable concatenation of context fragments injected into a
// prompt. Fragments are separated by blank lines; empty fragments are skipped.
type Bundle struct {
	fragments []string
}

func NewBundle(fragments ...string) Bundle {
	var kept []string
	for _, f := range fragments {
		if strings.TrimSpace(f) != "" {
			kept = append(kept, strings.TrimSpace(f))
		}
	}
	return Bundle{fragments: kept}
}

func (b Bundle) String() string {
	return strings.Join(b.fragments, "\n\n")
}

func (b Bundle) Empty() bool {
	return len(b.fragments) == 0
}

// Builder renders chunk prompts for one schema and context bundle.
type Builder struct {
	tmpl       *template.Template
	schemaName string
	bundle     Bundle
}

func NewBuilder(schemaName string, bundle Bundle) (*Builder, error) {
	tmpl, err := template.New("extraction").Parse(extractionTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing extraction template: %w", err)
	}

	return &Builder{
		tmpl:       tmpl,
		schemaName: schemaName,
		bundle:     bundle,
	}, nil
}

// Chunk renders the prompt for one chunk.
func (b *Builder) Chunk(text string, lineStart, lineEnd int) (string, error) {
	var sb strings.Builder
	err := b.tmpl.Execute(&sb, map[string]any{
		"Context":    b.bundle.String(),
		"SchemaName": b.schemaName,
		"Text":       text,
		"LineStart":  lineStart,
		"LineEnd":    lineEnd,
	})
	if err != nil {
		return "", fmt.Errorf("rendering extraction prompt: %w", err)
	}
	return sb.String(), nil
}

// CustomID builds the stable per-chunk request identifier.
func CustomID(fileStem string, chunkIndex int) string {
	return fmt.Sprintf("%s-chunk-%d", fileStem, chunkIndex)
}

// ParseCustomID recovers the file stem and chunk index from a custom ID.
func ParseCustomID(customID string) (stem string, chunkIndex int, ok bool) {
	i := strings.LastIndex(customID, "-chunk-")
	if i < 0 {
		return "", 0, false
	}

	n, err := strconv.Atoi(customID[i+len("-chunk-"):])
	if err != nil || n < 1 {
		return "", 0, false
	}
	return customID[:i], n, true
}
