package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Discover resolves the input argument into source files: a plain file is
// taken as-is, a directory is walked with the configured glob pattern, and
// anything containing glob metacharacters is expanded directly.
func (p *Processor) Discover(input string) ([]string, error) {
	if info, err := os.Stat(input); err == nil {
		if !info.IsDir() {
			return []string{input}, nil
		}

		matches, err := doublestar.Glob(os.DirFS(input), p.cfg.Paths.InputPattern)
		if err != nil {
			return nil, fmt.Errorf("matching %q under %s: %w", p.cfg.Paths.InputPattern, input, err)
		}

		files := make([]string, 0, len(matches))
		for _, m := range matches {
			if isSidecar(m) {
				continue
			}
			files = append(files, filepath.Join(input, m))
		}
		sort.Strings(files)
		return files, nil
	}

	matches, err := doublestar.FilepathGlob(input)
	if err != nil {
		return nil, fmt.Errorf("expanding pattern %q: %w", input, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no input files match %q", input)
	}

	var files []string
	for _, m := range matches {
		if isSidecar(m) {
			continue
		}
		files = append(files, m)
	}
	sort.Strings(files)
	return files, nil
}

// isSidecar filters companion files that live next to sources but are not
// extraction inputs.
func isSidecar(path string) bool {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return strings.HasSuffix(stem, "_line_ranges")
}

// ProcessAll runs every discovered file sequentially. Files never run in
// parallel with each other so ledger accounting and progress stay readable;
// concurrency lives inside each file's scheduler.
func (p *Processor) ProcessAll(ctx context.Context, schemaName string, files []string, opts Options) ([]*FileResult, error) {
	results := make([]*FileResult, 0, len(files))

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res, err := p.ProcessFile(ctx, schemaName, file, opts)
		if err != nil {
			return results, fmt.Errorf("%s: %w", file, err)
		}
		results = append(results, res)
	}

	return results, nil
}
