package processor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chronominer/chronominer/pkg/aggregate"
	"github.com/chronominer/chronominer/pkg/batch"
	"github.com/chronominer/chronominer/pkg/config"
	"github.com/chronominer/chronominer/pkg/environment"
	"github.com/chronominer/chronominer/pkg/journal"
	"github.com/chronominer/chronominer/pkg/ledger"
	"github.com/chronominer/chronominer/pkg/model"
	"github.com/chronominer/chronominer/pkg/model/provider"
	"github.com/chronominer/chronominer/pkg/model/provider/options"
	"github.com/chronominer/chronominer/pkg/schema"
)

// fakeProvider answers every request with one fixed JSON object.
type fakeProvider struct {
	mu      sync.Mutex
	invoked int
}

func (f *fakeProvider) Invoke(_ context.Context, _ model.Request) (*model.Response, error) {
	f.mu.Lock()
	f.invoked++
	f.mu.Unlock()

	return &model.Response{
		Text:  `{"entries":[{"date":"1850-06-03"}]}`,
		Usage: model.Usage{Input: 50, Output: 10},
		Model: "fake-model",
	}, nil
}

func (f *fakeProvider) ID() string { return "fake/fake-model" }

func (f *fakeProvider) invocations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invoked
}

// wordCounter keeps tests off the real tokenizer.
type wordCounter struct{}

func (wordCounter) Count(text, _ string) int {
	return len(strings.Fields(text))
}

func newTestProcessor(t *testing.T, fake *fakeProvider) (*Processor, string, string) {
	t.Helper()

	dir := t.TempDir()
	schemasDir := filepath.Join(dir, "schemas")
	outputDir := filepath.Join(dir, "output")
	require.NoError(t, os.MkdirAll(schemasDir, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(schemasDir, "diary.json"),
		[]byte(`{"title":"diary_entries","type":"object","properties":{"entries":{"type":"array"}}}`), 0o644))

	cfg := config.Default()
	cfg.Models = map[string]config.ModelConfig{
		"extraction": {Provider: "openai", Model: "fake-model", MaxTokens: 100},
	}
	cfg.Chunking.TokensPerChunk = 6
	cfg.Paths.SchemasDir = schemasDir
	cfg.Paths.OutputDir = outputDir

	registry, err := schema.LoadDir(schemasDir)
	require.NoError(t, err)

	p := New(cfg, environment.NewOsEnvProvider(), registry, ledger.Disabled{})
	p.counter = wordCounter{}
	p.newProvider = func(context.Context, config.ModelConfig, environment.Provider, ...options.Opt) (provider.Provider, error) {
		return fake, nil
	}

	return p, dir, outputDir
}

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readAggregate(t *testing.T, outputDir, stem string) aggregate.Aggregate {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(outputDir, stem+".json"))
	require.NoError(t, err)

	var agg aggregate.Aggregate
	require.NoError(t, json.Unmarshal(data, &agg))
	return agg
}

func TestProcessFileSync(t *testing.T) {
	fake := &fakeProvider{}
	p, dir, outputDir := newTestProcessor(t, fake)

	// Ten 2-word lines under a 6-token budget: multiple chunks.
	src := writeSource(t, dir, "diary.txt", strings.Repeat("entry line\n", 10))

	res, err := p.ProcessFile(t.Context(), "diary_entries", src, Options{})
	require.NoError(t, err)

	assert.True(t, res.Complete)
	assert.Zero(t, res.Failed)
	require.Greater(t, res.ChunkCount, 1)
	assert.Equal(t, res.ChunkCount, fake.invocations())

	agg := readAggregate(t, outputDir, "diary")
	assert.Equal(t, "diary_entries", agg.Meta.Schema)
	assert.Len(t, agg.Chunks, res.ChunkCount)
	assert.False(t, agg.Meta.Partial)

	// The journal is deleted once the dataset is complete.
	assert.False(t, journal.Exists(outputDir, src))
}

func TestProcessFileRetainsJournal(t *testing.T) {
	fake := &fakeProvider{}
	p, dir, outputDir := newTestProcessor(t, fake)
	p.cfg.Output.RetainTemporaryJSONL = true

	src := writeSource(t, dir, "diary.txt", "entry line\n")

	_, err := p.ProcessFile(t.Context(), "diary_entries", src, Options{})
	require.NoError(t, err)
	assert.True(t, journal.Exists(outputDir, src))
}

func TestProcessFileEmptySource(t *testing.T) {
	fake := &fakeProvider{}
	p, dir, outputDir := newTestProcessor(t, fake)

	src := writeSource(t, dir, "empty.txt", "")

	res, err := p.ProcessFile(t.Context(), "diary_entries", src, Options{})
	require.NoError(t, err)

	assert.True(t, res.Complete)
	assert.Zero(t, res.ChunkCount)
	assert.Zero(t, fake.invocations())

	agg := readAggregate(t, outputDir, "empty")
	assert.Empty(t, agg.Chunks)
}

func TestProcessFileUnknownSchema(t *testing.T) {
	fake := &fakeProvider{}
	p, dir, _ := newTestProcessor(t, fake)

	src := writeSource(t, dir, "diary.txt", "entry line\n")

	_, err := p.ProcessFile(t.Context(), "letters", src, Options{})
	assert.ErrorContains(t, err, `unknown schema "letters"`)
}

func TestProcessFileResumeCompleteJournal(t *testing.T) {
	fake := &fakeProvider{}
	p, dir, outputDir := newTestProcessor(t, fake)

	p.cfg.Output.RetainTemporaryJSONL = true
	src := writeSource(t, dir, "diary.txt", strings.Repeat("entry line\n", 10))

	first, err := p.ProcessFile(t.Context(), "diary_entries", src, Options{})
	require.NoError(t, err)
	calls := fake.invocations()

	// The journal was retained and is complete: re-running reproduces the
	// dataset without a single provider call.
	res, err := p.ProcessFile(t.Context(), "diary_entries", src, Options{})
	require.NoError(t, err)
	assert.Equal(t, calls, fake.invocations())
	assert.True(t, res.Complete)
	assert.Equal(t, first.ChunkCount, res.ChunkCount)

	agg := readAggregate(t, outputDir, "diary")
	assert.Len(t, agg.Chunks, first.ChunkCount)
}

func TestProcessFileLineRangesStrategy(t *testing.T) {
	fake := &fakeProvider{}
	p, dir, outputDir := newTestProcessor(t, fake)

	src := writeSource(t, dir, "diary.txt", strings.Repeat("entry line\n", 10))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "diary_line_ranges.txt"), []byte("1-4\n5-10\n"), 0o644))

	res, err := p.ProcessFile(t.Context(), "diary_entries", src, Options{Strategy: config.StrategyLineRanges})
	require.NoError(t, err)
	assert.Equal(t, 2, res.ChunkCount)

	agg := readAggregate(t, outputDir, "diary")
	assert.Len(t, agg.Chunks, 2)
}

func TestProcessFileLineRangesMissing(t *testing.T) {
	fake := &fakeProvider{}
	p, dir, _ := newTestProcessor(t, fake)

	src := writeSource(t, dir, "diary.txt", "entry line\n")

	_, err := p.ProcessFile(t.Context(), "diary_entries", src, Options{Strategy: config.StrategyLineRanges})
	assert.ErrorContains(t, err, "line ranges file is missing")
}

func TestProcessFilePerFileFallsBackToAuto(t *testing.T) {
	fake := &fakeProvider{}
	p, dir, _ := newTestProcessor(t, fake)

	src := writeSource(t, dir, "diary.txt", "entry line\n")

	res, err := p.ProcessFile(t.Context(), "diary_entries", src, Options{Strategy: config.StrategyPerFile})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ChunkCount)
}

func TestDiscover(t *testing.T) {
	fake := &fakeProvider{}
	p, dir, _ := newTestProcessor(t, fake)

	sources := filepath.Join(dir, "sources")
	require.NoError(t, os.MkdirAll(filepath.Join(sources, "nested"), 0o755))
	writeSource(t, sources, "a.txt", "x")
	writeSource(t, filepath.Join(sources, "nested"), "b.txt", "x")
	writeSource(t, sources, "a_line_ranges.txt", "1-1")
	writeSource(t, sources, "notes.md", "x")

	// Single file.
	files, err := p.Discover(filepath.Join(sources, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(sources, "a.txt")}, files)

	// Directory walk honors the configured pattern and skips range files.
	files, err = p.Discover(sources)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(sources, "a.txt"),
		filepath.Join(sources, "nested", "b.txt"),
	}, files)

	// Glob pattern.
	files, err = p.Discover(filepath.Join(sources, "**", "*.txt"))
	require.NoError(t, err)
	assert.Contains(t, files, filepath.Join(sources, "nested", "b.txt"))

	_, err = p.Discover(filepath.Join(sources, "*.csv"))
	assert.ErrorContains(t, err, "no input files match")
}

func TestGenerateLineRanges(t *testing.T) {
	fake := &fakeProvider{}
	p, dir, _ := newTestProcessor(t, fake)

	src := writeSource(t, dir, "diary.txt", strings.Repeat("entry line\n", 10))

	path, ranges, err := p.GenerateLineRanges(src, 6)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "diary_line_ranges.txt"), path)
	require.NotEmpty(t, ranges)
	assert.Equal(t, 1, ranges[0].Start)
	assert.Equal(t, 10, ranges[len(ranges)-1].End)
}

// recordingProvider serves both oracle shapes and keeps every prompt it saw.
type recordingProvider struct {
	mu      sync.Mutex
	prompts []string
}

func (r *recordingProvider) Invoke(_ context.Context, req model.Request) (*model.Response, error) {
	r.mu.Lock()
	r.prompts = append(r.prompts, req.Prompt)
	r.mu.Unlock()

	if strings.Contains(req.Prompt, "Passage:") {
		return &model.Response{Text: `{"relevant":true,"certainty":95}`}, nil
	}
	return &model.Response{Text: `{"contains_no_semantic_boundary":true,"needs_more_context":false,"semantic_marker":"","certainty":95}`}, nil
}

func (r *recordingProvider) ID() string { return "fake/fake-model" }

func (r *recordingProvider) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.prompts...)
}

func TestReadjustLineRangesPromptsUseExtractionSchema(t *testing.T) {
	rec := &recordingProvider{}
	p, dir, _ := newTestProcessor(t, &fakeProvider{})
	p.cfg.Refine.BoundaryType = "diary entry"
	p.newProvider = func(context.Context, config.ModelConfig, environment.Provider, ...options.Opt) (provider.Provider, error) {
		return rec, nil
	}

	src := writeSource(t, dir, "diary.txt", strings.Repeat("entry line\n", 9))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "diary_line_ranges.txt"), []byte("1-3\n4-6\n7-9\n"), 0o644))

	_, err := p.ReadjustLineRanges(t.Context(), "diary_entries", src, 0, "", true)
	require.NoError(t, err)

	prompts := rec.seen()
	require.NotEmpty(t, prompts)

	var probed, judged bool
	for _, prompt := range prompts {
		assert.NotContains(t, prompt, "refinement")
		if strings.Contains(prompt, "Passage:") {
			probed = true
			assert.Contains(t, prompt, `"diary_entries"`)
		}
		if strings.Contains(prompt, "Window:") {
			judged = true
			assert.Contains(t, prompt, "diary entry")
		}
	}
	assert.True(t, probed)
	assert.True(t, judged)
}

func TestReadjustLineRangesUnknownSchema(t *testing.T) {
	p, dir, _ := newTestProcessor(t, &fakeProvider{})

	src := writeSource(t, dir, "diary.txt", "entry line\n")

	_, err := p.ReadjustLineRanges(t.Context(), "letters", src, 0, "", true)
	assert.ErrorContains(t, err, `unknown schema "letters"`)
}

// failingBatchProvider submits batches that immediately end as failed.
type failingBatchProvider struct {
	fakeProvider
}

func (f *failingBatchProvider) SubmitBatch(_ context.Context, reqs []batch.Request) (string, error) {
	return "batch-dead", nil
}

func (f *failingBatchProvider) BatchStatus(context.Context, string) (batch.Status, error) {
	return batch.StatusFailed, nil
}

func (f *failingBatchProvider) DownloadBatch(context.Context, string) ([]batch.Result, error) {
	return nil, nil
}

func (f *failingBatchProvider) CancelBatch(context.Context, string) error { return nil }

func TestProcessAllContinuesPastFailedBatch(t *testing.T) {
	fake := &failingBatchProvider{}
	p, dir, _ := newTestProcessor(t, &fakeProvider{})
	p.pollInterval = time.Millisecond
	p.newProvider = func(context.Context, config.ModelConfig, environment.Provider, ...options.Opt) (provider.Provider, error) {
		return fake, nil
	}

	first := writeSource(t, dir, "diary.txt", "entry line\n")
	second := writeSource(t, dir, "letters.txt", "entry line\n")

	// Both batches fail; the run still visits every file and reports the
	// failures per file instead of aborting.
	results, err := p.ProcessAll(t.Context(), "diary_entries", []string{first, second}, Options{Batch: true})
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, res := range results {
		assert.False(t, res.Complete)
		assert.False(t, res.Submitted)
		assert.Greater(t, res.Failed, 0)
	}
}

func TestContextBundleOrder(t *testing.T) {
	fake := &fakeProvider{}
	p, dir, _ := newTestProcessor(t, fake)
	p.cfg.Context.Basic = "basic"
	p.cfg.Context.Additional = "additional"

	sourceFile := writeSource(t, dir, "ctx.txt", "from file")

	bundle, err := p.contextBundle(Options{ContextInline: "inline", ContextSource: sourceFile})
	require.NoError(t, err)
	assert.Equal(t, "basic\n\nadditional\n\nfrom file\n\ninline", bundle.String())
}
