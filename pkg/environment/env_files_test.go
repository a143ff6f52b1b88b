package environment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestEnvFilesProviderEarlierFilesWin(t *testing.T) {
	dir := t.TempDir()
	first := writeEnvFile(t, dir, "first.env", "OPENAI_API_KEY=from-first\n")
	second := writeEnvFile(t, dir, "second.env", "OPENAI_API_KEY=from-second\nANTHROPIC_API_KEY=abc\n")

	p, err := NewEnvFilesProvider(first, second)
	require.NoError(t, err)

	assert.Equal(t, "from-first", p.Get(t.Context(), "OPENAI_API_KEY"))
	assert.Equal(t, "abc", p.Get(t.Context(), "ANTHROPIC_API_KEY"))
	assert.Empty(t, p.Get(t.Context(), "MISSING"))
}

func TestEnvFilesProviderMissingFile(t *testing.T) {
	_, err := NewEnvFilesProvider(filepath.Join(t.TempDir(), "absent.env"))
	assert.ErrorContains(t, err, "reading env file")
}

func TestMultiProviderFirstNonEmptyWins(t *testing.T) {
	dir := t.TempDir()
	path := writeEnvFile(t, dir, "a.env", "GEMINI_API_KEY=file-value\n")

	files, err := NewEnvFilesProvider(path)
	require.NoError(t, err)

	t.Setenv("GEMINI_API_KEY", "os-value")
	t.Setenv("OPENROUTER_API_KEY", "os-only")

	multi := NewMultiProvider(files, NewOsEnvProvider())
	assert.Equal(t, "file-value", multi.Get(t.Context(), "GEMINI_API_KEY"))
	assert.Equal(t, "os-only", multi.Get(t.Context(), "OPENROUTER_API_KEY"))
}

func TestDefaultProviderWithoutFiles(t *testing.T) {
	p, err := NewDefaultProvider()
	require.NoError(t, err)

	t.Setenv("SOME_TEST_VARIABLE", "set")
	assert.Equal(t, "set", p.Get(t.Context(), "SOME_TEST_VARIABLE"))
}
