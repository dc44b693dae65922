package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderStatsEmptyDir(t *testing.T) {
	out, err := renderStats(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.Equal(t, "No session usage logs yet.\n", out)
}

func TestRenderStatsListsNewestFirst(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"2026-03-01T10-00-00_a.md",
		"2026-03-02T10-00-00_b.md",
		"notes.txt",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	out, err := renderStats(dir)
	require.NoError(t, err)
	assert.Contains(t, out, "2 session log(s)")

	first := "2026-03-02T10-00-00_b.md"
	second := "2026-03-01T10-00-00_a.md"
	assert.Less(t, strings.Index(out, first), strings.Index(out, second))
	assert.NotContains(t, out, "notes.txt")
}
