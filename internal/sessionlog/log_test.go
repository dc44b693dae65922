package sessionlog

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dreamcanvas/internal/completion"
)

var testStart = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func entry(turnID, step string, total int) Entry {
	return Entry{
		TurnID:     turnID,
		Timestamp:  testStart.Add(time.Minute),
		Step:       step,
		Specialist: step + "_specialist",
		Model:      "gemini-2.5-pro",
		Attempts:   1,
		Usage: completion.Usage{
			InputTokens:       completion.IntPtr(total - 10),
			OutputTokens:      completion.IntPtr(10),
			TotalTokens:       completion.IntPtr(total),
			ProviderAvailable: true,
		},
	}
}

func TestPathFor(t *testing.T) {
	p := PathFor("/logs", "abc123", testStart)
	assert.Equal(t, "/logs/2026-03-14T09-30-00_abc123.md", p)
}

func TestAppendAndReload(t *testing.T) {
	dir := t.TempDir()

	l, err := Open(dir, "s1", testStart)
	require.NoError(t, err)
	require.NoError(t, l.Append(entry("t1", "dream", 120)))
	require.NoError(t, l.Append(entry("t2", "values", 80)))

	// A fresh Open sees both turns.
	l2, err := Open(dir, "s1", testStart)
	require.NoError(t, err)
	turns := l2.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, "t1", turns[0].TurnID)
	assert.Equal(t, 120, *turns[0].Usage.TotalTokens)
}

func TestAppendDuplicateTurnIsNoOp(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, "s1", testStart)
	require.NoError(t, err)

	require.NoError(t, l.Append(entry("t1", "dream", 100)))

	dup := entry("t1", "dream", 9999)
	require.NoError(t, l.Append(dup))

	turns := l.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, 100, *turns[0].Usage.TotalTokens, "duplicate's usage values are discarded")

	totals := l.Totals()
	require.Len(t, totals, 1)
	assert.Equal(t, 1, totals[0].Turns)
	assert.Equal(t, 100, totals[0].TotalTokens)
}

func TestTotalsAggregateByStep(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, "s1", testStart)
	require.NoError(t, err)

	require.NoError(t, l.Append(entry("t1", "dream", 100)))
	require.NoError(t, l.Append(entry("t2", "values", 50)))
	require.NoError(t, l.Append(entry("t3", "dream", 30)))

	noUsage := entry("t4", "summary", 0)
	noUsage.Usage = completion.Usage{}
	require.NoError(t, l.Append(noUsage))

	totals := l.Totals()
	require.Len(t, totals, 3)
	assert.Equal(t, StepTotal{Step: "dream", Turns: 2, InputTokens: 110, OutputTokens: 20, TotalTokens: 130, Known: true}, totals[0])
	assert.Equal(t, "values", totals[1].Step)
	assert.Equal(t, StepTotal{Step: "summary", Turns: 1}, totals[2])
}

func TestWrittenDocumentHasSummaryAndData(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, "s1", testStart)
	require.NoError(t, err)
	require.NoError(t, l.Append(entry("t1", "dream", 100)))

	raw, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	text := string(raw)

	assert.Contains(t, text, "# Session s1")
	assert.Contains(t, text, "| 1 | t1 | dream |")
	assert.Contains(t, text, "Grand total: 1 turns, 90 input, 10 output, 100 total tokens.")
	assert.Contains(t, text, `"turn_id": "t1"`)
	assert.True(t, strings.Contains(text, docBegin) && strings.Contains(text, docEnd))
}

func TestOpenCorruptFileStartsFresh(t *testing.T) {
	dir := t.TempDir()
	path := PathFor(dir, "s1", testStart)
	require.NoError(t, os.WriteFile(path, []byte("not a session log"), 0o644))

	l, err := Open(dir, "s1", testStart)
	require.NoError(t, err)
	assert.Empty(t, l.Turns())

	require.NoError(t, l.Append(entry("t1", "dream", 10)))
	l2, err := Open(dir, "s1", testStart)
	require.NoError(t, err)
	assert.Len(t, l2.Turns(), 1)
}

func TestUsageCellUnavailable(t *testing.T) {
	assert.Equal(t, "n/a", tokensCell(completion.Usage{}))
	assert.Equal(t, "42", tokensCell(completion.Usage{TotalTokens: completion.IntPtr(42), ProviderAvailable: true}))
}
