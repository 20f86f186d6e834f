package extractor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/battysh/batty/internal/eventbuffer"
)

func TestClassifyTaskStarted(t *testing.T) {
	p := DefaultPatterns()
	e, ok := p.Classify("Picked and moved task #3: implement widget")
	require.True(t, ok)
	assert.Equal(t, eventbuffer.TaskStarted, e.Kind)
	assert.Equal(t, "3", e.TaskID)
}

func TestClassifyCommit(t *testing.T) {
	p := DefaultPatterns()
	e, ok := p.Classify("[main abc1234] fix bug")
	require.True(t, ok)
	assert.Equal(t, eventbuffer.CommitMade, e.Kind)
	assert.Equal(t, "abc1234", e.Hash)
	assert.Equal(t, "fix bug", e.Message)
}

func TestClassifyTestResult(t *testing.T) {
	p := DefaultPatterns()
	e, ok := p.Classify("test result: ok. 4 passed")
	require.True(t, ok)
	assert.Equal(t, eventbuffer.TestRan, e.Kind)
	assert.True(t, e.Passed)
}

func TestClassifyNoMatchReturnsFalse(t *testing.T) {
	p := DefaultPatterns()
	_, ok := p.Classify("just some regular agent narration")
	assert.False(t, ok)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestPollAppendOfMatchingLineProducesOneEvent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pane.log")
	writeFile(t, path, "")

	buf := eventbuffer.New(eventbuffer.DefaultCapacity)
	w := NewWatcher(path, buf)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("test result: ok. 1 passed\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	n, err := w.Poll()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, buf.Len())
}

func TestPollWithoutTrailingNewlineLeavesZeroEventsAndRereadableCheckpoint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pane.log")
	writeFile(t, path, "")

	buf := eventbuffer.New(eventbuffer.DefaultCapacity)
	w := NewWatcher(path, buf)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("partial output with no newline yet")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	n, err := w.Poll()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, int64(0), w.CheckpointOffset())
}

func TestPollAbsorbsTruncationBelowPosition(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pane.log")
	writeFile(t, path, "test result: ok\n")

	buf := eventbuffer.New(eventbuffer.DefaultCapacity)
	w := NewWatcher(path, buf)

	_, err := w.Poll()
	require.NoError(t, err)

	// Truncate the file to simulate log rotation.
	writeFile(t, path, "")

	n, err := w.Poll()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPollMissingFileIsNoOp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "does-not-exist.log")

	buf := eventbuffer.New(eventbuffer.DefaultCapacity)
	w := NewWatcher(path, buf)

	n, err := w.Poll()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
