package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-httploop/eventloop"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestLogger_InfoEmitsMessageAndLevel(t *testing.T) {
	var buf bytes.Buffer
	lg := New(&buf, logiface.LevelDebug)
	lg.Info("hello")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "hello", lines[0]["msg"])
}

func TestLogger_ErrorIncludesCause(t *testing.T) {
	var buf bytes.Buffer
	lg := New(&buf, logiface.LevelDebug)
	lg.Error("failed", errors.New("boom"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "failed", lines[0]["msg"])
	assert.Contains(t, lines[0]["err"], "boom")
}

func TestLogger_ErrorWithNilCauseStillLogs(t *testing.T) {
	var buf bytes.Buffer
	lg := New(&buf, logiface.LevelDebug)
	lg.Error("failed without cause", nil)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.NotContains(t, lines[0], "err")
}

func TestLogger_LevelFilteringSuppressesBelowThreshold(t *testing.T) {
	var buf bytes.Buffer
	lg := New(&buf, logiface.LevelWarning)
	lg.Debug("should not appear")
	lg.Info("should not appear either")
	lg.Warn("this one should appear")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "this one should appear", lines[0]["msg"])
}

func TestLogger_WithAttachesFieldToSubsequentEvents(t *testing.T) {
	var buf bytes.Buffer
	lg := New(&buf, logiface.LevelDebug)
	child := lg.With("request_id", "abc123")
	child.Info("handled")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "abc123", lines[0]["request_id"])
}

func TestLogger_WithDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	lg := New(&buf, logiface.LevelDebug)
	_ = lg.With("request_id", "abc123")
	lg.Info("parent event")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.NotContains(t, lines[0], "request_id")
}

func TestLogger_EventLoopSinkBridgesLevelsAndContext(t *testing.T) {
	var buf bytes.Buffer
	lg := New(&buf, logiface.LevelDebug)
	sink := lg.EventLoopSink()

	sink.Log(eventloop.LogEntry{
		Level:   eventloop.LevelError,
		Message: "recovered panic from task",
		Err:     errors.New("boom"),
		Context: map[string]any{"task_id": "7"},
	})

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "recovered panic from task", lines[0]["msg"])
	assert.Contains(t, lines[0]["err"], "boom")
	assert.Equal(t, "7", lines[0]["task_id"])
}

func TestToLogifaceLevel_MapsEveryEventLoopLevel(t *testing.T) {
	cases := map[eventloop.LogLevel]logiface.Level{
		eventloop.LevelDebug: logiface.LevelDebug,
		eventloop.LevelInfo:  logiface.LevelInformational,
		eventloop.LevelWarn:  logiface.LevelWarning,
		eventloop.LevelError: logiface.LevelError,
	}
	for in, want := range cases {
		assert.Equal(t, want, toLogifaceLevel(in), "level %v", in)
	}
	assert.Equal(t, logiface.LevelInformational, toLogifaceLevel(eventloop.LogLevel(99)))
}
