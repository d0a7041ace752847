package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Logger = NoOpLogger{}
	_ Logger = (*SlogAdapter)(nil)
	_ Logger = (*TrainingLogger)(nil)
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestTrainingLoggerAttachesContext(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelDebug, Output: &buf}).
		WithComponent("variable_server").
		WithRun("run-1").
		WithContext("host", "a")

	l.Info("serving", "entries", 3)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "serving", lines[0]["msg"])
	assert.Equal(t, "variable_server", lines[0]["component"])
	assert.Equal(t, "run-1", lines[0]["run_id"])
	assert.Equal(t, "a", lines[0]["host"])
	assert.EqualValues(t, 3, lines[0]["entries"])
}

func TestWithDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLogger(&LoggerConfig{Level: LogLevelInfo, Output: &buf})
	_ = parent.WithTrainer("trainer_0")

	parent.Info("hello")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	_, ok := lines[0]["trainer_id"]
	assert.False(t, ok)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelWarn, Output: &buf})

	l.Debug("d")
	l.Info("i")
	l.LogVariableSync("pull", []string{"policy"}, time.Millisecond, nil)
	l.Warn("w")
	l.LogCheckpoint("ckpt", 1, 10, time.Millisecond, errors.New("disk full"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "w", lines[0]["msg"])
	assert.Equal(t, "Checkpoint failed", lines[1]["msg"])
	assert.Equal(t, "disk full", lines[1]["error"])
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, LogLevelDebug, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestOrNoOp(t *testing.T) {
	assert.Equal(t, NoOpLogger{}, OrNoOp(nil))
	l := NewDefaultSlogLogger()
	assert.Same(t, l, OrNoOp(l))
}
