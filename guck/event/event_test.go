package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDefaults = Defaults{Service: "svc", RunID: "run-1"}

func TestNormalizeFillsDefaults(t *testing.T) {
	ev := Normalize(Input{}, testDefaults)

	_, err := uuid.Parse(ev.ID)
	assert.NoError(t, err, "id should be a generated uuid")
	_, err = time.Parse(TimeFormat, ev.TS)
	assert.NoError(t, err, "ts should use the wire format")
	assert.Equal(t, LevelInfo, ev.Level)
	assert.Equal(t, "log", ev.Type)
	assert.Equal(t, "svc", ev.Service)
	assert.Equal(t, "run-1", ev.RunID)
	assert.Empty(t, ev.SessionID)
	require.NotNil(t, ev.Source)
	assert.Equal(t, SourceSDK, ev.Source.Kind)
}

func TestNormalizeKeepsProvidedFields(t *testing.T) {
	in := Input{
		ID:      "custom-id",
		TS:      "2024-03-05T12:00:00.000Z",
		Level:   "warn",
		Type:    "audit",
		Service: "other",
		RunID:   "run-2",
		Message: "hello",
		Data:    map[string]any{"k": "v"},
		Tags:    map[string]string{"env": "prod"},
		TraceID: "t1",
		SpanID:  "s1",
		Source:  &Source{Kind: SourceMCP, File: "x.go", Line: 3},
	}

	ev := Normalize(in, testDefaults)

	assert.Equal(t, "custom-id", ev.ID)
	assert.Equal(t, "2024-03-05T12:00:00.000Z", ev.TS)
	assert.Equal(t, LevelWarn, ev.Level)
	assert.Equal(t, "audit", ev.Type)
	assert.Equal(t, "other", ev.Service)
	assert.Equal(t, "run-2", ev.RunID)
	assert.Equal(t, "hello", ev.Message)
	assert.Equal(t, "v", ev.Data["k"])
	assert.Equal(t, "prod", ev.Tags["env"])
	assert.Equal(t, "t1", ev.TraceID)
	assert.Equal(t, "s1", ev.SpanID)
	assert.Equal(t, SourceMCP, ev.Source.Kind)
}

func TestNormalizeAtUsesClock(t *testing.T) {
	now := time.Date(2024, 3, 5, 12, 34, 56, 789_000_000, time.UTC)

	ev := NormalizeAt(Input{}, testDefaults, now)

	assert.Equal(t, "2024-03-05T12:34:56.789Z", ev.TS)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"trace", LevelTrace},
		{"WARN", LevelWarn},
		{"Fatal", LevelFatal},
		{"error", LevelError},
		{"", LevelInfo},
		{"verbose", LevelInfo},
		{"warning", LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), "input %q", tt.in)
	}
}

func TestSessionIDFromDefaults(t *testing.T) {
	ev := Normalize(Input{}, Defaults{Service: "s", RunID: "r", SessionID: "sess-9"})
	assert.Equal(t, "sess-9", ev.SessionID)

	ev = Normalize(Input{SessionID: "per-event"}, Defaults{Service: "s", RunID: "r", SessionID: "sess-9"})
	assert.Equal(t, "per-event", ev.SessionID)
}

func TestMarshalOmitsAbsentFields(t *testing.T) {
	ev := Normalize(Input{}, testDefaults)

	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	for _, key := range []string{"session_id", "message", "data", "tags", "trace_id", "span_id"} {
		assert.NotContains(t, decoded, key)
	}
	for _, key := range []string{"id", "ts", "level", "type", "service", "run_id", "source"} {
		assert.Contains(t, decoded, key)
	}
}
