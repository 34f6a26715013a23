// Package event defines the telemetry event schema and the normalizer that
// turns a partial input into a complete, storable event.
package event

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Level is the event severity.
type Level string

const (
	LevelTrace Level = "trace"
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// SourceKind names where an event originated.
type SourceKind string

const (
	SourceSDK    SourceKind = "sdk"
	SourceStdout SourceKind = "stdout"
	SourceStderr SourceKind = "stderr"
	SourceMCP    SourceKind = "mcp"
)

// TimeFormat is the wire timestamp layout: ISO-8601 UTC with millisecond
// precision and a Z suffix.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Source describes the origin of an event.
type Source struct {
	Kind SourceKind `json:"kind"`
	File string     `json:"file,omitempty"`
	Line int        `json:"line,omitempty"`
}

// Event is one normalized telemetry record. Optional fields carry omitempty
// so an absent value never serializes as null.
type Event struct {
	ID        string            `json:"id"`
	TS        string            `json:"ts"`
	Level     Level             `json:"level"`
	Type      string            `json:"type"`
	Service   string            `json:"service"`
	RunID     string            `json:"run_id"`
	SessionID string            `json:"session_id,omitempty"`
	Message   string            `json:"message,omitempty"`
	Data      map[string]any    `json:"data,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	TraceID   string            `json:"trace_id,omitempty"`
	SpanID    string            `json:"span_id,omitempty"`
	Source    *Source           `json:"source,omitempty"`
}

// Input is a partial event supplied by the caller. Zero-valued fields are
// treated as absent and filled by Normalize.
type Input struct {
	ID        string
	TS        string
	Level     string
	Type      string
	Service   string
	RunID     string
	SessionID string
	Message   string
	Data      map[string]any
	Tags      map[string]string
	TraceID   string
	SpanID    string
	Source    *Source
}

// Defaults supplies process-level fallbacks for normalization.
type Defaults struct {
	Service   string
	RunID     string
	SessionID string
}

// ParseLevel normalizes a level string case-insensitively. Anything outside
// the six known levels becomes info.
func ParseLevel(s string) Level {
	switch Level(strings.ToLower(s)) {
	case LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal:
		return Level(strings.ToLower(s))
	}
	return LevelInfo
}

// Now returns the current UTC time in the wire format.
func Now() string {
	return FormatTime(time.Now())
}

// FormatTime renders t in the wire format, in UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// Normalize fills in defaults for every absent field of in.
func Normalize(in Input, d Defaults) Event {
	return NormalizeAt(in, d, time.Now())
}

// NormalizeAt is Normalize with an explicit clock for the ts default.
func NormalizeAt(in Input, d Defaults, now time.Time) Event {
	ev := Event{
		ID:      in.ID,
		TS:      in.TS,
		Level:   ParseLevel(in.Level),
		Type:    in.Type,
		Service: in.Service,
		RunID:   in.RunID,
		Message: in.Message,
		Data:    in.Data,
		Tags:    in.Tags,
		TraceID: in.TraceID,
		SpanID:  in.SpanID,
		Source:  in.Source,
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.TS == "" {
		ev.TS = FormatTime(now)
	}
	if ev.Type == "" {
		ev.Type = "log"
	}
	if ev.Service == "" {
		ev.Service = d.Service
	}
	if ev.RunID == "" {
		ev.RunID = d.RunID
	}
	ev.SessionID = in.SessionID
	if ev.SessionID == "" {
		ev.SessionID = d.SessionID
	}
	if ev.Source == nil {
		ev.Source = &Source{Kind: SourceSDK}
	}
	return ev
}
