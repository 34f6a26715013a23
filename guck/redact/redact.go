// Package redact scrubs sensitive keys and substrings from events before
// they are persisted. Replacement is irreversible: matched content becomes
// the fixed sentinel token.
package redact

import (
	"regexp"
	"strings"

	"github.com/gucklabs/guck-go/guck/config"
	"github.com/gucklabs/guck-go/guck/event"
)

// Sentinel replaces every redacted key value and pattern match.
const Sentinel = "[REDACTED]"

// Redactor holds a compiled redaction configuration. A Redactor is
// immutable after construction and safe for concurrent use.
type Redactor struct {
	enabled  bool
	keys     map[string]struct{}
	patterns []*regexp.Regexp
}

// New compiles cfg into a Redactor. Keys are trimmed and lower-cased;
// patterns compile case-insensitively and invalid ones are skipped.
func New(cfg config.RedactionConfig) *Redactor {
	r := &Redactor{
		enabled: cfg.Enabled,
		keys:    make(map[string]struct{}, len(cfg.Keys)),
	}
	for _, key := range cfg.Keys {
		key = strings.ToLower(strings.TrimSpace(key))
		if key != "" {
			r.keys[key] = struct{}{}
		}
	}
	for _, pattern := range cfg.Patterns {
		compiled, err := compilePattern(pattern)
		if err != nil {
			continue
		}
		r.patterns = append(r.patterns, compiled)
	}
	return r
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + pattern)
}

// Event returns a redacted copy of ev. The input event remains valid and
// unmodified; message, data and tags are rebuilt rather than edited in
// place.
func (r *Redactor) Event(ev event.Event) event.Event {
	if !r.enabled {
		return ev
	}
	out := ev
	if ev.Message != "" {
		out.Message = r.String(ev.Message)
	}
	if ev.Data != nil {
		out.Data = r.mapAny(ev.Data)
	}
	if ev.Tags != nil {
		out.Tags = r.mapString(ev.Tags)
	}
	return out
}

// String applies every compiled pattern in configured order; later patterns
// see the output of earlier ones.
func (r *Redactor) String(s string) string {
	for _, pattern := range r.patterns {
		s = pattern.ReplaceAllString(s, Sentinel)
	}
	return s
}

// Value redacts an arbitrary JSON-shaped value: maps by key then
// recursively, slices element-wise, strings by pattern. Other scalars pass
// through unchanged.
func (r *Redactor) Value(v any) any {
	switch value := v.(type) {
	case string:
		return r.String(value)
	case map[string]any:
		return r.mapAny(value)
	case map[string]string:
		return r.mapString(value)
	case []any:
		out := make([]any, len(value))
		for i, entry := range value {
			out[i] = r.Value(entry)
		}
		return out
	case []string:
		out := make([]string, len(value))
		for i, entry := range value {
			out[i] = r.String(entry)
		}
		return out
	}
	return v
}

func (r *Redactor) matchKey(key string) bool {
	_, ok := r.keys[strings.ToLower(key)]
	return ok
}

func (r *Redactor) mapAny(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for key, entry := range m {
		if r.matchKey(key) {
			out[key] = Sentinel
		} else {
			out[key] = r.Value(entry)
		}
	}
	return out
}

func (r *Redactor) mapString(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for key, entry := range m {
		if r.matchKey(key) {
			out[key] = Sentinel
		} else {
			out[key] = r.String(entry)
		}
	}
	return out
}

// Redact is a convenience wrapper compiling cfg's redaction section for a
// single event. Hot paths should hold a Redactor instead.
func Redact(cfg config.Config, ev event.Event) event.Event {
	return New(cfg.Redaction).Event(ev)
}
