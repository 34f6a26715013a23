package guck

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gucklabs/guck-go/guck/config"
	"github.com/gucklabs/guck-go/guck/event"
	"github.com/gucklabs/guck-go/guck/redact"
)

func clearGuckEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		config.EnvCWD, config.EnvInitCWD, config.EnvConfig, config.EnvConfigPath,
		config.EnvEnabled, config.EnvService, config.EnvStoreDir,
		EnvRunID, EnvSessionID, EnvStrictWrites, EnvWrapped,
	} {
		t.Setenv(key, "")
	}
}

// newTestEmitter builds an emitter over a throwaway store with a
// pre-resolved configuration so tests never touch process-level state.
func newTestEmitter(t *testing.T, mutate func(*config.Config)) (*Emitter, string) {
	t.Helper()
	clearGuckEnv(t)
	dir := t.TempDir()
	cfg := config.Default()
	cfg.StoreDir = dir
	if mutate != nil {
		mutate(&cfg)
	}
	em := NewEmitter(WithLoaded(config.Loaded{RootDir: dir, Config: cfg}))
	return em, dir
}

func storeFiles(t *testing.T, dir string) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".jsonl") {
			files = append(files, path)
		}
		return nil
	})
	require.NoError(t, err)
	return files
}

func storedEvents(t *testing.T, dir string) []map[string]any {
	t.Helper()
	var events []map[string]any
	for _, file := range storeFiles(t, dir) {
		raw, err := os.ReadFile(file)
		require.NoError(t, err)
		for _, line := range strings.Split(strings.TrimRight(string(raw), "\n"), "\n") {
			var decoded map[string]any
			require.NoError(t, json.Unmarshal([]byte(line), &decoded))
			events = append(events, decoded)
		}
	}
	return events
}

func TestEmitDisabledWritesNothing(t *testing.T) {
	em, dir := newTestEmitter(t, func(cfg *config.Config) {
		cfg.Enabled = false
	})

	require.NoError(t, em.Emit(event.Input{Message: "dropped"}))

	assert.Empty(t, storeFiles(t, dir))
}

func TestEmitWritesNormalizedRedactedEvent(t *testing.T) {
	em, dir := newTestEmitter(t, func(cfg *config.Config) {
		cfg.Redaction = config.RedactionConfig{Enabled: true, Keys: []string{"token"}}
	})

	require.NoError(t, em.Emit(event.Input{
		Message: "hello",
		Data:    map[string]any{"token": "abc123"},
	}))

	events := storedEvents(t, dir)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "hello", ev["message"])
	assert.Equal(t, redact.Sentinel, ev["data"].(map[string]any)["token"])
	assert.Equal(t, "guck", ev["service"])
	assert.Equal(t, "info", ev["level"])
	assert.Equal(t, "log", ev["type"])
	assert.NotEmpty(t, ev["id"])
	assert.NotEmpty(t, ev["run_id"])
}

func TestEmitRunIDStableAcrossEvents(t *testing.T) {
	em, dir := newTestEmitter(t, nil)

	require.NoError(t, em.Emit(event.Input{Message: "a"}))
	require.NoError(t, em.Emit(event.Input{Message: "b"}))

	files := storeFiles(t, dir)
	require.Len(t, files, 1, "same run_id must share one file")
	events := storedEvents(t, dir)
	require.Len(t, events, 2)
	assert.Equal(t, events[0]["run_id"], events[1]["run_id"])
}

func TestEmitRunAndSessionSeedsFromEnv(t *testing.T) {
	clearGuckEnv(t)
	t.Setenv(EnvRunID, "seeded-run")
	t.Setenv(EnvSessionID, "seeded-session")
	dir := t.TempDir()
	cfg := config.Default()
	cfg.StoreDir = dir
	em := NewEmitter(WithLoaded(config.Loaded{RootDir: dir, Config: cfg}))

	require.NoError(t, em.Emit(event.Input{Message: "x"}))

	events := storedEvents(t, dir)
	require.Len(t, events, 1)
	assert.Equal(t, "seeded-run", events[0]["run_id"])
	assert.Equal(t, "seeded-session", events[0]["session_id"])
}

func TestEmitPermissionErrorLatches(t *testing.T) {
	em, _ := newTestEmitter(t, nil)
	calls := 0
	em.appendFn = func(string, event.Event) (string, error) {
		calls++
		return "", &fs.PathError{Op: "mkdir", Path: "store", Err: fs.ErrPermission}
	}

	require.NoError(t, em.Emit(event.Input{Message: "first"}), "non-strict permission failures are swallowed")
	require.NoError(t, em.Emit(event.Input{Message: "second"}))
	require.NoError(t, em.Emit(event.Input{Message: "third"}))

	assert.Equal(t, 1, calls, "latch must stop further append attempts")
}

func TestEmitStrictPermissionErrorPropagates(t *testing.T) {
	clearGuckEnv(t)
	dir := t.TempDir()
	cfg := config.Default()
	cfg.StoreDir = dir
	em := NewEmitter(
		WithLoaded(config.Loaded{RootDir: dir, Config: cfg}),
		WithStrictWrites(true),
	)
	calls := 0
	em.appendFn = func(string, event.Event) (string, error) {
		calls++
		return "", &fs.PathError{Op: "open", Path: "store", Err: fs.ErrPermission}
	}

	assert.Error(t, em.Emit(event.Input{Message: "first"}))
	assert.Error(t, em.Emit(event.Input{Message: "second"}), "strict mode never latches")
	assert.Equal(t, 2, calls)
}

func TestEmitStrictModeFromEnv(t *testing.T) {
	clearGuckEnv(t)
	t.Setenv(EnvStrictWrites, "1")
	dir := t.TempDir()
	cfg := config.Default()
	cfg.StoreDir = dir
	em := NewEmitter(WithLoaded(config.Loaded{RootDir: dir, Config: cfg}))
	em.appendFn = func(string, event.Event) (string, error) {
		return "", &fs.PathError{Op: "open", Path: "store", Err: fs.ErrPermission}
	}

	assert.Error(t, em.Emit(event.Input{Message: "x"}))
}

func TestEmitOtherIOErrorsPropagateWithoutLatching(t *testing.T) {
	em, _ := newTestEmitter(t, nil)
	ioErr := errors.New("short write")
	calls := 0
	em.appendFn = func(string, event.Event) (string, error) {
		calls++
		return "", ioErr
	}

	assert.ErrorIs(t, em.Emit(event.Input{Message: "a"}), ioErr)
	assert.ErrorIs(t, em.Emit(event.Input{Message: "b"}), ioErr)
	assert.Equal(t, 2, calls, "non-permission errors must not latch")
}

func TestEmitClockOverride(t *testing.T) {
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	clearGuckEnv(t)
	dir := t.TempDir()
	cfg := config.Default()
	cfg.StoreDir = dir
	em := NewEmitter(
		WithLoaded(config.Loaded{RootDir: dir, Config: cfg}),
		WithClock(func() time.Time { return now }),
	)

	require.NoError(t, em.Emit(event.Input{Message: "x"}))

	events := storedEvents(t, dir)
	require.Len(t, events, 1)
	assert.Equal(t, "2024-03-05T12:00:00.000Z", events[0]["ts"])
	files := storeFiles(t, dir)
	assert.Contains(t, files[0], filepath.Join(dir, "guck", "2024-03-05"))
}

func TestEmitServiceOverrideOption(t *testing.T) {
	clearGuckEnv(t)
	dir := t.TempDir()
	cfg := config.Default()
	cfg.StoreDir = dir
	em := NewEmitter(
		WithLoaded(config.Loaded{RootDir: dir, Config: cfg}),
		WithService("wrapped-app"),
	)

	require.NoError(t, em.Emit(event.Input{Message: "x"}))

	events := storedEvents(t, dir)
	require.Len(t, events, 1)
	assert.Equal(t, "wrapped-app", events[0]["service"])
}
