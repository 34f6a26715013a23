// Package guck is the embeddable emission surface of the guck telemetry
// SDK: an Emitter that normalizes, redacts and durably appends events, and
// an auto-capture adapter that turns stdout/stderr writes into events.
package guck

import (
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/gucklabs/guck-go/guck/config"
	"github.com/gucklabs/guck-go/guck/event"
	"github.com/gucklabs/guck-go/guck/redact"
	"github.com/gucklabs/guck-go/guck/store"
)

// Environment variables consumed by the emitter and capture adapter.
const (
	EnvRunID        = "GUCK_RUN_ID"
	EnvSessionID    = "GUCK_SESSION_ID"
	EnvStrictWrites = "GUCK_STRICT_WRITE_ERRORS"
	EnvWrapped      = "GUCK_WRAPPED"
)

// Emitter is the emission facade. It resolves configuration lazily on first
// use and caches it for its lifetime; the zero emitter is not usable, build
// one with NewEmitter. An Emitter is safe for concurrent use.
type Emitter struct {
	loadOpts []config.Option
	preset   *config.Loaded
	service  string
	clock    func() time.Time
	strict   *bool
	appendFn func(storeDir string, ev event.Event) (string, error)

	initOnce sync.Once
	loaded   config.Loaded
	storeDir string
	redactor *redact.Redactor
	defaults event.Defaults
	strictOn bool

	mu            sync.Mutex
	writeDisabled bool
	warned        bool
}

// EmitterOption adjusts a new Emitter.
type EmitterOption func(*Emitter)

// WithLoadOptions forwards resolver options to the lazy config.Load call.
func WithLoadOptions(opts ...config.Option) EmitterOption {
	return func(e *Emitter) { e.loadOpts = append(e.loadOpts, opts...) }
}

// WithLoaded skips resolution entirely and uses an already-loaded
// configuration.
func WithLoaded(loaded config.Loaded) EmitterOption {
	return func(e *Emitter) { e.preset = &loaded }
}

// WithService overrides the default service name for events that do not
// carry one.
func WithService(service string) EmitterOption {
	return func(e *Emitter) { e.service = service }
}

// WithStrictWrites forces strict write-error handling on or off, overriding
// the GUCK_STRICT_WRITE_ERRORS environment flag.
func WithStrictWrites(strict bool) EmitterOption {
	return func(e *Emitter) { e.strict = &strict }
}

// WithClock substitutes the timestamp source. Test hook.
func WithClock(clock func() time.Time) EmitterOption {
	return func(e *Emitter) { e.clock = clock }
}

// NewEmitter builds an Emitter. Configuration is not resolved until the
// first Emit (or Config) call.
func NewEmitter(opts ...EmitterOption) *Emitter {
	e := &Emitter{
		clock:    time.Now,
		appendFn: store.Append,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Emitter) init() {
	if e.preset != nil {
		e.loaded = *e.preset
	} else {
		e.loaded = config.Load(e.loadOpts...)
	}
	e.storeDir = config.ResolveStoreDir(e.loaded.Config, e.loaded.RootDir)
	e.redactor = redact.New(e.loaded.Config.Redaction)

	service := e.service
	if service == "" {
		service = e.loaded.Config.DefaultService
	}
	runID := os.Getenv(EnvRunID)
	if runID == "" {
		runID = uuid.NewString()
	}
	e.defaults = event.Defaults{
		Service:   service,
		RunID:     runID,
		SessionID: os.Getenv(EnvSessionID),
	}

	if e.strict != nil {
		e.strictOn = *e.strict
	} else {
		e.strictOn = os.Getenv(EnvStrictWrites) == "1"
	}
}

// Config resolves (once) and returns the emitter's configuration.
func (e *Emitter) Config() config.Config {
	e.initOnce.Do(e.init)
	return e.loaded.Config
}

// StoreDir resolves (once) and returns the effective store directory.
func (e *Emitter) StoreDir() string {
	e.initOnce.Do(e.init)
	return e.storeDir
}

// RunID resolves (once) and returns the process-stable run identifier.
func (e *Emitter) RunID() string {
	e.initOnce.Do(e.init)
	return e.defaults.RunID
}

// Emit normalizes, redacts and appends one event. It is a no-op when the
// configuration disables the SDK or after a permission failure has tripped
// the write-disabled latch. A permission-class write failure trips the
// latch and is swallowed after a single diagnostic, unless strict writes
// are configured, in which case it is returned. All other I/O errors are
// returned.
func (e *Emitter) Emit(in event.Input) error {
	e.initOnce.Do(e.init)
	if !e.loaded.Config.Enabled {
		return nil
	}

	e.mu.Lock()
	disabled := e.writeDisabled
	e.mu.Unlock()
	if disabled {
		return nil
	}

	ev := event.NormalizeAt(in, e.defaults, e.clock())
	ev = e.redactor.Event(ev)

	if _, err := e.appendFn(e.storeDir, ev); err != nil {
		if store.IsPermission(err) && !e.strictOn {
			e.disableWrites(err)
			return nil
		}
		return err
	}
	return nil
}

// disableWrites trips the one-way write-disabled latch. Only a process
// restart clears it.
func (e *Emitter) disableWrites(cause error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.writeDisabled = true
	if !e.warned {
		e.warned = true
		log.WithError(cause).Warnf("guck: store writes disabled (permission error); set %s=1 to fail hard", EnvStrictWrites)
	}
}

var (
	defaultOnce    sync.Once
	defaultEmitter *Emitter
)

// Default returns the process-wide emitter, creating it on first use.
func Default() *Emitter {
	defaultOnce.Do(func() {
		defaultEmitter = NewEmitter()
	})
	return defaultEmitter
}

// Emit emits one event through the process-wide default emitter.
func Emit(in event.Input) error {
	return Default().Emit(in)
}
