package guck

import (
	"bytes"
	"io"
	"os"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/gucklabs/guck-go/guck/config"
	"github.com/gucklabs/guck-go/guck/event"
)

// LineWriter decorates an output sink: every write is forwarded unchanged,
// buffered bytes are split on line terminators, and each completed
// non-blank line is emitted as one event. The trailing partial line stays
// buffered until the next write or Flush. A LineWriter is not safe for
// concurrent writers.
type LineWriter struct {
	sink    io.Writer
	kind    event.SourceKind
	level   event.Level
	emitter *Emitter
	buf     []byte
}

// NewLineWriter wraps sink. kind becomes the event type and source kind;
// level is the default level of emitted lines.
func NewLineWriter(sink io.Writer, kind event.SourceKind, level event.Level, emitter *Emitter) *LineWriter {
	return &LineWriter{sink: sink, kind: kind, level: level, emitter: emitter}
}

// Write forwards p to the sink and emits any lines it completes. The return
// values are the sink's.
func (w *LineWriter) Write(p []byte) (int, error) {
	n, err := w.sink.Write(p)
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexAny(w.buf, "\r\n")
		if i < 0 {
			break
		}
		w.emitLine(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	return n, err
}

// Flush emits the buffered partial line, if any, even without a terminator.
func (w *LineWriter) Flush() {
	if len(w.buf) > 0 {
		w.emitLine(w.buf)
		w.buf = nil
	}
}

// emitLine drops blank lines; emission failures must not break the host's
// output path, so the error is discarded.
func (w *LineWriter) emitLine(line []byte) {
	text := string(line)
	if strings.TrimSpace(text) == "" {
		return
	}
	_ = w.emitter.Emit(event.Input{
		Type:    string(w.kind),
		Level:   string(w.level),
		Message: text,
		Source:  &event.Source{Kind: w.kind},
	})
}

// CaptureHandle represents one auto-capture installation. Stop restores the
// original streams; it is idempotent.
type CaptureHandle struct {
	mu      sync.Mutex
	stopped bool
	streams []*capturedStream
}

type capturedStream struct {
	target  **os.File
	orig    *os.File
	pw      *os.File
	lw      *LineWriter
	drained chan struct{}
}

var (
	captureMu sync.Mutex
	installed *CaptureHandle
)

type captureOptions struct {
	emitter *Emitter
}

// CaptureOption adjusts InstallAutoCapture.
type CaptureOption func(*captureOptions)

// WithCaptureEmitter routes captured lines through em instead of the
// process-wide default emitter.
func WithCaptureEmitter(em *Emitter) CaptureOption {
	return func(o *captureOptions) { o.emitter = em }
}

// InstallAutoCapture redirects os.Stdout and/or os.Stderr (per the sdk
// configuration section) through pipe-backed LineWriters that forward all
// output to the original streams and emit one event per completed line.
// At most one installation is active per process; repeated calls return
// the existing handle. When the process is a wrapped child (GUCK_WRAPPED=1)
// or capture is disabled by configuration, the returned handle is a no-op.
//
// Go has no process-exit hook, so hosts must call Stop (typically deferred
// from main) to flush a trailing partial line before exit.
func InstallAutoCapture(opts ...CaptureOption) *CaptureHandle {
	captureMu.Lock()
	defer captureMu.Unlock()
	if installed != nil {
		return installed
	}

	var o captureOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.emitter == nil {
		o.emitter = Default()
	}

	handle := &CaptureHandle{}
	installed = handle
	cfg := o.emitter.Config()
	if !shouldCapture(cfg) {
		handle.stopped = true
		return handle
	}

	sdk := cfg.SDK
	if sdk.CaptureStdout {
		handle.captureStream(&os.Stdout, event.SourceStdout, event.LevelInfo, o.emitter)
	}
	if sdk.CaptureStderr {
		handle.captureStream(&os.Stderr, event.SourceStderr, event.LevelError, o.emitter)
	}
	return handle
}

// shouldCapture gates installation: wrapped children and disabled
// configurations get a no-op handle.
func shouldCapture(cfg config.Config) bool {
	if os.Getenv(EnvWrapped) == "1" {
		return false
	}
	if !cfg.Enabled || !cfg.SDK.Enabled {
		return false
	}
	return cfg.SDK.CaptureStdout || cfg.SDK.CaptureStderr
}

// captureStream swaps *target for the write end of a pipe and pumps the
// read end through a LineWriter that forwards to the original file.
func (h *CaptureHandle) captureStream(target **os.File, kind event.SourceKind, level event.Level, em *Emitter) {
	pr, pw, err := os.Pipe()
	if err != nil {
		log.WithError(err).Warnf("guck: cannot capture %s", kind)
		return
	}
	orig := *target
	*target = pw

	cs := &capturedStream{
		target:  target,
		orig:    orig,
		pw:      pw,
		lw:      NewLineWriter(orig, kind, level, em),
		drained: make(chan struct{}),
	}
	h.streams = append(h.streams, cs)

	go func() {
		// Copy until the write end closes on Stop; LineWriter forwards
		// every byte to the original stream as it goes.
		_, _ = io.Copy(cs.lw, pr)
		_ = pr.Close()
		close(cs.drained)
	}()
}

// Stop flushes pending partial lines, restores the original streams and
// resets the process-wide installation so a fresh install is possible.
// Safe to call multiple times.
func (h *CaptureHandle) Stop() {
	h.mu.Lock()
	alreadyStopped := h.stopped
	h.stopped = true
	h.mu.Unlock()

	if !alreadyStopped {
		for _, cs := range h.streams {
			*cs.target = cs.orig
			_ = cs.pw.Close()
			<-cs.drained
			cs.lw.Flush()
		}
	}

	captureMu.Lock()
	if installed == h {
		installed = nil
	}
	captureMu.Unlock()
}
