package logbuf

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
)

// TargetKey is the attribute key the sink inspects to classify a record.
const TargetKey = "target"

// PanicTarget marks a record as originating from the panic path.
// Records carrying this target render as "[PANIC] <message>".
const PanicTarget = "PANIC"

// maxSourceLen is the longest source file name rendered in a line header.
// Longer names keep their last maxSourceLen characters behind a "..." prefix.
const maxSourceLen = 32

// headerScratchSize bounds the header scratch buffer:
// '[' + "..." + file + ':' + line digits + "] ".
const headerScratchSize = 64

// Sink formats structured log records into a Buffer, one text line per
// record. It implements slog.Handler.
//
// The sink never blocks and never surfaces errors to the caller: a record
// that does not fit is truncated silently. Each record is queued inside a
// single buffer critical section, so lines from concurrent writers are
// never interleaved at byte level. This makes the sink safe to call from
// any execution context, including the panic path.
type Sink struct {
	buf *Buffer

	// level is the minimum enabled level; nil enables everything.
	level slog.Leveler

	// target is a preset target value inherited via WithAttrs.
	target string

	// preattrs holds attributes inherited via WithAttrs, preformatted
	// as " key=value" text appended after each message.
	preattrs string
}

// NewSink creates a sink writing formatted lines into buf.
// All levels are enabled until SetLevel is called.
func NewSink(buf *Buffer) *Sink {
	return &Sink{buf: buf}
}

// SetLevel sets the minimum record level the sink accepts.
func (s *Sink) SetLevel(level slog.Leveler) {
	s.level = level
}

// Logger returns a slog.Logger emitting through this sink.
func (s *Sink) Logger() *slog.Logger {
	return slog.New(s)
}

// Buffer returns the ring buffer this sink writes into.
func (s *Sink) Buffer() *Buffer {
	return s.buf
}

// Enabled reports whether records at the given level are accepted.
func (s *Sink) Enabled(_ context.Context, level slog.Level) bool {
	if s.level == nil {
		return true
	}
	return level >= s.level.Level()
}

// Handle renders one record as a line of text and queues it.
// It always returns nil; overflow is silently dropped.
func (s *Sink) Handle(_ context.Context, r slog.Record) error {
	target := s.target
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == TargetKey {
			target = a.Value.String()
		}
		return true
	})

	if target == PanicTarget {
		s.writePanicLine(r.Message)
		return nil
	}

	var file string
	var line int
	if r.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{r.PC})
		frame, _ := frames.Next()
		file = frame.File
		line = frame.Line
	}

	s.writeLine(file, line, r.Message, &r)
	return nil
}

// WithAttrs returns a sink that carries the given attributes.
// A "target" attribute updates the record classification; all others are
// preformatted once and appended after each message.
func (s *Sink) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *s
	for _, a := range attrs {
		if a.Key == TargetKey {
			next.target = a.Value.String()
			continue
		}
		next.preattrs += " " + a.Key + "=" + a.Value.String()
	}
	return &next
}

// WithGroup returns the sink unchanged; the line format has no nesting.
func (s *Sink) WithGroup(string) slog.Handler {
	return s
}

// Panic records diagnostic information about an unrecoverable fault and
// then halts forever. It emits, in order: the panic location (the caller
// of Panic), the panic message, and a final sentinel announcing the halt.
// The location goes first so that the most useful information is queued
// ahead of any overflow. Panic never returns.
func (s *Sink) Panic(v any) {
	s.emitPanic(runtime.Caller(1))(v)
	halt()
}

// CapturePanic routes a recovered panic through the same path as Panic.
// It is meant to be deferred at the top of a goroutine:
//
//	defer sink.CapturePanic()
//
// The reported location is the capture point, since the panic site is no
// longer on the stack once recover has run. If no panic is in flight,
// CapturePanic returns normally; otherwise it never returns.
func (s *Sink) CapturePanic() {
	if v := recover(); v != nil {
		s.emitPanic(runtime.Caller(1))(v)
		halt()
	}
}

// emitPanic queues the panic location record (when known) and returns a
// function queueing the message and halt-sentinel records. Split this way
// so tests can exercise the full sequence without halting.
func (s *Sink) emitPanic(_ uintptr, file string, line int, ok bool) func(v any) {
	if ok {
		var scratch [headerScratchSize]byte
		loc := scratch[:0]
		loc = append(loc, "at "...)
		loc = append(loc, file...)
		loc = append(loc, ':')
		loc = strconv.AppendInt(loc, int64(line), 10)

		s.buf.mutex.Lock()
		s.buf.appendString("[PANIC] ")
		s.buf.appendBytes(loc)
		s.buf.writeByte('\n')
		s.buf.mutex.Unlock()
	}
	return func(v any) {
		s.writePanicLine(panicMessage(v))
		s.writePanicLine("entering endless loop.")
	}
}

// halt parks the calling goroutine permanently.
func halt() {
	select {}
}

// writeLine queues "[<prefix><file>:<line>] <message>\n" in one critical
// section. A missing file renders as "???:0"-style header; an over-long
// file name is right-truncated with a "..." prefix.
func (s *Sink) writeLine(file string, line int, msg string, r *slog.Record) {
	var scratch [headerScratchSize]byte
	hdr := scratch[:0]
	hdr = append(hdr, '[')
	switch {
	case file == "":
		hdr = append(hdr, "???"...)
	case len(file) > maxSourceLen:
		hdr = append(hdr, "..."...)
		hdr = append(hdr, file[len(file)-maxSourceLen:]...)
	default:
		hdr = append(hdr, file...)
	}
	hdr = append(hdr, ':')
	hdr = strconv.AppendInt(hdr, int64(line), 10)
	hdr = append(hdr, ']', ' ')

	s.buf.mutex.Lock()
	defer s.buf.mutex.Unlock()
	if s.buf.appendBytes(hdr) < len(hdr) {
		return
	}
	if s.buf.appendString(msg) < len(msg) {
		return
	}
	if s.buf.appendString(s.preattrs) < len(s.preattrs) {
		return
	}
	if r != nil {
		full := false
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == TargetKey {
				return true
			}
			if s.buf.writeByte(' ') &&
				s.buf.appendString(a.Key) == len(a.Key) &&
				s.buf.writeByte('=') {
				v := a.Value.String()
				full = s.buf.appendString(v) < len(v)
			} else {
				full = true
			}
			return !full
		})
		if full {
			return
		}
	}
	s.buf.writeByte('\n')
}

// writePanicLine queues "[PANIC] <message>\n" in one critical section.
func (s *Sink) writePanicLine(msg string) {
	s.buf.mutex.Lock()
	defer s.buf.mutex.Unlock()
	if s.buf.appendString("[PANIC] ") < len("[PANIC] ") {
		return
	}
	if s.buf.appendString(msg) < len(msg) {
		return
	}
	s.buf.writeByte('\n')
}

// panicMessage renders a recovered panic value as text without reaching
// for the formatter in the common cases.
func panicMessage(v any) string {
	switch m := v.(type) {
	case string:
		return m
	case error:
		return m.Error()
	case fmt.Stringer:
		return m.String()
	default:
		return fmt.Sprint(v)
	}
}

// Compile-time interface check
var _ slog.Handler = (*Sink)(nil)
