package logbuf

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

// drain reads every queued byte as a string.
func drain(b *Buffer) string {
	out := make([]byte, b.Len())
	b.ReadInto(out)
	return string(out)
}

func handle(t *testing.T, s *Sink, r slog.Record) {
	t.Helper()
	if err := s.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() = %v, want nil", err)
	}
}

func TestWriteLine_Format(t *testing.T) {
	longName := strings.Repeat("d", 8) + "/" + strings.Repeat("f", 31) // 40 chars

	tests := []struct {
		name string
		file string
		line int
		msg  string
		want string
	}{
		{"known source", "main.go", 42, "boot", "[main.go:42] boot\n"},
		{"no source", "", 0, "boot", "[???:0] boot\n"},
		{"zero line", "main.go", 0, "boot", "[main.go:0] boot\n"},
		{
			"long file name",
			longName,
			7,
			"boot",
			"[..." + longName[len(longName)-32:] + ":7] boot\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := New(256)
			s := NewSink(buf)
			s.writeLine(tt.file, tt.line, tt.msg, nil)
			if got := drain(buf); got != tt.want {
				t.Errorf("line = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHandle_NoSource(t *testing.T) {
	buf := New(256)
	s := NewSink(buf)

	r := slog.NewRecord(time.Now(), slog.LevelInfo, "boot", 0)
	handle(t, s, r)

	if got := drain(buf); got != "[???:0] boot\n" {
		t.Errorf("line = %q, want %q", got, "[???:0] boot\n")
	}
}

func TestHandle_PanicTarget(t *testing.T) {
	buf := New(256)
	s := NewSink(buf)

	r := slog.NewRecord(time.Now(), slog.LevelError, "it broke", 0)
	r.AddAttrs(slog.String(TargetKey, PanicTarget))
	handle(t, s, r)

	if got := drain(buf); got != "[PANIC] it broke\n" {
		t.Errorf("line = %q, want %q", got, "[PANIC] it broke\n")
	}
}

func TestHandle_Attrs(t *testing.T) {
	buf := New(256)
	s := NewSink(buf)

	r := slog.NewRecord(time.Now(), slog.LevelInfo, "boot", 0)
	r.AddAttrs(slog.String("stage", "late"), slog.Int("code", 3))
	handle(t, s, r)

	if got := drain(buf); got != "[???:0] boot stage=late code=3\n" {
		t.Errorf("line = %q", got)
	}
}

func TestWithAttrs(t *testing.T) {
	buf := New(256)
	s := NewSink(buf)

	h := s.WithAttrs([]slog.Attr{slog.String("unit", "motor")})
	r := slog.NewRecord(time.Now(), slog.LevelInfo, "spin", 0)
	if err := h.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() = %v", err)
	}

	if got := drain(buf); got != "[???:0] spin unit=motor\n" {
		t.Errorf("line = %q", got)
	}
}

func TestWithAttrs_TargetInherited(t *testing.T) {
	buf := New(256)
	s := NewSink(buf)

	h := s.WithAttrs([]slog.Attr{slog.String(TargetKey, PanicTarget)})
	r := slog.NewRecord(time.Now(), slog.LevelError, "gone", 0)
	if err := h.Handle(context.Background(), r); err != nil {
		t.Fatalf("Handle() = %v", err)
	}

	if got := drain(buf); got != "[PANIC] gone\n" {
		t.Errorf("line = %q, want %q", got, "[PANIC] gone\n")
	}
}

func TestHandle_OverflowTruncates(t *testing.T) {
	buf := New(16)
	s := NewSink(buf)

	r := slog.NewRecord(time.Now(), slog.LevelInfo, strings.Repeat("x", 100), 0)
	handle(t, s, r)

	got := drain(buf)
	if len(got) != 15 {
		t.Errorf("stored %d bytes, want 15", len(got))
	}
	if !strings.HasPrefix(got, "[???:0] xxx") {
		t.Errorf("truncated line = %q", got)
	}

	// Later records keep working once space frees up.
	handle(t, s, slog.NewRecord(time.Now(), slog.LevelInfo, "ok", 0))
	if got := drain(buf); got != "[???:0] ok\n" {
		t.Errorf("line = %q, want %q", got, "[???:0] ok\n")
	}
}

func TestEmitPanic_Sequence(t *testing.T) {
	buf := New(256)
	s := NewSink(buf)

	s.emitPanic(0, "machine/uart.go", 77, true)("oh no")

	want := "[PANIC] at machine/uart.go:77\n" +
		"[PANIC] oh no\n" +
		"[PANIC] entering endless loop.\n"
	if got := drain(buf); got != want {
		t.Errorf("panic output = %q, want %q", got, want)
	}
}

func TestEmitPanic_NoLocation(t *testing.T) {
	buf := New(256)
	s := NewSink(buf)

	s.emitPanic(0, "", 0, false)("oh no")

	want := "[PANIC] oh no\n[PANIC] entering endless loop.\n"
	if got := drain(buf); got != want {
		t.Errorf("panic output = %q, want %q", got, want)
	}
}

func TestEmitPanic_OverflowKeepsLocation(t *testing.T) {
	// Location is queued first so it survives when the message overflows.
	buf := New(32)
	s := NewSink(buf)

	s.emitPanic(0, "main.go", 1, true)(strings.Repeat("y", 200))

	got := drain(buf)
	if !strings.HasPrefix(got, "[PANIC] at main.go:1\n") {
		t.Errorf("location lost under overflow: %q", got)
	}
}

func TestPanicMessage(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want string
	}{
		{"string", "plain", "plain"},
		{"error", errFixture("bad"), "bad"},
		{"other", 42, "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := panicMessage(tt.v); got != tt.want {
				t.Errorf("panicMessage(%v) = %q, want %q", tt.v, got, tt.want)
			}
		})
	}
}

type errFixture string

func (e errFixture) Error() string { return string(e) }

func TestEnabled(t *testing.T) {
	s := NewSink(New(64))
	if !s.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("default sink rejects debug records")
	}

	s.SetLevel(slog.LevelWarn)
	if s.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info enabled above warn threshold")
	}
	if !s.Enabled(context.Background(), slog.LevelError) {
		t.Error("error disabled above warn threshold")
	}
}

func TestLogger_SourceLocation(t *testing.T) {
	buf := New(512)
	s := NewSink(buf)

	s.Logger().Info("from test")

	got := drain(buf)
	if !strings.Contains(got, "sink_test.go:") {
		t.Errorf("line missing source location: %q", got)
	}
	if !strings.HasSuffix(got, "] from test\n") {
		t.Errorf("line = %q", got)
	}
}
