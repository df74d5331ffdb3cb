// Package logbuf implements the diagnostic log core: a fixed-capacity,
// concurrency-safe byte ring buffer and a log/slog handler that formats
// records into it.
//
// The buffer is the single piece of state shared between log producers
// (application goroutines, interrupt-style callbacks, the panic path) and
// exactly one USB-facing consumer from
// [github.com/ardnew/usblog/device/class/logchan]. Every operation runs
// inside one short critical section, never blocks, and never allocates
// after construction. When the buffer fills, new bytes are dropped in
// favor of data already queued; that loss is the documented trade-off for
// bounded memory and non-blocking producers.
//
// Typical wiring:
//
//	buf := logbuf.New(logbuf.DefaultCapacity)
//	sink := logbuf.NewSink(buf)
//	log := sink.Logger()
//
//	log.Info("boot complete")
//
//	// Unrecoverable fault: record location + message, then halt.
//	sink.Panic("flux capacitor underflow")
//
// The sink renders one text line per record, so the host-side reader can
// treat the stream as plain line-oriented output.
package logbuf
