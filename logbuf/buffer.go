package logbuf

import "sync"

// DefaultCapacity is a reasonable buffer size for typical log rates.
const DefaultCapacity = 1024

// Buffer is a fixed-capacity FIFO byte queue shared by any number of log
// producers and a single consumer.
//
// One storage slot is kept permanently unusable so that wr == rd always
// means empty and next(wr) == rd always means full, without a separate
// count field. A Buffer of size n therefore stores at most n-1 bytes.
//
// Every method acquires the buffer mutex for the duration of one bounded
// operation and releases it before returning. No method blocks, allocates,
// or panics. On overflow, writes fail and already-queued bytes win over
// fresh data.
type Buffer struct {
	mutex sync.Mutex
	wr    int
	rd    int
	buf   []byte
}

// New creates a buffer with the given storage size. The storage is
// allocated once here and never resized. Sizes below 2 are raised to 2
// (a degenerate but valid single-byte queue).
func New(size int) *Buffer {
	if size < 2 {
		size = 2
	}
	return &Buffer{buf: make([]byte, size)}
}

// inc advances a cursor by one slot, wrapping at the end of storage.
func (b *Buffer) inc(v int) int {
	if v+1 < len(b.buf) {
		return v + 1
	}
	return 0
}

// writeByte appends one byte without locking.
// Returns false, with no state modified, if the buffer is full.
func (b *Buffer) writeByte(c byte) bool {
	if b.inc(b.wr) == b.rd {
		return false
	}
	b.buf[b.wr] = c
	b.wr = b.inc(b.wr)
	return true
}

// readByte removes the oldest byte without locking.
func (b *Buffer) readByte() (byte, bool) {
	if b.wr == b.rd {
		return 0, false
	}
	c := b.buf[b.rd]
	b.rd = b.inc(b.rd)
	return c, true
}

// appendString appends s without locking, stopping silently at the first
// full slot. Returns the number of bytes stored.
func (b *Buffer) appendString(s string) int {
	for i := 0; i < len(s); i++ {
		if !b.writeByte(s[i]) {
			return i
		}
	}
	return len(s)
}

// appendBytes appends p without locking, stopping silently at the first
// full slot. Returns the number of bytes stored.
func (b *Buffer) appendBytes(p []byte) int {
	for i := 0; i < len(p); i++ {
		if !b.writeByte(p[i]) {
			return i
		}
	}
	return len(p)
}

// Write attempts to store one byte.
// Returns false, with no state modified, if the buffer is full.
func (b *Buffer) Write(c byte) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.writeByte(c)
}

// WriteString appends s inside a single critical section, stopping
// silently at the first full slot. Because the whole string is queued
// under one lock acquisition, bytes from concurrent WriteString calls are
// never interleaved. Returns the number of bytes stored.
func (b *Buffer) WriteString(s string) int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.appendString(s)
}

// Read removes and returns the oldest byte.
// The second result is false if the buffer is empty.
func (b *Buffer) Read() (byte, bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.readByte()
}

// ReadInto drains up to len(p) bytes into p inside a single critical
// section and returns the number of bytes copied. A short (or zero)
// result means the buffer ran empty, not an error.
func (b *Buffer) ReadInto(p []byte) int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	n := 0
	for n < len(p) {
		c, ok := b.readByte()
		if !ok {
			break
		}
		p[n] = c
		n++
	}
	return n
}

// IsEmpty reports whether no bytes are queued.
func (b *Buffer) IsEmpty() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.wr == b.rd
}

// Len returns the number of bytes currently queued.
func (b *Buffer) Len() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	d := b.wr - b.rd
	if d < 0 {
		d += len(b.buf)
	}
	return d
}

// Cap returns the usable capacity (storage size minus the sentinel slot).
func (b *Buffer) Cap() int {
	return len(b.buf) - 1
}
