// Package buffer provides the growable, reusable scratch byte buffer that
// SPEC_FULL.md §4.1 calls for ("elastic byte buffer... semantics equivalent
// to a mutable byte vector with a cursor"). It is pooled the same way the
// teacher pools whole pages in DB.pagePool (db.go): short-lived scratch
// buffers are Get from the pool before use and Put back in a deferred
// release, never retained past the call that acquired them.
package buffer

import "sync"

// Buffer is a growable byte vector with a write cursor, matching the role
// of the Chronicle-Bytes elastic buffer on the Java side (used as
// serialization scratch space in UnorderedKeyValuePage.serialize/
// deserialize).
type Buffer struct {
	b []byte
}

var pool = sync.Pool{
	New: func() any { return &Buffer{b: make([]byte, 0, 256)} },
}

// Acquire returns a cleared Buffer from the pool. Pair with Release.
func Acquire() *Buffer {
	buf := pool.Get().(*Buffer)
	buf.b = buf.b[:0]
	return buf
}

// Release returns buf to the pool. Callers must not use buf afterwards.
func Release(buf *Buffer) {
	pool.Put(buf)
}

// Write appends p to the buffer.
func (buf *Buffer) Write(p []byte) {
	buf.b = append(buf.b, p...)
}

// WriteByte appends a single byte.
func (buf *Buffer) WriteByte(c byte) {
	buf.b = append(buf.b, c)
}

// Bytes returns the buffer's current contents. The slice is only valid
// until the next Write or until the Buffer is released.
func (buf *Buffer) Bytes() []byte {
	return buf.b
}

// Len returns the number of bytes written so far.
func (buf *Buffer) Len() int {
	return len(buf.b)
}

// Reset clears the buffer for reuse without returning it to the pool.
func (buf *Buffer) Reset() {
	buf.b = buf.b[:0]
}

// Detach copies the buffer's contents into a freshly allocated slice that
// outlives the buffer's release back to the pool.
func (buf *Buffer) Detach() []byte {
	out := make([]byte, len(buf.b))
	copy(out, buf.b)
	return out
}
