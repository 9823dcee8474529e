package sirix

import (
	"encoding/binary"
	"fmt"
)

// OverflowPage holds the payload of a single record too large to inline in
// its KeyValuePage's slots map (spec.md §3 Entities: OverflowPage, §4.2,
// §6 wire layout). It is write-once: once committed it is never mutated,
// only its PageReference travels forward in later revisions' leaves.
type OverflowPage struct {
	data []byte
}

// NewOverflowPage wraps data, which is not copied; callers that read data
// out of a mmap'd region should call detach() first.
func NewOverflowPage(data []byte) *OverflowPage {
	return &OverflowPage{data: data}
}

// Kind implements Page.
func (p *OverflowPage) Kind() PageKind { return PageKindOverflow }

// Data returns the page's payload.
func (p *OverflowPage) Data() []byte { return p.data }

// Serialize writes the length-prefixed payload to dst (spec.md §6:
// "i32 len / bytes data") and returns the extended slice.
func (p *OverflowPage) Serialize(dst []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(p.data)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, p.data...)
}

// DeserializeOverflowPage reads a page previously written by Serialize,
// returning the page and the number of bytes consumed.
func DeserializeOverflowPage(src []byte) (*OverflowPage, int, error) {
	if len(src) < 4 {
		return nil, 0, fmt.Errorf("sirix: %w: truncated overflow page length", ErrCorruptPage)
	}
	n := int(binary.BigEndian.Uint32(src[:4]))
	if n < 0 || 4+n > len(src) {
		return nil, 0, fmt.Errorf("sirix: %w: truncated overflow page body (want %d bytes)", ErrCorruptPage, n)
	}
	data := make([]byte, n)
	copy(data, src[4:4+n])
	return &OverflowPage{data: data}, 4 + n, nil
}

// detach replaces data with a fresh heap copy, whether or not it was
// already owned. Used
// when data was read directly out of a mmap'd FileStore buffer that may be
// unmapped or relocated later (grounded on node.dereference in node.go).
func (p *OverflowPage) detach() {
	owned := make([]byte, len(p.data))
	copy(owned, p.data)
	p.data = owned
}
