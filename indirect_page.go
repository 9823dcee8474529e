package sirix

import (
	"encoding/binary"
	"fmt"
)

// IndirectPage is an interior trie node: a fixed-fanout array of
// PageReferences forming one level of a revisioned indirect-page tree
// (spec.md §3 Entities: IndirectPage; §4.4). It is immutable once its
// revision commits; a write transaction mutates it only through Clone.
type IndirectPage struct {
	refs     []*PageReference
	writable bool
}

// NewIndirectPage returns a fresh, writable page with fanout empty slots,
// each an initially-null PageReference.
func NewIndirectPage(fanout int) *IndirectPage {
	refs := make([]*PageReference, fanout)
	for i := range refs {
		refs[i] = NewPageReference()
	}
	return &IndirectPage{refs: refs, writable: true}
}

// Kind implements Page.
func (p *IndirectPage) Kind() PageKind { return PageKindIndirect }

// Fanout returns the number of reference slots this page holds, which
// depends on the level it occupies in its subtree (spec.md §4.4:
// "FANOUT[level] is defined per subtree and per level").
func (p *IndirectPage) Fanout() int { return len(p.refs) }

// RefAt returns the reference at offset.
func (p *IndirectPage) RefAt(offset int) (*PageReference, error) {
	if offset < 0 || offset >= len(p.refs) {
		return nil, fmt.Errorf("sirix: %w: offset %d outside fanout %d", ErrUnsupportedKey, offset, len(p.refs))
	}
	return p.refs[offset], nil
}

// SetRefAt replaces the reference at offset. Only usable on a writable
// clone (spec.md §4.4: "only usable on a writable clone").
func (p *IndirectPage) SetRefAt(offset int, ref *PageReference) error {
	if !p.writable {
		return fmt.Errorf("sirix: %w: indirect page is immutable, clone it first", ErrIllegalState)
	}
	if offset < 0 || offset >= len(p.refs) {
		return fmt.Errorf("sirix: %w: offset %d outside fanout %d", ErrUnsupportedKey, offset, len(p.refs))
	}
	p.refs[offset] = ref
	return nil
}

// Clone returns a writable copy of p for copy-on-write mutation, sharing
// its reference pointers with the original until SetRefAt replaces one.
func (p *IndirectPage) Clone() *IndirectPage {
	refs := make([]*PageReference, len(p.refs))
	copy(refs, p.refs)
	return &IndirectPage{refs: refs, writable: true}
}

// Freeze marks the page immutable, as it becomes once its revision is
// committed (spec.md §3 Lifecycles).
func (p *IndirectPage) Freeze() { p.writable = false }

// Writable reports whether SetRefAt is currently permitted.
func (p *IndirectPage) Writable() bool { return p.writable }

// Serialize writes fanout page keys to dst, NullID marking an absent
// reference (SPEC_FULL.md §6: "each u64 page key; absent reference
// encoded as NULL_ID").
func (p *IndirectPage) Serialize(dst []byte) []byte {
	for _, ref := range p.refs {
		key := NullID
		if ref != nil {
			key = ref.PageKey()
		}
		dst = binary.BigEndian.AppendUint64(dst, key)
	}
	return dst
}

// DeserializeIndirectPage reads fanout page keys from src, returning an
// immutable page and the number of bytes consumed.
func DeserializeIndirectPage(src []byte, fanout int) (*IndirectPage, int, error) {
	need := fanout * 8
	if len(src) < need {
		return nil, 0, fmt.Errorf("sirix: %w: indirect page truncated, want %d bytes have %d", ErrCorruptPage, need, len(src))
	}
	refs := make([]*PageReference, fanout)
	off := 0
	for i := 0; i < fanout; i++ {
		key := binary.BigEndian.Uint64(src[off : off+8])
		off += 8
		ref := NewPageReference()
		if key != NullID {
			ref.SetPageKey(key)
		}
		refs[i] = ref
	}
	return &IndirectPage{refs: refs, writable: false}, off, nil
}
