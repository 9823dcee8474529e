package sirix

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// UberPage is the global root of a resource file: it references the
// indirect-page tree whose leaves are RevisionRootPages, and carries the
// per-subtree fanout exponents every descent through the trie uses
// (spec.md §3 Entities: UberPage; §4.5; GLOSSARY "Uber page").
type UberPage struct {
	revisionRootRef    *PageReference
	latestRevision     int32
	pageCountExponents map[IndexType][]uint8
}

// NewUberPage returns the initial uber page for a brand-new resource: no
// committed revisions yet, fanout exponents baked in from cfg so every
// later descent addresses keys consistently even if cfg changes
// afterward.
func NewUberPage(cfg *ResourceConfig) *UberPage {
	exps := make(map[IndexType][]uint8)
	for t := range indexTypeNames {
		indexType := IndexType(t)
		cp := make([]uint8, len(cfg.PageCountExponents(indexType)))
		copy(cp, cfg.PageCountExponents(indexType))
		exps[indexType] = cp
	}
	return &UberPage{
		revisionRootRef:    NewPageReference(),
		latestRevision:     -1,
		pageCountExponents: exps,
	}
}

// Kind implements Page.
func (u *UberPage) Kind() PageKind { return PageKindUber }

// RevisionRootTreeRoot returns the reference to the root indirect page of
// the tree whose leaves are per-revision RevisionRootPages.
func (u *UberPage) RevisionRootTreeRoot() *PageReference { return u.revisionRootRef }

// LatestRevision returns the most recently committed revision number, or
// -1 if the resource has never been committed.
func (u *UberPage) LatestRevision() int32 { return u.latestRevision }

// SetLatestRevision records that revision has just been committed.
func (u *UberPage) SetLatestRevision(revision int32) { u.latestRevision = revision }

// PageCountExponents returns the per-level fanout exponent array for
// subtree t (spec.md §4.4: "uber page exposes
// page_count_exponents(index_type) -> [u8]"), falling back to
// DefaultFanoutExponents if t was never registered.
func (u *UberPage) PageCountExponents(t IndexType) []uint8 {
	if exps, ok := u.pageCountExponents[t]; ok {
		return exps
	}
	return DefaultFanoutExponents
}

// Serialize writes the uber page to dst. See RevisionRootPage.Serialize
// for the framing rationale.
func (u *UberPage) Serialize(dst []byte) []byte {
	key := NullID
	if u.revisionRootRef != nil {
		key = u.revisionRootRef.PageKey()
	}
	dst = binary.BigEndian.AppendUint64(dst, key)
	dst = binary.BigEndian.AppendUint32(dst, uint32(u.latestRevision))

	dst = binary.BigEndian.AppendUint32(dst, uint32(len(u.pageCountExponents)))
	for _, t := range sortedPageCountExponentKeys(u.pageCountExponents) {
		exps := u.pageCountExponents[t]
		dst = append(dst, t.ID())
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(exps)))
		dst = append(dst, exps...)
	}
	return dst
}

// DeserializeUberPage reads a page previously written by Serialize.
func DeserializeUberPage(src []byte) (*UberPage, int, error) {
	off := 0
	key, n, err := readUint64BE(src[off:])
	if err != nil {
		return nil, 0, fmt.Errorf("sirix: %w: uber page revision root key: %v", ErrCorruptPage, err)
	}
	off += n
	latest, n, err := readInt32BE(src[off:])
	if err != nil {
		return nil, 0, fmt.Errorf("sirix: %w: uber page latest revision: %v", ErrCorruptPage, err)
	}
	off += n
	count, n, err := readInt32BE(src[off:])
	if err != nil {
		return nil, 0, fmt.Errorf("sirix: %w: uber page exponent count: %v", ErrCorruptPage, err)
	}
	off += n

	exps := make(map[IndexType][]uint8, count)
	for i := int32(0); i < count; i++ {
		if off >= len(src) {
			return nil, 0, fmt.Errorf("sirix: %w: truncated exponent list", ErrCorruptPage)
		}
		t, err := IndexTypeByID(src[off])
		if err != nil {
			return nil, 0, err
		}
		off++
		length, n, err := readInt32BE(src[off:])
		if err != nil {
			return nil, 0, fmt.Errorf("sirix: %w: exponent array length: %v", ErrCorruptPage, err)
		}
		off += n
		if length < 0 || off+int(length) > len(src) {
			return nil, 0, fmt.Errorf("sirix: %w: truncated exponent array", ErrCorruptPage)
		}
		arr := make([]uint8, length)
		copy(arr, src[off:off+int(length)])
		off += int(length)
		exps[t] = arr
	}

	ref := NewPageReference()
	if key != NullID {
		ref.SetPageKey(key)
	}
	return &UberPage{
		revisionRootRef:    ref,
		latestRevision:     latest,
		pageCountExponents: exps,
	}, off, nil
}

func sortedPageCountExponentKeys(m map[IndexType][]uint8) []IndexType {
	types := make([]IndexType, 0, len(m))
	for t := range m {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
