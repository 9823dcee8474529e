package sirix

import (
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/sirix-go/sirix/internal/varint"
)

// RevisionMetadata carries the per-revision commit metadata a
// RevisionRootPage records alongside its subtree roots (spec.md §3
// Entities: RevisionRootPage, "plus metadata (timestamp, author, commit
// message)").
type RevisionMetadata struct {
	Timestamp     time.Time
	Author        string
	CommitMessage string
}

// RevisionRootPage is the entry point for one committed revision's
// subtrees: RECORD, PATH_SUMMARY, CAS, NAME, and whichever other indexes
// the resource has active (spec.md §3 Entities: RevisionRootPage; GLOSSARY
// "Revision root").
type RevisionRootPage struct {
	revision     int32
	subtreeRoots map[IndexType]*PageReference
	metadata     RevisionMetadata
}

// NewRevisionRootPage returns a fresh root for revision with no subtree
// roots materialized yet; they are created lazily by SubtreeRoot.
func NewRevisionRootPage(revision int32, metadata RevisionMetadata) *RevisionRootPage {
	return &RevisionRootPage{
		revision:     revision,
		subtreeRoots: make(map[IndexType]*PageReference),
		metadata:     metadata,
	}
}

// Kind implements Page.
func (r *RevisionRootPage) Kind() PageKind { return PageKindRevisionRoot }

// Revision returns the revision number this root belongs to.
func (r *RevisionRootPage) Revision() int32 { return r.revision }

// Metadata returns the commit metadata recorded for this revision.
func (r *RevisionRootPage) Metadata() RevisionMetadata { return r.metadata }

// SubtreeRoot returns the indirect-tree root reference for subtree t,
// creating an empty one on first access (SPEC_FULL.md "SUPPLEMENTED
// FEATURES": lazy per-subtree tree creation, grounded on
// PageReadTrxImpl.createNodeTree/createPathSummaryTree/createValueTree).
// Every subtree, RECORD (IndexDocument) included, is created this way on
// first access. RECORD is always active (ResourceConfig.IsActive); callers
// should check IsActive before relying on any other subtree being
// meaningfully populated.
func (r *RevisionRootPage) SubtreeRoot(t IndexType) *PageReference {
	if ref, ok := r.subtreeRoots[t]; ok {
		return ref
	}
	ref := NewPageReference()
	r.subtreeRoots[t] = ref
	return ref
}

// HasSubtreeRoot reports whether t's root has been materialized, without
// triggering the lazy creation SubtreeRoot performs.
func (r *RevisionRootPage) HasSubtreeRoot(t IndexType) bool {
	_, ok := r.subtreeRoots[t]
	return ok
}

// Serialize writes the revision root's metadata and subtree roots to dst.
// This on-disk layout is this package's own (spec.md §6 specifies
// KeyValuePage/OverflowPage/IndirectPage precisely but leaves
// RevisionRootPage/UberPage framing to the implementation).
func (r *RevisionRootPage) Serialize(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(r.revision))
	dst = binary.BigEndian.AppendUint64(dst, uint64(r.metadata.Timestamp.UnixNano()))
	dst = appendString(dst, r.metadata.Author)
	dst = appendString(dst, r.metadata.CommitMessage)

	dst = binary.BigEndian.AppendUint32(dst, uint32(len(r.subtreeRoots)))
	for _, t := range sortedIndexTypes(r.subtreeRoots) {
		ref := r.subtreeRoots[t]
		dst = append(dst, t.ID())
		key := NullID
		if ref != nil {
			key = ref.PageKey()
		}
		dst = binary.BigEndian.AppendUint64(dst, key)
	}
	return dst
}

// DeserializeRevisionRootPage reads a root previously written by
// Serialize, returning it and the number of bytes consumed.
func DeserializeRevisionRootPage(src []byte) (*RevisionRootPage, int, error) {
	off := 0
	revision, n, err := readInt32BE(src[off:])
	if err != nil {
		return nil, 0, fmt.Errorf("sirix: %w: revision root revision: %v", ErrCorruptPage, err)
	}
	off += n

	tsRaw, n, err := readUint64BE(src[off:])
	if err != nil {
		return nil, 0, fmt.Errorf("sirix: %w: revision root timestamp: %v", ErrCorruptPage, err)
	}
	off += n

	author, n, err := readString(src[off:])
	if err != nil {
		return nil, 0, fmt.Errorf("sirix: %w: revision root author: %v", ErrCorruptPage, err)
	}
	off += n

	message, n, err := readString(src[off:])
	if err != nil {
		return nil, 0, fmt.Errorf("sirix: %w: revision root commit message: %v", ErrCorruptPage, err)
	}
	off += n

	count, n, err := readInt32BE(src[off:])
	if err != nil {
		return nil, 0, fmt.Errorf("sirix: %w: revision root subtree count: %v", ErrCorruptPage, err)
	}
	off += n

	r := &RevisionRootPage{
		revision:     revision,
		subtreeRoots: make(map[IndexType]*PageReference, count),
		metadata: RevisionMetadata{
			Timestamp:     time.Unix(0, int64(tsRaw)),
			Author:        author,
			CommitMessage: message,
		},
	}
	for i := int32(0); i < count; i++ {
		if off >= len(src) {
			return nil, 0, fmt.Errorf("sirix: %w: truncated subtree root list", ErrCorruptPage)
		}
		t, err := IndexTypeByID(src[off])
		if err != nil {
			return nil, 0, err
		}
		off++
		key, n, err := readUint64BE(src[off:])
		if err != nil {
			return nil, 0, fmt.Errorf("sirix: %w: subtree root page key: %v", ErrCorruptPage, err)
		}
		off += n
		ref := NewPageReference()
		if key != NullID {
			ref.SetPageKey(key)
		}
		r.subtreeRoots[t] = ref
	}
	return r, off, nil
}

func appendString(dst []byte, s string) []byte {
	dst = varint.PutUvarint(dst, uint64(len(s)))
	return append(dst, s...)
}

func readString(src []byte) (string, int, error) {
	length, n, err := varint.ReadUvarintBytes(src)
	if err != nil {
		return "", 0, err
	}
	off := n
	if off+int(length) > len(src) {
		return "", 0, fmt.Errorf("truncated string, want %d bytes", length)
	}
	s := string(src[off : off+int(length)])
	off += int(length)
	return s, off, nil
}

func sortedIndexTypes(m map[IndexType]*PageReference) []IndexType {
	types := make([]IndexType, 0, len(m))
	for t := range m {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
