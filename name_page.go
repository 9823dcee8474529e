package sirix

import (
	"fmt"
	"sort"

	"github.com/sirix-go/sirix/internal/varint"
)

// NameKind partitions the name table the way distinct node kinds (element,
// attribute, namespace, ...) keep separate name pools in the original
// source this storage core was distilled from. The concrete kind
// taxonomy belongs to the index-controller layer, out of this package's
// scope (spec.md §1); NameKind is left as an opaque small integer here.
type NameKind int32

// NamePage interns strings once per revision and hands back small integer
// keys, the SUPPLEMENT backing PageReadTxn.Name/RawName/NameCount
// (SPEC_FULL.md "SUPPLEMENTED FEATURES": "A dedicated NamePage lookup
// path ... because names are interned once per revision rather than
// stored as ordinary records").
type NamePage struct {
	names  map[NameKind]map[int32]string
	counts map[NameKind]int32
}

// NewNamePage returns an empty name table.
func NewNamePage() *NamePage {
	return &NamePage{
		names:  make(map[NameKind]map[int32]string),
		counts: make(map[NameKind]int32),
	}
}

// Kind implements Page.
func (p *NamePage) Kind() PageKind { return PageKindName }

// Intern assigns a fresh nameKey for name under kind, or returns the
// existing one if name was already interned under that kind.
func (p *NamePage) Intern(kind NameKind, name string) int32 {
	bucket, ok := p.names[kind]
	if !ok {
		bucket = make(map[int32]string)
		p.names[kind] = bucket
	}
	for key, existing := range bucket {
		if existing == name {
			return key
		}
	}
	key := p.counts[kind]
	bucket[key] = name
	p.counts[kind] = key + 1
	return key
}

// Name returns the interned string for nameKey under kind.
func (p *NamePage) Name(kind NameKind, nameKey int32) (string, bool) {
	bucket, ok := p.names[kind]
	if !ok {
		return "", false
	}
	name, ok := bucket[nameKey]
	return name, ok
}

// RawName returns the interned string for nameKey under kind as bytes.
func (p *NamePage) RawName(kind NameKind, nameKey int32) ([]byte, bool) {
	name, ok := p.Name(kind, nameKey)
	if !ok {
		return nil, false
	}
	return []byte(name), true
}

// NameCount returns how many distinct names are interned under kind.
func (p *NamePage) NameCount(kind NameKind) int32 {
	return p.counts[kind]
}

// Serialize writes the name table to dst. Kind tags, per-kind name counts,
// and name keys are varint-encoded (internal/varint, the same LEB128 codec
// kv_page.go uses for NodeKey/RecordPageKey) since none of them need
// fixed-width random access here.
func (p *NamePage) Serialize(dst []byte) []byte {
	kinds := make([]NameKind, 0, len(p.names))
	for k := range p.names {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	dst = varint.PutUvarint(dst, uint64(len(kinds)))
	for _, kind := range kinds {
		bucket := p.names[kind]
		keys := make([]int32, 0, len(bucket))
		for k := range bucket {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		dst = varint.PutUvarint(dst, uint64(uint32(kind)))
		dst = varint.PutUvarint(dst, uint64(len(keys)))
		for _, key := range keys {
			dst = varint.PutUvarint(dst, uint64(uint32(key)))
			dst = appendString(dst, bucket[key])
		}
	}
	return dst
}

// DeserializeNamePage reads a page previously written by Serialize.
func DeserializeNamePage(src []byte) (*NamePage, int, error) {
	off := 0
	kindCountU, n, err := varint.ReadUvarintBytes(src[off:])
	if err != nil {
		return nil, 0, fmt.Errorf("sirix: %w: name page kind count: %v", ErrCorruptPage, err)
	}
	off += n
	kindCount := int32(kindCountU)

	p := NewNamePage()
	for i := int32(0); i < kindCount; i++ {
		kindRaw, n, err := varint.ReadUvarintBytes(src[off:])
		if err != nil {
			return nil, 0, fmt.Errorf("sirix: %w: name page kind tag: %v", ErrCorruptPage, err)
		}
		off += n
		kind := NameKind(int32(uint32(kindRaw)))

		nameCountU, n, err := varint.ReadUvarintBytes(src[off:])
		if err != nil {
			return nil, 0, fmt.Errorf("sirix: %w: name page name count: %v", ErrCorruptPage, err)
		}
		off += n
		nameCount := int32(nameCountU)

		bucket := make(map[int32]string, nameCount)
		var maxKey int32 = -1
		for j := int32(0); j < nameCount; j++ {
			keyRawU, n, err := varint.ReadUvarintBytes(src[off:])
			if err != nil {
				return nil, 0, fmt.Errorf("sirix: %w: name key: %v", ErrCorruptPage, err)
			}
			keyRaw := int32(uint32(keyRawU))
			off += n
			name, n, err := readString(src[off:])
			if err != nil {
				return nil, 0, fmt.Errorf("sirix: %w: interned name: %v", ErrCorruptPage, err)
			}
			off += n
			bucket[keyRaw] = name
			if keyRaw > maxKey {
				maxKey = keyRaw
			}
		}
		p.names[kind] = bucket
		p.counts[kind] = maxKey + 1
	}
	return p, off, nil
}
