package sirix

// Package-wide constants mirroring the on-disk layout described in
// SPEC_FULL.md §6. These values are part of the wire format: changing them
// changes every byte on disk.
const (
	// NDPNodeCountExponent is the number of low bits of a NodeKey that
	// address a slot inside a single record page.
	NDPNodeCountExponent = 9

	// NDPNodeCount is the number of record slots covered by one
	// RecordPageKey: 1 << NDPNodeCountExponent.
	NDPNodeCount = 1 << NDPNodeCountExponent

	// NullID marks an absent page/log reference on disk and in memory.
	NullID uint64 = ^uint64(0)

	// DefaultPageSize is the nominal page size used to derive
	// MaxRecordSize when a resource does not override it.
	DefaultPageSize = 1 << 20 // 1 MiB

	// PageHeaderReserve is subtracted from the page size to compute
	// MaxRecordSize, leaving room for the leaf page's own fixed header
	// fields (record page key, revision, bitsets, counts).
	PageHeaderReserve = 64

	// MaxRecordSize is the largest serialized record payload that is
	// stored inline in a KeyValuePage's slots map; anything larger is
	// wrapped in an OverflowPage. See spec.md §4.3 and §6.
	MaxRecordSize = DefaultPageSize - PageHeaderReserve
)

// DefaultFanoutExponents is the typical per-level indirect-page fanout
// exponent array referenced in spec.md §6: four levels of 1<<7 = 128-way
// fanout, addressing up to 2^28 record pages per subtree.
var DefaultFanoutExponents = []uint8{7, 7, 7, 7}

// RecordPageKeyOf derives the RecordPageKey that a NodeKey falls into.
func RecordPageKeyOf(nodeKey uint64) uint64 {
	return nodeKey >> NDPNodeCountExponent
}

// PageOffsetOf derives the offset of a NodeKey within its record page.
func PageOffsetOf(nodeKey uint64) uint32 {
	return uint32(nodeKey & (NDPNodeCount - 1))
}

// FirstNodeKeyOf reconstructs the NodeKey addressed by a given
// RecordPageKey and in-page offset, the inverse of RecordPageKeyOf/
// PageOffsetOf.
func FirstNodeKeyOf(recordPageKey uint64, offset uint32) uint64 {
	return recordPageKey*NDPNodeCount + uint64(offset)
}
