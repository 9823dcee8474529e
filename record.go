package sirix

// Record is the opaque per-node payload stored in a KeyValuePage (spec.md
// §3 "Entities: Record"). Concrete record kinds live outside this package
// (index controllers, the JSONiq node types); this package only needs the
// capabilities below to place a record in the right slot, order it, and
// detect deletion markers.
type Record interface {
	// NodeKey returns the record's unique identifier within its revision.
	NodeKey() uint64

	// DeweyID returns the record's hierarchical order key, or nil if the
	// resource does not assign dewey ids or this record predates them.
	DeweyID() []byte

	// Deleted reports whether this record is a tombstone. A tombstone is
	// never returned by PageReadTxn.GetRecord; it exists only to shadow
	// an older revision's value for the same key during combine.
	Deleted() bool
}

// RecordSerializer turns Records into bytes and back. It is the Go
// counterpart of RecordSerializer in the Java original: an ordinary
// capability, not a base class, so a KeyValuePage detects extra
// capabilities (dewey support) with a type assertion rather than
// inheritance (SPEC_FULL.md / spec.md §9 "Persister polymorphism").
type RecordSerializer interface {
	// Serialize appends record's encoded form to dst and returns the
	// extended slice.
	Serialize(dst []byte, record Record) ([]byte, error)

	// Deserialize decodes a record previously written by Serialize.
	// deweyID is the record's order key when known from the page's
	// dewey-indexed section, or nil otherwise.
	Deserialize(data []byte, nodeKey uint64, deweyID []byte) (Record, error)
}

// NodePersistenter is the capability subset a RecordSerializer optionally
// implements to support dewey-id delta compression (spec.md §4.3 step 2).
// Detected with a type assertion against RecordSerializer, never via a
// dedicated constructor argument.
type NodePersistenter interface {
	RecordSerializer

	// SerializeDeweyID writes curr to dst, delta-compressed against prev
	// (nil for the first id in a sorted run).
	SerializeDeweyID(dst []byte, prev, curr []byte) []byte

	// DeserializeDeweyID reads a dewey id previously written by
	// SerializeDeweyID, given the previously decoded id as the delta
	// base (nil for the first id in a run). It returns the decoded id
	// and the number of bytes consumed from src.
	DeserializeDeweyID(src []byte, prev []byte) ([]byte, int, error)
}
