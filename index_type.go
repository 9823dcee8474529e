package sirix

import "fmt"

// IndexType names one of the parallel indirect tries carried by a revision
// root (spec.md §3, GLOSSARY "Subtree / IndexType").
type IndexType uint8

const (
	IndexDocument IndexType = iota
	IndexChangedNodes
	IndexRecordToRevisions
	IndexPathSummary
	IndexCAS
	IndexPath
	IndexName
)

var indexTypeNames = [...]string{
	IndexDocument:          "DOCUMENT",
	IndexChangedNodes:      "CHANGED_NODES",
	IndexRecordToRevisions: "RECORD_TO_REVISIONS",
	IndexPathSummary:       "PATH_SUMMARY",
	IndexCAS:               "CAS",
	IndexPath:              "PATH",
	IndexName:              "NAME",
}

// String implements fmt.Stringer.
func (t IndexType) String() string {
	if int(t) < len(indexTypeNames) {
		return indexTypeNames[t]
	}
	return fmt.Sprintf("IndexType(%d)", uint8(t))
}

// ID returns the single-byte on-disk tag for this index type, written as
// the last field of a serialized KeyValuePage (spec.md §4.3 step 7).
func (t IndexType) ID() byte { return byte(t) }

// IndexTypeByID resolves the on-disk tag back to an IndexType.
func IndexTypeByID(id byte) (IndexType, error) {
	if int(id) >= len(indexTypeNames) {
		return 0, fmt.Errorf("sirix: %w: unknown index type id %d", ErrCorruptPage, id)
	}
	return IndexType(id), nil
}
