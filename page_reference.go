package sirix

// PageKind tags the closed family of page variants this package knows how
// to read and write (spec.md §9 "Polymorphism across page variants": "model
// as a tagged variant with a common header rather than dynamic dispatch").
// Go has no sum type, so the tag lives on Page and on PageReference instead;
// every concrete page type below implements Page and reports its own Kind.
type PageKind uint8

const (
	PageKindUber PageKind = iota
	PageKindRevisionRoot
	PageKindIndirect
	PageKindKeyValue
	PageKindOverflow
	PageKindName
)

func (k PageKind) String() string {
	switch k {
	case PageKindUber:
		return "Uber"
	case PageKindRevisionRoot:
		return "RevisionRoot"
	case PageKindIndirect:
		return "Indirect"
	case PageKindKeyValue:
		return "KeyValue"
	case PageKindOverflow:
		return "Overflow"
	case PageKindName:
		return "Name"
	default:
		return "Unknown"
	}
}

// Page is implemented by every on-disk page variant (spec.md §3 Entities:
// UberPage, RevisionRootPage, IndirectPage, KeyValuePage, OverflowPage, plus
// NamePage from SPEC_FULL.md's supplemented features).
type Page interface {
	Kind() PageKind
}

// PageReference is a slot carrying either a persisted file key, a
// transaction-log key, an in-memory page, or nothing, decorated with the
// IndexType it routes into (spec.md §3 Entities: PageReference). Exactly
// one of PageKey/LogKey/Page is authoritative at a time:
//
//   - freshly created, unwritten reference: all three empty (IsNull).
//   - a page materialized by a write transaction but not yet committed to
//     the file: Page set, PageKey == NullID.
//   - a page staged in the transaction log but not the file: LogKey set.
//   - a page committed to the file and evicted from memory: PageKey set,
//     Page == nil.
//
// The reference never holds a strong pointer back to its owning page; page
// graphs form an arena addressed by these opaque keys, not Go pointers that
// would make the graph cyclic (spec.md §9 "Cyclic references").
type PageReference struct {
	pageKey   uint64
	logKey    uint64
	page      Page
	indexType IndexType
}

// NewPageReference returns an empty (null) reference.
func NewPageReference() *PageReference {
	return &PageReference{pageKey: NullID, logKey: NullID}
}

// PageKey returns the persisted file key, or NullID if unknown.
func (r *PageReference) PageKey() uint64 { return r.pageKey }

// SetPageKey assigns the persisted file key.
func (r *PageReference) SetPageKey(key uint64) { r.pageKey = key }

// LogKey returns the transaction-log key, or NullID if not logged.
func (r *PageReference) LogKey() uint64 { return r.logKey }

// SetLogKey assigns the transaction-log key.
func (r *PageReference) SetLogKey(key uint64) { r.logKey = key }

// Page returns the in-memory page, or nil if not resident.
func (r *PageReference) Page() Page { return r.page }

// SetPage assigns the in-memory page.
func (r *PageReference) SetPage(p Page) { r.page = p }

// IndexType returns the subtree this reference routes into.
func (r *PageReference) IndexType() IndexType { return r.indexType }

// SetIndexType tags the reference with the subtree it was resolved
// through. Set by the descent algorithm (dereferenceLeaf), not by whoever
// constructs the reference.
func (r *PageReference) SetIndexType(t IndexType) { r.indexType = t }

// IsNull reports whether none of the three variants are authoritative:
// no in-memory page, no persisted key, no log key.
func (r *PageReference) IsNull() bool {
	return r.page == nil && r.pageKey == NullID && r.logKey == NullID
}
