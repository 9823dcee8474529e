package sirix

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/sirix-go/sirix/internal/bitset"
	"github.com/sirix-go/sirix/internal/buffer"
	"github.com/sirix-go/sirix/internal/varint"
)

// leafReader is the capability a KeyValuePage needs from its owning
// transaction to resolve an overflow reference into bytes (spec.md §4.3
// "get": "read the OverflowPage via the transaction"). Kept narrow rather
// than depending on the whole PageReadTxn type, per spec.md §1's reduction
// of byte-level I/O to a PageReader capability.
type leafReader interface {
	readOverflow(ref *PageReference) (*OverflowPage, error)
}

// leafContext is the slice of a PageReadTxn a KeyValuePage is constructed
// or deserialized against: the revision it belongs to, the configured
// RecordSerializer, the resource's settings, and the overflow-reading
// capability above. *PageReadTxn implements this.
type leafContext interface {
	leafReader
	Revision() int32
	Persister() RecordSerializer
	ResourceConfig() *ResourceConfig
}

// RecordEntry pairs a NodeKey with its materialized Record, returned by
// KeyValuePage.Entries.
type RecordEntry struct {
	NodeKey uint64
	Record  Record
}

// KeyValuePage is the leaf of the revisioned record trie: the aggregate
// holding up to NDPNodeCount records for one contiguous key range
// (spec.md §3 Entities: KeyValuePage; §4.3, the central component).
type KeyValuePage struct {
	recordPageKey uint64
	revision      int32
	indexType     IndexType

	records      map[uint64]Record
	slots        map[uint64][]byte
	overflowRefs map[uint64]*PageReference
	deweyIndex   map[string]uint64

	addedReferences bool // inverse of the "dirty" flag in spec.md §3
	cachedBytes     []byte
	contentHash     []byte

	persister     RecordSerializer
	storeDeweyIDs bool
	maxRecordSize int
	reader        leafReader
}

// NewKeyValuePage returns a fresh, empty leaf for recordPageKey in subtree
// indexType, bound to ctx for its revision, persister, and resource
// settings (spec.md §4.3 "new(record_page_key, index_type, txn)").
func NewKeyValuePage(recordPageKey uint64, indexType IndexType, ctx leafContext) *KeyValuePage {
	cfg := ctx.ResourceConfig()
	return &KeyValuePage{
		recordPageKey: recordPageKey,
		revision:      ctx.Revision(),
		indexType:     indexType,
		records:       make(map[uint64]Record, NDPNodeCount),
		slots:         make(map[uint64][]byte, NDPNodeCount),
		overflowRefs:  make(map[uint64]*PageReference),
		deweyIndex:    make(map[string]uint64),
		persister:     ctx.Persister(),
		storeDeweyIDs: cfg.StoreDeweyIDs,
		maxRecordSize: cfg.MaxRecordSize(),
		reader:        ctx,
	}
}

// RecordPageKey returns the key range this leaf covers.
func (p *KeyValuePage) RecordPageKey() uint64 { return p.recordPageKey }

// Revision returns the revision this leaf was created in.
func (p *KeyValuePage) Revision() int32 { return p.revision }

// IndexType returns the subtree this leaf belongs to.
func (p *KeyValuePage) IndexType() IndexType { return p.indexType }

// Kind implements Page.
func (p *KeyValuePage) Kind() PageKind { return PageKindKeyValue }

// Dirty reports whether records have been put since the last successful
// addReferences pass (spec.md §3 "dirty flag (added_references inverted)").
func (p *KeyValuePage) Dirty() bool { return !p.addedReferences }

// ContentHash returns the FNV-64a hash of the page's last serialized form,
// a side effect of Serialize. Nothing downstream in this package consumes
// it.
// TODO: the source this was ported from computes an equivalent hash and
// then discards it; it is not clear whether any caller was ever meant to
// read it back, so it is kept but unused here too.
func (p *KeyValuePage) ContentHash() []byte { return p.contentHash }

// ClearCachedBytes frees the last serialized form, forcing the next
// Serialize call to recompute it (spec.md §9 "Cached serialized form").
func (p *KeyValuePage) ClearCachedBytes() {
	p.cachedBytes = nil
}

// Get returns the record stored under key, resolving an overflow reference
// through the bound reader on first access and memoizing the result
// (spec.md §4.3 "get").
func (p *KeyValuePage) Get(key uint64) (Record, error) {
	if rec, ok := p.records[key]; ok {
		return rec, nil
	}
	ref, ok := p.overflowRefs[key]
	if !ok || ref == nil {
		return nil, nil
	}
	if p.reader == nil {
		return nil, fmt.Errorf("sirix: %w: key-value page has no bound reader for overflow key %d", ErrIllegalState, key)
	}
	overflow, err := p.reader.readOverflow(ref)
	if err != nil {
		return nil, err
	}
	rec, err := p.persister.Deserialize(overflow.Data(), key, nil)
	if err != nil {
		return nil, fmt.Errorf("sirix: %w: %v", ErrRecordDecode, err)
	}
	p.records[key] = rec
	return rec, nil
}

// Put inserts or replaces the record under key, invalidating the cached
// serialized form so the next Serialize recomputes slot/overflow placement.
// When record carries a dewey id, key is indexed under it so Serialize can
// walk records in dewey order (spec.md §4.3 step 2; §3 Entities
// "dewey_index... populated when the resource stores dewey ids").
func (p *KeyValuePage) Put(key uint64, record Record) {
	if old, ok := p.records[key]; ok {
		if oldID := old.DeweyID(); oldID != nil {
			delete(p.deweyIndex, string(oldID))
		}
	}
	p.records[key] = record
	delete(p.slots, key)
	delete(p.overflowRefs, key)
	if id := record.DeweyID(); id != nil {
		p.deweyIndex[string(id)] = key
	}
	p.addedReferences = false
	p.cachedBytes = nil
	p.contentHash = nil
}

// Entries returns every record on the page, in ascending NodeKey order,
// resolving any overflow-backed record not yet fetched by a prior Get so
// callers that walk the full page (the page-combining algorithm in
// revisioning.go) see the same records Get would return one at a time.
func (p *KeyValuePage) Entries() ([]RecordEntry, error) {
	for key := range p.overflowRefs {
		if _, ok := p.records[key]; ok {
			continue
		}
		if _, err := p.Get(key); err != nil {
			return nil, err
		}
	}

	out := make([]RecordEntry, 0, len(p.records))
	for k, r := range p.records {
		out = append(out, RecordEntry{NodeKey: k, Record: r})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeKey < out[j].NodeKey })
	return out, nil
}

// addReferences classifies every record not yet in slots or overflowRefs,
// computed at most once per dirty cycle (spec.md §4.3 "Inline vs overflow
// policy").
func (p *KeyValuePage) addReferences() error {
	if p.addedReferences {
		return nil
	}
	if err := p.processEntries(); err != nil {
		return err
	}
	p.addedReferences = true
	return nil
}

func (p *KeyValuePage) processEntries() error {
	scratch := buffer.Acquire()
	defer buffer.Release(scratch)
	for _, rec := range p.records {
		key := rec.NodeKey()
		if _, ok := p.slots[key]; ok {
			continue
		}
		if _, ok := p.overflowRefs[key]; ok {
			continue
		}
		scratch.Reset()
		encoded, err := p.persister.Serialize(scratch.Bytes(), rec)
		if err != nil {
			return fmt.Errorf("sirix: %w: %v", ErrRecordDecode, err)
		}
		data := make([]byte, len(encoded))
		copy(data, encoded)
		if len(data) > p.maxRecordSize {
			ref := NewPageReference()
			ref.SetPage(NewOverflowPage(data))
			p.overflowRefs[key] = ref
		} else {
			p.slots[key] = data
		}
	}
	return nil
}

// Serialize writes the leaf's on-disk form to dst and returns the extended
// slice, following the wire layout in SPEC_FULL.md §6. The page's own
// bytes are cached so repeated calls without an intervening mutation reuse
// the prior encoding (spec.md §9 "Cached serialized form").
func (p *KeyValuePage) Serialize(dst []byte) ([]byte, error) {
	if p.cachedBytes != nil {
		return append(dst, p.cachedBytes...), nil
	}
	// A prior Serialize moved dewey-indexed slots out of p.slots;
	// processEntries re-encodes any record now in neither map so a
	// recomputed form matches the one it replaces.
	if err := p.processEntries(); err != nil {
		return nil, err
	}
	p.addedReferences = true

	var buf []byte
	buf = varint.PutUvarint(buf, p.recordPageKey)
	buf = binary.BigEndian.AppendUint32(buf, uint32(p.revision))

	deweyPersister, deweyCapable := p.persister.(NodePersistenter)
	writeDewey := p.storeDeweyIDs && deweyCapable
	if writeDewey {
		ids := make([][]byte, 0, len(p.deweyIndex))
		for id := range p.deweyIndex {
			ids = append(ids, []byte(id))
		}
		sort.Slice(ids, func(i, j int) bool {
			if len(ids[i]) != len(ids[j]) {
				return len(ids[i]) < len(ids[j])
			}
			return bytes.Compare(ids[i], ids[j]) < 0
		})
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(ids)))
		var prev []byte
		for _, id := range ids {
			buf = deweyPersister.SerializeDeweyID(buf, prev, id)
			nodeKey := p.deweyIndex[string(id)]
			buf = varint.PutUvarint(buf, nodeKey)
			data := p.slots[nodeKey]
			buf = binary.BigEndian.AppendUint32(buf, uint32(len(data)))
			buf = append(buf, data...)
			delete(p.slots, nodeKey)
			prev = id
		}
	}

	slotKeys := sortedUint64Keys(p.slots)
	overflowKeys := sortedUint64Keys(p.overflowRefs)

	slotBits := bitset.New(NDPNodeCount)
	for _, k := range slotKeys {
		slotBits.SetBit(int(PageOffsetOf(k)))
	}
	overflowBits := bitset.New(NDPNodeCount)
	for _, k := range overflowKeys {
		overflowBits.SetBit(int(PageOffsetOf(k)))
	}
	buf = slotBits.Serialize(buf)
	buf = overflowBits.Serialize(buf)

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(slotKeys)))
	for _, k := range slotKeys {
		data := p.slots[k]
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(data)))
		buf = append(buf, data...)
	}

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(overflowKeys)))
	for _, k := range overflowKeys {
		buf = binary.BigEndian.AppendUint64(buf, p.overflowRefs[k].PageKey())
	}

	buf = append(buf, p.indexType.ID())

	hasher := fnv.New64a()
	hasher.Write(buf)
	p.contentHash = hasher.Sum(nil)
	p.cachedBytes = buf
	return append(dst, buf...), nil
}

// DeserializeKeyValuePage reads a leaf previously written by Serialize,
// returning the page and the number of bytes of src consumed.
func DeserializeKeyValuePage(src []byte, ctx leafContext) (*KeyValuePage, int, error) {
	cfg := ctx.ResourceConfig()
	persister := ctx.Persister()

	off := 0
	recordPageKey, n, err := varint.ReadUvarintBytes(src[off:])
	if err != nil {
		return nil, 0, fmt.Errorf("sirix: %w: record page key: %v", ErrCorruptPage, err)
	}
	off += n

	revision, n, err := readInt32BE(src[off:])
	if err != nil {
		return nil, 0, fmt.Errorf("sirix: %w: revision: %v", ErrCorruptPage, err)
	}
	off += n

	p := &KeyValuePage{
		recordPageKey: recordPageKey,
		revision:      revision,
		records:       make(map[uint64]Record, NDPNodeCount),
		slots:         make(map[uint64][]byte, NDPNodeCount),
		overflowRefs:  make(map[uint64]*PageReference),
		deweyIndex:    make(map[string]uint64),
		persister:     persister,
		storeDeweyIDs: cfg.StoreDeweyIDs,
		maxRecordSize: cfg.MaxRecordSize(),
		reader:        ctx,
		addedReferences: true,
	}

	deweyPersister, deweyCapable := persister.(NodePersistenter)
	readDewey := cfg.StoreDeweyIDs && deweyCapable
	if readDewey {
		deweyCount, n, err := readInt32BE(src[off:])
		if err != nil {
			return nil, 0, fmt.Errorf("sirix: %w: dewey count: %v", ErrCorruptPage, err)
		}
		off += n

		var prev []byte
		for i := int32(0); i < deweyCount; i++ {
			id, n, err := deweyPersister.DeserializeDeweyID(src[off:], prev)
			if err != nil {
				return nil, 0, fmt.Errorf("sirix: %w: dewey id %d: %v", ErrCorruptPage, i, err)
			}
			off += n

			nodeKey, n, err := varint.ReadUvarintBytes(src[off:])
			if err != nil {
				return nil, 0, fmt.Errorf("sirix: %w: dewey record key %d: %v", ErrCorruptPage, i, err)
			}
			off += n

			slotLen, n, err := readInt32BE(src[off:])
			if err != nil {
				return nil, 0, fmt.Errorf("sirix: %w: dewey slot length %d: %v", ErrCorruptPage, i, err)
			}
			off += n
			if slotLen < 0 || off+int(slotLen) > len(src) {
				return nil, 0, fmt.Errorf("sirix: %w: dewey slot %d truncated", ErrCorruptPage, i)
			}
			data := src[off : off+int(slotLen)]
			off += int(slotLen)

			rec, err := persister.Deserialize(data, nodeKey, id)
			if err != nil {
				return nil, 0, fmt.Errorf("sirix: %w: %v", ErrRecordDecode, err)
			}
			p.records[nodeKey] = rec
			p.deweyIndex[string(id)] = nodeKey
			prev = id
		}
	}

	slotBits, n, err := bitset.Deserialize(src[off:], NDPNodeCount)
	if err != nil {
		return nil, 0, fmt.Errorf("sirix: %w: slot bits: %v", ErrCorruptPage, err)
	}
	off += n
	overflowBits, n, err := bitset.Deserialize(src[off:], NDPNodeCount)
	if err != nil {
		return nil, 0, fmt.Errorf("sirix: %w: overflow bits: %v", ErrCorruptPage, err)
	}
	off += n

	slotEntriesCount, n, err := readInt32BE(src[off:])
	if err != nil {
		return nil, 0, fmt.Errorf("sirix: %w: slot entries count: %v", ErrCorruptPage, err)
	}
	off += n
	slotPositions := collectSetBits(slotBits, NDPNodeCount)
	if len(slotPositions) != int(slotEntriesCount) {
		return nil, 0, fmt.Errorf("sirix: %w: slot_bits has %d set bits but slot_entries_count is %d", ErrCorruptPage, len(slotPositions), slotEntriesCount)
	}
	for _, pos := range slotPositions {
		length, n, err := readInt32BE(src[off:])
		if err != nil {
			return nil, 0, fmt.Errorf("sirix: %w: slot length: %v", ErrCorruptPage, err)
		}
		off += n
		if length < 0 || off+int(length) > len(src) {
			return nil, 0, fmt.Errorf("sirix: %w: slot data truncated", ErrCorruptPage)
		}
		data := src[off : off+int(length)]
		off += int(length)

		nodeKey := FirstNodeKeyOf(recordPageKey, uint32(pos))
		rec, err := persister.Deserialize(data, nodeKey, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("sirix: %w: %v", ErrRecordDecode, err)
		}
		p.records[nodeKey] = rec
	}

	overflowEntriesCount, n, err := readInt32BE(src[off:])
	if err != nil {
		return nil, 0, fmt.Errorf("sirix: %w: overflow entries count: %v", ErrCorruptPage, err)
	}
	off += n
	overflowPositions := collectSetBits(overflowBits, NDPNodeCount)
	if len(overflowPositions) != int(overflowEntriesCount) {
		return nil, 0, fmt.Errorf("sirix: %w: overflow_bits has %d set bits but overflow_entries_count is %d", ErrCorruptPage, len(overflowPositions), overflowEntriesCount)
	}
	for _, pos := range overflowPositions {
		targetPageKey, n, err := readUint64BE(src[off:])
		if err != nil {
			return nil, 0, fmt.Errorf("sirix: %w: overflow target page key: %v", ErrCorruptPage, err)
		}
		off += n
		nodeKey := FirstNodeKeyOf(recordPageKey, uint32(pos))
		ref := NewPageReference()
		ref.SetPageKey(targetPageKey)
		p.overflowRefs[nodeKey] = ref
	}

	if off >= len(src) {
		return nil, 0, fmt.Errorf("sirix: %w: missing index type tag", ErrCorruptPage)
	}
	indexType, err := IndexTypeByID(src[off])
	if err != nil {
		return nil, 0, err
	}
	off++
	p.indexType = indexType

	return p, off, nil
}

// Commit hands every non-null overflow reference to committer for
// persistence (spec.md §4.3 "commit(write_txn)"). Write transactions
// proper are out of this package's core scope; PageCommitter is the
// narrow capability the fan-out needs.
func (p *KeyValuePage) Commit(committer PageCommitter) error {
	if err := p.addReferences(); err != nil {
		return err
	}
	for _, ref := range p.overflowRefs {
		if ref == nil || ref.IsNull() {
			continue
		}
		if err := committer.CommitReference(ref); err != nil {
			return err
		}
	}
	return nil
}

// PageCommitter is the minimal write-side capability KeyValuePage.Commit
// needs. Write transactions are out of this package's scope (spec.md §5
// "Write transactions (not specified here)"), but the commit fan-out over
// a leaf's overflow references still belongs on the leaf itself.
type PageCommitter interface {
	CommitReference(ref *PageReference) error
}

// detach copies every byte slice this page holds a reference into off a
// backing store it does not own, so the page survives that store being
// unmapped or relocated (grounded on node.dereference in node.go).
func (p *KeyValuePage) detach() {
	for k, v := range p.slots {
		owned := make([]byte, len(v))
		copy(owned, v)
		p.slots[k] = owned
	}
}

func sortedUint64Keys[V any](m map[uint64]V) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func collectSetBits(s *bitset.Set, capBits int) []int {
	positions := make([]int, 0)
	for i := s.NextSet(0); i >= 0 && i < capBits; i = s.NextSet(i + 1) {
		positions = append(positions, i)
	}
	return positions
}

func readInt32BE(src []byte) (int32, int, error) {
	if len(src) < 4 {
		return 0, 0, fmt.Errorf("need 4 bytes, have %d", len(src))
	}
	return int32(binary.BigEndian.Uint32(src[:4])), 4, nil
}

func readUint64BE(src []byte) (uint64, int, error) {
	if len(src) < 8 {
		return 0, 0, fmt.Errorf("need 8 bytes, have %d", len(src))
	}
	return binary.BigEndian.Uint64(src[:8]), 8, nil
}
