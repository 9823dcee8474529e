package sirix

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeSnapshotContext lets revisioning_test.go build small in-memory
// revision chains without a FileStore: every reference in the fixtures
// below carries its target directly via PageReference.SetPage, and this
// fake's DereferenceIndirect/ReadLeaf/RevisionRootAt methods simply unwrap it,
// exactly the "in-memory page" branch *PageReadTxn's real implementations
// check first.
type fakeSnapshotContext struct {
	*fakeLeafContext
	uber     *UberPage
	revRoots map[int32]*RevisionRootPage
}

func (c *fakeSnapshotContext) UberPage() (*UberPage, error) { return c.uber, nil }

func (c *fakeSnapshotContext) RevisionRootAt(revision int32) (*RevisionRootPage, error) {
	root, ok := c.revRoots[revision]
	if !ok {
		return nil, ErrRevisionOutOfRange
	}
	return root, nil
}

func (c *fakeSnapshotContext) DereferenceIndirect(ref *PageReference, fanout int) (*IndirectPage, error) {
	if ref == nil || ref.IsNull() {
		return nil, nil
	}
	p, ok := ref.Page().(*IndirectPage)
	if !ok {
		return nil, ErrIllegalState
	}
	return p, nil
}

func (c *fakeSnapshotContext) ReadLeaf(ref *PageReference, recordPageKey uint64, indexType IndexType) (*KeyValuePage, error) {
	if ref == nil || ref.IsNull() {
		return nil, nil
	}
	leaf, ok := ref.Page().(*KeyValuePage)
	if !ok {
		return nil, ErrIllegalState
	}
	return leaf, nil
}

// leafAt builds a one-record leaf for recordPageKey 0 in the given
// revision, wired directly as an in-memory page (no real commit).
func leafAt(ctx *fakeLeafContext, revision int32, nodeKey uint64, value string, deleted bool) *KeyValuePage {
	local := *ctx
	local.revision = revision
	leaf := NewKeyValuePage(0, IndexDocument, &local)
	leaf.Put(nodeKey, &testRecord{nodeKey: nodeKey, value: value, deleted: deleted})
	return leaf
}

// TestCollectAndCombineIncremental covers scenario S4: writing k1 in
// revision 1, k2 in revision 2, and deleting k1 in revision 3, then
// reading at revision 3 with INCREMENTAL folds to {k2 -> B, k1 tombstoned}.
func TestCollectAndCombineIncremental(t *testing.T) {
	cfg := DefaultResourceConfig()
	cfg.RevisioningPolicy = PolicyIncremental
	cfg.RevisionsToRestore = 3
	base := newFakeLeafContext(cfg)

	leaf1 := leafAt(base, 1, 5, "A", false)
	leaf2 := leafAt(base, 2, 6, "B", false)
	leaf3 := leafAt(base, 3, 5, "", true)

	rootFor := func(revision int32, leaf *KeyValuePage) *RevisionRootPage {
		r := NewRevisionRootPage(revision, RevisionMetadata{})
		ref := r.SubtreeRoot(IndexDocument)
		if leaf != nil {
			ref.SetPage(leaf)
		}
		return r
	}

	ctx := &fakeSnapshotContext{
		fakeLeafContext: base,
		uber: &UberPage{
			latestRevision:     3,
			pageCountExponents: map[IndexType][]uint8{IndexDocument: {}},
		},
		revRoots: map[int32]*RevisionRootPage{
			0: rootFor(0, nil),
			1: rootFor(1, leaf1),
			2: rootFor(2, leaf2),
			3: rootFor(3, leaf3),
		},
	}

	combined, err := Snapshot(ctx, 0, IndexDocument, 3)
	require.NoError(t, err)
	require.NotNil(t, combined)

	k1, err := combined.Get(5)
	require.NoError(t, err)
	require.True(t, k1.(*testRecord).deleted)

	k2, err := combined.Get(6)
	require.NoError(t, err)
	require.Equal(t, "B", k2.(*testRecord).value)
	require.False(t, k2.(*testRecord).deleted)
}

// TestCollectSnapshotLeavesFullPolicyStopsAtOne checks that FULL never
// walks past the latest leaf.
func TestCollectSnapshotLeavesFullPolicyStopsAtOne(t *testing.T) {
	cfg := DefaultResourceConfig()
	cfg.RevisioningPolicy = PolicyFull
	base := newFakeLeafContext(cfg)

	leaf1 := leafAt(base, 1, 1, "old", false)
	leaf2 := leafAt(base, 2, 1, "new", false)

	ctx := &fakeSnapshotContext{
		fakeLeafContext: base,
		uber: &UberPage{
			latestRevision:     2,
			pageCountExponents: map[IndexType][]uint8{IndexDocument: {}},
		},
		revRoots: map[int32]*RevisionRootPage{
			0: func() *RevisionRootPage { r := NewRevisionRootPage(0, RevisionMetadata{}); r.SubtreeRoot(IndexDocument); return r }(),
			1: func() *RevisionRootPage {
				r := NewRevisionRootPage(1, RevisionMetadata{})
				r.SubtreeRoot(IndexDocument).SetPage(leaf1)
				return r
			}(),
			2: func() *RevisionRootPage {
				r := NewRevisionRootPage(2, RevisionMetadata{})
				r.SubtreeRoot(IndexDocument).SetPage(leaf2)
				return r
			}(),
		},
	}

	refs, err := collectSnapshotLeaves(ctx, 0, IndexDocument, 2)
	require.NoError(t, err)
	require.Len(t, refs, 1)

	combined, err := Snapshot(ctx, 0, IndexDocument, 2)
	require.NoError(t, err)
	rec, err := combined.Get(1)
	require.NoError(t, err)
	require.Equal(t, "new", rec.(*testRecord).value)
}

// TestSnapshotNeverWrittenReturnsNil covers the "key never written" edge
// case: no revision ever created the subtree, Snapshot returns (nil, nil).
func TestSnapshotNeverWrittenReturnsNil(t *testing.T) {
	base := newFakeLeafContext(nil)
	ctx := &fakeSnapshotContext{
		fakeLeafContext: base,
		uber: &UberPage{
			latestRevision:     0,
			pageCountExponents: map[IndexType][]uint8{IndexDocument: {}},
		},
		revRoots: map[int32]*RevisionRootPage{
			0: NewRevisionRootPage(0, RevisionMetadata{}),
		},
	}
	page, err := Snapshot(ctx, 0, IndexDocument, 0)
	require.NoError(t, err)
	require.Nil(t, page)
}

// TestDereferenceLeafDescendsMultipleLevels exercises scenario S5's
// indirect descent: a three-level trie with 9-bit fanout per level, and a
// key whose bit pattern spans all three levels.
func TestDereferenceLeafDescendsMultipleLevels(t *testing.T) {
	const exp = 9
	exps := []uint8{exp, exp, exp}

	marker := NewKeyValuePage(0, IndexDocument, newFakeLeafContext(nil))

	key := uint64(0x12)<<(2*exp) | uint64(0x145)<<exp | uint64(0x089)
	off0 := int((key >> (2 * exp)))
	off1 := int((key >> exp) & (1<<exp - 1))
	off2 := int(key & (1<<exp - 1))

	level2 := NewIndirectPage(1 << exp)
	leafRef := NewPageReference()
	leafRef.SetPage(marker)
	require.NoError(t, level2.SetRefAt(off2, leafRef))

	level1 := NewIndirectPage(1 << exp)
	level2Ref := NewPageReference()
	level2Ref.SetPage(level2)
	require.NoError(t, level1.SetRefAt(off1, level2Ref))

	level0 := NewIndirectPage(1 << exp)
	level1Ref := NewPageReference()
	level1Ref.SetPage(level1)
	require.NoError(t, level0.SetRefAt(off0, level1Ref))

	startRef := NewPageReference()
	startRef.SetPage(level0)

	ctx := &fakeSnapshotContext{fakeLeafContext: newFakeLeafContext(nil)}
	got, err := dereferenceLeaf(ctx, startRef, key, IndexDocument, exps)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Same(t, marker, got.Page())
	require.Equal(t, IndexDocument, got.IndexType())
}

// TestDereferenceLeafMissingSubtreeYieldsNil checks that an un-created
// subtree along the path yields (nil, nil) rather than an error.
func TestDereferenceLeafMissingSubtreeYieldsNil(t *testing.T) {
	ctx := &fakeSnapshotContext{fakeLeafContext: newFakeLeafContext(nil)}
	got, err := dereferenceLeaf(ctx, NewPageReference(), 0, IndexDocument, []uint8{9})
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestCombineSnapshotLeavesDifferentialMergesBaseThenDiff(t *testing.T) {
	base := newFakeLeafContext(nil)
	baseLeaf := leafAt(base, 1, 1, "base", false)
	diffLeaf := leafAt(base, 2, 2, "diff", false)

	combined, err := combineSnapshotLeaves(base, PolicyDifferential, []*KeyValuePage{diffLeaf, baseLeaf}, 0, IndexDocument, 2)
	require.NoError(t, err)

	r1, err := combined.Get(1)
	require.NoError(t, err)
	require.Equal(t, "base", r1.(*testRecord).value)
	r2, err := combined.Get(2)
	require.NoError(t, err)
	require.Equal(t, "diff", r2.(*testRecord).value)
}

// overflowLeafAt builds a leaf whose single record is forced to
// overflowRefs (a payload well past the configured MaxRecordSize),
// committed and round-tripped through Serialize/DeserializeKeyValuePage so
// the returned page — like one read back off a real resource file — only
// has that record staged in overflowRefs, never eagerly in records.
func overflowLeafAt(revision int32, nodeKey uint64, value string) *KeyValuePage {
	cfg := DefaultResourceConfig()
	cfg.PageSize = PageHeaderReserve + 8 // MaxRecordSize() == 8, far below value's length
	ctx := newFakeLeafContext(cfg)
	ctx.revision = revision

	leaf := NewKeyValuePage(0, IndexDocument, ctx)
	leaf.Put(nodeKey, &testRecord{nodeKey: nodeKey, value: value})

	committer := &fakeCommitter{ctx: ctx}
	if err := leaf.Commit(committer); err != nil {
		panic(err)
	}

	buf, err := leaf.Serialize(nil)
	if err != nil {
		panic(err)
	}
	reloaded, _, err := DeserializeKeyValuePage(buf, ctx)
	if err != nil {
		panic(err)
	}
	return reloaded
}

// TestCombineSnapshotLeavesIncrementalResolvesOverflowRecords guards against
// combineSnapshotLeaves silently dropping records that live in a
// deserialized leaf's overflowRefs rather than its records map: Entries()
// must resolve them the same way Get would.
func TestCombineSnapshotLeavesIncrementalResolvesOverflowRecords(t *testing.T) {
	base := newFakeLeafContext(nil)
	overflowLeaf := overflowLeafAt(1, 7, strings.Repeat("x", 64))

	combined, err := combineSnapshotLeaves(base, PolicyIncremental, []*KeyValuePage{overflowLeaf}, 0, IndexDocument, 1)
	require.NoError(t, err)

	rec, err := combined.Get(7)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, strings.Repeat("x", 64), rec.(*testRecord).value)
}

// TestCombineSnapshotLeavesDifferentialResolvesOverflowRecords is the
// PolicyDifferential counterpart: an overflow-backed record in the base
// leaf must survive the base-then-diff merge.
func TestCombineSnapshotLeavesDifferentialResolvesOverflowRecords(t *testing.T) {
	base := newFakeLeafContext(nil)
	overflowBase := overflowLeafAt(1, 7, strings.Repeat("y", 64))
	diffLeaf := leafAt(base, 2, 2, "diff", false)

	combined, err := combineSnapshotLeaves(base, PolicyDifferential, []*KeyValuePage{diffLeaf, overflowBase}, 0, IndexDocument, 2)
	require.NoError(t, err)

	baseRec, err := combined.Get(7)
	require.NoError(t, err)
	require.NotNil(t, baseRec)
	require.Equal(t, strings.Repeat("y", 64), baseRec.(*testRecord).value)

	diffRec, err := combined.Get(2)
	require.NoError(t, err)
	require.Equal(t, "diff", diffRec.(*testRecord).value)
}

func TestCombineSnapshotLeavesUnknownPolicyErrors(t *testing.T) {
	base := newFakeLeafContext(nil)
	leaf := leafAt(base, 1, 1, "x", false)
	_, err := combineSnapshotLeaves(base, RevisioningPolicy(99), []*KeyValuePage{leaf}, 0, IndexDocument, 1)
	require.ErrorIs(t, err, ErrIllegalState)
}
