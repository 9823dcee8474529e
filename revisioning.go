package sirix

import "fmt"

// snapshotContext is the capability collectSnapshotLeaves, dereferenceLeaf,
// and combineSnapshotLeaves need from their owning transaction (spec.md
// §4.6, §4.7). *PageReadTxn implements this; kept as its own interface
// here so the page-combining algorithm does not depend on the cache and
// transaction-log machinery layered on top of it in C9.
type snapshotContext interface {
	leafContext
	RevisionRootAt(revision int32) (*RevisionRootPage, error)
	DereferenceIndirect(ref *PageReference, fanout int) (*IndirectPage, error)
	ReadLeaf(ref *PageReference, recordPageKey uint64, indexType IndexType) (*KeyValuePage, error)
	UberPage() (*UberPage, error)
}

// Snapshot resolves the logically complete leaf for recordPageKey in
// subtree at revision r by collecting its historical chain and combining
// it per the resource's revisioning policy (spec.md §4.6). Returns a nil
// page, nil error if the key has never been written in any revision up to
// r.
func Snapshot(ctx snapshotContext, recordPageKey uint64, subtree IndexType, r int32) (*KeyValuePage, error) {
	refs, err := collectSnapshotLeaves(ctx, recordPageKey, subtree, r)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, nil
	}

	leaves := make([]*KeyValuePage, 0, len(refs))
	for _, ref := range refs {
		leaf, err := ctx.ReadLeaf(ref, recordPageKey, subtree)
		if err != nil {
			return nil, err
		}
		if leaf != nil {
			leaves = append(leaves, leaf)
		}
	}
	if len(leaves) == 0 {
		return nil, nil
	}

	return combineSnapshotLeaves(ctx, ctx.ResourceConfig().RevisioningPolicy, leaves, recordPageKey, subtree, r)
}

// collectSnapshotLeaves walks revisions r down to 0, gathering the chain
// of leaf references that, once read and combined, reproduce the
// logically complete record page at revision r (spec.md §4.6, the
// algorithm named there). Leaves are returned latest-first.
func collectSnapshotLeaves(ctx snapshotContext, recordPageKey uint64, subtree IndexType, r int32) ([]*PageReference, error) {
	cfg := ctx.ResourceConfig()
	policy := cfg.RevisioningPolicy
	capacity := cfg.RevisionsToRestore
	uber, err := ctx.UberPage()
	if err != nil {
		return nil, err
	}
	exps := uber.PageCountExponents(subtree)

	var refs []*PageReference
	seen := make(map[uint64]bool)

	for i := r; i >= 0; {
		root, err := ctx.RevisionRootAt(i)
		if err != nil {
			return nil, err
		}
		subtreeRootRef := root.SubtreeRoot(subtree)

		leafRef, err := dereferenceLeaf(ctx, subtreeRootRef, recordPageKey, subtree, exps)
		if err != nil {
			return nil, err
		}
		if leafRef == nil || leafRef.IsNull() {
			break
		}

		if leafRef.PageKey() == NullID || !seen[leafRef.PageKey()] {
			refs = append(refs, leafRef)
			if leafRef.PageKey() != NullID {
				seen[leafRef.PageKey()] = true
			}
		}

		switch {
		case len(refs) == capacity:
			return refs, nil
		case policy == PolicyFull:
			return refs, nil
		case policy == PolicyDifferential && len(refs) == 2:
			return refs, nil
		}

		if policy == PolicyDifferential {
			if i == 0 {
				break
			}
			next := i - int32(capacity) + 1
			if next < 1 {
				next = 1
			}
			i = next
		} else {
			i--
		}
	}
	return refs, nil
}

// dereferenceLeaf descends the indirect trie rooted at startRef by the
// fanout exponents in exps, returning the leaf-level PageReference tagged
// with subtree (spec.md §4.7). A nil indirect page anywhere along the
// path (subtree not yet created at this revision) yields a nil, nil
// result rather than an error.
func dereferenceLeaf(ctx snapshotContext, startRef *PageReference, key uint64, subtree IndexType, exps []uint8) (*PageReference, error) {
	ref := startRef
	// shiftBelow is the number of bits every level after the current one
	// consumes, so level 0 addresses key's most significant slice and the
	// last level its least significant: level L's offset is
	// (key >> shiftBelow(L)) & (fanout(L) - 1).
	var shiftBelow uint
	for _, e := range exps {
		shiftBelow += uint(e)
	}
	for level := 0; level < len(exps); level++ {
		shiftBelow -= uint(exps[level])
		offset := (key >> shiftBelow) & (uint64(1)<<exps[level] - 1)

		page, err := ctx.DereferenceIndirect(ref, 1<<exps[level])
		if err != nil {
			return nil, err
		}
		if page == nil {
			return nil, nil
		}
		if offset >= uint64(page.Fanout()) {
			return nil, fmt.Errorf("sirix: %w: offset %d exceeds fanout %d at level %d", ErrUnsupportedKey, offset, page.Fanout(), level)
		}
		next, err := page.RefAt(int(offset))
		if err != nil {
			return nil, fmt.Errorf("sirix: %w: %v", ErrUnsupportedKey, err)
		}
		next.SetIndexType(subtree)
		ref = next
	}
	return ref, nil
}

// combineSnapshotLeaves merges leaves (latest-first, as returned by
// collectSnapshotLeaves) per policy into one logically complete leaf
// (spec.md §4.6 step 4). The merged leaf of the non-FULL policies is
// stamped with targetRevision; FULL returns the latest leaf itself, with
// its own revision.
func combineSnapshotLeaves(ctx leafContext, policy RevisioningPolicy, leaves []*KeyValuePage, recordPageKey uint64, indexType IndexType, targetRevision int32) (*KeyValuePage, error) {
	if len(leaves) == 0 {
		return nil, nil
	}

	switch policy {
	case PolicyFull:
		return leaves[0], nil

	case PolicyDifferential:
		combined := NewKeyValuePage(recordPageKey, indexType, ctx)
		combined.revision = targetRevision
		base := leaves[len(leaves)-1]
		diff := leaves[0]
		baseEntries, err := base.Entries()
		if err != nil {
			return nil, err
		}
		for _, e := range baseEntries {
			combined.Put(e.NodeKey, e.Record)
		}
		diffEntries, err := diff.Entries()
		if err != nil {
			return nil, err
		}
		for _, e := range diffEntries {
			combined.Put(e.NodeKey, e.Record)
		}
		return combined, nil

	case PolicyIncremental, PolicySlidingSnapshot:
		combined := NewKeyValuePage(recordPageKey, indexType, ctx)
		combined.revision = targetRevision
		for i := len(leaves) - 1; i >= 0; i-- {
			entries, err := leaves[i].Entries()
			if err != nil {
				return nil, err
			}
			for _, e := range entries {
				combined.Put(e.NodeKey, e.Record)
			}
		}
		return combined, nil

	default:
		return nil, fmt.Errorf("sirix: %w: unknown revisioning policy %v", ErrIllegalState, policy)
	}
}
