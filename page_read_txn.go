package sirix

import (
	"fmt"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Cache sizing from spec.md §4.9: "record_cache: NodeKey -> Container (size
// ≈ 1000, TTL 5000 s)... path_cache, value_cache: size 20 each". The page
// cache has no TTL ("unbounded within run") so it is a plain map, not an
// expirable.LRU.
const (
	recordCacheSize = 1000
	recordCacheTTL  = 5000 * time.Second
	sideCacheSize   = 20
)

// PageReadTxnStats mirrors db.go's Stats/TxStats: a plain struct of
// counters, diffable across two points in time.
type PageReadTxnStats struct {
	RecordCacheHits   int
	RecordCacheMisses int
	PageCacheHits     int
	PageCacheMisses   int
}

// PageReadTxnOptions configures Open.
type PageReadTxnOptions struct {
	// Persister decodes the opaque Records this resource stores. Required.
	Persister RecordSerializer

	// ResourceConfig overrides DefaultResourceConfig when non-nil.
	ResourceConfig *ResourceConfig

	// Logger receives Debug/Warn records for cache loads, page
	// dereferences, and log-precedence hits. Defaults to zap.NewNop().
	Logger *zap.Logger
}

// PageReadTxn is a page-level read transaction bound to exactly one
// revision and, per spec.md §5, exactly one goroutine: it orchestrates the
// cache hierarchy (C9), dereferences keys through the revisioned indirect
// trie (C6/C7), and exposes record lookup to callers above this package
// (index controllers, the JSONiq function library).
type PageReadTxn struct {
	reader    PageReader
	revision  int32
	persister RecordSerializer
	cfg       *ResourceConfig
	logger    *zap.Logger

	uber    *UberPage
	revRoot *RevisionRootPage

	recordCache *lru.LRU[uint64, LogContainer]
	pathCache   *lru.LRU[uint64, LogContainer]
	valueCache  *lru.LRU[uint64, LogContainer]
	pageCache   map[uint64]Page

	revRootCache  map[int32]*RevisionRootPage
	namePageCache *NamePage

	logs *TransactionLogs

	closed bool
	stats  PageReadTxnStats
}

// Open binds a new read transaction to resourcePath at revision, or to the
// latest committed revision if revision is negative (spec.md §6: "open
// (resource_path, revision) -> PageReadTxn"). The returned transaction owns
// an exclusive PageReader and, if one exists, the resource's transaction
// logs; both are released by Close.
func Open(resourcePath string, revision int32, opts PageReadTxnOptions) (*PageReadTxn, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Persister == nil {
		return nil, fmt.Errorf("sirix: %w: Open requires a RecordSerializer", ErrIllegalState)
	}
	cfg := opts.ResourceConfig
	if cfg == nil {
		cfg = DefaultResourceConfig()
	}

	reader, err := OpenFileStore(resourcePath, OpenFileStoreOptions{ReadOnly: true, Logger: logger})
	if err != nil {
		return nil, err
	}

	t := &PageReadTxn{
		reader:       reader,
		persister:    opts.Persister,
		cfg:          cfg,
		logger:       logger,
		pageCache:    make(map[uint64]Page),
		revRootCache: make(map[int32]*RevisionRootPage),
		recordCache:  lru.NewLRU[uint64, LogContainer](recordCacheSize, nil, recordCacheTTL),
	}
	if cfg.IsActive(IndexPathSummary) || cfg.IsActive(IndexPath) {
		t.pathCache = lru.NewLRU[uint64, LogContainer](sideCacheSize, nil, 0)
	}
	if cfg.IsActive(IndexCAS) {
		t.valueCache = lru.NewLRU[uint64, LogContainer](sideCacheSize, nil, 0)
	}

	if err := t.loadUberPage(); err != nil {
		t.Close()
		return nil, err
	}

	if revision < 0 {
		revision = t.uber.LatestRevision()
	}
	if revision < 0 || revision > t.uber.LatestRevision() {
		t.Close()
		return nil, fmt.Errorf("sirix: %w: revision %d, latest committed is %d", ErrRevisionOutOfRange, revision, t.uber.LatestRevision())
	}
	t.revision = revision

	root, err := t.RevisionRootAt(revision)
	if err != nil {
		t.Close()
		return nil, err
	}
	t.revRoot = root

	logs, err := OpenTransactionLogs(filepath.Dir(resourcePath))
	if err != nil {
		t.Close()
		return nil, err
	}
	t.logs = logs

	logger.Debug("opened page read transaction",
		zap.String("path", resourcePath), zap.Int32("revision", revision))
	return t, nil
}

func (t *PageReadTxn) loadUberPage() error {
	uberKey, err := t.reader.LatestUberPageKey()
	if err != nil {
		return err
	}
	if uberKey == NullID {
		t.uber = NewUberPage(t.cfg)
		return nil
	}
	kind, data, err := t.reader.ReadPage(uberKey)
	if err != nil {
		return fmt.Errorf("sirix: %w: read uber page: %v", ErrIO, err)
	}
	if kind != PageKindUber {
		return fmt.Errorf("sirix: %w: page %d has kind %s, want Uber", ErrCorruptPage, uberKey, kind)
	}
	uber, _, err := DeserializeUberPage(data)
	if err != nil {
		return err
	}
	t.uber = uber
	return nil
}

// checkOpen implements spec.md §7's "Closed-transaction contract": every
// operation fails with ErrTransactionClosed once Close has succeeded once.
func (t *PageReadTxn) checkOpen() error {
	if t.closed {
		return fmt.Errorf("sirix: %w", ErrTransactionClosed)
	}
	return nil
}

// Revision returns the revision this transaction is bound to. Implements
// leafContext.
func (t *PageReadTxn) Revision() int32 { return t.revision }

// Persister returns the RecordSerializer this transaction decodes records
// with. Implements leafContext.
func (t *PageReadTxn) Persister() RecordSerializer { return t.persister }

// ResourceConfig returns the resource's settings. Implements leafContext.
func (t *PageReadTxn) ResourceConfig() *ResourceConfig { return t.cfg }

// UberPage returns the resource's global root. Implements snapshotContext.
func (t *PageReadTxn) UberPage() (*UberPage, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	return t.uber, nil
}

// RevisionRoot returns the root page for the revision this transaction is
// bound to.
func (t *PageReadTxn) RevisionRoot() (*RevisionRootPage, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	return t.revRoot, nil
}

// readOverflow resolves an overflow reference to its page, detaching the
// payload off the FileStore's mmap before returning it (spec.md §4.3
// "get"). Implements leafReader.
func (t *PageReadTxn) readOverflow(ref *PageReference) (*OverflowPage, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	if ref == nil || ref.IsNull() {
		return nil, fmt.Errorf("sirix: %w: null overflow reference", ErrDanglingReference)
	}
	if p, ok := ref.Page().(*OverflowPage); ok {
		return p, nil
	}
	pageKey := ref.PageKey()
	if pageKey == NullID {
		return nil, fmt.Errorf("sirix: %w: overflow reference has no page key", ErrDanglingReference)
	}
	if cached, ok := t.pageCache[pageKey]; ok {
		if op, ok := cached.(*OverflowPage); ok {
			t.stats.PageCacheHits++
			return op, nil
		}
	}
	t.stats.PageCacheMisses++
	kind, data, err := t.reader.ReadPage(pageKey)
	if err != nil {
		return nil, fmt.Errorf("sirix: %w: read overflow page %d: %v", ErrIO, pageKey, err)
	}
	if kind != PageKindOverflow {
		return nil, fmt.Errorf("sirix: %w: page %d has kind %s, want Overflow", ErrCorruptPage, pageKey, kind)
	}
	op, _, err := DeserializeOverflowPage(data)
	if err != nil {
		return nil, err
	}
	op.detach()
	t.pageCache[pageKey] = op
	return op, nil
}

// DereferenceIndirect resolves ref to its IndirectPage, reading through the
// page cache, implementing snapshotContext (spec.md §4.7
// "dereference_indirect"). A null reference yields (nil, nil): the subtree
// has not been created at this point in the trie yet.
func (t *PageReadTxn) DereferenceIndirect(ref *PageReference, fanout int) (*IndirectPage, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	if ref == nil || ref.IsNull() {
		return nil, nil
	}
	if p, ok := ref.Page().(*IndirectPage); ok {
		return p, nil
	}
	pageKey := ref.PageKey()
	if pageKey == NullID {
		return nil, nil
	}
	if cached, ok := t.pageCache[pageKey]; ok {
		if ip, ok := cached.(*IndirectPage); ok {
			t.stats.PageCacheHits++
			return ip, nil
		}
	}
	t.stats.PageCacheMisses++
	t.logger.Debug("dereferencing indirect page", zap.Uint64("pageKey", pageKey))
	kind, data, err := t.reader.ReadPage(pageKey)
	if err != nil {
		return nil, fmt.Errorf("sirix: %w: read indirect page %d: %v", ErrIO, pageKey, err)
	}
	if kind != PageKindIndirect {
		return nil, fmt.Errorf("sirix: %w: page %d has kind %s, want Indirect", ErrCorruptPage, pageKey, kind)
	}
	ip, _, err := DeserializeIndirectPage(data, fanout)
	if err != nil {
		return nil, err
	}
	t.pageCache[pageKey] = ip
	return ip, nil
}

// RevisionRootAt resolves the RevisionRootPage for an arbitrary historical
// revision by descending the indirect tree rooted at the uber page's
// revision-root reference, keyed by revision number (spec.md §4.6 step
// 2.1: "Load RevisionRootPage(i)"). Implements snapshotContext.
func (t *PageReadTxn) RevisionRootAt(revision int32) (*RevisionRootPage, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	if revision < 0 {
		return nil, fmt.Errorf("sirix: %w: revision %d is negative", ErrRevisionOutOfRange, revision)
	}
	if t.revRoot != nil && revision == t.revision {
		return t.revRoot, nil
	}
	if cached, ok := t.revRootCache[revision]; ok {
		return cached, nil
	}

	ref := t.uber.RevisionRootTreeRoot()
	exps := DefaultFanoutExponents
	// shiftBelow is the bit width consumed by every level after the
	// current one, so level 0 addresses the revision number's most
	// significant slice and the last level its least significant.
	var shiftBelow uint
	for _, e := range exps {
		shiftBelow += uint(e)
	}
	revisionKey := uint64(revision)
	for level := 0; level < len(exps); level++ {
		shiftBelow -= uint(exps[level])
		offset := (revisionKey >> shiftBelow) & (uint64(1)<<exps[level] - 1)

		page, err := t.DereferenceIndirect(ref, 1<<exps[level])
		if err != nil {
			return nil, err
		}
		if page == nil {
			return nil, fmt.Errorf("sirix: %w: revision %d has no committed root", ErrRevisionOutOfRange, revision)
		}
		if offset >= uint64(page.Fanout()) {
			return nil, fmt.Errorf("sirix: %w: revision %d offset %d exceeds fanout %d", ErrUnsupportedKey, revision, offset, page.Fanout())
		}
		next, err := page.RefAt(int(offset))
		if err != nil {
			return nil, fmt.Errorf("sirix: %w: %v", ErrUnsupportedKey, err)
		}
		ref = next
	}
	if ref == nil || ref.IsNull() {
		return nil, fmt.Errorf("sirix: %w: revision %d has no committed root", ErrRevisionOutOfRange, revision)
	}

	root, err := t.readRevisionRootPage(ref)
	if err != nil {
		return nil, err
	}
	t.revRootCache[revision] = root
	return root, nil
}

func (t *PageReadTxn) readRevisionRootPage(ref *PageReference) (*RevisionRootPage, error) {
	if rp, ok := ref.Page().(*RevisionRootPage); ok {
		return rp, nil
	}
	pageKey := ref.PageKey()
	if pageKey == NullID {
		return nil, fmt.Errorf("sirix: %w: revision root reference has no page key", ErrIllegalState)
	}
	if cached, ok := t.pageCache[pageKey]; ok {
		if rp, ok := cached.(*RevisionRootPage); ok {
			return rp, nil
		}
	}
	kind, data, err := t.reader.ReadPage(pageKey)
	if err != nil {
		return nil, fmt.Errorf("sirix: %w: read revision root %d: %v", ErrIO, pageKey, err)
	}
	if kind != PageKindRevisionRoot {
		return nil, fmt.Errorf("sirix: %w: page %d has kind %s, want RevisionRoot", ErrCorruptPage, pageKey, kind)
	}
	root, _, err := DeserializeRevisionRootPage(data)
	if err != nil {
		return nil, err
	}
	t.pageCache[pageKey] = root
	return root, nil
}

// ReadLeaf resolves a single historical leaf named by ref — in-memory,
// logged, or persisted — for use by the page-combining algorithm
// (collectSnapshotLeaves reads each entry of its chain through this).
// Implements snapshotContext.
func (t *PageReadTxn) ReadLeaf(ref *PageReference, recordPageKey uint64, indexType IndexType) (*KeyValuePage, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	if ref == nil || ref.IsNull() {
		return nil, nil
	}
	if leaf, ok := ref.Page().(*KeyValuePage); ok {
		return leaf, nil
	}
	if ref.LogKey() != NullID && t.logs != nil {
		log := t.logs.ForSubtree(indexType)
		if c, ok := log.Get(ref.LogKey()); ok {
			t.logger.Debug("leaf resolved from transaction log",
				zap.Uint64("logKey", ref.LogKey()), zap.Stringer("subtree", indexType))
			if c.IsEmpty() {
				return nil, nil
			}
			return c.Page(), nil
		}
	}
	pageKey := ref.PageKey()
	if pageKey == NullID {
		return nil, nil
	}
	if cached, ok := t.pageCache[pageKey]; ok {
		if kv, ok := cached.(*KeyValuePage); ok {
			t.stats.PageCacheHits++
			return kv, nil
		}
	}
	t.stats.PageCacheMisses++
	kind, data, err := t.reader.ReadPage(pageKey)
	if err != nil {
		return nil, fmt.Errorf("sirix: %w: read leaf page %d: %v", ErrIO, pageKey, err)
	}
	if kind != PageKindKeyValue {
		return nil, fmt.Errorf("sirix: %w: page %d has kind %s, want KeyValue", ErrCorruptPage, pageKey, kind)
	}
	kv, _, err := DeserializeKeyValuePage(data, t)
	if err != nil {
		return nil, err
	}
	kv.detach()
	t.pageCache[pageKey] = kv
	return kv, nil
}

// cacheFor returns the cache that holds combined leaves for subtree, or
// nil if that subtree's cache is disabled because the index it belongs to
// is inactive on this resource (spec.md §4.9: "path_cache, value_cache:
// ...enabled only if the resource config includes that index").
func (t *PageReadTxn) cacheFor(subtree IndexType) *lru.LRU[uint64, LogContainer] {
	switch subtree {
	case IndexPathSummary, IndexPath:
		return t.pathCache
	case IndexCAS:
		return t.valueCache
	default:
		return t.recordCache
	}
}

// loadContainer resolves the logically complete leaf for pageKey in
// subtree: the transaction log takes precedence over any persisted leaf at
// the same address (spec.md §8 scenario S6), falling back to the
// page-combining algorithm (spec.md §4.6) when nothing is staged.
func (t *PageReadTxn) loadContainer(subtree IndexType, pageKey uint64) (LogContainer, error) {
	if t.logs != nil {
		log := t.logs.ForSubtree(subtree)
		if c, ok := log.Get(pageKey); ok {
			t.logger.Warn("record page resolved from transaction log, shadowing any persisted leaf",
				zap.Uint64("pageKey", pageKey), zap.Stringer("subtree", subtree))
			return c, nil
		}
	}
	leaf, err := Snapshot(t, pageKey, subtree, t.revision)
	if err != nil {
		return LogContainer{}, err
	}
	if leaf == nil {
		return EmptyLogContainer(), nil
	}
	return NewLogContainer(leaf), nil
}

// containerFor gets-or-loads the combined leaf for pageKey in subtree
// through whichever cache applies, never caching a failed load (spec.md §9
// "Cache loaders: accept that loaders may fail; wrap load results rather
// than caching failures").
func (t *PageReadTxn) containerFor(subtree IndexType, pageKey uint64) (LogContainer, error) {
	cache := t.cacheFor(subtree)
	if cache != nil {
		if c, ok := cache.Get(pageKey); ok {
			t.stats.RecordCacheHits++
			return c, nil
		}
	}
	t.stats.RecordCacheMisses++
	c, err := t.loadContainer(subtree, pageKey)
	if err != nil {
		return LogContainer{}, err
	}
	if cache != nil {
		cache.Add(pageKey, c)
	}
	return c, nil
}

// GetRecord resolves nodeKey's record within subtree at this transaction's
// bound revision (spec.md §4.9 "get_record"). A deletion marker, a never-
// written key, or a page that was never created all yield (nil, nil); only
// I/O, decode, and closed-transaction failures are returned as errors.
func (t *PageReadTxn) GetRecord(nodeKey uint64, subtree IndexType) (Record, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	pageKey := RecordPageKeyOf(nodeKey)
	container, err := t.containerFor(subtree, pageKey)
	if err != nil {
		return nil, err
	}
	if container.IsEmpty() {
		return nil, nil
	}
	leaf := container.Page()
	rec, err := leaf.Get(nodeKey)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Deleted() {
		return nil, nil
	}
	return rec, nil
}

func (t *PageReadTxn) namePage() (*NamePage, error) {
	if t.namePageCache != nil {
		return t.namePageCache, nil
	}
	ref := t.revRoot.SubtreeRoot(IndexName)
	if ref == nil || ref.IsNull() {
		np := NewNamePage()
		t.namePageCache = np
		return np, nil
	}
	if np, ok := ref.Page().(*NamePage); ok {
		t.namePageCache = np
		return np, nil
	}
	pageKey := ref.PageKey()
	if pageKey == NullID {
		np := NewNamePage()
		t.namePageCache = np
		return np, nil
	}
	if cached, ok := t.pageCache[pageKey]; ok {
		if np, ok := cached.(*NamePage); ok {
			t.namePageCache = np
			return np, nil
		}
	}
	kind, data, err := t.reader.ReadPage(pageKey)
	if err != nil {
		return nil, fmt.Errorf("sirix: %w: read name page %d: %v", ErrIO, pageKey, err)
	}
	if kind != PageKindName {
		return nil, fmt.Errorf("sirix: %w: page %d has kind %s, want Name", ErrCorruptPage, pageKey, kind)
	}
	np, _, err := DeserializeNamePage(data)
	if err != nil {
		return nil, err
	}
	t.pageCache[pageKey] = np
	t.namePageCache = np
	return np, nil
}

// Name resolves nameKey under kind to its interned string (spec.md §4.9
// "name(name_key, kind)"; SPEC_FULL.md "A dedicated NamePage lookup path").
func (t *PageReadTxn) Name(nameKey int32, kind NameKind) (string, error) {
	if err := t.checkOpen(); err != nil {
		return "", err
	}
	np, err := t.namePage()
	if err != nil {
		return "", err
	}
	name, _ := np.Name(kind, nameKey)
	return name, nil
}

// RawName is Name's byte-slice counterpart (spec.md §4.9 "raw_name(...)").
func (t *PageReadTxn) RawName(nameKey int32, kind NameKind) ([]byte, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	np, err := t.namePage()
	if err != nil {
		return nil, err
	}
	raw, _ := np.RawName(kind, nameKey)
	return raw, nil
}

// NameCount reports how many distinct names are interned under kind
// (spec.md §4.9 "name_count(...)").
func (t *PageReadTxn) NameCount(kind NameKind) (int32, error) {
	if err := t.checkOpen(); err != nil {
		return 0, err
	}
	np, err := t.namePage()
	if err != nil {
		return 0, err
	}
	return np.NameCount(kind), nil
}

// PrimePageCache seeds the page cache with an already-materialized page,
// the escape hatch a write transaction uses to hand its own dirty pages to
// a read transaction without a round trip through the file (SPEC_FULL.md
// "getFromPageCache/putPageCache"). Past Close it leaves the cache untouched
// and returns ErrTransactionClosed.
func (t *PageReadTxn) PrimePageCache(pageKey uint64, page Page) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	t.pageCache[pageKey] = page
	return nil
}

// ClearCaches invalidates all four caches and truncates every transaction
// log (spec.md §4.9 "clear_caches").
func (t *PageReadTxn) ClearCaches() error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	t.recordCache.Purge()
	if t.pathCache != nil {
		t.pathCache.Purge()
	}
	if t.valueCache != nil {
		t.valueCache.Purge()
	}
	t.pageCache = make(map[uint64]Page)
	t.namePageCache = nil
	if t.logs != nil {
		t.logs.Clear()
	}
	return nil
}

// Stats returns the transaction's cache hit/miss counters.
func (t *PageReadTxn) Stats() PageReadTxnStats { return t.stats }

// Close releases the transaction's PageReader and transaction logs. It
// flushes nothing, since a read transaction never has dirty state of its
// own (spec.md §4.9 "close... flush nothing (reader-only)"). Idempotent:
// a second call is a no-op that returns nil, matching db.close()'s guard
// on db.opened.
func (t *PageReadTxn) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	var err error
	if t.logs != nil {
		err = multierr.Append(err, t.logs.Close())
	}
	if t.reader != nil {
		err = multierr.Append(err, t.reader.Close())
	}
	return err
}
