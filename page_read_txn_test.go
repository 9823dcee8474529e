package sirix

import (
	"testing"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakePageReader is a minimal in-memory PageReader, standing in for a
// *FileStore so page_read_txn_test.go can exercise *PageReadTxn without
// touching disk.
type fakePageReader struct {
	pages  map[uint64]struct {
		kind PageKind
		data []byte
	}
	uberKey uint64
	closed  bool
}

func newFakePageReader() *fakePageReader {
	return &fakePageReader{
		pages: make(map[uint64]struct {
			kind PageKind
			data []byte
		}),
		uberKey: NullID,
	}
}

func (r *fakePageReader) ReadPage(pageKey uint64) (PageKind, []byte, error) {
	p, ok := r.pages[pageKey]
	if !ok {
		return 0, nil, ErrCorruptPage
	}
	return p.kind, p.data, nil
}

func (r *fakePageReader) LatestUberPageKey() (uint64, error) { return r.uberKey, nil }

func (r *fakePageReader) Close() error {
	r.closed = true
	return nil
}

// newTestPageReadTxn builds a *PageReadTxn directly, bypassing Open/
// FileStore, with an empty PageCountExponents for IndexDocument so
// dereferenceLeaf's descent loop is a no-op and SubtreeRoot's in-memory
// page is returned unchanged (mirrors the fixture trick in
// revisioning_test.go).
func newTestPageReadTxn(t *testing.T, leaf *KeyValuePage, logs *TransactionLogs) *PageReadTxn {
	t.Helper()
	cfg := DefaultResourceConfig()

	uber := NewUberPage(cfg)
	uber.SetLatestRevision(0)
	uber.pageCountExponents[IndexDocument] = []uint8{}

	root := NewRevisionRootPage(0, RevisionMetadata{})
	ref := root.SubtreeRoot(IndexDocument)
	if leaf != nil {
		ref.SetPage(leaf)
	}

	txn := &PageReadTxn{
		reader:       newFakePageReader(),
		revision:     0,
		persister:    testPersister{},
		cfg:          cfg,
		logger:       zap.NewNop(),
		pageCache:    make(map[uint64]Page),
		revRootCache: make(map[int32]*RevisionRootPage),
		recordCache:  lru.NewLRU[uint64, LogContainer](recordCacheSize, nil, recordCacheTTL),
		uber:         uber,
		revRoot:      root,
		logs:         logs,
	}
	return txn
}

func TestGetRecordCachesContainerAcrossCalls(t *testing.T) {
	leaf := NewKeyValuePage(0, IndexDocument, newFakeLeafContext(nil))
	leaf.Put(1, &testRecord{nodeKey: 1, value: "a"})
	txn := newTestPageReadTxn(t, leaf, nil)

	rec1, err := txn.GetRecord(1, IndexDocument)
	require.NoError(t, err)
	require.NotNil(t, rec1)
	require.Equal(t, 1, txn.Stats().RecordCacheMisses)
	require.Equal(t, 0, txn.Stats().RecordCacheHits)

	rec2, err := txn.GetRecord(1, IndexDocument)
	require.NoError(t, err)
	require.Equal(t, rec1, rec2)
	require.Equal(t, 1, txn.Stats().RecordCacheHits)
}

func TestGetRecordDeletedRecordReturnsNil(t *testing.T) {
	leaf := NewKeyValuePage(0, IndexDocument, newFakeLeafContext(nil))
	leaf.Put(1, &testRecord{nodeKey: 1, deleted: true})
	txn := newTestPageReadTxn(t, leaf, nil)

	rec, err := txn.GetRecord(1, IndexDocument)
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestGetRecordNeverWrittenPageReturnsNil(t *testing.T) {
	txn := newTestPageReadTxn(t, nil, nil)

	rec, err := txn.GetRecord(1, IndexDocument)
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestClearCachesForcesReload(t *testing.T) {
	leaf := NewKeyValuePage(0, IndexDocument, newFakeLeafContext(nil))
	leaf.Put(1, &testRecord{nodeKey: 1, value: "a"})
	txn := newTestPageReadTxn(t, leaf, nil)

	_, err := txn.GetRecord(1, IndexDocument)
	require.NoError(t, err)
	require.NoError(t, txn.ClearCaches())

	_, err = txn.GetRecord(1, IndexDocument)
	require.NoError(t, err)
	require.Equal(t, 2, txn.Stats().RecordCacheMisses)
}

// TestLoadContainerLogPrecedence covers scenario S6: a transaction-log
// entry for a record page key shadows the persisted/in-memory leaf at the
// same address.
func TestLoadContainerLogPrecedence(t *testing.T) {
	persistedLeaf := NewKeyValuePage(0, IndexDocument, newFakeLeafContext(nil))
	persistedLeaf.Put(1, &testRecord{nodeKey: 1, value: "persisted"})

	loggedLeaf := NewKeyValuePage(0, IndexDocument, newFakeLeafContext(nil))
	loggedLeaf.Put(1, &testRecord{nodeKey: 1, value: "logged"})

	logs := &TransactionLogs{
		Page:  newTransactionLog(),
		Node:  newTransactionLog(),
		Path:  newTransactionLog(),
		Value: newTransactionLog(),
	}
	logs.Node.Put(0, NewLogContainer(loggedLeaf))

	txn := newTestPageReadTxn(t, persistedLeaf, logs)

	rec, err := txn.GetRecord(1, IndexDocument)
	require.NoError(t, err)
	require.Equal(t, "logged", rec.(*testRecord).value)
}

func TestLoadContainerLogPrecedenceEmptySentinel(t *testing.T) {
	persistedLeaf := NewKeyValuePage(0, IndexDocument, newFakeLeafContext(nil))
	persistedLeaf.Put(1, &testRecord{nodeKey: 1, value: "persisted"})

	logs := &TransactionLogs{
		Page:  newTransactionLog(),
		Node:  newTransactionLog(),
		Path:  newTransactionLog(),
		Value: newTransactionLog(),
	}
	logs.Node.Put(0, EmptyLogContainer())

	txn := newTestPageReadTxn(t, persistedLeaf, logs)

	rec, err := txn.GetRecord(1, IndexDocument)
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestCloseIsIdempotentAndClosesReaderAndLogs(t *testing.T) {
	logs := &TransactionLogs{
		Page:  newTransactionLog(),
		Node:  newTransactionLog(),
		Path:  newTransactionLog(),
		Value: newTransactionLog(),
	}
	txn := newTestPageReadTxn(t, nil, logs)
	reader := txn.reader.(*fakePageReader)

	require.NoError(t, txn.Close())
	require.True(t, reader.closed)
	require.NoError(t, txn.Close())
}

// TestClosedTransactionContract covers the closed-transaction contract:
// each operation below fails with ErrTransactionClosed once Close has
// succeeded.
func TestClosedTransactionContract(t *testing.T) {
	leaf := NewKeyValuePage(0, IndexDocument, newFakeLeafContext(nil))
	txn := newTestPageReadTxn(t, leaf, nil)
	require.NoError(t, txn.Close())

	_, err := txn.GetRecord(1, IndexDocument)
	require.ErrorIs(t, err, ErrTransactionClosed)

	_, err = txn.UberPage()
	require.ErrorIs(t, err, ErrTransactionClosed)

	_, err = txn.RevisionRoot()
	require.ErrorIs(t, err, ErrTransactionClosed)

	_, err = txn.RevisionRootAt(0)
	require.ErrorIs(t, err, ErrTransactionClosed)

	_, err = txn.DereferenceIndirect(NewPageReference(), 1)
	require.ErrorIs(t, err, ErrTransactionClosed)

	_, err = txn.ReadLeaf(NewPageReference(), 0, IndexDocument)
	require.ErrorIs(t, err, ErrTransactionClosed)

	_, err = txn.readOverflow(NewPageReference())
	require.ErrorIs(t, err, ErrTransactionClosed)

	_, err = txn.Name(0, NameKind(0))
	require.ErrorIs(t, err, ErrTransactionClosed)

	_, err = txn.RawName(0, NameKind(0))
	require.ErrorIs(t, err, ErrTransactionClosed)

	_, err = txn.NameCount(NameKind(0))
	require.ErrorIs(t, err, ErrTransactionClosed)

	err = txn.PrimePageCache(0, leaf)
	require.ErrorIs(t, err, ErrTransactionClosed)

	err = txn.ClearCaches()
	require.ErrorIs(t, err, ErrTransactionClosed)
}

func TestRevisionRootAtRejectsNegativeRevision(t *testing.T) {
	txn := newTestPageReadTxn(t, nil, nil)
	_, err := txn.RevisionRootAt(-1)
	require.ErrorIs(t, err, ErrRevisionOutOfRange)
}

func TestRevisionRootAtReturnsBoundRevisionWithoutDescent(t *testing.T) {
	txn := newTestPageReadTxn(t, nil, nil)
	root, err := txn.RevisionRootAt(0)
	require.NoError(t, err)
	require.Same(t, txn.revRoot, root)
}

func TestDereferenceIndirectNullReferenceYieldsNil(t *testing.T) {
	txn := newTestPageReadTxn(t, nil, nil)
	p, err := txn.DereferenceIndirect(NewPageReference(), 128)
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestPrimePageCacheSeedsPageCache(t *testing.T) {
	txn := newTestPageReadTxn(t, nil, nil)
	page := NewIndirectPage(128)
	require.NoError(t, txn.PrimePageCache(42, page))
	require.Same(t, page, txn.pageCache[42])
}

func TestOpenRequiresPersister(t *testing.T) {
	_, err := Open("/nonexistent/path", -1, PageReadTxnOptions{})
	require.ErrorIs(t, err, ErrIllegalState)
}
