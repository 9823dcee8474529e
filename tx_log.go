package sirix

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/multierr"
)

// LogContainer holds either a materialized KeyValuePage or an explicit
// "empty" sentinel, distinguishing "this page key has no records" from
// "this page key was never looked up" (spec.md §4.8: "Container holds
// either a full KvPage or an EMPTY sentinel").
type LogContainer struct {
	page  *KeyValuePage
	empty bool
}

// NewLogContainer wraps a materialized page.
func NewLogContainer(page *KeyValuePage) LogContainer { return LogContainer{page: page} }

// EmptyLogContainer returns the EMPTY sentinel.
func EmptyLogContainer() LogContainer { return LogContainer{empty: true} }

// IsEmpty reports whether this is the EMPTY sentinel rather than a page.
func (c LogContainer) IsEmpty() bool { return c.empty }

// Page returns the staged page, or nil for the EMPTY sentinel.
func (c LogContainer) Page() *KeyValuePage { return c.page }

// TransactionLog is a per-kind staging store for pages not yet committed
// to the resource file (spec.md §4.8). It exists only while a commit is
// in flight; absence (a nil *TransactionLogs from OpenTransactionLogs)
// means "all data is in the main file" (spec.md §9 "Optional transaction log").
type TransactionLog struct {
	containers map[uint64]LogContainer
}

func newTransactionLog() *TransactionLog {
	return &TransactionLog{containers: make(map[uint64]LogContainer)}
}

// Get returns the container staged under pageKey, if any.
func (l *TransactionLog) Get(pageKey uint64) (LogContainer, bool) {
	c, ok := l.containers[pageKey]
	return c, ok
}

// Put stages container under pageKey, replacing any prior entry.
func (l *TransactionLog) Put(pageKey uint64, container LogContainer) {
	l.containers[pageKey] = container
}

// PutAll stages every entry in containers.
func (l *TransactionLog) PutAll(containers map[uint64]LogContainer) {
	for k, v := range containers {
		l.containers[k] = v
	}
}

// Clear discards every staged entry without closing the log.
func (l *TransactionLog) Clear() {
	l.containers = make(map[uint64]LogContainer)
}

// Close releases the log's backing storage. Idempotent.
func (l *TransactionLog) Close() error {
	l.containers = nil
	return nil
}

// TransactionLogs bundles the four kind-partitioned staging logs a
// commit-in-flight resource carries: page, node, path, and value (spec.md
// §4.8: "Per-kind staging store (page, node, path, value)"). All four
// share one existence test — the commit.inflight side-file named in
// spec.md §6 — so they come into being, and go away, together.
type TransactionLogs struct {
	Page  *TransactionLog
	Node  *TransactionLog
	Path  *TransactionLog
	Value *TransactionLog
}

// commitInFlightMarker is the side-file whose presence signals that a
// resource directory has transaction logs to open (spec.md §6: "A
// side-file commit.inflight signals presence of transaction logs").
const commitInFlightMarker = "commit.inflight"

// OpenTransactionLogs returns a fresh set of logs if resourceDir contains
// a commit-in-flight marker, or (nil, nil) if it does not (spec.md §4.8:
// "Open iff a commit-in-flight file exists at construction; otherwise
// absent (None)").
func OpenTransactionLogs(resourceDir string) (*TransactionLogs, error) {
	_, err := os.Stat(filepath.Join(resourceDir, commitInFlightMarker))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sirix: %w: stat commit marker: %v", ErrIO, err)
	}
	return &TransactionLogs{
		Page:  newTransactionLog(),
		Node:  newTransactionLog(),
		Path:  newTransactionLog(),
		Value: newTransactionLog(),
	}, nil
}

// ForSubtree returns the staging log that holds t's pages: RECORD and its
// sibling node-level subtrees use the node log, PATH_SUMMARY and PATH the
// path log, CAS the value log, and everything else (indirect and metadata
// pages) the page log.
func (l *TransactionLogs) ForSubtree(t IndexType) *TransactionLog {
	switch t {
	case IndexDocument, IndexChangedNodes, IndexRecordToRevisions:
		return l.Node
	case IndexPathSummary, IndexPath:
		return l.Path
	case IndexCAS:
		return l.Value
	default:
		return l.Page
	}
}

// Clear truncates every one of the four logs.
func (l *TransactionLogs) Clear() {
	l.Page.Clear()
	l.Node.Clear()
	l.Path.Clear()
	l.Value.Clear()
}

// Close closes every log, aggregating failures with multierr so a failure
// on one kind does not hide failures on the others.
func (l *TransactionLogs) Close() error {
	var err error
	for _, log := range []*TransactionLog{l.Page, l.Node, l.Path, l.Value} {
		err = multierr.Append(err, log.Close())
	}
	return err
}
