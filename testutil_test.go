package sirix

import "fmt"

// testRecord and testPersister are the fake Record/RecordSerializer pair
// used across this package's tests. A record serializes as one deletion
// flag byte followed by its value's raw bytes; dewey ids delta-compress as
// a shared-prefix length followed by the literal suffix, which is enough
// to exercise the ordering and round-trip paths without pulling in a real
// index controller's node encoding.
type testRecord struct {
	nodeKey uint64
	value   string
	deweyID []byte
	deleted bool
}

func (r *testRecord) NodeKey() uint64 { return r.nodeKey }
func (r *testRecord) DeweyID() []byte { return r.deweyID }
func (r *testRecord) Deleted() bool   { return r.deleted }

type testPersister struct{}

func (testPersister) Serialize(dst []byte, record Record) ([]byte, error) {
	r, ok := record.(*testRecord)
	if !ok {
		return nil, fmt.Errorf("testPersister: unsupported record type %T", record)
	}
	flag := byte(0)
	if r.deleted {
		flag = 1
	}
	dst = append(dst, flag)
	dst = append(dst, r.value...)
	return dst, nil
}

func (testPersister) Deserialize(data []byte, nodeKey uint64, deweyID []byte) (Record, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("testPersister: empty payload for node key %d", nodeKey)
	}
	return &testRecord{
		nodeKey: nodeKey,
		value:   string(data[1:]),
		deweyID: deweyID,
		deleted: data[0] == 1,
	}, nil
}

func (testPersister) SerializeDeweyID(dst []byte, prev, curr []byte) []byte {
	shared := commonPrefixLen(prev, curr)
	dst = append(dst, byte(shared))
	dst = append(dst, byte(len(curr)-shared))
	dst = append(dst, curr[shared:]...)
	return dst
}

func (testPersister) DeserializeDeweyID(src []byte, prev []byte) ([]byte, int, error) {
	if len(src) < 2 {
		return nil, 0, fmt.Errorf("testPersister: dewey id header truncated")
	}
	shared := int(src[0])
	suffixLen := int(src[1])
	if shared > len(prev) || 2+suffixLen > len(src) {
		return nil, 0, fmt.Errorf("testPersister: dewey id body truncated")
	}
	id := make([]byte, shared+suffixLen)
	copy(id, prev[:shared])
	copy(id[shared:], src[2:2+suffixLen])
	return id, 2 + suffixLen, nil
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// fakeLeafContext is the leafContext (and leafReader) fake every
// kv_page_test.go and revisioning_test.go case builds a KeyValuePage
// against, so those tests exercise the real page logic without going
// through a FileStore.
type fakeLeafContext struct {
	revision int32
	cfg      *ResourceConfig
	overflow map[uint64]*OverflowPage
}

func newFakeLeafContext(cfg *ResourceConfig) *fakeLeafContext {
	if cfg == nil {
		cfg = DefaultResourceConfig()
	}
	return &fakeLeafContext{revision: 1, cfg: cfg, overflow: make(map[uint64]*OverflowPage)}
}

func (c *fakeLeafContext) Revision() int32             { return c.revision }
func (c *fakeLeafContext) Persister() RecordSerializer  { return testPersister{} }
func (c *fakeLeafContext) ResourceConfig() *ResourceConfig { return c.cfg }

func (c *fakeLeafContext) readOverflow(ref *PageReference) (*OverflowPage, error) {
	if ref == nil || ref.IsNull() {
		return nil, fmt.Errorf("fakeLeafContext: null overflow reference")
	}
	if p, ok := ref.Page().(*OverflowPage); ok {
		return p, nil
	}
	p, ok := c.overflow[ref.PageKey()]
	if !ok {
		return nil, fmt.Errorf("fakeLeafContext: no overflow page for key %d", ref.PageKey())
	}
	return p, nil
}

// fakeCommitter assigns each committed overflow reference a synthetic
// page key and registers it with ctx, simulating the write-transaction
// commit step spec.md §4.3 describes for KeyValuePage.Commit without this
// package's read-only scope needing a real write path.
type fakeCommitter struct {
	ctx  *fakeLeafContext
	next uint64
}

func (c *fakeCommitter) CommitReference(ref *PageReference) error {
	op, ok := ref.Page().(*OverflowPage)
	if !ok {
		return nil
	}
	c.next++
	c.ctx.overflow[c.next] = op
	ref.SetPageKey(c.next)
	ref.SetPage(nil)
	return nil
}
