package sirix

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"os"
	"time"

	"go.uber.org/zap"
)

// PageReader is the byte-level I/O capability spec.md §1 reduces file
// access, compression, and encryption concerns to: given a PageKey,
// return the kind tag and raw payload bytes of the framed record stored
// there. *FileStore is this package's only implementation; tests may
// substitute an in-memory fake.
type PageReader interface {
	ReadPage(pageKey uint64) (PageKind, []byte, error)
	LatestUberPageKey() (uint64, error)
	Close() error
}

// fileMagic marks a Sirix resource file, mirroring the role of
// db.go's magic constant.
const fileMagic uint32 = 0x53_49_52_58 // "SIRX"

// fileVersion is the on-disk format version this build understands.
const fileVersion uint32 = 1

// metaPageSize is the fixed-size slot each of the two meta pages occupies
// at the head of a resource file, sized generously above the serialized
// fileMeta so page-size growth never collides with it.
const metaPageSize = 256

// headerSize is the space reserved for both meta pages before the
// append-only page log begins.
const headerSize = 2 * metaPageSize

// fileMeta is the redundant header record, one copy at each of the first
// two fixed slots of the file, whichever has the higher revision and
// passes validation wins (grounded on db.go's meta/meta0/meta1/validate).
type fileMeta struct {
	magic       uint32
	version     uint32
	pageSize    uint32
	uberPageKey uint64
	revision    int32
	checksum    uint64
}

func (m *fileMeta) encode() []byte {
	buf := make([]byte, 0, 32)
	buf = binary.BigEndian.AppendUint32(buf, m.magic)
	buf = binary.BigEndian.AppendUint32(buf, m.version)
	buf = binary.BigEndian.AppendUint32(buf, m.pageSize)
	buf = binary.BigEndian.AppendUint64(buf, m.uberPageKey)
	buf = binary.BigEndian.AppendUint32(buf, uint32(m.revision))
	m.checksum = fnvSum64(buf)
	return binary.BigEndian.AppendUint64(buf, m.checksum)
}

func decodeFileMeta(buf []byte) (*fileMeta, error) {
	if len(buf) < 24 {
		return nil, fmt.Errorf("sirix: %w: meta page truncated", ErrCorruptPage)
	}
	m := &fileMeta{
		magic:       binary.BigEndian.Uint32(buf[0:4]),
		version:     binary.BigEndian.Uint32(buf[4:8]),
		pageSize:    binary.BigEndian.Uint32(buf[8:12]),
		uberPageKey: binary.BigEndian.Uint64(buf[12:20]),
		revision:    int32(binary.BigEndian.Uint32(buf[20:24])),
	}
	if len(buf) >= 32 {
		m.checksum = binary.BigEndian.Uint64(buf[24:32])
	}
	return m, nil
}

// validate checks the magic, version, and checksum of a decoded meta page
// (grounded on meta.validate in db.go).
func (m *fileMeta) validate() error {
	if m.magic != fileMagic {
		return ErrInvalid
	}
	if m.version != fileVersion {
		return ErrVersionMismatch
	}
	want := m.checksum
	body := m.encode()[:24]
	m.checksum = want // encode overwrites it; keep the stored value
	if want != fnvSum64(body) {
		return ErrChecksum
	}
	return nil
}

func fnvSum64(b []byte) uint64 {
	h := fnv.New64a()
	h.Write(b)
	return h.Sum64()
}

// FileStore is the append-only, mmap-backed resource file: two redundant
// meta slots followed by a growing log of framed, immutable page records
// addressed by their absolute byte offset (PageKey). It has no freelist:
// unlike the teacher's B+tree pages, a Sirix page is never overwritten or
// reclaimed once written, only superseded by a later revision's pages
// (spec.md §3 Lifecycles: "Becomes immutable once its revision is
// committed").
type FileStore struct {
	path     string
	file     *os.File
	readOnly bool

	data       []byte // mmap'd view of the whole file, read-only
	mappedSize int
	fileSize   int64

	meta0, meta1 *fileMeta

	logger *zap.Logger
}

// OpenFileStoreOptions configures OpenFileStore.
type OpenFileStoreOptions struct {
	ReadOnly bool
	PageSize int // only consulted when creating a new file
	Timeout  time.Duration
	Logger   *zap.Logger
}

// OpenFileStore opens (creating if absent) the resource file at path,
// mmaps it, and validates or initializes its header (grounded on
// db.Open/db.init/db.mmap in db.go).
func OpenFileStore(path string, opts OpenFileStoreOptions) (*FileStore, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	flag := os.O_RDWR | os.O_CREATE
	if opts.ReadOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sirix: %w: open %s: %v", ErrIO, path, err)
	}

	fs := &FileStore{
		path:     path,
		file:     f,
		readOnly: opts.ReadOnly,
		logger:   logger,
	}

	if !opts.ReadOnly {
		if err := flockFile(fs, opts.Timeout); err != nil {
			f.Close()
			return nil, err
		}
	}

	info, err := f.Stat()
	if err != nil {
		fs.Close()
		return nil, fmt.Errorf("sirix: %w: stat %s: %v", ErrIO, path, err)
	}
	fs.fileSize = info.Size()

	if fs.fileSize == 0 {
		if opts.ReadOnly {
			fs.Close()
			return nil, fmt.Errorf("sirix: %w: %s is empty", ErrInvalid, path)
		}
		if err := fs.initHeader(pageSize); err != nil {
			fs.Close()
			return nil, err
		}
	}

	if err := fs.mmapTo(int(fs.fileSize)); err != nil {
		fs.Close()
		return nil, err
	}
	if err := fs.loadMeta(); err != nil {
		fs.Close()
		return nil, err
	}

	logger.Debug("opened resource file", zap.String("path", path), zap.Int64("size", fs.fileSize))
	return fs, nil
}

// initHeader writes the two initial meta slots for a brand-new resource
// file: no committed revisions yet, uberPageKey NullID.
func (fs *FileStore) initHeader(pageSize int) error {
	buf := make([]byte, headerSize)
	for i := 0; i < 2; i++ {
		m := &fileMeta{
			magic:       fileMagic,
			version:     fileVersion,
			pageSize:    uint32(pageSize),
			uberPageKey: NullID,
			revision:    int32(i) - 1, // meta0 starts behind meta1, so meta1 is active and the first commit goes to meta0
		}
		copy(buf[i*metaPageSize:], m.encode())
	}
	if _, err := fs.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("sirix: %w: write header: %v", ErrIO, err)
	}
	if err := fs.file.Sync(); err != nil {
		return fmt.Errorf("sirix: %w: sync header: %v", ErrIO, err)
	}
	fs.fileSize = int64(len(buf))
	return nil
}

func (fs *FileStore) loadMeta() error {
	if len(fs.data) < headerSize {
		return fmt.Errorf("sirix: %w: file shorter than header", ErrCorruptPage)
	}
	m0, err := decodeFileMeta(fs.data[0:metaPageSize])
	if err != nil {
		return err
	}
	m1, err := decodeFileMeta(fs.data[metaPageSize : 2*metaPageSize])
	if err != nil {
		return err
	}
	fs.meta0, fs.meta1 = m0, m1

	err0 := m0.validate()
	err1 := m1.validate()
	if err0 != nil && err1 != nil {
		return err0
	}
	return nil
}

// activeMeta returns whichever meta slot is valid and carries the higher
// revision (grounded on db.meta in db.go).
func (fs *FileStore) activeMeta() (*fileMeta, error) {
	a, b := fs.meta0, fs.meta1
	if b.revision > a.revision {
		a, b = b, a
	}
	if a.validate() == nil {
		return a, nil
	}
	if b.validate() == nil {
		return b, nil
	}
	return nil, fmt.Errorf("sirix: %w: both meta slots invalid", ErrCorruptPage)
}

// LatestUberPageKey returns the PageKey of the most recently committed
// uber page, or NullID if the resource has never been committed.
func (fs *FileStore) LatestUberPageKey() (uint64, error) {
	m, err := fs.activeMeta()
	if err != nil {
		return NullID, err
	}
	return m.uberPageKey, nil
}

// ReadPage implements PageReader: it reads the framed record at pageKey
// out of the mmap'd region and returns its kind tag and payload. The
// payload slice aliases the mmap; callers that retain it past the next
// remap must detach their own copy (see KeyValuePage.detach).
func (fs *FileStore) ReadPage(pageKey uint64) (PageKind, []byte, error) {
	if fs.data == nil {
		return 0, nil, ErrDatabaseNotOpen
	}
	off := pageKey
	if off+5 > uint64(len(fs.data)) {
		return 0, nil, fmt.Errorf("sirix: %w: page key %d out of range", ErrCorruptPage, pageKey)
	}
	kindByte := fs.data[off]
	length := binary.BigEndian.Uint32(fs.data[off+1 : off+5])
	start := off + 5
	end := start + uint64(length)
	if end > uint64(len(fs.data)) {
		return 0, nil, fmt.Errorf("sirix: %w: page at %d truncated, want %d bytes", ErrCorruptPage, pageKey, length)
	}
	kind, err := pageKindFromByte(kindByte)
	if err != nil {
		return 0, nil, err
	}
	return kind, fs.data[start:end], nil
}

// AppendPage writes a new framed page record at the end of the file and
// returns its PageKey, growing and remapping as needed (grounded on
// db.allocate/db.grow in db.go, minus freelist reuse — see FileStore's
// doc comment).
func (fs *FileStore) AppendPage(kind PageKind, payload []byte) (uint64, error) {
	if fs.readOnly {
		return NullID, fmt.Errorf("sirix: %w: file store opened read-only", ErrIllegalState)
	}
	pageKey := uint64(fs.fileSize)
	frame := make([]byte, 5+len(payload))
	frame[0] = byte(kind)
	binary.BigEndian.PutUint32(frame[1:5], uint32(len(payload)))
	copy(frame[5:], payload)

	if _, err := fs.file.WriteAt(frame, int64(pageKey)); err != nil {
		return NullID, fmt.Errorf("sirix: %w: append page: %v", ErrIO, err)
	}
	if err := fs.file.Sync(); err != nil {
		return NullID, fmt.Errorf("sirix: %w: sync after append: %v", ErrIO, err)
	}
	fs.fileSize += int64(len(frame))

	if int(fs.fileSize) > fs.mappedSize {
		if err := fs.mmapTo(int(fs.fileSize)); err != nil {
			return NullID, err
		}
	}
	return pageKey, nil
}

// CommitUberPage writes uberPageKey into whichever meta slot is not
// currently active and fsyncs it, publishing the new revision
// atomically from a reader's point of view (grounded on meta.write in
// db.go, minus the bucket/freelist fields that have no analogue here).
func (fs *FileStore) CommitUberPage(uberPageKey uint64, revision int32) error {
	if fs.readOnly {
		return fmt.Errorf("sirix: %w: file store opened read-only", ErrIllegalState)
	}
	active, err := fs.activeMeta()
	if err != nil {
		return err
	}
	next := &fileMeta{
		magic:       fileMagic,
		version:     fileVersion,
		pageSize:    active.pageSize,
		uberPageKey: uberPageKey,
		revision:    revision,
	}
	slot := 1
	if active == fs.meta1 {
		slot = 0
	}
	if _, err := fs.file.WriteAt(next.encode(), int64(slot*metaPageSize)); err != nil {
		return fmt.Errorf("sirix: %w: write meta: %v", ErrIO, err)
	}
	if err := fs.file.Sync(); err != nil {
		return fmt.Errorf("sirix: %w: sync meta: %v", ErrIO, err)
	}
	if slot == 0 {
		fs.meta0 = next
	} else {
		fs.meta1 = next
	}
	return nil
}

// PageSize returns the page size recorded in the active meta slot.
func (fs *FileStore) PageSize() (int, error) {
	m, err := fs.activeMeta()
	if err != nil {
		return 0, err
	}
	return int(m.pageSize), nil
}

// Close unmaps the file and releases the advisory lock. Idempotent.
func (fs *FileStore) Close() error {
	if fs.file == nil {
		return nil
	}
	var err error
	if fs.data != nil {
		if uerr := munmapFile(fs); uerr != nil {
			err = uerr
		}
		fs.data = nil
	}
	if !fs.readOnly {
		if uerr := funlockFile(fs); uerr != nil {
			fs.logger.Warn("funlock failed on close", zap.Error(uerr))
		}
	}
	if cerr := fs.file.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("sirix: %w: close %s: %v", ErrIO, fs.path, cerr)
	}
	fs.file = nil
	return err
}

func pageKindFromByte(b byte) (PageKind, error) {
	if b > byte(PageKindName) {
		return 0, fmt.Errorf("sirix: %w: unknown page kind byte %d", ErrCorruptPage, b)
	}
	return PageKind(b), nil
}
