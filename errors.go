package sirix

import "errors"

// Sentinel errors for the taxonomy in spec.md §7. They are wrapped with
// fmt.Errorf("sirix: ...: %w", ...) at each call site so that errors.Is
// still matches through every layer, the way the teacher's db.go lets
// ErrInvalid/ErrVersionMismatch/ErrChecksum bubble out of meta.validate()
// unwrapped.
var (
	// ErrIO wraps an underlying read/write failure surfaced by a
	// PageReader or FileStore.
	ErrIO = errors.New("sirix: i/o error")

	// ErrCorruptPage means a page's on-disk bitset, length, or tag
	// fields are internally inconsistent.
	ErrCorruptPage = errors.New("sirix: corrupt page")

	// ErrRecordDecode means a RecordSerializer rejected a slot's bytes.
	ErrRecordDecode = errors.New("sirix: record decode error")

	// ErrDanglingReference means an overflow reference points at a key
	// the leaf page does not recognize.
	ErrDanglingReference = errors.New("sirix: dangling overflow reference")

	// ErrUnsupportedKey means a key falls outside the addressable range
	// of the configured indirect-page fanout.
	ErrUnsupportedKey = errors.New("sirix: unsupported key, too large for fanout")

	// ErrTransactionClosed means an operation was attempted on a
	// PageReadTxn after Close.
	ErrTransactionClosed = errors.New("sirix: transaction is already closed")

	// ErrIllegalState marks a fatal invariant violation. Never retried,
	// never recovered.
	ErrIllegalState = errors.New("sirix: illegal state")

	// ErrDatabaseNotOpen is returned by FileStore operations attempted
	// before Open or after Close.
	ErrDatabaseNotOpen = errors.New("sirix: resource file not open")

	// ErrInvalid means the uber-page magic marker did not match.
	ErrInvalid = errors.New("sirix: invalid resource file")

	// ErrVersionMismatch means the on-disk format version is not one
	// this build understands.
	ErrVersionMismatch = errors.New("sirix: version mismatch")

	// ErrChecksum means a page's checksum did not match its content.
	ErrChecksum = errors.New("sirix: checksum mismatch")

	// ErrRevisionOutOfRange is returned when a requested revision is
	// negative or newer than the latest committed revision.
	ErrRevisionOutOfRange = errors.New("sirix: revision out of range")

	// ErrTimeout means an advisory file lock could not be acquired
	// within the configured timeout.
	ErrTimeout = errors.New("sirix: timeout acquiring file lock")
)
