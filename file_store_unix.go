//go:build !windows && !plan9

package sirix

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// flockFile acquires an exclusive advisory lock on fs's file descriptor,
// retrying until timeout elapses (grounded on flock in bolt_unix.go).
func flockFile(fs *FileStore, timeout time.Duration) error {
	var start time.Time
	for {
		if start.IsZero() {
			start = time.Now()
		} else if timeout > 0 && time.Since(start) > timeout {
			return ErrTimeout
		}
		err := unix.Flock(int(fs.file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return nil
		}
		if err != unix.EWOULDBLOCK {
			return fmt.Errorf("sirix: %w: flock: %v", ErrIO, err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// funlockFile releases the advisory lock held by flockFile.
func funlockFile(fs *FileStore) error {
	return unix.Flock(int(fs.file.Fd()), unix.LOCK_UN)
}

// maxMmapStep is the largest single growth step taken when remapping,
// matching maxMmapStep in db.go.
const maxMmapStep = 1 << 30 // 1GB

// mmapSize doubles from 32KB up to 1GB, then grows in 1GB steps,
// mirroring db.mmapSize in db.go.
func mmapSize(size int) int {
	for i := uint(15); i <= 30; i++ {
		if size <= 1<<i {
			return 1 << i
		}
	}
	sz := size
	if remainder := sz % maxMmapStep; remainder > 0 {
		sz += maxMmapStep - remainder
	}
	return sz
}

// mmapTo (re)maps fs's file to cover at least minSize bytes, unmapping
// any prior mapping first (grounded on db.mmap/mmap/munmap in db.go and
// bolt_unix.go).
func (fs *FileStore) mmapTo(minSize int) error {
	size := mmapSize(minSize)

	if fs.data != nil {
		if err := unix.Munmap(fs.data); err != nil {
			return fmt.Errorf("sirix: %w: munmap: %v", ErrIO, err)
		}
		fs.data = nil
	}

	data, err := unix.Mmap(int(fs.file.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("sirix: %w: mmap: %v", ErrIO, err)
	}
	if err := unix.Madvise(data, unix.MADV_RANDOM); err != nil {
		unix.Munmap(data)
		return fmt.Errorf("sirix: %w: madvise: %v", ErrIO, err)
	}
	fs.data = data
	fs.mappedSize = size
	return nil
}

// munmapFile unmaps fs's data region.
func munmapFile(fs *FileStore) error {
	if fs.data == nil {
		return nil
	}
	if err := unix.Munmap(fs.data); err != nil {
		return fmt.Errorf("sirix: %w: munmap: %v", ErrIO, err)
	}
	return nil
}
