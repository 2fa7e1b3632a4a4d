package vdisk

import "fmt"

// MemoryContainer is an in-memory ByteContainer: a single growable byte
// buffer standing in for a disk image entirely inside the host process.
//
// MemoryContainer goes through the same ReadAt/WriteAt contract every other
// Container satisfies, rather than keeping a Go slice per block and per
// inode directly. This lets Disk assemble its superblock, bitmaps and inode
// table identically regardless of backend; since MemoryContainer never
// touches a syscall, the extra indirection costs nothing but a slice bounds
// check.
type MemoryContainer struct {
	buf    []byte
	closed bool
}

var _ Container = (*MemoryContainer)(nil)

// NewMemoryContainer returns an empty in-memory container.
func NewMemoryContainer() *MemoryContainer {
	return &MemoryContainer{}
}

func (m *MemoryContainer) ReadAt(p []byte, off int64) (int, error) {
	if m.closed {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset", ErrRange)
	}
	if off >= int64(len(m.buf)) {
		return 0, nil
	}
	n := copy(p, m.buf[off:])
	return n, nil
}

func (m *MemoryContainer) WriteAt(p []byte, off int64) (int, error) {
	if m.closed {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset", ErrRange)
	}
	end := off + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[off:end], p)
	return len(p), nil
}

func (m *MemoryContainer) Len() int64 {
	return int64(len(m.buf))
}

func (m *MemoryContainer) Truncate(n int64) error {
	if n < 0 {
		return fmt.Errorf("%w: negative truncate size", ErrRange)
	}
	if n <= int64(len(m.buf)) {
		m.buf = m.buf[:n]
		return nil
	}
	grown := make([]byte, n)
	copy(grown, m.buf)
	m.buf = grown
	return nil
}

func (m *MemoryContainer) Close() error {
	m.closed = true
	return nil
}
