package vdisk

import (
	"fmt"
	"io"
	"os"
)

// FileContainer is a host-file-backed ByteContainer: a seekable file opened
// read/write, addressed by absolute offset.
type FileContainer struct {
	f      *os.File
	locked bool
	closed bool
}

var _ Container = (*FileContainer)(nil)

// CreateFileContainer creates a new host file at path and sizes it to size
// bytes (sparse on filesystems that support it; the caller is responsible
// for writing real content). Fails if path already exists.
func CreateFileContainer(path string, size int64) (*FileContainer, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("vdisk: create %s: %w", path, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	c := &FileContainer{f: f}
	if err := c.lock(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return c, nil
}

// OpenFileContainer opens an existing host file read/write.
func OpenFileContainer(path string) (*FileContainer, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("vdisk: open %s: %w", path, err)
	}
	c := &FileContainer{f: f}
	if err := c.lock(); err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

func (c *FileContainer) ReadAt(p []byte, off int64) (int, error) {
	if c.closed {
		return 0, ErrClosed
	}
	n, err := c.f.ReadAt(p, off)
	if err == io.EOF || (err != nil && n > 0) {
		// reaching the end of the file, or a partial read into its tail, is
		// not itself fatal: the Bitmap loader checks n against what it asked
		// for, and blockStore.readBlock leaves any unread tail of its buffer zero.
		return n, nil
	}
	return n, err
}

func (c *FileContainer) WriteAt(p []byte, off int64) (int, error) {
	if c.closed {
		return 0, ErrClosed
	}
	return c.f.WriteAt(p, off)
}

func (c *FileContainer) Len() int64 {
	st, err := c.f.Stat()
	if err != nil {
		return 0
	}
	return st.Size()
}

func (c *FileContainer) Truncate(n int64) error {
	if c.closed {
		return ErrClosed
	}
	return c.f.Truncate(n)
}

func (c *FileContainer) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.unlock()
	return c.f.Close()
}
