package vdisk

import (
	"fmt"
	"io"
	"time"
)

// FileHandle is a positioned cursor over a regular file's InodeIO, with the
// open-mode semantics of Directory.Open.
type FileHandle struct {
	table *inodeTable
	ptr   uint64
	io    *InodeIO

	pos      uint64
	readable bool
	writable bool
	append   bool
	closed   bool
}

var _ io.ReadWriteSeeker = (*FileHandle)(nil)
var _ io.Closer = (*FileHandle)(nil)

func newFileHandle(table *inodeTable, ptr uint64, in *Inode, mode FileMode) (*FileHandle, error) {
	if in.Mode != ModeRegularFile {
		return nil, fmt.Errorf("%w: inode %d is mode %s", ErrIsDir, ptr, in.Mode)
	}
	if mode.Has(ModeCreate) && mode.Has(ModeExclusive) && !mode.Has(ModeWrite) && !mode.Has(ModeAppend) {
		return nil, fmt.Errorf("%w: CREATE|EXCLUSIVE needs WRITE or APPEND", ErrFlagCombo)
	}

	fh := &FileHandle{
		table:    table,
		ptr:      ptr,
		io:       table.newInodeIO(ptr, in),
		readable: mode.Has(ModeRead),
		writable: mode.Has(ModeWrite) || mode.Has(ModeAppend),
		append:   mode.Has(ModeAppend),
	}

	if mode.Has(ModeTruncate) {
		if err := fh.io.TruncateTo(0); err != nil {
			return nil, err
		}
		fh.io.Record().Mtime = uint64(time.Now().Unix())
	} else if fh.append {
		fh.pos = fh.io.Record().Size
	}

	return fh, nil
}

// Ptr returns the inode pointer this handle is open on.
func (fh *FileHandle) Ptr() uint64 { return fh.ptr }

// Size returns the file's current size.
func (fh *FileHandle) Size() uint64 { return fh.io.Record().Size }

// FileBuffer is an opaque view over an open FileHandle exposing only its
// size, for callers (WebDAV handlers, HTTP Content-Length) that need the
// current length without being handed read/write/seek access.
type FileBuffer struct {
	fh *FileHandle
}

// Size returns the underlying file's current size.
func (b FileBuffer) Size() uint64 { return b.fh.Size() }

// GetBuffer returns a FileBuffer over fh.
func (fh *FileHandle) GetBuffer() FileBuffer { return FileBuffer{fh: fh} }

// Seek repositions the cursor. Seeking past end-of-file is allowed; the gap
// is materialized on the next write.
func (fh *FileHandle) Seek(offset int64, whence int) (int64, error) {
	if fh.closed {
		return 0, ErrClosed
	}
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = int64(fh.pos) + offset
	case io.SeekEnd:
		newPos = int64(fh.io.Record().Size) + offset
	default:
		return 0, fmt.Errorf("%w: invalid whence %d", ErrRange, whence)
	}
	if newPos < 0 {
		return 0, fmt.Errorf("%w: negative seek position", ErrRange)
	}
	fh.pos = uint64(newPos)
	return newPos, nil
}

// Read reads into p starting at the current position, advancing it by the
// number of bytes read. Returns io.EOF once the position reaches the file's
// current size, matching io.Reader's contract.
func (fh *FileHandle) Read(p []byte) (int, error) {
	if fh.closed {
		return 0, ErrClosed
	}
	if !fh.readable {
		return 0, fmt.Errorf("%w: not open for reading", ErrReadOnly)
	}
	n, err := fh.io.ReadAt(p, fh.pos)
	fh.pos += uint64(n)
	if err != nil {
		return n, err
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Write writes p at the current position (or at end-of-file in append
// mode), advancing the position and updating mtime.
func (fh *FileHandle) Write(p []byte) (int, error) {
	if fh.closed {
		return 0, ErrClosed
	}
	if !fh.writable {
		return 0, fmt.Errorf("%w: not open for writing", ErrReadOnly)
	}
	if fh.append {
		fh.pos = fh.io.Record().Size
	}
	n, err := fh.io.WriteAt(fh.pos, p)
	fh.pos += uint64(n)
	fh.io.Record().Mtime = uint64(time.Now().Unix())
	return n, err
}

// Truncate resizes the file to size, defaulting to the current position
// when size is negative.
func (fh *FileHandle) Truncate(size int64) error {
	if fh.closed {
		return ErrClosed
	}
	if !fh.writable {
		return fmt.Errorf("%w: not open for writing", ErrReadOnly)
	}
	if size < 0 {
		size = int64(fh.pos)
	}
	if err := fh.io.TruncateTo(uint64(size)); err != nil {
		return err
	}
	fh.io.Record().Mtime = uint64(time.Now().Unix())
	if fh.pos > fh.io.Record().Size {
		fh.pos = fh.io.Record().Size
	}
	return nil
}

// Flush persists the in-memory inode record to the inode table without
// closing the handle.
func (fh *FileHandle) Flush() error {
	if fh.closed {
		return ErrClosed
	}
	return fh.table.writeInode(fh.ptr, fh.io.Record())
}

// Close flushes the inode record and marks the handle unusable.
func (fh *FileHandle) Close() error {
	if fh.closed {
		return nil
	}
	err := fh.table.writeInode(fh.ptr, fh.io.Record())
	fh.closed = true
	return err
}
