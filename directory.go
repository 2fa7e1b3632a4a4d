package vdisk

import (
	"errors"
	"fmt"
)

// nameLenWidth is the width, in bytes, of the name-length prefix on every
// directory entry: the 255-byte name limit fits in a single byte.
const nameLenWidth = 1

// defaultCopyChunk bounds the buffer size used by CopyFile/CopyTree when the
// caller doesn't request a specific chunk size.
const defaultCopyChunk = 64 * 1024

type dirEntry struct {
	name string
	ptr  uint64
}

// TreeEntry is one node of the result of Directory.ListTree: a name, and for
// directories, its own children.
type TreeEntry struct {
	Name     string
	IsDir    bool
	Children []TreeEntry
}

// Directory wraps a directory inode, exposing the directory's own entry
// stream as tree operations. A directory's content is itself a regular
// InodeIO byte stream: a flat run of [name_len][name][inode_ptr] records,
// starting with "." and ".." for every directory, with the root's ".."
// pointing back at itself.
type Directory struct {
	table *inodeTable
	ptr   uint64
	io    *InodeIO
}

func newDirectory(table *inodeTable, ptr uint64, in *Inode) (*Directory, error) {
	if in.Mode != ModeDirectory {
		return nil, fmt.Errorf("%w: inode %d is mode %s", ErrNotDirectory, ptr, in.Mode)
	}
	return &Directory{table: table, ptr: ptr, io: table.newInodeIO(ptr, in)}, nil
}

// createRootDirectory allocates and initializes inode 0 as the root
// directory, whose "." and ".." both point at itself.
func createRootDirectory(table *inodeTable) (*Directory, error) {
	ptr, err := table.allocInode()
	if err != nil {
		return nil, err
	}
	in := NewInode(ModeDirectory)
	if err := table.writeInode(ptr, in); err != nil {
		return nil, err
	}
	d, err := newDirectory(table, ptr, in)
	if err != nil {
		return nil, err
	}
	if err := d.addEntry(".", ptr); err != nil {
		return nil, err
	}
	if err := d.addEntry("..", ptr); err != nil {
		return nil, err
	}
	return d, nil
}

func openRootDirectory(table *inodeTable) (*Directory, error) {
	in, err := table.readInode(0)
	if err != nil {
		return nil, err
	}
	return newDirectory(table, 0, in)
}

// Ptr returns the inode pointer identifying this directory.
func (d *Directory) Ptr() uint64 { return d.ptr }

// Inode exposes the directory's own inode record.
func (d *Directory) Inode() *Inode { return d.io.Record() }

func (d *Directory) openChild(ptr uint64) (*Directory, error) {
	in, err := d.table.readInode(ptr)
	if err != nil {
		return nil, err
	}
	return newDirectory(d.table, ptr, in)
}

// --- raw entry stream ---

func (d *Directory) iterEntries() ([]dirEntry, error) {
	size := d.io.Record().Size
	data := make([]byte, size)
	if _, err := d.io.ReadAt(data, 0); err != nil {
		return nil, err
	}

	var entries []dirEntry
	off := uint64(0)
	addrLen := d.table.cfg.InodeAddrLength
	for off < size {
		if off+nameLenWidth > size {
			return nil, fmt.Errorf("%w: truncated directory entry", ErrCorrupt)
		}
		nameLen := uint64(data[off])
		off += nameLenWidth
		if off+nameLen+uint64(addrLen) > size {
			return nil, fmt.Errorf("%w: truncated directory entry", ErrCorrupt)
		}
		name := string(data[off : off+nameLen])
		off += nameLen
		ptr := getUintBE(data[off:], addrLen)
		off += uint64(addrLen)
		entries = append(entries, dirEntry{name: name, ptr: ptr})
	}
	return entries, nil
}

func (d *Directory) findEntry(name string) (uint64, bool, error) {
	entries, err := d.iterEntries()
	if err != nil {
		return 0, false, err
	}
	for _, e := range entries {
		if e.name == name {
			return e.ptr, true, nil
		}
	}
	return 0, false, nil
}

func encodeDirEntry(name string, ptr uint64, addrLen int) []byte {
	buf := make([]byte, nameLenWidth+len(name)+addrLen)
	buf[0] = byte(len(name))
	copy(buf[nameLenWidth:], name)
	putUintBE(buf[nameLenWidth+len(name):], addrLen, ptr)
	return buf
}

func (d *Directory) addEntry(name string, ptr uint64) error {
	if len(name) > maxNameLen {
		return fmt.Errorf("%w: %q is %d bytes", ErrNameTooLong, name, len(name))
	}
	entry := encodeDirEntry(name, ptr, d.table.cfg.InodeAddrLength)
	_, err := d.io.WriteAt(d.io.Record().Size, entry)
	return err
}

// removeEntry rewrites the directory content without the named entry
// (compacting, never leaving a hole) and returns the inode pointer it held.
func (d *Directory) removeEntry(name string) (uint64, error) {
	entries, err := d.iterEntries()
	if err != nil {
		return 0, err
	}

	var removedPtr uint64
	found := false
	kept := entries[:0:0]
	for _, e := range entries {
		if e.name == name {
			found = true
			removedPtr = e.ptr
			continue
		}
		kept = append(kept, e)
	}
	if !found {
		return 0, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	addrLen := d.table.cfg.InodeAddrLength
	var buf []byte
	for _, e := range kept {
		buf = append(buf, encodeDirEntry(e.name, e.ptr, addrLen)...)
	}
	if _, err := d.io.WriteAt(0, buf); err != nil {
		return 0, err
	}
	if err := d.io.TruncateTo(uint64(len(buf))); err != nil {
		return 0, err
	}
	return removedPtr, nil
}

// --- traversal ---

// GetChildInode resolves a path of names relative to d and returns the
// inode pointer and record at the end of it. ok is false if any component
// along the way doesn't exist.
func (d *Directory) GetChildInode(names ...string) (ptr uint64, in *Inode, ok bool, err error) {
	if len(names) == 0 {
		return d.ptr, d.io.Record(), true, nil
	}
	dirNames, lastName := names[:len(names)-1], names[len(names)-1]

	current := d
	for _, name := range dirNames {
		if name == "." {
			continue
		}
		childPtr, found, ferr := current.findEntry(name)
		if ferr != nil {
			return 0, nil, false, ferr
		}
		if !found {
			return 0, nil, false, nil
		}
		current, err = current.openChild(childPtr)
		if err != nil {
			return 0, nil, false, err
		}
	}

	childPtr, found, ferr := current.findEntry(lastName)
	if ferr != nil {
		return 0, nil, false, ferr
	}
	if !found {
		return 0, nil, false, nil
	}
	in, err = d.table.readInode(childPtr)
	if err != nil {
		return 0, nil, false, err
	}
	return childPtr, in, true, nil
}

// ListDir returns the names of every entry directly inside d. Unless
// includeDotEntries is set, "." and ".." are omitted.
func (d *Directory) ListDir(includeDotEntries bool) ([]string, error) {
	entries, err := d.iterEntries()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !includeDotEntries && (e.name == "." || e.name == "..") {
			continue
		}
		names = append(names, e.name)
	}
	return names, nil
}

// ListTree recursively lists d's contents as a tree.
func (d *Directory) ListTree(includeDotEntries bool) ([]TreeEntry, error) {
	entries, err := d.iterEntries()
	if err != nil {
		return nil, err
	}

	var result []TreeEntry
	for _, e := range entries {
		if e.name == "." || e.name == ".." {
			if includeDotEntries {
				result = append(result, TreeEntry{Name: e.name})
			}
			continue
		}
		in, err := d.table.readInode(e.ptr)
		if err != nil {
			return nil, err
		}
		if in.Mode == ModeDirectory {
			child, err := newDirectory(d.table, e.ptr, in)
			if err != nil {
				return nil, err
			}
			children, err := child.ListTree(includeDotEntries)
			if err != nil {
				return nil, err
			}
			result = append(result, TreeEntry{Name: e.name, IsDir: true, Children: children})
		} else {
			result = append(result, TreeEntry{Name: e.name})
		}
	}
	return result, nil
}

// Chdir resolves a path of child directory names relative to d.
func (d *Directory) Chdir(names ...string) (*Directory, error) {
	current := d
	for _, name := range names {
		if name == "." {
			continue
		}
		ptr, found, err := current.findEntry(name)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		current, err = current.openChild(ptr)
		if err != nil {
			return nil, err
		}
	}
	return current, nil
}

// Exists reports whether the path of names resolves to an entry.
func (d *Directory) Exists(names ...string) (bool, error) {
	if len(names) == 0 {
		return true, nil
	}
	dirNames, lastName := names[:len(names)-1], names[len(names)-1]
	current, err := d.Chdir(dirNames...)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	_, found, err := current.findEntry(lastName)
	return found, err
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDir reports whether names resolves to a directory. Returns ErrNotFound
// if the path doesn't resolve to anything.
func (d *Directory) IsDir(names ...string) (bool, error) {
	_, in, ok, err := d.GetChildInode(names...)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("%w: %v", ErrNotFound, names)
	}
	return in.Mode == ModeDirectory, nil
}

// IsFile reports whether names resolves to a regular file.
func (d *Directory) IsFile(names ...string) (bool, error) {
	_, in, ok, err := d.GetChildInode(names...)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("%w: %v", ErrNotFound, names)
	}
	return in.Mode == ModeRegularFile, nil
}

// --- mutation ---

// Mkdir creates a child directory named name. If it already exists and
// existOK is set, the existing directory is returned instead of erroring.
func (d *Directory) Mkdir(name string, existOK bool) (*Directory, error) {
	if ptr, found, err := d.findEntry(name); err != nil {
		return nil, err
	} else if found {
		if existOK {
			return d.openChild(ptr)
		}
		return nil, fmt.Errorf("%w: %q", ErrExists, name)
	}

	ptr, err := d.table.allocInode()
	if err != nil {
		return nil, err
	}
	in := NewInode(ModeDirectory)
	if err := d.table.writeInode(ptr, in); err != nil {
		return nil, err
	}
	if err := d.addEntry(name, ptr); err != nil {
		return nil, err
	}

	child, err := newDirectory(d.table, ptr, in)
	if err != nil {
		return nil, err
	}
	if err := child.addEntry(".", ptr); err != nil {
		return nil, err
	}
	if err := child.addEntry("..", d.ptr); err != nil {
		return nil, err
	}
	return child, nil
}

// MakeDirs creates every directory along names, creating intermediate
// directories as needed.
func (d *Directory) MakeDirs(names []string, existOK bool) (*Directory, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: empty path", ErrRange)
	}
	current := d
	for i, name := range names {
		last := i == len(names)-1
		child, err := current.Mkdir(name, existOK || !last)
		if err != nil {
			return nil, err
		}
		current = child
	}
	return current, nil
}

// Remove unlinks a regular file named name. If removedOK is set, a missing
// file is not an error.
func (d *Directory) Remove(name string, removedOK bool) error {
	ptr, found, err := d.findEntry(name)
	if err != nil {
		return err
	}
	if !found {
		if removedOK {
			return nil
		}
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return d.removeByPtr(name, ptr)
}

func (d *Directory) removeByPtr(name string, ptr uint64) error {
	in, err := d.table.readInode(ptr)
	if err != nil {
		return err
	}
	if in.Mode == ModeDirectory {
		return fmt.Errorf("%w: %q", ErrIsDir, name)
	}
	io := d.table.newInodeIO(ptr, in)
	if err := io.TruncateTo(0); err != nil {
		return err
	}
	if err := d.table.freeInode(ptr); err != nil {
		return err
	}
	removed, err := d.removeEntry(name)
	if err != nil {
		return err
	}
	if removed != ptr {
		return fmt.Errorf("%w: removed wrong inode pointer", ErrCorrupt)
	}
	return nil
}

// Rmdir removes the empty child directory dirName.
func (d *Directory) Rmdir(dirName string) error {
	if dirName == "." || dirName == ".." {
		return ErrSelfOrParent
	}
	child, err := d.Chdir(dirName)
	if err != nil {
		return err
	}
	names, err := child.ListDir(true)
	if err != nil {
		return err
	}
	if len(names) > 2 {
		return fmt.Errorf("%w: %q", ErrNotEmpty, dirName)
	}
	if _, err := child.removeEntry("."); err != nil {
		return err
	}
	if _, err := child.removeEntry(".."); err != nil {
		return err
	}
	if err := d.table.freeInode(child.ptr); err != nil {
		return err
	}
	removed, err := d.removeEntry(dirName)
	if err != nil {
		return err
	}
	if removed != child.ptr {
		return fmt.Errorf("%w: removed wrong inode pointer", ErrCorrupt)
	}
	return nil
}

// RemoveDirs removes an empty directory chain, innermost first.
func (d *Directory) RemoveDirs(names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("%w: empty path", ErrRange)
	}
	name, rest := names[0], names[1:]
	if len(rest) == 0 {
		return d.Rmdir(name)
	}
	child, err := d.Chdir(name)
	if err != nil {
		return err
	}
	if err := child.RemoveDirs(rest); err != nil {
		return err
	}
	return d.Rmdir(name)
}

// Rename moves the entry at src to dest, both paths relative to d, fixing
// up a moved directory's ".." entry so it still resolves to its new parent.
func (d *Directory) Rename(src, dest []string, overwrite bool) error {
	if len(src) == 0 || len(dest) == 0 {
		return fmt.Errorf("%w: empty path", ErrRange)
	}
	srcDirNames, srcName := src[:len(src)-1], src[len(src)-1]
	destDirNames, destName := dest[:len(dest)-1], dest[len(dest)-1]

	srcDir, err := d.Chdir(srcDirNames...)
	if err != nil {
		return err
	}
	destDir, err := d.Chdir(destDirNames...)
	if err != nil {
		return err
	}
	if destDir.ptr == srcDir.ptr {
		// one handle for both edits, so each sees the other's changes
		destDir = srcDir
	}

	ptr, found, err := srcDir.findEntry(srcName)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %v", ErrNotFound, src)
	}
	in, err := d.table.readInode(ptr)
	if err != nil {
		return err
	}

	if overwrite {
		if err := destDir.Remove(destName, true); err != nil {
			return err
		}
	} else if _, found, err := destDir.findEntry(destName); err != nil {
		return err
	} else if found {
		return fmt.Errorf("%w: %v", ErrExists, dest)
	}

	if in.Mode == ModeDirectory {
		moved, err := srcDir.openChild(ptr)
		if err != nil {
			return err
		}
		if _, err := moved.removeEntry(".."); err != nil {
			return err
		}
		if err := moved.addEntry("..", destDir.ptr); err != nil {
			return err
		}
	}

	removed, err := srcDir.removeEntry(srcName)
	if err != nil {
		return err
	}
	if removed != ptr {
		return fmt.Errorf("%w: removed wrong inode pointer", ErrCorrupt)
	}
	return destDir.addEntry(destName, ptr)
}

// CreateEmptyFile allocates a fresh zero-length regular file named name.
func (d *Directory) CreateEmptyFile(name string) (uint64, *Inode, error) {
	ptr, err := d.table.allocInode()
	if err != nil {
		return 0, nil, err
	}
	in := NewInode(ModeRegularFile)
	if err := d.table.writeInode(ptr, in); err != nil {
		return 0, nil, err
	}
	if err := d.addEntry(name, ptr); err != nil {
		return 0, nil, err
	}
	return ptr, in, nil
}

// Open opens name as a FileHandle under the given open-mode flags.
func (d *Directory) Open(name string, mode FileMode) (*FileHandle, error) {
	ptr, found, err := d.findEntry(name)
	if err != nil {
		return nil, err
	}

	var in *Inode
	if !found {
		if !mode.Has(ModeCreate) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		if !mode.Has(ModeWrite) && !mode.Has(ModeAppend) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		ptr, in, err = d.CreateEmptyFile(name)
		if err != nil {
			return nil, err
		}
	} else if mode.Has(ModeCreate) && mode.Has(ModeExclusive) {
		return nil, fmt.Errorf("%w: %q", ErrExists, name)
	} else {
		in, err = d.table.readInode(ptr)
		if err != nil {
			return nil, err
		}
		if in.Mode != ModeRegularFile {
			return nil, fmt.Errorf("%w: %q", ErrIsDir, name)
		}
	}

	return newFileHandle(d.table, ptr, in, mode)
}

// RmTree recursively removes dirName and everything inside it.
func (d *Directory) RmTree(dirName string) error {
	if dirName == "." || dirName == ".." {
		return ErrSelfOrParent
	}
	child, err := d.Chdir(dirName)
	if err != nil {
		return err
	}
	entries, err := child.iterEntries()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.name == "." || e.name == ".." {
			continue
		}
		in, err := d.table.readInode(e.ptr)
		if err != nil {
			return err
		}
		if in.Mode == ModeDirectory {
			if err := child.RmTree(e.name); err != nil {
				return err
			}
		} else if err := child.removeByPtr(e.name, e.ptr); err != nil {
			return err
		}
	}
	if err := child.io.TruncateTo(0); err != nil {
		return err
	}
	if err := d.table.freeInode(child.ptr); err != nil {
		return err
	}
	removed, err := d.removeEntry(dirName)
	if err != nil {
		return err
	}
	if removed != child.ptr {
		return fmt.Errorf("%w: removed wrong inode pointer", ErrCorrupt)
	}
	return nil
}

// CopyFile copies the file at src to dest, both relative to d.
func (d *Directory) CopyFile(src, dest []string, overwrite bool, chunkSize int) error {
	if len(src) == 0 || len(dest) == 0 {
		return fmt.Errorf("%w: empty path", ErrRange)
	}
	srcDirNames, srcName := src[:len(src)-1], src[len(src)-1]
	destDirNames, destName := dest[:len(dest)-1], dest[len(dest)-1]

	srcDir, err := d.Chdir(srcDirNames...)
	if err != nil {
		return err
	}
	destDir, err := d.Chdir(destDirNames...)
	if err != nil {
		return err
	}
	return copyFileBetween(srcDir, srcName, destDir, destName, overwrite, chunkSize)
}

func copyFileBetween(srcDir *Directory, srcName string, destDir *Directory, destName string, overwrite bool, chunkSize int) error {
	if overwrite {
		if err := destDir.Remove(destName, true); err != nil {
			return err
		}
	}
	srcFile, err := srcDir.Open(srcName, ModeRead)
	if err != nil {
		return err
	}
	defer srcFile.Close()
	destFile, err := destDir.Open(destName, ModeCreate|ModeWrite|ModeExclusive)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if chunkSize <= 0 {
		chunkSize = defaultCopyChunk
	}
	buf := make([]byte, chunkSize)
	for {
		n, err := srcFile.Read(buf)
		if n > 0 {
			if _, werr := destFile.Write(buf[:n]); werr != nil {
				return werr
			}
			if err := destFile.Flush(); err != nil {
				return err
			}
		}
		if err != nil {
			break
		}
	}
	return nil
}

// CopyTree recursively copies the directory at src to dest.
func (d *Directory) CopyTree(src, dest []string, overwrite bool, chunkSize int) error {
	if len(dest) == 0 {
		return fmt.Errorf("%w: empty path", ErrRange)
	}
	destDirNames, destDirName := dest[:len(dest)-1], dest[len(dest)-1]

	srcDir, err := d.Chdir(src...)
	if err != nil {
		return err
	}
	destParent, err := d.Chdir(destDirNames...)
	if err != nil {
		return err
	}
	destDir, err := destParent.Mkdir(destDirName, true)
	if err != nil {
		return err
	}
	return copyTreeRecursive(srcDir, destDir, overwrite, chunkSize)
}

func copyTreeRecursive(srcDir, destDir *Directory, overwrite bool, chunkSize int) error {
	entries, err := srcDir.iterEntries()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.name == "." || e.name == ".." {
			continue
		}
		in, err := srcDir.table.readInode(e.ptr)
		if err != nil {
			return err
		}
		if in.Mode == ModeDirectory {
			newSrc, err := newDirectory(srcDir.table, e.ptr, in)
			if err != nil {
				return err
			}
			newDest, err := destDir.Mkdir(e.name, true)
			if err != nil {
				return err
			}
			if err := copyTreeRecursive(newSrc, newDest, overwrite, chunkSize); err != nil {
				return err
			}
		} else if err := copyFileBetween(srcDir, e.name, destDir, e.name, overwrite, chunkSize); err != nil {
			return err
		}
	}
	return nil
}
