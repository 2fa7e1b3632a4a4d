//go:build fuse

package vdisk

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// fuseNode wraps a Directory (or a regular file's inode pointer) as a
// go-fuse node, so a Disk can be bind-mounted directly. This file is opt-in
// via the "fuse" build tag; the core package never imports it.
type fuseNode struct {
	fs.Inode
	disk *Disk
	dir  *Directory // set for directories
	ptr  uint64     // inode pointer, valid for both files and directories
}

var (
	_ fs.NodeLookuper  = (*fuseNode)(nil)
	_ fs.NodeReaddirer = (*fuseNode)(nil)
	_ fs.NodeGetattrer = (*fuseNode)(nil)
	_ fs.NodeOpener    = (*fuseNode)(nil)
)

// Mount bind-mounts disk's root directory at mountpoint using go-fuse's
// high-level node API, returning the running server.
func Mount(disk *Disk, mountpoint string) (*fuse.Server, error) {
	root := &fuseNode{disk: disk, dir: disk.Root(), ptr: disk.Root().Ptr()}
	server, err := fs.Mount(mountpoint, root, &fs.Options{})
	if err != nil {
		return nil, err
	}
	return server.Server, nil
}

func (n *fuseNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if n.dir == nil {
		return nil, syscall.ENOTDIR
	}
	ptr, in, ok, err := n.dir.GetChildInode(name)
	if err != nil {
		return nil, syscall.EIO
	}
	if !ok {
		return nil, syscall.ENOENT
	}

	fillAttr(in, &out.Attr)

	if in.Mode == ModeDirectory {
		child, err := n.dir.Chdir(name)
		if err != nil {
			return nil, syscall.EIO
		}
		node := &fuseNode{disk: n.disk, dir: child, ptr: ptr}
		return n.NewInode(ctx, node, fs.StableAttr{Mode: uint32(fsDirMode), Ino: ptr}), 0
	}

	node := &fuseNode{disk: n.disk, ptr: ptr}
	return n.NewInode(ctx, node, fs.StableAttr{Ino: ptr}), 0
}

func (n *fuseNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	if n.dir == nil {
		return nil, syscall.ENOTDIR
	}
	names, err := n.dir.ListDir(false)
	if err != nil {
		return nil, syscall.EIO
	}
	entries := make([]fuse.DirEntry, 0, len(names))
	for _, name := range names {
		_, in, ok, err := n.dir.GetChildInode(name)
		if err != nil || !ok {
			continue
		}
		mode := uint32(0)
		if in.Mode == ModeDirectory {
			mode = fsDirMode
		}
		entries = append(entries, fuse.DirEntry{Name: name, Mode: mode})
	}
	return fs.NewListDirStream(entries), 0
}

func (n *fuseNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	in := n.currentInode()
	if in == nil {
		return syscall.ENOENT
	}
	fillAttr(in, &out.Attr)
	return 0
}

func (n *fuseNode) currentInode() *Inode {
	if n.dir != nil {
		return n.dir.Inode()
	}
	in, err := n.disk.table.readInode(n.ptr)
	if err != nil {
		return nil
	}
	return in
}

func (n *fuseNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if n.dir != nil {
		return nil, 0, syscall.EISDIR
	}
	in, err := n.disk.table.readInode(n.ptr)
	if err != nil {
		return nil, 0, syscall.EIO
	}
	handle := n.disk.table.newInodeIO(n.ptr, in)
	return &fuseFileHandle{io: handle}, 0, 0
}

type fuseFileHandle struct {
	io *InodeIO
}

var (
	_ fs.FileReader = (*fuseFileHandle)(nil)
	_ fs.FileWriter = (*fuseFileHandle)(nil)
)

func (h *fuseFileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := h.io.ReadAt(dest, uint64(off))
	if err != nil {
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *fuseFileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := h.io.WriteAt(uint64(off), data)
	if err != nil {
		return 0, syscall.EIO
	}
	return uint32(n), 0
}

const fsDirMode = 0o040000 // S_IFDIR, the directory file-type bits

func fillAttr(in *Inode, attr *fuse.Attr) {
	attr.Size = in.Size
	attr.Mtime = in.Mtime
	attr.Ctime = in.Ctime
	if in.Mode == ModeDirectory {
		attr.Mode = fsDirMode | 0o755
	} else {
		attr.Mode = 0o100000 | 0o644
	}
}
