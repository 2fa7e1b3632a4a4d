package vdisk

// inodeTable bundles access to the fixed-size inode record array, the inode
// allocation bitmap, and the data-block store, so Directory and Disk share a
// single place that knows how to read, write and allocate inodes.
type inodeTable struct {
	container Container
	cfg       Config
	offset    int64 // absolute offset of inode 0's record
	bitmap    Bitmap
	blocks    *blockStore
}

func (t *inodeTable) inodeOffset(ptr uint64) int64 {
	return t.offset + int64(ptr)*int64(t.cfg.InodeSize)
}

func (t *inodeTable) readInode(ptr uint64) (*Inode, error) {
	buf := make([]byte, t.cfg.InodeSize)
	if _, err := t.container.ReadAt(buf, t.inodeOffset(ptr)); err != nil {
		return nil, err
	}
	return decodeInode(buf, t.cfg)
}

func (t *inodeTable) writeInode(ptr uint64, in *Inode) error {
	_, err := t.container.WriteAt(encodeInode(in, t.cfg), t.inodeOffset(ptr))
	return err
}

// allocInode finds a free inode slot and marks it used. The caller is
// responsible for writing an initial record into it.
func (t *inodeTable) allocInode() (uint64, error) {
	return t.bitmap.FindAndFlipFree()
}

func (t *inodeTable) freeInode(ptr uint64) error {
	return t.bitmap.Clear(ptr)
}

// newInodeIO builds an InodeIO bound to ptr, so every mutation through it is
// transparently persisted back to the inode's on-disk record.
func (t *inodeTable) newInodeIO(ptr uint64, in *Inode) *InodeIO {
	return newInodeIO(t.blocks, in, func(updated *Inode) error {
		return t.writeInode(ptr, updated)
	})
}
