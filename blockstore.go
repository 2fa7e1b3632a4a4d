package vdisk

// blockStore gives InodeIO and Directory shared access to the data-block
// region: raw block read/write plus bitmap-backed allocation. dataOff is the
// absolute container offset of block 0.
type blockStore struct {
	container Container
	blocks    Bitmap
	cfg       Config
	dataOff   int64
}

func (bs *blockStore) blockOffset(ptr uint64) int64 {
	return bs.dataOff + int64(ptr)*int64(bs.cfg.BlockSize)
}

func (bs *blockStore) readBlock(ptr uint64) ([]byte, error) {
	buf := make([]byte, bs.cfg.BlockSize)
	if _, err := bs.container.ReadAt(buf, bs.blockOffset(ptr)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (bs *blockStore) writeBlock(ptr uint64, data []byte) error {
	_, err := bs.container.WriteAt(data, bs.blockOffset(ptr))
	return err
}

// allocBlock finds a free block, zero-fills it on disk and marks it used.
func (bs *blockStore) allocBlock() (uint64, error) {
	ptr, err := bs.blocks.FindAndFlipFree()
	if err != nil {
		return 0, err
	}
	if err := bs.writeBlock(ptr, make([]byte, bs.cfg.BlockSize)); err != nil {
		return 0, err
	}
	return ptr, nil
}

func (bs *blockStore) freeBlock(ptr uint64) error {
	return bs.blocks.Clear(ptr)
}

// getIndexEntry reads the block-address-width pointer stored at slot idx of
// the index block at ptr.
func (bs *blockStore) getIndexEntry(ptr uint64, idx uint64) (uint64, error) {
	off := bs.blockOffset(ptr) + int64(idx)*int64(bs.cfg.BlockAddrLength)
	buf := make([]byte, bs.cfg.BlockAddrLength)
	if _, err := bs.container.ReadAt(buf, off); err != nil {
		return 0, err
	}
	return getUintBE(buf, bs.cfg.BlockAddrLength), nil
}

// setIndexEntry writes a block-address-width pointer into slot idx of the
// index block at ptr.
func (bs *blockStore) setIndexEntry(ptr uint64, idx uint64, value uint64) error {
	off := bs.blockOffset(ptr) + int64(idx)*int64(bs.cfg.BlockAddrLength)
	buf := make([]byte, bs.cfg.BlockAddrLength)
	putUintBE(buf, bs.cfg.BlockAddrLength, value)
	_, err := bs.container.WriteAt(buf, off)
	return err
}
