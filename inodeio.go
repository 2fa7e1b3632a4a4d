package vdisk

import "fmt"

// InodeIO is the logical-to-physical block map for one inode: it turns
// byte-range reads and writes into direct/single/double/triple indirect
// block lookups and allocations.
type InodeIO struct {
	store *blockStore
	inode *Inode

	// persist writes the inode record back to the inode table. Directory and
	// Disk supply this so InodeIO never needs to know where its own record
	// lives on disk.
	persist func(*Inode) error
}

func newInodeIO(store *blockStore, inode *Inode, persist func(*Inode) error) *InodeIO {
	return &InodeIO{store: store, inode: inode, persist: persist}
}

// Record exposes the in-memory record this InodeIO mutates.
func (io *InodeIO) Record() *Inode { return io.inode }

func (io *InodeIO) cfg() Config { return io.store.cfg }

// flush persists the inode record, used after any operation that changes
// size or pointers.
func (io *InodeIO) flush() error {
	if io.persist == nil {
		return nil
	}
	return io.persist(io.inode)
}

// ReadAt reads up to len(p) bytes starting at pos, returning the number of
// bytes actually read. Reads at or past the current size return (0, nil).
func (io *InodeIO) ReadAt(p []byte, pos uint64) (int, error) {
	if pos >= io.inode.Size {
		return 0, nil
	}
	n := uint64(len(p))
	if pos+n > io.inode.Size {
		n = io.inode.Size - pos
	}
	if n == 0 {
		return 0, nil
	}

	cfg := io.cfg()
	blockIdx := pos / cfg.BlockSize
	blockOff := pos % cfg.BlockSize

	read := uint64(0)
	for read < n {
		ptr, err := io.getItem(blockIdx)
		if err != nil {
			return int(read), err
		}
		if ptr == nullPtr {
			return int(read), fmt.Errorf("%w: inode hole inside declared size", ErrCorrupt)
		}
		block, err := io.store.readBlock(ptr)
		if err != nil {
			return int(read), err
		}
		chunk := cfg.BlockSize - blockOff
		remaining := n - read
		if chunk > remaining {
			chunk = remaining
		}
		copy(p[read:read+chunk], block[blockOff:blockOff+chunk])
		read += chunk
		blockIdx++
		blockOff = 0
	}
	return int(read), nil
}

// WriteAt writes data starting at pos, growing the file (and allocating
// blocks) as needed. A write positioned past the current size first
// zero-fills the gap, matching the container-level gap semantics so a
// sparse-looking write still produces a fully materialized byte range;
// there are no sparse holes.
func (io *InodeIO) WriteAt(pos uint64, data []byte) (int, error) {
	if pos > io.inode.Size {
		if _, err := io.writeAtNoFlush(io.inode.Size, make([]byte, pos-io.inode.Size)); err != nil {
			return 0, err
		}
	}
	n, err := io.writeAtNoFlush(pos, data)
	if err != nil {
		return n, err
	}
	if ferr := io.flush(); ferr != nil {
		return n, ferr
	}
	return n, nil
}

func (io *InodeIO) writeAtNoFlush(pos uint64, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	cfg := io.cfg()
	blockIdx := pos / cfg.BlockSize
	blockOff := pos % cfg.BlockSize

	written := 0
	remaining := len(data)
	for remaining > 0 {
		chunk := int(cfg.BlockSize - blockOff)
		if chunk > remaining {
			chunk = remaining
		}

		ptr, err := io.getItem(blockIdx)
		if err != nil {
			return written, err
		}
		if ptr == nullPtr {
			ptr, err = io.allocateBlockAt(blockIdx)
			if err != nil {
				return written, err
			}
		}

		block, err := io.store.readBlock(ptr)
		if err != nil {
			return written, err
		}
		copy(block[blockOff:int(blockOff)+chunk], data[written:written+chunk])
		if err := io.store.writeBlock(ptr, block); err != nil {
			return written, err
		}

		written += chunk
		remaining -= chunk
		blockIdx++
		blockOff = 0
	}

	end := pos + uint64(written)
	if end > io.inode.Size {
		io.inode.Size = end
	}
	return written, nil
}

// TruncateTo sets the file size to size, freeing any now-unreachable blocks
// (shrink) or zero-filling the new range (grow, via WriteAt's gap fill).
func (io *InodeIO) TruncateTo(size uint64) error {
	if size > io.inode.Size {
		_, err := io.WriteAt(io.inode.Size, make([]byte, size-io.inode.Size))
		return err
	}
	cfg := io.cfg()
	blocksRequired := int64(ceilDiv(size, cfg.BlockSize))
	if err := io.truncateBlocksTo(blocksRequired); err != nil {
		return err
	}
	io.inode.Size = size
	return io.flush()
}

// IterBlocks yields every allocated data block pointer for this inode, in
// logical order, stopping at the first unallocated slot.
func (io *InodeIO) IterBlocks() ([]uint64, error) {
	cfg := io.cfg()
	total := ceilDiv(io.inode.Size, cfg.BlockSize)
	ptrs := make([]uint64, 0, total)
	for i := uint64(0); i < total; i++ {
		ptr, err := io.getItem(i)
		if err != nil {
			return nil, err
		}
		if ptr == nullPtr {
			break
		}
		ptrs = append(ptrs, ptr)
	}
	return ptrs, nil
}

// --- logical index -> physical pointer ---

// getItem returns the block pointer at logical block index idx, or nullPtr
// if that slot (or an ancestor index block) has never been allocated.
func (io *InodeIO) getItem(idx uint64) (uint64, error) {
	cfg := io.cfg()

	if idx < numDirectPtr {
		return io.inode.Directs[idx], nil
	}
	idx -= numDirectPtr

	if idx < cfg.AddrsPerBlock {
		return io.getFromIndirect(io.inode.Indirect, idx, 1)
	}
	idx -= cfg.AddrsPerBlock

	if idx < cfg.DoubleRange {
		return io.getFromIndirect(io.inode.DoubleIndirect, idx, 2)
	}
	idx -= cfg.DoubleRange

	if idx < cfg.TripleRange {
		return io.getFromIndirect(io.inode.TripleIndirect, idx, 3)
	}

	return 0, fmt.Errorf("%w: block index beyond max file size", ErrRange)
}

func (io *InodeIO) getFromIndirect(ptr uint64, idx uint64, depth int) (uint64, error) {
	if ptr == nullPtr {
		return nullPtr, nil
	}
	if depth == 1 {
		return io.store.getIndexEntry(ptr, idx)
	}
	fanout := io.cfg().AddrsPerBlock
	if depth == 3 {
		fanout = io.cfg().DoubleRange
	}
	childIdx := idx / fanout
	rest := idx % fanout
	child, err := io.store.getIndexEntry(ptr, childIdx)
	if err != nil {
		return 0, err
	}
	return io.getFromIndirect(child, rest, depth-1)
}

// allocateBlockAt allocates a fresh data block and wires it into the
// pointer structure at logical index idx, creating any missing index blocks
// along the way. The data block is allocated before any index slot is made
// to point at it.
func (io *InodeIO) allocateBlockAt(idx uint64) (uint64, error) {
	ptr, err := io.store.allocBlock()
	if err != nil {
		return 0, err
	}
	if err := io.setItem(idx, ptr); err != nil {
		return 0, err
	}
	return ptr, nil
}

func (io *InodeIO) setItem(idx uint64, value uint64) error {
	cfg := io.cfg()

	if idx < numDirectPtr {
		io.inode.Directs[idx] = value
		return nil
	}
	idx -= numDirectPtr

	if idx < cfg.AddrsPerBlock {
		return io.setInIndirect(&io.inode.Indirect, idx, 1, value)
	}
	idx -= cfg.AddrsPerBlock

	if idx < cfg.DoubleRange {
		return io.setInIndirect(&io.inode.DoubleIndirect, idx, 2, value)
	}
	idx -= cfg.DoubleRange

	if idx < cfg.TripleRange {
		return io.setInIndirect(&io.inode.TripleIndirect, idx, 3, value)
	}

	return fmt.Errorf("%w: block index beyond max file size", ErrRange)
}

// setInIndirect writes value into the pointer tree rooted at *root,
// allocating root and any intermediate index blocks that don't exist yet.
func (io *InodeIO) setInIndirect(root *uint64, idx uint64, depth int, value uint64) error {
	if *root == nullPtr {
		ptr, err := io.store.allocBlock()
		if err != nil {
			return err
		}
		*root = ptr
	}
	return io.setInIndirectAt(*root, idx, depth, value)
}

func (io *InodeIO) setInIndirectAt(ptr uint64, idx uint64, depth int, value uint64) error {
	if depth == 1 {
		return io.store.setIndexEntry(ptr, idx, value)
	}
	fanout := io.cfg().AddrsPerBlock
	if depth == 3 {
		fanout = io.cfg().DoubleRange
	}
	childIdx := idx / fanout
	rest := idx % fanout

	child, err := io.store.getIndexEntry(ptr, childIdx)
	if err != nil {
		return err
	}
	if child == nullPtr {
		child, err = io.store.allocBlock()
		if err != nil {
			return err
		}
		if err := io.store.setIndexEntry(ptr, childIdx, child); err != nil {
			return err
		}
	}
	return io.setInIndirectAt(child, rest, depth-1, value)
}

// --- truncation ---

// truncateBlocksTo frees every allocated block at or past logical index
// blocksRequired, walking direct pointers first and then each indirection
// level, clearing an index block itself only once every one of its entries
// has been cleared.
func (io *InodeIO) truncateBlocksTo(blocksRequired int64) error {
	for i := 0; i < numDirectPtr; i++ {
		ptr := io.inode.Directs[i]
		if ptr == nullPtr {
			return nil
		}
		if blocksRequired <= 0 {
			if err := io.store.freeBlock(ptr); err != nil {
				return err
			}
			io.inode.Directs[i] = nullPtr
		}
		blocksRequired--
	}

	if io.inode.Indirect == nullPtr {
		return nil
	}
	empty, err := io.truncateIndirect(io.inode.Indirect, 1, &blocksRequired)
	if err != nil {
		return err
	}
	if empty {
		if err := io.store.freeBlock(io.inode.Indirect); err != nil {
			return err
		}
		io.inode.Indirect = nullPtr
	}

	if io.inode.DoubleIndirect == nullPtr {
		return nil
	}
	empty, err = io.truncateIndirect(io.inode.DoubleIndirect, 2, &blocksRequired)
	if err != nil {
		return err
	}
	if empty {
		if err := io.store.freeBlock(io.inode.DoubleIndirect); err != nil {
			return err
		}
		io.inode.DoubleIndirect = nullPtr
	}

	if io.inode.TripleIndirect == nullPtr {
		return nil
	}
	empty, err = io.truncateIndirect(io.inode.TripleIndirect, 3, &blocksRequired)
	if err != nil {
		return err
	}
	if empty {
		if err := io.store.freeBlock(io.inode.TripleIndirect); err != nil {
			return err
		}
		io.inode.TripleIndirect = nullPtr
	}
	return nil
}

// truncateIndirect returns true if every entry under ptr ended up cleared
// (meaning ptr itself is now eligible for freeing by the caller).
func (io *InodeIO) truncateIndirect(ptr uint64, depth int, blocksRequired *int64) (bool, error) {
	fanout := io.cfg().AddrsPerBlock
	isEmpty := true
	for idx := uint64(0); idx < fanout; idx++ {
		child, err := io.store.getIndexEntry(ptr, idx)
		if err != nil {
			return false, err
		}
		if child == nullPtr {
			return isEmpty, nil
		}

		if depth == 1 {
			if *blocksRequired <= 0 {
				if err := io.store.freeBlock(child); err != nil {
					return false, err
				}
				if err := io.store.setIndexEntry(ptr, idx, nullPtr); err != nil {
					return false, err
				}
			} else {
				isEmpty = false
			}
			*blocksRequired--
			continue
		}

		childEmpty, err := io.truncateIndirect(child, depth-1, blocksRequired)
		if err != nil {
			return false, err
		}
		if childEmpty {
			if err := io.store.freeBlock(child); err != nil {
				return false, err
			}
			if err := io.store.setIndexEntry(ptr, idx, nullPtr); err != nil {
				return false, err
			}
		} else {
			isEmpty = false
		}
	}
	return isEmpty, nil
}
