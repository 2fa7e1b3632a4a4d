package vdisk

import "fmt"

// superBlockDataLength is the fixed on-disk width, in bytes, of each of the
// four Config header fields (block size, inode size, num blocks, num
// inodes).
const superBlockDataLength = 12

// numDirectPtr is the number of direct block pointers carried in every inode.
const numDirectPtr = 12

// epochTimeBytes is the on-disk width of mtime/ctime.
const epochTimeBytes = 6

// maxNameLen is the largest permitted directory entry name length.
const maxNameLen = 255

// Config is the immutable geometry of a disk image: block size, inode size,
// and the fixed pool counts for blocks and inodes. Every other width
// (address lengths, indirection fan-out, max file size) is derived once from
// these four values.
type Config struct {
	BlockSize uint64
	InodeSize uint64
	NumBlocks uint64
	NumInodes uint64

	// Derived, computed once by NewConfig.
	BlockAddrLength int    // bytes needed to address NumBlocks
	InodeAddrLength int    // bytes needed to address NumInodes
	AddrsPerBlock   uint64 // block_size / block_addr_length, floored
	DoubleRange     uint64 // AddrsPerBlock^2
	TripleRange     uint64 // AddrsPerBlock^3
	MaxFileSize     uint64 // largest representable file size
	FileSizeLength  int    // bytes needed to encode MaxFileSize
	DiskSize        uint64 // BlockSize * NumBlocks
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// bitLen returns the number of bits needed to represent v (v.BitLen() in
// Python terms); bitLen(0) == 0.
func bitLen(v uint64) int {
	n := 0
	for v > 0 {
		n++
		v >>= 1
	}
	return n
}

func ceilDivInt(bits int) int {
	return (bits + 7) / 8
}

// NewConfig validates the four declared fields and derives every other width
// used by the inode indirection scheme, the directory entry stream, and the
// superblock header.
func NewConfig(blockSize, inodeSize, numBlocks, numInodes uint64) (Config, error) {
	if blockSize == 0 || inodeSize == 0 || numBlocks == 0 || numInodes == 0 {
		return Config{}, fmt.Errorf("%w: block_size, inode_size, num_blocks and num_inodes must be positive", ErrFormat)
	}

	c := Config{
		BlockSize: blockSize,
		InodeSize: inodeSize,
		NumBlocks: numBlocks,
		NumInodes: numInodes,
	}

	c.BlockAddrLength = ceilDivInt(bitLen(numBlocks))
	c.InodeAddrLength = ceilDivInt(bitLen(numInodes))
	if c.BlockAddrLength == 0 {
		c.BlockAddrLength = 1
	}
	if c.InodeAddrLength == 0 {
		c.InodeAddrLength = 1
	}

	c.AddrsPerBlock = blockSize / uint64(c.BlockAddrLength)
	if c.AddrsPerBlock == 0 {
		return Config{}, fmt.Errorf("%w: block_size too small to hold a single block address", ErrFormat)
	}
	c.DoubleRange = c.AddrsPerBlock * c.AddrsPerBlock
	c.TripleRange = c.DoubleRange * c.AddrsPerBlock

	c.MaxFileSize = (numDirectPtr + c.AddrsPerBlock + c.DoubleRange + c.TripleRange) * blockSize
	c.FileSizeLength = ceilDivInt(bitLen(c.MaxFileSize))
	if c.FileSizeLength == 0 {
		c.FileSizeLength = 1
	}

	c.DiskSize = blockSize * numBlocks

	if c.inodeRecordLength() > inodeSize {
		return Config{}, fmt.Errorf("%w: inode_size=%d too small, need at least %d", ErrFormat, inodeSize, c.inodeRecordLength())
	}

	return c, nil
}

// inodeRecordLength returns the number of bytes a single encoded inode
// record occupies before zero-padding to InodeSize.
func (c Config) inodeRecordLength() uint64 {
	return 1 + uint64(c.FileSizeLength) + 2*epochTimeBytes + uint64(numDirectPtr*c.BlockAddrLength) + 3*uint64(c.BlockAddrLength)
}

func (c Config) String() string {
	return fmt.Sprintf(
		"Config(block_size=%d, inode_size=%d, num_blocks=%d, num_inodes=%d, block_addr_length=%d, inode_addr_length=%d, addrs_per_block=%d, max_file_size=%d)",
		c.BlockSize, c.InodeSize, c.NumBlocks, c.NumInodes, c.BlockAddrLength, c.InodeAddrLength, c.AddrsPerBlock, c.MaxFileSize,
	)
}
