package vdisk

import (
	"fmt"
	"log"
)

// Disk is the top-level assembly of a virtual filesystem image: a Config, the
// inode and block allocation bitmaps, the inode table, and the root
// directory, all addressed through a single Container.
//
// The on-disk image, relative to the start of the payload region (right
// after the disk-type byte for a plain image, or right after the crypto
// header for an encrypted one), is laid out as:
//
//	[ config header: 4 * 12 bytes            ]
//	[ inode bitmap: ceil(num_inodes/8) bytes  ]
//	[ block bitmap: ceil(num_blocks/8) bytes  ]
//	[ inode table: inode_size * num_inodes    ]
//	[ data blocks, block-addressed from 0     ]
//
// The inode table and bitmaps are themselves stored inside the first few
// data blocks (pre-marked allocated in the block bitmap), so block address 0
// is the first byte of the config header, not a separate region.
type Disk struct {
	container Container
	payloadBase int64
	cfg       Config

	inodesBitmap Bitmap
	blocksBitmap Bitmap
	table        *inodeTable
	root         *Directory

	reservedSpace uint64
	closed        bool
}

const diskTypePlain = 0x00
const diskTypeEncrypted = 0x01

func configHeaderLen() int64 { return 4 * superBlockDataLength }

// CreateMemoryDisk formats a brand-new image entirely in memory.
func CreateMemoryDisk(cfg Config) (*Disk, error) {
	c := NewMemoryContainer()
	if _, err := c.WriteAt([]byte{diskTypePlain}, 0); err != nil {
		return nil, err
	}
	return formatDisk(c, 1, cfg)
}

// OpenMemoryDisk is provided for symmetry and tests: it opens an in-memory
// image previously produced by reading a disk's bytes back into a
// MemoryContainer. Most callers will use CreateFileDisk/OpenFileDisk instead.
func OpenMemoryDisk(c *MemoryContainer) (*Disk, error) {
	return openPlainDisk(c)
}

// CreateFileDisk formats a brand-new image at path sized according to cfg.
func CreateFileDisk(path string, cfg Config) (*Disk, error) {
	c, err := CreateFileContainer(path, int64(cfg.DiskSize))
	if err != nil {
		return nil, err
	}
	if _, err := c.WriteAt([]byte{diskTypePlain}, 0); err != nil {
		c.Close()
		return nil, err
	}
	d, err := formatDisk(c, 1, cfg)
	if err != nil {
		c.Close()
		return nil, err
	}
	return d, nil
}

// OpenFileDisk opens an existing plain (unencrypted) image.
func OpenFileDisk(path string) (*Disk, error) {
	c, err := OpenFileContainer(path)
	if err != nil {
		return nil, err
	}
	d, err := openPlainDisk(c)
	if err != nil {
		c.Close()
		return nil, err
	}
	return d, nil
}

func openPlainDisk(c Container) (*Disk, error) {
	typeByte := make([]byte, 1)
	if _, err := c.ReadAt(typeByte, 0); err != nil {
		return nil, err
	}
	if typeByte[0] != diskTypePlain {
		return nil, fmt.Errorf("%w: disk-type byte %#x is not plain", ErrUnsupportedDiskType, typeByte[0])
	}
	return openDisk(c, 1)
}

// CreateEncryptedFileDisk formats a brand-new ChaCha20-encrypted image at path.
func CreateEncryptedFileDisk(path string, cfg Config, password []byte) (*Disk, error) {
	raw, err := CreateFileContainer(path, int64(cfg.DiskSize))
	if err != nil {
		return nil, err
	}
	enc, err := CreateEncryptedContainer(raw, password)
	if err != nil {
		raw.Close()
		return nil, err
	}
	d, err := formatDisk(enc, 0, cfg)
	if err != nil {
		enc.Close()
		return nil, err
	}
	return d, nil
}

// OpenEncryptedFileDisk opens an existing ChaCha20-encrypted image, failing
// with ErrAuth before any inode is read if password is wrong.
func OpenEncryptedFileDisk(path string, password []byte) (*Disk, error) {
	raw, err := OpenFileContainer(path)
	if err != nil {
		return nil, err
	}
	enc, err := OpenEncryptedContainer(raw, password)
	if err != nil {
		raw.Close()
		return nil, err
	}
	d, err := openDisk(enc, 0)
	if err != nil {
		enc.Close()
		return nil, err
	}
	return d, nil
}

// formatDisk writes a fresh header (config, bitmaps pre-marked for the
// header's own blocks, an empty inode table) and an empty root directory.
func formatDisk(c Container, payloadBase int64, cfg Config) (*Disk, error) {
	log.Printf("vdisk: formatting new image, block_size=%d inode_size=%d num_blocks=%d num_inodes=%d", cfg.BlockSize, cfg.InodeSize, cfg.NumBlocks, cfg.NumInodes)
	headerBuf := make([]byte, configHeaderLen())
	putUintBE(headerBuf[0:], superBlockDataLength, cfg.BlockSize)
	putUintBE(headerBuf[superBlockDataLength:], superBlockDataLength, cfg.InodeSize)
	putUintBE(headerBuf[2*superBlockDataLength:], superBlockDataLength, cfg.NumBlocks)
	putUintBE(headerBuf[3*superBlockDataLength:], superBlockDataLength, cfg.NumInodes)
	if _, err := c.WriteAt(headerBuf, payloadBase); err != nil {
		return nil, err
	}

	inodeBitmapBytes := ceilDiv(cfg.NumInodes, 8)
	blockBitmapBytes := ceilDiv(cfg.NumBlocks, 8)

	inodeBitmapOff := payloadBase + configHeaderLen()
	blockBitmapOff := inodeBitmapOff + int64(inodeBitmapBytes)
	inodeTableOff := blockBitmapOff + int64(blockBitmapBytes)
	headerSizeRequired := uint64(inodeTableOff-payloadBase) + cfg.InodeSize*cfg.NumInodes

	if cfg.DiskSize < headerSizeRequired+cfg.BlockSize {
		return nil, fmt.Errorf("%w: disk_size=%d too small, need at least %d", ErrFormat, cfg.DiskSize, headerSizeRequired+cfg.BlockSize)
	}

	// zero-fill the bitmaps and inode table before writing anything through them.
	if _, err := c.WriteAt(make([]byte, int64(inodeBitmapBytes)+int64(blockBitmapBytes)), inodeBitmapOff); err != nil {
		return nil, err
	}
	if _, err := c.WriteAt(make([]byte, cfg.InodeSize*cfg.NumInodes), inodeTableOff); err != nil {
		return nil, err
	}
	// touch the final byte of the image so file-backed containers are sized
	// (and, for encrypted containers, so the full region is valid ciphertext).
	if _, err := c.WriteAt([]byte{0}, int64(cfg.DiskSize)-1); err != nil {
		return nil, err
	}

	inodesBitmap, err := loadFileBitmap(c, inodeBitmapOff, cfg.NumInodes)
	if err != nil {
		return nil, err
	}
	blocksBitmap, err := loadFileBitmap(c, blockBitmapOff, cfg.NumBlocks)
	if err != nil {
		return nil, err
	}

	numSuperBlocks := ceilDiv(headerSizeRequired, cfg.BlockSize)
	if numSuperBlocks == 0 {
		return nil, fmt.Errorf("%w: computed zero super blocks", ErrFormat)
	}
	//log.Printf("vdisk: reserving %d super blocks for header+bitmaps+inode table", numSuperBlocks)
	for i := uint64(0); i < numSuperBlocks; i++ {
		if err := blocksBitmap.Set(i); err != nil {
			return nil, err
		}
	}

	store := &blockStore{container: c, blocks: blocksBitmap, cfg: cfg, dataOff: payloadBase}
	table := &inodeTable{container: c, cfg: cfg, offset: inodeTableOff, bitmap: inodesBitmap, blocks: store}

	root, err := createRootDirectory(table)
	if err != nil {
		return nil, err
	}

	return &Disk{
		container:     c,
		payloadBase:   payloadBase,
		cfg:           cfg,
		inodesBitmap:  inodesBitmap,
		blocksBitmap:  blocksBitmap,
		table:         table,
		root:          root,
		reservedSpace: headerSizeRequired,
	}, nil
}

// openDisk reads an existing header back from c and reconstructs the Disk.
func openDisk(c Container, payloadBase int64) (*Disk, error) {
	headerBuf := make([]byte, configHeaderLen())
	if _, err := c.ReadAt(headerBuf, payloadBase); err != nil {
		return nil, err
	}
	blockSize := getUintBE(headerBuf[0:], superBlockDataLength)
	inodeSize := getUintBE(headerBuf[superBlockDataLength:], superBlockDataLength)
	numBlocks := getUintBE(headerBuf[2*superBlockDataLength:], superBlockDataLength)
	numInodes := getUintBE(headerBuf[3*superBlockDataLength:], superBlockDataLength)
	log.Printf("vdisk: opening image, block_size=%d inode_size=%d num_blocks=%d num_inodes=%d", blockSize, inodeSize, numBlocks, numInodes)

	cfg, err := NewConfig(blockSize, inodeSize, numBlocks, numInodes)
	if err != nil {
		return nil, err
	}

	inodeBitmapBytes := ceilDiv(cfg.NumInodes, 8)
	blockBitmapBytes := ceilDiv(cfg.NumBlocks, 8)

	inodeBitmapOff := payloadBase + configHeaderLen()
	blockBitmapOff := inodeBitmapOff + int64(inodeBitmapBytes)
	inodeTableOff := blockBitmapOff + int64(blockBitmapBytes)
	headerSizeRequired := uint64(inodeTableOff-payloadBase) + cfg.InodeSize*cfg.NumInodes

	if cfg.DiskSize < headerSizeRequired+cfg.BlockSize {
		return nil, fmt.Errorf("%w: disk image too small for its own header, probably corrupt", ErrCorrupt)
	}

	inodesBitmap, err := loadFileBitmap(c, inodeBitmapOff, cfg.NumInodes)
	if err != nil {
		return nil, err
	}
	blocksBitmap, err := loadFileBitmap(c, blockBitmapOff, cfg.NumBlocks)
	if err != nil {
		return nil, err
	}

	numSuperBlocks := ceilDiv(headerSizeRequired, cfg.BlockSize)
	for i := uint64(0); i < numSuperBlocks; i++ {
		set, err := blocksBitmap.Get(i)
		if err != nil {
			return nil, err
		}
		if !set {
			return nil, fmt.Errorf("%w: header block %d not marked allocated", ErrCorrupt, i)
		}
	}
	if rootSet, err := inodesBitmap.Get(0); err != nil {
		return nil, err
	} else if !rootSet {
		return nil, fmt.Errorf("%w: root inode not marked allocated", ErrCorrupt)
	}

	store := &blockStore{container: c, blocks: blocksBitmap, cfg: cfg, dataOff: payloadBase}
	table := &inodeTable{container: c, cfg: cfg, offset: inodeTableOff, bitmap: inodesBitmap, blocks: store}

	root, err := openRootDirectory(table)
	if err != nil {
		return nil, err
	}

	return &Disk{
		container:     c,
		payloadBase:   payloadBase,
		cfg:           cfg,
		inodesBitmap:  inodesBitmap,
		blocksBitmap:  blocksBitmap,
		table:         table,
		root:          root,
		reservedSpace: headerSizeRequired,
	}, nil
}

// Root returns the root directory of the image.
func (d *Disk) Root() *Directory { return d.root }

// Config returns the image's geometry.
func (d *Disk) Config() Config { return d.cfg }

// TotalSpace returns the full size of the image in bytes.
func (d *Disk) TotalSpace() uint64 { return d.cfg.DiskSize }

// FreeSpace returns the number of unallocated bytes (free blocks * block size).
func (d *Disk) FreeSpace() uint64 { return d.blocksBitmap.FreeCount() * d.cfg.BlockSize }

// UsedSpace returns TotalSpace - FreeSpace.
func (d *Disk) UsedSpace() uint64 { return d.TotalSpace() - d.FreeSpace() }

// ReservedSpace returns the number of bytes occupied by the config header,
// bitmaps and inode table (always counted as "used", never freed).
func (d *Disk) ReservedSpace() uint64 { return d.reservedSpace }

// Close releases the underlying container. Safe to call more than once.
func (d *Disk) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	return d.container.Close()
}
