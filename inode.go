package vdisk

import (
	"fmt"
	"time"
)

// nullPtr is the sentinel used for both "no block pointer" and "no parent
// inode" (the root directory's own parent, and every unused slot). Inode 0
// doubles as the address of the root directory.
const nullPtr uint64 = 0

// Inode is the fixed-width on-disk metadata record for one file or
// directory: mode, size, timestamps, and the direct/indirect block pointers
// that make up the logical-to-physical block map.
type Inode struct {
	Mode  InodeMode
	Size  uint64
	Mtime uint64
	Ctime uint64

	Directs        [numDirectPtr]uint64
	Indirect       uint64
	DoubleIndirect uint64
	TripleIndirect uint64
}

// NewInode builds a fresh, empty inode of the given mode with both
// timestamps set to now.
func NewInode(mode InodeMode) *Inode {
	now := uint64(time.Now().Unix())
	return &Inode{Mode: mode, Mtime: now, Ctime: now}
}

// decodeInode parses a raw InodeSize-length record. Returns ErrFormat if data
// isn't exactly cfg.InodeSize bytes or carries an unrecognized mode byte.
func decodeInode(data []byte, cfg Config) (*Inode, error) {
	if uint64(len(data)) != cfg.InodeSize {
		return nil, fmt.Errorf("%w: inode record is %d bytes, want %d", ErrFormat, len(data), cfg.InodeSize)
	}

	off := 0
	mode := InodeMode(data[off])
	off++

	size := getUintBE(data[off:], cfg.FileSizeLength)
	off += cfg.FileSizeLength

	mtime := getUintBE(data[off:], epochTimeBytes)
	off += epochTimeBytes
	ctime := getUintBE(data[off:], epochTimeBytes)
	off += epochTimeBytes

	in := &Inode{Mode: mode, Size: size, Mtime: mtime, Ctime: ctime}
	for i := 0; i < numDirectPtr; i++ {
		in.Directs[i] = getUintBE(data[off:], cfg.BlockAddrLength)
		off += cfg.BlockAddrLength
	}
	in.Indirect = getUintBE(data[off:], cfg.BlockAddrLength)
	off += cfg.BlockAddrLength
	in.DoubleIndirect = getUintBE(data[off:], cfg.BlockAddrLength)
	off += cfg.BlockAddrLength
	in.TripleIndirect = getUintBE(data[off:], cfg.BlockAddrLength)

	if in.Mode != ModeRegularFile && in.Mode != ModeDirectory {
		return nil, fmt.Errorf("%w: inode mode byte %d is not a recognized mode", ErrFormat, data[0])
	}

	return in, nil
}

// encodeInode serializes in into a zero-padded cfg.InodeSize-length record.
func encodeInode(in *Inode, cfg Config) []byte {
	data := make([]byte, cfg.InodeSize)
	off := 0
	data[off] = byte(in.Mode)
	off++

	putUintBE(data[off:], cfg.FileSizeLength, in.Size)
	off += cfg.FileSizeLength

	putUintBE(data[off:], epochTimeBytes, in.Mtime)
	off += epochTimeBytes
	putUintBE(data[off:], epochTimeBytes, in.Ctime)
	off += epochTimeBytes

	for i := 0; i < numDirectPtr; i++ {
		putUintBE(data[off:], cfg.BlockAddrLength, in.Directs[i])
		off += cfg.BlockAddrLength
	}
	putUintBE(data[off:], cfg.BlockAddrLength, in.Indirect)
	off += cfg.BlockAddrLength
	putUintBE(data[off:], cfg.BlockAddrLength, in.DoubleIndirect)
	off += cfg.BlockAddrLength
	putUintBE(data[off:], cfg.BlockAddrLength, in.TripleIndirect)

	return data
}
