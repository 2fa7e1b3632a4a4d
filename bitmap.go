package vdisk

import (
	"fmt"
	"math/bits"
)

// memBitmap is a fixed-size bit array held entirely in memory: one bit per
// inode or one bit per block, set meaning allocated.
//
// FindFree scans for the lowest clear bit. There is no free list; allocator
// churn is assumed low-frequency enough that a linear scan is acceptable.
type memBitmap struct {
	size uint64
	data []byte
}

func newMemBitmap(size uint64) *memBitmap {
	return &memBitmap{
		size: size,
		data: make([]byte, (size+7)/8),
	}
}

func (b *memBitmap) checkRange(i uint64) error {
	if i >= b.size {
		return fmt.Errorf("%w: bitmap index %d out of range [0,%d)", ErrRange, i, b.size)
	}
	return nil
}

// Set marks bit i allocated.
func (b *memBitmap) Set(i uint64) error {
	if err := b.checkRange(i); err != nil {
		return err
	}
	b.data[i/8] |= 1 << (i % 8)
	return nil
}

// Clear marks bit i free.
func (b *memBitmap) Clear(i uint64) error {
	if err := b.checkRange(i); err != nil {
		return err
	}
	b.data[i/8] &^= 1 << (i % 8)
	return nil
}

// get is the unchecked variant used on internal hot paths where the index
// is already known to be in range.
func (b *memBitmap) get(i uint64) bool {
	return b.data[i/8]&(1<<(i%8)) != 0
}

// Get is the bounds-checked variant.
func (b *memBitmap) Get(i uint64) (bool, error) {
	if err := b.checkRange(i); err != nil {
		return false, err
	}
	return b.get(i), nil
}

// FreeCount returns size - popcount(data).
func (b *memBitmap) FreeCount() uint64 {
	set := uint64(0)
	for _, v := range b.data {
		set += uint64(bits.OnesCount8(v))
	}
	return b.size - set
}

// FindFree returns the lowest clear index, or ErrFull if none remain.
func (b *memBitmap) FindFree() (uint64, error) {
	for idx, v := range b.data {
		if v == 0xff {
			continue
		}
		base := uint64(idx) * 8
		end := base + 8
		if end > b.size {
			end = b.size
		}
		for i := base; i < end; i++ {
			if !b.get(i) {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: bitmap exhausted", ErrFull)
}

// FindAndFlipFree finds the lowest free index and atomically marks it allocated.
func (b *memBitmap) FindAndFlipFree() (uint64, error) {
	idx, err := b.FindFree()
	if err != nil {
		return 0, err
	}
	if err := b.Set(idx); err != nil {
		return 0, err
	}
	return idx, nil
}
