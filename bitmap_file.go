package vdisk

// Bitmap is the common interface satisfied by both the pure in-memory
// bitmap and the file-backed variant that persists every change.
type Bitmap interface {
	Set(i uint64) error
	Clear(i uint64) error
	Get(i uint64) (bool, error)
	FreeCount() uint64
	FindFree() (uint64, error)
	FindAndFlipFree() (uint64, error)
}

var (
	_ Bitmap = (*memBitmap)(nil)
	_ Bitmap = (*fileBitmap)(nil)
)

// fileBitmap backs a memBitmap with a Container region: every Set/Clear
// writes the single changed byte back to the container immediately. Write
// amplification is one byte per call, acceptable because allocator churn is
// low-frequency.
type fileBitmap struct {
	*memBitmap
	container Container
	offset    int64
}

func newFileBitmap(mem *memBitmap, container Container, offset int64) *fileBitmap {
	return &fileBitmap{memBitmap: mem, container: container, offset: offset}
}

func (b *fileBitmap) persistByte(i uint64) error {
	idx := i / 8
	_, err := b.container.WriteAt(b.data[idx:idx+1], b.offset+int64(idx))
	return err
}

func (b *fileBitmap) Set(i uint64) error {
	if err := b.memBitmap.Set(i); err != nil {
		return err
	}
	return b.persistByte(i)
}

func (b *fileBitmap) Clear(i uint64) error {
	if err := b.memBitmap.Clear(i); err != nil {
		return err
	}
	return b.persistByte(i)
}

func (b *fileBitmap) FindAndFlipFree() (uint64, error) {
	idx, err := b.FindFree()
	if err != nil {
		return 0, err
	}
	if err := b.Set(idx); err != nil {
		return 0, err
	}
	return idx, nil
}

// loadFileBitmap reads size bits worth of bytes from the container at offset
// into a fresh memBitmap, then wraps it for persistence.
func loadFileBitmap(container Container, offset int64, size uint64) (*fileBitmap, error) {
	mem := newMemBitmap(size)
	n, err := container.ReadAt(mem.data, offset)
	if err != nil {
		return nil, err
	}
	if n != len(mem.data) {
		return nil, ErrFormat
	}
	return newFileBitmap(mem, container, offset), nil
}
