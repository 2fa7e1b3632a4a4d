package vdisk

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
)

// Codec compresses and decompresses a whole disk image for off-line
// storage or transfer. This is a supplemented feature: the original system
// only ever addressed an image in place, but any ByteContainer is just
// bytes, so archiving it through a pluggable compressor needs nothing new
// from the storage layer itself.
type Codec interface {
	Name() string
	NewWriter(w io.Writer) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
}

var codecRegistry = map[string]Codec{}

// RegisterCodec makes a Codec available to ExportImage/ImportImage by name.
// Build-tag-gated files (archive_zstd.go, archive_xz.go) call this from
// their own init().
func RegisterCodec(c Codec) {
	codecRegistry[c.Name()] = c
}

func lookupCodec(name string) (Codec, error) {
	c, ok := codecRegistry[name]
	if !ok {
		return nil, fmt.Errorf("%w: no codec registered as %q", ErrUnsupportedDiskType, name)
	}
	return c, nil
}

type gzipCodec struct{}

func (gzipCodec) Name() string { return "gzip" }
func (gzipCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriter(w), nil
}
func (gzipCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

func init() {
	RegisterCodec(gzipCodec{})
}

// ExportImage streams the raw bytes of the image at imagePath through the
// named codec into dst. The image should be closed (or at least not being
// concurrently written) for the duration of the export.
func ExportImage(dst io.Writer, imagePath string, codecName string) error {
	codec, err := lookupCodec(codecName)
	if err != nil {
		return err
	}
	src, err := os.Open(imagePath)
	if err != nil {
		return err
	}
	defer src.Close()

	w, err := codec.NewWriter(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, src); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// ImportImage reverses ExportImage: it decompresses src through the named
// codec and writes the result to a fresh file at imagePath. Fails if
// imagePath already exists.
func ImportImage(imagePath string, src io.Reader, codecName string) error {
	codec, err := lookupCodec(codecName)
	if err != nil {
		return err
	}
	r, err := codec.NewReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	dst, err := os.OpenFile(imagePath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, r); err != nil {
		dst.Close()
		os.Remove(imagePath)
		return err
	}
	return dst.Close()
}
