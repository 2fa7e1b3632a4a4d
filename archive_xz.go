//go:build xz

package vdisk

import (
	"io"

	"github.com/ulikunitz/xz"
)

type xzCodec struct{}

func (xzCodec) Name() string { return "xz" }

func (xzCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return xz.NewWriter(w)
}

func (xzCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := xz.NewReader(r)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(dec), nil
}

func init() {
	RegisterCodec(xzCodec{})
}
