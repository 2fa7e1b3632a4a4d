package vdisk

import (
	"crypto/rand"
	"fmt"
	"log"
)

// encryptedHeaderLen is the size, in bytes, of the crypto header that
// precedes the (encrypted) Config header inside an encrypted image: a
// 12-byte nonce followed by a 32-byte HMAC-SHA256 authentication tag.
const encryptedHeaderLen = chaCha20NonceSize + hmacTagSize

// EncryptedContainer wraps another Container (normally a FileContainer) with
// a seekable ChaCha20 keystream, presenting offset 0 as the first byte right
// after the crypto header — so callers address the same logical positions
// they would on a plain container.
//
// Encryptor and decryptor each own an independent cipher state so a reader
// and a writer positioned at different offsets never disturb each other's
// keystream alignment.
type EncryptedContainer struct {
	backing Container
	nonce   [chaCha20NonceSize]byte
	enc     *chaCha20Encryptor
	dec     *chaCha20Decryptor

	// written tracks how many bytes of the logical (plaintext) region have
	// been validly encrypted so far. Unlike a plain container, an
	// encrypted container cannot rely on OS-level sparse zero-fill for
	// bytes past this point: an unwritten hole decrypts to garbage, not to
	// zero. See gapFill.
	written int64
	closed  bool
}

var _ Container = (*EncryptedContainer)(nil)

// CreateEncryptedContainer generates a fresh random nonce, writes the
// disk-type byte, nonce and header authentication tag to backing, and
// returns a container ready to have the (plaintext) payload written through
// it starting at logical offset 0.
func CreateEncryptedContainer(backing Container, password []byte) (*EncryptedContainer, error) {
	var nonce [chaCha20NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}

	tag, err := makeHeaderAuthTag(password, nonce[:])
	if err != nil {
		return nil, err
	}

	if _, err := backing.WriteAt([]byte{0x01}, 0); err != nil {
		return nil, err
	}
	if _, err := backing.WriteAt(nonce[:], 1); err != nil {
		return nil, err
	}
	if _, err := backing.WriteAt(tag, 1+chaCha20NonceSize); err != nil {
		return nil, err
	}

	enc, err := newChaCha20Encryptor(password, nonce[:])
	if err != nil {
		return nil, err
	}
	dec, err := newChaCha20Decryptor(password, nonce[:])
	if err != nil {
		return nil, err
	}

	return &EncryptedContainer{backing: backing, nonce: nonce, enc: enc, dec: dec}, nil
}

// OpenEncryptedContainer reads the nonce and authentication tag from an
// existing encrypted image and verifies them against password before
// returning a usable container. Returns ErrAuth if the password is wrong or
// the header has been tampered with, before any inode is ever read.
func OpenEncryptedContainer(backing Container, password []byte) (*EncryptedContainer, error) {
	typeByte := make([]byte, 1)
	if _, err := backing.ReadAt(typeByte, 0); err != nil {
		return nil, err
	}
	if typeByte[0] != 0x01 {
		return nil, fmt.Errorf("%w: disk-type byte %#x is not ChaCha20-encrypted", ErrUnsupportedDiskType, typeByte[0])
	}

	var nonce [chaCha20NonceSize]byte
	if _, err := backing.ReadAt(nonce[:], 1); err != nil {
		return nil, err
	}
	tag := make([]byte, hmacTagSize)
	if _, err := backing.ReadAt(tag, 1+chaCha20NonceSize); err != nil {
		return nil, err
	}

	if err := verifyHeaderAuthTag(password, nonce[:], tag); err != nil {
		log.Printf("vdisk: encrypted header auth failed: %s", err)
		return nil, err
	}

	enc, err := newChaCha20Encryptor(password, nonce[:])
	if err != nil {
		return nil, err
	}
	dec, err := newChaCha20Decryptor(password, nonce[:])
	if err != nil {
		return nil, err
	}

	written := backing.Len() - (1 + encryptedHeaderLen)
	if written < 0 {
		written = 0
	}

	return &EncryptedContainer{backing: backing, nonce: nonce, enc: enc, dec: dec, written: written}, nil
}

func (c *EncryptedContainer) absolute(off int64) int64 {
	return off + 1 + encryptedHeaderLen
}

// gapFill writes encrypted zero bytes to extend valid ciphertext coverage
// from c.written up to upTo, preserving the invariant that every physical
// byte on disk is valid ciphertext with a well-defined plaintext.
func (c *EncryptedContainer) gapFill(upTo int64) error {
	if upTo <= c.written {
		return nil
	}
	gap := upTo - c.written
	zeros := make([]byte, gap)
	cipherBuf := make([]byte, gap)
	if err := c.enc.Seek(c.written); err != nil {
		return err
	}
	c.enc.Encrypt(cipherBuf, zeros)
	if _, err := c.backing.WriteAt(cipherBuf, c.absolute(c.written)); err != nil {
		return err
	}
	c.written = upTo
	return nil
}

func (c *EncryptedContainer) ReadAt(p []byte, off int64) (int, error) {
	if c.closed {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset", ErrRange)
	}
	n := int64(len(p))
	if off+n > c.written {
		n = c.written - off
		if n < 0 {
			n = 0
		}
	}
	if n == 0 {
		return 0, nil
	}
	cipherBuf := make([]byte, n)
	if _, err := c.backing.ReadAt(cipherBuf, c.absolute(off)); err != nil {
		return 0, err
	}
	if err := c.dec.Seek(off); err != nil {
		return 0, err
	}
	c.dec.Decrypt(p[:n], cipherBuf)
	return int(n), nil
}

func (c *EncryptedContainer) WriteAt(p []byte, off int64) (int, error) {
	if c.closed {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset", ErrRange)
	}
	if err := c.gapFill(off); err != nil {
		return 0, err
	}
	cipherBuf := make([]byte, len(p))
	if err := c.enc.Seek(off); err != nil {
		return 0, err
	}
	c.enc.Encrypt(cipherBuf, p)
	if _, err := c.backing.WriteAt(cipherBuf, c.absolute(off)); err != nil {
		return 0, err
	}
	end := off + int64(len(p))
	if end > c.written {
		c.written = end
	}
	return len(p), nil
}

func (c *EncryptedContainer) Len() int64 {
	return c.written
}

func (c *EncryptedContainer) Truncate(n int64) error {
	if n < 0 {
		return fmt.Errorf("%w: negative truncate size", ErrRange)
	}
	if n > c.written {
		return c.gapFill(n)
	}
	c.written = n
	return c.backing.Truncate(c.absolute(n))
}

func (c *EncryptedContainer) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.backing.Close()
}
