package vdisk

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

// chaCha20BlockSize is the width of a single ChaCha20 keystream block.
const chaCha20BlockSize = 64

// chaCha20NonceSize is the width of the random nonce stored in the
// encrypted-image header.
const chaCha20NonceSize = 12

// hkdfAuthInfo is the HKDF "info" parameter binding the derived key to this
// format, preventing key reuse across unrelated HKDF applications.
const hkdfAuthInfo = "InFileChaCha20EncryptedDisk"

// hmacTagSize is the width of the header authentication tag.
const hmacTagSize = sha256.Size

// chaCha20Seekable wraps golang.org/x/crypto/chacha20's IETF cipher (12-byte
// nonce, 32-bit block counter) to let InodeIO/Directory operations reposition
// the keystream to an arbitrary container offset before every read or write.
// The cipher's internal position must be re-synced before every operation
// since callers may seek between them.
type chaCha20Seekable struct {
	key   [32]byte
	nonce [chaCha20NonceSize]byte
	c     *chacha20.Cipher
}

func newChaCha20Seekable(password, nonce []byte) (*chaCha20Seekable, error) {
	if len(nonce) != chaCha20NonceSize {
		return nil, fmt.Errorf("%w: nonce must be %d bytes", ErrFormat, chaCha20NonceSize)
	}
	s := &chaCha20Seekable{key: sha256.Sum256(password)}
	copy(s.nonce[:], nonce)
	if err := s.Seek(0); err != nil {
		return nil, err
	}
	return s, nil
}

// Seek repositions the keystream to byte offset in the (conceptually
// infinite) ciphertext stream: it resets the block counter derived from
// offset/64 and burns offset%64 bytes of keystream to align to the exact byte.
func (s *chaCha20Seekable) Seek(offset int64) error {
	blockCounter := uint32(offset / chaCha20BlockSize)
	blockOffset := int(offset % chaCha20BlockSize)

	c, err := chacha20.NewUnauthenticatedCipher(s.key[:], s.nonce[:])
	if err != nil {
		return err
	}
	c.SetCounter(blockCounter)
	s.c = c

	if blockOffset > 0 {
		filler := make([]byte, blockOffset)
		s.c.XORKeyStream(filler, filler)
	}
	return nil
}

// xor is the shared transform: ChaCha20 encryption and decryption are the
// identical XOR operation against the keystream.
func (s *chaCha20Seekable) xor(dst, src []byte) {
	s.c.XORKeyStream(dst, src)
}

// chaCha20Encryptor and chaCha20Decryptor are distinct handles so that
// concurrent read-vs-write positions (which may differ) don't interfere with
// each other's internal block counters.
type chaCha20Encryptor struct{ *chaCha20Seekable }
type chaCha20Decryptor struct{ *chaCha20Seekable }

func newChaCha20Encryptor(password, nonce []byte) (*chaCha20Encryptor, error) {
	s, err := newChaCha20Seekable(password, nonce)
	if err != nil {
		return nil, err
	}
	return &chaCha20Encryptor{s}, nil
}

func newChaCha20Decryptor(password, nonce []byte) (*chaCha20Decryptor, error) {
	s, err := newChaCha20Seekable(password, nonce)
	if err != nil {
		return nil, err
	}
	return &chaCha20Decryptor{s}, nil
}

func (e *chaCha20Encryptor) Encrypt(dst, plaintext []byte) {
	e.xor(dst, plaintext)
}

func (d *chaCha20Decryptor) Decrypt(dst, ciphertext []byte) {
	d.xor(dst, ciphertext)
}

// deriveAuthKey derives the HMAC key used to authenticate the encrypted
// image header: HKDF-SHA256(password, salt="HkdfHmac:nonce:"||nonce,
// info="InFileChaCha20EncryptedDisk", length=32).
func deriveAuthKey(password, nonce []byte) ([]byte, error) {
	salt := append([]byte("HkdfHmac:nonce:"), nonce...)
	r := hkdf.New(sha256.New, password, salt, []byte(hkdfAuthInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// makeHeaderAuthTag computes HMAC-SHA256(deriveAuthKey(password, nonce), nonce).
func makeHeaderAuthTag(password, nonce []byte) ([]byte, error) {
	key, err := deriveAuthKey(password, nonce)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(nonce)
	return mac.Sum(nil), nil
}

// verifyHeaderAuthTag recomputes the tag and compares it to storedTag in
// constant time, returning ErrAuth on mismatch: a wrong password or a
// tampered header produce the same symptom.
func verifyHeaderAuthTag(password, nonce, storedTag []byte) error {
	if len(storedTag) != hmacTagSize {
		return fmt.Errorf("%w: auth tag must be %d bytes", ErrFormat, hmacTagSize)
	}
	expected, err := makeHeaderAuthTag(password, nonce)
	if err != nil {
		return err
	}
	if !hmac.Equal(expected, storedTag) {
		return ErrAuth
	}
	return nil
}
