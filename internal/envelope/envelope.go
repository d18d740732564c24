// Package envelope turns arbitrary-length byte streams into authenticated
// ciphertext at rest and back, with a fresh symmetric key per transfer.
//
// Wire format (version 1): a single version byte followed by a sequence of
// chunks, each `nonce (12) || uint32 ciphertext length || ciphertext`. Every
// chunk is sealed with AES-256-GCM; the additional data binds the chunk
// index and a final-chunk flag, so reordered, dropped or truncated chunks
// fail authentication instead of decrypting to garbage.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// KeySize is the AES-256 key length.
	KeySize = 32

	formatVersion = byte(1)
	nonceSize     = 12
	chunkSize     = 64 * 1024
)

// ErrCorruptedPayload is returned when ciphertext is truncated, tampered
// with, or decrypted with the wrong key.
var ErrCorruptedPayload = errors.New("corrupted or truncated payload")

// GenerateKey produces a fresh random 256-bit key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func chunkAAD(index uint64, final bool) []byte {
	aad := make([]byte, 9)
	binary.BigEndian.PutUint64(aad, index)
	if final {
		aad[8] = 1
	}
	return aad
}

// readChunk fills buf as far as the source allows. eof reports that the
// source is exhausted; n may still be positive for a short final chunk.
func readChunk(r io.Reader, buf []byte) (n int, eof bool, err error) {
	n, err = io.ReadFull(r, buf)
	switch err {
	case nil:
		return n, false, nil
	case io.EOF, io.ErrUnexpectedEOF:
		return n, true, nil
	default:
		return n, false, err
	}
}

// Encrypt streams src through AES-256-GCM into dst and returns the number
// of plaintext bytes consumed. Input of any length is processed in fixed
// chunks, so memory use stays bounded regardless of payload size.
func Encrypt(dst io.Writer, src io.Reader, key []byte) (int64, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return 0, err
	}

	if _, err := dst.Write([]byte{formatVersion}); err != nil {
		return 0, err
	}

	cur := make([]byte, chunkSize)
	nxt := make([]byte, chunkSize)
	lenBuf := make([]byte, 4)

	curN, curEOF, err := readChunk(src, cur)
	if err != nil {
		return 0, err
	}

	var written int64
	var index uint64
	for {
		final := curEOF
		var nxtN int
		var nxtEOF bool
		if !final {
			nxtN, nxtEOF, err = readChunk(src, nxt)
			if err != nil {
				return written, err
			}
			// the source ended exactly on a chunk boundary
			if nxtEOF && nxtN == 0 {
				final = true
			}
		}

		nonce := make([]byte, nonceSize)
		if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
			return written, err
		}

		sealed := gcm.Seal(nil, nonce, cur[:curN], chunkAAD(index, final))
		if _, err := dst.Write(nonce); err != nil {
			return written, err
		}
		binary.BigEndian.PutUint32(lenBuf, uint32(len(sealed)))
		if _, err := dst.Write(lenBuf); err != nil {
			return written, err
		}
		if _, err := dst.Write(sealed); err != nil {
			return written, err
		}
		written += int64(curN)

		if final {
			return written, nil
		}

		cur, nxt = nxt, cur
		curN, curEOF = nxtN, nxtEOF
		index++
	}
}

// Decrypt returns a reader that streams the plaintext of a payload written
// by Encrypt. Any tampering, truncation or wrong key surfaces as
// ErrCorruptedPayload; garbage bytes are never handed to the caller.
func Decrypt(src io.Reader, key []byte) (io.Reader, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	version := make([]byte, 1)
	if _, err := io.ReadFull(src, version); err != nil {
		return nil, ErrCorruptedPayload
	}
	if version[0] != formatVersion {
		return nil, ErrCorruptedPayload
	}

	return &decryptReader{src: src, gcm: gcm}, nil
}

type decryptReader struct {
	src   io.Reader
	gcm   cipher.AEAD
	plain []byte
	index uint64
	done  bool
	err   error
}

func (r *decryptReader) Read(p []byte) (int, error) {
	for len(r.plain) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		if r.done {
			return 0, io.EOF
		}
		if err := r.fill(); err != nil {
			r.err = err
			return 0, err
		}
	}

	n := copy(p, r.plain)
	r.plain = r.plain[n:]
	return n, nil
}

func (r *decryptReader) fill() error {
	header := make([]byte, nonceSize+4)
	if _, err := io.ReadFull(r.src, header); err != nil {
		// the stream must end exactly after an authenticated final chunk
		return ErrCorruptedPayload
	}

	sealedLen := binary.BigEndian.Uint32(header[nonceSize:])
	if sealedLen > chunkSize+uint32(r.gcm.Overhead()) {
		return ErrCorruptedPayload
	}

	sealed := make([]byte, sealedLen)
	if _, err := io.ReadFull(r.src, sealed); err != nil {
		return ErrCorruptedPayload
	}

	nonce := header[:nonceSize]
	plain, err := r.gcm.Open(nil, nonce, sealed, chunkAAD(r.index, false))
	if err != nil {
		plain, err = r.gcm.Open(nil, nonce, sealed, chunkAAD(r.index, true))
		if err != nil {
			return ErrCorruptedPayload
		}
		r.done = true

		// trailing bytes after the final chunk are a corruption too
		var trailer [1]byte
		if _, err := io.ReadFull(r.src, trailer[:]); err != io.EOF {
			return ErrCorruptedPayload
		}
	}

	r.plain = plain
	r.index++
	return nil
}
