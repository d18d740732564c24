package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

var wrapKey []byte

const (
	wrapSalt      = "sendvault-key-wrap"
	wrappedPrefix = "enc:"
)

// ConfigureKeyWrap derives the key-wrapping key from the operator secret.
// With an empty secret, per-transfer data keys are persisted unwrapped.
func ConfigureKeyWrap(secret string) {
	if secret == "" {
		wrapKey = nil
		return
	}
	hkdfReader := hkdf.New(
		sha256.New,
		[]byte(secret),
		[]byte(wrapSalt),
		[]byte("wrap-key"),
	)
	wrapKey = make([]byte, 32)
	if _, err := io.ReadFull(hkdfReader, wrapKey); err != nil {
		panic(fmt.Sprintf("failed to derive key-wrap key: %v", err))
	}
}

// WrapKey encodes a per-transfer data key for persistence. When a wrap
// secret is configured the key is sealed with AES-GCM and prefixed so
// UnwrapKey can tell wrapped from raw values.
func WrapKey(key []byte) (string, error) {
	if wrapKey == nil {
		return base64.StdEncoding.EncodeToString(key), nil
	}

	block, err := aes.NewCipher(wrapKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, key, nil)
	return wrappedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// UnwrapKey reverses WrapKey. Raw (unwrapped) values decode even when a
// wrap secret is configured, so rotating a deployment onto a secret does
// not orphan existing transfers.
func UnwrapKey(value string) ([]byte, error) {
	if !strings.HasPrefix(value, wrappedPrefix) {
		return base64.StdEncoding.DecodeString(value)
	}

	if wrapKey == nil {
		return nil, errors.New("wrapped key present but no wrap secret configured")
	}

	sealed, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, wrappedPrefix))
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(wrapKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(sealed) < gcm.NonceSize() {
		return nil, errors.New("wrapped key too short")
	}

	return gcm.Open(nil, sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():], nil)
}
