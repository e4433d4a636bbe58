// Package crypto implements the AES-256-GCM framing EchoStream uses to
// protect audio payloads on the wire (spec §4.1). There is no third-party AEAD
// implementation anywhere in the retrieved example pack — the closest sibling
// client (rustyguts-bken) carries no crypto dependency at all — so this
// package uses crypto/aes + crypto/cipher directly, the same primitive
// original_source/crypto.py itself bottoms out on.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

// KeySize is the required AES-256 key length in bytes.
const KeySize = 32

// IVSize is the GCM nonce size in bytes.
const IVSize = 12

// TagSize is the GCM authentication tag size in bytes.
const TagSize = 16

// MinBlobSize is the smallest valid encrypted blob: IV + empty ciphertext + tag.
const MinBlobSize = IVSize + TagSize

// Sentinel errors so callers (the transport's per-channel failure counters,
// spec §4.1/§4.7) can distinguish failure kinds without string matching.
var (
	ErrKeyLength    = errors.New("crypto: key must be exactly 32 bytes")
	ErrBlobTooShort = errors.New("crypto: ciphertext blob shorter than 28 bytes")
	ErrIVExhausted  = errors.New("crypto: failed to generate random iv")
)

// Encrypt encrypts plaintext with AES-256-GCM under key, returning
// IV(12) || Ciphertext || Tag(16). key must be exactly 32 bytes.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, TagSize)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIVExhausted, err)
	}
	sealed := gcm.Seal(nil, iv, plaintext, nil)
	blob := make([]byte, 0, IVSize+len(sealed))
	blob = append(blob, iv...)
	blob = append(blob, sealed...)
	return blob, nil
}

// Decrypt reverses Encrypt. blob must be at least MinBlobSize bytes and key
// exactly 32 bytes; a corrupt blob (flipped tag bit, truncation) returns an
// authentication error from the underlying GCM open, not a panic.
func Decrypt(blob, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrKeyLength
	}
	if len(blob) < MinBlobSize {
		return nil, ErrBlobTooShort
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithTagSize(block, TagSize)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}
	iv := blob[:IVSize]
	sealed := blob[IVSize:]
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm open: %w", err)
	}
	return plaintext, nil
}

// IsZeroKey reports whether key is all-zero — the transport (spec §4.7) warns
// once per channel and drops traffic on a zero session key.
func IsZeroKey(key [32]byte) bool {
	var zero [32]byte
	return key == zero
}
