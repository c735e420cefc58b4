package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

var (
	ErrKeyNotConfigured = errors.New("encryption key is not configured")
	ErrInvalidKeySize   = errors.New("invalid AES key size (must be exactly 32 bytes)")
	// ErrDecryptionFailed is deliberately generic: the caller must never be
	// able to tell a bad key from tampered ciphertext.
	ErrDecryptionFailed = errors.New("decryption failed")
)

// ivSize is the per-message IV length in bytes. The stored format prepends
// the IV to the ciphertext, so decryption reads it back from the prefix.
const ivSize = 16

// newAEAD creates an AES-256-GCM cipher with a 16-byte nonce.
func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) == 0 {
		return nil, ErrKeyNotConfigured
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		// This error is unlikely if NewCipher succeeded but check anyway
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return aead, nil
}

// seal encrypts plaintext with a fresh random IV and prepends the IV to the
// returned ciphertext.
func seal(aead cipher.AEAD, plaintext []byte) ([]byte, error) {
	iv := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	// Seal appends the authentication tag to the ciphertext. The IV is
	// prepended manually so the whole result is self-contained.
	return aead.Seal(iv, iv, plaintext, nil), nil
}

// open decrypts data produced by seal. Any failure (short input, wrong key,
// tampered bytes) collapses into ErrDecryptionFailed.
func open(aead cipher.AEAD, data []byte) ([]byte, error) {
	if len(data) < aead.NonceSize() {
		return nil, ErrDecryptionFailed
	}

	iv := data[:aead.NonceSize()]
	plaintext, err := aead.Open(nil, iv, data[aead.NonceSize():], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}
