// Package secrets provides the credential cipher used to protect stored
// session cookies at rest.
package secrets

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

// ErrDecryptFailed indicates the ciphertext could not be opened. Callers
// treat this as a stale credential: the user must re-authenticate.
var ErrDecryptFailed = errors.New("decrypt failed: credential is stale or key mismatch")

const (
	keySize   = 32
	nonceSize = 24
)

// Cipher encrypts and decrypts credential payloads.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// SecretboxCipher implements Cipher with NaCl secretbox. The nonce is
// prepended to the ciphertext.
type SecretboxCipher struct {
	key [keySize]byte
}

// NewSecretboxCipher creates a cipher from a hex-encoded 32-byte key.
func NewSecretboxCipher(hexKey string) (*SecretboxCipher, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode cipher key: %w", err)
	}
	if len(raw) != keySize {
		return nil, fmt.Errorf("cipher key must be %d bytes, got %d", keySize, len(raw))
	}

	c := &SecretboxCipher{}
	copy(c.key[:], raw)
	return c, nil
}

// Encrypt seals the plaintext with a random nonce.
func (c *SecretboxCipher) Encrypt(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return secretbox.Seal(nonce[:], plaintext, &nonce, &c.key), nil
}

// Decrypt opens a sealed payload. Returns ErrDecryptFailed on any
// authentication failure.
func (c *SecretboxCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < nonceSize {
		return nil, ErrDecryptFailed
	}

	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, &c.key)
	if !ok {
		return nil, ErrDecryptFailed
	}

	return plaintext, nil
}
