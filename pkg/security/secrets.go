package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/boris-cremit/nebula/pkg/pairing"
)

// Sealer wraps secret payloads at rest using AES-256-GCM keyed from a
// workspace's ABE master secret (a Gt element). The pairing layer treats
// Gt as opaque key material once sealed, not a secret payload on its own.
type Sealer struct {
	encryptionKey []byte // 32 bytes for AES-256
}

// NewSealer builds a Sealer from a raw 32-byte AES-256 key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes for AES-256, got %d", len(key))
	}

	return &Sealer{
		encryptionKey: key,
	}, nil
}

// NewSealerFromMasterSecret derives a Sealer's key from a workspace's ABE
// master secret: the Gt element is serialized and SHA-256'd into a
// 32-byte AES key, keeping the pairing output opaque to callers.
func NewSealerFromMasterSecret(masterSecret pairing.Gt) (*Sealer, error) {
	hash := sha256.Sum256(masterSecret.ToBytes())
	return NewSealer(hash[:])
}

// Seal encrypts plaintext with AES-256-GCM, returning ciphertext with the
// nonce prepended. The result is the opaque bytes stored as
// types.SecretValue.Cipher.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("cannot seal empty data")
	}

	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal, expecting the nonce prepended to the ciphertext.
func (s *Sealer) Open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("cannot open empty data")
	}

	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}
