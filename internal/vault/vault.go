// Package vault is the encryption boundary for broker credentials. Secrets
// are stored as AEAD ciphertext and only decrypted behind an explicit owner
// check — callers on the client-facing transport never see plaintext.
package vault

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/go-broker-agent/internal/domain"
	"golang.org/x/crypto/chacha20poly1305"
)

// Vault encrypts and decrypts secrets with a single process-wide key. It
// holds no mutable state and is safe for arbitrary concurrent use. Key
// rotation is an out-of-band procedure: a new key requires re-encrypting
// every stored ciphertext, old ciphertexts never decrypt under a new key.
type Vault struct {
	key []byte
}

// New builds a Vault from a base64-encoded 32-byte key. A missing or
// malformed key is a startup error — the process must refuse to run
// rather than operate without encryption.
func New(encodedKey string) (*Vault, error) {
	if encodedKey == "" {
		return nil, fmt.Errorf("encryption key is not set")
	}
	key, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &Vault{key: key}, nil
}

// Encrypt seals the secret and returns base64(nonce || ciphertext).
// A fresh random nonce is drawn per call, so output is not deterministic.
func (v *Vault) Encrypt(secret string) (string, error) {
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(secret), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt. The requestor owner must
// match the owner the record belongs to; a mismatch fails with
// domain.ErrAccessDenied before any cryptographic work happens.
func (v *Vault) Decrypt(ciphertext, requestorOwner, recordOwner string) (string, error) {
	if requestorOwner != recordOwner {
		return "", fmt.Errorf("decrypt for owner %q: %w", recordOwner, domain.ErrAccessDenied)
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("open ciphertext: %w", err)
	}
	return string(plain), nil
}
