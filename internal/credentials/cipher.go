package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/rendis/nodeflow/pkg/schema"
)

// KeyConfig configures the credential encryption key.
// Provide either MasterKey (raw 32 bytes) or Passphrase + Salt.
type KeyConfig struct {
	MasterKey  []byte // raw 32-byte key (takes priority)
	Passphrase string // derive key via PBKDF2
	Salt       []byte // salt for PBKDF2 (required with Passphrase)
	Iterations int    // PBKDF2 iterations (default 100_000)
}

// Enabled reports whether any key material is configured.
func (c KeyConfig) Enabled() bool {
	return len(c.MasterKey) > 0 || c.Passphrase != ""
}

// Cipher seals credential values with AES-256-GCM. Sealed values are
// base64 text so they fit the credentials table's TEXT column.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives the key and builds the AEAD.
func NewCipher(cfg KeyConfig) (*Cipher, error) {
	key, err := deriveKey(cfg)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

func deriveKey(cfg KeyConfig) ([]byte, error) {
	if len(cfg.MasterKey) > 0 {
		if len(cfg.MasterKey) != 32 {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"credential key must be 32 bytes, got %d", len(cfg.MasterKey))
		}
		return cfg.MasterKey, nil
	}
	if cfg.Passphrase == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "either credential key or passphrase is required")
	}
	if len(cfg.Salt) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "salt is required with passphrase")
	}
	iterations := cfg.Iterations
	if iterations <= 0 {
		iterations = 100_000
	}
	return pbkdf2.Key(sha256.New, cfg.Passphrase, cfg.Salt, iterations, 32)
}

// Seal encrypts plaintext under a fresh nonce.
func (c *Cipher) Seal(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal.
func (c *Cipher) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", schema.NewError(schema.ErrCodeCredential, "credential value is not sealed").WithCause(err)
	}
	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", schema.NewError(schema.ErrCodeCredential, "sealed credential too short")
	}
	plaintext, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeCredential, "decrypt failed: %s", err.Error())
	}
	return string(plaintext), nil
}
