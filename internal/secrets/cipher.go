// Package secrets persists per-user API keys encrypted at rest.
//
// Payloads are serialized to canonical JSON and sealed with fernet
// (AES-CBC + HMAC with a random IV per token), so encrypting the same
// payload twice yields different ciphertexts that both authenticate and
// decrypt to the original. Decryption failures are indistinguishable from
// absent values at the interface, by design.
package secrets

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fernet/fernet-go"
	"go.uber.org/zap"
)

// ErrEncryptionUnavailable indicates no encryption key is configured.
// Callers must treat this as "credential persistence disabled", not a crash.
var ErrEncryptionUnavailable = errors.New("encryption key not configured")

// Cipher seals and opens credential payloads with a process-wide key.
//
// The key is loaded once at construction and never changes; concurrent use
// needs no synchronization.
type Cipher struct {
	key    *fernet.Key
	logger *zap.Logger
}

// NewCipher creates a Cipher from a base64-encoded fernet key.
//
// An empty key is not an error: the cipher is created disabled and
// EncryptKey reports ErrEncryptionUnavailable. A malformed key is an error,
// since silently storing secrets unencrypted is worse than failing startup.
func NewCipher(encodedKey string, logger *zap.Logger) (*Cipher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if encodedKey == "" {
		logger.Warn("no encryption key configured; credential persistence disabled")
		return &Cipher{logger: logger}, nil
	}

	key, err := fernet.DecodeKey(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decoding encryption key: %w", err)
	}

	return &Cipher{key: key, logger: logger}, nil
}

// Enabled reports whether an encryption key is configured.
func (c *Cipher) Enabled() bool {
	return c.key != nil
}

// EncryptKey serializes the payload to JSON and seals it.
//
// Each call uses a fresh random IV, so two encryptions of the same payload
// produce different blobs.
func (c *Cipher) EncryptKey(payload map[string]string) ([]byte, error) {
	if c.key == nil {
		return nil, ErrEncryptionUnavailable
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("serializing payload: %w", err)
	}

	blob, err := fernet.EncryptAndSign(data, c.key)
	if err != nil {
		return nil, fmt.Errorf("encrypting payload: %w", err)
	}
	return blob, nil
}

// DecryptKey opens a sealed blob and returns the payload.
//
// Returns nil on authentication failure (corrupted or tampered blob, or a
// blob written under a different key) and on missing encryption key. It
// never returns an error: callers treat nil as "value absent" and may
// re-submit the secret, which re-encrypts under the current key.
func (c *Cipher) DecryptKey(blob []byte) map[string]string {
	if len(blob) == 0 {
		return nil
	}
	if c.key == nil {
		c.logger.Error("cannot decrypt credentials: no encryption key configured")
		return nil
	}

	data := fernet.VerifyAndDecrypt(blob, 0, []*fernet.Key{c.key})
	if data == nil {
		c.logger.Warn("credential blob failed authentication; treating as absent")
		return nil
	}

	var payload map[string]string
	if err := json.Unmarshal(data, &payload); err != nil {
		c.logger.Error("credential blob decrypted but failed to parse", zap.Error(err))
		return nil
	}
	return payload
}

// GenerateKey returns a fresh base64-encoded fernet key, suitable for the
// ENCRYPTION_KEY setting.
func GenerateKey() (string, error) {
	var key fernet.Key
	if err := key.Generate(); err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	return key.Encode(), nil
}
