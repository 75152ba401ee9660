package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/GTDGit/gtd_backoffice/internal/utils"
)

// MaskedPlaceholder is returned for payloads too short to partially reveal.
const MaskedPlaceholder = "********"

// Codec encrypts credential payloads before storage and produces masked
// display strings. The key is fixed for the process lifetime; a missing or
// malformed key is a startup error, never a per-call one.
type Codec struct {
	aead    cipher.AEAD
	hmacKey []byte
}

// NewCodec builds a Codec from a hex-encoded 32-byte AES key and an HMAC key
// for payload fingerprints.
func NewCodec(hexKey, fingerprintKey string) (*Codec, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("stock encryption key is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("stock encryption key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("could not initialize cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("could not initialize GCM: %w", err)
	}
	if fingerprintKey == "" {
		return nil, fmt.Errorf("fingerprint key must not be empty")
	}
	return &Codec{aead: aead, hmacKey: []byte(fingerprintKey)}, nil
}

// Encrypt seals the plaintext with AES-256-GCM and returns
// base64(nonce || ciphertext).
func (c *Codec) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Malformed input or a ciphertext produced under a
// rotated key returns utils.ErrDecryptionFailed.
func (c *Codec) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", utils.ErrDecryptionFailed
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns {
		return "", utils.ErrDecryptionFailed
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", utils.ErrDecryptionFailed
	}
	return string(plain), nil
}

// Fingerprint returns a deterministic HMAC-SHA256 hex digest of the payload.
// Used to report duplicate secrets within an import batch without comparing
// plaintexts after encryption.
func (c *Codec) Fingerprint(plaintext string) string {
	mac := hmac.New(sha256.New, c.hmacKey)
	mac.Write([]byte(plaintext))
	return hex.EncodeToString(mac.Sum(nil))
}

// Mask returns a fixed-shape redaction of the payload: four asterisks plus
// the last 4 characters for payloads of length >= 4, a full placeholder
// otherwise. The shape is constant so the mask does not leak payload length.
// Never fails.
func Mask(plaintext string) string {
	if len(plaintext) < 4 {
		return MaskedPlaceholder
	}
	return "****" + plaintext[len(plaintext)-4:]
}
