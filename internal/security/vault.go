package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

var (
	ErrNoKey         = errors.New("encryption key not configured")
	ErrDecryptFailed = errors.New("decryption failed")
)

const vaultKeySize = 32 // AES-256

// Vault performs authenticated encryption of credentials at rest.
// The key is derived once at construction; a Vault is safe to share
// across any number of concurrent workflows.
type Vault struct {
	key []byte
}

// NewVault derives a 32-byte AES key from the configured passphrase using
// HKDF-SHA256. Raw truncation of the passphrase is deliberately avoided.
func NewVault(passphrase string) (*Vault, error) {
	if passphrase == "" {
		return nil, ErrNoKey
	}

	kdf := hkdf.New(sha256.New, []byte(passphrase), nil, []byte("easbase-credential-vault"))
	key := make([]byte, vaultKeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("key derivation failed: %v", err)
	}

	return &Vault{key: key}, nil
}

// Encrypt encrypts plaintext with AES-256-GCM and a fresh random nonce.
// The blob format is hex(nonce):hex(tag):hex(ciphertext).
func (v *Vault) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(v.key)
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

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	// gcm.Seal appends the tag after the ciphertext
	tagStart := len(sealed) - gcm.Overhead()
	ciphertext, tag := sealed[:tagStart], sealed[tagStart:]

	return fmt.Sprintf("%s:%s:%s",
		hex.EncodeToString(nonce),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext),
	), nil
}

// Decrypt reverses Encrypt. Returns ErrDecryptFailed when the blob is
// malformed or the auth tag does not verify (tamper or wrong key); it never
// returns wrong plaintext silently.
func (v *Vault) Decrypt(blob string) (string, error) {
	parts := strings.Split(blob, ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: malformed blob", ErrDecryptFailed)
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("%w: bad nonce encoding", ErrDecryptFailed)
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: bad tag encoding", ErrDecryptFailed)
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext encoding", ErrDecryptFailed)
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	if len(nonce) != gcm.NonceSize() || len(tag) != gcm.Overhead() {
		return "", fmt.Errorf("%w: bad segment length", ErrDecryptFailed)
	}

	plaintext, err := gcm.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}

	return string(plaintext), nil
}

// HashString creates a one-way hash (for comparison without decryption)
func HashString(input string) string {
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])
}
