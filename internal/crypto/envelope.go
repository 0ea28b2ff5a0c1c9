package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	SaltSize         = 16
	NonceSize        = 12
	KeySize          = 32
	PBKDF2Iterations = 100_000
)

var (
	ErrPasswordRequired  = errors.New("encryption password is required")
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrAuthentication    = errors.New("decrypt: message authentication failed")
)

// Envelope is a self-contained encrypted payload. The JSON names match the
// files produced by the dashboard export, where the ciphertext is "data".
type Envelope struct {
	Salt       string `json:"salt"`
	IV         string `json:"iv"`
	Ciphertext string `json:"data"`
}

// DeriveKey derives the AES-256 key for password and salt with PBKDF2-SHA256.
func DeriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, PBKDF2Iterations, KeySize, sha256.New)
}

// Encrypt seals plaintext under a key derived from password. Every call draws
// a fresh salt and IV.
func Encrypt(plaintext []byte, password string) (Envelope, error) {
	if password == "" {
		return Envelope{}, ErrPasswordRequired
	}

	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return Envelope{}, fmt.Errorf("generating salt: %w", err)
	}
	iv := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return Envelope{}, fmt.Errorf("generating iv: %w", err)
	}

	gcm, err := newGCM(DeriveKey(password, salt))
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{
		Salt:       base64.StdEncoding.EncodeToString(salt),
		IV:         base64.StdEncoding.EncodeToString(iv),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, iv, plaintext, nil)),
	}, nil
}

// Decrypt opens env with a key re-derived from password and the envelope's
// own salt. A wrong password or any tampering yields ErrAuthentication.
func Decrypt(env Envelope, password string) ([]byte, error) {
	if password == "" {
		return nil, ErrPasswordRequired
	}

	salt, err := decodeField("salt", env.Salt, SaltSize)
	if err != nil {
		return nil, err
	}
	iv, err := decodeField("iv", env.IV, NonceSize)
	if err != nil {
		return nil, err
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: data: %v", ErrMalformedEnvelope, err)
	}

	gcm, err := newGCM(DeriveKey(password, salt))
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.Overhead() {
		return nil, fmt.Errorf("%w: data too short", ErrMalformedEnvelope)
	}

	plaintext, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// LooksLikeEnvelope reports whether all three envelope fields are set.
func (e Envelope) LooksLikeEnvelope() bool {
	return e.Salt != "" && e.IV != "" && e.Ciphertext != ""
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating gcm: %w", err)
	}
	return gcm, nil
}

func decodeField(name, value string, size int) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEnvelope, name, err)
	}
	if len(b) != size {
		return nil, fmt.Errorf("%w: %s must be %d bytes, got %d", ErrMalformedEnvelope, name, size, len(b))
	}
	return b, nil
}
