// Package blobfilter provides optional at-rest encryption of agent state
// blobs: a transparent filter a Repository can install so every commit's
// state is encrypted before it reaches storage and decrypted on read.
package blobfilter

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// defaultSalt derives a deterministic key from a passphrase when the
// caller has no per-tenant salt of their own. Production multi-tenant
// deployments should supply NewWithSalt a unique salt per tenant instead.
var defaultSalt = []byte("agentvcs-enc-v1-salt")

// Encryptor encrypts and decrypts JSON-shaped values with AES-256-GCM,
// deriving its key from a passphrase via Argon2id.
type Encryptor struct {
	gcm cipher.AEAD
}

// New derives a key from key via Argon2id using the package default salt.
func New(key string) (*Encryptor, error) {
	return NewWithSalt(key, defaultSalt)
}

// NewWithSalt derives a key from key and salt via Argon2id. Each tenant
// should use a distinct salt to keep key derivation isolated.
func NewWithSalt(key string, salt []byte) (*Encryptor, error) {
	keyBytes := argon2.IDKey([]byte(key), salt, 1, 64*1024, 4, 32)
	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("blobfilter: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("blobfilter: new gcm: %w", err)
	}
	return &Encryptor{gcm: gcm}, nil
}

// Encrypt seals plaintext, returning a base64-encoded nonce||ciphertext.
func (e *Encryptor) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("blobfilter: generate nonce: %w", err)
	}
	sealed := e.gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (e *Encryptor) Decrypt(encoded string) ([]byte, error) {
	combined, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("blobfilter: base64 decode: %w", err)
	}
	nonceSize := e.gcm.NonceSize()
	if len(combined) < nonceSize {
		return nil, fmt.Errorf("blobfilter: ciphertext too short")
	}
	nonce, ciphertext := combined[:nonceSize], combined[nonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("blobfilter: decrypt: %w", err)
	}
	return plaintext, nil
}

// EncryptState returns a copy of a decoded state value with its memory and
// world_state fields encrypted, leaving timestamp/cost/metadata untouched.
// The input map is not modified.
func (e *Encryptor) EncryptState(value map[string]any) (map[string]any, error) {
	return e.transformFields(value, e.encryptField)
}

// DecryptState reverses EncryptState.
func (e *Encryptor) DecryptState(value map[string]any) (map[string]any, error) {
	return e.transformFields(value, e.decryptField)
}

func (e *Encryptor) transformFields(value map[string]any, fn func(any) (any, error)) (map[string]any, error) {
	out := make(map[string]any, len(value))
	for k, v := range value {
		out[k] = v
	}
	for _, field := range []string{"memory", "world_state"} {
		if v, ok := out[field]; ok {
			transformed, err := fn(v)
			if err != nil {
				return nil, err
			}
			out[field] = transformed
		}
	}
	return out, nil
}

func (e *Encryptor) encryptField(v any) (any, error) {
	data, err := marshalField(v)
	if err != nil {
		return nil, err
	}
	return e.Encrypt(data)
}

func (e *Encryptor) decryptField(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	data, err := e.Decrypt(s)
	if err != nil {
		return nil, err
	}
	return unmarshalField(data)
}
