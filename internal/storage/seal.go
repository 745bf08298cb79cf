package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// SealFormat is the magic prefix of sealed objects.
// Layout: magic(8) + salt(16) + nonce(12) + ciphertext + tag(16).
const SealFormat = "GCM3NCR0"

// sealedContentType labels sealed objects; the original type is kept in the
// "plain-content-type" metadata.
const sealedContentType = "application/octet-stream"

const (
	saltLen    = 16
	nonceLen   = 12
	kdfRounds  = 100000
	keyLen     = 32
	tagLen     = 16
	headerSize = len(SealFormat) + saltLen + nonceLen
)

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, kdfRounds, keyLen, sha256.New)
}

// Seal encrypts data with AES-256-GCM under a PBKDF2-derived key.
func Seal(data []byte, password string) ([]byte, error) {
	salt := make([]byte, saltLen)
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, headerSize+len(data)+tagLen)
	out = append(out, SealFormat...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, data, nil), nil
}

// Open reverses Seal.
func Open(sealed []byte, password string) ([]byte, error) {
	if len(sealed) < headerSize+tagLen {
		return nil, fmt.Errorf("sealed data too short: %d bytes", len(sealed))
	}
	if string(sealed[:len(SealFormat)]) != SealFormat {
		return nil, fmt.Errorf("unknown seal format %q", sealed[:len(SealFormat)])
	}
	salt := sealed[len(SealFormat) : len(SealFormat)+saltLen]
	nonce := sealed[len(SealFormat)+saltLen : headerSize]
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, sealed[headerSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("GCM decryption failed: %w", err)
	}
	return plain, nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
