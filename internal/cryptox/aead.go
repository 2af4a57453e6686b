// Package cryptox holds the low-level cryptography of the service: the
// AES-256-GCM engine, nonce policies, secret envelopes, key derivation and
// password hashing.
//
// Callers above this package never touch cipher.AEAD directly; they go
// through a Sealer, which pairs a key with a NonceSource so that a
// (key, nonce) pair is never used twice.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

const (
	// KeySize is the size of an AES-256 key in bytes.
	KeySize = 32
	// NonceSize is the size of an AES-GCM nonce in bytes.
	NonceSize = 12
	// TagSize is the size of an AES-GCM authentication tag in bytes.
	TagSize = 16
)

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key size: got %d, want %d", ErrMalformed, len(key), KeySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Join(ErrEncryptionFailed, err)
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Join(ErrEncryptionFailed, err)
	}

	return aesGCM, nil
}

// Seal encrypts plaintext with AES-256-GCM and returns ciphertext||tag.
// The caller is responsible for never reusing nonce with the same key.
func Seal(key, nonce, plaintext []byte) ([]byte, error) {
	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return seal(aesGCM, nonce, plaintext)
}

// Open authenticates and decrypts ciphertext||tag. Any corruption of the
// ciphertext, tag, key or nonce yields ErrAuthenticationFailed.
func Open(key, nonce, ciphertext []byte) ([]byte, error) {
	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return open(aesGCM, nonce, ciphertext)
}

func seal(aesGCM cipher.AEAD, nonce, plaintext []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce size: got %d, want %d", ErrMalformed, len(nonce), NonceSize)
	}
	return aesGCM.Seal(nil, nonce, plaintext, nil), nil
}

func open(aesGCM cipher.AEAD, nonce, ciphertext []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce size: got %d, want %d", ErrMalformed, len(nonce), NonceSize)
	}
	if len(ciphertext) < TagSize {
		return nil, fmt.Errorf("%w: ciphertext shorter than tag", ErrMalformed)
	}

	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return plaintext, nil
}
