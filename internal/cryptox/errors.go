package cryptox

import "errors"

var (
	// Envelope / AEAD errors.
	ErrMalformed            = errors.New("malformed envelope")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrEncryptionFailed     = errors.New("encryption failed")

	// Nonce policy errors.
	ErrNonceExhausted = errors.New("nonce space exhausted")
	ErrNonceReserve   = errors.New("nonce reservation failed")

	// Password errors.
	ErrEmptyPassword     = errors.New("empty password")
	ErrPasswordTooLong   = errors.New("password too long")
	ErrInvalidHashFormat = errors.New("invalid hash format")
	ErrHashingFailed     = errors.New("hashing failed")

	// Key material errors.
	ErrSecretTooShort = errors.New("secret too short")
)
