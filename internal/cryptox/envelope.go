package cryptox

import (
	"crypto/cipher"
	"fmt"
	"log/slog"
)

const envelopeVersion byte = 0x01

// EncryptedSecret is an at-rest encrypted value.
//
// Key is nil for envelopes sealed under the service master key. A non-nil Key
// marks a legacy envelope that carries its own per-blob key; such envelopes
// are readable but never produced by a Sealer.
type EncryptedSecret struct {
	Ciphertext []byte // ciphertext || tag
	Nonce      []byte
	Key        []byte
}

// Legacy reports whether the envelope carries an embedded per-blob key.
func (e *EncryptedSecret) Legacy() bool {
	return e.Key != nil
}

func (e *EncryptedSecret) validate() error {
	if e.Key != nil && len(e.Key) != KeySize {
		return fmt.Errorf("%w: key size: got %d, want %d", ErrMalformed, len(e.Key), KeySize)
	}
	if len(e.Nonce) != NonceSize {
		return fmt.Errorf("%w: nonce size: got %d, want %d", ErrMalformed, len(e.Nonce), NonceSize)
	}
	if len(e.Ciphertext) < TagSize {
		return fmt.Errorf("%w: ciphertext shorter than tag", ErrMalformed)
	}
	return nil
}

// MarshalBinary encodes the envelope as
//
//	version(1) | keyLen(1) | key | nonceLen(1) | nonce | ciphertext||tag
func (e *EncryptedSecret) MarshalBinary() ([]byte, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}

	out := make([]byte, 0, 3+len(e.Key)+len(e.Nonce)+len(e.Ciphertext))
	out = append(out, envelopeVersion, byte(len(e.Key)))
	out = append(out, e.Key...)
	out = append(out, byte(len(e.Nonce)))
	out = append(out, e.Nonce...)
	out = append(out, e.Ciphertext...)
	return out, nil
}

// UnmarshalBinary is the inverse of MarshalBinary. It copies its input.
func (e *EncryptedSecret) UnmarshalBinary(data []byte) error {
	if len(data) < 2 || data[0] != envelopeVersion {
		return fmt.Errorf("%w: bad header", ErrMalformed)
	}

	rest := data[1:]
	key, rest, err := readField(rest)
	if err != nil {
		return err
	}
	nonce, rest, err := readField(rest)
	if err != nil {
		return err
	}

	env := EncryptedSecret{
		Ciphertext: clone(rest),
		Nonce:      clone(nonce),
	}
	if len(key) > 0 {
		env.Key = clone(key)
	}
	if err := env.validate(); err != nil {
		return err
	}

	*e = env
	return nil
}

func readField(b []byte) (field, rest []byte, err error) {
	if len(b) < 1 {
		return nil, nil, fmt.Errorf("%w: truncated", ErrMalformed)
	}
	n := int(b[0])
	if len(b) < 1+n {
		return nil, nil, fmt.Errorf("%w: truncated", ErrMalformed)
	}
	return b[1 : 1+n], b[1+n:], nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// String never prints key material.
func (e *EncryptedSecret) String() string {
	return fmt.Sprintf("EncryptedSecret{ciphertext: %d bytes, nonce: %x, legacy: %t}", len(e.Ciphertext), e.Nonce, e.Legacy())
}

func (e *EncryptedSecret) GoString() string {
	return e.String()
}

func (e *EncryptedSecret) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("ciphertext_len", len(e.Ciphertext)),
		slog.Bool("legacy", e.Legacy()),
	)
}

// Sealer encrypts and decrypts envelopes under a single master key.
// It is safe for concurrent use.
type Sealer struct {
	aead   cipher.AEAD
	nonces NonceSource
}

// NewSealer binds a 32-byte master key to a nonce source. The nonce source
// must not be shared with a sealer using a different key in a way that could
// repeat values for this key.
func NewSealer(key []byte, nonces NonceSource) (*Sealer, error) {
	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aesGCM, nonces: nonces}, nil
}

// Encrypt seals plaintext under the master key with a fresh nonce.
func (s *Sealer) Encrypt(plaintext []byte) (*EncryptedSecret, error) {
	nonce, err := s.nonces.NextNonce()
	if err != nil {
		return nil, err
	}

	ciphertext, err := seal(s.aead, nonce, plaintext)
	if err != nil {
		return nil, err
	}

	return &EncryptedSecret{Ciphertext: ciphertext, Nonce: nonce}, nil
}

// Decrypt opens env. Legacy envelopes are opened with their embedded key,
// everything else with the master key.
func (s *Sealer) Decrypt(env *EncryptedSecret) ([]byte, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrMalformed)
	}
	if err := env.validate(); err != nil {
		return nil, err
	}

	if env.Legacy() {
		return Open(env.Key, env.Nonce, env.Ciphertext)
	}
	return open(s.aead, env.Nonce, env.Ciphertext)
}

// DecryptMaster opens env with the master key only and rejects legacy
// envelopes as malformed.
func (s *Sealer) DecryptMaster(env *EncryptedSecret) ([]byte, error) {
	if env != nil && env.Legacy() {
		return nil, fmt.Errorf("%w: embedded key not allowed", ErrMalformed)
	}
	return s.Decrypt(env)
}
