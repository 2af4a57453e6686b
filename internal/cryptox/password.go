package cryptox

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// MaxPasswordLength bounds the hash input to keep Argon2 cost predictable.
const MaxPasswordLength = 128

// Argon2id parameters. They match the argon2 crate defaults the desktop
// client used, so stored hashes stay verifiable.
const (
	argonMemory  uint32 = 19 * 1024
	argonTime    uint32 = 2
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32
	saltSize            = 16

	// upper bounds accepted when decoding stored hashes
	maxArgonMemory uint32 = 1024 * 1024
	maxArgonTime   uint32 = 16
)

// Credential is what gets stored for a user: never the password itself.
type Credential struct {
	Username     string
	Salt         []byte
	PasswordHash string // PHC string, embeds the salt and parameters
}

type argonParams struct {
	memory  uint32
	time    uint32
	threads uint8
}

var defaultParams = argonParams{memory: argonMemory, time: argonTime, threads: argonThreads}

// CheckPassword applies the length preconditions shared by hashing and
// verification.
func CheckPassword(password string) error {
	if password == "" {
		return ErrEmptyPassword
	}
	if len(password) > MaxPasswordLength {
		return fmt.Errorf("%w: max %d bytes", ErrPasswordTooLong, MaxPasswordLength)
	}
	return nil
}

// NewCredential hashes password with a fresh random salt.
func NewCredential(username, password string) (*Credential, error) {
	encoded, salt, err := hashPassword(password, defaultParams)
	if err != nil {
		return nil, err
	}
	return &Credential{Username: username, Salt: salt, PasswordHash: encoded}, nil
}

// HashPassword returns the PHC-encoded Argon2id hash of password.
func HashPassword(password string) (string, error) {
	encoded, _, err := hashPassword(password, defaultParams)
	return encoded, err
}

func hashPassword(password string, p argonParams) (string, []byte, error) {
	if err := CheckPassword(password); err != nil {
		return "", nil, err
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", nil, errors.Join(ErrHashingFailed, err)
	}

	hash := argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, argonKeyLen)
	return encodeHash(p, salt, hash), salt, nil
}

// VerifyPassword reports whether password matches the PHC-encoded hash.
// The comparison is constant-time.
func VerifyPassword(password, encodedHash string) (bool, error) {
	if err := CheckPassword(password); err != nil {
		return false, err
	}

	p, salt, want, err := decodeHash(encodedHash)
	if err != nil {
		return false, err
	}

	got := argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, uint32(len(want)))
	defer Wipe(got)

	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

var b64 = base64.RawStdEncoding

func encodeHash(p argonParams, salt, hash []byte) string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.memory, p.time, p.threads, b64.EncodeToString(salt), b64.EncodeToString(hash))
}

func decodeHash(encoded string) (argonParams, []byte, []byte, error) {
	var p argonParams

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return p, nil, nil, ErrInvalidHashFormat
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return p, nil, nil, ErrInvalidHashFormat
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return p, nil, nil, ErrInvalidHashFormat
	}
	if p.memory == 0 || p.time == 0 || p.threads == 0 ||
		p.memory > maxArgonMemory || p.time > maxArgonTime {
		return p, nil, nil, ErrInvalidHashFormat
	}

	salt, err := b64.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return p, nil, nil, ErrInvalidHashFormat
	}
	hash, err := b64.DecodeString(parts[5])
	if err != nil || len(hash) < 16 {
		return p, nil, nil, ErrInvalidHashFormat
	}

	return p, salt, hash, nil
}
