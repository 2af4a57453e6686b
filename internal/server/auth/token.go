// Package auth issues and validates session tokens.
//
// A token is an encrypted envelope around {sub, iat, exp}, sealed with
// AES-256-GCM under the session-token key and encoded as unpadded base64url.
// Tokens are opaque to clients and the server keeps no session table, so a
// token is valid exactly while now < exp.
package auth

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dmitrijs2005/spots/internal/cryptox"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrEmptySubject         = errors.New("empty subject")
	ErrInvalidTTL           = errors.New("ttl must be at least one second")
	ErrDecode               = errors.New("token decode error")
	ErrAuthenticationFailed = cryptox.ErrAuthenticationFailed
	ErrParse                = errors.New("token parse error")
	ErrExpired              = errors.New("token expired")

	// ErrInvalidToken is the only token error allowed to reach clients.
	ErrInvalidToken = errors.New("invalid token")
)

var encoding = base64.RawURLEncoding.Strict()

// Claims is the canonical token payload. Only sub, iat and exp are set.
type Claims = jwt.RegisteredClaims

// Issuer mints and checks session tokens with a dedicated sealer.
type Issuer struct {
	sealer *cryptox.Sealer
}

func NewIssuer(sealer *cryptox.Sealer) *Issuer {
	return &Issuer{sealer: sealer}
}

// Issue returns a token for subject valid on [now, now+ttl). Claims carry
// whole seconds, so ttl must be at least one second.
func (i *Issuer) Issue(subject string, now time.Time, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", ErrEmptySubject
	}
	if ttl < time.Second {
		return "", ErrInvalidTTL
	}

	claims := Claims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}

	env, err := i.sealer.Encrypt(payload)
	if err != nil {
		return "", err
	}
	raw, err := env.MarshalBinary()
	if err != nil {
		return "", err
	}

	return encoding.EncodeToString(raw), nil
}

// Validate checks token at time now and returns its subject.
//
// Checks run in a fixed order: decode, decrypt, parse, expiry. The returned
// error tells which one failed; callers facing clients must pass it through
// Public first.
func (i *Issuer) Validate(token string, now time.Time) (string, error) {
	claims, err := i.Parse(token)
	if err != nil {
		return "", err
	}

	if !now.Before(claims.ExpiresAt.Time) {
		return "", ErrExpired
	}
	return claims.Subject, nil
}

// Parse decodes, decrypts and parses token without checking expiry.
func (i *Issuer) Parse(token string) (*Claims, error) {
	raw, err := encoding.DecodeString(token)
	if err != nil || len(raw) == 0 {
		return nil, ErrDecode
	}

	var env cryptox.EncryptedSecret
	if err := env.UnmarshalBinary(raw); err != nil {
		return nil, errors.Join(ErrAuthenticationFailed, err)
	}

	payload, err := i.sealer.DecryptMaster(&env)
	if err != nil {
		if errors.Is(err, cryptox.ErrAuthenticationFailed) {
			return nil, ErrAuthenticationFailed
		}
		return nil, errors.Join(ErrAuthenticationFailed, err)
	}

	return parseClaims(payload)
}

func parseClaims(payload []byte) (*Claims, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()

	var claims Claims
	if err := dec.Decode(&claims); err != nil {
		return nil, ErrParse
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, ErrParse
	}
	if claims.Subject == "" || claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return nil, ErrParse
	}
	if claims.ExpiresAt.Before(claims.IssuedAt.Time) {
		return nil, ErrParse
	}
	return &claims, nil
}

// Public collapses every validation failure into ErrInvalidToken so that
// tampered, malformed and expired tokens look the same from outside.
func Public(err error) error {
	if err == nil {
		return nil
	}
	return ErrInvalidToken
}

// Reason names the validation stage that failed, for internal logs only.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDecode):
		return "decode"
	case errors.Is(err, ErrAuthenticationFailed):
		return "authentication"
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrExpired):
		return "expired"
	default:
		return "unknown"
	}
}
