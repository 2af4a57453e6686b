package models

import "time"

// IdentityKey is a user's long-lived Ed25519 identity. Envelope holds the
// binary-encoded cryptox.EncryptedSecret wrapping the private seed; the
// public key is stored in the clear.
type IdentityKey struct {
	UserID    string
	Envelope  []byte
	PublicKey []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}
