// Package models defines server-side data models persisted in the database.
package models

import "time"

// User is a registered account. PasswordHash is an Argon2id PHC string; Salt
// duplicates the salt embedded in it for auditing.
type User struct {
	ID           string
	UserName     string
	Salt         []byte
	PasswordHash string
	CreatedAt    time.Time
}
