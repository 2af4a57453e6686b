package config

import "github.com/dmitrijs2005/spots/internal/cryptox"

const (
	minSecretLen = cryptox.MinSecretSize

	tokenKeyInfo  = "spots:session-token:v1"
	secretKeyInfo = "spots:secret-envelope:v1"
)

// KeyMaterial holds the process-wide symmetric keys derived from SecretKey,
// one subkey per purpose.
type KeyMaterial struct {
	Token  []byte
	Secret []byte
}

// Keys derives the token and secret-envelope keys from SecretKey.
func (c *Config) Keys() (*KeyMaterial, error) {
	tokenKey, err := cryptox.DeriveKey([]byte(c.SecretKey), tokenKeyInfo)
	if err != nil {
		return nil, err
	}
	secretKey, err := cryptox.DeriveKey([]byte(c.SecretKey), secretKeyInfo)
	if err != nil {
		return nil, err
	}
	return &KeyMaterial{Token: tokenKey, Secret: secretKey}, nil
}

// Wipe zeroes the key material.
func (k *KeyMaterial) Wipe() {
	cryptox.Wipe(k.Token)
	cryptox.Wipe(k.Secret)
}
