package config

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// envOverrides carries environment values that do not map 1:1 onto Config.
type envOverrides struct {
	TokenMaxAgeMins int `env:"TOKEN_MAXAGE_MINS"`
}

var loadDotEnv = func() {
	// A missing .env file is fine.
	_ = godotenv.Load()
}

// parseEnv overlays environment variables onto config. Variables that are
// not set leave the current value untouched.
func parseEnv(config *Config) error {
	loadDotEnv()

	if err := env.Parse(config); err != nil {
		return errors.Join(ErrInvalidConfig, err)
	}

	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return errors.Join(ErrInvalidConfig, err)
	}
	if o.TokenMaxAgeMins != 0 {
		config.TokenTTL = time.Duration(o.TokenMaxAgeMins) * time.Minute
	}
	return nil
}
