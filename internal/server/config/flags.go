package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/spots/internal/flagx"
)

var allowedFlags = []string{
	"-a", "-g", "-d", "-s", "-t", "-n", "-nonce-store", "-nonce-block",
	"-redis", "-u", "-p", "-b", "-region", "-e", "-l",
}

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags:
//
//	-a string            HTTP bind address (e.g., ":8080")
//	-g string            gRPC bind address (e.g., ":50051")
//	-d string            PostgreSQL DSN
//	-s string            service secret (>= 32 bytes)
//	-t int               session token lifetime, minutes
//	-n string            nonce policy: random | counter
//	-nonce-store string  counter reservations: postgres | redis
//	-nonce-block uint    counter values reserved per round trip
//	-redis string        Redis URL
//	-u string            S3 access key
//	-p string            S3 secret key
//	-b string            S3 bucket (empty disables backups)
//	-region string       S3 region
//	-e string            S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-l string            log level
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], allowedFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "HTTP address and port to run server")
	fs.StringVar(&config.GRPCAddr, "g", config.GRPCAddr, "gRPC address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "service secret key")

	tokenTTL := fs.Int("t", int(config.TokenTTL.Minutes()), "session token lifetime (in minutes)")

	fs.StringVar(&config.NoncePolicy, "n", config.NoncePolicy, "nonce policy (random|counter)")
	fs.StringVar(&config.NonceStore, "nonce-store", config.NonceStore, "nonce counter store (postgres|redis)")
	fs.Uint64Var(&config.NonceBlockSize, "nonce-block", config.NonceBlockSize, "nonce counter block size")
	fs.StringVar(&config.RedisURL, "redis", config.RedisURL, "Redis URL")

	fs.StringVar(&config.S3AccessKey, "u", config.S3AccessKey, "S3 access key")
	fs.StringVar(&config.S3SecretKey, "p", config.S3SecretKey, "S3 secret key")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 backup bucket")
	fs.StringVar(&config.S3Region, "region", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level (debug|info|warn|error)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	// -t only overrides the TTL when given, so sub-minute values from JSON survive.
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "t" {
			config.TokenTTL = time.Duration(*tokenTTL) * time.Minute
		}
	})
}
