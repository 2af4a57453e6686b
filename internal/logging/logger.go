// Package logging is the structured logger every layer receives. Methods take
// the request context first so handlers can attach request-scoped values.
package logging

import "context"

// Logger takes alternating key/value args, as log/slog does:
//
//	log.Info(ctx, "identity key rotated", "user_id", id)
//
// Secrets must never be passed as values; envelopes render themselves
// redacted.
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that adds args to every record.
	With(args ...any) Logger
}
