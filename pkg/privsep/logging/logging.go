package logging

import (
	"context"
	"fmt"
	"log/slog"
)

// Logger is the subset of slog functionality used across the privsep module.
// It stays small so callers can supply their own implementation (for tests,
// redaction policy, or integration with an existing logging pipeline).
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
	With(args ...any) Logger
}

// New returns a Logger backed by the provided slog.Logger. Passing nil binds
// to slog.Default().
func New(logger *slog.Logger) Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &slogLogger{logger: logger}
}

type slogLogger struct {
	logger *slog.Logger
}

func (l *slogLogger) Debug(ctx context.Context, msg string, args ...any) {
	l.logger.DebugContext(ctx, msg, args...)
}

func (l *slogLogger) Info(ctx context.Context, msg string, args ...any) {
	l.logger.InfoContext(ctx, msg, args...)
}

func (l *slogLogger) Warn(ctx context.Context, msg string, args ...any) {
	l.logger.WarnContext(ctx, msg, args...)
}

func (l *slogLogger) Error(ctx context.Context, msg string, args ...any) {
	l.logger.ErrorContext(ctx, msg, args...)
}

func (l *slogLogger) With(args ...any) Logger {
	return &slogLogger{logger: l.logger.With(args...)}
}

// KeyHandle formats a registry handle for a log line. Handles are opaque
// integers, not key material, so there's nothing to redact; this exists so
// every log site renders them the same way (hex, not decimal) instead of
// each call site picking its own format.
func KeyHandle(handle uint64) slog.Attr {
	return slog.String("handle", fmt.Sprintf("0x%x", handle))
}

// ByteLen logs the length of a byte slice that must never have its content
// logged — a ciphertext, a plaintext, a signature, a digest. priv_enc/
// priv_dec/sign handlers use this instead of passing the slice itself to a
// logger call, which would otherwise put raw key-adjacent material in a log
// line.
func ByteLen(label string, b []byte) slog.Attr {
	return slog.Int(label, len(b))
}
