// Package logging provides a minimal, context-aware logging facade for the
// privsep daemon and client: a small Logger interface wrapping log/slog,
// plus KeyHandle and ByteLen helpers for logging RPC traffic without ever
// putting key material, ciphertexts, or signatures into a log line.
package logging
