package privsep

import (
	"log/slog"

	"github.com/privsep/keyd/pkg/privsep/logging"
)

// Config expresses the knobs Bootstrap needs to spawn the key daemon. The
// zero value is usable: it picks a fresh tempdir-backed socket, a
// slog.Default()-backed logger, and a 1024-byte limit on the RSA modulus
// size the daemon accepts.
type Config struct {
	// Executable overrides the path of the binary re-exec'd as the daemon.
	// Empty means os.Executable().
	Executable string

	// DaemonArgs are appended to the re-exec'd command line; the daemon flag
	// itself is always added by Bootstrap regardless of this field.
	DaemonArgs []string

	// MaxModulusBytes is the largest RSA modulus, in bytes, that the
	// daemon's load_key accepts; keys with a larger modulus are rejected.
	// Zero means the default (1024 bytes, i.e. up to 8192-bit RSA).
	MaxModulusBytes int

	// Logger receives daemon and client log output. Nil uses a
	// slog.Default()-backed logger.
	Logger logging.Logger

	// VerifyPeerCred, when true, has the daemon check each connection's
	// SO_PEERCRED pid against the parent's pid before serving it. This is an
	// opt-in hardening beyond the spec's baseline trust model (the socket's
	// private, owner-only tempdir); the Non-goal "no authentication of the
	// parent to the daemon" describes the default (false), not a prohibition
	// on offering a stronger mode. See pkg/privsep/daemon/peercred.go.
	VerifyPeerCred bool

	// OnFatal is invoked in place of os.Exit(1) when the parent hits an
	// unrecoverable transport failure. Tests substitute a non-exiting hook to
	// observe the fatal path without killing the test binary. Nil means
	// os.Exit(1).
	OnFatal func(error)
}

const defaultMaxModulusBytes = 1024

func (c Config) logger() logging.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logging.New(slog.Default())
}

func (c Config) maxModulusBytes() int {
	if c.MaxModulusBytes > 0 {
		return c.MaxModulusBytes
	}
	return defaultMaxModulusBytes
}
