package daemon

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/privsep/keyd/pkg/privsep/logging"
	"github.com/privsep/keyd/pkg/privsep/metrics"
)

// RunConfig is the daemon process's view of the file descriptors its parent
// handed it across the exec boundary, since Go has no fork() to inherit
// descriptors from implicitly.
type RunConfig struct {
	// ListenerFD is the file descriptor of the already-bound, already-
	// listening AF_UNIX socket, created by the parent before spawning this
	// process.
	ListenerFD uintptr
	// LivenessFD is the read end of the liveness pipe; its write end is held
	// open by the parent only.
	LivenessFD uintptr

	MaxModulusBytes int
	Logger          logging.Logger
	Metrics         *metrics.Set

	// VerifyPeerCred, when true, rejects any accepted connection whose
	// SO_PEERCRED pid does not match ParentPID before reading a single frame.
	VerifyPeerCred bool
	// ParentPID is the pid new connections must present when VerifyPeerCred
	// is set. Bootstrap always passes os.Getppid() here, since the daemon is
	// a direct child of the parent process.
	ParentPID int

	// Exit is called by the liveness watcher once the parent is gone.
	// Defaults to os.Exit.
	Exit func(code int)
}

// Run takes ownership of the inherited listener and liveness pipe, and
// blocks serving connections until the liveness watcher observes the
// parent's death.
func Run(ctx context.Context, cfg RunConfig) error {
	exit := cfg.Exit
	if exit == nil {
		exit = os.Exit
	}

	lnFile := os.NewFile(cfg.ListenerFD, "privsep-listener")
	if lnFile == nil {
		return fmt.Errorf("daemon: invalid listener fd %d", cfg.ListenerFD)
	}
	genericLn, err := net.FileListener(lnFile)
	if err != nil {
		return fmt.Errorf("daemon: adopt listener fd: %w", err)
	}
	ln, ok := genericLn.(*net.UnixListener)
	if !ok {
		return fmt.Errorf("daemon: inherited listener is not AF_UNIX")
	}

	livenessFile := os.NewFile(cfg.LivenessFD, "privsep-liveness")
	if livenessFile == nil {
		return fmt.Errorf("daemon: invalid liveness fd %d", cfg.LivenessFD)
	}
	go WatchLiveness(livenessFile, exit)

	d := New(ln, cfg.Logger, cfg.Metrics, cfg.MaxModulusBytes, cfg.VerifyPeerCred, cfg.ParentPID)
	return d.Serve(ctx)
}
