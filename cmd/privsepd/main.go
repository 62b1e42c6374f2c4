// Command privsepd is a standalone key daemon binary. It exists for callers
// who prefer pointing Config.Executable at a dedicated binary instead of
// relying on Bootstrap's default of re-exec'ing the host application itself;
// functionally it is identical to a host calling privsep.RunDaemonIfRequested
// as its first statement.
package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/privsep/keyd/pkg/privsep"
	"github.com/privsep/keyd/pkg/privsep/logging"
)

func main() {
	maxModulusBytes := flag.Int("max-modulus-bytes", 0, "reject keys whose modulus exceeds this many bytes (0 = default)")
	verifyPeerCred := flag.Bool("verify-peer-cred", false, "reject connections whose SO_PEERCRED pid does not match the parent process")
	// Bootstrap starts this binary with the daemon sentinel as argv[1], ahead
	// of any Config.DaemonArgs; skip it so the flag package only sees
	// privsepd's own flags.
	args := os.Args[1:]
	if len(args) > 0 && args[0] == "--privsep-daemon" {
		args = args[1:]
	}
	_ = flag.CommandLine.Parse(args)

	// Put the sentinel back as argv[1] so the shared bootstrap/daemon
	// boundary logic in RunDaemonIfRequested applies identically whether
	// it's this binary or a re-exec'd host app.
	os.Args = append([]string{os.Args[0], "--privsep-daemon"}, flag.Args()...)

	cfg := privsep.Config{
		MaxModulusBytes: *maxModulusBytes,
		VerifyPeerCred:  *verifyPeerCred,
		Logger:          logging.New(slog.Default()),
	}

	if !privsep.RunDaemonIfRequested(cfg) {
		slog.Error("privsepd: missing inherited daemon file descriptors")
		os.Exit(1)
	}
}
