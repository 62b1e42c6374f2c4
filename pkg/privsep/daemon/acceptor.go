package daemon

import (
	"context"
	"errors"
	"io"
	"net"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/privsep/keyd/pkg/privsep"
	"github.com/privsep/keyd/pkg/privsep/logging"
	"github.com/privsep/keyd/pkg/privsep/metrics"
	"github.com/privsep/keyd/pkg/privsep/registry"
)

// Daemon is the accept loop side of privsep: it listens on an AF_UNIX
// stream socket, spawns one goroutine per accepted connection, and
// dispatches each connection's commands to Handlers.
type Daemon struct {
	listener *net.UnixListener
	handlers *Handlers
	logger   logging.Logger
	metrics  *metrics.Set

	verifyPeerCred bool
	parentPID      int
}

// New returns a Daemon serving ln, dispatching to a fresh Handlers backed by
// its own Registry. When verifyPeerCred is true, every accepted connection
// must present SO_PEERCRED credentials matching parentPID or it is dropped
// before a single frame is read; this is an opt-in hardening beyond the
// spec's baseline trust-by-directory-permissions model (see peercred.go).
func New(ln *net.UnixListener, logger logging.Logger, m *metrics.Set, maxModulusBytes int, verifyPeerCred bool, parentPID int) *Daemon {
	reg := registry.New()
	return &Daemon{
		listener:       ln,
		handlers:       NewHandlers(reg, logger, m, maxModulusBytes),
		logger:         logger,
		metrics:        m,
		verifyPeerCred: verifyPeerCred,
		parentPID:      parentPID,
	}
}

// Serve accepts connections until ctx is canceled or the listener is closed,
// spawning a worker goroutine per connection. It returns nil when ctx is
// canceled; if the listener is closed some other way, it returns that
// accept error.
func (d *Daemon) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		return d.listener.Close()
	})

	g.Go(func() error {
		for {
			conn, err := d.listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return nil
				default:
					return err
				}
			}
			g.Go(func() error {
				d.serveConn(ctx, conn)
				return nil
			})
		}
	})

	return g.Wait()
}

// serveConn runs one connection's read_frame -> dispatch -> write_frame loop
// until the peer disconnects or sends something the daemon cannot parse. A
// panic recovered here (e.g. from a malformed frame tripping an invariant
// deep in a handler) only drops this connection; it never takes down the
// daemon.
func (d *Daemon) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error(ctx, "worker panic recovered", "panic", r)
			d.metrics.ConnDropped.Add(1)
		}
	}()

	if d.verifyPeerCred {
		unixConn, ok := conn.(*net.UnixConn)
		if !ok {
			d.logger.Warn(ctx, "peer credential check requires an AF_UNIX connection")
			d.metrics.ConnDropped.Add(1)
			return
		}
		if err := verifyPeerCred(unixConn, d.parentPID); err != nil {
			d.logger.Warn(ctx, "rejecting connection with unverified peer credentials", "err", err)
			d.metrics.ConnDropped.Add(1)
			return
		}
	}

	for {
		buf, err := privsep.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, privsep.ErrConnectionClosed) && !errors.Is(err, io.EOF) {
				d.logger.Warn(ctx, "read_frame failed", "err", err)
			}
			d.metrics.ConnDropped.Add(1)
			return
		}

		if !d.dispatch(ctx, conn, buf) {
			d.metrics.ConnDropped.Add(1)
			return
		}
	}
}

// dispatch parses the command token from buf, runs the matching handler, and
// writes the framed response. It returns false if the connection should be
// dropped (unknown command or parse failure). buf is always disposed before
// dispatch returns.
func (d *Daemon) dispatch(ctx context.Context, conn net.Conn, buf *privsep.Buffer) bool {
	defer buf.Dispose()

	cmd, err := buf.ShiftString()
	if err != nil {
		d.logger.Warn(ctx, "dispatch: missing command token", "err", err)
		return false
	}

	switch cmd {
	case privsep.CmdLoadKey:
		req, err := privsep.DecodeLoadKeyRequest(buf)
		if err != nil {
			d.logger.Warn(ctx, "dispatch: malformed load_key request", "err", err)
			return false
		}
		resp := d.handlers.HandleLoadKey(ctx, req)
		out := privsep.NewBuffer()
		resp.Encode(out)
		return d.reply(ctx, conn, out)

	case privsep.CmdPrivEnc:
		req, err := privsep.DecodeCryptRequest(buf)
		if err != nil {
			d.logger.Warn(ctx, "dispatch: malformed priv_enc request", "err", err)
			return false
		}
		resp := d.handlers.HandlePrivEnc(ctx, req)
		out := privsep.NewBuffer()
		resp.Encode(out)
		return d.reply(ctx, conn, out)

	case privsep.CmdPrivDec:
		req, err := privsep.DecodeCryptRequest(buf)
		if err != nil {
			d.logger.Warn(ctx, "dispatch: malformed priv_dec request", "err", err)
			return false
		}
		resp := d.handlers.HandlePrivDec(ctx, req)
		out := privsep.NewBuffer()
		resp.Encode(out)
		return d.reply(ctx, conn, out)

	case privsep.CmdSign:
		req, err := privsep.DecodeSignRequest(buf)
		if err != nil {
			d.logger.Warn(ctx, "dispatch: malformed sign request", "err", err)
			return false
		}
		resp := d.handlers.HandleSign(ctx, req)
		out := privsep.NewBuffer()
		resp.Encode(out)
		return d.reply(ctx, conn, out)

	default:
		d.logger.Warn(ctx, "dispatch: unknown command", "cmd", cmd)
		return false
	}
}

func (d *Daemon) reply(ctx context.Context, conn net.Conn, out *privsep.Buffer) bool {
	defer out.Dispose()
	if err := privsep.WriteFrame(conn, out); err != nil {
		d.logger.Warn(ctx, "write_frame failed", "err", err)
		return false
	}
	return true
}

// WatchLiveness blocks reading one byte from pipe (the read end of a pipe
// whose write end the parent holds open). As soon as that read returns (EOF
// once the parent's write end is closed, or any error), exit is called with
// code 0, so the daemon dies with its parent and its keys go with it.
// Interrupted system calls never surface here; Go retries them internally.
// The daemon does not remove the socket's tempdir: the parent's
// Instance.Close removes it, and after a parent crash it is left in place.
func WatchLiveness(pipe *os.File, exit func(code int)) {
	var b [1]byte
	_, _ = pipe.Read(b[:])
	exit(0)
}
