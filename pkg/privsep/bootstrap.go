package privsep

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/privsep/keyd/pkg/privsep/client"
	"github.com/privsep/keyd/pkg/privsep/daemon"
	"github.com/privsep/keyd/pkg/privsep/logging"
	"github.com/privsep/keyd/pkg/privsep/metrics"
)

// daemonFlag is the argv[1] sentinel RunDaemonIfRequested looks for. Bootstrap
// always puts it first in the re-exec'd command line.
const daemonFlag = "--privsep-daemon"

// Fixed ExtraFiles indices. os/exec numbers ExtraFiles starting at fd 3
// (0, 1, 2 are stdin/stdout/stderr); Bootstrap always passes exactly these
// two files in this order.
const (
	listenerFD = uintptr(3)
	livenessFD = uintptr(4)
)

// Instance is a bootstrapped privsep session: a running daemon subprocess,
// the parent-side connection pool to it, and the tempdir/socket the two
// share. It lasts for the life of the parent process.
type Instance struct {
	sockPath string
	tempDir  string
	pool     *client.Pool
	logger   logging.Logger
	metrics  *metrics.Set

	cmd       *exec.Cmd
	pipeWrite *os.File

	onFatal   func(error)
	closeOnce sync.Once
}

// Bootstrap spawns the key daemon and returns a ready-to-use Instance. It
// creates the tempdir (owner-only), binds and listens the socket, opens the
// liveness pipe, then re-execs the current binary (or cfg.Executable) with
// the listener and the pipe's read end inherited via ExtraFiles. On any
// failure it unwinds everything it already created.
func Bootstrap(cfg Config) (inst *Instance, err error) {
	tempDir, err := os.MkdirTemp("", "privsep-*")
	if err != nil {
		return nil, errorf("Bootstrap", "create tempdir: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(tempDir)
		}
	}()
	if err := os.Chmod(tempDir, 0o700); err != nil {
		return nil, errorf("Bootstrap", "chmod tempdir: %w", err)
	}

	sockPath := filepath.Join(tempDir, "_")
	ln, err := listenUnix(sockPath)
	if err != nil {
		return nil, errorf("Bootstrap", "listen: %w", err)
	}
	defer func() {
		if err != nil {
			_ = ln.Close()
		}
	}()

	lnFile, err := ln.File()
	if err != nil {
		return nil, errorf("Bootstrap", "dup listener fd: %w", err)
	}
	defer lnFile.Close()

	pipeRead, pipeWrite, err := os.Pipe()
	if err != nil {
		return nil, errorf("Bootstrap", "create liveness pipe: %w", err)
	}
	defer pipeRead.Close()
	defer func() {
		if err != nil {
			_ = pipeWrite.Close()
		}
	}()

	executable := cfg.Executable
	if executable == "" {
		executable, err = os.Executable()
		if err != nil {
			return nil, errorf("Bootstrap", "resolve executable: %w", err)
		}
	}

	args := append([]string{daemonFlag}, cfg.DaemonArgs...)
	cmd := exec.Command(executable, args...)
	cmd.ExtraFiles = []*os.File{lnFile, pipeRead}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, errorf("Bootstrap", "start daemon: %w", err)
	}

	// The daemon now holds its own copies of the listener and the pipe read
	// end (duplicated across exec by the OS); the parent no longer accepts
	// on the socket and has no use for the pipe's read end.
	_ = ln.Close()

	logger := cfg.logger()
	m := metrics.New(filepath.Base(tempDir))

	return &Instance{
		sockPath:  sockPath,
		tempDir:   tempDir,
		pool:      client.NewPool(sockPath),
		logger:    logger,
		metrics:   m,
		cmd:       cmd,
		pipeWrite: pipeWrite,
		onFatal:   cfg.OnFatal,
	}, nil
}

// RunDaemonIfRequested checks whether the current process was re-exec'd by
// Bootstrap to act as the key daemon (argv[1] == the internal daemon
// sentinel). If so, it adopts the inherited listener and liveness pipe,
// serves connections until the parent dies, and never returns — the calling
// main() should invoke this as its very first statement and treat a false
// return as "continue normal parent-side startup". This is the Go-idiomatic
// substitute for a fork()'d child falling into a different branch of the
// same if statement.
func RunDaemonIfRequested(cfg Config) bool {
	if len(os.Args) < 2 || os.Args[1] != daemonFlag {
		return false
	}

	logger := cfg.logger()
	m := metrics.New("daemon")

	err := daemon.Run(context.Background(), daemon.RunConfig{
		ListenerFD:      listenerFD,
		LivenessFD:      livenessFD,
		MaxModulusBytes: cfg.maxModulusBytes(),
		Logger:          logger,
		Metrics:         m,
		VerifyPeerCred:  cfg.VerifyPeerCred,
		ParentPID:       os.Getppid(),
	})
	if err != nil {
		logger.Error(context.Background(), "daemon exited with error", "err", err)
		os.Exit(1)
	}
	os.Exit(0)
	return true
}

// LoadPrivateKeyFile issues a load_key request for path and, on success,
// returns a client.ProxyKey ready to be assigned as a tls.Certificate's
// PrivateKey.
func (i *Instance) LoadPrivateKeyFile(path string) (*client.ProxyKey, error) {
	conn, err := i.pool.Get()
	if err != nil {
		return nil, i.fatal(errorf("LoadPrivateKeyFile", "dial daemon: %w", err))
	}

	req := LoadKeyRequest{Path: path}
	buf := NewBuffer()
	req.Encode(buf)

	respBuf, err := conn.Call(buf)
	i.pool.Put(conn, err != nil)
	buf.Dispose()
	if err != nil {
		return nil, i.fatal(errorf("LoadPrivateKeyFile", "rpc: %w", err))
	}
	defer respBuf.Dispose()

	resp, err := DecodeLoadKeyResponse(respBuf)
	if err != nil {
		return nil, i.fatal(errorf("LoadPrivateKeyFile", "decode response: %w", err))
	}
	if !resp.OK {
		return nil, fmt.Errorf("privsep: load_key %q: %s", path, resp.Err)
	}

	return client.NewProxyKey(i.pool, resp.Handle, resp.EHex, resp.NHex, i.fatalFunc())
}

// Close tears down the daemon subprocess, its tempdir, and this instance's
// connection pool. It does not rely on the liveness pipe (which only fires
// when the parent process itself dies); Close is the graceful-shutdown path
// a long-lived host process or a test needs on top of that kill switch.
func (i *Instance) Close() error {
	var closeErr error
	i.closeOnce.Do(func() {
		i.pool.Close()
		if i.pipeWrite != nil {
			_ = i.pipeWrite.Close()
		}
		if i.cmd != nil && i.cmd.Process != nil {
			_ = i.cmd.Process.Kill()
			_ = i.cmd.Wait()
		}
		closeErr = os.RemoveAll(i.tempDir)
	})
	return closeErr
}

// SocketPath returns the AF_UNIX path the daemon is listening on. Exposed
// for tests that want to dial the daemon directly.
func (i *Instance) SocketPath() string {
	return i.sockPath
}

func (i *Instance) fatal(err error) error {
	if err == nil {
		return nil
	}
	i.logger.Error(context.Background(), "fatal transport failure", "err", err)
	if i.onFatal != nil {
		i.onFatal(err)
		return err
	}
	os.Exit(1)
	return err
}

func (i *Instance) fatalFunc() client.FatalFunc {
	return i.fatal
}

// listenUnix binds and listens an AF_UNIX stream socket at path. Binding to a
// stale socket left behind by a crashed prior instance would fail with
// EADDRINUSE; Bootstrap always allocates path inside a fresh MkdirTemp
// directory, so that case cannot arise here.
func listenUnix(path string) (*net.UnixListener, error) {
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, err
	}
	return net.ListenUnix("unix", addr)
}
