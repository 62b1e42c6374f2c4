package daemon_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/privsep/keyd/pkg/privsep"
	"github.com/privsep/keyd/pkg/privsep/daemon"
	"github.com/privsep/keyd/pkg/privsep/logging"
	"github.com/privsep/keyd/pkg/privsep/metrics"
)

func listenTestSocket(t *testing.T) (*net.UnixListener, string) {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "_")
	addr, err := net.ResolveUnixAddr("unix", sockPath)
	require.NoError(t, err)
	ln, err := net.ListenUnix("unix", addr)
	require.NoError(t, err)
	return ln, sockPath
}

func startTestDaemon(t *testing.T) string {
	t.Helper()
	ln, sockPath := listenTestSocket(t)

	d := daemon.New(ln, testLogger(), metrics.New(t.Name()), 1024, false, 0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return sockPath
}

func dialTestDaemon(t *testing.T, sockPath string) net.Conn {
	t.Helper()
	addr, err := net.ResolveUnixAddr("unix", sockPath)
	require.NoError(t, err)
	conn, err := net.DialUnix("unix", nil, addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func writeTempKeyPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0o600))
	return path
}

func TestDaemonServesLoadKeyAndSign(t *testing.T) {
	sockPath := startTestDaemon(t)
	conn := dialTestDaemon(t, sockPath)
	keyPath := writeTempKeyPEM(t)

	req := privsep.LoadKeyRequest{Path: keyPath}
	buf := privsep.NewBuffer()
	req.Encode(buf)
	require.NoError(t, privsep.WriteFrame(conn, buf))
	buf.Dispose()

	respBuf, err := privsep.ReadFrame(conn)
	require.NoError(t, err)
	resp, err := privsep.DecodeLoadKeyResponse(respBuf)
	respBuf.Dispose()
	require.NoError(t, err)
	require.True(t, resp.OK)

	digest := sha256.Sum256([]byte("handshake transcript"))
	signReq := privsep.SignRequest{Type: 5, Msg: digest[:], Handle: resp.Handle}
	sbuf := privsep.NewBuffer()
	signReq.Encode(sbuf)
	require.NoError(t, privsep.WriteFrame(conn, sbuf))
	sbuf.Dispose()

	signRespBuf, err := privsep.ReadFrame(conn)
	require.NoError(t, err)
	signResp, err := privsep.DecodeSignResponse(signRespBuf)
	signRespBuf.Dispose()
	require.NoError(t, err)
	require.Equal(t, int64(1), signResp.Ret)
	require.NotEmpty(t, signResp.Sig)
}

func TestDaemonClosesConnectionOnUnknownCommand(t *testing.T) {
	sockPath := startTestDaemon(t)
	conn := dialTestDaemon(t, sockPath)

	buf := privsep.NewBuffer()
	buf.PushString("not_a_real_command")
	require.NoError(t, privsep.WriteFrame(conn, buf))
	buf.Dispose()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := privsep.ReadFrame(conn)
	require.Error(t, err)
}

func TestDaemonFaultIsolation(t *testing.T) {
	sockPath := startTestDaemon(t)

	// One connection sends a malformed frame (length prefix lying about a
	// payload that never arrives) and gets dropped...
	bad := dialTestDaemon(t, sockPath)
	var header [8]byte
	header[0] = 0xFF // little-endian length 255, no payload follows
	_, err := bad.Write(header[:])
	require.NoError(t, err)
	_ = bad.Close()

	// ...while a concurrent, well-formed connection keeps being served.
	good := dialTestDaemon(t, sockPath)
	keyPath := writeTempKeyPEM(t)
	req := privsep.LoadKeyRequest{Path: keyPath}
	buf := privsep.NewBuffer()
	req.Encode(buf)
	require.NoError(t, privsep.WriteFrame(good, buf))
	buf.Dispose()

	respBuf, err := privsep.ReadFrame(good)
	require.NoError(t, err)
	resp, err := privsep.DecodeLoadKeyResponse(respBuf)
	respBuf.Dispose()
	require.NoError(t, err)
	require.True(t, resp.OK)
}

func TestDaemonConcurrentLoadKeyIssuesDistinctHandles(t *testing.T) {
	sockPath := startTestDaemon(t)
	keyPath := writeTempKeyPEM(t)

	const n = 16
	handles := make([]uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := dialTestDaemon(t, sockPath)
			req := privsep.LoadKeyRequest{Path: keyPath}
			buf := privsep.NewBuffer()
			req.Encode(buf)
			require.NoError(t, privsep.WriteFrame(conn, buf))
			buf.Dispose()

			respBuf, err := privsep.ReadFrame(conn)
			require.NoError(t, err)
			resp, err := privsep.DecodeLoadKeyResponse(respBuf)
			respBuf.Dispose()
			require.NoError(t, err)
			require.True(t, resp.OK)
			handles[i] = resp.Handle
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]bool, n)
	for _, h := range handles {
		require.False(t, seen[h], "handle %d issued twice", h)
		seen[h] = true
	}
}

func testLogger() logging.Logger {
	return logging.New(nil)
}

// TestWatchLivenessExitsWhenParentPipeCloses exercises scenario 6 from the
// spec's testable properties: the parent's death (here, simulated by closing
// the write end of the liveness pipe directly rather than killing a real
// process) must make the daemon self-exit rather than linger as an orphan.
func TestWatchLivenessExitsWhenParentPipeCloses(t *testing.T) {
	readEnd, writeEnd, err := os.Pipe()
	require.NoError(t, err)

	exitCh := make(chan int, 1)
	go daemon.WatchLiveness(readEnd, func(code int) { exitCh <- code })

	require.NoError(t, writeEnd.Close())

	select {
	case code := <-exitCh:
		require.Equal(t, 0, code)
	case <-time.After(2 * time.Second):
		t.Fatal("WatchLiveness did not observe the closed liveness pipe")
	}
}

// TestWatchLivenessBlocksWhileParentPipeIsOpen is the negative half of the
// above: as long as the write end stays open, WatchLiveness must not call
// exit, matching its "blocks until read returns" contract.
func TestWatchLivenessBlocksWhileParentPipeIsOpen(t *testing.T) {
	readEnd, writeEnd, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { _ = readEnd.Close(); _ = writeEnd.Close() })

	exitCh := make(chan int, 1)
	go daemon.WatchLiveness(readEnd, func(code int) { exitCh <- code })

	select {
	case code := <-exitCh:
		t.Fatalf("WatchLiveness exited with code %d while the parent pipe was still open", code)
	case <-time.After(200 * time.Millisecond):
		// expected: still blocked reading
	}
}
