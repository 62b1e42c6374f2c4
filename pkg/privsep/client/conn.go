// Package client implements the parent side of privsep: a pool of lazily
// dialed connections to the key daemon, and the Proxy Key Object that routes
// crypto.Signer/crypto.Decrypter calls through it.
package client

import (
	"net"
	"sync"

	"github.com/privsep/keyd/pkg/privsep"
)

// Conn is one AF_UNIX stream connection to the key daemon, exclusively owned
// by whichever caller currently holds it. Rather than keying a thread-local
// slot (Go goroutines have no stable, addressable identity the way OS
// threads do), a Pool lends out *Conn values for the duration of one RPC and
// reclaims them afterward, giving the same "no cross-call serialization on
// the wire" property without relying on a thread-local.
type Conn struct {
	conn *net.UnixConn
}

// Call sends req framed on the wire and returns the framed response. A
// transport failure at any point invalidates the connection; the caller
// (Pool.Put) must not return a failed Conn to the pool.
func (c *Conn) Call(req *privsep.Buffer) (*privsep.Buffer, error) {
	if err := privsep.WriteFrame(c.conn, req); err != nil {
		return nil, err
	}
	return privsep.ReadFrame(c.conn)
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

// Pool lazily dials connections to a daemon's socket path and hands them out
// exclusively, one per in-flight RPC.
type Pool struct {
	sockPath string
	pool     sync.Pool
}

// NewPool returns a Pool that dials sockPath on first use.
func NewPool(sockPath string) *Pool {
	p := &Pool{sockPath: sockPath}
	p.pool.New = func() any { return nil }
	return p
}

// Get returns a ready-to-use Conn, dialing a fresh one if none is idle in the
// pool. Connection failure here is always reported to the caller, which
// treats it as fatal to the parent process (see Instance.fatal).
func (p *Pool) Get() (*Conn, error) {
	if v := p.pool.Get(); v != nil {
		return v.(*Conn), nil
	}
	addr, err := net.ResolveUnixAddr("unix", p.sockPath)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: conn}, nil
}

// Put returns c to the pool for reuse by a later caller, or closes it if
// failed is true (the connection suffered a transport error and must not be
// handed to anyone else).
func (p *Pool) Put(c *Conn, failed bool) {
	if failed {
		_ = c.Close()
		return
	}
	p.pool.Put(c)
}

// Close closes every idle connection currently sitting in the pool.
// Connections checked out at the time of the call are unaffected; callers
// are expected to have stopped issuing new RPCs before calling Close.
func (p *Pool) Close() {
	for {
		v := p.pool.Get()
		if v == nil {
			return
		}
		_ = v.(*Conn).Close()
	}
}
