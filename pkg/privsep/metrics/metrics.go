// Package metrics exposes counters for the privsep daemon and client over
// expvar, the standard library's process-wide metrics registry. Operations
// here are handshake-frequency, not hot-path, so a plain expvar.Map (itself
// mutex-guarded) is sufficient; see DESIGN.md for why no third-party metrics
// client is wired in for this concern.
package metrics

import "expvar"

// Set groups the counters for one privsep Instance (parent) or daemon
// process. Each Instance/daemon gets its own Set so multiple instances in one
// test binary do not clobber each other's expvar names.
type Set struct {
	m *expvar.Map

	LoadKeyOK     *expvar.Int
	LoadKeyFailed *expvar.Int
	PrivEncOK     *expvar.Int
	PrivEncFailed *expvar.Int
	PrivDecOK     *expvar.Int
	PrivDecFailed *expvar.Int
	SignOK        *expvar.Int
	SignFailed    *expvar.Int
	ConnDropped   *expvar.Int
}

// New creates a Set published under expvar name "privsep_" + name. Callers
// should pass a unique name per process (e.g. the socket path's base name)
// when multiple instances may coexist in the same binary, such as in tests.
func New(name string) *Set {
	m := expvar.NewMap("privsep_" + name)
	s := &Set{
		m:             m,
		LoadKeyOK:     new(expvar.Int),
		LoadKeyFailed: new(expvar.Int),
		PrivEncOK:     new(expvar.Int),
		PrivEncFailed: new(expvar.Int),
		PrivDecOK:     new(expvar.Int),
		PrivDecFailed: new(expvar.Int),
		SignOK:        new(expvar.Int),
		SignFailed:    new(expvar.Int),
		ConnDropped:   new(expvar.Int),
	}
	m.Set("load_key.ok", s.LoadKeyOK)
	m.Set("load_key.failed", s.LoadKeyFailed)
	m.Set("priv_enc.ok", s.PrivEncOK)
	m.Set("priv_enc.failed", s.PrivEncFailed)
	m.Set("priv_dec.ok", s.PrivDecOK)
	m.Set("priv_dec.failed", s.PrivDecFailed)
	m.Set("sign.ok", s.SignOK)
	m.Set("sign.failed", s.SignFailed)
	m.Set("conn.dropped", s.ConnDropped)
	return s
}
