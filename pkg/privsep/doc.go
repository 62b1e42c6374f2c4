// Package privsep implements privilege separation for RSA private-key
// operations: a length-prefixed wire protocol, a buffer type shared by the
// send and receive paths, and the bootstrap that spawns the key daemon and
// loads keys into it as proxy keys. LoadPrivateKeyFile returns the proxy key;
// it does not install it into a TLS certificate, which is left to the caller.
//
// The daemon side lives in pkg/privsep/daemon, the parent-side connection
// pool and proxy key live in pkg/privsep/client, and the append-only key
// table lives in pkg/privsep/registry.
package privsep
