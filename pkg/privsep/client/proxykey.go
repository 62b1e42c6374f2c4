package client

import (
	"crypto"
	"crypto/rsa"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"

	"github.com/privsep/keyd/internal/rsaraw"
	"github.com/privsep/keyd/pkg/privsep"
)

// FatalFunc reports a transport failure that is fatal to the parent process.
// It always returns err (for composition at the call site); production
// wiring has it call os.Exit(1) after logging, tests substitute a hook that
// records the call without exiting.
type FatalFunc func(err error) error

// RawOptions selects the no-padding primitive for ProxyKey.Decrypt, the Go
// analogue of passing RSA_NO_PADDING to RSA_private_decrypt.
type RawOptions struct{}

func (RawOptions) HashFunc() crypto.Hash { return 0 }

// ProxyKey is the parent-side stand-in for a loaded private key: it carries
// only the public components plus an opaque daemon handle, and its
// crypto.Signer/crypto.Decrypter methods route the actual private-key
// operation through the daemon: sign (here, Sign) and priv_dec (here,
// Decrypt), with priv_enc exposed as PrivEnc — while Public() answers
// locally.
type ProxyKey struct {
	pool   *Pool
	handle uint64
	pub    rsa.PublicKey
	fatal  FatalFunc
}

var (
	_ crypto.Signer    = (*ProxyKey)(nil)
	_ crypto.Decrypter = (*ProxyKey)(nil)
)

// NewProxyKey builds a ProxyKey from a load_key response's handle and public
// components (uppercase hex modulus/exponent).
func NewProxyKey(pool *Pool, handle uint64, eHex, nHex string, fatal FatalFunc) (*ProxyKey, error) {
	eBytes, err := hex.DecodeString(eHex)
	if err != nil {
		return nil, fmt.Errorf("privsep: decode public exponent: %w", err)
	}
	nBytes, err := hex.DecodeString(nHex)
	if err != nil {
		return nil, fmt.Errorf("privsep: decode modulus: %w", err)
	}

	pub := rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}
	return &ProxyKey{pool: pool, handle: handle, pub: pub, fatal: fatal}, nil
}

// Public returns the key's public components, held locally and never routed
// through the daemon.
func (k *ProxyKey) Public() crypto.PublicKey {
	return &k.pub
}

// Handle returns the opaque daemon-side key handle this ProxyKey routes
// operations to. Exposed for logging/diagnostics and for tests asserting
// that concurrent loads of the same key file produce distinct handles.
func (k *ProxyKey) Handle() uint64 {
	return k.handle
}

// Sign routes a sign request through the daemon and returns the signature.
// digest is the pre-hashed message; opts.HashFunc identifies the hash
// algorithm as the wire's type:number atom.
func (k *ProxyKey) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	req := privsep.SignRequest{
		Type:   uint64(opts.HashFunc()),
		Msg:    digest,
		Handle: k.handle,
	}
	buf := privsep.NewBuffer()
	req.Encode(buf)

	respBuf, err := k.call(buf)
	if err != nil {
		return nil, k.fatal(err)
	}
	defer respBuf.Dispose()

	resp, err := privsep.DecodeSignResponse(respBuf)
	if err != nil {
		return nil, k.fatal(fmt.Errorf("privsep: decode sign response: %w", err))
	}
	if resp.Ret != 1 {
		return nil, fmt.Errorf("privsep: sign failed for handle %d", k.handle)
	}
	return resp.Sig, nil
}

// Decrypt routes a priv_dec request through the daemon and returns the
// recovered plaintext. opts selects the padding: nil or
// *rsa.PKCS1v15DecryptOptions means PKCS#1 v1.5, RawOptions means no padding.
func (k *ProxyKey) Decrypt(_ io.Reader, ciphertext []byte, opts crypto.DecrypterOpts) ([]byte, error) {
	padding, err := decrypterPadding(opts)
	if err != nil {
		return nil, err
	}

	req := privsep.CryptRequest{From: ciphertext, Handle: k.handle, Padding: uint64(padding)}
	buf := privsep.NewBuffer()
	req.Encode(buf, privsep.CmdPrivDec)

	respBuf, err := k.call(buf)
	if err != nil {
		return nil, k.fatal(err)
	}
	defer respBuf.Dispose()

	resp, err := privsep.DecodeCryptResponse(respBuf)
	if err != nil {
		return nil, k.fatal(fmt.Errorf("privsep: decode priv_dec response: %w", err))
	}
	if resp.Ret < 0 {
		return nil, fmt.Errorf("privsep: priv_dec failed for handle %d", k.handle)
	}
	return resp.To, nil
}

// PrivEnc issues a priv_enc request through the daemon. Unlike Sign/Decrypt,
// this has no crypto.Signer/Decrypter analogue (OpenSSL's RSA_private_encrypt
// is used internally by higher-level sign paths, not exposed directly by Go's
// crypto interfaces), so it is exported directly for callers that need the
// raw primitive.
func (k *ProxyKey) PrivEnc(from []byte, padding rsaraw.Padding) ([]byte, error) {
	req := privsep.CryptRequest{From: from, Handle: k.handle, Padding: uint64(padding)}
	buf := privsep.NewBuffer()
	req.Encode(buf, privsep.CmdPrivEnc)

	respBuf, err := k.call(buf)
	if err != nil {
		return nil, k.fatal(err)
	}
	defer respBuf.Dispose()

	resp, err := privsep.DecodeCryptResponse(respBuf)
	if err != nil {
		return nil, k.fatal(fmt.Errorf("privsep: decode priv_enc response: %w", err))
	}
	if resp.Ret < 0 {
		return nil, fmt.Errorf("privsep: priv_enc failed for handle %d", k.handle)
	}
	return resp.To, nil
}

// call checks out a pooled connection, issues req, and returns it to the
// pool (or drops it, on failure) before returning.
func (k *ProxyKey) call(req *privsep.Buffer) (*privsep.Buffer, error) {
	defer req.Dispose()

	conn, err := k.pool.Get()
	if err != nil {
		return nil, fmt.Errorf("privsep: dial daemon: %w", err)
	}

	resp, err := conn.Call(req)
	k.pool.Put(conn, err != nil)
	if err != nil {
		return nil, fmt.Errorf("privsep: rpc: %w", err)
	}
	return resp, nil
}

func decrypterPadding(opts crypto.DecrypterOpts) (rsaraw.Padding, error) {
	switch opts.(type) {
	case nil, *rsa.PKCS1v15DecryptOptions:
		return rsaraw.PaddingPKCS1, nil
	case RawOptions:
		return rsaraw.PaddingNone, nil
	default:
		return 0, fmt.Errorf("privsep: unsupported decrypter options %T", opts)
	}
}
