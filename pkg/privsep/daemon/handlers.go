// Package daemon implements the privsep key daemon: the command handlers
// that perform real RSA operations against locally-held keys, and the accept
// loop that dispatches inbound connections to them.
package daemon

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/privsep/keyd/internal/rsaraw"
	"github.com/privsep/keyd/pkg/privsep"
	"github.com/privsep/keyd/pkg/privsep/logging"
	"github.com/privsep/keyd/pkg/privsep/metrics"
	"github.com/privsep/keyd/pkg/privsep/registry"
)

// Handlers dispatches parsed commands to the key registry and the real RSA
// primitives. Every handler shares the same contract: it takes a request the
// dispatcher has already decoded (command token and atoms consumed from the
// inbound buffer) and returns a response value for the dispatcher to encode.
type Handlers struct {
	registry        *registry.Registry
	logger          logging.Logger
	metrics         *metrics.Set
	maxModulusBytes int
}

// NewHandlers returns a Handlers backed by reg. maxModulusBytes bounds the
// RSA key sizes load_key will accept; keys whose modulus exceeds it are
// rejected as a configuration error rather than silently truncated.
func NewHandlers(reg *registry.Registry, logger logging.Logger, m *metrics.Set, maxModulusBytes int) *Handlers {
	return &Handlers{registry: reg, logger: logger, metrics: m, maxModulusBytes: maxModulusBytes}
}

// HandleLoadKey opens path, parses a PEM RSA private key, registers it, and
// returns the handle plus its public components as uppercase hex.
func (h *Handlers) HandleLoadKey(ctx context.Context, req privsep.LoadKeyRequest) privsep.LoadKeyResponse {
	key, err := loadRSAPrivateKey(req.Path)
	if err != nil {
		h.logger.Warn(ctx, "load_key failed", "path", req.Path, "err", err)
		h.metrics.LoadKeyFailed.Add(1)
		return privsep.LoadKeyResponse{OK: false, Handle: privsep.HandleInvalid, Err: err.Error()}
	}

	if key.Size() > h.maxModulusBytes {
		err := fmt.Errorf("modulus of %d bytes exceeds configured maximum of %d bytes", key.Size(), h.maxModulusBytes)
		h.logger.Warn(ctx, "load_key rejected oversized key", "path", req.Path, "err", err)
		h.metrics.LoadKeyFailed.Add(1)
		return privsep.LoadKeyResponse{OK: false, Handle: privsep.HandleInvalid, Err: err.Error()}
	}

	handle := h.registry.Register(key)
	h.metrics.LoadKeyOK.Add(1)
	h.logger.Debug(ctx, "load_key succeeded", "path", req.Path, logging.KeyHandle(uint64(handle)))
	return privsep.LoadKeyResponse{
		OK:     true,
		Handle: uint64(handle),
		EHex:   strings.ToUpper(hex.EncodeToString(big.NewInt(int64(key.E)).Bytes())),
		NHex:   strings.ToUpper(hex.EncodeToString(key.N.Bytes())),
	}
}

// HandlePrivEnc performs the private-encrypt primitive for req.Handle.
func (h *Handlers) HandlePrivEnc(ctx context.Context, req privsep.CryptRequest) privsep.CryptResponse {
	key, ok := h.registry.Lookup(registry.Handle(req.Handle))
	if !ok {
		h.logger.Warn(ctx, "priv_enc: no such key", logging.KeyHandle(req.Handle))
		h.metrics.PrivEncFailed.Add(1)
		return privsep.CryptResponse{Ret: -1}
	}
	to, err := rsaraw.PrivEnc(key, req.From, rsaraw.Padding(req.Padding))
	if err != nil {
		h.logger.Warn(ctx, "priv_enc failed", logging.KeyHandle(req.Handle), logging.ByteLen("from_len", req.From), "err", err)
		h.metrics.PrivEncFailed.Add(1)
		return privsep.CryptResponse{Ret: -1}
	}
	h.metrics.PrivEncOK.Add(1)
	h.logger.Debug(ctx, "priv_enc succeeded", logging.KeyHandle(req.Handle), logging.ByteLen("to_len", to))
	return privsep.CryptResponse{Ret: int64(len(to)), To: to}
}

// HandlePrivDec performs the private-decrypt primitive for req.Handle.
func (h *Handlers) HandlePrivDec(ctx context.Context, req privsep.CryptRequest) privsep.CryptResponse {
	key, ok := h.registry.Lookup(registry.Handle(req.Handle))
	if !ok {
		h.logger.Warn(ctx, "priv_dec: no such key", logging.KeyHandle(req.Handle))
		h.metrics.PrivDecFailed.Add(1)
		return privsep.CryptResponse{Ret: -1}
	}
	to, err := rsaraw.PrivDec(key, req.From, rsaraw.Padding(req.Padding))
	if err != nil {
		h.logger.Warn(ctx, "priv_dec failed", logging.KeyHandle(req.Handle), logging.ByteLen("from_len", req.From), "err", err)
		h.metrics.PrivDecFailed.Add(1)
		return privsep.CryptResponse{Ret: -1}
	}
	h.metrics.PrivDecOK.Add(1)
	h.logger.Debug(ctx, "priv_dec succeeded", logging.KeyHandle(req.Handle), logging.ByteLen("to_len", to))
	return privsep.CryptResponse{Ret: int64(len(to)), To: to}
}

// HandleSign performs the sign primitive for req.Handle. req.Type is a
// crypto.Hash identifier; req.Msg is the pre-hashed digest.
func (h *Handlers) HandleSign(ctx context.Context, req privsep.SignRequest) privsep.SignResponse {
	key, ok := h.registry.Lookup(registry.Handle(req.Handle))
	if !ok {
		h.logger.Warn(ctx, "sign: no such key", logging.KeyHandle(req.Handle))
		h.metrics.SignFailed.Add(1)
		return privsep.SignResponse{Ret: 0}
	}
	sig, err := rsa.SignPKCS1v15(nil, key, crypto.Hash(req.Type), req.Msg)
	if err != nil {
		h.logger.Warn(ctx, "sign failed", logging.KeyHandle(req.Handle), logging.ByteLen("digest_len", req.Msg), "err", err)
		h.metrics.SignFailed.Add(1)
		return privsep.SignResponse{Ret: 0}
	}
	h.metrics.SignOK.Add(1)
	h.logger.Debug(ctx, "sign succeeded", logging.KeyHandle(req.Handle), logging.ByteLen("sig_len", sig))
	return privsep.SignResponse{Ret: 1, Sig: sig}
}

// loadRSAPrivateKey reads and parses a PEM-encoded RSA private key, trying
// PKCS#1 first and falling back to PKCS#8.
func loadRSAPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%s: no PEM block found", path)
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%s: not an RSA private key", path)
	}
	return key, nil
}
