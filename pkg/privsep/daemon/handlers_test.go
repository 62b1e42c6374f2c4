package daemon

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/privsep/keyd/internal/rsaraw"
	"github.com/privsep/keyd/pkg/privsep"
	"github.com/privsep/keyd/pkg/privsep/logging"
	"github.com/privsep/keyd/pkg/privsep/metrics"
	"github.com/privsep/keyd/pkg/privsep/registry"
)

func testLogger() logging.Logger {
	return logging.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func writeTestKeyPEM(t *testing.T, key *rsa.PrivateKey) string {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}

	path := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

func newTestHandlers(t *testing.T, maxModulusBytes int) *Handlers {
	t.Helper()
	return NewHandlers(registry.New(), testLogger(), metrics.New(t.Name()), maxModulusBytes)
}

func TestHandleLoadKeySucceeds(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	path := writeTestKeyPEM(t, key)

	h := newTestHandlers(t, 1024)
	resp := h.HandleLoadKey(context.Background(), privsep.LoadKeyRequest{Path: path})

	require.True(t, resp.OK)
	require.Equal(t, uint64(0), resp.Handle)
	require.Empty(t, resp.Err)

	wantE := strings.ToUpper(hex.EncodeToString(big.NewInt(int64(key.E)).Bytes()))
	wantN := strings.ToUpper(hex.EncodeToString(key.N.Bytes()))
	require.Equal(t, wantE, resp.EHex)
	require.Equal(t, wantN, resp.NHex)
}

func TestHandleLoadKeyMissingFile(t *testing.T) {
	h := newTestHandlers(t, 1024)
	resp := h.HandleLoadKey(context.Background(), privsep.LoadKeyRequest{Path: "/no/such/file.pem"})

	require.False(t, resp.OK)
	require.Equal(t, privsep.HandleInvalid, resp.Handle)
	require.Contains(t, resp.Err, "/no/such/file.pem")
	require.Empty(t, resp.EHex)
	require.Empty(t, resp.NHex)
}

func TestHandleLoadKeyRejectsOversizedModulus(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	path := writeTestKeyPEM(t, key)

	h := newTestHandlers(t, 64) // 2048-bit key needs 256 bytes
	resp := h.HandleLoadKey(context.Background(), privsep.LoadKeyRequest{Path: path})

	require.False(t, resp.OK)
	require.Contains(t, resp.Err, "exceeds configured maximum")
}

func TestHandleLoadKeyAfterFailureStillSucceeds(t *testing.T) {
	h := newTestHandlers(t, 1024)

	bad := h.HandleLoadKey(context.Background(), privsep.LoadKeyRequest{Path: "/no/such/file.pem"})
	require.False(t, bad.OK)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	path := writeTestKeyPEM(t, key)

	good := h.HandleLoadKey(context.Background(), privsep.LoadKeyRequest{Path: path})
	require.True(t, good.OK)
}

func TestHandleSignMatchesLocalSign(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	h := newTestHandlers(t, 1024)
	handle := h.registry.Register(key)

	digest := sha256.Sum256([]byte("message to sign"))
	resp := h.HandleSign(context.Background(), privsep.SignRequest{
		Type:   uint64(crypto.SHA256),
		Msg:    digest[:],
		Handle: uint64(handle),
	})
	require.Equal(t, int64(1), resp.Ret)

	want, err := rsa.SignPKCS1v15(nil, key, crypto.SHA256, digest[:])
	require.NoError(t, err)
	require.Equal(t, want, resp.Sig)
}

func TestHandleSignUnknownHandle(t *testing.T) {
	h := newTestHandlers(t, 1024)
	resp := h.HandleSign(context.Background(), privsep.SignRequest{Handle: 42, Msg: []byte("x")})
	require.Equal(t, int64(0), resp.Ret)
	require.Empty(t, resp.Sig)
}

func TestHandlePrivEncDecRoundTrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	h := newTestHandlers(t, 1024)
	handle := h.registry.Register(key)

	plaintext := []byte("a payload shorter than the modulus minus padding overhead")
	encResp := h.HandlePrivEnc(context.Background(), privsep.CryptRequest{
		From:    plaintext,
		Handle:  uint64(handle),
		Padding: uint64(rsaraw.PaddingPKCS1),
	})
	require.Positive(t, encResp.Ret)
	require.Len(t, encResp.To, key.Size())

	// The encrypted block is a PKCS#1 v1.5 type-1 padded block under the
	// private exponent; recovering it requires the public transform, which
	// rsaraw_test exercises directly. Here we instead check priv_dec's
	// inverse relationship with the public encrypt primitive.
	ciphertext, err := rsa.EncryptPKCS1v15(rand.Reader, &key.PublicKey, plaintext)
	require.NoError(t, err)

	decResp := h.HandlePrivDec(context.Background(), privsep.CryptRequest{
		From:    ciphertext,
		Handle:  uint64(handle),
		Padding: uint64(rsaraw.PaddingPKCS1),
	})
	require.Equal(t, int64(len(plaintext)), decResp.Ret)
	require.Equal(t, plaintext, decResp.To)
}

func TestHandlePrivDecUnknownHandle(t *testing.T) {
	h := newTestHandlers(t, 1024)
	resp := h.HandlePrivDec(context.Background(), privsep.CryptRequest{Handle: 7, From: []byte{1}})
	require.Negative(t, resp.Ret)
	require.Empty(t, resp.To)
}
