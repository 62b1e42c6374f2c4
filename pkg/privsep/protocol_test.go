package privsep

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadKeyRequestRoundTrip(t *testing.T) {
	buf := NewBuffer()
	req := LoadKeyRequest{Path: "/etc/privsep/server-key.pem"}
	req.Encode(buf)

	cmd, err := buf.ShiftString()
	require.NoError(t, err)
	require.Equal(t, CmdLoadKey, cmd)

	got, err := DecodeLoadKeyRequest(buf)
	require.NoError(t, err)
	require.Equal(t, req, got)
}

func TestLoadKeyResponseRoundTrip(t *testing.T) {
	buf := NewBuffer()
	resp := LoadKeyResponse{OK: true, Handle: 12, EHex: "010001", NHex: "DEADBEEF"}
	resp.Encode(buf)

	got, err := DecodeLoadKeyResponse(buf)
	require.NoError(t, err)
	require.Equal(t, resp, got)
}

func TestLoadKeyResponseFailureRoundTrip(t *testing.T) {
	buf := NewBuffer()
	resp := LoadKeyResponse{OK: false, Handle: HandleInvalid, Err: "open: permission denied"}
	resp.Encode(buf)

	got, err := DecodeLoadKeyResponse(buf)
	require.NoError(t, err)
	require.Equal(t, resp, got)
	require.False(t, got.OK)
}

func TestCryptRequestResponseRoundTrip(t *testing.T) {
	buf := NewBuffer()
	req := CryptRequest{From: []byte{1, 2, 3, 4}, Handle: 9, Padding: 1}
	req.Encode(buf, CmdPrivEnc)

	cmd, err := buf.ShiftString()
	require.NoError(t, err)
	require.Equal(t, CmdPrivEnc, cmd)

	got, err := DecodeCryptRequest(buf)
	require.NoError(t, err)
	require.Equal(t, req, got)

	respBuf := NewBuffer()
	resp := CryptResponse{Ret: 256, To: []byte("ciphertext-bytes")}
	resp.Encode(respBuf)

	gotResp, err := DecodeCryptResponse(respBuf)
	require.NoError(t, err)
	require.Equal(t, resp, gotResp)
}

func TestCryptResponseNegativeRetRoundTrips(t *testing.T) {
	buf := NewBuffer()
	resp := CryptResponse{Ret: -1, To: nil}
	resp.Encode(buf)

	got, err := DecodeCryptResponse(buf)
	require.NoError(t, err)
	require.Equal(t, int64(-1), got.Ret)
}

func TestSignRequestResponseRoundTrip(t *testing.T) {
	buf := NewBuffer()
	req := SignRequest{Type: 4, Msg: []byte("digest-bytes-here"), Handle: 3}
	req.Encode(buf)

	cmd, err := buf.ShiftString()
	require.NoError(t, err)
	require.Equal(t, CmdSign, cmd)

	got, err := DecodeSignRequest(buf)
	require.NoError(t, err)
	require.Equal(t, req, got)

	respBuf := NewBuffer()
	resp := SignResponse{Ret: 1, Sig: []byte("signature-bytes")}
	resp.Encode(respBuf)

	gotResp, err := DecodeSignResponse(respBuf)
	require.NoError(t, err)
	require.Equal(t, resp, gotResp)
}
