// Package rsaraw implements the raw RSA private-key transform that
// OpenSSL's RSA_private_encrypt/RSA_private_decrypt expose and crypto/rsa
// does not: a bare modular exponentiation with the caller choosing the
// padding, rather than a padding scheme baked into the call (OAEP, PKCS1v15
// signature hashing, ...). priv_enc is the primitive a TLS CertificateVerify
// or ClientKeyExchange-adjacent engine hook needs; priv_dec is its inverse.
//
// This package is consumed as the daemon-side implementation of spec.md's
// "priv_enc"/"priv_dec" commands. It deliberately stays a thin wrapper over
// crypto/rsa's exported PrivateKey fields plus math/big, matching the way
// the teacher's pkg/cbmpc/kem/rsa package treats crypto/rsa as the black-box
// primitive provider and never reimplements RSA arithmetic itself beyond
// what crypto/rsa declines to expose.
package rsaraw

import (
	"crypto/rsa"
	"errors"
	"math/big"
)

// Padding selects how PrivEnc/PrivDec add or remove PKCS#1 v1.5 padding
// around the raw RSA transform, mirroring the padding:number wire atom.
type Padding int

const (
	// PaddingNone performs the bare modular exponentiation with no padding
	// added or removed; the caller is responsible for formatting.
	PaddingNone Padding = iota
	// PaddingPKCS1 adds PKCS#1 v1.5 type-1 (signature) padding on PrivEnc and
	// removes PKCS#1 v1.5 type-2 (encryption) padding on PrivDec, matching
	// OpenSSL's RSA_PKCS1_PADDING semantics for these two operations.
	PaddingPKCS1
)

var (
	// ErrMessageTooLong indicates the input does not fit the modulus under
	// the requested padding scheme.
	ErrMessageTooLong = errors.New("rsaraw: message too long for modulus")
	// ErrInvalidPadding indicates priv_dec's removed padding was malformed.
	ErrInvalidPadding = errors.New("rsaraw: invalid PKCS#1 padding")
	// ErrUnsupportedPadding indicates an unrecognized Padding value.
	ErrUnsupportedPadding = errors.New("rsaraw: unsupported padding mode")
)

// PrivEnc performs the private-encrypt primitive: pad (if requested) then
// raw-exponentiate with the private key. It returns the k-byte (k = modulus
// size) result, matching RSA_private_encrypt's return convention.
func PrivEnc(priv *rsa.PrivateKey, from []byte, padding Padding) ([]byte, error) {
	k := priv.Size()

	var padded []byte
	switch padding {
	case PaddingNone:
		if len(from) != k {
			return nil, ErrMessageTooLong
		}
		padded = from
	case PaddingPKCS1:
		p, err := pkcs1Pad1(from, k)
		if err != nil {
			return nil, err
		}
		padded = p
	default:
		return nil, ErrUnsupportedPadding
	}

	m := new(big.Int).SetBytes(padded)
	if m.Cmp(priv.N) >= 0 {
		return nil, ErrMessageTooLong
	}

	c := rawExp(priv, m)
	return leftPad(c.Bytes(), k), nil
}

// PrivDec performs the private-decrypt primitive: raw-exponentiate then
// remove padding (if requested).
func PrivDec(priv *rsa.PrivateKey, from []byte, padding Padding) ([]byte, error) {
	k := priv.Size()
	if len(from) != k {
		return nil, ErrMessageTooLong
	}

	c := new(big.Int).SetBytes(from)
	if c.Cmp(priv.N) >= 0 {
		return nil, ErrMessageTooLong
	}
	m := rawExp(priv, c)
	padded := leftPad(m.Bytes(), k)

	switch padding {
	case PaddingNone:
		return padded, nil
	case PaddingPKCS1:
		return pkcs1Unpad2(padded)
	default:
		return nil, ErrUnsupportedPadding
	}
}

// rawExp computes m^D mod N, using the CRT precomputed values when available
// for the usual constant-ish-time-ish speedup, falling back to a direct
// exponentiation with D.
func rawExp(priv *rsa.PrivateKey, m *big.Int) *big.Int {
	if len(priv.Primes) == 2 && priv.Precomputed.Dp != nil && priv.Precomputed.Dq != nil {
		p := priv.Primes[0]
		q := priv.Primes[1]

		mp := new(big.Int).Exp(m, priv.Precomputed.Dp, p)
		mq := new(big.Int).Exp(m, priv.Precomputed.Dq, q)

		h := new(big.Int).Sub(mp, mq)
		h.Mod(h, p)
		h.Mul(h, priv.Precomputed.Qinv)
		h.Mod(h, p)

		result := new(big.Int).Mul(h, q)
		result.Add(result, mq)
		return result
	}
	return new(big.Int).Exp(m, priv.D, priv.N)
}

// leftPad returns b zero-padded on the left to exactly size bytes.
func leftPad(b []byte, size int) []byte {
	if len(b) == size {
		return b
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}

// pkcs1Pad1 applies PKCS#1 v1.5 type-1 (0x00 0x01 0xFF... 0x00 || data)
// padding, the scheme used when signing with the private key directly.
func pkcs1Pad1(data []byte, k int) ([]byte, error) {
	if len(data) > k-11 {
		return nil, ErrMessageTooLong
	}
	out := make([]byte, k)
	out[0] = 0x00
	out[1] = 0x01
	padLen := k - len(data) - 3
	for i := 0; i < padLen; i++ {
		out[2+i] = 0xFF
	}
	out[2+padLen] = 0x00
	copy(out[3+padLen:], data)
	return out, nil
}

// pkcs1Unpad2 removes PKCS#1 v1.5 type-2 (0x00 0x02 random-nonzero 0x00 ||
// data) padding, the scheme used when decrypting a message encrypted with
// the matching public key.
func pkcs1Unpad2(padded []byte) ([]byte, error) {
	if len(padded) < 11 || padded[0] != 0x00 || padded[1] != 0x02 {
		return nil, ErrInvalidPadding
	}
	i := 2
	for i < len(padded) && padded[i] != 0x00 {
		i++
	}
	if i == len(padded) || i < 10 {
		return nil, ErrInvalidPadding
	}
	return padded[i+1:], nil
}
