// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package attestation implements the enclave's remote-attestation quote
// format and verification, generalizing the teacher's tee.generateQuote /
// tee.VerifyAttestation from a JSON-plus-commitment toy quote into the
// binding described for this relay: a fixed 64-byte report body carrying a
// compressed secp256k1 public key, signed by a collateral key standing in
// for a real hardware quoting enclave.
package attestation

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

// Errors returned by NewReportBody and Verify.
var (
	ErrBadReportLen    = errors.New("attestation: report body must be 64 bytes")
	ErrBadSignature    = errors.New("attestation: collateral signature invalid")
	ErrMrEnclaveMismatch = errors.New("attestation: MR-ENCLAVE mismatch")
	ErrDebugNotAllowed = errors.New("attestation: debug-mode enclave rejected")
	ErrChainIDMismatch = errors.New("attestation: chain ID mismatch")
	ErrRoleMismatch    = errors.New("attestation: unexpected role")
)

// Role identifies which side of the key-lifecycle protocol a quote's
// embedded key belongs to. Mixing roles (accepting a client-role quote as
// a global-authority quote) must always be rejected by Verify.
type Role byte

const (
	RoleClient Role = 0
	RoleGlobal Role = 1
)

const (
	reportLen      = 64
	pubkeyLen      = 33
	debugFlagIndex = 62
	roleFlagIndex  = 63
)

// ReportBody is the 64-byte attested payload: a 33-byte compressed
// secp256k1 public key, reserved zero padding, a debug flag byte and a
// role flag byte.
type ReportBody [reportLen]byte

// NewReportBody packs a compressed public key and flags into a report
// body. pubkey must be exactly 33 bytes (compressed secp256k1).
func NewReportBody(pubkey []byte, debug bool, role Role) (ReportBody, error) {
	var rb ReportBody
	if len(pubkey) != pubkeyLen {
		return rb, ErrBadReportLen
	}
	copy(rb[:pubkeyLen], pubkey)
	if debug {
		rb[debugFlagIndex] = 1
	}
	rb[roleFlagIndex] = byte(role)
	return rb, nil
}

// PublicKey extracts the compressed secp256k1 public key from the body.
func (rb ReportBody) PublicKey() []byte {
	out := make([]byte, pubkeyLen)
	copy(out, rb[:pubkeyLen])
	return out
}

// Debug reports whether the body's debug flag is set.
func (rb ReportBody) Debug() bool {
	return rb[debugFlagIndex] != 0
}

// Role extracts the body's role flag.
func (rb ReportBody) Role() Role {
	return Role(rb[roleFlagIndex])
}

// Quote is a report body plus the collateral signature binding it to a
// measurement. MrEnclave and ChainID are included in the signed payload so
// a verifier can check them without trusting unsigned fields.
type Quote struct {
	Report    ReportBody
	MrEnclave [32]byte
	ChainID   uint64
	Signature []byte // ASN.1 DER ECDSA signature over the signed payload
}

// CollateralKey is the simulated quoting-enclave key. No real SGX/SEV/Nitro
// quoting path is available in this environment; the teacher's own
// EnclaveSimulated substitutes a local key for the hardware quote signer in
// exactly the same way.
type CollateralKey struct {
	priv *ecdsa.PrivateKey
}

// GenerateCollateralKey creates a fresh P-256 collateral key.
func GenerateCollateralKey() (*CollateralKey, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &CollateralKey{priv: priv}, nil
}

// PublicKeyBytes returns the uncompressed public key bytes for distributing
// as trusted verification material out of band.
func (k *CollateralKey) PublicKeyBytes() []byte {
	return elliptic.Marshal(elliptic.P256(), k.priv.PublicKey.X, k.priv.PublicKey.Y)
}

// PrivateKeyBytes returns the raw scalar so the collateral key can be
// sealed to disk and reloaded across restarts, the way a real quoting
// enclave's key would survive a host reboot.
func (k *CollateralKey) PrivateKeyBytes() []byte {
	return k.priv.D.FillBytes(make([]byte, (elliptic.P256().Params().N.BitLen()+7)/8))
}

// LoadCollateralKey reconstructs a collateral key from the raw scalar
// PrivateKeyBytes previously returned.
func LoadCollateralKey(raw []byte) (*CollateralKey, error) {
	priv := new(ecdsa.PrivateKey)
	priv.Curve = elliptic.P256()
	priv.D = new(big.Int).SetBytes(raw)
	priv.PublicKey.X, priv.PublicKey.Y = priv.Curve.ScalarBaseMult(raw)
	return &CollateralKey{priv: priv}, nil
}

// Quote signs a report body together with the enclave measurement and
// chain ID, producing the attested quote a peer can verify.
func (k *CollateralKey) Quote(report ReportBody, mrEnclave [32]byte, chainID uint64) (Quote, error) {
	payload := signedPayload(report, mrEnclave, chainID)
	sig, err := ecdsa.SignASN1(rand.Reader, k.priv, digest(payload))
	if err != nil {
		return Quote{}, err
	}
	return Quote{Report: report, MrEnclave: mrEnclave, ChainID: chainID, Signature: sig}, nil
}

// Verify checks a quote's collateral signature against collateralPubKey
// (uncompressed P-256 bytes) and enforces the policy checks described for
// the key lifecycle: measurement must match expectedMrEnclave, debug mode
// must be off unless allowDebug is set, the chain ID must match, and the
// role must match wantRole exactly (never accept a client-role quote in
// place of a global-authority quote, or vice versa).
func Verify(q Quote, collateralPubKey []byte, expectedMrEnclave [32]byte, chainID uint64, allowDebug bool, wantRole Role) error {
	x, y := elliptic.Unmarshal(elliptic.P256(), collateralPubKey)
	if x == nil {
		return ErrBadSignature
	}
	pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}

	payload := signedPayload(q.Report, q.MrEnclave, q.ChainID)
	if !ecdsa.VerifyASN1(pub, digest(payload), q.Signature) {
		return ErrBadSignature
	}

	if !bytes.Equal(q.MrEnclave[:], expectedMrEnclave[:]) {
		return ErrMrEnclaveMismatch
	}
	if q.Report.Debug() && !allowDebug {
		return ErrDebugNotAllowed
	}
	if q.ChainID != chainID {
		return ErrChainIDMismatch
	}
	if q.Report.Role() != wantRole {
		return ErrRoleMismatch
	}

	return nil
}

func signedPayload(report ReportBody, mrEnclave [32]byte, chainID uint64) []byte {
	buf := make([]byte, 0, reportLen+32+8)
	buf = append(buf, report[:]...)
	buf = append(buf, mrEnclave[:]...)
	buf = append(buf,
		byte(chainID>>56), byte(chainID>>48), byte(chainID>>40), byte(chainID>>32),
		byte(chainID>>24), byte(chainID>>16), byte(chainID>>8), byte(chainID),
	)
	return buf
}

func digest(payload []byte) []byte {
	return crypto.Keccak256(payload)
}

// EncodeQuote packs a quote into the wire form the enclave boundary and
// the HTTP API exchange: report || mr_enclave || chain_id (8 bytes, big
// endian) || sig_len (2 bytes, big endian) || signature.
func EncodeQuote(q Quote) []byte {
	out := make([]byte, 0, reportLen+32+8+2+len(q.Signature))
	out = append(out, q.Report[:]...)
	out = append(out, q.MrEnclave[:]...)
	out = append(out,
		byte(q.ChainID>>56), byte(q.ChainID>>48), byte(q.ChainID>>40), byte(q.ChainID>>32),
		byte(q.ChainID>>24), byte(q.ChainID>>16), byte(q.ChainID>>8), byte(q.ChainID),
	)
	out = append(out, byte(len(q.Signature)>>8), byte(len(q.Signature)))
	out = append(out, q.Signature...)
	return out
}

// ErrTruncatedQuote is returned by DecodeQuote when the wire form is
// shorter than its own declared signature length.
var ErrTruncatedQuote = errors.New("attestation: truncated quote encoding")

// DecodeQuote is the inverse of EncodeQuote.
func DecodeQuote(raw []byte) (Quote, error) {
	const fixedLen = reportLen + 32 + 8 + 2
	if len(raw) < fixedLen {
		return Quote{}, ErrTruncatedQuote
	}
	var q Quote
	copy(q.Report[:], raw[:reportLen])
	off := reportLen
	copy(q.MrEnclave[:], raw[off:off+32])
	off += 32
	for i := 0; i < 8; i++ {
		q.ChainID = q.ChainID<<8 | uint64(raw[off+i])
	}
	off += 8
	sigLen := int(raw[off])<<8 | int(raw[off+1])
	off += 2
	if len(raw)-off < sigLen {
		return Quote{}, ErrTruncatedQuote
	}
	q.Signature = append([]byte{}, raw[off:off+sigLen]...)
	return q, nil
}
