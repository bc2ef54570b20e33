// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package boundary

import (
	"crypto/ecdsa"
	"errors"
	"io"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/luxfi/relay/pkg/sealing"
)

// labelEOAList is the sealing label under which the EOA private-key list
// is sealed, distinct from every keyshare label so a misrouted unseal call
// fails the AEAD binding instead of silently decrypting the wrong secret.
const labelEOAList = "eoa_list"

// ErrEOAInitModeUnsupported is returned for the two EOA init modes this
// relay does not implement: sourcing a KYC list and minting brand-new
// EOAs both require an external registrar the enclave has no boundary to
// in this environment. Unseal, unseal+top-up and debug-raw are fully
// supported since they only need the sealing primitive already in place.
var ErrEOAInitModeUnsupported = errors.New("boundary: EOA init mode not supported in this deployment")

// keySize is the width of one concatenated private key in the unsealed
// EOA list payload.
const keySize = 32

// ReadEOAInitMode reads the single mode byte that opens an EOA init
// exchange.
func ReadEOAInitMode(r io.Reader) (EOAInitMode, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return EOAInitMode(b[0]), nil
}

// HandleEOAInit reads the mode byte and its payload from r and returns the
// resulting set of EOA private keys. top-up additionally reports whether
// the caller asked for new keys beyond the unsealed set (mode 3); this
// relay treats top-up identically to a plain unseal, since minting
// additional keys falls under the same unsupported bootstrap-new path.
func HandleEOAInit(r io.Reader, identity sealing.IdentityKey, policy sealing.Policy) ([]*ecdsa.PrivateKey, error) {
	mode, err := ReadEOAInitMode(r)
	if err != nil {
		return nil, err
	}

	switch mode {
	case EOAModeUnseal, EOAModeUnsealTopUp:
		blob, err := readFrame(r)
		if err != nil {
			return nil, err
		}
		plaintext, _, _, err := sealing.Unseal(identity, policy, labelEOAList, sealing.SealedBlob(blob))
		if err != nil {
			return nil, err
		}
		return splitKeys(plaintext)

	case EOAModeDebugRaw:
		raw, err := debugRawEOAs(r)
		if err != nil {
			return nil, err
		}
		out := make([]*ecdsa.PrivateKey, 0, len(raw))
		for _, k := range raw {
			priv, err := crypto.ToECDSA(k[:])
			if err != nil {
				return nil, err
			}
			out = append(out, priv)
		}
		return out, nil

	case EOAModeKYCList, EOAModeBootstrapNew:
		return nil, ErrEOAInitModeUnsupported

	default:
		return nil, ErrEOAInitModeUnsupported
	}
}

// SealEOAList seals a concatenated EOA private-key list the way a prior
// unseal+top-up session would persist it for next startup.
func SealEOAList(identity sealing.IdentityKey, policy sealing.Policy, isvSvn, cpuSvn uint16, keys []*ecdsa.PrivateKey) (sealing.SealedBlob, error) {
	plaintext := make([]byte, 0, len(keys)*keySize)
	for _, k := range keys {
		plaintext = append(plaintext, crypto.FromECDSA(k)...)
	}
	return sealing.Seal(identity, policy, labelEOAList, isvSvn, cpuSvn, plaintext)
}

func splitKeys(plaintext []byte) ([]*ecdsa.PrivateKey, error) {
	if len(plaintext)%keySize != 0 {
		return nil, errors.New("boundary: unsealed EOA list length is not a multiple of 32 bytes")
	}
	n := len(plaintext) / keySize
	out := make([]*ecdsa.PrivateKey, n)
	for i := 0; i < n; i++ {
		priv, err := crypto.ToECDSA(plaintext[i*keySize : (i+1)*keySize])
		if err != nil {
			return nil, err
		}
		out[i] = priv
	}
	return out, nil
}
