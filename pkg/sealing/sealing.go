// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package sealing implements local sealing/unsealing of secrets to a
// derived enclave identity key, generalizing the transcript-sealing
// pattern in the teacher's tee package from an XOR placeholder to real
// AES-256-GCM authenticated encryption.
package sealing

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"
)

// Errors returned by Seal and Unseal.
var (
	ErrBlobTooShort  = errors.New("sealing: blob too short")
	ErrWrongLabel    = errors.New("sealing: unseal failed, wrong label or policy")
	ErrUnknownPolicy = errors.New("sealing: unknown policy")
)

// Policy controls which identity material is folded into the sealing key.
type Policy byte

const (
	// PolicyAll binds the sealing key to this exact enclave measurement.
	PolicyAll Policy = iota
	// PolicyMrSigner binds the sealing key to the signer identity only,
	// letting any enclave signed by the same authority unseal the blob.
	PolicyMrSigner
)

const (
	keyIDLen     = 32
	svnLen       = 2
	headerLen    = 1 + keyIDLen + svnLen + svnLen // policy || keyID || isvSvn || cpuSvn
	nonceLen     = 12
)

// IdentityKey is the 32-byte hardware/enclave root key that sealing keys
// are derived from. In a real TEE this comes from the platform's sealing
// fuse; here it is supplied by the caller (cmd/relayd loads or creates
// the simulated root as identity.bin in its data directory).
type IdentityKey [32]byte

// SealedBlob is the on-disk/on-wire representation produced by Seal:
// header || nonce || ciphertext-with-tag.
type SealedBlob []byte

// Seal encrypts plaintext under a key derived from identity, policy and
// label, embedding enough header metadata for Unseal to reject blobs
// sealed under a different label or policy without needing external
// bookkeeping.
func Seal(identity IdentityKey, policy Policy, label string, isvSvn, cpuSvn uint16, plaintext []byte) (SealedBlob, error) {
	if policy != PolicyAll && policy != PolicyMrSigner {
		return nil, ErrUnknownPolicy
	}

	key := deriveKey(identity, policy, label)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	keyID := labelKeyID(label)

	header := make([]byte, headerLen)
	header[0] = byte(policy)
	copy(header[1:1+keyIDLen], keyID[:])
	binary.BigEndian.PutUint16(header[1+keyIDLen:1+keyIDLen+svnLen], isvSvn)
	binary.BigEndian.PutUint16(header[1+keyIDLen+svnLen:], cpuSvn)

	ciphertext := gcm.Seal(nil, nonce, plaintext, header)

	blob := make([]byte, 0, headerLen+nonceLen+len(ciphertext))
	blob = append(blob, header...)
	blob = append(blob, nonce...)
	blob = append(blob, ciphertext...)
	return blob, nil
}

// Unseal reverses Seal. The label and policy must match what was used to
// seal the blob or decryption fails; isvSvn/cpuSvn are return only, read
// from the header for the caller to compare against a minimum version.
func Unseal(identity IdentityKey, policy Policy, label string, blob SealedBlob) (plaintext []byte, isvSvn, cpuSvn uint16, err error) {
	if len(blob) < headerLen+nonceLen {
		return nil, 0, 0, ErrBlobTooShort
	}

	header := blob[:headerLen]
	nonce := blob[headerLen : headerLen+nonceLen]
	ciphertext := blob[headerLen+nonceLen:]

	isvSvn = binary.BigEndian.Uint16(header[1+keyIDLen : 1+keyIDLen+svnLen])
	cpuSvn = binary.BigEndian.Uint16(header[1+keyIDLen+svnLen:])

	key := deriveKey(identity, policy, label)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, 0, 0, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, 0, 0, err
	}

	plaintext, err = gcm.Open(nil, nonce, ciphertext, header)
	if err != nil {
		return nil, 0, 0, ErrWrongLabel
	}
	return plaintext, isvSvn, cpuSvn, nil
}

// deriveKey folds the identity root, policy byte and label into a 32-byte
// AES-256 key. SHA-256 rather than HKDF: the teacher's own sealing code
// (tee.sealTranscript) binds with a single hash pass, not a full
// extract-then-expand KDF, and one hash of fixed-format input is enough
// entropy when the root key is already uniformly random.
func deriveKey(identity IdentityKey, policy Policy, label string) [32]byte {
	h := sha256.New()
	h.Write(identity[:])
	h.Write([]byte{byte(policy)})
	h.Write([]byte(label))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func labelKeyID(label string) [32]byte {
	return sha256.Sum256([]byte(label))
}
