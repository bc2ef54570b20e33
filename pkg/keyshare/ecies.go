// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package keyshare

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"github.com/ethereum/go-ethereum/crypto"
)

// ErrCiphertextTooShort is returned when an ECIES ciphertext is too small
// to contain an ephemeral public key, nonce and tag.
var ErrCiphertextTooShort = errors.New("keyshare: ECIES ciphertext too short")

// eciesEncrypt implements the same shape of ECIES the mixer enclave example
// uses for its P-256 key exchange (ephemeral key, ECDH shared secret,
// SHA-256 KDF, AES-GCM), adapted to secp256k1: every key in this protocol is
// a compressed secp256k1 key per the attested report-body format, so the
// shared curve is secp256k1 rather than P-256.
func eciesEncrypt(recipientPub []byte, plaintext []byte) ([]byte, error) {
	ephPriv, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	ephPub := crypto.CompressPubkey(&ephPriv.PublicKey)

	recip, err := crypto.DecompressPubkey(recipientPub)
	if err != nil {
		return nil, err
	}

	sx, _ := crypto.S256().ScalarMult(recip.X, recip.Y, ephPriv.D.Bytes())
	key := sha256.Sum256(sx.Bytes())

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, len(ephPub)+len(nonce)+len(ciphertext))
	out = append(out, ephPub...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// eciesDecrypt reverses eciesEncrypt using the recipient's own secp256k1
// private key.
func eciesDecrypt(recipientPriv *ecdsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	const pubLen = 33
	const nonceLen = 12
	const tagLen = 16
	if len(ciphertext) < pubLen+nonceLen+tagLen {
		return nil, ErrCiphertextTooShort
	}

	ephPub := ciphertext[:pubLen]
	nonce := ciphertext[pubLen : pubLen+nonceLen]
	body := ciphertext[pubLen+nonceLen:]

	eph, err := crypto.DecompressPubkey(ephPub)
	if err != nil {
		return nil, err
	}

	sx, _ := crypto.S256().ScalarMult(eph.X, eph.Y, recipientPriv.D.Bytes())
	key := sha256.Sum256(sx.Bytes())

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return gcm.Open(nil, nonce, body, nil)
}
