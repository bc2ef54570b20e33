// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package puzzle implements the puzzle-gated decryption pipeline: execute
// the embedded bytecode to obtain one secret share, fetch the other share
// from the relay, derive an AEAD key from both, and decrypt the signal.
package puzzle

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/luxfi/relay/pkg/signal"
	"github.com/luxfi/relay/pkg/vm"
)

// Errors returned by Decrypt, matching the three named failure modes.
var (
	ErrPuzzleFailure  = errors.New("puzzle: VM execution failed")
	ErrRelayFailure   = errors.New("puzzle: relay fetch failed")
	ErrUndecryptable  = errors.New("puzzle: AEAD decryption failed")
)

const (
	cycleBudget  = 10_000_000
	shareLen     = 32
	nonceLen     = 12
	httpTimeout  = 10 * time.Second
)

// RelayClient fetches the peer secret share for a puzzle commitment. The
// default implementation POSTs over HTTP; tests substitute a fake.
type RelayClient interface {
	FetchShare(relayURL string, commitment [32]byte) ([32]byte, error)
}

// httpRelayClient is the production RelayClient: POST the commitment,
// read back exactly 32 bytes.
type httpRelayClient struct {
	client *http.Client
}

// NewHTTPRelayClient constructs a RelayClient backed by net/http.
func NewHTTPRelayClient() RelayClient {
	return &httpRelayClient{client: &http.Client{Timeout: httpTimeout}}
}

func (c *httpRelayClient) FetchShare(relayURL string, commitment [32]byte) ([32]byte, error) {
	var k1 [32]byte
	resp, err := c.client.Post(relayURL, "application/octet-stream", bytes.NewReader(commitment[:]))
	if err != nil {
		return k1, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return k1, errors.New("puzzle: relay responded with non-200 status")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, shareLen+1))
	if err != nil {
		return k1, err
	}
	if len(body) != shareLen {
		return k1, errors.New("puzzle: relay share must be exactly 32 bytes")
	}
	copy(k1[:], body)
	return k1, nil
}

// Decrypt runs the full pipeline described for encrypted signals and
// returns the decrypted, deserialized Signal. If the inner token address
// disagrees with the envelope's clear token address, the inner value wins
// (it is authoritative); callers may inspect the returned Signal.Token to
// detect and log the mismatch themselves.
func Decrypt(machine *vm.VM, relay RelayClient, enc *signal.EncryptedSignal) (*signal.Signal, error) {
	out, err := machine.Execute(enc.Bytecode, cycleBudget)
	if err != nil {
		return nil, wrapErr(ErrPuzzleFailure, err)
	}
	k2 := [32]byte(out)

	commitment := sha3.Sum256(k2[:])
	k1, err := relay.FetchShare(enc.RelayURL, commitment)
	if err != nil {
		return nil, wrapErr(ErrRelayFailure, err)
	}

	aeadKey := deriveAEADKey(k1, k2)

	if len(enc.Ciphertext) < nonceLen {
		return nil, ErrUndecryptable
	}
	nonce := enc.Ciphertext[:nonceLen]
	ciphertext := enc.Ciphertext[nonceLen:]

	block, err := aes.NewCipher(aeadKey[:])
	if err != nil {
		return nil, wrapErr(ErrUndecryptable, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, wrapErr(ErrUndecryptable, err)
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, wrapErr(ErrUndecryptable, err)
	}

	var sig signal.Signal
	if err := json.Unmarshal(plaintext, &sig); err != nil {
		return nil, wrapErr(ErrUndecryptable, err)
	}

	return &sig, nil
}

// deriveAEADKey sorts [k1, k2] lexicographically, concatenates and hashes
// with SHA3-256, matching the envelope ciphertext's key schedule exactly.
func deriveAEADKey(k1, k2 [32]byte) [32]byte {
	shares := [][]byte{k1[:], k2[:]}
	sort.Slice(shares, func(i, j int) bool {
		return bytes.Compare(shares[i], shares[j]) < 0
	})
	h := sha3.New256()
	h.Write(shares[0])
	h.Write(shares[1])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func wrapErr(sentinel, cause error) error {
	return fmt.Errorf("%w: %v", sentinel, cause)
}
