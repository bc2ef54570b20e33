// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package signal defines the Signal/EncryptedSignal/SignalPayload data
// model and the concurrent bounded pool that dedups and samples them.
package signal

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

// Signal is a cleartext instruction to bond, transfer and collect across
// an escrow contract. SelectorMapping is excluded from hashing and
// equality: two signals with identical effect but different obfuscation
// dedup to one pool entry.
type Signal struct {
	Escrow          common.Address
	Token           common.Address
	Recipient       common.Address
	TransferAmount  *uint256.Int
	RewardAmount    *uint256.Int
	AckURL          string
	SelectorMapping map[string][4]byte // function name -> remapped 4-byte selector

	CreatedAt time.Time
}

// EncryptedSignal carries an opaque puzzle-gated ciphertext. Token is
// duplicated in the clear to let the pool route without decrypting.
type EncryptedSignal struct {
	Token     common.Address
	RelayURL  string
	Bytecode  []byte
	Ciphertext []byte // 12-byte nonce || AES-GCM(body)

	CreatedAt time.Time
}

// Payload is the tagged union the pool actually stores: exactly one of
// Encrypted or Unencrypted is non-nil.
type Payload struct {
	Encrypted   *EncryptedSignal
	Unencrypted *Signal
}

// Hash returns the 64-bit dedup hash of a payload. For cleartext signals
// it covers every field except SelectorMapping; for encrypted signals it
// covers the envelope fields (the pool cannot see inside the ciphertext).
func (p Payload) Hash() uint64 {
	h := sha3.NewLegacyKeccak256()
	if p.Unencrypted != nil {
		s := p.Unencrypted
		h.Write(s.Escrow[:])
		h.Write(s.Token[:])
		h.Write(s.Recipient[:])
		if s.TransferAmount != nil {
			b := s.TransferAmount.Bytes32()
			h.Write(b[:])
		}
		if s.RewardAmount != nil {
			b := s.RewardAmount.Bytes32()
			h.Write(b[:])
		}
		h.Write([]byte(s.AckURL))
	} else if p.Encrypted != nil {
		e := p.Encrypted
		h.Write(e.Token[:])
		h.Write([]byte(e.RelayURL))
		h.Write(e.Bytecode)
		h.Write(e.Ciphertext)
	}
	sum := h.Sum(nil)
	var out uint64
	for i := 0; i < 8; i++ {
		out = out<<8 | uint64(sum[i])
	}
	return out
}
