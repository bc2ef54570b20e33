// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package choreography

import (
	"crypto/ecdsa"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrUnknownSigner is returned when asked to sign for an address the
// signer holds no key for.
var ErrUnknownSigner = errors.New("choreography: no key held for requested signer address")

// Signer is the boundary between the choreography and the enclave's EOA
// key custody. Key material for eoa_1/eoa_2 is loaded from the sealed
// eoa.bin blob elsewhere in the enclave boundary; this interface only
// needs to produce a signed transaction, mirroring how ChainOracle keeps
// the chain itself at arm's length.
type Signer interface {
	SignTx(from common.Address, tx *types.Transaction) (*types.Transaction, error)
}

// LocalSigner is a Signer backed by an in-memory keyring, used by tests
// and by the enclave process once it has unsealed its EOA private keys.
type LocalSigner struct {
	chainID *big.Int
	keys    map[common.Address]*ecdsa.PrivateKey
}

// NewLocalSigner constructs a signer over the given private keys.
func NewLocalSigner(chainID *big.Int, keys []*ecdsa.PrivateKey) *LocalSigner {
	m := make(map[common.Address]*ecdsa.PrivateKey, len(keys))
	for _, k := range keys {
		m[crypto.PubkeyToAddress(k.PublicKey)] = k
	}
	return &LocalSigner{chainID: chainID, keys: m}
}

func (s *LocalSigner) SignTx(from common.Address, tx *types.Transaction) (*types.Transaction, error) {
	key, ok := s.keys[from]
	if !ok {
		return nil, ErrUnknownSigner
	}
	signer := types.NewEIP155Signer(s.chainID)
	return types.SignTx(tx, signer, key)
}
