// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package mock provides an in-memory oracle.ChainOracle test double,
// standing in for a real node the way the teacher's settlement tests stand
// in for a real escrow contract.
package mock

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// CallFunc handles one Call invocation; tests register one per selector or
// just dispatch on the full calldata.
type CallFunc func(to common.Address, data []byte) ([]byte, error)

// Oracle is a fully in-memory oracle.ChainOracle.
type Oracle struct {
	mu sync.Mutex

	CallFn CallFunc

	NativeBalances map[common.Address]*uint256.Int
	Nonces         map[common.Address]uint64

	Headers  map[uint64]*types.Header
	Receipts map[common.Hash]types.Receipts

	sentTxs  []*types.Transaction
	receipts map[common.Hash]*types.Receipt
}

// New creates an empty mock oracle.
func New() *Oracle {
	return &Oracle{
		NativeBalances: make(map[common.Address]*uint256.Int),
		Nonces:         make(map[common.Address]uint64),
		Headers:        make(map[uint64]*types.Header),
		Receipts:       make(map[common.Hash]types.Receipts),
		receipts:       make(map[common.Hash]*types.Receipt),
	}
}

// SentTransactions returns every transaction handed to SendTransaction, in
// order, for assertions in tests.
func (o *Oracle) SentTransactions() []*types.Transaction {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*types.Transaction{}, o.sentTxs...)
}

// SetReceipt registers the receipt WaitForReceipt should return for a
// given transaction hash.
func (o *Oracle) SetReceipt(txHash common.Hash, receipt *types.Receipt) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.receipts[txHash] = receipt
}

func (o *Oracle) SendTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sentTxs = append(o.sentTxs, tx)

	if signer, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx); err == nil {
		if next := tx.Nonce() + 1; next > o.Nonces[signer] {
			o.Nonces[signer] = next
		}
	}
	return tx.Hash(), nil
}

func (o *Oracle) WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.receipts[txHash]
	if !ok {
		return nil, errors.New("mock: no receipt registered for tx")
	}
	return r, nil
}

func (o *Oracle) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	if o.CallFn == nil {
		return nil, errors.New("mock: no CallFn registered")
	}
	return o.CallFn(to, data)
}

func (o *Oracle) BlockByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.Headers[number.Uint64()]
	if !ok {
		return nil, errors.New("mock: no header registered for block number")
	}
	return h, nil
}

func (o *Oracle) ReceiptsByBlock(ctx context.Context, blockHash common.Hash) (types.Receipts, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.Receipts[blockHash]
	if !ok {
		return nil, errors.New("mock: no receipts registered for block hash")
	}
	return r, nil
}

func (o *Oracle) NativeBalance(ctx context.Context, owner common.Address) (*uint256.Int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	b, ok := o.NativeBalances[owner]
	if !ok {
		return uint256.NewInt(0), nil
	}
	return b, nil
}

// NonceAt returns the number of transactions SendTransaction has observed
// from owner so far; tests may also pre-seed Nonces directly.
func (o *Oracle) NonceAt(ctx context.Context, owner common.Address) (uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Nonces[owner], nil
}
