// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package oracle defines the black-box chain boundary the choreography
// and proof builder depend on. The blockchain itself is an external
// collaborator: this package only declares the interface and a thin
// JSON-RPC caller, not a full node client.
package oracle

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// ChainOracle is everything the relay core needs from the chain. It is
// intentionally narrow: no block production, no mempool, no wallet.
type ChainOracle interface {
	// SendTransaction broadcasts an already-signed transaction, returning
	// its hash.
	SendTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error)

	// WaitForReceipt blocks until the transaction is mined and returns its
	// receipt.
	WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)

	// Call performs a read-only eth_call against to with the given
	// already-ABI-encoded calldata, returning the raw return data.
	// Callers (choreography, for is_bonded; balance fetching, for
	// balanceOf) own the ABI encoding/decoding on either side, since the
	// selector may be remapped per-signal for obfuscated contracts.
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)

	// BlockByNumber fetches a full block header by number.
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Header, error)

	// ReceiptsByBlock fetches every receipt in a block, in transaction order.
	ReceiptsByBlock(ctx context.Context, blockHash common.Hash) (types.Receipts, error)

	// NativeBalance reads the chain-native coin balance.
	NativeBalance(ctx context.Context, owner common.Address) (*uint256.Int, error)

	// NonceAt returns the next nonce owner should use, counting pending
	// transactions (the chain's "pending" block tag) so a choreography
	// that sends several transactions from the same EOA in quick
	// succession doesn't have to wait for each one to mine before
	// sending the next.
	NonceAt(ctx context.Context, owner common.Address) (uint64, error)
}
