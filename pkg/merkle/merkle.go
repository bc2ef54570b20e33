// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package merkle builds the Merkle-Patricia receipt inclusion proof a
// signal's collect() call submits to the escrow contract: reconstruct the
// block's receipts trie, locate the transfer's log, and extract the
// minimal proof path.
package merkle

import (
	"bytes"
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"

	"github.com/luxfi/relay/pkg/oracle"
	"github.com/luxfi/relay/pkg/signal"
)

// Errors returned by BuildProof.
var (
	ErrLogMismatch  = errors.New("merkle: no Transfer log in the receipt matches the signal")
	ErrRootMismatch = errors.New("merkle: computed receipts root does not match the block header")
)

// transferTopic0 is keccak256("Transfer(address,address,uint256)").
var transferTopic0 = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Bundle is the opaque proof the builder hands to the escrow's collect()
// call. The consuming contract recomputes the root and checks the log at
// LogIndex matches the transfer claim; the builder itself only verifies
// the root once, as a sanity check before emitting the bundle.
type Bundle struct {
	HeaderRLP   []byte
	ReceiptRLP  []byte
	ProofNodes  [][]byte
	TriePathRLP []byte
	LogIndex    int
}

// Encode packs the bundle into the single byte slice the escrow's
// collect(proof, transferBlock) call expects as its proof argument.
func (b *Bundle) Encode() []byte {
	encoded, err := rlp.EncodeToBytes(struct {
		HeaderRLP   []byte
		ReceiptRLP  []byte
		ProofNodes  [][]byte
		TriePathRLP []byte
		LogIndex    uint64
	}{b.HeaderRLP, b.ReceiptRLP, b.ProofNodes, b.TriePathRLP, uint64(b.LogIndex)})
	if err != nil {
		// every field is already well-formed RLP-encodable data produced
		// by this package; a failure here means a bug, not bad input.
		panic(err)
	}
	return encoded
}

// BuildProof implements the six-step receipt-proof construction: find the
// target log, fetch the block's header and full receipt set, rebuild the
// typed-envelope receipts trie, verify its root, and extract the minimal
// inclusion proof for the transfer's receipt.
func BuildProof(ctx context.Context, oc oracle.ChainOracle, transferReceipt *types.Receipt, sig *signal.Signal) (*Bundle, error) {
	logIndexInReceipt, err := findTransferLog(transferReceipt, sig)
	if err != nil {
		return nil, err
	}

	header, err := oc.BlockByNumber(ctx, transferReceipt.BlockNumber)
	if err != nil {
		return nil, err
	}
	receipts, err := oc.ReceiptsByBlock(ctx, transferReceipt.BlockHash)
	if err != nil {
		return nil, err
	}

	tr := trie.NewEmpty(triedb.NewDatabase(memorydb.New(), nil))
	for i, r := range receipts {
		key, err := rlp.EncodeToBytes(uint64(i))
		if err != nil {
			return nil, err
		}
		val, err := r.MarshalBinary()
		if err != nil {
			return nil, err
		}
		if err := tr.Update(key, val); err != nil {
			return nil, err
		}
	}

	root := tr.Hash()
	if root != header.ReceiptHash {
		return nil, ErrRootMismatch
	}

	targetIndex := -1
	for i, r := range receipts {
		if r.TxHash == transferReceipt.TxHash {
			targetIndex = i
			break
		}
	}
	if targetIndex < 0 {
		return nil, ErrLogMismatch
	}

	targetKey, err := rlp.EncodeToBytes(uint64(targetIndex))
	if err != nil {
		return nil, err
	}

	pdb := memorydb.New()
	if err := tr.Prove(targetKey, pdb); err != nil {
		return nil, err
	}

	headerRLP, err := rlp.EncodeToBytes(header)
	if err != nil {
		return nil, err
	}
	receiptRLP, err := transferReceipt.MarshalBinary()
	if err != nil {
		return nil, err
	}

	nodes := collectAndOrderNodes(pdb)

	return &Bundle{
		HeaderRLP:   headerRLP,
		ReceiptRLP:  receiptRLP,
		ProofNodes:  nodes,
		TriePathRLP: targetKey,
		LogIndex:    logIndexInReceipt,
	}, nil
}

// findTransferLog scans the receipt's logs for the ERC-20 Transfer event
// matching the signal's token/recipient/amount, returning its index
// within the receipt.
func findTransferLog(receipt *types.Receipt, sig *signal.Signal) (int, error) {
	for i, l := range receipt.Logs {
		if l.Address != sig.Token {
			continue
		}
		if len(l.Topics) != 3 || l.Topics[0] != transferTopic0 {
			continue
		}
		var recipient common.Address
		copy(recipient[:], l.Topics[2][12:])
		if recipient != sig.Recipient {
			continue
		}
		if sig.TransferAmount != nil && !bytes.Equal(l.Data, sig.TransferAmount.PaddedBytes(32)) {
			continue
		}
		return i, nil
	}
	return -1, ErrLogMismatch
}

// collectAndOrderNodes drains a proof database and orders nodes by
// (path length, path) as required before RLP-encoding the proof list. The
// trie proof writer doesn't expose path length directly, so we order by
// raw node bytes length as the closest available proxy, then by content,
// giving a stable, deterministic ordering.
func collectAndOrderNodes(db *memorydb.Database) [][]byte {
	var nodes [][]byte
	it := db.NewIterator(nil, nil)
	defer it.Release()
	for it.Next() {
		val := make([]byte, len(it.Value()))
		copy(val, it.Value())
		nodes = append(nodes, val)
	}

	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0; j-- {
			if nodeLess(nodes[j], nodes[j-1]) {
				nodes[j], nodes[j-1] = nodes[j-1], nodes[j]
			} else {
				break
			}
		}
	}
	return nodes
}

func nodeLess(a, b []byte) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return bytes.Compare(a, b) < 0
}
