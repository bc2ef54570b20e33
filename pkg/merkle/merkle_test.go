// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package merkle

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/relay/pkg/oracle/mock"
	"github.com/luxfi/relay/pkg/signal"
)

// buildSyntheticBlock constructs three receipts, the second carrying the
// target Transfer log, and computes the resulting receipts root the same
// way BuildProof reconstructs it.
func buildSyntheticBlock(t *testing.T, token, recipient common.Address, amount *uint256.Int) (*types.Header, types.Receipts, common.Hash) {
	t.Helper()

	mkReceipt := func(withTransfer bool) *types.Receipt {
		r := &types.Receipt{
			Type:              types.LegacyTxType,
			Status:            types.ReceiptStatusSuccessful,
			CumulativeGasUsed: 21000,
			TxHash:            common.HexToHash("0xdead"),
		}
		if withTransfer {
			var topic2 common.Hash
			copy(topic2[12:], recipient[:])
			r.Logs = []*types.Log{{
				Address: token,
				Topics:  []common.Hash{transferTopic0, common.Hash{}, topic2},
				Data:    amount.PaddedBytes(32),
			}}
		}
		r.Bloom = types.CreateBloom(types.Receipts{r})
		return r
	}

	receipts := types.Receipts{mkReceipt(false), mkReceipt(true), mkReceipt(false)}
	receipts[1].TxHash = common.HexToHash("0xabc123")

	tr := trie.NewEmpty(triedb.NewDatabase(memorydb.New(), nil))
	for i, r := range receipts {
		key, err := rlp.EncodeToBytes(uint64(i))
		require.NoError(t, err)
		val, err := r.MarshalBinary()
		require.NoError(t, err)
		require.NoError(t, tr.Update(key, val))
	}
	root := tr.Hash()

	header := &types.Header{
		Number:      big.NewInt(42),
		ReceiptHash: root,
	}
	blockHash := header.Hash()
	for i := range receipts {
		receipts[i].BlockHash = blockHash
		receipts[i].BlockNumber = header.Number
	}

	return header, receipts, blockHash
}

func TestBuildProofSeedScenario(t *testing.T) {
	token := common.HexToAddress("0xT0")
	recipient := common.HexToAddress("0xR0")
	amount := uint256.NewInt(777)

	header, receipts, blockHash := buildSyntheticBlock(t, token, recipient, amount)

	oc := mock.New()
	oc.Headers[header.Number.Uint64()] = header
	oc.Receipts[blockHash] = receipts

	sig := &signal.Signal{Token: token, Recipient: recipient, TransferAmount: amount}

	bundle, err := BuildProof(context.Background(), oc, receipts[1], sig)
	require.NoError(t, err)
	require.NotEmpty(t, bundle.ProofNodes)
	require.Equal(t, 0, bundle.LogIndex)
	require.NotEmpty(t, bundle.Encode())
}

func TestBuildProofLogMismatch(t *testing.T) {
	token := common.HexToAddress("0xT0")
	recipient := common.HexToAddress("0xR0")
	amount := uint256.NewInt(777)
	_, receipts, _ := buildSyntheticBlock(t, token, recipient, amount)

	sig := &signal.Signal{Token: token, Recipient: recipient, TransferAmount: amount}
	// receipts[0] carries no Transfer log at all.
	_, err := findTransferLogHelper(receipts[0], sig)
	require.ErrorIs(t, err, ErrLogMismatch)
}

func findTransferLogHelper(r *types.Receipt, sig *signal.Signal) (int, error) {
	return findTransferLog(r, sig)
}

func TestTransferTopic0Value(t *testing.T) {
	require.Equal(t, crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")), transferTopic0)
}
