// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package orchestrator

import (
	"crypto/ecdsa"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/relay/pkg/attestation"
	"github.com/luxfi/relay/pkg/choreography"
	"github.com/luxfi/relay/pkg/keyshare"
	"github.com/luxfi/relay/pkg/oracle/mock"
	"github.com/luxfi/relay/pkg/sealing"
	"github.com/luxfi/relay/pkg/signal"
)

var orchTransferTopic0 = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

func newOrchKey(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	return priv, crypto.PubkeyToAddress(priv.PublicKey)
}

// orchSigner drives a deterministic, oracle-seeding happy path for every
// choreography invoked by the orchestrator during a test, the same way
// pkg/choreography's own happyPathSigner does for a single run.
type orchSigner struct {
	t                *testing.T
	keys             map[common.Address]*ecdsa.PrivateKey
	oc               *mock.Oracle
	token, recipient common.Address
	amount           *uint256.Int
	blockNumber      int64
	txCount          int
}

func (s *orchSigner) SignTx(from common.Address, tx *types.Transaction) (*types.Transaction, error) {
	key := s.keys[from]
	signed, err := types.SignTx(tx, types.NewEIP155Signer(big.NewInt(1)), key)
	require.NoError(s.t, err)

	s.txCount++
	hash := signed.Hash()
	isTransfer := s.txCount == 3 // approve(1), bond(2), transfer(3), collect(4)

	receipt := &types.Receipt{
		Type:              types.LegacyTxType,
		Status:            types.ReceiptStatusSuccessful,
		CumulativeGasUsed: 21000,
		TxHash:            hash,
	}
	if isTransfer {
		var topic2 common.Hash
		copy(topic2[12:], s.recipient[:])
		receipt.Logs = []*types.Log{{
			Address: s.token,
			Topics:  []common.Hash{orchTransferTopic0, common.Hash{}, topic2},
			Data:    s.amount.PaddedBytes(32),
		}}
	}
	receipt.Bloom = types.CreateBloom(types.Receipts{receipt})

	if isTransfer {
		s.blockNumber++
		tr := trie.NewEmpty(triedb.NewDatabase(memorydb.New(), nil))
		key0, err := rlp.EncodeToBytes(uint64(0))
		require.NoError(s.t, err)
		val, err := receipt.MarshalBinary()
		require.NoError(s.t, err)
		require.NoError(s.t, tr.Update(key0, val))

		header := &types.Header{Number: big.NewInt(s.blockNumber), ReceiptHash: tr.Hash()}
		blockHash := header.Hash()
		receipt.BlockHash = blockHash
		receipt.BlockNumber = header.Number

		s.oc.Headers[uint64(s.blockNumber)] = header
		s.oc.Receipts[blockHash] = types.Receipts{receipt}
	}

	s.oc.SetReceipt(hash, receipt)
	return signed, nil
}

// callFnFor dispatches Call by destination address only: is_bonded()
// against escrow always answers false, balanceOf(owner) against token
// answers from the given per-address balance table.
func callFnFor(escrow, token common.Address, balances map[common.Address]*uint256.Int) func(common.Address, []byte) ([]byte, error) {
	return func(to common.Address, data []byte) ([]byte, error) {
		if to == escrow {
			return make([]byte, 32), nil
		}
		if to == token {
			var owner common.Address
			if len(data) >= 36 {
				copy(owner[:], data[16:36])
			}
			bal, ok := balances[owner]
			if !ok {
				bal = uint256.NewInt(0)
			}
			return bal.PaddedBytes(32), nil
		}
		return make([]byte, 32), nil
	}
}

func TestOrchestratorHappyPath(t *testing.T) {
	eoa1, eoa1Addr := newOrchKey(t)
	eoa2, eoa2Addr := newOrchKey(t)

	escrow := common.HexToAddress("0xE0")
	token := common.HexToAddress("0xTK")
	recipient := common.HexToAddress("0xRC")
	amount := uint256.NewInt(300)

	oc := mock.New()
	oc.NativeBalances[eoa1Addr] = uint256.NewInt(1_000_000)
	oc.NativeBalances[eoa2Addr] = uint256.NewInt(1_000_000)
	oc.CallFn = callFnFor(escrow, token, map[common.Address]*uint256.Int{
		eoa1Addr: uint256.NewInt(100),
		eoa2Addr: uint256.NewInt(1000),
	})

	signer := &orchSigner{t: t, keys: map[common.Address]*ecdsa.PrivateKey{eoa1Addr: eoa1, eoa2Addr: eoa2}, oc: oc, token: token, recipient: recipient, amount: amount}

	identity := sealing.IdentityKey{}
	collateral, err := attestation.GenerateCollateralKey()
	require.NoError(t, err)
	keyMgr := keyshare.NewManager(identity, collateral, [32]byte{}, 1)
	require.NoError(t, keyMgr.Generate())

	pool := signal.NewPool(10)
	orch, err := New(Config{
		Pool:               pool,
		Oracle:             oc,
		Signer:             signer,
		KeyMgr:             keyMgr,
		Accounts:           []common.Address{eoa1Addr, eoa2Addr},
		MinNativeThreshold: uint256.NewInt(1),
		ChainID:            big.NewInt(1),
	})
	require.NoError(t, err)

	orch.Start()
	defer orch.Stop()

	sig := signal.Signal{
		Escrow:         escrow,
		Token:          token,
		Recipient:      recipient,
		TransferAmount: amount,
		RewardAmount:   uint256.NewInt(100),
	}
	require.True(t, pool.Insert(signal.Payload{Unencrypted: &sig}))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if orch.Processed() > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	require.Equal(t, uint64(1), orch.Processed())
	attempt := orch.LastAttempt()
	require.NotNil(t, attempt)
	require.Equal(t, choreography.StateDone, attempt.State)
}

func TestOrchestratorKeyShareRoundTrip(t *testing.T) {
	identity := sealing.IdentityKey{}
	collateral, err := attestation.GenerateCollateralKey()
	require.NoError(t, err)
	keyMgr := keyshare.NewManager(identity, collateral, [32]byte{}, 1)
	require.NoError(t, keyMgr.Generate())

	oc := mock.New()
	orch, err := New(Config{
		Pool:    signal.NewPool(1),
		Oracle:  oc,
		Signer:  panicSigner{},
		KeyMgr:  keyMgr,
		ChainID: big.NewInt(1),
	})
	require.NoError(t, err)
	orch.Start()
	defer orch.Stop()

	clientPriv, err := crypto.GenerateKey()
	require.NoError(t, err)
	clientReport, err := attestation.NewReportBody(crypto.CompressPubkey(&clientPriv.PublicKey), false, attestation.RoleClient)
	require.NoError(t, err)
	clientQuote, err := collateral.Quote(clientReport, [32]byte{}, 1)
	require.NoError(t, err)

	ciphertext, err := orch.RequestKeyShare(clientQuote)
	require.NoError(t, err)
	require.NotEmpty(t, ciphertext)
}

func TestOrchestratorRejectsKeyShareAfterStop(t *testing.T) {
	identity := sealing.IdentityKey{}
	collateral, err := attestation.GenerateCollateralKey()
	require.NoError(t, err)
	keyMgr := keyshare.NewManager(identity, collateral, [32]byte{}, 1)
	require.NoError(t, keyMgr.Generate())

	orch, err := New(Config{
		Pool:    signal.NewPool(1),
		Oracle:  mock.New(),
		Signer:  panicSigner{},
		KeyMgr:  keyMgr,
		ChainID: big.NewInt(1),
	})
	require.NoError(t, err)
	orch.Start()
	orch.Stop()

	_, err = orch.RequestKeyShare(attestation.Quote{})
	require.ErrorIs(t, err, ErrShuttingDown)
}

type panicSigner struct{}

func (panicSigner) SignTx(common.Address, *types.Transaction) (*types.Transaction, error) {
	panic("no choreography expected in this test")
}
