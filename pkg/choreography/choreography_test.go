// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package choreography

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"net/http"
	"net/http/httptest"
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

	"github.com/luxfi/relay/pkg/eoa"
	"github.com/luxfi/relay/pkg/oracle/mock"
	"github.com/luxfi/relay/pkg/signal"
)

var transferTopic0ForTest = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

func TestSelectorTableCompleteness(t *testing.T) {
	require.False(t, selectorTableComplete(nil))
	require.False(t, selectorTableComplete(map[string][4]byte{"bond": {1, 2, 3, 4}}))
	full := map[string][4]byte{
		"bond":      {1, 0, 0, 0},
		"collect":   {2, 0, 0, 0},
		"is_bonded": {3, 0, 0, 0},
	}
	require.True(t, selectorTableComplete(full))
}

// notBondedOracle wraps mock.Oracle to answer every call, is_bonded()
// included, with 32 zero bytes, which is_bonded() decodes as false.
func notBondedOracle() *mock.Oracle {
	oc := mock.New()
	oc.CallFn = func(to common.Address, data []byte) ([]byte, error) {
		return make([]byte, 32), nil
	}
	return oc
}

func TestRunRejectsAlreadyBonded(t *testing.T) {
	oc := mock.New()
	oc.CallFn = func(to common.Address, data []byte) ([]byte, error) {
		bonded := make([]byte, 32)
		bonded[31] = 1
		return bonded, nil
	}
	sig := &signal.Signal{
		Escrow:         common.HexToAddress("0xE"),
		Token:          common.HexToAddress("0xTK"),
		Recipient:      common.HexToAddress("0xRC"),
		TransferAmount: uint256.NewInt(300),
		RewardAmount:   uint256.NewInt(100),
	}
	sel := eoa.Selection{Bond: uint256.NewInt(52)}
	deps := Deps{Oracle: oc, Signer: &panicSigner{}, ChainID: big.NewInt(1)}

	attempt, err := Run(context.Background(), deps, sig, sel, 1)
	require.ErrorIs(t, err, ErrAlreadyBonded)
	require.Equal(t, StateFailed, attempt.State)
}

func TestRunRejectsIncompleteSelectorMapping(t *testing.T) {
	oc := notBondedOracle()
	sig := &signal.Signal{
		Escrow:          common.HexToAddress("0xE"),
		Token:           common.HexToAddress("0xTK"),
		Recipient:       common.HexToAddress("0xRC"),
		TransferAmount:  uint256.NewInt(300),
		RewardAmount:    uint256.NewInt(100),
		SelectorMapping: map[string][4]byte{"bond": {1, 2, 3, 4}},
	}
	sel := eoa.Selection{Bond: uint256.NewInt(52)}
	deps := Deps{Oracle: oc, Signer: &panicSigner{}, ChainID: big.NewInt(1)}

	attempt, err := Run(context.Background(), deps, sig, sel, 1)
	require.ErrorIs(t, err, ErrIncompleteSelectors)
	require.Equal(t, StateFailed, attempt.State)
}

func TestRunCompensatesOnBondFailure(t *testing.T) {
	eoa1, eoa1Addr := newKey(t)
	eoa2, eoa2Addr := newKey(t)
	oc := notBondedOracle()

	sig := &signal.Signal{
		Escrow:         common.HexToAddress("0xE"),
		Token:          common.HexToAddress("0xTK"),
		Recipient:      common.HexToAddress("0xRC"),
		TransferAmount: uint256.NewInt(300),
		RewardAmount:   uint256.NewInt(100),
	}
	sel := eoa.Selection{EOA1: eoa1Addr, EOA2: eoa2Addr, Bond: uint256.NewInt(52)}

	signer := &failingBondSigner{
		keys: map[common.Address]*ecdsa.PrivateKey{eoa1Addr: eoa1, eoa2Addr: eoa2},
		oc:   oc,
	}
	deps := Deps{Oracle: oc, Signer: signer, ChainID: big.NewInt(1)}

	attempt, err := Run(context.Background(), deps, sig, sel, 1)
	require.Error(t, err)
	require.Equal(t, StateFailed, attempt.State)
	require.True(t, signer.sawRevoke, "expected a compensating approve(0) after the failed bond")
}

func TestRunHappyPath(t *testing.T) {
	eoa1, eoa1Addr := newKey(t)
	eoa2, eoa2Addr := newKey(t)

	ackServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ackServer.Close()

	token := common.HexToAddress("0xTK")
	recipient := common.HexToAddress("0xRC")
	amount := uint256.NewInt(300)

	sig := &signal.Signal{
		Escrow:         common.HexToAddress("0xE"),
		Token:          token,
		Recipient:      recipient,
		TransferAmount: amount,
		RewardAmount:   uint256.NewInt(100),
		AckURL:         ackServer.URL,
	}
	sel := eoa.Selection{EOA1: eoa1Addr, EOA2: eoa2Addr, Bond: uint256.NewInt(52)}

	oc := notBondedOracle()
	signer := &happyPathSigner{
		t:     t,
		keys:  map[common.Address]*ecdsa.PrivateKey{eoa1Addr: eoa1, eoa2Addr: eoa2},
		oc:    oc,
		token: token, recipient: recipient, amount: amount,
	}
	deps := Deps{Oracle: oc, Signer: signer, ChainID: big.NewInt(1)}

	attempt, err := Run(context.Background(), deps, sig, sel, 0xabc)
	require.NoError(t, err)
	require.Equal(t, StateDone, attempt.State)
	require.Contains(t, attempt.TxHashes, StateTransfer)
	require.Contains(t, attempt.TxHashes, StateCollect)

	// eoa_1 signs approve, bond and collect in one run; each must use a
	// distinct, increasing nonce or a real chain would reject every send
	// after the first as a nonce collision.
	var eoa1Nonces []uint64
	for _, tx := range oc.SentTransactions() {
		sender, err := types.Sender(types.NewEIP155Signer(big.NewInt(1)), tx)
		require.NoError(t, err)
		if sender == eoa1Addr {
			eoa1Nonces = append(eoa1Nonces, tx.Nonce())
		}
	}
	require.Equal(t, []uint64{0, 1, 2}, eoa1Nonces)
}

func newKey(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	return priv, crypto.PubkeyToAddress(priv.PublicKey)
}

type panicSigner struct{}

func (panicSigner) SignTx(common.Address, *types.Transaction) (*types.Transaction, error) {
	panic("choreography should not reach signing for this test")
}

// failingBondSigner signs approve successfully, then refuses to sign the
// bond transaction, forcing the compensating-rollback path; it records
// whether the expected revoke-approval transaction was subsequently signed.
type failingBondSigner struct {
	keys      map[common.Address]*ecdsa.PrivateKey
	oc        *mock.Oracle
	seenCalls int
	sawRevoke bool
}

func (s *failingBondSigner) SignTx(from common.Address, tx *types.Transaction) (*types.Transaction, error) {
	s.seenCalls++
	if s.seenCalls == 2 {
		// this is the bond call; refuse it.
		return nil, errBondSigningRefused
	}
	key := s.keys[from]
	signed, err := types.SignTx(tx, types.NewEIP155Signer(big.NewInt(1)), key)
	if err != nil {
		return nil, err
	}
	hash := signed.Hash()
	s.oc.SetReceipt(hash, &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: hash})
	if s.seenCalls == 3 {
		s.sawRevoke = true
	}
	return signed, nil
}

var errBondSigningRefused = &signingRefusedError{}

type signingRefusedError struct{}

func (*signingRefusedError) Error() string { return "bond signing refused for test" }

// happyPathSigner signs every transaction and seeds the mock oracle with a
// matching receipt, fabricating a real receipts trie (mirroring the merkle
// package's own construction) for the transfer's block so BuildProof's
// root check succeeds.
type happyPathSigner struct {
	t                   *testing.T
	keys                map[common.Address]*ecdsa.PrivateKey
	oc                  *mock.Oracle
	token, recipient    common.Address
	amount              *uint256.Int
	txCount             int
}

func (s *happyPathSigner) SignTx(from common.Address, tx *types.Transaction) (*types.Transaction, error) {
	key := s.keys[from]
	signed, err := types.SignTx(tx, types.NewEIP155Signer(big.NewInt(1)), key)
	require.NoError(s.t, err)

	s.txCount++
	hash := signed.Hash()
	isTransfer := s.txCount == 3 // order: approve(1), bond(2), transfer(3), collect(4)

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
			Topics:  []common.Hash{transferTopic0ForTest, common.Hash{}, topic2},
			Data:    s.amount.PaddedBytes(32),
		}}
	}
	receipt.Bloom = types.CreateBloom(types.Receipts{receipt})

	if isTransfer {
		tr := trie.NewEmpty(triedb.NewDatabase(memorydb.New(), nil))
		key0, err := rlp.EncodeToBytes(uint64(0))
		require.NoError(s.t, err)
		val, err := receipt.MarshalBinary()
		require.NoError(s.t, err)
		require.NoError(s.t, tr.Update(key0, val))
		root := tr.Hash()

		header := &types.Header{Number: big.NewInt(7), ReceiptHash: root}
		blockHash := header.Hash()
		receipt.BlockHash = blockHash
		receipt.BlockNumber = header.Number

		s.oc.Headers[7] = header
		s.oc.Receipts[blockHash] = types.Receipts{receipt}
	}

	s.oc.SetReceipt(hash, receipt)
	return signed, nil
}
