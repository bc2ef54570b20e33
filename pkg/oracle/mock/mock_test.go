// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mock

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestNonceAtDefaultsToZero(t *testing.T) {
	o := New()
	n, err := o.NonceAt(context.Background(), common.HexToAddress("0xA"))
	require.NoError(t, err)
	require.Equal(t, uint64(0), n)
}

func TestSendTransactionAdvancesNonce(t *testing.T) {
	priv, addr := newKey(t)
	o := New()

	for want := uint64(0); want < 3; want++ {
		n, err := o.NonceAt(context.Background(), addr)
		require.NoError(t, err)
		require.Equal(t, want, n)

		tx := types.NewTransaction(n, common.HexToAddress("0xB"), big.NewInt(0), 21000, big.NewInt(0), nil)
		signed, err := types.SignTx(tx, types.NewEIP155Signer(big.NewInt(1)), priv)
		require.NoError(t, err)

		_, err = o.SendTransaction(context.Background(), signed)
		require.NoError(t, err)
	}

	n, err := o.NonceAt(context.Background(), addr)
	require.NoError(t, err)
	require.Equal(t, uint64(3), n)
}

func newKey(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	return priv, crypto.PubkeyToAddress(priv.PublicKey)
}
