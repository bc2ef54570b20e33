// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package eoa

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func account(addrByte byte, native, token uint64) Account {
	return Account{
		Address:       common.BytesToAddress([]byte{addrByte}),
		NativeBalance: uint256.NewInt(native),
		TokenBalance:  uint256.NewInt(token),
	}
}

func TestSelectSeedScenario(t *testing.T) {
	token := common.HexToAddress("0xT")
	accounts := []Account{
		account(1, 1, 100),
		account(2, 1, 500),
		account(3, 1, 1000),
	}

	sel, err := Select(NewLedger(), token, accounts, uint256.NewInt(1), uint256.NewInt(100), uint256.NewInt(300))
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(52), sel.Bond)
	require.Equal(t, accounts[0].Address, sel.EOA1) // balance 100, lowest >= bond 52
	require.Equal(t, accounts[2].Address, sel.EOA2) // balance 1000, highest
}

func TestSelectFailsWithFewerThanTwoActive(t *testing.T) {
	accounts := []Account{account(1, 0, 100), account(2, 1, 100)}
	_, err := Select(NewLedger(), common.Address{}, accounts, uint256.NewInt(1), uint256.NewInt(10), uint256.NewInt(10))
	require.ErrorIs(t, err, ErrNotEnoughEth)
}

func TestSelectFailsWhenNoAccountMeetsBond(t *testing.T) {
	accounts := []Account{account(1, 1, 1), account(2, 1, 2)}
	_, err := Select(NewLedger(), common.Address{}, accounts, uint256.NewInt(1), uint256.NewInt(1000), uint256.NewInt(1))
	require.ErrorIs(t, err, ErrNotEnoughTokens)
}

func TestSelectFailsWhenNoDistinctTransferAccount(t *testing.T) {
	accounts := []Account{account(1, 1, 1000), account(2, 1, 10)}
	_, err := Select(NewLedger(), common.Address{}, accounts, uint256.NewInt(1), uint256.NewInt(100), uint256.NewInt(999))
	require.ErrorIs(t, err, ErrNoTransferFunds)
}

func TestSelectAvoidsMemoWhenAlternativeExists(t *testing.T) {
	token := common.HexToAddress("0xT")
	accounts := []Account{
		account(1, 1, 100),
		account(2, 1, 900),
		account(3, 1, 1000),
	}
	ledger := NewLedger()

	sel1, err := Select(ledger, token, accounts, uint256.NewInt(1), uint256.NewInt(10), uint256.NewInt(50))
	require.NoError(t, err)
	require.Equal(t, accounts[2].Address, sel1.EOA2) // highest balance first time

	sel2, err := Select(ledger, token, accounts, uint256.NewInt(1), uint256.NewInt(10), uint256.NewInt(50))
	require.NoError(t, err)
	require.NotEqual(t, sel1.EOA2, sel2.EOA2) // memo steers away from the repeat
}

func TestSelectFallsBackToMemoWhenNoAlternative(t *testing.T) {
	token := common.HexToAddress("0xT")
	accounts := []Account{
		account(1, 1, 10),
		account(2, 1, 1000),
	}
	ledger := NewLedger()

	sel1, err := Select(ledger, token, accounts, uint256.NewInt(1), uint256.NewInt(10), uint256.NewInt(50))
	require.NoError(t, err)
	require.Equal(t, accounts[1].Address, sel1.EOA2)

	sel2, err := Select(ledger, token, accounts, uint256.NewInt(1), uint256.NewInt(10), uint256.NewInt(50))
	require.NoError(t, err)
	require.Equal(t, sel1.EOA2, sel2.EOA2) // only one eligible account exists
}
