// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package oracle

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/relay/pkg/oracle/mock"
)

func TestTokenBalanceUnpacksCall(t *testing.T) {
	want := big.NewInt(12345)
	resultBytes, err := erc20ABI.Methods["balanceOf"].Outputs.Pack(want)
	require.NoError(t, err)

	oc := mock.New()
	oc.CallFn = func(to common.Address, data []byte) ([]byte, error) {
		return resultBytes, nil
	}

	bal, err := TokenBalance(context.Background(), oc, common.HexToAddress("0xT"), common.HexToAddress("0xO"))
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(12345), bal)
}

func TestApproveAndTransferCalldataRoundTrip(t *testing.T) {
	data, err := ApproveCalldata(common.HexToAddress("0x1"), uint256.NewInt(52))
	require.NoError(t, err)
	method, err := erc20ABI.MethodById(data[:4])
	require.NoError(t, err)
	require.Equal(t, "approve", method.Name)

	data, err = TransferCalldata(common.HexToAddress("0x1"), uint256.NewInt(300))
	require.NoError(t, err)
	method, err = erc20ABI.MethodById(data[:4])
	require.NoError(t, err)
	require.Equal(t, "transfer", method.Name)
}
