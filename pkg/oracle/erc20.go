// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package oracle

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var erc20ABI abi.ABI

func init() {
	const erc20JSON = `[
		{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
		{"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"},
		{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"}
	]`
	parsed, err := abi.JSON(strings.NewReader(erc20JSON))
	if err != nil {
		panic(err)
	}
	erc20ABI = parsed
}

// TokenBalance reads balanceOf(owner) through the given oracle's generic
// Call boundary, decoding the ABI-packed result.
func TokenBalance(ctx context.Context, oc ChainOracle, token, owner common.Address) (*uint256.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, err
	}
	out, err := oc.Call(ctx, token, data)
	if err != nil {
		return nil, err
	}
	results, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil || len(results) != 1 {
		return nil, errors.New("oracle: unexpected balanceOf return data")
	}
	bal, ok := results[0].(*big.Int)
	if !ok {
		return nil, errors.New("oracle: unexpected balanceOf return type")
	}
	v, overflow := uint256.FromBig(bal)
	if overflow {
		return nil, errors.New("oracle: balanceOf overflows 256 bits")
	}
	return v, nil
}

// ApproveCalldata packs an ERC-20 approve(spender, amount) call.
func ApproveCalldata(spender common.Address, amount *uint256.Int) ([]byte, error) {
	return erc20ABI.Pack("approve", spender, amount.ToBig())
}

// TransferCalldata packs an ERC-20 transfer(to, amount) call.
func TransferCalldata(to common.Address, amount *uint256.Int) ([]byte, error) {
	return erc20ABI.Pack("transfer", to, amount.ToBig())
}
