// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package eoa implements the two-account selection algorithm that picks
// which enclave-held externally-owned accounts fund the bond and the
// transfer for a given signal.
package eoa

import (
	"errors"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// weiPerEther is the scale every wei-denominated amount in this package is
// displayed at: 18 decimals, matching the native coin and every ERC-20
// token this relay moves.
const weiPerEther = 18

// WeiToDecimal renders a wei-denominated amount as a human-readable
// decimal.Decimal for logging and status display, the way the teacher's
// settlement package renders ad-spend budgets instead of printing raw
// integer wei.
func WeiToDecimal(wei *uint256.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei.ToBig(), -weiPerEther)
}

// Errors returned by Select.
var (
	ErrNotEnoughEth    = errors.New("eoa: fewer than two accounts meet the native balance threshold")
	ErrNotEnoughTokens = errors.New("eoa: no account holds enough token balance for the bond")
	ErrNoTransferFunds = errors.New("eoa: no distinct account holds enough token balance for the transfer")
)

// Account is one enclave-held EOA and its observed balances.
type Account struct {
	Address       common.Address
	NativeBalance *uint256.Int
	TokenBalance  *uint256.Int
}

// Ledger is the process-local "last used eoa_2 per token" anti-reuse memo.
// Not safe for concurrent use beyond the orchestrator's single-choreography
// invariant.
type Ledger struct {
	lastEOA2 map[common.Address]common.Address
}

// NewLedger creates an empty anti-reuse memo.
func NewLedger() *Ledger {
	return &Ledger{lastEOA2: make(map[common.Address]common.Address)}
}

// Selection is the pair of accounts chosen to fund a choreography.
type Selection struct {
	EOA1 common.Address // bonds
	EOA2 common.Address // transfers
	Bond *uint256.Int
}

// Select implements the algorithm described for EOA selection: partition
// by native balance, compute the bond, pick the lowest-balance eligible
// account for the bond and the highest-balance eligible account (avoiding
// the anti-reuse memo where possible) for the transfer.
func Select(ledger *Ledger, token common.Address, accounts []Account, minNativeThreshold, rewardAmount, transferAmount *uint256.Int) (Selection, error) {
	var active []Account
	for _, a := range accounts {
		if a.NativeBalance.Cmp(minNativeThreshold) >= 0 {
			active = append(active, a)
		}
	}
	if len(active) < 2 {
		return Selection{}, ErrNotEnoughEth
	}

	bond := new(uint256.Int).Div(new(uint256.Int).Mul(rewardAmount, uint256.NewInt(52)), uint256.NewInt(100))

	ascending := append([]Account{}, active...)
	sort.Slice(ascending, func(i, j int) bool {
		return ascending[i].TokenBalance.Cmp(ascending[j].TokenBalance) < 0
	})

	var eoa1 *Account
	for i := range ascending {
		if ascending[i].TokenBalance.Cmp(bond) >= 0 {
			eoa1 = &ascending[i]
			break
		}
	}
	if eoa1 == nil {
		return Selection{}, ErrNotEnoughTokens
	}

	descending := append([]Account{}, active...)
	sort.Slice(descending, func(i, j int) bool {
		return descending[i].TokenBalance.Cmp(descending[j].TokenBalance) > 0
	})

	lastUsed, hasMemo := ledger.lastEOA2[token]

	var preferred, fallback *Account
	for i := range descending {
		acct := &descending[i]
		if acct.Address == eoa1.Address {
			continue
		}
		if acct.TokenBalance.Cmp(transferAmount) < 0 {
			continue
		}
		if fallback == nil {
			fallback = acct
		}
		if hasMemo && acct.Address == lastUsed {
			continue
		}
		if preferred == nil {
			preferred = acct
		}
	}

	var eoa2 *Account
	switch {
	case preferred != nil:
		eoa2 = preferred
	case fallback != nil:
		eoa2 = fallback
	default:
		return Selection{}, ErrNoTransferFunds
	}

	ledger.lastEOA2[token] = eoa2.Address

	return Selection{EOA1: eoa1.Address, EOA2: eoa2.Address, Bond: bond}, nil
}
