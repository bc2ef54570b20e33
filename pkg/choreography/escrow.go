// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package choreography

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// escrowABI is the parsed escrow ABI; its canonical 4-byte selectors for
// the three relevant functions are used whenever a signal carries no
// obfuscation table.
var escrowABI abi.ABI

func init() {
	const escrowJSON = `[
		{"constant":true,"inputs":[],"name":"is_bonded","outputs":[{"name":"","type":"bool"}],"type":"function"},
		{"constant":false,"inputs":[{"name":"amount","type":"uint256"}],"name":"bond","outputs":[],"type":"function"},
		{"constant":false,"inputs":[{"name":"proof","type":"bytes"},{"name":"transferBlock","type":"uint256"}],"name":"collect","outputs":[],"type":"function"}
	]`
	parsed, err := abi.JSON(strings.NewReader(escrowJSON))
	if err != nil {
		panic(err)
	}
	escrowABI = parsed
}

// requiredFunctions lists the three escrow functions an obfuscated
// contract's selector table must cover.
var requiredFunctions = []string{"bond", "collect", "is_bonded"}

// isBondedCalldata builds the calldata for is_bonded(), using the
// remapped selector when selectorMapping provides one.
func isBondedCalldata(selectorMapping map[string][4]byte) []byte {
	return withSelector(selectorMapping, "is_bonded", escrowABI.Methods["is_bonded"].ID, nil)
}

// bondCalldata builds the calldata for bond(amount).
func bondCalldata(selectorMapping map[string][4]byte, amount interface{}) ([]byte, error) {
	args, err := escrowABI.Methods["bond"].Inputs.Pack(amount)
	if err != nil {
		return nil, err
	}
	return withSelector(selectorMapping, "bond", escrowABI.Methods["bond"].ID, args), nil
}

// collectCalldata builds the calldata for collect(proof, transferBlock).
func collectCalldata(selectorMapping map[string][4]byte, proof []byte, transferBlock interface{}) ([]byte, error) {
	args, err := escrowABI.Methods["collect"].Inputs.Pack(proof, transferBlock)
	if err != nil {
		return nil, err
	}
	return withSelector(selectorMapping, "collect", escrowABI.Methods["collect"].ID, args), nil
}

// withSelector prefixes args with the remapped selector for fn if the
// signal carries an obfuscation table, otherwise the canonical selector.
// This is the dispatch point the design notes describe as a tagged
// variant on presence of a remap, not an inheritance hierarchy.
func withSelector(selectorMapping map[string][4]byte, fn string, canonical []byte, args []byte) []byte {
	selector := canonical
	if remap, ok := selectorMapping[fn]; ok {
		selector = remap[:]
	}
	out := make([]byte, 0, len(selector)+len(args))
	out = append(out, selector...)
	out = append(out, args...)
	return out
}

// selectorTableComplete reports whether selectorMapping supplies non-zero
// mappings for every required function, as ValidateContract requires for
// obfuscated contracts.
func selectorTableComplete(selectorMapping map[string][4]byte) bool {
	if selectorMapping == nil {
		return false
	}
	var zero [4]byte
	for _, fn := range requiredFunctions {
		sel, ok := selectorMapping[fn]
		if !ok || sel == zero {
			return false
		}
	}
	return true
}
