// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package choreography drives the per-signal state machine: validate the
// escrow contract, approve and bond from eoa_1, transfer from eoa_2, build
// a Merkle receipt proof, collect, and acknowledge. Modeled on the struct
// field-mutation style the teacher uses for its auction/campaign state
// transitions rather than a generic FSM library.
package choreography

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/luxfi/relay/pkg/eoa"
	"github.com/luxfi/relay/pkg/log"
	"github.com/luxfi/relay/pkg/merkle"
	"github.com/luxfi/relay/pkg/oracle"
	"github.com/luxfi/relay/pkg/signal"
)

// State names a node in the choreography state machine.
type State string

const (
	StateStart            State = "start"
	StateValidateContract  State = "validate_contract"
	StateApprove           State = "approve"
	StateBond              State = "bond"
	StateTransfer          State = "transfer"
	StateBuildProof        State = "build_proof"
	StateCollect           State = "collect"
	StateAck               State = "ack"
	StateDone              State = "done"
	StateFailed            State = "failed"
)

// Errors returned at each transition, matching the named failure modes.
var (
	ErrAlreadyBonded      = errors.New("choreography: escrow already bonded")
	ErrIncompleteSelectors = errors.New("choreography: obfuscated contract is missing a required selector mapping")
	ErrBondFailed         = errors.New("choreography: bond transaction reverted")
)

// Attempt is the in-memory audit record for one choreography run, kept by
// the orchestrator for observability. It is never persisted.
type Attempt struct {
	ID         uuid.UUID
	SignalHash uint64
	State      State
	TxHashes   map[State]common.Hash
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error
}

func newAttempt(signalHash uint64) *Attempt {
	return &Attempt{
		ID:         uuid.New(),
		SignalHash: signalHash,
		State:      StateStart,
		TxHashes:   make(map[State]common.Hash),
		StartedAt:  time.Now(),
	}
}

// Deps bundles everything Run needs from the outside world.
type Deps struct {
	Oracle  oracle.ChainOracle
	Signer  Signer
	ChainID *big.Int
	Logger  log.Logger
	HTTP    *http.Client
}

// Run executes the full choreography for one signal using the given EOA
// selection, returning the attempt record (populated even on failure) and
// an error if the choreography did not reach Done.
func Run(ctx context.Context, deps Deps, sig *signal.Signal, sel eoa.Selection, signalHash uint64) (*Attempt, error) {
	if deps.Logger == nil {
		deps.Logger = log.NoOp()
	}
	if deps.HTTP == nil {
		deps.HTTP = &http.Client{Timeout: 10 * time.Second}
	}

	attempt := newAttempt(signalHash)
	nonces := make(map[common.Address]uint64)
	fail := func(state State, err error) (*Attempt, error) {
		attempt.State = StateFailed
		attempt.Err = fmt.Errorf("%s: %w", state, err)
		attempt.FinishedAt = time.Now()
		return attempt, attempt.Err
	}

	// ValidateContract
	attempt.State = StateValidateContract
	obfuscated := sig.SelectorMapping != nil
	if obfuscated && !selectorTableComplete(sig.SelectorMapping) {
		return fail(StateValidateContract, ErrIncompleteSelectors)
	}
	bondedRaw, err := deps.Oracle.Call(ctx, sig.Escrow, isBondedCalldata(sig.SelectorMapping))
	if err != nil {
		return fail(StateValidateContract, err)
	}
	if len(bondedRaw) > 0 && bondedRaw[len(bondedRaw)-1] != 0 {
		return fail(StateValidateContract, ErrAlreadyBonded)
	}

	// Approve
	attempt.State = StateApprove
	approveData, err := oracle.ApproveCalldata(sig.Escrow, sel.Bond)
	if err != nil {
		return fail(StateApprove, err)
	}
	approveReceipt, err := sendAndWait(ctx, deps, nonces, sel.EOA1, sig.Token, approveData, &attempt.TxHashes, StateApprove)
	if err != nil {
		return fail(StateApprove, err)
	}
	if approveReceipt.Status == types.ReceiptStatusFailed {
		return fail(StateApprove, errors.New("approve transaction reverted"))
	}

	// Bond
	attempt.State = StateBond
	bondData, err := bondCalldata(sig.SelectorMapping, sel.Bond.ToBig())
	if err != nil {
		return fail(StateBond, err)
	}
	bondReceipt, bondErr := sendAndWait(ctx, deps, nonces, sel.EOA1, sig.Escrow, bondData, &attempt.TxHashes, StateBond)
	if bondErr != nil || bondReceipt.Status == types.ReceiptStatusFailed {
		revokeApproval(ctx, deps, nonces, sig, sel, attempt)
		if bondErr == nil {
			bondErr = ErrBondFailed
		}
		return fail(StateBond, bondErr)
	}

	// Transfer
	attempt.State = StateTransfer
	transferData, err := oracle.TransferCalldata(sig.Recipient, sig.TransferAmount)
	if err != nil {
		return fail(StateTransfer, err)
	}
	transferReceipt, err := sendAndWait(ctx, deps, nonces, sel.EOA2, sig.Token, transferData, &attempt.TxHashes, StateTransfer)
	if err != nil {
		return fail(StateTransfer, err)
	}
	if transferReceipt.Status == types.ReceiptStatusFailed {
		return fail(StateTransfer, errors.New("transfer transaction reverted"))
	}

	// BuildProof
	attempt.State = StateBuildProof
	bundle, err := merkle.BuildProof(ctx, deps.Oracle, transferReceipt, sig)
	if err != nil {
		return fail(StateBuildProof, err)
	}

	// Collect
	attempt.State = StateCollect
	collectData, err := collectCalldata(sig.SelectorMapping, bundle.Encode(), transferReceipt.BlockNumber)
	if err != nil {
		return fail(StateCollect, err)
	}
	collectReceipt, err := sendAndWait(ctx, deps, nonces, sel.EOA1, sig.Escrow, collectData, &attempt.TxHashes, StateCollect)
	if err != nil {
		return fail(StateCollect, err)
	}
	if collectReceipt.Status == types.ReceiptStatusFailed {
		return fail(StateCollect, errors.New("collect transaction reverted"))
	}

	// Ack — best effort, never fails the choreography.
	attempt.State = StateAck
	if sig.AckURL != "" {
		if err := postAck(deps.HTTP, sig, attempt); err != nil {
			deps.Logger.Warn("choreography: acknowledgement POST failed: " + err.Error())
		}
	}

	attempt.State = StateDone
	attempt.FinishedAt = time.Now()
	return attempt, nil
}

// sendAndWait signs, sends and waits for one transaction, recording its
// hash against the given state. nonces caches the next nonce per sender
// across the whole choreography run: every state but Transfer sends from
// eoa_1, so without this cache every send after the first would collide
// on the same on-chain nonce. The cache is seeded from the chain once per
// sender and incremented locally after each send rather than re-queried,
// since sends within one run are always sequential.
func sendAndWait(ctx context.Context, deps Deps, nonces map[common.Address]uint64, from, to common.Address, data []byte, hashes *map[State]common.Hash, state State) (*types.Receipt, error) {
	nonce, ok := nonces[from]
	if !ok {
		var err error
		nonce, err = deps.Oracle.NonceAt(ctx, from)
		if err != nil {
			return nil, fmt.Errorf("choreography: fetching nonce for %s: %w", from, err)
		}
	}
	nonces[from] = nonce + 1

	tx := types.NewTransaction(nonce, to, big.NewInt(0), 200_000, big.NewInt(0), data)
	signed, err := deps.Signer.SignTx(from, tx)
	if err != nil {
		return nil, err
	}
	hash, err := deps.Oracle.SendTransaction(ctx, signed)
	if err != nil {
		return nil, err
	}
	(*hashes)[state] = hash
	return deps.Oracle.WaitForReceipt(ctx, hash)
}

// revokeApproval synthesizes a compensating approve(escrow, 0) after a
// failed bond. Best effort: failure here is logged, never propagated.
func revokeApproval(ctx context.Context, deps Deps, nonces map[common.Address]uint64, sig *signal.Signal, sel eoa.Selection, attempt *Attempt) {
	data, err := oracle.ApproveCalldata(sig.Escrow, uint256.NewInt(0))
	if err != nil {
		deps.Logger.Warn("choreography: failed to build revoke-approval calldata: " + err.Error())
		return
	}
	if _, err := sendAndWait(ctx, deps, nonces, sel.EOA1, sig.Token, data, &attempt.TxHashes, "revoke_approval"); err != nil {
		deps.Logger.Warn("choreography: compensating approve(0) failed: " + err.Error())
	}
}

type ackReceipt struct {
	SignalRecipient string `json:"recipient"`
	TransferAmount  string `json:"transfer_amount"`
	AttemptID       string `json:"attempt_id"`
}

func postAck(client *http.Client, sig *signal.Signal, attempt *Attempt) error {
	body, err := json.Marshal(ackReceipt{
		SignalRecipient: sig.Recipient.Hex(),
		TransferAmount:  sig.TransferAmount.String(),
		AttemptID:       attempt.ID.String(),
	})
	if err != nil {
		return err
	}
	resp, err := client.Post(sig.AckURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("choreography: ack endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
