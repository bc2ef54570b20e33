// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package oracle

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
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// Client is a thin JSON-RPC ChainOracle. It treats the chain purely as a
// black box: one HTTP POST per call, no connection pooling beyond what
// net/http already does, no subscription support. go-ethereum's own
// ethclient pulls in a full rpc.Client dependency surface broader than
// this boundary needs; a hand-rolled caller keeps it honestly external.
type Client struct {
	endpoint string
	http     *http.Client
	nextID   int
}

// NewClient creates a JSON-RPC oracle client against endpoint.
func NewClient(endpoint string) *Client {
	return &Client{endpoint: endpoint, http: &http.Client{Timeout: 30 * time.Second}}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	c.nextID++
	reqBody, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: c.nextID, Method: method, Params: params})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return err
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("oracle: rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, out)
}

// SendTransaction broadcasts a raw, already-signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return common.Hash{}, err
	}
	var hash common.Hash
	err = c.call(ctx, "eth_sendRawTransaction", []interface{}{hexutil.Encode(raw)}, &hash)
	return hash, err
}

// WaitForReceipt polls eth_getTransactionReceipt until the transaction is
// mined or the context is cancelled.
func (c *Client) WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	for {
		var receipt *types.Receipt
		err := c.call(ctx, "eth_getTransactionReceipt", []interface{}{txHash.Hex()}, &receipt)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// Call performs a read-only eth_call. data is already ABI-encoded by the
// caller (choreography or the balance-fetching helper), since the selector
// may be a per-signal remapped one for obfuscated contracts.
func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	callObj := map[string]string{
		"to":   to.Hex(),
		"data": hexutil.Encode(data),
	}
	var result hexutil.Bytes
	err := c.call(ctx, "eth_call", []interface{}{callObj, "latest"}, &result)
	return result, err
}

// BlockByNumber fetches a header by number ("latest" if nil).
func (c *Client) BlockByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	blockParam := "latest"
	if number != nil {
		blockParam = hexutil.EncodeBig(number)
	}
	var header *types.Header
	err := c.call(ctx, "eth_getBlockByNumber", []interface{}{blockParam, false}, &header)
	return header, err
}

// ReceiptsByBlock fetches every receipt in a block via the common
// eth_getBlockReceipts extension.
func (c *Client) ReceiptsByBlock(ctx context.Context, blockHash common.Hash) (types.Receipts, error) {
	var receipts types.Receipts
	err := c.call(ctx, "eth_getBlockReceipts", []interface{}{blockHash.Hex()}, &receipts)
	return receipts, err
}

// NonceAt reads eth_getTransactionCount against the pending block so a
// sequence of sends from the same account doesn't need to wait for each
// one to mine before the next is built.
func (c *Client) NonceAt(ctx context.Context, owner common.Address) (uint64, error) {
	var hexNonce hexutil.Uint64
	err := c.call(ctx, "eth_getTransactionCount", []interface{}{owner.Hex(), "pending"}, &hexNonce)
	return uint64(hexNonce), err
}

// NativeBalance reads eth_getBalance.
func (c *Client) NativeBalance(ctx context.Context, owner common.Address) (*uint256.Int, error) {
	var hexBal hexutil.Big
	err := c.call(ctx, "eth_getBalance", []interface{}{owner.Hex(), "latest"}, &hexBal)
	if err != nil {
		return nil, err
	}
	bal, overflow := uint256.FromBig((*big.Int)(&hexBal))
	if overflow {
		return nil, errors.New("oracle: balance overflows 256 bits")
	}
	return bal, nil
}
