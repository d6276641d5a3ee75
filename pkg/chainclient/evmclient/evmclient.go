// Package evmclient is the thin chain client for the EVM USDC leg, built on
// go-ethereum's ethclient.Client the way the pack's EVM-focused repos dial
// an RPC endpoint and submit raw transactions.
package evmclient

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/flowswap/lp-node/internal/core/ports"
)

// Client implements ports.ChainClient against an EVM JSON-RPC endpoint.
type Client struct {
	eth *ethclient.Client
}

// Dial connects to the EVM node at rpcURL.
func Dial(ctx context.Context, rpcURL string) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("evmclient: dialing %s: %w", rpcURL, err)
	}
	return &Client{eth: eth}, nil
}

var _ ports.ChainClient = (*Client)(nil)

// Tip returns the current chain head.
func (c *Client) Tip(ctx context.Context) (ports.BlockRef, error) {
	header, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return ports.BlockRef{}, fmt.Errorf("evmclient: HeaderByNumber: %w", err)
	}
	return ports.BlockRef{Height: header.Number.Int64(), Hash: header.Hash().Hex()}, nil
}

// BroadcastTx submits an already-signed raw transaction.
func (c *Client) BroadcastTx(ctx context.Context, raw []byte) (string, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return "", fmt.Errorf("evmclient: unmarshaling tx: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		return "", fmt.Errorf("evmclient: SendTransaction: %w", err)
	}
	return tx.Hash().Hex(), nil
}

// FeeEstimate returns the suggested gas price in wei.
func (c *Client) FeeEstimate(ctx context.Context) (int64, error) {
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return 0, fmt.Errorf("evmclient: SuggestGasPrice: %w", err)
	}
	return gasPrice.Int64(), nil
}

// TxConfirmations returns how many blocks have confirmed txID, 0 if pending
// or unknown.
func (c *Client) TxConfirmations(ctx context.Context, txID string) (int64, error) {
	hash := common.HexToHash(txID)
	receipt, err := c.eth.TransactionReceipt(ctx, hash)
	if err != nil {
		return 0, nil
	}
	tip, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("evmclient: HeaderByNumber: %w", err)
	}
	confs := new(big.Int).Sub(tip.Number, receipt.BlockNumber)
	confs.Add(confs, big.NewInt(1))
	if confs.Sign() < 0 {
		return 0, nil
	}
	return confs.Int64(), nil
}

// RawTx returns the RLP-encoded bytes of a transaction by id.
func (c *Client) RawTx(ctx context.Context, txID string) ([]byte, error) {
	hash := common.HexToHash(txID)
	tx, _, err := c.eth.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("evmclient: TransactionByHash: %w", err)
	}
	return tx.MarshalBinary()
}

// Receipt exposes the full transaction receipt, including its event logs.
func (c *Client) Receipt(ctx context.Context, txID string) (*types.Receipt, error) {
	return c.eth.TransactionReceipt(ctx, common.HexToHash(txID))
}

// FilterLogs exposes the underlying log filter for the EVM watcher's
// polling loop.
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return c.eth.FilterLogs(ctx, q)
}

// PendingNonce returns the next nonce the LP's EVM account should use,
// including transactions still in the mempool.
func (c *Client) PendingNonce(ctx context.Context, owner common.Address) (uint64, error) {
	nonce, err := c.eth.PendingNonceAt(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("evmclient: PendingNonceAt: %w", err)
	}
	return nonce, nil
}

// ERC20Balance reads balanceOf(owner) on token via the standard transfer
// selector's sibling accessor, ABI-encoding the call by hand since the node
// only needs this one read and doesn't otherwise carry an ERC-20 binding.
func (c *Client) ERC20Balance(ctx context.Context, token, owner common.Address) (int64, error) {
	selector := crypto.Keccak256([]byte("balanceOf(address)"))[:4]
	data := append(append([]byte{}, selector...), leftPad32(owner.Bytes())...)
	result, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("evmclient: balanceOf(%s): %w", owner.Hex(), err)
	}
	return new(big.Int).SetBytes(result).Int64(), nil
}

func leftPad32(b []byte) []byte {
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

// BlockTxs returns the block hash at height and the RLP-encoded bytes of
// every transaction it contains. evmwatch relies on FilterLogs for
// event detection and uses this only for reorg-hash comparison.
func (c *Client) BlockTxs(ctx context.Context, height int64) (string, [][]byte, error) {
	block, err := c.eth.BlockByNumber(ctx, big.NewInt(height))
	if err != nil {
		return "", nil, fmt.Errorf("evmclient: BlockByNumber(%d): %w", height, err)
	}
	raws := make([][]byte, 0, len(block.Transactions()))
	for _, tx := range block.Transactions() {
		raw, err := tx.MarshalBinary()
		if err != nil {
			return "", nil, fmt.Errorf("evmclient: marshaling block tx: %w", err)
		}
		raws = append(raws, raw)
	}
	return block.Hash().Hex(), raws, nil
}
