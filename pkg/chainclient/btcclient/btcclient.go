// Package btcclient is the thin, pure-I/O BTC chain client: broadcast,
// query block/tx/fee-estimate, built on btcsuite/btcd/rpcclient, the same
// broadcast/query role an Esplora HTTP client would fill.
package btcclient

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"

	"github.com/flowswap/lp-node/internal/core/ports"
)

// Client implements ports.ChainClient against a btcd/bitcoind-compatible RPC endpoint.
type Client struct {
	rpc *rpcclient.Client
}

// Config is the RPC connection configuration.
type Config struct {
	Host         string
	User         string
	Pass         string
	DisableTLS   bool
}

// New dials the RPC endpoint described by cfg.
func New(cfg Config) (*Client, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   cfg.DisableTLS,
	}
	rpc, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("btcclient: connecting to %s: %w", cfg.Host, err)
	}
	return &Client{rpc: rpc}, nil
}

var _ ports.ChainClient = (*Client)(nil)

// Tip returns the current best block.
func (c *Client) Tip(ctx context.Context) (ports.BlockRef, error) {
	hash, height, err := c.rpc.GetBestBlock()
	if err != nil {
		return ports.BlockRef{}, fmt.Errorf("btcclient: GetBestBlock: %w", err)
	}
	return ports.BlockRef{Height: int64(height), Hash: hash.String()}, nil
}

// BroadcastTx submits a raw signed transaction and returns its id.
func (c *Client) BroadcastTx(ctx context.Context, raw []byte) (string, error) {
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return "", fmt.Errorf("btcclient: deserializing tx: %w", err)
	}
	hash, err := c.rpc.SendRawTransaction(&tx, false)
	if err != nil {
		return "", fmt.Errorf("btcclient: SendRawTransaction: %w", err)
	}
	return hash.String(), nil
}

// FeeEstimate returns an estimated sats/vbyte fee rate.
func (c *Client) FeeEstimate(ctx context.Context) (int64, error) {
	feeRate, err := c.rpc.EstimateFee(2)
	if err != nil {
		return 0, fmt.Errorf("btcclient: EstimateFee: %w", err)
	}
	// EstimateFee returns BTC/kB; convert to sats/vbyte.
	satsPerVByte := int64(feeRate * 1e8 / 1000)
	if satsPerVByte < 1 {
		satsPerVByte = 1
	}
	return satsPerVByte, nil
}

// TxConfirmations returns how many blocks have confirmed txID.
func (c *Client) TxConfirmations(ctx context.Context, txID string) (int64, error) {
	hash, err := chainhash.NewHashFromStr(txID)
	if err != nil {
		return 0, fmt.Errorf("btcclient: parsing txid %s: %w", txID, err)
	}
	info, err := c.rpc.GetTransaction(hash)
	if err != nil {
		return 0, fmt.Errorf("btcclient: GetTransaction: %w", err)
	}
	return info.Confirmations, nil
}

// RawTx returns the raw bytes of a transaction by id.
func (c *Client) RawTx(ctx context.Context, txID string) ([]byte, error) {
	hash, err := chainhash.NewHashFromStr(txID)
	if err != nil {
		return nil, fmt.Errorf("btcclient: parsing txid %s: %w", txID, err)
	}
	tx, err := c.rpc.GetRawTransaction(hash)
	if err != nil {
		return nil, fmt.Errorf("btcclient: GetRawTransaction: %w", err)
	}
	var buf bytes.Buffer
	if err := tx.MsgTx().Serialize(&buf); err != nil {
		return nil, fmt.Errorf("btcclient: serializing tx: %w", err)
	}
	return buf.Bytes(), nil
}

// UTXO is one spendable output the wallet's coin selection can choose from.
type UTXO struct {
	Outpoint wire.OutPoint
	Value    int64 // sats
	PkScript []byte
	Address  string
}

// ListUnspent returns every UTXO the wallet backing this RPC connection
// knows about with at least one confirmation.
func (c *Client) ListUnspent(ctx context.Context) ([]UTXO, error) {
	results, err := c.rpc.ListUnspentMin(1)
	if err != nil {
		return nil, fmt.Errorf("btcclient: ListUnspentMin: %w", err)
	}
	out := make([]UTXO, 0, len(results))
	for _, r := range results {
		hash, err := chainhash.NewHashFromStr(r.TxID)
		if err != nil {
			return nil, fmt.Errorf("btcclient: parsing utxo txid %s: %w", r.TxID, err)
		}
		pkScript, err := hex.DecodeString(r.ScriptPubKey)
		if err != nil {
			return nil, fmt.Errorf("btcclient: decoding utxo pkscript: %w", err)
		}
		out = append(out, UTXO{
			Outpoint: wire.OutPoint{Hash: *hash, Index: r.Vout},
			Value:    int64(r.Amount * 1e8),
			PkScript: pkScript,
			Address:  r.Address,
		})
	}
	return out, nil
}

// Balance sums every confirmed UTXO's value.
func (c *Client) Balance(ctx context.Context) (int64, error) {
	utxos, err := c.ListUnspent(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, u := range utxos {
		total += u.Value
	}
	return total, nil
}

// BlockTxs returns the block hash at height and the raw serialized bytes of
// every transaction it contains, for btcwatch's forward-scanning loop.
func (c *Client) BlockTxs(ctx context.Context, height int64) (string, [][]byte, error) {
	blockHash, err := c.rpc.GetBlockHash(height)
	if err != nil {
		return "", nil, fmt.Errorf("btcclient: GetBlockHash(%d): %w", height, err)
	}
	block, err := c.rpc.GetBlock(blockHash)
	if err != nil {
		return "", nil, fmt.Errorf("btcclient: GetBlock: %w", err)
	}
	raws := make([][]byte, 0, len(block.Transactions))
	for _, tx := range block.Transactions {
		var buf bytes.Buffer
		if err := tx.Serialize(&buf); err != nil {
			return "", nil, fmt.Errorf("btcclient: serializing block tx: %w", err)
		}
		raws = append(raws, buf.Bytes())
	}
	return blockHash.String(), raws, nil
}
