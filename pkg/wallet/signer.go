package wallet

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/flowswap/lp-node/internal/core/domain"
	"github.com/flowswap/lp-node/pkg/htlc"
)

// evmGasLimit is a flat gas ceiling for create/claim/refund calls against the
// HTLC3S contract; all three are simple storage-and-transfer operations well
// under this.
const evmGasLimit = 300_000

// Sign completes unsigned with this leg's signature(s) and returns the
// broadcast-ready transaction or calldata envelope.
func (w *Wallet) Sign(ctx context.Context, leg domain.LegKind, unsigned htlc.UnsignedTx, amounts []int64) ([]byte, error) {
	switch leg {
	case domain.LegBTC:
		return w.signBitcoinLikeTx(unsigned, amounts, w.btcKey)
	case domain.LegM1:
		return w.signBitcoinLikeTx(unsigned, amounts, w.m1Key)
	case domain.LegEVM:
		return w.signEVMTx(ctx, unsigned)
	default:
		return nil, fmt.Errorf("wallet: unknown leg %s", leg)
	}
}

// signBitcoinLikeTx attaches a witness signature to every input of a
// wire.MsgTx. Inputs whose witness is already populated are HTLC
// claim/refund spends built by pkg/htlc/btc3s or m1htlc: by convention
// witness[0] is the nil signature placeholder and the last element is the
// redeem script, so the script is recoverable without any chain-specific
// knowledge. Inputs with no witness are the wallet's own P2WPKH funding
// inputs, scripted against key's pubkey hash.
func (w *Wallet) signBitcoinLikeTx(unsigned htlc.UnsignedTx, amounts []int64, key *btcec.PrivateKey) ([]byte, error) {
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(unsigned)); err != nil {
		return nil, fmt.Errorf("wallet: deserializing unsigned tx: %w", err)
	}
	if len(amounts) != len(tx.TxIn) {
		return nil, fmt.Errorf("wallet: %d amounts for %d inputs", len(amounts), len(tx.TxIn))
	}

	prevOuts := make(map[wire.OutPoint]*wire.TxOut, len(tx.TxIn))
	p2wpkhScript, err := p2wpkhScriptCode(key)
	if err != nil {
		return nil, err
	}
	for i, in := range tx.TxIn {
		prevOuts[in.PreviousOutPoint] = wire.NewTxOut(amounts[i], p2wpkhScript)
	}
	prevFetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(&tx, prevFetcher)

	for i, in := range tx.TxIn {
		if len(in.Witness) > 0 {
			script := in.Witness[len(in.Witness)-1]
			sig, err := signWitness(key, script, sigHashes, &tx, i, amounts[i])
			if err != nil {
				return nil, fmt.Errorf("wallet: signing htlc input %d: %w", i, err)
			}
			in.Witness[0] = sig
			continue
		}
		sig, err := signWitness(key, p2wpkhScript, sigHashes, &tx, i, amounts[i])
		if err != nil {
			return nil, fmt.Errorf("wallet: signing funding input %d: %w", i, err)
		}
		tx.TxIn[i].Witness = wire.TxWitness{sig, key.PubKey().SerializeCompressed()}
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("wallet: serializing signed tx: %w", err)
	}
	return buf.Bytes(), nil
}

func signWitness(key *btcec.PrivateKey, script []byte, sigHashes *txscript.TxSigHashes, tx *wire.MsgTx, idx int, amount int64) ([]byte, error) {
	hash, err := txscript.CalcWitnessSigHash(script, sigHashes, txscript.SigHashAll, tx, idx, amount)
	if err != nil {
		return nil, fmt.Errorf("computing sighash: %w", err)
	}
	sig := btcecdsa.Sign(key, hash)
	return append(sig.Serialize(), byte(txscript.SigHashAll)), nil
}

// p2wpkhScriptCode builds the BIP143 script code for a P2WPKH output
// controlled by key: the classic P2PKH script stands in for the witness
// program itself, per BIP143's scriptCode substitution rule.
func p2wpkhScriptCode(key *btcec.PrivateKey) ([]byte, error) {
	pubkeyHash := btcutil.Hash160(key.PubKey().SerializeCompressed())
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(pubkeyHash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// signEVMTx wraps raw ABI calldata from pkg/htlc/evmhtlc into a full legacy
// transaction addressed to the HTLC3S contract, signs it with EIP-155
// replay protection, and returns its RLP encoding.
func (w *Wallet) signEVMTx(ctx context.Context, calldata htlc.UnsignedTx) ([]byte, error) {
	nonce, err := w.evm.PendingNonce(ctx, w.evmAddr)
	if err != nil {
		return nil, fmt.Errorf("wallet: fetching evm nonce: %w", err)
	}
	gasPrice, err := w.evm.FeeEstimate(ctx)
	if err != nil {
		return nil, fmt.Errorf("wallet: estimating evm gas price: %w", err)
	}

	txdata := &types.LegacyTx{
		Nonce:    nonce,
		To:       &w.evmHTLCAddress,
		Value:    big.NewInt(0),
		Gas:      evmGasLimit,
		GasPrice: big.NewInt(gasPrice),
		Data:     calldata,
	}
	signer := types.NewEIP155Signer(big.NewInt(w.evmChainID))
	signed, err := types.SignNewTx(w.evmKey, signer, txdata)
	if err != nil {
		return nil, fmt.Errorf("wallet: signing evm tx: %w", err)
	}
	return signed.MarshalBinary()
}
