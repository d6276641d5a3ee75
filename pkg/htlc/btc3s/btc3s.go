// Package btc3s implements the BTC P2WSH three-secret HTLC codec: a
// redeem script whose claim branch verifies three independent SHA-256
// preimages and whose refund branch gates on an absolute-height
// CHECKLOCKTIMEVERIFY, using btcsuite/btcd to build scripts and
// transactions.
package btc3s

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lntypes"

	"github.com/flowswap/lp-node/pkg/htlc"
)

// Input is one UTXO the fund transaction spends from.
type Input struct {
	Outpoint    wire.OutPoint
	Value       int64
	PkScript    []byte
	ChangeAddr  btcutil.Address
	FeeRateSats int64 // sats/vbyte
}

// Codec implements htlc.Descriptor for plain BTC P2WSH 3S HTLCs.
type Codec struct {
	Net *chaincfg.Params
}

// New returns a Codec bound to the given network parameters.
func New(net *chaincfg.Params) *Codec {
	return &Codec{Net: net}
}

// BuildRedeemScript assembles the three-secret witness script:
//
//	OP_IF
//	    OP_SHA256 <H_user> OP_EQUALVERIFY
//	    OP_SHA256 <H_lp1>  OP_EQUALVERIFY
//	    OP_SHA256 <H_lp2>  OP_EQUALVERIFY
//	    <recipient_pubkey> OP_CHECKSIG
//	OP_ELSE
//	    <timelock> OP_CHECKLOCKTIMEVERIFY OP_DROP
//	    <refund_pubkey> OP_CHECKSIG
//	OP_ENDIF
func BuildRedeemScript(p htlc.Params) ([]byte, error) {
	if len(p.RecipientPubkey) != 33 {
		return nil, fmt.Errorf("btc3s: recipient pubkey must be 33-byte compressed, got %d", len(p.RecipientPubkey))
	}
	if len(p.RefundPubkey) != 33 {
		return nil, fmt.Errorf("btc3s: refund pubkey must be 33-byte compressed, got %d", len(p.RefundPubkey))
	}

	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_IF)
	b.AddOp(txscript.OP_SHA256).AddData(p.Hashlocks.HUser[:]).AddOp(txscript.OP_EQUALVERIFY)
	b.AddOp(txscript.OP_SHA256).AddData(p.Hashlocks.HLp1[:]).AddOp(txscript.OP_EQUALVERIFY)
	b.AddOp(txscript.OP_SHA256).AddData(p.Hashlocks.HLp2[:]).AddOp(txscript.OP_EQUALVERIFY)
	b.AddData(p.RecipientPubkey)
	b.AddOp(txscript.OP_CHECKSIG)
	b.AddOp(txscript.OP_ELSE)
	b.AddInt64(p.Timelock)
	b.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)
	b.AddOp(txscript.OP_DROP)
	b.AddData(p.RefundPubkey)
	b.AddOp(txscript.OP_CHECKSIG)
	b.AddOp(txscript.OP_ENDIF)

	return b.Script()
}

// DeriveAddress returns the P2WSH bech32 address for the redeem script.
func (c *Codec) DeriveAddress(p htlc.Params) (string, error) {
	script, err := BuildRedeemScript(p)
	if err != nil {
		return "", err
	}
	witnessProgram := sha256.Sum256(script)
	addr, err := btcutil.NewAddressWitnessScriptHash(witnessProgram[:], c.Net)
	if err != nil {
		return "", fmt.Errorf("btc3s: deriving p2wsh address: %w", err)
	}
	return addr.EncodeAddress(), nil
}

// BuildFundTx spends the given inputs into a single P2WSH output paying the
// HTLC address, with change returned to inputs[0].ChangeAddr.
func (c *Codec) BuildFundTx(p htlc.Params, inputsAny any) (htlc.UnsignedTx, error) {
	inputs, ok := inputsAny.([]Input)
	if !ok || len(inputs) == 0 {
		return nil, fmt.Errorf("btc3s: BuildFundTx requires []btc3s.Input, got %T", inputsAny)
	}

	script, err := BuildRedeemScript(p)
	if err != nil {
		return nil, err
	}
	witnessProgram := sha256.Sum256(script)
	htlcAddr, err := btcutil.NewAddressWitnessScriptHash(witnessProgram[:], c.Net)
	if err != nil {
		return nil, fmt.Errorf("btc3s: deriving p2wsh address: %w", err)
	}
	htlcScript, err := txscript.PayToAddrScript(htlcAddr)
	if err != nil {
		return nil, fmt.Errorf("btc3s: building htlc pkScript: %w", err)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	var totalIn int64
	for _, in := range inputs {
		tx.AddTxIn(wire.NewTxIn(&in.Outpoint, nil, nil))
		totalIn += in.Value
	}
	tx.AddTxOut(wire.NewTxOut(p.Amount, htlcScript))

	feeRate := inputs[0].FeeRateSats
	vsize := estimateVSize(len(inputs), 2)
	fee := feeRate * vsize
	change := totalIn - p.Amount - fee
	if change < 0 {
		return nil, fmt.Errorf("btc3s: insufficient input value: have %d need %d (amount %d + fee %d)", totalIn, p.Amount+fee, p.Amount, fee)
	}
	if change > 0 && inputs[0].ChangeAddr != nil {
		changeScript, err := txscript.PayToAddrScript(inputs[0].ChangeAddr)
		if err != nil {
			return nil, fmt.Errorf("btc3s: building change pkScript: %w", err)
		}
		tx.AddTxOut(wire.NewTxOut(change, changeScript))
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("btc3s: serializing fund tx: %w", err)
	}
	return buf.Bytes(), nil
}

// BuildClaimTx constructs a claim spending the HTLC's claim branch. The
// witness carries the three secrets in declared order ahead of the script:
// <sig> <S_lp2> <S_lp1> <S_user> <1> <script>. The
// signature itself is left for the caller's signer to attach, since it
// depends on the sighash of the exact spending transaction; this returns
// the unsigned transaction with the witness template pre-populated with
// everything except the signature.
func (c *Codec) BuildClaimTx(p htlc.Params, secrets htlc.SecretSet, destination string) (htlc.UnsignedTx, error) {
	return c.buildSpend(p, destination, func(tx *wire.MsgTx, script []byte) error {
		tx.TxIn[0].Witness = wire.TxWitness{
			nil, // signature placeholder, filled in by the signer
			secrets.SLp2[:],
			secrets.SLp1[:],
			secrets.SUser[:],
			[]byte{1},
			script,
		}
		return nil
	})
}

// BuildRefundTx constructs a refund spending the HTLC's refund branch after
// its timelock. The transaction's LockTime is set to the HTLC's timelock so
// CHECKLOCKTIMEVERIFY is satisfiable, per BIP-65.
func (c *Codec) BuildRefundTx(p htlc.Params, destination string) (htlc.UnsignedTx, error) {
	return c.buildSpend(p, destination, func(tx *wire.MsgTx, script []byte) error {
		tx.LockTime = uint32(p.Timelock)
		tx.TxIn[0].Sequence = 0 // must be < 0xffffffff for LockTime to apply
		tx.TxIn[0].Witness = wire.TxWitness{
			nil, // signature placeholder
			[]byte{},
			script,
		}
		return nil
	})
}

func (c *Codec) buildSpend(p htlc.Params, destination string, fillWitness func(*wire.MsgTx, []byte) error) (htlc.UnsignedTx, error) {
	script, err := BuildRedeemScript(p)
	if err != nil {
		return nil, err
	}

	destAddr, err := btcutil.DecodeAddress(destination, c.Net)
	if err != nil {
		return nil, fmt.Errorf("btc3s: decoding destination address: %w", err)
	}
	destScript, err := txscript.PayToAddrScript(destAddr)
	if err != nil {
		return nil, fmt.Errorf("btc3s: building destination pkScript: %w", err)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{}, Sequence: wire.MaxTxInSequenceNum})
	vsize := estimateVSize(1, 1)
	fee := vsize // flat 1 sat/vbyte; no fee estimate is applied to claim/refund spends
	out := p.Amount - fee
	if out <= 0 {
		return nil, fmt.Errorf("btc3s: amount %d too small to cover fee %d", p.Amount, fee)
	}
	tx.AddTxOut(wire.NewTxOut(out, destScript))

	if err := fillWitness(tx, script); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("btc3s: serializing spend tx: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseClaimWitness extracts and verifies the three secrets from a claim
// input's witness stack.
func (c *Codec) ParseClaimWitness(p htlc.Params, raw []byte) (htlc.SecretSet, error) {
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return htlc.SecretSet{}, fmt.Errorf("btc3s: deserializing claim tx: %w", err)
	}
	if len(tx.TxIn) == 0 {
		return htlc.SecretSet{}, fmt.Errorf("btc3s: claim tx has no inputs")
	}
	w := tx.TxIn[0].Witness
	if len(w) != 6 {
		return htlc.SecretSet{}, fmt.Errorf("btc3s: expected 6-element claim witness, got %d", len(w))
	}

	var secrets htlc.SecretSet
	copy(secrets.SLp2[:], w[1])
	copy(secrets.SLp1[:], w[2])
	copy(secrets.SUser[:], w[3])

	for name, pair := range map[string][2][32]byte{
		"S_user": {secrets.SUser, p.Hashlocks.HUser},
		"S_lp1":  {secrets.SLp1, p.Hashlocks.HLp1},
		"S_lp2":  {secrets.SLp2, p.Hashlocks.HLp2},
	} {
		if !htlc.VerifySecret(pair[0], pair[1]) {
			return htlc.SecretSet{}, fmt.Errorf("btc3s: %s: %w", name, htlc.ErrHashlockMismatch)
		}
	}
	return secrets, nil
}

// ParseFundEvidence locates the output paying the HTLC address inside a
// raw funding transaction and reports its amount and outpoint.
func (c *Codec) ParseFundEvidence(p htlc.Params, raw []byte) (htlc.FundEvidence, error) {
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return htlc.FundEvidence{}, fmt.Errorf("btc3s: deserializing fund tx: %w", err)
	}

	htlcAddr, err := c.DeriveAddress(p)
	if err != nil {
		return htlc.FundEvidence{}, err
	}
	addr, err := btcutil.DecodeAddress(htlcAddr, c.Net)
	if err != nil {
		return htlc.FundEvidence{}, err
	}
	wantScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return htlc.FundEvidence{}, err
	}

	for i, out := range tx.TxOut {
		if bytes.Equal(out.PkScript, wantScript) {
			return htlc.FundEvidence{
				TxID:   tx.TxHash().String(),
				VOut:   uint32(i),
				Amount: out.Value,
			}, nil
		}
	}
	return htlc.FundEvidence{}, fmt.Errorf("btc3s: no output pays the htlc address")
}

// estimateVSize approximates the virtual size of a P2WSH 3S spend with the
// given input/output counts, using lnd's weight-unit conversion.
func estimateVSize(numIn, numOut int) int64 {
	const (
		baseWeight       = 4 * (4 + 4 + 1 + 1) // version, locktime, in/out count varints (approx)
		perInputWeight   = 4 * 41              // outpoint + sequence, non-witness part
		perOutputWeight  = 4 * 31              // value + script len + p2wsh script
		perWitnessWeight = 6 * 100              // six-element witness stack, 3S claim upper bound
	)
	weight := baseWeight + numIn*(perInputWeight+perWitnessWeight) + numOut*perOutputWeight
	return int64(lntypes.WeightUnit(weight).ToVB())
}
