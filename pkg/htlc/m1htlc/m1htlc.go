// Package m1htlc implements the M1 HTLC codec. M1's script shape is
// structurally identical to the BTC 3S script of pkg/htlc/btc3s; only the
// opcode encoding of the M1 interpreter differs, so this
// codec parameterizes that table rather than duplicating the script logic.
package m1htlc

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"

	"github.com/flowswap/lp-node/pkg/htlc"
)

// OpcodeTable is the subset of opcodes whose byte encoding the M1
// interpreter assigns differently from Bitcoin's. Unlisted opcodes are
// assumed to share Bitcoin's encoding.
type OpcodeTable struct {
	OpIF                   byte
	OpElse                 byte
	OpEndIf                byte
	OpSHA256               byte
	OpEqualVerify          byte
	OpCheckSig             byte
	OpCheckLockTimeVerify  byte
	OpDrop                 byte
}

// DefaultOpcodes mirrors Bitcoin's script opcode encoding; M1 networks with
// a divergent interpreter pass a different table into New.
var DefaultOpcodes = OpcodeTable{
	OpIF:                  0x63,
	OpElse:                0x67,
	OpEndIf:               0x68,
	OpSHA256:              0xa8,
	OpEqualVerify:         0x88,
	OpCheckSig:            0xac,
	OpCheckLockTimeVerify: 0xb1,
	OpDrop:                0x75,
}

// Codec implements htlc.Descriptor for the M1 rail.
type Codec struct {
	Net     *chaincfg.Params
	Opcodes OpcodeTable
}

// New returns a Codec bound to the given network parameters and opcode table.
func New(net *chaincfg.Params, opcodes OpcodeTable) *Codec {
	return &Codec{Net: net, Opcodes: opcodes}
}

// pushData encodes a data push using Bitcoin-script-style minimal push
// opcodes.
func pushData(data []byte) []byte {
	n := len(data)
	switch {
	case n < 0x4c:
		return append([]byte{byte(n)}, data...)
	case n <= 0xff:
		return append([]byte{0x4c, byte(n)}, data...)
	case n <= 0xffff:
		buf := []byte{0x4d, byte(n), byte(n >> 8)}
		return append(buf, data...)
	default:
		buf := []byte{0x4e, byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)}
		return append(buf, data...)
	}
}

// pushInt encodes a minimally-encoded script integer push.
func pushInt(n int64) []byte {
	if n == 0 {
		return []byte{0x00}
	}
	neg := n < 0
	abs := n
	if neg {
		abs = -abs
	}
	var b []byte
	for abs > 0 {
		b = append(b, byte(abs&0xff))
		abs >>= 8
	}
	if b[len(b)-1]&0x80 != 0 {
		if neg {
			b = append(b, 0x80)
		} else {
			b = append(b, 0x00)
		}
	} else if neg {
		b[len(b)-1] |= 0x80
	}
	return pushData(b)
}

// BuildRedeemScript assembles the M1 witness script, identical in shape to
// the BTC 3S script but emitted through the codec's opcode table.
func (c *Codec) BuildRedeemScript(p htlc.Params) ([]byte, error) {
	if len(p.RecipientPubkey) != 33 {
		return nil, fmt.Errorf("m1htlc: recipient pubkey must be 33-byte compressed, got %d", len(p.RecipientPubkey))
	}
	if len(p.RefundPubkey) != 33 {
		return nil, fmt.Errorf("m1htlc: refund pubkey must be 33-byte compressed, got %d", len(p.RefundPubkey))
	}

	op := c.Opcodes
	var s bytes.Buffer
	s.WriteByte(op.OpIF)
	s.WriteByte(op.OpSHA256)
	s.Write(pushData(p.Hashlocks.HUser[:]))
	s.WriteByte(op.OpEqualVerify)
	s.WriteByte(op.OpSHA256)
	s.Write(pushData(p.Hashlocks.HLp1[:]))
	s.WriteByte(op.OpEqualVerify)
	s.WriteByte(op.OpSHA256)
	s.Write(pushData(p.Hashlocks.HLp2[:]))
	s.WriteByte(op.OpEqualVerify)
	s.Write(pushData(p.RecipientPubkey))
	s.WriteByte(op.OpCheckSig)
	s.WriteByte(op.OpElse)
	s.Write(pushInt(p.Timelock))
	s.WriteByte(op.OpCheckLockTimeVerify)
	s.WriteByte(op.OpDrop)
	s.Write(pushData(p.RefundPubkey))
	s.WriteByte(op.OpCheckSig)
	s.WriteByte(op.OpEndIf)

	return s.Bytes(), nil
}

// DeriveAddress returns the P2WSH-shaped address for the redeem script,
// reusing Bitcoin's bech32/witness-program address encoding since M1's
// address format is declared 1:1 compatible with BTC's.
func (c *Codec) DeriveAddress(p htlc.Params) (string, error) {
	script, err := c.BuildRedeemScript(p)
	if err != nil {
		return "", err
	}
	witnessProgram := sha256.Sum256(script)
	addr, err := btcutil.NewAddressWitnessScriptHash(witnessProgram[:], c.Net)
	if err != nil {
		return "", fmt.Errorf("m1htlc: deriving address: %w", err)
	}
	return addr.EncodeAddress(), nil
}

// Input is one M1 UTXO the fund transaction spends from.
type Input struct {
	Outpoint   wire.OutPoint
	Value      int64
	ChangeAddr btcutil.Address
	FeeRate    int64
}

// BuildFundTx, BuildClaimTx, and BuildRefundTx share the BTC leg's
// wire.MsgTx encoding: M1 sats map 1:1 to BTC sats and the UTXO wire format
// is unchanged, only the script interpreter's opcodes differ.
func (c *Codec) BuildFundTx(p htlc.Params, inputsAny any) (htlc.UnsignedTx, error) {
	inputs, ok := inputsAny.([]Input)
	if !ok || len(inputs) == 0 {
		return nil, fmt.Errorf("m1htlc: BuildFundTx requires []m1htlc.Input, got %T", inputsAny)
	}

	htlcAddr, err := c.DeriveAddress(p)
	if err != nil {
		return nil, err
	}
	addr, err := btcutil.DecodeAddress(htlcAddr, c.Net)
	if err != nil {
		return nil, err
	}
	htlcScript, err := addressToScript(addr)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	var totalIn int64
	for _, in := range inputs {
		tx.AddTxIn(wire.NewTxIn(&in.Outpoint, nil, nil))
		totalIn += in.Value
	}
	tx.AddTxOut(wire.NewTxOut(p.Amount, htlcScript))

	fee := inputs[0].FeeRate * 200 // flat vbyte estimate for a single-HTLC-output fund tx
	change := totalIn - p.Amount - fee
	if change < 0 {
		return nil, fmt.Errorf("m1htlc: insufficient input value: have %d need %d", totalIn, p.Amount+fee)
	}
	if change > 0 && inputs[0].ChangeAddr != nil {
		changeScript, err := addressToScript(inputs[0].ChangeAddr)
		if err != nil {
			return nil, err
		}
		tx.AddTxOut(wire.NewTxOut(change, changeScript))
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("m1htlc: serializing fund tx: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *Codec) BuildClaimTx(p htlc.Params, secrets htlc.SecretSet, destination string) (htlc.UnsignedTx, error) {
	return c.buildSpend(p, destination, func(tx *wire.MsgTx, script []byte) {
		tx.TxIn[0].Witness = wire.TxWitness{nil, secrets.SLp2[:], secrets.SLp1[:], secrets.SUser[:], []byte{1}, script}
	})
}

func (c *Codec) BuildRefundTx(p htlc.Params, destination string) (htlc.UnsignedTx, error) {
	return c.buildSpend(p, destination, func(tx *wire.MsgTx, script []byte) {
		tx.LockTime = uint32(p.Timelock)
		tx.TxIn[0].Sequence = 0
		tx.TxIn[0].Witness = wire.TxWitness{nil, []byte{}, script}
	})
}

func (c *Codec) buildSpend(p htlc.Params, destination string, fillWitness func(*wire.MsgTx, []byte)) (htlc.UnsignedTx, error) {
	script, err := c.BuildRedeemScript(p)
	if err != nil {
		return nil, err
	}
	destAddr, err := btcutil.DecodeAddress(destination, c.Net)
	if err != nil {
		return nil, fmt.Errorf("m1htlc: decoding destination: %w", err)
	}
	destScript, err := addressToScript(destAddr)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{Sequence: wire.MaxTxInSequenceNum})
	const fee = 200
	out := p.Amount - fee
	if out <= 0 {
		return nil, fmt.Errorf("m1htlc: amount %d too small to cover fee", p.Amount)
	}
	tx.AddTxOut(wire.NewTxOut(out, destScript))
	fillWitness(tx, script)

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("m1htlc: serializing spend tx: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseClaimWitness mirrors btc3s.Codec.ParseClaimWitness: six witness
// elements, secrets pushed in reverse declared order.
func (c *Codec) ParseClaimWitness(p htlc.Params, raw []byte) (htlc.SecretSet, error) {
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return htlc.SecretSet{}, fmt.Errorf("m1htlc: deserializing claim tx: %w", err)
	}
	if len(tx.TxIn) == 0 || len(tx.TxIn[0].Witness) != 6 {
		return htlc.SecretSet{}, fmt.Errorf("m1htlc: expected 6-element claim witness")
	}
	w := tx.TxIn[0].Witness
	var secrets htlc.SecretSet
	copy(secrets.SLp2[:], w[1])
	copy(secrets.SLp1[:], w[2])
	copy(secrets.SUser[:], w[3])

	checks := [][2][32]byte{
		{secrets.SUser, p.Hashlocks.HUser},
		{secrets.SLp1, p.Hashlocks.HLp1},
		{secrets.SLp2, p.Hashlocks.HLp2},
	}
	for _, pair := range checks {
		if !htlc.VerifySecret(pair[0], pair[1]) {
			return htlc.SecretSet{}, htlc.ErrHashlockMismatch
		}
	}
	return secrets, nil
}

// ParseFundEvidence locates the output paying the HTLC address.
func (c *Codec) ParseFundEvidence(p htlc.Params, raw []byte) (htlc.FundEvidence, error) {
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return htlc.FundEvidence{}, fmt.Errorf("m1htlc: deserializing fund tx: %w", err)
	}
	htlcAddr, err := c.DeriveAddress(p)
	if err != nil {
		return htlc.FundEvidence{}, err
	}
	addr, err := btcutil.DecodeAddress(htlcAddr, c.Net)
	if err != nil {
		return htlc.FundEvidence{}, err
	}
	wantScript, err := addressToScript(addr)
	if err != nil {
		return htlc.FundEvidence{}, err
	}
	for i, out := range tx.TxOut {
		if bytes.Equal(out.PkScript, wantScript) {
			return htlc.FundEvidence{TxID: tx.TxHash().String(), VOut: uint32(i), Amount: out.Value}, nil
		}
	}
	return htlc.FundEvidence{}, fmt.Errorf("m1htlc: no output pays the htlc address")
}

func addressToScript(addr btcutil.Address) ([]byte, error) {
	switch a := addr.(type) {
	case *btcutil.AddressWitnessScriptHash, *btcutil.AddressWitnessPubKeyHash:
		program := a.ScriptAddress()
		return append([]byte{0x00, byte(len(program))}, program...), nil
	default:
		return nil, fmt.Errorf("m1htlc: unsupported address type %T", addr)
	}
}
