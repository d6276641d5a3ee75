package wallet

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func newTestKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return key
}

func TestSignBitcoinLikeTxFundingInput(t *testing.T) {
	key := newTestKey(t)
	w := &Wallet{}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{}})
	tx.AddTxOut(wire.NewTxOut(1000, []byte{}))

	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))

	signed, err := w.signBitcoinLikeTx(buf.Bytes(), []int64{2000}, key)
	require.NoError(t, err)

	var out wire.MsgTx
	require.NoError(t, out.Deserialize(bytes.NewReader(signed)))
	require.Len(t, out.TxIn[0].Witness, 2)
	require.Equal(t, key.PubKey().SerializeCompressed(), []byte(out.TxIn[0].Witness[1]))
	require.NotEmpty(t, out.TxIn[0].Witness[0])
}

func TestSignBitcoinLikeTxHTLCInputFillsSignaturePlaceholder(t *testing.T) {
	key := newTestKey(t)
	w := &Wallet{}

	script, err := txscript.NewScriptBuilder().AddOp(txscript.OP_TRUE).Script()
	require.NoError(t, err)

	tx := wire.NewMsgTx(wire.TxVersion)
	in := &wire.TxIn{PreviousOutPoint: wire.OutPoint{}}
	in.Witness = wire.TxWitness{nil, []byte{}, script}
	tx.AddTxIn(in)
	tx.AddTxOut(wire.NewTxOut(1000, []byte{}))

	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))

	signed, err := w.signBitcoinLikeTx(buf.Bytes(), []int64{2000}, key)
	require.NoError(t, err)

	var out wire.MsgTx
	require.NoError(t, out.Deserialize(bytes.NewReader(signed)))
	require.Len(t, out.TxIn[0].Witness, 3)
	require.NotEmpty(t, out.TxIn[0].Witness[0])
	require.Empty(t, []byte(out.TxIn[0].Witness[1]))
	require.Equal(t, script, []byte(out.TxIn[0].Witness[2]))
}

func TestSignBitcoinLikeTxRejectsAmountMismatch(t *testing.T) {
	key := newTestKey(t)
	w := &Wallet{}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{}})

	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))

	_, err := w.signBitcoinLikeTx(buf.Bytes(), []int64{}, key)
	require.Error(t, err)
}

func TestP2wpkhScriptCodeDeterministic(t *testing.T) {
	key := newTestKey(t)
	s1, err := p2wpkhScriptCode(key)
	require.NoError(t, err)
	s2, err := p2wpkhScriptCode(key)
	require.NoError(t, err)
	require.Equal(t, s1, s2)
	require.NotEmpty(t, s1)
}
