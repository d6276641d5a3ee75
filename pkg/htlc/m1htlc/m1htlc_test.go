package m1htlc

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/flowswap/lp-node/pkg/htlc"
)

func testParams() (htlc.Params, htlc.SecretSet) {
	var secrets htlc.SecretSet
	secrets.SUser = sha256.Sum256([]byte("m1-user"))
	secrets.SLp1 = sha256.Sum256([]byte("m1-lp1"))
	secrets.SLp2 = sha256.Sum256([]byte("m1-lp2"))

	recipient := make([]byte, 33)
	recipient[0] = 0x02
	refund := make([]byte, 33)
	refund[0] = 0x03
	refund[1] = 0x01

	return htlc.Params{
		Hashlocks: htlc.HashlockSet{
			HUser: sha256.Sum256(secrets.SUser[:]),
			HLp1:  sha256.Sum256(secrets.SLp1[:]),
			HLp2:  sha256.Sum256(secrets.SLp2[:]),
		},
		RecipientPubkey: recipient,
		RefundPubkey:    refund,
		Timelock:        12345,
		Amount:          50_000,
	}, secrets
}

func TestBuildRedeemScriptUsesOpcodeTable(t *testing.T) {
	p, _ := testParams()
	c := New(&chaincfg.RegressionNetParams, DefaultOpcodes)

	script, err := c.BuildRedeemScript(p)
	require.NoError(t, err)
	require.Equal(t, DefaultOpcodes.OpIF, script[0])
	require.Equal(t, DefaultOpcodes.OpEndIf, script[len(script)-1])
}

func TestBuildRedeemScriptCustomOpcodes(t *testing.T) {
	p, _ := testParams()
	custom := DefaultOpcodes
	custom.OpIF = 0x99
	c := New(&chaincfg.RegressionNetParams, custom)

	script, err := c.BuildRedeemScript(p)
	require.NoError(t, err)
	require.Equal(t, byte(0x99), script[0])
}

func TestDeriveAddressDeterministic(t *testing.T) {
	p, _ := testParams()
	c := New(&chaincfg.RegressionNetParams, DefaultOpcodes)

	a1, err := c.DeriveAddress(p)
	require.NoError(t, err)
	a2, err := c.DeriveAddress(p)
	require.NoError(t, err)
	require.Equal(t, a1, a2)
}

func TestClaimAndRefundWitnessRoundTrip(t *testing.T) {
	p, secrets := testParams()
	c := New(&chaincfg.RegressionNetParams, DefaultOpcodes)
	dest := "bcrt1qw508d6qejxtdg4y5r3zarvary0c5xw7kygt080"

	claimRaw, err := c.BuildClaimTx(p, secrets, dest)
	require.NoError(t, err)
	got, err := c.ParseClaimWitness(p, claimRaw)
	require.NoError(t, err)
	require.Equal(t, secrets, got)

	refundRaw, err := c.BuildRefundTx(p, dest)
	require.NoError(t, err)
	var tx wire.MsgTx
	require.NoError(t, tx.Deserialize(bytes.NewReader(refundRaw)))
	require.Equal(t, uint32(p.Timelock), tx.LockTime)
}

func TestParseClaimWitnessRejectsBadSecret(t *testing.T) {
	p, secrets := testParams()
	c := New(&chaincfg.RegressionNetParams, DefaultOpcodes)
	dest := "bcrt1qw508d6qejxtdg4y5r3zarvary0c5xw7kygt080"

	secrets.SLp1[0] ^= 0xff
	raw, err := c.BuildClaimTx(p, secrets, dest)
	require.NoError(t, err)

	_, err = c.ParseClaimWitness(p, raw)
	require.ErrorIs(t, err, htlc.ErrHashlockMismatch)
}

func TestPushDataMinimalEncoding(t *testing.T) {
	require.Equal(t, []byte{0x03, 1, 2, 3}, pushData([]byte{1, 2, 3}))

	big := make([]byte, 0x4c)
	encoded := pushData(big)
	require.Equal(t, byte(0x4c), encoded[0])
	require.Equal(t, byte(0x4c), encoded[1])
}

func TestPushIntZero(t *testing.T) {
	require.Equal(t, []byte{0x00}, pushInt(0))
}
