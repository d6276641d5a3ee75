package evmhtlc

import (
	"crypto/sha256"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/flowswap/lp-node/pkg/htlc"
)

func testParams() (htlc.Params, htlc.SecretSet) {
	var secrets htlc.SecretSet
	secrets.SUser = sha256.Sum256([]byte("evm-user"))
	secrets.SLp1 = sha256.Sum256([]byte("evm-lp1"))
	secrets.SLp2 = sha256.Sum256([]byte("evm-lp2"))

	return htlc.Params{
		Hashlocks: htlc.HashlockSet{
			HUser: sha256.Sum256(secrets.SUser[:]),
			HLp1:  sha256.Sum256(secrets.SLp1[:]),
			HLp2:  sha256.Sum256(secrets.SLp2[:]),
		},
		Timelock: 1_700_000_000,
		Amount:   25_000_000,
	}, secrets
}

func TestDeriveAddressReturnsContract(t *testing.T) {
	contract := common.HexToAddress("0x1111111111111111111111111111111111111111")
	token := common.HexToAddress("0x2222222222222222222222222222222222222222")
	c := New(contract, token)

	addr, err := c.DeriveAddress(htlc.Params{})
	require.NoError(t, err)
	require.Equal(t, contract.Hex(), addr)
}

func TestBuildFundTxPacksCreateCalldata(t *testing.T) {
	contract := common.HexToAddress("0x1111111111111111111111111111111111111111")
	token := common.HexToAddress("0x2222222222222222222222222222222222222222")
	c := New(contract, token)
	p, _ := testParams()

	args := &CreateArgs{
		Sender:    common.HexToAddress("0x3333333333333333333333333333333333333333"),
		Recipient: common.HexToAddress("0x4444444444444444444444444444444444444444"),
	}
	data, err := c.BuildFundTx(p, args)
	require.NoError(t, err)
	require.True(t, len(data) > 4)
	require.Equal(t, ABI.Methods["create"].ID, []byte(data[:4]))
}

func TestBuildFundTxRejectsWrongArgType(t *testing.T) {
	c := New(common.Address{}, common.Address{})
	_, err := c.BuildFundTx(htlc.Params{}, "not-create-args")
	require.Error(t, err)
}

func TestBuildClaimTxPacksClaimCalldata(t *testing.T) {
	c := New(common.Address{}, common.Address{})
	p, secrets := testParams()
	htlcID := common.HexToHash("0xabc")

	data, err := c.BuildClaimTx(p, secrets, htlcID.Hex())
	require.NoError(t, err)
	require.Equal(t, ABI.Methods["claim"].ID, []byte(data[:4]))
}

func TestBuildRefundTxPacksRefundCalldata(t *testing.T) {
	c := New(common.Address{}, common.Address{})
	htlcID := common.HexToHash("0xdef")

	data, err := c.BuildRefundTx(htlc.Params{}, htlcID.Hex())
	require.NoError(t, err)
	require.Equal(t, ABI.Methods["refund"].ID, []byte(data[:4]))
}

func TestParseClaimEventLogRoundTrip(t *testing.T) {
	c := New(common.Address{}, common.Address{})
	p, secrets := testParams()

	packed, err := ABI.Events["HTLCClaimed"].Inputs.NonIndexed().Pack(secrets.SUser, secrets.SLp1, secrets.SLp2)
	require.NoError(t, err)

	log := &types.Log{Data: packed}
	got, err := c.ParseClaimEventLog(p, log)
	require.NoError(t, err)
	require.Equal(t, secrets, got)
}

func TestParseClaimEventLogRejectsBadSecret(t *testing.T) {
	c := New(common.Address{}, common.Address{})
	p, secrets := testParams()
	secrets.SLp2[0] ^= 0xff

	packed, err := ABI.Events["HTLCClaimed"].Inputs.NonIndexed().Pack(secrets.SUser, secrets.SLp1, secrets.SLp2)
	require.NoError(t, err)

	log := &types.Log{Data: packed}
	_, err = c.ParseClaimEventLog(p, log)
	require.ErrorIs(t, err, htlc.ErrHashlockMismatch)
}

func TestParseFundEventLogDecodesCreatedEvent(t *testing.T) {
	c := New(common.Address{}, common.Address{})
	p, _ := testParams()
	token := common.HexToAddress("0x2222222222222222222222222222222222222222")

	packed, err := ABI.Events["HTLCCreated"].Inputs.NonIndexed().Pack(
		token, big.NewInt(p.Amount), p.Hashlocks.HUser, p.Hashlocks.HLp1, p.Hashlocks.HLp2, big.NewInt(p.Timelock),
	)
	require.NoError(t, err)

	htlcID := common.HexToHash("0x01")
	log := &types.Log{Data: packed, Topics: []common.Hash{ABI.Events["HTLCCreated"].ID, htlcID}}

	ev, err := c.ParseFundEventLog(log)
	require.NoError(t, err)
	require.Equal(t, p.Amount, ev.Amount)
	require.Equal(t, htlcID.Hex(), ev.ContractID)
}

func TestParseFundEventLogRejectsMissingTopic(t *testing.T) {
	c := New(common.Address{}, common.Address{})
	_, err := c.ParseFundEventLog(&types.Log{})
	require.Error(t, err)
}

func TestHashSecretMatchesVerifySecret(t *testing.T) {
	var secret [32]byte
	secret[0] = 0x42
	hashlock := HashSecret(secret)
	require.True(t, htlc.VerifySecret(secret, hashlock))
}

func TestDecodeLogRejectsInvalidJSON(t *testing.T) {
	var out types.Log
	err := decodeLog([]byte("not json"), &out)
	require.Error(t, err)

	valid, jerr := json.Marshal(types.Log{})
	require.NoError(t, jerr)
	require.NoError(t, decodeLog(valid, &out))
}
