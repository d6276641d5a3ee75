// Package evmhtlc implements the EVM side of the three-secret HTLC codec:
// ABI encoding of create/claim/refund calldata and decoding of the
// HTLCCreated/HTLCClaimed/HTLCRefunded events, against the HTLC3S contract
// ABI. The contract hashes with SHA-256, not keccak, so its
// preimages stay homomorphic with the BTC/M1 scripts.
package evmhtlc

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/flowswap/lp-node/pkg/htlc"
)

// contractABI is the HTLC3S interface: create/claim/refund/getHTLC plus the
// three events, matching the Solidity source this protocol deploys.
const contractABI = `[
  {"type":"function","name":"create","stateMutability":"nonpayable",
   "inputs":[{"name":"recipient","type":"address"},{"name":"token","type":"address"},
             {"name":"amount","type":"uint256"},{"name":"H_user","type":"bytes32"},
             {"name":"H_lp1","type":"bytes32"},{"name":"H_lp2","type":"bytes32"},
             {"name":"timelock","type":"uint256"}],
   "outputs":[{"name":"htlcId","type":"bytes32"}]},
  {"type":"function","name":"claim","stateMutability":"nonpayable",
   "inputs":[{"name":"htlcId","type":"bytes32"},{"name":"S_user","type":"bytes32"},
             {"name":"S_lp1","type":"bytes32"},{"name":"S_lp2","type":"bytes32"}],
   "outputs":[]},
  {"type":"function","name":"refund","stateMutability":"nonpayable",
   "inputs":[{"name":"htlcId","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"getHTLC","stateMutability":"view",
   "inputs":[{"name":"htlcId","type":"bytes32"}],
   "outputs":[{"name":"sender","type":"address"},{"name":"recipient","type":"address"},
              {"name":"token","type":"address"},{"name":"amount","type":"uint256"},
              {"name":"H_user","type":"bytes32"},{"name":"H_lp1","type":"bytes32"},
              {"name":"H_lp2","type":"bytes32"},{"name":"timelock","type":"uint256"},
              {"name":"claimed","type":"bool"},{"name":"refunded","type":"bool"}]},
  {"type":"event","name":"HTLCCreated","anonymous":false,
   "inputs":[{"name":"htlcId","type":"bytes32","indexed":true},
             {"name":"sender","type":"address","indexed":true},
             {"name":"recipient","type":"address","indexed":true},
             {"name":"token","type":"address","indexed":false},
             {"name":"amount","type":"uint256","indexed":false},
             {"name":"H_user","type":"bytes32","indexed":false},
             {"name":"H_lp1","type":"bytes32","indexed":false},
             {"name":"H_lp2","type":"bytes32","indexed":false},
             {"name":"timelock","type":"uint256","indexed":false}]},
  {"type":"event","name":"HTLCClaimed","anonymous":false,
   "inputs":[{"name":"htlcId","type":"bytes32","indexed":true},
             {"name":"S_user","type":"bytes32","indexed":false},
             {"name":"S_lp1","type":"bytes32","indexed":false},
             {"name":"S_lp2","type":"bytes32","indexed":false}]},
  {"type":"event","name":"HTLCRefunded","anonymous":false,
   "inputs":[{"name":"htlcId","type":"bytes32","indexed":true}]}
]`

// ABI is the parsed contract interface, built once at package init.
var ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		panic(fmt.Sprintf("evmhtlc: parsing embedded ABI: %v", err))
	}
	ABI = parsed
}

// Codec implements htlc.Descriptor against a deployed HTLC3S contract.
type Codec struct {
	ContractAddress common.Address
	TokenAddress    common.Address
}

// New returns a Codec bound to a deployed HTLC3S contract and its ERC-20 token.
func New(contract, token common.Address) *Codec {
	return &Codec{ContractAddress: contract, TokenAddress: token}
}

// ComputeHTLCID reproduces the contract's htlcId derivation:
// keccak256(abi.encodePacked(sender, recipient, token, amount, H_user, H_lp1, H_lp2, timelock, createdAtBlockTimestamp)).
// The on-chain timestamp is only known once the create transaction mines, so
// this is exposed for verification against an observed HTLCCreated event
// rather than for pre-funding address derivation.
func ComputeHTLCID(sender, recipient, token common.Address, amount *big.Int, p htlc.Params, blockTimestamp int64) common.Hash {
	packed := make([]byte, 0, 20+20+20+32+32+32+32+32+32)
	packed = append(packed, sender.Bytes()...)
	packed = append(packed, recipient.Bytes()...)
	packed = append(packed, token.Bytes()...)
	packed = append(packed, leftPad32(amount.Bytes())...)
	packed = append(packed, p.Hashlocks.HUser[:]...)
	packed = append(packed, p.Hashlocks.HLp1[:]...)
	packed = append(packed, p.Hashlocks.HLp2[:]...)
	packed = append(packed, leftPad32(big.NewInt(p.Timelock).Bytes())...)
	packed = append(packed, leftPad32(big.NewInt(blockTimestamp).Bytes())...)
	return crypto.Keccak256Hash(packed)
}

func leftPad32(b []byte) []byte {
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

// DeriveAddress returns the contract address; EVM HTLCs have no per-leg
// funding address, the htlcId (computed only after create() mines) plays
// that role, so this just surfaces the contract to call.
func (c *Codec) DeriveAddress(p htlc.Params) (string, error) {
	return c.ContractAddress.Hex(), nil
}

// BuildFundTx returns ABI-encoded calldata for create(), given recipient
// and sender addresses passed via inputsAny (a *CreateArgs).
type CreateArgs struct {
	Sender    common.Address
	Recipient common.Address
}

func (c *Codec) BuildFundTx(p htlc.Params, inputsAny any) (htlc.UnsignedTx, error) {
	args, ok := inputsAny.(*CreateArgs)
	if !ok {
		return nil, fmt.Errorf("evmhtlc: BuildFundTx requires *CreateArgs, got %T", inputsAny)
	}
	data, err := ABI.Pack("create",
		args.Recipient,
		c.TokenAddress,
		big.NewInt(p.Amount),
		p.Hashlocks.HUser,
		p.Hashlocks.HLp1,
		p.Hashlocks.HLp2,
		big.NewInt(p.Timelock),
	)
	if err != nil {
		return nil, fmt.Errorf("evmhtlc: packing create calldata: %w", err)
	}
	return data, nil
}

// BuildClaimTx returns ABI-encoded calldata for claim(). destination is the
// hex-encoded htlcId (claim() is permissionless; funds go to the fixed
// recipient recorded at create time).
func (c *Codec) BuildClaimTx(p htlc.Params, secrets htlc.SecretSet, destination string) (htlc.UnsignedTx, error) {
	htlcID := common.HexToHash(destination)
	data, err := ABI.Pack("claim", htlcID, secrets.SUser, secrets.SLp1, secrets.SLp2)
	if err != nil {
		return nil, fmt.Errorf("evmhtlc: packing claim calldata: %w", err)
	}
	return data, nil
}

// BuildRefundTx returns ABI-encoded calldata for refund(). destination is
// the hex-encoded htlcId.
func (c *Codec) BuildRefundTx(p htlc.Params, destination string) (htlc.UnsignedTx, error) {
	htlcID := common.HexToHash(destination)
	data, err := ABI.Pack("refund", htlcID)
	if err != nil {
		return nil, fmt.Errorf("evmhtlc: packing refund calldata: %w", err)
	}
	return data, nil
}

// ParseClaimWitness decodes an HTLCClaimed event log and verifies each
// revealed secret against its declared hashlock. The event includes all
// three preimages directly, unlike BTC/M1 where they must be pulled from
// a witness stack.
func (c *Codec) ParseClaimWitness(p htlc.Params, raw []byte) (htlc.SecretSet, error) {
	var log types.Log
	if err := decodeLog(raw, &log); err != nil {
		return htlc.SecretSet{}, err
	}

	event := struct {
		SUser [32]byte
		SLp1  [32]byte
		SLp2  [32]byte
	}{}
	if err := ABI.UnpackIntoInterface(&event, "HTLCClaimed", log.Data); err != nil {
		return htlc.SecretSet{}, fmt.Errorf("evmhtlc: unpacking HTLCClaimed: %w", err)
	}

	secrets := htlc.SecretSet{SUser: event.SUser, SLp1: event.SLp1, SLp2: event.SLp2}
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

// ParseFundEvidence decodes an HTLCCreated event log.
func (c *Codec) ParseFundEvidence(p htlc.Params, raw []byte) (htlc.FundEvidence, error) {
	var log types.Log
	if err := decodeLog(raw, &log); err != nil {
		return htlc.FundEvidence{}, err
	}
	if len(log.Topics) < 2 {
		return htlc.FundEvidence{}, fmt.Errorf("evmhtlc: HTLCCreated log missing indexed htlcId topic")
	}
	htlcID := log.Topics[1]

	event := struct {
		Token    common.Address
		Amount   *big.Int
		HUser    [32]byte
		HLp1     [32]byte
		HLp2     [32]byte
		Timelock *big.Int
	}{}
	if err := ABI.UnpackIntoInterface(&event, "HTLCCreated", log.Data); err != nil {
		return htlc.FundEvidence{}, fmt.Errorf("evmhtlc: unpacking HTLCCreated: %w", err)
	}

	return htlc.FundEvidence{
		TxID:       log.TxHash.Hex(),
		ContractID: htlcID.Hex(),
		Amount:     event.Amount.Int64(),
	}, nil
}

// decodeLog unmarshals a JSON-encoded types.Log, the []byte form that
// ParseClaimWitness and ParseFundEvidence accept.
func decodeLog(raw []byte, out *types.Log) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("evmhtlc: decoding log envelope: %w", err)
	}
	return nil
}

// ParseClaimEventLog is the typed entry point evmwatch actually uses: it
// receives a *types.Log from ethclient directly rather than round-tripping
// through []byte.
func (c *Codec) ParseClaimEventLog(p htlc.Params, log *types.Log) (htlc.SecretSet, error) {
	event := struct {
		SUser [32]byte
		SLp1  [32]byte
		SLp2  [32]byte
	}{}
	if err := ABI.UnpackIntoInterface(&event, "HTLCClaimed", log.Data); err != nil {
		return htlc.SecretSet{}, fmt.Errorf("evmhtlc: unpacking HTLCClaimed: %w", err)
	}
	secrets := htlc.SecretSet{SUser: event.SUser, SLp1: event.SLp1, SLp2: event.SLp2}
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

// ParseFundEventLog is the typed entry point evmwatch uses for HTLCCreated.
// Topics[0] is the event signature; the indexed htlcId is Topics[1].
func (c *Codec) ParseFundEventLog(log *types.Log) (htlc.FundEvidence, error) {
	if len(log.Topics) < 2 {
		return htlc.FundEvidence{}, fmt.Errorf("evmhtlc: HTLCCreated log missing indexed htlcId topic")
	}
	event := struct {
		Token    common.Address
		Amount   *big.Int
		HUser    [32]byte
		HLp1     [32]byte
		HLp2     [32]byte
		Timelock *big.Int
	}{}
	if err := ABI.UnpackIntoInterface(&event, "HTLCCreated", log.Data); err != nil {
		return htlc.FundEvidence{}, fmt.Errorf("evmhtlc: unpacking HTLCCreated: %w", err)
	}
	return htlc.FundEvidence{
		TxID:       log.TxHash.Hex(),
		ContractID: log.Topics[1].Hex(),
		Amount:     event.Amount.Int64(),
	}, nil
}

// HashSecret computes the SHA-256 hashlock the contract expects for a given
// secret, used by the engine to mint H_lp1/H_lp2.
func HashSecret(secret [32]byte) [32]byte {
	return sha256.Sum256(secret[:])
}
