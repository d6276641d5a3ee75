package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/flowswap/lp-node/internal/core/domain"
	"github.com/flowswap/lp-node/internal/core/ports"
	"github.com/flowswap/lp-node/pkg/chainclient/btcclient"
	"github.com/flowswap/lp-node/pkg/chainclient/evmclient"
	"github.com/flowswap/lp-node/pkg/chainclient/m1client"
	"github.com/flowswap/lp-node/pkg/htlc/btc3s"
	"github.com/flowswap/lp-node/pkg/htlc/evmhtlc"
	"github.com/flowswap/lp-node/pkg/htlc/m1htlc"
)

// Config wires a Wallet to the chain clients and network parameters its
// per-leg coin selection and address derivation need.
type Config struct {
	BTCClient *btcclient.Client
	M1Client  *m1client.Client
	EVMClient *evmclient.Client

	BTCNet *chaincfg.Params
	M1Net  *chaincfg.Params

	EVMChainID     int64
	EVMHTLCAddress common.Address
	EVMUSDCAddress common.Address

	Keys *KeyDir
}

// Wallet implements ports.Wallet and ports.Signer against the LP's own
// single-key BTC/M1/EVM custody.
type Wallet struct {
	btc *btcclient.Client
	m1  *m1client.Client
	evm *evmclient.Client

	btcNet *chaincfg.Params
	m1Net  *chaincfg.Params

	evmChainID     int64
	evmHTLCAddress common.Address
	evmUSDCAddress common.Address

	btcKey *btcec.PrivateKey
	m1Key  *btcec.PrivateKey
	evmKey *ecdsa.PrivateKey

	btcAddr btcutil.Address
	m1Addr  btcutil.Address
	evmAddr common.Address

	log *logrus.Entry
}

// New builds a Wallet from cfg, deriving the LP's own P2WPKH payout
// addresses on BTC/M1 and its EVM account address from the loaded keys.
func New(cfg Config) (*Wallet, error) {
	btcAddr, err := p2wpkhAddress(cfg.Keys.BTC, cfg.BTCNet)
	if err != nil {
		return nil, fmt.Errorf("wallet: deriving btc payout address: %w", err)
	}
	m1Addr, err := p2wpkhAddress(cfg.Keys.M1, cfg.M1Net)
	if err != nil {
		return nil, fmt.Errorf("wallet: deriving m1 payout address: %w", err)
	}

	return &Wallet{
		btc:        cfg.BTCClient,
		m1:         cfg.M1Client,
		evm:        cfg.EVMClient,
		btcNet:     cfg.BTCNet,
		m1Net:      cfg.M1Net,
		evmChainID:     cfg.EVMChainID,
		evmHTLCAddress: cfg.EVMHTLCAddress,
		evmUSDCAddress: cfg.EVMUSDCAddress,
		btcKey:         cfg.Keys.BTC,
		m1Key:      cfg.Keys.M1,
		evmKey:     cfg.Keys.EVM,
		btcAddr:    btcAddr,
		m1Addr:     m1Addr,
		evmAddr:    ethcrypto.PubkeyToAddress(cfg.Keys.EVM.PublicKey),
		log:        logrus.WithField("component", "wallet"),
	}, nil
}

func p2wpkhAddress(key *btcec.PrivateKey, net *chaincfg.Params) (btcutil.Address, error) {
	pubkeyHash := btcutil.Hash160(key.PubKey().SerializeCompressed())
	return btcutil.NewAddressWitnessPubKeyHash(pubkeyHash, net)
}

var (
	_ ports.Wallet = (*Wallet)(nil)
	_ ports.Signer = (*Wallet)(nil)
)

// Pubkey returns the LP's compressed secp256k1 pubkey for BTC/M1, or its
// 20-byte EVM address, used as claim or refund party on leg.
func (w *Wallet) Pubkey(ctx context.Context, leg domain.LegKind) ([]byte, error) {
	switch leg {
	case domain.LegBTC:
		return w.btcKey.PubKey().SerializeCompressed(), nil
	case domain.LegM1:
		return w.m1Key.PubKey().SerializeCompressed(), nil
	case domain.LegEVM:
		return w.evmAddr.Bytes(), nil
	default:
		return nil, fmt.Errorf("wallet: unknown leg %s", leg)
	}
}

// PayoutAddress returns the destination a claim or refund on leg should pay
// the LP's own funds back to.
func (w *Wallet) PayoutAddress(ctx context.Context, leg domain.LegKind) (string, error) {
	switch leg {
	case domain.LegBTC:
		return w.btcAddr.EncodeAddress(), nil
	case domain.LegM1:
		return w.m1Addr.EncodeAddress(), nil
	case domain.LegEVM:
		return w.evmAddr.Hex(), nil
	default:
		return "", fmt.Errorf("wallet: unknown leg %s", leg)
	}
}

// Balance returns the LP's current spendable balance on leg.
func (w *Wallet) Balance(ctx context.Context, leg domain.LegKind) (int64, error) {
	switch leg {
	case domain.LegBTC:
		return w.btc.Balance(ctx)
	case domain.LegM1:
		return w.m1.Balance(ctx)
	case domain.LegEVM:
		return w.evm.ERC20Balance(ctx, w.evmUSDCAddress, w.evmAddr)
	default:
		return 0, fmt.Errorf("wallet: unknown leg %s", leg)
	}
}

// FundInputsFor selects spendable inputs covering amount (plus estimated
// fee) and returns them in the shape the leg's htlc codec expects.
func (w *Wallet) FundInputsFor(ctx context.Context, leg domain.LegKind, amount int64, recipient []byte) (any, []int64, error) {
	switch leg {
	case domain.LegBTC:
		return w.selectBTCInputs(ctx, amount)
	case domain.LegM1:
		return w.selectM1Inputs(ctx, amount)
	case domain.LegEVM:
		if len(recipient) != 20 {
			return nil, nil, fmt.Errorf("wallet: evm recipient must be a 20-byte address, got %d bytes", len(recipient))
		}
		return &evmhtlc.CreateArgs{
			Sender:    w.evmAddr,
			Recipient: common.BytesToAddress(recipient),
		}, nil, nil
	default:
		return nil, nil, fmt.Errorf("wallet: unknown leg %s", leg)
	}
}

// selectBTCInputs greedily selects UTXOs by descending value until the
// running total covers amount plus a fee estimate for the resulting input
// count, mirroring a simple largest-first coin selection.
func (w *Wallet) selectBTCInputs(ctx context.Context, amount int64) ([]btc3s.Input, []int64, error) {
	utxos, err := w.btc.ListUnspent(ctx)
	if err != nil {
		return nil, nil, err
	}
	feeRate, err := w.btc.FeeEstimate(ctx)
	if err != nil {
		return nil, nil, err
	}
	selected, err := selectUTXOs(utxos, amount, feeRate)
	if err != nil {
		return nil, nil, err
	}

	inputs := make([]btc3s.Input, len(selected))
	amounts := make([]int64, len(selected))
	for i, u := range selected {
		inputs[i] = btc3s.Input{
			Outpoint:    u.Outpoint,
			Value:       u.Value,
			PkScript:    u.PkScript,
			ChangeAddr:  w.btcAddr,
			FeeRateSats: feeRate,
		}
		amounts[i] = u.Value
	}
	return inputs, amounts, nil
}

func (w *Wallet) selectM1Inputs(ctx context.Context, amount int64) ([]m1htlc.Input, []int64, error) {
	utxos, err := w.m1.ListUnspent(ctx)
	if err != nil {
		return nil, nil, err
	}
	feeRate, err := w.m1.FeeEstimate(ctx)
	if err != nil {
		return nil, nil, err
	}
	selected, err := selectM1UTXOs(utxos, amount, feeRate)
	if err != nil {
		return nil, nil, err
	}

	inputs := make([]m1htlc.Input, len(selected))
	amounts := make([]int64, len(selected))
	for i, u := range selected {
		inputs[i] = m1htlc.Input{
			Outpoint:   u.Outpoint,
			Value:      u.Value,
			ChangeAddr: w.m1Addr,
			FeeRate:    feeRate,
		}
		amounts[i] = u.Value
	}
	return inputs, amounts, nil
}

// selectUTXOs picks the fewest largest-first BTC UTXOs whose total covers
// amount plus the estimated fee for the resulting input/output count.
func selectUTXOs(utxos []btcclient.UTXO, amount, feeRate int64) ([]btcclient.UTXO, error) {
	sort.Slice(utxos, func(i, j int) bool { return utxos[i].Value > utxos[j].Value })
	var (
		selected []btcclient.UTXO
		total    int64
	)
	for _, u := range utxos {
		selected = append(selected, u)
		total += u.Value
		fee := feeRate * int64(100+len(selected)*150)
		if total >= amount+fee {
			return selected, nil
		}
	}
	return nil, fmt.Errorf("wallet: insufficient btc utxos for amount %d (have %d across %d utxos)", amount, total, len(utxos))
}

func selectM1UTXOs(utxos []m1client.UTXO, amount, feeRate int64) ([]m1client.UTXO, error) {
	sort.Slice(utxos, func(i, j int) bool { return utxos[i].Value > utxos[j].Value })
	var (
		selected []m1client.UTXO
		total    int64
	)
	for _, u := range utxos {
		selected = append(selected, u)
		total += u.Value
		fee := feeRate * int64(100+len(selected)*150)
		if total >= amount+fee {
			return selected, nil
		}
	}
	return nil, fmt.Errorf("wallet: insufficient m1 utxos for amount %d (have %d across %d utxos)", amount, total, len(utxos))
}
