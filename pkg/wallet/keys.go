// Package wallet is the concrete ports.Wallet and ports.Signer implementation:
// single-key custody for the LP's own BTC/M1 UTXOs and EVM account, coin
// selection over pkg/chainclient's UTXO listings, and BIP143/EIP-155 signing
// that exploits the uniform witness-template convention pkg/htlc's codecs
// build into their unsigned claim/refund transactions.
package wallet

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// KeyDir holds one hex-encoded raw 32-byte secp256k1 private key per chain,
// named btc.key, m1.key, evm.key. Key file layout/formats are a collaborator
// concern; this loader only needs something deterministic to build against.
type KeyDir struct {
	BTC *btcec.PrivateKey
	M1  *btcec.PrivateKey
	EVM *ecdsa.PrivateKey
}

// LoadKeyDir reads btc.key, m1.key, and evm.key from dir.
func LoadKeyDir(dir string) (*KeyDir, error) {
	btcKey, err := loadBTCKey(filepath.Join(dir, "btc.key"))
	if err != nil {
		return nil, fmt.Errorf("wallet: loading btc key: %w", err)
	}
	m1Key, err := loadBTCKey(filepath.Join(dir, "m1.key"))
	if err != nil {
		return nil, fmt.Errorf("wallet: loading m1 key: %w", err)
	}
	evmKey, err := loadEVMKey(filepath.Join(dir, "evm.key"))
	if err != nil {
		return nil, fmt.Errorf("wallet: loading evm key: %w", err)
	}
	return &KeyDir{BTC: btcKey, M1: m1Key, EVM: evmKey}, nil
}

func loadBTCKey(path string) (*btcec.PrivateKey, error) {
	raw, err := readHexKey(path)
	if err != nil {
		return nil, err
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return priv, nil
}

func loadEVMKey(path string) (*ecdsa.PrivateKey, error) {
	raw, err := readHexKey(path)
	if err != nil {
		return nil, err
	}
	priv, err := ethcrypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing secp256k1 key: %w", err)
	}
	return priv, nil
}

func readHexKey(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	hexStr := strings.TrimSpace(string(raw))
	if len(hexStr) != 64 {
		return nil, fmt.Errorf("%s: expected 64 hex chars (32 bytes), got %d", path, len(hexStr))
	}
	key, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("decoding hex key in %s: %w", path, err)
	}
	return key, nil
}
