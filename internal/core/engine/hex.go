package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

func sha256Of(secret [32]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

func decodeHash32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("decoding hex: %w", err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func encodeHash32(b [32]byte) string {
	return hex.EncodeToString(b[:])
}

func decodePubkey(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(s)
}

func encodePubkey(b []byte) string {
	return hex.EncodeToString(b)
}
