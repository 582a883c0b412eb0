// Package common holds the small shared types this tree's every other
// package depends on: hashes, the capacity enum, and the generic cache
// wrapper. Kept deliberately tiny, just the slice this domain needs.
package common

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HashLength is the byte length of every block_hash, previous_hash and
// merkle_root in this system.
const HashLength = 32

// ZeroHash is the all-zero 64-hex-char previous_hash genesis uses.
var ZeroHash = Hash{}

// Hash is a fixed-size content digest, hex-encoded on the wire.
type Hash [HashLength]byte

// HexToHash decodes a lowercase (or mixed-case) hex string into a Hash. It
// returns an error if the string is not valid hex or is not exactly
// HashLength bytes once decoded.
func HexToHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("not valid hex: %w", err)
	}
	if len(b) != HashLength {
		return h, fmt.Errorf("wrong length: got %d bytes, want %d", len(b), HashLength)
	}
	copy(h[:], b)
	return h, nil
}

// MustHexToHash is HexToHash but panics on error; reserved for constants
// known at compile time (e.g. a configured genesis hash parsed once at
// startup, where a bad value should fail fast and loud).
func MustHexToHash(s string) Hash {
	h, err := HexToHash(s)
	if err != nil {
		panic(err)
	}
	return h
}

func (h Hash) Hex() string { return hex.EncodeToString(h[:]) }

func (h Hash) String() string { return h.Hex() }

func (h Hash) IsZero() bool { return h == Hash{} }

func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Hex())
}

func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := HexToHash(s)
	if err != nil {
		return err
	}
	*h = decoded
	return nil
}
