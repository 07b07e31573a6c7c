// Package core defines the block, transaction and action model shared by the
// store, engine and renderer subsystems: content-addressed, canonically
// serializable records with deterministic ordering, generalized from an
// account/UTXO ledger to a signer+nonce+actions one.
package core

import (
	"encoding/hex"
	"errors"
)

// Address is a 20-byte identity derived from a public key.
type Address [20]byte

func (a Address) String() string { return hex.EncodeToString(a[:]) }

// AddressFromHex parses the lowercase-hex form produced by String.
func AddressFromHex(s string) (Address, error) {
	var a Address
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, err
	}
	if len(b) != len(a) {
		return a, errors.New("core: address must be 20 bytes")
	}
	copy(a[:], b)
	return a, nil
}

// ZeroAddress is the all-zero address, used where "no miner" is distinct
// from an unset field.
var ZeroAddress Address

// HashDigest is a 32-byte SHA-256 digest. It addresses both blocks and
// transaction payloads.
type HashDigest [32]byte

func (h HashDigest) String() string { return hex.EncodeToString(h[:]) }
func (h HashDigest) IsZero() bool   { return h == HashDigest{} }

// HashFromHex parses the lowercase-hex form produced by String.
func HashFromHex(s string) (HashDigest, error) {
	var h HashDigest
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != len(h) {
		return h, errors.New("core: hash must be 32 bytes")
	}
	copy(h[:], b)
	return h, nil
}

// TxId is the HashDigest of a transaction's canonical (signed) encoding.
type TxId = HashDigest

// ChainId is a 128-bit opaque identifier distinguishing chain views that
// share the underlying block/tx storage.
type ChainId [16]byte

func (c ChainId) String() string { return hex.EncodeToString(c[:]) }
func (c ChainId) IsZero() bool   { return c == ChainId{} }

// StateKey identifies a slot in the per-key world state: lowercase hex of an
// Address, or any other string naming a state slot.
type StateKey string

// TimestampLayout is the canonical UTC timestamp format used on the wire.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"
