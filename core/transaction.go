package core

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"time"

	"chainkernel/canon"
)

// Transaction is immutable once signed (§3). Signer, nonce and the declared
// updated-address set are all verified by the engine before the containing
// block is accepted.
type Transaction struct {
	Signer           Address
	PublicKey        []byte
	Nonce            int64
	UpdatedAddresses map[Address]struct{}
	Timestamp        time.Time
	Actions          []Action
	Signature        []byte
	Id               TxId
}

// toValue encodes the transaction. When includeSignature is false the
// encoding is the "unsigned" form signed by Sign and checked by Verify;
// when true it is the full, content-addressed signed form whose hash is Id.
func (tx *Transaction) toValue(includeSignature bool) (canon.Value, error) {
	addrs := make([]string, 0, len(tx.UpdatedAddresses))
	for a := range tx.UpdatedAddresses {
		addrs = append(addrs, a.String())
	}
	sort.Strings(addrs)
	addrList := make(canon.List, len(addrs))
	for i, a := range addrs {
		addrList[i] = canon.Bytes(mustHex(a))
	}

	actionList := make(canon.List, len(tx.Actions))
	for i, act := range tx.Actions {
		v, err := EncodeAction(act)
		if err != nil {
			return nil, fmt.Errorf("core: encode tx action %d: %w", i, err)
		}
		actionList[i] = v
	}

	d := canon.Dict{
		"signer":            canon.Bytes(tx.Signer[:]),
		"public_key":        canon.Bytes(tx.PublicKey),
		"nonce":             canon.Int(tx.Nonce),
		"updated_addresses": addrList,
		"timestamp":         canon.Text(tx.Timestamp.UTC().Format(TimestampLayout)),
		"actions":           actionList,
	}
	if includeSignature {
		d["signature"] = canon.Bytes(tx.Signature)
	}
	return d, nil
}

func mustHex(s string) []byte {
	b, err := AddressFromHex(s)
	if err != nil {
		// addrs originate from Address.String(), which is always valid hex.
		panic(err)
	}
	return b[:]
}

// UnsignedEncoding returns the canonical encoding signed by Sign.
func (tx *Transaction) UnsignedEncoding() ([]byte, error) {
	v, err := tx.toValue(false)
	if err != nil {
		return nil, err
	}
	return canon.Encode(v), nil
}

// SignedEncoding returns the canonical encoding whose hash is tx.Id.
func (tx *Transaction) SignedEncoding() ([]byte, error) {
	v, err := tx.toValue(true)
	if err != nil {
		return nil, err
	}
	return canon.Encode(v), nil
}

// Sign signs the transaction's unsigned encoding with backend and privateKey,
// deriving Signer from the corresponding public key and computing Id.
// Timestamp is truncated to the microsecond precision of TimestampLayout so
// the signed transaction equals its decoded wire form.
func (tx *Transaction) Sign(backend CryptoBackend, privateKey []byte) error {
	tx.Timestamp = tx.Timestamp.Truncate(time.Microsecond)
	pub, err := backend.PubkeyFromPrivate(privateKey)
	if err != nil {
		return fmt.Errorf("core: derive public key: %w", err)
	}
	tx.PublicKey = pub
	tx.Signer = backend.HashToAddress(pub)

	msg, err := tx.UnsignedEncoding()
	if err != nil {
		return err
	}
	sig, err := backend.Sign(privateKey, msg)
	if err != nil {
		return fmt.Errorf("core: sign tx: %w", err)
	}
	tx.Signature = sig

	enc, err := tx.SignedEncoding()
	if err != nil {
		return err
	}
	tx.Id = sha256.Sum256(enc)
	return nil
}

// VerifySignature checks that the signature verifies under the declared
// public key and that signer == hash_to_address(public_key) (§4.2).
func (tx *Transaction) VerifySignature(backend CryptoBackend) error {
	if backend.HashToAddress(tx.PublicKey) != tx.Signer {
		return ErrInvalidTxPublicKey
	}
	msg, err := tx.UnsignedEncoding()
	if err != nil {
		return fmt.Errorf("core: re-encode tx for verification: %w", err)
	}
	if !backend.Verify(tx.PublicKey, msg, tx.Signature) {
		return ErrInvalidTxSignature
	}
	return nil
}

// CheckUpdatedAddresses verifies every address actuallyUpdated by evaluating
// this transaction's actions is covered by the declared UpdatedAddresses set
// (§4.2, §4.3.2). The engine calls this after action evaluation, since the
// actual write set is only known post-execution.
func (tx *Transaction) CheckUpdatedAddresses(actuallyUpdated map[Address]struct{}) error {
	for a := range actuallyUpdated {
		if _, ok := tx.UpdatedAddresses[a]; !ok {
			return ErrInvalidTxUpdatedAddresses
		}
	}
	return nil
}
