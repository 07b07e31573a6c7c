package core

import (
	"crypto/sha256"
	"fmt"
	"time"

	"chainkernel/canon"
)

// Encode returns the full wire encoding of the block: its header fields plus
// the parallel transactions list, each transaction in its own signed
// encoding (§6). Unlike HeaderEncoding, this round-trips through DecodeBlock.
func (b *Block) Encode() ([]byte, error) {
	d, ok := b.headerValue().(canon.Dict)
	if !ok {
		return nil, fmt.Errorf("core: encode block: header value is not a dict")
	}
	txList := make(canon.List, len(b.Transactions))
	for i, tx := range b.Transactions {
		enc, err := tx.SignedEncoding()
		if err != nil {
			return nil, fmt.Errorf("core: encode block: tx %d: %w", i, err)
		}
		txList[i] = canon.Bytes(enc)
	}
	d["transactions"] = txList
	return canon.Encode(d), nil
}

// DecodeBlock reconstructs a Block from its wire encoding, recomputing Hash
// from the decoded fields rather than trusting any encoded value (§6
// describes no "hash" field; it is always derived).
func DecodeBlock(data []byte) (*Block, error) {
	v, err := canon.DecodeFull(data)
	if err != nil {
		return nil, fmt.Errorf("core: decode block: %w", err)
	}
	d, ok := v.(canon.Dict)
	if !ok {
		return nil, fmt.Errorf("core: decode block: not a dict")
	}

	index, err := decodeIntField(d, "index")
	if err != nil {
		return nil, fmt.Errorf("core: decode block: %w", err)
	}
	difficulty, err := decodeIntField(d, "difficulty")
	if err != nil {
		return nil, fmt.Errorf("core: decode block: %w", err)
	}
	ts, err := decodeTimeField(d, "timestamp")
	if err != nil {
		return nil, fmt.Errorf("core: decode block: %w", err)
	}
	nonce, ok := d["nonce"].(canon.Bytes)
	if !ok {
		return nil, fmt.Errorf("core: decode block: missing or malformed nonce")
	}

	b := &Block{
		Index:      index,
		Difficulty: difficulty,
		Timestamp:  ts,
		Nonce:      append([]byte(nil), nonce...),
	}

	if raw, ok := d["previous_hash"]; ok {
		h, err := decodeHashBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("core: decode block: previous_hash: %w", err)
		}
		b.PreviousHash = &h
	}
	if raw, ok := d["reward_beneficiary"]; ok {
		a, err := decodeAddressBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("core: decode block: reward_beneficiary: %w", err)
		}
		b.Miner = &a
	}
	if raw, ok := d["transaction_fingerprint"]; ok {
		h, err := decodeHashBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("core: decode block: transaction_fingerprint: %w", err)
		}
		b.TxHash = &h
	}

	txsVal, ok := d["transactions"].(canon.List)
	if !ok {
		return nil, fmt.Errorf("core: decode block: missing transactions list")
	}
	txs := make([]*Transaction, len(txsVal))
	for i, tv := range txsVal {
		tb, ok := tv.(canon.Bytes)
		if !ok {
			return nil, fmt.Errorf("core: decode block: transaction %d is not a byte string", i)
		}
		tx, err := DecodeTransaction(tb)
		if err != nil {
			return nil, fmt.Errorf("core: decode block: transaction %d: %w", i, err)
		}
		txs[i] = tx
	}
	b.Transactions = txs
	b.Hash = b.ComputeHash()
	return b, nil
}

// DecodeTransaction reconstructs a Transaction from its signed wire encoding
// (the same bytes produced by SignedEncoding), recomputing Id from data
// rather than trusting an encoded value.
func DecodeTransaction(data []byte) (*Transaction, error) {
	v, err := canon.DecodeFull(data)
	if err != nil {
		return nil, fmt.Errorf("core: decode tx: %w", err)
	}
	d, ok := v.(canon.Dict)
	if !ok {
		return nil, fmt.Errorf("core: decode tx: not a dict")
	}

	signerRaw, ok := d["signer"].(canon.Bytes)
	if !ok {
		return nil, fmt.Errorf("core: decode tx: missing or malformed signer")
	}
	signer, err := decodeAddressBytes(signerRaw)
	if err != nil {
		return nil, fmt.Errorf("core: decode tx: signer: %w", err)
	}
	pub, ok := d["public_key"].(canon.Bytes)
	if !ok {
		return nil, fmt.Errorf("core: decode tx: missing or malformed public_key")
	}
	nonce, err := decodeIntField(d, "nonce")
	if err != nil {
		return nil, fmt.Errorf("core: decode tx: %w", err)
	}
	ts, err := decodeTimeField(d, "timestamp")
	if err != nil {
		return nil, fmt.Errorf("core: decode tx: %w", err)
	}
	sig, ok := d["signature"].(canon.Bytes)
	if !ok {
		return nil, fmt.Errorf("core: decode tx: missing or malformed signature")
	}

	addrList, ok := d["updated_addresses"].(canon.List)
	if !ok {
		return nil, fmt.Errorf("core: decode tx: missing updated_addresses")
	}
	updated := make(map[Address]struct{}, len(addrList))
	for i, av := range addrList {
		a, err := decodeAddressBytes(av)
		if err != nil {
			return nil, fmt.Errorf("core: decode tx: updated_addresses[%d]: %w", i, err)
		}
		updated[a] = struct{}{}
	}

	actionList, ok := d["actions"].(canon.List)
	if !ok {
		return nil, fmt.Errorf("core: decode tx: missing actions list")
	}
	actions := make([]Action, len(actionList))
	for i, av := range actionList {
		a, err := DecodeAction(av)
		if err != nil {
			return nil, fmt.Errorf("core: decode tx: action %d: %w", i, err)
		}
		actions[i] = a
	}

	tx := &Transaction{
		Signer:           signer,
		PublicKey:        append([]byte(nil), pub...),
		Nonce:            nonce,
		UpdatedAddresses: updated,
		Timestamp:        ts,
		Actions:          actions,
		Signature:        append([]byte(nil), sig...),
	}
	enc, err := tx.SignedEncoding()
	if err != nil {
		return nil, fmt.Errorf("core: decode tx: re-encode: %w", err)
	}
	tx.Id = sha256.Sum256(enc)
	return tx, nil
}

func decodeIntField(d canon.Dict, field string) (int64, error) {
	v, ok := d[field].(canon.Integer)
	if !ok {
		return 0, fmt.Errorf("missing or malformed %s", field)
	}
	if !v.V.IsInt64() {
		return 0, fmt.Errorf("%s out of range", field)
	}
	return v.V.Int64(), nil
}

func decodeTimeField(d canon.Dict, field string) (time.Time, error) {
	v, ok := d[field].(canon.Text)
	if !ok {
		return time.Time{}, fmt.Errorf("missing or malformed %s", field)
	}
	t, err := time.Parse(TimestampLayout, string(v))
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", field, err)
	}
	return t, nil
}

func decodeHashBytes(v canon.Value) (HashDigest, error) {
	var h HashDigest
	b, ok := v.(canon.Bytes)
	if !ok || len(b) != len(h) {
		return h, fmt.Errorf("expected %d-byte string", len(h))
	}
	copy(h[:], b)
	return h, nil
}

func decodeAddressBytes(v canon.Value) (Address, error) {
	var a Address
	b, ok := v.(canon.Bytes)
	if !ok || len(b) != len(a) {
		return a, fmt.Errorf("expected %d-byte string", len(a))
	}
	copy(a[:], b)
	return a, nil
}
