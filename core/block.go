package core

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"sort"
	"time"

	"chainkernel/canon"
)

// MaxClockSkew is the permitted forward clock skew for a block's timestamp
// relative to validation time (§4.2).
const MaxClockSkew = 15 * time.Minute

// Block is immutable once mined (§3). PreviousHash and Miner are nil when
// absent: genesis has no previous hash, and mining without a beneficiary is
// permitted.
type Block struct {
	Index        int64
	Difficulty   int64
	PreviousHash *HashDigest
	Timestamp    time.Time
	Miner        *Address
	Nonce        []byte
	TxHash       *HashDigest
	Transactions []*Transaction
	Hash         HashDigest
}

// headerValue encodes every header field except Transactions, including
// TxHash — the exact input to block hashing (§4.2).
func (b *Block) headerValue() canon.Value {
	d := canon.Dict{
		"index":      canon.Int(b.Index),
		"difficulty": canon.Int(b.Difficulty),
		"timestamp":  canon.Text(b.Timestamp.UTC().Format(TimestampLayout)),
		"nonce":      canon.Bytes(b.Nonce),
	}
	if b.PreviousHash != nil {
		d["previous_hash"] = canon.Bytes(b.PreviousHash[:])
	}
	if b.Miner != nil {
		d["reward_beneficiary"] = canon.Bytes(b.Miner[:])
	}
	if b.TxHash != nil {
		d["transaction_fingerprint"] = canon.Bytes(b.TxHash[:])
	}
	return d
}

// HeaderEncoding returns the canonical encoding hashed to produce Hash.
func (b *Block) HeaderEncoding() []byte { return canon.Encode(b.headerValue()) }

// ComputeHash recomputes the header hash from the block's current fields
// without mutating Hash.
func (b *Block) ComputeHash() HashDigest { return sha256.Sum256(b.HeaderEncoding()) }

// txListValue encodes an ordered transaction id list, the input to TxHash.
func txListValue(ordered []*Transaction) canon.Value {
	l := make(canon.List, len(ordered))
	for i, tx := range ordered {
		l[i] = canon.Bytes(tx.Id[:])
	}
	return l
}

// ComputeTxHash hashes the canonical encoding of the ordered tx-id list, or
// returns nil if there are no transactions (§3).
func ComputeTxHash(ordered []*Transaction) *HashDigest {
	if len(ordered) == 0 {
		return nil
	}
	h := HashDigest(sha256.Sum256(canon.Encode(txListValue(ordered))))
	return &h
}

func xorInto(a [32]byte, b [32]byte) [32]byte {
	var out [32]byte
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// OrderTransactions implements the deterministic-but-unpredictable ordering
// rule of §3: group by signer, fold each signer's txids via XOR into a
// signer-key, sort signers by signer_key XOR seed, then sort each signer's
// own transactions by ascending nonce.
func OrderTransactions(txs []*Transaction, seed HashDigest) []*Transaction {
	bySigner := make(map[Address][]*Transaction)
	var signers []Address
	for _, tx := range txs {
		if _, ok := bySigner[tx.Signer]; !ok {
			signers = append(signers, tx.Signer)
		}
		bySigner[tx.Signer] = append(bySigner[tx.Signer], tx)
	}

	type signerRank struct {
		signer Address
		rank   *big.Int
	}
	ranks := make([]signerRank, 0, len(signers))
	for _, s := range signers {
		group := bySigner[s]
		sort.Slice(group, func(i, j int) bool { return group[i].Nonce < group[j].Nonce })

		var key [32]byte
		for _, tx := range group {
			key = xorInto(key, tx.Id)
		}
		sortKey := xorInto(key, seed)
		ranks = append(ranks, signerRank{signer: s, rank: new(big.Int).SetBytes(sortKey[:])})
	}
	sort.Slice(ranks, func(i, j int) bool {
		c := ranks[i].rank.Cmp(ranks[j].rank)
		if c != 0 {
			return c < 0
		}
		return ranks[i].signer.String() < ranks[j].signer.String()
	})

	out := make([]*Transaction, 0, len(txs))
	for _, r := range ranks {
		out = append(out, bySigner[r.signer]...)
	}
	return out
}

// LeadingZeroBits returns the count of leading zero bits of h interpreted
// MSB-first, i.e. as a big-endian unsigned integer.
func LeadingZeroBits(h HashDigest) int64 {
	count := int64(0)
	for _, byt := range h {
		if byt == 0 {
			count += 8
			continue
		}
		for bit := 7; bit >= 0; bit-- {
			if byt&(1<<uint(bit)) != 0 {
				return count
			}
			count++
		}
	}
	return count
}

// SatisfiesDifficulty reports whether h has at least difficulty leading zero
// bits (§4.2).
func SatisfiesDifficulty(h HashDigest, difficulty int64) bool {
	return LeadingZeroBits(h) >= difficulty
}

// ValidateStandalone checks the block-level invariants that do not require
// chain context (§4.2): clock skew, genesis shape, PoW, and every contained
// transaction's signature.
func (b *Block) ValidateStandalone(backend CryptoBackend, now time.Time) error {
	if b.Timestamp.After(now.Add(MaxClockSkew)) {
		return ErrInvalidBlockTimestamp
	}
	if b.Index < 0 {
		return ErrInvalidBlockIndex
	}
	if b.Index == 0 {
		if b.Difficulty != 0 {
			return ErrInvalidBlockDifficulty
		}
		if b.PreviousHash != nil {
			return ErrInvalidBlockPreviousHash
		}
	} else {
		if b.Difficulty < 1 {
			return ErrInvalidBlockDifficulty
		}
		if b.PreviousHash == nil {
			return ErrInvalidBlockPreviousHash
		}
	}
	if !SatisfiesDifficulty(b.Hash, b.Difficulty) {
		return ErrInvalidBlockNonce
	}
	if want := b.ComputeHash(); want != b.Hash {
		return fmt.Errorf("%w: header hash mismatch", ErrInvalidBlockNonce)
	}
	wantTxHash := ComputeTxHash(b.Transactions)
	if (wantTxHash == nil) != (b.TxHash == nil) || (wantTxHash != nil && *wantTxHash != *b.TxHash) {
		return fmt.Errorf("%w: tx_hash mismatch", ErrInvalidBlockNonce)
	}
	for i, tx := range b.Transactions {
		if err := tx.VerifySignature(backend); err != nil {
			return fmt.Errorf("tx %d: %w", i, err)
		}
	}
	return nil
}
