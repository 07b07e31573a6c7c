package core

import (
	"context"
	"encoding/binary"
	"time"
)

// MineBlock searches the nonce space for a header satisfying difficulty,
// checking ctx between trials so the caller can cancel (§5). On cancellation
// it returns ctx.Err() and no partial state is observable: the returned
// block is nil.
//
// Because only the nonce field varies between trials — and transaction
// order is itself a function of the trial's nonce (§3) — each attempt must
// recompute the per-trial order seed, TxHash and header hash. A production
// miner would precompute the header's stamp prefix/suffix around the nonce
// field's byte offset to avoid re-serializing the unchanged remainder on
// every trial (§4.2); this reference miner favors clarity and always
// re-encodes.
//
// timestamp is truncated to the microsecond precision of TimestampLayout so
// the mined block equals its decoded wire form.
func MineBlock(ctx context.Context, index, difficulty int64, previousHash *HashDigest, miner *Address, txs []*Transaction, timestamp time.Time) (*Block, error) {
	b := &Block{
		Index:        index,
		Difficulty:   difficulty,
		PreviousHash: previousHash,
		Timestamp:    timestamp.Truncate(time.Microsecond),
		Miner:        miner,
	}

	var counter uint64
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		nonce := make([]byte, 8)
		binary.BigEndian.PutUint64(nonce, counter)
		b.Nonce = nonce

		seed := orderSeed(b)
		ordered := OrderTransactions(txs, seed)
		b.Transactions = ordered
		b.TxHash = ComputeTxHash(ordered)

		h := b.ComputeHash()
		if SatisfiesDifficulty(h, difficulty) {
			b.Hash = h
			return b, nil
		}
		counter++
	}
}

// orderSeed derives the per-trial ordering seed from every header field
// that does not itself depend on transaction order (i.e. everything except
// TxHash and Hash), so the seed is stable enough to compute TxHash from but
// still varies with the nonce being trialed.
func orderSeed(b *Block) HashDigest {
	partial := &Block{
		Index:        b.Index,
		Difficulty:   b.Difficulty,
		PreviousHash: b.PreviousHash,
		Timestamp:    b.Timestamp,
		Miner:        b.Miner,
		Nonce:        b.Nonce,
	}
	return partial.ComputeHash()
}
