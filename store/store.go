// Package store defines the persistence contract the chain engine depends
// on entirely (§4.1): blocks, transactions, per-chain indices, per-key state
// references, staged transactions and per-signer nonces. The store has no
// awareness of consensus or actions; it is a data substrate.
//
// Every method may fail with ErrStoreFault on backing I/O failure; the
// additional semantic failures (ErrChainNotFound, ErrRangeError,
// ErrNonEmptyDestination) are documented per method.
package store

import (
	"chainkernel/canon"
	"chainkernel/core"
)

// NoLimit indicates an unbounded iteration limit/length.
const NoLimit = -1

// StateRefEntry is one entry of a state reference index: the block that
// wrote a key, and that block's chain-relative index.
type StateRefEntry struct {
	BlockHash  core.HashDigest
	BlockIndex int64
}

// Store is the full persistence contract (§4.1). Implementations must make
// every method atomic under concurrent callers; PutTx and PutBlock in
// particular must be safe under unbounded concurrency (§5).
type Store interface {
	// Chain identity
	ListChainIDs() ([]core.ChainId, error)
	GetCanonicalChainID() (core.ChainId, bool, error)
	SetCanonicalChainID(id core.ChainId) error
	// DeleteChainID removes the index, state references and nonce table
	// for id; it is idempotent and preserves the underlying blocks/txs.
	DeleteChainID(id core.ChainId) error

	// Chain index
	//
	// AppendIndex appends hash to the end of chain's index and returns its
	// 0-based position, which equals the chain's length before the call.
	AppendIndex(chain core.ChainId, hash core.HashDigest) (int64, error)
	CountIndex(chain core.ChainId) (int64, error)
	// IndexBlockHash resolves index i to a block hash; negative i counts
	// from the tail (-1 is the tip).
	IndexBlockHash(chain core.ChainId, i int64) (core.HashDigest, bool, error)
	// IterateIndexes returns hashes genesis-first starting at offset, up to
	// limit entries (NoLimit for unbounded).
	IterateIndexes(chain core.ChainId, offset, limit int64) ([]core.HashDigest, error)

	// Blocks (content-addressed; a block may be referenced by many chains)
	PutBlock(b *core.Block) error
	GetBlock(hash core.HashDigest) (*core.Block, bool, error)
	DeleteBlock(hash core.HashDigest) (bool, error)
	ContainsBlock(hash core.HashDigest) (bool, error)
	GetBlockIndex(hash core.HashDigest) (int64, bool, error)
	IterateBlockHashes() ([]core.HashDigest, error)
	CountBlocks() (int64, error)

	// Transactions (content-addressed; retrievable forever once put)
	PutTx(tx *core.Transaction) error
	GetTx(id core.TxId) (*core.Transaction, bool, error)
	DeleteTx(id core.TxId) (bool, error)
	ContainsTx(id core.TxId) (bool, error)
	IterateTxIDs() ([]core.TxId, error)
	CountTxs() (int64, error)

	// Staging: value is true when the staged tx is broadcastable, false
	// when quarantined.
	StageTxIDs(ids map[core.TxId]bool) error
	UnstageTxIDs(ids []core.TxId) error
	IterateStagedTxIDs() (map[core.TxId]bool, error)

	// Block states: the complete post-state of every key a block touched.
	SetBlockStates(hash core.HashDigest, states map[core.StateKey]canon.Value) error
	GetBlockStates(hash core.HashDigest) (map[core.StateKey]canon.Value, bool, error)

	// State reference index (§4.4)
	//
	// StoreStateReference is idempotent per (chain, key, blockHash); all
	// keys in one call bind to the same block.
	StoreStateReference(chain core.ChainId, keys map[core.StateKey]struct{}, blockHash core.HashDigest, blockIndex int64) error
	// LookupStateReference returns the newest reference with
	// BlockIndex <= atBlockIndex reachable along chain.
	LookupStateReference(chain core.ChainId, key core.StateKey, atBlockIndex int64) (StateRefEntry, bool, error)
	// IterateStateReferences returns entries descending by index within
	// [lowestIndex, highestIndex]; fails with ErrRangeError if
	// lowestIndex > highestIndex. highestIndex of NoLimit means the tail.
	IterateStateReferences(chain core.ChainId, key core.StateKey, lowestIndex, highestIndex, limit int64) ([]StateRefEntry, error)
	ListStateKeys(chain core.ChainId) ([]core.StateKey, error)
	// ListAllStateReferences returns, per key, every referencing block hash
	// ascending by index within [lowestIndex, highestIndex].
	ListAllStateReferences(chain core.ChainId, lowestIndex, highestIndex int64) (map[core.StateKey][]core.HashDigest, error)
	// ForkStateReferences copies every reference from source with
	// BlockIndex <= branchpointIndex into dest. It fails with
	// ErrChainNotFound only when source has no recorded identity; an
	// existent-but-empty source succeeds (§9 open question, resolved per
	// the binding test in §8 scenario 4).
	ForkStateReferences(source, dest core.ChainId, branchpointIndex int64) error

	// Per-signer nonces
	GetTxNonce(chain core.ChainId, signer core.Address) (int64, error)
	IncreaseTxNonce(chain core.ChainId, signer core.Address, delta int64) (int64, error)
	ListTxNonces(chain core.ChainId) (map[core.Address]int64, error)

	// Copy bulk-copies chain ids, indices, blocks, txs, block states, state
	// references and nonces into dest. It fails with ErrNonEmptyDestination
	// if dest already holds any chain.
	Copy(dest Store) error
}
