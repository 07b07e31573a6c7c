// Package memstore is an in-memory store.Store implementation, the
// reference backend for tests and for embedding in hosts that don't need
// durability: in-memory maps guarded by a mutex, no write-ahead log, since
// concrete persistence is explicitly out of the core's scope.
package memstore

import (
	"fmt"
	"sort"
	"sync"

	"chainkernel/canon"
	"chainkernel/core"
	"chainkernel/store"
)

type chainData struct {
	index     []core.HashDigest
	stateRefs map[core.StateKey][]store.StateRefEntry
	nonces    map[core.Address]int64
}

func newChainData() *chainData {
	return &chainData{stateRefs: make(map[core.StateKey][]store.StateRefEntry), nonces: make(map[core.Address]int64)}
}

// Store is a mutex-guarded, in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	chains       map[core.ChainId]*chainData
	canonical    core.ChainId
	hasCanonical bool

	blocks map[core.HashDigest]*core.Block
	txs    map[core.TxId]*core.Transaction
	staged map[core.TxId]bool

	blockStates map[core.HashDigest]map[core.StateKey]canon.Value
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		chains:      make(map[core.ChainId]*chainData),
		blocks:      make(map[core.HashDigest]*core.Block),
		txs:         make(map[core.TxId]*core.Transaction),
		staged:      make(map[core.TxId]bool),
		blockStates: make(map[core.HashDigest]map[core.StateKey]canon.Value),
	}
}

func (s *Store) chain(id core.ChainId) (*chainData, bool) {
	c, ok := s.chains[id]
	return c, ok
}

func (s *Store) getOrCreateChain(id core.ChainId) *chainData {
	c, ok := s.chains[id]
	if !ok {
		c = newChainData()
		s.chains[id] = c
	}
	return c
}

// ---- chain identity ----

func (s *Store) ListChainIDs() ([]core.ChainId, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.ChainId, 0, len(s.chains))
	for id := range s.chains {
		out = append(out, id)
	}
	return out, nil
}

func (s *Store) GetCanonicalChainID() (core.ChainId, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.canonical, s.hasCanonical, nil
}

func (s *Store) SetCanonicalChainID(id core.ChainId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreateChain(id)
	s.canonical = id
	s.hasCanonical = true
	return nil
}

func (s *Store) DeleteChainID(id core.ChainId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chains, id)
	if s.hasCanonical && s.canonical == id {
		s.hasCanonical = false
		s.canonical = core.ChainId{}
	}
	return nil
}

// ---- chain index ----

func (s *Store) AppendIndex(chain core.ChainId, hash core.HashDigest) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.getOrCreateChain(chain)
	idx := int64(len(c.index))
	c.index = append(c.index, hash)
	return idx, nil
}

func (s *Store) CountIndex(chain core.ChainId) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chain(chain)
	if !ok {
		return 0, nil
	}
	return int64(len(c.index)), nil
}

func (s *Store) IndexBlockHash(chain core.ChainId, i int64) (core.HashDigest, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chain(chain)
	if !ok {
		return core.HashDigest{}, false, nil
	}
	if i < 0 {
		i += int64(len(c.index))
	}
	if i < 0 || i >= int64(len(c.index)) {
		return core.HashDigest{}, false, nil
	}
	return c.index[i], true, nil
}

func (s *Store) IterateIndexes(chain core.ChainId, offset, limit int64) ([]core.HashDigest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chain(chain)
	if !ok || offset >= int64(len(c.index)) {
		return nil, nil
	}
	end := int64(len(c.index))
	if limit != store.NoLimit && offset+limit < end {
		end = offset + limit
	}
	out := make([]core.HashDigest, end-offset)
	copy(out, c.index[offset:end])
	return out, nil
}

// ---- blocks ----

func (s *Store) PutBlock(b *core.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.blocks[b.Hash] = &cp
	return nil
}

func (s *Store) GetBlock(hash core.HashDigest) (*core.Block, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[hash]
	return b, ok, nil
}

func (s *Store) DeleteBlock(hash core.HashDigest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blocks[hash]
	delete(s.blocks, hash)
	return ok, nil
}

func (s *Store) ContainsBlock(hash core.HashDigest) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blocks[hash]
	return ok, nil
}

func (s *Store) GetBlockIndex(hash core.HashDigest) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[hash]
	if !ok {
		return 0, false, nil
	}
	return b.Index, true, nil
}

func (s *Store) IterateBlockHashes() ([]core.HashDigest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.HashDigest, 0, len(s.blocks))
	for h := range s.blocks {
		out = append(out, h)
	}
	return out, nil
}

func (s *Store) CountBlocks() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.blocks)), nil
}

// ---- transactions ----

func (s *Store) PutTx(tx *core.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[tx.Id]; ok {
		return nil
	}
	cp := *tx
	s.txs[tx.Id] = &cp
	return nil
}

func (s *Store) GetTx(id core.TxId) (*core.Transaction, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[id]
	return tx, ok, nil
}

func (s *Store) DeleteTx(id core.TxId) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.txs[id]
	delete(s.txs, id)
	return ok, nil
}

func (s *Store) ContainsTx(id core.TxId) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.txs[id]
	return ok, nil
}

func (s *Store) IterateTxIDs() ([]core.TxId, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.TxId, 0, len(s.txs))
	for id := range s.txs {
		out = append(out, id)
	}
	return out, nil
}

func (s *Store) CountTxs() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.txs)), nil
}

// ---- staging ----

func (s *Store) StageTxIDs(ids map[core.TxId]bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, broadcastable := range ids {
		s.staged[id] = broadcastable
	}
	return nil
}

func (s *Store) UnstageTxIDs(ids []core.TxId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.staged, id)
	}
	return nil
}

func (s *Store) IterateStagedTxIDs() (map[core.TxId]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[core.TxId]bool, len(s.staged))
	for id, b := range s.staged {
		out[id] = b
	}
	return out, nil
}

// ---- block states ----

func (s *Store) SetBlockStates(hash core.HashDigest, states map[core.StateKey]canon.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[core.StateKey]canon.Value, len(states))
	for k, v := range states {
		cp[k] = v
	}
	s.blockStates[hash] = cp
	return nil
}

func (s *Store) GetBlockStates(hash core.HashDigest) (map[core.StateKey]canon.Value, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.blockStates[hash]
	return m, ok, nil
}

// ---- state reference index ----

func (s *Store) StoreStateReference(chain core.ChainId, keys map[core.StateKey]struct{}, blockHash core.HashDigest, blockIndex int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.getOrCreateChain(chain)
	for key := range keys {
		entries := c.stateRefs[key]
		dup := false
		for _, e := range entries {
			if e.BlockHash == blockHash {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		c.stateRefs[key] = append(entries, store.StateRefEntry{BlockHash: blockHash, BlockIndex: blockIndex})
	}
	return nil
}

func (s *Store) LookupStateReference(chain core.ChainId, key core.StateKey, atBlockIndex int64) (store.StateRefEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chain(chain)
	if !ok {
		return store.StateRefEntry{}, false, nil
	}
	var best store.StateRefEntry
	found := false
	for _, e := range c.stateRefs[key] {
		if e.BlockIndex <= atBlockIndex && (!found || e.BlockIndex > best.BlockIndex) {
			best = e
			found = true
		}
	}
	return best, found, nil
}

func (s *Store) IterateStateReferences(chain core.ChainId, key core.StateKey, lowestIndex, highestIndex, limit int64) ([]store.StateRefEntry, error) {
	if highestIndex != store.NoLimit && lowestIndex > highestIndex {
		return nil, store.ErrRangeError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chain(chain)
	if !ok {
		return nil, nil
	}
	var out []store.StateRefEntry
	for _, e := range c.stateRefs[key] {
		if e.BlockIndex < lowestIndex {
			continue
		}
		if highestIndex != store.NoLimit && e.BlockIndex > highestIndex {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockIndex > out[j].BlockIndex })
	if limit != store.NoLimit && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListStateKeys(chain core.ChainId) ([]core.StateKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chain(chain)
	if !ok {
		return nil, nil
	}
	out := make([]core.StateKey, 0, len(c.stateRefs))
	for k := range c.stateRefs {
		out = append(out, k)
	}
	return out, nil
}

func (s *Store) ListAllStateReferences(chain core.ChainId, lowestIndex, highestIndex int64) (map[core.StateKey][]core.HashDigest, error) {
	if highestIndex != store.NoLimit && lowestIndex > highestIndex {
		return nil, store.ErrRangeError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chain(chain)
	if !ok {
		return nil, nil
	}
	out := make(map[core.StateKey][]core.HashDigest, len(c.stateRefs))
	for key, entries := range c.stateRefs {
		filtered := make([]store.StateRefEntry, 0, len(entries))
		for _, e := range entries {
			if e.BlockIndex < lowestIndex {
				continue
			}
			if highestIndex != store.NoLimit && e.BlockIndex > highestIndex {
				continue
			}
			filtered = append(filtered, e)
		}
		sort.Slice(filtered, func(i, j int) bool { return filtered[i].BlockIndex < filtered[j].BlockIndex })
		hashes := make([]core.HashDigest, len(filtered))
		for i, e := range filtered {
			hashes[i] = e.BlockHash
		}
		out[key] = hashes
	}
	return out, nil
}

func (s *Store) ForkStateReferences(source, dest core.ChainId, branchpointIndex int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.chain(source)
	if !ok {
		return store.ErrChainNotFound
	}
	dst := s.getOrCreateChain(dest)
	for key, entries := range src.stateRefs {
		for _, e := range entries {
			if e.BlockIndex > branchpointIndex {
				continue
			}
			already := false
			for _, have := range dst.stateRefs[key] {
				if have.BlockHash == e.BlockHash {
					already = true
					break
				}
			}
			if !already {
				dst.stateRefs[key] = append(dst.stateRefs[key], e)
			}
		}
	}
	return nil
}

// ---- nonces ----

func (s *Store) GetTxNonce(chain core.ChainId, signer core.Address) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chain(chain)
	if !ok {
		return 0, nil
	}
	return c.nonces[signer], nil
}

func (s *Store) IncreaseTxNonce(chain core.ChainId, signer core.Address, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.getOrCreateChain(chain)
	c.nonces[signer] += delta
	return c.nonces[signer], nil
}

func (s *Store) ListTxNonces(chain core.ChainId) (map[core.Address]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chain(chain)
	if !ok {
		return nil, nil
	}
	out := make(map[core.Address]int64, len(c.nonces))
	for a, n := range c.nonces {
		out[a] = n
	}
	return out, nil
}

// ---- copy ----

// Copy bulk-copies this store's contents into dest, which must be another
// *memstore.Store; it fails with ErrNonEmptyDestination if dest already
// holds any chain.
func (s *Store) Copy(dest store.Store) error {
	d, ok := dest.(*Store)
	if !ok {
		return fmt.Errorf("memstore: Copy requires a *memstore.Store destination")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.chains) > 0 {
		return store.ErrNonEmptyDestination
	}

	for id, c := range s.chains {
		nc := newChainData()
		nc.index = append(nc.index, c.index...)
		for k, entries := range c.stateRefs {
			cp := make([]store.StateRefEntry, len(entries))
			copy(cp, entries)
			nc.stateRefs[k] = cp
		}
		for a, n := range c.nonces {
			nc.nonces[a] = n
		}
		d.chains[id] = nc
	}
	d.canonical = s.canonical
	d.hasCanonical = s.hasCanonical

	for h, b := range s.blocks {
		cp := *b
		d.blocks[h] = &cp
	}
	for id, tx := range s.txs {
		cp := *tx
		d.txs[id] = &cp
	}
	for h, states := range s.blockStates {
		cp := make(map[core.StateKey]canon.Value, len(states))
		for k, v := range states {
			cp[k] = v
		}
		d.blockStates[h] = cp
	}

	return nil
}

var _ store.Store = (*Store)(nil)
