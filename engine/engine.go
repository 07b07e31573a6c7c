// Package engine implements the chain engine (§4.3): the component that
// owns a canonical chain view backed by a Store, validates and appends
// candidate blocks, evaluates their actions, answers state queries, and
// drives reorgs and sync locators. It has no network or mining code of its
// own — PeerProtocol and the miner call into it.
//
// The engine is a validate-then-commit state machine serialized by a
// per-instance lock, adapted from account/UTXO ledger semantics to this
// action-delta model.
package engine

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"chainkernel/canon"
	"chainkernel/core"
	"chainkernel/policy"
	"chainkernel/render"
	"chainkernel/store"
)

// Chain is the chain engine for a single ChainId. Append is serialized by
// mu per §5 ("at most one append may be in progress per chain"); state
// reads take no lock beyond the store's own.
type Chain struct {
	ID      core.ChainId
	store   store.Store
	policy  policy.BlockPolicy
	backend core.CryptoBackend
	render  *render.Dispatcher
	log     *logrus.Logger

	mu sync.Mutex
}

// New builds a Chain engine over an existing or not-yet-created chain id.
// log may be nil, defaulting to logrus's standard logger.
func New(id core.ChainId, st store.Store, pol policy.BlockPolicy, backend core.CryptoBackend, dispatcher *render.Dispatcher, log *logrus.Logger) *Chain {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Chain{ID: id, store: st, policy: pol, backend: backend, render: dispatcher, log: log}
}

// Status summarizes the engine's current canonical view.
type Status struct {
	Length     int64
	TipHash    core.HashDigest
	TipIndex   int64
	Difficulty int64
}

func (c *Chain) Status() (Status, error) {
	length, err := c.store.CountIndex(c.ID)
	if err != nil {
		return Status{}, fmt.Errorf("engine: status: %w", err)
	}
	if length == 0 {
		return Status{Length: 0}, nil
	}
	tipHash, ok, err := c.store.IndexBlockHash(c.ID, -1)
	if err != nil {
		return Status{}, fmt.Errorf("engine: status: %w", err)
	}
	if !ok {
		return Status{}, fmt.Errorf("engine: status: tip index missing despite length %d", length)
	}
	tip, ok, err := c.store.GetBlock(tipHash)
	if err != nil {
		return Status{}, fmt.Errorf("engine: status: %w", err)
	}
	if !ok {
		return Status{}, fmt.Errorf("engine: status: tip block %s not found", tipHash)
	}
	return Status{Length: length, TipHash: tipHash, TipIndex: tip.Index, Difficulty: tip.Difficulty}, nil
}

// tip returns the current tip block, or nil if the chain is empty.
func (c *Chain) tip() (*core.Block, error) {
	length, err := c.store.CountIndex(c.ID)
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}
	hash, ok, err := c.store.IndexBlockHash(c.ID, -1)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("engine: tip index missing")
	}
	blk, ok, err := c.store.GetBlock(hash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("engine: tip block %s not found", hash)
	}
	return blk, nil
}

// Append validates block against the current tip and §4.3.1's rules,
// evaluates its actions, commits it, and emits render events. Validation
// failures leave no partial write observable.
func (c *Chain) Append(ctx context.Context, block *core.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	parent, err := c.tip()
	if err != nil {
		return err
	}

	if err := c.validateAgainstParent(block, parent); err != nil {
		return err
	}
	if err := block.ValidateStandalone(c.backend, time.Now().UTC()); err != nil {
		return err
	}
	if err := c.policy.ValidateNextBlock(c.ID, block); err != nil {
		return err
	}

	actions, delta, touched, err := c.evaluateBlock(block, parent)
	if err != nil {
		return err
	}
	if err := c.commit(block, delta, touched); err != nil {
		return err
	}

	ctx = render.NewFlow(ctx)
	c.render.Append(ctx, parent, block, actions)
	return nil
}

// validateAgainstParent checks the structural position/difficulty/timestamp
// rules of §4.3.1 that require the parent block for context.
func (c *Chain) validateAgainstParent(block, parent *core.Block) error {
	if parent == nil {
		if block.Index != 0 {
			return core.ErrInvalidBlockIndex
		}
	} else {
		if block.Index != parent.Index+1 {
			return core.ErrInvalidBlockIndex
		}
		if block.PreviousHash == nil || *block.PreviousHash != parent.Hash {
			return core.ErrInvalidBlockPreviousHash
		}
		if !block.Timestamp.After(parent.Timestamp) {
			return core.ErrInvalidBlockTimestamp
		}
		// Genesis difficulty is fixed at 0 by ValidateStandalone; the policy
		// minimum applies to every block after it.
		expected, err := c.policy.GetNextDifficulty(c.ID)
		if err != nil {
			return fmt.Errorf("engine: get next difficulty: %w", err)
		}
		if block.Difficulty < expected {
			return core.ErrInvalidBlockDifficulty
		}
	}
	return nil
}

// evaluateBlock runs §4.3.2 action evaluation plus the per-tx nonce and
// updated-address checks of §4.3.1/§4.3.2. It returns every render.ActionEvent
// produced, the accumulated per-block delta, and the set of touched keys.
func (c *Chain) evaluateBlock(block, parent *core.Block) ([]render.ActionEvent, core.Delta, map[core.StateKey]struct{}, error) {
	delta := make(core.Delta)
	touched := make(map[core.StateKey]struct{})
	var events []render.ActionEvent
	signerCountInBlock := make(map[core.Address]int64)

	prevIndex := int64(-1)
	if parent != nil {
		prevIndex = parent.Index
	}
	prevStates := func(key core.StateKey) (canon.Value, bool, error) {
		if v, ok := delta[key]; ok {
			return v, true, nil
		}
		return c.getStateAt(key, prevIndex)
	}

	for _, tx := range block.Transactions {
		baseline, err := c.store.GetTxNonce(c.ID, tx.Signer)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("engine: get tx nonce: %w", err)
		}
		expectedNonce := baseline + signerCountInBlock[tx.Signer]
		if tx.Nonce != expectedNonce {
			return nil, nil, nil, core.ErrInvalidTxNonce
		}
		signerCountInBlock[tx.Signer]++

		txWritten := make(map[core.Address]struct{})
		blockHashInt := int32(binary.BigEndian.Uint32(block.Hash[:4]))
		sigInt := signatureInt32(tx.Signature)

		for actionIndex, action := range tx.Actions {
			actx := &core.ActionContext{
				Signer:         tx.Signer,
				Miner:          minerOrZero(block.Miner),
				BlockIndex:     block.Index,
				BlockHash:      block.Hash,
				RandomSeed:     blockHashInt ^ sigInt ^ int32(actionIndex),
				PreviousStates: prevStates,
			}
			d, execErr := action.Execute(actx)
			events = append(events, render.ActionEvent{Action: action, Ctx: actx, NextStates: d, Err: execErr})
			if execErr != nil {
				continue
			}
			for k, v := range d {
				delta[k] = v
				touched[k] = struct{}{}
				if addr, ok := addressFromKey(k); ok {
					txWritten[addr] = struct{}{}
				}
			}
		}

		if err := tx.CheckUpdatedAddresses(txWritten); err != nil {
			return nil, nil, nil, err
		}
	}

	blockAction, err := c.policy.BlockAction(c.ID, block)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("engine: block action: %w", err)
	}
	if blockAction != nil {
		actx := &core.ActionContext{
			Miner:          minerOrZero(block.Miner),
			BlockIndex:     block.Index,
			BlockHash:      block.Hash,
			PreviousStates: prevStates,
		}
		d, execErr := blockAction.Execute(actx)
		events = append(events, render.ActionEvent{Action: blockAction, Ctx: actx, NextStates: d, Err: execErr})
		if execErr == nil {
			for k, v := range d {
				delta[k] = v
				touched[k] = struct{}{}
			}
		}
	}

	return events, delta, touched, nil
}

// commit writes block, its index position, block states, state references
// and nonce increments, and unstages its transactions (§4.3 step 4).
func (c *Chain) commit(block *core.Block, delta core.Delta, touched map[core.StateKey]struct{}) error {
	if err := c.store.PutBlock(block); err != nil {
		return fmt.Errorf("engine: put block: %w", err)
	}
	if _, err := c.store.AppendIndex(c.ID, block.Hash); err != nil {
		return fmt.Errorf("engine: append index: %w", err)
	}
	if err := c.store.SetBlockStates(block.Hash, delta); err != nil {
		return fmt.Errorf("engine: set block states: %w", err)
	}
	if len(touched) > 0 {
		if err := c.store.StoreStateReference(c.ID, touched, block.Hash, block.Index); err != nil {
			return fmt.Errorf("engine: store state reference: %w", err)
		}
	}

	txIDs := make([]core.TxId, 0, len(block.Transactions))
	signerCounts := make(map[core.Address]int64)
	for _, tx := range block.Transactions {
		if err := c.store.PutTx(tx); err != nil {
			return fmt.Errorf("engine: put tx: %w", err)
		}
		txIDs = append(txIDs, tx.Id)
		signerCounts[tx.Signer]++
	}
	for signer, n := range signerCounts {
		if _, err := c.store.IncreaseTxNonce(c.ID, signer, n); err != nil {
			return fmt.Errorf("engine: increase tx nonce: %w", err)
		}
	}
	if len(txIDs) > 0 {
		if err := c.store.UnstageTxIDs(txIDs); err != nil {
			return fmt.Errorf("engine: unstage txs: %w", err)
		}
	}
	return nil
}

func minerOrZero(m *core.Address) core.Address {
	if m == nil {
		return core.ZeroAddress
	}
	return *m
}

func signatureInt32(sig []byte) int32 {
	var buf [4]byte
	copy(buf[:], sig)
	return int32(binary.BigEndian.Uint32(buf[:]))
}

// addressFromKey reports whether key is the hex form of an Address, the
// convention §3 uses for per-account state slots.
func addressFromKey(key core.StateKey) (core.Address, bool) {
	a, err := core.AddressFromHex(string(key))
	if err != nil {
		return core.Address{}, false
	}
	return a, true
}

// GetState resolves key as of the current tip (§4.3.3).
func (c *Chain) GetState(key core.StateKey) (canon.Value, bool, error) {
	tip, err := c.tip()
	if err != nil {
		return nil, false, err
	}
	if tip == nil {
		return nil, false, nil
	}
	return c.getStateAt(key, tip.Index)
}

func (c *Chain) getStateAt(key core.StateKey, atBlockIndex int64) (canon.Value, bool, error) {
	if atBlockIndex < 0 {
		return nil, false, nil
	}
	ref, ok, err := c.store.LookupStateReference(c.ID, key, atBlockIndex)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	states, ok, err := c.store.GetBlockStates(ref.BlockHash)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	v, ok := states[key]
	return v, ok, nil
}

// GetStates batches GetState over keys (§4.3.3).
func (c *Chain) GetStates(keys []core.StateKey) (map[core.StateKey]canon.Value, error) {
	out := make(map[core.StateKey]canon.Value, len(keys))
	for _, k := range keys {
		v, ok, err := c.GetState(k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}

// Locator produces the sparse sync locator of §4.3.5: tip, tip-1, tip-3,
// tip-7, tip-15, ... down to genesis, step size doubling each time.
func (c *Chain) Locator() ([]core.HashDigest, error) {
	length, err := c.store.CountIndex(c.ID)
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}
	var out []core.HashDigest
	step := int64(1)
	i := length - 1
	for {
		hash, ok, err := c.store.IndexBlockHash(c.ID, i)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, hash)
		if i == 0 {
			break
		}
		i -= step
		if i < 0 {
			i = 0
		}
		step *= 2
	}
	return out, nil
}

// FindNextHashes implements §4.3.5: find the first locator hash present in
// the canonical index, then yield subsequent hashes up to stop (inclusive)
// or count, whichever comes first.
func (c *Chain) FindNextHashes(locator []core.HashDigest, stop *core.HashDigest, count int64) ([]core.HashDigest, error) {
	if count <= 0 {
		count = 500
	}
	var anchor int64 = -1
	for _, h := range locator {
		idx, ok, err := c.store.GetBlockIndex(h)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		chainHash, ok, err := c.store.IndexBlockHash(c.ID, idx)
		if err != nil {
			return nil, err
		}
		if ok && chainHash == h {
			anchor = idx
			break
		}
	}
	if anchor < 0 {
		return nil, nil
	}

	length, err := c.store.CountIndex(c.ID)
	if err != nil {
		return nil, err
	}
	var out []core.HashDigest
	for i := anchor + 1; i < length && int64(len(out)) < count; i++ {
		hash, ok, err := c.store.IndexBlockHash(c.ID, i)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, hash)
		if stop != nil && hash == *stop {
			break
		}
	}
	return out, nil
}

// Fork implements §4.3.4: it finds the branchpoint between the current tip
// and newTip (resolving ancestors via fetch), allocates a fresh chain id,
// copies the shared prefix and forked state references, replays
// branchpoint+1..newTip against the new chain id, and marks it canonical.
// The old chain id is retained, not deleted.
func (c *Chain) Fork(ctx context.Context, newTip *core.Block, fetch core.BlockLookup) (core.ChainId, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	oldTip, err := c.tip()
	if err != nil {
		return core.ChainId{}, err
	}
	if oldTip == nil {
		return core.ChainId{}, fmt.Errorf("engine: fork: chain is empty")
	}

	branchpoint, err := core.CommonAncestor(fetch, oldTip, newTip)
	if err != nil {
		return core.ChainId{}, err
	}

	dest, err := newChainID()
	if err != nil {
		return core.ChainId{}, fmt.Errorf("engine: fork: allocate chain id: %w", err)
	}

	prefix, err := c.store.IterateIndexes(c.ID, 0, branchpoint.Index+1)
	if err != nil {
		return core.ChainId{}, err
	}
	for _, h := range prefix {
		if _, err := c.store.AppendIndex(dest, h); err != nil {
			return core.ChainId{}, fmt.Errorf("engine: fork: copy prefix: %w", err)
		}
	}
	if err := c.store.ForkStateReferences(c.ID, dest, branchpoint.Index); err != nil {
		return core.ChainId{}, fmt.Errorf("engine: fork: fork state references: %w", err)
	}

	newBranch, err := ancestryFrom(fetch, newTip, branchpoint.Index)
	if err != nil {
		return core.ChainId{}, err
	}

	destChain := &Chain{ID: dest, store: c.store, policy: c.policy, backend: c.backend, render: c.render, log: c.log}
	var renderBlocks []render.BlockActions
	parent := branchpoint
	for _, blk := range newBranch {
		if err := destChain.validateAgainstParent(blk, parent); err != nil {
			return core.ChainId{}, err
		}
		if err := blk.ValidateStandalone(c.backend, time.Now().UTC()); err != nil {
			return core.ChainId{}, err
		}
		actions, delta, touched, err := destChain.evaluateBlock(blk, parent)
		if err != nil {
			return core.ChainId{}, err
		}
		if err := destChain.commit(blk, delta, touched); err != nil {
			return core.ChainId{}, err
		}
		renderBlocks = append(renderBlocks, render.BlockActions{Block: blk, Actions: actions})
		parent = blk
	}

	oldBranch, err := ancestryFrom(fetch, oldTip, branchpoint.Index)
	if err != nil {
		return core.ChainId{}, err
	}
	// unrenderBlocks carries each old-branch block's forward-evaluation-order
	// actions, re-evaluated against the (still-canonical, untouched) original
	// chain; Dispatcher.Reorg is responsible for playing them back in reverse
	// block and action order during rollback (§4.5.1).
	unrenderBlocks := make([]render.BlockActions, len(oldBranch))
	oldParent := branchpoint
	for i, blk := range oldBranch {
		actions, _, _, err := c.evaluateBlock(blk, oldParent)
		if err != nil {
			return core.ChainId{}, fmt.Errorf("engine: fork: re-evaluate old branch block %d: %w", blk.Index, err)
		}
		unrenderBlocks[i] = render.BlockActions{Block: blk, Actions: actions}
		oldParent = blk
	}

	if err := c.store.SetCanonicalChainID(dest); err != nil {
		return core.ChainId{}, fmt.Errorf("engine: fork: set canonical: %w", err)
	}

	ctx = render.NewFlow(ctx)
	c.render.Reorg(ctx, oldTip, newTip, branchpoint, unrenderBlocks, renderBlocks)
	return dest, nil
}

// ancestryFrom walks from tip back to (but excluding) the block at
// branchpointIndex, returning the chain ascending from branchpointIndex+1.
func ancestryFrom(fetch core.BlockLookup, tip *core.Block, branchpointIndex int64) ([]*core.Block, error) {
	var chain []*core.Block
	b := tip
	for b.Index > branchpointIndex {
		chain = append([]*core.Block{b}, chain...)
		if b.PreviousHash == nil {
			return nil, core.ErrOrphanChain
		}
		parent, ok, err := fetch(*b.PreviousHash)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("engine: fork: ancestor %s not found", b.PreviousHash)
		}
		b = parent
	}
	return chain, nil
}

func newChainID() (core.ChainId, error) {
	var id core.ChainId
	_, err := rand.Read(id[:])
	return id, err
}
