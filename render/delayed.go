package render

import (
	"context"
	"fmt"
	"sync"

	"chainkernel/core"
)

// BlockSource is the minimal block-genealogy lookup DelayedRenderer needs;
// store.Store satisfies it trivially.
type BlockSource interface {
	GetBlock(hash core.HashDigest) (*core.Block, bool, error)
}

// pendingFlow buffers the action events rendered/unrendered during one
// append or reorg cycle until enough confirmations accumulate on top of
// the affected blocks to flush them downstream (§4.5.3).
type pendingFlow struct {
	oldTip, newTip, branchpoint *core.Block
	unrender, render            []BlockActions
}

// DelayedRenderer wraps an inner Renderer and withholds every event until
// the block it concerns has accumulated at least Confirmations further
// blocks on the now-heaviest chain, so a renderer downstream never observes
// a block that a shallow reorg later erases (§4.5.3).
type DelayedRenderer struct {
	Inner         Renderer
	Confirmations int64
	Source        BlockSource

	mu      sync.Mutex
	pending map[any]*pendingFlow
	// buffered holds block action sets still awaiting enough confirmations,
	// one entry per block, in the order they were buffered.
	buffered []BlockActions
	tip      *core.Block
}

// NewDelayedRenderer constructs a DelayedRenderer requiring confirmations
// further blocks before forwarding events about a given block to inner.
// confirmations must be positive; 0 would flush every block immediately and
// negative values are nonsensical, so both are rejected at construction.
func NewDelayedRenderer(inner Renderer, confirmations int64, source BlockSource) (*DelayedRenderer, error) {
	if confirmations <= 0 {
		return nil, fmt.Errorf("render: confirmations must be positive, got %d", confirmations)
	}
	return &DelayedRenderer{
		Inner:         inner,
		Confirmations: confirmations,
		Source:        source,
		pending:       make(map[any]*pendingFlow),
	}, nil
}

func (d *DelayedRenderer) flowFor(ctx context.Context) *pendingFlow {
	tok := flowToken(ctx)
	f, ok := d.pending[tok]
	if !ok {
		f = &pendingFlow{}
		d.pending[tok] = f
	}
	return f
}

func (d *DelayedRenderer) RenderBlock(ctx context.Context, oldTip, newTip *core.Block) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f := d.flowFor(ctx)
	f.oldTip, f.newTip = oldTip, newTip
}

func (d *DelayedRenderer) RenderReorg(ctx context.Context, oldTip, newTip, branchpoint *core.Block) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f := d.flowFor(ctx)
	f.oldTip, f.newTip, f.branchpoint = oldTip, newTip, branchpoint
}

func (d *DelayedRenderer) RenderAction(ctx context.Context, action core.Action, actx *core.ActionContext, nextStates core.Delta, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f := d.flowFor(ctx)
	f.render = appendAction(f.render, actx, ActionEvent{Action: action, Ctx: actx, NextStates: nextStates, Err: err})
}

func (d *DelayedRenderer) UnrenderAction(ctx context.Context, action core.Action, actx *core.ActionContext, nextStates core.Delta, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f := d.flowFor(ctx)
	f.unrender = appendAction(f.unrender, actx, ActionEvent{Action: action, Ctx: actx, NextStates: nextStates, Err: err, Unrender: true})
}

func appendAction(blocks []BlockActions, actx *core.ActionContext, ev ActionEvent) []BlockActions {
	if len(blocks) > 0 && blocks[len(blocks)-1].Block.Hash == actx.BlockHash {
		last := &blocks[len(blocks)-1]
		last.Actions = append(last.Actions, ev)
		return blocks
	}
	return append(blocks, BlockActions{Block: &core.Block{Hash: actx.BlockHash, Index: actx.BlockIndex}, Actions: []ActionEvent{ev}})
}

// RenderBlockEnd and RenderReorgEnd close out the buffered flow: each block
// in its unrender set is dropped from the buffer if still unflushed (its
// unrender events are not forwarded), its render set is appended to the
// buffer, and the new chain tip becomes the basis for confirmation-depth
// accounting.
func (d *DelayedRenderer) RenderBlockEnd(ctx context.Context, oldTip, newTip *core.Block) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tok := flowToken(ctx)
	f := d.pending[tok]
	delete(d.pending, tok)
	if f == nil {
		return
	}
	d.mergeLocked(f, newTip)
}

func (d *DelayedRenderer) RenderReorgEnd(ctx context.Context, oldTip, newTip, branchpoint *core.Block) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tok := flowToken(ctx)
	f := d.pending[tok]
	delete(d.pending, tok)
	if f == nil {
		return
	}
	d.mergeLocked(f, newTip)
}

// mergeLocked applies f's unrenders against the still-buffered (unflushed)
// queue and appends its renders, then flushes everything now old enough.
// Caller holds d.mu.
func (d *DelayedRenderer) mergeLocked(f *pendingFlow, newTip *core.Block) {
	for _, un := range f.unrender {
		kept := d.buffered[:0]
		for _, b := range d.buffered {
			if b.Block.Hash != un.Block.Hash {
				kept = append(kept, b)
			}
		}
		d.buffered = kept
	}
	d.buffered = append(d.buffered, f.render...)

	// A block carries no action events when it has no actions (or none of
	// its actions were rendered yet); it still needs a buffered entry so
	// its bracket reaches the inner renderer once confirmed.
	if newTip != nil && !d.hasBufferedLocked(newTip.Hash) {
		d.buffered = append(d.buffered, BlockActions{Block: newTip})
	}

	d.tip = newTip
	d.flushLocked()
}

func (d *DelayedRenderer) hasBufferedLocked(hash core.HashDigest) bool {
	for _, b := range d.buffered {
		if b.Block.Hash == hash {
			return true
		}
	}
	return false
}

// flushLocked forwards every buffered block whose confirmation depth
// (tip.Index - block.Index) has reached Confirmations, in ascending-index
// order, oldest first.
func (d *DelayedRenderer) flushLocked() {
	if d.tip == nil {
		return
	}
	remaining := d.buffered[:0]
	var toFlush []BlockActions
	for _, b := range d.buffered {
		if d.tip.Index-b.Block.Index >= d.Confirmations {
			toFlush = append(toFlush, b)
		} else {
			remaining = append(remaining, b)
		}
	}
	d.buffered = remaining

	if len(toFlush) == 0 {
		return
	}
	ctx := NewFlow(context.Background())
	for _, b := range toFlush {
		d.Inner.RenderBlock(ctx, nil, b.Block)
		for _, a := range b.Actions {
			if a.Unrender {
				d.Inner.UnrenderAction(ctx, a.Action, a.Ctx, a.NextStates, a.Err)
			} else {
				d.Inner.RenderAction(ctx, a.Action, a.Ctx, a.NextStates, a.Err)
			}
		}
		d.Inner.RenderBlockEnd(ctx, nil, b.Block)
	}
}

var _ Renderer = (*DelayedRenderer)(nil)
