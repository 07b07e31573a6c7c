// Package render implements the event fan-out pipeline hosts install to
// receive per-action side-effect callbacks. A Renderer's six methods
// collapse eight possible event kinds by folding each action's forward/
// error and inverse/error variants into one call carrying an error.
//
// This package adapts a pubsub-style Subscribe/Broadcast fan-out shape from
// asynchronous topic delivery to the engine's synchronous, strictly-ordered
// render contract.
package render

import (
	"context"

	"github.com/sirupsen/logrus"

	"chainkernel/core"
)

// Renderer receives block/reorg brackets and per-action forward ("render")
// or inverse ("unrender") callbacks (§4.5.1).
type Renderer interface {
	RenderBlock(ctx context.Context, oldTip, newTip *core.Block)
	RenderBlockEnd(ctx context.Context, oldTip, newTip *core.Block)
	RenderReorg(ctx context.Context, oldTip, newTip, branchpoint *core.Block)
	RenderReorgEnd(ctx context.Context, oldTip, newTip, branchpoint *core.Block)

	// RenderAction is the forward application of action. err is non-nil
	// when the action itself failed (render_action_error); nextStates is
	// nil in that case.
	RenderAction(ctx context.Context, action core.Action, actx *core.ActionContext, nextStates core.Delta, err error)
	// UnrenderAction is the inverse application played during a reorg's
	// rollback phase, in reverse evaluation order.
	UnrenderAction(ctx context.Context, action core.Action, actx *core.ActionContext, nextStates core.Delta, err error)
}

type flowKeyType struct{}

var flowKey flowKeyType

// NewFlow returns a context carrying a fresh flow token, so every renderer
// call the engine makes during one append/reorg cycle can be correlated
// even if another cycle interleaves concurrently (§4.5.3).
func NewFlow(ctx context.Context) context.Context {
	return context.WithValue(ctx, flowKey, new(int))
}

// flowToken extracts the opaque flow identity installed by NewFlow, or nil
// if ctx carries none.
func flowToken(ctx context.Context) any {
	return ctx.Value(flowKey)
}

// ActionEvent is one recorded render/unrender call, used by Dispatcher and
// DelayedRenderer to replay the §4.5.1 ordering contract.
type ActionEvent struct {
	Action     core.Action
	Ctx        *core.ActionContext
	NextStates core.Delta
	Err        error
	Unrender   bool
}

// BlockActions is every action event produced while evaluating one block,
// in forward evaluation order.
type BlockActions struct {
	Block   *core.Block
	Actions []ActionEvent
}

// Dispatcher fans render events out to every installed Renderer, following
// the append/reorg ordering contract (§4.5.1) and swallowing renderer
// panics/errors per §7 (a misbehaving renderer must not abort Append).
type Dispatcher struct {
	renderers []Renderer
	log       *logrus.Logger
}

// NewDispatcher builds a Dispatcher fanning out to renderers in order.
func NewDispatcher(log *logrus.Logger, renderers ...Renderer) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{renderers: renderers, log: log}
}

func (d *Dispatcher) safe(name string, f func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithField("renderer_panic", name).Warnf("renderer panicked, event lost: %v", r)
		}
	}()
	f()
}

// Append emits the plain-append event sequence for one newly appended block
// (no reorg brackets): render_block, each action forward, render_block_end.
func (d *Dispatcher) Append(ctx context.Context, oldTip, newTip *core.Block, actions []ActionEvent) {
	ctx = NewFlow(ctx)
	for _, r := range d.renderers {
		r := r
		d.safe("RenderBlock", func() { r.RenderBlock(ctx, oldTip, newTip) })
	}
	for _, a := range actions {
		d.emitAction(ctx, a)
	}
	for _, r := range d.renderers {
		r := r
		d.safe("RenderBlockEnd", func() { r.RenderBlockEnd(ctx, oldTip, newTip) })
	}
}

// Reorg emits the full reorg bracket (§4.5.1): reorg-start, block-start,
// unrenders for [branchpoint+1..oldTip] descending (each block's actions
// also played in reverse evaluation order), renders for [branchpoint+1..
// newTip] ascending, block-end, reorg-end. unrender is supplied in forward
// block and action order; Reorg itself reverses both for playback.
func (d *Dispatcher) Reorg(ctx context.Context, oldTip, newTip, branchpoint *core.Block, unrender, render []BlockActions) {
	ctx = NewFlow(ctx)
	for _, r := range d.renderers {
		r := r
		d.safe("RenderReorg", func() { r.RenderReorg(ctx, oldTip, newTip, branchpoint) })
	}
	for _, r := range d.renderers {
		r := r
		d.safe("RenderBlock", func() { r.RenderBlock(ctx, oldTip, newTip) })
	}
	for i := len(unrender) - 1; i >= 0; i-- {
		actions := unrender[i].Actions
		for j := len(actions) - 1; j >= 0; j-- {
			a := actions[j]
			a.Unrender = true
			d.emitAction(ctx, a)
		}
	}
	for _, blk := range render {
		for _, a := range blk.Actions {
			a.Unrender = false
			d.emitAction(ctx, a)
		}
	}
	for _, r := range d.renderers {
		r := r
		d.safe("RenderBlockEnd", func() { r.RenderBlockEnd(ctx, oldTip, newTip) })
	}
	for _, r := range d.renderers {
		r := r
		d.safe("RenderReorgEnd", func() { r.RenderReorgEnd(ctx, oldTip, newTip, branchpoint) })
	}
}

func (d *Dispatcher) emitAction(ctx context.Context, a ActionEvent) {
	for _, r := range d.renderers {
		r := r
		if a.Unrender {
			d.safe("UnrenderAction", func() { r.UnrenderAction(ctx, a.Action, a.Ctx, a.NextStates, a.Err) })
		} else {
			d.safe("RenderAction", func() { r.RenderAction(ctx, a.Action, a.Ctx, a.NextStates, a.Err) })
		}
	}
}
