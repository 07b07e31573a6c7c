// Package policy defines the BlockPolicy contract the engine consumes for
// everything about block production the core treats as external (§4.6):
// difficulty scheduling, additional per-block validation, and an optional
// block-level action (e.g. a miner reward) run once per block.
//
// The source's difficulty-adjustment rule is only partially specified (a
// two-window comparison against a fixed 5-second interval, §9 open
// question); rather than guess intent this package ships a simple, fully
// specified reference policy and leaves real retargeting to the host.
package policy

import (
	"chainkernel/core"
)

// BlockPolicy is the pluggable collaborator the engine asks for difficulty
// targets, additional block acceptance rules, and an optional block-level
// action.
type BlockPolicy interface {
	// GetNextDifficulty returns the minimum acceptable difficulty for the
	// block that would extend chain's current tip.
	GetNextDifficulty(chain core.ChainId) (int64, error)

	// ValidateNextBlock runs policy-specific validation (beyond §4.3.1's
	// structural rules) over a candidate extending chain's tip. A non-nil
	// error rejects the block.
	ValidateNextBlock(chain core.ChainId, b *core.Block) error

	// BlockAction optionally returns one action the engine executes once
	// per block, after the block's own transactions (e.g. a miner reward).
	// A nil return means no block-level action runs.
	BlockAction(chain core.ChainId, b *core.Block) (core.Action, error)
}

// FixedDifficultyPolicy is the simplest conforming BlockPolicy: a constant
// difficulty for every non-genesis block, no extra validation, and no
// block-level action. It is a reasonable default for embedding contexts
// (games, test harnesses) that don't need real retargeting.
type FixedDifficultyPolicy struct {
	Difficulty int64
}

func (p FixedDifficultyPolicy) GetNextDifficulty(core.ChainId) (int64, error) {
	return p.Difficulty, nil
}

func (p FixedDifficultyPolicy) ValidateNextBlock(core.ChainId, *core.Block) error { return nil }

func (p FixedDifficultyPolicy) BlockAction(core.ChainId, *core.Block) (core.Action, error) {
	return nil, nil
}

var _ BlockPolicy = FixedDifficultyPolicy{}
