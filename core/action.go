package core

import "chainkernel/canon"

// Delta is the set of state-key writes an action (or a whole block)
// produces, keyed by the StateKey each value belongs to.
type Delta map[StateKey]canon.Value

// Clone returns a shallow copy safe for independent mutation of the map.
func (d Delta) Clone() Delta {
	out := make(Delta, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// PreviousStates is the lazy accessor an ActionContext exposes for reading
// state as seen by the executing action: writes made by earlier actions in
// the same block, over the state as of the block immediately preceding it.
type PreviousStates func(key StateKey) (canon.Value, bool, error)

// ActionContext is the read-only environment an Action executes in (§4.3.2).
type ActionContext struct {
	Signer         Address
	Miner          Address
	BlockIndex     int64
	BlockHash      HashDigest
	RandomSeed     int32
	PreviousStates PreviousStates
}

// Action is a deterministic state-transforming step within a transaction.
// Implementations are host-defined; the engine only ever calls Execute and
// round-trips values through PlainValue/LoadPlainValue for storage.
type Action interface {
	// Execute runs the action against ctx and returns the state delta it
	// produces. A non-nil error does not abort the containing block; it is
	// recorded and surfaced as a render_action_error event (§4.3.2, §4.5.1).
	Execute(ctx *ActionContext) (Delta, error)

	// PlainValue returns the action's canonical-encodable representation,
	// used when a transaction is serialized.
	PlainValue() canon.Value

	// LoadPlainValue populates the action from a previously produced
	// PlainValue. It is invoked by the host's action registry during
	// transaction deserialization.
	LoadPlainValue(v canon.Value) error
}
