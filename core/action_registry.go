package core

import (
	"fmt"
	"sync"

	"chainkernel/canon"
)

// actionFactories maps a wire tag to a constructor for the host-defined
// Action it represents, enabling polymorphic decode of a transaction's
// action list (§9 "generic action parameter").
var (
	actionFactoriesMu sync.RWMutex
	actionFactories   = map[string]func() Action{}
)

// RegisterActionType installs the constructor for actions tagged tag. Hosts
// call this once per Action implementation, typically from an init func.
func RegisterActionType(tag string, factory func() Action) {
	actionFactoriesMu.Lock()
	defer actionFactoriesMu.Unlock()
	actionFactories[tag] = factory
}

func encodeAction(tag string, a Action) canon.Value {
	return canon.Dict{
		"type":  canon.Text(tag),
		"value": a.PlainValue(),
	}
}

// ActionTag identifies which registered type an Action instance wraps.
// EncodeAction, and so transaction encoding, fails for actions that do not
// implement it; the tag must match the one passed to RegisterActionType for
// the action to round-trip through DecodeAction.
type ActionTag interface {
	ActionTag() string
}

// EncodeAction encodes a into its wire dict form using a's ActionTag.
func EncodeAction(a Action) (canon.Value, error) {
	t, ok := a.(ActionTag)
	if !ok {
		return nil, fmt.Errorf("core: action %T does not implement ActionTag", a)
	}
	return encodeAction(t.ActionTag(), a), nil
}

// DecodeAction reconstructs an Action from its wire dict form using the
// registry populated by RegisterActionType.
func DecodeAction(v canon.Value) (Action, error) {
	d, ok := v.(canon.Dict)
	if !ok {
		return nil, fmt.Errorf("core: action value must be a dict")
	}
	tagVal, ok := d["type"]
	if !ok {
		return nil, fmt.Errorf("core: action dict missing type")
	}
	tag, ok := tagVal.(canon.Text)
	if !ok {
		return nil, fmt.Errorf("core: action type must be text")
	}
	actionFactoriesMu.RLock()
	factory, ok := actionFactories[string(tag)]
	actionFactoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("core: no action type registered for %q", tag)
	}
	a := factory()
	payload, ok := d["value"]
	if !ok {
		return nil, fmt.Errorf("core: action dict missing value")
	}
	if err := a.LoadPlainValue(payload); err != nil {
		return nil, err
	}
	return a, nil
}
