package engine_test

import (
	"chainkernel/canon"
	"chainkernel/core"
)

// attack is the test fixture action for scenario 2 (§8): each attack adds
// its weapon and target to the acting signer's accumulated sets.
type attack struct {
	Weapon string
	Target string
}

func (a *attack) Execute(ctx *core.ActionContext) (core.Delta, error) {
	key := core.StateKey(ctx.Signer.String())
	weapons := map[string]struct{}{}
	targets := map[string]struct{}{}
	if prev, ok, err := ctx.PreviousStates(key); err == nil && ok {
		if d, ok := prev.(canon.Dict); ok {
			decodeStringSet(d, "used_weapons", weapons)
			decodeStringSet(d, "targets", targets)
		}
	}
	weapons[a.Weapon] = struct{}{}
	targets[a.Target] = struct{}{}

	return core.Delta{
		key: canon.Dict{
			"used_weapons": stringSetValue(weapons),
			"targets":      stringSetValue(targets),
		},
	}, nil
}

func decodeStringSet(d canon.Dict, field string, into map[string]struct{}) {
	l, ok := d[field].(canon.List)
	if !ok {
		return
	}
	for _, v := range l {
		if t, ok := v.(canon.Text); ok {
			into[string(t)] = struct{}{}
		}
	}
}

func stringSetValue(set map[string]struct{}) canon.Value {
	l := make(canon.List, 0, len(set))
	for s := range set {
		l = append(l, canon.Text(s))
	}
	return l
}

func (a *attack) PlainValue() canon.Value {
	return canon.Dict{"weapon": canon.Text(a.Weapon), "target": canon.Text(a.Target)}
}

func (a *attack) LoadPlainValue(v canon.Value) error {
	d, ok := v.(canon.Dict)
	if !ok {
		return core.ErrInvalidTxUpdatedAddresses
	}
	if w, ok := d["weapon"].(canon.Text); ok {
		a.Weapon = string(w)
	}
	if t, ok := d["target"].(canon.Text); ok {
		a.Target = string(t)
	}
	return nil
}

func (a *attack) ActionTag() string { return "attack" }

func init() {
	core.RegisterActionType("attack", func() core.Action { return &attack{} })
}
