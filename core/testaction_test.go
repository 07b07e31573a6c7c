package core_test

import (
	"fmt"

	"chainkernel/canon"
	"chainkernel/core"
)

// setAction is a minimal test fixture: it writes a single literal value to
// a single state key, so tests can exercise encode/decode and evaluation
// without depending on any particular host application's action set.
type setAction struct {
	Key   core.StateKey
	Value string
}

func (a *setAction) Execute(ctx *core.ActionContext) (core.Delta, error) {
	return core.Delta{a.Key: canon.Text(a.Value)}, nil
}

func (a *setAction) PlainValue() canon.Value {
	return canon.Dict{"key": canon.Text(string(a.Key)), "value": canon.Text(a.Value)}
}

func (a *setAction) LoadPlainValue(v canon.Value) error {
	d, ok := v.(canon.Dict)
	if !ok {
		return fmt.Errorf("setAction: expected dict")
	}
	key, ok := d["key"].(canon.Text)
	if !ok {
		return fmt.Errorf("setAction: missing key")
	}
	val, ok := d["value"].(canon.Text)
	if !ok {
		return fmt.Errorf("setAction: missing value")
	}
	a.Key = core.StateKey(key)
	a.Value = string(val)
	return nil
}

func (a *setAction) ActionTag() string { return "set" }

func init() {
	core.RegisterActionType("set", func() core.Action { return &setAction{} })
}
