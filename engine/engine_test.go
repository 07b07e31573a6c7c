package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chainkernel/canon"
	"chainkernel/core"
	"chainkernel/crypto"
	"chainkernel/engine"
	"chainkernel/policy"
	"chainkernel/render"
	"chainkernel/store/memstore"
)

func newSignedTx(t *testing.T, nonce int64, actions ...core.Action) (*core.Transaction, []byte) {
	t.Helper()
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	tx := &core.Transaction{Nonce: nonce, Actions: actions, Timestamp: time.Now().UTC()}
	backend := crypto.Secp256k1Backend{}
	pub, err := backend.PubkeyFromPrivate(priv)
	require.NoError(t, err)
	signer := backend.HashToAddress(pub)
	tx.UpdatedAddresses = map[core.Address]struct{}{signer: {}}
	require.NoError(t, tx.Sign(backend, priv))
	return tx, priv
}

func mine(t *testing.T, index, difficulty int64, prev *core.HashDigest, miner *core.Address, txs []*core.Transaction) *core.Block {
	t.Helper()
	b, err := core.MineBlock(context.Background(), index, difficulty, prev, miner, txs, time.Now().UTC())
	require.NoError(t, err)
	return b
}

func newEngine(t *testing.T) (*engine.Chain, core.ChainId) {
	t.Helper()
	st := memstore.New()
	id := core.ChainId{1}
	require.NoError(t, st.SetCanonicalChainID(id))
	backend := crypto.Secp256k1Backend{}
	eng := engine.New(id, st, policy.FixedDifficultyPolicy{Difficulty: 1}, backend, render.NewDispatcher(nil), nil)
	return eng, id
}

// TestGenesisPlusOneBlock mirrors §8 scenario 1.
func TestGenesisPlusOneBlock(t *testing.T) {
	eng, _ := newEngine(t)
	a1 := core.Address{0xA1}
	genesis := mine(t, 0, 0, nil, &a1, nil)

	require.NoError(t, eng.Append(context.Background(), genesis))

	status, err := eng.Status()
	require.NoError(t, err)
	require.Equal(t, int64(1), status.Length)
	require.Equal(t, genesis.Hash, status.TipHash)
	require.NoError(t, genesis.ValidateStandalone(crypto.Secp256k1Backend{}, time.Now().Add(time.Hour)))
}

// TestActionStateAccumulates mirrors §8 scenario 2.
func TestActionStateAccumulates(t *testing.T) {
	eng, _ := newEngine(t)
	a1 := core.Address{0xA1}
	genesis := mine(t, 0, 0, nil, &a1, nil)
	require.NoError(t, eng.Append(context.Background(), genesis))

	tx, priv := newSignedTx(t, 0,
		&attack{Weapon: "sword", Target: "goblin"},
		&attack{Weapon: "sword", Target: "orc"},
		&attack{Weapon: "staff", Target: "goblin"},
	)
	b1 := mine(t, 1, 1, &genesis.Hash, &a1, []*core.Transaction{tx})
	require.NoError(t, eng.Append(context.Background(), b1))

	key := core.StateKey(tx.Signer.String())
	v, ok, err := eng.GetState(key)
	require.NoError(t, err)
	require.True(t, ok)
	d := v.(canon.Dict)
	weapons := map[string]struct{}{}
	targets := map[string]struct{}{}
	decodeStringSet(d, "used_weapons", weapons)
	decodeStringSet(d, "targets", targets)
	require.Contains(t, weapons, "sword")
	require.Contains(t, weapons, "staff")
	require.Contains(t, targets, "orc")
	require.Contains(t, targets, "goblin")

	tx2 := &core.Transaction{
		Nonce:            1,
		Actions:          []core.Action{&attack{Weapon: "bow", Target: "goblin"}},
		Timestamp:        time.Now().UTC(),
		UpdatedAddresses: map[core.Address]struct{}{tx.Signer: {}},
	}
	require.NoError(t, tx2.Sign(crypto.Secp256k1Backend{}, priv))
	b2 := mine(t, 2, 1, &b1.Hash, &a1, []*core.Transaction{tx2})
	require.NoError(t, eng.Append(context.Background(), b2))

	v, ok, err = eng.GetState(key)
	require.NoError(t, err)
	require.True(t, ok)
	weapons = map[string]struct{}{}
	decodeStringSet(v.(canon.Dict), "used_weapons", weapons)
	require.Contains(t, weapons, "bow")
}

// TestFindNextHashes mirrors §8 scenario 3.
func TestFindNextHashes(t *testing.T) {
	eng, _ := newEngine(t)
	a1 := core.Address{0xA1}
	block0 := mine(t, 0, 0, nil, &a1, nil)
	require.NoError(t, eng.Append(context.Background(), block0))
	block1 := mine(t, 1, 1, &block0.Hash, &a1, nil)
	require.NoError(t, eng.Append(context.Background(), block1))
	block2 := mine(t, 2, 1, &block1.Hash, &a1, nil)
	require.NoError(t, eng.Append(context.Background(), block2))
	block3 := mine(t, 3, 1, &block2.Hash, &a1, nil)
	require.NoError(t, eng.Append(context.Background(), block3))

	hashes, err := eng.FindNextHashes([]core.HashDigest{block0.Hash}, nil, 0)
	require.NoError(t, err)
	require.Equal(t, []core.HashDigest{block1.Hash, block2.Hash, block3.Hash}, hashes)

	hashes, err = eng.FindNextHashes([]core.HashDigest{block0.Hash}, &block2.Hash, 0)
	require.NoError(t, err)
	require.Equal(t, []core.HashDigest{block1.Hash, block2.Hash}, hashes)

	hashes, err = eng.FindNextHashes([]core.HashDigest{block0.Hash}, nil, 2)
	require.NoError(t, err)
	require.Equal(t, []core.HashDigest{block1.Hash, block2.Hash}, hashes)
}

// TestForkSwitchesCanonicalChain mirrors §8's reorg contract: a rival branch
// with greater length reaching the engine via Fork produces a fresh chain
// id carrying the shared prefix plus the rival blocks, marked canonical.
func TestForkSwitchesCanonicalChain(t *testing.T) {
	st := memstore.New()
	id := core.ChainId{1}
	require.NoError(t, st.SetCanonicalChainID(id))
	backend := crypto.Secp256k1Backend{}
	eng := engine.New(id, st, policy.FixedDifficultyPolicy{Difficulty: 1}, backend, render.NewDispatcher(nil), nil)

	a1 := core.Address{0xA1}
	genesis := mine(t, 0, 0, nil, &a1, nil)
	require.NoError(t, eng.Append(context.Background(), genesis))
	b1 := mine(t, 1, 1, &genesis.Hash, &a1, nil)
	require.NoError(t, eng.Append(context.Background(), b1))

	rival1 := mine(t, 1, 1, &genesis.Hash, &a1, nil)
	time.Sleep(time.Millisecond)
	rival2 := mine(t, 2, 1, &rival1.Hash, &a1, nil)
	require.NoError(t, st.PutBlock(rival1))
	require.NoError(t, st.PutBlock(rival2))

	fetch := func(h core.HashDigest) (*core.Block, bool, error) { return st.GetBlock(h) }
	dest, err := eng.Fork(context.Background(), rival2, fetch)
	require.NoError(t, err)

	canonical, ok, err := st.GetCanonicalChainID()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, dest, canonical)

	count, err := st.CountIndex(dest)
	require.NoError(t, err)
	require.Equal(t, int64(3), count)

	tip, ok, err := st.IndexBlockHash(dest, -1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rival2.Hash, tip)
}

// recordingRenderer captures attack actions as they're rendered/unrendered,
// in the order the dispatcher calls them.
type recordingRenderer struct {
	rendered   []string
	unrendered []string
}

func (r *recordingRenderer) RenderBlock(ctx context.Context, oldTip, newTip *core.Block)        {}
func (r *recordingRenderer) RenderBlockEnd(ctx context.Context, oldTip, newTip *core.Block)     {}
func (r *recordingRenderer) RenderReorg(ctx context.Context, oldTip, newTip, bp *core.Block)    {}
func (r *recordingRenderer) RenderReorgEnd(ctx context.Context, oldTip, newTip, bp *core.Block) {}

func (r *recordingRenderer) RenderAction(ctx context.Context, action core.Action, actx *core.ActionContext, next core.Delta, err error) {
	if a, ok := action.(*attack); ok {
		r.rendered = append(r.rendered, a.Weapon+"/"+a.Target)
	}
}

func (r *recordingRenderer) UnrenderAction(ctx context.Context, action core.Action, actx *core.ActionContext, next core.Delta, err error) {
	if a, ok := action.(*attack); ok {
		r.unrendered = append(r.unrendered, a.Weapon+"/"+a.Target)
	}
}

var _ render.Renderer = (*recordingRenderer)(nil)

// TestForkEmitsUnrenderEventsInReverseOrder mirrors §8's reorg invariant:
// unrender events cover exactly [branchpoint+1..old_tip] reversed, with each
// block's own actions also played in reverse evaluation order.
func TestForkEmitsUnrenderEventsInReverseOrder(t *testing.T) {
	st := memstore.New()
	id := core.ChainId{9}
	require.NoError(t, st.SetCanonicalChainID(id))
	backend := crypto.Secp256k1Backend{}
	rec := &recordingRenderer{}
	eng := engine.New(id, st, policy.FixedDifficultyPolicy{Difficulty: 1}, backend, render.NewDispatcher(nil, rec), nil)

	a1 := core.Address{0xA1}
	genesis := mine(t, 0, 0, nil, &a1, nil)
	require.NoError(t, eng.Append(context.Background(), genesis))

	tx1, _ := newSignedTx(t, 0, &attack{Weapon: "sword", Target: "goblin"})
	b1 := mine(t, 1, 1, &genesis.Hash, &a1, []*core.Transaction{tx1})
	require.NoError(t, eng.Append(context.Background(), b1))

	tx2, _ := newSignedTx(t, 0, &attack{Weapon: "axe", Target: "troll"})
	b2 := mine(t, 2, 1, &b1.Hash, &a1, []*core.Transaction{tx2})
	require.NoError(t, eng.Append(context.Background(), b2))

	rivalTx, _ := newSignedTx(t, 0, &attack{Weapon: "bow", Target: "orc"})
	rival1 := mine(t, 1, 1, &genesis.Hash, &a1, []*core.Transaction{rivalTx})
	time.Sleep(time.Millisecond)
	rival2 := mine(t, 2, 1, &rival1.Hash, &a1, nil)
	require.NoError(t, st.PutBlock(rival1))
	require.NoError(t, st.PutBlock(rival2))

	fetch := func(h core.HashDigest) (*core.Block, bool, error) { return st.GetBlock(h) }
	_, err := eng.Fork(context.Background(), rival2, fetch)
	require.NoError(t, err)

	require.Equal(t, []string{"axe/troll", "sword/goblin"}, rec.unrendered)
	require.Equal(t, []string{"bow/orc"}, rec.rendered)
}
