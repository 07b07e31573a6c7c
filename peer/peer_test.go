package peer_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chainkernel/core"
	"chainkernel/crypto"
	"chainkernel/engine"
	"chainkernel/peer"
	"chainkernel/policy"
	"chainkernel/render"
	"chainkernel/store/memstore"
)

func newTestProtocol(t *testing.T) (*peer.EngineProtocol, *engine.Chain) {
	t.Helper()
	st := memstore.New()
	id := core.ChainId{7}
	require.NoError(t, st.SetCanonicalChainID(id))
	backend := crypto.Secp256k1Backend{}
	eng := engine.New(id, st, policy.FixedDifficultyPolicy{Difficulty: 1}, backend, render.NewDispatcher(nil), nil)
	return peer.NewEngineProtocol(eng, st, backend, nil), eng
}

func TestEngineProtocolHandleReceivedBlockAppends(t *testing.T) {
	proto, eng := newTestProtocol(t)
	a1 := core.Address{0xA1}
	genesis, err := core.MineBlock(context.Background(), 0, 0, nil, &a1, nil, time.Now().UTC())
	require.NoError(t, err)

	require.NoError(t, proto.HandleReceivedBlock(genesis))

	status, err := eng.Status()
	require.NoError(t, err)
	require.Equal(t, int64(1), status.Length)
	require.Equal(t, genesis.Hash, status.TipHash)
}

func TestEngineProtocolHandleReceivedBlockRejectsInvalid(t *testing.T) {
	proto, _ := newTestProtocol(t)
	a1 := core.Address{0xA1}
	bogus, err := core.MineBlock(context.Background(), 5, 0, nil, &a1, nil, time.Now().UTC())
	require.NoError(t, err)

	err = proto.HandleReceivedBlock(bogus)
	require.Error(t, err)
}

func TestEngineProtocolHandleReceivedTxStagesIt(t *testing.T) {
	proto, _ := newTestProtocol(t)
	backend := crypto.Secp256k1Backend{}
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	pub, err := backend.PubkeyFromPrivate(priv)
	require.NoError(t, err)
	signer := backend.HashToAddress(pub)

	tx := &core.Transaction{Nonce: 0, Timestamp: time.Now().UTC(), UpdatedAddresses: map[core.Address]struct{}{signer: {}}}
	require.NoError(t, tx.Sign(backend, priv))

	require.NoError(t, proto.HandleReceivedTx(tx))

	staged, err := proto.Store.IterateStagedTxIDs()
	require.NoError(t, err)
	require.True(t, staged[tx.Id])

	got, ok, err := proto.Store.GetTx(tx.Id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, tx.Id, got.Id)
}

func TestEngineProtocolHandleReceivedTxRejectsBadSignature(t *testing.T) {
	proto, _ := newTestProtocol(t)
	backend := crypto.Secp256k1Backend{}
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	pub, err := backend.PubkeyFromPrivate(priv)
	require.NoError(t, err)
	signer := backend.HashToAddress(pub)

	tx := &core.Transaction{Nonce: 0, Timestamp: time.Now().UTC(), UpdatedAddresses: map[core.Address]struct{}{signer: {}}}
	require.NoError(t, tx.Sign(backend, priv))
	tx.Signature[0] ^= 0xFF

	err = proto.HandleReceivedTx(tx)
	require.Error(t, err)
}

func TestEngineProtocolLocatorAndFindNextHashesDelegateToChain(t *testing.T) {
	proto, eng := newTestProtocol(t)
	a1 := core.Address{0xA1}
	genesis, err := core.MineBlock(context.Background(), 0, 0, nil, &a1, nil, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, eng.Append(context.Background(), genesis))
	block1, err := core.MineBlock(context.Background(), 1, 1, &genesis.Hash, &a1, nil, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, eng.Append(context.Background(), block1))

	locator, err := proto.GetLocator()
	require.NoError(t, err)
	require.Equal(t, []core.HashDigest{block1.Hash, genesis.Hash}, locator)

	next, err := proto.FindNextHashes([]core.HashDigest{genesis.Hash}, nil, 0)
	require.NoError(t, err)
	require.Equal(t, []core.HashDigest{block1.Hash}, next)
}

func TestEngineProtocolGetBlocksByHashes(t *testing.T) {
	proto, eng := newTestProtocol(t)
	a1 := core.Address{0xA1}
	genesis, err := core.MineBlock(context.Background(), 0, 0, nil, &a1, nil, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, eng.Append(context.Background(), genesis))

	blocks, err := proto.GetBlocksByHashes([]core.HashDigest{genesis.Hash})
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Equal(t, genesis.Hash, blocks[0].Hash)

	_, err = proto.GetBlocksByHashes([]core.HashDigest{{0xFF}})
	require.Error(t, err)
}

func TestCanonicalCodecRoundTripsBlocksAndTxs(t *testing.T) {
	var codec peer.Codec = peer.CanonicalCodec{}

	backend := crypto.Secp256k1Backend{}
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	pub, err := backend.PubkeyFromPrivate(priv)
	require.NoError(t, err)
	signer := backend.HashToAddress(pub)
	tx := &core.Transaction{Nonce: 0, Timestamp: time.Now().UTC(), UpdatedAddresses: map[core.Address]struct{}{signer: {}}}
	require.NoError(t, tx.Sign(backend, priv))

	txData, err := codec.EncodeTx(tx)
	require.NoError(t, err)
	decodedTx, err := codec.DecodeTx(txData)
	require.NoError(t, err)
	require.Equal(t, tx.Id, decodedTx.Id)

	a1 := core.Address{0xA1}
	blk, err := core.MineBlock(context.Background(), 1, 1, &core.HashDigest{1}, &a1, []*core.Transaction{tx}, time.Now().UTC())
	require.NoError(t, err)

	blkData, err := codec.EncodeBlock(blk)
	require.NoError(t, err)
	decodedBlk, err := codec.DecodeBlock(blkData)
	require.NoError(t, err)
	require.Equal(t, blk.Hash, decodedBlk.Hash)
	require.Len(t, decodedBlk.Transactions, 1)
	require.Equal(t, tx.Id, decodedBlk.Transactions[0].Id)
}
