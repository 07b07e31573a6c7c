package core_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chainkernel/core"
	"chainkernel/crypto"
)

func mustTx(t *testing.T, nonce int64, actions ...core.Action) *core.Transaction {
	t.Helper()
	backend := crypto.Secp256k1Backend{}
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	pub, err := backend.PubkeyFromPrivate(priv)
	require.NoError(t, err)
	signer := backend.HashToAddress(pub)

	tx := &core.Transaction{
		Nonce:            nonce,
		UpdatedAddresses: map[core.Address]struct{}{signer: {}},
		Timestamp:        time.Now().UTC(),
		Actions:          actions,
	}
	require.NoError(t, tx.Sign(backend, priv))
	return tx
}

func TestTransactionSignVerifyRoundTrip(t *testing.T) {
	tx := mustTx(t, 0, &setAction{Key: "k1", Value: "v1"})
	backend := crypto.Secp256k1Backend{}
	require.NoError(t, tx.VerifySignature(backend))
}

func TestTransactionIdUniquelyIdentifiesTx(t *testing.T) {
	tx1 := mustTx(t, 0, &setAction{Key: "k1", Value: "v1"})
	tx2 := mustTx(t, 0, &setAction{Key: "k1", Value: "v1"})
	require.NotEqual(t, tx1.Id, tx2.Id, "distinct signers/timestamps must not collide")
}

func TestCheckUpdatedAddressesRejectsUndeclaredWrites(t *testing.T) {
	tx := mustTx(t, 0, &setAction{Key: "k1", Value: "v1"})
	other := core.Address{0xAA}
	err := tx.CheckUpdatedAddresses(map[core.Address]struct{}{other: {}})
	require.ErrorIs(t, err, core.ErrInvalidTxUpdatedAddresses)
}

func TestTransactionEncodeDecodeActionsRoundTrip(t *testing.T) {
	tx := mustTx(t, 3, &setAction{Key: "k1", Value: "v1"})
	v, err := core.EncodeAction(tx.Actions[0])
	require.NoError(t, err)
	decoded, err := core.DecodeAction(v)
	require.NoError(t, err)
	got := decoded.(*setAction)
	require.Equal(t, "k1", string(got.Key))
	require.Equal(t, "v1", got.Value)
}
