package bank

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"duoescrow/core/events"
	"duoescrow/native/escrow"
	"duoescrow/state"
	"duoescrow/storage"
)

var (
	alice = [20]byte{0xa1}
	bob   = [20]byte{0xb0}
	token = [20]byte{0x70}
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	vault, _ := newStoreVault(t)
	return vault
}

func newStoreVault(t *testing.T) (*Vault, *state.Store) {
	t.Helper()
	store := state.NewStore(storage.NewMemDB())
	vault := NewVault(store)
	require.NoError(t, vault.RegisterToken(token, escrow.AssetFungible))
	require.NoError(t, vault.Credit(alice, escrow.NativeAsset(), big.NewInt(1_000)))
	require.NoError(t, vault.Credit(alice, escrow.FungibleAsset(token), big.NewInt(50)))
	return vault, store
}

func balanceOf(t *testing.T, v *Vault, owner [20]byte, asset escrow.Asset) int64 {
	t.Helper()
	amount, err := v.Balance(owner, asset)
	require.NoError(t, err)
	return amount.Int64()
}

func TestVaultTransferAndProbe(t *testing.T) {
	vault := newTestVault(t)
	require.True(t, vault.IsFungibleToken(token))
	require.False(t, vault.IsFungibleToken([20]byte{0x71}))

	require.NoError(t, vault.Transfer(alice, bob, escrow.NativeAsset(), big.NewInt(400)))
	require.Equal(t, int64(600), balanceOf(t, vault, alice, escrow.NativeAsset()))
	require.Equal(t, int64(400), balanceOf(t, vault, bob, escrow.NativeAsset()))

	err := vault.Transfer(bob, alice, escrow.NativeAsset(), big.NewInt(401))
	require.True(t, errors.Is(err, ErrInsufficientBalance), "got %v", err)

	err = vault.Transfer(alice, bob, escrow.NonFungibleAsset(token), big.NewInt(1))
	require.True(t, errors.Is(err, ErrUnknownToken), "got %v", err)

	require.ErrorIs(t, vault.Transfer(alice, bob, escrow.NativeAsset(), big.NewInt(0)), ErrInvalidAmount)
}

func TestVaultStagePullThenPayout(t *testing.T) {
	vault, store := newStoreVault(t)
	recorder := &events.Recorder{}
	vault.SetEmitter(recorder)

	err := store.Update(func(txn escrow.Txn) error {
		return vault.Stage(txn, escrow.Movement{
			Payer:  alice,
			Asset:  escrow.NativeAsset(),
			Amount: big.NewInt(300),
			Payouts: []escrow.Transfer{
				{To: bob, Asset: escrow.NativeAsset(), Amount: big.NewInt(290)},
				{To: [20]byte{0xfe}, Asset: escrow.NativeAsset(), Amount: big.NewInt(10)},
			},
		})
	})
	require.NoError(t, err)
	require.Equal(t, int64(700), balanceOf(t, vault, alice, escrow.NativeAsset()))
	require.Equal(t, int64(0), balanceOf(t, vault, vault.Custody(), escrow.NativeAsset()))
	require.Equal(t, int64(290), balanceOf(t, vault, bob, escrow.NativeAsset()))
	require.Equal(t, []string{events.TypeTransfer, events.TypeTransfer, events.TypeTransfer}, recorder.Types())
}

func TestVaultStageIsAllOrNothing(t *testing.T) {
	vault, store := newStoreVault(t)
	recorder := &events.Recorder{}
	vault.SetEmitter(recorder)

	err := store.Update(func(txn escrow.Txn) error {
		return vault.Stage(txn, escrow.Movement{
			Payer:  alice,
			Asset:  escrow.NativeAsset(),
			Amount: big.NewInt(100),
			Payouts: []escrow.Transfer{
				{To: bob, Asset: escrow.NativeAsset(), Amount: big.NewInt(60)},
				{To: bob, Asset: escrow.NativeAsset(), Amount: big.NewInt(60)},
			},
		})
	})
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.Equal(t, int64(1_000), balanceOf(t, vault, alice, escrow.NativeAsset()))
	require.Equal(t, int64(0), balanceOf(t, vault, vault.Custody(), escrow.NativeAsset()))
	require.Equal(t, int64(0), balanceOf(t, vault, bob, escrow.NativeAsset()))
	require.Empty(t, recorder.Types())
}

func TestVaultStageRejectsEmptyMovements(t *testing.T) {
	vault, store := newStoreVault(t)
	cases := []escrow.Movement{
		{},
		{Payer: alice, Asset: escrow.NativeAsset(), Amount: big.NewInt(-1)},
		{Payouts: []escrow.Transfer{{To: bob, Asset: escrow.NativeAsset(), Amount: big.NewInt(0)}}},
	}
	for _, m := range cases {
		err := store.Update(func(txn escrow.Txn) error { return vault.Stage(txn, m) })
		require.ErrorIs(t, err, ErrInvalidAmount)
	}
	err := store.Update(func(txn escrow.Txn) error {
		return vault.Stage(txn, escrow.Movement{Payouts: []escrow.Transfer{{Asset: escrow.NativeAsset(), Amount: big.NewInt(1)}}})
	})
	require.Error(t, err)
}

func TestVaultBalances(t *testing.T) {
	vault := newTestVault(t)
	holdings, err := vault.Balances(alice)
	require.NoError(t, err)
	require.Len(t, holdings, 2)
	require.Equal(t, escrow.NativeAsset(), holdings[0].Asset)
	require.Equal(t, int64(1_000), holdings[0].Amount.Int64())
	require.Equal(t, escrow.FungibleAsset(token), holdings[1].Asset)
	require.Equal(t, int64(50), holdings[1].Amount.Int64())
}

func TestVaultRegisterTokenValidation(t *testing.T) {
	vault := NewVault(state.NewStore(storage.NewMemDB()))
	require.ErrorIs(t, vault.RegisterToken([20]byte{}, escrow.AssetFungible), ErrInvalidToken)
	require.ErrorIs(t, vault.RegisterToken(token, escrow.AssetNative), ErrInvalidToken)
}
