package relay_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"duoescrow/core/events"
	"duoescrow/crypto"
	"duoescrow/native/bank"
	"duoescrow/native/escrow"
	"duoescrow/native/relay"
	"duoescrow/state"
	"duoescrow/storage"
)

var (
	buyer  = [20]byte{0x01}
	seller = [20]byte{0x02}
	token  = [20]byte{0x70}
	id     = [32]byte{0x5e}
)

func setup(t *testing.T) (*escrow.Ledger, *bank.Vault) {
	t.Helper()
	store := state.NewStore(storage.NewMemDB())
	vault := bank.NewVault(store)
	require.NoError(t, vault.RegisterToken(token, escrow.AssetFungible))
	require.NoError(t, vault.Credit(buyer, escrow.NativeAsset(), big.NewInt(1_000)))
	require.NoError(t, vault.Credit(seller, escrow.FungibleAsset(token), big.NewInt(1_000)))

	ledger := escrow.NewLedger()
	ledger.SetState(store)
	ledger.SetAssetMover(vault)
	ledger.SetDefaultCoordinator([20]byte{0xc0})
	_, err := ledger.CreateEscrow(escrow.CreateInput{
		ID:        id,
		Primary:   escrow.LegInput{Participant: buyer, Asset: escrow.NativeAsset(), Amount: big.NewInt(300)},
		Secondary: escrow.LegInput{Participant: seller, Asset: escrow.FungibleAsset(token), Amount: big.NewInt(40)},
	})
	require.NoError(t, err)
	return ledger, vault
}

func TestAddressIsDeterministic(t *testing.T) {
	require.Equal(t, relay.AddressFor(id), relay.AddressFor(id))
	require.NotEqual(t, relay.AddressFor(id), relay.AddressFor([32]byte{0x5f}))
}

func TestNewRequiresAgreement(t *testing.T) {
	ledger, vault := setup(t)
	_, err := relay.New([32]byte{0x01}, ledger, vault)
	require.ErrorIs(t, err, relay.ErrUnknownAgreement)
}

func TestRelaySweepsBothLegs(t *testing.T) {
	ledger, vault := setup(t)
	recorder := &events.Recorder{}
	r, err := relay.New(id, ledger, vault)
	require.NoError(t, err)
	r.SetEmitter(recorder)

	sweeps, err := r.Deposit(buyer, escrow.NativeAsset(), big.NewInt(300))
	require.NoError(t, err)
	require.Empty(t, sweeps)
	_, err = r.Deposit(seller, escrow.FungibleAsset(token), big.NewInt(40))
	require.NoError(t, err)

	sweeps, err = r.Relay()
	require.NoError(t, err)
	require.Len(t, sweeps, 2)

	a, err := ledger.GetEscrow(id)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusCompleted, a.Status)

	received, err := vault.Balance(buyer, escrow.FungibleAsset(token))
	require.NoError(t, err)
	require.Equal(t, int64(40), received.Int64())
	require.Equal(t, []string{relay.EventTypeSwept, relay.EventTypeSwept}, recorder.Types())

	sweeps, err = r.Relay()
	require.NoError(t, err)
	require.Empty(t, sweeps)
}

func TestAutoRelayForwardsNativeDeposits(t *testing.T) {
	ledger, vault := setup(t)
	registry := relay.NewRegistry(ledger, vault, true, nil)
	r, err := registry.For(id)
	require.NoError(t, err)
	again, err := registry.For(id)
	require.NoError(t, err)
	require.Same(t, r, again)

	sweeps, err := r.Deposit(buyer, escrow.NativeAsset(), big.NewInt(120))
	require.NoError(t, err)
	require.Len(t, sweeps, 1)
	a, err := ledger.GetEscrow(id)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusActive, a.Status)
	require.Equal(t, int64(120), a.Primary.Paid.Int64())

	held, err := vault.Balance(r.Address(), escrow.NativeAsset())
	require.NoError(t, err)
	require.Zero(t, held.Sign())
}

func TestRefundAllReturnsToPrimary(t *testing.T) {
	ledger, vault := setup(t)
	r, err := relay.New(id, ledger, vault)
	require.NoError(t, err)
	_, err = r.Deposit(seller, escrow.FungibleAsset(token), big.NewInt(25))
	require.NoError(t, err)

	refunded, err := r.RefundAll(escrow.FungibleAsset(token))
	require.NoError(t, err)
	require.Equal(t, int64(25), refunded.Int64())
	balance, err := vault.Balance(buyer, escrow.FungibleAsset(token))
	require.NoError(t, err)
	require.Equal(t, int64(25), balance.Int64())

	_, err = r.RefundAll(escrow.FungibleAsset(token))
	require.ErrorIs(t, err, relay.ErrNothingToRefund)
}

func TestRelayPaysInDepositorsName(t *testing.T) {
	ledger, vault := setup(t)
	payments := &events.Recorder{}
	ledger.SetEmitter(payments)
	r, err := relay.New(id, ledger, vault)
	require.NoError(t, err)

	_, err = r.Deposit(buyer, escrow.NativeAsset(), big.NewInt(100))
	require.NoError(t, err)
	_, err = r.Deposit(buyer, escrow.NativeAsset(), big.NewInt(50))
	require.NoError(t, err)
	// Funds sent to the address directly carry no depositor.
	require.NoError(t, vault.Transfer(buyer, r.Address(), escrow.NativeAsset(), big.NewInt(30)))

	sweeps, err := r.Relay()
	require.NoError(t, err)
	require.Len(t, sweeps, 2)
	require.Equal(t, buyer, sweeps[0].Depositor)
	require.Equal(t, int64(150), sweeps[0].Amount.Int64())
	require.Equal(t, r.Address(), sweeps[1].Depositor)
	require.Equal(t, int64(30), sweeps[1].Amount.Int64())

	var payers []string
	for _, evt := range payments.Events() {
		if evt.Type == escrow.EventTypePaymentReceived {
			payers = append(payers, evt.Attributes["payer"])
		}
	}
	require.Equal(t, []string{
		crypto.FromRaw(crypto.AccountPrefix, buyer).String(),
		crypto.FromRaw(crypto.AccountPrefix, r.Address()).String(),
	}, payers)

	a, err := ledger.GetEscrow(id)
	require.NoError(t, err)
	require.Equal(t, int64(180), a.Primary.Paid.Int64())
}

func TestRefundForgetsPendingDeposits(t *testing.T) {
	ledger, vault := setup(t)
	r, err := relay.New(id, ledger, vault)
	require.NoError(t, err)
	_, err = r.Deposit(buyer, escrow.NativeAsset(), big.NewInt(60))
	require.NoError(t, err)
	_, err = r.RefundAll(escrow.NativeAsset())
	require.NoError(t, err)

	require.NoError(t, vault.Transfer(seller, r.Address(), escrow.FungibleAsset(token), big.NewInt(10)))
	require.NoError(t, vault.Credit(r.Address(), escrow.NativeAsset(), big.NewInt(5)))
	sweeps, err := r.Relay()
	require.NoError(t, err)
	require.Len(t, sweeps, 2)
	for _, sweep := range sweeps {
		require.Equal(t, r.Address(), sweep.Depositor)
	}
}
