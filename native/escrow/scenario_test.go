package escrow_test

import (
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"duoescrow/native/bank"
	"duoescrow/native/escrow"
	"duoescrow/native/fees"
	"duoescrow/state"
	"duoescrow/storage"
)

var (
	buyer       = [20]byte{0x01}
	seller      = [20]byte{0x02}
	coordinator = [20]byte{0xc0}
	platform    = [20]byte{0xfe}
	tokenX      = [20]byte{0x70, 0x78}
)

type harness struct {
	ledger *escrow.Ledger
	vault  *bank.Vault
	store  *state.Store
}

var errDiskFull = errors.New("disk full")

// flakyDB fails the next batch write once armed.
type flakyDB struct {
	*storage.MemDB
	failNext atomic.Bool
}

func (db *flakyDB) NewBatch() storage.Batch {
	return &flakyBatch{Batch: db.MemDB.NewBatch(), db: db}
}

type flakyBatch struct {
	storage.Batch
	db *flakyDB
}

func (b *flakyBatch) Write() error {
	if b.db.failNext.CompareAndSwap(true, false) {
		return errDiskFull
	}
	return b.Batch.Write()
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessOn(t, storage.NewMemDB())
}

func newHarnessOn(t *testing.T, db storage.Database) *harness {
	t.Helper()
	store := state.NewStore(db)
	vault := bank.NewVault(store)
	require.NoError(t, vault.RegisterToken(tokenX, escrow.AssetFungible))
	require.NoError(t, vault.Credit(buyer, escrow.FungibleAsset(tokenX), big.NewInt(50_000_000)))
	require.NoError(t, vault.Credit(seller, escrow.NativeAsset(), big.NewInt(50_000_000)))

	ledger := escrow.NewLedger()
	ledger.SetState(store)
	ledger.SetAssetMover(vault)
	ledger.SetDefaultCoordinator(coordinator)
	return &harness{ledger: ledger, vault: vault, store: store}
}

func (h *harness) balance(t *testing.T, owner [20]byte, asset escrow.Asset) *big.Int {
	t.Helper()
	amount, err := h.vault.Balance(owner, asset)
	require.NoError(t, err)
	return amount
}

func exchangeInput() escrow.CreateInput {
	return escrow.CreateInput{
		ID:        [32]byte{0xaa},
		Primary:   escrow.LegInput{Participant: buyer, Asset: escrow.FungibleAsset(tokenX), Amount: big.NewInt(10_000_001)},
		Secondary: escrow.LegInput{Participant: seller, Asset: escrow.NativeAsset(), Amount: big.NewInt(20_000_002)},
	}
}

func requireLegInvariant(t *testing.T, a *escrow.Agreement) {
	t.Helper()
	for _, leg := range []escrow.Leg{a.Primary, a.Secondary} {
		settled := new(big.Int).Add(leg.Released, leg.Refunded)
		require.LessOrEqual(t, settled.Cmp(leg.Paid), 0, "released+refunded exceeds paid")
	}
}

func TestFullPaymentOfBothLegsCompletes(t *testing.T) {
	h := newHarness(t)
	input := exchangeInput()
	_, err := h.ledger.CreateEscrow(input)
	require.NoError(t, err)

	a, err := h.ledger.PlacePayment(input.ID, escrow.FungibleAsset(tokenX), big.NewInt(10_000_001), buyer)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusActive, a.Status)
	require.Equal(t, "10000001", a.Primary.Paid.String())
	requireLegInvariant(t, a)

	a, err = h.ledger.PlacePayment(input.ID, escrow.NativeAsset(), big.NewInt(20_000_002), seller)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusCompleted, a.Status)
	require.Zero(t, a.Primary.Released.Cmp(a.Primary.Paid))
	require.Zero(t, a.Secondary.Released.Cmp(a.Secondary.Paid))
	requireLegInvariant(t, a)

	require.Equal(t, "10000001", h.balance(t, seller, escrow.FungibleAsset(tokenX)).String())
	require.Equal(t, "20000002", h.balance(t, buyer, escrow.NativeAsset()).String())
	require.Zero(t, h.balance(t, h.vault.Custody(), escrow.NativeAsset()).Sign())
	require.Zero(t, h.balance(t, h.vault.Custody(), escrow.FungibleAsset(tokenX)).Sign())
}

func TestFeeCutsConserveReleasedValue(t *testing.T) {
	h := newHarness(t)
	h.ledger.SetPlatformFee(fees.Definition{Recipient: platform, Bps: 30})
	input := exchangeInput()
	input.Fees = []fees.Definition{{Recipient: [20]byte{0xfd}, Bps: 70}}
	_, err := h.ledger.CreateEscrow(input)
	require.NoError(t, err)

	_, err = h.ledger.PlacePayment(input.ID, escrow.FungibleAsset(tokenX), big.NewInt(10_000_001), buyer)
	require.NoError(t, err)
	_, err = h.ledger.PlacePayment(input.ID, escrow.NativeAsset(), big.NewInt(20_000_002), seller)
	require.NoError(t, err)

	received := h.balance(t, seller, escrow.FungibleAsset(tokenX))
	platformCut := h.balance(t, platform, escrow.FungibleAsset(tokenX))
	partnerCut := h.balance(t, [20]byte{0xfd}, escrow.FungibleAsset(tokenX))
	require.Equal(t, "30000", platformCut.String())
	require.Equal(t, "70000", partnerCut.String())
	total := new(big.Int).Add(received, platformCut)
	total.Add(total, partnerCut)
	require.Equal(t, "10000001", total.String())
}

func TestCreateRejectsSameCurrencyAndDuplicateID(t *testing.T) {
	h := newHarness(t)
	input := exchangeInput()
	input.Secondary.Asset = escrow.FungibleAsset(tokenX)
	_, err := h.ledger.CreateEscrow(input)
	require.ErrorIs(t, err, escrow.ErrCurrencyMismatch)

	input = exchangeInput()
	_, err = h.ledger.CreateEscrow(input)
	require.NoError(t, err)
	_, err = h.ledger.CreateEscrow(input)
	require.ErrorIs(t, err, escrow.ErrDuplicateAgreement)
}

func TestUnderfundedPayerLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	input := exchangeInput()
	_, err := h.ledger.CreateEscrow(input)
	require.NoError(t, err)

	_, err = h.ledger.PlacePayment(input.ID, escrow.NativeAsset(), big.NewInt(20_000_002), buyer)
	require.True(t, errors.Is(err, escrow.ErrTransferFailed))
	require.True(t, errors.Is(err, bank.ErrInsufficientBalance))

	a, err := h.ledger.GetEscrow(input.ID)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusPending, a.Status)
	require.Zero(t, a.Secondary.Paid.Sign())
}

func TestFailedAutoReleaseKeepsPayerFunds(t *testing.T) {
	h := newHarness(t)
	input := exchangeInput()
	_, err := h.ledger.CreateEscrow(input)
	require.NoError(t, err)
	_, err = h.ledger.PlacePayment(input.ID, escrow.FungibleAsset(tokenX), big.NewInt(10_000_001), buyer)
	require.NoError(t, err)

	// Custody can no longer cover the primary release.
	require.NoError(t, h.vault.Transfer(h.vault.Custody(), platform, escrow.FungibleAsset(tokenX), big.NewInt(1)))

	_, err = h.ledger.PlacePayment(input.ID, escrow.NativeAsset(), big.NewInt(20_000_002), seller)
	require.ErrorIs(t, err, escrow.ErrTransferFailed)
	require.ErrorIs(t, err, bank.ErrInsufficientBalance)

	require.Equal(t, "50000000", h.balance(t, seller, escrow.NativeAsset()).String())
	require.Zero(t, h.balance(t, h.vault.Custody(), escrow.NativeAsset()).Sign())
	require.Zero(t, h.balance(t, seller, escrow.FungibleAsset(tokenX)).Sign())
	a, err := h.ledger.GetEscrow(input.ID)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusActive, a.Status)
	require.Zero(t, a.Secondary.Paid.Sign())
}

func TestFailedWriteLeavesBalancesAndAgreement(t *testing.T) {
	db := &flakyDB{MemDB: storage.NewMemDB()}
	h := newHarnessOn(t, db)
	input := exchangeInput()
	_, err := h.ledger.CreateEscrow(input)
	require.NoError(t, err)
	_, err = h.ledger.PlacePayment(input.ID, escrow.FungibleAsset(tokenX), big.NewInt(10_000_001), buyer)
	require.NoError(t, err)

	db.failNext.Store(true)
	_, err = h.ledger.PlacePayment(input.ID, escrow.NativeAsset(), big.NewInt(20_000_002), seller)
	require.ErrorIs(t, err, errDiskFull)

	require.Equal(t, "50000000", h.balance(t, seller, escrow.NativeAsset()).String())
	require.Equal(t, "10000001", h.balance(t, h.vault.Custody(), escrow.FungibleAsset(tokenX)).String())
	a, err := h.ledger.GetEscrow(input.ID)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusActive, a.Status)
	require.Zero(t, a.Secondary.Paid.Sign())

	a, err = h.ledger.PlacePayment(input.ID, escrow.NativeAsset(), big.NewInt(20_000_002), seller)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusCompleted, a.Status)
	require.Equal(t, "10000001", h.balance(t, seller, escrow.FungibleAsset(tokenX)).String())
	require.Equal(t, "20000002", h.balance(t, buyer, escrow.NativeAsset()).String())
}

func TestConcurrentPaymentsAccumulate(t *testing.T) {
	h := newHarness(t)
	input := exchangeInput()
	_, err := h.ledger.CreateEscrow(input)
	require.NoError(t, err)

	const workers = 25
	const amount = 1_000
	var wg sync.WaitGroup
	errs := make(chan error, 2*workers)
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := h.ledger.PlacePayment(input.ID, escrow.FungibleAsset(tokenX), big.NewInt(amount), buyer)
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := h.ledger.PlacePayment(input.ID, escrow.NativeAsset(), big.NewInt(amount), seller)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	a, err := h.ledger.GetEscrow(input.ID)
	require.NoError(t, err)
	require.Equal(t, escrow.StatusActive, a.Status)
	require.Equal(t, int64(workers*amount), a.Primary.Paid.Int64())
	require.Equal(t, int64(workers*amount), a.Secondary.Paid.Int64())
	require.Equal(t, int64(workers*amount), h.balance(t, h.vault.Custody(), escrow.FungibleAsset(tokenX)).Int64())
	require.Equal(t, int64(workers*amount), h.balance(t, h.vault.Custody(), escrow.NativeAsset()).Int64())
	require.Equal(t, int64(50_000_000-workers*amount), h.balance(t, buyer, escrow.FungibleAsset(tokenX)).Int64())
	require.Equal(t, int64(50_000_000-workers*amount), h.balance(t, seller, escrow.NativeAsset()).Int64())
}
