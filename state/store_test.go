package state

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"duoescrow/native/arbitration"
	"duoescrow/native/escrow"
	"duoescrow/native/fees"
	"duoescrow/storage"
)

func sampleAgreement() *escrow.Agreement {
	return &escrow.Agreement{
		ID: [32]byte{0x11},
		Primary: escrow.Leg{
			Participant: [20]byte{0x01},
			Asset:       escrow.FungibleAsset([20]byte{0x70}),
			Pledged:     big.NewInt(10_000_001),
			Paid:        big.NewInt(5),
			Released:    big.NewInt(1),
			Refunded:    big.NewInt(2),
		},
		Secondary: escrow.Leg{
			Participant: [20]byte{0x02},
			Asset:       escrow.NativeAsset(),
			Pledged:     big.NewInt(20_000_002),
			Paid:        big.NewInt(0),
			Released:    big.NewInt(0),
			Refunded:    big.NewInt(0),
		},
		CreatedAt: 1_700_000_000,
		StartTime: 1_700_000_100,
		EndTime:   1_700_090_000,
		Status:    escrow.StatusArbitration,
		Arbitration: escrow.ArbitrationDefinition{
			Arbiters:    [][20]byte{{0xa1}, {0xa2}},
			Coordinator: [20]byte{0xc0},
			Quorum:      2,
		},
		Fees: []fees.Definition{{Recipient: [20]byte{0xfe}, Bps: 125}},
	}
}

func putAgreement(store *Store, a *escrow.Agreement) error {
	return store.Update(func(txn escrow.Txn) error { return txn.AgreementPut(a) })
}

func TestAgreementRoundTrip(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	original := sampleAgreement()
	require.NoError(t, putAgreement(store, original))

	loaded, ok, err := store.AgreementGet(original.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, original, loaded)

	_, ok, err = store.AgreementGet([32]byte{0x99})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAgreementPutRejectsUnknownStatus(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	a := sampleAgreement()
	a.Status = escrow.Status(42)
	require.Error(t, putAgreement(store, a))
}

func TestArbitrationCommitIsBatched(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	agreementID := [32]byte{0x11}
	first := &arbitration.Proposal{
		ID:              arbitration.ProposalID(agreementID, 0),
		AgreementID:     agreementID,
		Proposer:        [20]byte{0x01},
		PrimaryAction:   arbitration.ActionRefund,
		PrimaryAmount:   big.NewInt(1_000_000),
		SecondaryAction: arbitration.ActionNone,
		SecondaryAmount: big.NewInt(0),
		Status:          arbitration.ProposalAccepted,
		VotesFor:        1,
		CreatedAt:       10,
		UpdatedAt:       11,
	}
	voter := [20]byte{0xa1}
	require.NoError(t, store.ArbitrationCommit(arbitration.Commit{
		AgreementID: agreementID,
		Appended:    [][32]byte{first.ID},
		Proposals:   []*arbitration.Proposal{first},
		Ballots:     []arbitration.BallotEntry{{ProposalID: first.ID, Voter: voter, Ballot: arbitration.BallotYes}},
	}))

	loaded, ok, err := store.ProposalGet(first.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, first, loaded)

	ballot, err := store.BallotGet(first.ID, voter)
	require.NoError(t, err)
	require.Equal(t, arbitration.BallotYes, ballot)

	ballot, err = store.BallotGet(first.ID, [20]byte{0xa2})
	require.NoError(t, err)
	require.Equal(t, arbitration.BallotNone, ballot)

	second := arbitration.ProposalID(agreementID, 1)
	require.NotEqual(t, first.ID, second)
	require.NoError(t, store.ArbitrationCommit(arbitration.Commit{AgreementID: agreementID, Appended: [][32]byte{second}}))
	index, err := store.ProposalIndex(agreementID)
	require.NoError(t, err)
	require.Equal(t, [][32]byte{first.ID, second}, index)
}

func TestBalancesAndTokens(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	owner := [20]byte{0x01}
	token := [20]byte{0x70}

	balance, err := store.Balance(owner, escrow.NativeAsset())
	require.NoError(t, err)
	require.Zero(t, balance.Sign())

	require.NoError(t, store.Update(func(txn escrow.Txn) error {
		if err := txn.SetBalance(owner, escrow.NativeAsset(), big.NewInt(500)); err != nil {
			return err
		}
		return txn.SetBalance(owner, escrow.FungibleAsset(token), big.NewInt(7))
	}))
	balance, err = store.Balance(owner, escrow.NativeAsset())
	require.NoError(t, err)
	require.Equal(t, int64(500), balance.Int64())
	balance, err = store.Balance(owner, escrow.FungibleAsset(token))
	require.NoError(t, err)
	require.Equal(t, int64(7), balance.Int64())

	require.Error(t, store.Update(func(txn escrow.Txn) error {
		return txn.SetBalance(owner, escrow.NativeAsset(), big.NewInt(-1))
	}))

	require.NoError(t, store.PutToken(token, escrow.AssetFungible))
	require.NoError(t, store.PutToken(token, escrow.AssetFungible))
	tokens, err := store.Tokens()
	require.NoError(t, err)
	require.Equal(t, [][20]byte{token}, tokens)
	kind, ok, err := store.TokenKind(token)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, escrow.AssetFungible, kind)
}

func TestGenesisMarker(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	_, ok, err := store.GenesisHash()
	require.NoError(t, err)
	require.False(t, ok)

	hash := [32]byte{0xde, 0xad}
	require.NoError(t, store.MarkGenesis(hash))
	got, ok, err := store.GenesisHash()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, hash, got)
}

type failingDB struct {
	*storage.MemDB
	err error
}

func (db *failingDB) NewBatch() storage.Batch { return &failingBatch{Batch: db.MemDB.NewBatch(), err: db.err} }

type failingBatch struct {
	storage.Batch
	err error
}

func (b *failingBatch) Write() error { return b.err }

func TestUpdateWritesAgreementBalancesAndRecordsTogether(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	a := sampleAgreement()
	owner := [20]byte{0x01}
	proposal := &arbitration.Proposal{ID: [32]byte{0x51}, AgreementID: a.ID, Status: arbitration.ProposalExecuted}

	committed := false
	err := store.Update(func(txn escrow.Txn) error {
		require.NoError(t, txn.SetBalance(owner, escrow.NativeAsset(), big.NewInt(40)))
		balance, err := txn.Balance(owner, escrow.NativeAsset())
		require.NoError(t, err)
		require.Equal(t, int64(40), balance.Int64())
		require.NoError(t, txn.SetBalance(owner, escrow.NativeAsset(), big.NewInt(30)))
		txn.OnCommit(func() { committed = true })
		if err := txn.AgreementPut(a); err != nil {
			return err
		}
		return store.StageArbitration(txn, arbitration.Commit{AgreementID: a.ID, Appended: [][32]byte{proposal.ID}, Proposals: []*arbitration.Proposal{proposal}})
	})
	require.NoError(t, err)
	require.True(t, committed)

	balance, err := store.Balance(owner, escrow.NativeAsset())
	require.NoError(t, err)
	require.Equal(t, int64(30), balance.Int64())
	_, ok, err := store.AgreementGet(a.ID)
	require.NoError(t, err)
	require.True(t, ok)
	index, err := store.ProposalIndex(a.ID)
	require.NoError(t, err)
	require.Equal(t, [][32]byte{proposal.ID}, index)
}

func TestUpdateDiscardsEverythingOnFailure(t *testing.T) {
	diskFull := errors.New("disk full")
	store := NewStore(&failingDB{MemDB: storage.NewMemDB(), err: diskFull})
	a := sampleAgreement()
	owner := [20]byte{0x01}

	committed := false
	err := store.Update(func(txn escrow.Txn) error {
		txn.OnCommit(func() { committed = true })
		if err := txn.SetBalance(owner, escrow.NativeAsset(), big.NewInt(40)); err != nil {
			return err
		}
		return txn.AgreementPut(a)
	})
	require.ErrorIs(t, err, diskFull)
	require.False(t, committed)
	balance, err := store.Balance(owner, escrow.NativeAsset())
	require.NoError(t, err)
	require.Zero(t, balance.Sign())
	_, ok, err := store.AgreementGet(a.ID)
	require.NoError(t, err)
	require.False(t, ok)

	other := NewStore(storage.NewMemDB())
	err = store.Update(func(txn escrow.Txn) error {
		return other.StageArbitration(txn, arbitration.Commit{AgreementID: a.ID, Appended: [][32]byte{{0x01}}})
	})
	require.ErrorIs(t, err, errForeignTxn)
}
