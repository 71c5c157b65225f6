package state

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"duoescrow/native/arbitration"
	"duoescrow/native/escrow"
	"duoescrow/native/fees"
	"duoescrow/storage"
)

// Store persists agreements, proposals, ballots and vault balances as RLP
// records over a key-value database.
type Store struct {
	db storage.Database
	// mu serialises Update and the token list read-modify-write.
	mu sync.Mutex
}

// NewStore wraps db.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

func (s *Store) get(key []byte, out interface{}) (bool, error) {
	data, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

func encode(value interface{}) ([]byte, error) {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return nil, fmt.Errorf("state: encode: %w", err)
	}
	return encoded, nil
}

func (s *Store) put(key []byte, value interface{}) error {
	encoded, err := encode(value)
	if err != nil {
		return err
	}
	return s.db.Put(key, encoded)
}

func checkAgreement(a *escrow.Agreement) error {
	if a == nil {
		return fmt.Errorf("state: nil agreement")
	}
	if !a.Status.Valid() {
		return fmt.Errorf("state: agreement status %d out of range", a.Status)
	}
	return nil
}

type storedAsset struct {
	Kind  uint8
	Token [20]byte
}

type storedLeg struct {
	Participant [20]byte
	Asset       storedAsset
	Pledged     *big.Int
	Paid        *big.Int
	Released    *big.Int
	Refunded    *big.Int
}

type storedFee struct {
	Recipient [20]byte
	Bps       uint32
}

type storedAgreement struct {
	ID          [32]byte
	Primary     storedLeg
	Secondary   storedLeg
	CreatedAt   uint64
	StartTime   uint64
	EndTime     uint64
	Status      uint8
	Arbiters    [][20]byte
	Coordinator [20]byte
	Quorum      uint32
	Fees        []storedFee
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func newStoredLeg(l escrow.Leg) storedLeg {
	return storedLeg{
		Participant: l.Participant,
		Asset:       storedAsset{Kind: uint8(l.Asset.Kind), Token: l.Asset.Token},
		Pledged:     nonNil(l.Pledged),
		Paid:        nonNil(l.Paid),
		Released:    nonNil(l.Released),
		Refunded:    nonNil(l.Refunded),
	}
}

func (l storedLeg) leg() escrow.Leg {
	return escrow.Leg{
		Participant: l.Participant,
		Asset:       escrow.Asset{Kind: escrow.AssetKind(l.Asset.Kind), Token: l.Asset.Token},
		Pledged:     nonNil(l.Pledged),
		Paid:        nonNil(l.Paid),
		Released:    nonNil(l.Released),
		Refunded:    nonNil(l.Refunded),
	}
}

func newStoredAgreement(a *escrow.Agreement) *storedAgreement {
	stored := &storedAgreement{
		ID:          a.ID,
		Primary:     newStoredLeg(a.Primary),
		Secondary:   newStoredLeg(a.Secondary),
		CreatedAt:   uint64(a.CreatedAt),
		StartTime:   uint64(a.StartTime),
		EndTime:     uint64(a.EndTime),
		Status:      uint8(a.Status),
		Arbiters:    append([][20]byte{}, a.Arbitration.Arbiters...),
		Coordinator: a.Arbitration.Coordinator,
		Quorum:      a.Arbitration.Quorum,
		Fees:        make([]storedFee, 0, len(a.Fees)),
	}
	for _, def := range a.Fees {
		stored.Fees = append(stored.Fees, storedFee{Recipient: def.Recipient, Bps: def.Bps})
	}
	return stored
}

func (s *storedAgreement) agreement() *escrow.Agreement {
	a := &escrow.Agreement{
		ID:        s.ID,
		Primary:   s.Primary.leg(),
		Secondary: s.Secondary.leg(),
		CreatedAt: int64(s.CreatedAt),
		StartTime: int64(s.StartTime),
		EndTime:   int64(s.EndTime),
		Status:    escrow.Status(s.Status),
		Arbitration: escrow.ArbitrationDefinition{
			Arbiters:    append([][20]byte(nil), s.Arbiters...),
			Coordinator: s.Coordinator,
			Quorum:      s.Quorum,
		},
	}
	if len(s.Fees) > 0 {
		a.Fees = make([]fees.Definition, 0, len(s.Fees))
		for _, def := range s.Fees {
			a.Fees = append(a.Fees, fees.Definition{Recipient: def.Recipient, Bps: def.Bps})
		}
	}
	return a
}

// AgreementGet loads the agreement with the id.
func (s *Store) AgreementGet(id [32]byte) (*escrow.Agreement, bool, error) {
	var stored storedAgreement
	ok, err := s.get(agreementKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.agreement(), true, nil
}

type storedProposal struct {
	ID              [32]byte
	AgreementID     [32]byte
	Proposer        [20]byte
	PrimaryAction   uint8
	SecondaryAction uint8
	PrimaryAmount   *big.Int
	SecondaryAmount *big.Int
	AutoExecute     bool
	Status          uint8
	VotesFor        uint32
	VotesAgainst    uint32
	Sequence        uint32
	CreatedAt       uint64
	UpdatedAt       uint64
}

func newStoredProposal(p *arbitration.Proposal) *storedProposal {
	return &storedProposal{
		ID:              p.ID,
		AgreementID:     p.AgreementID,
		Proposer:        p.Proposer,
		PrimaryAction:   uint8(p.PrimaryAction),
		SecondaryAction: uint8(p.SecondaryAction),
		PrimaryAmount:   nonNil(p.PrimaryAmount),
		SecondaryAmount: nonNil(p.SecondaryAmount),
		AutoExecute:     p.AutoExecute,
		Status:          uint8(p.Status),
		VotesFor:        p.VotesFor,
		VotesAgainst:    p.VotesAgainst,
		Sequence:        p.Sequence,
		CreatedAt:       uint64(p.CreatedAt),
		UpdatedAt:       uint64(p.UpdatedAt),
	}
}

func (s *storedProposal) proposal() *arbitration.Proposal {
	return &arbitration.Proposal{
		ID:              s.ID,
		AgreementID:     s.AgreementID,
		Proposer:        s.Proposer,
		PrimaryAction:   arbitration.Action(s.PrimaryAction),
		SecondaryAction: arbitration.Action(s.SecondaryAction),
		PrimaryAmount:   nonNil(s.PrimaryAmount),
		SecondaryAmount: nonNil(s.SecondaryAmount),
		AutoExecute:     s.AutoExecute,
		Status:          arbitration.ProposalStatus(s.Status),
		VotesFor:        s.VotesFor,
		VotesAgainst:    s.VotesAgainst,
		Sequence:        s.Sequence,
		CreatedAt:       int64(s.CreatedAt),
		UpdatedAt:       int64(s.UpdatedAt),
	}
}

// ProposalGet loads a proposal by id.
func (s *Store) ProposalGet(id [32]byte) (*arbitration.Proposal, bool, error) {
	var stored storedProposal
	ok, err := s.get(proposalKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.proposal(), true, nil
}

// ProposalIndex returns the ids of the agreement's proposals in creation order.
func (s *Store) ProposalIndex(agreementID [32]byte) ([][32]byte, error) {
	var ids [][32]byte
	if _, err := s.get(proposalIndexKey(agreementID), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// BallotGet returns the ballot voter cast on the proposal, BallotNone when the
// voter has not voted.
func (s *Store) BallotGet(proposalID [32]byte, voter [20]byte) (arbitration.Ballot, error) {
	var ballot uint8
	ok, err := s.get(ballotKey(proposalID, voter), &ballot)
	if err != nil || !ok {
		return arbitration.BallotNone, err
	}
	return arbitration.Ballot(ballot), nil
}

// ArbitrationCommit writes the proposal, index and ballot records of one
// coordinator operation in a single batch.
func (s *Store) ArbitrationCommit(commit arbitration.Commit) error {
	return s.Update(func(txn escrow.Txn) error { return s.StageArbitration(txn, commit) })
}

// Balance returns the owner's vault balance of the asset.
func (s *Store) Balance(owner [20]byte, asset escrow.Asset) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := s.get(balanceKey(owner, asset.Key()), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

// PutToken registers a token contract with its asset kind.
func (s *Store) PutToken(token [20]byte, kind escrow.AssetKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tokens, err := s.Tokens()
	if err != nil {
		return err
	}
	batch := s.db.NewBatch()
	known := false
	for _, existing := range tokens {
		if existing == token {
			known = true
			break
		}
	}
	if !known {
		encoded, err := encode(append(tokens, token))
		if err != nil {
			return err
		}
		batch.Put(tokenListKey, encoded)
	}
	encoded, err := encode(uint8(kind))
	if err != nil {
		return err
	}
	batch.Put(tokenKey(token), encoded)
	return batch.Write()
}

// TokenKind returns the registered kind of a token.
func (s *Store) TokenKind(token [20]byte) (escrow.AssetKind, bool, error) {
	var kind uint8
	ok, err := s.get(tokenKey(token), &kind)
	if err != nil || !ok {
		return 0, false, err
	}
	return escrow.AssetKind(kind), true, nil
}

// Tokens lists registered tokens in registration order.
func (s *Store) Tokens() ([][20]byte, error) {
	var tokens [][20]byte
	if _, err := s.get(tokenListKey, &tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

// GenesisHash returns the hash of the genesis document recorded by
// MarkGenesis, if any.
func (s *Store) GenesisHash() ([32]byte, bool, error) {
	var hash [32]byte
	ok, err := s.get(genesisKey, &hash)
	return hash, ok, err
}

// MarkGenesis records that the genesis document with the given hash has been
// applied.
func (s *Store) MarkGenesis(hash [32]byte) error {
	return s.put(genesisKey, hash)
}
