package state

import (
	"errors"
	"fmt"
	"math/big"

	"duoescrow/native/arbitration"
	"duoescrow/native/escrow"
	"duoescrow/storage"
)

var errForeignTxn = errors.New("state: foreign transaction")

type stagedBalance struct {
	owner  [20]byte
	asset  escrow.Asset
	amount *big.Int
}

// Tx collects the writes of one Update. Balances are buffered so reads through
// the Tx observe earlier staged changes.
type Tx struct {
	store    *Store
	batch    storage.Batch
	balances map[string]*stagedBalance
	order    []string
	indexes  map[[32]byte][][32]byte
	hooks    []func()
}

// Update runs fn against a fresh Tx and writes everything it staged in a
// single batch. Nothing is written when fn fails. Updates are serialised, and
// hooks registered through OnCommit run after the batch is written and the
// store is unlocked.
func (s *Store) Update(fn func(escrow.Txn) error) error {
	hooks, err := s.update(fn)
	if err != nil {
		return err
	}
	for _, hook := range hooks {
		hook()
	}
	return nil
}

func (s *Store) update(fn func(escrow.Txn) error) ([]func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{
		store:    s,
		batch:    s.db.NewBatch(),
		balances: make(map[string]*stagedBalance),
		indexes:  make(map[[32]byte][][32]byte),
	}
	if err := fn(tx); err != nil {
		return nil, err
	}
	for _, key := range tx.order {
		entry := tx.balances[key]
		encoded, err := encode(entry.amount)
		if err != nil {
			return nil, err
		}
		tx.batch.Put(balanceKey(entry.owner, entry.asset.Key()), encoded)
	}
	if tx.batch.Len() > 0 {
		if err := tx.batch.Write(); err != nil {
			return nil, fmt.Errorf("state: commit: %w", err)
		}
	}
	return tx.hooks, nil
}

func (tx *Tx) put(key []byte, value interface{}) error {
	encoded, err := encode(value)
	if err != nil {
		return err
	}
	tx.batch.Put(key, encoded)
	return nil
}

// AgreementPut stages the agreement.
func (tx *Tx) AgreementPut(a *escrow.Agreement) error {
	if err := checkAgreement(a); err != nil {
		return err
	}
	return tx.put(agreementKey(a.ID), newStoredAgreement(a))
}

// Balance returns the owner's balance including changes staged on tx.
func (tx *Tx) Balance(owner [20]byte, asset escrow.Asset) (*big.Int, error) {
	if entry, ok := tx.balances[string(balanceKey(owner, asset.Key()))]; ok {
		return new(big.Int).Set(entry.amount), nil
	}
	return tx.store.Balance(owner, asset)
}

// SetBalance stages the owner's balance of the asset.
func (tx *Tx) SetBalance(owner [20]byte, asset escrow.Asset, amount *big.Int) error {
	amount = nonNil(amount)
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative balance for %x", owner)
	}
	key := string(balanceKey(owner, asset.Key()))
	if entry, ok := tx.balances[key]; ok {
		entry.amount = amount
		return nil
	}
	tx.balances[key] = &stagedBalance{owner: owner, asset: asset, amount: amount}
	tx.order = append(tx.order, key)
	return nil
}

// OnCommit registers fn to run once the batch is written.
func (tx *Tx) OnCommit(fn func()) {
	if fn != nil {
		tx.hooks = append(tx.hooks, fn)
	}
}

func (tx *Tx) proposalIndex(agreementID [32]byte) ([][32]byte, error) {
	if ids, ok := tx.indexes[agreementID]; ok {
		return ids, nil
	}
	return tx.store.ProposalIndex(agreementID)
}

// StageArbitration adds the proposal, index and ballot records of one
// coordinator operation to txn, which must come from this store's Update.
func (s *Store) StageArbitration(txn escrow.Txn, commit arbitration.Commit) error {
	tx, ok := txn.(*Tx)
	if !ok || tx.store != s {
		return errForeignTxn
	}
	if len(commit.Appended) > 0 {
		index, err := tx.proposalIndex(commit.AgreementID)
		if err != nil {
			return err
		}
		index = append(append([][32]byte(nil), index...), commit.Appended...)
		if err := tx.put(proposalIndexKey(commit.AgreementID), index); err != nil {
			return err
		}
		tx.indexes[commit.AgreementID] = index
	}
	for _, p := range commit.Proposals {
		if p == nil {
			continue
		}
		if err := tx.put(proposalKey(p.ID), newStoredProposal(p)); err != nil {
			return err
		}
	}
	for _, entry := range commit.Ballots {
		if err := tx.put(ballotKey(entry.ProposalID, entry.Voter), uint8(entry.Ballot)); err != nil {
			return err
		}
	}
	return nil
}
