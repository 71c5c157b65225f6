package arbitration

import (
	"fmt"
	"math/big"
	"time"

	"duoescrow/core/events"
	"duoescrow/core/types"
	"duoescrow/native/common"
	"duoescrow/native/escrow"
)

type coordinatorState interface {
	ProposalGet(id [32]byte) (*Proposal, bool, error)
	ProposalIndex(agreementID [32]byte) ([][32]byte, error)
	BallotGet(proposalID [32]byte, voter [20]byte) (Ballot, error)
	ArbitrationCommit(commit Commit) error
	StageArbitration(txn escrow.Txn, commit Commit) error
}

// escrowLedger is the subset of the ledger the coordinator drives.
type escrowLedger interface {
	GetEscrow(id [32]byte) (*escrow.Agreement, error)
	SetArbitrationFlag(caller [20]byte, id [32]byte, on bool, also ...escrow.Stage) (*escrow.Agreement, error)
	Resolve(caller [20]byte, id [32]byte, instructions []escrow.Instruction, also ...escrow.Stage) (*escrow.Agreement, error)
}

// Coordinator runs arbitration proposals for the agreements that name its
// address as their arbitration module.
type Coordinator struct {
	address [20]byte
	ledger  escrowLedger
	state   coordinatorState
	emitter events.Emitter
	nowFn   func() int64
	locks   common.KeyedMutex
}

// NewCoordinator creates a coordinator acting as address against ledger.
func NewCoordinator(address [20]byte, ledger escrowLedger) *Coordinator {
	return &Coordinator{
		address: address,
		ledger:  ledger,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// Address returns the identity the coordinator presents to the ledger.
func (c *Coordinator) Address() [20]byte { return c.address }

// IsArbitrationCoordinator reports whether addr is this coordinator.
func (c *Coordinator) IsArbitrationCoordinator(addr [20]byte) bool {
	return c != nil && addr == c.address
}

// SetState configures the proposal store.
func (c *Coordinator) SetState(state coordinatorState) { c.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (c *Coordinator) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		c.emitter = events.NoopEmitter{}
		return
	}
	c.emitter = emitter
}

// SetNowFunc overrides the time source used for proposal timestamps.
func (c *Coordinator) SetNowFunc(now func() int64) {
	if now == nil {
		c.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	c.nowFn = now
}

func (c *Coordinator) emit(evt *types.Event) {
	if c.emitter == nil || evt == nil || evt.Type == "" {
		return
	}
	c.emitter.Emit(arbitrationEvent{evt: evt})
}

func (c *Coordinator) ready() error {
	if c == nil || c.state == nil {
		return errNilState
	}
	if c.ledger == nil {
		return errNilLedger
	}
	return nil
}

// outcome collects the records and notifications of one operation until they
// are persisted.
type outcome struct {
	commit Commit
	events []*types.Event
}

func (o *outcome) record(evt *types.Event) { o.events = append(o.events, evt) }

// effect is a ledger call that persists the staged coordinator records in the
// same write as its own changes.
type effect func(also escrow.Stage) error

// finish persists o, through effect when the operation touches the ledger, and
// emits its events once the write succeeded.
func (c *Coordinator) finish(o *outcome, fx effect) error {
	commit := o.commit
	var err error
	if fx == nil {
		err = c.state.ArbitrationCommit(commit)
	} else {
		err = fx(func(txn escrow.Txn) error { return c.state.StageArbitration(txn, commit) })
	}
	if err != nil {
		return err
	}
	for _, evt := range o.events {
		c.emit(evt)
	}
	return nil
}

func (c *Coordinator) flag(agreementID [32]byte, on bool) effect {
	return func(also escrow.Stage) error {
		_, err := c.ledger.SetArbitrationFlag(c.address, agreementID, on, also)
		return err
	}
}

// Propose opens a proposal on behalf of one of the agreement's participants and
// moves the agreement into arbitration. When the proposer is also an arbiter
// their yes vote is recorded immediately, which may accept and, with
// AutoExecute, execute the proposal within this call.
func (c *Coordinator) Propose(caller [20]byte, input ProposeInput) (*Proposal, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	if !input.PrimaryAction.Valid() || !input.SecondaryAction.Valid() {
		return nil, ErrInvalidProposal
	}
	for _, amount := range []*big.Int{input.PrimaryAmount, input.SecondaryAmount} {
		if amount != nil && amount.Sign() < 0 {
			return nil, escrow.ErrInvalidAmount
		}
	}

	unlock := c.locks.Lock(input.AgreementID)
	defer unlock()

	agreement, err := c.ledger.GetEscrow(input.AgreementID)
	if err != nil {
		return nil, err
	}
	if agreement.Arbitration.Coordinator != c.address {
		return nil, escrow.ErrInvalidArbitrationModule
	}
	if len(agreement.Arbitration.Arbiters) == 0 {
		return nil, ErrInvalidProposalNoArbiters
	}
	if !agreement.IsParticipant(caller) {
		return nil, ErrUnauthorized
	}
	if agreement.Status != escrow.StatusActive {
		return nil, escrow.ErrInvalidAgreementState
	}
	index, err := c.state.ProposalIndex(input.AgreementID)
	if err != nil {
		return nil, err
	}
	if len(index) >= MaxProposalsPerAgreement {
		return nil, ErrTooManyProposals
	}
	for _, id := range index {
		existing, ok, err := c.state.ProposalGet(id)
		if err != nil {
			return nil, err
		}
		if ok && existing.Status == ProposalActive {
			return nil, ErrConcurrentProposalLimit
		}
	}

	now := c.nowFn()
	sequence := uint32(len(index))
	proposal := &Proposal{
		ID:              ProposalID(input.AgreementID, sequence),
		AgreementID:     input.AgreementID,
		Proposer:        caller,
		PrimaryAction:   input.PrimaryAction,
		SecondaryAction: input.SecondaryAction,
		PrimaryAmount:   cloneAmount(input.PrimaryAmount),
		SecondaryAmount: cloneAmount(input.SecondaryAmount),
		AutoExecute:     input.AutoExecute,
		Status:          ProposalActive,
		Sequence:        sequence,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	o := &outcome{commit: Commit{AgreementID: input.AgreementID, Appended: [][32]byte{proposal.ID}}}
	o.record(NewCreatedEvent(proposal))

	if agreement.Arbitration.IsArbiter(caller) {
		c.tally(proposal, agreement, caller, BallotNone, BallotYes, o)
	}

	fx := c.flag(input.AgreementID, true)
	if proposal.Status == ProposalAccepted && proposal.AutoExecute {
		// Resolve settles straight from Active, so the flag is never raised.
		if fx, err = c.execute(proposal, o); err != nil {
			return nil, err
		}
	}
	o.commit.Proposals = append(o.commit.Proposals, proposal)
	if err := c.finish(o, fx); err != nil {
		return nil, err
	}
	return proposal.Clone(), nil
}

// tally applies a ballot change to the proposal and re-evaluates thresholds.
func (c *Coordinator) tally(p *Proposal, agreement *escrow.Agreement, voter [20]byte, prior, ballot Ballot, o *outcome) {
	switch prior {
	case BallotYes:
		p.VotesFor--
	case BallotNo:
		p.VotesAgainst--
	}
	switch ballot {
	case BallotYes:
		p.VotesFor++
	case BallotNo:
		p.VotesAgainst++
	}
	p.UpdatedAt = c.nowFn()
	o.commit.Ballots = append(o.commit.Ballots, BallotEntry{ProposalID: p.ID, Voter: voter, Ballot: ballot})
	o.record(NewVoteEvent(p, voter, ballot))

	quorum := agreement.Arbitration.Quorum
	arbiters := uint32(len(agreement.Arbitration.Arbiters))
	switch {
	case p.VotesFor >= quorum:
		p.Status = ProposalAccepted
		o.record(NewStatusEvent(p))
	case p.VotesAgainst > arbiters-quorum:
		p.Status = ProposalRejected
		o.record(NewStatusEvent(p))
	}
}

// execute clamps the proposal's amounts to the live remaining balances, marks
// the proposal Executed and returns the ledger call that applies the
// instructions. Nothing is persisted until finish runs that call.
func (c *Coordinator) execute(p *Proposal, o *outcome) (effect, error) {
	agreement, err := c.ledger.GetEscrow(p.AgreementID)
	if err != nil {
		return nil, err
	}
	var instructions []escrow.Instruction
	for _, side := range []escrow.LegSide{escrow.LegPrimary, escrow.LegSecondary} {
		action, amount := p.action(side)
		mode, ok := action.mode()
		if !ok {
			continue
		}
		amount = cloneAmount(amount)
		if remaining := agreement.Leg(side).Remaining(); amount.Cmp(remaining) > 0 {
			amount = remaining
		}
		instructions = append(instructions, escrow.Instruction{Side: side, Mode: mode, Amount: amount})
	}
	p.Status = ProposalExecuted
	p.UpdatedAt = c.nowFn()
	o.record(NewStatusEvent(p))
	id := p.ID
	return func(also escrow.Stage) error {
		if _, err := c.ledger.Resolve(c.address, p.AgreementID, instructions, also); err != nil {
			return fmt.Errorf("execute proposal %x: %w", id[:4], err)
		}
		return nil
	}, nil
}

// lockProposal resolves the agreement of a proposal, takes the agreement lock
// and reloads the proposal under it.
func (c *Coordinator) lockProposal(id [32]byte) (*Proposal, *escrow.Agreement, func(), error) {
	if err := c.ready(); err != nil {
		return nil, nil, nil, err
	}
	peek, ok, err := c.state.ProposalGet(id)
	if err != nil {
		return nil, nil, nil, err
	}
	if !ok {
		return nil, nil, nil, ErrInvalidProposal
	}
	unlock := c.locks.Lock(peek.AgreementID)
	proposal, ok, err := c.state.ProposalGet(id)
	if err != nil || !ok {
		unlock()
		if err == nil {
			err = ErrInvalidProposal
		}
		return nil, nil, nil, err
	}
	agreement, err := c.ledger.GetEscrow(proposal.AgreementID)
	if err != nil {
		unlock()
		return nil, nil, nil, err
	}
	if agreement.Arbitration.Coordinator != c.address {
		unlock()
		return nil, nil, nil, ErrInvalidProposal
	}
	return proposal, agreement, unlock, nil
}

// Vote records an arbiter's ballot. Repeating the current ballot is a no-op;
// the opposite ballot moves the arbiter's vote between tallies.
func (c *Coordinator) Vote(caller [20]byte, proposalID [32]byte, yes bool) (*Proposal, error) {
	proposal, agreement, unlock, err := c.lockProposal(proposalID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !agreement.Arbitration.IsArbiter(caller) {
		return nil, ErrUnauthorized
	}
	if proposal.Status != ProposalActive {
		return nil, ErrInvalidProposalState
	}
	prior, err := c.state.BallotGet(proposalID, caller)
	if err != nil {
		return nil, err
	}
	ballot := BallotNo
	if yes {
		ballot = BallotYes
	}
	if prior == ballot {
		return proposal, nil
	}

	o := &outcome{commit: Commit{AgreementID: proposal.AgreementID}}
	c.tally(proposal, agreement, caller, prior, ballot, o)
	var fx effect
	switch proposal.Status {
	case ProposalRejected:
		fx = c.flag(proposal.AgreementID, false)
	case ProposalAccepted:
		if proposal.AutoExecute {
			if fx, err = c.execute(proposal, o); err != nil {
				return nil, err
			}
		}
	}
	o.commit.Proposals = append(o.commit.Proposals, proposal)
	if err := c.finish(o, fx); err != nil {
		return nil, err
	}
	return proposal.Clone(), nil
}

// Cancel withdraws a proposal that has not received any votes and returns the
// agreement to Active.
func (c *Coordinator) Cancel(caller [20]byte, proposalID [32]byte) (*Proposal, error) {
	proposal, _, unlock, err := c.lockProposal(proposalID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if caller != proposal.Proposer {
		return nil, ErrUnauthorized
	}
	if proposal.VotesFor != 0 || proposal.VotesAgainst != 0 {
		return nil, ErrNotCancellable
	}
	if proposal.Status != ProposalActive {
		return nil, ErrInvalidProposalState
	}
	proposal.Status = ProposalCanceled
	proposal.UpdatedAt = c.nowFn()
	o := &outcome{commit: Commit{AgreementID: proposal.AgreementID, Proposals: []*Proposal{proposal}}}
	o.record(NewStatusEvent(proposal))
	if err := c.finish(o, c.flag(proposal.AgreementID, false)); err != nil {
		return nil, err
	}
	return proposal.Clone(), nil
}

// Execute applies an accepted proposal. Amounts larger than a leg's remaining
// balance are reduced to that balance.
func (c *Coordinator) Execute(proposalID [32]byte) (*Proposal, error) {
	proposal, _, unlock, err := c.lockProposal(proposalID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if proposal.Status != ProposalAccepted {
		return nil, ErrInvalidProposalState
	}
	o := &outcome{commit: Commit{AgreementID: proposal.AgreementID}}
	fx, err := c.execute(proposal, o)
	if err != nil {
		return nil, err
	}
	o.commit.Proposals = append(o.commit.Proposals, proposal)
	if err := c.finish(o, fx); err != nil {
		return nil, err
	}
	return proposal.Clone(), nil
}

// Proposal returns a snapshot of the proposal.
func (c *Coordinator) Proposal(id [32]byte) (*Proposal, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	proposal, ok, err := c.state.ProposalGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidProposal
	}
	return proposal, nil
}

// Proposals returns every proposal of the agreement in creation order.
func (c *Coordinator) Proposals(agreementID [32]byte) ([]*Proposal, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	index, err := c.state.ProposalIndex(agreementID)
	if err != nil {
		return nil, err
	}
	out := make([]*Proposal, 0, len(index))
	for _, id := range index {
		proposal, ok, err := c.state.ProposalGet(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, proposal)
		}
	}
	return out, nil
}

// Ballot returns the ballot voter cast on the proposal.
func (c *Coordinator) Ballot(proposalID [32]byte, voter [20]byte) (Ballot, error) {
	if err := c.ready(); err != nil {
		return BallotNone, err
	}
	if _, ok, err := c.state.ProposalGet(proposalID); err != nil {
		return BallotNone, err
	} else if !ok {
		return BallotNone, ErrInvalidProposal
	}
	return c.state.BallotGet(proposalID, voter)
}
