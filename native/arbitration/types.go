package arbitration

import (
	"encoding/binary"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"duoescrow/native/escrow"
)

// MaxProposalsPerAgreement caps how many proposals may ever be opened against a
// single agreement.
const MaxProposalsPerAgreement = 20

// Action enumerates what a proposal does with one leg's remaining balance.
type Action uint8

const (
	ActionNone Action = iota
	ActionRefund
	ActionRelease
)

// Valid reports whether the action is supported.
func (a Action) Valid() bool {
	return a == ActionNone || a == ActionRefund || a == ActionRelease
}

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionRefund:
		return "refund"
	case ActionRelease:
		return "release"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

// ParseAction converts the textual form used by clients.
func ParseAction(s string) (Action, error) {
	switch s {
	case "", "none":
		return ActionNone, nil
	case "refund":
		return ActionRefund, nil
	case "release":
		return ActionRelease, nil
	default:
		return ActionNone, fmt.Errorf("%w: unknown action %q", ErrInvalidProposal, s)
	}
}

func (a Action) mode() (escrow.Mode, bool) {
	switch a {
	case ActionRefund:
		return escrow.ModeRefund, true
	case ActionRelease:
		return escrow.ModeRelease, true
	default:
		return 0, false
	}
}

// ProposalStatus enumerates the lifecycle of a proposal. Accepted proposals
// move to Executed; Rejected, Canceled and Executed are terminal.
type ProposalStatus uint8

const (
	ProposalActive ProposalStatus = iota
	ProposalAccepted
	ProposalRejected
	ProposalCanceled
	ProposalExecuted
)

func (s ProposalStatus) String() string {
	switch s {
	case ProposalActive:
		return "active"
	case ProposalAccepted:
		return "accepted"
	case ProposalRejected:
		return "rejected"
	case ProposalCanceled:
		return "canceled"
	case ProposalExecuted:
		return "executed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Ballot is a single arbiter's recorded choice.
type Ballot uint8

const (
	BallotNone Ballot = iota
	BallotYes
	BallotNo
)

func (b Ballot) String() string {
	switch b {
	case BallotYes:
		return "yes"
	case BallotNo:
		return "no"
	default:
		return "none"
	}
}

// Proposal redirects an agreement's remaining balances once enough arbiters
// accept it.
type Proposal struct {
	ID              [32]byte
	AgreementID     [32]byte
	Proposer        [20]byte
	PrimaryAction   Action
	SecondaryAction Action
	PrimaryAmount   *big.Int
	SecondaryAmount *big.Int
	AutoExecute     bool
	Status          ProposalStatus
	VotesFor        uint32
	VotesAgainst    uint32
	Sequence        uint32
	CreatedAt       int64
	UpdatedAt       int64
}

// Clone returns a deep copy of the proposal.
func (p *Proposal) Clone() *Proposal {
	if p == nil {
		return nil
	}
	clone := *p
	clone.PrimaryAmount = cloneAmount(p.PrimaryAmount)
	clone.SecondaryAmount = cloneAmount(p.SecondaryAmount)
	return &clone
}

func (p *Proposal) action(side escrow.LegSide) (Action, *big.Int) {
	if side == escrow.LegSecondary {
		return p.SecondaryAction, p.SecondaryAmount
	}
	return p.PrimaryAction, p.PrimaryAmount
}

// ProposeInput carries the per-leg actions requested by a participant.
type ProposeInput struct {
	AgreementID     [32]byte
	PrimaryAction   Action
	PrimaryAmount   *big.Int
	SecondaryAction Action
	SecondaryAmount *big.Int
	AutoExecute     bool
}

// BallotEntry is a ballot staged for persistence.
type BallotEntry struct {
	ProposalID [32]byte
	Voter      [20]byte
	Ballot     Ballot
}

// Commit groups the records written by a single coordinator operation. The
// state backend must persist them atomically.
type Commit struct {
	AgreementID [32]byte
	Appended    [][32]byte
	Proposals   []*Proposal
	Ballots     []BallotEntry
}

// ProposalID derives the identifier of the sequence-th proposal of an
// agreement.
func ProposalID(agreementID [32]byte, sequence uint32) [32]byte {
	var seq [4]byte
	binary.BigEndian.PutUint32(seq[:], sequence)
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256(agreementID[:], []byte("arbitration"), seq[:]))
	return id
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
