package arbitration

import (
	"encoding/hex"
	"strconv"

	"duoescrow/core/types"
	"duoescrow/crypto"
)

const (
	EventTypeProposalCreated  = "arbitration.proposal.created"
	EventTypeProposalVote     = "arbitration.proposal.vote"
	EventTypeProposalAccepted = "arbitration.proposal.accepted"
	EventTypeProposalRejected = "arbitration.proposal.rejected"
	EventTypeProposalCanceled = "arbitration.proposal.canceled"
	EventTypeProposalExecuted = "arbitration.proposal.executed"
)

type arbitrationEvent struct {
	evt *types.Event
}

func (e arbitrationEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e arbitrationEvent) Event() *types.Event { return e.evt }

func newProposalEvent(eventType string, p *Proposal) *types.Event {
	attrs := make(map[string]string)
	if p != nil {
		attrs["id"] = hex.EncodeToString(p.AgreementID[:])
		attrs["proposal"] = hex.EncodeToString(p.ID[:])
		attrs["status"] = p.Status.String()
		attrs["votesFor"] = strconv.FormatUint(uint64(p.VotesFor), 10)
		attrs["votesAgainst"] = strconv.FormatUint(uint64(p.VotesAgainst), 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

// NewCreatedEvent describes a freshly opened proposal.
func NewCreatedEvent(p *Proposal) *types.Event {
	evt := newProposalEvent(EventTypeProposalCreated, p)
	if p == nil {
		return evt
	}
	evt.Attributes["proposer"] = crypto.FromRaw(crypto.AccountPrefix, p.Proposer).String()
	evt.Attributes["primaryAction"] = p.PrimaryAction.String()
	evt.Attributes["primaryAmount"] = cloneAmount(p.PrimaryAmount).String()
	evt.Attributes["secondaryAction"] = p.SecondaryAction.String()
	evt.Attributes["secondaryAmount"] = cloneAmount(p.SecondaryAmount).String()
	evt.Attributes["autoExecute"] = strconv.FormatBool(p.AutoExecute)
	evt.Attributes["sequence"] = strconv.FormatUint(uint64(p.Sequence), 10)
	return evt
}

// NewVoteEvent describes a recorded ballot.
func NewVoteEvent(p *Proposal, voter [20]byte, ballot Ballot) *types.Event {
	evt := newProposalEvent(EventTypeProposalVote, p)
	evt.Attributes["voter"] = crypto.FromRaw(crypto.AccountPrefix, voter).String()
	evt.Attributes["ballot"] = ballot.String()
	return evt
}

// NewStatusEvent describes a proposal reaching a new lifecycle status.
func NewStatusEvent(p *Proposal) *types.Event {
	eventType := ""
	if p != nil {
		switch p.Status {
		case ProposalAccepted:
			eventType = EventTypeProposalAccepted
		case ProposalRejected:
			eventType = EventTypeProposalRejected
		case ProposalCanceled:
			eventType = EventTypeProposalCanceled
		case ProposalExecuted:
			eventType = EventTypeProposalExecuted
		}
	}
	return newProposalEvent(eventType, p)
}
