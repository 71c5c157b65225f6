package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"duoescrow/core/types"
	"duoescrow/crypto"
)

const (
	EventTypeAgreementCreated   = "escrow.agreement.created"
	EventTypePaymentReceived    = "escrow.payment.received"
	EventTypeLegReleased        = "escrow.leg.released"
	EventTypeLegRefunded        = "escrow.leg.refunded"
	EventTypeAgreementCompleted = "escrow.agreement.completed"
	EventTypeArbitrationFlag    = "escrow.arbitration.flag"
	EventTypeAgreementResolved  = "escrow.agreement.resolved"
)

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// NewCreatedEvent returns the canonical payload for a newly created agreement.
func NewCreatedEvent(a *Agreement) *types.Event {
	evt := newAgreementEvent(EventTypeAgreementCreated, a)
	if a == nil {
		return evt
	}
	evt.Attributes["primaryAsset"] = a.Primary.Asset.String()
	evt.Attributes["primaryPledged"] = formatAmount(a.Primary.Pledged)
	evt.Attributes["secondaryAsset"] = a.Secondary.Asset.String()
	evt.Attributes["secondaryPledged"] = formatAmount(a.Secondary.Pledged)
	evt.Attributes["coordinator"] = formatAccount(a.Arbitration.Coordinator)
	evt.Attributes["arbiters"] = strconv.Itoa(len(a.Arbitration.Arbiters))
	evt.Attributes["quorum"] = strconv.FormatUint(uint64(a.Arbitration.Quorum), 10)
	evt.Attributes["fees"] = strconv.Itoa(len(a.Fees))
	if a.EndTime != 0 {
		evt.Attributes["endTime"] = strconv.FormatInt(a.EndTime, 10)
	}
	return evt
}

// NewPaymentEvent returns the payload emitted after a payment is credited.
func NewPaymentEvent(a *Agreement, side LegSide, payer [20]byte, amount *big.Int) *types.Event {
	evt := newAgreementEvent(EventTypePaymentReceived, a)
	evt.Attributes["leg"] = side.String()
	evt.Attributes["payer"] = formatAccount(payer)
	evt.Attributes["amount"] = formatAmount(amount)
	if a != nil {
		leg := a.Leg(side)
		evt.Attributes["asset"] = leg.Asset.String()
		evt.Attributes["paid"] = formatAmount(leg.Paid)
	}
	return evt
}

// NewSettlementEvent returns the payload describing a single release or
// refund of a leg.
func NewSettlementEvent(a *Agreement, side LegSide, mode Mode, amount *big.Int, recipient [20]byte, feeTotal *big.Int) *types.Event {
	eventType := EventTypeLegReleased
	if mode == ModeRefund {
		eventType = EventTypeLegRefunded
	}
	evt := newAgreementEvent(eventType, a)
	evt.Attributes["leg"] = side.String()
	evt.Attributes["amount"] = formatAmount(amount)
	evt.Attributes["recipient"] = formatAccount(recipient)
	evt.Attributes["fees"] = formatAmount(feeTotal)
	return evt
}

// NewCompletedEvent returns the payload emitted when an agreement reaches its
// terminal state.
func NewCompletedEvent(a *Agreement) *types.Event {
	return newAgreementEvent(EventTypeAgreementCompleted, a)
}

// NewArbitrationFlagEvent returns the payload emitted when the coordinator
// moves an agreement into or out of arbitration.
func NewArbitrationFlagEvent(a *Agreement, on bool) *types.Event {
	evt := newAgreementEvent(EventTypeArbitrationFlag, a)
	evt.Attributes["arbitration"] = strconv.FormatBool(on)
	return evt
}

// NewResolvedEvent returns the payload emitted after the coordinator applied a
// batch of release and refund instructions.
func NewResolvedEvent(a *Agreement, instructions int) *types.Event {
	evt := newAgreementEvent(EventTypeAgreementResolved, a)
	evt.Attributes["instructions"] = strconv.Itoa(instructions)
	return evt
}

func newAgreementEvent(eventType string, a *Agreement) *types.Event {
	attrs := make(map[string]string)
	if a == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = hex.EncodeToString(a.ID[:])
	attrs["status"] = a.Status.String()
	attrs["primary"] = formatAccount(a.Primary.Participant)
	attrs["secondary"] = formatAccount(a.Secondary.Participant)
	return &types.Event{Type: eventType, Attributes: attrs}
}

func formatAccount(addr [20]byte) string {
	return crypto.FromRaw(crypto.AccountPrefix, addr).String()
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
