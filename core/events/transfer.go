package events

import (
	"math/big"

	"duoescrow/core/types"
	"duoescrow/crypto"
)

const (
	// TypeTransfer is emitted for every vault balance movement.
	TypeTransfer = "bank.transfer"
)

// Transfer describes a balance movement between two vault accounts. Reason
// names the operation that moved the funds (pull, push, transfer, credit).
type Transfer struct {
	Asset  string
	From   [20]byte
	To     [20]byte
	Amount *big.Int
	Reason string
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	attrs := map[string]string{}
	if e.Asset != "" {
		attrs["asset"] = e.Asset
	}
	if e.From != ([20]byte{}) {
		attrs["from"] = crypto.FromRaw(crypto.AccountPrefix, e.From).String()
	}
	attrs["to"] = crypto.FromRaw(crypto.AccountPrefix, e.To).String()
	if e.Amount != nil {
		attrs["amount"] = e.Amount.String()
	} else {
		attrs["amount"] = "0"
	}
	if e.Reason != "" {
		attrs["reason"] = e.Reason
	}
	return &types.Event{Type: TypeTransfer, Attributes: attrs}
}
