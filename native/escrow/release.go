package escrow

import (
	"fmt"
	"math/big"

	"duoescrow/native/fees"
)

// Mode selects where a leg's funds go.
type Mode uint8

const (
	// ModeRelease sends funds to the opposite leg's participant.
	ModeRelease Mode = iota + 1
	// ModeRefund returns funds to the leg's own participant.
	ModeRefund
)

func (m Mode) Valid() bool { return m == ModeRelease || m == ModeRefund }

func (m Mode) String() string {
	switch m {
	case ModeRelease:
		return "release"
	case ModeRefund:
		return "refund"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Instruction asks the ledger to release or refund part of a leg.
type Instruction struct {
	Side   LegSide
	Mode   Mode
	Amount *big.Int
}

type settledLeg struct {
	side      LegSide
	mode      Mode
	amount    *big.Int
	recipient [20]byte
	fees      *big.Int
}

// settlement is the staged outcome of one or more releases: the transfer batch
// handed to the mover and the per-leg accounting already applied to the staged
// agreement copy.
type settlement struct {
	transfers []Transfer
	legs      []settledLeg
}

// stage applies a release or refund of amount on the staged agreement and
// appends the routed transfers to the plan. The stored agreement is untouched.
func (s *settlement) stage(agreement *Agreement, side LegSide, mode Mode, amount *big.Int) error {
	leg := agreement.Leg(side)
	if amount.Cmp(leg.Remaining()) > 0 {
		return fmt.Errorf("%w: %s leg remaining %s, requested %s", ErrAmountExceeded, side, leg.Remaining(), amount)
	}
	base := leg.Participant
	if mode == ModeRelease {
		base = agreement.Leg(side.Other()).Participant
	}
	var defs []fees.Definition
	if leg.Asset.Chargeable() {
		defs = agreement.Fees
	}
	shares, err := fees.Split(amount, base, defs)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFee, err)
	}
	feeTotal := big.NewInt(0)
	for _, share := range shares {
		if share.Fee {
			feeTotal.Add(feeTotal, share.Amount)
		}
		s.transfers = append(s.transfers, Transfer{To: share.Recipient, Asset: leg.Asset, Amount: share.Amount})
	}
	switch mode {
	case ModeRelease:
		leg.Released = new(big.Int).Add(leg.Released, amount)
	case ModeRefund:
		leg.Refunded = new(big.Int).Add(leg.Refunded, amount)
	}
	s.legs = append(s.legs, settledLeg{side: side, mode: mode, amount: new(big.Int).Set(amount), recipient: base, fees: feeTotal})
	return nil
}

// planFullRelease stages the release of every remaining balance to the
// opposite participant.
func (l *Ledger) planFullRelease(agreement *Agreement) (*settlement, error) {
	plan := &settlement{}
	for _, side := range []LegSide{LegPrimary, LegSecondary} {
		remaining := agreement.Leg(side).Remaining()
		if remaining.Sign() <= 0 {
			continue
		}
		if err := plan.stage(agreement, side, ModeRelease, remaining); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

func (l *Ledger) emitSettlement(agreement *Agreement, plan *settlement) {
	for _, leg := range plan.legs {
		l.emit(NewSettlementEvent(agreement, leg.side, leg.mode, leg.amount, leg.recipient, leg.fees))
	}
}

// ReleasePartial releases or refunds amount of a single leg on behalf of the
// agreement's coordinator.
func (l *Ledger) ReleasePartial(caller [20]byte, id [32]byte, side LegSide, amount *big.Int, mode Mode) (*Agreement, error) {
	return l.Resolve(caller, id, []Instruction{{Side: side, Mode: mode, Amount: amount}})
}

// Resolve applies a batch of release and refund instructions for the
// agreement's coordinator. The payouts, the leg accounting and any records
// staged by also are persisted in one write, or not at all. Afterwards the
// agreement is Completed when no leg holds a remaining balance and Active
// otherwise.
func (l *Ledger) Resolve(caller [20]byte, id [32]byte, instructions []Instruction, also ...Stage) (*Agreement, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	if l.mover == nil {
		return nil, errNilMover
	}
	for _, ins := range instructions {
		if !ins.Side.Valid() || !ins.Mode.Valid() {
			return nil, ErrInvalidInstruction
		}
		if ins.Amount == nil || ins.Amount.Sign() < 0 {
			return nil, ErrInvalidAmount
		}
	}

	unlock := l.locks.Lock(id)
	defer unlock()

	stored, err := l.load(id)
	if err != nil {
		return nil, err
	}
	if caller != stored.Arbitration.Coordinator || caller == ([20]byte{}) {
		return nil, ErrUnauthorized
	}
	if stored.Status != StatusActive && stored.Status != StatusArbitration {
		return nil, ErrInvalidAgreementState
	}

	staged := stored.Clone()
	plan := &settlement{}
	for _, ins := range instructions {
		if ins.Amount.Sign() == 0 {
			continue
		}
		if err := plan.stage(staged, ins.Side, ins.Mode, ins.Amount); err != nil {
			return nil, err
		}
	}
	if staged.Exhausted() {
		staged.Status = StatusCompleted
	} else {
		staged.Status = StatusActive
	}
	err = l.state.Update(func(txn Txn) error {
		if len(plan.transfers) > 0 {
			if err := l.mover.Stage(txn, Movement{Payouts: plan.transfers}); err != nil {
				return fmt.Errorf("%w: %w", ErrTransferFailed, err)
			}
		}
		if err := txn.AgreementPut(staged); err != nil {
			return err
		}
		return runStages(txn, also)
	})
	if err != nil {
		return nil, err
	}

	l.emitSettlement(staged, plan)
	l.emit(NewResolvedEvent(staged, len(plan.legs)))
	if staged.Status == StatusCompleted {
		l.emit(NewCompletedEvent(staged))
	}
	return staged.Clone(), nil
}
