package fees

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// BpsDenominator expresses 100% in basis points.
const BpsDenominator = 10_000

// MaxDefinitions bounds the number of fee recipients attached to an agreement
// so a single release never fans out into an unbounded transfer batch.
const MaxDefinitions = 16

var (
	ErrInvalidRecipient   = errors.New("fees: recipient must not be empty")
	ErrBpsOutOfRange      = errors.New("fees: bps out of range")
	ErrTotalBpsExceeded   = errors.New("fees: total bps exceeds 10000")
	ErrDuplicateRecipient = errors.New("fees: duplicate recipient")
	ErrTooManyDefinitions = errors.New("fees: too many definitions")
	ErrInvalidAmount      = errors.New("fees: amount must be non-negative")
	ErrAmountOverflow     = errors.New("fees: amount exceeds 256 bits")
)

// Definition routes a basis-point share of every release or refund to a
// recipient.
type Definition struct {
	Recipient [20]byte
	Bps       uint32
}

// Share is a single routed amount produced by Split.
type Share struct {
	Recipient [20]byte
	Amount    *big.Int
	Fee       bool
}

// Clone returns a copy of the definition list.
func Clone(defs []Definition) []Definition {
	if len(defs) == 0 {
		return []Definition{}
	}
	out := make([]Definition, len(defs))
	copy(out, defs)
	return out
}

// Validate checks every definition and the aggregate rate.
func Validate(defs []Definition) error {
	if len(defs) > MaxDefinitions {
		return fmt.Errorf("%w: %d > %d", ErrTooManyDefinitions, len(defs), MaxDefinitions)
	}
	seen := make(map[[20]byte]struct{}, len(defs))
	var total uint64
	for i, def := range defs {
		if def.Recipient == ([20]byte{}) {
			return fmt.Errorf("%w (index %d)", ErrInvalidRecipient, i)
		}
		if def.Bps > BpsDenominator {
			return fmt.Errorf("%w: %d (index %d)", ErrBpsOutOfRange, def.Bps, i)
		}
		if _, dup := seen[def.Recipient]; dup {
			return fmt.Errorf("%w (index %d)", ErrDuplicateRecipient, i)
		}
		seen[def.Recipient] = struct{}{}
		total += uint64(def.Bps)
	}
	if total > BpsDenominator {
		return fmt.Errorf("%w: %d", ErrTotalBpsExceeded, total)
	}
	return nil
}

// MergePlatform folds the platform fee into defs. A zero-rate platform fee is
// ignored; an existing entry for the platform recipient with an equal or
// greater rate is kept, a lower one is raised to the platform rate, otherwise
// the platform fee is appended.
func MergePlatform(defs []Definition, platform Definition) []Definition {
	merged := Clone(defs)
	if platform.Bps == 0 || platform.Recipient == ([20]byte{}) {
		return merged
	}
	for i := range merged {
		if merged[i].Recipient != platform.Recipient {
			continue
		}
		if merged[i].Bps < platform.Bps {
			merged[i].Bps = platform.Bps
		}
		return merged
	}
	return append(merged, platform)
}

// Split divides amount between base and the fee recipients. Each fee takes
// floor(amount*bps/10000) and the base recipient keeps the rest, so the
// returned shares always sum to amount. Zero shares are omitted; the base
// share, when non-zero, is first.
func Split(amount *big.Int, base [20]byte, defs []Definition) ([]Share, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if err := Validate(defs); err != nil {
		return nil, err
	}
	total, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrAmountOverflow
	}
	remaining := new(uint256.Int).Set(total)
	denominator := uint256.NewInt(BpsDenominator)
	feeShares := make([]Share, 0, len(defs))
	for _, def := range defs {
		if def.Bps == 0 {
			continue
		}
		cut, _ := new(uint256.Int).MulDivOverflow(total, uint256.NewInt(uint64(def.Bps)), denominator)
		if cut.IsZero() {
			continue
		}
		if cut.Gt(remaining) {
			return nil, ErrTotalBpsExceeded
		}
		remaining.Sub(remaining, cut)
		feeShares = append(feeShares, Share{Recipient: def.Recipient, Amount: cut.ToBig(), Fee: true})
	}
	shares := make([]Share, 0, len(feeShares)+1)
	if !remaining.IsZero() {
		shares = append(shares, Share{Recipient: base, Amount: remaining.ToBig()})
	}
	return append(shares, feeShares...), nil
}

// Sum adds up the share amounts.
func Sum(shares []Share) *big.Int {
	total := big.NewInt(0)
	for _, share := range shares {
		if share.Amount != nil {
			total.Add(total, share.Amount)
		}
	}
	return total
}
