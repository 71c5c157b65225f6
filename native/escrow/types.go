package escrow

import (
	"fmt"
	"math/big"

	"duoescrow/crypto"
	"duoescrow/native/fees"
)

// MinimumTermSeconds is the shortest permitted distance between creation and
// a configured end time.
const MinimumTermSeconds int64 = 3600

// MaxArbiters bounds the arbiter panel of a single agreement.
const MaxArbiters = 64

// Status represents the lifecycle states of an agreement.
type Status uint8

const (
	StatusPending Status = iota
	StatusActive
	StatusArbitration
	StatusCompleted
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusArbitration, StatusCompleted:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	case StatusArbitration:
		return "arbitration"
	case StatusCompleted:
		return "completed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// AssetKind distinguishes how a leg's asset is moved.
type AssetKind uint8

const (
	AssetNative AssetKind = iota
	AssetFungible
	AssetNonFungible
)

func (k AssetKind) String() string {
	switch k {
	case AssetNative:
		return "native"
	case AssetFungible:
		return "fungible"
	case AssetNonFungible:
		return "nonfungible"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Asset describes what a leg pledges. Native assets carry no token address.
type Asset struct {
	Kind  AssetKind
	Token [20]byte
}

// NativeAsset returns the descriptor of the host ledger's native value.
func NativeAsset() Asset { return Asset{Kind: AssetNative} }

// FungibleAsset returns the descriptor of a fungible token.
func FungibleAsset(token [20]byte) Asset { return Asset{Kind: AssetFungible, Token: token} }

// NonFungibleAsset returns the descriptor of a non-fungible token collection.
func NonFungibleAsset(token [20]byte) Asset { return Asset{Kind: AssetNonFungible, Token: token} }

// Validate checks that the descriptor is well formed.
func (a Asset) Validate() error {
	switch a.Kind {
	case AssetNative:
		if a.Token != ([20]byte{}) {
			return fmt.Errorf("%w: native asset must not carry a token address", ErrInvalidAsset)
		}
	case AssetFungible, AssetNonFungible:
		if a.Token == ([20]byte{}) {
			return fmt.Errorf("%w: %s asset requires a token address", ErrInvalidAsset, a.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidAsset, a.Kind)
	}
	return nil
}

// Chargeable reports whether fees apply to movements of this asset.
func (a Asset) Chargeable() bool {
	return a.Kind == AssetNative || a.Kind == AssetFungible
}

// Key returns a stable byte encoding of the descriptor for storage keys.
func (a Asset) Key() []byte {
	out := make([]byte, 0, 21)
	out = append(out, byte(a.Kind))
	return append(out, a.Token[:]...)
}

func (a Asset) String() string {
	if a.Kind == AssetNative {
		return a.Kind.String()
	}
	return a.Kind.String() + ":" + crypto.FromRaw(crypto.TokenPrefix, a.Token).String()
}

// LegSide selects one of the two legs of an agreement.
type LegSide uint8

const (
	LegPrimary LegSide = iota
	LegSecondary
)

func (s LegSide) Valid() bool { return s == LegPrimary || s == LegSecondary }

func (s LegSide) String() string {
	if s == LegSecondary {
		return "secondary"
	}
	return "primary"
}

// Other returns the opposite side.
func (s LegSide) Other() LegSide {
	if s == LegPrimary {
		return LegSecondary
	}
	return LegPrimary
}

// Leg captures one counterparty's pledge and its accounting.
type Leg struct {
	Participant [20]byte
	Asset       Asset
	Pledged     *big.Int
	Paid        *big.Int
	Released    *big.Int
	Refunded    *big.Int
}

// Remaining returns the paid amount not yet released or refunded.
func (l *Leg) Remaining() *big.Int {
	remaining := new(big.Int).Set(amountOrZero(l.Paid))
	remaining.Sub(remaining, amountOrZero(l.Released))
	remaining.Sub(remaining, amountOrZero(l.Refunded))
	return remaining
}

// FullyPaid reports whether the pledge has been met.
func (l *Leg) FullyPaid() bool {
	return amountOrZero(l.Paid).Cmp(amountOrZero(l.Pledged)) >= 0
}

func (l Leg) clone() Leg {
	l.Pledged = cloneBigInt(l.Pledged)
	l.Paid = cloneBigInt(l.Paid)
	l.Released = cloneBigInt(l.Released)
	l.Refunded = cloneBigInt(l.Refunded)
	return l
}

// ArbitrationDefinition fixes who may resolve disputes on an agreement.
type ArbitrationDefinition struct {
	Arbiters    [][20]byte
	Coordinator [20]byte
	Quorum      uint32
}

// IsArbiter reports whether addr belongs to the panel.
func (d ArbitrationDefinition) IsArbiter(addr [20]byte) bool {
	for _, arbiter := range d.Arbiters {
		if arbiter == addr {
			return true
		}
	}
	return false
}

// Agreement is the authoritative record of a two-leg escrow.
type Agreement struct {
	ID          [32]byte
	Primary     Leg
	Secondary   Leg
	CreatedAt   int64
	StartTime   int64
	EndTime     int64
	Status      Status
	Arbitration ArbitrationDefinition
	Fees        []fees.Definition
}

// Leg returns a pointer to the requested leg.
func (a *Agreement) Leg(side LegSide) *Leg {
	if side == LegSecondary {
		return &a.Secondary
	}
	return &a.Primary
}

// SideOf returns the leg whose asset matches the descriptor.
func (a *Agreement) SideOf(asset Asset) (LegSide, bool) {
	switch asset {
	case a.Primary.Asset:
		return LegPrimary, true
	case a.Secondary.Asset:
		return LegSecondary, true
	default:
		return LegPrimary, false
	}
}

// IsParticipant reports whether addr owns either leg.
func (a *Agreement) IsParticipant(addr [20]byte) bool {
	return addr == a.Primary.Participant || addr == a.Secondary.Participant
}

// Exhausted reports whether neither leg holds a remaining balance.
func (a *Agreement) Exhausted() bool {
	return a.Primary.Remaining().Sign() == 0 && a.Secondary.Remaining().Sign() == 0
}

// Clone returns a deep copy of the agreement so callers can safely mutate the
// copy without affecting the stored instance.
func (a *Agreement) Clone() *Agreement {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Primary = a.Primary.clone()
	clone.Secondary = a.Secondary.clone()
	clone.Arbitration.Arbiters = append([][20]byte(nil), a.Arbitration.Arbiters...)
	clone.Fees = fees.Clone(a.Fees)
	return &clone
}

// LegInput describes one side of a new agreement.
type LegInput struct {
	Participant [20]byte
	Asset       Asset
	Amount      *big.Int
}

// CreateInput carries the creator-supplied definition of an agreement. A zero
// Coordinator selects the ledger's default coordinator.
type CreateInput struct {
	ID          [32]byte
	Primary     LegInput
	Secondary   LegInput
	StartTime   int64
	EndTime     int64
	Arbiters    [][20]byte
	Coordinator [20]byte
	Quorum      uint32
	Fees        []fees.Definition
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func amountOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
