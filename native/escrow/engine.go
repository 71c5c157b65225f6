package escrow

import (
	"fmt"
	"math/big"
	"time"

	"duoescrow/core/events"
	"duoescrow/core/types"
	"duoescrow/native/common"
	"duoescrow/native/fees"
)

type ledgerState interface {
	AgreementGet(id [32]byte) (*Agreement, bool, error)
	Update(fn func(Txn) error) error
}

// Txn is the write set of one ledger operation. Balances staged on it are
// visible to later reads through the same Txn. The state backend persists the
// whole set in one batch once the operation succeeds and drops it otherwise.
type Txn interface {
	AgreementPut(*Agreement) error
	Balance(owner [20]byte, asset Asset) (*big.Int, error)
	SetBalance(owner [20]byte, asset Asset, amount *big.Int) error
	// OnCommit registers fn to run after the write set is persisted.
	OnCommit(fn func())
}

// Stage adds a caller's own records to the write set of a ledger operation so
// they are persisted together with the agreement and balance changes.
type Stage func(Txn) error

// Transfer is a single outbound movement from ledger custody.
type Transfer struct {
	To     [20]byte
	Asset  Asset
	Amount *big.Int
}

// Movement is the value moved by one ledger operation: an optional pull of
// Amount from Payer into custody followed by the payouts from custody.
type Movement struct {
	Payer   [20]byte
	Asset   Asset
	Amount  *big.Int
	Payouts []Transfer
}

// Pulls reports whether the movement takes funds from a payer.
func (m Movement) Pulls() bool { return m.Amount != nil && m.Amount.Sign() > 0 }

// AssetMover stages value movements into and out of ledger custody on the
// operation's Txn. A movement that cannot be applied in full returns an error;
// the ledger then discards the whole write set.
type AssetMover interface {
	Stage(txn Txn, m Movement) error
}

// TokenProbe answers whether a token address looks like a fungible token.
type TokenProbe interface {
	IsFungibleToken(token [20]byte) bool
}

// CoordinatorProbe answers whether an address is a valid arbitration
// coordinator.
type CoordinatorProbe interface {
	IsArbitrationCoordinator(addr [20]byte) bool
}

// Ledger owns the agreement store and implements creation, payment intake,
// auto-release and coordinator-driven release/refund execution.
type Ledger struct {
	state              ledgerState
	mover              AssetMover
	tokens             TokenProbe
	coordinators       CoordinatorProbe
	emitter            events.Emitter
	nowFn              func() int64
	platformFee        fees.Definition
	defaultCoordinator [20]byte
	locks              common.KeyedMutex
}

// NewLedger creates a ledger with a no-op emitter. Callers wire state and the
// asset mover through the setters.
func NewLedger() *Ledger {
	return &Ledger{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the ledger.
func (l *Ledger) SetState(state ledgerState) { l.state = state }

// SetAssetMover configures the asset mover. When the mover also implements
// TokenProbe it is used as the token probe unless one was set explicitly.
func (l *Ledger) SetAssetMover(mover AssetMover) {
	l.mover = mover
	if probe, ok := mover.(TokenProbe); ok && l.tokens == nil {
		l.tokens = probe
	}
}

// SetTokenProbe overrides the fungible token probe.
func (l *Ledger) SetTokenProbe(probe TokenProbe) { l.tokens = probe }

// SetCoordinatorProbe configures the probe used for explicit arbitration
// modules supplied at creation.
func (l *Ledger) SetCoordinatorProbe(probe CoordinatorProbe) { l.coordinators = probe }

// SetPlatformFee configures the platform fee merged into every new agreement.
func (l *Ledger) SetPlatformFee(def fees.Definition) { l.platformFee = def }

// PlatformFee returns the configured platform fee.
func (l *Ledger) PlatformFee() fees.Definition { return l.platformFee }

// SetDefaultCoordinator configures the coordinator assigned when the creator
// does not name one.
func (l *Ledger) SetDefaultCoordinator(addr [20]byte) { l.defaultCoordinator = addr }

// DefaultCoordinator returns the configured default coordinator.
func (l *Ledger) DefaultCoordinator() [20]byte { return l.defaultCoordinator }

// SetNowFunc overrides the time source used by the ledger. Primarily intended
// for tests to provide deterministic timestamps.
func (l *Ledger) SetNowFunc(now func() int64) {
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

// SetEmitter configures the event emitter used by the ledger. Passing nil
// resets the emitter to a no-op implementation.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) emit(event *types.Event) {
	if l == nil || l.emitter == nil || event == nil {
		return
	}
	l.emitter.Emit(escrowEvent{evt: event})
}

func (l *Ledger) now() int64 {
	if l == nil || l.nowFn == nil {
		return time.Now().Unix()
	}
	return l.nowFn()
}

func (l *Ledger) load(id [32]byte) (*Agreement, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	agreement, ok, err := l.state.AgreementGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidAgreement
	}
	return agreement, nil
}

// GetEscrow returns a snapshot of the agreement.
func (l *Ledger) GetEscrow(id [32]byte) (*Agreement, error) {
	agreement, err := l.load(id)
	if err != nil {
		return nil, err
	}
	return agreement.Clone(), nil
}

// HasEscrow reports whether an agreement with the id exists.
func (l *Ledger) HasEscrow(id [32]byte) bool {
	if l == nil || l.state == nil {
		return false
	}
	_, ok, err := l.state.AgreementGet(id)
	return err == nil && ok
}

// CreateEscrow validates and stores a new pending agreement.
func (l *Ledger) CreateEscrow(input CreateInput) (*Agreement, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	if input.ID == ([32]byte{}) {
		return nil, ErrInvalidAgreement
	}
	if err := l.validateLegs(input); err != nil {
		return nil, err
	}
	now := l.now()
	if input.EndTime != 0 {
		if input.EndTime <= input.StartTime || input.EndTime <= now+MinimumTermSeconds {
			return nil, ErrInvalidEndDate
		}
	}
	feeDefs := fees.MergePlatform(input.Fees, l.platformFee)
	if err := fees.Validate(feeDefs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFee, err)
	}
	if err := validateArbiters(input.Arbiters, input.Quorum); err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(input.ID)
	defer unlock()

	_, exists, err := l.state.AgreementGet(input.ID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateAgreement
	}
	coordinator := l.defaultCoordinator
	if input.Coordinator != ([20]byte{}) && input.Coordinator != l.defaultCoordinator {
		if l.coordinators == nil || !l.coordinators.IsArbitrationCoordinator(input.Coordinator) {
			return nil, ErrInvalidArbitrationModule
		}
		coordinator = input.Coordinator
	}

	agreement := &Agreement{
		ID:        input.ID,
		Primary:   newLeg(input.Primary),
		Secondary: newLeg(input.Secondary),
		CreatedAt: now,
		StartTime: input.StartTime,
		EndTime:   input.EndTime,
		Status:    StatusPending,
		Arbitration: ArbitrationDefinition{
			Arbiters:    append([][20]byte(nil), input.Arbiters...),
			Coordinator: coordinator,
			Quorum:      input.Quorum,
		},
		Fees: feeDefs,
	}
	if err := l.state.Update(func(txn Txn) error { return txn.AgreementPut(agreement) }); err != nil {
		return nil, err
	}
	l.emit(NewCreatedEvent(agreement))
	return agreement.Clone(), nil
}

func (l *Ledger) validateLegs(input CreateInput) error {
	primary, secondary := input.Primary, input.Secondary
	if primary.Participant == ([20]byte{}) || secondary.Participant == ([20]byte{}) {
		return ErrInvalidParty
	}
	if primary.Participant == secondary.Participant {
		return ErrInvalidParty
	}
	if primary.Amount == nil || primary.Amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if secondary.Amount == nil || secondary.Amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	for _, leg := range []LegInput{primary, secondary} {
		if err := leg.Asset.Validate(); err != nil {
			return err
		}
		if leg.Asset.Kind == AssetFungible {
			if l.tokens == nil || !l.tokens.IsFungibleToken(leg.Asset.Token) {
				return fmt.Errorf("%w: token %s failed fungible probe", ErrInvalidAsset, leg.Asset)
			}
		}
	}
	if primary.Asset == secondary.Asset {
		return ErrCurrencyMismatch
	}
	return nil
}

func validateArbiters(arbiters [][20]byte, quorum uint32) error {
	if len(arbiters) > MaxArbiters {
		return fmt.Errorf("%w: %d arbiters exceeds %d", ErrInvalidArbiters, len(arbiters), MaxArbiters)
	}
	seen := make(map[[20]byte]struct{}, len(arbiters))
	for _, arbiter := range arbiters {
		if arbiter == ([20]byte{}) {
			return fmt.Errorf("%w: empty arbiter address", ErrInvalidArbiters)
		}
		if _, dup := seen[arbiter]; dup {
			return fmt.Errorf("%w: duplicate arbiter", ErrInvalidArbiters)
		}
		seen[arbiter] = struct{}{}
	}
	if uint64(quorum) > uint64(len(arbiters)) {
		return fmt.Errorf("%w: quorum %d exceeds %d arbiters", ErrInvalidArbiters, quorum, len(arbiters))
	}
	if len(arbiters) > 0 && quorum == 0 {
		return fmt.Errorf("%w: quorum must be positive", ErrInvalidArbiters)
	}
	return nil
}

func newLeg(input LegInput) Leg {
	return Leg{
		Participant: input.Participant,
		Asset:       input.Asset,
		Pledged:     cloneBigInt(input.Amount),
		Paid:        big.NewInt(0),
		Released:    big.NewInt(0),
		Refunded:    big.NewInt(0),
	}
}

// PlacePayment pulls amount of asset from payer into custody and credits the
// matching leg. When both pledges are met the agreement is released in full and
// completed within the same call. The pull, the payouts and the agreement are
// written together, so a failed release leaves the payer's balance untouched.
func (l *Ledger) PlacePayment(id [32]byte, asset Asset, amount *big.Int, payer [20]byte) (*Agreement, error) {
	return l.placePayment(id, asset, amount, payer, payer)
}

// PlaceRelayedPayment pulls amount from a relay address and credits it as a
// payment by depositor, the account that funded the relay.
func (l *Ledger) PlaceRelayedPayment(id [32]byte, asset Asset, amount *big.Int, relay, depositor [20]byte) (*Agreement, error) {
	return l.placePayment(id, asset, amount, relay, depositor)
}

func (l *Ledger) placePayment(id [32]byte, asset Asset, amount *big.Int, source, payer [20]byte) (*Agreement, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	if l.mover == nil {
		return nil, errNilMover
	}

	unlock := l.locks.Lock(id)
	defer unlock()

	stored, err := l.load(id)
	if err != nil {
		return nil, err
	}
	if stored.Status == StatusCompleted || stored.Status == StatusArbitration {
		return nil, ErrInvalidAgreementState
	}
	side, ok := stored.SideOf(asset)
	if !ok {
		return nil, ErrInvalidCurrency
	}

	staged := stored.Clone()
	if staged.Status == StatusPending {
		staged.Status = StatusActive
	}
	leg := staged.Leg(side)
	leg.Paid = new(big.Int).Add(leg.Paid, amount)

	movement := Movement{Payer: source, Asset: asset, Amount: new(big.Int).Set(amount)}
	var plan *settlement
	if staged.Primary.FullyPaid() && staged.Secondary.FullyPaid() {
		plan, err = l.planFullRelease(staged)
		if err != nil {
			return nil, err
		}
		movement.Payouts = plan.transfers
		staged.Status = StatusCompleted
	}

	err = l.state.Update(func(txn Txn) error {
		if err := l.mover.Stage(txn, movement); err != nil {
			return fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
		return txn.AgreementPut(staged)
	})
	if err != nil {
		return nil, err
	}

	evt := NewPaymentEvent(staged, side, payer, amount)
	if source != payer {
		evt.Attributes["relay"] = formatAccount(source)
	}
	l.emit(evt)
	if plan != nil {
		l.emitSettlement(staged, plan)
		l.emit(NewCompletedEvent(staged))
	}
	return staged.Clone(), nil
}

// SetArbitrationFlag moves the agreement into (on) or out of arbitration. Only
// the agreement's coordinator may call it. Records staged by also are persisted
// in the same write as the flag.
func (l *Ledger) SetArbitrationFlag(caller [20]byte, id [32]byte, on bool, also ...Stage) (*Agreement, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
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
	next := StatusActive
	if on {
		next = StatusArbitration
	}
	changed := stored.Status != next
	if !changed && len(also) == 0 {
		return stored.Clone(), nil
	}
	stored.Status = next
	err = l.state.Update(func(txn Txn) error {
		if changed {
			if err := txn.AgreementPut(stored); err != nil {
				return err
			}
		}
		return runStages(txn, also)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		l.emit(NewArbitrationFlagEvent(stored, on))
	}
	return stored.Clone(), nil
}

func runStages(txn Txn, stages []Stage) error {
	for _, stage := range stages {
		if stage == nil {
			continue
		}
		if err := stage(txn); err != nil {
			return err
		}
	}
	return nil
}
