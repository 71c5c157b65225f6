package relay

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"duoescrow/core/events"
	"duoescrow/core/types"
	"duoescrow/crypto"
	"duoescrow/native/escrow"
)

const (
	EventTypeSwept    = "relay.swept"
	EventTypeRefunded = "relay.refunded"
)

var (
	ErrUnknownAgreement = errors.New("relay: agreement not found")
	ErrInvalidAmount    = errors.New("relay: invalid amount")
	ErrNothingToRefund  = errors.New("relay: no balance held")
)

// Wallet moves balances between accounts.
type Wallet interface {
	Balance(owner [20]byte, asset escrow.Asset) (*big.Int, error)
	Transfer(from, to [20]byte, asset escrow.Asset, amount *big.Int) error
}

type escrowLedger interface {
	GetEscrow(id [32]byte) (*escrow.Agreement, error)
	HasEscrow(id [32]byte) bool
	PlaceRelayedPayment(id [32]byte, asset escrow.Asset, amount *big.Int, relay, depositor [20]byte) (*escrow.Agreement, error)
}

// AddressFor returns the deposit address of the agreement's relay.
func AddressFor(id [32]byte) [20]byte {
	return crypto.DeriveAddress("relay", id[:])
}

// Sweep records one payment the relay forwarded into the ledger. Depositor is
// the relay address itself when the funds arrived without a recorded deposit.
type Sweep struct {
	Side      escrow.LegSide
	Asset     escrow.Asset
	Amount    *big.Int
	Depositor [20]byte
}

type deposit struct {
	depositor [20]byte
	amount    *big.Int
}

// Relay is a deposit address bound to a single agreement. Deposits accumulate
// at the address until Relay forwards them into the agreement as payments.
type Relay struct {
	mu        sync.Mutex
	id        [32]byte
	address   [20]byte
	ledger    escrowLedger
	wallet    Wallet
	autoRelay bool
	emitter   events.Emitter
	// pending holds deposits not yet forwarded, oldest first. It lives in
	// memory only.
	pending map[escrow.Asset][]deposit
}

// New binds a relay to an existing agreement.
func New(id [32]byte, ledger escrowLedger, wallet Wallet) (*Relay, error) {
	if ledger == nil || wallet == nil {
		return nil, fmt.Errorf("relay: ledger and wallet required")
	}
	if !ledger.HasEscrow(id) {
		return nil, ErrUnknownAgreement
	}
	return &Relay{
		id:      id,
		address: AddressFor(id),
		ledger:  ledger,
		wallet:  wallet,
		emitter: events.NoopEmitter{},
		pending: make(map[escrow.Asset][]deposit),
	}, nil
}

// SetAutoRelay makes native deposits forward immediately.
func (r *Relay) SetAutoRelay(on bool) { r.autoRelay = on }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (r *Relay) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// Address returns the relay's deposit address.
func (r *Relay) Address() [20]byte { return r.address }

// AgreementID returns the agreement the relay forwards into.
func (r *Relay) AgreementID() [32]byte { return r.id }

// Deposit moves amount from depositor to the relay address. With auto relay
// enabled a native deposit is forwarded straight away.
func (r *Relay) Deposit(depositor [20]byte, asset escrow.Asset, amount *big.Int) ([]Sweep, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	r.mu.Lock()
	if err := r.wallet.Transfer(depositor, r.address, asset, amount); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.pending[asset] = append(r.pending[asset], deposit{depositor: depositor, amount: new(big.Int).Set(amount)})
	r.mu.Unlock()

	if r.autoRelay && asset.Kind == escrow.AssetNative {
		return r.Relay()
	}
	return nil, nil
}

// Relay forwards the relay's balance of each leg's asset into the agreement.
// Recorded deposits are paid in arrival order in the name of their depositor;
// any balance beyond them is paid in the relay's own name. Zero balances are
// skipped, and nothing is forwarded once the agreement stops accepting
// payments.
func (r *Relay) Relay() ([]Sweep, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var sweeps []Sweep
	for _, side := range []escrow.LegSide{escrow.LegPrimary, escrow.LegSecondary} {
		agreement, err := r.ledger.GetEscrow(r.id)
		if err != nil {
			return sweeps, err
		}
		if !accepting(agreement) {
			break
		}
		asset := agreement.Leg(side).Asset
		balance, err := r.wallet.Balance(r.address, asset)
		if err != nil {
			return sweeps, err
		}
		for _, part := range r.attribute(asset, balance) {
			agreement, err := r.ledger.PlaceRelayedPayment(r.id, asset, part.amount, r.address, part.depositor)
			if err != nil {
				return sweeps, err
			}
			r.consume(asset, part.amount)
			sweeps = append(sweeps, Sweep{Side: side, Asset: asset, Amount: part.amount, Depositor: part.depositor})
			r.emit(EventTypeSwept, map[string]string{
				"leg":       side.String(),
				"asset":     asset.String(),
				"amount":    part.amount.String(),
				"depositor": crypto.FromRaw(crypto.AccountPrefix, part.depositor).String(),
			})
			if !accepting(agreement) {
				return sweeps, nil
			}
		}
	}
	return sweeps, nil
}

func accepting(a *escrow.Agreement) bool {
	return a.Status != escrow.StatusCompleted && a.Status != escrow.StatusArbitration
}

// attribute splits balance into payments per depositor. Consecutive deposits
// by the same account are merged. Callers hold r.mu.
func (r *Relay) attribute(asset escrow.Asset, balance *big.Int) []deposit {
	left := new(big.Int).Set(balance)
	var parts []deposit
	for _, d := range r.pending[asset] {
		if left.Sign() <= 0 {
			break
		}
		amount := new(big.Int).Set(d.amount)
		if amount.Cmp(left) > 0 {
			amount.Set(left)
		}
		left.Sub(left, amount)
		if n := len(parts); n > 0 && parts[n-1].depositor == d.depositor {
			parts[n-1].amount.Add(parts[n-1].amount, amount)
			continue
		}
		parts = append(parts, deposit{depositor: d.depositor, amount: amount})
	}
	if left.Sign() > 0 {
		parts = append(parts, deposit{depositor: r.address, amount: left})
	}
	return parts
}

// consume drops amount from the front of the asset's pending deposits.
// Callers hold r.mu.
func (r *Relay) consume(asset escrow.Asset, amount *big.Int) {
	left := new(big.Int).Set(amount)
	queue := r.pending[asset]
	for len(queue) > 0 && left.Sign() > 0 {
		head := queue[0]
		if head.amount.Cmp(left) > 0 {
			queue[0] = deposit{depositor: head.depositor, amount: new(big.Int).Sub(head.amount, left)}
			break
		}
		left.Sub(left, head.amount)
		queue = queue[1:]
	}
	if len(queue) == 0 {
		delete(r.pending, asset)
		return
	}
	r.pending[asset] = queue
}

// RefundAll returns the relay's whole balance of asset to the primary
// participant.
func (r *Relay) RefundAll(asset escrow.Asset) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agreement, err := r.ledger.GetEscrow(r.id)
	if err != nil {
		return nil, err
	}
	balance, err := r.wallet.Balance(r.address, asset)
	if err != nil {
		return nil, err
	}
	if balance.Sign() <= 0 {
		return nil, ErrNothingToRefund
	}
	recipient := agreement.Primary.Participant
	if err := r.wallet.Transfer(r.address, recipient, asset, balance); err != nil {
		return nil, err
	}
	delete(r.pending, asset)
	r.emit(EventTypeRefunded, map[string]string{
		"asset":     asset.String(),
		"amount":    balance.String(),
		"recipient": crypto.FromRaw(crypto.AccountPrefix, recipient).String(),
	})
	return balance, nil
}

type relayEvent struct {
	evt *types.Event
}

func (e relayEvent) EventType() string { return e.evt.Type }

func (e relayEvent) Event() *types.Event { return e.evt }

func (r *Relay) emit(eventType string, attrs map[string]string) {
	attrs["id"] = hex.EncodeToString(r.id[:])
	attrs["relay"] = crypto.FromRaw(crypto.AccountPrefix, r.address).String()
	r.emitter.Emit(relayEvent{evt: &types.Event{Type: eventType, Attributes: attrs}})
}
