package relay

import (
	"sync"

	"duoescrow/core/events"
)

// Registry hands out one relay per agreement.
type Registry struct {
	mu        sync.Mutex
	ledger    escrowLedger
	wallet    Wallet
	autoRelay bool
	emitter   events.Emitter
	relays    map[[32]byte]*Relay
}

// NewRegistry creates relays over ledger and wallet.
func NewRegistry(ledger escrowLedger, wallet Wallet, autoRelay bool, emitter events.Emitter) *Registry {
	return &Registry{
		ledger:    ledger,
		wallet:    wallet,
		autoRelay: autoRelay,
		emitter:   emitter,
		relays:    make(map[[32]byte]*Relay),
	}
}

// For returns the relay of the agreement, creating it on first use.
func (r *Registry) For(id [32]byte) (*Relay, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.relays[id]; ok {
		return existing, nil
	}
	created, err := New(id, r.ledger, r.wallet)
	if err != nil {
		return nil, err
	}
	created.SetAutoRelay(r.autoRelay)
	created.SetEmitter(r.emitter)
	r.relays[id] = created
	return created, nil
}
