package bank

import (
	"errors"
	"fmt"
	"math/big"

	"duoescrow/core/events"
	"duoescrow/crypto"
	"duoescrow/native/escrow"
)

var (
	ErrInvalidAmount       = errors.New("bank: invalid amount")
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrUnknownToken        = errors.New("bank: token not registered")
	ErrInvalidToken        = errors.New("bank: invalid token registration")
)

type vaultState interface {
	Balance(owner [20]byte, asset escrow.Asset) (*big.Int, error)
	Update(fn func(escrow.Txn) error) error
	PutToken(token [20]byte, kind escrow.AssetKind) error
	TokenKind(token [20]byte) (escrow.AssetKind, bool, error)
	Tokens() ([][20]byte, error)
}

// CustodyAddress is the account holding funds the escrow ledger has pulled.
var CustodyAddress = crypto.DeriveAddress("custody", []byte("escrow"))

// Vault keeps per-account balances of native value and registered tokens. It
// is the asset mover of the escrow ledger: Stage applies a movement into and
// out of custody on the ledger's Txn, so balances and agreement accounting are
// written together. Balance read-modify-write is serialised by the state's
// Update.
type Vault struct {
	state   vaultState
	custody [20]byte
	emitter events.Emitter
}

// NewVault creates a vault over state with the default custody account.
func NewVault(st vaultState) *Vault {
	return &Vault{state: st, custody: CustodyAddress, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (v *Vault) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		v.emitter = events.NoopEmitter{}
		return
	}
	v.emitter = emitter
}

// Custody returns the custody account.
func (v *Vault) Custody() [20]byte { return v.custody }

// RegisterToken records a token contract and its kind.
func (v *Vault) RegisterToken(token [20]byte, kind escrow.AssetKind) error {
	if token == ([20]byte{}) || (kind != escrow.AssetFungible && kind != escrow.AssetNonFungible) {
		return ErrInvalidToken
	}
	return v.state.PutToken(token, kind)
}

// IsFungibleToken reports whether token is registered as fungible.
func (v *Vault) IsFungibleToken(token [20]byte) bool {
	kind, ok, err := v.state.TokenKind(token)
	return err == nil && ok && kind == escrow.AssetFungible
}

func (v *Vault) checkAsset(asset escrow.Asset) error {
	if err := asset.Validate(); err != nil {
		return err
	}
	if asset.Kind == escrow.AssetNative {
		return nil
	}
	kind, ok, err := v.state.TokenKind(asset.Token)
	if err != nil {
		return err
	}
	if !ok || kind != asset.Kind {
		return fmt.Errorf("%w: %s", ErrUnknownToken, asset)
	}
	return nil
}

// Balance returns the owner's balance of the asset.
func (v *Vault) Balance(owner [20]byte, asset escrow.Asset) (*big.Int, error) {
	return v.state.Balance(owner, asset)
}

// Holding is one asset balance of an account.
type Holding struct {
	Asset  escrow.Asset
	Amount *big.Int
}

// Balances lists the owner's native balance followed by every registered token.
func (v *Vault) Balances(owner [20]byte) ([]Holding, error) {
	tokens, err := v.state.Tokens()
	if err != nil {
		return nil, err
	}
	assets := []escrow.Asset{escrow.NativeAsset()}
	for _, token := range tokens {
		kind, ok, err := v.state.TokenKind(token)
		if err != nil {
			return nil, err
		}
		if ok {
			assets = append(assets, escrow.Asset{Kind: kind, Token: token})
		}
	}
	out := make([]Holding, 0, len(assets))
	for _, asset := range assets {
		amount, err := v.state.Balance(owner, asset)
		if err != nil {
			return nil, err
		}
		out = append(out, Holding{Asset: asset, Amount: amount})
	}
	return out, nil
}

// Credit mints amount of asset to owner. It seeds balances from genesis.
func (v *Vault) Credit(owner [20]byte, asset escrow.Asset, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := v.checkAsset(asset); err != nil {
		return err
	}
	return v.state.Update(func(txn escrow.Txn) error {
		if err := credit(txn, owner, asset, amount); err != nil {
			return err
		}
		v.emitOnCommit(txn, events.Transfer{Asset: asset.String(), To: owner, Amount: amount, Reason: "credit"})
		return nil
	})
}

// Transfer moves amount of asset between two accounts.
func (v *Vault) Transfer(from, to [20]byte, asset escrow.Asset, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := v.checkAsset(asset); err != nil {
		return err
	}
	return v.state.Update(func(txn escrow.Txn) error {
		if err := move(txn, from, to, asset, amount); err != nil {
			return err
		}
		v.emitOnCommit(txn, events.Transfer{Asset: asset.String(), From: from, To: to, Amount: amount, Reason: "transfer"})
		return nil
	})
}

// Stage applies m on txn: the payer's amount moves into custody first, then
// each payout leaves custody. A payout may spend funds pulled by the same
// movement.
func (v *Vault) Stage(txn escrow.Txn, m escrow.Movement) error {
	if m.Amount != nil && m.Amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if m.Pulls() {
		if err := v.checkAsset(m.Asset); err != nil {
			return err
		}
	} else if len(m.Payouts) == 0 {
		return ErrInvalidAmount
	}
	for _, tr := range m.Payouts {
		if tr.Amount == nil || tr.Amount.Sign() <= 0 {
			return ErrInvalidAmount
		}
		if tr.To == ([20]byte{}) {
			return fmt.Errorf("bank: transfer to empty address")
		}
		if err := v.checkAsset(tr.Asset); err != nil {
			return err
		}
	}

	if m.Pulls() {
		if err := move(txn, m.Payer, v.custody, m.Asset, m.Amount); err != nil {
			return err
		}
		v.emitOnCommit(txn, events.Transfer{Asset: m.Asset.String(), From: m.Payer, To: v.custody, Amount: m.Amount, Reason: "pull"})
	}
	for _, tr := range m.Payouts {
		if err := move(txn, v.custody, tr.To, tr.Asset, tr.Amount); err != nil {
			return err
		}
		v.emitOnCommit(txn, events.Transfer{Asset: tr.Asset.String(), From: v.custody, To: tr.To, Amount: tr.Amount, Reason: "push"})
	}
	return nil
}

func (v *Vault) emitOnCommit(txn escrow.Txn, evt events.Transfer) {
	txn.OnCommit(func() {
		if v.emitter != nil {
			v.emitter.Emit(evt)
		}
	})
}

func credit(txn escrow.Txn, owner [20]byte, asset escrow.Asset, amount *big.Int) error {
	balance, err := txn.Balance(owner, asset)
	if err != nil {
		return err
	}
	return txn.SetBalance(owner, asset, new(big.Int).Add(balance, amount))
}

func move(txn escrow.Txn, from, to [20]byte, asset escrow.Asset, amount *big.Int) error {
	balance, err := txn.Balance(from, asset)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s of %s, needs %s", ErrInsufficientBalance,
			crypto.FromRaw(crypto.AccountPrefix, from), balance, asset, amount)
	}
	if err := txn.SetBalance(from, asset, new(big.Int).Sub(balance, amount)); err != nil {
		return err
	}
	return credit(txn, to, asset, amount)
}
