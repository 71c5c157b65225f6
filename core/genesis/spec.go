package genesis

import (
	"bytes"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"duoescrow/crypto"
	"duoescrow/native/escrow"
)

// NativeAssetKey is the alloc key selecting the native asset.
const NativeAssetKey = "native"

// GenesisSpec seeds a fresh vault with registered tokens and opening balances.
type GenesisSpec struct {
	Tokens []TokenSpec                  `yaml:"tokens"`
	Alloc  map[string]map[string]string `yaml:"alloc"` // account -> asset -> amount

	tokens map[[20]byte]escrow.AssetKind
}

// TokenSpec registers a token contract.
type TokenSpec struct {
	Address string `yaml:"address"`
	Kind    string `yaml:"kind"`
}

// LoadGenesisSpec reads and validates a YAML genesis file.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	spec, err := ParseGenesisSpec(raw)
	if err != nil {
		return nil, fmt.Errorf("genesis spec %q: %w", path, err)
	}
	return spec, nil
}

// ParseGenesisSpec decodes and validates a YAML genesis document.
func ParseGenesisSpec(raw []byte) (*GenesisSpec, error) {
	var spec GenesisSpec
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid: %w", err)
	}
	return &spec, nil
}

func parseKind(kind string) (escrow.AssetKind, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "fungible", "":
		return escrow.AssetFungible, nil
	case "nonfungible", "non-fungible", "nft":
		return escrow.AssetNonFungible, nil
	default:
		return 0, fmt.Errorf("unknown token kind %q", kind)
	}
}

func (s *GenesisSpec) validate() error {
	s.tokens = make(map[[20]byte]escrow.AssetKind, len(s.Tokens))
	for i, token := range s.Tokens {
		addr, err := crypto.ParseAccount(token.Address)
		if err != nil {
			return fmt.Errorf("tokens[%d]: %w", i, err)
		}
		if _, dup := s.tokens[addr]; dup {
			return fmt.Errorf("tokens[%d]: duplicate token %s", i, token.Address)
		}
		kind, err := parseKind(token.Kind)
		if err != nil {
			return fmt.Errorf("tokens[%d]: %w", i, err)
		}
		s.tokens[addr] = kind
	}
	for account, balances := range s.Alloc {
		if _, err := crypto.ParseAccount(account); err != nil {
			return fmt.Errorf("alloc %q: %w", account, err)
		}
		for assetKey, amount := range balances {
			if _, err := s.asset(assetKey); err != nil {
				return fmt.Errorf("alloc %q: %w", account, err)
			}
			if _, err := parseAmountString(amount); err != nil {
				return fmt.Errorf("alloc %q/%s: %w", account, assetKey, err)
			}
		}
	}
	return nil
}

func (s *GenesisSpec) asset(key string) (escrow.Asset, error) {
	if strings.EqualFold(strings.TrimSpace(key), NativeAssetKey) {
		return escrow.NativeAsset(), nil
	}
	addr, err := crypto.ParseAccount(key)
	if err != nil {
		return escrow.Asset{}, fmt.Errorf("asset %q: %w", key, err)
	}
	kind, ok := s.tokens[addr]
	if !ok {
		return escrow.Asset{}, fmt.Errorf("asset %q is not a registered token", key)
	}
	return escrow.Asset{Kind: kind, Token: addr}, nil
}

func parseAmountString(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

// Seeder receives the genesis state.
type Seeder interface {
	RegisterToken(token [20]byte, kind escrow.AssetKind) error
	Credit(owner [20]byte, asset escrow.Asset, amount *big.Int) error
}

// Apply registers every token and credits every allocation in a deterministic
// order.
func (s *GenesisSpec) Apply(seeder Seeder) error {
	if s.tokens == nil {
		if err := s.validate(); err != nil {
			return err
		}
	}
	tokens := make([][20]byte, 0, len(s.tokens))
	for addr := range s.tokens {
		tokens = append(tokens, addr)
	}
	sort.Slice(tokens, func(i, j int) bool { return bytes.Compare(tokens[i][:], tokens[j][:]) < 0 })
	for _, addr := range tokens {
		if err := seeder.RegisterToken(addr, s.tokens[addr]); err != nil {
			return fmt.Errorf("register token %x: %w", addr, err)
		}
	}

	accounts := make([]string, 0, len(s.Alloc))
	for account := range s.Alloc {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)
	for _, account := range accounts {
		owner, _ := crypto.ParseAccount(account)
		assetKeys := make([]string, 0, len(s.Alloc[account]))
		for key := range s.Alloc[account] {
			assetKeys = append(assetKeys, key)
		}
		sort.Strings(assetKeys)
		for _, key := range assetKeys {
			asset, _ := s.asset(key)
			amount, _ := parseAmountString(s.Alloc[account][key])
			if err := seeder.Credit(owner, asset, amount); err != nil {
				return fmt.Errorf("credit %s/%s: %w", account, key, err)
			}
		}
	}
	return nil
}
