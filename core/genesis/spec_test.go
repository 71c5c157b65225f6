package genesis

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"duoescrow/crypto"
	"duoescrow/native/escrow"
)

type recordingSeeder struct {
	tokens  map[[20]byte]escrow.AssetKind
	credits []string
}

func (r *recordingSeeder) RegisterToken(token [20]byte, kind escrow.AssetKind) error {
	if r.tokens == nil {
		r.tokens = make(map[[20]byte]escrow.AssetKind)
	}
	r.tokens[token] = kind
	return nil
}

func (r *recordingSeeder) Credit(owner [20]byte, asset escrow.Asset, amount *big.Int) error {
	r.credits = append(r.credits, crypto.FromRaw(crypto.AccountPrefix, owner).String()+"/"+asset.Kind.String()+"/"+amount.String())
	return nil
}

func TestLoadAndApplyGenesis(t *testing.T) {
	alice := crypto.FromRaw(crypto.AccountPrefix, [20]byte{0x01}).String()
	token := "0x0000000000000000000000000000000000000070"
	doc := "tokens:\n" +
		"  - address: \"" + token + "\"\n" +
		"    kind: fungible\n" +
		"alloc:\n" +
		"  " + alice + ":\n" +
		"    native: \"1000\"\n" +
		"    \"" + token + "\": \"25\"\n"
	path := filepath.Join(t.TempDir(), "genesis.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	spec, err := LoadGenesisSpec(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	seeder := &recordingSeeder{}
	if err := spec.Apply(seeder); err != nil {
		t.Fatalf("apply: %v", err)
	}
	var tokenAddr [20]byte
	tokenAddr[19] = 0x70
	if seeder.tokens[tokenAddr] != escrow.AssetFungible {
		t.Fatalf("token not registered: %v", seeder.tokens)
	}
	if len(seeder.credits) != 2 {
		t.Fatalf("expected two credits, got %v", seeder.credits)
	}
	if !strings.HasSuffix(seeder.credits[0], "/fungible/25") || !strings.HasSuffix(seeder.credits[1], "/native/1000") {
		t.Fatalf("unexpected credit order %v", seeder.credits)
	}
}

func TestParseGenesisRejectsInvalid(t *testing.T) {
	alice := crypto.FromRaw(crypto.AccountPrefix, [20]byte{0x01}).String()
	cases := map[string]string{
		"unknown field":    "validators: []\n",
		"bad kind":         "tokens:\n  - address: \"0x0000000000000000000000000000000000000070\"\n    kind: weird\n",
		"unknown asset":    "alloc:\n  " + alice + ":\n    \"0x0000000000000000000000000000000000000071\": \"1\"\n",
		"negative amount":  "alloc:\n  " + alice + ":\n    native: \"-4\"\n",
		"bad account":      "alloc:\n  nobody:\n    native: \"4\"\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseGenesisSpec([]byte(doc)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
