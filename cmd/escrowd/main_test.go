package main

import (
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"duoescrow/config"
	"duoescrow/crypto"
	"duoescrow/native/escrow"
)

func writeGenesis(t *testing.T, dir, amount string) string {
	t.Helper()
	alice := crypto.FromRaw(crypto.AccountPrefix, [20]byte{0x01}).String()
	path := filepath.Join(dir, "genesis.yaml")
	doc := "alloc:\n  " + alice + ":\n    native: \"" + amount + "\"\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write genesis: %v", err)
	}
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Load(filepath.Join(dir, "config.toml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.GenesisFile = writeGenesis(t, dir, "5000")
	cfg.Gateway.JWTSecret = "escrowd-test"
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAssembleSeedsGenesisOnce(t *testing.T) {
	cfg := testConfig(t)
	d, err := assemble(cfg, quietLogger())
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	alice := [20]byte{0x01}
	balance, err := d.vault.Balance(alice, escrow.NativeAsset())
	if err != nil || balance.Cmp(big.NewInt(5000)) != 0 {
		t.Fatalf("unexpected seeded balance %v (%v)", balance, err)
	}
	if len(d.coordinators) != 1 || d.ledger.DefaultCoordinator() != d.coordinators[0].Address() {
		t.Fatalf("default coordinator not wired")
	}

	srv := httptest.NewServer(d.handler)
	res, err := srv.Client().Get(srv.URL + "/healthz")
	if err != nil || res.StatusCode != http.StatusOK {
		t.Fatalf("healthz failed: %v %v", res, err)
	}
	res.Body.Close()
	res, err = srv.Client().Get(srv.URL + "/metrics")
	if err != nil || res.StatusCode != http.StatusOK {
		t.Fatalf("metrics failed: %v %v", res, err)
	}
	res.Body.Close()
	srv.Close()
	d.Close()

	reopened, err := assemble(cfg, quietLogger())
	if err != nil {
		t.Fatalf("reassemble: %v", err)
	}
	balance, err = reopened.vault.Balance(alice, escrow.NativeAsset())
	if err != nil || balance.Cmp(big.NewInt(5000)) != 0 {
		t.Fatalf("genesis applied twice: %v (%v)", balance, err)
	}
	reopened.Close()

	cfg.GenesisFile = writeGenesis(t, filepath.Dir(cfg.GenesisFile), "7000")
	if _, err := assemble(cfg, quietLogger()); err == nil {
		t.Fatalf("expected mismatched genesis to be refused")
	}
}

func TestAssembleRunsEveryConfiguredCoordinator(t *testing.T) {
	cfg := testConfig(t)
	second := crypto.FromRaw(crypto.AccountPrefix, [20]byte{0xc2}).String()
	cfg.Escrow.Coordinators = append(cfg.Escrow.Coordinators, second)
	d, err := assemble(cfg, quietLogger())
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	defer d.Close()

	if len(d.coordinators) != 2 {
		t.Fatalf("expected two coordinators, got %d", len(d.coordinators))
	}
	probe := coordinatorSet(d.coordinators)
	if !probe.IsArbitrationCoordinator([20]byte{0xc2}) || !probe.IsArbitrationCoordinator(d.ledger.DefaultCoordinator()) {
		t.Fatalf("configured coordinators not recognised")
	}
	if probe.IsArbitrationCoordinator([20]byte{0xc3}) {
		t.Fatalf("unknown coordinator accepted")
	}
}

func TestJournalDSNResolvesRelativeSqlite(t *testing.T) {
	cfg := &config.Config{DataDir: "/var/lib/escrow", Journal: config.Journal{Driver: "sqlite", DSN: "journal.db"}}
	if got := journalDSN(cfg); got != filepath.Join("/var/lib/escrow", "journal.db") {
		t.Fatalf("unexpected dsn %q", got)
	}
	cfg.Journal = config.Journal{Driver: "postgres", DSN: "postgres://x"}
	if got := journalDSN(cfg); got != "postgres://x" {
		t.Fatalf("postgres dsn rewritten: %q", got)
	}
}
