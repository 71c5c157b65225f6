package config

import (
	"os"
	"path/filepath"
	"strings"

	"duoescrow/crypto"

	"github.com/BurntSushi/toml"
)

// DefaultCoordinator is the coordinator identity written into new default
// configuration files.
var DefaultCoordinator = crypto.FromRaw(crypto.AccountPrefix, crypto.DeriveAddress("coordinator", []byte("default"))).String()

type Config struct {
	ListenAddress string    `toml:"ListenAddress"`
	DataDir       string    `toml:"DataDir"`
	GenesisFile   string    `toml:"GenesisFile"`
	Environment   string    `toml:"Environment"`
	Log           Log       `toml:"log"`
	Escrow        Escrow    `toml:"escrow"`
	Gateway       Gateway   `toml:"gateway"`
	Journal       Journal   `toml:"journal"`
	Telemetry     Telemetry `toml:"telemetry"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./escrow-data"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "dev"
	}
	if cfg.Escrow.Coordinators == nil {
		cfg.Escrow.Coordinators = []string{}
	}
	if cfg.Gateway.RatePerSecond <= 0 {
		cfg.Gateway.RatePerSecond = 20
	}
	if cfg.Gateway.RateBurst <= 0 {
		cfg.Gateway.RateBurst = 40
	}
	if cfg.Gateway.ReadTimeoutSec <= 0 {
		cfg.Gateway.ReadTimeoutSec = 15
	}
	if cfg.Gateway.WriteTimeoutSec <= 0 {
		cfg.Gateway.WriteTimeoutSec = 15
	}
	if cfg.Gateway.JWTSecretEnv == "" && cfg.Gateway.JWTSecret == "" {
		cfg.Gateway.JWTSecretEnv = "ESCROW_JWT_SECRET"
	}
	if strings.TrimSpace(cfg.Telemetry.ServiceName) == "" {
		cfg.Telemetry.ServiceName = "escrowd"
	}
	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.File != "" {
		if cfg.Log.MaxSizeMB <= 0 {
			cfg.Log.MaxSizeMB = 100
		}
		if cfg.Log.MaxBackups <= 0 {
			cfg.Log.MaxBackups = 5
		}
		if cfg.Log.MaxAgeDays <= 0 {
			cfg.Log.MaxAgeDays = 28
		}
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress: ":8080",
		DataDir:       "./escrow-data",
		GenesisFile:   "",
		Environment:   "dev",
		Escrow: Escrow{
			Coordinators: []string{DefaultCoordinator},
			AutoRelay:    true,
		},
		Journal: Journal{
			Driver: "sqlite",
			DSN:    "escrow-journal.db",
		},
	}
	applyDefaults(cfg)

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// JWTSecret resolves the gateway signing secret, preferring the environment
// variable when one is configured.
func (c *Config) JWTSecret() string {
	if c.Gateway.JWTSecretEnv != "" {
		if v := strings.TrimSpace(os.Getenv(c.Gateway.JWTSecretEnv)); v != "" {
			return v
		}
	}
	return c.Gateway.JWTSecret
}
