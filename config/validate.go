package config

import (
	"fmt"
	"strings"

	"duoescrow/crypto"
	"duoescrow/native/fees"
)

// Validate checks the configuration for values the daemon cannot start with.
func (c *Config) Validate() error {
	if _, err := c.CoordinatorAddresses(); err != nil {
		return err
	}
	if _, err := c.PlatformFee(); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(c.Journal.Driver)) {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("journal: unsupported driver %q", c.Journal.Driver)
	}
	if c.Journal.Driver != "" && strings.TrimSpace(c.Journal.DSN) == "" {
		return fmt.Errorf("journal: DSN required for driver %q", c.Journal.Driver)
	}
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log: unsupported level %q", c.Log.Level)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: SampleRatio must be within [0, 1]")
	}
	if c.Gateway.RateBurst < 1 {
		return fmt.Errorf("gateway: RateBurst must be positive")
	}
	return nil
}

// CoordinatorAddresses parses the configured coordinator identities.
func (c *Config) CoordinatorAddresses() ([][20]byte, error) {
	out := make([][20]byte, 0, len(c.Escrow.Coordinators))
	seen := make(map[[20]byte]struct{}, len(c.Escrow.Coordinators))
	for i, raw := range c.Escrow.Coordinators {
		addr, err := crypto.ParseAccount(raw)
		if err != nil {
			return nil, fmt.Errorf("escrow: Coordinators[%d]: %w", i, err)
		}
		if _, dup := seen[addr]; dup {
			return nil, fmt.Errorf("escrow: Coordinators[%d] duplicates an earlier entry", i)
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out, nil
}

// PlatformFee parses the platform fee definition. A zero rate disables it.
func (c *Config) PlatformFee() (fees.Definition, error) {
	if c.Escrow.PlatformFeeBps == 0 {
		return fees.Definition{}, nil
	}
	if c.Escrow.PlatformFeeBps > fees.BpsDenominator {
		return fees.Definition{}, fmt.Errorf("escrow: PlatformFeeBps %d exceeds %d", c.Escrow.PlatformFeeBps, fees.BpsDenominator)
	}
	recipient, err := crypto.ParseAccount(c.Escrow.PlatformFeeRecipient)
	if err != nil {
		return fees.Definition{}, fmt.Errorf("escrow: PlatformFeeRecipient: %w", err)
	}
	return fees.Definition{Recipient: recipient, Bps: c.Escrow.PlatformFeeBps}, nil
}
