package config

// Log controls where structured logs are written. An empty File logs to
// stdout; otherwise the file is rotated once it reaches MaxSizeMB.
type Log struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Escrow configures the ledger and its arbitration coordinators. Addresses
// are bech32 account strings.
type Escrow struct {
	// Coordinators lists the coordinator identities run by this process. The
	// first entry is the default assigned to agreements that name none.
	Coordinators         []string `toml:"Coordinators"`
	PlatformFeeRecipient string   `toml:"PlatformFeeRecipient"`
	PlatformFeeBps       uint32   `toml:"PlatformFeeBps"`
	AutoRelay            bool     `toml:"AutoRelay"`
}

// Gateway configures the HTTP API.
type Gateway struct {
	JWTSecret       string   `toml:"JWTSecret,omitempty"`
	JWTSecretEnv    string   `toml:"JWTSecretEnv"`
	JWTIssuer       string   `toml:"JWTIssuer"`
	JWTAudience     string   `toml:"JWTAudience"`
	RatePerSecond   float64  `toml:"RatePerSecond"`
	RateBurst       int      `toml:"RateBurst"`
	AllowedOrigins  []string `toml:"AllowedOrigins"`
	ReadTimeoutSec  int      `toml:"ReadTimeoutSec"`
	WriteTimeoutSec int      `toml:"WriteTimeoutSec"`
}

// Journal selects the SQL database that records emitted events. Driver is
// "sqlite", "postgres" or empty to disable the journal.
type Journal struct {
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

// Telemetry configures OTLP export. An empty endpoint disables exporters.
type Telemetry struct {
	ServiceName  string            `toml:"ServiceName"`
	OTLPEndpoint string            `toml:"OTLPEndpoint"`
	Insecure     bool              `toml:"Insecure"`
	Headers      map[string]string `toml:"Headers,omitempty"`
	Metrics      bool              `toml:"Metrics"`
	Traces       bool              `toml:"Traces"`
	SampleRatio  float64           `toml:"SampleRatio"`
}
