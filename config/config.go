package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"votingsync/gateway/wallet"
)

// DefaultContractAddress is the Sepolia deployment of the election contract.
const DefaultContractAddress = "0x8f45329a73401C6e7f480F0543F4F0d2959641C5"

// Duration wraps time.Duration to support YAML and TOML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// UnmarshalText parses human readable duration strings; TOML decodes through it.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText renders the duration in time.Duration notation.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config captures runtime configuration for votingsyncd.
type Config struct {
	Service     string            `yaml:"service" toml:"service"`
	Environment string            `yaml:"environment" toml:"environment"`
	Listen      string            `yaml:"listen" toml:"listen"`
	Network     wallet.Network    `yaml:"network" toml:"network"`
	Contract    ContractConfig    `yaml:"contract" toml:"contract"`
	Wallet      WalletConfig      `yaml:"wallet" toml:"wallet"`
	Coordinator CoordinatorConfig `yaml:"coordinator" toml:"coordinator"`
	API         APIConfig         `yaml:"api" toml:"api"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" toml:"telemetry"`
	Simulation  SimulationConfig  `yaml:"simulation" toml:"simulation"`
}

// ContractConfig locates the election contract.
type ContractConfig struct {
	Address     string   `yaml:"address" toml:"address"`
	ReceiptPoll Duration `yaml:"receipt_poll" toml:"receipt_poll"`
}

// WalletConfig points at the JSON-RPC endpoint that holds the unlocked
// accounts and signs transactions.
type WalletConfig struct {
	Endpoint     string   `yaml:"endpoint" toml:"endpoint"`
	PollInterval Duration `yaml:"poll_interval" toml:"poll_interval"`
}

// CoordinatorConfig tunes the session coordinator.
type CoordinatorConfig struct {
	NotificationTTL     Duration `yaml:"notification_ttl" toml:"notification_ttl"`
	ConfirmationTimeout Duration `yaml:"confirmation_timeout" toml:"confirmation_timeout"`
	EventBuffer         int      `yaml:"event_buffer" toml:"event_buffer"`
}

// RateLimitConfig throttles write endpoints per client.
type RateLimitConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second" toml:"rate_per_second"`
	Burst         int     `yaml:"burst" toml:"burst"`
}

// APIConfig tunes the HTTP surface.
type APIConfig struct {
	ReadTimeout    Duration        `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout   Duration        `yaml:"write_timeout" toml:"write_timeout"`
	AllowedOrigins []string        `yaml:"allowed_origins" toml:"allowed_origins"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
}

// TelemetryConfig configures the OTLP trace exporter. An empty endpoint
// disables tracing.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint" toml:"endpoint"`
	Insecure    bool    `yaml:"insecure" toml:"insecure"`
	Headers     string  `yaml:"headers" toml:"headers"`
	SampleRatio float64 `yaml:"sample_ratio" toml:"sample_ratio"`
}

// SimulationConfig replaces the wallet and the ledger with in-memory
// implementations, seeded from this section.
type SimulationConfig struct {
	Enabled          bool     `yaml:"enabled" toml:"enabled"`
	ElectionName     string   `yaml:"election_name" toml:"election_name"`
	Admin            string   `yaml:"admin" toml:"admin"`
	Accounts         []string `yaml:"accounts" toml:"accounts"`
	Voters           []string `yaml:"voters" toml:"voters"`
	Candidates       []string `yaml:"candidates" toml:"candidates"`
	MaxVotesPerVoter uint64   `yaml:"max_votes_per_voter" toml:"max_votes_per_voter"`
}

// ErrUnsupportedFormat is returned for config files that are neither YAML
// nor TOML.
var ErrUnsupportedFormat = errors.New("config: unsupported file format")

// Default returns the configuration used when no file is supplied.
func Default() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

// Load reads configuration from path, choosing the decoder by extension. An
// empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	if strings.TrimSpace(path) != "" {
		if err := decode(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func decode(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		return nil
	case ".yaml", ".yml":
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
}

func applyDefaults(cfg *Config) {
	if cfg.Service == "" {
		cfg.Service = "votingsyncd"
	}
	if cfg.Listen == "" {
		cfg.Listen = ":7090"
	}
	if cfg.Network.ChainID == "" {
		cfg.Network = wallet.Network{
			ChainID:   "0xaa36a7",
			ChainName: "Sepolia Testnet",
			NativeCurrency: wallet.Currency{
				Name:     "Sepolia Ether",
				Symbol:   "SEP",
				Decimals: 18,
			},
			RPCURLs:           []string{"https://sepolia.infura.io/v3/"},
			BlockExplorerURLs: []string{"https://sepolia.etherscan.io/"},
		}
	}
	if cfg.Contract.Address == "" {
		cfg.Contract.Address = DefaultContractAddress
	}
	if cfg.Contract.ReceiptPoll.Duration == 0 {
		cfg.Contract.ReceiptPoll.Duration = 2 * time.Second
	}
	if cfg.Wallet.Endpoint == "" && !cfg.Simulation.Enabled {
		cfg.Wallet.Endpoint = "http://127.0.0.1:8545"
	}
	if cfg.Wallet.PollInterval.Duration == 0 {
		cfg.Wallet.PollInterval.Duration = time.Second
	}
	if cfg.Coordinator.NotificationTTL.Duration == 0 {
		cfg.Coordinator.NotificationTTL.Duration = 5 * time.Second
	}
	if cfg.Coordinator.ConfirmationTimeout.Duration == 0 {
		cfg.Coordinator.ConfirmationTimeout.Duration = 5 * time.Minute
	}
	if cfg.Coordinator.EventBuffer <= 0 {
		cfg.Coordinator.EventBuffer = 16
	}
	if cfg.API.ReadTimeout.Duration == 0 {
		cfg.API.ReadTimeout.Duration = 15 * time.Second
	}
	if cfg.API.WriteTimeout.Duration == 0 {
		// writes block until the receipt arrives
		cfg.API.WriteTimeout.Duration = cfg.Coordinator.ConfirmationTimeout.Duration + 30*time.Second
	}
	if cfg.API.RateLimit.RatePerSecond == 0 {
		cfg.API.RateLimit.RatePerSecond = 2
	}
	if cfg.API.RateLimit.Burst == 0 {
		cfg.API.RateLimit.Burst = 5
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Simulation.Enabled {
		if cfg.Simulation.ElectionName == "" {
			cfg.Simulation.ElectionName = "Simulated Election"
		}
		if cfg.Simulation.MaxVotesPerVoter == 0 {
			cfg.Simulation.MaxVotesPerVoter = 1
		}
		if cfg.Simulation.Admin == "" && len(cfg.Simulation.Accounts) > 0 {
			cfg.Simulation.Admin = cfg.Simulation.Accounts[0]
		}
	}
}

// Validate checks the configuration for values the daemon cannot run with.
func (cfg Config) Validate() error {
	if strings.TrimSpace(cfg.Listen) == "" {
		return fmt.Errorf("listen address required")
	}
	if _, ok := new(big.Int).SetString(strings.TrimPrefix(strings.ToLower(cfg.Network.ChainID), "0x"), 16); !ok {
		return fmt.Errorf("network.chain_id %q is not a hex quantity", cfg.Network.ChainID)
	}
	if !common.IsHexAddress(cfg.Contract.Address) {
		return fmt.Errorf("contract.address %q is not an address", cfg.Contract.Address)
	}
	if cfg.Coordinator.ConfirmationTimeout.Duration < 0 {
		return fmt.Errorf("coordinator.confirmation_timeout must not be negative")
	}
	if cfg.API.RateLimit.RatePerSecond < 0 || cfg.API.RateLimit.Burst < 0 {
		return fmt.Errorf("api.rate_limit values must not be negative")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0,1]")
	}
	if !cfg.Simulation.Enabled {
		if strings.TrimSpace(cfg.Wallet.Endpoint) == "" {
			return fmt.Errorf("wallet.endpoint required unless simulation is enabled")
		}
		return nil
	}
	if len(cfg.Simulation.Accounts) == 0 {
		return fmt.Errorf("simulation.accounts must list at least one account")
	}
	addresses := append([]string{cfg.Simulation.Admin}, cfg.Simulation.Accounts...)
	addresses = append(addresses, cfg.Simulation.Voters...)
	for _, addr := range addresses {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("simulation address %q is invalid", addr)
		}
	}
	return nil
}

// ContractAddress returns the configured contract address.
func (cfg Config) ContractAddress() common.Address {
	return common.HexToAddress(cfg.Contract.Address)
}

// Addresses converts validated hex strings to addresses.
func Addresses(values []string) []common.Address {
	out := make([]common.Address, len(values))
	for i, v := range values {
		out[i] = common.HexToAddress(v)
	}
	return out
}
