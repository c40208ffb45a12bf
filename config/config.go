// Package config loads the oracle's runtime configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support human-readable YAML values.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings such as "15s".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a string")
	}
	raw := value.Value
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

// ChainConfig describes one side (Asset or Payment) of the swap.
type ChainConfig struct {
	RPCURL           string `yaml:"rpc_url"`
	ContractAddress  string `yaml:"contract_address"`
	SignerKey        string `yaml:"signer_key"`
	SignerKeystore   string `yaml:"signer_keystore"`
	SignerPassphrase string `yaml:"signer_passphrase"`
	ExpectedChainID  uint64 `yaml:"expected_chain_id"`
}

// ConfirmationTier maps a minimum transferred value (in wei, decimal string)
// to a required confirmation count.
type ConfirmationTier struct {
	MinWei                string `yaml:"min_wei"`
	RequiredConfirmations uint64 `yaml:"confirmations"`
}

// Config captures every recognized oracle runtime option.
type Config struct {
	Asset   ChainConfig `yaml:"asset"`
	Payment ChainConfig `yaml:"payment"`

	EventPollInterval  Duration `yaml:"event_poll_interval"`
	SweepInterval      Duration `yaml:"sweep_interval"`
	CallbackGasLimit   uint64   `yaml:"callback_gas_limit"`
	SubmitMaxRetries   int      `yaml:"submit_max_retries"`

	VerifierConfirmationTable []ConfirmationTier `yaml:"verifier_confirmation_table"`

	ServerPort int `yaml:"server_port"`

	LogsEndpointEnabled bool   `yaml:"logs_endpoint_enabled"`
	LogFilePath         string `yaml:"log_file_path"`

	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Load reads and validates configuration from the supplied YAML path,
// applying defaults for anything left unset.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.EventPollInterval.Duration == 0 {
		cfg.EventPollInterval.Duration = 15 * time.Second
	}
	if cfg.SweepInterval.Duration == 0 {
		cfg.SweepInterval.Duration = 30 * time.Second
	}
	if cfg.CallbackGasLimit == 0 {
		cfg.CallbackGasLimit = 200_000
	}
	if cfg.SubmitMaxRetries <= 0 {
		cfg.SubmitMaxRetries = 3
	}
	if cfg.ServerPort == 0 {
		cfg.ServerPort = 8080
	}
	if len(cfg.VerifierConfirmationTable) == 0 {
		cfg.VerifierConfirmationTable = []ConfirmationTier{
			{MinWei: "10000000000000000000", RequiredConfirmations: 30},
			{MinWei: "1000000000000000000", RequiredConfirmations: 20},
			{MinWei: "100000000000000000", RequiredConfirmations: 15},
			{MinWei: "0", RequiredConfirmations: 10},
		}
	}
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.Asset.RPCURL) == "" {
		return fmt.Errorf("asset_rpc_url required")
	}
	if strings.TrimSpace(cfg.Payment.RPCURL) == "" {
		return fmt.Errorf("payment_rpc_url required")
	}
	if strings.TrimSpace(cfg.Asset.ContractAddress) == "" {
		return fmt.Errorf("asset_contract_address required")
	}
	if strings.TrimSpace(cfg.Payment.ContractAddress) == "" {
		return fmt.Errorf("payment_contract_address required")
	}
	if strings.TrimSpace(cfg.Asset.SignerKey) == "" && strings.TrimSpace(cfg.Asset.SignerKeystore) == "" {
		return fmt.Errorf("asset_signer_key or asset signer keystore required")
	}
	if strings.TrimSpace(cfg.Payment.SignerKey) == "" && strings.TrimSpace(cfg.Payment.SignerKeystore) == "" {
		return fmt.Errorf("payment_signer_key or payment signer keystore required")
	}
	if cfg.EventPollInterval.Duration <= 0 {
		return fmt.Errorf("event_poll_interval must be positive")
	}
	if cfg.SweepInterval.Duration <= 0 {
		return fmt.Errorf("sweep_interval must be positive")
	}
	return nil
}
