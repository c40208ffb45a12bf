package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "oracle.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
asset:
  rpc_url: https://asset.example/rpc
  contract_address: "0x0000000000000000000000000000000000aaaa"
  signer_key: "deadbeef"
payment:
  rpc_url: https://payment.example/rpc
  contract_address: "0x0000000000000000000000000000000000bbbb"
  signer_key: "deadbeef"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.EventPollInterval.Duration.Seconds() != 15 {
		t.Fatalf("expected default event_poll_interval 15s, got %v", cfg.EventPollInterval.Duration)
	}
	if cfg.SweepInterval.Duration.Seconds() != 30 {
		t.Fatalf("expected default sweep_interval 30s, got %v", cfg.SweepInterval.Duration)
	}
	if cfg.CallbackGasLimit != 200_000 {
		t.Fatalf("expected default callback_gas_limit 200000, got %d", cfg.CallbackGasLimit)
	}
	if cfg.SubmitMaxRetries != 3 {
		t.Fatalf("expected default submit_max_retries 3, got %d", cfg.SubmitMaxRetries)
	}
	if len(cfg.VerifierConfirmationTable) != 4 {
		t.Fatalf("expected default confirmation table, got %d entries", len(cfg.VerifierConfirmationTable))
	}
}

func TestLoadRequiresRPCURLs(t *testing.T) {
	path := writeConfig(t, `
asset:
  contract_address: "0x0000000000000000000000000000000000aaaa"
  signer_key: "deadbeef"
payment:
  rpc_url: https://payment.example/rpc
  contract_address: "0x0000000000000000000000000000000000bbbb"
  signer_key: "deadbeef"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for missing asset_rpc_url")
	}
}

func TestLoadRequiresSignerKeyOrKeystore(t *testing.T) {
	path := writeConfig(t, `
asset:
  rpc_url: https://asset.example/rpc
  contract_address: "0x0000000000000000000000000000000000aaaa"
payment:
  rpc_url: https://payment.example/rpc
  contract_address: "0x0000000000000000000000000000000000bbbb"
  signer_key: "deadbeef"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for missing asset signer key")
	}
}
