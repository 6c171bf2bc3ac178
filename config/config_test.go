package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Network.ChainID != "0xaa36a7" {
		t.Fatalf("expected Sepolia chain id, got %q", cfg.Network.ChainID)
	}
	if cfg.Listen != ":7090" {
		t.Fatalf("unexpected listen address %q", cfg.Listen)
	}
	if cfg.Coordinator.NotificationTTL.Duration != 5*time.Second {
		t.Fatalf("unexpected notification ttl %s", cfg.Coordinator.NotificationTTL)
	}
	if cfg.Coordinator.ConfirmationTimeout.Duration != 5*time.Minute {
		t.Fatalf("unexpected confirmation timeout %s", cfg.Coordinator.ConfirmationTimeout)
	}
	if cfg.Contract.ReceiptPoll.Duration != 2*time.Second {
		t.Fatalf("unexpected receipt poll %s", cfg.Contract.ReceiptPoll)
	}
	if cfg.ContractAddress().Hex() != DefaultContractAddress {
		t.Fatalf("unexpected contract address %s", cfg.ContractAddress().Hex())
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "votingsync.yaml", `
listen: ":9000"
network:
  chain_id: "0x539"
  chain_name: "Local"
contract:
  address: "0x00000000000000000000000000000000000000c0"
  receipt_poll: 250ms
wallet:
  endpoint: "http://localhost:8545"
coordinator:
  confirmation_timeout: 90s
api:
  rate_limit:
    rate_per_second: 10
    burst: 20
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if cfg.Listen != ":9000" || cfg.Network.ChainID != "0x539" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Contract.ReceiptPoll.Duration != 250*time.Millisecond {
		t.Fatalf("unexpected receipt poll %s", cfg.Contract.ReceiptPoll)
	}
	if cfg.Coordinator.ConfirmationTimeout.Duration != 90*time.Second {
		t.Fatalf("unexpected timeout %s", cfg.Coordinator.ConfirmationTimeout)
	}
	if cfg.API.WriteTimeout.Duration != 120*time.Second {
		t.Fatalf("write timeout should cover confirmation, got %s", cfg.API.WriteTimeout)
	}
	if cfg.API.RateLimit.Burst != 20 {
		t.Fatalf("unexpected burst %d", cfg.API.RateLimit.Burst)
	}
}

func TestLoadTOMLSimulation(t *testing.T) {
	path := writeConfig(t, "votingsync.toml", `
listen = ":7100"

[coordinator]
notification_ttl = "2s"

[simulation]
enabled = true
accounts = ["0x00000000000000000000000000000000000000a1", "0x00000000000000000000000000000000000000b2"]
candidates = ["Alice", "Bob"]
max_votes_per_voter = 2
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load toml: %v", err)
	}
	if !cfg.Simulation.Enabled {
		t.Fatalf("expected simulation enabled")
	}
	if cfg.Wallet.Endpoint != "" {
		t.Fatalf("simulation should not default a wallet endpoint, got %q", cfg.Wallet.Endpoint)
	}
	if cfg.Simulation.Admin != cfg.Simulation.Accounts[0] {
		t.Fatalf("admin should default to the first account, got %q", cfg.Simulation.Admin)
	}
	if cfg.Coordinator.NotificationTTL.Duration != 2*time.Second {
		t.Fatalf("unexpected ttl %s", cfg.Coordinator.NotificationTTL)
	}
	if got := Addresses(cfg.Simulation.Accounts); len(got) != 2 || got[1] != common.HexToAddress("0xB2") {
		t.Fatalf("unexpected addresses %v", got)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad.yaml":      "contract:\n  address: \"nope\"\n",
		"chain.yaml":    "network:\n  chain_id: \"sepolia\"\n",
		"duration.yaml": "coordinator:\n  confirmation_timeout: soon\n",
		"sim.yaml":      "simulation:\n  enabled: true\n",
		"ratio.yaml":    "telemetry:\n  sample_ratio: 2\n",
	}
	for name, content := range cases {
		if _, err := Load(writeConfig(t, name, content)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	_, err := Load(writeConfig(t, "votingsync.json", "{}"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestDurationRejectsNonScalar(t *testing.T) {
	_, err := Load(writeConfig(t, "list.yaml", "coordinator:\n  notification_ttl: [1, 2]\n"))
	if err == nil || !strings.Contains(err.Error(), "duration must be string") {
		t.Fatalf("expected scalar error, got %v", err)
	}
}
