package main

import (
	"context"
	"encoding/json"
	"testing"

	"votingsync/config"
	"votingsync/observability/logging"
)

func TestLoggingOptionsCarryConfig(t *testing.T) {
	opts := loggingOptions(config.LoggingConfig{Level: "debug", File: "/tmp/votingsyncd.log", MaxSizeMB: 10, MaxBackups: 3})
	if opts.Level != "debug" || opts.File != "/tmp/votingsyncd.log" || opts.MaxSizeMB != 10 || opts.MaxBackups != 3 {
		t.Fatalf("unexpected logging options %+v", opts)
	}
	if logging.Setup("votingsyncd", "test", opts) == nil {
		t.Fatalf("expected a logger")
	}
}

func TestOpenBackendsSimulation(t *testing.T) {
	cfg := config.Default()
	cfg.Simulation = config.SimulationConfig{
		Enabled:          true,
		ElectionName:     "Board",
		Admin:            "0x00000000000000000000000000000000000000ad",
		Accounts:         []string{"0x00000000000000000000000000000000000000a1"},
		Voters:           []string{"0x00000000000000000000000000000000000000a1"},
		Candidates:       []string{"Alice", "Bob"},
		MaxVotesPerVoter: 1,
	}

	provider, ledger, closeBackends, err := openBackends(context.Background(), cfg, logging.Discard())
	if err != nil {
		t.Fatalf("open backends: %v", err)
	}
	defer closeBackends()

	raw, err := provider.Request(context.Background(), "eth_accounts")
	if err != nil {
		t.Fatalf("eth_accounts: %v", err)
	}
	var accounts []string
	if err := json.Unmarshal(raw, &accounts); err != nil || len(accounts) != 1 {
		t.Fatalf("unexpected accounts %s (%v)", raw, err)
	}

	info, err := ledger.ElectionInfo(context.Background())
	if err != nil {
		t.Fatalf("election info: %v", err)
	}
	if info.Name != "Board" || info.MaxVotesPerVoter != 1 {
		t.Fatalf("unexpected election %+v", info)
	}
	candidates, err := ledger.AllCandidates(context.Background())
	if err != nil || len(candidates) != 2 {
		t.Fatalf("unexpected candidates %v (%v)", candidates, err)
	}
}
