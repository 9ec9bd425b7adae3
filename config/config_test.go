package config

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"deedmarket/crypto"
)

func testAddress(t *testing.T) string {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key.PubKey().Address().String()
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.RPCAddress != ":8545" {
		t.Fatalf("unexpected default RPC address %q", cfg.RPCAddress)
	}
	if cfg.PlatformFeeBps != 250 {
		t.Fatalf("unexpected default fee %d", cfg.PlatformFeeBps)
	}
	for _, addr := range []string{cfg.AdminAddress, cfg.VerifierAddress, cfg.VaultAddress} {
		if _, err := crypto.DecodeAddress(addr); err != nil {
			t.Fatalf("generated address %q does not decode: %v", addr, err)
		}
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected default config file to be written: %v", err)
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.AdminAddress != cfg.AdminAddress {
		t.Fatalf("reloaded admin %q differs from generated %q", reloaded.AdminAddress, cfg.AdminAddress)
	}
}

func TestLoadAppliesDefaultsToSparseFile(t *testing.T) {
	path := writeConfig(t, "Environment = \"staging\"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Environment != "staging" {
		t.Fatalf("explicit value overridden: %q", cfg.Environment)
	}
	if cfg.RPCAddress != ":8545" || cfg.DataDir != "./deedmarket-data" {
		t.Fatalf("defaults not applied: %q %q", cfg.RPCAddress, cfg.DataDir)
	}
	if cfg.RPCRateLimit != 50 || cfg.RPCRateBurst != 100 {
		t.Fatalf("rate limit defaults not applied: %v %v", cfg.RPCRateLimit, cfg.RPCRateBurst)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("log level default not applied: %q", cfg.LogLevel)
	}
}

func TestLoadRejectsUnknownLogLevel(t *testing.T) {
	path := writeConfig(t, "LogLevel = \"chatty\"\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "LogLevel") {
		t.Fatalf("expected log level validation failure, got %v", err)
	}
}

func TestLoadRejectsExcessiveFee(t *testing.T) {
	path := writeConfig(t, "PlatformFeeBps = 1500\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "PlatformFeeBps") {
		t.Fatalf("expected fee validation failure, got %v", err)
	}
}

func TestLoadRejectsMalformedAddress(t *testing.T) {
	path := writeConfig(t, "AdminAddress = \"not-a-bech32-address\"\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "AdminAddress") {
		t.Fatalf("expected address validation failure, got %v", err)
	}
}

func TestLoadRejectsBadGenesisAmount(t *testing.T) {
	addr := testAddress(t)
	body := "[[GenesisAlloc]]\nAddress = \"" + addr + "\"\nAmount = \"-5\"\n"
	path := writeConfig(t, body)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "Amount") {
		t.Fatalf("expected amount validation failure, got %v", err)
	}
}

func TestDecodedAlloc(t *testing.T) {
	first := testAddress(t)
	second := testAddress(t)
	cfg := &Config{
		GenesisAlloc: []GenesisAllocation{
			{Address: first, Amount: "1000"},
			{Address: second, Amount: "250000"},
		},
	}
	addrs, amounts, err := cfg.DecodedAlloc()
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(addrs) != 2 || len(amounts) != 2 {
		t.Fatalf("unexpected lengths %d %d", len(addrs), len(amounts))
	}
	decoded, err := crypto.DecodeAddress(first)
	if err != nil {
		t.Fatalf("decode address: %v", err)
	}
	if addrs[0] != decoded.Raw() {
		t.Fatalf("first allocation address mismatch")
	}
	if amounts[1].Cmp(big.NewInt(250000)) != 0 {
		t.Fatalf("unexpected second amount %s", amounts[1])
	}
}
