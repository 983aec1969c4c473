package config

import (
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with defaults: %v", err)
	}
	if cfg.StakePerSample == 0 || cfg.MaxSamples < cfg.MinSamples {
		t.Fatalf("bad defaults: %+v", cfg)
	}
}

func TestValidateRejectsBadSampleBounds(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.MinSamples = 5
	cfg.MaxSamples = 4
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestValidateRequiresWalletsWithRPC(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.RPCURL = "http://localhost:8899"
	cfg.TokenMint = "MintXYZ"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing wallets")
	}
}

func TestMaskSecret(t *testing.T) {
	cfg := &Config{HotWalletKey: "abcdefghijklmnop"}
	masked := cfg.MaskedHotKey()
	if strings.Contains(masked, "efghijkl") {
		t.Fatalf("secret leaked: %s", masked)
	}
	if !strings.HasPrefix(masked, "abcd") || !strings.HasSuffix(masked, "mnop") {
		t.Fatalf("unexpected mask: %s", masked)
	}
	if (&Config{}).MaskedColdKey() != "(not set)" {
		t.Fatal("empty secret should read (not set)")
	}
}
