package config

import (
	"testing"
	"time"
)

func TestLoad_MissingRelayURLReturnsError(t *testing.T) {
	t.Setenv("RELAY_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil error, want error for missing RELAY_URL")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("RELAY_URL", "wss://relay.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.RelayURL != "wss://relay.example.com" {
		t.Errorf("RelayURL = %s", cfg.RelayURL)
	}
	if cfg.MaxVideos != 100 {
		t.Errorf("MaxVideos = %d, want 100", cfg.MaxVideos)
	}
	if cfg.PreloadAhead != 3 || cfg.PreloadBehind != 2 {
		t.Errorf("PreloadAhead/Behind = %d/%d, want 3/2", cfg.PreloadAhead, cfg.PreloadBehind)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.PreloadTimeout != 10*time.Second {
		t.Errorf("PreloadTimeout = %s, want 10s", cfg.PreloadTimeout)
	}
	if !cfg.EnableMemoryManagement {
		t.Error("EnableMemoryManagement = false, want true")
	}
	if cfg.MemoryTrimFraction != 0.7 {
		t.Errorf("MemoryTrimFraction = %v, want 0.7", cfg.MemoryTrimFraction)
	}
	if cfg.PoolCapacity != 5 {
		t.Errorf("PoolCapacity = %d, want 5", cfg.PoolCapacity)
	}
	if cfg.SocialThreshold != 5 {
		t.Errorf("SocialThreshold = %d, want 5", cfg.SocialThreshold)
	}
	if len(cfg.Following) != 0 {
		t.Errorf("Following = %v, want empty", cfg.Following)
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %s, want 8080", cfg.ServerPort)
	}
	if cfg.DatabasePath != "vinefeed.db" {
		t.Errorf("DatabasePath = %s", cfg.DatabasePath)
	}
	if cfg.RateLimitGeneral != 120 {
		t.Errorf("RateLimitGeneral = %d, want 120", cfg.RateLimitGeneral)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("RELAY_URL", "wss://relay.example.com")
	t.Setenv("MAX_VIDEOS", "50")
	t.Setenv("PRELOAD_TIMEOUT", "3s")
	t.Setenv("ENABLE_MEMORY_MANAGEMENT", "false")
	t.Setenv("RELAY_RATE_LIMIT", "0.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.MaxVideos != 50 {
		t.Errorf("MaxVideos = %d, want 50", cfg.MaxVideos)
	}
	if cfg.PreloadTimeout != 3*time.Second {
		t.Errorf("PreloadTimeout = %s, want 3s", cfg.PreloadTimeout)
	}
	if cfg.EnableMemoryManagement {
		t.Error("EnableMemoryManagement = true, want false")
	}
	if cfg.RelayRateLimit != 0.5 {
		t.Errorf("RelayRateLimit = %v, want 0.5", cfg.RelayRateLimit)
	}
}

func TestLoad_InvalidValueFallsBackToDefault(t *testing.T) {
	t.Setenv("RELAY_URL", "wss://relay.example.com")
	t.Setenv("MAX_VIDEOS", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.MaxVideos != 100 {
		t.Errorf("MaxVideos = %d, want default 100", cfg.MaxVideos)
	}
}

func TestLoad_ListParsing(t *testing.T) {
	t.Setenv("RELAY_URL", "wss://relay.example.com")
	t.Setenv("FOLLOWING", "pk1, pk2,,pk3 ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	want := []string{"pk1", "pk2", "pk3"}
	if len(cfg.Following) != len(want) {
		t.Fatalf("Following = %v, want %v", cfg.Following, want)
	}
	for i, pk := range want {
		if cfg.Following[i] != pk {
			t.Errorf("Following[%d] = %s, want %s", i, cfg.Following[i], pk)
		}
	}
}

func TestLoad_InvalidTrimFractionReturnsError(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"ゼロは拒否", "0"},
		{"負数は拒否", "-0.5"},
		{"1超過は拒否", "1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("RELAY_URL", "wss://relay.example.com")
			t.Setenv("MEMORY_TRIM_FRACTION", tt.value)

			if _, err := Load(); err == nil {
				t.Errorf("Load() = nil error for MEMORY_TRIM_FRACTION=%s", tt.value)
			}
		})
	}
}
