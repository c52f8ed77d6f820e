package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Agent.Model != DefaultModel {
		t.Errorf("Model = %q, want %q", cfg.Agent.Model, DefaultModel)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Presence.Morning.Hour != 8 || cfg.Presence.Morning.Minute != 30 {
		t.Errorf("Morning = %+v, want 08:30", cfg.Presence.Morning)
	}
	if cfg.Presence.OnlineReplyLimit != 10 {
		t.Errorf("OnlineReplyLimit = %d, want 10", cfg.Presence.OnlineReplyLimit)
	}
	if cfg.Presence.OnlineBatchThreshold != 3 {
		t.Errorf("OnlineBatchThreshold = %d, want 3", cfg.Presence.OnlineBatchThreshold)
	}
}

func TestPresenceDurations(t *testing.T) {
	p := DefaultConfig().Presence

	if p.GatheringDuration() != 30*time.Minute {
		t.Errorf("GatheringDuration = %v", p.GatheringDuration())
	}
	if p.OnlineDuration() != 20*time.Minute {
		t.Errorf("OnlineDuration = %v", p.OnlineDuration())
	}
	if p.UserCooldown() != 20*time.Second {
		t.Errorf("UserCooldown = %v", p.UserCooldown())
	}
	if p.PulseInterval() != 90*time.Second {
		t.Errorf("PulseInterval = %v", p.PulseInterval())
	}
	if p.ShortTermTTL() != time.Hour {
		t.Errorf("ShortTermTTL = %v", p.ShortTermTTL())
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Redis.URL != DefaultRedisURL {
		t.Errorf("Redis URL = %q, want default", cfg.Redis.URL)
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".hearth")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	raw := map[string]any{
		"presence": map[string]any{
			"onlineReplyLimit": 5,
			"morning":          map[string]int{"hour": 9, "minute": 0},
		},
	}
	data, _ := json.Marshal(raw)
	if err := os.WriteFile(filepath.Join(dir, "config.json"), data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Presence.OnlineReplyLimit != 5 {
		t.Errorf("OnlineReplyLimit = %d, want 5", cfg.Presence.OnlineReplyLimit)
	}
	if cfg.Presence.Morning.Hour != 9 {
		t.Errorf("Morning.Hour = %d, want 9", cfg.Presence.Morning.Hour)
	}
	// Omitted fields fall back to defaults.
	if cfg.Presence.OnlineBatchThreshold != 3 {
		t.Errorf("OnlineBatchThreshold = %d, want default 3", cfg.Presence.OnlineBatchThreshold)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("HEARTH_API_KEY", "sk-test")
	t.Setenv("HEARTH_TELEGRAM_TOKEN", "tg-token")
	t.Setenv("HEARTH_REDIS_URL", "redis://other:6379/1")
	t.Setenv("HEARTH_ONLINE_REPLY_LIMIT", "7")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Provider.APIKey != "sk-test" {
		t.Errorf("APIKey = %q", cfg.Provider.APIKey)
	}
	if cfg.Telegram.Token != "tg-token" {
		t.Errorf("Token = %q", cfg.Telegram.Token)
	}
	if cfg.Redis.URL != "redis://other:6379/1" {
		t.Errorf("Redis URL = %q", cfg.Redis.URL)
	}
	if cfg.Presence.OnlineReplyLimit != 7 {
		t.Errorf("OnlineReplyLimit = %d, want 7", cfg.Presence.OnlineReplyLimit)
	}
}

func TestLoadConfig_OpenAIKeyImpliesProvider(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("HEARTH_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "sk-oai")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if cfg.Provider.Type != "openai" {
		t.Errorf("Type = %q, want openai", cfg.Provider.Type)
	}
}

func TestValidate_ZeroFallsBack(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if cfg.Presence.GatheringMinutes != 30 {
		t.Errorf("GatheringMinutes = %d, want default 30", cfg.Presence.GatheringMinutes)
	}
	if cfg.Agent.RequestTimeoutSeconds != 60 {
		t.Errorf("RequestTimeoutSeconds = %d, want 60", cfg.Agent.RequestTimeoutSeconds)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"chance over 100", func(c *Config) { c.Presence.PassiveReplyChance = 150 }},
		{"negative chance", func(c *Config) { c.Presence.RandomSessionChance = -1 }},
		{"bad cycle hour", func(c *Config) { c.Presence.Morning = CycleTime{Hour: 24} }},
		{"bad cycle minute", func(c *Config) { c.Presence.Evening = CycleTime{Hour: 10, Minute: 60} }},
		{"bad driver", func(c *Config) { c.Database.Driver = "postgres" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg := DefaultConfig()
	cfg.Telegram.Token = "round-trip"
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig error: %v", err)
	}

	loaded, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}
	if loaded.Telegram.Token != "round-trip" {
		t.Errorf("Token = %q, want round-trip", loaded.Telegram.Token)
	}
}
