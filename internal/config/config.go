package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	DefaultModel          = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens      = 2048
	DefaultRedisURL       = "redis://localhost:6379/0"
	DefaultDatabaseDriver = "sqlite"
	DefaultBufSize        = 100
)

type Config struct {
	Agent    AgentConfig    `json:"agent"`
	Provider ProviderConfig `json:"provider"`
	Telegram TelegramConfig `json:"telegram"`
	Redis    RedisConfig    `json:"redis"`
	Database DatabaseConfig `json:"database"`
	Presence PresenceConfig `json:"presence"`
}

type AgentConfig struct {
	Workspace string `json:"workspace"`
	Model     string `json:"model"`
	MaxTokens int    `json:"maxTokens"`
	// RequestTimeoutSeconds bounds every generation call.
	RequestTimeoutSeconds int `json:"requestTimeoutSeconds"`
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "anthropic" (default) or "openai"
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	Proxy string `json:"proxy,omitempty"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type DatabaseConfig struct {
	Driver string `json:"driver"`         // "sqlite" or "mysql"
	Path   string `json:"path,omitempty"` // sqlite file path
	DSN    string `json:"dsn,omitempty"`  // mysql DSN
}

// CycleTime is a wall-clock trigger point in the conversation's timezone.
type CycleTime struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// PresenceConfig holds every tunable of the mode state machine, router and
// scheduler. Durations are stored as minutes/seconds so the config file
// stays editable by hand.
type PresenceConfig struct {
	Morning   CycleTime `json:"morning"`
	Afternoon CycleTime `json:"afternoon"`
	Evening   CycleTime `json:"evening"`

	RandomDay   CycleTime `json:"randomDay"`
	RandomNight CycleTime `json:"randomNight"`

	GatheringMinutes int `json:"gatheringMinutes"`
	OnlineMinutes    int `json:"onlineMinutes"`

	// RandomSessionChance is the probability (percent) that a random
	// checkpoint kicks off an ad-hoc gather→online cycle.
	RandomSessionChance int `json:"randomSessionChance"`
	// PassiveReplyChance is the probability (percent) that a direct mention
	// in PASSIVE mode is answered immediately instead of queued.
	PassiveReplyChance int `json:"passiveReplyChance"`

	OnlineReplyLimit     int `json:"onlineReplyLimit"`
	OnlineBatchThreshold int `json:"onlineBatchThreshold"`
	UserCooldownSeconds  int `json:"userCooldownSeconds"`
	PulseSeconds         int `json:"pulseSeconds"`

	ShortTermCap        int `json:"shortTermCap"`
	ShortTermTTLMinutes int `json:"shortTermTtlMinutes"`
	BackgroundQueueCap  int `json:"backgroundQueueCap"`

	ConfigCacheTTLMinutes int `json:"configCacheTtlMinutes"`
}

func (p PresenceConfig) GatheringDuration() time.Duration {
	return time.Duration(p.GatheringMinutes) * time.Minute
}

func (p PresenceConfig) OnlineDuration() time.Duration {
	return time.Duration(p.OnlineMinutes) * time.Minute
}

func (p PresenceConfig) UserCooldown() time.Duration {
	return time.Duration(p.UserCooldownSeconds) * time.Second
}

func (p PresenceConfig) PulseInterval() time.Duration {
	return time.Duration(p.PulseSeconds) * time.Second
}

func (p PresenceConfig) ShortTermTTL() time.Duration {
	return time.Duration(p.ShortTermTTLMinutes) * time.Minute
}

func (p PresenceConfig) ConfigCacheTTL() time.Duration {
	return time.Duration(p.ConfigCacheTTLMinutes) * time.Minute
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Agent: AgentConfig{
			Workspace:             filepath.Join(home, ".hearth", "workspace"),
			Model:                 DefaultModel,
			MaxTokens:             DefaultMaxTokens,
			RequestTimeoutSeconds: 60,
		},
		Provider: ProviderConfig{},
		Telegram: TelegramConfig{},
		Redis:    RedisConfig{URL: DefaultRedisURL},
		Database: DatabaseConfig{
			Driver: DefaultDatabaseDriver,
			Path:   filepath.Join(ConfigDir(), "data", "hearth.db"),
		},
		Presence: PresenceConfig{
			Morning:               CycleTime{Hour: 8, Minute: 30},
			Afternoon:             CycleTime{Hour: 13, Minute: 30},
			Evening:               CycleTime{Hour: 19, Minute: 30},
			RandomDay:             CycleTime{Hour: 11, Minute: 30},
			RandomNight:           CycleTime{Hour: 22, Minute: 15},
			GatheringMinutes:      30,
			OnlineMinutes:         20,
			RandomSessionChance:   25,
			PassiveReplyChance:    30,
			OnlineReplyLimit:      10,
			OnlineBatchThreshold:  3,
			UserCooldownSeconds:   20,
			PulseSeconds:          90,
			ShortTermCap:          30,
			ShortTermTTLMinutes:   60,
			BackgroundQueueCap:    50,
			ConfigCacheTTLMinutes: 5,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".hearth")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if key := os.Getenv("HEARTH_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		if cfg.Provider.Type == "" {
			cfg.Provider.Type = "openai"
		}
	}
	if url := os.Getenv("HEARTH_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if token := os.Getenv("HEARTH_TELEGRAM_TOKEN"); token != "" {
		cfg.Telegram.Token = token
	}
	if url := os.Getenv("HEARTH_REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}
	if driver := os.Getenv("HEARTH_DB_DRIVER"); driver != "" {
		cfg.Database.Driver = driver
	}
	if dsn := os.Getenv("HEARTH_DB_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if path := os.Getenv("HEARTH_DB_PATH"); path != "" {
		cfg.Database.Path = path
	}
	if limit := os.Getenv("HEARTH_ONLINE_REPLY_LIMIT"); limit != "" {
		if parsed, err := strconv.Atoi(limit); err == nil {
			cfg.Presence.OnlineReplyLimit = parsed
		}
	}
	if mins := os.Getenv("HEARTH_ONLINE_MINUTES"); mins != "" {
		if parsed, err := strconv.Atoi(mins); err == nil {
			cfg.Presence.OnlineMinutes = parsed
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects presence parameters the scheduler and router cannot work
// with. Zero values omitted from the file fall back to defaults instead of
// failing.
func (c *Config) Validate() error {
	def := DefaultConfig().Presence
	p := &c.Presence

	if p.GatheringMinutes <= 0 {
		p.GatheringMinutes = def.GatheringMinutes
	}
	if p.OnlineMinutes <= 0 {
		p.OnlineMinutes = def.OnlineMinutes
	}
	if p.OnlineReplyLimit <= 0 {
		p.OnlineReplyLimit = def.OnlineReplyLimit
	}
	if p.OnlineBatchThreshold <= 0 {
		p.OnlineBatchThreshold = def.OnlineBatchThreshold
	}
	if p.UserCooldownSeconds <= 0 {
		p.UserCooldownSeconds = def.UserCooldownSeconds
	}
	if p.PulseSeconds <= 0 {
		p.PulseSeconds = def.PulseSeconds
	}
	if p.ShortTermCap <= 0 {
		p.ShortTermCap = def.ShortTermCap
	}
	if p.ShortTermTTLMinutes <= 0 {
		p.ShortTermTTLMinutes = def.ShortTermTTLMinutes
	}
	if p.BackgroundQueueCap <= 0 {
		p.BackgroundQueueCap = def.BackgroundQueueCap
	}
	if p.ConfigCacheTTLMinutes <= 0 {
		p.ConfigCacheTTLMinutes = def.ConfigCacheTTLMinutes
	}
	if c.Agent.RequestTimeoutSeconds <= 0 {
		c.Agent.RequestTimeoutSeconds = 60
	}

	if p.RandomSessionChance < 0 || p.RandomSessionChance > 100 {
		return fmt.Errorf("presence.randomSessionChance must be 0-100, got %d", p.RandomSessionChance)
	}
	if p.PassiveReplyChance < 0 || p.PassiveReplyChance > 100 {
		return fmt.Errorf("presence.passiveReplyChance must be 0-100, got %d", p.PassiveReplyChance)
	}
	for _, ct := range []CycleTime{p.Morning, p.Afternoon, p.Evening, p.RandomDay, p.RandomNight} {
		if ct.Hour < 0 || ct.Hour > 23 || ct.Minute < 0 || ct.Minute > 59 {
			return fmt.Errorf("presence cycle time %02d:%02d out of range", ct.Hour, ct.Minute)
		}
	}

	switch c.Database.Driver {
	case "", "sqlite", "mysql":
	default:
		return fmt.Errorf("database.driver must be sqlite or mysql, got %q", c.Database.Driver)
	}
	return nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
