package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/hearth/internal/config"
	"github.com/stellarlinkco/hearth/internal/gateway"
	"github.com/stellarlinkco/hearth/internal/logging"
	"github.com/stellarlinkco/hearth/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "hearth",
	Short: "hearth - a companion persona for group chats",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the full service (channels + scheduler + router)",
	RunE:  runServe,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize the config file",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show hearth status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(serveCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	logging.Init()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("API key not set. Run 'hearth onboard' or set HEARTH_API_KEY / ANTHROPIC_API_KEY")
	}
	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token not set. Edit %s or set HEARTH_TELEGRAM_TOKEN", config.ConfigPath())
	}

	ctx := context.Background()
	gw, err := gateway.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		data, _ := json.MarshalIndent(cfg, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your API key and telegram token\n", cfgPath)
	fmt.Println("  2. Make sure Redis is reachable (redis.url)")
	fmt.Println("  3. Run 'hearth serve' to start the service")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Model: %s\n", cfg.Agent.Model)
	fmt.Printf("Provider: %s\n", providerDisplay(cfg.Provider.Type))
	if cfg.Provider.APIKey != "" && len(cfg.Provider.APIKey) > 8 {
		masked := cfg.Provider.APIKey[:4] + "..." + cfg.Provider.APIKey[len(cfg.Provider.APIKey)-4:]
		fmt.Printf("API Key: %s\n", masked)
	} else if cfg.Provider.APIKey != "" {
		fmt.Println("API Key: set")
	} else {
		fmt.Println("API Key: not set")
	}
	fmt.Printf("Telegram: configured=%v\n", cfg.Telegram.Token != "")
	fmt.Printf("Redis: %s\n", cfg.Redis.URL)
	fmt.Printf("Database: %s\n", cfg.Database.Driver)

	repo, err := store.Connect(cfg.Database)
	if err != nil {
		fmt.Printf("Conversations: database unreachable (%v)\n", err)
		return nil
	}
	cfgs, err := repo.GetAllConfigs(context.Background())
	if err != nil {
		fmt.Printf("Conversations: error (%v)\n", err)
		return nil
	}
	fmt.Printf("Conversations: %d\n", len(cfgs))
	for _, c := range cfgs {
		fmt.Printf("  - %s (chat %d, tz %s)\n", c.PersonaName, c.ChatID, c.Timezone)
	}

	return nil
}

func providerDisplay(t string) string {
	if t == "" {
		return "anthropic (default)"
	}
	return t
}
