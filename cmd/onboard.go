package cmd

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/querydesk/internal/config"
)

func onboardCmd() *cobra.Command {
	var nonInteractive bool
	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Interactive setup wizard: provider, database, memory, history, gateway",
		Run: func(cmd *cobra.Command, args []string) {
			if nonInteractive {
				runAutoOnboard(resolveConfigPath())
				return
			}
			runOnboard()
		},
	}
	cmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "write a config from defaults and environment variables")
	return cmd
}

type providerInfo struct {
	label     string
	envKey    string
	modelHint string
}

var providerMap = map[string]providerInfo{
	"openai":    {"OpenAI", "OPENAI_API_KEY", "gpt-4o"},
	"anthropic": {"Anthropic", "ANTHROPIC_API_KEY", "claude-sonnet-4-5-20250929"},
}

func runOnboard() {
	fmt.Println("╔══════════════════════════════════════════════╗")
	fmt.Println("║          querydesk: Setup Wizard             ║")
	fmt.Println("╚══════════════════════════════════════════════╝")
	fmt.Println()

	cfgPath := resolveConfigPath()
	cfg := config.Default()
	if _, err := os.Stat(config.ExpandHome(cfgPath)); err == nil {
		fmt.Printf("Found existing config at %s\n", cfgPath)
		useExisting, err := promptConfirm("Use existing config as base?", true)
		if err != nil {
			fmt.Println("Cancelled.")
			return
		}
		if useExisting {
			if loaded, err := config.Load(cfgPath); err != nil {
				fmt.Printf("Warning: could not load existing config: %v\n", err)
			} else {
				cfg = loaded
			}
		}
	}

	if err := onboardProvider(cfg); err != nil {
		fmt.Println("Cancelled.")
		return
	}
	if err := onboardDatabase(cfg); err != nil {
		fmt.Println("Cancelled.")
		return
	}
	if err := onboardMemory(cfg); err != nil {
		fmt.Println("Cancelled.")
		return
	}
	if err := onboardHistory(cfg); err != nil {
		fmt.Println("Cancelled.")
		return
	}
	if err := onboardGateway(cfg); err != nil {
		fmt.Println("Cancelled.")
		return
	}

	fmt.Println()
	fmt.Println("  Verifying provider...")
	if verr := verifyProvider(cfg.Provider); verr != nil {
		fmt.Printf("    %s: %s\n", cfg.Provider.Name, verr.message)
		if verr.fatal {
			if ok, _ := promptConfirm("Save anyway?", false); !ok {
				fmt.Println("Not saved.")
				return
			}
		}
	} else {
		fmt.Printf("    %s: OK\n", cfg.Provider.Name)
	}

	if err := saveOnboardConfig(cfgPath, cfg); err != nil {
		exitf("%v", err)
	}
	fmt.Println()
	fmt.Printf("Config saved to %s\n", cfgPath)
	fmt.Println(`Next: "querydesk doctor", then "querydesk chat" or "querydesk serve".`)
}

func onboardProvider(cfg *config.Config) error {
	defIdx := 0
	if cfg.Provider.Name == "anthropic" {
		defIdx = 1
	}
	name, err := promptSelect("LLM provider", []SelectOption[string]{
		{Label: "OpenAI (or an OpenAI-compatible endpoint)", Value: "openai"},
		{Label: "Anthropic", Value: "anthropic"},
	}, defIdx)
	if err != nil {
		return err
	}
	info := providerMap[name]
	if cfg.Provider.Name != name {
		cfg.Provider.Model = ""
	}
	cfg.Provider.Name = name

	desc := fmt.Sprintf("Stored in the OS keyring. Leave empty to use $%s or $QUERYDESK_API_KEY.", info.envKey)
	key, err := promptPassword(info.label+" API key", desc)
	if err != nil {
		return err
	}
	if key = strings.TrimSpace(key); key != "" {
		cfg.Provider.APIKey = key
	}

	modelDefault := cfg.Provider.Model
	if modelDefault == "" {
		modelDefault = info.modelHint
	}
	if cfg.Provider.Model, err = promptString("Model", "", modelDefault); err != nil {
		return err
	}
	if name == "openai" {
		cfg.Provider.BaseURL, err = promptString("Base URL", "Optional, for OpenAI-compatible gateways", cfg.Provider.BaseURL)
	}
	return err
}

func onboardDatabase(cfg *config.Config) error {
	dsn, err := promptString("PostgreSQL DSN", "Use a read-only role, e.g. postgres://reader:pw@localhost:5432/shop", cfg.Database.DSN)
	if err != nil {
		return err
	}
	cfg.Database.DSN = dsn

	driver, err := promptSelect("Database driver", []SelectOption[string]{
		{Label: "pgx (default)", Value: "pgx"},
		{Label: "lib/pq", Value: "postgres"},
	}, indexOf([]string{"pgx", "postgres"}, cfg.Database.Driver))
	if err != nil {
		return err
	}
	cfg.Database.Driver = driver
	return nil
}

func onboardMemory(cfg *config.Config) error {
	backend, err := promptSelect("Long-term memory", []SelectOption[string]{
		{Label: "None", Value: "none"},
		{Label: "Local SQLite (development)", Value: "sqlite"},
		{Label: "AWS Bedrock AgentCore Memory", Value: "agentcore"},
	}, indexOf([]string{"none", "sqlite", "agentcore"}, cfg.Memory.Backend))
	if err != nil {
		return err
	}
	cfg.Memory.Backend = backend

	if backend == "agentcore" {
		if cfg.Memory.MemoryID, err = promptString("AgentCore memory id", "", cfg.Memory.MemoryID); err != nil {
			return err
		}
		if cfg.AWS.Region, err = promptString("AWS region", "", cfg.AWS.Region); err != nil {
			return err
		}
		kb, err := promptString("Knowledge base id", "Optional, enables search_knowledge_base", cfg.Knowledge.BaseID)
		if err != nil {
			return err
		}
		cfg.Knowledge.BaseID = kb
	}
	return nil
}

func onboardHistory(cfg *config.Config) error {
	backend, err := promptSelect("Conversation history", []SelectOption[string]{
		{Label: "In-process (lost on restart)", Value: "memory"},
		{Label: "Redis", Value: "redis"},
	}, indexOf([]string{"memory", "redis"}, cfg.History.Backend))
	if err != nil {
		return err
	}
	cfg.History.Backend = backend
	if backend == "redis" {
		cfg.History.RedisURL, err = promptString("Redis URL", "", firstNonEmpty(cfg.History.RedisURL, "redis://localhost:6379/0"))
	}
	return err
}

func onboardGateway(cfg *config.Config) error {
	portStr, err := promptString("Gateway port", "", strconv.Itoa(cfg.Server.Port))
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port %q", portStr)
	}
	cfg.Server.Port = port

	if cfg.Server.Token == "" {
		gen, err := promptConfirm("Generate a bearer token for the gateway?", true)
		if err != nil {
			return err
		}
		if gen {
			cfg.Server.Token = generateToken()
			fmt.Printf("  Gateway token: %s\n", cfg.Server.Token)
		}
	}
	return nil
}

// runAutoOnboard writes a config built from defaults plus environment
// variables, without prompting.
func runAutoOnboard(cfgPath string) {
	cfg, err := config.Load("")
	if err != nil {
		exitf("%v", err)
	}
	if cfg.Server.Token == "" {
		cfg.Server.Token = generateToken()
		fmt.Printf("Generated gateway token: %s\n", cfg.Server.Token)
	}
	if err := saveOnboardConfig(cfgPath, cfg); err != nil {
		exitf("%v", err)
	}
	fmt.Printf("Config saved to %s\n", cfgPath)
}

// saveOnboardConfig moves the API key into the OS keyring when possible so
// it is not written to disk, then validates and saves.
func saveOnboardConfig(path string, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	out := *cfg
	if out.Provider.APIKey != "" {
		if err := config.StoreAPIKey(out.Provider.Name, out.Provider.APIKey); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: keyring unavailable (%v); set $%s instead.\n", err, providerMap[out.Provider.Name].envKey)
		}
		out.Provider.APIKey = ""
	}
	return config.Save(path, &out)
}

func generateToken() string {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		exitf("generate token: %v", err)
	}
	return hex.EncodeToString(b)
}

func indexOf(vals []string, v string) int {
	for i, s := range vals {
		if s == v {
			return i
		}
	}
	return 0
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
