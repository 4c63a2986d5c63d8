package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/querydesk/internal/config"
	"github.com/nextlevelbuilder/querydesk/internal/history"
	"github.com/nextlevelbuilder/querydesk/internal/memory"
)

const doctorTimeout = 5 * time.Second

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and connectivity of every backend",
		Run: func(cmd *cobra.Command, args []string) {
			if !runDoctor() {
				os.Exit(1)
			}
		},
	}
}

// runDoctor prints a health report and returns false if any check failed.
func runDoctor() bool {
	fmt.Println("querydesk doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(config.ExpandHome(cfgPath)); err != nil {
		fmt.Println(" (NOT FOUND, using defaults and env)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return false
	}

	ok := true
	check := func(name string, err error, detail string) {
		if err != nil {
			ok = false
			fmt.Printf("    %-12s FAIL %v\n", name+":", err)
			return
		}
		fmt.Printf("    %-12s %s\n", name+":", detail)
	}

	fmt.Println()
	fmt.Println("  Provider:")
	if cfg.Provider.APIKey == "" {
		check(cfg.Provider.Name, fmt.Errorf("no API key (env, keyring or config)"), "")
	} else {
		check(cfg.Provider.Name, nil, fmt.Sprintf("%s (key %s)", cfg.Provider.Model, cfg.Redacted().Provider.APIKey))
	}

	fmt.Println()
	fmt.Println("  Backends:")
	check("Database", pingDatabase(cfg), "reachable")
	check("Memory", probeMemory(cfg), cfg.Memory.Backend)
	check("History", probeHistory(cfg), cfg.History.Backend)
	if cfg.Knowledge.BaseID != "" {
		check("Knowledge", nil, cfg.Knowledge.BaseID)
	} else {
		fmt.Printf("    %-12s (not configured)\n", "Knowledge:")
	}
	if cfg.Telemetry.Enabled {
		fmt.Printf("    %-12s %s (%s)\n", "Telemetry:", cfg.Telemetry.Endpoint, cfg.Telemetry.Protocol)
	}

	fmt.Println()
	if ok {
		fmt.Println("Doctor check complete.")
	} else {
		fmt.Println("Doctor found problems.")
	}
	return ok
}

func pingDatabase(cfg *config.Config) error {
	exec, closeDB, err := openExecutor(cfg)
	if err != nil {
		return err
	}
	defer closeDB()
	ctx, cancel := context.WithTimeout(context.Background(), doctorTimeout)
	defer cancel()
	return exec.Ping(ctx)
}

// probeMemory opens the backend and runs one retrieval against a probe actor.
func probeMemory(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), doctorTimeout)
	defer cancel()
	backend, err := memory.NewBackend(ctx, cfg)
	if err != nil || backend == nil {
		return err
	}
	defer backend.Close()
	actor := config.NormalizeActorID("doctor", cfg.Memory.ActorPrefix)
	ns := memory.NewManager(backend, cfg.Memory).Namespaces(actor, "doctor")[memory.KindPreferences]
	_, err = backend.RetrieveRecords(ctx, ns, "health check", 1)
	return err
}

func probeHistory(cfg *config.Config) error {
	hist, err := history.New(cfg.History)
	if err != nil {
		return err
	}
	defer hist.Close()
	ctx, cancel := context.WithTimeout(context.Background(), doctorTimeout)
	defer cancel()
	_, err = hist.Recent(ctx, "doctor-probe", 1)
	return err
}
