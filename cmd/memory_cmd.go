package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/querydesk/internal/config"
	"github.com/nextlevelbuilder/querydesk/internal/memory"
	"github.com/nextlevelbuilder/querydesk/internal/store"
)

func memoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and seed long-term user memory",
	}
	cmd.AddCommand(memoryInspectCmd())
	cmd.AddCommand(memoryEventsCmd())
	cmd.AddCommand(memoryAddCmd())
	return cmd
}

func memoryInspectCmd() *cobra.Command {
	var (
		sessionID  string
		limit      int
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "inspect [user-id]",
		Short: "List every stored preference, summary and fact for a user",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			mgr, actorID, _ := openMemoryFor(args[0])
			defer mgr.Close()

			snap, err := mgr.Inspect(context.Background(), actorID, sessionID, limit)
			if err != nil {
				exitf("%v", err)
			}
			if jsonOutput {
				data, _ := json.MarshalIndent(snap, "", "  ")
				fmt.Println(string(data))
				return
			}
			ns := mgr.Namespaces(actorID, sessionID)
			for _, kind := range memory.Kinds {
				recs := snap.Records(kind)
				fmt.Printf("%s (%s): %d\n", kind, ns[kind], len(recs))
				for _, r := range recs {
					fmt.Printf("  - %s\n", r.Content)
				}
			}
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id for session-scoped namespaces")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "max records per namespace")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func memoryEventsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events [user-id] [session-id]",
		Short: "List the conversation events recorded for a session",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			if err := store.ValidateSessionID(args[1]); err != nil {
				exitf("%v", err)
			}
			mgr, actorID, _ := openMemoryFor(args[0])
			defer mgr.Close()

			events, err := mgr.Events(context.Background(), actorID, args[1], limit)
			if err != nil {
				exitf("%v", err)
			}
			if len(events) == 0 {
				fmt.Println("No events found.")
				return
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "TIME\tROLE\tTEXT\n")
			for _, e := range events {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Timestamp.Format(time.DateTime), e.Role, truncateStr(e.Text, 80))
			}
			tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "max events")
	return cmd
}

func memoryAddCmd() *cobra.Command {
	var (
		kind      string
		sessionID string
	)
	cmd := &cobra.Command{
		Use:   "add [user-id] [content]",
		Short: "Seed a memory record (sqlite backend only)",
		Long: `Seed a long-term memory record for a user.

AgentCore extracts records from conversation events on its own; the local
sqlite backend has no extractor, so records are added here.`,
		Args: cobra.MinimumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig()
			if err != nil {
				exitf("loading config: %v", err)
			}
			if cfg.Memory.Backend != "sqlite" {
				exitf("memory add requires memory.backend = \"sqlite\" (got %q)", cfg.Memory.Backend)
			}
			k := memory.Kind(kind)
			switch k {
			case memory.KindPreferences, memory.KindSummaries, memory.KindSemantic:
			default:
				exitf("--kind must be one of preferences, summaries, semantic")
			}
			if err := store.ValidateUserID(args[0]); err != nil {
				exitf("%v", err)
			}

			path, err := cfg.ResolvedSQLitePath()
			if err != nil {
				exitf("%v", err)
			}
			backend, err := memory.NewSQLiteBackend(path)
			if err != nil {
				exitf("%v", err)
			}
			defer backend.Close()

			actorID := config.NormalizeActorID(args[0], cfg.Memory.ActorPrefix)
			ns := memory.NewManager(backend, cfg.Memory).Namespaces(actorID, sessionID)[k]
			id, err := backend.PutRecord(context.Background(), ns, strings.Join(args[1:], " "))
			if err != nil {
				exitf("%v", err)
			}
			fmt.Printf("Added %s record %s to %s\n", k, id, ns)
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", string(memory.KindPreferences), "preferences, summaries or semantic")
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id for session-scoped namespaces")
	return cmd
}

// openMemoryFor loads config, opens the memory manager and resolves the
// actor id for userID.
func openMemoryFor(userID string) (*memory.Manager, string, *config.Config) {
	cfg, err := loadConfig()
	if err != nil {
		exitf("loading config: %v", err)
	}
	if err := store.ValidateUserID(userID); err != nil {
		exitf("%v", err)
	}
	mgr, err := openMemory(context.Background(), cfg)
	if err != nil {
		exitf("memory: %v", err)
	}
	if !mgr.Enabled() {
		fmt.Fprintln(os.Stderr, "Memory is disabled (memory.backend = \"none\").")
	}
	return mgr, config.NormalizeActorID(userID, cfg.Memory.ActorPrefix), cfg
}
