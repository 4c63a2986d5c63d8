package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/querydesk/internal/config"
	"github.com/nextlevelbuilder/querydesk/internal/history"
	"github.com/nextlevelbuilder/querydesk/internal/store"
)

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "View and clear conversation history (redis backend)",
		Long: `View and clear per-session conversation history.

The in-memory backend lives inside a running "querydesk serve" process, so these
commands are only useful with history.backend = "redis".`,
	}
	cmd.AddCommand(historyShowCmd())
	cmd.AddCommand(historyClearCmd())
	return cmd
}

func historyShowCmd() *cobra.Command {
	var (
		jsonOutput bool
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "show [session-id]",
		Short: "Show the most recent turns of a session",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			hist, cfg := openHistory(args[0])
			defer hist.Close()

			if limit <= 0 {
				limit = cfg.History.MaxTurns
			}
			turns, err := hist.Recent(context.Background(), args[0], limit)
			if err != nil {
				exitf("%v", err)
			}
			printTurns(turns, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "number of turns (default history.max_turns)")
	return cmd
}

func historyClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear [session-id]",
		Short: "Delete a session's history",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			hist, _ := openHistory(args[0])
			defer hist.Close()

			if err := hist.Clear(context.Background(), args[0]); err != nil {
				exitf("%v", err)
			}
			fmt.Printf("Cleared history: %s\n", args[0])
		},
	}
}

func openHistory(sessionID string) (history.Store, *config.Config) {
	if err := store.ValidateSessionID(sessionID); err != nil {
		exitf("%v", err)
	}
	cfg, err := loadConfig()
	if err != nil {
		exitf("loading config: %v", err)
	}
	if cfg.History.Backend != "redis" {
		fmt.Fprintf(os.Stderr, "Note: history.backend is %q; stored turns only exist inside the serving process.\n", cfg.History.Backend)
	}
	hist, err := history.New(cfg.History)
	if err != nil {
		exitf("history: %v", err)
	}
	return hist, cfg
}

func printTurns(turns []history.Turn, jsonOutput bool) {
	if jsonOutput {
		data, _ := json.MarshalIndent(turns, "", "  ")
		fmt.Println(string(data))
		return
	}
	if len(turns) == 0 {
		fmt.Println("No turns found.")
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "TIME\tUSER\tMESSAGE\tRESPONSE\n")
	for _, t := range turns {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			t.Timestamp.Format(time.DateTime),
			t.UserID,
			truncateStr(t.UserMessage, 40),
			truncateStr(t.AgentResponse, 60),
		)
	}
	tw.Flush()
}

func truncateStr(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
