package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/querydesk/internal/memory"
)

func toolsCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools exposed to the agent",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig()
			if err != nil {
				exitf("loading config: %v", err)
			}
			exec, closeDB, err := openExecutor(cfg)
			if err != nil {
				exitf("%v", err)
			}
			defer closeDB()

			// Listing never records escalations, so memory stays disabled.
			reg, err := buildTools(context.Background(), cfg, exec, memory.NewManager(nil, cfg.Memory))
			if err != nil {
				exitf("%v", err)
			}
			defer reg.Close()

			if jsonOutput {
				data, _ := json.MarshalIndent(reg.ProviderDefs(), "", "  ")
				fmt.Println(string(data))
				return
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "NAME\tDESCRIPTION\n")
			for _, name := range reg.List() {
				t, _ := reg.Get(name)
				fmt.Fprintf(tw, "%s\t%s\n", name, truncateStr(t.Description(), 80))
			}
			tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print provider tool definitions as JSON")
	return cmd
}
