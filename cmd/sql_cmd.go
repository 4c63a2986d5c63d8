package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/querydesk/internal/sqlguard"
	"github.com/nextlevelbuilder/querydesk/internal/store"
)

func sqlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sql",
		Short: "Check or run read-only SQL through the same guard the agent uses",
	}
	cmd.AddCommand(sqlCheckCmd())
	cmd.AddCommand(sqlRunCmd())
	cmd.AddCommand(sqlSchemaCmd())
	return cmd
}

func sqlCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [statement]",
		Short: "Report whether a statement passes the read-only guard",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			stmt, err := sqlguard.Check(strings.Join(args, " "))
			if err != nil {
				fmt.Fprintf(os.Stderr, "Rejected: %v\n", err)
				var v *sqlguard.Violation
				if errors.As(err, &v) {
					fmt.Fprintf(os.Stderr, "Hint: %s\n", v.Hint())
				}
				os.Exit(1)
			}
			fmt.Printf("OK: %s\n", stmt)
		},
	}
}

func sqlRunCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "run [statement]",
		Short: "Run a guarded read-only statement against the configured database",
		Args:  cobra.MinimumNArgs(1),
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

			res, err := exec.Query(context.Background(), strings.Join(args, " "))
			if err != nil {
				exitf("%v", err)
			}
			printQueryResult(res, jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func sqlSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [table]",
		Short: "Describe columns of the allowed schemas, or of one table",
		Args:  cobra.MaximumNArgs(1),
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

			var table string
			if len(args) == 1 {
				table = args[0]
			}
			cols, err := exec.DescribeSchema(context.Background(), table)
			if err != nil {
				exitf("%v", err)
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "TABLE\tCOLUMN\tTYPE\tNULLABLE\n")
			for _, c := range cols {
				fmt.Fprintf(tw, "%s.%s\t%s\t%s\t%s\n", c.Schema, c.Table, c.Column, c.DataType, c.IsNullable)
			}
			tw.Flush()
		},
	}
}

func printQueryResult(res *store.QueryResult, jsonOutput bool) {
	if jsonOutput {
		data, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(data))
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(res.Columns, "\t"))
	for _, row := range res.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = truncateStr(fmt.Sprint(v), 40)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	tw.Flush()

	suffix := ""
	if res.Truncated {
		suffix = " (truncated)"
	}
	fmt.Fprintf(os.Stderr, "%d row(s) in %s%s\n", res.RowCount, res.Duration.Round(time.Millisecond), suffix)
}
