package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"streamcast/internal/table"
	"streamcast/internal/util"
	"streamcast/internal/util/format"
)

func newTableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "table",
		Short: "Inspect a versioned prediction table",
	}
	cmd.AddCommand(newTableCountCmd())
	cmd.AddCommand(newTableHistoryCmd())
	cmd.AddCommand(newTablePartitionsCmd())
	return cmd
}

// tablePath accepts either a path or a query name under the tables directory.
func tablePath(cmd *cobra.Command, arg string) string {
	if strings.ContainsRune(arg, filepath.Separator) {
		return arg
	}
	return filepath.Join(appFrom(cmd).settings.TablesDir, util.SanitizeName(arg))
}

func openTable(cmd *cobra.Command, arg string) (*table.Table, error) {
	t, err := table.Open(tablePath(cmd, arg), appFrom(cmd).logger)
	if err != nil {
		return nil, &ExitError{Code: ExitStreamError, Err: err}
	}
	return t, nil
}

func newTableCountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "count <path|name>",
		Short:         "Print the number of rows, optionally as of a version",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := openTable(cmd, args[0])
			if err != nil {
				return err
			}
			defer t.Close()

			var n uint64
			if cmd.Flags().Changed("version") {
				v, _ := cmd.Flags().GetInt64("version")
				n, err = t.CountAsOf(v)
			} else {
				n, err = t.Count()
			}
			if err != nil {
				return &ExitError{Code: ExitStreamError, Err: err}
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
	cmd.Flags().Int64("version", 0, "Count rows as of this table version")
	return cmd
}

func newTableHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "history <path|name>",
		Short:         "List the commits of a table",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := openTable(cmd, args[0])
			if err != nil {
				return err
			}
			defer t.Close()

			history, err := t.History()
			if err != nil {
				return &ExitError{Code: ExitStreamError, Err: err}
			}
			out := cmd.OutOrStdout()
			tw := tablewriter.NewWriter(out)
			tw.Header("Version", "Timestamp", "Operation", "Batch", "Rows", "Partitions", "App ID")
			for _, c := range history {
				tw.Append(
					fmt.Sprintf("%d", c.Version),
					c.Timestamp.Local().Format("2006-01-02 15:04:05"),
					c.Operation,
					fmt.Sprintf("%d", c.BatchID),
					fmt.Sprintf("%d", c.NumRows),
					fmt.Sprintf("%d", len(c.Partitions)),
					c.AppID,
				)
			}
			tw.Render()

			if size, err := util.DirSize(t.Path()); err == nil {
				fmt.Fprintf(out, "%d commits, %s on disk\n", len(history), format.HumanizeBytes(size))
			}
			return nil
		},
	}
}

func newTablePartitionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "partitions <path|name>",
		Short:         "Row counts per partition",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := openTable(cmd, args[0])
			if err != nil {
				return err
			}
			defer t.Close()

			parts, err := t.Partitions()
			if err != nil {
				return &ExitError{Code: ExitStreamError, Err: err}
			}
			tw := tablewriter.NewWriter(cmd.OutOrStdout())
			tw.Header("Partition", "Rows")
			for _, p := range parts {
				tw.Append(p.Partition, fmt.Sprintf("%d", p.Rows))
			}
			tw.Render()
			return nil
		},
	}
}
