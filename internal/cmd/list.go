package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/deadlinecal/deadlinecal/internal/core"
	"github.com/deadlinecal/deadlinecal/internal/core/store"
	"github.com/deadlinecal/deadlinecal/internal/output"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List active deadlines",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return configError(err)
		}

		group, _ := cmd.Flags().GetString("group")
		outputFormat, _ := cmd.Flags().GetString("output-format")
		format, err := output.ParseFormat(outputFormat)
		if err != nil {
			return err
		}

		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		return runList(cmd.Context(), db, group, format, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringP("group", "g", "", "only list one module group")
	listCmd.Flags().StringP("output-format", "o", "table", "output format: table, json, markdown")
}

type deadlineLister interface {
	ListActive(ctx context.Context, query store.DeadlineQuery) ([]core.Deadline, error)
}

func runList(ctx context.Context, db deadlineLister, group string, format output.Format, w io.Writer) error {
	deadlines, err := db.ListActive(ctx, store.DeadlineQuery{Category: group})
	if err != nil {
		return err
	}

	rendered, err := output.NewFormatter(format).FormatDeadlines(deadlines)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, rendered)
	return err
}
