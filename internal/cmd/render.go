package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/deadlinecal/deadlinecal/internal/core/store"
	"github.com/deadlinecal/deadlinecal/internal/feed"
	"github.com/deadlinecal/deadlinecal/internal/observability"
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Write a calendar feed to a file or stdout",
	Long: `Render the same iCalendar feed that serve publishes, for static hosting.

Examples:
  deadlinecal render --out all.ics
  deadlinecal render --group CM1 --out cm1.ics`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return configError(err)
		}

		renderer, err := feed.New(cfg.Feed)
		if err != nil {
			return configError(err)
		}

		group, _ := cmd.Flags().GetString("group")
		out, _ := cmd.Flags().GetString("out")

		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		if strings.TrimSpace(out) == "" || out == "-" {
			_, err := runRender(cmd.Context(), db, renderer, group, cmd.OutOrStdout())
			return err
		}

		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		doc, err := runRender(cmd.Context(), db, renderer, group, f)
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return err
		}

		observability.Info("Wrote calendar feed",
			zap.String("path", out),
			zap.String("name", doc.Name),
			zap.Int("events", doc.Rendered))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().StringP("group", "g", "", "render one module group (default all)")
	renderCmd.Flags().String("out", "", "output file (default stdout)")
}

func runRender(ctx context.Context, db deadlineLister, renderer *feed.Renderer, group string, w io.Writer) (*feed.Document, error) {
	category := strings.TrimSpace(group)
	if strings.EqualFold(category, "all") {
		category = ""
	}

	records, err := db.ListActive(ctx, store.DeadlineQuery{Category: category})
	if err != nil {
		return nil, err
	}

	doc, err := renderer.Render(records, feed.Options{Category: category})
	if err != nil {
		return nil, err
	}
	for _, renderErr := range doc.Errors {
		observability.Warn("Skipped invalid deadline record", zap.Error(renderErr))
	}

	if _, err := w.Write(doc.Body); err != nil {
		return nil, fmt.Errorf("write calendar: %w", err)
	}
	return doc, nil
}
