package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/deadlinecal/deadlinecal/internal/config"
	"github.com/deadlinecal/deadlinecal/internal/core"
	"github.com/deadlinecal/deadlinecal/internal/core/store"
	"github.com/deadlinecal/deadlinecal/internal/importer"
	"github.com/deadlinecal/deadlinecal/internal/metrics"
	"github.com/deadlinecal/deadlinecal/internal/observability"
	"github.com/deadlinecal/deadlinecal/internal/output"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import deadlines from a TSV sheet or YAML file",
	Long: `Import deadlines into the store. Re-importing the same file is a no-op;
changed rows update the existing records in place.

Formats:
  tsv   module<TAB>code<TAB>recommended dd/mm/yyyy<TAB>deadline dd/mm/yyyy
  yaml  deadlines: [{id, title, due, description, category, recommended}]

Use "-" to read from stdin (requires --format).

Examples:
  deadlinecal import deadlines.tsv --academic-year 2026
  deadlinecal import extra.yaml
  deadlinecal import deadlines.tsv --deactivate-missing`,
	Args: cobra.ExactArgs(1),
	RunE: runImportCommand,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().String("format", "", "input format: tsv or yaml (default from file extension)")
	importCmd.Flags().String("academic-year", "", "academic year used in TSV record IDs (overrides import.academic_year)")
	importCmd.Flags().StringSlice("groups", nil, "module group prefixes for TSV rows (overrides import.groups)")
	importCmd.Flags().Bool("deactivate-missing", false, "deactivate stored deadlines absent from this file")
	importCmd.Flags().Bool("dry-run", false, "parse and report without writing to the store")
	importCmd.Flags().StringP("output-format", "o", "table", "report format: table, json, markdown")
}

// importOptions are the per-run import settings.
type importOptions struct {
	Format            importer.Format
	AcademicYear      string
	Groups            []string
	DeactivateMissing bool
	DryRun            bool
}

// deadlineWriter is the write side of the store used by import.
type deadlineWriter interface {
	ImportBatch(ctx context.Context, deadlines []core.Deadline, deactivateMissing bool) (store.ImportResult, error)
}

// errEmptyImport guards --deactivate-missing against wiping the store.
var errEmptyImport = errors.New("import produced no records; refusing to deactivate every stored deadline")

func runImportCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return configError(err)
	}

	opts, err := importOptionsFromFlags(cmd, cfg, args[0])
	if err != nil {
		return err
	}

	outputFormat, _ := cmd.Flags().GetString("output-format")
	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return err
	}

	src, closeSrc, err := openSource(cmd, args[0])
	if err != nil {
		return err
	}
	defer closeSrc()

	var db deadlineWriter
	if !opts.DryRun {
		st, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		db = st
	}

	report, err := runImport(cmd.Context(), db, src, args[0], opts)
	if err != nil {
		return err
	}

	rendered, err := output.NewFormatter(format).FormatImport(report)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
	return err
}

func importOptionsFromFlags(cmd *cobra.Command, cfg config.Config, path string) (importOptions, error) {
	opts := importOptions{
		AcademicYear: cfg.Import.AcademicYear,
		Groups:       cfg.Import.Groups,
	}

	formatFlag, _ := cmd.Flags().GetString("format")
	switch {
	case strings.TrimSpace(formatFlag) != "":
		format, err := importer.ParseFormat(formatFlag)
		if err != nil {
			return opts, err
		}
		opts.Format = format
	case path == "-":
		return opts, errors.New("--format is required when reading from stdin")
	default:
		opts.Format = importer.DetectFormat(path)
	}

	if year, _ := cmd.Flags().GetString("academic-year"); strings.TrimSpace(year) != "" {
		opts.AcademicYear = strings.TrimSpace(year)
	}
	if groups, _ := cmd.Flags().GetStringSlice("groups"); len(groups) > 0 {
		opts.Groups = groups
	}
	opts.DeactivateMissing, _ = cmd.Flags().GetBool("deactivate-missing")
	opts.DryRun, _ = cmd.Flags().GetBool("dry-run")
	return opts, nil
}

func openSource(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open import file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// runImport parses src and writes the records to db. db may be nil only
// for a dry run.
func runImport(ctx context.Context, db deadlineWriter, src io.Reader, name string, opts importOptions) (output.ImportReport, error) {
	report := output.ImportReport{
		Source: name,
		Format: string(opts.Format),
		DryRun: opts.DryRun,
	}

	result, err := importer.Parse(src, opts.Format, importer.Options{
		AcademicYear: opts.AcademicYear,
		Groups:       opts.Groups,
	})
	if err != nil {
		return report, err
	}
	report.Parsed = len(result.Deadlines)
	report.Skipped = result.Skipped

	for _, row := range result.Skipped {
		observability.Warn("Skipped import row",
			zap.String("source", name),
			zap.Int("line", row.Line),
			zap.String("reason", row.Reason))
	}

	if opts.DeactivateMissing && len(result.Deadlines) == 0 {
		return report, errEmptyImport
	}
	if opts.DryRun {
		return report, nil
	}
	if db == nil {
		return report, errors.New("import requires a store")
	}

	if len(result.Deadlines) > 0 {
		imported, err := db.ImportBatch(ctx, result.Deadlines, opts.DeactivateMissing)
		if err != nil {
			return report, err
		}
		report.Inserted = imported.Inserted
		report.Updated = imported.Updated
		report.Unchanged = imported.Unchanged
		report.Deactivated = imported.Deactivated
	}

	metrics.RecordImport(report.Format, report.Inserted, report.Updated, report.Unchanged, len(report.Skipped))
	observability.Info("Import complete",
		zap.String("source", name),
		zap.Int("inserted", report.Inserted),
		zap.Int("updated", report.Updated),
		zap.Int("unchanged", report.Unchanged),
		zap.Int64("deactivated", report.Deactivated),
		zap.Int("skipped", len(report.Skipped)))
	return report, nil
}
