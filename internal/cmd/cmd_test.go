package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deadlinecal/deadlinecal/internal/config"
	"github.com/deadlinecal/deadlinecal/internal/core"
	"github.com/deadlinecal/deadlinecal/internal/core/store"
	apperrors "github.com/deadlinecal/deadlinecal/internal/errors"
	"github.com/deadlinecal/deadlinecal/internal/feed"
	"github.com/deadlinecal/deadlinecal/internal/importer"
	"github.com/deadlinecal/deadlinecal/internal/output"
	"github.com/deadlinecal/deadlinecal/internal/pathguard"
)

const sheet = "CM1\tX1\t08/01/2026\t15/01/2026\n" +
	"CM2\tY1\t\t01/02/2026\n" +
	"ZZ9\tQ1\t\t01/02/2026\n"

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()

	v, err := config.New()
	require.NoError(t, err)
	v.Set("store.driver", "sqlite")
	v.Set("store.path", "deadlines.db")
	v.Set("store.allowed_root", dir)
	v.Set("import.academic_year", "2026")

	cfg, err := config.Load(v)
	require.NoError(t, err)
	return cfg
}

func openTestStore(t *testing.T, cfg config.Config) *store.Store {
	t.Helper()
	db, err := openStore(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func tsvOptions(cfg config.Config) importOptions {
	return importOptions{
		Format:       importer.FormatTSV,
		AcademicYear: cfg.Import.AcademicYear,
		Groups:       cfg.Import.Groups,
	}
}

func TestRunImportIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	db := openTestStore(t, cfg)
	ctx := context.Background()

	report, err := runImport(ctx, db, strings.NewReader(sheet), "sheet.tsv", tsvOptions(cfg))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Parsed)
	assert.Equal(t, 2, report.Inserted)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, 3, report.Skipped[0].Line)

	report, err = runImport(ctx, db, strings.NewReader(sheet), "sheet.tsv", tsvOptions(cfg))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Inserted)
	assert.Equal(t, 2, report.Unchanged)

	changed := strings.Replace(sheet, "15/01/2026", "16/01/2026", 1)
	report, err = runImport(ctx, db, strings.NewReader(changed), "sheet.tsv", tsvOptions(cfg))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Unchanged)
}

func TestRunImportDeactivateMissing(t *testing.T) {
	cfg := testConfig(t)
	db := openTestStore(t, cfg)
	ctx := context.Background()

	_, err := runImport(ctx, db, strings.NewReader(sheet), "sheet.tsv", tsvOptions(cfg))
	require.NoError(t, err)

	opts := tsvOptions(cfg)
	opts.DeactivateMissing = true
	report, err := runImport(ctx, db, strings.NewReader("CM1\tX1\t\t15/01/2026\n"), "sheet.tsv", opts)
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.Deactivated)

	active, err := db.ListActive(ctx, store.DeadlineQuery{})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "CM1-X1-2026", active[0].ID)

	_, err = runImport(ctx, db, strings.NewReader(""), "empty.tsv", opts)
	require.ErrorIs(t, err, errEmptyImport)

	active, err = db.ListActive(ctx, store.DeadlineQuery{})
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

type recordingWriter struct {
	calls      int
	deactivate bool
	ids        []string
	err        error
}

func (w *recordingWriter) ImportBatch(_ context.Context, deadlines []core.Deadline, deactivateMissing bool) (store.ImportResult, error) {
	w.calls++
	w.deactivate = deactivateMissing
	for _, d := range deadlines {
		w.ids = append(w.ids, d.ID)
	}
	if w.err != nil {
		return store.ImportResult{}, w.err
	}
	return store.ImportResult{UpsertResult: store.UpsertResult{Inserted: len(deadlines)}, Deactivated: 3}, nil
}

func TestRunImportWritesOneBatch(t *testing.T) {
	cfg := testConfig(t)
	opts := tsvOptions(cfg)
	opts.DeactivateMissing = true

	w := &recordingWriter{}
	report, err := runImport(context.Background(), w, strings.NewReader(sheet), "sheet.tsv", opts)
	require.NoError(t, err)
	assert.Equal(t, 1, w.calls)
	assert.True(t, w.deactivate)
	assert.Equal(t, []string{"CM1-X1-2026", "CM2-Y1-2026"}, w.ids)
	assert.Equal(t, 2, report.Inserted)
	assert.EqualValues(t, 3, report.Deactivated)

	t.Run("Failure", func(t *testing.T) {
		w := &recordingWriter{err: errors.New("disk full")}
		report, err := runImport(context.Background(), w, strings.NewReader(sheet), "sheet.tsv", opts)
		require.Error(t, err)
		assert.Equal(t, 1, w.calls)
		assert.Zero(t, report.Inserted)
		assert.Zero(t, report.Deactivated)
	})
}

func TestRunImportDryRunSkipsStore(t *testing.T) {
	cfg := testConfig(t)
	opts := tsvOptions(cfg)
	opts.DryRun = true

	report, err := runImport(context.Background(), nil, strings.NewReader(sheet), "sheet.tsv", opts)
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 2, report.Parsed)
	assert.Zero(t, report.Inserted)
}

func TestRunImportYAML(t *testing.T) {
	cfg := testConfig(t)
	db := openTestStore(t, cfg)

	doc := `deadlines:
  - id: marking-week-3
    title: Marking due
    due: 2026-02-10T17:00:00Z
    category: staff
`
	report, err := runImport(context.Background(), db, strings.NewReader(doc), "extra.yaml", importOptions{Format: importer.FormatYAML})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Inserted)

	record, err := db.Get(context.Background(), "marking-week-3")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.False(t, record.AllDay)
	assert.Equal(t, "STAFF", record.Category)
}

func TestRunListAndRender(t *testing.T) {
	cfg := testConfig(t)
	db := openTestStore(t, cfg)
	ctx := context.Background()

	_, err := runImport(ctx, db, strings.NewReader(sheet), "sheet.tsv", tsvOptions(cfg))
	require.NoError(t, err)

	var listed bytes.Buffer
	require.NoError(t, runList(ctx, db, "cm2", output.FormatJSON, &listed))
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(listed.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "CM2-Y1-2026", rows[0]["id"])

	renderer, err := feed.New(cfg.Feed)
	require.NoError(t, err)

	var rendered bytes.Buffer
	doc, err := runRender(ctx, db, renderer, "all", &rendered)
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Rendered)
	assert.Contains(t, rendered.String(), "UID:CM1-X1-2026@deadlines-calendar")
	assert.Contains(t, rendered.String(), "UID:CM2-Y1-2026@deadlines-calendar")
}

func TestOpenStoreRejectsEscapingPath(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Path = filepath.Join(t.TempDir(), "elsewhere.db")

	_, err := openStore(context.Background(), cfg)
	var escape *pathguard.PathEscapeError
	require.ErrorAs(t, err, &escape)
	assert.Equal(t, foundry.ExitConfigInvalid, ExitCodeFor(err))
	assert.NoFileExists(t, cfg.Store.Path)
}

func TestExitCodeFor(t *testing.T) {
	assert.Equal(t, foundry.ExitCode(0), ExitCodeFor(nil))
	assert.Equal(t, foundry.ExitExternalServiceUnavailable,
		ExitCodeFor(&store.StoreUnavailableError{Op: "ping", Err: errors.New("locked")}))
	assert.Equal(t, foundry.ExitConfigInvalid, ExitCodeFor(configError(errors.New("bad zone"))))
	assert.Equal(t, foundry.ExitConfigInvalid, ExitCodeFor(apperrors.NewConfigInvalidError("bad")))
	assert.Equal(t, foundry.ExitFileNotFound, ExitCodeFor(&os.PathError{Op: "open", Path: "x", Err: os.ErrNotExist}))
	assert.Equal(t, foundry.ExitFailure, ExitCodeFor(errors.New("boom")))
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("DEADLINECAL_TEST_ENV_VALUE=from-file\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("DEADLINECAL_TEST_ENV_VALUE") })

	require.NoError(t, loadEnvFile(path))
	assert.Equal(t, "from-file", os.Getenv("DEADLINECAL_TEST_ENV_VALUE"))

	require.Error(t, loadEnvFile(filepath.Join(dir, "missing.env")))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	require.NoError(t, loadEnvFile(""))
}
