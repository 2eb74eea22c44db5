package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/deadlinecal/deadlinecal/internal/core"
)

// DeadlineQuery filters ListActive. An empty Category matches every record.
type DeadlineQuery struct {
	Category string
}

// UpsertResult counts what an Upsert changed.
type UpsertResult struct {
	Inserted  int
	Updated   int
	Unchanged int
}

// Total returns the number of records processed.
func (r UpsertResult) Total() int {
	return r.Inserted + r.Updated + r.Unchanged
}

const deadlineColumns = `id, title, due_at, all_day, description, category, recommended_date, active, updated_at`

// ListActive returns active deadlines ordered by due time, then ID.
func (s *Store) ListActive(ctx context.Context, query DeadlineQuery) ([]core.Deadline, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	stmt := `SELECT ` + deadlineColumns + ` FROM deadlines WHERE active = 1`
	var args []any
	if category := core.NormalizeCategory(query.Category); category != "" {
		stmt += ` AND category = ?`
		args = append(args, category)
	}
	stmt += ` ORDER BY due_at ASC, id ASC`

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.DB.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, unavailable("list deadlines", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var deadlines []core.Deadline
	for rows.Next() {
		d, err := scanDeadline(rows)
		if err != nil {
			return nil, unavailable("list deadlines", err)
		}
		deadlines = append(deadlines, d)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list deadlines", err)
	}

	return deadlines, nil
}

// Get returns one deadline by ID, or nil when it does not exist.
func (s *Store) Get(ctx context.Context, id string) (*core.Deadline, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("deadline id is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.DB.QueryRowContext(ctx, `SELECT `+deadlineColumns+` FROM deadlines WHERE id = ?`, id)
	d, err := scanDeadline(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, unavailable("get deadline", err)
	}
	return &d, nil
}

// ImportResult counts what an ImportBatch changed.
type ImportResult struct {
	UpsertResult
	Deactivated int64
}

// Upsert inserts or updates deadlines keyed by ID in a single transaction.
// An upserted record is always active. Records whose stored values already
// match keep their updated_at.
func (s *Store) Upsert(ctx context.Context, deadlines []core.Deadline) (UpsertResult, error) {
	result, err := s.ImportBatch(ctx, deadlines, false)
	return result.UpsertResult, err
}

// DeactivateMissing marks every active deadline whose ID is not in keepIDs
// as inactive and returns how many were changed. Nothing is deleted.
func (s *Store) DeactivateMissing(ctx context.Context, keepIDs []string) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, unavailable("begin deactivate", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	affected, err := s.deactivateMissing(ctx, tx, keepIDs)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, unavailable("commit deactivate", err)
	}
	return affected, nil
}

// ImportBatch upserts deadlines and, when deactivateMissing is set, marks
// every other active deadline inactive. Both steps commit together or not
// at all.
func (s *Store) ImportBatch(ctx context.Context, deadlines []core.Deadline, deactivateMissing bool) (ImportResult, error) {
	var result ImportResult
	if s == nil || s.DB == nil {
		return result, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	for i := range deadlines {
		if err := validateDeadline(deadlines[i]); err != nil {
			return result, fmt.Errorf("deadline %d: %w", i, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return result, unavailable("begin upsert", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	upserted, err := s.upsert(ctx, tx, deadlines)
	if err != nil {
		return ImportResult{}, err
	}
	result.UpsertResult = upserted

	if deactivateMissing {
		ids := make([]string, 0, len(deadlines))
		for _, d := range deadlines {
			ids = append(ids, d.ID)
		}
		deactivated, err := s.deactivateMissing(ctx, tx, ids)
		if err != nil {
			return ImportResult{}, err
		}
		result.Deactivated = deactivated
	}

	if err := tx.Commit(); err != nil {
		return ImportResult{}, unavailable("commit upsert", err)
	}
	return result, nil
}

func (s *Store) upsert(ctx context.Context, tx *sql.Tx, deadlines []core.Deadline) (UpsertResult, error) {
	var result UpsertResult
	now := s.now().Unix()
	for _, d := range deadlines {
		id := strings.TrimSpace(d.ID)

		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM deadlines WHERE id = ?`, id).Scan(&exists); err != nil {
			return UpsertResult{}, unavailable("upsert deadline", err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO deadlines (id, title, due_at, all_day, description, category, recommended_date, active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title,
				due_at = excluded.due_at,
				all_day = excluded.all_day,
				description = excluded.description,
				category = excluded.category,
				recommended_date = excluded.recommended_date,
				active = 1,
				updated_at = excluded.updated_at
			WHERE deadlines.title IS NOT excluded.title
				OR deadlines.due_at IS NOT excluded.due_at
				OR deadlines.all_day IS NOT excluded.all_day
				OR deadlines.description IS NOT excluded.description
				OR deadlines.category IS NOT excluded.category
				OR deadlines.recommended_date IS NOT excluded.recommended_date
				OR deadlines.active = 0
		`,
			id,
			strings.TrimSpace(d.Title),
			d.Due.UTC().Unix(),
			boolToInt(d.AllDay),
			strings.TrimSpace(d.Description),
			core.NormalizeCategory(d.Category),
			recommendedValue(d.RecommendedDate),
			now,
			now,
		)
		if err != nil {
			return UpsertResult{}, unavailable("upsert deadline", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return UpsertResult{}, unavailable("upsert deadline", err)
		}

		switch {
		case exists == 0:
			result.Inserted++
		case affected > 0:
			result.Updated++
		default:
			result.Unchanged++
		}
	}
	return result, nil
}

// deactivateMissing stages keepIDs in a temp table one row at a time, so
// the batch size is not bounded by the bound-parameter limit.
func (s *Store) deactivateMissing(ctx context.Context, tx *sql.Tx, keepIDs []string) (int64, error) {
	stmts := []string{
		`CREATE TEMP TABLE IF NOT EXISTS import_keep (id TEXT PRIMARY KEY)`,
		`DELETE FROM temp.import_keep`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return 0, unavailable("stage import ids", err)
		}
	}

	insert, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO temp.import_keep (id) VALUES (?)`)
	if err != nil {
		return 0, unavailable("stage import ids", err)
	}
	for _, id := range keepIDs {
		if _, err := insert.ExecContext(ctx, strings.TrimSpace(id)); err != nil {
			_ = insert.Close()
			return 0, unavailable("stage import ids", err)
		}
	}
	if err := insert.Close(); err != nil {
		return 0, unavailable("stage import ids", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE deadlines SET active = 0, updated_at = ?
		WHERE active = 1 AND id NOT IN (SELECT id FROM temp.import_keep)
	`, s.now().Unix())
	if err != nil {
		return 0, unavailable("deactivate deadlines", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("deactivate deadlines", err)
	}

	if _, err := tx.ExecContext(ctx, `DROP TABLE temp.import_keep`); err != nil {
		return 0, unavailable("stage import ids", err)
	}
	return affected, nil
}

// ListCategories returns the distinct non-empty categories of active
// deadlines in ascending order.
func (s *Store) ListCategories(ctx context.Context) ([]string, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.DB.QueryContext(ctx, `
		SELECT DISTINCT category FROM deadlines
		WHERE active = 1 AND category != ''
		ORDER BY category ASC
	`)
	if err != nil {
		return nil, unavailable("list categories", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var categories []string
	for rows.Next() {
		var category string
		if err := rows.Scan(&category); err != nil {
			return nil, unavailable("list categories", err)
		}
		categories = append(categories, category)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list categories", err)
	}
	return categories, nil
}

// LastUpdated returns the newest updated_at across all deadlines, or nil
// for an empty table.
func (s *Store) LastUpdated(ctx context.Context) (*time.Time, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest sql.NullInt64
	if err := s.DB.QueryRowContext(ctx, `SELECT MAX(updated_at) FROM deadlines`).Scan(&latest); err != nil {
		return nil, unavailable("last updated", err)
	}
	if !latest.Valid {
		return nil, nil
	}
	value := time.Unix(latest.Int64, 0).UTC()
	return &value, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeadline(row rowScanner) (core.Deadline, error) {
	var (
		d           core.Deadline
		dueAt       int64
		allDay      int
		recommended sql.NullString
		active      int
		updatedAt   int64
	)
	if err := row.Scan(&d.ID, &d.Title, &dueAt, &allDay, &d.Description, &d.Category, &recommended, &active, &updatedAt); err != nil {
		return core.Deadline{}, err
	}

	d.Due = time.Unix(dueAt, 0).UTC()
	d.AllDay = allDay != 0
	d.Active = active != 0
	d.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if recommended.Valid && recommended.String != "" {
		if value, err := time.Parse(core.DateLayout, recommended.String); err == nil {
			d.RecommendedDate = &value
		}
	}
	return d, nil
}

func validateDeadline(d core.Deadline) error {
	if strings.TrimSpace(d.ID) == "" {
		return errors.New("id is required")
	}
	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("%s: title is required", d.ID)
	}
	if d.Due.IsZero() {
		return fmt.Errorf("%s: due date is required", d.ID)
	}
	return nil
}

func recommendedValue(value *time.Time) any {
	if value == nil || value.IsZero() {
		return nil
	}
	return value.Format(core.DateLayout)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
