package automation

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/spherolink/internal/infrastructure/database"
)

// Repository defines routine and run persistence.
type Repository interface {
	// GetByName returns ErrNotFound if no routine has the name.
	GetByName(ctx context.Context, name string) (*Routine, error)

	// List returns every routine ordered by name.
	List(ctx context.Context) ([]Routine, error)

	// Create returns ErrExists if the name is taken.
	Create(ctx context.Context, r *Routine) error

	// Update replaces the routine with r.ID.
	Update(ctx context.Context, r *Routine) error

	// Delete removes a routine and its runs.
	Delete(ctx context.Context, name string) error

	CreateRun(ctx context.Context, run *Run) error
	UpdateRun(ctx context.Context, run *Run) error

	// GetRun returns ErrNotFound if no run has the ID.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns the newest runs of a routine first.
	ListRuns(ctx context.Context, routineID string, limit int) ([]Run, error)
}

// SQLiteRepository implements Repository on the routines and routine_runs
// tables.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectRoutines = `
	SELECT id, name, description, enabled, steps, created_at, updated_at
	FROM routines`

const selectRuns = `
	SELECT id, routine_id, routine_name, operator, source, status, started_at, completed_at,
		duration_ms, steps_total, steps_completed, steps_failed, steps_skipped, failures
	FROM routine_runs`

// GetByName retrieves a routine by name.
func (r *SQLiteRepository) GetByName(ctx context.Context, name string) (*Routine, error) {
	rt, err := scanRoutine(r.db.QueryRowContext(ctx, selectRoutines+` WHERE name = ?`, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying routine by name: %w", err)
	}
	return rt, nil
}

// List retrieves all routines ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Routine, error) {
	rows, err := r.db.QueryContext(ctx, selectRoutines+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying routines: %w", err)
	}
	defer rows.Close()

	var out []Routine
	for rows.Next() {
		rt, err := scanRoutine(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning routine: %w", err)
		}
		out = append(out, *rt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating routines: %w", err)
	}
	return out, nil
}

// Create inserts a new routine. CreatedAt and UpdatedAt are set when zero.
func (r *SQLiteRepository) Create(ctx context.Context, rt *Routine) error {
	now := time.Now().UTC()
	if rt.CreatedAt.IsZero() {
		rt.CreatedAt = now
	}
	rt.UpdatedAt = now

	steps, err := json.Marshal(rt.Steps)
	if err != nil {
		return fmt.Errorf("marshalling steps: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO routines (id, name, description, enabled, steps, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rt.ID,
		rt.Name,
		rt.Description,
		boolToInt(rt.Enabled),
		string(steps),
		database.FormatTime(rt.CreatedAt),
		database.FormatTime(rt.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrExists
		}
		return fmt.Errorf("inserting routine: %w", err)
	}
	return nil
}

// Update modifies an existing routine, matched by ID.
func (r *SQLiteRepository) Update(ctx context.Context, rt *Routine) error {
	rt.UpdatedAt = time.Now().UTC()

	steps, err := json.Marshal(rt.Steps)
	if err != nil {
		return fmt.Errorf("marshalling steps: %w", err)
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE routines SET name = ?, description = ?, enabled = ?, steps = ?, updated_at = ?
		WHERE id = ?`,
		rt.Name,
		rt.Description,
		boolToInt(rt.Enabled),
		string(steps),
		database.FormatTime(rt.UpdatedAt),
		rt.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrExists
		}
		return fmt.Errorf("updating routine: %w", err)
	}
	return requireRow(result)
}

// Delete removes a routine by name. Its runs go with it.
func (r *SQLiteRepository) Delete(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM routines WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting routine: %w", err)
	}
	return requireRow(result)
}

// CreateRun inserts the initial record of a run.
func (r *SQLiteRepository) CreateRun(ctx context.Context, run *Run) error {
	failures, err := marshalFailures(run.Failures)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO routine_runs (id, routine_id, routine_name, operator, source, status, started_at,
			completed_at, duration_ms, steps_total, steps_completed, steps_failed, steps_skipped, failures)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.RoutineID,
		run.RoutineName,
		run.Operator,
		run.Source,
		string(run.Status),
		database.FormatTime(run.StartedAt),
		nullableTime(run.CompletedAt),
		run.DurationMS,
		run.StepsTotal,
		run.StepsCompleted,
		run.StepsFailed,
		run.StepsSkipped,
		failures,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// UpdateRun stores the outcome of a run.
func (r *SQLiteRepository) UpdateRun(ctx context.Context, run *Run) error {
	failures, err := marshalFailures(run.Failures)
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE routine_runs SET status = ?, completed_at = ?, duration_ms = ?,
			steps_completed = ?, steps_failed = ?, steps_skipped = ?, failures = ?
		WHERE id = ?`,
		string(run.Status),
		nullableTime(run.CompletedAt),
		run.DurationMS,
		run.StepsCompleted,
		run.StepsFailed,
		run.StepsSkipped,
		failures,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	return requireRow(result)
}

// GetRun retrieves a run by ID.
func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx, selectRuns+` WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying run: %w", err)
	}
	return run, nil
}

// ListRuns returns at most limit runs of a routine, newest first. A
// non-positive limit means 50.
func (r *SQLiteRepository) ListRuns(ctx context.Context, routineID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		selectRuns+` WHERE routine_id = ? ORDER BY started_at DESC LIMIT ?`, routineID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		out = append(out, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoutine(row rowScanner) (*Routine, error) {
	var (
		rt                   Routine
		enabled              int
		steps                string
		createdAt, updatedAt string
	)
	if err := row.Scan(&rt.ID, &rt.Name, &rt.Description, &enabled, &steps, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rt.Enabled = enabled != 0

	// Numbers stay json.Number so integer arguments keep their precision.
	dec := json.NewDecoder(bytes.NewReader([]byte(steps)))
	dec.UseNumber()
	if err := dec.Decode(&rt.Steps); err != nil {
		return nil, fmt.Errorf("decoding steps of %s: %w", rt.Name, err)
	}

	var err error
	if rt.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if rt.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	return &rt, nil
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run         Run
		status      string
		startedAt   string
		completedAt sql.NullString
		failures    string
	)
	if err := row.Scan(&run.ID, &run.RoutineID, &run.RoutineName, &run.Operator, &run.Source, &status,
		&startedAt, &completedAt, &run.DurationMS, &run.StepsTotal, &run.StepsCompleted,
		&run.StepsFailed, &run.StepsSkipped, &failures); err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)

	var err error
	if run.StartedAt, err = database.ParseTime(startedAt); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		done, err := database.ParseTime(completedAt.String)
		if err != nil {
			return nil, err
		}
		run.CompletedAt = &done
	}
	if err := json.Unmarshal([]byte(failures), &run.Failures); err != nil {
		return nil, fmt.Errorf("decoding failures of run %s: %w", run.ID, err)
	}
	if len(run.Failures) == 0 {
		run.Failures = nil
	}
	return &run, nil
}

func marshalFailures(f []StepFailure) (string, error) {
	if len(f) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("marshalling failures: %w", err)
	}
	return string(data), nil
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: database.FormatTime(*t), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
