package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/spherolink/internal/infrastructure/database"
	"github.com/nerrad567/spherolink/internal/protocol/command"
)

// Repository defines toy persistence.
type Repository interface {
	// GetByName returns ErrNotFound if no toy has the name.
	GetByName(ctx context.Context, name string) (*Toy, error)

	// List returns every toy ordered by name.
	List(ctx context.Context) ([]Toy, error)

	// Create returns ErrExists if the name is taken.
	Create(ctx context.Context, t *Toy) error

	// Update replaces kind, address and auto-connect of the toy with t.ID.
	Update(ctx context.Context, t *Toy) error

	// Delete returns ErrNotFound if no toy has the name.
	Delete(ctx context.Context, name string) error

	// Touch records that the toy was connected at the given time.
	Touch(ctx context.Context, name string, at time.Time) error
}

// SQLiteRepository implements Repository on the toys table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectToys = `
	SELECT id, name, kind, address, auto_connect, created_at, updated_at, last_seen_at
	FROM toys`

// GetByName retrieves a toy by its name.
func (r *SQLiteRepository) GetByName(ctx context.Context, name string) (*Toy, error) {
	row := r.db.QueryRowContext(ctx, selectToys+` WHERE name = ?`, name)
	t, err := scanToy(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying toy by name: %w", err)
	}
	return t, nil
}

// List retrieves all toys.
func (r *SQLiteRepository) List(ctx context.Context) ([]Toy, error) {
	rows, err := r.db.QueryContext(ctx, selectToys+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying toys: %w", err)
	}
	defer rows.Close()

	var toys []Toy
	for rows.Next() {
		t, err := scanToy(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning toy: %w", err)
		}
		toys = append(toys, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating toys: %w", err)
	}
	return toys, nil
}

// Create inserts a new toy. CreatedAt and UpdatedAt are set when zero.
func (r *SQLiteRepository) Create(ctx context.Context, t *Toy) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO toys (id, name, kind, address, auto_connect, created_at, updated_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.Name,
		t.Kind.String(),
		t.Address,
		boolToInt(t.AutoConnect),
		database.FormatTime(t.CreatedAt),
		database.FormatTime(t.UpdatedAt),
		nullableTime(t.LastSeenAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrExists
		}
		return fmt.Errorf("inserting toy: %w", err)
	}
	return nil
}

// Update modifies an existing toy, matched by ID. Renames are allowed as
// long as the new name is free.
func (r *SQLiteRepository) Update(ctx context.Context, t *Toy) error {
	t.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE toys SET name = ?, kind = ?, address = ?, auto_connect = ?, updated_at = ?
		WHERE id = ?`,
		t.Name,
		t.Kind.String(),
		t.Address,
		boolToInt(t.AutoConnect),
		database.FormatTime(t.UpdatedAt),
		t.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrExists
		}
		return fmt.Errorf("updating toy: %w", err)
	}
	return requireRow(result)
}

// Delete removes a toy by name.
func (r *SQLiteRepository) Delete(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM toys WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting toy: %w", err)
	}
	return requireRow(result)
}

// Touch sets last_seen_at.
func (r *SQLiteRepository) Touch(ctx context.Context, name string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `UPDATE toys SET last_seen_at = ? WHERE name = ?`,
		database.FormatTime(at), name)
	if err != nil {
		return fmt.Errorf("updating last seen: %w", err)
	}
	return requireRow(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToy(row rowScanner) (*Toy, error) {
	var (
		t                    Toy
		kind                 string
		autoConnect          int
		createdAt, updatedAt string
		lastSeen             sql.NullString
	)
	if err := row.Scan(&t.ID, &t.Name, &kind, &t.Address, &autoConnect, &createdAt, &updatedAt, &lastSeen); err != nil {
		return nil, err
	}

	var err error
	if t.Kind, err = command.ParseKind(kind); err != nil {
		return nil, err
	}
	t.AutoConnect = autoConnect != 0
	if t.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		seen, err := database.ParseTime(lastSeen.String)
		if err != nil {
			return nil, err
		}
		t.LastSeenAt = &seen
	}
	return &t, nil
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

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
