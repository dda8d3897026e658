package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/spherolink/internal/infrastructure/database"
)

// OperatorRepository defines operator account persistence.
type OperatorRepository interface {
	Create(ctx context.Context, op *Operator) error
	GetByID(ctx context.Context, id string) (*Operator, error)
	GetByUsername(ctx context.Context, username string) (*Operator, error)
	List(ctx context.Context) ([]Operator, error)
	UpdateRole(ctx context.Context, id string, role Role) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	CountByRole(ctx context.Context, role Role) (int, error)
}

// SQLiteOperatorRepository implements OperatorRepository on the operators
// table.
type SQLiteOperatorRepository struct {
	db *sql.DB
}

// NewOperatorRepository creates a new SQLite-backed operator repository.
func NewOperatorRepository(db *sql.DB) *SQLiteOperatorRepository {
	return &SQLiteOperatorRepository{db: db}
}

const selectOperators = `SELECT id, username, password_hash, role, created_at, updated_at FROM operators`

// Create inserts a new operator. The ID is generated if empty.
func (r *SQLiteOperatorRepository) Create(ctx context.Context, op *Operator) error {
	if !IsValidUsername(op.Username) {
		return fmt.Errorf("%w: %q", ErrInvalidUsername, op.Username)
	}
	if !op.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, op.Role)
	}
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	op.CreatedAt = now
	op.UpdatedAt = now

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO operators (id, username, password_hash, role, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		op.ID, op.Username, op.PasswordHash, string(op.Role),
		database.FormatTime(now), database.FormatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUsernameExists
		}
		return fmt.Errorf("creating operator: %w", err)
	}
	return nil
}

// GetByID retrieves an operator by ID.
func (r *SQLiteOperatorRepository) GetByID(ctx context.Context, id string) (*Operator, error) {
	return scanOperator(r.db.QueryRowContext(ctx, selectOperators+` WHERE id = ?`, id))
}

// GetByUsername retrieves an operator by username.
func (r *SQLiteOperatorRepository) GetByUsername(ctx context.Context, username string) (*Operator, error) {
	return scanOperator(r.db.QueryRowContext(ctx, selectOperators+` WHERE username = ?`, username))
}

// List returns all operators ordered by username.
func (r *SQLiteOperatorRepository) List(ctx context.Context) ([]Operator, error) {
	rows, err := r.db.QueryContext(ctx, selectOperators+` ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("listing operators: %w", err)
	}
	defer rows.Close()

	ops := []Operator{}
	for rows.Next() {
		op, err := scanOperator(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, *op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating operators: %w", err)
	}
	return ops, nil
}

// UpdateRole changes an operator's role.
func (r *SQLiteOperatorRepository) UpdateRole(ctx context.Context, id string, role Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return r.update(ctx, `UPDATE operators SET role = ?, updated_at = ? WHERE id = ?`, string(role), id)
}

// UpdatePassword changes an operator's password hash.
func (r *SQLiteOperatorRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return r.update(ctx, `UPDATE operators SET password_hash = ?, updated_at = ? WHERE id = ?`, passwordHash, id)
}

func (r *SQLiteOperatorRepository) update(ctx context.Context, query, value, id string) error {
	result, err := r.db.ExecContext(ctx, query, value, database.FormatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("updating operator: %w", err)
	}
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrOperatorNotFound
	}
	return nil
}

// Delete removes an operator by ID.
func (r *SQLiteOperatorRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM operators WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting operator: %w", err)
	}
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrOperatorNotFound
	}
	return nil
}

// Count returns the total number of operators.
func (r *SQLiteOperatorRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM operators`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting operators: %w", err)
	}
	return n, nil
}

// CountByRole returns the number of operators holding role.
func (r *SQLiteOperatorRepository) CountByRole(ctx context.Context, role Role) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM operators WHERE role = ?`, string(role)).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting operators: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOperator(s scanner) (*Operator, error) {
	var (
		op                   Operator
		role                 string
		createdAt, updatedAt string
	)
	if err := s.Scan(&op.ID, &op.Username, &op.PasswordHash, &role, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOperatorNotFound
		}
		return nil, fmt.Errorf("scanning operator: %w", err)
	}
	op.Role = Role(role)

	var err error
	if op.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if op.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, err
	}
	return &op, nil
}

// isUniqueViolation checks if a SQLite error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
