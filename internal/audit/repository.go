package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/spherolink/internal/infrastructure/database"
	"github.com/nerrad567/spherolink/internal/protocol/command"
	"github.com/nerrad567/spherolink/internal/protocol/packet"
)

// Sources of executed commands.
const (
	SourceMQTT = "mqtt"
	SourceAPI  = "api"
	SourceCLI  = "cli"

	// SourceRoutine marks steps executed by a routine run.
	SourceRoutine = "routine"
)

// Outcomes of an executed command.
const (
	OutcomeOK          = "ok"
	OutcomeDeviceError = "device_error"
	OutcomeTimeout     = "timeout"
	OutcomeRejected    = "rejected" // encoding failed or the command is unknown
	OutcomeError       = "error"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Entry is one executed command.
type Entry struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Source    string          `json:"source"`
	Operator  string          `json:"operator,omitempty"`
	Toy       string          `json:"toy"`
	Command   string          `json:"command"`
	Args      json.RawMessage `json:"args,omitempty"`
	Outcome   string          `json:"outcome"`
	Error     string          `json:"error,omitempty"`
	Duration  time.Duration   `json:"duration_ns"`
}

// Filter controls which entries List returns.
type Filter struct {
	Toy     string    // optional
	Source  string    // optional
	Outcome string    // optional
	Since   time.Time // optional: entries at or after
	Limit   int       // default 50, max 200
	Offset  int
}

// ListResult is one page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines audit persistence.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores entries in the audit_log table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new audit repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts e. ID and CreatedAt are generated when empty.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, created_at, source, operator, toy, command, args, outcome, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		database.FormatTime(e.CreatedAt),
		e.Source,
		e.Operator,
		e.Toy,
		e.Command,
		string(e.Args),
		e.Outcome,
		e.Error,
		e.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// List returns entries matching filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	add := func(cond string, v any) {
		conditions = append(conditions, cond)
		args = append(args, v)
	}
	if filter.Toy != "" {
		add("toy = ?", filter.Toy)
	}
	if filter.Source != "" {
		add("source = ?", filter.Source)
	}
	if filter.Outcome != "" {
		add("outcome = ?", filter.Outcome)
	}
	if !filter.Since.IsZero() {
		add("created_at >= ?", database.FormatTime(filter.Since))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM audit_log " + where //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	query := `SELECT id, created_at, source, operator, toy, command, args, outcome, error, duration_ms
		FROM audit_log ` + where + ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?` //nolint:gosec // WHERE built from parameterised conditions, not user input
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e          Entry
			createdAt  string
			argsText   string
			durationMS int64
		)
		if err := rows.Scan(&e.ID, &createdAt, &e.Source, &e.Operator, &e.Toy, &e.Command,
			&argsText, &e.Outcome, &e.Error, &durationMS); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		if e.CreatedAt, err = database.ParseTime(createdAt); err != nil {
			return nil, err
		}
		if argsText != "" {
			e.Args = json.RawMessage(argsText)
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// OutcomeOf classifies the error returned by a command execution.
func OutcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, packet.ErrDevice):
		return OutcomeDeviceError
	case errors.Is(err, packet.ErrTimeout):
		return OutcomeTimeout
	case errors.Is(err, packet.ErrEncoding), errors.Is(err, command.ErrUnknownCommand):
		return OutcomeRejected
	default:
		return OutcomeError
	}
}
