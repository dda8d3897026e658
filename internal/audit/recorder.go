package audit

import (
	"context"
	"encoding/json"
	"time"
)

// Logger is the logging interface used by the Recorder.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

const recordTimeout = 2 * time.Second

// Recorder writes entries on behalf of command surfaces. Write failures are
// logged, not returned.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder creates a recorder. A nil logger discards failures.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{repo: repo, logger: logger}
}

// Record stores one executed command. args is marshalled to JSON; started
// is when execution began and err is what it returned.
func (r *Recorder) Record(ctx context.Context, source, operator, toy, command string, args any, started time.Time, err error) {
	e := &Entry{
		CreatedAt: started.UTC(),
		Source:    source,
		Operator:  operator,
		Toy:       toy,
		Command:   command,
		Outcome:   OutcomeOf(err),
		Duration:  time.Since(started),
	}
	if err != nil {
		e.Error = err.Error()
	}
	if args != nil {
		if b, mErr := json.Marshal(args); mErr == nil {
			e.Args = b
		}
	}

	// Detach from the request so a cancelled client still leaves a record.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if wErr := r.repo.Create(ctx, e); wErr != nil {
		r.logger.Warn("audit record failed", "toy", toy, "command", command, "error", wErr)
	}
}

// List passes through to the repository.
func (r *Recorder) List(ctx context.Context, filter Filter) (*ListResult, error) {
	return r.repo.List(ctx, filter)
}
