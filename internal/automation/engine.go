package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/spherolink/internal/audit"
	"github.com/nerrad567/spherolink/internal/fleet"
)

// maxRunTime bounds a whole run so a stuck toy cannot pin a run forever.
const maxRunTime = 10 * time.Minute

// Invoker executes one command on a fleet member. *fleet.Fleet satisfies it.
type Invoker interface {
	Invoke(ctx context.Context, inv fleet.Invocation) (any, error)
}

// Auditor records executed commands. *audit.Recorder satisfies it.
type Auditor interface {
	Record(ctx context.Context, source, operator, toy, command string, args any, started time.Time, err error)
}

// Broadcaster publishes finished runs, for example to WebSocket clients.
type Broadcaster interface {
	RoutineFinished(run Run)
}

// Engine runs routines against the fleet.
//
// Thread Safety: Run is safe for concurrent use. Runs of the same routine
// are not serialised; each toy's own command queue orders the commands.
type Engine struct {
	registry *Registry
	invoker  Invoker
	repo     Repository
	logger   Logger

	auditor     Auditor
	broadcaster Broadcaster
}

// NewEngine creates an engine.
//
// Parameters:
//   - registry: routine definitions
//   - invoker: executes steps, normally the fleet
//   - repo: persists run records
//   - logger: may be nil
func NewEngine(registry *Registry, invoker Invoker, repo Repository, logger Logger) *Engine {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Engine{registry: registry, invoker: invoker, repo: repo, logger: logger}
}

// SetAuditor makes every step land in the audit log.
func (e *Engine) SetAuditor(a Auditor) { e.auditor = a }

// SetBroadcaster publishes each finished run.
func (e *Engine) SetBroadcaster(b Broadcaster) { e.broadcaster = b }

// Run executes the named routine and waits for it to finish.
//
// A routine whose steps fail still returns a nil error: the outcome is in
// the returned Run. The error is set only when the routine cannot be
// started.
//
// Returns:
//   - *Run: the finished run record
//   - error: ErrNotFound, ErrDisabled
func (e *Engine) Run(ctx context.Context, name, operator, source string) (*Run, error) {
	rt, err := e.registry.Get(name)
	if err != nil {
		return nil, err
	}
	if !rt.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrDisabled, name)
	}

	ctx, cancel := context.WithTimeout(ctx, maxRunTime)
	defer cancel()

	run := &Run{
		ID:          GenerateID(),
		RoutineID:   rt.ID,
		RoutineName: rt.Name,
		Operator:    operator,
		Source:      source,
		Status:      StatusRunning,
		StartedAt:   time.Now().UTC(),
		StepsTotal:  len(rt.Steps),
	}
	if err := e.repo.CreateRun(ctx, run); err != nil {
		// The run still goes ahead; only its history is lost.
		e.logger.Error("failed to record run start", "routine", name, "error", err)
	}
	e.logger.Info("routine started", "routine", name, "run", run.ID, "steps", len(rt.Steps), "operator", operator)

	aborted := false
	for _, group := range groupSteps(rt.Steps) {
		if aborted || ctx.Err() != nil {
			if !aborted {
				run.Status = StatusCancelled
				aborted = true
			}
			run.StepsSkipped += len(group)
			continue
		}

		failures := e.runGroup(ctx, run, rt.Steps, group)
		run.StepsCompleted += len(group) - len(failures)
		run.StepsFailed += len(failures)
		run.Failures = append(run.Failures, failures...)
		for _, f := range failures {
			if !rt.Steps[f.Step].ContinueOnError {
				aborted = true
			}
		}
	}

	done := time.Now().UTC()
	run.CompletedAt = &done
	run.DurationMS = done.Sub(run.StartedAt).Milliseconds()
	switch {
	case run.Status == StatusCancelled:
	case aborted:
		run.Status = StatusFailed
	case run.StepsFailed > 0:
		run.Status = StatusPartial
	default:
		run.Status = StatusCompleted
	}

	// The caller's context may be gone; the record is still written.
	storeCtx, storeCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer storeCancel()
	if err := e.repo.UpdateRun(storeCtx, run); err != nil {
		e.logger.Error("failed to record run outcome", "routine", name, "run", run.ID, "error", err)
	}

	e.logger.Info("routine finished",
		"routine", name,
		"run", run.ID,
		"status", run.Status,
		"completed", run.StepsCompleted,
		"failed", run.StepsFailed,
		"skipped", run.StepsSkipped,
		"duration_ms", run.DurationMS,
	)
	if e.broadcaster != nil {
		e.broadcaster.RoutineFinished(*run)
	}
	return run, nil
}

// Runs returns the newest runs of the named routine.
func (e *Engine) Runs(ctx context.Context, name string, limit int) ([]Run, error) {
	rt, err := e.registry.Get(name)
	if err != nil {
		return nil, err
	}
	return e.repo.ListRuns(ctx, rt.ID, limit)
}

// runGroup executes the steps at indexes concurrently.
func (e *Engine) runGroup(ctx context.Context, run *Run, steps []Step, indexes []int) []StepFailure {
	var (
		mu       sync.Mutex
		failures []StepFailure
		wg       sync.WaitGroup
	)
	for _, i := range indexes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := e.runStep(ctx, run, steps[i]); err != nil {
				mu.Lock()
				failures = append(failures, StepFailure{
					Step:    i,
					Toy:     steps[i].Toy,
					Command: steps[i].Command,
					Error:   err.Error(),
				})
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	return failures
}

func (e *Engine) runStep(ctx context.Context, run *Run, s Step) error {
	if s.DelayMS > 0 {
		t := time.NewTimer(time.Duration(s.DelayMS) * time.Millisecond)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("waiting to run: %w", ctx.Err())
		}
	}

	inv := fleet.Invocation{
		Toy:     s.Toy,
		Command: s.Command,
		Args:    s.Args,
		Named:   s.Named,
		Timeout: time.Duration(s.TimeoutMS) * time.Millisecond,
	}
	started := time.Now()
	_, err := e.invoker.Invoke(ctx, inv)
	if errors.Is(err, context.DeadlineExceeded) && inv.Timeout > 0 {
		err = fmt.Errorf("no response within %v: %w", inv.Timeout, err)
	}
	if e.auditor != nil {
		e.auditor.Record(ctx, audit.SourceRoutine, run.Operator, s.Toy, s.Command, inv.Arguments(), started, err)
	}
	if err != nil {
		e.logger.Debug("routine step failed", "routine", run.RoutineName, "toy", s.Toy, "command", s.Command, "error", err)
	}
	return err
}

// groupSteps splits step indexes into groups that run one after another.
// A parallel step joins the group before it.
func groupSteps(steps []Step) [][]int {
	var groups [][]int
	for i, s := range steps {
		if s.Parallel && len(groups) > 0 {
			groups[len(groups)-1] = append(groups[len(groups)-1], i)
			continue
		}
		groups = append(groups, []int{i})
	}
	return groups
}
