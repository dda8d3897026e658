package automation

import "time"

// Routine is a named sequence of commands.
type Routine struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Enabled     bool      `json:"enabled"`
	Steps       []Step    `json:"steps"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Step invokes one command on one toy. Args and Named are mutually
// exclusive, as for a direct call.
type Step struct {
	Toy     string         `json:"toy"`
	Command string         `json:"command"`
	Args    []any          `json:"args,omitempty"`
	Named   map[string]any `json:"named,omitempty"`

	// DelayMS waits before the command is sent.
	DelayMS int `json:"delay_ms,omitempty"`

	// TimeoutMS overrides the command's own response timeout.
	TimeoutMS int `json:"timeout_ms,omitempty"`

	// Parallel runs the step together with the previous one.
	Parallel bool `json:"parallel,omitempty"`

	// ContinueOnError keeps the routine going when this step fails.
	ContinueOnError bool `json:"continue_on_error,omitempty"`
}

// Run is the record of one execution of a routine.
type Run struct {
	ID          string     `json:"id"`
	RoutineID   string     `json:"routine_id"`
	RoutineName string     `json:"routine_name"`
	Operator    string     `json:"operator,omitempty"`
	Source      string     `json:"source"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  int64      `json:"duration_ms"`

	StepsTotal     int `json:"steps_total"`
	StepsCompleted int `json:"steps_completed"`
	StepsFailed    int `json:"steps_failed"`
	StepsSkipped   int `json:"steps_skipped"`

	Failures []StepFailure `json:"failures,omitempty"`
}

// StepFailure describes one failed step of a run.
type StepFailure struct {
	Step    int    `json:"step"` // index into Routine.Steps
	Toy     string `json:"toy"`
	Command string `json:"command"`
	Error   string `json:"error"`
}

// RunStatus is the outcome of a run.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusPartial   RunStatus = "partial"   // failures on continue_on_error steps only
	StatusFailed    RunStatus = "failed"    // aborted by a failed step
	StatusCancelled RunStatus = "cancelled" // context ended mid-run
)

// clone returns a copy that shares no slices or maps with r.
func (r *Routine) clone() *Routine {
	if r == nil {
		return nil
	}
	cpy := *r
	if r.Steps != nil {
		cpy.Steps = make([]Step, len(r.Steps))
		for i, s := range r.Steps {
			cpy.Steps[i] = s
			if s.Args != nil {
				cpy.Steps[i].Args = deepCopySlice(s.Args)
			}
			if s.Named != nil {
				cpy.Steps[i].Named = deepCopyMap(s.Named)
			}
		}
	}
	return &cpy
}

func deepCopyMap(m map[string]any) map[string]any {
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

func deepCopySlice(s []any) []any {
	cpy := make([]any, len(s))
	for i, v := range s {
		cpy[i] = deepCopyValue(v)
	}
	return cpy
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		return deepCopySlice(val)
	default:
		return v
	}
}
