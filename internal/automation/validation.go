package automation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/nerrad567/spherolink/internal/protocol/command"
)

const (
	maxNameLength        = 64
	maxDescriptionLength = 500
	maxSteps             = 100
	maxDelayMS           = 300000 // 5 minutes
	maxStepTimeoutMS     = 60000
)

// Routine names appear in URL paths and MQTT topics.
var namePattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// KindLookup resolves a toy name to its kind. It reports false for toys it
// does not know.
type KindLookup func(toy string) (command.Kind, bool)

// Validate checks r. When lookup is non-nil every step's toy must be known
// and its command must exist for the toy's kind.
func Validate(r *Routine, lookup KindLookup) error {
	if r == nil {
		return ErrInvalid
	}
	r.Name = strings.TrimSpace(r.Name)
	switch {
	case r.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalid)
	case len(r.Name) > maxNameLength:
		return fmt.Errorf("%w: name longer than %d characters", ErrInvalid, maxNameLength)
	case !namePattern.MatchString(r.Name):
		return fmt.Errorf("%w: name %q must be lowercase letters and digits separated by hyphens", ErrInvalid, r.Name)
	case len(r.Description) > maxDescriptionLength:
		return fmt.Errorf("%w: description longer than %d characters", ErrInvalid, maxDescriptionLength)
	case len(r.Steps) == 0:
		return fmt.Errorf("%w: at least one step is required", ErrInvalid)
	case len(r.Steps) > maxSteps:
		return fmt.Errorf("%w: more than %d steps", ErrInvalid, maxSteps)
	case r.Steps[0].Parallel:
		return fmt.Errorf("%w: steps[0] cannot be parallel", ErrInvalidStep)
	}

	for i, s := range r.Steps {
		if err := validateStep(s, lookup); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(s Step, lookup KindLookup) error {
	switch {
	case s.Toy == "":
		return fmt.Errorf("%w: toy is required", ErrInvalidStep)
	case s.Command == "":
		return fmt.Errorf("%w: command is required", ErrInvalidStep)
	case s.Args != nil && s.Named != nil:
		return fmt.Errorf("%w: args and named are mutually exclusive", ErrInvalidStep)
	case s.DelayMS < 0 || s.DelayMS > maxDelayMS:
		return fmt.Errorf("%w: delay_ms must be 0-%d", ErrInvalidStep, maxDelayMS)
	case s.TimeoutMS < 0 || s.TimeoutMS > maxStepTimeoutMS:
		return fmt.Errorf("%w: timeout_ms must be 0-%d", ErrInvalidStep, maxStepTimeoutMS)
	}
	if lookup == nil {
		return nil
	}

	kind, ok := lookup(s.Toy)
	if !ok {
		return fmt.Errorf("%w: unknown toy %q", ErrInvalidStep, s.Toy)
	}
	table := command.For(kind)
	if table == nil {
		return fmt.Errorf("%w: toy %q has unknown kind %s", ErrInvalidStep, s.Toy, kind)
	}
	d, ok := table.Command(s.Command)
	if !ok {
		return fmt.Errorf("%w: %s has no command %q", ErrInvalidStep, kind, s.Command)
	}
	// Catch arity mistakes now rather than at run time.
	if s.Named == nil && len(s.Args) != len(d.Params) {
		return fmt.Errorf("%w: %s takes %d arguments (%s), got %d",
			ErrInvalidStep, s.Command, len(d.Params), d.Signature(), len(s.Args))
	}
	return nil
}

// GenerateID returns a new routine or run identifier.
func GenerateID() string {
	return uuid.New().String()
}
