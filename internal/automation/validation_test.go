package automation

import (
	"errors"
	"strings"
	"testing"

	"github.com/nerrad567/spherolink/internal/protocol/command"
)

func validRoutine() *Routine {
	return &Routine{
		Name:    "wake-and-drive",
		Enabled: true,
		Steps: []Step{
			{Toy: "bolt", Command: "wake"},
			{Toy: "bolt", Command: "drive_with_heading", Args: []any{80, 90, 0}, DelayMS: 100},
		},
	}
}

func boltLookup(toy string) (command.Kind, bool) {
	switch toy {
	case "bolt":
		return command.KindBOLT, true
	case "mystery":
		return command.KindUnknown, true
	}
	return command.KindUnknown, false
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Routine)
		lookup  KindLookup
		wantErr error
		msg     string
	}{
		{name: "valid", modify: func(*Routine) {}},
		{name: "valid with lookup", modify: func(*Routine) {}, lookup: boltLookup},
		{name: "empty name", modify: func(r *Routine) { r.Name = "  " }, wantErr: ErrInvalid, msg: "name is required"},
		{name: "uppercase name", modify: func(r *Routine) { r.Name = "Wake" }, wantErr: ErrInvalid, msg: "lowercase"},
		{name: "long name", modify: func(r *Routine) { r.Name = strings.Repeat("a", maxNameLength+1) }, wantErr: ErrInvalid},
		{name: "long description", modify: func(r *Routine) { r.Description = strings.Repeat("x", maxDescriptionLength+1) }, wantErr: ErrInvalid},
		{name: "no steps", modify: func(r *Routine) { r.Steps = nil }, wantErr: ErrInvalid, msg: "at least one step"},
		{name: "too many steps", modify: func(r *Routine) { r.Steps = make([]Step, maxSteps+1) }, wantErr: ErrInvalid},
		{name: "parallel first step", modify: func(r *Routine) { r.Steps[0].Parallel = true }, wantErr: ErrInvalidStep},
		{name: "missing toy", modify: func(r *Routine) { r.Steps[1].Toy = "" }, wantErr: ErrInvalidStep, msg: "steps[1]"},
		{name: "missing command", modify: func(r *Routine) { r.Steps[0].Command = "" }, wantErr: ErrInvalidStep},
		{name: "args and named", modify: func(r *Routine) { r.Steps[1].Named = map[string]any{"speed": 1} }, wantErr: ErrInvalidStep},
		{name: "negative delay", modify: func(r *Routine) { r.Steps[1].DelayMS = -1 }, wantErr: ErrInvalidStep},
		{name: "long timeout", modify: func(r *Routine) { r.Steps[1].TimeoutMS = maxStepTimeoutMS + 1 }, wantErr: ErrInvalidStep},
		{name: "unknown toy", modify: func(r *Routine) { r.Steps[0].Toy = "ghost" }, lookup: boltLookup, wantErr: ErrInvalidStep, msg: "unknown toy"},
		{name: "unknown kind", modify: func(r *Routine) { r.Steps[0].Toy = "mystery" }, lookup: boltLookup, wantErr: ErrInvalidStep},
		{name: "unknown command", modify: func(r *Routine) { r.Steps[0].Command = "fly" }, lookup: boltLookup, wantErr: ErrInvalidStep, msg: "no command"},
		{name: "wrong arity", modify: func(r *Routine) { r.Steps[1].Args = []any{80} }, lookup: boltLookup, wantErr: ErrInvalidStep, msg: "takes 3 arguments"},
		{
			name:   "named skips arity",
			modify: func(r *Routine) { r.Steps[1].Args = nil; r.Steps[1].Named = map[string]any{"speed": 1} },
			lookup: boltLookup,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRoutine()
			tt.modify(r)
			err := Validate(r, tt.lookup)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
			if tt.msg != "" && !strings.Contains(err.Error(), tt.msg) {
				t.Errorf("Validate() error = %q, want it to mention %q", err, tt.msg)
			}
		})
	}
}

func TestValidate_Nil(t *testing.T) {
	if err := Validate(nil, nil); !errors.Is(err, ErrInvalid) {
		t.Errorf("Validate(nil) = %v, want ErrInvalid", err)
	}
}

func TestGroupSteps(t *testing.T) {
	tests := []struct {
		name     string
		parallel []bool
		want     [][]int
	}{
		{"empty", nil, nil},
		{"single", []bool{false}, [][]int{{0}}},
		{"sequential", []bool{false, false, false}, [][]int{{0}, {1}, {2}}},
		{"fan out", []bool{false, true, true, false}, [][]int{{0, 1, 2}, {3}}},
		{"two groups", []bool{false, true, false, true}, [][]int{{0, 1}, {2, 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps := make([]Step, len(tt.parallel))
			for i, p := range tt.parallel {
				steps[i].Parallel = p
			}
			got := groupSteps(steps)
			if len(got) != len(tt.want) {
				t.Fatalf("groupSteps() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if len(got[i]) != len(tt.want[i]) {
					t.Fatalf("groupSteps() = %v, want %v", got, tt.want)
				}
				for j := range got[i] {
					if got[i][j] != tt.want[i][j] {
						t.Fatalf("groupSteps() = %v, want %v", got, tt.want)
					}
				}
			}
		})
	}
}

func TestRoutineClone(t *testing.T) {
	r := validRoutine()
	r.Steps[0].Named = map[string]any{"nested": map[string]any{"v": 1}}
	cpy := r.clone()

	cpy.Steps[1].Args[0] = 1
	cpy.Steps[0].Named["nested"].(map[string]any)["v"] = 2
	cpy.Steps[0].Toy = "other"

	if r.Steps[1].Args[0] != 80 {
		t.Error("clone shares Args with the original")
	}
	if r.Steps[0].Named["nested"].(map[string]any)["v"] != 1 {
		t.Error("clone shares nested Named maps with the original")
	}
	if r.Steps[0].Toy != "bolt" {
		t.Error("clone shares Steps with the original")
	}
}
