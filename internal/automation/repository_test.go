package automation

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRepository_Runs(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	r := validRoutine()
	r.ID = GenerateID()
	if err := repo.Create(ctx, r); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	base := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	for i := range 3 {
		run := &Run{
			ID:          GenerateID(),
			RoutineID:   r.ID,
			RoutineName: r.Name,
			Source:      "api",
			Status:      StatusRunning,
			StartedAt:   base.Add(time.Duration(i) * time.Minute),
			StepsTotal:  2,
		}
		if err := repo.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun() error = %v", err)
		}
		if i == 2 {
			done := run.StartedAt.Add(time.Second)
			run.CompletedAt = &done
			run.Status = StatusPartial
			run.StepsCompleted, run.StepsFailed = 1, 1
			run.DurationMS = 1000
			run.Failures = []StepFailure{{Step: 1, Toy: "bolt", Command: "drive_with_heading", Error: "timeout"}}
			if err := repo.UpdateRun(ctx, run); err != nil {
				t.Fatalf("UpdateRun() error = %v", err)
			}
		}
	}

	runs, err := repo.ListRuns(ctx, r.ID, 2)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("ListRuns(limit 2) returned %d runs", len(runs))
	}
	latest := runs[0]
	if latest.Status != StatusPartial || latest.CompletedAt == nil || len(latest.Failures) != 1 {
		t.Errorf("newest run = %+v", latest)
	}
	if latest.Failures[0].Error != "timeout" {
		t.Errorf("failure = %+v", latest.Failures[0])
	}
	if runs[1].Failures != nil || runs[1].CompletedAt != nil {
		t.Errorf("unfinished run = %+v", runs[1])
	}

	got, err := repo.GetRun(ctx, latest.ID)
	if err != nil || got.StepsFailed != 1 {
		t.Errorf("GetRun() = %+v, %v", got, err)
	}
	if _, err := repo.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun(missing) error = %v, want ErrNotFound", err)
	}
	if err := repo.UpdateRun(ctx, &Run{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateRun(missing) error = %v, want ErrNotFound", err)
	}

	// Deleting the routine drops its history.
	if err := repo.Delete(ctx, r.Name); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if runs, _ := repo.ListRuns(ctx, r.ID, 0); len(runs) != 0 {
		t.Errorf("runs survive routine deletion: %d", len(runs))
	}
}

func TestRepository_UpdateMissing(t *testing.T) {
	repo := newTestRepo(t)
	r := validRoutine()
	r.ID = "nope"
	if err := repo.Update(context.Background(), r); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
}
