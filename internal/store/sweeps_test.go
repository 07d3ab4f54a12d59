package store

import (
	"context"
	"testing"
	"time"
)

func TestSweepRunLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	run, err := db.CreateSweepRun(ctx, "run-1", t0)
	if err != nil {
		t.Fatalf("CreateSweepRun: %v", err)
	}
	if run.Status != SweepRunning {
		t.Errorf("Status = %q, want running", run.Status)
	}

	run.Checkpoint = "item-42"
	run.Evaluated = 42
	run.Transitioned = 3
	if err := db.CheckpointSweepRun(ctx, run); err != nil {
		t.Fatalf("CheckpointSweepRun: %v", err)
	}
	if err := db.FinishSweepRun(ctx, run, SweepInterrupted); err != nil {
		t.Fatalf("FinishSweepRun: %v", err)
	}

	got, err := db.GetSweepRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetSweepRun: %v", err)
	}
	if got.Status != SweepInterrupted || got.Checkpoint != "item-42" || got.Evaluated != 42 {
		t.Errorf("got %+v", got)
	}
	if !got.EvaluatedAt.Equal(t0) {
		t.Errorf("EvaluatedAt = %v, want %v", got.EvaluatedAt, t0)
	}
	if got.FinishedAt.IsZero() {
		t.Error("FinishedAt should be set")
	}

	if err := db.ReopenSweepRun(ctx, got); err != nil {
		t.Fatalf("ReopenSweepRun: %v", err)
	}
	got, err = db.GetSweepRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetSweepRun: %v", err)
	}
	if got.Status != SweepRunning || !got.FinishedAt.IsZero() {
		t.Errorf("reopened run = %+v", got)
	}
}

func TestGetSweepRunNotFound(t *testing.T) {
	db := openTestDB(t)

	got, err := db.GetSweepRun(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetSweepRun: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestListSweepRuns(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, id := range []string{"run-1", "run-2", "run-3"} {
		if _, err := db.CreateSweepRun(ctx, id, t0.Add(time.Hour)); err != nil {
			t.Fatalf("CreateSweepRun: %v", err)
		}
	}

	runs, err := db.ListSweepRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListSweepRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("len = %d, want 2", len(runs))
	}
}
