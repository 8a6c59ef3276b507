package store

import (
	"context"
	"path/filepath"
	"testing"

	perr "vesselclass/internal/platform/errors"
	kit "vesselclass/internal/platform/testkit"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "runs.db"))
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	run, err := s.CreateRun(ctx, "training", `{"steps":100}`)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if run.ID == "" || run.Status != StatusRunning {
		t.Fatalf("fresh run = %+v", run)
	}

	if err := s.FinishRun(ctx, run.ID, StatusCompleted, ""); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != StatusCompleted || got.FinishedAt == 0 {
		t.Fatalf("finished run = %+v", got)
	}

	if err := s.FinishRun(ctx, "nope", StatusFailed, "x"); !perr.IsCode(err, perr.ErrorCodeNotFound) {
		t.Fatalf("unknown run: code = %v", perr.CodeOf(err))
	}
}

func TestCheckpoints(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	run, err := s.CreateRun(ctx, "training", "{}")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	// No checkpoint yet is transient, not fatal
	_, err = s.LatestCheckpoint(ctx, run.ID)
	if !perr.Retryable(err) {
		t.Fatalf("missing checkpoint must be retryable, got %v", err)
	}

	for step, payload := range map[int64][]byte{10: []byte("a"), 30: []byte("c"), 20: []byte("b")} {
		if err := s.SaveCheckpoint(ctx, run.ID, step, payload); err != nil {
			t.Fatalf("SaveCheckpoint(%d): %v", step, err)
		}
	}

	cp, err := s.LatestCheckpoint(ctx, run.ID)
	if err != nil {
		t.Fatalf("LatestCheckpoint: %v", err)
	}
	if cp.Step != 30 || string(cp.Payload) != "c" {
		t.Fatalf("latest = step %d payload %q", cp.Step, cp.Payload)
	}

	// Overwriting a step keeps the latest payload
	if err := s.SaveCheckpoint(ctx, run.ID, 30, []byte("c2")); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	cp, err = s.LatestCheckpoint(ctx, run.ID)
	if err != nil || string(cp.Payload) != "c2" {
		t.Fatalf("after overwrite: %q, %v", cp.Payload, err)
	}
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	run, err := s.CreateRun(ctx, "training", "{}")
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	for _, p := range []struct {
		step  int64
		name  string
		value float64
	}{
		{10, "loss", 2.5},
		{20, "loss", 1.5},
		{10, "accuracy", 0.25},
	} {
		if err := s.LogMetric(ctx, run.ID, p.step, p.name, p.value); err != nil {
			t.Fatalf("LogMetric: %v", err)
		}
	}

	got, err := s.Metrics(ctx, run.ID, "loss")
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if len(got) != 2 || got[0].Step != 10 || got[1].Step != 20 {
		t.Fatalf("loss points = %+v", got)
	}
	kit.MustAlmostEqual(t, got[1].Value, 1.5, 1e-12)
}

func TestInitRequiresPath(t *testing.T) {
	s := New("")
	if err := s.Init(context.Background()); !perr.IsCode(err, perr.ErrorCodeInvalidArgument) {
		t.Fatalf("empty path: code = %v", perr.CodeOf(err))
	}
}
