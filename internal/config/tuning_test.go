package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTuningFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write tuning file: %v", err)
	}
	return path
}

func TestDefaultVisibilityExceedsBudgetCeiling(t *testing.T) {
	tuning, err := LoadTuning("")
	if err != nil {
		t.Fatalf("LoadTuning: %v", err)
	}

	ceiling := tuning.BudgetLimits().Ceiling
	if got := tuning.Queue.VisibilityTimeout; got <= ceiling {
		t.Errorf("visibility timeout %v does not exceed budget ceiling %v", got, ceiling)
	}
	if want := ceiling + visibilityMargin; tuning.Queue.VisibilityTimeout != want {
		t.Errorf("visibility timeout = %v, want %v", tuning.Queue.VisibilityTimeout, want)
	}
}

func TestRaisedCeilingRaisesVisibility(t *testing.T) {
	path := writeTuningFile(t, "budget:\n  ceiling_ms: 600000\n")

	tuning, err := LoadTuning(path)
	if err != nil {
		t.Fatalf("LoadTuning: %v", err)
	}

	want := 600*time.Second + visibilityMargin
	if tuning.Queue.VisibilityTimeout != want {
		t.Errorf("visibility timeout = %v, want %v", tuning.Queue.VisibilityTimeout, want)
	}
}

func TestExplicitVisibilityOverrideWins(t *testing.T) {
	path := writeTuningFile(t, "queue:\n  visibility_timeout_ms: 45000\nbudget:\n  ceiling_ms: 600000\n")

	tuning, err := LoadTuning(path)
	if err != nil {
		t.Fatalf("LoadTuning: %v", err)
	}

	if want := 45 * time.Second; tuning.Queue.VisibilityTimeout != want {
		t.Errorf("visibility timeout = %v, want %v", tuning.Queue.VisibilityTimeout, want)
	}
}

func TestMissingTuningFileFailsLoudly(t *testing.T) {
	if _, err := LoadTuning(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing tuning file")
	}
}
