package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lbds137/tzurot/internal/budget"
)

// QueueTuning controls the redis job queue's delivery behavior.
type QueueTuning struct {
	// VisibilityTimeout is how long a claimed job may sit idle before a
	// reclaimer hands it to another worker. When visibility_timeout_ms is
	// absent it is derived from the budget ceiling plus margin, so raising
	// the ceiling never silently reintroduces mid-generation reclaims.
	VisibilityTimeout time.Duration `yaml:"-"`
	VisibilityMs      int64         `yaml:"visibility_timeout_ms"`

	// MaxAttempts caps total deliveries of one job before dead-lettering.
	MaxAttempts int `yaml:"max_attempts"`

	// Concurrency is the number of jobs one worker processes at once.
	Concurrency int `yaml:"concurrency"`
}

// Tuning aggregates the operator-adjustable knobs loaded from an optional
// YAML file. Absent file or absent keys fall back to defaults.
type Tuning struct {
	Budget budgetTuning `yaml:"budget"`
	Queue  QueueTuning  `yaml:"queue"`
}

type budgetTuning struct {
	BaseMs          int64   `yaml:"base_ms"`
	VisionMs        int64   `yaml:"vision_ms"`
	AudioFetchMs    int64   `yaml:"audio_fetch_ms"`
	TranscribeMs    int64   `yaml:"transcribe_ms"`
	OverheadMs      int64   `yaml:"overhead_ms"`
	CeilingMs       int64   `yaml:"ceiling_ms"`
	ModelFloorMs    int64   `yaml:"model_floor_ms"`
	RetryMultiplier float64 `yaml:"retry_multiplier"`
}

// visibilityMargin pads the visibility timeout past the budget ceiling so
// a job at the ceiling finishes and acks before it becomes reclaimable.
const visibilityMargin = 30 * time.Second

// DefaultTuning returns production defaults.
func DefaultTuning() Tuning {
	return Tuning{
		Queue: QueueTuning{
			VisibilityTimeout: budget.DefaultLimits().Ceiling + visibilityMargin,
			MaxAttempts:       3,
			Concurrency:       4,
		},
	}
}

// LoadTuning reads the YAML tuning file at path. An empty path yields
// defaults; a missing or malformed file is an error so a bad deploy fails
// loudly instead of silently running with wrong budgets.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read tuning file: %w", err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("parse tuning file: %w", err)
	}

	if t.Queue.VisibilityMs > 0 {
		t.Queue.VisibilityTimeout = time.Duration(t.Queue.VisibilityMs) * time.Millisecond
	} else {
		t.Queue.VisibilityTimeout = t.BudgetLimits().Ceiling + visibilityMargin
	}
	if t.Queue.MaxAttempts <= 0 {
		t.Queue.MaxAttempts = DefaultTuning().Queue.MaxAttempts
	}
	if t.Queue.Concurrency <= 0 {
		t.Queue.Concurrency = DefaultTuning().Queue.Concurrency
	}
	return t, nil
}

// BudgetLimits converts the tuning file's millisecond overrides into
// allocator limits, filling gaps with the allocator defaults.
func (t Tuning) BudgetLimits() budget.Limits {
	l := budget.DefaultLimits()
	b := t.Budget
	if b.BaseMs > 0 {
		l.Base = time.Duration(b.BaseMs) * time.Millisecond
	}
	if b.VisionMs > 0 {
		l.Vision = time.Duration(b.VisionMs) * time.Millisecond
	}
	if b.AudioFetchMs > 0 {
		l.AudioFetch = time.Duration(b.AudioFetchMs) * time.Millisecond
	}
	if b.TranscribeMs > 0 {
		l.Transcribe = time.Duration(b.TranscribeMs) * time.Millisecond
	}
	if b.OverheadMs > 0 {
		l.Overhead = time.Duration(b.OverheadMs) * time.Millisecond
	}
	if b.CeilingMs > 0 {
		l.Ceiling = time.Duration(b.CeilingMs) * time.Millisecond
	}
	if b.ModelFloorMs > 0 {
		l.ModelFloor = time.Duration(b.ModelFloorMs) * time.Millisecond
	}
	if b.RetryMultiplier > 0 {
		l.RetryMultiplier = b.RetryMultiplier
	}
	return l
}
