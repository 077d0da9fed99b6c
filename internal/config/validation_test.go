package config

import (
	"testing"
	"time"
)

func TestValidate_RejectsEmptyInputQueue(t *testing.T) {
	cfg := GetDefaults()
	cfg.Job.InputQueue = "predict-queue"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
	cfg.Job.InputQueue = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for empty input queue")
	}
}

func TestValidate_RejectsNonPositiveRedisPort(t *testing.T) {
	cfg := GetDefaults()
	cfg.Job.InputQueue = "predict-queue"
	cfg.Redis.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for non-positive redis port")
	}
}

func TestValidate_RejectsNegativePredictTimeout(t *testing.T) {
	cfg := GetDefaults()
	cfg.Job.InputQueue = "predict-queue"
	negative := -time.Second
	cfg.Job.PredictTimeout = &negative
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for negative predict timeout")
	}
}

func TestValidate_ExplicitZeroPredictTimeoutIsValid(t *testing.T) {
	cfg := GetDefaults()
	cfg.Job.InputQueue = "predict-queue"
	zero := time.Duration(0)
	cfg.Job.PredictTimeout = &zero
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected explicit zero predict timeout to be valid (immediate timeout), got: %v", err)
	}
}

func TestValidate_NilPredictTimeoutIsValid(t *testing.T) {
	cfg := GetDefaults()
	cfg.Job.InputQueue = "predict-queue"
	cfg.Job.PredictTimeout = nil
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected nil predict timeout to be valid (unbounded), got: %v", err)
	}
}

func TestValidate_RejectsNonPositiveHealthPortWhenEnabled(t *testing.T) {
	cfg := GetDefaults()
	cfg.Job.InputQueue = "predict-queue"
	cfg.Health.Enabled = true
	cfg.Health.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for non-positive health port when enabled")
	}
}

func TestValidate_AllowsZeroHealthPortWhenDisabled(t *testing.T) {
	cfg := GetDefaults()
	cfg.Job.InputQueue = "predict-queue"
	cfg.Health.Enabled = false
	cfg.Health.Port = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected disabled health endpoint to skip port validation, got: %v", err)
	}
}

func TestValidate_RejectsInvalidLogLevel(t *testing.T) {
	cfg := GetDefaults()
	cfg.Job.InputQueue = "predict-queue"
	cfg.App.LogLevel = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for invalid log level")
	}
}
