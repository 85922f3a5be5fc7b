package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PROCPROF_SAMPLE_RATE_MS", "")
	t.Setenv("PROCPROF_QUEUE_CAPACITY", "")
	t.Setenv("PROCPROF_LOG_LEVEL", "")

	cfg := Load()
	if cfg.SampleRate != time.Second {
		t.Fatalf("expected 1s default sample rate, got %v", cfg.SampleRate)
	}
	if cfg.QueueCapacity != 100 {
		t.Fatalf("expected default queue capacity 100, got %d", cfg.QueueCapacity)
	}
	if cfg.AttachAttempts != 5 || cfg.AttachBackoff != time.Second {
		t.Fatalf("expected 5 attempts 1s apart, got %d / %v", cfg.AttachAttempts, cfg.AttachBackoff)
	}
	if cfg.LogLevel != logrus.InfoLevel {
		t.Fatalf("expected info level, got %v", cfg.LogLevel)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PROCPROF_SAMPLE_RATE_MS", "250")
	t.Setenv("PROCPROF_QUEUE_CAPACITY", "7")
	t.Setenv("PROCPROF_ATTACH_ATTEMPTS", "2")
	t.Setenv("PROCPROF_ATTACH_BACKOFF_MS", "0")
	t.Setenv("PROCPROF_NATIVE", "true")
	t.Setenv("PROCPROF_LOG_LEVEL", "debug")
	t.Setenv("PROCPROF_PPROF_ADDR", ":6061")

	cfg := Load()
	if cfg.SampleRate != 250*time.Millisecond {
		t.Fatalf("expected PROCPROF_SAMPLE_RATE_MS override, got %v", cfg.SampleRate)
	}
	if cfg.QueueCapacity != 7 {
		t.Fatalf("expected PROCPROF_QUEUE_CAPACITY override")
	}
	if cfg.AttachAttempts != 2 || cfg.AttachBackoff != 0 {
		t.Fatalf("expected attach overrides, got %d / %v", cfg.AttachAttempts, cfg.AttachBackoff)
	}
	if !cfg.Native {
		t.Fatalf("expected PROCPROF_NATIVE override")
	}
	if cfg.LogLevel != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %v", cfg.LogLevel)
	}
	if cfg.PprofAddr != ":6061" {
		t.Fatalf("expected PROCPROF_PPROF_ADDR override")
	}
}

func TestLoadIgnoresGarbage(t *testing.T) {
	t.Setenv("PROCPROF_SAMPLE_RATE_MS", "fast")
	t.Setenv("PROCPROF_QUEUE_CAPACITY", "-3")
	t.Setenv("PROCPROF_LOG_LEVEL", "loud")

	cfg := Load()
	def := Default()
	if cfg.SampleRate != def.SampleRate || cfg.QueueCapacity != def.QueueCapacity || cfg.LogLevel != def.LogLevel {
		t.Fatalf("expected defaults for unparseable values, got %+v", cfg)
	}
}
