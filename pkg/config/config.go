// Package config holds procprof settings and their environment overrides.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds the settings shared by the CLI subcommands.
type Config struct {
	SampleRate     time.Duration
	QueueCapacity  int
	AttachAttempts int
	AttachBackoff  time.Duration
	Native         bool
	LogLevel       logrus.Level
	PprofAddr      string
}

// Default returns sensible defaults.
func Default() Config {
	return Config{
		SampleRate:     time.Second,
		QueueCapacity:  100,
		AttachAttempts: 5,
		AttachBackoff:  time.Second,
		LogLevel:       logrus.InfoLevel,
	}
}

// Load returns the defaults overridden by PROCPROF_* environment variables.
// Unparseable values are ignored.
func Load() Config {
	cfg := Default()

	if ms, ok := envInt("PROCPROF_SAMPLE_RATE_MS"); ok && ms > 0 {
		cfg.SampleRate = time.Duration(ms) * time.Millisecond
	}
	if n, ok := envInt("PROCPROF_QUEUE_CAPACITY"); ok && n > 0 {
		cfg.QueueCapacity = n
	}
	if n, ok := envInt("PROCPROF_ATTACH_ATTEMPTS"); ok && n > 0 {
		cfg.AttachAttempts = n
	}
	if ms, ok := envInt("PROCPROF_ATTACH_BACKOFF_MS"); ok && ms >= 0 {
		cfg.AttachBackoff = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("PROCPROF_NATIVE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Native = b
		}
	}
	if v := os.Getenv("PROCPROF_LOG_LEVEL"); v != "" {
		if lvl, err := logrus.ParseLevel(v); err == nil {
			cfg.LogLevel = lvl
		}
	}
	cfg.PprofAddr = os.Getenv("PROCPROF_PPROF_ADDR")

	return cfg
}

// NewLogger returns a text logger on stderr at the configured level.
func (c Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(c.LogLevel)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logger
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
