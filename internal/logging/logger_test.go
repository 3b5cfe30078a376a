package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

// TestNewDevelopmentLogger confirms the development logger builds and logs.
func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{Development: true})
	if err != nil {
		t.Fatalf("New(dev) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected debug to be enabled in development")
	}
	logger.Info("development logger ready")
}

// TestNewProductionLogger ensures the production logger configuration succeeds.
func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{Service: "invite-crawler"})
	if err != nil {
		t.Fatalf("New(prod) error = %v", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected debug to be disabled in production")
	}
	logger.Info("production logger ready")
}

func TestNewLevelOverride(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{Level: "warn"})
	if err != nil {
		t.Fatalf("New(warn) error = %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("expected info to be filtered at warn level")
	}
	if !logger.Core().Enabled(zapcore.WarnLevel) {
		t.Fatal("expected warn to be enabled")
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Level: "chatty"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
