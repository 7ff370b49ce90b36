package logging

import (
	"testing"

	"go.uber.org/zap"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(false)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	if logger.Core().Enabled(zap.DebugLevel) {
		t.Error("Debug should be disabled by default")
	}

	debug, err := NewLogger(true)
	if err != nil {
		t.Fatalf("NewLogger(debug) failed: %v", err)
	}
	if !debug.Core().Enabled(zap.DebugLevel) {
		t.Error("Debug should be enabled")
	}
}
