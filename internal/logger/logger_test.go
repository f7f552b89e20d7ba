package logger

import (
	"testing"

	"stratflow/internal/config"
)

func TestNewFallsBackOnBadLevelAndEncoding(t *testing.T) {
	l, err := New(config.LogConfig{Level: "loud", Encoding: "xml"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !l.Core().Enabled(0) {
		t.Fatalf("info should be enabled")
	}
	if l.Core().Enabled(-1) {
		t.Fatalf("debug should be disabled")
	}
}
