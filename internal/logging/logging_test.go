package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"ttlkv/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		cfg   config.LogConfig
		level zapcore.Level
	}{
		{config.LogConfig{Level: "info", Format: "json"}, zapcore.InfoLevel},
		{config.LogConfig{Level: "debug", Format: "console"}, zapcore.DebugLevel},
		{config.LogConfig{Level: "error", Format: "json"}, zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		l, err := New(tt.cfg)
		if err != nil {
			t.Fatalf("New(%+v): %v", tt.cfg, err)
		}
		if !l.Core().Enabled(tt.level) {
			t.Errorf("%s should be enabled", tt.level)
		}
		if tt.level > zapcore.DebugLevel && l.Core().Enabled(tt.level-1) {
			t.Errorf("%s should be disabled for level %s", tt.level-1, tt.cfg.Level)
		}
	}
}

func TestNewBadLevel(t *testing.T) {
	if _, err := New(config.LogConfig{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
}
