package log

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestToFields(t *testing.T) {
	err := errors.New("erase failed")

	tests := []struct {
		name  string
		input []any
		want  int
	}{
		{"empty input", []any{}, 0},
		{"partition and addr", []any{"partition", "system", "addr", int64(0x20000), "aligned", true}, 3},
		{"duration", []any{"elapsed", time.Second}, 1},
		{"block bytes", []any{"data", []byte{0xff, 0xff}}, 1},
		{"bare error", []any{err}, 1},
		{"two errors", []any{err, errors.New("again")}, 2},
		{"zap field mixed in", []any{"op", "update", zap.String("x", "y"), "round", 2}, 3},
		{"odd number of args", []any{"key1", "val1", "key2"}, 2},
		{"non-string key", []any{123, "value", true, 99}, 2},
		{"nil values", []any{"a", nil, "b", (*int)(nil)}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := toFields(tt.input...)
			if len(fields) != tt.want {
				t.Fatalf("toFields(%v) returned %d fields, want %d", tt.input, len(fields), tt.want)
			}
			for _, f := range fields {
				if f.Key == "" {
					t.Errorf("field has empty key: %+v", f)
				}
			}
		})
	}
}

func TestNopLoggerSync(t *testing.T) {
	l := NewNopLogger().WithName("engine").WithValues("partition", "boot")
	l.Info("ignored")
	if err := l.Sync(); err != nil {
		t.Fatalf("Sync() = %v", err)
	}
	l.Logr().V(1).Info("trace", "addr", 0)
}

func TestOptionsLevel(t *testing.T) {
	tests := []struct {
		level     string
		verbosity int
		want      zapcore.Level
		wantErrs  int
	}{
		{"info", 0, zapcore.InfoLevel, 0},
		{"warn", 0, zapcore.WarnLevel, 0},
		{"info", 1, zapcore.DebugLevel, 0},
		{"info", 3, zapcore.Level(-3), 0},
		{"error", -1, zapcore.ErrorLevel, 1},
		{"loud", 0, zapcore.InfoLevel, 1},
	}
	for _, tt := range tests {
		o := NewOptions()
		o.Level, o.Verbosity = tt.level, tt.verbosity
		if got := o.level(); got != tt.want {
			t.Errorf("level(%q, v=%d) = %v, want %v", tt.level, tt.verbosity, got, tt.want)
		}
		if errs := o.Validate(); len(errs) != tt.wantErrs {
			t.Errorf("Validate(%q, v=%d) = %v, want %d errors", tt.level, tt.verbosity, errs, tt.wantErrs)
		}
	}
}
