package logs

import (
	"context"
	"log/slog"
	"testing"
)

func Test_GetLogger_Off(t *testing.T) {
	for _, level := range []string{"Off", "off", "OFF"} {
		t.Run(level, func(t *testing.T) {
			logger := GetLogger("ignored.log", level, false)
			if logger.Enabled(context.Background(), slog.LevelError) {
				t.Fatal("Off logger should not be enabled")
			}
		})
	}
}

func Test_OrDiscard(t *testing.T) {
	if OrDiscard(nil) == nil {
		t.Fatal("OrDiscard(nil) returned nil")
	}

	logger := slog.Default()
	if OrDiscard(logger) != logger {
		t.Fatal("OrDiscard should keep a given logger")
	}
}

func Test_SetLevel(t *testing.T) {
	tests := []struct {
		level   string
		wantErr bool
	}{
		{"Debug", false},
		{"Info", false},
		{"warn", false},
		{"ERROR", false},
		{"Loud", true},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			if err := SetLevel(tt.level); (err != nil) != tt.wantErr {
				t.Errorf("SetLevel(%q) error = %v, wantErr %v", tt.level, err, tt.wantErr)
			}
		})
	}
	_ = SetLevel("Info")
}
