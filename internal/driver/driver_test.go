package driver

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsDisconnect(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrDisconnected, true},
		{"wrapped sentinel", fmt.Errorf("reading vbus: %w", ErrDisconnected), true},
		{"vendor message", errors.New("[LEGACY_OBJ] Object Disconnected"), true},
		{"unknown path", ErrUnknownPath, false},
		{"timeout", errors.New("operation timed out"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDisconnect(tt.err); got != tt.want {
				t.Errorf("IsDisconnect(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
