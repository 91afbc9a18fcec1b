package helpers

import (
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{input: "10m", expected: 10 * time.Minute},
		{input: "90s", expected: 90 * time.Second},
		{input: "1.5h", expected: 90 * time.Minute},
		{input: "1d", expected: 24 * time.Hour},
		{input: "14d", expected: 14 * 24 * time.Hour},
		{input: "0.5d", expected: 12 * time.Hour},
		{input: "2w", expected: 14 * 24 * time.Hour},
		{input: " 10m ", expected: 10 * time.Minute},
		{input: "", wantErr: true},
		{input: "soon", wantErr: true},
		{input: "xd", wantErr: true},
		{input: "10", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDuration(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseDuration(%q) succeeded, want error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDuration(%q) returned error: %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("ParseDuration(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}
