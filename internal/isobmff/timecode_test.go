package isobmff

import (
	"testing"
	"time"
)

func TestGenerateTimecode(t *testing.T) {
	tests := []struct {
		name       string
		tm         time.Time
		framerate  int
		want       string
	}{
		{
			name:      "on the second",
			tm:        time.Date(2023, 5, 12, 10, 30, 45, 0, time.UTC),
			framerate: 30,
			want:      "10:30:45:01",
		},
		{
			name:      "half second",
			tm:        time.Date(2023, 5, 12, 10, 0, 0, 500_000_000, time.UTC),
			framerate: 30,
			want:      "10:00:00:16",
		},
		{
			name:      "clamped at max frame",
			tm:        time.Date(2023, 5, 12, 10, 0, 0, 999_999_999, time.UTC),
			framerate: 30,
			want:      "10:00:00:30",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GenerateTimecode(tt.tm, tt.framerate); got != tt.want {
				t.Errorf("GenerateTimecode() = %q, want %q", got, tt.want)
			}
		})
	}
}
