package drop

import (
	"testing"
	"time"
)

func TestIsExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name string
		d    Drop
		want bool
	}{
		{"active no expiry", Drop{Status: StatusActive}, false},
		{"active future expiry", Drop{Status: StatusActive, ExpiresAt: &future}, false},
		{"active past expiry", Drop{Status: StatusActive, ExpiresAt: &past}, true},
		{"expiry exactly now", Drop{Status: StatusActive, ExpiresAt: &now}, true},
		{"already marked expired", Drop{Status: StatusExpired}, true},
		{"marked expired with future timestamp", Drop{Status: StatusExpired, ExpiresAt: &future}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpired(&tt.d, now); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}
